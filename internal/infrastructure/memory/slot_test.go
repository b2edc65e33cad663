package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotGetSet(t *testing.T) {
	ctx := context.Background()
	s := NewSlot()

	_, ok, err := s.Get(ctx, "cart")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "cart", `[{"id":1,"amount":2}]`))
	v, ok, err := s.Get(ctx, "cart")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[{"id":1,"amount":2}]`, v)
}

func TestSlotCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewSlot()
	assert.ErrorIs(t, s.Set(ctx, "cart", "[]"), context.Canceled)
	_, _, err := s.Get(ctx, "cart")
	assert.ErrorIs(t, err, context.Canceled)
}
