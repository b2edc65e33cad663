package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T, path string) *Slot {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSlotUpsert(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t, ":memory:")

	_, ok, err := s.Get(ctx, "@RocketShoes:cart")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "@RocketShoes:cart", `[{"id":1,"amount":1}]`))
	require.NoError(t, s.Set(ctx, "@RocketShoes:cart", `[{"id":1,"amount":2}]`))

	v, ok, err := s.Get(ctx, "@RocketShoes:cart")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[{"id":1,"amount":2}]`, v)
}

func TestSlotSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cart.db")

	first, err := Open(ctx, DriverSQLite, path)
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, "cart", "[]"))
	require.NoError(t, first.Close())

	second := openSQLite(t, path)
	v, ok, err := second.Get(ctx, "cart")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "[]", v)
}

func TestOpenValidation(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "x")
	assert.Error(t, err)
	_, err = Open(context.Background(), DriverSQLite, "")
	assert.Error(t, err)
}
