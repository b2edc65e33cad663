package memory

import (
	"context"
	"sync"
)

// Slot keeps persisted values in process memory. Values survive as long as the Slot does.
type Slot struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewSlot() *Slot {
	return &Slot{
		values: make(map[string]string),
	}
}

func (s *Slot) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	return v, ok, nil
}

func (s *Slot) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	return nil
}

// Ping always succeeds.
func (s *Slot) Ping(context.Context) error { return nil }

func (s *Slot) Close() error { return nil }
