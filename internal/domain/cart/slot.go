package cart

import "context"

// Slot is a durable key-value location holding serialized carts across sessions.
type Slot interface {
	// Get returns ok=false when nothing has been stored under key.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}
