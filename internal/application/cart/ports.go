package cart

import (
	"context"

	domcart "github.com/Zhima-Mochi/minishop-cart/internal/domain/cart"
)

type IDGenerator interface {
	NewID() string
}

// Catalog is the remote product/stock source consulted before every mutation.
type Catalog interface {
	Product(ctx context.Context, productID int) (domcart.Product, error)
	Stock(ctx context.Context, productID int) (domcart.Stock, error)
}

// Notifier delivers user-facing failure messages. It must not block the caller.
type Notifier interface {
	Notify(ctx context.Context, e domcart.NotificationEvent)
}
