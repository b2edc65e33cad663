package cart

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultKey is the slot key the cart is persisted under.
const DefaultKey = "@RocketShoes:cart"

var ErrDuplicateProduct = errors.New("cart: duplicate product in persisted cart")

// Marshal serializes the cart as a JSON array. An empty cart encodes as "[]".
func Marshal(c Cart) (string, error) {
	if c == nil {
		c = Cart{}
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("cart: marshal: %w", err)
	}
	return string(b), nil
}

// Unmarshal parses a persisted cart and rejects blobs that break the one-line-per-product rule.
func Unmarshal(raw string) (Cart, error) {
	var c Cart
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("cart: unmarshal: %w", err)
	}
	if c == nil {
		return Cart{}, nil
	}
	seen := make(map[int]struct{}, len(c))
	for _, p := range c {
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("%w: id %d", ErrDuplicateProduct, p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return c, nil
}
