package cart

import (
	"errors"
)

var (
	ErrNotInCart      = errors.New("cart: product not in cart")
	ErrOutOfStock     = errors.New("cart: requested quantity out of stock")
	ErrInvalidAmount  = errors.New("cart: amount must not be negative")
	ErrInvalidProduct = errors.New("cart: product id must be greater than zero")
)

// Product is a catalog record. Amount is cart-local: the catalog never sets it.
type Product struct {
	ID     int     `json:"id"`
	Title  string  `json:"title"`
	Price  float64 `json:"price"`
	Image  string  `json:"image"`
	Amount int     `json:"amount"`
}

// Stock is the quantity the catalog has available for a product.
type Stock struct {
	ID     int `json:"id"`
	Amount int `json:"amount"`
}

// Cart is an ordered list of line items, unique by product id.
type Cart []Product

// IndexOf returns the position of productID or -1.
func (c Cart) IndexOf(productID int) int {
	for i := range c {
		if c[i].ID == productID {
			return i
		}
	}
	return -1
}

// AmountOf returns the amount held for productID, 0 when absent.
func (c Cart) AmountOf(productID int) int {
	if i := c.IndexOf(productID); i >= 0 {
		return c[i].Amount
	}
	return 0
}

func (c Cart) Clone() Cart {
	if c == nil {
		return Cart{}
	}
	out := make(Cart, len(c))
	copy(out, c)
	return out
}

// Add returns a copy of the cart with one more unit of product.
// The current amount must stay below the available stock.
func (c Cart) Add(product Product, stock Stock) (Cart, error) {
	if product.ID <= 0 {
		return nil, ErrInvalidProduct
	}
	next := c.Clone()
	i := next.IndexOf(product.ID)
	current := 0
	if i >= 0 {
		current = next[i].Amount
	}
	if stock.Amount <= current {
		return nil, ErrOutOfStock
	}
	if i >= 0 {
		next[i].Amount++
		return next, nil
	}
	product.Amount = 1
	return append(next, product), nil
}

// Remove returns a copy of the cart without productID.
func (c Cart) Remove(productID int) (Cart, error) {
	i := c.IndexOf(productID)
	if i < 0 {
		return nil, ErrNotInCart
	}
	next := make(Cart, 0, len(c)-1)
	next = append(next, c[:i]...)
	return append(next, c[i+1:]...), nil
}

// SetAmount returns a copy of the cart with productID set to exactly amount.
func (c Cart) SetAmount(productID, amount int, stock Stock) (Cart, error) {
	if amount < 0 {
		return nil, ErrInvalidAmount
	}
	i := c.IndexOf(productID)
	if i < 0 {
		return nil, ErrNotInCart
	}
	if stock.Amount < amount {
		return nil, ErrOutOfStock
	}
	next := c.Clone()
	next[i].Amount = amount
	return next, nil
}

// Units is the sum of all line item amounts.
func (c Cart) Units() int {
	n := 0
	for _, p := range c {
		n += p.Amount
	}
	return n
}
