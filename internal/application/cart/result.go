package cart

import domcart "github.com/Zhima-Mochi/minishop-cart/internal/domain/cart"

type Reason string

const (
	ReasonNone          Reason = ""
	ReasonNotFound      Reason = "not_found"
	ReasonOutOfStock    Reason = "out_of_stock"
	ReasonInvalidAmount Reason = "invalid_amount"
	ReasonUnavailable   Reason = "unavailable"
	ReasonPersistFailed Reason = "persist_failed"
)

const (
	MessageOutOfStock   = "Requested quantity out of stock"
	MessageAddFailed    = "Error adding product"
	MessageRemoveFailed = "Error removing product"
	MessageUpdateFailed = "Error changing product amount"
)

// Result is the outcome of a cart operation. Cart is the snapshot after the
// operation, which equals the previous cart whenever OK is false.
type Result struct {
	OK      bool
	Noop    bool
	Reason  Reason
	Message string
	Err     error
	Cart    domcart.Cart
}

func (r Result) status() string {
	switch {
	case r.Noop:
		return "NOOP"
	case r.OK:
		return "OK"
	}
	switch r.Reason {
	case ReasonNotFound:
		return "NOT_IN_CART"
	case ReasonOutOfStock:
		return "OUT_OF_STOCK"
	case ReasonInvalidAmount:
		return "INVALID_AMOUNT"
	case ReasonUnavailable:
		return "CATALOG_UNAVAILABLE"
	case ReasonPersistFailed:
		return "PERSIST_FAILED"
	default:
		return "UNKNOWN"
	}
}

// outcome is the low-cardinality metric label for the result.
func (r Result) outcome() string {
	switch {
	case r.Noop:
		return "noop"
	case r.OK:
		return "success"
	case r.Reason == ReasonUnavailable || r.Reason == ReasonPersistFailed:
		return "error"
	default:
		return "rejected"
	}
}
