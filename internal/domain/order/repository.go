package order

import "context"

// Repository is the persistence boundary for orders and their payments.
//
// Update runs fn against the current committed order; the order row and its
// payment persist together or not at all, and concurrent Update calls for
// the same order are serialized. Duplicate-payment checks therefore belong
// inside fn, not in a separate read.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, orderID string) (*Order, error)
	FindByPaymentID(ctx context.Context, paymentID string) (*Order, error)
	Update(ctx context.Context, orderID string, fn func(o *Order) error) error
}
