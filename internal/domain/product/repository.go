package product

import "context"

// Repository is the persistence boundary for products and their stock history.
//
// Update is the transactional read-modify-write entry point: fn observes the
// current committed state, and the mutated product plus the returned history
// record persist as one unit. Concurrent Update calls for the same product
// are serialized; if fn returns an error, nothing is persisted.
type Repository interface {
	Create(ctx context.Context, p *Product) error
	Get(ctx context.Context, productID string) (*Product, error)
	Update(ctx context.Context, productID string, fn func(p *Product) (*HistoryRecord, error)) error
	History(ctx context.Context, productID string) ([]HistoryRecord, error)
}
