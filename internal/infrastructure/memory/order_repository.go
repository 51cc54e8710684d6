package memory

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/yhchiang-dev/shopledger/internal/domain/order"
)

type orderEntry struct {
	mu    sync.Mutex
	order *domain.Order
}

// OrderRepository is the in-memory store for orders and their payments.
// The payment index maps payment ids back to the owning order so refunds
// and administrative updates can be addressed by payment id.
type OrderRepository struct {
	mu        sync.RWMutex
	entries   map[string]*orderEntry
	byPayment map[string]string
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		entries:   make(map[string]*orderEntry),
		byPayment: make(map[string]string),
	}
}

func (r *OrderRepository) Create(ctx context.Context, o *domain.Order) error {
	_ = ctx
	if o == nil || o.ID == "" {
		return fmt.Errorf("order repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[o.ID]; exists {
		return domain.ErrConflict
	}
	r.entries[o.ID] = &orderEntry{order: o.Clone()}
	if o.Payment != nil {
		r.byPayment[o.Payment.ID] = o.ID
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	_ = ctx

	entry, err := r.entry(orderID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.order.Clone(), nil
}

func (r *OrderRepository) FindByPaymentID(ctx context.Context, paymentID string) (*domain.Order, error) {
	if paymentID == "" {
		return nil, domain.ErrNotFound
	}

	r.mu.RLock()
	orderID, ok := r.byPayment[paymentID]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r.Get(ctx, orderID)
}

func (r *OrderRepository) Update(ctx context.Context, orderID string, fn func(o *domain.Order) error) error {
	_ = ctx

	entry, err := r.entry(orderID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	working := entry.order.Clone()
	if err := fn(working); err != nil {
		return err
	}

	entry.order = working
	if working.Payment != nil {
		r.mu.Lock()
		r.byPayment[working.Payment.ID] = working.ID
		r.mu.Unlock()
	}
	return nil
}

func (r *OrderRepository) entry(orderID string) (*orderEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[orderID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return entry, nil
}
