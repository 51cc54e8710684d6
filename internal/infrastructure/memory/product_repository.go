package memory

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/yhchiang-dev/shopledger/internal/domain/product"
)

type productEntry struct {
	mu      sync.Mutex
	product *domain.Product
	history []domain.HistoryRecord
}

// ProductRepository is the in-memory store for products and stock history.
// Each product carries its own lock, so read-modify-write cycles for one
// product are serialized while different products proceed independently.
// Mutations run against a clone and are swapped in only when the closure
// succeeds, so an aborted update persists nothing.
type ProductRepository struct {
	mu      sync.RWMutex
	entries map[string]*productEntry
}

func NewProductRepository() *ProductRepository {
	return &ProductRepository{
		entries: make(map[string]*productEntry),
	}
}

func (r *ProductRepository) Create(ctx context.Context, p *domain.Product) error {
	_ = ctx
	if p == nil || p.ID == "" {
		return fmt.Errorf("product repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[p.ID]; exists {
		return domain.ErrConflict
	}
	r.entries[p.ID] = &productEntry{product: cloneProduct(p)}
	return nil
}

func (r *ProductRepository) Get(ctx context.Context, productID string) (*domain.Product, error) {
	_ = ctx

	entry, err := r.entry(productID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return cloneProduct(entry.product), nil
}

func (r *ProductRepository) Update(ctx context.Context, productID string, fn func(p *domain.Product) (*domain.HistoryRecord, error)) error {
	_ = ctx

	entry, err := r.entry(productID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	working := cloneProduct(entry.product)
	record, err := fn(working)
	if err != nil {
		return err
	}
	if record != nil && !record.Consistent() {
		return fmt.Errorf("product repository: inconsistent history record for %s", productID)
	}

	entry.product = working
	if record != nil {
		entry.history = append(entry.history, *record)
	}
	return nil
}

func (r *ProductRepository) History(ctx context.Context, productID string) ([]domain.HistoryRecord, error) {
	_ = ctx

	entry, err := r.entry(productID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	out := make([]domain.HistoryRecord, len(entry.history))
	copy(out, entry.history)
	return out, nil
}

func (r *ProductRepository) entry(productID string) (*productEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[productID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return entry, nil
}

func cloneProduct(p *domain.Product) *domain.Product {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}
