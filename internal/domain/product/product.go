package product

import (
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("product: not found")
	ErrConflict          = errors.New("product: already exists")
	ErrInvalidQuantity   = errors.New("product: quantity must be greater than zero")
	ErrInvalidThreshold  = errors.New("product: threshold must be zero or greater")
	ErrInvalidStock      = errors.New("product: stock must be zero or greater")
	ErrInsufficientStock = errors.New("product: insufficient stock")
)

// DefaultAlertThreshold applies when a product has no explicit threshold.
const DefaultAlertThreshold = 10

// Product is the source of truth for available inventory of one item.
// Stock is mutated only through the ledger's adjust operation.
type Product struct {
	ID             string
	Name           string
	Stock          int
	AlertThreshold int
	ThresholdSet   bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func New(id, name string, initialStock int) (*Product, error) {
	if initialStock < 0 {
		return nil, ErrInvalidStock
	}
	now := time.Now().UTC()
	return &Product{
		ID:        id,
		Name:      name,
		Stock:     initialStock,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Add increases stock. There is no upper bound.
func (p *Product) Add(quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	p.Stock += quantity
	p.touch()
	return nil
}

// Subtract decreases stock, never below zero.
func (p *Product) Subtract(quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if quantity > p.Stock {
		return ErrInsufficientStock
	}
	p.Stock -= quantity
	p.touch()
	return nil
}

func (p *Product) SetThreshold(threshold int) error {
	if threshold < 0 {
		return ErrInvalidThreshold
	}
	p.AlertThreshold = threshold
	p.ThresholdSet = true
	p.touch()
	return nil
}

// ThresholdOr returns the configured threshold, or def when none was ever set.
func (p *Product) ThresholdOr(def int) int {
	if p.ThresholdSet {
		return p.AlertThreshold
	}
	return def
}

func (p *Product) touch() {
	p.UpdatedAt = time.Now().UTC()
}
