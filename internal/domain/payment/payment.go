package payment

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound       = errors.New("payment: not found")
	ErrInvalidState   = errors.New("payment: invalid state for operation")
	ErrRefundFailed   = errors.New("payment: gateway rejected refund")
	ErrGatewayFailure = errors.New("payment: gateway failure, outcome unknown")
	ErrInvalidMethod  = errors.New("payment: invalid payment method")
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusRefunded  Status = "REFUNDED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

// Payment belongs to exactly one order. At most one payment may exist per
// order, and its amount always equals the order total at creation time.
type Payment struct {
	ID            string
	OrderID       string
	Amount        decimal.Decimal
	Method        MethodKind
	Status        Status
	TransactionID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func New(id, orderID string, amount decimal.Decimal, method MethodKind, status Status, transactionID string) *Payment {
	now := time.Now().UTC()
	return &Payment{
		ID:            id,
		OrderID:       orderID,
		Amount:        amount,
		Method:        method,
		Status:        status,
		TransactionID: transactionID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Refundable reports whether the payment can be refunded. Only completed
// payments qualify.
func (p *Payment) Refundable() bool {
	return p.Status == StatusCompleted
}

func (p *Payment) MarkRefunded() error {
	if !p.Refundable() {
		return ErrInvalidState
	}
	p.Status = StatusRefunded
	p.touch()
	return nil
}

// Overwrite force-sets status and, when provided, the transaction id.
// Administrative path; no transition checks.
func (p *Payment) Overwrite(status Status, transactionID string) {
	p.Status = status
	if transactionID != "" {
		p.TransactionID = transactionID
	}
	p.touch()
}

func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

func (p *Payment) touch() {
	p.UpdatedAt = time.Now().UTC()
}
