package order

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yhchiang-dev/shopledger/internal/domain/payment"
)

var (
	ErrNotFound         = errors.New("order: not found")
	ErrConflict         = errors.New("order: already exists")
	ErrInvalidAmount    = errors.New("order: amount must be zero or greater")
	ErrDuplicatePayment = errors.New("order: payment already exists")
	ErrAmountMismatch   = errors.New("order: payment amount does not match order total")
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusShipped    Status = "SHIPPED"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
)

// Order owns a fixed total set at creation and at most one payment. The
// settlement coordinator is the only writer of the order/payment status pair.
type Order struct {
	ID          string
	CustomerID  string
	TotalAmount decimal.Decimal
	Status      Status
	Payment     *payment.Payment
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func New(id, customerID string, totalAmount decimal.Decimal) (*Order, error) {
	if totalAmount.IsNegative() {
		return nil, ErrInvalidAmount
	}
	now := time.Now().UTC()
	return &Order{
		ID:          id,
		CustomerID:  customerID,
		TotalAmount: totalAmount,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// AttachPayment binds p as the order's single payment and aligns the order
// status with the payment outcome. Fails when a payment already exists or
// the amount differs from the order total.
func (o *Order) AttachPayment(p *payment.Payment) error {
	if o.Payment != nil {
		return ErrDuplicatePayment
	}
	if !p.Amount.Equal(o.TotalAmount) {
		return ErrAmountMismatch
	}
	o.Payment = p
	o.Status = statusForPayment(p.Status)
	o.touch()
	return nil
}

// SettlePayment re-aligns order status after an administrative payment
// status change. Only a completed payment forces the order forward.
func (o *Order) SettlePayment() {
	if o.Payment != nil && o.Payment.Status == payment.StatusCompleted {
		o.Status = StatusProcessing
	}
	o.touch()
}

// Refund marks the payment refunded and cancels the order as one logical
// transition.
func (o *Order) Refund() error {
	if o.Payment == nil {
		return payment.ErrNotFound
	}
	if err := o.Payment.MarkRefunded(); err != nil {
		return err
	}
	o.Status = StatusCancelled
	o.touch()
	return nil
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Payment = o.Payment.Clone()
	return &clone
}

func (o *Order) touch() {
	o.UpdatedAt = time.Now().UTC()
}

func statusForPayment(ps payment.Status) Status {
	if ps == payment.StatusCompleted {
		return StatusProcessing
	}
	return StatusPending
}
