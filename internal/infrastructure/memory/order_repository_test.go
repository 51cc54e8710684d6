package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	domain "github.com/yhchiang-dev/shopledger/internal/domain/order"
	"github.com/yhchiang-dev/shopledger/internal/domain/payment"
)

func seedOrder(t *testing.T, r *OrderRepository, id string, total int64) {
	t.Helper()
	o, err := domain.New(id, "c1", decimal.NewFromInt(total))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Create(context.Background(), o); err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func TestOrderCreateConflict(t *testing.T) {
	r := NewOrderRepository()
	seedOrder(t, r, "o1", 100)

	o, _ := domain.New("o1", "c1", decimal.NewFromInt(100))
	if err := r.Create(context.Background(), o); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestFindByPaymentID(t *testing.T) {
	r := NewOrderRepository()
	seedOrder(t, r, "o1", 100)
	ctx := context.Background()

	if _, err := r.FindByPaymentID(ctx, "pay1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before attach, got %v", err)
	}

	err := r.Update(ctx, "o1", func(o *domain.Order) error {
		p := payment.New("pay1", o.ID, o.TotalAmount, payment.MethodCreditCard, payment.StatusCompleted, "cc_1")
		return o.AttachPayment(p)
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	o, err := r.FindByPaymentID(ctx, "pay1")
	if err != nil {
		t.Fatalf("FindByPaymentID: %v", err)
	}
	if o.ID != "o1" {
		t.Fatalf("order id = %s, want o1", o.ID)
	}

	if _, err := r.FindByPaymentID(ctx, ""); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("empty payment id: expected ErrNotFound, got %v", err)
	}
}

func TestOrderUpdateAbortPersistsNothing(t *testing.T) {
	r := NewOrderRepository()
	seedOrder(t, r, "o1", 100)
	ctx := context.Background()

	wantErr := errors.New("boom")
	err := r.Update(ctx, "o1", func(o *domain.Order) error {
		o.Status = domain.StatusCancelled
		p := payment.New("pay1", o.ID, o.TotalAmount, payment.MethodCreditCard, payment.StatusCompleted, "cc_1")
		if attachErr := o.AttachPayment(p); attachErr != nil {
			return attachErr
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected closure error, got %v", err)
	}

	o, _ := r.Get(ctx, "o1")
	if o.Status != domain.StatusPending || o.Payment != nil {
		t.Fatalf("aborted update persisted: %+v", o)
	}
	if _, err := r.FindByPaymentID(ctx, "pay1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("aborted payment indexed: %v", err)
	}
}

func TestOrderGetReturnsDeepClone(t *testing.T) {
	r := NewOrderRepository()
	seedOrder(t, r, "o1", 100)
	ctx := context.Background()

	_ = r.Update(ctx, "o1", func(o *domain.Order) error {
		p := payment.New("pay1", o.ID, o.TotalAmount, payment.MethodCreditCard, payment.StatusCompleted, "cc_1")
		return o.AttachPayment(p)
	})

	o, _ := r.Get(ctx, "o1")
	o.Payment.Status = payment.StatusFailed

	again, _ := r.Get(ctx, "o1")
	if again.Payment.Status != payment.StatusCompleted {
		t.Fatalf("mutating a Get result leaked into the store: %s", again.Payment.Status)
	}
}
