package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yhchiang-dev/shopledger/internal/domain/order"
	"github.com/yhchiang-dev/shopledger/internal/domain/payment"
	"github.com/yhchiang-dev/shopledger/internal/infrastructure/memory"
)

type seqIDs struct{ n int64 }

func (s *seqIDs) NewID() string {
	return fmt.Sprintf("id-%d", atomic.AddInt64(&s.n, 1))
}

// stubGateway counts calls and can be programmed to fail either endpoint.
type stubGateway struct {
	mu           sync.Mutex
	processCalls int
	refundCalls  int

	processErr   error
	refundErr    error
	rejectRefund bool
	blockProcess chan struct{}
}

func (g *stubGateway) Process(ctx context.Context, req payment.ProcessRequest) (payment.ProcessResult, error) {
	g.mu.Lock()
	g.processCalls++
	block := g.blockProcess
	g.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return payment.ProcessResult{}, ctx.Err()
		}
	}
	if g.processErr != nil {
		return payment.ProcessResult{}, g.processErr
	}
	return payment.ProcessResult{
		Status:        req.Method.InitialStatus(),
		TransactionID: req.Method.TransactionPrefix() + "_txn",
	}, nil
}

func (g *stubGateway) Refund(ctx context.Context, transactionID string, amount decimal.Decimal) (payment.RefundResult, error) {
	g.mu.Lock()
	g.refundCalls++
	g.mu.Unlock()

	if g.refundErr != nil {
		return payment.RefundResult{}, g.refundErr
	}
	if g.rejectRefund {
		return payment.RefundResult{Success: false}, nil
	}
	return payment.RefundResult{Success: true, RefundID: "re_1"}, nil
}

func (g *stubGateway) calls() (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.processCalls, g.refundCalls
}

func newTestService(t *testing.T, gw payment.Gateway) (*Service, *memory.OrderRepository) {
	t.Helper()
	repo := memory.NewOrderRepository()
	svc := NewService(repo, gw, &seqIDs{}, time.Second, nil)
	return svc, repo
}

func createOrder(t *testing.T, svc *Service, id string, total int64) {
	t.Helper()
	_, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		OrderID:     id,
		CustomerID:  "c1",
		TotalAmount: decimal.NewFromInt(total),
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
}

func validCard() payment.CreditCard {
	return payment.CreditCard{Number: "4242424242424242", Expiry: "12/30", CVV: "123"}
}

func TestCreatePaymentCreditCard(t *testing.T) {
	gw := &stubGateway{}
	svc, _ := newTestService(t, gw)
	createOrder(t, svc, "o1", 100)
	ctx := context.Background()

	p, err := svc.CreatePayment(ctx, CreatePaymentInput{
		OrderID: "o1",
		Amount:  decimal.NewFromInt(100),
		Method:  validCard(),
	})
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	if p.Status != payment.StatusCompleted {
		t.Fatalf("payment status = %s, want %s", p.Status, payment.StatusCompleted)
	}
	if !strings.HasPrefix(p.TransactionID, "cc_") {
		t.Fatalf("transaction id = %q, want cc_ prefix", p.TransactionID)
	}

	o, err := svc.orders.Get(ctx, "o1")
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if o.Status != order.StatusProcessing {
		t.Fatalf("order status = %s, want %s", o.Status, order.StatusProcessing)
	}
}

func TestCreatePaymentBankTransferStaysPending(t *testing.T) {
	gw := &stubGateway{}
	svc, _ := newTestService(t, gw)
	createOrder(t, svc, "o1", 100)

	p, err := svc.CreatePayment(context.Background(), CreatePaymentInput{
		OrderID: "o1",
		Amount:  decimal.NewFromInt(100),
		Method:  payment.BankTransfer{Account: "111-222", BankName: "First National"},
	})
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	if p.Status != payment.StatusPending {
		t.Fatalf("payment status = %s, want %s", p.Status, payment.StatusPending)
	}

	o, _ := svc.orders.Get(context.Background(), "o1")
	if o.Status != order.StatusPending {
		t.Fatalf("order status = %s, want %s", o.Status, order.StatusPending)
	}
}

func TestCreatePaymentDuplicate(t *testing.T) {
	gw := &stubGateway{}
	svc, _ := newTestService(t, gw)
	createOrder(t, svc, "o1", 100)
	ctx := context.Background()

	in := CreatePaymentInput{OrderID: "o1", Amount: decimal.NewFromInt(100), Method: validCard()}
	if _, err := svc.CreatePayment(ctx, in); err != nil {
		t.Fatalf("first CreatePayment: %v", err)
	}
	if _, err := svc.CreatePayment(ctx, in); !errors.Is(err, order.ErrDuplicatePayment) {
		t.Fatalf("expected ErrDuplicatePayment, got %v", err)
	}
}

func TestCreatePaymentConcurrentDuplicate(t *testing.T) {
	// Both callers pass the fast precondition check while the gateway blocks,
	// so the store transaction is the only thing preventing a double charge
	// from committing twice.
	release := make(chan struct{})
	gw := &stubGateway{blockProcess: release}
	svc, _ := newTestService(t, gw)
	createOrder(t, svc, "o1", 100)
	ctx := context.Background()

	var wg sync.WaitGroup
	var okCount, dupCount int64
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreatePayment(ctx, CreatePaymentInput{
				OrderID: "o1", Amount: decimal.NewFromInt(100), Method: validCard(),
			})
			if err == nil {
				atomic.AddInt64(&okCount, 1)
			} else if errors.Is(err, order.ErrDuplicatePayment) {
				atomic.AddInt64(&dupCount, 1)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if okCount != 1 || dupCount != 1 {
		t.Fatalf("ok=%d dup=%d, want exactly one of each", okCount, dupCount)
	}
}

func TestCreatePaymentAmountMismatchNeverReachesGateway(t *testing.T) {
	gw := &stubGateway{}
	svc, _ := newTestService(t, gw)
	createOrder(t, svc, "o1", 50)
	ctx := context.Background()

	_, err := svc.CreatePayment(ctx, CreatePaymentInput{
		OrderID: "o1", Amount: decimal.NewFromInt(40), Method: validCard(),
	})
	if !errors.Is(err, order.ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}
	if processes, _ := gw.calls(); processes != 0 {
		t.Fatalf("gateway charged %d times on mismatched amount", processes)
	}

	// No payment row was created.
	if _, err := svc.PaymentByOrder(ctx, "o1"); !errors.Is(err, payment.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreatePaymentValidation(t *testing.T) {
	gw := &stubGateway{}
	svc, _ := newTestService(t, gw)
	createOrder(t, svc, "o1", 100)
	ctx := context.Background()

	if _, err := svc.CreatePayment(ctx, CreatePaymentInput{OrderID: "o1", Amount: decimal.NewFromInt(100)}); !errors.Is(err, payment.ErrInvalidMethod) {
		t.Fatalf("nil method: expected ErrInvalidMethod, got %v", err)
	}
	if _, err := svc.CreatePayment(ctx, CreatePaymentInput{
		OrderID: "o1", Amount: decimal.NewFromInt(100), Method: payment.CreditCard{Number: "4242"},
	}); !errors.Is(err, payment.ErrInvalidMethod) {
		t.Fatalf("invalid card: expected ErrInvalidMethod, got %v", err)
	}
	if _, err := svc.CreatePayment(ctx, CreatePaymentInput{
		OrderID: "missing", Amount: decimal.NewFromInt(100), Method: validCard(),
	}); !errors.Is(err, order.ErrNotFound) {
		t.Fatalf("unknown order: expected ErrNotFound, got %v", err)
	}
	if processes, _ := gw.calls(); processes != 0 {
		t.Fatalf("gateway called %d times for invalid input", processes)
	}
}

func TestCreatePaymentGatewayFailure(t *testing.T) {
	gw := &stubGateway{processErr: errors.New("connection reset")}
	svc, _ := newTestService(t, gw)
	createOrder(t, svc, "o1", 100)
	ctx := context.Background()

	_, err := svc.CreatePayment(ctx, CreatePaymentInput{
		OrderID: "o1", Amount: decimal.NewFromInt(100), Method: validCard(),
	})
	if !errors.Is(err, payment.ErrGatewayFailure) {
		t.Fatalf("expected ErrGatewayFailure, got %v", err)
	}
	if _, err := svc.PaymentByOrder(ctx, "o1"); !errors.Is(err, payment.ErrNotFound) {
		t.Fatalf("payment persisted after gateway failure: %v", err)
	}
}

func TestCreatePaymentGatewayTimeout(t *testing.T) {
	gw := &stubGateway{blockProcess: make(chan struct{})}
	repo := memory.NewOrderRepository()
	svc := NewService(repo, gw, &seqIDs{}, 20*time.Millisecond, nil)
	createOrder(t, svc, "o1", 100)

	_, err := svc.CreatePayment(context.Background(), CreatePaymentInput{
		OrderID: "o1", Amount: decimal.NewFromInt(100), Method: validCard(),
	})
	if !errors.Is(err, payment.ErrGatewayFailure) {
		t.Fatalf("expected ErrGatewayFailure on timeout, got %v", err)
	}
}

func TestRefundPayment(t *testing.T) {
	gw := &stubGateway{}
	svc, _ := newTestService(t, gw)
	createOrder(t, svc, "o1", 100)
	ctx := context.Background()

	p, err := svc.CreatePayment(ctx, CreatePaymentInput{
		OrderID: "o1", Amount: decimal.NewFromInt(100), Method: validCard(),
	})
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}

	outcome, err := svc.RefundPayment(ctx, p.ID)
	if err != nil {
		t.Fatalf("RefundPayment: %v", err)
	}
	if outcome.Payment.Status != payment.StatusRefunded {
		t.Fatalf("payment status = %s, want %s", outcome.Payment.Status, payment.StatusRefunded)
	}
	if outcome.RefundID != "re_1" {
		t.Fatalf("refund id = %q", outcome.RefundID)
	}

	o, _ := svc.orders.Get(ctx, "o1")
	if o.Status != order.StatusCancelled {
		t.Fatalf("order status = %s, want %s", o.Status, order.StatusCancelled)
	}
}

func TestRefundPaymentNotRefundableSkipsGateway(t *testing.T) {
	gw := &stubGateway{}
	svc, _ := newTestService(t, gw)
	createOrder(t, svc, "o1", 100)
	ctx := context.Background()

	// Bank transfer starts pending and is not refundable.
	p, err := svc.CreatePayment(ctx, CreatePaymentInput{
		OrderID: "o1", Amount: decimal.NewFromInt(100),
		Method: payment.BankTransfer{Account: "111-222", BankName: "First National"},
	})
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}

	if _, err := svc.RefundPayment(ctx, p.ID); !errors.Is(err, payment.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if _, refunds := gw.calls(); refunds != 0 {
		t.Fatalf("gateway refund called %d times for non-refundable payment", refunds)
	}
}

func TestRefundPaymentTwice(t *testing.T) {
	gw := &stubGateway{}
	svc, _ := newTestService(t, gw)
	createOrder(t, svc, "o1", 100)
	ctx := context.Background()

	p, _ := svc.CreatePayment(ctx, CreatePaymentInput{
		OrderID: "o1", Amount: decimal.NewFromInt(100), Method: validCard(),
	})
	if _, err := svc.RefundPayment(ctx, p.ID); err != nil {
		t.Fatalf("first refund: %v", err)
	}
	if _, err := svc.RefundPayment(ctx, p.ID); !errors.Is(err, payment.ErrInvalidState) {
		t.Fatalf("second refund: expected ErrInvalidState, got %v", err)
	}
	if _, refunds := gw.calls(); refunds != 1 {
		t.Fatalf("gateway refund called %d times, want 1", refunds)
	}
}

func TestRefundPaymentGatewayRejection(t *testing.T) {
	gw := &stubGateway{rejectRefund: true}
	svc, _ := newTestService(t, gw)
	createOrder(t, svc, "o1", 100)
	ctx := context.Background()

	p, _ := svc.CreatePayment(ctx, CreatePaymentInput{
		OrderID: "o1", Amount: decimal.NewFromInt(100), Method: validCard(),
	})
	if _, err := svc.RefundPayment(ctx, p.ID); !errors.Is(err, payment.ErrRefundFailed) {
		t.Fatalf("expected ErrRefundFailed, got %v", err)
	}

	// State is untouched: the payment stays completed and refundable.
	got, err := svc.PaymentByOrder(ctx, "o1")
	if err != nil {
		t.Fatalf("PaymentByOrder: %v", err)
	}
	if got.Status != payment.StatusCompleted {
		t.Fatalf("payment status = %s, want %s", got.Status, payment.StatusCompleted)
	}
	o, _ := svc.orders.Get(ctx, "o1")
	if o.Status != order.StatusProcessing {
		t.Fatalf("order status = %s, want %s", o.Status, order.StatusProcessing)
	}
}

func TestRefundPaymentUnknownID(t *testing.T) {
	gw := &stubGateway{}
	svc, _ := newTestService(t, gw)

	if _, err := svc.RefundPayment(context.Background(), "missing"); !errors.Is(err, payment.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdatePaymentStatus(t *testing.T) {
	gw := &stubGateway{}
	svc, _ := newTestService(t, gw)
	createOrder(t, svc, "o1", 100)
	ctx := context.Background()

	p, err := svc.CreatePayment(ctx, CreatePaymentInput{
		OrderID: "o1", Amount: decimal.NewFromInt(100),
		Method: payment.BankTransfer{Account: "111-222", BankName: "First National"},
	})
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}

	// Bank transfer settles out of band: the administrative update completes
	// it and must force the order forward.
	updated, err := svc.UpdatePaymentStatus(ctx, UpdatePaymentStatusInput{
		PaymentID: p.ID,
		Status:    payment.StatusCompleted,
	})
	if err != nil {
		t.Fatalf("UpdatePaymentStatus: %v", err)
	}
	if updated.Status != payment.StatusCompleted {
		t.Fatalf("payment status = %s, want %s", updated.Status, payment.StatusCompleted)
	}
	if updated.TransactionID != p.TransactionID {
		t.Fatalf("transaction id changed: %q -> %q", p.TransactionID, updated.TransactionID)
	}

	o, _ := svc.orders.Get(ctx, "o1")
	if o.Status != order.StatusProcessing {
		t.Fatalf("order status = %s, want %s", o.Status, order.StatusProcessing)
	}
}

func TestUpdatePaymentStatusValidation(t *testing.T) {
	gw := &stubGateway{}
	svc, _ := newTestService(t, gw)
	ctx := context.Background()

	if _, err := svc.UpdatePaymentStatus(ctx, UpdatePaymentStatusInput{PaymentID: "p1", Status: "SETTLED"}); err == nil {
		t.Fatal("expected error for unknown status")
	}
	if _, err := svc.UpdatePaymentStatus(ctx, UpdatePaymentStatusInput{PaymentID: "missing", Status: payment.StatusFailed}); !errors.Is(err, payment.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
