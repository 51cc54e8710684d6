// Package settlement coordinates order and payment state: it creates a
// payment against an order exactly once, keeps the order status aligned
// with the payment outcome, and drives refunds.
//
// Stock reservation on order placement is intentionally out of scope; the
// coordinator never touches inventory.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yhchiang-dev/shopledger/internal/domain/order"
	"github.com/yhchiang-dev/shopledger/internal/domain/payment"
	"github.com/yhchiang-dev/shopledger/internal/observability"
	"github.com/yhchiang-dev/shopledger/internal/observability/logctx"
)

const (
	settlementService    = "settlement"
	useCaseCreatePayment = "payment.create"
	useCaseRefund        = "payment.refund"
	useCaseUpdateStatus  = "payment.update_status"
	spanPrefix           = "UC."

	defaultGatewayTimeout = 5 * time.Second
)

type IDGenerator interface {
	NewID() string
}

type CreateOrderInput struct {
	OrderID     string
	CustomerID  string
	TotalAmount decimal.Decimal
}

type CreatePaymentInput struct {
	OrderID string
	Amount  decimal.Decimal
	Method  payment.Method
}

type RefundOutcome struct {
	Payment  *payment.Payment
	RefundID string
}

type UpdatePaymentStatusInput struct {
	PaymentID     string
	Status        payment.Status
	TransactionID string
}

// Service is the settlement coordinator. The gateway call happens outside
// the store transaction (it is external I/O); the payment write and the
// order status write commit together inside it.
type Service struct {
	orders         order.Repository
	gateway        payment.Gateway
	ids            IDGenerator
	gatewayTimeout time.Duration

	log             observability.Logger
	tracer          observability.Tracer
	reqCounter      observability.Counter
	durHistogram    observability.Histogram
	gwCounter       observability.Counter
	gwHistogram     observability.Histogram
	danglingCounter observability.Counter
}

func NewService(orders order.Repository, gw payment.Gateway, ids IDGenerator, gatewayTimeout time.Duration, tel observability.Observability) *Service {
	if tel == nil {
		tel = observability.Nop()
	}
	if gatewayTimeout <= 0 {
		gatewayTimeout = defaultGatewayTimeout
	}
	metrics := tel.Metrics()
	return &Service{
		orders:          orders,
		gateway:         gw,
		ids:             ids,
		gatewayTimeout:  gatewayTimeout,
		log:             tel.Logger().With(observability.F("service", settlementService)),
		tracer:          tel.Tracer(),
		reqCounter:      metrics.Counter(observability.MUsecaseRequests),
		durHistogram:    metrics.Histogram(observability.MUsecaseDuration),
		gwCounter:       metrics.Counter(observability.MGatewayRequests),
		gwHistogram:     metrics.Histogram(observability.MGatewayRequestDuration),
		danglingCounter: metrics.Counter(observability.MDanglingTransactions),
	}
}

// CreateOrder registers an order so settlement can run against it. The
// total is fixed here and immutable afterwards.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*order.Order, error) {
	id := in.OrderID
	if id == "" {
		id = s.ids.NewID()
	}
	o, err := order.New(id, in.CustomerID, in.TotalAmount)
	if err != nil {
		return nil, err
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("settlement: create order: %w", err)
	}
	logctx.FromOr(ctx, s.log).Info("order_created",
		observability.F("order_id", o.ID),
		observability.F("total_amount", o.TotalAmount.String()),
	)
	return o, nil
}

// CreatePayment charges the gateway for an order and persists the result.
// The duplicate-payment and amount checks are re-run inside the store
// transaction, so two concurrent calls for one order cannot both commit.
// A GatewayFailure means the outcome is unknown; the caller decides whether
// to retry, and the gateway contract keeps retries idempotent per order.
func (s *Service) CreatePayment(ctx context.Context, in CreatePaymentInput) (_ *payment.Payment, err error) {
	logger := logctx.FromOr(ctx, s.log).With(
		observability.F("use_case", useCaseCreatePayment),
		observability.F("order_id", in.OrderID),
		observability.F("amount", in.Amount.String()),
	)

	ctx, span := s.tracer.Start(ctx, spanPrefix+"CreatePayment",
		attribute.String("use_case", useCaseCreatePayment),
		attribute.String("order.id", in.OrderID),
		attribute.String("payment.amount", in.Amount.String()),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"
	var created *payment.Payment

	defer func() {
		if span != nil {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, statusText)
			} else {
				span.SetStatus(codes.Ok, statusText)
			}
			span.End()
		}

		latency := time.Since(start).Seconds()
		if s.reqCounter != nil {
			s.reqCounter.Add(1,
				observability.L("use_case", useCaseCreatePayment),
				observability.L("outcome", outcome),
			)
		}
		if s.durHistogram != nil {
			s.durHistogram.Observe(latency,
				observability.L("use_case", useCaseCreatePayment),
			)
		}

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", latency),
		}
		if created != nil {
			fields = append(fields,
				observability.F("payment_id", created.ID),
				observability.F("payment_status", string(created.Status)),
			)
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}
		logger.Info("use_case_done", fields...)
	}()

	if in.Method == nil {
		outcome, statusText = "error", "METHOD_INVALID"
		return nil, payment.ErrInvalidMethod
	}
	if err = in.Method.Validate(); err != nil {
		outcome, statusText = "error", "METHOD_INVALID"
		return nil, err
	}

	// Fast precondition pass so an obviously invalid request never reaches
	// the gateway. The transaction below is the authority.
	o, err := s.orders.Get(ctx, in.OrderID)
	if err != nil {
		outcome, statusText = "error", "ORDER_NOT_FOUND"
		return nil, fmt.Errorf("settlement: order %s: %w", in.OrderID, err)
	}
	if o.Payment != nil {
		outcome, statusText = "error", "DUPLICATE_PAYMENT"
		return nil, fmt.Errorf("settlement: order %s: %w", in.OrderID, order.ErrDuplicatePayment)
	}
	if !o.TotalAmount.Equal(in.Amount) {
		outcome, statusText = "error", "AMOUNT_MISMATCH"
		return nil, fmt.Errorf("settlement: order %s: amount %s vs total %s: %w",
			in.OrderID, in.Amount, o.TotalAmount, order.ErrAmountMismatch)
	}

	result, err := s.processViaGateway(ctx, payment.ProcessRequest{
		OrderID: in.OrderID,
		Amount:  in.Amount,
		Method:  in.Method,
	})
	if err != nil {
		outcome, statusText = "error", "GATEWAY_FAILURE"
		return nil, err
	}

	err = s.orders.Update(ctx, in.OrderID, func(o *order.Order) error {
		p := payment.New(s.ids.NewID(), o.ID, in.Amount, in.Method.Kind(), result.Status, result.TransactionID)
		if attachErr := o.AttachPayment(p); attachErr != nil {
			return attachErr
		}
		created = p
		return nil
	})
	if err != nil {
		created = nil
		switch {
		case errors.Is(err, order.ErrDuplicatePayment):
			outcome, statusText = "error", "DUPLICATE_PAYMENT"
		case errors.Is(err, order.ErrAmountMismatch):
			outcome, statusText = "error", "AMOUNT_MISMATCH"
		case errors.Is(err, order.ErrNotFound):
			outcome, statusText = "error", "ORDER_NOT_FOUND"
		default:
			outcome, statusText = "error", "STORE_FAILURE"
		}
		// The charge went through but nothing was persisted. Surface the
		// orphaned transaction id so reconciliation can find it.
		s.reportDangling(logger, in.OrderID, result.TransactionID, err)
		return nil, fmt.Errorf("settlement: persist payment for order %s: %w", in.OrderID, err)
	}

	return created.Clone(), nil
}

// RefundPayment refunds a completed payment and cancels its order. A
// non-refundable payment fails fast with no gateway call; a gateway-side
// rejection leaves payment and order state untouched.
func (s *Service) RefundPayment(ctx context.Context, paymentID string) (_ *RefundOutcome, err error) {
	logger := logctx.FromOr(ctx, s.log).With(
		observability.F("use_case", useCaseRefund),
		observability.F("payment_id", paymentID),
	)

	ctx, span := s.tracer.Start(ctx, spanPrefix+"RefundPayment",
		attribute.String("use_case", useCaseRefund),
		attribute.String("payment.id", paymentID),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"

	defer func() {
		if span != nil {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, statusText)
			} else {
				span.SetStatus(codes.Ok, statusText)
			}
			span.End()
		}
		if s.reqCounter != nil {
			s.reqCounter.Add(1,
				observability.L("use_case", useCaseRefund),
				observability.L("outcome", outcome),
			)
		}
		if s.durHistogram != nil {
			s.durHistogram.Observe(time.Since(start).Seconds(),
				observability.L("use_case", useCaseRefund),
			)
		}
		if err != nil {
			logger.Warn("refund_failed", observability.F("error", err.Error()))
		} else {
			logger.Info("refund_done")
		}
	}()

	o, err := s.orders.FindByPaymentID(ctx, paymentID)
	if err != nil {
		outcome, statusText = "error", "PAYMENT_NOT_FOUND"
		if errors.Is(err, order.ErrNotFound) {
			err = payment.ErrNotFound
		}
		return nil, fmt.Errorf("settlement: payment %s: %w", paymentID, err)
	}
	if !o.Payment.Refundable() {
		outcome, statusText = "error", "INVALID_STATE"
		return nil, fmt.Errorf("settlement: payment %s in status %s: %w",
			paymentID, o.Payment.Status, payment.ErrInvalidState)
	}

	refund, err := s.refundViaGateway(ctx, o.Payment.TransactionID, o.Payment.Amount)
	if err != nil {
		outcome, statusText = "error", "GATEWAY_FAILURE"
		return nil, err
	}
	if !refund.Success {
		outcome, statusText = "error", "REFUND_REJECTED"
		return nil, fmt.Errorf("settlement: payment %s: %w", paymentID, payment.ErrRefundFailed)
	}

	var refunded *payment.Payment
	err = s.orders.Update(ctx, o.ID, func(o *order.Order) error {
		if refundErr := o.Refund(); refundErr != nil {
			return refundErr
		}
		refunded = o.Payment.Clone()
		return nil
	})
	if err != nil {
		outcome, statusText = "error", "STORE_FAILURE"
		s.reportDangling(logger, o.ID, refund.RefundID, err)
		return nil, fmt.Errorf("settlement: persist refund for payment %s: %w", paymentID, err)
	}

	return &RefundOutcome{Payment: refunded, RefundID: refund.RefundID}, nil
}

// UpdatePaymentStatus is the administrative override: it overwrites the
// payment status (and transaction id when supplied) with no transition
// checks, and forces the order to PROCESSING when the new status is
// COMPLETED.
func (s *Service) UpdatePaymentStatus(ctx context.Context, in UpdatePaymentStatusInput) (*payment.Payment, error) {
	if !in.Status.Valid() {
		return nil, fmt.Errorf("settlement: unknown payment status %q", in.Status)
	}

	o, err := s.orders.FindByPaymentID(ctx, in.PaymentID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			err = payment.ErrNotFound
		}
		return nil, fmt.Errorf("settlement: payment %s: %w", in.PaymentID, err)
	}

	var updated *payment.Payment
	err = s.orders.Update(ctx, o.ID, func(o *order.Order) error {
		if o.Payment == nil || o.Payment.ID != in.PaymentID {
			return payment.ErrNotFound
		}
		o.Payment.Overwrite(in.Status, in.TransactionID)
		o.SettlePayment()
		updated = o.Payment.Clone()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("settlement: update payment %s: %w", in.PaymentID, err)
	}

	s.count(useCaseUpdateStatus, "success")
	logctx.FromOr(ctx, s.log).Info("payment_status_updated",
		observability.F("payment_id", updated.ID),
		observability.F("status", string(updated.Status)),
	)
	return updated, nil
}

// PaymentByOrder returns the payment attached to an order, if any.
func (s *Service) PaymentByOrder(ctx context.Context, orderID string) (*payment.Payment, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("settlement: order %s: %w", orderID, err)
	}
	if o.Payment == nil {
		return nil, fmt.Errorf("settlement: order %s: %w", orderID, payment.ErrNotFound)
	}
	return o.Payment.Clone(), nil
}

func (s *Service) processViaGateway(ctx context.Context, req payment.ProcessRequest) (payment.ProcessResult, error) {
	gwCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	start := time.Now()
	result, err := s.gateway.Process(gwCtx, req)
	s.observeGateway("process", start, err)

	if err != nil {
		// Timeout included: the outcome is unknown, not failed.
		return payment.ProcessResult{}, fmt.Errorf("settlement: process order %s: %v: %w",
			req.OrderID, err, payment.ErrGatewayFailure)
	}
	return result, nil
}

func (s *Service) refundViaGateway(ctx context.Context, transactionID string, amount decimal.Decimal) (payment.RefundResult, error) {
	gwCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	start := time.Now()
	result, err := s.gateway.Refund(gwCtx, transactionID, amount)
	s.observeGateway("refund", start, err)

	if err != nil {
		return payment.RefundResult{}, fmt.Errorf("settlement: refund transaction %s: %v: %w",
			transactionID, err, payment.ErrGatewayFailure)
	}
	return result, nil
}

func (s *Service) observeGateway(endpoint string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	if s.gwCounter != nil {
		s.gwCounter.Add(1,
			observability.L("endpoint", endpoint),
			observability.L("outcome", outcome),
		)
	}
	if s.gwHistogram != nil {
		s.gwHistogram.Observe(time.Since(start).Seconds(),
			observability.L("endpoint", endpoint),
		)
	}
}

// reportDangling records an external transaction that succeeded at the
// gateway but whose local write did not commit. Reconciliation against the
// gateway by transaction id is a documented gap; the log line and counter
// are the hook for it.
func (s *Service) reportDangling(logger observability.Logger, orderID, transactionID string, cause error) {
	if s.danglingCounter != nil {
		s.danglingCounter.Add(1)
	}
	logger.Error("dangling_gateway_transaction",
		observability.F("order_id", orderID),
		observability.F("transaction_id", transactionID),
		observability.F("cause", cause.Error()),
	)
}

func (s *Service) count(useCase, outcome string) {
	if s.reqCounter != nil {
		s.reqCounter.Add(1,
			observability.L("use_case", useCase),
			observability.L("outcome", outcome),
		)
	}
}
