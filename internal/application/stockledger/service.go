package stockledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yhchiang-dev/shopledger/internal/domain/product"
	"github.com/yhchiang-dev/shopledger/internal/observability"
	"github.com/yhchiang-dev/shopledger/internal/observability/logctx"
)

const (
	ledgerService    = "stock-ledger"
	useCaseAdjust    = "stock.adjust"
	useCaseCheck     = "stock.check_availability"
	useCaseThreshold = "stock.set_alert_threshold"
	spanPrefix       = "UC."
)

type AdjustInput struct {
	ProductID string
	Quantity  int
	Direction product.Direction
	Reason    product.Reason
	Reference string
}

type AdjustResult struct {
	ProductID     string
	PreviousStock int
	NewStock      int
}

type Availability struct {
	ProductID        string
	Available        bool
	CurrentStock     int
	RequiredQuantity int
	ShortageAmount   int
}

type ThresholdResult struct {
	ProductID    string
	Threshold    int
	CurrentStock int
}

type RegisterProductInput struct {
	ProductID    string
	Name         string
	InitialStock int
}

// Service is the stock ledger: it owns every stock mutation, the audit
// history that goes with it, and the alert evaluation that follows.
type Service struct {
	products         product.Repository
	alerts           AlertPublisher
	ids              IDGenerator
	defaultThreshold int

	log          observability.Logger
	tracer       observability.Tracer
	reqCounter   observability.Counter
	durHistogram observability.Histogram
	alertCounter observability.Counter
}

func NewService(products product.Repository, alerts AlertPublisher, ids IDGenerator, defaultThreshold int, tel observability.Observability) *Service {
	if tel == nil {
		tel = observability.Nop()
	}
	if defaultThreshold < 0 {
		defaultThreshold = product.DefaultAlertThreshold
	}
	metrics := tel.Metrics()
	return &Service{
		products:         products,
		alerts:           alerts,
		ids:              ids,
		defaultThreshold: defaultThreshold,
		log:              tel.Logger().With(observability.F("service", ledgerService)),
		tracer:           tel.Tracer(),
		reqCounter:       metrics.Counter(observability.MUsecaseRequests),
		durHistogram:     metrics.Histogram(observability.MUsecaseDuration),
		alertCounter:     metrics.Counter(observability.MStockAlerts),
	}
}

// RegisterProduct creates a product with an initial stock level. The id is
// generated when not supplied.
func (s *Service) RegisterProduct(ctx context.Context, in RegisterProductInput) (*product.Product, error) {
	id := in.ProductID
	if id == "" {
		id = s.ids.NewID()
	}
	p, err := product.New(id, in.Name, in.InitialStock)
	if err != nil {
		return nil, err
	}
	if err := s.products.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("stockledger: create product: %w", err)
	}
	logctx.FromOr(ctx, s.log).Info("product_registered",
		observability.F("product_id", p.ID),
		observability.F("initial_stock", p.Stock),
	)
	return p, nil
}

// Adjust mutates a product's stock as one atomic unit with its history
// record, then evaluates the alert condition on the committed value.
// Concurrent adjustments of the same product are serialized by the store;
// stock can never go negative.
func (s *Service) Adjust(ctx context.Context, in AdjustInput) (_ *AdjustResult, err error) {
	logger := logctx.FromOr(ctx, s.log).With(
		observability.F("use_case", useCaseAdjust),
		observability.F("product_id", in.ProductID),
		observability.F("direction", string(in.Direction)),
		observability.F("quantity", in.Quantity),
	)

	ctx, span := s.tracer.Start(ctx, spanPrefix+"AdjustStock",
		attribute.String("use_case", useCaseAdjust),
		attribute.String("product.id", in.ProductID),
		attribute.String("stock.direction", string(in.Direction)),
		attribute.Int("stock.quantity", in.Quantity),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"
	var result *AdjustResult

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
				observability.L("use_case", useCaseAdjust),
				observability.L("outcome", outcome),
			)
		}
		if s.durHistogram != nil {
			s.durHistogram.Observe(latency,
				observability.L("use_case", useCaseAdjust),
			)
		}

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", latency),
		}
		if result != nil {
			fields = append(fields,
				observability.F("previous_stock", result.PreviousStock),
				observability.F("new_stock", result.NewStock),
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

	if in.Quantity <= 0 {
		outcome, statusText = "error", "QUANTITY_INVALID"
		return nil, product.ErrInvalidQuantity
	}
	if !in.Direction.Valid() {
		outcome, statusText = "error", "DIRECTION_INVALID"
		return nil, fmt.Errorf("stockledger: unknown direction %q", in.Direction)
	}

	var alertStock, alertThreshold int
	err = s.products.Update(ctx, in.ProductID, func(p *product.Product) (*product.HistoryRecord, error) {
		previous := p.Stock
		var applyErr error
		if in.Direction == product.DirectionAdd {
			applyErr = p.Add(in.Quantity)
		} else {
			applyErr = p.Subtract(in.Quantity)
		}
		if applyErr != nil {
			return nil, applyErr
		}

		result = &AdjustResult{
			ProductID:     p.ID,
			PreviousStock: previous,
			NewStock:      p.Stock,
		}
		alertStock = p.Stock
		alertThreshold = p.ThresholdOr(s.defaultThreshold)

		return &product.HistoryRecord{
			ID:            s.ids.NewID(),
			ProductID:     p.ID,
			Delta:         in.Quantity,
			Direction:     in.Direction,
			Reason:        in.Reason,
			Reference:     in.Reference,
			PreviousStock: previous,
			NewStock:      p.Stock,
			RecordedAt:    time.Now().UTC(),
		}, nil
	})
	if err != nil {
		result = nil
		switch {
		case errors.Is(err, product.ErrNotFound):
			outcome, statusText = "error", "PRODUCT_NOT_FOUND"
		case errors.Is(err, product.ErrInsufficientStock):
			outcome, statusText = "error", "INSUFFICIENT_STOCK"
		case errors.Is(err, product.ErrInvalidQuantity):
			outcome, statusText = "error", "QUANTITY_INVALID"
		default:
			outcome, statusText = "error", "STORE_FAILURE"
		}
		return nil, fmt.Errorf("stockledger: adjust %s: %w", in.ProductID, err)
	}

	if span != nil {
		span.AddEvent("stock.adjusted",
			trace.WithAttributes(
				attribute.Int("stock.previous", result.PreviousStock),
				attribute.Int("stock.new", result.NewStock),
			),
		)
	}

	// The mutation is committed; alert delivery is best-effort from here.
	s.raiseAlert(ctx, in.ProductID, alertStock, alertThreshold)

	return result, nil
}

// CheckAvailability is a point-in-time snapshot; the value may be stale by
// the time the caller acts on it.
func (s *Service) CheckAvailability(ctx context.Context, productID string, requiredQuantity int) (*Availability, error) {
	if requiredQuantity <= 0 {
		return nil, product.ErrInvalidQuantity
	}
	p, err := s.products.Get(ctx, productID)
	if err != nil {
		s.count(useCaseCheck, "error")
		return nil, fmt.Errorf("stockledger: check availability %s: %w", productID, err)
	}
	s.count(useCaseCheck, "success")

	out := &Availability{
		ProductID:        p.ID,
		Available:        p.Stock >= requiredQuantity,
		CurrentStock:     p.Stock,
		RequiredQuantity: requiredQuantity,
	}
	if !out.Available {
		out.ShortageAmount = requiredQuantity - p.Stock
	}
	return out, nil
}

// SetAlertThreshold updates the per-product threshold and immediately
// re-evaluates the alert condition against current stock, so lowering or
// raising the bar can trigger an alert with no stock movement at all.
func (s *Service) SetAlertThreshold(ctx context.Context, productID string, threshold int) (*ThresholdResult, error) {
	if threshold < 0 {
		return nil, product.ErrInvalidThreshold
	}

	var currentStock int
	err := s.products.Update(ctx, productID, func(p *product.Product) (*product.HistoryRecord, error) {
		if err := p.SetThreshold(threshold); err != nil {
			return nil, err
		}
		currentStock = p.Stock
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("stockledger: set threshold %s: %w", productID, err)
	}

	s.count(useCaseThreshold, "success")
	s.raiseAlert(ctx, productID, currentStock, threshold)

	return &ThresholdResult{
		ProductID:    productID,
		Threshold:    threshold,
		CurrentStock: currentStock,
	}, nil
}

// GetProductStock returns the current product snapshot.
func (s *Service) GetProductStock(ctx context.Context, productID string) (*product.Product, error) {
	p, err := s.products.Get(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("stockledger: get product %s: %w", productID, err)
	}
	return p, nil
}

// History returns the append-only audit trail for a product, oldest first.
func (s *Service) History(ctx context.Context, productID string) ([]product.HistoryRecord, error) {
	records, err := s.products.History(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("stockledger: history %s: %w", productID, err)
	}
	return records, nil
}

// raiseAlert evaluates the alert condition and fans the event out. Dispatch
// failures never propagate to the caller of a stock mutation.
func (s *Service) raiseAlert(ctx context.Context, productID string, currentStock, threshold int) {
	event, triggered := product.EvaluateAlert(productID, currentStock, threshold)
	if !triggered {
		return
	}
	if s.alertCounter != nil {
		s.alertCounter.Add(1,
			observability.L("kind", string(event.Kind)),
		)
	}
	logctx.FromOr(ctx, s.log).Warn("stock_alert",
		observability.F("product_id", event.ProductID),
		observability.F("kind", string(event.Kind)),
		observability.F("current_stock", event.CurrentStock),
		observability.F("threshold_stock", event.ThresholdStock),
	)
	if s.alerts != nil {
		s.alerts.Publish(ctx, event)
	}
}

func (s *Service) count(useCase, outcome string) {
	if s.reqCounter != nil {
		s.reqCounter.Add(1,
			observability.L("use_case", useCase),
			observability.L("outcome", outcome),
		)
	}
}
