// Package alert implements the fan-out point for stock alerts. Delivery is
// fire-and-forget: a failing listener is logged and skipped, and an event
// published while nobody listens is simply lost.
package alert

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/yhchiang-dev/shopledger/internal/domain/product"
	"github.com/yhchiang-dev/shopledger/internal/observability"
	"github.com/yhchiang-dev/shopledger/internal/observability/logctx"
)

const componentDispatcher = "alert_dispatcher"

// Listener handles one alert event. Errors and panics are isolated per
// listener and never reach the publisher.
type Listener func(ctx context.Context, e product.AlertEvent) error

type registration struct {
	id int64
	fn Listener
}

// Dispatcher keeps listeners in registration order under monotonically
// increasing ids. State is process-local; no cross-process coordination.
type Dispatcher struct {
	mu        sync.RWMutex
	nextID    int64
	listeners []registration

	log         observability.Logger
	failCounter observability.Counter
}

func NewDispatcher(tel observability.Observability) *Dispatcher {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Dispatcher{
		log:         tel.Logger().With(observability.F("component", componentDispatcher)),
		failCounter: tel.Metrics().Counter(observability.MAlertListenerFailures),
	}
}

// Subscribe registers fn and returns its listener id.
func (d *Dispatcher) Subscribe(fn Listener) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	d.listeners = append(d.listeners, registration{id: d.nextID, fn: fn})
	return d.nextID
}

// Unsubscribe removes the listener with the given id. It returns false when
// the id is unknown or was already removed.
func (d *Dispatcher) Unsubscribe(id int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, reg := range d.listeners {
		if reg.id == id {
			d.listeners = append(d.listeners[:i], d.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// Publish invokes every currently registered listener synchronously, in
// registration order. A listener that errors or panics does not stop the
// remaining ones.
func (d *Dispatcher) Publish(ctx context.Context, e product.AlertEvent) {
	d.mu.RLock()
	listeners := append([]registration(nil), d.listeners...)
	d.mu.RUnlock()

	logger := logctx.FromOr(ctx, d.log).With(
		observability.F("product_id", e.ProductID),
		observability.F("kind", string(e.Kind)),
	)
	if len(listeners) == 0 {
		logger.Debug("alert_dropped_no_listener")
		return
	}

	for _, reg := range listeners {
		d.invoke(ctx, logger, reg, e)
	}
}

func (d *Dispatcher) invoke(ctx context.Context, logger observability.Logger, reg registration, e product.AlertEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.countFailure()
			logger.Error("alert_listener_panic",
				observability.F("listener_id", reg.id),
				observability.F("panic", r),
				observability.F("stack", string(debug.Stack())),
			)
		}
	}()

	if err := reg.fn(ctx, e); err != nil {
		d.countFailure()
		logger.Warn("alert_listener_error",
			observability.F("listener_id", reg.id),
			observability.F("error", err.Error()),
		)
	}
}

func (d *Dispatcher) countFailure() {
	if d.failCounter != nil {
		d.failCounter.Add(1)
	}
}
