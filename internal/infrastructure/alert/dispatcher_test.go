package alert

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/yhchiang-dev/shopledger/internal/domain/product"
)

func event(id string) product.AlertEvent {
	return product.AlertEvent{ProductID: id, Kind: product.AlertLowStock, CurrentStock: 3, ThresholdStock: 10}
}

func TestPublishInRegistrationOrder(t *testing.T) {
	d := NewDispatcher(nil)

	var mu sync.Mutex
	var seen []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		d.Subscribe(func(_ context.Context, _ product.AlertEvent) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, name)
			return nil
		})
	}

	d.Publish(context.Background(), event("p1"))

	if len(seen) != 3 || seen[0] != "first" || seen[1] != "second" || seen[2] != "third" {
		t.Fatalf("delivery order = %v", seen)
	}
}

func TestUnsubscribe(t *testing.T) {
	d := NewDispatcher(nil)

	var calls int
	id := d.Subscribe(func(_ context.Context, _ product.AlertEvent) error {
		calls++
		return nil
	})

	if !d.Unsubscribe(id) {
		t.Fatal("Unsubscribe returned false for live listener")
	}
	if d.Unsubscribe(id) {
		t.Fatal("second Unsubscribe returned true")
	}
	if d.Unsubscribe(999) {
		t.Fatal("Unsubscribe of unknown id returned true")
	}

	d.Publish(context.Background(), event("p1"))
	if calls != 0 {
		t.Fatalf("removed listener invoked %d times", calls)
	}
}

func TestListenerIDsAreUnique(t *testing.T) {
	d := NewDispatcher(nil)

	ids := make(map[int64]bool)
	for i := 0; i < 100; i++ {
		id := d.Subscribe(func(_ context.Context, _ product.AlertEvent) error { return nil })
		if ids[id] {
			t.Fatalf("duplicate listener id %d", id)
		}
		ids[id] = true
	}
}

func TestFailingListenerDoesNotStopOthers(t *testing.T) {
	d := NewDispatcher(nil)

	var delivered []string
	d.Subscribe(func(_ context.Context, _ product.AlertEvent) error {
		delivered = append(delivered, "errors")
		return errors.New("downstream unavailable")
	})
	d.Subscribe(func(_ context.Context, _ product.AlertEvent) error {
		panic("listener bug")
	})
	d.Subscribe(func(_ context.Context, _ product.AlertEvent) error {
		delivered = append(delivered, "healthy")
		return nil
	})

	d.Publish(context.Background(), event("p1"))

	if len(delivered) != 2 || delivered[1] != "healthy" {
		t.Fatalf("delivered = %v, want failing listeners isolated", delivered)
	}
}

func TestPublishWithNoListeners(t *testing.T) {
	d := NewDispatcher(nil)
	// Must not block or panic; the event is simply dropped.
	d.Publish(context.Background(), event("p1"))
}

func TestConcurrentSubscribePublish(t *testing.T) {
	d := NewDispatcher(nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			d.Subscribe(func(_ context.Context, _ product.AlertEvent) error { return nil })
		}()
		go func() {
			defer wg.Done()
			d.Publish(context.Background(), event("p1"))
		}()
	}
	wg.Wait()
}
