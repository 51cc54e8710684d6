package stockledger

import (
	"context"

	"github.com/yhchiang-dev/shopledger/internal/domain/product"
)

type IDGenerator interface {
	NewID() string
}

// AlertPublisher receives alert events after a stock mutation commits.
// Publish is best-effort: implementations must isolate listener failures
// and never surface them to the ledger.
type AlertPublisher interface {
	Publish(ctx context.Context, e product.AlertEvent)
}
