package payment

import (
	"context"

	"github.com/shopspring/decimal"
)

type ProcessRequest struct {
	OrderID string
	Amount  decimal.Decimal
	Method  Method
}

type ProcessResult struct {
	Status        Status
	TransactionID string
}

type RefundResult struct {
	Success  bool
	RefundID string
}

// Gateway abstracts the external payment capability. Every call is fallible
// I/O: a context timeout means the outcome is unknown, not that the charge
// did not happen. Implementations must be retry-safe per logical attempt,
// keyed by the order id, so that a caller retrying after an ambiguous
// failure cannot double-charge.
type Gateway interface {
	Process(ctx context.Context, req ProcessRequest) (ProcessResult, error)
	Refund(ctx context.Context, transactionID string, amount decimal.Decimal) (RefundResult, error)
}
