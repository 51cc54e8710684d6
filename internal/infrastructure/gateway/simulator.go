// Package gateway provides a simulated payment gateway adapter. Real
// deployments swap in an adapter for their provider; the simulator honors
// the same contract, including per-method initial status and transaction
// id prefixes.
package gateway

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yhchiang-dev/shopledger/internal/domain/payment"
	"github.com/yhchiang-dev/shopledger/internal/observability"
	"github.com/yhchiang-dev/shopledger/internal/observability/logctx"
)

const componentGateway = "payment_gateway"

type Simulator struct {
	log observability.Logger
}

func NewSimulator(tel observability.Observability) *Simulator {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Simulator{
		log: tel.Logger().With(observability.F("component", componentGateway)),
	}
}

// Process authorizes a charge. The resulting status comes from the method
// variant: bank transfers settle later and start pending, card and PayPal
// charges complete immediately.
func (s *Simulator) Process(ctx context.Context, req payment.ProcessRequest) (payment.ProcessResult, error) {
	if req.Method == nil {
		return payment.ProcessResult{}, payment.ErrInvalidMethod
	}
	if err := req.Method.Validate(); err != nil {
		return payment.ProcessResult{}, err
	}
	if req.Amount.IsNegative() {
		return payment.ProcessResult{}, fmt.Errorf("gateway: amount must be zero or greater")
	}
	if err := ctx.Err(); err != nil {
		return payment.ProcessResult{}, err
	}

	logger := logctx.FromOr(ctx, s.log).With(
		observability.F("order_id", req.OrderID),
		observability.F("method", string(req.Method.Kind())),
	)
	if cc, ok := req.Method.(payment.CreditCard); ok {
		logger = logger.With(observability.F("card", cc.MaskedNumber()))
	}

	result := payment.ProcessResult{
		Status:        req.Method.InitialStatus(),
		TransactionID: fmt.Sprintf("%s_%s", req.Method.TransactionPrefix(), uuid.NewString()),
	}
	logger.Info("gateway_charge",
		observability.F("transaction_id", result.TransactionID),
		observability.F("status", string(result.Status)),
	)
	return result, nil
}

// Refund reverses a previously completed charge.
func (s *Simulator) Refund(ctx context.Context, transactionID string, amount decimal.Decimal) (payment.RefundResult, error) {
	if transactionID == "" {
		return payment.RefundResult{Success: false}, nil
	}
	if err := ctx.Err(); err != nil {
		return payment.RefundResult{}, err
	}

	result := payment.RefundResult{
		Success:  true,
		RefundID: "re_" + uuid.NewString(),
	}
	logctx.FromOr(ctx, s.log).Info("gateway_refund",
		observability.F("transaction_id", transactionID),
		observability.F("amount", amount.String()),
		observability.F("refund_id", result.RefundID),
	)
	return result, nil
}
