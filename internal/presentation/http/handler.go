package httppresentation

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	appsettlement "github.com/yhchiang-dev/shopledger/internal/application/settlement"
	appstock "github.com/yhchiang-dev/shopledger/internal/application/stockledger"
	domainOrder "github.com/yhchiang-dev/shopledger/internal/domain/order"
	domainPayment "github.com/yhchiang-dev/shopledger/internal/domain/payment"
	domainProduct "github.com/yhchiang-dev/shopledger/internal/domain/product"
	"github.com/yhchiang-dev/shopledger/internal/observability"
)

const (
	componentHTTPHandler = "http_server"
	headerRequestID      = "X-Request-ID"
)

type Handler struct {
	ledger     *appstock.Service
	settlement *appsettlement.Service
	log        observability.Logger
	tel        observability.Observability
}

func NewHandler(ledger *appstock.Service, settlement *appsettlement.Service, logger observability.Logger, tel observability.Observability) *Handler {
	baseLogger := logger
	if baseLogger == nil {
		baseLogger = observability.NopLogger()
	}
	if tel == nil {
		tel = observability.Nop()
	}
	return &Handler{
		ledger:     ledger,
		settlement: settlement,
		log:        baseLogger.With(observability.F("component", componentHTTPHandler)),
		tel:        tel,
	}
}

func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	// Wire each route with middlewares:
	// Trace → ObservabilityMiddleware (request logger + HTTP metrics) → Access log → Handler
	h.muxHandle(mux, "POST /products", h.handleRegisterProduct)
	h.muxHandle(mux, "GET /products/{id}/stock", h.handleGetStock)
	h.muxHandle(mux, "GET /products/{id}/history", h.handleHistory)
	h.muxHandle(mux, "POST /products/{id}/stock/adjust", h.handleAdjustStock)
	h.muxHandle(mux, "POST /products/{id}/stock/check", h.handleCheckStock)
	h.muxHandle(mux, "PUT /products/{id}/threshold", h.handleSetThreshold)
	h.muxHandle(mux, "POST /orders", h.handleCreateOrder)
	h.muxHandle(mux, "GET /orders/{id}/payment", h.handlePaymentByOrder)
	h.muxHandle(mux, "POST /payments", h.handleCreatePayment)
	h.muxHandle(mux, "POST /payments/{id}/refund", h.handleRefundPayment)
	h.muxHandle(mux, "PUT /payments/{id}/status", h.handleUpdatePaymentStatus)
	h.muxHandle(mux, "GET /health", h.handleHealth)

	return mux
}

func (h *Handler) muxHandle(mux *http.ServeMux, pattern string, handler http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		// Store stable route template for low-cardinality labels
		ctx := contextWithRoute(r.Context(), pattern)
		r = r.WithContext(ctx)

		wrapped := h.withTrace(
			ObservabilityMiddleware(
				h.log,
				func(r *http.Request) string {
					return r.Header.Get(headerRequestID)
				},
				h.tel,
			)(
				h.withAccessLog(http.HandlerFunc(handler)),
			),
		)
		wrapped.ServeHTTP(w, r)
	})
}

type registerProductRequest struct {
	ProductID    string `json:"product_id"`
	Name         string `json:"name"`
	InitialStock int    `json:"initial_stock"`
}

type registerProductResponse struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Stock     int    `json:"stock"`
}

func (h *Handler) handleRegisterProduct(w http.ResponseWriter, r *http.Request) {
	var req registerProductRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	p, err := h.ledger.RegisterProduct(r.Context(), appstock.RegisterProductInput{
		ProductID:    req.ProductID,
		Name:         req.Name,
		InitialStock: req.InitialStock,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerProductResponse{
		ProductID: p.ID,
		Name:      p.Name,
		Stock:     p.Stock,
	})
}

type stockResponse struct {
	ProductID      string `json:"product_id"`
	Name           string `json:"name"`
	Stock          int    `json:"stock"`
	AlertThreshold int    `json:"alert_threshold"`
}

func (h *Handler) handleGetStock(w http.ResponseWriter, r *http.Request) {
	p, err := h.ledger.GetProductStock(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stockResponse{
		ProductID:      p.ID,
		Name:           p.Name,
		Stock:          p.Stock,
		AlertThreshold: p.ThresholdOr(domainProduct.DefaultAlertThreshold),
	})
}

type historyEntry struct {
	ID            string    `json:"id"`
	Delta         int       `json:"delta"`
	Direction     string    `json:"direction"`
	Reason        string    `json:"reason"`
	Reference     string    `json:"reference,omitempty"`
	PreviousStock int       `json:"previous_stock"`
	NewStock      int       `json:"new_stock"`
	RecordedAt    time.Time `json:"recorded_at"`
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.ledger.History(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]historyEntry, 0, len(records))
	for _, rec := range records {
		out = append(out, historyEntry{
			ID:            rec.ID,
			Delta:         rec.Delta,
			Direction:     string(rec.Direction),
			Reason:        string(rec.Reason),
			Reference:     rec.Reference,
			PreviousStock: rec.PreviousStock,
			NewStock:      rec.NewStock,
			RecordedAt:    rec.RecordedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type adjustStockRequest struct {
	Quantity  int    `json:"quantity"`
	Direction string `json:"direction"`
	Reason    string `json:"reason"`
	Reference string `json:"reference"`
}

type adjustStockResponse struct {
	ProductID     string `json:"product_id"`
	PreviousStock int    `json:"previous_stock"`
	NewStock      int    `json:"new_stock"`
}

func (h *Handler) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	var req adjustStockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.ledger.Adjust(r.Context(), appstock.AdjustInput{
		ProductID: r.PathValue("id"),
		Quantity:  req.Quantity,
		Direction: domainProduct.Direction(req.Direction),
		Reason:    domainProduct.Reason(req.Reason),
		Reference: req.Reference,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, adjustStockResponse{
		ProductID:     result.ProductID,
		PreviousStock: result.PreviousStock,
		NewStock:      result.NewStock,
	})
}

type checkStockRequest struct {
	RequiredQuantity int `json:"required_quantity"`
}

type checkStockResponse struct {
	ProductID        string `json:"product_id"`
	Available        bool   `json:"available"`
	CurrentStock     int    `json:"current_stock"`
	RequiredQuantity int    `json:"required_quantity"`
	ShortageAmount   int    `json:"shortage_amount,omitempty"`
}

func (h *Handler) handleCheckStock(w http.ResponseWriter, r *http.Request) {
	var req checkStockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.ledger.CheckAvailability(r.Context(), r.PathValue("id"), req.RequiredQuantity)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, checkStockResponse{
		ProductID:        result.ProductID,
		Available:        result.Available,
		CurrentStock:     result.CurrentStock,
		RequiredQuantity: result.RequiredQuantity,
		ShortageAmount:   result.ShortageAmount,
	})
}

type setThresholdRequest struct {
	Threshold int `json:"threshold"`
}

type setThresholdResponse struct {
	ProductID    string `json:"product_id"`
	Threshold    int    `json:"threshold"`
	CurrentStock int    `json:"current_stock"`
}

func (h *Handler) handleSetThreshold(w http.ResponseWriter, r *http.Request) {
	var req setThresholdRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.ledger.SetAlertThreshold(r.Context(), r.PathValue("id"), req.Threshold)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, setThresholdResponse{
		ProductID:    result.ProductID,
		Threshold:    result.Threshold,
		CurrentStock: result.CurrentStock,
	})
}

type createOrderRequest struct {
	OrderID     string          `json:"order_id"`
	CustomerID  string          `json:"customer_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type createOrderResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	o, err := h.settlement.CreateOrder(r.Context(), appsettlement.CreateOrderInput{
		OrderID:     req.OrderID,
		CustomerID:  req.CustomerID,
		TotalAmount: req.TotalAmount,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createOrderResponse{
		OrderID: o.ID,
		Status:  string(o.Status),
	})
}

type paymentResponse struct {
	PaymentID     string          `json:"payment_id"`
	OrderID       string          `json:"order_id"`
	Amount        decimal.Decimal `json:"amount"`
	Method        string          `json:"method"`
	Status        string          `json:"status"`
	TransactionID string          `json:"transaction_id,omitempty"`
}

func toPaymentResponse(p *domainPayment.Payment) paymentResponse {
	return paymentResponse{
		PaymentID:     p.ID,
		OrderID:       p.OrderID,
		Amount:        p.Amount,
		Method:        string(p.Method),
		Status:        string(p.Status),
		TransactionID: p.TransactionID,
	}
}

type cardDetails struct {
	Number string `json:"number"`
	Expiry string `json:"expiry"`
	CVV    string `json:"cvv"`
}

type bankDetails struct {
	Account  string `json:"account"`
	BankName string `json:"bank_name"`
}

type paypalDetails struct {
	Email string `json:"email"`
}

type createPaymentRequest struct {
	OrderID string          `json:"order_id"`
	Amount  decimal.Decimal `json:"amount"`
	Method  string          `json:"method"`
	Card    *cardDetails    `json:"card,omitempty"`
	Bank    *bankDetails    `json:"bank,omitempty"`
	PayPal  *paypalDetails  `json:"paypal,omitempty"`
}

func (req createPaymentRequest) method() (domainPayment.Method, error) {
	switch domainPayment.MethodKind(req.Method) {
	case domainPayment.MethodCreditCard:
		if req.Card == nil {
			return nil, fmt.Errorf("%w: card details are required", domainPayment.ErrInvalidMethod)
		}
		return domainPayment.CreditCard{Number: req.Card.Number, Expiry: req.Card.Expiry, CVV: req.Card.CVV}, nil
	case domainPayment.MethodBankTransfer:
		if req.Bank == nil {
			return nil, fmt.Errorf("%w: bank details are required", domainPayment.ErrInvalidMethod)
		}
		return domainPayment.BankTransfer{Account: req.Bank.Account, BankName: req.Bank.BankName}, nil
	case domainPayment.MethodPayPal:
		if req.PayPal == nil {
			return nil, fmt.Errorf("%w: paypal details are required", domainPayment.ErrInvalidMethod)
		}
		return domainPayment.PayPal{Email: req.PayPal.Email}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported method %q", domainPayment.ErrInvalidMethod, req.Method)
	}
}

func (h *Handler) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	method, err := req.method()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	p, err := h.settlement.CreatePayment(r.Context(), appsettlement.CreatePaymentInput{
		OrderID: req.OrderID,
		Amount:  req.Amount,
		Method:  method,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentResponse(p))
}

func (h *Handler) handlePaymentByOrder(w http.ResponseWriter, r *http.Request) {
	p, err := h.settlement.PaymentByOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(p))
}

type refundResponse struct {
	paymentResponse
	RefundID string `json:"refund_id"`
}

func (h *Handler) handleRefundPayment(w http.ResponseWriter, r *http.Request) {
	result, err := h.settlement.RefundPayment(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refundResponse{
		paymentResponse: toPaymentResponse(result.Payment),
		RefundID:        result.RefundID,
	})
}

type updatePaymentStatusRequest struct {
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
}

func (h *Handler) handleUpdatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	var req updatePaymentStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	p, err := h.settlement.UpdatePaymentStatus(r.Context(), appsettlement.UpdatePaymentStatusInput{
		PaymentID:     r.PathValue("id"),
		Status:        domainPayment.Status(req.Status),
		TransactionID: req.TransactionID,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(p))
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domainProduct.ErrNotFound),
		errors.Is(err, domainOrder.ErrNotFound),
		errors.Is(err, domainPayment.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domainProduct.ErrConflict),
		errors.Is(err, domainOrder.ErrConflict):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, domainProduct.ErrInvalidQuantity),
		errors.Is(err, domainProduct.ErrInvalidThreshold),
		errors.Is(err, domainProduct.ErrInvalidStock),
		errors.Is(err, domainProduct.ErrInsufficientStock),
		errors.Is(err, domainOrder.ErrInvalidAmount),
		errors.Is(err, domainOrder.ErrDuplicatePayment),
		errors.Is(err, domainOrder.ErrAmountMismatch),
		errors.Is(err, domainPayment.ErrInvalidMethod),
		errors.Is(err, domainPayment.ErrInvalidState),
		errors.Is(err, domainPayment.ErrRefundFailed):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, domainPayment.ErrGatewayFailure):
		writeError(w, http.StatusBadGateway, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
