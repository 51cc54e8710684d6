package httppresentation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	appsettlement "github.com/yhchiang-dev/shopledger/internal/application/settlement"
	appstock "github.com/yhchiang-dev/shopledger/internal/application/stockledger"
	domainProduct "github.com/yhchiang-dev/shopledger/internal/domain/product"
	"github.com/yhchiang-dev/shopledger/internal/infrastructure/alert"
	"github.com/yhchiang-dev/shopledger/internal/infrastructure/gateway"
	"github.com/yhchiang-dev/shopledger/internal/infrastructure/memory"
)

type seqIDs struct{ n int64 }

func (s *seqIDs) NewID() string {
	return fmt.Sprintf("id-%d", atomic.AddInt64(&s.n, 1))
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ids := &seqIDs{}
	ledger := appstock.NewService(memory.NewProductRepository(), alert.NewDispatcher(nil), ids, domainProduct.DefaultAlertThreshold, nil)
	settle := appsettlement.NewService(memory.NewOrderRepository(), gateway.NewSimulator(nil), ids, time.Second, nil)
	handler := NewHandler(ledger, settle, nil, nil)

	srv := httptest.NewServer(handler.Router())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		decoded = nil
	}
	return resp, decoded
}

func TestProductLifecycle(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/products", map[string]any{
		"product_id": "p1", "name": "Widget", "initial_stock": 50,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d, body = %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/products/p1/stock/adjust", map[string]any{
		"quantity": 20, "direction": "subtract", "reason": "SALE", "reference": "order-1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("adjust status = %d, body = %v", resp.StatusCode, body)
	}
	if body["new_stock"].(float64) != 30 {
		t.Fatalf("new_stock = %v, want 30", body["new_stock"])
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/products/p1/stock", nil)
	if resp.StatusCode != http.StatusOK || body["stock"].(float64) != 30 {
		t.Fatalf("stock = %v (status %d)", body["stock"], resp.StatusCode)
	}
	if body["alert_threshold"].(float64) != 10 {
		t.Fatalf("alert_threshold = %v, want default 10", body["alert_threshold"])
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/products/p1/stock/check", map[string]any{
		"required_quantity": 40,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("check status = %d", resp.StatusCode)
	}
	if body["available"].(bool) || body["shortage_amount"].(float64) != 10 {
		t.Fatalf("availability = %v", body)
	}

	resp, _ = doJSON(t, http.MethodPut, srv.URL+"/products/p1/threshold", map[string]any{"threshold": 5})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("threshold status = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/products/p1/history", nil)
	histResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	defer histResp.Body.Close()
	var records []map[string]any
	if err := json.NewDecoder(histResp.Body).Decode(&records); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(records) != 1 || records[0]["direction"] != "subtract" {
		t.Fatalf("history = %v", records)
	}
}

func TestProductErrorMapping(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/products/missing/stock", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown product status = %d, want 404", resp.StatusCode)
	}

	doJSON(t, http.MethodPost, srv.URL+"/products", map[string]any{"product_id": "p1", "name": "Widget", "initial_stock": 2})

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/products/p1/stock/adjust", map[string]any{
		"quantity": 5, "direction": "subtract", "reason": "SALE",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("insufficient stock status = %d, want 400", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/products", map[string]any{"product_id": "p1", "name": "Widget", "initial_stock": 2})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate product status = %d, want 409", resp.StatusCode)
	}
}

func TestSettlementFlow(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/orders", map[string]any{
		"order_id": "o1", "customer_id": "c1", "total_amount": "100",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create order status = %d, body = %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/payments", map[string]any{
		"order_id": "o1", "amount": "100", "method": "CREDIT_CARD",
		"card": map[string]string{"number": "4242424242424242", "expiry": "12/30", "cvv": "123"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create payment status = %d, body = %v", resp.StatusCode, body)
	}
	if body["status"] != "COMPLETED" {
		t.Fatalf("payment status = %v", body["status"])
	}
	paymentID := body["payment_id"].(string)

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/orders/o1/payment", nil)
	if resp.StatusCode != http.StatusOK || body["payment_id"] != paymentID {
		t.Fatalf("payment by order = %v (status %d)", body, resp.StatusCode)
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/payments/"+paymentID+"/refund", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refund status = %d, body = %v", resp.StatusCode, body)
	}
	if body["status"] != "REFUNDED" || body["refund_id"] == "" {
		t.Fatalf("refund body = %v", body)
	}

	// Duplicate payment after refund is still rejected.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/payments", map[string]any{
		"order_id": "o1", "amount": "100", "method": "PAYPAL",
		"paypal": map[string]string{"email": "buyer@example.com"},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("duplicate payment status = %d, want 400", resp.StatusCode)
	}
}

func TestUpdatePaymentStatusEndpoint(t *testing.T) {
	srv := newTestServer(t)

	doJSON(t, http.MethodPost, srv.URL+"/orders", map[string]any{
		"order_id": "o1", "customer_id": "c1", "total_amount": "80",
	})
	_, body := doJSON(t, http.MethodPost, srv.URL+"/payments", map[string]any{
		"order_id": "o1", "amount": "80", "method": "BANK_TRANSFER",
		"bank": map[string]string{"account": "111-222", "bank_name": "First National"},
	})
	if body["status"] != "PENDING" {
		t.Fatalf("bank transfer status = %v, want PENDING", body["status"])
	}
	paymentID := body["payment_id"].(string)

	resp, body := doJSON(t, http.MethodPut, srv.URL+"/payments/"+paymentID+"/status", map[string]any{
		"status": "COMPLETED",
	})
	if resp.StatusCode != http.StatusOK || body["status"] != "COMPLETED" {
		t.Fatalf("update status = %v (status %d)", body, resp.StatusCode)
	}
}

func TestCreatePaymentRejectsUnknownMethod(t *testing.T) {
	srv := newTestServer(t)

	doJSON(t, http.MethodPost, srv.URL+"/orders", map[string]any{
		"order_id": "o1", "customer_id": "c1", "total_amount": "100",
	})
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/payments", map[string]any{
		"order_id": "o1", "amount": "100", "method": "CRYPTO",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown method status = %d, want 400", resp.StatusCode)
	}

	// Method named but details missing.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/payments", map[string]any{
		"order_id": "o1", "amount": "100", "method": "CREDIT_CARD",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing card details status = %d, want 400", resp.StatusCode)
	}
}

func TestRequestIDEcho(t *testing.T) {
	srv := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	req.Header.Set(headerRequestID, "req-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get(headerRequestID); got != "req-123" {
		t.Fatalf("echoed request id = %q", got)
	}

	// A missing header gets a generated id.
	resp2, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.Header.Get(headerRequestID) == "" {
		t.Fatal("no request id generated")
	}
}
