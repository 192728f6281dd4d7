package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/minhngt/canteen-core/internal/adapter/storage"
	"github.com/minhngt/canteen-core/internal/core/domain"
	"github.com/minhngt/canteen-core/internal/core/service"
)

func newTestServer(t *testing.T) (http.Handler, *storage.MemoryAdapter) {
	t.Helper()
	ledger := storage.NewMemoryAdapter()
	h := NewHTTPHandler(
		service.NewOrderService(ledger),
		service.NewRolloverService(ledger),
		service.NewSnapshotService(ledger, nil),
	)
	return NewRouter(h), ledger
}

func seedCanteen(t *testing.T, ledger *storage.MemoryAdapter, balance int64, available int, unitPrice int64) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := ledger.CreateAccount(ctx, &domain.Account{
		ID: "acct-1", Balance: balance, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	ok, err := ledger.CreateStockItem(ctx, &domain.StockItem{
		ID: "stock-1", CatalogItemID: "item-1", Date: "2026-08-29",
		UnitPrice: unitPrice, InitialQuantity: available, AvailableQuantity: available,
		State: domain.StockStateActive, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil || !ok {
		t.Fatalf("seed stock: ok=%v err=%v", ok, err)
	}
}

func doJSON(t *testing.T, srv http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

func TestPlaceOrderEndpoint(t *testing.T) {
	srv, ledger := newTestServer(t)
	seedCanteen(t, ledger, 1000, 10, 60)

	rr := doJSON(t, srv, http.MethodPost, "/api/orders", placeOrderRequest{
		AccountID: "acct-1", StockItemID: "stock-1", Quantity: 2, IdempotencyKey: "key-1",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	resp := decodeBody[orderResponse](t, rr)
	if resp.TotalPrice != 120 || resp.Status != string(domain.OrderStatusPending) {
		t.Errorf("unexpected response: %+v", resp)
	}

	// Same key replays the same order without a second charge.
	rr = doJSON(t, srv, http.MethodPost, "/api/orders", placeOrderRequest{
		AccountID: "acct-1", StockItemID: "stock-1", Quantity: 2, IdempotencyKey: "key-1",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("replay: expected 201, got %d", rr.Code)
	}
	replay := decodeBody[orderResponse](t, rr)
	if replay.ID != resp.ID {
		t.Errorf("replay returned a different order: %s vs %s", replay.ID, resp.ID)
	}
	acc, _ := ledger.GetAccount(context.Background(), "acct-1")
	if acc.Balance != 880 {
		t.Errorf("replay charged again: balance %d", acc.Balance)
	}
}

func TestPlaceOrderEndpoint_Validation(t *testing.T) {
	srv, _ := newTestServer(t)

	cases := []placeOrderRequest{
		{StockItemID: "stock-1", Quantity: 1, IdempotencyKey: "k"},
		{AccountID: "acct-1", Quantity: 1, IdempotencyKey: "k"},
		{AccountID: "acct-1", StockItemID: "stock-1", IdempotencyKey: "k"},
		{AccountID: "acct-1", StockItemID: "stock-1", Quantity: -1, IdempotencyKey: "k"},
		{AccountID: "acct-1", StockItemID: "stock-1", Quantity: 1},
	}
	for i, req := range cases {
		rr := doJSON(t, srv, http.MethodPost, "/api/orders", req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("case %d: expected 400, got %d", i, rr.Code)
		}
	}

	raw := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewBufferString("{not json"))
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, raw)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("malformed json: expected 400, got %d", rr.Code)
	}
}

func TestPlaceOrderEndpoint_ErrorMapping(t *testing.T) {
	srv, ledger := newTestServer(t)
	seedCanteen(t, ledger, 50, 1, 60)

	// Balance 50 cannot cover one unit at 60.
	rr := doJSON(t, srv, http.MethodPost, "/api/orders", placeOrderRequest{
		AccountID: "acct-1", StockItemID: "stock-1", Quantity: 1, IdempotencyKey: "key-1",
	})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if resp := decodeBody[errorResponse](t, rr); resp.Code != "insufficient_funds" {
		t.Errorf("expected insufficient_funds, got %s", resp.Code)
	}

	rr = doJSON(t, srv, http.MethodPost, "/api/orders", placeOrderRequest{
		AccountID: "acct-1", StockItemID: "stock-1", Quantity: 5, IdempotencyKey: "key-2",
	})
	if resp := decodeBody[errorResponse](t, rr); rr.Code != http.StatusConflict || resp.Code != "out_of_stock" {
		t.Errorf("expected 409 out_of_stock, got %d %s", rr.Code, resp.Code)
	}

	rr = doJSON(t, srv, http.MethodPost, "/api/orders", placeOrderRequest{
		AccountID: "ghost", StockItemID: "stock-1", Quantity: 1, IdempotencyKey: "key-3",
	})
	if resp := decodeBody[errorResponse](t, rr); rr.Code != http.StatusNotFound || resp.Code != "not_found" {
		t.Errorf("expected 404 not_found, got %d %s", rr.Code, resp.Code)
	}
}

func TestServeOrderEndpoint(t *testing.T) {
	srv, ledger := newTestServer(t)
	seedCanteen(t, ledger, 1000, 10, 60)

	rr := doJSON(t, srv, http.MethodPost, "/api/orders", placeOrderRequest{
		AccountID: "acct-1", StockItemID: "stock-1", Quantity: 1, IdempotencyKey: "key-1",
	})
	placed := decodeBody[orderResponse](t, rr)

	rr = doJSON(t, srv, http.MethodPost, "/api/orders/"+placed.ID+"/serve", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("serve: expected 200, got %d", rr.Code)
	}
	if resp := decodeBody[orderResponse](t, rr); resp.Status != string(domain.OrderStatusServed) {
		t.Errorf("expected SERVED, got %s", resp.Status)
	}

	rr = doJSON(t, srv, http.MethodPost, "/api/orders/"+placed.ID+"/serve", nil)
	if resp := decodeBody[errorResponse](t, rr); rr.Code != http.StatusConflict || resp.Code != "invalid_transition" {
		t.Errorf("double serve: expected 409 invalid_transition, got %d %s", rr.Code, resp.Code)
	}

	rr = doJSON(t, srv, http.MethodPost, "/api/orders/missing/serve", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing order: expected 404, got %d", rr.Code)
	}
}

func TestListOrderEndpoints(t *testing.T) {
	srv, ledger := newTestServer(t)
	seedCanteen(t, ledger, 10_000, 100, 10)

	var firstID string
	for i := 0; i < 3; i++ {
		rr := doJSON(t, srv, http.MethodPost, "/api/orders", placeOrderRequest{
			AccountID: "acct-1", StockItemID: "stock-1", Quantity: 1,
			IdempotencyKey: fmt.Sprintf("key-%d", i),
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("place %d: %d", i, rr.Code)
		}
		if i == 0 {
			firstID = decodeBody[orderResponse](t, rr).ID
		}
	}
	doJSON(t, srv, http.MethodPost, "/api/orders/"+firstID+"/serve", nil)

	rr := doJSON(t, srv, http.MethodGet, "/api/accounts/acct-1/orders", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list by account: %d", rr.Code)
	}
	if orders := decodeBody[[]orderResponse](t, rr); len(orders) != 3 {
		t.Errorf("expected 3 orders, got %d", len(orders))
	}

	rr = doJSON(t, srv, http.MethodGet, "/api/orders?status=PENDING", nil)
	if orders := decodeBody[[]orderResponse](t, rr); len(orders) != 2 {
		t.Errorf("expected 2 pending, got %d", len(orders))
	}

	rr = doJSON(t, srv, http.MethodGet, "/api/orders?status=BOGUS", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bogus status: expected 400, got %d", rr.Code)
	}
}

func TestRolloverEndpoint(t *testing.T) {
	srv, ledger := newTestServer(t)
	ctx := context.Background()
	if err := ledger.CreateCatalogItem(ctx, &domain.CatalogItem{
		ID: "item-1", Name: "Pho", UnitPrice: 350, DailyQuantity: 40, Active: true,
	}); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}

	rr := doJSON(t, srv, http.MethodPost, "/api/rollover", rolloverRequest{Date: "2026-08-29"})
	if rr.Code != http.StatusOK {
		t.Fatalf("rollover: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if resp := decodeBody[rolloverResponse](t, rr); resp.Created != 1 {
		t.Errorf("expected 1 created, got %d", resp.Created)
	}

	rr = doJSON(t, srv, http.MethodGet, "/api/stock?date=2026-08-29", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list stock: %d", rr.Code)
	}
	if items := decodeBody[[]domain.StockItem](t, rr); len(items) != 1 || items[0].AvailableQuantity != 40 {
		t.Errorf("unexpected stock list: %+v", items)
	}

	rr = doJSON(t, srv, http.MethodPost, "/api/rollover", rolloverRequest{Date: "29-08-2026"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad date: expected 400, got %d", rr.Code)
	}
}

func TestSnapshotEndpoints(t *testing.T) {
	srv, ledger := newTestServer(t)
	seedCanteen(t, ledger, 740, 12, 60)

	rr := doJSON(t, srv, http.MethodGet, "/api/accounts/acct-1/balance", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("balance: %d", rr.Code)
	}
	if body := decodeBody[map[string]any](t, rr); body["balance"].(float64) != 740 {
		t.Errorf("unexpected balance body: %v", body)
	}

	rr = doJSON(t, srv, http.MethodGet, "/api/stock/stock-1", nil)
	if body := decodeBody[map[string]any](t, rr); body["available_quantity"].(float64) != 12 {
		t.Errorf("unexpected availability body: %v", body)
	}

	rr = doJSON(t, srv, http.MethodGet, "/api/accounts/ghost/balance", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown account: expected 404, got %d", rr.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	rr := doJSON(t, srv, http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}
