package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/minhngt/canteen-core/internal/core/domain"
	"github.com/minhngt/canteen-core/internal/core/service"
)

type HTTPHandler struct {
	orders    *service.OrderService
	rollover  *service.RolloverService
	snapshots *service.SnapshotService
}

func NewHTTPHandler(orders *service.OrderService, rollover *service.RolloverService, snapshots *service.SnapshotService) *HTTPHandler {
	return &HTTPHandler{orders: orders, rollover: rollover, snapshots: snapshots}
}

type placeOrderRequest struct {
	AccountID      string `json:"account_id"`
	StockItemID    string `json:"stock_item_id"`
	Quantity       int    `json:"quantity"`
	IdempotencyKey string `json:"idempotency_key"`
}

type orderResponse struct {
	ID             string `json:"id"`
	AccountID      string `json:"account_id"`
	StockItemID    string `json:"stock_item_id"`
	Quantity       int    `json:"quantity"`
	UnitPrice      int64  `json:"unit_price"`
	TotalPrice     int64  `json:"total_price"`
	Status         string `json:"status"`
	IdempotencyKey string `json:"idempotency_key"`
	CreatedAt      string `json:"created_at"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type rolloverRequest struct {
	Date string `json:"date"`
}

type rolloverResponse struct {
	Date    string `json:"date"`
	Created int    `json:"created"`
}

func (h *HTTPHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if req.AccountID == "" || req.StockItemID == "" || req.Quantity <= 0 || req.IdempotencyKey == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing required fields")
		return
	}

	record, err := h.orders.PlaceOrder(r.Context(), req.AccountID, req.StockItemID, req.Quantity, req.IdempotencyKey)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(record))
}

func (h *HTTPHandler) MarkServed(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	record, err := h.orders.MarkServed(r.Context(), orderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(record))
}

func (h *HTTPHandler) ListAccountOrders(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	records, err := h.orders.ListOrdersByAccount(r.Context(), accountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponses(records))
}

func (h *HTTPHandler) ListOrdersByStatus(w http.ResponseWriter, r *http.Request) {
	status := domain.OrderStatus(r.URL.Query().Get("status"))
	switch status {
	case domain.OrderStatusPending, domain.OrderStatusServed, domain.OrderStatusFailed:
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "unknown status")
		return
	}
	records, err := h.orders.ListOrdersByStatus(r.Context(), status)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponses(records))
}

func (h *HTTPHandler) RunRollover(w http.ResponseWriter, r *http.Request) {
	var req rolloverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	created, err := h.rollover.RunDailyRollover(r.Context(), req.Date)
	if err != nil {
		if errors.Is(err, domain.ErrStoreUnavailable) {
			writeDomainError(w, err)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rolloverResponse{Date: req.Date, Created: created})
}

func (h *HTTPHandler) ListStock(w http.ResponseWriter, r *http.Request) {
	items, err := h.rollover.ListStockByDate(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *HTTPHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	balance, err := h.snapshots.GetBalance(r.Context(), accountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account_id": accountID, "balance": balance})
}

func (h *HTTPHandler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	stockItemID := chi.URLParam(r, "id")
	available, err := h.snapshots.GetAvailability(r.Context(), stockItemID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stock_item_id": stockItemID, "available_quantity": available})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "referenced entity does not exist")
	case errors.Is(err, domain.ErrOutOfStock):
		writeError(w, http.StatusConflict, "out_of_stock", "not enough stock available")
	case errors.Is(err, domain.ErrInsufficientFunds):
		writeError(w, http.StatusConflict, "insufficient_funds", "balance does not cover the total price")
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", "order is not in a state that allows this change")
	case errors.Is(err, domain.ErrContention):
		writeError(w, http.StatusTooManyRequests, "contention", "conflicting concurrent access, retry later")
	case errors.Is(err, domain.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "persistence backend unreachable")
	default:
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func toOrderResponse(rec *domain.OrderRecord) orderResponse {
	return orderResponse{
		ID:             rec.ID,
		AccountID:      rec.AccountID,
		StockItemID:    rec.StockItemID,
		Quantity:       rec.Quantity,
		UnitPrice:      rec.UnitPrice,
		TotalPrice:     rec.TotalPrice,
		Status:         string(rec.Status),
		IdempotencyKey: rec.IdempotencyKey,
		CreatedAt:      rec.CreatedAt.Format(time.RFC3339Nano),
	}
}

func toOrderResponses(records []domain.OrderRecord) []orderResponse {
	out := make([]orderResponse, 0, len(records))
	for i := range records {
		out = append(out, toOrderResponse(&records[i]))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}
