package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending OrderStatus = "PENDING"
	OrderStatusServed  OrderStatus = "SERVED"
	OrderStatusFailed  OrderStatus = "FAILED"
)

// OrderRecord is an append-only record of an accepted order. All fields are
// immutable after creation except Status, which may move PENDING->SERVED (set
// by the fulfillment collaborator) or PENDING->FAILED (set only by the
// coordinator's own abort path).
type OrderRecord struct {
	ID             string
	AccountID      string
	StockItemID    string
	Quantity       int
	UnitPrice      int64 // price snapshot at acceptance, cents
	TotalPrice     int64 // UnitPrice * Quantity, frozen at acceptance
	Status         OrderStatus
	IdempotencyKey string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CanTransition reports whether an order status change is legal.
func CanTransition(from, to OrderStatus) bool {
	if from != OrderStatusPending {
		return false
	}
	return to == OrderStatusServed || to == OrderStatusFailed
}

// Order lifecycle event types published for external collaborators
// (fulfillment, reporting). Delivery is best effort and never gates
// ledger correctness.
const (
	EventOrderPlaced = "order.placed"
	EventOrderServed = "order.served"
	EventOrderFailed = "order.failed"
)

type OrderEvent struct {
	Type       string      `json:"type"`
	Order      OrderRecord `json:"order"`
	OccurredAt time.Time   `json:"occurred_at"`
}
