package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/minhngt/canteen-core/internal/core/domain"
	"github.com/minhngt/canteen-core/internal/port"
)

const (
	defaultMaxAttempts = 5
	defaultUnitTimeout = 3 * time.Second
	baseBackoff        = 5 * time.Millisecond
	maxBackoff         = 100 * time.Millisecond
)

// OrderService is the order transaction coordinator. It holds no cross-call
// state; all coordination lives in the ledger store, so any number of
// instances may run against the same store.
type OrderService struct {
	ledger      port.LedgerRepository
	cache       port.SnapshotCache  // nil-safe: snapshot refresh skipped if nil
	events      port.EventPublisher // nil-safe: events skipped if nil
	maxAttempts int
	unitTimeout time.Duration
}

type OrderServiceOption func(*OrderService)

// WithMaxAttempts overrides the conflict retry budget.
func WithMaxAttempts(n int) OrderServiceOption {
	return func(s *OrderService) { s.maxAttempts = n }
}

// WithUnitTimeout overrides the per-unit-of-work deadline.
func WithUnitTimeout(d time.Duration) OrderServiceOption {
	return func(s *OrderService) { s.unitTimeout = d }
}

// WithSnapshotCache attaches a best-effort display cache refreshed after
// successful commits.
func WithSnapshotCache(c port.SnapshotCache) OrderServiceOption {
	return func(s *OrderService) { s.cache = c }
}

// WithEventPublisher attaches a best-effort lifecycle event publisher.
func WithEventPublisher(p port.EventPublisher) OrderServiceOption {
	return func(s *OrderService) { s.events = p }
}

func NewOrderService(ledger port.LedgerRepository, opts ...OrderServiceOption) *OrderService {
	s := &OrderService{
		ledger:      ledger,
		maxAttempts: defaultMaxAttempts,
		unitTimeout: defaultUnitTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PlaceOrder runs the order placement protocol as one atomic unit: validate
// stock, freeze the price, validate funds, then debit the account, decrement
// the stock and create the PENDING record in a single unit of work. Version
// conflicts are retried with randomized backoff up to the attempt budget;
// business rejections abort with zero side effects. Repeating a used
// idempotency key returns the original record without re-debiting.
func (s *OrderService) PlaceOrder(ctx context.Context, accountID, stockItemID string, quantity int, idempotencyKey string) (*domain.OrderRecord, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %d", quantity)
	}
	if idempotencyKey == "" {
		return nil, fmt.Errorf("idempotency key is required")
	}

	// Safe retry: a key that already committed returns the original record.
	existing, err := s.ledger.GetOrderByIdempotencyKey(ctx, idempotencyKey)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		record, err := s.attemptPlaceOrder(ctx, accountID, stockItemID, quantity, idempotencyKey)
		switch {
		case err == nil:
			s.afterCommit(ctx, record)
			return record, nil
		case errors.Is(err, domain.ErrDuplicateIdempotencyKey):
			// Lost the race to a concurrent retry with the same key.
			return s.ledger.GetOrderByIdempotencyKey(ctx, idempotencyKey)
		case errors.Is(err, domain.ErrVersionConflict), errors.Is(err, context.DeadlineExceeded):
			if sleepErr := sleepBackoff(ctx, attempt); sleepErr != nil {
				return nil, domain.ErrContention
			}
		default:
			return nil, err
		}
	}
	return nil, domain.ErrContention
}

// attemptPlaceOrder is one bounded unit of work. Every exit except success
// leaves zero persisted mutation.
func (s *OrderService) attemptPlaceOrder(ctx context.Context, accountID, stockItemID string, quantity int, idempotencyKey string) (*domain.OrderRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.unitTimeout)
	defer cancel()

	stock, err := s.ledger.GetStockItem(ctx, stockItemID)
	if err != nil {
		return nil, fmt.Errorf("read stock item: %w", err)
	}
	// Freeze blocks only new acceptance; in-flight units finish normally.
	if stock.State != domain.StockStateActive {
		return nil, domain.ErrOutOfStock
	}
	if stock.AvailableQuantity < quantity {
		return nil, domain.ErrOutOfStock
	}

	totalPrice := stock.UnitPrice * int64(quantity)

	account, err := s.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("read account: %w", err)
	}
	if account.Balance < totalPrice {
		return nil, domain.ErrInsufficientFunds
	}

	now := time.Now().UTC()
	record := &domain.OrderRecord{
		ID:             uuid.NewString(),
		AccountID:      accountID,
		StockItemID:    stockItemID,
		Quantity:       quantity,
		UnitPrice:      stock.UnitPrice,
		TotalPrice:     totalPrice,
		Status:         domain.OrderStatusPending,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.ledger.CommitOrder(ctx, record, account.Version, stock.Version); err != nil {
		return nil, err
	}
	return record, nil
}

// MarkServed transitions an order PENDING->SERVED on behalf of the
// fulfillment collaborator.
func (s *OrderService) MarkServed(ctx context.Context, orderID string) (*domain.OrderRecord, error) {
	record, err := s.ledger.MarkServed(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, domain.EventOrderServed, record)
	return record, nil
}

// MarkFailed transitions an order PENDING->FAILED. Not exposed over HTTP;
// used by the coordinator's abort path and operational tooling.
func (s *OrderService) MarkFailed(ctx context.Context, orderID string) (*domain.OrderRecord, error) {
	record, err := s.ledger.MarkFailed(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, domain.EventOrderFailed, record)
	return record, nil
}

// ListOrdersByAccount returns an account's orders, newest first.
func (s *OrderService) ListOrdersByAccount(ctx context.Context, accountID string) ([]domain.OrderRecord, error) {
	return s.ledger.ListOrdersByAccount(ctx, accountID)
}

// ListOrdersByStatus returns orders in a given status for fulfillment and
// reporting collaborators.
func (s *OrderService) ListOrdersByStatus(ctx context.Context, status domain.OrderStatus) ([]domain.OrderRecord, error) {
	return s.ledger.ListOrdersByStatus(ctx, status)
}

// afterCommit refreshes display snapshots and emits the placement event.
// Both are best effort; the order already committed.
func (s *OrderService) afterCommit(ctx context.Context, record *domain.OrderRecord) {
	if s.cache != nil {
		if acc, err := s.ledger.GetAccount(ctx, record.AccountID); err == nil {
			if err := s.cache.SetBalance(ctx, acc.ID, acc.Balance); err != nil {
				slog.WarnContext(ctx, "snapshot cache refresh failed", "account_id", acc.ID, "error", err)
			}
		}
		if stock, err := s.ledger.GetStockItem(ctx, record.StockItemID); err == nil {
			if err := s.cache.SetAvailability(ctx, stock.ID, stock.AvailableQuantity); err != nil {
				slog.WarnContext(ctx, "snapshot cache refresh failed", "stock_item_id", stock.ID, "error", err)
			}
		}
	}
	s.publish(ctx, domain.EventOrderPlaced, record)
}

func (s *OrderService) publish(ctx context.Context, eventType string, record *domain.OrderRecord) {
	if s.events == nil {
		return
	}
	evt := domain.OrderEvent{
		Type:       eventType,
		Order:      *record,
		OccurredAt: time.Now().UTC(),
	}
	if err := s.events.PublishOrderEvent(ctx, evt); err != nil {
		slog.WarnContext(ctx, "order event publish failed", "type", eventType, "order_id", record.ID, "error", err)
	}
}

// sleepBackoff waits an exponentially growing, jittered interval before the
// next attempt, aborting early if the caller's context ends.
func sleepBackoff(ctx context.Context, attempt int) error {
	d := baseBackoff << attempt
	if d > maxBackoff {
		d = maxBackoff
	}
	d += rand.N(d) // full jitter on top of the base interval

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
