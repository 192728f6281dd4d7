package service

import (
	"context"
	"log/slog"

	"github.com/minhngt/canteen-core/internal/port"
)

// SnapshotService serves read-only balance and availability snapshots for
// display, cache-aside through the snapshot cache when one is attached.
// These values must never gate correctness; that happens only inside the
// coordinator's unit of work.
type SnapshotService struct {
	ledger port.LedgerRepository
	cache  port.SnapshotCache // nil-safe: reads fall through to the ledger
}

func NewSnapshotService(ledger port.LedgerRepository, cache port.SnapshotCache) *SnapshotService {
	return &SnapshotService{ledger: ledger, cache: cache}
}

// GetBalance returns the account balance in cents.
func (s *SnapshotService) GetBalance(ctx context.Context, accountID string) (int64, error) {
	if s.cache != nil {
		if balance, ok, err := s.cache.GetBalance(ctx, accountID); err == nil && ok {
			return balance, nil
		} else if err != nil {
			slog.WarnContext(ctx, "snapshot cache read failed", "account_id", accountID, "error", err)
		}
	}

	account, err := s.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if s.cache != nil {
		if err := s.cache.SetBalance(ctx, accountID, account.Balance); err != nil {
			slog.WarnContext(ctx, "snapshot cache fill failed", "account_id", accountID, "error", err)
		}
	}
	return account.Balance, nil
}

// GetAvailability returns a stock item's available quantity.
func (s *SnapshotService) GetAvailability(ctx context.Context, stockItemID string) (int, error) {
	if s.cache != nil {
		if available, ok, err := s.cache.GetAvailability(ctx, stockItemID); err == nil && ok {
			return available, nil
		} else if err != nil {
			slog.WarnContext(ctx, "snapshot cache read failed", "stock_item_id", stockItemID, "error", err)
		}
	}

	stock, err := s.ledger.GetStockItem(ctx, stockItemID)
	if err != nil {
		return 0, err
	}
	if s.cache != nil {
		if err := s.cache.SetAvailability(ctx, stockItemID, stock.AvailableQuantity); err != nil {
			slog.WarnContext(ctx, "snapshot cache fill failed", "stock_item_id", stockItemID, "error", err)
		}
	}
	return stock.AvailableQuantity, nil
}
