package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/minhngt/canteen-core/internal/core/domain"
	"github.com/minhngt/canteen-core/internal/port"
)

// RolloverService is the daily inventory lifecycle manager. One tick per
// calendar boundary, invoked by an external scheduler with an explicit date.
type RolloverService struct {
	ledger port.LedgerRepository
}

func NewRolloverService(ledger port.LedgerRepository) *RolloverService {
	return &RolloverService{ledger: ledger}
}

// RunDailyRollover archives stock frozen on earlier days, freezes the prior
// days' active stock, and materializes one stock item per active catalog
// entry for the given date. Returns the number of stock items created.
//
// Idempotent: the (catalog_item_id, date) uniqueness constraint means a
// re-run fills only missing pairs, so a crash mid-materialization is resolved
// by simply running the tick again.
func (s *RolloverService) RunDailyRollover(ctx context.Context, date string) (int, error) {
	day, err := domain.ParseDate(date)
	if err != nil {
		return 0, err
	}

	// Stock frozen on a previous boundary graduates to audit-only.
	archived, err := s.ledger.ArchiveStockBefore(ctx, day)
	if err != nil {
		return 0, fmt.Errorf("archive stock: %w", err)
	}

	// Freeze blocks new acceptance only; units of work already in flight
	// complete normally.
	frozen, err := s.ledger.FreezeStockBefore(ctx, day)
	if err != nil {
		return 0, fmt.Errorf("freeze stock: %w", err)
	}

	items, err := s.ledger.ListActiveCatalogItems(ctx)
	if err != nil {
		return 0, fmt.Errorf("list catalog: %w", err)
	}

	created := 0
	now := time.Now().UTC()
	for _, item := range items {
		stock := &domain.StockItem{
			ID:                uuid.NewString(),
			CatalogItemID:     item.ID,
			Date:              day,
			UnitPrice:         item.UnitPrice,
			InitialQuantity:   item.DailyQuantity,
			AvailableQuantity: item.DailyQuantity,
			SoldQuantity:      0,
			State:             domain.StockStateActive,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		ok, err := s.ledger.CreateStockItem(ctx, stock)
		if err != nil {
			return created, fmt.Errorf("materialize stock for %s: %w", item.ID, err)
		}
		if ok {
			created++
		}
	}

	slog.InfoContext(ctx, "daily rollover complete",
		"date", day, "created", created, "frozen", frozen, "archived", archived)
	return created, nil
}

// ListStockByDate returns the day's non-archived stock for display.
func (s *RolloverService) ListStockByDate(ctx context.Context, date string) ([]domain.StockItem, error) {
	day, err := domain.ParseDate(date)
	if err != nil {
		return nil, err
	}
	return s.ledger.ListStockByDate(ctx, day)
}
