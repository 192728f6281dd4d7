package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/minhngt/canteen-core/internal/adapter/storage"
	"github.com/minhngt/canteen-core/internal/core/domain"
)

// End-to-end runs of the coordinator against the durable store, exercising
// the optimistic conditional-write path instead of the in-memory row locks.

func newSQLiteLedger(t *testing.T) *storage.SQLiteAdapter {
	t.Helper()
	ledger, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { ledger.Close() })
	return ledger
}

func seedSQLite(t *testing.T, ledger *storage.SQLiteAdapter, accounts int, balance int64, available int, unitPrice int64) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < accounts; i++ {
		if err := ledger.CreateAccount(ctx, &domain.Account{
			ID: fmt.Sprintf("acct-%d", i), Balance: balance, CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			t.Fatalf("seed account %d: %v", i, err)
		}
	}
	ok, err := ledger.CreateStockItem(ctx, &domain.StockItem{
		ID: "stock-1", CatalogItemID: "item-1", Date: testDate,
		UnitPrice: unitPrice, InitialQuantity: available, AvailableQuantity: available,
		State: domain.StockStateActive, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil || !ok {
		t.Fatalf("seed stock: ok=%v err=%v", ok, err)
	}
}

func TestPlaceOrder_SQLiteSingleFlow(t *testing.T) {
	ledger := newSQLiteLedger(t)
	seedSQLite(t, ledger, 1, 1000, 10, 60)
	svc := NewOrderService(ledger)
	ctx := context.Background()

	rec, err := svc.PlaceOrder(ctx, "acct-0", "stock-1", 2, "key-1")
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if rec.TotalPrice != 120 || rec.Status != domain.OrderStatusPending {
		t.Errorf("unexpected record: %+v", rec)
	}

	replay, err := svc.PlaceOrder(ctx, "acct-0", "stock-1", 2, "key-1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replay.ID != rec.ID {
		t.Errorf("replay created a new order: %s vs %s", replay.ID, rec.ID)
	}

	served, err := svc.MarkServed(ctx, rec.ID)
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	if served.Status != domain.OrderStatusServed {
		t.Errorf("expected SERVED, got %s", served.Status)
	}

	acc, _ := ledger.GetAccount(ctx, "acct-0")
	if acc.Balance != 880 {
		t.Errorf("expected balance 880, got %d", acc.Balance)
	}
}

// Fifty buyers race for twenty units through the durable store. Retries
// absorb the version conflicts; the invariants must hold exactly even if a
// few attempts exhaust their retry budget under extreme interleaving.
func TestPlaceOrder_SQLiteConcurrentConservation(t *testing.T) {
	const (
		workers   = 50
		available = 20
		price     = int64(350)
	)
	ledger := newSQLiteLedger(t)
	seedSQLite(t, ledger, workers, 10_000, available, price)
	svc := NewOrderService(ledger, WithMaxAttempts(25))
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.PlaceOrder(ctx,
				fmt.Sprintf("acct-%d", i), "stock-1", 1, fmt.Sprintf("key-%d", i))
		}(i)
	}
	wg.Wait()

	var accepted, outOfStock, contended int
	for _, err := range results {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, domain.ErrOutOfStock):
			outOfStock++
		case errors.Is(err, domain.ErrContention):
			contended++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if accepted > available {
		t.Fatalf("oversold: %d accepted for %d units", accepted, available)
	}
	if accepted+outOfStock+contended != workers {
		t.Fatalf("results do not add up: %d + %d + %d != %d", accepted, outOfStock, contended, workers)
	}

	stock, err := ledger.GetStockItem(ctx, "stock-1")
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	if stock.SoldQuantity != accepted {
		t.Errorf("pool sold %d but %d orders were accepted", stock.SoldQuantity, accepted)
	}
	if stock.AvailableQuantity+stock.SoldQuantity != available {
		t.Errorf("units created or destroyed: %d + %d != %d",
			stock.AvailableQuantity, stock.SoldQuantity, available)
	}

	// Every accepted order debited exactly its buyer, nobody else.
	var debited int
	for i := 0; i < workers; i++ {
		acc, err := ledger.GetAccount(ctx, fmt.Sprintf("acct-%d", i))
		if err != nil {
			t.Fatalf("get account %d: %v", i, err)
		}
		switch acc.Balance {
		case 10_000:
		case 10_000 - price:
			debited++
		default:
			t.Fatalf("account %d has impossible balance %d", i, acc.Balance)
		}
	}
	if debited != accepted {
		t.Errorf("%d accounts debited for %d accepted orders", debited, accepted)
	}

	orders, err := ledger.ListOrdersByStatus(ctx, domain.OrderStatusPending)
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(orders) != accepted {
		t.Errorf("%d records for %d accepted orders", len(orders), accepted)
	}
}

// Two buyers, one remaining unit, durable store: exactly one wins.
func TestPlaceOrder_SQLiteLastUnit(t *testing.T) {
	ledger := newSQLiteLedger(t)
	seedSQLite(t, ledger, 2, 1000, 1, 60)
	svc := NewOrderService(ledger, WithMaxAttempts(25))
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.PlaceOrder(ctx,
				fmt.Sprintf("acct-%d", i), "stock-1", 1, fmt.Sprintf("key-%d", i))
		}(i)
	}
	wg.Wait()

	var wins, losses int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, domain.ErrOutOfStock):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || losses != 1 {
		t.Fatalf("expected exactly one winner, got %d wins %d losses", wins, losses)
	}

	stock, _ := ledger.GetStockItem(ctx, "stock-1")
	if stock.AvailableQuantity != 0 || stock.SoldQuantity != 1 {
		t.Errorf("pool inconsistent: available %d sold %d", stock.AvailableQuantity, stock.SoldQuantity)
	}
}
