// Contention harness: hammers PlaceOrder with concurrent requesters against
// a scarce stock pool and checks the no-oversell and no-overdraft guarantees
// end to end.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/minhngt/canteen-core/internal/adapter/storage"
	"github.com/minhngt/canteen-core/internal/core/domain"
	"github.com/minhngt/canteen-core/internal/core/service"
)

const (
	date           = "2026-08-29"
	initialStock   = 20
	totalRequests  = 50
	accountBalance = 10_000 // plenty; this run stresses stock, not funds
	unitPrice      = 350
)

func main() {
	ctx := context.Background()

	dbPath := fmt.Sprintf("%s/canteen-stress-%d.db", os.TempDir(), time.Now().UnixNano())
	ledger, err := storage.OpenSQLite(dbPath)
	if err != nil {
		log.Fatalf("open sqlite: %v", err)
	}
	defer func() {
		ledger.Close()
		os.Remove(dbPath)
	}()

	// Seed one stock pool and one requester account per goroutine.
	now := time.Now().UTC()
	stock := &domain.StockItem{
		ID:                "stress-stock",
		CatalogItemID:     "stress-item",
		Date:              date,
		UnitPrice:         unitPrice,
		InitialQuantity:   initialStock,
		AvailableQuantity: initialStock,
		State:             domain.StockStateActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if _, err := ledger.CreateStockItem(ctx, stock); err != nil {
		log.Fatalf("seed stock: %v", err)
	}
	for i := 0; i < totalRequests; i++ {
		acc := &domain.Account{
			ID:        fmt.Sprintf("stress-acct-%d", i),
			Balance:   accountBalance,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := ledger.CreateAccount(ctx, acc); err != nil {
			log.Fatalf("seed account: %v", err)
		}
	}

	svc := service.NewOrderService(ledger, service.WithMaxAttempts(25))

	var successCount, outOfStockCount, otherCount atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := svc.PlaceOrder(ctx, fmt.Sprintf("stress-acct-%d", n), "stress-stock", 1, uuid.NewString())
			switch err {
			case nil:
				successCount.Add(1)
			case domain.ErrOutOfStock:
				outOfStockCount.Add(1)
			default:
				otherCount.Add(1)
				log.Printf("requester %d: %v", n, err)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()
	outOfStock := outOfStockCount.Load()
	other := otherCount.Load()

	fmt.Println("========== CONTENTION RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Out of Stock:     %d\n", outOfStock)
	fmt.Printf("Other Failures:   %d\n", other)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("========================================")

	if success == initialStock && outOfStock == totalRequests-initialStock {
		fmt.Printf("PASS: exactly %d orders succeeded, %d rejected\n", initialStock, outOfStock)
	} else {
		fmt.Printf("FAIL: expected %d success/%d out-of-stock, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, outOfStock)
	}

	final, err := ledger.GetStockItem(ctx, "stress-stock")
	if err != nil {
		log.Fatalf("read final stock: %v", err)
	}
	fmt.Printf("Final Stock: available=%d sold=%d\n", final.AvailableQuantity, final.SoldQuantity)

	switch {
	case final.AvailableQuantity != 0:
		fmt.Printf("FAIL: expected available 0, got %d\n", final.AvailableQuantity)
	case final.AvailableQuantity+final.SoldQuantity != final.InitialQuantity:
		fmt.Println("FAIL: stock conservation violated")
	default:
		fmt.Println("PASS: stock depleted with conservation intact")
	}
}
