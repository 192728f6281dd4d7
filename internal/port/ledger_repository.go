package port

import (
	"context"

	"github.com/minhngt/canteen-core/internal/core/domain"
)

// LedgerRepository is the ledger store: durable, versioned rows for accounts
// and stock items plus the append-only order record store. All mutation of
// shared rows happens inside CommitOrder's unit of work; everything else is
// either a read or touches a single row.
type LedgerRepository interface {
	// GetAccount returns the account and its current version.
	GetAccount(ctx context.Context, id string) (*domain.Account, error)

	// GetStockItem returns the stock item and its current version.
	GetStockItem(ctx context.Context, id string) (*domain.StockItem, error)

	// GetOrder returns an order record by id.
	GetOrder(ctx context.Context, id string) (*domain.OrderRecord, error)

	// GetOrderByIdempotencyKey returns the order committed under the key, or
	// domain.ErrNotFound.
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*domain.OrderRecord, error)

	// CommitOrder atomically applies the debit, the stock decrement and the
	// PENDING order insert. accountVersion/stockVersion are the versions the
	// coordinator validated against; a stale version yields
	// domain.ErrVersionConflict, a concurrent commit of the same idempotency
	// key yields domain.ErrDuplicateIdempotencyKey, and business guards that
	// fail at commit time yield domain.ErrOutOfStock or
	// domain.ErrInsufficientFunds. Any failure leaves zero persisted mutation.
	CommitOrder(ctx context.Context, order *domain.OrderRecord, accountVersion, stockVersion int) error

	// MarkServed transitions PENDING->SERVED and returns the updated record.
	MarkServed(ctx context.Context, orderID string) (*domain.OrderRecord, error)

	// MarkFailed transitions PENDING->FAILED. Reserved for the coordinator's
	// abort path; never exposed to external callers.
	MarkFailed(ctx context.Context, orderID string) (*domain.OrderRecord, error)

	// ListOrdersByAccount returns an account's orders, newest first.
	ListOrdersByAccount(ctx context.Context, accountID string) ([]domain.OrderRecord, error)

	// ListOrdersByStatus returns orders in a given status, oldest first, for
	// the fulfillment and reporting collaborators.
	ListOrdersByStatus(ctx context.Context, status domain.OrderStatus) ([]domain.OrderRecord, error)

	// Lifecycle operations used by the daily rollover.

	// ListActiveCatalogItems returns the catalog entries eligible for
	// materialization.
	ListActiveCatalogItems(ctx context.Context) ([]domain.CatalogItem, error)

	// CreateStockItem inserts a stock row unless one already exists for
	// (catalog_item_id, date). Returns false when the pair was already
	// materialized.
	CreateStockItem(ctx context.Context, item *domain.StockItem) (bool, error)

	// FreezeStockBefore moves ACTIVE stock dated before the given day to
	// FROZEN and returns the number of rows changed.
	FreezeStockBefore(ctx context.Context, date string) (int64, error)

	// ArchiveStockBefore moves FROZEN stock dated before the given day to
	// ARCHIVED and returns the number of rows changed.
	ArchiveStockBefore(ctx context.Context, date string) (int64, error)

	// ListStockByDate returns non-archived stock for a day.
	ListStockByDate(ctx context.Context, date string) ([]domain.StockItem, error)

	// Seeding hooks. Accounts and the catalog are owned by external
	// collaborators; these exist for bootstrap and tests.
	CreateAccount(ctx context.Context, account *domain.Account) error
	CreateCatalogItem(ctx context.Context, item *domain.CatalogItem) error
}
