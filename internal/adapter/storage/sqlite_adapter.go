// SQLite-backed ledger store using the pure-Go modernc.org/sqlite driver, so
// the service builds without CGO. WAL mode keeps snapshot reads from blocking
// the single writer connection.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/minhngt/canteen-core/internal/core/domain"
)

// sqliteSchema is the DDL applied once on Open. The CHECK constraints are a
// second line of defense; the commit guards enforce the invariants first.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS accounts (
    id         TEXT PRIMARY KEY,
    balance    INTEGER NOT NULL CHECK (balance >= 0),
    version    INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS catalog_items (
    id             TEXT PRIMARY KEY,
    name           TEXT NOT NULL,
    unit_price     INTEGER NOT NULL,
    daily_quantity INTEGER NOT NULL,
    active         INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS stock_items (
    id                 TEXT PRIMARY KEY,
    catalog_item_id    TEXT NOT NULL,
    date               TEXT NOT NULL,
    unit_price         INTEGER NOT NULL,
    initial_quantity   INTEGER NOT NULL,
    available_quantity INTEGER NOT NULL CHECK (available_quantity >= 0),
    sold_quantity      INTEGER NOT NULL DEFAULT 0,
    state              TEXT NOT NULL DEFAULT 'ACTIVE',
    version            INTEGER NOT NULL DEFAULT 0,
    created_at         TEXT NOT NULL,
    updated_at         TEXT NOT NULL,
    UNIQUE (catalog_item_id, date)
);

CREATE TABLE IF NOT EXISTS order_records (
    id              TEXT PRIMARY KEY,
    account_id      TEXT NOT NULL,
    stock_item_id   TEXT NOT NULL,
    quantity        INTEGER NOT NULL,
    unit_price      INTEGER NOT NULL,
    total_price     INTEGER NOT NULL,
    status          TEXT NOT NULL,
    idempotency_key TEXT NOT NULL UNIQUE,
    created_at      TEXT NOT NULL,
    updated_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_account ON order_records(account_id, created_at);
CREATE INDEX IF NOT EXISTS idx_orders_status  ON order_records(status, created_at);
CREATE INDEX IF NOT EXISTS idx_stock_date     ON stock_items(date, state);
`

type SQLiteAdapter struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the ledger database at path and applies the
// schema. busy_timeout makes concurrent units of work wait for the writer
// instead of failing immediately.
func OpenSQLite(path string) (*SQLiteAdapter, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	// SQLite allows one writer at a time; a single connection avoids
	// SQLITE_BUSY between our own units of work.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &SQLiteAdapter{db: db}, nil
}

func (a *SQLiteAdapter) Close() error {
	return a.db.Close()
}

func (a *SQLiteAdapter) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	var acc domain.Account
	var createdAt, updatedAt string
	err := a.db.QueryRowContext(ctx, `
		SELECT id, balance, version, created_at, updated_at
		FROM accounts WHERE id = ?`, id,
	).Scan(&acc.ID, &acc.Balance, &acc.Version, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}
	acc.CreatedAt = parseStoredTime(createdAt)
	acc.UpdatedAt = parseStoredTime(updatedAt)
	return &acc, nil
}

func (a *SQLiteAdapter) GetStockItem(ctx context.Context, id string) (*domain.StockItem, error) {
	return scanStockItem(a.db.QueryRowContext(ctx, `
		SELECT id, catalog_item_id, date, unit_price, initial_quantity,
		       available_quantity, sold_quantity, state, version, created_at, updated_at
		FROM stock_items WHERE id = ?`, id))
}

func (a *SQLiteAdapter) GetOrder(ctx context.Context, id string) (*domain.OrderRecord, error) {
	return scanOrder(a.db.QueryRowContext(ctx, orderSelect+` WHERE id = ?`, id))
}

func (a *SQLiteAdapter) GetOrderByIdempotencyKey(ctx context.Context, key string) (*domain.OrderRecord, error) {
	return scanOrder(a.db.QueryRowContext(ctx, orderSelect+` WHERE idempotency_key = ?`, key))
}

// CommitOrder applies the debit, the decrement and the order insert in one
// transaction. Both updates carry the expected version and the business guard
// in the WHERE clause; a missed update is classified in-transaction so
// business rejections abort immediately while stale versions retry.
func (a *SQLiteAdapter) CommitOrder(ctx context.Context, order *domain.OrderRecord, accountVersion, stockVersion int) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := formatStoredTime(time.Now().UTC())

	res, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = balance - ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ? AND balance >= ?`,
		order.TotalPrice, now, order.AccountID, accountVersion, order.TotalPrice,
	)
	if err != nil {
		return fmt.Errorf("debit account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return classifyAccountMiss(ctx, tx, order.AccountID, order.TotalPrice)
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE stock_items
		SET available_quantity = available_quantity - ?, sold_quantity = sold_quantity + ?,
		    version = version + 1, updated_at = ?
		WHERE id = ? AND version = ? AND state = 'ACTIVE' AND available_quantity >= ?`,
		order.Quantity, order.Quantity, now, order.StockItemID, stockVersion, order.Quantity,
	)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return classifyStockMiss(ctx, tx, order.StockItemID, order.Quantity)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO order_records
			(id, account_id, stock_item_id, quantity, unit_price, total_price,
			 status, idempotency_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.AccountID, order.StockItemID, order.Quantity,
		order.UnitPrice, order.TotalPrice, order.Status, order.IdempotencyKey,
		formatStoredTime(order.CreatedAt), formatStoredTime(order.UpdatedAt),
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return domain.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("insert order: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit order: %w", err)
	}
	return nil
}

func (a *SQLiteAdapter) MarkServed(ctx context.Context, orderID string) (*domain.OrderRecord, error) {
	return a.transition(ctx, orderID, domain.OrderStatusServed)
}

func (a *SQLiteAdapter) MarkFailed(ctx context.Context, orderID string) (*domain.OrderRecord, error) {
	return a.transition(ctx, orderID, domain.OrderStatusFailed)
}

/// transition performs the only legal status changes: PENDING to SERVED or
// FAILED. The status guard in the WHERE clause makes it race-free.
func (a *SQLiteAdapter) transition(ctx context.Context, orderID string, to domain.OrderStatus) (*domain.OrderRecord, error) {
	res, err := a.db.ExecContext(ctx, `
		UPDATE order_records SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		to, formatStoredTime(time.Now().UTC()), orderID, domain.OrderStatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var status string
		err := a.db.QueryRowContext(ctx, `SELECT status FROM order_records WHERE id = ?`, orderID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("query order status: %w", err)
		}
		return nil, domain.ErrInvalidTransition
	}
	return a.GetOrder(ctx, orderID)
}

func (a *SQLiteAdapter) ListOrdersByAccount(ctx context.Context, accountID string) ([]domain.OrderRecord, error) {
	rows, err := a.db.QueryContext(ctx,
		orderSelect+` WHERE account_id = ? ORDER BY created_at DESC, id DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list orders by account: %w", err)
	}
	return collectOrders(rows)
}

func (a *SQLiteAdapter) ListOrdersByStatus(ctx context.Context, status domain.OrderStatus) ([]domain.OrderRecord, error) {
	rows, err := a.db.QueryContext(ctx,
		orderSelect+` WHERE status = ? ORDER BY created_at ASC, id ASC`, status)
	if err != nil {
		return nil, fmt.Errorf("list orders by status: %w", err)
	}
	return collectOrders(rows)
}

func (a *SQLiteAdapter) ListActiveCatalogItems(ctx context.Context) ([]domain.CatalogItem, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, name, unit_price, daily_quantity, active
		FROM catalog_items WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list catalog: %w", err)
	}
	defer rows.Close()

	var items []domain.CatalogItem
	for rows.Next() {
		var item domain.CatalogItem
		if err := rows.Scan(&item.ID, &item.Name, &item.UnitPrice, &item.DailyQuantity, &item.Active); err != nil {
			return nil, fmt.Errorf("scan catalog item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (a *SQLiteAdapter) CreateStockItem(ctx context.Context, item *domain.StockItem) (bool, error) {
	res, err := a.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO stock_items
			(id, catalog_item_id, date, unit_price, initial_quantity,
			 available_quantity, sold_quantity, state, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		item.ID, item.CatalogItemID, item.Date, item.UnitPrice, item.InitialQuantity,
		item.AvailableQuantity, item.SoldQuantity, item.State,
		formatStoredTime(item.CreatedAt), formatStoredTime(item.UpdatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert stock item: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (a *SQLiteAdapter) FreezeStockBefore(ctx context.Context, date string) (int64, error) {
	res, err := a.db.ExecContext(ctx, `
		UPDATE stock_items SET state = ?, version = version + 1, updated_at = ?
		WHERE date < ? AND state = ?`,
		domain.StockStateFrozen, formatStoredTime(time.Now().UTC()), date, domain.StockStateActive,
	)
	if err != nil {
		return 0, fmt.Errorf("freeze stock: %w", err)
	}
	return res.RowsAffected()
}

func (a *SQLiteAdapter) ArchiveStockBefore(ctx context.Context, date string) (int64, error) {
	res, err := a.db.ExecContext(ctx, `
		UPDATE stock_items SET state = ?, version = version + 1, updated_at = ?
		WHERE date < ? AND state = ?`,
		domain.StockStateArchived, formatStoredTime(time.Now().UTC()), date, domain.StockStateFrozen,
	)
	if err != nil {
		return 0, fmt.Errorf("archive stock: %w", err)
	}
	return res.RowsAffected()
}

func (a *SQLiteAdapter) ListStockByDate(ctx context.Context, date string) ([]domain.StockItem, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, catalog_item_id, date, unit_price, initial_quantity,
		       available_quantity, sold_quantity, state, version, created_at, updated_at
		FROM stock_items
		WHERE date = ? AND state != ? ORDER BY catalog_item_id`,
		date, domain.StockStateArchived)
	if err != nil {
		return nil, fmt.Errorf("list stock by date: %w", err)
	}
	defer rows.Close()

	var items []domain.StockItem
	for rows.Next() {
		item, err := scanStockItemRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func (a *SQLiteAdapter) CreateAccount(ctx context.Context, account *domain.Account) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO accounts (id, balance, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		account.ID, account.Balance, account.Version,
		formatStoredTime(account.CreatedAt), formatStoredTime(account.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (a *SQLiteAdapter) CreateCatalogItem(ctx context.Context, item *domain.CatalogItem) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO catalog_items (id, name, unit_price, daily_quantity, active)
		VALUES (?, ?, ?, ?, ?)`,
		item.ID, item.Name, item.UnitPrice, item.DailyQuantity, item.Active,
	)
	if err != nil {
		return fmt.Errorf("insert catalog item: %w", err)
	}
	return nil
}

// classifyAccountMiss decides, inside the same transaction, why the debit
// guard missed: gone, broke, or just stale.
func classifyAccountMiss(ctx context.Context, tx *sql.Tx, accountID string, totalPrice int64) error {
	var balance int64
	err := tx.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE id = ?`, accountID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("classify account miss: %w", err)
	}
	if balance < totalPrice {
		return domain.ErrInsufficientFunds
	}
	return domain.ErrVersionConflict
}

func classifyStockMiss(ctx context.Context, tx *sql.Tx, stockItemID string, quantity int) error {
	var state string
	var available int
	err := tx.QueryRowContext(ctx,
		`SELECT state, available_quantity FROM stock_items WHERE id = ?`, stockItemID,
	).Scan(&state, &available)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("classify stock miss: %w", err)
	}
	if domain.StockState(state) != domain.StockStateActive || available < quantity {
		return domain.ErrOutOfStock
	}
	return domain.ErrVersionConflict
}

func isSQLiteUniqueViolation(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

const orderSelect = `
	SELECT id, account_id, stock_item_id, quantity, unit_price, total_price,
	       status, idempotency_key, created_at, updated_at
	FROM order_records`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.OrderRecord, error) {
	var rec domain.OrderRecord
	var createdAt, updatedAt string
	err := row.Scan(&rec.ID, &rec.AccountID, &rec.StockItemID, &rec.Quantity,
		&rec.UnitPrice, &rec.TotalPrice, &rec.Status, &rec.IdempotencyKey,
		&createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}
	rec.CreatedAt = parseStoredTime(createdAt)
	rec.UpdatedAt = parseStoredTime(updatedAt)
	return &rec, nil
}

func collectOrders(rows *sql.Rows) ([]domain.OrderRecord, error) {
	defer rows.Close()
	var records []domain.OrderRecord
	for rows.Next() {
		rec, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func scanStockItem(row *sql.Row) (*domain.StockItem, error) {
	return scanStockItemRow(row)
}

func scanStockItemRow(row rowScanner) (*domain.StockItem, error) {
	var item domain.StockItem
	var createdAt, updatedAt string
	err := row.Scan(&item.ID, &item.CatalogItemID, &item.Date, &item.UnitPrice,
		&item.InitialQuantity, &item.AvailableQuantity, &item.SoldQuantity,
		&item.State, &item.Version, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan stock item: %w", err)
	}
	item.CreatedAt = parseStoredTime(createdAt)
	item.UpdatedAt = parseStoredTime(updatedAt)
	return &item, nil
}

// Timestamps are stored as RFC3339 text, the SQLite idiom. Fixed-width
// nanoseconds keep the column lexically sortable.
const storedTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatStoredTime(t time.Time) string {
	return t.UTC().Format(storedTimeLayout)
}

func parseStoredTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
