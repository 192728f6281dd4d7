package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/minhngt/canteen-core/internal/core/domain"
)

const mysqlDuplicateEntry = 1062

// mysqlSchema mirrors the SQLite layout in MySQL dialect. Applied by
// InitSchema; production deployments typically run it as a migration instead.
const mysqlSchema = `
CREATE TABLE IF NOT EXISTS accounts (
    id         VARCHAR(64) PRIMARY KEY,
    balance    BIGINT NOT NULL,
    version    INT NOT NULL DEFAULT 0,
    created_at DATETIME(6) NOT NULL,
    updated_at DATETIME(6) NOT NULL
);

CREATE TABLE IF NOT EXISTS catalog_items (
    id             VARCHAR(64) PRIMARY KEY,
    name           VARCHAR(255) NOT NULL,
    unit_price     BIGINT NOT NULL,
    daily_quantity INT NOT NULL,
    active         TINYINT(1) NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS stock_items (
    id                 VARCHAR(64) PRIMARY KEY,
    catalog_item_id    VARCHAR(64) NOT NULL,
    date               CHAR(10) NOT NULL,
    unit_price         BIGINT NOT NULL,
    initial_quantity   INT NOT NULL,
    available_quantity INT NOT NULL,
    sold_quantity      INT NOT NULL DEFAULT 0,
    state              VARCHAR(16) NOT NULL DEFAULT 'ACTIVE',
    version            INT NOT NULL DEFAULT 0,
    created_at         DATETIME(6) NOT NULL,
    updated_at         DATETIME(6) NOT NULL,
    UNIQUE KEY uq_stock_catalog_date (catalog_item_id, date),
    KEY idx_stock_date (date, state)
);

CREATE TABLE IF NOT EXISTS order_records (
    id              VARCHAR(64) PRIMARY KEY,
    account_id      VARCHAR(64) NOT NULL,
    stock_item_id   VARCHAR(64) NOT NULL,
    quantity        INT NOT NULL,
    unit_price      BIGINT NOT NULL,
    total_price     BIGINT NOT NULL,
    status          VARCHAR(16) NOT NULL,
    idempotency_key VARCHAR(128) NOT NULL,
    created_at      DATETIME(6) NOT NULL,
    updated_at      DATETIME(6) NOT NULL,
    UNIQUE KEY uq_orders_idempotency (idempotency_key),
    KEY idx_orders_account (account_id, created_at),
    KEY idx_orders_status  (status, created_at)
);
`

// MySQLAdapter is the production ledger store. It speaks the same
// conditional-write protocol as the SQLite adapter.
type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// InitSchema creates the ledger tables if they do not exist.
func (m *MySQLAdapter) InitSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(mysqlSchema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (m *MySQLAdapter) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	var acc domain.Account
	err := m.db.QueryRowContext(ctx, `
		SELECT id, balance, version, created_at, updated_at
		FROM accounts WHERE id = ?`, id,
	).Scan(&acc.ID, &acc.Balance, &acc.Version, &acc.CreatedAt, &acc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, m.storeErr("query account", err)
	}
	return &acc, nil
}

func (m *MySQLAdapter) GetStockItem(ctx context.Context, id string) (*domain.StockItem, error) {
	var item domain.StockItem
	err := m.db.QueryRowContext(ctx, `
		SELECT id, catalog_item_id, date, unit_price, initial_quantity,
		       available_quantity, sold_quantity, state, version, created_at, updated_at
		FROM stock_items WHERE id = ?`, id,
	).Scan(&item.ID, &item.CatalogItemID, &item.Date, &item.UnitPrice,
		&item.InitialQuantity, &item.AvailableQuantity, &item.SoldQuantity,
		&item.State, &item.Version, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, m.storeErr("query stock item", err)
	}
	return &item, nil
}

func (m *MySQLAdapter) GetOrder(ctx context.Context, id string) (*domain.OrderRecord, error) {
	return m.scanOrderRow(m.db.QueryRowContext(ctx, mysqlOrderSelect+` WHERE id = ?`, id))
}

func (m *MySQLAdapter) GetOrderByIdempotencyKey(ctx context.Context, key string) (*domain.OrderRecord, error) {
	return m.scanOrderRow(m.db.QueryRowContext(ctx, mysqlOrderSelect+` WHERE idempotency_key = ?`, key))
}

func (m *MySQLAdapter) CommitOrder(ctx context.Context, order *domain.OrderRecord, accountVersion, stockVersion int) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return m.storeErr("begin tx", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = balance - ?, version = version + 1, updated_at = NOW(6)
		WHERE id = ? AND version = ? AND balance >= ?`,
		order.TotalPrice, order.AccountID, accountVersion, order.TotalPrice,
	)
	if err != nil {
		return m.storeErr("debit account", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return m.classifyAccountMiss(ctx, tx, order.AccountID, order.TotalPrice)
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE stock_items
		SET available_quantity = available_quantity - ?, sold_quantity = sold_quantity + ?,
		    version = version + 1, updated_at = NOW(6)
		WHERE id = ? AND version = ? AND state = 'ACTIVE' AND available_quantity >= ?`,
		order.Quantity, order.Quantity, order.StockItemID, stockVersion, order.Quantity,
	)
	if err != nil {
		return m.storeErr("decrement stock", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return m.classifyStockMiss(ctx, tx, order.StockItemID, order.Quantity)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO order_records
			(id, account_id, stock_item_id, quantity, unit_price, total_price,
			 status, idempotency_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.AccountID, order.StockItemID, order.Quantity,
		order.UnitPrice, order.TotalPrice, order.Status, order.IdempotencyKey,
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
			return domain.ErrDuplicateIdempotencyKey
		}
		return m.storeErr("insert order", err)
	}

	if err := tx.Commit(); err != nil {
		return m.storeErr("commit order", err)
	}
	return nil
}

func (m *MySQLAdapter) MarkServed(ctx context.Context, orderID string) (*domain.OrderRecord, error) {
	return m.transition(ctx, orderID, domain.OrderStatusServed)
}

func (m *MySQLAdapter) MarkFailed(ctx context.Context, orderID string) (*domain.OrderRecord, error) {
	return m.transition(ctx, orderID, domain.OrderStatusFailed)
}

func (m *MySQLAdapter) transition(ctx context.Context, orderID string, to domain.OrderStatus) (*domain.OrderRecord, error) {
	res, err := m.db.ExecContext(ctx, `
		UPDATE order_records SET status = ?, updated_at = NOW(6)
		WHERE id = ? AND status = ?`,
		to, orderID, domain.OrderStatusPending,
	)
	if err != nil {
		return nil, m.storeErr("update order status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var status string
		err := m.db.QueryRowContext(ctx, `SELECT status FROM order_records WHERE id = ?`, orderID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		if err != nil {
			return nil, m.storeErr("query order status", err)
		}
		return nil, domain.ErrInvalidTransition
	}
	return m.GetOrder(ctx, orderID)
}

func (m *MySQLAdapter) ListOrdersByAccount(ctx context.Context, accountID string) ([]domain.OrderRecord, error) {
	rows, err := m.db.QueryContext(ctx,
		mysqlOrderSelect+` WHERE account_id = ? ORDER BY created_at DESC, id DESC`, accountID)
	if err != nil {
		return nil, m.storeErr("list orders by account", err)
	}
	return m.collectOrders(rows)
}

func (m *MySQLAdapter) ListOrdersByStatus(ctx context.Context, status domain.OrderStatus) ([]domain.OrderRecord, error) {
	rows, err := m.db.QueryContext(ctx,
		mysqlOrderSelect+` WHERE status = ? ORDER BY created_at ASC, id ASC`, status)
	if err != nil {
		return nil, m.storeErr("list orders by status", err)
	}
	return m.collectOrders(rows)
}

func (m *MySQLAdapter) ListActiveCatalogItems(ctx context.Context) ([]domain.CatalogItem, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, name, unit_price, daily_quantity, active
		FROM catalog_items WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, m.storeErr("list catalog", err)
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

func (m *MySQLAdapter) CreateStockItem(ctx context.Context, item *domain.StockItem) (bool, error) {
	res, err := m.db.ExecContext(ctx, `
		INSERT IGNORE INTO stock_items
			(id, catalog_item_id, date, unit_price, initial_quantity,
			 available_quantity, sold_quantity, state, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		item.ID, item.CatalogItemID, item.Date, item.UnitPrice, item.InitialQuantity,
		item.AvailableQuantity, item.SoldQuantity, item.State, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return false, m.storeErr("insert stock item", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (m *MySQLAdapter) FreezeStockBefore(ctx context.Context, date string) (int64, error) {
	res, err := m.db.ExecContext(ctx, `
		UPDATE stock_items SET state = ?, version = version + 1, updated_at = NOW(6)
		WHERE date < ? AND state = ?`,
		domain.StockStateFrozen, date, domain.StockStateActive,
	)
	if err != nil {
		return 0, m.storeErr("freeze stock", err)
	}
	return res.RowsAffected()
}

func (m *MySQLAdapter) ArchiveStockBefore(ctx context.Context, date string) (int64, error) {
	res, err := m.db.ExecContext(ctx, `
		UPDATE stock_items SET state = ?, version = version + 1, updated_at = NOW(6)
		WHERE date < ? AND state = ?`,
		domain.StockStateArchived, date, domain.StockStateFrozen,
	)
	if err != nil {
		return 0, m.storeErr("archive stock", err)
	}
	return res.RowsAffected()
}

func (m *MySQLAdapter) ListStockByDate(ctx context.Context, date string) ([]domain.StockItem, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, catalog_item_id, date, unit_price, initial_quantity,
		       available_quantity, sold_quantity, state, version, created_at, updated_at
		FROM stock_items
		WHERE date = ? AND state != ? ORDER BY catalog_item_id`,
		date, domain.StockStateArchived)
	if err != nil {
		return nil, m.storeErr("list stock by date", err)
	}
	defer rows.Close()

	var items []domain.StockItem
	for rows.Next() {
		var item domain.StockItem
		if err := rows.Scan(&item.ID, &item.CatalogItemID, &item.Date, &item.UnitPrice,
			&item.InitialQuantity, &item.AvailableQuantity, &item.SoldQuantity,
			&item.State, &item.Version, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan stock item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (m *MySQLAdapter) CreateAccount(ctx context.Context, account *domain.Account) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO accounts (id, balance, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		account.ID, account.Balance, account.Version, account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		return m.storeErr("insert account", err)
	}
	return nil
}

func (m *MySQLAdapter) CreateCatalogItem(ctx context.Context, item *domain.CatalogItem) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO catalog_items (id, name, unit_price, daily_quantity, active)
		VALUES (?, ?, ?, ?, ?)`,
		item.ID, item.Name, item.UnitPrice, item.DailyQuantity, item.Active,
	)
	if err != nil {
		return m.storeErr("insert catalog item", err)
	}
	return nil
}

func (m *MySQLAdapter) classifyAccountMiss(ctx context.Context, tx *sql.Tx, accountID string, totalPrice int64) error {
	var balance int64
	err := tx.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE id = ?`, accountID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return m.storeErr("classify account miss", err)
	}
	if balance < totalPrice {
		return domain.ErrInsufficientFunds
	}
	return domain.ErrVersionConflict
}

func (m *MySQLAdapter) classifyStockMiss(ctx context.Context, tx *sql.Tx, stockItemID string, quantity int) error {
	var state string
	var available int
	err := tx.QueryRowContext(ctx,
		`SELECT state, available_quantity FROM stock_items WHERE id = ?`, stockItemID,
	).Scan(&state, &available)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return m.storeErr("classify stock miss", err)
	}
	if domain.StockState(state) != domain.StockStateActive || available < quantity {
		return domain.ErrOutOfStock
	}
	return domain.ErrVersionConflict
}

const mysqlOrderSelect = `
	SELECT id, account_id, stock_item_id, quantity, unit_price, total_price,
	       status, idempotency_key, created_at, updated_at
	FROM order_records`

func (m *MySQLAdapter) scanOrderRow(row *sql.Row) (*domain.OrderRecord, error) {
	var rec domain.OrderRecord
	err := row.Scan(&rec.ID, &rec.AccountID, &rec.StockItemID, &rec.Quantity,
		&rec.UnitPrice, &rec.TotalPrice, &rec.Status, &rec.IdempotencyKey,
		&rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, m.storeErr("scan order", err)
	}
	return &rec, nil
}

func (m *MySQLAdapter) collectOrders(rows *sql.Rows) ([]domain.OrderRecord, error) {
	defer rows.Close()
	var records []domain.OrderRecord
	for rows.Next() {
		var rec domain.OrderRecord
		if err := rows.Scan(&rec.ID, &rec.AccountID, &rec.StockItemID, &rec.Quantity,
			&rec.UnitPrice, &rec.TotalPrice, &rec.Status, &rec.IdempotencyKey,
			&rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// storeErr distinguishes server-side SQL errors from transport failures:
// a request that never reached the server is retryable with caller-side
// circuit breaking.
func (m *MySQLAdapter) storeErr(op string, err error) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrStoreUnavailable, err)
}
