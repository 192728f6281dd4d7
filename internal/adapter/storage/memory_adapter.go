package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/minhngt/canteen-core/internal/core/domain"
)

// MemoryAdapter is an in-process ledger store built on explicit per-row
// locks: a unit of work acquires the account and stock row locks in ascending
// key order, so two units can never deadlock. With exclusive locks held the
// business guards are checked against current row state, which makes the
// guards (not the caller's versions) authoritative; versions still advance on
// every mutation so readers observe them.
//
// Used by tests and the load generator. Not durable.
type MemoryAdapter struct {
	mu       sync.RWMutex // guards the maps; row structs are never removed
	accounts map[string]*memAccount
	stock    map[string]*memStock
	catalog  map[string]domain.CatalogItem

	ordersMu    sync.Mutex
	orders      map[string]*domain.OrderRecord
	ordersByKey map[string]string // idempotency key -> order id
	orderSeq    int64             // tiebreaker for same-timestamp ordering
	orderSeqOf  map[string]int64
}

type memAccount struct {
	mu  sync.Mutex
	row domain.Account
}

type memStock struct {
	mu  sync.Mutex
	row domain.StockItem
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		accounts:    make(map[string]*memAccount),
		stock:       make(map[string]*memStock),
		catalog:     make(map[string]domain.CatalogItem),
		orders:      make(map[string]*domain.OrderRecord),
		ordersByKey: make(map[string]string),
		orderSeqOf:  make(map[string]int64),
	}
}

func (m *MemoryAdapter) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	m.mu.RLock()
	acc, ok := m.accounts[id]
	m.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()
	row := acc.row
	return &row, nil
}

func (m *MemoryAdapter) GetStockItem(ctx context.Context, id string) (*domain.StockItem, error) {
	m.mu.RLock()
	st, ok := m.stock[id]
	m.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	row := st.row
	return &row, nil
}

func (m *MemoryAdapter) GetOrder(ctx context.Context, id string) (*domain.OrderRecord, error) {
	m.ordersMu.Lock()
	defer m.ordersMu.Unlock()
	rec, ok := m.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *rec
	return &out, nil
}

func (m *MemoryAdapter) GetOrderByIdempotencyKey(ctx context.Context, key string) (*domain.OrderRecord, error) {
	m.ordersMu.Lock()
	defer m.ordersMu.Unlock()
	id, ok := m.ordersByKey[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *m.orders[id]
	return &out, nil
}

func (m *MemoryAdapter) CommitOrder(ctx context.Context, order *domain.OrderRecord, accountVersion, stockVersion int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	acc, accOK := m.accounts[order.AccountID]
	st, stOK := m.stock[order.StockItemID]
	m.mu.RUnlock()
	if !accOK || !stOK {
		return domain.ErrNotFound
	}

	// Fixed global lock order: ascending row key. Account and stock keys are
	// namespaced so the comparison is total.
	first, second := acc.lock, st.lock
	if "account:"+order.AccountID > "stock:"+order.StockItemID {
		first, second = st.lock, acc.lock
	}
	unlockFirst := first()
	defer unlockFirst()
	unlockSecond := second()
	defer unlockSecond()

	if st.row.State != domain.StockStateActive || st.row.AvailableQuantity < order.Quantity {
		return domain.ErrOutOfStock
	}
	if acc.row.Balance < order.TotalPrice {
		return domain.ErrInsufficientFunds
	}

	m.ordersMu.Lock()
	defer m.ordersMu.Unlock()
	if _, exists := m.ordersByKey[order.IdempotencyKey]; exists {
		return domain.ErrDuplicateIdempotencyKey
	}

	now := time.Now().UTC()
	acc.row.Balance -= order.TotalPrice
	acc.row.Version++
	acc.row.UpdatedAt = now
	st.row.AvailableQuantity -= order.Quantity
	st.row.SoldQuantity += order.Quantity
	st.row.Version++
	st.row.UpdatedAt = now

	rec := *order
	m.orders[rec.ID] = &rec
	m.ordersByKey[rec.IdempotencyKey] = rec.ID
	m.orderSeq++
	m.orderSeqOf[rec.ID] = m.orderSeq
	return nil
}

func (a *memAccount) lock() func() {
	a.mu.Lock()
	return a.mu.Unlock
}

func (s *memStock) lock() func() {
	s.mu.Lock()
	return s.mu.Unlock
}

func (m *MemoryAdapter) MarkServed(ctx context.Context, orderID string) (*domain.OrderRecord, error) {
	return m.transition(orderID, domain.OrderStatusServed)
}

func (m *MemoryAdapter) MarkFailed(ctx context.Context, orderID string) (*domain.OrderRecord, error) {
	return m.transition(orderID, domain.OrderStatusFailed)
}

func (m *MemoryAdapter) transition(orderID string, to domain.OrderStatus) (*domain.OrderRecord, error) {
	m.ordersMu.Lock()
	defer m.ordersMu.Unlock()
	rec, ok := m.orders[orderID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !domain.CanTransition(rec.Status, to) {
		return nil, domain.ErrInvalidTransition
	}
	rec.Status = to
	rec.UpdatedAt = time.Now().UTC()
	out := *rec
	return &out, nil
}

func (m *MemoryAdapter) ListOrdersByAccount(ctx context.Context, accountID string) ([]domain.OrderRecord, error) {
	m.ordersMu.Lock()
	defer m.ordersMu.Unlock()
	var out []domain.OrderRecord
	for _, rec := range m.orders {
		if rec.AccountID == accountID {
			out = append(out, *rec)
		}
	}
	// Newest first; insertion sequence breaks timestamp ties.
	sort.Slice(out, func(i, j int) bool {
		return m.orderSeqOf[out[i].ID] > m.orderSeqOf[out[j].ID]
	})
	return out, nil
}

func (m *MemoryAdapter) ListOrdersByStatus(ctx context.Context, status domain.OrderStatus) ([]domain.OrderRecord, error) {
	m.ordersMu.Lock()
	defer m.ordersMu.Unlock()
	var out []domain.OrderRecord
	for _, rec := range m.orders {
		if rec.Status == status {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return m.orderSeqOf[out[i].ID] < m.orderSeqOf[out[j].ID]
	})
	return out, nil
}

func (m *MemoryAdapter) ListActiveCatalogItems(ctx context.Context) ([]domain.CatalogItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.CatalogItem
	for _, item := range m.catalog {
		if item.Active {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryAdapter) CreateStockItem(ctx context.Context, item *domain.StockItem) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.stock {
		if st.row.CatalogItemID == item.CatalogItemID && st.row.Date == item.Date {
			return false, nil
		}
	}
	row := *item
	m.stock[item.ID] = &memStock{row: row}
	return true, nil
}

func (m *MemoryAdapter) FreezeStockBefore(ctx context.Context, date string) (int64, error) {
	return m.sweepStock(date, domain.StockStateActive, domain.StockStateFrozen), nil
}

func (m *MemoryAdapter) ArchiveStockBefore(ctx context.Context, date string) (int64, error) {
	return m.sweepStock(date, domain.StockStateFrozen, domain.StockStateArchived), nil
}

func (m *MemoryAdapter) sweepStock(date string, from, to domain.StockState) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, st := range m.stock {
		st.mu.Lock()
		if st.row.Date < date && st.row.State == from {
			st.row.State = to
			st.row.Version++
			st.row.UpdatedAt = time.Now().UTC()
			n++
		}
		st.mu.Unlock()
	}
	return n
}

func (m *MemoryAdapter) ListStockByDate(ctx context.Context, date string) ([]domain.StockItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.StockItem
	for _, st := range m.stock {
		st.mu.Lock()
		if st.row.Date == date && st.row.State != domain.StockStateArchived {
			out = append(out, st.row)
		}
		st.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CatalogItemID < out[j].CatalogItemID })
	return out, nil
}

func (m *MemoryAdapter) CreateAccount(ctx context.Context, account *domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := *account
	m.accounts[account.ID] = &memAccount{row: row}
	return nil
}

func (m *MemoryAdapter) CreateCatalogItem(ctx context.Context, item *domain.CatalogItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.catalog[item.ID] = *item
	return nil
}
