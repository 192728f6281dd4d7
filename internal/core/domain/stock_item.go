package domain

import (
	"fmt"
	"time"
)

type StockState string

const (
	StockStateActive   StockState = "ACTIVE"   // accepts decrements
	StockStateFrozen   StockState = "FROZEN"   // day rolled over, no new orders
	StockStateArchived StockState = "ARCHIVED" // audit-only
)

// StockItem is one day's stock pool for a catalog item, materialized by the
// rollover and never reused. UnitPrice is copied from the catalog at
// materialization and is immutable afterwards.
//
// Invariant: AvailableQuantity + SoldQuantity == InitialQuantity and
// AvailableQuantity >= 0 at every observable point.
type StockItem struct {
	ID                string
	CatalogItemID     string
	Date              string // YYYY-MM-DD
	UnitPrice         int64  // cents
	InitialQuantity   int
	AvailableQuantity int
	SoldQuantity      int
	State             StockState
	Version           int // optimistic locking
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ParseDate validates and normalizes a YYYY-MM-DD date string. Every
// lifecycle and query call takes the date explicitly; there is no ambient
// notion of "today" below the delivery surface.
func ParseDate(s string) (string, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t.Format(time.DateOnly), nil
}
