package domain

import "time"

// Account is a prepaid wallet. Balance is in minor currency units (cents)
// and never goes below zero.
type Account struct {
	ID        string
	Balance   int64
	Version   int // optimistic locking
	CreatedAt time.Time
	UpdatedAt time.Time
}
