package port

import "context"

// SnapshotCache serves display reads of balances and availability. Values are
// advisory: correctness is enforced only inside the coordinator's unit of
// work, never from cached snapshots.
type SnapshotCache interface {
	// GetBalance returns a cached balance; the bool reports a hit.
	GetBalance(ctx context.Context, accountID string) (int64, bool, error)

	// SetBalance stores a balance snapshot with the cache's TTL.
	SetBalance(ctx context.Context, accountID string, balance int64) error

	// GetAvailability returns cached available quantity; the bool reports a hit.
	GetAvailability(ctx context.Context, stockItemID string) (int, bool, error)

	// SetAvailability stores an availability snapshot with the cache's TTL.
	SetAvailability(ctx context.Context, stockItemID string, available int) error
}
