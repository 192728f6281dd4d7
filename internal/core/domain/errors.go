package domain

import "errors"

var (
	// ErrNotFound means a referenced account, stock item or order does not exist.
	ErrNotFound = errors.New("not found")

	// ErrOutOfStock is a business rejection: the stock item cannot cover the
	// requested quantity, or it no longer accepts orders (frozen/archived).
	ErrOutOfStock = errors.New("out of stock")

	// ErrInsufficientFunds is a business rejection: the account balance does
	// not cover the total price.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrContention is returned after internal conflict retries are exhausted
	// or a unit of work timed out. Safe for the caller to retry.
	ErrContention = errors.New("contention: retries exhausted")

	// ErrInvalidTransition means an illegal order status change was requested.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrStoreUnavailable means the persistence backend is unreachable.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrVersionConflict is a storage-internal signal: a conditional write
	// missed because the row changed since it was read. The coordinator
	// resolves it by retrying; it never reaches the caller.
	ErrVersionConflict = errors.New("version conflict")

	// ErrDuplicateIdempotencyKey is a storage-internal signal: another unit of
	// work committed the same idempotency key first. Resolved by re-reading
	// the winner's record.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)
