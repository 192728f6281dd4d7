package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	balanceKeyPrefix = "balance:"
	stockKeyPrefix   = "stock:"
	snapshotTTL      = 30 * time.Second
)

// RedisAdapter caches balance and availability snapshots for display reads.
// Values are advisory with a short TTL; the ledger is always the source of
// truth and correctness is never gated on the cache.
type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) GetBalance(ctx context.Context, accountID string) (int64, bool, error) {
	balance, err := r.client.Get(ctx, balanceKeyPrefix+accountID).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return balance, true, nil
}

func (r *RedisAdapter) SetBalance(ctx context.Context, accountID string, balance int64) error {
	return r.client.Set(ctx, balanceKeyPrefix+accountID, balance, snapshotTTL).Err()
}

func (r *RedisAdapter) GetAvailability(ctx context.Context, stockItemID string) (int, bool, error) {
	available, err := r.client.Get(ctx, stockKeyPrefix+stockItemID).Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return available, true, nil
}

func (r *RedisAdapter) SetAvailability(ctx context.Context, stockItemID string, available int) error {
	return r.client.Set(ctx, stockKeyPrefix+stockItemID, available, snapshotTTL).Err()
}
