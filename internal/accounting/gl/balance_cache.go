package gl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// BalanceCache memoises detail account balances. Implementations must never
// serve a value computed before the latest Invalidate of that account returned.
type BalanceCache interface {
	Fetch(ctx context.Context, accountID uuid.UUID, asOf time.Time, load func(context.Context) (decimal.Decimal, error)) (decimal.Decimal, error)
	Invalidate(ctx context.Context, accountIDs ...uuid.UUID) error
}

// NopBalanceCache always loads.
type NopBalanceCache struct{}

func (NopBalanceCache) Fetch(ctx context.Context, _ uuid.UUID, _ time.Time, load func(context.Context) (decimal.Decimal, error)) (decimal.Decimal, error) {
	return load(ctx)
}

func (NopBalanceCache) Invalidate(context.Context, ...uuid.UUID) error { return nil }

const balanceKeyPrefix = "ledger:balance"

// RedisBalanceCache stores balances in Redis under a per-account version. A
// posting bumps the version of every account it touches, orphaning the old keys
// until their TTL expires.
type RedisBalanceCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewRedisBalanceCache instantiates the cache helper.
func NewRedisBalanceCache(client *redis.Client, ttl time.Duration) *RedisBalanceCache {
	return &RedisBalanceCache{client: client, ttl: ttl}
}

func versionKey(accountID uuid.UUID) string {
	return fmt.Sprintf("%s:%s:version", balanceKeyPrefix, accountID)
}

func (c *RedisBalanceCache) version(ctx context.Context, accountID uuid.UUID) (int64, error) {
	ver, err := c.client.Get(ctx, versionKey(accountID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return ver, err
}

// Fetch returns the cached balance or populates it using load. Concurrent
// misses for the same key share a single load.
func (c *RedisBalanceCache) Fetch(ctx context.Context, accountID uuid.UUID, asOf time.Time, load func(context.Context) (decimal.Decimal, error)) (decimal.Decimal, error) {
	if c == nil || c.client == nil {
		return load(ctx)
	}
	ver, err := c.version(ctx, accountID)
	if err != nil {
		return load(ctx)
	}
	key := fmt.Sprintf("%s:%s:%d:%d", balanceKeyPrefix, accountID, asOf.UTC().UnixMicro(), ver)
	if raw, err := c.client.Get(ctx, key).Result(); err == nil {
		if cached, err := decimal.NewFromString(raw); err == nil {
			return cached, nil
		}
	}
	ch := c.group.DoChan(key, func() (interface{}, error) {
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}
		// Store only when no bump happened while loading.
		if cur, err := c.version(ctx, accountID); err == nil && cur == ver {
			_ = c.client.Set(ctx, key, value.String(), c.ttl).Err()
		}
		return value, nil
	})
	select {
	case <-ctx.Done():
		return decimal.Decimal{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return decimal.Decimal{}, res.Err
		}
		return res.Val.(decimal.Decimal), nil
	}
}

// Invalidate bumps the version of every account.
func (c *RedisBalanceCache) Invalidate(ctx context.Context, accountIDs ...uuid.UUID) error {
	if c == nil || c.client == nil || len(accountIDs) == 0 {
		return nil
	}
	pipe := c.client.TxPipeline()
	for _, id := range accountIDs {
		pipe.Incr(ctx, versionKey(id))
	}
	_, err := pipe.Exec(ctx)
	return err
}
