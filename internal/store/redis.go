package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quarrypool/quarry/internal/ledger"
)

const hashrateTTL = 15 * time.Minute

// RedisCache publishes hashrate samples for dashboards and the admin API.
// Implements ledger.HashrateCache.
type RedisCache struct {
	rdb     *redis.Client
	timeout time.Duration
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(addr string) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &RedisCache{rdb: rdb, timeout: 2 * time.Second}, nil
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

func minerHashrateKey(minerAddr string) string {
	return "hashrate:miner:" + minerAddr
}

const poolHashrateKey = "hashrate:pool"

// SetMinerHashrate stores a miner's latest hashrate sample.
func (c *RedisCache) SetMinerHashrate(minerAddr string, hashrate float64) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	return c.rdb.Set(ctx, minerHashrateKey(minerAddr),
		strconv.FormatFloat(hashrate, 'f', -1, 64), hashrateTTL).Err()
}

// SetPoolHashrate stores the pool-wide hashrate sample.
func (c *RedisCache) SetPoolHashrate(hashrate float64) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	return c.rdb.Set(ctx, poolHashrateKey,
		strconv.FormatFloat(hashrate, 'f', -1, 64), hashrateTTL).Err()
}

// GetMinerHashrate reads a miner's cached hashrate, zero if absent.
func (c *RedisCache) GetMinerHashrate(ctx context.Context, minerAddr string) (float64, error) {
	val, err := c.rdb.Get(ctx, minerHashrateKey(minerAddr)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read hashrate: %w", err)
	}
	return strconv.ParseFloat(val, 64)
}

var _ ledger.HashrateCache = (*RedisCache)(nil)
