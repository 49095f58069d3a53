// Package dedup remembers transport message ids so webhook redeliveries can
// be acknowledged without being processed twice.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "wa-relay:msg:"
	defaultTTL = 24 * time.Hour
)

// redisAPI is the slice of the Redis client used by Guard.
type redisAPI interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Guard records message ids in Redis with SET NX.
type Guard struct {
	rdb redisAPI
	ttl time.Duration
}

// New creates a Guard. A non-positive ttl falls back to 24h.
func New(rdb redisAPI, ttl time.Duration) (*Guard, error) {
	if rdb == nil {
		return nil, errors.New("dedup: redis client must not be nil")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Guard{rdb: rdb, ttl: ttl}, nil
}

// Dial connects to the Redis server at url and verifies it answers PING.
func Dial(ctx context.Context, url string, ttl time.Duration) (*Guard, *redis.Client, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(url))
	if err != nil {
		return nil, nil, fmt.Errorf("dedup: parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("dedup: ping redis: %w", err)
	}

	g, err := New(rdb, ttl)
	if err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	return g, rdb, nil
}

// Seen claims messageID and reports whether it was already claimed.
func (g *Guard) Seen(ctx context.Context, messageID string) (bool, error) {
	if messageID == "" {
		return false, errors.New("dedup: message id must not be empty")
	}
	fresh, err := g.rdb.SetNX(ctx, keyPrefix+messageID, time.Now().UTC().Unix(), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup: set %q: %w", messageID, err)
	}
	return !fresh, nil
}

// Release drops the claim on messageID so a redelivery is processed again.
func (g *Guard) Release(ctx context.Context, messageID string) error {
	if messageID == "" {
		return errors.New("dedup: message id must not be empty")
	}
	if err := g.rdb.Del(ctx, keyPrefix+messageID).Err(); err != nil {
		return fmt.Errorf("dedup: release %q: %w", messageID, err)
	}
	return nil
}
