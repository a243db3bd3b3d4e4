// Package ratelimit throttles API callers per key in fixed time windows.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Limiter decides whether one more request for key fits its window.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

func normalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "unknown"
	}
	return key
}

// MemoryLimiter keeps window counters in process. Idle keys age out of a
// bounded LRU.
type MemoryLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu       sync.Mutex
	counters *expirable.LRU[string, int]
}

// NewMemoryLimiter allows limit requests per key in each window.
func NewMemoryLimiter(limit int, window time.Duration, maxKeys int) (*MemoryLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	return &MemoryLimiter{
		limit:    limit,
		window:   window,
		now:      time.Now,
		counters: expirable.NewLRU[string, int](maxKeys, nil, 2*window),
	}, nil
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) bool {
	if l == nil {
		return false
	}
	slot := l.now().UTC().UnixMilli() / l.window.Milliseconds()
	k := fmt.Sprintf("%s:%d", normalizeKey(key), slot)
	l.mu.Lock()
	defer l.mu.Unlock()
	n, _ := l.counters.Get(k)
	n++
	l.counters.Add(k, n)
	return n <= l.limit
}

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// RedisLimiter shares window counters between server replicas.
type RedisLimiter struct {
	limit  int
	window time.Duration
	client *redis.Client
	prefix string
	now    func() time.Time
	logger *zap.Logger
}

// NewRedisLimiter creates a Redis-backed limiter. A nil logger discards
// backend errors.
func NewRedisLimiter(addr, password, prefix string, limit int, window time.Duration, logger *zap.Logger) (*RedisLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("rate limiter redis addr is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "efile:ratelimit"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLimiter{
		limit:  limit,
		window: window,
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password}),
		prefix: prefix,
		now:    time.Now,
		logger: logger,
	}, nil
}

// Allow fails closed when Redis cannot be reached.
func (l *RedisLimiter) Allow(ctx context.Context, key string) bool {
	if l == nil {
		return false
	}
	windowMs := l.window.Milliseconds()
	slot := l.now().UTC().UnixMilli() / windowMs
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, normalizeKey(key), slot)
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	n, err := fixedWindowScript.Run(ctx, l.client, []string{redisKey}, windowMs).Int64()
	if err != nil {
		l.logger.Warn("rate limiter backend error; denying request", zap.String("key", redisKey), zap.Error(err))
		return false
	}
	return n <= int64(l.limit)
}

func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
