package middleware

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ariebrainware/physio-practice/config"
	"github.com/ariebrainware/physio-practice/util"
	"github.com/gin-gonic/gin"
	cache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRateLimit  = 5
	defaultRateWindow = 15 * time.Minute
)

// RateCounter counts hits per key inside a fixed window that opens on the
// first hit.
type RateCounter interface {
	Hit(ctx context.Context, key string, window time.Duration) (int64, error)
	Clear(ctx context.Context, key string) error
}

type redisCounter struct {
	rdb *redis.Client
}

// RedisCounter shares counts across every API instance using rdb.
func RedisCounter(rdb *redis.Client) RateCounter {
	return redisCounter{rdb: rdb}
}

func (r redisCounter) Hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, window)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", key, err)
	}
	return incr.Val(), nil
}

func (r redisCounter) Clear(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, key).Err()
}

type memoryCounter struct {
	mu      sync.Mutex
	windows *cache.Cache
}

// NewMemoryCounter keeps counts in process. Used when Redis is not configured.
func NewMemoryCounter() RateCounter {
	return &memoryCounter{windows: cache.New(defaultRateWindow, time.Minute)}
}

func (m *memoryCounter) Hit(_ context.Context, key string, window time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.windows.Get(key); ok {
		n := v.(*int64)
		*n++
		return *n, nil
	}
	n := int64(1)
	m.windows.Set(key, &n, window)
	return n, nil
}

func (m *memoryCounter) Clear(_ context.Context, key string) error {
	m.windows.Delete(key)
	return nil
}

// RateLimitConfig limits one action per client IP.
type RateLimitConfig struct {
	Scope  string
	Limit  int
	Window time.Duration
}

func rateLimitKey(scope, clientIP string) string {
	return fmt.Sprintf("ratelimit:%s:%s", scope, clientIP)
}

// rateCounter prefers an explicit Services.RateCounter, then the shared Redis
// client. nil means the request is not limited.
func rateCounter(c *gin.Context) RateCounter {
	if rc := GetServices(c).RateCounter; rc != nil {
		return rc
	}
	if rdb := config.GetRedisClient(); rdb != nil {
		return RedisCounter(rdb)
	}
	return nil
}

// RateLimiter answers 429 once a client IP exceeds cfg.Limit calls within
// cfg.Window. Counter errors let the request through.
func RateLimiter(cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.Limit == 0 {
		cfg.Limit = defaultRateLimit
	}
	if cfg.Window == 0 {
		cfg.Window = defaultRateWindow
	}
	retryAfter := strconv.Itoa(int(cfg.Window.Seconds()))

	return func(c *gin.Context) {
		scope := cfg.Scope
		if scope == "" {
			scope = c.FullPath()
		}
		counter := rateCounter(c)
		if counter == nil {
			c.Next()
			return
		}

		hits, err := counter.Hit(c.Request.Context(), rateLimitKey(scope, c.ClientIP()), cfg.Window)
		if err != nil {
			util.AuditAnomalyf(0, c.ClientIP(), "rate limit check for %s failed: %v", scope, err)
			c.Next()
			return
		}
		if hits > int64(cfg.Limit) {
			util.AuditRateLimit(c.ClientIP(), c.Request.URL.Path)
			c.Header("Retry-After", retryAfter)
			util.CallTooManyRequests(c, util.APIErrorParams{
				Msg: "Too many requests. Please try again later.",
				Err: fmt.Errorf("%s: %d requests from %s", scope, hits, c.ClientIP()),
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// ClearRateLimit forgets the caller's count for scope, e.g. after a
// successful sign-in from a shared front-desk machine.
func ClearRateLimit(c *gin.Context, scope string) error {
	counter := rateCounter(c)
	if counter == nil {
		return nil
	}
	return counter.Clear(c.Request.Context(), rateLimitKey(scope, c.ClientIP()))
}
