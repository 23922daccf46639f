package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariebrainware/physio-practice/config"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loginRouter limits /login and clears the count on /login/ok, mimicking a
// successful sign-in.
func loginRouter(svc *Services, cfg RateLimitConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	if svc != nil {
		r.Use(ServicesMiddleware(svc))
	}
	r.POST("/login", RateLimiter(cfg), func(c *gin.Context) {
		if c.Query("ok") == "1" {
			_ = ClearRateLimit(c, cfg.Scope)
		}
		c.Status(http.StatusOK)
	})
	return r
}

func attempt(r *gin.Engine, ip, query string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/login"+query, nil)
	req.RemoteAddr = ip + ":51000"
	r.ServeHTTP(w, req)
	return w
}

func useMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	config.SetRedisClient(rdb)
	t.Cleanup(func() {
		config.ResetRedis()
		_ = rdb.Close()
	})
	return mr, rdb
}

func TestRateLimiter_NoCounterConfigured(t *testing.T) {
	config.ResetRedis()
	r := loginRouter(nil, RateLimitConfig{Scope: "login", Limit: 2, Window: time.Minute})
	for i := 0; i < 6; i++ {
		assert.Equal(t, http.StatusOK, attempt(r, "192.168.1.1", "").Code, "attempt %d", i+1)
	}
}

func TestRateLimiter_Redis(t *testing.T) {
	mr, _ := useMiniredis(t)
	r := loginRouter(nil, RateLimitConfig{Scope: "login", Limit: 3, Window: time.Minute})

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, attempt(r, "10.0.0.1", "").Code)
	}
	w := attempt(r, "10.0.0.1", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, attempt(r, "10.0.0.2", "").Code, "clients are counted separately")

	key := rateLimitKey("login", "10.0.0.1")
	assert.Equal(t, "4", mustGet(t, mr, key))
	assert.Equal(t, time.Minute, mr.TTL(key), "the window opens on the first hit")

	mr.FastForward(time.Minute + time.Second)
	assert.Equal(t, http.StatusOK, attempt(r, "10.0.0.1", "").Code)
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}

func TestRateLimiter_DefaultsAndRouteScope(t *testing.T) {
	mr, _ := useMiniredis(t)
	r := loginRouter(nil, RateLimitConfig{})

	for i := 0; i < defaultRateLimit; i++ {
		require.Equal(t, http.StatusOK, attempt(r, "172.16.0.9", "").Code)
	}
	w := attempt(r, "172.16.0.9", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "900", w.Header().Get("Retry-After"))
	assert.True(t, mr.Exists(rateLimitKey("/login", "172.16.0.9")), "unscoped limits key on the route")
}

func TestRateLimiter_CounterFailureLetsRequestsThrough(t *testing.T) {
	mr, _ := useMiniredis(t)
	r := loginRouter(nil, RateLimitConfig{Scope: "login", Limit: 1, Window: time.Minute})
	mr.Close()

	assert.Equal(t, http.StatusOK, attempt(r, "10.1.1.1", "").Code)
	assert.Equal(t, http.StatusOK, attempt(r, "10.1.1.1", "").Code)
}

func TestRateLimiter_MemoryCounterFromServices(t *testing.T) {
	config.ResetRedis()
	svc := &Services{RateCounter: NewMemoryCounter()}
	r := loginRouter(svc, RateLimitConfig{Scope: "login", Limit: 2, Window: time.Minute})

	assert.Equal(t, http.StatusOK, attempt(r, "10.3.3.3", "").Code)
	assert.Equal(t, http.StatusOK, attempt(r, "10.3.3.3", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, attempt(r, "10.3.3.3", "").Code)
}

func TestClearRateLimit_AfterSuccessfulSignIn(t *testing.T) {
	mr, _ := useMiniredis(t)
	r := loginRouter(nil, RateLimitConfig{Scope: "login", Limit: 2, Window: time.Minute})

	require.Equal(t, http.StatusOK, attempt(r, "10.2.2.2", "").Code)
	require.Equal(t, http.StatusOK, attempt(r, "10.2.2.2", "?ok=1").Code)
	assert.False(t, mr.Exists(rateLimitKey("login", "10.2.2.2")))

	require.Equal(t, http.StatusOK, attempt(r, "10.2.2.2", "").Code)
	require.Equal(t, http.StatusOK, attempt(r, "10.2.2.2", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, attempt(r, "10.2.2.2", "").Code)
}

func TestMemoryCounter(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCounter()

	n, err := mc.Hit(ctx, "k", 50*time.Millisecond)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	n, _ = mc.Hit(ctx, "k", 50*time.Millisecond)
	assert.EqualValues(t, 2, n)
	n, _ = mc.Hit(ctx, "other", time.Minute)
	assert.EqualValues(t, 1, n)

	require.NoError(t, mc.Clear(ctx, "k"))
	n, _ = mc.Hit(ctx, "k", 50*time.Millisecond)
	assert.EqualValues(t, 1, n)

	time.Sleep(80 * time.Millisecond)
	n, _ = mc.Hit(ctx, "k", 50*time.Millisecond)
	assert.EqualValues(t, 1, n, "a new window starts after expiry")
}
