package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/eims-app/apiserver/internal/apperr"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestLimiter_FixedWindow(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := NewLimiter(rdb, "api", 2, time.Hour)
	ctx := context.Background()

	res, err := l.Hit(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Remaining)
	assert.Equal(t, time.Hour, res.ResetIn)

	res, err = l.Hit(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)

	res, err = l.Hit(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	other, err := l.Hit(ctx, "ip:5.6.7.8")
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	mr.FastForward(time.Hour + time.Second)

	res, err = l.Hit(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "ip:10.0.0.1", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "ip:10.0.0.1", ClientIP(req))
}

func TestMiddleware_ForwardedForDoesNotResetCount(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := NewLimiter(rdb, "api", 2, time.Hour)
	h := Middleware(l, nil, "Too many requests", func(w http.ResponseWriter, r *http.Request, err error) {
		w.WriteHeader(apperr.HTTPStatus(err))
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 5)
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{200, 200, 429, 429, 429}, codes)
}

func TestMiddleware(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := NewLimiter(rdb, "api", 1, time.Hour)

	var gotErr error
	h := Middleware(l, nil, "Too many requests", func(w http.ResponseWriter, r *http.Request, err error) {
		gotErr = err
		w.WriteHeader(apperr.HTTPStatus(err))
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3600", rec.Header().Get("Retry-After"))
	assert.True(t, apperr.Is(gotErr, apperr.KindRateLimited))
}

func TestMiddleware_FailsOpen(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { _ = rdb.Close() })
	l := NewLimiter(rdb, "api", 1, time.Hour)

	h := Middleware(l, nil, "Too many requests", func(w http.ResponseWriter, r *http.Request, err error) {
		t.Fatalf("unexpected error response: %v", err)
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
