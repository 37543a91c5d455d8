// Package ratelimit implements a Redis-backed fixed-window request limiter.
package ratelimit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/eims-app/apiserver/internal/apperr"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/hlog"
)

// Result describes the state of a window after one hit.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetIn   time.Duration
}

// hitScript increments the window counter and starts its expiry on the first
// hit. It returns the count and the remaining window in milliseconds.
var hitScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {count, redis.call("PTTL", KEYS[1])}
`)

// Limiter counts hits per key in fixed windows.
type Limiter struct {
	rdb    redis.Scripter
	prefix string
	limit  int
	window time.Duration
}

func NewLimiter(rdb redis.Scripter, prefix string, limit int, window time.Duration) *Limiter {
	return &Limiter{rdb: rdb, prefix: prefix, limit: limit, window: window}
}

// Hit records one request for key.
func (l *Limiter) Hit(ctx context.Context, key string) (Result, error) {
	redisKey := fmt.Sprintf("rl:%s:%s", l.prefix, key)

	vals, err := hitScript.Run(ctx, l.rdb, []string{redisKey}, l.window.Milliseconds()).Int64Slice()
	if err != nil {
		return Result{}, err
	}
	if len(vals) != 2 {
		return Result{}, fmt.Errorf("unexpected rate limit reply %v", vals)
	}

	count := int(vals[0])
	reset := time.Duration(vals[1]) * time.Millisecond
	if reset < 0 {
		reset = l.window
	}
	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= l.limit,
		Limit:     l.limit,
		Remaining: remaining,
		ResetIn:   reset,
	}, nil
}

// KeyFunc extracts the rate-limit principal from a request.
type KeyFunc func(*http.Request) string

// ClientIP keys requests by the connection's remote address. Forwarding
// headers are client-controlled and are only honoured when a trusted proxy
// has already rewritten RemoteAddr.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return "ip:" + host
	}
	return "ip:" + r.RemoteAddr
}

// ErrorWriter renders an error response.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Middleware rejects requests over the limit with a rate-limited error. Redis
// failures let the request through.
func Middleware(l *Limiter, key KeyFunc, message string, writeErr ErrorWriter) func(http.Handler) http.Handler {
	if key == nil {
		key = ClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := l.Hit(r.Context(), key(r))
			if err != nil {
				hlog.FromRequest(r).Warn().Err(err).Msg("rate limiter unavailable")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.Itoa(int(res.ResetIn.Seconds())))
			if !res.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(res.ResetIn.Seconds())))
				writeErr(w, r, apperr.RateLimited(message))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
