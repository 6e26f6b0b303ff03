package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pierre-mcp/pierre/pkg/api"
	"github.com/redis/go-redis/v9"
)

// TenantRateLimiter enforces a fixed-window request budget per tenant,
// backed by Redis INCR/EXPIRE so the window is shared across every
// process serving the tenant's traffic.
type TenantRateLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
}

func NewTenantRateLimiter(rdb *redis.Client, limit int, window time.Duration) *TenantRateLimiter {
	return &TenantRateLimiter{rdb: rdb, limit: limit, window: window}
}

// Allow increments actorID's counter for the current window and reports
// whether the request is within the configured budget.
func (l *TenantRateLimiter) Allow(ctx context.Context, actorID string) (bool, error) {
	key := fmt.Sprintf("ratelimit:%s:%d", actorID, time.Now().Unix()/int64(l.window.Seconds()))

	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("auth: rate limit incr: %w", err)
	}
	if count == 1 {
		l.rdb.Expire(ctx, key, l.window)
	}
	return count <= int64(l.limit), nil
}

// RateLimitMiddleware enforces per-principal rate limiting at the HTTP layer.
// It keys on the authenticated Principal's tenant id and principal id
// ("tenant/id"), falling back to the remote address for unauthenticated
// requests. On budget exhaustion it
// returns 429 with a Retry-After header.
func RateLimitMiddleware(limiter *TenantRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			actorID := r.RemoteAddr
			if principal, err := GetPrincipal(r.Context()); err == nil {
				actorID = fmt.Sprintf("%s/%s", principal.GetTenantID(), principal.GetID())
			}

			allowed, err := limiter.Allow(r.Context(), actorID)
			if err != nil {
				// Fail open on limiter errors to avoid blocking all traffic.
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				api.WriteTooManyRequests(w, int(limiter.window.Seconds()))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
