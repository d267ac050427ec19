package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/angelmondragon/farmcart-backend/api/responses"
	pkgerrors "github.com/angelmondragon/farmcart-backend/pkg/errors"
	"github.com/angelmondragon/farmcart-backend/pkg/logger"
)

// RateLimitStore counts requests per key inside a window.
type RateLimitStore interface {
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	RateLimitKey(scope string) string
}

// RateLimitPolicy throttles a public surface with an in-process token bucket
// shared by all callers plus an optional per-IP window counted in Redis.
type RateLimitPolicy struct {
	name    string
	rps     float64
	burst   int
	window  time.Duration
	ipLimit int
}

func NewRateLimitPolicy(name string, rps float64, burst int, window time.Duration, ipLimit int) RateLimitPolicy {
	return RateLimitPolicy{
		name:    strings.ToLower(strings.TrimSpace(name)),
		rps:     rps,
		burst:   burst,
		window:  window,
		ipLimit: ipLimit,
	}
}

func (p RateLimitPolicy) normalizedName() string {
	if p.name == "" {
		return "public"
	}
	return p.name
}

func (p RateLimitPolicy) ipScope(ip string) string {
	if ip == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", p.normalizedName(), ip)
}

// RateLimit enforces policy. A nil store disables the per-IP window.
func RateLimit(policy RateLimitPolicy, store RateLimitStore, logg *logger.Logger) func(http.Handler) http.Handler {
	var bucket *rate.Limiter
	if policy.rps > 0 {
		burst := policy.burst
		if burst <= 0 {
			burst = 1
		}
		bucket = rate.NewLimiter(rate.Limit(policy.rps), burst)
	}
	perIP := store != nil && policy.window > 0 && policy.ipLimit > 0

	return func(next http.Handler) http.Handler {
		if bucket == nil && !perIP {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if bucket != nil && !bucket.Allow() {
				respondRateLimited(ctx, logg, w, policy, "global", "", 0)
				return
			}
			if perIP {
				ip := clientIP(r)
				if scope := policy.ipScope(ip); scope != "" {
					count, err := store.IncrWithTTL(ctx, store.RateLimitKey(scope), policy.window)
					if err != nil {
						responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
						return
					}
					if count > int64(policy.ipLimit) {
						respondRateLimited(ctx, logg, w, policy, "ip", ip, count)
						return
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func respondRateLimited(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, policy RateLimitPolicy, scope, ip string, count int64) {
	if logg != nil {
		fields := map[string]any{
			"scope":  scope,
			"policy": policy.normalizedName(),
		}
		if ip != "" {
			fields["ip"] = ip
			fields["attempts"] = count
			fields["limit"] = policy.ipLimit
		}
		logg.Warn(logg.WithFields(ctx, fields), "rate_limit.blocked")
	}
	responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
}

func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		for _, part := range strings.Split(header, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
