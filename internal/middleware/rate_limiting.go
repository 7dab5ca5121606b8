package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/casinoscope/casinoscopecom/internal/audit"
	"github.com/casinoscope/casinoscopecom/internal/ratelimit"
	"github.com/casinoscope/casinoscopecom/internal/telemetry/metrics"
	"github.com/casinoscope/casinoscopecom/pkg"

	"github.com/go-redis/redis_rate/v9"
	log "github.com/sirupsen/logrus"
)

type RequestRateLimiter interface {
	Allow(ctx context.Context, key string, limit redis_rate.Limit) (*redis_rate.Result, error)
}

type securityAuditor interface {
	Record(ctx context.Context, event *audit.Event)
}

// RateLimit is the cheap per-route limiter for public content endpoints,
// a plain redis counter with no memory between restarts
func RateLimit(rateLimiter RequestRateLimiter, routerName string, allowedPerMin int) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := rateLimiter.Allow(
				r.Context(),
				routerName,
				redis_rate.PerMinute(allowedPerMin),
			)
			if err != nil {
				// fail open, same as the persistent limiter
				log.Errorf("rate limit [%s], allow check failed: %s", routerName, err)
				next.ServeHTTP(w, r)
				return
			}

			if res.Allowed > 0 {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
			http.Error(
				w,
				fmt.Sprintf("retry after %.0f seconds", res.RetryAfter.Seconds()),
				http.StatusTooManyRequests,
			)
		})
	}
}

// PersistentRateLimit guards the sensitive routes (login, admin panel)
// with the store-backed sliding window limiter, keyed by client ip.
// Repeat offenders get exponentially longer blocks that survive service
// restarts. Denied requests end up in the security audit log.
func PersistentRateLimit(
	limiter *ratelimit.Limiter,
	routerName string,
	policy ratelimit.Policy,
	metricsManager *metrics.Manager,
	auditor securityAuditor,
) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIp, err := pkg.ReadUserIP(r)
			if err != nil {
				// no usable client address, let the request through
				// instead of limiting all such clients as one
				log.Errorf("rate limit [%s], failed to read client ip: %s", routerName, err)
				next.ServeHTTP(w, r)
				return
			}

			key := fmt.Sprintf("%s::%s", routerName, clientIp)
			res := limiter.Check(r.Context(), key, policy)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if res.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			if metricsManager != nil {
				metricsManager.CounterRateLimitedRequests.Inc()
			}

			retryAfterSeconds := int(math.Ceil(res.RetryAfter.Seconds()))
			if retryAfterSeconds < 1 {
				retryAfterSeconds = 1
			}

			if auditor != nil {
				eventType := audit.EventTypeRateLimitBlocked
				severity := audit.SeverityLow
				if res.NewViolation {
					// the check that tripped the limit, requests after
					// it just bounce off the existing block
					eventType = audit.EventTypeRateLimitExceeded
					severity = audit.SeverityMedium
				}
				auditor.Record(r.Context(), &audit.Event{
					Type:      eventType,
					Severity:  severity,
					IPAddress: clientIp,
					UserAgent: r.UserAgent(),
					Metadata: map[string]any{
						"route":               routerName,
						"violations":          res.Violations,
						"retry_after_seconds": retryAfterSeconds,
					},
				})
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
			http.Error(
				w,
				fmt.Sprintf("rate limit exceeded, retry after %d seconds", retryAfterSeconds),
				http.StatusTooManyRequests,
			)
		})
	}
}
