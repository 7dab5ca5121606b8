package ratelimit

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/casinoscope/casinoscopecom/internal/telemetry/tracing"
)

// longest a client can be blocked for, no matter the violation streak
const maxBackoff = 24 * time.Hour

// Policy is the per-route limit: MaxRequests per sliding Window, with
// repeat offenders blocked for at least BaseBlock.
type Policy struct {
	Window      time.Duration
	MaxRequests int
	BaseBlock   time.Duration
}

// Result is what a single Check decided, the middleware turns it into
// X-RateLimit-* headers.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAt is when the window frees up a slot again, or when the
	// block lifts
	ResetAt    time.Time
	RetryAfter time.Duration
	// Violations is the client's offense streak, zero while within limits
	Violations int
	// NewViolation marks the exact check that tripped the limit, as
	// opposed to a request arriving during an already active block
	NewViolation bool
}

// Limiter counts requests per key over a sliding window, persisted in the
// given store so limits survive restarts. Store errors fail open: limiting
// protects capacity, it must never take the whole site down with it.
type Limiter struct {
	store Store

	// NowFunc is swappable for tests
	NowFunc func() time.Time
}

func NewLimiter(store Store) *Limiter {
	return &Limiter{
		store:   store,
		NowFunc: time.Now,
	}
}

func (l *Limiter) StoreName() string {
	return l.store.Name()
}

// Check consumes one request slot for the key, or denies it. Repeated
// runs over the limit double the block each time, up to 24 hours, never
// below the policy base block.
func (l *Limiter) Check(ctx context.Context, key string, policy Policy) *Result {
	ctx, span := tracing.GlobalTracer.Start(ctx, "ratelimit.check")
	defer span.End()
	span.SetAttributes(attribute.String("ratelimit.key", key))

	now := l.NowFunc()

	entry, err := l.store.Get(ctx, key)
	if err != nil {
		log.Errorf("rate limit check [%s], failed to read entry: %s", key, err)
		return l.failOpen(now, policy)
	}
	if entry == nil {
		entry = &Entry{}
	}

	if now.Before(entry.BlockedUntil) {
		log.Warnf("rate limit check [%s]: still blocked for %s", key, entry.BlockedUntil.Sub(now))
		return &Result{
			Allowed:    false,
			Limit:      policy.MaxRequests,
			Remaining:  0,
			ResetAt:    entry.BlockedUntil,
			RetryAfter: entry.BlockedUntil.Sub(now),
			Violations: entry.Violations,
		}
	}

	windowStart := now.Add(-policy.Window).UnixMilli()
	kept := entry.Requests[:0]
	for _, ts := range entry.Requests {
		if ts > windowStart {
			kept = append(kept, ts)
		}
	}
	entry.Requests = kept

	if len(entry.Requests) >= policy.MaxRequests {
		entry.Violations++
		block := blockDuration(entry.Violations, policy.BaseBlock)
		entry.BlockedUntil = now.Add(block)

		// keep the entry around past the block so the violation streak
		// still counts on the next offense
		if err := l.store.Set(ctx, key, entry, block+policy.Window); err != nil {
			log.Errorf("rate limit check [%s], failed to store block: %s", key, err)
		}
		log.Warnf("rate limit exceeded for %s, violation %d, blocked for %s", key, entry.Violations, block)

		return &Result{
			Allowed:      false,
			Limit:        policy.MaxRequests,
			Remaining:    0,
			ResetAt:      entry.BlockedUntil,
			RetryAfter:   block,
			Violations:   entry.Violations,
			NewViolation: true,
		}
	}

	entry.BlockedUntil = time.Time{} // clear a lapsed block
	entry.Requests = append(entry.Requests, now.UnixMilli())

	ttl := policy.Window
	if entry.Violations > 0 {
		ttl = maxBackoff
	}
	if err := l.store.Set(ctx, key, entry, ttl); err != nil {
		log.Errorf("rate limit check [%s], failed to store entry: %s", key, err)
		return l.failOpen(now, policy)
	}

	return &Result{
		Allowed:   true,
		Limit:     policy.MaxRequests,
		Remaining: policy.MaxRequests - len(entry.Requests),
		ResetAt:   time.UnixMilli(entry.Requests[0]).Add(policy.Window),
	}
}

// Reset drops all state for the key, used by admins to unblock a client
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.store.Delete(ctx, key)
}

func (l *Limiter) failOpen(now time.Time, policy Policy) *Result {
	return &Result{
		Allowed:   true,
		Limit:     policy.MaxRequests,
		Remaining: policy.MaxRequests - 1,
		ResetAt:   now.Add(policy.Window),
	}
}

func blockDuration(violations int, baseBlock time.Duration) time.Duration {
	// 2^11 minutes is already past the 24h cap
	if violations > 11 {
		return maxBackoff
	}
	block := time.Duration(1<<uint(violations)) * time.Minute
	if block > maxBackoff {
		block = maxBackoff
	}
	if block < baseBlock {
		block = baseBlock
	}
	return block
}
