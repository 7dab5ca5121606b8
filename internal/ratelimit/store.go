package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

// Entry is the persisted state of one rate limited client.
type Entry struct {
	// Requests holds the unix-milli timestamps of the requests still
	// inside the sliding window, oldest first
	Requests []int64 `json:"requests"`
	// Violations counts how many times in a row the client ran over the
	// limit, it drives the exponential backoff and decays via the store TTL
	Violations   int       `json:"violations"`
	BlockedUntil time.Time `json:"blockedUntil,omitempty"`
}

// Store persists rate limit entries. A nil entry with a nil error means
// the key is not present (or expired).
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Name() string
}

// NewStore picks the store backend at startup: the preferred one when
// reachable, otherwise the next in the redis -> postgres -> memory chain.
// The in-memory store does not survive restarts, so callers refuse it
// in production via allowMemory.
func NewStore(
	ctx context.Context,
	preferred string,
	rdb *redis.Client,
	db *pgxpool.Pool,
	allowMemory bool,
) (Store, error) {
	switch preferred {
	case "redis", "postgres", "memory":
	default:
		return nil, fmt.Errorf("unknown rate limit store backend: %q", preferred)
	}

	if preferred == "redis" {
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err == nil {
				return NewRedisStore(rdb), nil
			} else {
				log.Errorf("rate limit store: redis unreachable, trying postgres: %s", err)
			}
		}
		preferred = "postgres"
	}

	if preferred == "postgres" {
		if db != nil {
			if err := db.Ping(ctx); err == nil {
				return NewPostgresStore(db), nil
			} else {
				log.Errorf("rate limit store: postgres unreachable: %s", err)
			}
		}
		preferred = "memory"
	}

	if !allowMemory {
		return nil, errors.New("no persistent rate limit store reachable")
	}

	log.Warnln("rate limit store: falling back to in-memory, limits will not survive a restart")
	return NewMemoryStore(), nil
}
