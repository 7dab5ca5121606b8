package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

var _ Store = (*PostgresStore)(nil)

// PostgresStore is the fallback backend for when redis is out. Expiry is
// lazy: expired rows are dropped when read.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, key string) (*Entry, error) {
	var entry Entry
	var expiresAt time.Time
	err := s.db.QueryRow(ctx,
		`SELECT entry, expires_at FROM rate_limit_entry WHERE key = $1`,
		key,
	).Scan(&entry, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get rate limit entry: %w", err)
	}

	if time.Now().After(expiresAt) {
		if err := s.Delete(ctx, key); err != nil {
			log.Errorf("rate limit store: failed to drop expired entry %s: %s", key, err)
		}
		return nil, nil
	}
	return &entry, nil
}

func (s *PostgresStore) Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO rate_limit_entry (key, entry, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET entry = $2, expires_at = $3`,
		key, entry, time.Now().Add(ttl),
	)
	if err != nil {
		return fmt.Errorf("set rate limit entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM rate_limit_entry WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete rate limit entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) Name() string {
	return "postgres"
}
