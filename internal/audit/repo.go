package audit

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"

	"github.com/casinoscope/casinoscopecom/internal/telemetry/tracing"
)

var _ eventsRepo = (*Repo)(nil)

type eventsRepo interface {
	Add(ctx context.Context, event *Event) error
	FailedLogins(ctx context.Context, email string, since time.Time) ([]Event, error)
	ListAfter(ctx context.Context, after time.Time, limit int) ([]Event, error)
	EventsCount(ctx context.Context) (int, error)
}

type Repo struct {
	db *pgxpool.Pool
}

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{
		db: db,
	}
}

func (r *Repo) Add(ctx context.Context, event *Event) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "auditRepo.add")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	span.SetAttributes(attribute.String("event.type", string(event.Type)))
	span.SetAttributes(attribute.String("event.severity", string(event.Severity)))

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	rows, err := r.db.Query(
		ctx,
		`INSERT INTO security_event (event_type, severity, user_id, ip_address, user_agent, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id;`,
		event.Type, event.Severity, event.UserID, event.IPAddress, event.UserAgent, event.Metadata, event.CreatedAt,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	if err := rows.Err(); err != nil {
		return err
	}

	if rows.Next() {
		return rows.Scan(&event.ID)
	}

	return pgx.ErrNoRows
}

// FailedLogins returns failed login events for the given email since the
// given moment, most recent first; feeds the sign-in lockout check
func (r *Repo) FailedLogins(ctx context.Context, email string, since time.Time) (_ []Event, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "auditRepo.failedLogins")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	rows, err := r.db.Query(
		ctx,
		`SELECT id, event_type, severity, user_id, ip_address, user_agent, metadata, created_at
			FROM security_event
			WHERE event_type = $1 AND metadata->>'email' = $2 AND created_at > $3
			ORDER BY created_at DESC;`,
		EventTypeLoginFailed, email, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return rows2events(rows)
}

// ListAfter returns events created after the given moment, oldest first,
// used by the audit log backup service
func (r *Repo) ListAfter(ctx context.Context, after time.Time, limit int) (_ []Event, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "auditRepo.listAfter")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	rows, err := r.db.Query(
		ctx,
		`SELECT id, event_type, severity, user_id, ip_address, user_agent, metadata, created_at
			FROM security_event
			WHERE created_at > $1
			ORDER BY created_at ASC
			LIMIT $2;`,
		after, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return rows2events(rows)
}

func (r *Repo) EventsCount(ctx context.Context) (int, error) {
	rows, err := r.db.Query(ctx, `SELECT COUNT(*) FROM security_event;`)
	if err != nil {
		return -1, err
	}
	defer rows.Close()

	if err := rows.Err(); err != nil {
		return -1, err
	}

	if rows.Next() {
		var count int
		if err := rows.Scan(&count); err != nil {
			return -1, err
		}
		return count, nil
	}

	return -1, pgx.ErrNoRows
}

func rows2events(rows pgx.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(
			&e.ID, &e.Type, &e.Severity, &e.UserID,
			&e.IPAddress, &e.UserAgent, &e.Metadata, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
