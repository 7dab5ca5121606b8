package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/casinoscope/casinoscopecom/internal/telemetry/tracing"
)

var _ adminRepo = (*Repo)(nil)

type adminRepo interface {
	GetByEmail(ctx context.Context, email string) (*adminRecord, error)
	GetByID(ctx context.Context, id string) (*adminRecord, error)
	UpdateLastLogin(ctx context.Context, id string, lastLogin time.Time) error
}

type Repo struct {
	db *pgxpool.Pool
}

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{
		db: db,
	}
}

const adminColumns = `id, email, role, permissions, password_hash, pin_hash, is_active, created_at, updated_at, last_login`

func (r *Repo) GetByEmail(ctx context.Context, email string) (_ *adminRecord, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "adminRepo.getByEmail")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	rows, err := r.db.Query(
		ctx,
		`SELECT `+adminColumns+` FROM admin_profile WHERE email = $1;`,
		email,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAdminRecord(rows)
}

func (r *Repo) GetByID(ctx context.Context, id string) (_ *adminRecord, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "adminRepo.getByID")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	span.SetAttributes(attribute.String("admin.id", id))

	rows, err := r.db.Query(
		ctx,
		`SELECT `+adminColumns+` FROM admin_profile WHERE id = $1;`,
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAdminRecord(rows)
}

func (r *Repo) UpdateLastLogin(ctx context.Context, id string, lastLogin time.Time) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "adminRepo.updateLastLogin")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	tag, err := r.db.Exec(
		ctx,
		`UPDATE admin_profile SET last_login = $1, updated_at = $1 WHERE id = $2;`,
		lastLogin, id,
	)
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		log.Tracef("admin %s last login not updated", id)
	}

	return nil
}

func scanAdminRecord(rows pgx.Rows) (*adminRecord, error) {
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if !rows.Next() {
		return nil, ErrAdminNotFound
	}

	var rec adminRecord
	if err := rows.Scan(
		&rec.ID, &rec.Email, &rec.Role, &rec.Permissions,
		&rec.PasswordHash, &rec.PinHash, &rec.IsActive,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.LastLogin,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAdminNotFound
		}
		return nil, err
	}

	return &rec, nil
}
