package casino

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/casinoscope/casinoscopecom/internal/telemetry/tracing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
)

var (
	ErrCasinoNotFound = errors.New("casino not found")
	ErrBonusNotFound  = errors.New("bonus not found")
)

type repo interface {
	Add(ctx context.Context, c Casino) (*Casino, error)
	Update(ctx context.Context, c *Casino) error
	Delete(ctx context.Context, id int) error
	Get(ctx context.Context, id int) (*Casino, error)
	List(ctx context.Context, params ListParams) ([]Casino, int, error)
	Bonuses(ctx context.Context, casinoID int) ([]Bonus, error)
	AddBonus(ctx context.Context, b Bonus) (*Bonus, error)
	DeleteBonus(ctx context.Context, id int) error
}

type Repo struct {
	db *pgxpool.Pool
}

var _ repo = (*Repo)(nil)

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{
		db: db,
	}
}

func (r *Repo) Add(ctx context.Context, c Casino) (_ *Casino, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.casino.add")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	prosJson, consJson, paymentsJson, err := marshalListFields(&c)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(
		ctx,
		`INSERT INTO casino
				(name, slug, website, license, rating, description,
				 pros, cons, payment_methods, featured, published, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
			RETURNING id;`,
		c.Name, c.Slug, c.Website, c.License, c.Rating, c.Description,
		prosJson, consJson, paymentsJson, c.Featured, c.Published, c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if !rows.Next() {
		return nil, errors.New("unexpected error [no rows next]")
	}

	var id int
	if err := rows.Scan(&id); err != nil {
		return nil, fmt.Errorf("rows scan: %w", err)
	}

	span.SetAttributes(attribute.Int("casino.id", id))

	c.ID = id
	c.UpdatedAt = c.CreatedAt
	return &c, nil
}

func (r *Repo) Update(ctx context.Context, c *Casino) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.casino.update")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("id", c.ID))

	prosJson, consJson, paymentsJson, err := marshalListFields(c)
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(
		ctx,
		`UPDATE casino SET
				name = $1, slug = $2, website = $3, license = $4, rating = $5,
				description = $6, pros = $7, cons = $8, payment_methods = $9,
				featured = $10, published = $11, updated_at = $12
			WHERE id = $13;`,
		c.Name, c.Slug, c.Website, c.License, c.Rating,
		c.Description, prosJson, consJson, paymentsJson,
		c.Featured, c.Published, time.Now(), c.ID,
	)
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return ErrCasinoNotFound
	}

	return nil
}

func (r *Repo) Delete(ctx context.Context, id int) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.casino.delete")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("id", id))

	tag, err := r.db.Exec(
		ctx,
		`DELETE FROM casino WHERE id = $1`,
		id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCasinoNotFound
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, id int) (_ *Casino, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.casino.get")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("id", id))

	rows, err := r.db.Query(
		ctx,
		`SELECT
				id, name, slug, website, license, rating, description,
				pros, cons, payment_methods, featured, published, created_at, updated_at
			FROM casino WHERE id = $1;`,
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if err := rows.Err(); err != nil {
		return nil, err
	}

	casinos, err := rows2casinos(rows)
	if err != nil {
		return nil, err
	}

	if len(casinos) != 1 {
		return nil, ErrCasinoNotFound
	}

	return &casinos[0], nil
}

// List returns the requested page of casinos and the total count for the
// same filters
func (r *Repo) List(ctx context.Context, params ListParams) (_ []Casino, total int, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.casino.list")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("page", params.Page))
	span.SetAttributes(attribute.Int("size", params.Size))
	span.SetAttributes(attribute.String("query", params.Query))

	if params.Page < 1 {
		return nil, -1, errors.New("page must be greater than 0")
	}
	if params.Size < 1 {
		return nil, -1, errors.New("size must be greater than 0")
	}

	if err := r.db.QueryRow(
		ctx,
		`SELECT COUNT(*) FROM casino
			WHERE ($1::text = '' OR name ILIKE '%' || $1 || '%' OR description ILIKE '%' || $1 || '%')
			AND ($2::float8 <= 0 OR rating >= $2)
			AND ($3::boolean IS FALSE OR featured)
			AND ($4::boolean IS TRUE OR published);`,
		params.Query, params.MinRating, params.FeaturedOnly, params.IncludeUnpublished,
	).Scan(&total); err != nil {
		return nil, -1, fmt.Errorf("count casinos: %w", err)
	}

	rows, err := r.db.Query(
		ctx,
		`SELECT
				id, name, slug, website, license, rating, description,
				pros, cons, payment_methods, featured, published, created_at, updated_at
			FROM casino
			WHERE ($1::text = '' OR name ILIKE '%' || $1 || '%' OR description ILIKE '%' || $1 || '%')
			AND ($2::float8 <= 0 OR rating >= $2)
			AND ($3::boolean IS FALSE OR featured)
			AND ($4::boolean IS TRUE OR published)
			ORDER BY featured DESC, rating DESC, name
			LIMIT $5 OFFSET $6;`,
		params.Query, params.MinRating, params.FeaturedOnly, params.IncludeUnpublished,
		params.Size, (params.Page-1)*params.Size,
	)
	if err != nil {
		return nil, -1, fmt.Errorf("query casinos: %w", err)
	}
	defer rows.Close()

	if err := rows.Err(); err != nil {
		return nil, -1, fmt.Errorf("rows: %w", err)
	}

	casinos, err := rows2casinos(rows)
	if err != nil {
		return nil, -1, fmt.Errorf("rows2casinos: %w", err)
	}
	return casinos, total, nil
}

func (r *Repo) Bonuses(ctx context.Context, casinoID int) (_ []Bonus, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.casino.bonuses")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("casino.id", casinoID))

	rows, err := r.db.Query(
		ctx,
		`SELECT
				id, casino_id, title, bonus_type, amount, wagering,
				promo_code, valid_until, active, created_at
			FROM bonus
			WHERE casino_id = $1 AND active
			ORDER BY created_at DESC;`,
		casinoID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if err := rows.Err(); err != nil {
		return nil, err
	}

	var bonuses []Bonus
	for rows.Next() {
		var b Bonus
		if err := rows.Scan(
			&b.ID, &b.CasinoID, &b.Title, &b.BonusType, &b.Amount, &b.Wagering,
			&b.PromoCode, &b.ValidUntil, &b.Active, &b.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("rows scan: %w", err)
		}
		bonuses = append(bonuses, b)
	}
	return bonuses, nil
}

func (r *Repo) AddBonus(ctx context.Context, b Bonus) (_ *Bonus, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.casino.addBonus")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("casino.id", b.CasinoID))

	var id int
	err = r.db.QueryRow(
		ctx,
		`INSERT INTO bonus
				(casino_id, title, bonus_type, amount, wagering, promo_code, valid_until, active, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id;`,
		b.CasinoID, b.Title, b.BonusType, b.Amount, b.Wagering, b.PromoCode, b.ValidUntil, b.Active, b.CreatedAt,
	).Scan(&id)
	if err != nil {
		return nil, err
	}

	b.ID = id
	return &b, nil
}

func (r *Repo) DeleteBonus(ctx context.Context, id int) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.casino.deleteBonus")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("id", id))

	tag, err := r.db.Exec(
		ctx,
		`DELETE FROM bonus WHERE id = $1`,
		id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBonusNotFound
	}
	return nil
}

func marshalListFields(c *Casino) (pros, cons, payments []byte, err error) {
	if pros, err = json.Marshal(c.Pros); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal pros: %w", err)
	}
	if cons, err = json.Marshal(c.Cons); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal cons: %w", err)
	}
	if payments, err = json.Marshal(c.PaymentMethods); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal payment methods: %w", err)
	}
	return pros, cons, payments, nil
}

func rows2casinos(rows pgx.Rows) ([]Casino, error) {
	var casinos []Casino
	for rows.Next() {
		var c Casino
		var prosJson, consJson, paymentsJson []byte
		if err := rows.Scan(
			&c.ID, &c.Name, &c.Slug, &c.Website, &c.License, &c.Rating, &c.Description,
			&prosJson, &consJson, &paymentsJson, &c.Featured, &c.Published, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("rows scan: %w", err)
		}
		if err := json.Unmarshal(prosJson, &c.Pros); err != nil {
			return nil, fmt.Errorf("unmarshal pros: %w", err)
		}
		if err := json.Unmarshal(consJson, &c.Cons); err != nil {
			return nil, fmt.Errorf("unmarshal cons: %w", err)
		}
		if err := json.Unmarshal(paymentsJson, &c.PaymentMethods); err != nil {
			return nil, fmt.Errorf("unmarshal payment methods: %w", err)
		}
		casinos = append(casinos, c)
	}
	return casinos, nil
}
