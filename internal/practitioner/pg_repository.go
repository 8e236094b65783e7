package practitioner

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const practitionerColumns = `id, email, name, specialty, address, postcode, city, lat, lon,
	subscription_tier, stripe_customer_id, created_at, updated_at`

// Helpers

func scanPractitioner(row pgx.Row) (*Practitioner, error) {
	var p Practitioner

	err := row.Scan(
		&p.ID,
		&p.Email,
		&p.Name,
		&p.Specialty,
		&p.Address,
		&p.Postcode,
		&p.City,
		&p.Lat,
		&p.Lon,
		&p.Tier,
		&p.StripeCustomerID,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPractitionerNotFound
		}
		return nil, err
	}

	return &p, nil
}

func scanReferral(row pgx.Row) (*Referral, error) {
	var r Referral

	if err := row.Scan(&r.ID, &r.PractitionerID, &r.Email, &r.CreatedAt); err != nil {
		return nil, err
	}

	return &r, nil
}

// Interface methods

func (r *PgRepository) GetByID(ctx context.Context, id string) (*Practitioner, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+practitionerColumns+`
		FROM practitioners
		WHERE id = $1
	`, id)
	return scanPractitioner(row)
}

func (r *PgRepository) Create(ctx context.Context, p Practitioner) (*Practitioner, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO practitioners (id, email, name, specialty, subscription_tier, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		RETURNING `+practitionerColumns,
		p.ID, p.Email, p.Name, p.Specialty, p.Tier)

	created, err := scanPractitioner(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrAlreadyOnboarded
		}
		return nil, err
	}
	return created, nil
}

func (r *PgRepository) UpdateProfile(ctx context.Context, p Practitioner) (*Practitioner, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE practitioners
		SET name = $2,
		    specialty = $3,
		    address = $4,
		    postcode = $5,
		    city = $6,
		    lat = $7,
		    lon = $8,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+practitionerColumns,
		p.ID, p.Name, p.Specialty, p.Address, p.Postcode, p.City, p.Lat, p.Lon)

	return scanPractitioner(row)
}

func (r *PgRepository) ListAll(ctx context.Context, limit, offset int) ([]Practitioner, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+practitionerColumns+`
		FROM practitioners
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Practitioner
	for rows.Next() {
		p, err := scanPractitioner(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) SetSubscription(ctx context.Context, id, tier string, customerID *string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE practitioners
		SET subscription_tier = $2,
		    stripe_customer_id = COALESCE($3, stripe_customer_id),
		    updated_at = now()
		WHERE id = $1
	`, id, tier, customerID)
	if err != nil {
		return fmt.Errorf("set subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPractitionerNotFound
	}
	return nil
}

func (r *PgRepository) FindByCustomerID(ctx context.Context, customerID string) (*Practitioner, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+practitionerColumns+`
		FROM practitioners
		WHERE stripe_customer_id = $1
	`, customerID)
	return scanPractitioner(row)
}

func (r *PgRepository) InsertPaymentLog(ctx context.Context, l PaymentLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO payment_logs (event_id, event_type, practitioner_id, payload, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (event_id) DO NOTHING
	`, l.EventID, l.EventType, l.PractitionerID, l.Payload)
	if err != nil {
		return fmt.Errorf("insert payment log: %w", err)
	}
	return nil
}

func (r *PgRepository) CreateReferral(ctx context.Context, ref Referral) (*Referral, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO referrals (id, practitioner_id, email, created_at)
		VALUES ($1, $2, $3, now())
		RETURNING id, practitioner_id, email, created_at
	`, ref.ID, ref.PractitionerID, ref.Email)
	return scanReferral(row)
}

func (r *PgRepository) ListReferrals(ctx context.Context, practitionerID string) ([]Referral, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, practitioner_id, email, created_at
		FROM referrals
		WHERE practitioner_id = $1
		ORDER BY created_at DESC
	`, practitionerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Referral
	for rows.Next() {
		ref, err := scanReferral(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ref)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
