package postgres

import (
	"context"
	"errors"
	"fmt"

	domainErrors "github.com/cassiomorais/eventpay/internal/domain/errors"
	"github.com/cassiomorais/eventpay/internal/domain/registration"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RegistrationRepository implements registration.Repository using PostgreSQL.
type RegistrationRepository struct {
	pool *pgxpool.Pool
}

func NewRegistrationRepository(pool *pgxpool.Pool) *RegistrationRepository {
	return &RegistrationRepository{pool: pool}
}

func (r *RegistrationRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *RegistrationRepository) Create(ctx context.Context, reg *registration.Registration) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO registrations
		 (id, event_id, type, code, full_name, email, mobile, school_name, status, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		reg.ID, reg.EventID, string(reg.Type), reg.Code, reg.FullName, reg.Email, reg.Mobile, reg.SchoolName,
		string(reg.Status), reg.CreatedAt, reg.UpdatedAt,
	)
	if err != nil {
		if _, ok := uniqueConstraint(err); ok {
			return domainErrors.NewValidationError("code", "registration code collision, retry")
		}
		return fmt.Errorf("insert registration: %w", err)
	}
	return nil
}

func (r *RegistrationRepository) GetByID(ctx context.Context, id uuid.UUID) (*registration.Registration, error) {
	reg := &registration.Registration{}
	var regType, status string
	err := r.db(ctx).QueryRow(ctx,
		`SELECT id, event_id, type, code, full_name, email, mobile, school_name, status,
		        created_at, updated_at, confirmed_at, erased_at
		 FROM registrations WHERE id = $1`, id,
	).Scan(&reg.ID, &reg.EventID, &regType, &reg.Code, &reg.FullName, &reg.Email, &reg.Mobile, &reg.SchoolName, &status,
		&reg.CreatedAt, &reg.UpdatedAt, &reg.ConfirmedAt, &reg.ErasedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("get registration: %w", err)
	}
	reg.Type = registration.Type(regType)
	reg.Status = registration.Status(status)
	return reg, nil
}

// MarkConfirmed confirms a pending registration.
func (r *RegistrationRepository) MarkConfirmed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE registrations SET status = 'confirmed', confirmed_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status = 'pending' AND erased_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("confirm registration: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := current.Confirm(); err != nil {
		return err
	}
	return domainErrors.NewStateError(domainErrors.ErrConcurrentModification, string(current.Status), string(registration.StatusConfirmed))
}

// Redact stores the erased personal fields of reg.
func (r *RegistrationRepository) Redact(ctx context.Context, reg *registration.Registration) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE registrations SET full_name = $1, email = $2, mobile = $3, school_name = $4,
		        erased_at = $5, updated_at = $6
		 WHERE id = $7`,
		reg.FullName, reg.Email, reg.Mobile, reg.SchoolName, reg.ErasedAt, reg.UpdatedAt, reg.ID)
	if err != nil {
		return fmt.Errorf("redact registration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrRegistrationNotFound
	}
	return nil
}

// EventRepository reads events. Event management lives elsewhere.
type EventRepository struct {
	pool *pgxpool.Pool
}

func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

func (r *EventRepository) GetByID(ctx context.Context, id uuid.UUID) (*registration.Event, error) {
	e := &registration.Event{}
	err := ConnFromCtx(ctx, r.pool).QueryRow(ctx,
		`SELECT id, title, registration_fee, currency, is_free FROM events WHERE id = $1`, id,
	).Scan(&e.ID, &e.Title, &e.RegistrationFee, &e.Currency, &e.IsFree)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrEventNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}
