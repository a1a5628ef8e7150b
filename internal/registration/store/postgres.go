package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"tumi/internal/platform/postgres"
	"tumi/internal/registration/models"
	id "tumi/pkg/domain"
	"tumi/pkg/platform/sentinel"
	txcontext "tumi/pkg/platform/tx"
)

// Postgres persists tumi_events, event_registrations and
// event_registration_codes.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) CreateEvent(ctx context.Context, e *models.TumiEvent) error {
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO tumi_events (id, tenant_id, title, participant_registration_count, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.UUID(e.ID), uuid.UUID(e.TenantID), e.Title, e.ParticipantRegistrationCount, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *Postgres) FindEvent(ctx context.Context, eventID id.EventID) (*models.TumiEvent, error) {
	var (
		e        models.TumiEvent
		rawID    uuid.UUID
		tenantID uuid.UUID
	)
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, `
		SELECT id, tenant_id, title, participant_registration_count, created_at
		FROM tumi_events WHERE id = $1`, uuid.UUID(eventID),
	).Scan(&rawID, &tenantID, &e.Title, &e.ParticipantRegistrationCount, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find event: %w", err)
	}
	e.ID = id.EventID(rawID)
	e.TenantID = id.TenantID(tenantID)
	return &e, nil
}

// AdjustParticipantCount adds delta in a single statement, clamping at zero.
func (s *Postgres) AdjustParticipantCount(ctx context.Context, eventID id.EventID, delta int) error {
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		UPDATE tumi_events
		SET participant_registration_count = GREATEST(participant_registration_count + $2, 0)
		WHERE id = $1`, uuid.UUID(eventID), delta,
	)
	if err != nil {
		return fmt.Errorf("adjust participant count: %w", err)
	}
	return expectOne(res)
}

const registrationColumns = `id, user_id, event_id, type, status, cancellation_reason, payment_id, created_at`

func (s *Postgres) CreateRegistration(ctx context.Context, r *models.EventRegistration) error {
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO event_registrations (`+registrationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.UUID(r.ID), uuid.UUID(r.UserID), uuid.UUID(r.EventID), string(r.Type), string(r.Status),
		r.CancellationReason, nullPaymentID(r.PaymentID), r.CreatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert registration: %w", err)
	}
	return nil
}

func (s *Postgres) FindRegistration(ctx context.Context, regID id.RegistrationID) (*models.EventRegistration, error) {
	return scanRegistration(txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+registrationColumns+` FROM event_registrations WHERE id = $1`, uuid.UUID(regID)))
}

func (s *Postgres) FindRegistrationByPayment(ctx context.Context, paymentID id.PaymentID) (*models.EventRegistration, error) {
	return scanRegistration(txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+registrationColumns+` FROM event_registrations WHERE payment_id = $1`, uuid.UUID(paymentID)))
}

func (s *Postgres) ListRegistrationsByUser(ctx context.Context, userID id.UserID) ([]*models.EventRegistration, error) {
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx,
		`SELECT `+registrationColumns+` FROM event_registrations WHERE user_id = $1 ORDER BY created_at DESC`,
		uuid.UUID(userID))
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	var out []*models.EventRegistration
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Postgres) UpdateRegistration(ctx context.Context, r *models.EventRegistration) error {
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		UPDATE event_registrations SET status = $2, cancellation_reason = $3
		WHERE id = $1`,
		uuid.UUID(r.ID), string(r.Status), r.CancellationReason,
	)
	if err != nil {
		return fmt.Errorf("update registration: %w", err)
	}
	return expectOne(res)
}

const codeColumns = `id, event_id, creator_id, registration_to_remove_id, registration_created_id,
	payment_id, status, is_public, created_at`

func (s *Postgres) CreateCode(ctx context.Context, c *models.EventRegistrationCode) error {
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO event_registration_codes (`+codeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.UUID(c.ID), uuid.UUID(c.EventID), uuid.UUID(c.CreatorID),
		nullRegistrationID(c.RegistrationToRemoveID), nullRegistrationID(c.RegistrationCreatedID),
		nullPaymentID(c.PaymentID), string(c.Status), c.IsPublic, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert registration code: %w", err)
	}
	return nil
}

func (s *Postgres) FindCode(ctx context.Context, codeID id.RegistrationCodeID) (*models.EventRegistrationCode, error) {
	return scanCode(txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+codeColumns+` FROM event_registration_codes WHERE id = $1`, uuid.UUID(codeID)))
}

func (s *Postgres) FindCodeByPayment(ctx context.Context, paymentID id.PaymentID) (*models.EventRegistrationCode, error) {
	return scanCode(txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+codeColumns+` FROM event_registration_codes WHERE payment_id = $1`, uuid.UUID(paymentID)))
}

func (s *Postgres) UpdateCode(ctx context.Context, c *models.EventRegistrationCode) error {
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		UPDATE event_registration_codes
		SET registration_to_remove_id = $2, registration_created_id = $3, status = $4
		WHERE id = $1`,
		uuid.UUID(c.ID), nullRegistrationID(c.RegistrationToRemoveID),
		nullRegistrationID(c.RegistrationCreatedID), string(c.Status),
	)
	if err != nil {
		return fmt.Errorf("update registration code: %w", err)
	}
	return expectOne(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRegistration(row rowScanner) (*models.EventRegistration, error) {
	var (
		r                      models.EventRegistration
		rawID, userID, eventID uuid.UUID
		regType, status        string
		reason                 sql.NullString
		paymentID              uuid.NullUUID
	)
	err := row.Scan(&rawID, &userID, &eventID, &regType, &status, &reason, &paymentID, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan registration: %w", err)
	}
	r.ID = id.RegistrationID(rawID)
	r.UserID = id.UserID(userID)
	r.EventID = id.EventID(eventID)
	r.Type = models.Type(regType)
	r.Status = models.Status(status)
	if reason.Valid {
		r.CancellationReason = &reason.String
	}
	if paymentID.Valid {
		pid := id.PaymentID(paymentID.UUID)
		r.PaymentID = &pid
	}
	return &r, nil
}

func scanCode(row rowScanner) (*models.EventRegistrationCode, error) {
	var (
		c                         models.EventRegistrationCode
		rawID, eventID, creatorID uuid.UUID
		toRemove, created, pay    uuid.NullUUID
		status                    string
	)
	err := row.Scan(&rawID, &eventID, &creatorID, &toRemove, &created, &pay, &status, &c.IsPublic, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan registration code: %w", err)
	}
	c.ID = id.RegistrationCodeID(rawID)
	c.EventID = id.EventID(eventID)
	c.CreatorID = id.UserID(creatorID)
	c.Status = models.Status(status)
	if toRemove.Valid {
		v := id.RegistrationID(toRemove.UUID)
		c.RegistrationToRemoveID = &v
	}
	if created.Valid {
		v := id.RegistrationID(created.UUID)
		c.RegistrationCreatedID = &v
	}
	if pay.Valid {
		v := id.PaymentID(pay.UUID)
		c.PaymentID = &v
	}
	return &c, nil
}

func nullPaymentID(p *id.PaymentID) uuid.NullUUID {
	if p == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*p), Valid: true}
}

func nullRegistrationID(r *id.RegistrationID) uuid.NullUUID {
	if r == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*r), Valid: true}
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
