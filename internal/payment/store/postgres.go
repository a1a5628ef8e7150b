package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"tumi/internal/payment/models"
	"tumi/internal/platform/postgres"
	id "tumi/pkg/domain"
	"tumi/pkg/platform/sentinel"
	txcontext "tumi/pkg/platform/tx"
)

// Postgres persists stripe_payments and stripe_user_data.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const paymentColumns = `id, payment_intent, status, amount, currency, net_amount, fee_amount,
	refunded_amount, shipping, payment_method, payment_method_type, events, created_at, updated_at`

func (s *Postgres) Create(ctx context.Context, p *models.StripePayment) error {
	events := p.Events
	if len(events) == 0 {
		events = []byte("[]")
	}
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO stripe_payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		uuid.UUID(p.ID), p.PaymentIntent, string(p.Status), p.Amount, p.Currency,
		p.NetAmount, p.FeeAmount, p.RefundedAmount, nullJSON(p.Shipping),
		p.PaymentMethod, p.PaymentMethodType, string(events), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, paymentID id.PaymentID) (*models.StripePayment, error) {
	row := txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM stripe_payments WHERE id = $1`, uuid.UUID(paymentID))
	return scanPayment(row)
}

// FindByPaymentIntent locks the row when called inside a transaction so
// concurrent deliveries for the same intent serialize.
func (s *Postgres) FindByPaymentIntent(ctx context.Context, paymentIntent string) (*models.StripePayment, error) {
	query := `SELECT ` + paymentColumns + ` FROM stripe_payments WHERE payment_intent = $1`
	if _, ok := txcontext.From(ctx); ok {
		query += ` FOR UPDATE`
	}
	row := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, query, paymentIntent)
	return scanPayment(row)
}

func (s *Postgres) Update(ctx context.Context, p *models.StripePayment) error {
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		UPDATE stripe_payments SET
			status = $2, net_amount = $3, fee_amount = $4, refunded_amount = $5,
			shipping = $6, payment_method = $7, payment_method_type = $8, events = $9,
			updated_at = NOW()
		WHERE id = $1`,
		uuid.UUID(p.ID), string(p.Status), p.NetAmount, p.FeeAmount, p.RefundedAmount,
		nullJSON(p.Shipping), p.PaymentMethod, p.PaymentMethodType, string(p.Events),
	)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	return expectOne(res)
}

func (s *Postgres) CreateUserData(ctx context.Context, d *models.StripeUserData) error {
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO stripe_user_data (id, user_id, customer_id, payment_method_id)
		VALUES ($1, $2, $3, $4)`,
		uuid.UUID(d.ID), uuid.UUID(d.UserID), d.CustomerID, d.PaymentMethodID,
	)
	if err != nil {
		return fmt.Errorf("insert stripe user data: %w", err)
	}
	return nil
}

func (s *Postgres) FindUserData(ctx context.Context, dataID id.StripeUserDataID) (*models.StripeUserData, error) {
	var (
		d      models.StripeUserData
		rawID  uuid.UUID
		userID uuid.UUID
		pm     sql.NullString
	)
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT id, user_id, customer_id, payment_method_id FROM stripe_user_data WHERE id = $1`,
		uuid.UUID(dataID),
	).Scan(&rawID, &userID, &d.CustomerID, &pm)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find stripe user data: %w", err)
	}
	d.ID = id.StripeUserDataID(rawID)
	d.UserID = id.UserID(userID)
	if pm.Valid {
		d.PaymentMethodID = &pm.String
	}
	return &d, nil
}

func (s *Postgres) SetUserPaymentMethod(ctx context.Context, dataID id.StripeUserDataID, paymentMethodID string) error {
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx,
		`UPDATE stripe_user_data SET payment_method_id = $2 WHERE id = $1`,
		uuid.UUID(dataID), paymentMethodID,
	)
	if err != nil {
		return fmt.Errorf("update stripe user data: %w", err)
	}
	return expectOne(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*models.StripePayment, error) {
	var (
		p                  models.StripePayment
		rawID              uuid.UUID
		status             string
		net, fee, refunded sql.NullInt64
		shipping, events   []byte
		method, methodType sql.NullString
	)
	err := row.Scan(&rawID, &p.PaymentIntent, &status, &p.Amount, &p.Currency, &net, &fee,
		&refunded, &shipping, &method, &methodType, &events, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	p.ID = id.PaymentID(rawID)
	p.Status = models.Status(status)
	p.NetAmount = int64Ptr(net)
	p.FeeAmount = int64Ptr(fee)
	p.RefundedAmount = int64Ptr(refunded)
	p.Shipping = shipping
	p.Events = events
	p.PaymentMethod = stringPtr(method)
	p.PaymentMethodType = stringPtr(methodType)
	return &p, nil
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

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
