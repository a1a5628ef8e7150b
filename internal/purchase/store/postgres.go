package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"tumi/internal/platform/postgres"
	"tumi/internal/purchase/models"
	id "tumi/pkg/domain"
	"tumi/pkg/platform/sentinel"
	txcontext "tumi/pkg/platform/tx"
)

// Postgres persists purchases, shopping carts, line items and products.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const purchaseColumns = `id, user_id, tenant_id, status, cancellation_reason, payment_id, created_at`

func (s *Postgres) CreatePurchase(ctx context.Context, p *models.Purchase) error {
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO purchases (`+purchaseColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.UUID(p.ID), uuid.UUID(p.UserID), uuid.UUID(p.TenantID), string(p.Status),
		p.CancellationReason, nullPaymentID(p.PaymentID), p.CreatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert purchase: %w", err)
	}
	return nil
}

func (s *Postgres) FindPurchase(ctx context.Context, purchaseID id.PurchaseID) (*models.Purchase, error) {
	return scanPurchase(txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE id = $1`, uuid.UUID(purchaseID)))
}

func (s *Postgres) FindPurchaseByPayment(ctx context.Context, paymentID id.PaymentID) (*models.Purchase, error) {
	return scanPurchase(txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE payment_id = $1`, uuid.UUID(paymentID)))
}

func (s *Postgres) ListPurchasesByUser(ctx context.Context, userID id.UserID, tenantID id.TenantID) ([]*models.Purchase, error) {
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE user_id = $1 AND tenant_id = $2 ORDER BY created_at DESC`,
		uuid.UUID(userID), uuid.UUID(tenantID))
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	defer rows.Close()
	var out []*models.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Postgres) UpdatePurchase(ctx context.Context, p *models.Purchase) error {
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx,
		`UPDATE purchases SET status = $2, cancellation_reason = $3 WHERE id = $1`,
		uuid.UUID(p.ID), string(p.Status), p.CancellationReason,
	)
	if err != nil {
		return fmt.Errorf("update purchase: %w", err)
	}
	return expectOne(res)
}

func (s *Postgres) FindCart(ctx context.Context, userID id.UserID, tenantID id.TenantID) (*models.ShoppingCart, error) {
	var (
		c                   models.ShoppingCart
		rawID, user, tenant uuid.UUID
	)
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT id, user_id, tenant_id, created_at FROM shopping_carts WHERE user_id = $1 AND tenant_id = $2`,
		uuid.UUID(userID), uuid.UUID(tenantID),
	).Scan(&rawID, &user, &tenant, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find cart: %w", err)
	}
	c.ID = id.CartID(rawID)
	c.UserID = id.UserID(user)
	c.TenantID = id.TenantID(tenant)
	return &c, nil
}

func (s *Postgres) CreateCart(ctx context.Context, c *models.ShoppingCart) error {
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx,
		`INSERT INTO shopping_carts (id, user_id, tenant_id, created_at) VALUES ($1, $2, $3, $4)`,
		uuid.UUID(c.ID), uuid.UUID(c.UserID), uuid.UUID(c.TenantID), c.CreatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert cart: %w", err)
	}
	return nil
}

func (s *Postgres) CreateProduct(ctx context.Context, p *models.Product) error {
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx,
		`INSERT INTO products (id, tenant_id, title, price) VALUES ($1, $2, $3, $4)`,
		uuid.UUID(p.ID), uuid.UUID(p.TenantID), p.Title, p.Price,
	)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (s *Postgres) FindProduct(ctx context.Context, productID id.ProductID) (*models.Product, error) {
	var (
		p             models.Product
		rawID, tenant uuid.UUID
	)
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT id, tenant_id, title, price FROM products WHERE id = $1`, uuid.UUID(productID),
	).Scan(&rawID, &tenant, &p.Title, &p.Price)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find product: %w", err)
	}
	p.ID = id.ProductID(rawID)
	p.TenantID = id.TenantID(tenant)
	return &p, nil
}

const lineItemColumns = `id, cart_id, purchase_id, product_id, quantity, cost, cancellation_reason,
	pickup_time, submissions, created_at`

func (s *Postgres) CreateLineItem(ctx context.Context, li *models.LineItem) error {
	subs, err := json.Marshal(submissionsOrEmpty(li.Submissions))
	if err != nil {
		return fmt.Errorf("marshal submissions: %w", err)
	}
	var cartID, purchaseID uuid.NullUUID
	if li.CartID != nil {
		cartID = uuid.NullUUID{UUID: uuid.UUID(*li.CartID), Valid: true}
	}
	if li.PurchaseID != nil {
		purchaseID = uuid.NullUUID{UUID: uuid.UUID(*li.PurchaseID), Valid: true}
	}
	_, err = txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO line_items (`+lineItemColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		uuid.UUID(li.ID), cartID, purchaseID, uuid.UUID(li.ProductID), li.Quantity, li.Cost,
		li.CancellationReason, li.PickupTime, string(subs), li.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert line item: %w", err)
	}
	return nil
}

func (s *Postgres) FindLineItem(ctx context.Context, itemID id.LineItemID) (*models.LineItem, error) {
	return scanLineItem(txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+lineItemColumns+` FROM line_items WHERE id = $1`, uuid.UUID(itemID)))
}

func (s *Postgres) ListLineItemsByCart(ctx context.Context, cartID id.CartID) ([]*models.LineItem, error) {
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx,
		`SELECT `+lineItemColumns+` FROM line_items WHERE cart_id = $1 ORDER BY created_at`, uuid.UUID(cartID))
	if err != nil {
		return nil, fmt.Errorf("list line items: %w", err)
	}
	defer rows.Close()
	var out []*models.LineItem
	for rows.Next() {
		li, err := scanLineItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, li)
	}
	return out, rows.Err()
}

// AddLineItemQuantity applies delta atomically. The WHERE clause keeps the
// quantity at or above MinQuantity; a refused decrement reports
// ErrInvalidState.
func (s *Postgres) AddLineItemQuantity(ctx context.Context, itemID id.LineItemID, delta int) (*models.LineItem, error) {
	li, err := scanLineItem(txcontext.Exec(ctx, s.db).QueryRowContext(ctx, `
		UPDATE line_items SET quantity = quantity + $2
		WHERE id = $1 AND quantity + $2 >= $3
		RETURNING `+lineItemColumns, uuid.UUID(itemID), delta, models.MinQuantity))
	if errors.Is(err, sentinel.ErrNotFound) {
		if _, findErr := s.FindLineItem(ctx, itemID); findErr != nil {
			return nil, findErr
		}
		return nil, sentinel.ErrInvalidState
	}
	return li, err
}

func (s *Postgres) DeleteLineItem(ctx context.Context, itemID id.LineItemID) (*models.LineItem, error) {
	return scanLineItem(txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`DELETE FROM line_items WHERE id = $1 RETURNING `+lineItemColumns, uuid.UUID(itemID)))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPurchase(row rowScanner) (*models.Purchase, error) {
	var (
		p                   models.Purchase
		rawID, user, tenant uuid.UUID
		status              string
		reason              sql.NullString
		paymentID           uuid.NullUUID
	)
	err := row.Scan(&rawID, &user, &tenant, &status, &reason, &paymentID, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan purchase: %w", err)
	}
	p.ID = id.PurchaseID(rawID)
	p.UserID = id.UserID(user)
	p.TenantID = id.TenantID(tenant)
	p.Status = models.Status(status)
	if reason.Valid {
		p.CancellationReason = &reason.String
	}
	if paymentID.Valid {
		pid := id.PaymentID(paymentID.UUID)
		p.PaymentID = &pid
	}
	return &p, nil
}

func scanLineItem(row rowScanner) (*models.LineItem, error) {
	var (
		li                 models.LineItem
		rawID, productID   uuid.UUID
		cartID, purchaseID uuid.NullUUID
		reason             sql.NullString
		pickup             sql.NullTime
		subs               []byte
	)
	err := row.Scan(&rawID, &cartID, &purchaseID, &productID, &li.Quantity, &li.Cost, &reason,
		&pickup, &subs, &li.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan line item: %w", err)
	}
	li.ID = id.LineItemID(rawID)
	li.ProductID = id.ProductID(productID)
	if cartID.Valid {
		v := id.CartID(cartID.UUID)
		li.CartID = &v
	}
	if purchaseID.Valid {
		v := id.PurchaseID(purchaseID.UUID)
		li.PurchaseID = &v
	}
	if reason.Valid {
		li.CancellationReason = &reason.String
	}
	if pickup.Valid {
		li.PickupTime = &pickup.Time
	}
	if len(subs) > 0 {
		if err := json.Unmarshal(subs, &li.Submissions); err != nil {
			return nil, fmt.Errorf("decode submissions: %w", err)
		}
	}
	return &li, nil
}

func submissionsOrEmpty(s []models.Submission) []models.Submission {
	if s == nil {
		return []models.Submission{}
	}
	return s
}

func nullPaymentID(p *id.PaymentID) uuid.NullUUID {
	if p == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*p), Valid: true}
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
