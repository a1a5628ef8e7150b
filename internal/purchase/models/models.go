package models

import (
	"encoding/json"
	"time"

	id "tumi/pkg/domain"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPaid      Status = "PAID"
	StatusSent      Status = "SENT"
	StatusCancelled Status = "CANCELLED"
)

type Purchase struct {
	ID                 id.PurchaseID
	UserID             id.UserID
	TenantID           id.TenantID
	Status             Status
	CancellationReason *string
	PaymentID          *id.PaymentID
	CreatedAt          time.Time
}

// MarkPaid moves the purchase to PAID.
func (p *Purchase) MarkPaid() {
	p.Status = StatusPaid
}

// Cancel moves the purchase to CANCELLED with reason.
func (p *Purchase) Cancel(reason string) {
	p.Status = StatusCancelled
	p.CancellationReason = &reason
}

// ShoppingCart is unique per user and tenant.
type ShoppingCart struct {
	ID        id.CartID
	UserID    id.UserID
	TenantID  id.TenantID
	CreatedAt time.Time
}

type Product struct {
	ID       id.ProductID
	TenantID id.TenantID
	Title    string
	Price    int64
}

// Submission is the answer to one product form field.
type Submission struct {
	SubmissionItemID string          `json:"submissionItemId"`
	Data             json.RawMessage `json:"data"`
}

const MinQuantity = 1

type LineItem struct {
	ID                 id.LineItemID
	CartID             *id.CartID
	PurchaseID         *id.PurchaseID
	ProductID          id.ProductID
	Quantity           int
	Cost               int64
	CancellationReason *string
	PickupTime         *time.Time
	Submissions        []Submission
	CreatedAt          time.Time
}
