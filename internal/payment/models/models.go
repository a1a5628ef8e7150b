package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	id "tumi/pkg/domain"
)

// Status mirrors the Stripe payment intent status string, plus the local
// "refunded" and dispute statuses written by the reconciler.
type Status string

const (
	StatusRequiresPaymentMethod Status = "requires_payment_method"
	StatusRequiresAction        Status = "requires_action"
	StatusProcessing            Status = "processing"
	StatusSucceeded             Status = "succeeded"
	StatusCanceled              Status = "canceled"
	StatusRefunded              Status = "refunded"
)

// Dispute statuses as reported by charge.dispute.created.
const (
	StatusDisputeWarningNeedsResponse Status = "warning_needs_response"
	StatusDisputeWarningUnderReview   Status = "warning_under_review"
	StatusDisputeWarningClosed        Status = "warning_closed"
	StatusDisputeNeedsResponse        Status = "needs_response"
	StatusDisputeUnderReview          Status = "under_review"
	StatusDisputeWon                  Status = "won"
	StatusDisputeLost                 Status = "lost"
)

// IsTerminal reports statuses that late processing, failure or cancel events
// must not overwrite.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusCanceled || s.IsPostSettlement()
}

// IsPostSettlement reports statuses only reachable after the money moved:
// refunds and disputes. A late succeeded event must not overwrite them.
func (s Status) IsPostSettlement() bool {
	switch s {
	case StatusRefunded,
		StatusDisputeWarningNeedsResponse, StatusDisputeWarningUnderReview, StatusDisputeWarningClosed,
		StatusDisputeNeedsResponse, StatusDisputeUnderReview, StatusDisputeWon, StatusDisputeLost:
		return true
	}
	return false
}

// ErrEventsNotArray is returned when the stored history is not a JSON array.
var ErrEventsNotArray = errors.New("saved payment events are not an array")

// PaymentEvent is one element of the payment history. Date is unix millis.
type PaymentEvent struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Date    int64  `json:"date"`
	EventID string `json:"eventId,omitempty"`
}

// NewPaymentEvent stamps an event at t.
func NewPaymentEvent(eventType, name, stripeEventID string, t time.Time) PaymentEvent {
	return PaymentEvent{Type: eventType, Name: name, Date: t.UnixMilli(), EventID: stripeEventID}
}

// StripePayment is the local record of a Stripe payment intent.
type StripePayment struct {
	ID                id.PaymentID
	PaymentIntent     string
	Status            Status
	Amount            int64
	Currency          string
	NetAmount         *int64
	FeeAmount         *int64
	RefundedAmount    *int64
	Shipping          json.RawMessage
	PaymentMethod     *string
	PaymentMethodType *string
	// Events is kept raw so a corrupted, non-array history can be detected
	// and left untouched.
	Events    json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// History decodes Events. Elements that are not payment events are kept as
// zero values so the length stays faithful.
func (p *StripePayment) History() ([]PaymentEvent, error) {
	raw, err := p.rawHistory()
	if err != nil {
		return nil, err
	}
	out := make([]PaymentEvent, len(raw))
	for i, r := range raw {
		_ = json.Unmarshal(r, &out[i])
	}
	return out, nil
}

// HasEvent reports whether the history already holds stripeEventID.
func (p *StripePayment) HasEvent(stripeEventID string) (bool, error) {
	if stripeEventID == "" {
		return false, nil
	}
	events, err := p.History()
	if err != nil {
		return false, err
	}
	for _, e := range events {
		if e.EventID == stripeEventID {
			return true, nil
		}
	}
	return false, nil
}

// AppendEvent adds ev to the history, preserving existing elements verbatim.
func (p *StripePayment) AppendEvent(ev PaymentEvent) error {
	raw, err := p.rawHistory()
	if err != nil {
		return err
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal payment event: %w", err)
	}
	raw = append(raw, b)
	events, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal payment events: %w", err)
	}
	p.Events = events
	return nil
}

func (p *StripePayment) rawHistory() ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(p.Events)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, ErrEventsNotArray
	}
	if trimmed[0] != '[' {
		return nil, ErrEventsNotArray
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, ErrEventsNotArray
	}
	return raw, nil
}

// StripeUserData links a user to their Stripe customer and saved card.
type StripeUserData struct {
	ID              id.StripeUserDataID
	UserID          id.UserID
	CustomerID      string
	PaymentMethodID *string
}
