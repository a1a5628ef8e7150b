package models

import (
	"time"

	id "tumi/pkg/domain"
)

// Status is shared by registrations and registration codes.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusSuccessful Status = "SUCCESSFUL"
	StatusCancelled  Status = "CANCELLED"
)

type Type string

const (
	TypeParticipant Type = "PARTICIPANT"
	TypeOrganizer   Type = "ORGANIZER"
)

// Cancellation reasons written by payment reconciliation.
const (
	ReasonMovedToAnotherPerson = "Event was moved to another person"
	ReasonPaymentFailed        = "Payment failed"
	ReasonPaymentTimedOut      = "Payment intent timed out"
	ReasonMovePaymentFailed    = "Payment for move failed"
)

// TumiEvent is the subset of an event the payment flow touches.
type TumiEvent struct {
	ID                           id.EventID
	TenantID                     id.TenantID
	Title                        string
	ParticipantRegistrationCount int
	CreatedAt                    time.Time
}

type EventRegistration struct {
	ID                 id.RegistrationID
	UserID             id.UserID
	EventID            id.EventID
	Type               Type
	Status             Status
	CancellationReason *string
	PaymentID          *id.PaymentID
	CreatedAt          time.Time
}

// Cancel marks the registration cancelled with reason.
func (r *EventRegistration) Cancel(reason string) {
	r.Status = StatusCancelled
	r.CancellationReason = &reason
}

// Confirm marks the registration successful and clears any earlier reason.
func (r *EventRegistration) Confirm() {
	r.Status = StatusSuccessful
	r.CancellationReason = nil
}

// EventRegistrationCode moves a registration from one person to another. The
// new registration is created when the code is redeemed; the old one is
// cancelled once the redeemer's payment succeeds.
type EventRegistrationCode struct {
	ID                     id.RegistrationCodeID
	EventID                id.EventID
	CreatorID              id.UserID
	RegistrationToRemoveID *id.RegistrationID
	RegistrationCreatedID  *id.RegistrationID
	PaymentID              *id.PaymentID
	Status                 Status
	IsPublic               bool
	CreatedAt              time.Time
}
