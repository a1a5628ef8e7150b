// Package domain holds typed identifiers shared across modules. Each ID is a
// distinct type over uuid.UUID so a RegistrationID can never be passed where a
// PaymentID is expected.
package domain

import (
	"github.com/google/uuid"

	dErrors "tumi/pkg/domain-errors"
)

type (
	UserID             uuid.UUID
	TenantID           uuid.UUID
	EventID            uuid.UUID
	RegistrationID     uuid.UUID
	RegistrationCodeID uuid.UUID
	PaymentID          uuid.UUID
	PurchaseID         uuid.UUID
	CartID             uuid.UUID
	LineItemID         uuid.UUID
	ProductID          uuid.UUID
	StripeUserDataID   uuid.UUID
)

func (id UserID) String() string             { return uuid.UUID(id).String() }
func (id TenantID) String() string           { return uuid.UUID(id).String() }
func (id EventID) String() string            { return uuid.UUID(id).String() }
func (id RegistrationID) String() string     { return uuid.UUID(id).String() }
func (id RegistrationCodeID) String() string { return uuid.UUID(id).String() }
func (id PaymentID) String() string          { return uuid.UUID(id).String() }
func (id PurchaseID) String() string         { return uuid.UUID(id).String() }
func (id CartID) String() string             { return uuid.UUID(id).String() }
func (id LineItemID) String() string         { return uuid.UUID(id).String() }
func (id ProductID) String() string          { return uuid.UUID(id).String() }
func (id StripeUserDataID) String() string   { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool         { return uuid.UUID(id) == uuid.Nil }
func (id TenantID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id RegistrationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id PaymentID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }

func ParseUserID(s string) (UserID, error)         { return parse[UserID](s, "user") }
func ParseTenantID(s string) (TenantID, error)     { return parse[TenantID](s, "tenant") }
func ParseEventID(s string) (EventID, error)       { return parse[EventID](s, "event") }
func ParsePaymentID(s string) (PaymentID, error)   { return parse[PaymentID](s, "payment") }
func ParsePurchaseID(s string) (PurchaseID, error) { return parse[PurchaseID](s, "purchase") }
func ParseLineItemID(s string) (LineItemID, error) { return parse[LineItemID](s, "line item") }
func ParseProductID(s string) (ProductID, error)   { return parse[ProductID](s, "product") }

func ParseRegistrationID(s string) (RegistrationID, error) {
	return parse[RegistrationID](s, "registration")
}

func ParseStripeUserDataID(s string) (StripeUserDataID, error) {
	return parse[StripeUserDataID](s, "stripe user data")
}

func ParseRegistrationCodeID(s string) (RegistrationCodeID, error) {
	return parse[RegistrationCodeID](s, "registration code")
}

// parse rejects empty, malformed and nil UUIDs at trust boundaries.
func parse[T ~[16]byte](s, kind string) (T, error) {
	if s == "" {
		return T{}, dErrors.New(dErrors.CodeInvalidInput, kind+" id is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return T{}, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind+" id")
	}
	if u == uuid.Nil {
		return T{}, dErrors.New(dErrors.CodeInvalidInput, kind+" id must not be nil")
	}
	return T(u), nil
}
