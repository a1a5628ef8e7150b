package service

import (
	"context"

	activitymodels "tumi/internal/activitylog/models"
	outboxmodels "tumi/internal/outbox/models"
	paymentmodels "tumi/internal/payment/models"
	purchasemodels "tumi/internal/purchase/models"
	regmodels "tumi/internal/registration/models"
	id "tumi/pkg/domain"
)

type PaymentStore interface {
	FindByID(ctx context.Context, paymentID id.PaymentID) (*paymentmodels.StripePayment, error)
	FindByPaymentIntent(ctx context.Context, paymentIntent string) (*paymentmodels.StripePayment, error)
	Update(ctx context.Context, p *paymentmodels.StripePayment) error
	SetUserPaymentMethod(ctx context.Context, dataID id.StripeUserDataID, paymentMethodID string) error
}

type RegistrationStore interface {
	FindRegistration(ctx context.Context, regID id.RegistrationID) (*regmodels.EventRegistration, error)
	FindRegistrationByPayment(ctx context.Context, paymentID id.PaymentID) (*regmodels.EventRegistration, error)
	UpdateRegistration(ctx context.Context, r *regmodels.EventRegistration) error
	AdjustParticipantCount(ctx context.Context, eventID id.EventID, delta int) error
	FindCodeByPayment(ctx context.Context, paymentID id.PaymentID) (*regmodels.EventRegistrationCode, error)
	UpdateCode(ctx context.Context, c *regmodels.EventRegistrationCode) error
}

type PurchaseStore interface {
	FindPurchaseByPayment(ctx context.Context, paymentID id.PaymentID) (*purchasemodels.Purchase, error)
	UpdatePurchase(ctx context.Context, p *purchasemodels.Purchase) error
}

type ActivityLog interface {
	Log(ctx context.Context, sev activitymodels.Severity, category, message string, data, oldData any) error
}

type Outbox interface {
	Append(ctx context.Context, m outboxmodels.Message) error
}

// Deduper claims event ids before processing. Release undoes a claim so a
// failed event is picked up by Stripe's retry.
type Deduper interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}
