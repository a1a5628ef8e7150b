package service

//go:generate mockgen -source=provider.go -destination=../mocks/provider_mock.go -package=mocks

import (
	"context"

	"github.com/stripe/stripe-go/v76"
)

// Provider is the slice of the Stripe API the reconciler calls back into.
type Provider interface {
	// SetupIntentPaymentMethod returns the payment method attached to the
	// setup intent, or "" when it has none.
	SetupIntentPaymentMethod(ctx context.Context, setupIntentID string) (string, error)
	// Charge returns the charge with its balance transaction expanded.
	Charge(ctx context.Context, chargeID string) (*stripe.Charge, error)
	BalanceTransaction(ctx context.Context, balanceTransactionID string) (*stripe.BalanceTransaction, error)
	RefundPaymentIntent(ctx context.Context, paymentIntentID, idempotencyKey string) error
}
