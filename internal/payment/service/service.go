package service

import (
	"context"
	"errors"

	"tumi/internal/payment/models"
	id "tumi/pkg/domain"
	dErrors "tumi/pkg/domain-errors"
	"tumi/pkg/platform/sentinel"
	"tumi/pkg/requestcontext"
)

type Store interface {
	FindByID(ctx context.Context, paymentID id.PaymentID) (*models.StripePayment, error)
}

// OwnerResolver names the user a payment belongs to through whatever it
// paid for. It returns sentinel.ErrNotFound when nothing links to it.
type OwnerResolver interface {
	PaymentOwner(ctx context.Context, paymentID id.PaymentID) (id.UserID, error)
}

// Service serves read access to payments.
type Service struct {
	store  Store
	owners []OwnerResolver
}

func New(store Store, owners ...OwnerResolver) *Service {
	return &Service{store: store, owners: owners}
}

// Get returns the payment when the caller is an admin or owns the
// registration or purchase it paid for.
func (s *Service) Get(ctx context.Context, rawID string) (*models.StripePayment, error) {
	userID := requestcontext.UserID(ctx)
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	paymentID, err := id.ParsePaymentID(rawID)
	if err != nil {
		return nil, err
	}
	p, err := s.store.FindByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "payment not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load payment")
	}
	if requestcontext.CallerRole(ctx) == requestcontext.RoleAdmin {
		return p, nil
	}
	for _, r := range s.owners {
		owner, err := r.PaymentOwner(ctx, paymentID)
		if errors.Is(err, sentinel.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve payment owner")
		}
		if owner == userID {
			return p, nil
		}
	}
	return nil, dErrors.New(dErrors.CodeNotFound, "payment not found")
}
