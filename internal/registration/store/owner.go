package store

import (
	"context"

	id "tumi/pkg/domain"
)

// PaymentOwner returns the user whose registration the payment paid for.
func (s *InMemory) PaymentOwner(ctx context.Context, paymentID id.PaymentID) (id.UserID, error) {
	r, err := s.FindRegistrationByPayment(ctx, paymentID)
	if err != nil {
		return id.UserID{}, err
	}
	return r.UserID, nil
}

func (s *Postgres) PaymentOwner(ctx context.Context, paymentID id.PaymentID) (id.UserID, error) {
	r, err := s.FindRegistrationByPayment(ctx, paymentID)
	if err != nil {
		return id.UserID{}, err
	}
	return r.UserID, nil
}
