package store

import (
	"context"

	id "tumi/pkg/domain"
)

// PaymentOwner returns the user whose purchase the payment paid for.
func (s *InMemory) PaymentOwner(ctx context.Context, paymentID id.PaymentID) (id.UserID, error) {
	p, err := s.FindPurchaseByPayment(ctx, paymentID)
	if err != nil {
		return id.UserID{}, err
	}
	return p.UserID, nil
}

func (s *Postgres) PaymentOwner(ctx context.Context, paymentID id.PaymentID) (id.UserID, error) {
	p, err := s.FindPurchaseByPayment(ctx, paymentID)
	if err != nil {
		return id.UserID{}, err
	}
	return p.UserID, nil
}
