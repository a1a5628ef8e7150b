package store

import (
	"context"
	"sync"

	"tumi/internal/payment/models"
	id "tumi/pkg/domain"
	"tumi/pkg/platform/sentinel"
)

// InMemory is a map-backed payment store used by tests and local runs.
type InMemory struct {
	mu       sync.RWMutex
	payments map[id.PaymentID]*models.StripePayment
	byIntent map[string]id.PaymentID
	userData map[id.StripeUserDataID]*models.StripeUserData
}

func NewInMemory() *InMemory {
	return &InMemory{
		payments: make(map[id.PaymentID]*models.StripePayment),
		byIntent: make(map[string]id.PaymentID),
		userData: make(map[id.StripeUserDataID]*models.StripeUserData),
	}
}

func clonePayment(p *models.StripePayment) *models.StripePayment {
	c := *p
	c.Events = append([]byte(nil), p.Events...)
	c.Shipping = append([]byte(nil), p.Shipping...)
	return &c
}

func (s *InMemory) Create(_ context.Context, p *models.StripePayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byIntent[p.PaymentIntent]; ok {
		return sentinel.ErrAlreadyUsed
	}
	s.payments[p.ID] = clonePayment(p)
	s.byIntent[p.PaymentIntent] = p.ID
	return nil
}

func (s *InMemory) FindByID(_ context.Context, paymentID id.PaymentID) (*models.StripePayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[paymentID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clonePayment(p), nil
}

func (s *InMemory) FindByPaymentIntent(_ context.Context, paymentIntent string) (*models.StripePayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pid, ok := s.byIntent[paymentIntent]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clonePayment(s.payments[pid]), nil
}

func (s *InMemory) Update(_ context.Context, p *models.StripePayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[p.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.payments[p.ID] = clonePayment(p)
	return nil
}

func (s *InMemory) CreateUserData(_ context.Context, d *models.StripeUserData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *d
	s.userData[d.ID] = &c
	return nil
}

func (s *InMemory) FindUserData(_ context.Context, dataID id.StripeUserDataID) (*models.StripeUserData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.userData[dataID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	c := *d
	return &c, nil
}

func (s *InMemory) SetUserPaymentMethod(_ context.Context, dataID id.StripeUserDataID, paymentMethodID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.userData[dataID]
	if !ok {
		return sentinel.ErrNotFound
	}
	pm := paymentMethodID
	d.PaymentMethodID = &pm
	return nil
}
