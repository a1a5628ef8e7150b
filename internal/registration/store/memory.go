package store

import (
	"context"
	"sort"
	"sync"

	"tumi/internal/registration/models"
	id "tumi/pkg/domain"
	"tumi/pkg/platform/sentinel"
)

// InMemory holds events, registrations and registration codes.
type InMemory struct {
	mu            sync.RWMutex
	events        map[id.EventID]*models.TumiEvent
	registrations map[id.RegistrationID]*models.EventRegistration
	codes         map[id.RegistrationCodeID]*models.EventRegistrationCode
}

func NewInMemory() *InMemory {
	return &InMemory{
		events:        make(map[id.EventID]*models.TumiEvent),
		registrations: make(map[id.RegistrationID]*models.EventRegistration),
		codes:         make(map[id.RegistrationCodeID]*models.EventRegistrationCode),
	}
}

func (s *InMemory) CreateEvent(_ context.Context, e *models.TumiEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *e
	s.events[e.ID] = &c
	return nil
}

func (s *InMemory) FindEvent(_ context.Context, eventID id.EventID) (*models.TumiEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[eventID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	c := *e
	return &c, nil
}

// AdjustParticipantCount adds delta, clamping the result at zero.
func (s *InMemory) AdjustParticipantCount(_ context.Context, eventID id.EventID, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[eventID]
	if !ok {
		return sentinel.ErrNotFound
	}
	e.ParticipantRegistrationCount = max(0, e.ParticipantRegistrationCount+delta)
	return nil
}

func (s *InMemory) CreateRegistration(_ context.Context, r *models.EventRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.PaymentID != nil {
		for _, existing := range s.registrations {
			if existing.PaymentID != nil && *existing.PaymentID == *r.PaymentID {
				return sentinel.ErrAlreadyUsed
			}
		}
	}
	s.registrations[r.ID] = cloneRegistration(r)
	return nil
}

func (s *InMemory) FindRegistration(_ context.Context, regID id.RegistrationID) (*models.EventRegistration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.registrations[regID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneRegistration(r), nil
}

func (s *InMemory) FindRegistrationByPayment(_ context.Context, paymentID id.PaymentID) (*models.EventRegistration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.registrations {
		if r.PaymentID != nil && *r.PaymentID == paymentID {
			return cloneRegistration(r), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) ListRegistrationsByUser(_ context.Context, userID id.UserID) ([]*models.EventRegistration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.EventRegistration
	for _, r := range s.registrations {
		if r.UserID == userID {
			out = append(out, cloneRegistration(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemory) UpdateRegistration(_ context.Context, r *models.EventRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.registrations[r.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.registrations[r.ID] = cloneRegistration(r)
	return nil
}

func (s *InMemory) CreateCode(_ context.Context, c *models.EventRegistrationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[c.ID] = cloneCode(c)
	return nil
}

func (s *InMemory) FindCode(_ context.Context, codeID id.RegistrationCodeID) (*models.EventRegistrationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.codes[codeID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneCode(c), nil
}

func (s *InMemory) FindCodeByPayment(_ context.Context, paymentID id.PaymentID) (*models.EventRegistrationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.codes {
		if c.PaymentID != nil && *c.PaymentID == paymentID {
			return cloneCode(c), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) UpdateCode(_ context.Context, c *models.EventRegistrationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.codes[c.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.codes[c.ID] = cloneCode(c)
	return nil
}

func cloneRegistration(r *models.EventRegistration) *models.EventRegistration {
	c := *r
	if r.CancellationReason != nil {
		reason := *r.CancellationReason
		c.CancellationReason = &reason
	}
	if r.PaymentID != nil {
		pid := *r.PaymentID
		c.PaymentID = &pid
	}
	return &c
}

func cloneCode(code *models.EventRegistrationCode) *models.EventRegistrationCode {
	c := *code
	if code.RegistrationToRemoveID != nil {
		v := *code.RegistrationToRemoveID
		c.RegistrationToRemoveID = &v
	}
	if code.RegistrationCreatedID != nil {
		v := *code.RegistrationCreatedID
		c.RegistrationCreatedID = &v
	}
	if code.PaymentID != nil {
		v := *code.PaymentID
		c.PaymentID = &v
	}
	return &c
}
