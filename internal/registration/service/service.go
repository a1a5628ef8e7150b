package service

import (
	"context"
	"errors"

	"tumi/internal/registration/models"
	id "tumi/pkg/domain"
	dErrors "tumi/pkg/domain-errors"
	"tumi/pkg/platform/sentinel"
	"tumi/pkg/requestcontext"
)

type Store interface {
	FindRegistration(ctx context.Context, regID id.RegistrationID) (*models.EventRegistration, error)
	ListRegistrationsByUser(ctx context.Context, userID id.UserID) ([]*models.EventRegistration, error)
}

// Service serves read access to event registrations.
type Service struct {
	store Store
}

func New(store Store) *Service {
	return &Service{store: store}
}

// Get returns a registration owned by the caller; admins see all.
func (s *Service) Get(ctx context.Context, rawID string) (*models.EventRegistration, error) {
	userID := requestcontext.UserID(ctx)
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	regID, err := id.ParseRegistrationID(rawID)
	if err != nil {
		return nil, err
	}
	reg, err := s.store.FindRegistration(ctx, regID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "registration not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load registration")
	}
	if reg.UserID != userID && requestcontext.CallerRole(ctx) != requestcontext.RoleAdmin {
		return nil, dErrors.New(dErrors.CodeNotFound, "registration not found")
	}
	return reg, nil
}

func (s *Service) ListMine(ctx context.Context) ([]*models.EventRegistration, error) {
	userID := requestcontext.UserID(ctx)
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	out, err := s.store.ListRegistrationsByUser(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list registrations")
	}
	return out, nil
}
