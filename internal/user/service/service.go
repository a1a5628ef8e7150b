package service

import (
	"context"
	"errors"

	"tumi/internal/user/models"
	id "tumi/pkg/domain"
	dErrors "tumi/pkg/domain-errors"
	"tumi/pkg/platform/sentinel"
	"tumi/pkg/requestcontext"
)

type Store interface {
	FindByID(ctx context.Context, userID id.UserID) (*models.User, error)
}

type Service struct {
	store Store
}

func New(store Store) *Service {
	return &Service{store: store}
}

// Me returns the authenticated caller, or nil for anonymous requests.
func (s *Service) Me(ctx context.Context) (*models.User, error) {
	userID := requestcontext.UserID(ctx)
	if userID.IsNil() {
		return nil, nil
	}
	u, err := s.store.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}
	return u, nil
}
