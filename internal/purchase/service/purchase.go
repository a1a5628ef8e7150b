package service

import (
	"context"
	"errors"

	"tumi/internal/purchase/models"
	id "tumi/pkg/domain"
	dErrors "tumi/pkg/domain-errors"
	"tumi/pkg/platform/sentinel"
	"tumi/pkg/requestcontext"
)

type PurchaseStore interface {
	FindPurchase(ctx context.Context, purchaseID id.PurchaseID) (*models.Purchase, error)
	ListPurchasesByUser(ctx context.Context, userID id.UserID, tenantID id.TenantID) ([]*models.Purchase, error)
}

// PurchaseService serves read access to purchases.
type PurchaseService struct {
	store PurchaseStore
}

func NewPurchaseService(store PurchaseStore) *PurchaseService {
	return &PurchaseService{store: store}
}

// Get returns a purchase owned by the caller. Admins may read any purchase.
func (s *PurchaseService) Get(ctx context.Context, rawID string) (*models.Purchase, error) {
	userID := requestcontext.UserID(ctx)
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	purchaseID, err := id.ParsePurchaseID(rawID)
	if err != nil {
		return nil, err
	}
	p, err := s.store.FindPurchase(ctx, purchaseID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "purchase not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load purchase")
	}
	if p.UserID != userID && requestcontext.CallerRole(ctx) != requestcontext.RoleAdmin {
		return nil, dErrors.New(dErrors.CodeNotFound, "purchase not found")
	}
	return p, nil
}

// ListMine returns the caller's purchases in the current tenant, newest first.
func (s *PurchaseService) ListMine(ctx context.Context) ([]*models.Purchase, error) {
	userID := requestcontext.UserID(ctx)
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	out, err := s.store.ListPurchasesByUser(ctx, userID, requestcontext.TenantID(ctx))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list purchases")
	}
	return out, nil
}
