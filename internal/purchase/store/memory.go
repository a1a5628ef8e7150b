package store

import (
	"context"
	"sort"
	"sync"

	"tumi/internal/purchase/models"
	id "tumi/pkg/domain"
	"tumi/pkg/platform/sentinel"
)

type cartKey struct {
	user   id.UserID
	tenant id.TenantID
}

// InMemory holds purchases, carts, line items and products.
type InMemory struct {
	mu        sync.RWMutex
	purchases map[id.PurchaseID]*models.Purchase
	carts     map[id.CartID]*models.ShoppingCart
	cartOwner map[cartKey]id.CartID
	lineItems map[id.LineItemID]*models.LineItem
	products  map[id.ProductID]*models.Product
}

func NewInMemory() *InMemory {
	return &InMemory{
		purchases: make(map[id.PurchaseID]*models.Purchase),
		carts:     make(map[id.CartID]*models.ShoppingCart),
		cartOwner: make(map[cartKey]id.CartID),
		lineItems: make(map[id.LineItemID]*models.LineItem),
		products:  make(map[id.ProductID]*models.Product),
	}
}

func (s *InMemory) CreatePurchase(_ context.Context, p *models.Purchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.PaymentID != nil {
		for _, existing := range s.purchases {
			if existing.PaymentID != nil && *existing.PaymentID == *p.PaymentID {
				return sentinel.ErrAlreadyUsed
			}
		}
	}
	c := *p
	s.purchases[p.ID] = &c
	return nil
}

func (s *InMemory) FindPurchase(_ context.Context, purchaseID id.PurchaseID) (*models.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.purchases[purchaseID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (s *InMemory) FindPurchaseByPayment(_ context.Context, paymentID id.PaymentID) (*models.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.purchases {
		if p.PaymentID != nil && *p.PaymentID == paymentID {
			c := *p
			return &c, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) ListPurchasesByUser(_ context.Context, userID id.UserID, tenantID id.TenantID) ([]*models.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Purchase
	for _, p := range s.purchases {
		if p.UserID == userID && p.TenantID == tenantID {
			c := *p
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemory) UpdatePurchase(_ context.Context, p *models.Purchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.purchases[p.ID]; !ok {
		return sentinel.ErrNotFound
	}
	c := *p
	s.purchases[p.ID] = &c
	return nil
}

func (s *InMemory) FindCart(_ context.Context, userID id.UserID, tenantID id.TenantID) (*models.ShoppingCart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cartID, ok := s.cartOwner[cartKey{userID, tenantID}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	c := *s.carts[cartID]
	return &c, nil
}

func (s *InMemory) CreateCart(_ context.Context, cart *models.ShoppingCart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := cartKey{cart.UserID, cart.TenantID}
	if _, ok := s.cartOwner[key]; ok {
		return sentinel.ErrAlreadyUsed
	}
	c := *cart
	s.carts[cart.ID] = &c
	s.cartOwner[key] = cart.ID
	return nil
}

func (s *InMemory) CreateProduct(_ context.Context, p *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *p
	s.products[p.ID] = &c
	return nil
}

func (s *InMemory) FindProduct(_ context.Context, productID id.ProductID) (*models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[productID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (s *InMemory) CreateLineItem(_ context.Context, li *models.LineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lineItems[li.ID] = cloneLineItem(li)
	return nil
}

func (s *InMemory) FindLineItem(_ context.Context, itemID id.LineItemID) (*models.LineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	li, ok := s.lineItems[itemID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneLineItem(li), nil
}

func (s *InMemory) ListLineItemsByCart(_ context.Context, cartID id.CartID) ([]*models.LineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.LineItem
	for _, li := range s.lineItems {
		if li.CartID != nil && *li.CartID == cartID {
			out = append(out, cloneLineItem(li))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// AddLineItemQuantity applies delta and refuses to drop below MinQuantity.
func (s *InMemory) AddLineItemQuantity(_ context.Context, itemID id.LineItemID, delta int) (*models.LineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	li, ok := s.lineItems[itemID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if li.Quantity+delta < models.MinQuantity {
		return nil, sentinel.ErrInvalidState
	}
	li.Quantity += delta
	return cloneLineItem(li), nil
}

func (s *InMemory) DeleteLineItem(_ context.Context, itemID id.LineItemID) (*models.LineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	li, ok := s.lineItems[itemID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	delete(s.lineItems, itemID)
	return cloneLineItem(li), nil
}

func cloneLineItem(li *models.LineItem) *models.LineItem {
	c := *li
	c.Submissions = append([]models.Submission(nil), li.Submissions...)
	return &c
}
