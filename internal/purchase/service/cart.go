package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"tumi/internal/purchase/models"
	id "tumi/pkg/domain"
	dErrors "tumi/pkg/domain-errors"
	"tumi/pkg/platform/sentinel"
	"tumi/pkg/platform/tx"
	"tumi/pkg/requestcontext"
)

// CartStore is the persistence the cart operations need.
type CartStore interface {
	FindCart(ctx context.Context, userID id.UserID, tenantID id.TenantID) (*models.ShoppingCart, error)
	CreateCart(ctx context.Context, c *models.ShoppingCart) error
	FindProduct(ctx context.Context, productID id.ProductID) (*models.Product, error)
	CreateLineItem(ctx context.Context, li *models.LineItem) error
	FindLineItem(ctx context.Context, itemID id.LineItemID) (*models.LineItem, error)
	ListLineItemsByCart(ctx context.Context, cartID id.CartID) ([]*models.LineItem, error)
	AddLineItemQuantity(ctx context.Context, itemID id.LineItemID, delta int) (*models.LineItem, error)
	DeleteLineItem(ctx context.Context, itemID id.LineItemID) (*models.LineItem, error)
}

// AddLineItemInput carries the addLineItemToBasket arguments. Price and
// Submissions are free-form JSON as received from the client.
type AddLineItemInput struct {
	ProductID   string
	Price       json.RawMessage
	Submissions json.RawMessage
	Quantity    *int
}

// CartView is a cart with its line items. Cart is nil when the caller has
// never added anything.
type CartView struct {
	Cart  *models.ShoppingCart
	Items []*models.LineItem
}

type CartService struct {
	store  CartStore
	tx     tx.Runner
	logger *slog.Logger
}

func NewCartService(store CartStore, runner tx.Runner, logger *slog.Logger) *CartService {
	if runner == nil {
		runner = tx.NopRunner{}
	}
	return &CartService{store: store, tx: runner, logger: logger}
}

type caller struct {
	user   id.UserID
	tenant id.TenantID
}

func callerFrom(ctx context.Context) (caller, error) {
	c := caller{user: requestcontext.UserID(ctx), tenant: requestcontext.TenantID(ctx)}
	if c.user.IsNil() {
		return caller{}, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if c.tenant.IsNil() {
		return caller{}, dErrors.New(dErrors.CodeBadRequest, "tenant is required")
	}
	return c, nil
}

// AddLineItem finds or creates the caller's cart for the current tenant and
// adds a line item for the product.
func (s *CartService) AddLineItem(ctx context.Context, in AddLineItemInput) (*models.LineItem, error) {
	who, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	productID, err := id.ParseProductID(in.ProductID)
	if err != nil {
		return nil, err
	}
	cost, err := parsePriceAmount(in.Price)
	if err != nil {
		return nil, err
	}
	quantity := models.MinQuantity
	if in.Quantity != nil {
		quantity = *in.Quantity
	}
	if quantity < models.MinQuantity {
		return nil, dErrors.New(dErrors.CodeValidation, "quantity must be at least 1")
	}
	submissions, err := parseSubmissions(in.Submissions)
	if err != nil {
		return nil, err
	}

	var item *models.LineItem
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		product, err := s.store.FindProduct(ctx, productID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "product not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load product")
		}
		if product.TenantID != who.tenant {
			return dErrors.New(dErrors.CodeNotFound, "product not found")
		}

		cart, err := s.findOrCreateCart(ctx, who)
		if err != nil {
			return err
		}

		cartID := cart.ID
		item = &models.LineItem{
			ID:          id.LineItemID(uuid.New()),
			CartID:      &cartID,
			ProductID:   productID,
			Quantity:    quantity,
			Cost:        cost,
			Submissions: submissions,
			CreatedAt:   requestcontext.Now(ctx),
		}
		if err := s.store.CreateLineItem(ctx, item); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to add line item")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "line item added",
		"line_item_id", item.ID.String(),
		"product_id", productID.String(),
		"user_id", who.user.String(),
	)
	return item, nil
}

func (s *CartService) findOrCreateCart(ctx context.Context, who caller) (*models.ShoppingCart, error) {
	cart, err := s.store.FindCart(ctx, who.user, who.tenant)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load cart")
	}
	cart = &models.ShoppingCart{
		ID:        id.CartID(uuid.New()),
		UserID:    who.user,
		TenantID:  who.tenant,
		CreatedAt: requestcontext.Now(ctx),
	}
	if err := s.store.CreateCart(ctx, cart); err != nil {
		if !errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create cart")
		}
		// Lost a race with a concurrent add; use the winner's cart.
		existing, findErr := s.store.FindCart(ctx, who.user, who.tenant)
		if findErr != nil {
			return nil, dErrors.Wrap(findErr, dErrors.CodeInternal, "failed to load cart")
		}
		return existing, nil
	}
	return cart, nil
}

func (s *CartService) IncreaseQuantity(ctx context.Context, rawID string) (*models.LineItem, error) {
	return s.adjustQuantity(ctx, rawID, 1)
}

// DecreaseQuantity never takes the quantity below one; use DeleteLineItem to
// remove an item.
func (s *CartService) DecreaseQuantity(ctx context.Context, rawID string) (*models.LineItem, error) {
	return s.adjustQuantity(ctx, rawID, -1)
}

func (s *CartService) adjustQuantity(ctx context.Context, rawID string, delta int) (*models.LineItem, error) {
	itemID, err := s.ownedLineItem(ctx, rawID)
	if err != nil {
		return nil, err
	}
	item, err := s.store.AddLineItemQuantity(ctx, itemID, delta)
	switch {
	case errors.Is(err, sentinel.ErrInvalidState):
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "quantity cannot drop below 1")
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.New(dErrors.CodeNotFound, "line item not found")
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update line item")
	}
	return item, nil
}

func (s *CartService) DeleteLineItem(ctx context.Context, rawID string) (*models.LineItem, error) {
	itemID, err := s.ownedLineItem(ctx, rawID)
	if err != nil {
		return nil, err
	}
	item, err := s.store.DeleteLineItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "line item not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete line item")
	}
	return item, nil
}

// MyCart returns the caller's cart for the current tenant.
func (s *CartService) MyCart(ctx context.Context) (*CartView, error) {
	who, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	cart, err := s.store.FindCart(ctx, who.user, who.tenant)
	if errors.Is(err, sentinel.ErrNotFound) {
		return &CartView{}, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load cart")
	}
	items, err := s.store.ListLineItemsByCart(ctx, cart.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load line items")
	}
	return &CartView{Cart: cart, Items: items}, nil
}

// ownedLineItem resolves rawID and checks the item sits in the caller's
// cart. Items elsewhere are reported as not found.
func (s *CartService) ownedLineItem(ctx context.Context, rawID string) (id.LineItemID, error) {
	who, err := callerFrom(ctx)
	if err != nil {
		return id.LineItemID{}, err
	}
	itemID, err := id.ParseLineItemID(rawID)
	if err != nil {
		return id.LineItemID{}, err
	}
	item, err := s.store.FindLineItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return id.LineItemID{}, dErrors.New(dErrors.CodeNotFound, "line item not found")
		}
		return id.LineItemID{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load line item")
	}
	cart, err := s.store.FindCart(ctx, who.user, who.tenant)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return id.LineItemID{}, dErrors.New(dErrors.CodeNotFound, "line item not found")
		}
		return id.LineItemID{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load cart")
	}
	if item.CartID == nil || *item.CartID != cart.ID {
		return id.LineItemID{}, dErrors.New(dErrors.CodeNotFound, "line item not found")
	}
	return itemID, nil
}

// parsePriceAmount reads {"amount": <integer minor units>}.
func parsePriceAmount(raw json.RawMessage) (int64, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return 0, dErrors.New(dErrors.CodeValidation, "price is required")
	}
	var price struct {
		Amount *json.Number `json:"amount"`
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&price); err != nil || price.Amount == nil {
		return 0, dErrors.New(dErrors.CodeValidation, "price.amount is required")
	}
	amount, err := price.Amount.Int64()
	if err != nil || amount < 0 {
		return 0, dErrors.New(dErrors.CodeValidation, "price.amount must be a non-negative integer")
	}
	return amount, nil
}

// parseSubmissions turns {"<submissionItemId>": value, ...} into one
// submission per key, ordered by key.
func parseSubmissions(raw json.RawMessage) ([]models.Submission, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var byItem map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &byItem); err != nil {
		return nil, dErrors.New(dErrors.CodeValidation, "submissions must be an object")
	}
	keys := make([]string, 0, len(byItem))
	for k := range byItem {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]models.Submission, 0, len(keys))
	for _, k := range keys {
		data, err := json.Marshal(map[string]json.RawMessage{"value": byItem[k]})
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid submission value")
		}
		out = append(out, models.Submission{SubmissionItemID: k, Data: data})
	}
	return out, nil
}
