// Package graphql exposes the member facing API over the registration,
// payment and purchase data. Resolvers stay thin: they parse arguments, call a
// service and translate domain errors.
package graphql

import (
	"context"
	"log/slog"

	gql "github.com/graphql-go/graphql"

	activitymodels "tumi/internal/activitylog/models"
	paymentmodels "tumi/internal/payment/models"
	purchasemodels "tumi/internal/purchase/models"
	purchaseservice "tumi/internal/purchase/service"
	regmodels "tumi/internal/registration/models"
	usermodels "tumi/internal/user/models"
	dErrors "tumi/pkg/domain-errors"
	"tumi/pkg/platform/strings"
	"tumi/pkg/requestcontext"
)

type Users interface {
	Me(ctx context.Context) (*usermodels.User, error)
}

type Registrations interface {
	Get(ctx context.Context, rawID string) (*regmodels.EventRegistration, error)
	ListMine(ctx context.Context) ([]*regmodels.EventRegistration, error)
}

type Payments interface {
	Get(ctx context.Context, rawID string) (*paymentmodels.StripePayment, error)
}

type Purchases interface {
	Get(ctx context.Context, rawID string) (*purchasemodels.Purchase, error)
	ListMine(ctx context.Context) ([]*purchasemodels.Purchase, error)
}

type Cart interface {
	AddLineItem(ctx context.Context, in purchaseservice.AddLineItemInput) (*purchasemodels.LineItem, error)
	IncreaseQuantity(ctx context.Context, rawID string) (*purchasemodels.LineItem, error)
	DecreaseQuantity(ctx context.Context, rawID string) (*purchasemodels.LineItem, error)
	DeleteLineItem(ctx context.Context, rawID string) (*purchasemodels.LineItem, error)
	MyCart(ctx context.Context) (*purchaseservice.CartView, error)
}

type ActivityLogs interface {
	List(ctx context.Context, f activitymodels.Filter) ([]activitymodels.Entry, error)
}

// Services are the backends the resolvers call into.
type Services struct {
	Users         Users
	Registrations Registrations
	Payments      Payments
	Purchases     Purchases
	Cart          Cart
	ActivityLogs  ActivityLogs
}

type resolver struct {
	svc    Services
	logger *slog.Logger
}

// NewSchema builds the executable schema.
func NewSchema(svc Services, logger *slog.Logger) (gql.Schema, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &resolver{svc: svc, logger: logger}
	return gql.NewSchema(gql.SchemaConfig{
		Query:    r.query(),
		Mutation: r.mutation(),
	})
}

func (r *resolver) query() *gql.Object {
	idArg := gql.FieldConfigArgument{"id": &gql.ArgumentConfig{Type: nonNullID}}
	return gql.NewObject(gql.ObjectConfig{
		Name: "Query",
		Fields: gql.Fields{
			"me": &gql.Field{
				Type: userType,
				Resolve: r.wrap(func(p gql.ResolveParams) (any, error) {
					return nilIfEmpty(r.svc.Users.Me(p.Context))
				}),
			},
			"eventRegistration": &gql.Field{
				Type: gql.NewNonNull(registrationType),
				Args: idArg,
				Resolve: r.wrap(func(p gql.ResolveParams) (any, error) {
					return r.svc.Registrations.Get(p.Context, stringArg(p.Args, "id"))
				}),
			},
			"myRegistrations": &gql.Field{
				Type: gql.NewNonNull(gql.NewList(gql.NewNonNull(registrationType))),
				Resolve: r.wrap(func(p gql.ResolveParams) (any, error) {
					return list(r.svc.Registrations.ListMine(p.Context))
				}),
			},
			"payment": &gql.Field{
				Type: gql.NewNonNull(paymentType),
				Args: idArg,
				Resolve: r.wrap(func(p gql.ResolveParams) (any, error) {
					return r.svc.Payments.Get(p.Context, stringArg(p.Args, "id"))
				}),
			},
			"purchase": &gql.Field{
				Type: gql.NewNonNull(purchaseType),
				Args: idArg,
				Resolve: r.wrap(func(p gql.ResolveParams) (any, error) {
					return r.svc.Purchases.Get(p.Context, stringArg(p.Args, "id"))
				}),
			},
			"myPurchases": &gql.Field{
				Type: gql.NewNonNull(gql.NewList(gql.NewNonNull(purchaseType))),
				Resolve: r.wrap(func(p gql.ResolveParams) (any, error) {
					return list(r.svc.Purchases.ListMine(p.Context))
				}),
			},
			"myCart": &gql.Field{
				Type: cartType,
				Resolve: r.wrap(func(p gql.ResolveParams) (any, error) {
					view, err := r.svc.Cart.MyCart(p.Context)
					if err != nil || view.Cart == nil {
						return nil, err
					}
					return view, nil
				}),
			},
			"activityLogs": &gql.Field{
				Type: gql.NewNonNull(gql.NewList(gql.NewNonNull(activityLogType))),
				Args: gql.FieldConfigArgument{
					"limit":      &gql.ArgumentConfig{Type: gql.Int},
					"severities": &gql.ArgumentConfig{Type: gql.NewList(gql.NewNonNull(gql.String))},
					"category":   &gql.ArgumentConfig{Type: gql.String},
				},
				Resolve: r.wrap(r.activityLogs),
			},
		},
	})
}

func (r *resolver) activityLogs(p gql.ResolveParams) (any, error) {
	if requestcontext.UserID(p.Context).IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if requestcontext.CallerRole(p.Context) != requestcontext.RoleAdmin {
		return nil, dErrors.New(dErrors.CodeForbidden, "admin role required")
	}

	f := activitymodels.Filter{Category: stringArg(p.Args, "category")}
	if limit, ok := p.Args["limit"].(int); ok {
		f.Limit = limit
	}
	if raw, ok := p.Args["severities"].([]any); ok {
		values := make([]string, 0, len(raw))
		for _, v := range raw {
			if s, ok := v.(string); ok {
				values = append(values, s)
			}
		}
		for _, s := range strings.DedupeAndTrimUpper(values) {
			f.Severities = append(f.Severities, activitymodels.Severity(s))
		}
	}
	return list(r.svc.ActivityLogs.List(p.Context, f))
}

func (r *resolver) mutation() *gql.Object {
	idArg := gql.FieldConfigArgument{"id": &gql.ArgumentConfig{Type: nonNullID}}
	byID := func(fn func(context.Context, string) (*purchasemodels.LineItem, error)) *gql.Field {
		return &gql.Field{
			Type: gql.NewNonNull(lineItemType),
			Args: idArg,
			Resolve: r.wrap(func(p gql.ResolveParams) (any, error) {
				return fn(p.Context, stringArg(p.Args, "id"))
			}),
		}
	}
	return gql.NewObject(gql.ObjectConfig{
		Name: "Mutation",
		Fields: gql.Fields{
			"addLineItemToBasket": &gql.Field{
				Type: gql.NewNonNull(lineItemType),
				Args: gql.FieldConfigArgument{
					"input": &gql.ArgumentConfig{Type: gql.NewNonNull(addLineItemInputType)},
				},
				Resolve: r.wrap(r.addLineItem),
			},
			"increaseLineItemQuantity": byID(r.svc.Cart.IncreaseQuantity),
			"decreaseLineItemQuantity": byID(r.svc.Cart.DecreaseQuantity),
			"deleteLineItem":           byID(r.svc.Cart.DeleteLineItem),
		},
	})
}

func (r *resolver) addLineItem(p gql.ResolveParams) (any, error) {
	input, _ := p.Args["input"].(map[string]any)
	price, err := rawArg(input, "price")
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "price must be JSON")
	}
	submissions, err := rawArg(input, "submissions")
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "submissions must be JSON")
	}
	in := purchaseservice.AddLineItemInput{
		ProductID:   stringArg(input, "productId"),
		Price:       price,
		Submissions: submissions,
	}
	if q, ok := input["quantity"].(int); ok {
		in.Quantity = &q
	}
	return r.svc.Cart.AddLineItem(p.Context, in)
}

// wrap turns domain errors into client safe GraphQL errors and logs the ones
// that are not the caller's fault.
func (r *resolver) wrap(fn gql.FieldResolveFn) gql.FieldResolveFn {
	return func(p gql.ResolveParams) (any, error) {
		v, err := fn(p)
		if err == nil {
			return v, nil
		}
		code := dErrors.CodeOf(err)
		if code == dErrors.CodeInternal || code == dErrors.CodeUnavailable {
			r.logger.ErrorContext(p.Context, "graphql resolver failed",
				"field", p.Info.FieldName,
				"error", err,
				"request_id", requestcontext.RequestID(p.Context),
			)
		}
		return nil, &resolverError{code: code, message: dErrors.PublicMessage(err)}
	}
}

type resolverError struct {
	code    dErrors.Code
	message string
}

func (e *resolverError) Error() string { return e.message }

// Extensions exposes the error code to clients.
func (e *resolverError) Extensions() map[string]any {
	return map[string]any{"code": string(e.code)}
}

func stringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

// list returns an empty list for nil so non-null list fields resolve.
func list[T any](v []T, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	if v == nil {
		v = []T{}
	}
	return v, nil
}

// nilIfEmpty keeps a typed nil pointer from reaching the executor as a
// non-nil interface.
func nilIfEmpty(u *usermodels.User, err error) (any, error) {
	if err != nil || u == nil {
		return nil, err
	}
	return u, nil
}
