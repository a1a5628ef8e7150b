package graphql

import (
	"fmt"

	gql "github.com/graphql-go/graphql"

	activitymodels "tumi/internal/activitylog/models"
	paymentmodels "tumi/internal/payment/models"
	purchasemodels "tumi/internal/purchase/models"
	purchaseservice "tumi/internal/purchase/service"
	regmodels "tumi/internal/registration/models"
	usermodels "tumi/internal/user/models"
)

// prop builds a field read from a source of type T.
func prop[T any](t gql.Output, get func(T) any) *gql.Field {
	return &gql.Field{
		Type: t,
		Resolve: func(p gql.ResolveParams) (any, error) {
			src, ok := p.Source.(T)
			if !ok {
				return nil, nil
			}
			return get(src), nil
		},
	}
}

func optString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func optInt(n *int64) any {
	if n == nil {
		return nil
	}
	return *n
}

func optID[T fmt.Stringer](v *T) any {
	if v == nil {
		return nil
	}
	return (*v).String()
}

var (
	nonNullID     = gql.NewNonNull(gql.ID)
	nonNullString = gql.NewNonNull(gql.String)
	nonNullInt    = gql.NewNonNull(gql.Int)
	nonNullTime   = gql.NewNonNull(gql.DateTime)
)

type user = *usermodels.User

var userType = gql.NewObject(gql.ObjectConfig{
	Name: "User",
	Fields: gql.Fields{
		"id":        prop(nonNullID, func(u user) any { return u.ID.String() }),
		"email":     prop(nonNullString, func(u user) any { return u.Email }),
		"firstName": prop(nonNullString, func(u user) any { return u.FirstName }),
		"lastName":  prop(nonNullString, func(u user) any { return u.LastName }),
		"fullName":  prop(nonNullString, func(u user) any { return u.FullName() }),
		"createdAt": prop(nonNullTime, func(u user) any { return u.CreatedAt }),
	},
})

type registration = *regmodels.EventRegistration

var registrationType = gql.NewObject(gql.ObjectConfig{
	Name: "EventRegistration",
	Fields: gql.Fields{
		"id":                 prop(nonNullID, func(r registration) any { return r.ID.String() }),
		"userId":             prop(nonNullID, func(r registration) any { return r.UserID.String() }),
		"eventId":            prop(nonNullID, func(r registration) any { return r.EventID.String() }),
		"type":               prop(nonNullString, func(r registration) any { return string(r.Type) }),
		"status":             prop(nonNullString, func(r registration) any { return string(r.Status) }),
		"cancellationReason": prop(gql.String, func(r registration) any { return optString(r.CancellationReason) }),
		"paymentId":          prop(gql.ID, func(r registration) any { return optID(r.PaymentID) }),
		"createdAt":          prop(nonNullTime, func(r registration) any { return r.CreatedAt }),
	},
})

type payment = *paymentmodels.StripePayment

var paymentType = gql.NewObject(gql.ObjectConfig{
	Name: "StripePayment",
	Fields: gql.Fields{
		"id":                prop(nonNullID, func(p payment) any { return p.ID.String() }),
		"paymentIntent":     prop(nonNullString, func(p payment) any { return p.PaymentIntent }),
		"status":            prop(nonNullString, func(p payment) any { return string(p.Status) }),
		"amount":            prop(nonNullInt, func(p payment) any { return p.Amount }),
		"currency":          prop(nonNullString, func(p payment) any { return p.Currency }),
		"netAmount":         prop(gql.Int, func(p payment) any { return optInt(p.NetAmount) }),
		"feeAmount":         prop(gql.Int, func(p payment) any { return optInt(p.FeeAmount) }),
		"refundedAmount":    prop(gql.Int, func(p payment) any { return optInt(p.RefundedAmount) }),
		"paymentMethod":     prop(gql.String, func(p payment) any { return optString(p.PaymentMethod) }),
		"paymentMethodType": prop(gql.String, func(p payment) any { return optString(p.PaymentMethodType) }),
		"shipping":          prop(JSON, func(p payment) any { return p.Shipping }),
		"events":            prop(JSON, func(p payment) any { return p.Events }),
		"createdAt":         prop(nonNullTime, func(p payment) any { return p.CreatedAt }),
		"updatedAt":         prop(nonNullTime, func(p payment) any { return p.UpdatedAt }),
	},
})

type purchase = *purchasemodels.Purchase

var purchaseType = gql.NewObject(gql.ObjectConfig{
	Name: "Purchase",
	Fields: gql.Fields{
		"id":                 prop(nonNullID, func(p purchase) any { return p.ID.String() }),
		"userId":             prop(nonNullID, func(p purchase) any { return p.UserID.String() }),
		"status":             prop(nonNullString, func(p purchase) any { return string(p.Status) }),
		"cancellationReason": prop(gql.String, func(p purchase) any { return optString(p.CancellationReason) }),
		"paymentId":          prop(gql.ID, func(p purchase) any { return optID(p.PaymentID) }),
		"createdAt":          prop(nonNullTime, func(p purchase) any { return p.CreatedAt }),
	},
})

type lineItem = *purchasemodels.LineItem

var lineItemType = gql.NewObject(gql.ObjectConfig{
	Name: "LineItem",
	Fields: gql.Fields{
		"id":                 prop(nonNullID, func(li lineItem) any { return li.ID.String() }),
		"cartId":             prop(gql.ID, func(li lineItem) any { return optID(li.CartID) }),
		"purchaseId":         prop(gql.ID, func(li lineItem) any { return optID(li.PurchaseID) }),
		"productId":          prop(nonNullID, func(li lineItem) any { return li.ProductID.String() }),
		"quantity":           prop(nonNullInt, func(li lineItem) any { return li.Quantity }),
		"cost":               prop(nonNullInt, func(li lineItem) any { return li.Cost }),
		"cancellationReason": prop(gql.String, func(li lineItem) any { return optString(li.CancellationReason) }),
		"submissions": prop(JSON, func(li lineItem) any {
			if li.Submissions == nil {
				return []any{}
			}
			return li.Submissions
		}),
		"createdAt": prop(nonNullTime, func(li lineItem) any { return li.CreatedAt }),
	},
})

type cart = *purchaseservice.CartView

var cartType = gql.NewObject(gql.ObjectConfig{
	Name: "ShoppingCart",
	Fields: gql.Fields{
		"id":        prop(nonNullID, func(c cart) any { return c.Cart.ID.String() }),
		"createdAt": prop(nonNullTime, func(c cart) any { return c.Cart.CreatedAt }),
		"lineItems": prop(gql.NewNonNull(gql.NewList(gql.NewNonNull(lineItemType))), func(c cart) any {
			if c.Items == nil {
				return []*purchasemodels.LineItem{}
			}
			return c.Items
		}),
	},
})

var activityLogType = gql.NewObject(gql.ObjectConfig{
	Name: "ActivityLog",
	Fields: gql.Fields{
		"id":        prop(nonNullID, func(e activitymodels.Entry) any { return e.ID.String() }),
		"createdAt": prop(nonNullTime, func(e activitymodels.Entry) any { return e.CreatedAt }),
		"message":   prop(nonNullString, func(e activitymodels.Entry) any { return e.Message }),
		"severity":  prop(nonNullString, func(e activitymodels.Entry) any { return string(e.Severity) }),
		"category":  prop(nonNullString, func(e activitymodels.Entry) any { return e.Category }),
		"data":      prop(JSON, func(e activitymodels.Entry) any { return e.Data }),
		"oldData":   prop(JSON, func(e activitymodels.Entry) any { return e.OldData }),
	},
})

var addLineItemInputType = gql.NewInputObject(gql.InputObjectConfig{
	Name: "AddLineItemToBasketInput",
	Fields: gql.InputObjectConfigFieldMap{
		"price":       &gql.InputObjectFieldConfig{Type: gql.NewNonNull(JSON)},
		"submissions": &gql.InputObjectFieldConfig{Type: JSON},
		"productId":   &gql.InputObjectFieldConfig{Type: gql.NewNonNull(gql.String)},
		"quantity":    &gql.InputObjectFieldConfig{Type: gql.Int, DefaultValue: 1},
	},
})
