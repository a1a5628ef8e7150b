package service

import (
	"context"
	"errors"

	"github.com/stripe/stripe-go/v76"

	id "tumi/pkg/domain"
	dErrors "tumi/pkg/domain-errors"
	"tumi/pkg/platform/sentinel"
)

// checkoutSessionCompleted saves the card collected by a setup-mode checkout
// session on the StripeUserData row named by the client reference id.
func (s *Service) checkoutSessionCompleted(ctx context.Context, event stripe.Event) (*result, error) {
	sess, err := decodeObject[stripe.CheckoutSession](event)
	if err != nil {
		return nil, err
	}
	res := newResult()
	if sess.SetupIntent == nil || sess.SetupIntent.ID == "" || sess.ClientReferenceID == "" {
		res.outcome = OutcomeIgnored
		return res, nil
	}

	paymentMethod, err := s.provider.SetupIntentPaymentMethod(ctx, sess.SetupIntent.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to retrieve setup intent")
	}
	if paymentMethod == "" {
		res.outcome = OutcomeIgnored
		return res, nil
	}

	dataID, err := id.ParseStripeUserDataID(sess.ClientReferenceID)
	if err != nil {
		res.outcome = OutcomeAnomaly
		res.warn(MsgUserDataNotFound, rawObject(event), nil)
		return res, nil
	}

	err = s.payments.SetUserPaymentMethod(ctx, dataID, paymentMethod)
	if errors.Is(err, sentinel.ErrNotFound) {
		res.outcome = OutcomeAnomaly
		res.warn(MsgUserDataNotFound, rawObject(event), nil)
		return res, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save payment method")
	}
	return res, nil
}
