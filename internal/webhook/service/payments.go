package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/stripe/stripe-go/v76"

	activitymodels "tumi/internal/activitylog/models"
	outboxmodels "tumi/internal/outbox/models"
	paymentmodels "tumi/internal/payment/models"
	regmodels "tumi/internal/registration/models"
	dErrors "tumi/pkg/domain-errors"
	"tumi/pkg/platform/sentinel"
)

// paymentChange describes how one event type mutates a payment and what
// follows from it inside the same transaction.
type paymentChange struct {
	// name is the history entry name.
	name string
	// staleWhen makes the event history-only for payments whose current
	// status it must not overwrite. Nil applies the event unconditionally.
	staleWhen func(paymentmodels.Status) bool
	apply     func(ctx context.Context, p *paymentmodels.StripePayment) error
	cascade   func(ctx context.Context, p *paymentmodels.StripePayment, res *result) error
}

func (s *Service) reconcilePayment(ctx context.Context, event stripe.Event, paymentIntent string, change paymentChange) (*result, error) {
	res := newResult()
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		p, err := s.payments.FindByPaymentIntent(ctx, paymentIntent)
		if errors.Is(err, sentinel.ErrNotFound) {
			res.outcome = OutcomeAnomaly
			res.warn(MsgPaymentNotFound, rawObject(event), nil)
			return nil
		}
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load payment")
		}

		seen, err := p.HasEvent(event.ID)
		if err != nil {
			res.outcome = OutcomeAnomaly
			res.warn(MsgEventsNotArray, rawObject(event), p)
			return nil
		}
		if seen {
			res.outcome = OutcomeDuplicate
			return nil
		}

		previous := *p
		stale := change.staleWhen != nil && change.staleWhen(p.Status)
		if stale {
			res.outcome = OutcomeStale
		} else if err := change.apply(ctx, p); err != nil {
			return err
		}

		ev := paymentmodels.NewPaymentEvent(string(event.Type), change.name, event.ID, now(ctx))
		if err := p.AppendEvent(ev); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append payment event")
		}
		if err := s.payments.Update(ctx, p); err != nil {
			res.failures = append(res.failures, anomaly{
				severity: activitymodels.SeverityError,
				message:  MsgPaymentUpdateFailed,
				data:     err,
				oldData:  &previous,
			})
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update payment")
		}
		if stale {
			s.logger.InfoContext(ctx, "payment already past this event, recorded in history only",
				"payment_id", p.ID.String(),
				"status", string(p.Status),
				"event_type", string(event.Type),
			)
			return nil
		}

		if change.cascade != nil {
			if err := change.cascade(ctx, p, res); err != nil {
				return err
			}
		}
		return s.enqueue(ctx, event, change.name, p)
	})
	return res, err
}

func (s *Service) paymentIntentProcessing(ctx context.Context, event stripe.Event) (*result, error) {
	pi, err := decodeObject[stripe.PaymentIntent](event)
	if err != nil {
		return nil, err
	}
	return s.reconcilePayment(ctx, event, pi.ID, paymentChange{
		name:      "processing",
		staleWhen: paymentmodels.Status.IsTerminal,
		apply: func(ctx context.Context, p *paymentmodels.StripePayment) error {
			p.Status = paymentmodels.Status(pi.Status)
			setShipping(p, pi.Shipping)
			ch, err := s.latestCharge(ctx, pi)
			if err != nil {
				return err
			}
			setPaymentMethod(p, ch)
			return nil
		},
	})
}

func (s *Service) paymentIntentSucceeded(ctx context.Context, event stripe.Event) (*result, error) {
	pi, err := decodeObject[stripe.PaymentIntent](event)
	if err != nil {
		return nil, err
	}
	return s.reconcilePayment(ctx, event, pi.ID, paymentChange{
		name:      "succeeded",
		staleWhen: paymentmodels.Status.IsPostSettlement,
		apply: func(ctx context.Context, p *paymentmodels.StripePayment) error {
			p.Status = paymentmodels.Status(pi.Status)
			setShipping(p, pi.Shipping)
			ch, err := s.latestCharge(ctx, pi)
			if err != nil || ch == nil {
				return err
			}
			setPaymentMethod(p, ch)
			bt, err := s.balanceTransaction(ctx, ch.BalanceTransaction)
			if err != nil {
				return err
			}
			setAmounts(p, bt)
			return nil
		},
		cascade: s.confirmDependents,
	})
}

func (s *Service) paymentIntentFailed(ctx context.Context, event stripe.Event) (*result, error) {
	pi, err := decodeObject[stripe.PaymentIntent](event)
	if err != nil {
		return nil, err
	}
	return s.reconcilePayment(ctx, event, pi.ID, paymentChange{
		name:      "failed",
		staleWhen: paymentmodels.Status.IsTerminal,
		apply: func(_ context.Context, p *paymentmodels.StripePayment) error {
			p.Status = paymentmodels.Status(pi.Status)
			setShipping(p, pi.Shipping)
			return nil
		},
		cascade: func(ctx context.Context, p *paymentmodels.StripePayment, res *result) error {
			return s.cancelDependents(ctx, p, res, regmodels.ReasonPaymentFailed)
		},
	})
}

func (s *Service) paymentIntentCanceled(ctx context.Context, event stripe.Event) (*result, error) {
	pi, err := decodeObject[stripe.PaymentIntent](event)
	if err != nil {
		return nil, err
	}
	return s.reconcilePayment(ctx, event, pi.ID, paymentChange{
		name:      "canceled",
		staleWhen: paymentmodels.Status.IsTerminal,
		apply: func(_ context.Context, p *paymentmodels.StripePayment) error {
			p.Status = paymentmodels.Status(pi.Status)
			return nil
		},
		cascade: func(ctx context.Context, p *paymentmodels.StripePayment, res *result) error {
			return s.cancelDependents(ctx, p, res, regmodels.ReasonPaymentTimedOut)
		},
	})
}

func (s *Service) chargeDisputeCreated(ctx context.Context, event stripe.Event) (*result, error) {
	d, err := decodeObject[stripe.Dispute](event)
	if err != nil {
		return nil, err
	}
	var paymentIntent string
	switch {
	case d.PaymentIntent != nil:
		paymentIntent = d.PaymentIntent.ID
	case d.Charge != nil && d.Charge.PaymentIntent != nil:
		paymentIntent = d.Charge.PaymentIntent.ID
	}
	return s.reconcilePayment(ctx, event, paymentIntent, paymentChange{
		name: "disputed",
		apply: func(_ context.Context, p *paymentmodels.StripePayment) error {
			p.Status = paymentmodels.Status(d.Status)
			return nil
		},
	})
}

func (s *Service) chargeRefunded(ctx context.Context, event stripe.Event) (*result, error) {
	ch, err := decodeObject[stripe.Charge](event)
	if err != nil {
		return nil, err
	}
	var paymentIntent string
	if ch.PaymentIntent != nil {
		paymentIntent = ch.PaymentIntent.ID
	}
	return s.reconcilePayment(ctx, event, paymentIntent, paymentChange{
		name: "refunded",
		apply: func(ctx context.Context, p *paymentmodels.StripePayment) error {
			p.Status = paymentmodels.StatusRefunded
			refunded := ch.AmountRefunded
			p.RefundedAmount = &refunded
			bt, err := s.balanceTransaction(ctx, ch.BalanceTransaction)
			if err != nil {
				return err
			}
			setAmounts(p, bt)
			return nil
		},
	})
}

// latestCharge returns the intent's latest charge, retrieving it when the
// event carries only its id.
func (s *Service) latestCharge(ctx context.Context, pi *stripe.PaymentIntent) (*stripe.Charge, error) {
	ch := pi.LatestCharge
	if ch == nil || ch.ID == "" {
		return nil, nil
	}
	if ch.Object != "" {
		return ch, nil
	}
	full, err := s.provider.Charge(ctx, ch.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to retrieve charge")
	}
	return full, nil
}

func (s *Service) balanceTransaction(ctx context.Context, bt *stripe.BalanceTransaction) (*stripe.BalanceTransaction, error) {
	if bt == nil || bt.ID == "" {
		return nil, nil
	}
	if bt.Object != "" {
		return bt, nil
	}
	full, err := s.provider.BalanceTransaction(ctx, bt.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to retrieve balance transaction")
	}
	return full, nil
}

func setShipping(p *paymentmodels.StripePayment, shipping *stripe.ShippingDetails) {
	if shipping == nil {
		return
	}
	if b, err := json.Marshal(shipping); err == nil {
		p.Shipping = b
	}
}

func setPaymentMethod(p *paymentmodels.StripePayment, ch *stripe.Charge) {
	if ch == nil {
		return
	}
	if ch.PaymentMethod != "" {
		method := ch.PaymentMethod
		p.PaymentMethod = &method
	}
	if ch.PaymentMethodDetails != nil && ch.PaymentMethodDetails.Type != "" {
		methodType := string(ch.PaymentMethodDetails.Type)
		p.PaymentMethodType = &methodType
	}
}

func setAmounts(p *paymentmodels.StripePayment, bt *stripe.BalanceTransaction) {
	if bt == nil {
		return
	}
	fee, net := bt.Fee, bt.Net
	p.FeeAmount = &fee
	p.NetAmount = &net
}

// paymentMessage is the outbox payload for payment lifecycle changes.
type paymentMessage struct {
	PaymentID       string    `json:"paymentId"`
	PaymentIntent   string    `json:"paymentIntent"`
	Status          string    `json:"status"`
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	StripeEventID   string    `json:"stripeEventId"`
	StripeEventType string    `json:"stripeEventType"`
	OccurredAt      time.Time `json:"occurredAt"`
}

func (s *Service) enqueue(ctx context.Context, event stripe.Event, name string, p *paymentmodels.StripePayment) error {
	if s.outbox == nil {
		return nil
	}
	msg, err := outboxmodels.NewMessage("stripe_payment", p.ID.String(), "payment."+name, paymentMessage{
		PaymentID:       p.ID.String(),
		PaymentIntent:   p.PaymentIntent,
		Status:          string(p.Status),
		Amount:          p.Amount,
		Currency:        p.Currency,
		StripeEventID:   event.ID,
		StripeEventType: string(event.Type),
		OccurredAt:      now(ctx),
	}, now(ctx))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to build outbox message")
	}
	if err := s.outbox.Append(ctx, msg); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to write outbox message")
	}
	return nil
}
