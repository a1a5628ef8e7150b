package service

import (
	"context"
	"errors"

	activitymodels "tumi/internal/activitylog/models"
	paymentmodels "tumi/internal/payment/models"
	purchasemodels "tumi/internal/purchase/models"
	regmodels "tumi/internal/registration/models"
	id "tumi/pkg/domain"
	dErrors "tumi/pkg/domain-errors"
	"tumi/pkg/platform/sentinel"
)

// Participant counts move only when a registration enters or leaves
// CANCELLED, so replays and out-of-order events cannot drift them.

func (s *Service) confirmDependents(ctx context.Context, p *paymentmodels.StripePayment, res *result) error {
	reg, err := s.registrations.FindRegistrationByPayment(ctx, p.ID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
	case err != nil:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load registration")
	default:
		if err := s.confirmRegistration(ctx, reg); err != nil {
			return err
		}
	}

	if err := s.updatePurchase(ctx, p, res, func(pur *purchasemodels.Purchase) { pur.MarkPaid() }); err != nil {
		return err
	}

	code, err := s.registrations.FindCodeByPayment(ctx, p.ID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load registration code")
	}

	if code.RegistrationToRemoveID != nil {
		removed, err := s.codeRegistration(ctx, *code.RegistrationToRemoveID, code, res)
		if err != nil {
			return err
		}
		// Only the event that moves the registration away refunds it; one
		// already cancelled for another reason has nothing left to refund.
		if removed != nil && removed.Status != regmodels.StatusCancelled {
			previous := *removed
			removed.Cancel(regmodels.ReasonMovedToAnotherPerson)
			if err := s.saveRegistration(ctx, removed, -1); err != nil {
				return err
			}
			if removed.PaymentID != nil {
				if err := s.scheduleRefund(ctx, *removed.PaymentID, &previous, res); err != nil {
					return err
				}
			}
		}
	}

	if code.RegistrationCreatedID != nil {
		created, err := s.codeRegistration(ctx, *code.RegistrationCreatedID, code, res)
		if err != nil {
			return err
		}
		if created != nil {
			if err := s.confirmRegistration(ctx, created); err != nil {
				return err
			}
		}
	}

	code.Status = regmodels.StatusSuccessful
	if err := s.registrations.UpdateCode(ctx, code); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update registration code")
	}
	return nil
}

func (s *Service) cancelDependents(ctx context.Context, p *paymentmodels.StripePayment, res *result, reason string) error {
	reg, err := s.registrations.FindRegistrationByPayment(ctx, p.ID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
	case err != nil:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load registration")
	case reg.Status != regmodels.StatusCancelled:
		reg.Cancel(reason)
		if err := s.saveRegistration(ctx, reg, -1); err != nil {
			return err
		}
	}

	if err := s.updatePurchase(ctx, p, res, func(pur *purchasemodels.Purchase) { pur.Cancel(reason) }); err != nil {
		return err
	}

	code, err := s.registrations.FindCodeByPayment(ctx, p.ID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load registration code")
	}

	if code.RegistrationToRemoveID != nil {
		removed, err := s.codeRegistration(ctx, *code.RegistrationToRemoveID, code, res)
		if err != nil {
			return err
		}
		if removed != nil && movedAway(removed) {
			removed.Confirm()
			if err := s.saveRegistration(ctx, removed, +1); err != nil {
				return err
			}
		}
	}

	if code.RegistrationCreatedID != nil {
		created, err := s.codeRegistration(ctx, *code.RegistrationCreatedID, code, res)
		if err != nil {
			return err
		}
		if created != nil && created.Status != regmodels.StatusCancelled {
			created.Cancel(regmodels.ReasonMovePaymentFailed)
			if err := s.saveRegistration(ctx, created, -1); err != nil {
				return err
			}
		}
	}

	code.RegistrationCreatedID = nil
	code.Status = regmodels.StatusPending
	if err := s.registrations.UpdateCode(ctx, code); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update registration code")
	}
	return nil
}

// movedAway reports whether r was cancelled by a code transfer, as opposed
// to its own payment failing.
func movedAway(r *regmodels.EventRegistration) bool {
	return r.Status == regmodels.StatusCancelled &&
		r.CancellationReason != nil &&
		*r.CancellationReason == regmodels.ReasonMovedToAnotherPerson
}

func (s *Service) confirmRegistration(ctx context.Context, reg *regmodels.EventRegistration) error {
	if reg.Status == regmodels.StatusSuccessful {
		return nil
	}
	delta := 0
	if reg.Status == regmodels.StatusCancelled {
		delta = 1
	}
	reg.Confirm()
	return s.saveRegistration(ctx, reg, delta)
}

func (s *Service) saveRegistration(ctx context.Context, reg *regmodels.EventRegistration, delta int) error {
	if err := s.registrations.UpdateRegistration(ctx, reg); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update registration")
	}
	if delta == 0 {
		return nil
	}
	if err := s.registrations.AdjustParticipantCount(ctx, reg.EventID, delta); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to adjust participant count")
	}
	return nil
}

// codeRegistration loads a registration referenced by code. A dangling
// reference is recorded and skipped.
func (s *Service) codeRegistration(ctx context.Context, regID id.RegistrationID, code *regmodels.EventRegistrationCode, res *result) (*regmodels.EventRegistration, error) {
	reg, err := s.registrations.FindRegistration(ctx, regID)
	if errors.Is(err, sentinel.ErrNotFound) {
		res.warn(MsgRegistrationNotFound, map[string]string{"registrationId": regID.String()}, code)
		return nil, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load registration")
	}
	return reg, nil
}

func (s *Service) updatePurchase(ctx context.Context, p *paymentmodels.StripePayment, res *result, mutate func(*purchasemodels.Purchase)) error {
	pur, err := s.purchases.FindPurchaseByPayment(ctx, p.ID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load purchase")
	}
	previous := *pur
	mutate(pur)
	if err := s.purchases.UpdatePurchase(ctx, pur); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			res.warn(MsgPurchaseUpdateFailed, err, &previous)
			return nil
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update purchase")
	}
	return nil
}

// scheduleRefund queues a refund of the payment behind a registration that
// was moved away. Refunds run after commit.
func (s *Service) scheduleRefund(ctx context.Context, paymentID id.PaymentID, reg *regmodels.EventRegistration, res *result) error {
	pay, err := s.payments.FindByID(ctx, paymentID)
	if errors.Is(err, sentinel.ErrNotFound) {
		res.anomalies = append(res.anomalies, anomaly{
			severity: activitymodels.SeverityError,
			message:  MsgRefundFailed,
			data:     map[string]string{"error": "payment not found", "paymentId": paymentID.String()},
			oldData:  reg,
		})
		return nil
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load payment to refund")
	}
	res.refunds = append(res.refunds, pendingRefund{
		paymentIntent: pay.PaymentIntent,
		registration:  reg,
		key:           "tumi-move-refund-" + reg.ID.String(),
	})
	return nil
}
