// Package service reconciles verified Stripe events against local payments,
// event registrations, purchases and registration codes.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/stripe/stripe-go/v76"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	activitymodels "tumi/internal/activitylog/models"
	dErrors "tumi/pkg/domain-errors"
	"tumi/pkg/platform/tx"
	"tumi/pkg/requestcontext"
)

// Category is the activity log category of every entry written here.
const Category = "webhook"

// Activity log messages.
const (
	MsgPaymentNotFound      = "No database payment found for incoming event"
	MsgEventsNotArray       = "Saved payment events are not an array"
	MsgPaymentUpdateFailed  = "Error updating payment in webhook"
	MsgPurchaseUpdateFailed = "Could not update the purchase"
	MsgRefundFailed         = "Refund failed during registration move"
	MsgUserDataNotFound     = "No stripe user data found for checkout session"
	MsgRegistrationNotFound = "Registration referenced by code not found"
)

// Outcome labels used in metrics and span attributes.
const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
	OutcomeStale     = "stale"
	OutcomeAnomaly   = "anomaly"
	OutcomeIgnored   = "ignored"
	OutcomeFailed    = "failed"
)

// Handled Stripe event types.
const (
	EventCheckoutSessionCompleted   = "checkout.session.completed"
	EventPaymentIntentProcessing    = "payment_intent.processing"
	EventPaymentIntentSucceeded     = "payment_intent.succeeded"
	EventPaymentIntentPaymentFailed = "payment_intent.payment_failed"
	EventPaymentIntentCanceled      = "payment_intent.canceled"
	EventChargeDisputeCreated       = "charge.dispute.created"
	EventChargeRefunded             = "charge.refunded"
)

// Service reconciles one event per call. Each event runs in its own
// transaction; activity log entries and refunds happen after it ends.
type Service struct {
	payments      PaymentStore
	registrations RegistrationStore
	purchases     PurchaseStore
	provider      Provider
	activity      ActivityLog
	runner        tx.Runner
	deduper       Deduper
	outbox        Outbox
	metrics       *Metrics
	logger        *slog.Logger
	tracer        trace.Tracer
}

type Option func(*Service)

func WithTxRunner(r tx.Runner) Option {
	return func(s *Service) { s.runner = r }
}

func WithDeduper(d Deduper) Option {
	return func(s *Service) { s.deduper = d }
}

func WithOutbox(o Outbox) Option {
	return func(s *Service) { s.outbox = o }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

func New(payments PaymentStore, registrations RegistrationStore, purchases PurchaseStore, provider Provider, activity ActivityLog, opts ...Option) *Service {
	s := &Service{
		payments:      payments,
		registrations: registrations,
		purchases:     purchases,
		provider:      provider,
		activity:      activity,
		runner:        tx.NopRunner{},
		logger:        slog.New(slog.DiscardHandler),
		tracer:        otel.Tracer("tumi/internal/webhook"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle reconciles a verified event. A nil error tells Stripe to stop
// retrying: anomalies such as an unknown payment intent are written to the
// activity log instead of being returned. Errors are infrastructure failures
// after which nothing of the event was committed.
func (s *Service) Handle(ctx context.Context, event stripe.Event) error {
	start := time.Now()
	eventType := string(event.Type)

	ctx, span := s.tracer.Start(ctx, "webhook.reconcile", trace.WithAttributes(
		attribute.String("stripe.event_id", event.ID),
		attribute.String("stripe.event_type", eventType),
	))
	defer span.End()

	outcome, err := s.handle(ctx, event)
	s.metrics.observeEvent(eventType, outcome, time.Since(start))
	span.SetAttributes(attribute.String("webhook.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reconcile failed")
		s.logger.ErrorContext(ctx, "stripe event reconciliation failed",
			"event_id", event.ID,
			"event_type", eventType,
			"error", err,
		)
		return err
	}
	return nil
}

func (s *Service) handle(ctx context.Context, event stripe.Event) (string, error) {
	if !isHandled(string(event.Type)) {
		s.logger.InfoContext(ctx, "unhandled stripe event", "event_id", event.ID, "event_type", string(event.Type))
		return OutcomeIgnored, nil
	}

	if !s.claim(ctx, event.ID) {
		s.logger.InfoContext(ctx, "duplicate stripe event", "event_id", event.ID, "event_type", string(event.Type))
		return OutcomeDuplicate, nil
	}

	res, err := s.dispatch(ctx, event)
	if err != nil {
		s.release(ctx, event.ID)
		if res != nil {
			s.recordAll(ctx, res.failures)
		}
		return OutcomeFailed, err
	}

	s.recordAll(ctx, res.anomalies)
	s.refund(ctx, res.refunds)
	return res.outcome, nil
}

func isHandled(eventType string) bool {
	switch eventType {
	case EventCheckoutSessionCompleted,
		EventPaymentIntentProcessing,
		EventPaymentIntentSucceeded,
		EventPaymentIntentPaymentFailed,
		EventPaymentIntentCanceled,
		EventChargeDisputeCreated,
		EventChargeRefunded:
		return true
	}
	return false
}

func (s *Service) dispatch(ctx context.Context, event stripe.Event) (*result, error) {
	switch string(event.Type) {
	case EventCheckoutSessionCompleted:
		return s.checkoutSessionCompleted(ctx, event)
	case EventPaymentIntentProcessing:
		return s.paymentIntentProcessing(ctx, event)
	case EventPaymentIntentSucceeded:
		return s.paymentIntentSucceeded(ctx, event)
	case EventPaymentIntentPaymentFailed:
		return s.paymentIntentFailed(ctx, event)
	case EventPaymentIntentCanceled:
		return s.paymentIntentCanceled(ctx, event)
	case EventChargeDisputeCreated:
		return s.chargeDisputeCreated(ctx, event)
	case EventChargeRefunded:
		return s.chargeRefunded(ctx, event)
	}
	return &result{outcome: OutcomeIgnored}, nil
}

// claim fails open: when the deduper is unreachable the payment history
// still rejects an event it has already recorded.
func (s *Service) claim(ctx context.Context, eventID string) bool {
	if s.deduper == nil {
		return true
	}
	ok, err := s.deduper.Claim(ctx, eventID)
	if err != nil {
		s.logger.WarnContext(ctx, "event dedupe unavailable", "event_id", eventID, "error", err)
		return true
	}
	return ok
}

func (s *Service) release(ctx context.Context, eventID string) {
	if s.deduper == nil {
		return
	}
	if err := s.deduper.Release(ctx, eventID); err != nil {
		s.logger.WarnContext(ctx, "failed to release event claim", "event_id", eventID, "error", err)
	}
}

// anomaly is an activity log entry collected while reconciling.
type anomaly struct {
	severity activitymodels.Severity
	message  string
	data     any
	oldData  any
}

type pendingRefund struct {
	paymentIntent string
	registration  any
	key           string
}

type result struct {
	outcome   string
	anomalies []anomaly
	// failures are recorded even when the transaction rolled back.
	failures []anomaly
	refunds  []pendingRefund
}

func newResult() *result {
	return &result{outcome: OutcomeProcessed}
}

func (r *result) warn(message string, data, oldData any) {
	r.anomalies = append(r.anomalies, anomaly{
		severity: activitymodels.SeverityWarning,
		message:  message,
		data:     data,
		oldData:  oldData,
	})
}

func (s *Service) recordAll(ctx context.Context, entries []anomaly) {
	for _, a := range entries {
		s.metrics.observeAnomaly(a.message)
		if err := s.activity.Log(ctx, a.severity, Category, a.message, a.data, a.oldData); err != nil {
			s.logger.ErrorContext(ctx, "failed to write activity log", "message", a.message, "error", err)
		}
	}
}

func (s *Service) refund(ctx context.Context, refunds []pendingRefund) {
	for _, r := range refunds {
		err := s.provider.RefundPaymentIntent(ctx, r.paymentIntent, r.key)
		s.metrics.observeRefund(err == nil)
		if err != nil {
			s.recordAll(ctx, []anomaly{{
				severity: activitymodels.SeverityError,
				message:  MsgRefundFailed,
				data:     err,
				oldData:  r.registration,
			}})
			continue
		}
		s.logger.InfoContext(ctx, "refunded moved registration", "payment_intent", r.paymentIntent)
	}
}

// decodeObject unmarshals the event's data object into T.
func decodeObject[T any](event stripe.Event) (*T, error) {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "event has no data object")
	}
	var v T
	if err := json.Unmarshal(event.Data.Raw, &v); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed event data object")
	}
	return &v, nil
}

// rawObject is the event object as delivered, used as activity log data.
func rawObject(event stripe.Event) json.RawMessage {
	if event.Data == nil {
		return nil
	}
	return event.Data.Raw
}

func now(ctx context.Context) time.Time {
	return requestcontext.Now(ctx)
}
