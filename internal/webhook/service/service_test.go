package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"github.com/stripe/stripe-go/v76"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/mock/gomock"

	activitymodels "tumi/internal/activitylog/models"
	activityservice "tumi/internal/activitylog/service"
	activitystore "tumi/internal/activitylog/store"
	outboxstore "tumi/internal/outbox/store"
	paymentmodels "tumi/internal/payment/models"
	paymentstore "tumi/internal/payment/store"
	purchasemodels "tumi/internal/purchase/models"
	purchasestore "tumi/internal/purchase/store"
	regmodels "tumi/internal/registration/models"
	regstore "tumi/internal/registration/store"
	"tumi/internal/webhook/dedupe"
	"tumi/internal/webhook/mocks"
	id "tumi/pkg/domain"
	dErrors "tumi/pkg/domain-errors"
	"tumi/pkg/requestcontext"
	tu "tumi/pkg/testutil"
)

type failingPayments struct {
	*paymentstore.InMemory
}

func (failingPayments) Update(context.Context, *paymentmodels.StripePayment) error {
	return errors.New("deadlock detected")
}

type ServiceSuite struct {
	suite.Suite
	ctrl          *gomock.Controller
	provider      *mocks.MockProvider
	payments      *paymentstore.InMemory
	registrations *regstore.InMemory
	purchases     *purchasestore.InMemory
	activity      *activitystore.InMemory
	outbox        *outboxstore.InMemory
	metrics       *Metrics
	service       *Service
	ctx           context.Context
	now           time.Time

	tumiEvent *regmodels.TumiEvent
	payment   *paymentmodels.StripePayment
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.provider = mocks.NewMockProvider(s.ctrl)
	s.payments = paymentstore.NewInMemory()
	s.registrations = regstore.NewInMemory()
	s.purchases = purchasestore.NewInMemory()
	s.activity = activitystore.NewInMemory()
	s.outbox = outboxstore.NewInMemory()
	s.metrics = NewMetricsWith(prometheus.NewRegistry())
	s.now = time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.service = s.newService(s.payments)

	s.tumiEvent = &regmodels.TumiEvent{
		ID:                           id.EventID(uuid.New()),
		TenantID:                     id.TenantID(uuid.New()),
		Title:                        "Pub Crawl",
		ParticipantRegistrationCount: 5,
	}
	s.Require().NoError(s.registrations.CreateEvent(s.ctx, s.tumiEvent))
	s.payment = s.seedPayment("pi_1")
}

func (s *ServiceSuite) newService(payments PaymentStore) *Service {
	return New(payments, s.registrations, s.purchases, s.provider,
		activityservice.New(s.activity, nil),
		WithDeduper(dedupe.NewInMemory(time.Hour)),
		WithOutbox(s.outbox),
		WithMetrics(s.metrics),
	)
}

func (s *ServiceSuite) seedPayment(intent string) *paymentmodels.StripePayment {
	p := &paymentmodels.StripePayment{
		ID:            id.PaymentID(uuid.New()),
		PaymentIntent: intent,
		Status:        paymentmodels.StatusRequiresPaymentMethod,
		Amount:        1500,
		Currency:      "eur",
		Events:        json.RawMessage(`[{"type":"create","name":"created","date":1}]`),
	}
	s.Require().NoError(s.payments.Create(s.ctx, p))
	return p
}

func (s *ServiceSuite) seedRegistration(status regmodels.Status, paymentID *id.PaymentID) *regmodels.EventRegistration {
	r := &regmodels.EventRegistration{
		ID:        id.RegistrationID(uuid.New()),
		UserID:    id.UserID(uuid.New()),
		EventID:   s.tumiEvent.ID,
		Type:      regmodels.TypeParticipant,
		Status:    status,
		PaymentID: paymentID,
	}
	s.Require().NoError(s.registrations.CreateRegistration(s.ctx, r))
	return r
}

func (s *ServiceSuite) seedPurchase() *purchasemodels.Purchase {
	pid := s.payment.ID
	p := &purchasemodels.Purchase{
		ID:        id.PurchaseID(uuid.New()),
		UserID:    id.UserID(uuid.New()),
		TenantID:  s.tumiEvent.TenantID,
		Status:    purchasemodels.StatusPending,
		PaymentID: &pid,
	}
	s.Require().NoError(s.purchases.CreatePurchase(s.ctx, p))
	return p
}

func (s *ServiceSuite) event(eventID, eventType, object string) stripe.Event {
	var ev stripe.Event
	s.Require().NoError(json.Unmarshal(tu.StripeEvent(eventID, eventType, object), &ev))
	return ev
}

func (s *ServiceSuite) reload(p *paymentmodels.StripePayment) *paymentmodels.StripePayment {
	got, err := s.payments.FindByID(s.ctx, p.ID)
	s.Require().NoError(err)
	return got
}

func (s *ServiceSuite) registration(regID id.RegistrationID) *regmodels.EventRegistration {
	got, err := s.registrations.FindRegistration(s.ctx, regID)
	s.Require().NoError(err)
	return got
}

func (s *ServiceSuite) participantCount() int {
	e, err := s.registrations.FindEvent(s.ctx, s.tumiEvent.ID)
	s.Require().NoError(err)
	return e.ParticipantRegistrationCount
}

func (s *ServiceSuite) logs() []activitymodels.Entry {
	entries, err := s.activity.List(s.ctx, activitymodels.Filter{})
	s.Require().NoError(err)
	return entries
}

func (s *ServiceSuite) lastHistoryEntry(p *paymentmodels.StripePayment) paymentmodels.PaymentEvent {
	history, err := p.History()
	s.Require().NoError(err)
	s.Require().NotEmpty(history)
	return history[len(history)-1]
}

const succeededIntent = `{
	"id":"pi_1","object":"payment_intent","status":"succeeded",
	"shipping":{"name":"Ada Lovelace","address":{"city":"Munich","country":"DE"}},
	"latest_charge":"ch_1"
}`

func (s *ServiceSuite) expectCharge() {
	s.provider.EXPECT().Charge(gomock.Any(), "ch_1").Return(&stripe.Charge{
		ID:                   "ch_1",
		Object:               "charge",
		PaymentMethod:        "pm_card_visa",
		PaymentMethodDetails: &stripe.ChargePaymentMethodDetails{Type: "card"},
		BalanceTransaction:   &stripe.BalanceTransaction{ID: "txn_1", Object: "balance_transaction", Fee: 65, Net: 1435},
	}, nil)
}

func (s *ServiceSuite) TestUnhandledEventIsAcknowledged() {
	err := s.service.Handle(s.ctx, s.event("evt_x", "customer.created", `{"id":"cus_1"}`))
	s.Require().NoError(err)
	s.Empty(s.logs())
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Events.WithLabelValues("customer.created", OutcomeIgnored)))
}

func (s *ServiceSuite) TestPaymentNotFoundIsLoggedAndAcknowledged() {
	object := `{"id":"pi_unknown","object":"payment_intent","status":"processing"}`
	err := s.service.Handle(s.ctx, s.event("evt_1", EventPaymentIntentProcessing, object))
	s.Require().NoError(err)

	logs := s.logs()
	s.Require().Len(logs, 1)
	s.Equal(MsgPaymentNotFound, logs[0].Message)
	s.Equal(activitymodels.SeverityWarning, logs[0].Severity)
	s.Equal(Category, logs[0].Category)
	s.JSONEq(object, string(logs[0].Data))
	s.Empty(s.outbox.All())
}

func (s *ServiceSuite) TestEventsNotArrayIsLoggedWithPaymentSnapshot() {
	broken := s.seedPayment("pi_broken")
	broken.Events = json.RawMessage(`{"type":"create"}`)
	s.Require().NoError(s.payments.Update(s.ctx, broken))

	err := s.service.Handle(s.ctx, s.event("evt_1", EventPaymentIntentCanceled, `{"id":"pi_broken","status":"canceled"}`))
	s.Require().NoError(err)

	logs := s.logs()
	s.Require().Len(logs, 1)
	s.Equal(MsgEventsNotArray, logs[0].Message)
	s.Contains(string(logs[0].OldData), "pi_broken")
	s.Equal(paymentmodels.StatusRequiresPaymentMethod, s.reload(broken).Status)
}

func (s *ServiceSuite) TestProcessingUsesExpandedCharge() {
	object := `{
		"id":"pi_1","object":"payment_intent","status":"processing",
		"latest_charge":{"id":"ch_1","object":"charge","payment_method":"pm_sepa","payment_method_details":{"type":"sepa_debit"}}
	}`
	s.Require().NoError(s.service.Handle(s.ctx, s.event("evt_1", EventPaymentIntentProcessing, object)))

	got := s.reload(s.payment)
	s.Equal(paymentmodels.StatusProcessing, got.Status)
	s.Require().NotNil(got.PaymentMethod)
	s.Equal("pm_sepa", *got.PaymentMethod)
	s.Require().NotNil(got.PaymentMethodType)
	s.Equal("sepa_debit", *got.PaymentMethodType)
	s.Nil(got.Shipping)

	last := s.lastHistoryEntry(got)
	s.Equal(EventPaymentIntentProcessing, last.Type)
	s.Equal("processing", last.Name)
	s.Equal("evt_1", last.EventID)
	s.Equal(s.now.UnixMilli(), last.Date)
}

func (s *ServiceSuite) TestSucceededUpdatesPaymentAndDependents() {
	reg := s.seedRegistration(regmodels.StatusPending, &s.payment.ID)
	purchase := s.seedPurchase()
	s.expectCharge()

	s.Require().NoError(s.service.Handle(s.ctx, s.event("evt_1", EventPaymentIntentSucceeded, succeededIntent)))

	got := s.reload(s.payment)
	s.Equal(paymentmodels.StatusSucceeded, got.Status)
	s.Equal(int64(65), *got.FeeAmount)
	s.Equal(int64(1435), *got.NetAmount)
	s.Equal("pm_card_visa", *got.PaymentMethod)
	s.Equal("card", *got.PaymentMethodType)
	var shipping struct {
		Name string `json:"name"`
	}
	s.Require().NoError(json.Unmarshal(got.Shipping, &shipping))
	s.Equal("Ada Lovelace", shipping.Name)

	history, err := got.History()
	s.Require().NoError(err)
	s.Len(history, 2)
	s.Equal("succeeded", history[1].Name)

	s.Equal(regmodels.StatusSuccessful, s.registration(reg.ID).Status)
	p, err := s.purchases.FindPurchase(s.ctx, purchase.ID)
	s.Require().NoError(err)
	s.Equal(purchasemodels.StatusPaid, p.Status)
	s.Equal(5, s.participantCount())

	msgs := s.outbox.All()
	s.Require().Len(msgs, 1)
	s.Equal("payment.succeeded", msgs[0].EventType)
	s.Equal(s.payment.ID.String(), msgs[0].AggregateID)
	s.Contains(string(msgs[0].Payload), `"stripeEventId":"evt_1"`)
	s.Empty(s.logs())
}

func (s *ServiceSuite) TestSucceededFetchesBalanceTransactionWhenOnlyIDIsPresent() {
	s.provider.EXPECT().Charge(gomock.Any(), "ch_1").Return(&stripe.Charge{
		ID:                 "ch_1",
		Object:             "charge",
		BalanceTransaction: &stripe.BalanceTransaction{ID: "txn_1"},
	}, nil)
	s.provider.EXPECT().BalanceTransaction(gomock.Any(), "txn_1").
		Return(&stripe.BalanceTransaction{ID: "txn_1", Object: "balance_transaction", Fee: 10, Net: 1490}, nil)

	s.Require().NoError(s.service.Handle(s.ctx, s.event("evt_1", EventPaymentIntentSucceeded, succeededIntent)))

	got := s.reload(s.payment)
	s.Equal(int64(10), *got.FeeAmount)
	s.Equal(int64(1490), *got.NetAmount)
}

func (s *ServiceSuite) TestSucceededCompletesRegistrationTransfer() {
	oldPayment := s.seedPayment("pi_old")
	removed := s.seedRegistration(regmodels.StatusSuccessful, &oldPayment.ID)
	created := s.seedRegistration(regmodels.StatusPending, nil)
	pid := s.payment.ID
	code := &regmodels.EventRegistrationCode{
		ID:                     id.RegistrationCodeID(uuid.New()),
		EventID:                s.tumiEvent.ID,
		CreatorID:              removed.UserID,
		RegistrationToRemoveID: &removed.ID,
		RegistrationCreatedID:  &created.ID,
		PaymentID:              &pid,
		Status:                 regmodels.StatusPending,
	}
	s.Require().NoError(s.registrations.CreateCode(s.ctx, code))

	s.expectCharge()
	s.provider.EXPECT().RefundPaymentIntent(gomock.Any(), "pi_old", "tumi-move-refund-"+removed.ID.String()).Return(nil)

	s.Require().NoError(s.service.Handle(s.ctx, s.event("evt_1", EventPaymentIntentSucceeded, succeededIntent)))

	gotRemoved := s.registration(removed.ID)
	s.Equal(regmodels.StatusCancelled, gotRemoved.Status)
	s.Require().NotNil(gotRemoved.CancellationReason)
	s.Equal(regmodels.ReasonMovedToAnotherPerson, *gotRemoved.CancellationReason)
	s.Equal(regmodels.StatusSuccessful, s.registration(created.ID).Status)
	s.Equal(4, s.participantCount())

	gotCode, err := s.registrations.FindCode(s.ctx, code.ID)
	s.Require().NoError(err)
	s.Equal(regmodels.StatusSuccessful, gotCode.Status)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Refunds.WithLabelValues("ok")))
}

func (s *ServiceSuite) TestTransferSkipsRefundForAlreadyCancelledRegistration() {
	oldPayment := s.seedPayment("pi_old")
	removed := s.seedRegistration(regmodels.StatusCancelled, &oldPayment.ID)
	reason := regmodels.ReasonPaymentFailed
	removed.CancellationReason = &reason
	s.Require().NoError(s.registrations.UpdateRegistration(s.ctx, removed))
	pid := s.payment.ID
	code := &regmodels.EventRegistrationCode{
		ID:                     id.RegistrationCodeID(uuid.New()),
		EventID:                s.tumiEvent.ID,
		RegistrationToRemoveID: &removed.ID,
		PaymentID:              &pid,
		Status:                 regmodels.StatusPending,
	}
	s.Require().NoError(s.registrations.CreateCode(s.ctx, code))

	// No RefundPaymentIntent expectation: gomock fails on any refund call.
	s.expectCharge()
	s.Require().NoError(s.service.Handle(s.ctx, s.event("evt_1", EventPaymentIntentSucceeded, succeededIntent)))

	got := s.registration(removed.ID)
	s.Equal(regmodels.StatusCancelled, got.Status)
	s.Equal(regmodels.ReasonPaymentFailed, *got.CancellationReason)
	s.Equal(5, s.participantCount())
	s.Empty(s.logs())
	s.Zero(testutil.ToFloat64(s.metrics.Refunds.WithLabelValues("ok")))

	gotCode, err := s.registrations.FindCode(s.ctx, code.ID)
	s.Require().NoError(err)
	s.Equal(regmodels.StatusSuccessful, gotCode.Status)
}

func (s *ServiceSuite) TestRefundFailureIsLoggedButAcknowledged() {
	oldPayment := s.seedPayment("pi_old")
	removed := s.seedRegistration(regmodels.StatusSuccessful, &oldPayment.ID)
	pid := s.payment.ID
	s.Require().NoError(s.registrations.CreateCode(s.ctx, &regmodels.EventRegistrationCode{
		ID:                     id.RegistrationCodeID(uuid.New()),
		EventID:                s.tumiEvent.ID,
		RegistrationToRemoveID: &removed.ID,
		PaymentID:              &pid,
		Status:                 regmodels.StatusPending,
	}))

	s.expectCharge()
	s.provider.EXPECT().RefundPaymentIntent(gomock.Any(), "pi_old", gomock.Any()).
		Return(errors.New("charge already refunded"))

	s.Require().NoError(s.service.Handle(s.ctx, s.event("evt_1", EventPaymentIntentSucceeded, succeededIntent)))

	logs := s.logs()
	s.Require().Len(logs, 1)
	s.Equal(MsgRefundFailed, logs[0].Message)
	s.Equal(activitymodels.SeverityError, logs[0].Severity)
	s.Contains(string(logs[0].Data), "charge already refunded")
	s.Equal(regmodels.StatusCancelled, s.registration(removed.ID).Status)
}

func (s *ServiceSuite) TestPaymentFailedCancelsDependents() {
	reg := s.seedRegistration(regmodels.StatusPending, &s.payment.ID)
	purchase := s.seedPurchase()

	object := `{"id":"pi_1","object":"payment_intent","status":"requires_payment_method","shipping":{"name":"Ada"}}`
	s.Require().NoError(s.service.Handle(s.ctx, s.event("evt_1", EventPaymentIntentPaymentFailed, object)))

	got := s.reload(s.payment)
	s.Equal(paymentmodels.StatusRequiresPaymentMethod, got.Status)
	s.NotNil(got.Shipping)
	s.Equal("failed", s.lastHistoryEntry(got).Name)

	gotReg := s.registration(reg.ID)
	s.Equal(regmodels.StatusCancelled, gotReg.Status)
	s.Equal(regmodels.ReasonPaymentFailed, *gotReg.CancellationReason)
	s.Equal(4, s.participantCount())

	p, err := s.purchases.FindPurchase(s.ctx, purchase.ID)
	s.Require().NoError(err)
	s.Equal(purchasemodels.StatusCancelled, p.Status)
	s.Equal(regmodels.ReasonPaymentFailed, *p.CancellationReason)

	s.Run("a second failure does not decrement again", func() {
		s.Require().NoError(s.service.Handle(s.ctx, s.event("evt_2", EventPaymentIntentPaymentFailed, object)))
		s.Equal(4, s.participantCount())
	})

	s.Run("success after a failed attempt restores the seat", func() {
		s.expectCharge()
		s.Require().NoError(s.service.Handle(s.ctx, s.event("evt_3", EventPaymentIntentSucceeded, succeededIntent)))
		s.Equal(regmodels.StatusSuccessful, s.registration(reg.ID).Status)
		s.Nil(s.registration(reg.ID).CancellationReason)
		s.Equal(5, s.participantCount())
	})
}

func (s *ServiceSuite) TestPaymentFailedRevertsRegistrationTransfer() {
	oldPayment := s.seedPayment("pi_old")
	moved := regmodels.ReasonMovedToAnotherPerson
	removed := s.seedRegistration(regmodels.StatusCancelled, &oldPayment.ID)
	removed.CancellationReason = &moved
	s.Require().NoError(s.registrations.UpdateRegistration(s.ctx, removed))
	created := s.seedRegistration(regmodels.StatusPending, nil)
	pid := s.payment.ID
	code := &regmodels.EventRegistrationCode{
		ID:                     id.RegistrationCodeID(uuid.New()),
		EventID:                s.tumiEvent.ID,
		RegistrationToRemoveID: &removed.ID,
		RegistrationCreatedID:  &created.ID,
		PaymentID:              &pid,
		Status:                 regmodels.StatusPending,
	}
	s.Require().NoError(s.registrations.CreateCode(s.ctx, code))

	object := `{"id":"pi_1","object":"payment_intent","status":"requires_payment_method"}`
	s.Require().NoError(s.service.Handle(s.ctx, s.event("evt_1", EventPaymentIntentPaymentFailed, object)))

	gotRemoved := s.registration(removed.ID)
	s.Equal(regmodels.StatusSuccessful, gotRemoved.Status)
	s.Nil(gotRemoved.CancellationReason)

	gotCreated := s.registration(created.ID)
	s.Equal(regmodels.StatusCancelled, gotCreated.Status)
	s.Equal(regmodels.ReasonMovePaymentFailed, *gotCreated.CancellationReason)
	s.Equal(5, s.participantCount(), "one seat restored, one released")

	gotCode, err := s.registrations.FindCode(s.ctx, code.ID)
	s.Require().NoError(err)
	s.Equal(regmodels.StatusPending, gotCode.Status)
	s.Nil(gotCode.RegistrationCreatedID)
}

func (s *ServiceSuite) TestPaymentFailedLeavesRegistrationCancelledForOtherReasons() {
	oldPayment := s.seedPayment("pi_old")
	removed := s.seedRegistration(regmodels.StatusPending, &oldPayment.ID)
	removed.Cancel(regmodels.ReasonPaymentTimedOut)
	s.Require().NoError(s.registrations.UpdateRegistration(s.ctx, removed))
	pid := s.payment.ID
	s.Require().NoError(s.registrations.CreateCode(s.ctx, &regmodels.EventRegistrationCode{
		ID:                     id.RegistrationCodeID(uuid.New()),
		EventID:                s.tumiEvent.ID,
		RegistrationToRemoveID: &removed.ID,
		PaymentID:              &pid,
		Status:                 regmodels.StatusPending,
	}))

	object := `{"id":"pi_1","object":"payment_intent","status":"requires_payment_method"}`
	s.Require().NoError(s.service.Handle(s.ctx, s.event("evt_1", EventPaymentIntentPaymentFailed, object)))

	s.Equal(regmodels.StatusCancelled, s.registration(removed.ID).Status)
	s.Equal(5, s.participantCount())
}

func (s *ServiceSuite) TestCanceledUsesTimeoutReasonAndKeepsShipping() {
	s.payment.Shipping = json.RawMessage(`{"name":"Kept"}`)
	s.Require().NoError(s.payments.Update(s.ctx, s.payment))
	reg := s.seedRegistration(regmodels.StatusPending, &s.payment.ID)

	object := `{"id":"pi_1","object":"payment_intent","status":"canceled","shipping":{"name":"Ignored"}}`
	s.Require().NoError(s.service.Handle(s.ctx, s.event("evt_1", EventPaymentIntentCanceled, object)))

	got := s.reload(s.payment)
	s.Equal(paymentmodels.StatusCanceled, got.Status)
	s.JSONEq(`{"name":"Kept"}`, string(got.Shipping))
	s.Equal("canceled", s.lastHistoryEntry(got).Name)
	s.Equal(regmodels.ReasonPaymentTimedOut, *s.registration(reg.ID).CancellationReason)
	s.Equal("payment.canceled", s.outbox.All()[0].EventType)
}

func (s *ServiceSuite) TestLateEventsDoNotRegressTerminalStatus() {
	reg := s.seedRegistration(regmodels.StatusPending, &s.payment.ID)
	s.expectCharge()
	s.Require().NoError(s.service.Handle(s.ctx, s.event("evt_1", EventPaymentIntentSucceeded, succeededIntent)))

	s.Require().NoError(s.service.Handle(s.ctx, s.event("evt_0", EventPaymentIntentProcessing,
		`{"id":"pi_1","object":"payment_intent","status":"processing"}`)))
	s.Require().NoError(s.service.Handle(s.ctx, s.event("evt_f", EventPaymentIntentPaymentFailed,
		`{"id":"pi_1","object":"payment_intent","status":"requires_payment_method"}`)))

	got := s.reload(s.payment)
	s.Equal(paymentmodels.StatusSucceeded, got.Status)
	history, err := got.History()
	s.Require().NoError(err)
	s.Len(history, 4, "late events are still recorded")
	s.Equal(regmodels.StatusSuccessful, s.registration(reg.ID).Status)
	s.Len(s.outbox.All(), 1)
	s.Equal(float64(2), testutil.ToFloat64(s.metrics.Events.WithLabelValues(EventPaymentIntentProcessing, OutcomeStale))+
		testutil.ToFloat64(s.metrics.Events.WithLabelValues(EventPaymentIntentPaymentFailed, OutcomeStale)))
}

func (s *ServiceSuite) TestLateSucceededAfterRefundIsHistoryOnly() {
	reg := s.seedRegistration(regmodels.StatusPending, &s.payment.ID)
	purchase := s.seedPurchase()
	s.provider.EXPECT().BalanceTransaction(gomock.Any(), "txn_r").
		Return(&stripe.BalanceTransaction{ID: "txn_r", Object: "balance_transaction", Fee: 0, Net: 0}, nil)
	refund := `{"id":"ch_1","object":"charge","payment_intent":"pi_1","amount_refunded":1500,"balance_transaction":"txn_r"}`
	s.Require().NoError(s.service.Handle(s.ctx, s.event("evt_r", EventChargeRefunded, refund)))
	published := len(s.outbox.All())

	// No Charge expectation: a stale event must not reach Stripe.
	s.Require().NoError(s.service.Handle(s.ctx, s.event("evt_s", EventPaymentIntentSucceeded, succeededIntent)))

	got := s.reload(s.payment)
	s.Equal(paymentmodels.StatusRefunded, got.Status)
	s.Equal(int64(0), *got.FeeAmount)
	s.Equal(int64(0), *got.NetAmount)
	s.Equal(int64(1500), *got.RefundedAmount)
	s.Equal("succeeded", s.lastHistoryEntry(got).Name)
	s.Equal(regmodels.StatusPending, s.registration(reg.ID).Status)
	p, err := s.purchases.FindPurchase(s.ctx, purchase.ID)
	s.Require().NoError(err)
	s.Equal(purchasemodels.StatusPending, p.Status)
	s.Len(s.outbox.All(), published)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Events.WithLabelValues(EventPaymentIntentSucceeded, OutcomeStale)))
}

func (s *ServiceSuite) TestLateSucceededAfterDisputeKeepsDisputeStatus() {
	reg := s.seedRegistration(regmodels.StatusPending, &s.payment.ID)
	dispute := `{"id":"dp_1","object":"dispute","status":"needs_response","payment_intent":"pi_1","charge":"ch_1"}`
	s.Require().NoError(s.service.Handle(s.ctx, s.event("evt_d", EventChargeDisputeCreated, dispute)))

	s.Require().NoError(s.service.Handle(s.ctx, s.event("evt_s", EventPaymentIntentSucceeded, succeededIntent)))

	s.Equal(paymentmodels.StatusDisputeNeedsResponse, s.reload(s.payment).Status)
	s.Equal(regmodels.StatusPending, s.registration(reg.ID).Status)
}

func (s *ServiceSuite) TestDuplicateDeliveryIsProcessedOnce() {
	s.seedRegistration(regmodels.StatusPending, &s.payment.ID)
	ev := s.event("evt_1", EventPaymentIntentCanceled, `{"id":"pi_1","object":"payment_intent","status":"canceled"}`)

	s.Require().NoError(s.service.Handle(s.ctx, ev))
	s.Require().NoError(s.service.Handle(s.ctx, ev))

	history, err := s.reload(s.payment).History()
	s.Require().NoError(err)
	s.Len(history, 2)
	s.Equal(4, s.participantCount())
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Events.WithLabelValues(EventPaymentIntentCanceled, OutcomeDuplicate)))
}

func (s *ServiceSuite) TestHistoryGuardsReplayWithoutDeduper() {
	svc := New(s.payments, s.registrations, s.purchases, s.provider, activityservice.New(s.activity, nil))
	s.seedRegistration(regmodels.StatusPending, &s.payment.ID)
	ev := s.event("evt_1", EventPaymentIntentCanceled, `{"id":"pi_1","object":"payment_intent","status":"canceled"}`)

	s.Require().NoError(svc.Handle(s.ctx, ev))
	s.Require().NoError(svc.Handle(s.ctx, ev))

	history, err := s.reload(s.payment).History()
	s.Require().NoError(err)
	s.Len(history, 2)
	s.Equal(4, s.participantCount())
}

func (s *ServiceSuite) TestProviderFailureReleasesClaimForRetry() {
	s.provider.EXPECT().Charge(gomock.Any(), "ch_1").Return(nil, errors.New("stripe: 503"))

	err := s.service.Handle(s.ctx, s.event("evt_1", EventPaymentIntentSucceeded, succeededIntent))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	s.Equal(paymentmodels.StatusRequiresPaymentMethod, s.reload(s.payment).Status)

	s.expectCharge()
	s.Require().NoError(s.service.Handle(s.ctx, s.event("evt_1", EventPaymentIntentSucceeded, succeededIntent)))
	s.Equal(paymentmodels.StatusSucceeded, s.reload(s.payment).Status)
}

func (s *ServiceSuite) TestPaymentUpdateFailureIsLoggedAndReturned() {
	svc := s.newService(failingPayments{s.payments})

	err := svc.Handle(s.ctx, s.event("evt_1", EventPaymentIntentCanceled, `{"id":"pi_1","object":"payment_intent","status":"canceled"}`))
	s.Require().Error(err)
	s.Equal(dErrors.CodeInternal, dErrors.CodeOf(err))

	logs := s.logs()
	s.Require().Len(logs, 1)
	s.Equal(MsgPaymentUpdateFailed, logs[0].Message)
	s.Equal(activitymodels.SeverityError, logs[0].Severity)
	s.Contains(string(logs[0].Data), "deadlock detected")
	s.Contains(string(logs[0].OldData), "pi_1")
	s.Empty(s.outbox.All())
}

func (s *ServiceSuite) TestMalformedObjectIsBadRequest() {
	err := s.service.Handle(s.ctx, s.event("evt_1", EventPaymentIntentSucceeded, `{"id":42}`))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func (s *ServiceSuite) TestDisputeSetsDisputeStatus() {
	object := `{"id":"dp_1","object":"dispute","status":"needs_response","payment_intent":"pi_1","charge":"ch_1"}`
	s.Require().NoError(s.service.Handle(s.ctx, s.event("evt_1", EventChargeDisputeCreated, object)))

	got := s.reload(s.payment)
	s.Equal(paymentmodels.Status("needs_response"), got.Status)
	last := s.lastHistoryEntry(got)
	s.Equal(EventChargeDisputeCreated, last.Type)
	s.Equal("disputed", last.Name)
	s.Equal("payment.disputed", s.outbox.All()[0].EventType)
}

func (s *ServiceSuite) TestChargeRefundedRecordsAmounts() {
	s.provider.EXPECT().BalanceTransaction(gomock.Any(), "txn_1").
		Return(&stripe.BalanceTransaction{ID: "txn_1", Object: "balance_transaction", Fee: 65, Net: 1435}, nil)

	object := `{"id":"ch_1","object":"charge","payment_intent":"pi_1","amount_refunded":1500,"balance_transaction":"txn_1"}`
	s.Require().NoError(s.service.Handle(s.ctx, s.event("evt_1", EventChargeRefunded, object)))

	got := s.reload(s.payment)
	s.Equal(paymentmodels.StatusRefunded, got.Status)
	s.Equal(int64(1500), *got.RefundedAmount)
	s.Equal(int64(65), *got.FeeAmount)
	s.Equal(int64(1435), *got.NetAmount)
	s.Equal("refunded", s.lastHistoryEntry(got).Name)
}

func (s *ServiceSuite) TestChargeRefundedForUnknownIntent() {
	object := `{"id":"ch_9","object":"charge","payment_intent":"pi_missing","amount_refunded":100}`
	s.Require().NoError(s.service.Handle(s.ctx, s.event("evt_1", EventChargeRefunded, object)))

	logs := s.logs()
	s.Require().Len(logs, 1)
	s.Equal(MsgPaymentNotFound, logs[0].Message)
}

func (s *ServiceSuite) TestCheckoutSessionStoresPaymentMethod() {
	data := &paymentmodels.StripeUserData{
		ID:         id.StripeUserDataID(uuid.New()),
		UserID:     id.UserID(uuid.New()),
		CustomerID: "cus_1",
	}
	s.Require().NoError(s.payments.CreateUserData(s.ctx, data))
	s.provider.EXPECT().SetupIntentPaymentMethod(gomock.Any(), "seti_1").Return("pm_saved", nil)

	object := `{"id":"cs_1","object":"checkout.session","mode":"setup","setup_intent":"seti_1","client_reference_id":"` + data.ID.String() + `"}`
	s.Require().NoError(s.service.Handle(s.ctx, s.event("evt_1", EventCheckoutSessionCompleted, object)))

	got, err := s.payments.FindUserData(s.ctx, data.ID)
	s.Require().NoError(err)
	s.Require().NotNil(got.PaymentMethodID)
	s.Equal("pm_saved", *got.PaymentMethodID)
}

func (s *ServiceSuite) TestCheckoutSessionEdgeCases() {
	s.Run("payment mode session is ignored", func() {
		object := `{"id":"cs_2","object":"checkout.session","mode":"payment","payment_intent":"pi_1"}`
		s.Require().NoError(s.service.Handle(s.ctx, s.event("evt_2", EventCheckoutSessionCompleted, object)))
	})

	s.Run("unknown user data is logged", func() {
		s.provider.EXPECT().SetupIntentPaymentMethod(gomock.Any(), "seti_3").Return("pm_saved", nil)
		object := `{"id":"cs_3","object":"checkout.session","setup_intent":"seti_3","client_reference_id":"` + uuid.NewString() + `"}`
		s.Require().NoError(s.service.Handle(s.ctx, s.event("evt_3", EventCheckoutSessionCompleted, object)))
		logs := s.logs()
		s.Require().NotEmpty(logs)
		s.Equal(MsgUserDataNotFound, logs[0].Message)
	})

	s.Run("setup intent without payment method is ignored", func() {
		s.provider.EXPECT().SetupIntentPaymentMethod(gomock.Any(), "seti_4").Return("", nil)
		object := `{"id":"cs_4","object":"checkout.session","setup_intent":"seti_4","client_reference_id":"` + uuid.NewString() + `"}`
		s.Require().NoError(s.service.Handle(s.ctx, s.event("evt_4", EventCheckoutSessionCompleted, object)))
	})
}

func (s *ServiceSuite) TestParticipantCountNeverNegative() {
	s.tumiEvent.ParticipantRegistrationCount = 0
	s.Require().NoError(s.registrations.CreateEvent(s.ctx, s.tumiEvent))
	s.seedRegistration(regmodels.StatusPending, &s.payment.ID)

	object := `{"id":"pi_1","object":"payment_intent","status":"canceled"}`
	s.Require().NoError(s.service.Handle(s.ctx, s.event("evt_1", EventPaymentIntentCanceled, object)))
	s.Equal(0, s.participantCount())
}

func (s *ServiceSuite) TestSpanCarriesEventAndOutcome() {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	defer func() { _ = tp.Shutdown(context.Background()) }()
	svc := New(s.payments, s.registrations, s.purchases, s.provider,
		activityservice.New(s.activity, nil),
		WithMetrics(s.metrics),
		WithTracer(tp.Tracer("test")),
	)

	s.Require().NoError(svc.Handle(s.ctx, s.event("evt_1", EventPaymentIntentProcessing, `{"id":"pi_unknown"}`)))
	s.Require().Error(svc.Handle(s.ctx, s.event("evt_2", EventPaymentIntentSucceeded, `{"id":1}`)))

	spans := exp.GetSpans()
	s.Require().Len(spans, 2)
	s.Equal("webhook.reconcile", spans[0].Name)
	s.Contains(spans[0].Attributes, attribute.String("stripe.event_id", "evt_1"))
	s.Contains(spans[0].Attributes, attribute.String("webhook.outcome", OutcomeAnomaly))
	s.Equal(codes.Unset, spans[0].Status.Code)
	s.Contains(spans[1].Attributes, attribute.String("stripe.event_type", EventPaymentIntentSucceeded))
	s.Equal(codes.Error, spans[1].Status.Code)
}
