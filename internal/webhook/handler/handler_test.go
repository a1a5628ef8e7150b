package handler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"github.com/stripe/stripe-go/v76"

	dErrors "tumi/pkg/domain-errors"
	"tumi/pkg/testutil"
)

const testSecret = "whsec_test"

type fakeService struct {
	events []stripe.Event
	err    error
}

func (f *fakeService) Handle(_ context.Context, event stripe.Event) error {
	f.events = append(f.events, event)
	return f.err
}

type HandlerSuite struct {
	suite.Suite
	service *fakeService
	router  chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.service = &fakeService{}
	s.router = chi.NewRouter()
	New(s.service, testSecret, 5*time.Minute, slog.New(slog.DiscardHandler)).Register(s.router)
}

func (s *HandlerSuite) post(payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	return testutil.DoRequest(s.router, req)
}

// send posts payload correctly signed with the endpoint secret.
func (s *HandlerSuite) send(payload []byte) *httptest.ResponseRecorder {
	return testutil.DoRequest(s.router, testutil.NewWebhookRequest("/webhooks/stripe", testSecret, payload, time.Now()))
}

func (s *HandlerSuite) TestValidSignatureDispatches() {
	payload := testutil.StripeEvent("evt_1", "payment_intent.succeeded", `{"id":"pi_1","object":"payment_intent"}`)

	rr := s.send(payload)

	s.Equal(http.StatusOK, rr.Code)
	s.JSONEq(`{"received":true}`, rr.Body.String())
	s.Require().Len(s.service.events, 1)
	s.Equal("evt_1", s.service.events[0].ID)
	s.Equal(stripe.EventType("payment_intent.succeeded"), s.service.events[0].Type)
	s.JSONEq(`{"id":"pi_1","object":"payment_intent"}`, string(s.service.events[0].Data.Raw))
}

func (s *HandlerSuite) TestSignatureFailures() {
	payload := testutil.StripeEvent("evt_1", "payment_intent.succeeded", `{"id":"pi_1"}`)

	cases := map[string]string{
		"missing header": "",
		"wrong secret":   testutil.StripeSignature("whsec_other", payload, time.Now()),
		"expired":        testutil.StripeSignature(testSecret, payload, time.Now().Add(-time.Hour)),
		"garbage":        "not-a-signature",
	}
	for name, sig := range cases {
		s.Run(name, func() {
			rr := s.post(payload, sig)
			s.Equal(http.StatusBadRequest, rr.Code)
			s.True(strings.HasPrefix(rr.Body.String(), "Webhook Error: "), rr.Body.String())
		})
	}
	s.Empty(s.service.events)
}

func (s *HandlerSuite) TestTamperedPayloadRejected() {
	payload := testutil.StripeEvent("evt_1", "charge.refunded", `{"id":"ch_1"}`)
	sig := testutil.StripeSignature(testSecret, payload, time.Now())
	tampered := bytes.Replace(payload, []byte("ch_1"), []byte("ch_2"), 1)

	rr := s.post(tampered, sig)
	s.Equal(http.StatusBadRequest, rr.Code)
	s.Empty(s.service.events)
}

func (s *HandlerSuite) TestOversizedPayload() {
	payload := testutil.StripeEvent("evt_1", "charge.refunded", `{"pad":"`+strings.Repeat("x", MaxBodyBytes)+`"}`)

	rr := s.send(payload)
	s.Equal(http.StatusRequestEntityTooLarge, rr.Code)
	s.Equal("Webhook Error: payload too large", rr.Body.String())
}

func (s *HandlerSuite) TestServiceFailureReturns500() {
	s.service.err = dErrors.Wrap(errors.New("connection refused"), dErrors.CodeInternal, "failed to update payment")
	payload := testutil.StripeEvent("evt_1", "payment_intent.succeeded", `{"id":"pi_1"}`)

	rr := s.send(payload)
	s.Equal(http.StatusInternalServerError, rr.Code)
	s.NotContains(rr.Body.String(), "connection refused")
}

func (s *HandlerSuite) TestMalformedObjectReturns400() {
	s.service.err = dErrors.New(dErrors.CodeBadRequest, "malformed event data object")
	payload := testutil.StripeEvent("evt_1", "payment_intent.succeeded", `{"id":1}`)

	rr := s.send(payload)
	s.Equal(http.StatusBadRequest, rr.Code)
	s.Equal("Webhook Error: malformed event data object", rr.Body.String())
}
