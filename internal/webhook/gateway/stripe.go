// Package gateway calls the Stripe API on behalf of the webhook reconciler.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"tumi/pkg/platform/circuit"
	"tumi/pkg/platform/sentinel"
)

// Stripe wraps the stripe-go client behind a circuit breaker. While the
// breaker is open calls fail with sentinel.ErrUnavailable without reaching
// Stripe.
type Stripe struct {
	api      *client.API
	backends *stripe.Backends
	breaker  *circuit.Breaker
	logger   *slog.Logger
	open     prometheus.Gauge
}

type Option func(*Stripe)

// WithBackends points the client at alternative backends, e.g. a test server.
func WithBackends(b *stripe.Backends) Option {
	return func(s *Stripe) { s.backends = b }
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(s *Stripe) { s.breaker = b }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Stripe) { s.logger = logger }
}

// WithRegisterer exports the breaker state as a gauge on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Stripe) {
		s.open = promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "tumi_stripe_circuit_open",
			Help: "1 while the Stripe API circuit breaker is open",
		})
	}
}

func New(secretKey string, opts ...Option) *Stripe {
	s := &Stripe{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(s)
	}
	if s.breaker == nil {
		s.breaker = circuit.New("stripe")
	}
	s.api = client.New(secretKey, s.backends)
	return s
}

func (s *Stripe) SetupIntentPaymentMethod(ctx context.Context, setupIntentID string) (string, error) {
	var paymentMethod string
	err := s.call(ctx, "retrieve setup intent", func() error {
		params := &stripe.SetupIntentParams{}
		params.Context = ctx
		si, err := s.api.SetupIntents.Get(setupIntentID, params)
		if err != nil {
			return err
		}
		if si.PaymentMethod != nil {
			paymentMethod = si.PaymentMethod.ID
		}
		return nil
	})
	return paymentMethod, err
}

func (s *Stripe) Charge(ctx context.Context, chargeID string) (*stripe.Charge, error) {
	var ch *stripe.Charge
	err := s.call(ctx, "retrieve charge", func() error {
		params := &stripe.ChargeParams{}
		params.Context = ctx
		params.AddExpand("balance_transaction")
		var err error
		ch, err = s.api.Charges.Get(chargeID, params)
		return err
	})
	return ch, err
}

func (s *Stripe) BalanceTransaction(ctx context.Context, balanceTransactionID string) (*stripe.BalanceTransaction, error) {
	var bt *stripe.BalanceTransaction
	err := s.call(ctx, "retrieve balance transaction", func() error {
		params := &stripe.BalanceTransactionParams{}
		params.Context = ctx
		var err error
		bt, err = s.api.BalanceTransactions.Get(balanceTransactionID, params)
		return err
	})
	return bt, err
}

// RefundPaymentIntent refunds the full amount. The idempotency key makes a
// retried refund a no-op on Stripe's side.
func (s *Stripe) RefundPaymentIntent(ctx context.Context, paymentIntentID, idempotencyKey string) error {
	return s.call(ctx, "refund payment intent", func() error {
		params := &stripe.RefundParams{PaymentIntent: stripe.String(paymentIntentID)}
		params.Context = ctx
		if idempotencyKey != "" {
			params.SetIdempotencyKey(idempotencyKey)
		}
		_, err := s.api.Refunds.New(params)
		return err
	})
}

func (s *Stripe) call(ctx context.Context, op string, fn func() error) error {
	if !s.breaker.Allow() {
		return fmt.Errorf("stripe %s: circuit open: %w", op, sentinel.ErrUnavailable)
	}
	err := fn()
	if err != nil && countsAsFailure(err) {
		_, change := s.breaker.RecordFailure()
		s.observe(ctx, change)
		return fmt.Errorf("stripe %s: %w", op, err)
	}
	_, change := s.breaker.RecordSuccess()
	s.observe(ctx, change)
	if err != nil {
		return fmt.Errorf("stripe %s: %w", op, err)
	}
	return nil
}

// countsAsFailure separates Stripe being unhealthy from Stripe rejecting a
// request. Only the former opens the breaker.
func countsAsFailure(err error) bool {
	var se *stripe.Error
	if errors.As(err, &se) {
		return se.HTTPStatusCode >= http.StatusInternalServerError || se.HTTPStatusCode == http.StatusTooManyRequests
	}
	return true
}

func (s *Stripe) observe(ctx context.Context, change circuit.StateChange) {
	switch {
	case change.Opened:
		s.logger.WarnContext(ctx, "stripe circuit opened", "breaker", s.breaker.Name())
		if s.open != nil {
			s.open.Set(1)
		}
	case change.Closed:
		s.logger.InfoContext(ctx, "stripe circuit closed", "breaker", s.breaker.Name())
		if s.open != nil {
			s.open.Set(0)
		}
	}
}
