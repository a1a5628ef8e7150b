// Package middleware applies per client rate limits to HTTP routes.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"tumi/internal/ratelimit/models"
	"tumi/pkg/platform/httputil"
	"tumi/pkg/platform/middleware/request"
	"tumi/pkg/requestcontext"
)

type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error)
}

type Middleware struct {
	store    Store
	limit    int
	window   time.Duration
	logger   *slog.Logger
	rejected *prometheus.CounterVec
}

type Option func(*Middleware)

// WithRegisterer counts rejected requests per scope on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Middleware) {
		m.rejected = promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "tumi_ratelimit_rejected_total",
			Help: "Requests rejected by the rate limiter",
		}, []string{"scope"})
	}
}

// New limits each client to limit requests per window. A non-positive limit
// disables limiting.
func New(store Store, limit int, window time.Duration, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{store: store, limit: limit, window: window, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// PerIP keys the window by client address under scope. Store failures let
// the request through.
func (m *Middleware) PerIP(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			result, err := m.store.Allow(ctx, models.Key(scope, request.ClientIP(r)), m.limit, m.window)
			if err != nil {
				m.logger.ErrorContext(ctx, "rate limit check failed",
					"scope", scope,
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				next.ServeHTTP(w, r)
				return
			}

			addHeaders(w, result)
			if !result.Allowed {
				if m.rejected != nil {
					m.rejected.WithLabelValues(scope).Inc()
				}
				writeExceeded(w, result)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func addHeaders(w http.ResponseWriter, result *models.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeExceeded(w http.ResponseWriter, result *models.Result) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.ExceededResponse{
		Error:      "rate_limit_exceeded",
		Message:    "Too many requests. Please try again later.",
		RetryAfter: result.RetryAfter,
	})
}
