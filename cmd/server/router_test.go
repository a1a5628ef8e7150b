package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tumi/internal/platform/metrics"
	"tumi/pkg/testutil"
)

type stubRoute struct {
	method, path string
}

func (s stubRoute) Register(r chi.Router) {
	r.MethodFunc(s.method, s.path, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func testRouter(checks ...readinessCheck) chi.Router {
	return newRouter(slog.New(slog.DiscardHandler), metrics.NewHTTPWith(prometheus.NewRegistry()), routes{
		webhook: stubRoute{http.MethodPost, "/webhooks/stripe"},
		graphql: stubRoute{http.MethodPost, "/graphql"},
		checks:  checks,
	})
}

func healthy(context.Context) error { return nil }

func TestRouterMountsRoutes(t *testing.T) {
	r := testRouter()
	for _, path := range []string{"/webhooks/stripe", "/graphql"} {
		rr := testutil.DoRequest(r, httptest.NewRequest(http.MethodPost, path, nil))
		assert.Equal(t, http.StatusNoContent, rr.Code, path)
	}

	rr := testutil.DoRequest(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	testutil.AssertStatus(t, rr, http.StatusOK)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	rr = testutil.DoRequest(r, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	testutil.AssertStatus(t, rr, http.StatusOK)
}

func TestReadiness(t *testing.T) {
	t.Run("all dependencies up", func(t *testing.T) {
		r := testRouter(readinessCheck{name: "postgres", check: healthy}, readinessCheck{name: "redis", check: healthy})
		rr := testutil.DoRequest(r, httptest.NewRequest(http.MethodGet, "/ready", nil))
		testutil.AssertStatus(t, rr, http.StatusOK)
		assert.JSONEq(t, `{"postgres":"ok","redis":"ok"}`, rr.Body.String())
	})

	t.Run("one dependency down", func(t *testing.T) {
		down := func(context.Context) error { return errors.New("dial tcp: connection refused") }
		r := testRouter(readinessCheck{name: "postgres", check: healthy}, readinessCheck{name: "kafka", check: down})
		rr := testutil.DoRequest(r, httptest.NewRequest(http.MethodGet, "/ready", nil))
		testutil.AssertStatus(t, rr, http.StatusServiceUnavailable)

		body := testutil.DecodeResponse[map[string]string](t, rr)
		require.Equal(t, "unavailable", body["kafka"])
		assert.Equal(t, "ok", body["postgres"])
		assert.NotContains(t, rr.Body.String(), "connection refused")
	})
}
