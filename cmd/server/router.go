package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"tumi/internal/platform/metrics"
	"tumi/pkg/platform/httputil"
	"tumi/pkg/platform/middleware/request"
	"tumi/pkg/platform/middleware/requesttime"
)

type registrar interface {
	Register(r chi.Router)
}

type readinessCheck struct {
	name  string
	check func(ctx context.Context) error
}

type routes struct {
	webhook    registrar
	graphql    registrar
	checks     []readinessCheck
	trustProxy bool
}

func newRouter(log *slog.Logger, httpMetrics *metrics.HTTP, rt routes) chi.Router {
	r := chi.NewRouter()
	r.Use(request.TrustProxy(rt.trustProxy))
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(request.Recover(log))
	r.Use(request.Logger(log, httpMetrics))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/ready", readyHandler(log, rt.checks))
	r.Handle("/metrics", metrics.Handler())

	rt.webhook.Register(r)
	rt.graphql.Register(r)
	return r
}

func readyHandler(log *slog.Logger, checks []readinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := map[string]string{}
		ready := true
		for _, c := range checks {
			if err := c.check(ctx); err != nil {
				log.WarnContext(ctx, "readiness check failed", "dependency", c.name, "error", err)
				status[c.name] = "unavailable"
				ready = false
				continue
			}
			status[c.name] = "ok"
		}
		if !ready {
			httputil.WriteJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, status)
	}
}
