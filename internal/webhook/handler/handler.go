// Package handler exposes the Stripe webhook endpoint.
package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	dErrors "tumi/pkg/domain-errors"
	"tumi/pkg/platform/httputil"
	"tumi/pkg/requestcontext"
)

// MaxBodyBytes caps the webhook payload. Stripe events are well below it.
const MaxBodyBytes = 64 << 10

const signatureHeader = "Stripe-Signature"

type Service interface {
	Handle(ctx context.Context, event stripe.Event) error
}

type Handler struct {
	service   Service
	secret    string
	tolerance time.Duration
	logger    *slog.Logger
}

func New(service Service, secret string, tolerance time.Duration, logger *slog.Logger) *Handler {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &Handler{service: service, secret: secret, tolerance: tolerance, logger: logger}
}

// Register mounts POST /webhooks/stripe. The route sits outside bearer auth;
// the signature is the authentication.
func (h *Handler) Register(r chi.Router) {
	r.Post("/webhooks/stripe", h.handleStripe)
}

func (h *Handler) handleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeWebhookError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeWebhookError(w, http.StatusBadRequest, err.Error())
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get(signatureHeader), h.secret,
		webhook.ConstructEventOptions{
			Tolerance:                h.tolerance,
			IgnoreAPIVersionMismatch: true,
		})
	if err != nil {
		h.logger.WarnContext(ctx, "stripe webhook verification failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		writeWebhookError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.service.Handle(ctx, event); err != nil {
		if dErrors.HasCode(err, dErrors.CodeBadRequest) {
			writeWebhookError(w, http.StatusBadRequest, dErrors.PublicMessage(err))
			return
		}
		// 500 makes Stripe retry with backoff.
		httputil.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": string(dErrors.CodeInternal)})
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func writeWebhookError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, "Webhook Error: "+msg)
}
