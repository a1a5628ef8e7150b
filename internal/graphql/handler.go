package graphql

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	gql "github.com/graphql-go/graphql"

	"tumi/pkg/platform/httputil"
	authmw "tumi/pkg/platform/middleware/auth"
	"tumi/pkg/requestcontext"
)

const maxRequestBytes = 1 << 20

type request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
	Extensions    map[string]any `json:"extensions"`
}

type Handler struct {
	schema     gql.Schema
	validator  authmw.JWTValidator
	logger     *slog.Logger
	middleware []func(http.Handler) http.Handler
}

// NewHandler serves schema. middleware runs before authentication, e.g. rate
// limiting.
func NewHandler(schema gql.Schema, validator authmw.JWTValidator, logger *slog.Logger, middleware ...func(http.Handler) http.Handler) *Handler {
	return &Handler{schema: schema, validator: validator, logger: logger, middleware: middleware}
}

// Register mounts POST /graphql. Anonymous callers are let through; resolvers
// decide what needs a user.
func (h *Handler) Register(r chi.Router) {
	chain := append(append([]func(http.Handler) http.Handler{}, h.middleware...), authmw.OptionalAuth(h.validator, h.logger))
	r.With(chain...).Post("/graphql", h.serve)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := httputil.DecodeJSON[request](r, maxRequestBytes)
	if err != nil {
		h.logger.WarnContext(ctx, "invalid graphql request",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}

	result := gql.Do(gql.Params{
		Schema:         h.schema,
		RequestString:  req.Query,
		VariableValues: req.Variables,
		OperationName:  req.OperationName,
		Context:        ctx,
	})
	httputil.WriteJSON(w, http.StatusOK, result)
}
