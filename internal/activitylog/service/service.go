package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"tumi/internal/activitylog/models"
	dErrors "tumi/pkg/domain-errors"
	"tumi/pkg/requestcontext"
)

// Store persists activity log entries.
type Store interface {
	Append(ctx context.Context, e models.Entry) error
	List(ctx context.Context, f models.Filter) ([]models.Entry, error)
}

// Service records anomalies to the activity log and mirrors each entry to
// the process logger so operators see it without querying the table.
type Service struct {
	store  Store
	logger *slog.Logger
}

func New(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Record persists e, assigning an id and timestamp when missing.
func (s *Service) Record(ctx context.Context, e models.Entry) error {
	if e.Message == "" {
		return dErrors.New(dErrors.CodeValidation, "activity log message is required")
	}
	if !e.Severity.IsValid() {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown severity %q", e.Severity))
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = requestcontext.Now(ctx)
	}

	s.mirror(ctx, e)

	if err := s.store.Append(ctx, e); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record activity log")
	}
	return nil
}

// Log builds an entry from arbitrary values and records it. Values that do
// not marshal are stored as their error text.
func (s *Service) Log(ctx context.Context, sev models.Severity, category, message string, data, oldData any) error {
	return s.Record(ctx, models.Entry{
		Message:  message,
		Severity: sev,
		Category: category,
		Data:     Snapshot(data),
		OldData:  Snapshot(oldData),
	})
}

// List returns the most recent entries matching f.
func (s *Service) List(ctx context.Context, f models.Filter) ([]models.Entry, error) {
	for _, sev := range f.Severities {
		if !sev.IsValid() {
			return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown severity %q", sev))
		}
	}
	entries, err := s.store.List(ctx, f.Normalized())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list activity logs")
	}
	return entries, nil
}

func (s *Service) mirror(ctx context.Context, e models.Entry) {
	if s.logger == nil {
		return
	}
	level := slog.LevelInfo
	switch e.Severity {
	case models.SeverityWarning:
		level = slog.LevelWarn
	case models.SeverityError:
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, e.Message,
		"category", e.Category,
		"activity_log_id", e.ID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
}

// Snapshot marshals v for storage in a JSON column. nil stays nil and errors
// are captured as {"error": "..."}.
func Snapshot(v any) json.RawMessage {
	switch t := v.(type) {
	case nil:
		return nil
	case json.RawMessage:
		return t
	case error:
		b, _ := json.Marshal(map[string]string{"error": t.Error()})
		return b
	}
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(map[string]string{"error": err.Error()})
	}
	return b
}
