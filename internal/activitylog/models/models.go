package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Severity is persisted as-is in activity_logs.severity.
type Severity string

const (
	SeverityInfo    Severity = "INFO"
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
)

func (s Severity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError:
		return true
	}
	return false
}

// Entry is one row of the activity log. Data and OldData hold arbitrary JSON
// snapshots of the objects involved.
type Entry struct {
	ID        uuid.UUID
	CreatedAt time.Time
	Message   string
	Severity  Severity
	Category  string
	Data      json.RawMessage
	OldData   json.RawMessage
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Filter narrows List. Empty fields match everything.
type Filter struct {
	Limit      int
	Severities []Severity
	Category   string
}

// Normalized clamps the limit into [1, MaxListLimit].
func (f Filter) Normalized() Filter {
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultListLimit
	case f.Limit > MaxListLimit:
		f.Limit = MaxListLimit
	}
	return f
}

// Matches applies the filter to a single entry.
func (f Filter) Matches(e Entry) bool {
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if len(f.Severities) == 0 {
		return true
	}
	for _, s := range f.Severities {
		if s == e.Severity {
			return true
		}
	}
	return false
}
