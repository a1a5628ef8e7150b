package store

import (
	"context"
	"sort"
	"sync"

	"tumi/internal/activitylog/models"
)

// InMemory keeps entries in insertion order.
type InMemory struct {
	mu      sync.RWMutex
	entries []models.Entry
}

func NewInMemory() *InMemory {
	return &InMemory{}
}

func (s *InMemory) Append(_ context.Context, e models.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

// List returns newest first.
func (s *InMemory) List(_ context.Context, f models.Filter) ([]models.Entry, error) {
	f = f.Normalized()
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Entry, 0, f.Limit)
	for _, e := range s.entries {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
