package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tumi/internal/outbox/models"
)

// InMemory keeps outbox messages in insertion order.
type InMemory struct {
	mu       sync.Mutex
	messages []models.Message
}

func NewInMemory() *InMemory {
	return &InMemory{}
}

func (s *InMemory) Append(_ context.Context, m models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
	return nil
}

func (s *InMemory) FetchUnpublished(_ context.Context, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Message
	for _, m := range s.messages {
		if m.PublishedAt != nil {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemory) MarkPublished(_ context.Context, ids []uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	for i := range s.messages {
		if _, ok := set[s.messages[i].ID]; ok && s.messages[i].PublishedAt == nil {
			t := at
			s.messages[i].PublishedAt = &t
		}
	}
	return nil
}

// All returns a copy of every message, published or not.
func (s *InMemory) All() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}
