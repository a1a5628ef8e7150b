// Package dedupe claims Stripe event ids so a redelivered event is processed
// at most once while its first delivery is in flight or has succeeded.
package dedupe

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "tumi:stripe:event:"

// Redis claims ids with SET NX and a TTL longer than Stripe's retry window.
type Redis struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedis(client redis.Cmdable, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Claim(ctx context.Context, eventID string) (bool, error) {
	return r.client.SetNX(ctx, keyPrefix+eventID, time.Now().UTC().Format(time.RFC3339), r.ttl).Result()
}

func (r *Redis) Release(ctx context.Context, eventID string) error {
	return r.client.Del(ctx, keyPrefix+eventID).Err()
}

// InMemory is the single-process fallback when Redis is not configured.
type InMemory struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	claims map[string]time.Time
}

func NewInMemory(ttl time.Duration) *InMemory {
	return &InMemory{ttl: ttl, now: time.Now, claims: make(map[string]time.Time)}
}

func (m *InMemory) Claim(_ context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if exp, ok := m.claims[eventID]; ok && now.Before(exp) {
		return false, nil
	}
	m.claims[eventID] = now.Add(m.ttl)
	m.sweep(now)
	return true, nil
}

func (m *InMemory) Release(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, eventID)
	return nil
}

// sweep drops expired claims. Caller holds mu.
func (m *InMemory) sweep(now time.Time) {
	for k, exp := range m.claims {
		if !now.Before(exp) {
			delete(m.claims, k)
		}
	}
}
