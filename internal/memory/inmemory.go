package memory

import (
	"context"
	"sync"
	"time"
)

// InMemoryBackend is a simple in-process key-value backend for local/dev use.
type InMemoryBackend struct {
	mu      sync.RWMutex
	records map[string]inMemoryEntry
	now     func() time.Time
}

type inMemoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{
		records: make(map[string]inMemoryEntry),
		now:     time.Now,
	}
}

func (b *InMemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.RLock()
	entry, ok := b.records[key]
	b.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && !b.now().Before(entry.expiresAt) {
		b.mu.Lock()
		if cur, ok := b.records[key]; ok && cur.expiresAt.Equal(entry.expiresAt) {
			delete(b.records, key)
		}
		b.mu.Unlock()
		return nil, false, nil
	}
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, true, nil
}

func (b *InMemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := inMemoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = b.now().Add(ttl)
	}
	b.mu.Lock()
	b.records[key] = entry
	b.mu.Unlock()
	return nil
}

func (b *InMemoryBackend) Del(_ context.Context, key string) error {
	b.mu.Lock()
	delete(b.records, key)
	b.mu.Unlock()
	return nil
}

func (b *InMemoryBackend) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (b *InMemoryBackend) Close() error { return nil }
