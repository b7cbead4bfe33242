package session

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend is an in-memory Backend for development and tests. TTLs are
// not enforced; entries live until deleted.
type MemoryBackend struct {
	mu       sync.RWMutex
	sessions map[string]map[string]string
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{sessions: make(map[string]map[string]string)}
}

func (b *MemoryBackend) Load(ctx context.Context, sid string) (map[string]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	values := make(map[string]string, len(b.sessions[sid]))
	for k, v := range b.sessions[sid] {
		values[k] = v
	}
	return values, nil
}

func (b *MemoryBackend) Save(ctx context.Context, sid string, values map[string]string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	stored := make(map[string]string, len(values))
	for k, v := range values {
		stored[k] = v
	}
	b.sessions[sid] = stored
	return nil
}

func (b *MemoryBackend) Delete(ctx context.Context, sid string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.sessions, sid)
	return nil
}
