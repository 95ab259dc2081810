package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quant-ingest/pkg/models"
)

// Cache stores raw upstream responses keyed by (source, symbol, start, end).
// A hit is indistinguishable from a fresh fetch at the contract level.
type Cache interface {
	GetRawFrame(ctx context.Context, key string) (*models.RawFrame, bool)
	SetRawFrame(ctx context.Context, key string, frame *models.RawFrame) error
	Health(ctx context.Context) error
	Close() error
}

// Key builds the canonical cache key for one fetch window.
func Key(source models.Source, symbol, start, end string) string {
	return fmt.Sprintf("raw:%s:%s:%s:%s", source, symbol, start, end)
}

// Memory is a process-local cache used when redis is not configured.
type Memory struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]memoryEntry
}

type memoryEntry struct {
	frame   *models.RawFrame
	expires time.Time
}

// NewMemory creates an in-process cache with the given TTL. A zero TTL means
// entries never expire within the process lifetime.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, entries: make(map[string]memoryEntry)}
}

// GetRawFrame returns a cached frame if present and unexpired.
func (m *Memory) GetRawFrame(_ context.Context, key string) (*models.RawFrame, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		return nil, false
	}
	return e.frame, true
}

// SetRawFrame stores a frame.
func (m *Memory) SetRawFrame(_ context.Context, key string, frame *models.RawFrame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expires time.Time
	if m.ttl > 0 {
		expires = time.Now().Add(m.ttl)
	}
	m.entries[key] = memoryEntry{frame: frame, expires: expires}
	return nil
}

// Close is a no-op for the in-process cache.
// Health always succeeds for the in-process cache.
func (m *Memory) Health(_ context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
