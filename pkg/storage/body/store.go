package body

import (
	"context"
	"strconv"
	"sync"
	"time"

	bserrors "github.com/vnykmshr/bufstream/pkg/common/errors"
	"github.com/vnykmshr/bufstream/pkg/common/validation"
	"github.com/vnykmshr/bufstream/pkg/metrics"
)

// Store holds fully materialized response bodies by key.
type Store interface {
	// Get returns the body stored under key, or an error wrapping
	// errors.ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores data under key. A zero ttl keeps it until deleted.
	Put(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases the store's resources.
	Close() error
}

type memoryEntry struct {
	data    []byte
	expires time.Time
}

// MemoryConfig holds configuration for MemoryStore.
type MemoryConfig struct {
	// MaxBytes caps the total size of stored bodies. Zero means unlimited.
	MaxBytes int

	// Metrics receives store metrics. Nil disables metrics.
	Metrics *metrics.Registry
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  map[string]memoryEntry
	size     int
	maxBytes int
	closed   bool
	metrics  *metrics.Registry
	now      func() time.Time
}

// NewMemoryStore creates an unbounded MemoryStore. registry may be nil.
func NewMemoryStore(registry *metrics.Registry) *MemoryStore {
	s, _ := NewMemoryStoreWithConfig(MemoryConfig{Metrics: registry})
	return s
}

// NewMemoryStoreWithConfig creates a MemoryStore with the specified configuration.
func NewMemoryStoreWithConfig(config MemoryConfig) (*MemoryStore, error) {
	if err := validation.ValidateNonNegative("body", "max_bytes", config.MaxBytes); err != nil {
		return nil, err
	}
	return &MemoryStore{
		entries:  make(map[string]memoryEntry),
		maxBytes: config.MaxBytes,
		metrics:  config.Metrics,
		now:      time.Now,
	}, nil
}

// Get implements Store. The returned slice is shared and must not be modified.
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, bserrors.ErrClosed
	}

	e, ok := m.entries[key]
	if !ok || (!e.expires.IsZero() && !m.now().Before(e.expires)) {
		m.observe("miss")
		return nil, bserrors.NewOperationError("body", "Get", bserrors.ErrNotFound).WithContext("key=" + key)
	}
	m.observe("hit")
	return e.data, nil
}

// Put implements Store. data is copied. When the store is bounded and data
// does not fit even after expired entries are dropped, Put returns an error
// wrapping errors.ErrCapacityExceeded.
func (m *MemoryStore) Put(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e := memoryEntry{data: append([]byte(nil), data...)}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return bserrors.ErrClosed
	}

	if m.maxBytes > 0 {
		if m.sizeWith(key, len(data)) > m.maxBytes {
			m.purgeExpired()
		}
		if need := m.sizeWith(key, len(data)); need > m.maxBytes {
			return bserrors.NewOperationError("body", "Put", bserrors.ErrCapacityExceeded).
				WithContext("key=" + key + " need=" + strconv.Itoa(need) + " max=" + strconv.Itoa(m.maxBytes))
		}
	}

	m.size += len(data) - len(m.entries[key].data)
	m.entries[key] = e
	return nil
}

// sizeWith returns the total size after storing n bytes under key.
func (m *MemoryStore) sizeWith(key string, n int) int {
	return m.size - len(m.entries[key].data) + n
}

func (m *MemoryStore) purgeExpired() {
	now := m.now()
	for k, e := range m.entries {
		if !e.expires.IsZero() && !now.Before(e.expires) {
			m.size -= len(e.data)
			delete(m.entries, k)
		}
	}
}

// Size returns the number of bytes held, including expired entries not yet
// dropped.
func (m *MemoryStore) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// Delete implements Store.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return bserrors.ErrClosed
	}
	m.size -= len(m.entries[key].data)
	delete(m.entries, key)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.entries = nil
	m.size = 0
	return nil
}

func (m *MemoryStore) observe(result string) {
	if m.metrics != nil {
		m.metrics.StoreFetches.WithLabelValues("memory", result).Inc()
	}
}
