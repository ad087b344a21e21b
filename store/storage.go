// Package store defines the shared key-value and publish-subscribe
// boundaries used when endpoints span more than one process: connection
// keys issued on one process validating on another, and broadcasts
// relayed between processes. The in-memory implementations here serve
// single-process deployments; store/redis backs multi-process ones.
package store

import (
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when a key is not present in the storage.
var ErrNotFound = errors.New("key not found")

// Storage is an external key-value store with per-entry expiry. Take is
// the primitive single-use credentials depend on: it must remove
// atomically, so two concurrent takers of the same key see at most one
// success.
type Storage interface {
	Get(key string) ([]byte, error)
	Set(key string, val []byte, exp time.Duration) error
	Delete(key string) error
	Take(key string) ([]byte, error)
}

type memoryEntry struct {
	val []byte
	exp time.Time
}

// MemoryStorage is the in-process Storage used when no external store
// is configured.
type MemoryStorage struct {
	mu    sync.RWMutex
	store map[string]memoryEntry
	stop  chan struct{}
	once  sync.Once
}

// NewMemoryStorage creates an in-memory storage and starts its pruning
// loop. Call Close when done to stop the loop.
func NewMemoryStorage() *MemoryStorage {
	s := &MemoryStorage{
		store: make(map[string]memoryEntry),
		stop:  make(chan struct{}),
	}
	go s.pruneLoop()
	return s
}

// Get retrieves a value. Expired entries read as missing.
func (s *MemoryStorage) Get(key string) ([]byte, error) {
	s.mu.RLock()
	entry, ok := s.store[key]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if !entry.exp.IsZero() && time.Now().After(entry.exp) {
		// Re-check before deleting: a concurrent Set may have replaced the
		// expired entry with a fresh one.
		s.mu.Lock()
		if cur, ok := s.store[key]; ok && cur.exp.Equal(entry.exp) {
			delete(s.store, key)
		}
		s.mu.Unlock()
		return nil, ErrNotFound
	}

	valCopy := make([]byte, len(entry.val))
	copy(valCopy, entry.val)
	return valCopy, nil
}

// Set stores a value. An exp > 0 expires the entry after that duration.
func (s *MemoryStorage) Set(key string, val []byte, exp time.Duration) error {
	var expiresAt time.Time
	if exp > 0 {
		expiresAt = time.Now().Add(exp)
	}

	valCopy := make([]byte, len(val))
	copy(valCopy, val)

	s.mu.Lock()
	s.store[key] = memoryEntry{val: valCopy, exp: expiresAt}
	s.mu.Unlock()
	return nil
}

// Delete removes a value.
func (s *MemoryStorage) Delete(key string) error {
	s.mu.Lock()
	delete(s.store, key)
	s.mu.Unlock()
	return nil
}

// Take removes and returns a value in one step.
func (s *MemoryStorage) Take(key string) ([]byte, error) {
	s.mu.Lock()
	entry, ok := s.store[key]
	if ok {
		delete(s.store, key)
	}
	s.mu.Unlock()

	if !ok {
		return nil, ErrNotFound
	}
	if !entry.exp.IsZero() && time.Now().After(entry.exp) {
		return nil, ErrNotFound
	}
	return entry.val, nil
}

// Close stops the pruning loop.
func (s *MemoryStorage) Close() {
	s.once.Do(func() {
		close(s.stop)
	})
}

func (s *MemoryStorage) pruneLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for key, entry := range s.store {
				if !entry.exp.IsZero() && now.After(entry.exp) {
					delete(s.store, key)
				}
			}
			s.mu.Unlock()
		}
	}
}
