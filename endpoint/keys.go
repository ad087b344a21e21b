package endpoint

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"sync"
	"time"

	"github.com/aydenstechdungeon/sockmux/store"
)

// sweepInterval is how often the key authority purges expired keys that
// were never consumed.
const sweepInterval = 30 * time.Second

type pendingKey struct {
	issuedAt  time.Time
	expiresAt time.Time
}

// KeyAuthority issues and validates single-use, time-limited connection
// keys. Validation consumes: a key validates successfully at most once,
// and only before its expiry. An optional shared store lets keys issued
// by one process validate on another.
type KeyAuthority struct {
	mu         sync.Mutex
	keys       map[string]pendingKey
	expiration time.Duration
	shared     store.Storage
	namespace  string
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewKeyAuthority creates a key authority with the given key lifetime
// and starts its background sweeper. A nil shared store keeps keys
// in-process; namespace scopes shared keys per route.
func NewKeyAuthority(expiration time.Duration, shared store.Storage, namespace string) *KeyAuthority {
	return newKeyAuthority(expiration, sweepInterval, shared, namespace)
}

func newKeyAuthority(expiration, sweepEvery time.Duration, shared store.Storage, namespace string) *KeyAuthority {
	if expiration <= 0 {
		expiration = DefaultKeyExpiration
	}
	a := &KeyAuthority{
		keys:       make(map[string]pendingKey),
		expiration: expiration,
		shared:     shared,
		namespace:  namespace,
		stop:       make(chan struct{}),
	}
	go a.sweepLoop(sweepEvery)
	return a
}

// Issue generates a new URL-safe connection key valid for the
// configured expiration.
func (a *KeyAuthority) Issue() (string, error) {
	token, err := randomToken()
	if err != nil {
		return "", err
	}

	now := time.Now()
	key := pendingKey{issuedAt: now, expiresAt: now.Add(a.expiration)}

	a.mu.Lock()
	a.keys[token] = key
	a.mu.Unlock()

	if a.shared != nil {
		rec := store.KeyRecord{Token: token, IssuedAt: key.issuedAt, ExpiresAt: key.expiresAt}
		data, err := store.EncodeKeyRecord(rec)
		if err == nil {
			err = a.shared.Set(a.sharedKey(token), data, a.expiration)
		}
		if err != nil {
			a.mu.Lock()
			delete(a.keys, token)
			a.mu.Unlock()
			log.Printf("sockmux: failed to share connection key: %v", err)
			return "", err
		}
	}

	return token, nil
}

// Validate consumes the key if it is known and unexpired. At most one
// concurrent validation of the same token succeeds, across processes
// when a shared store is configured.
func (a *KeyAuthority) Validate(token string) bool {
	if token == "" {
		return false
	}

	a.mu.Lock()
	key, ok := a.keys[token]
	if ok {
		delete(a.keys, token)
	}
	a.mu.Unlock()

	if a.shared == nil {
		return ok && time.Now().Before(key.expiresAt)
	}

	// The shared store is the single authority: Take removes
	// atomically, so two processes racing on the same key resolve to at
	// most one success. The local map is only a mirror for counting.
	data, err := a.shared.Take(a.sharedKey(token))
	if err != nil {
		return false
	}
	rec, err := store.DecodeKeyRecord(data)
	if err != nil {
		return false
	}
	return time.Now().Before(rec.ExpiresAt)
}

// Count returns the number of unconsumed local keys.
func (a *KeyAuthority) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.keys)
}

// Stop cancels the background sweeper and drops all pending keys.
func (a *KeyAuthority) Stop() {
	a.stopOnce.Do(func() {
		close(a.stop)
	})
	a.mu.Lock()
	a.keys = make(map[string]pendingKey)
	a.mu.Unlock()
}

func (a *KeyAuthority) sharedKey(token string) string {
	return "sockmux:key:" + a.namespace + ":" + token
}

// sweepLoop purges expired never-consumed keys so abandoned keys do not
// accumulate.
func (a *KeyAuthority) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			now := time.Now()
			a.mu.Lock()
			for token, key := range a.keys {
				if now.After(key.expiresAt) {
					delete(a.keys, token)
				}
			}
			a.mu.Unlock()
		}
	}
}

// randomToken returns a cryptographically random, URL-safe token.
func randomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
