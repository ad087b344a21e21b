// Package endpoint implements the per-route WebSocket connection
// controller: admission checks (rate limit, capacity, one-time keys,
// required parameters, auth), the live-connection registry with idle
// watchdogs, unicast/broadcast messaging and shutdown.
package endpoint

import (
	"context"
	"time"

	"github.com/aydenstechdungeon/sockmux/store"
)

const (
	// DefaultKeyExpiration is how long an issued connection key stays
	// valid when the config does not override it.
	DefaultKeyExpiration = 120 * time.Second
)

// AuthHandler decides whether a connection may be admitted. It runs
// after the key and parameter checks, with the request metadata captured
// before the handshake. Returning an error (as opposed to false) is
// treated as an internal failure, not an auth rejection.
type AuthHandler func(ctx context.Context, req *Request) (bool, error)

// GateFunc runs before the WebSocket handshake. Returning false rejects
// the upgrade with a plain HTTP error, no close frame involved.
type GateFunc func(req *Request) bool

// RateLimit configures the per-client fixed-window rate limiter.
// A zero Max disables rate limiting.
type RateLimit struct {
	Max    int
	Window time.Duration
}

// Config holds per-endpoint options.
type Config struct {
	// AuthHandler is an optional async admission predicate. Nil means
	// always allow.
	AuthHandler AuthHandler
	// Gate is an optional pre-upgrade check run before the handshake.
	Gate GateFunc
	// Limit caps concurrent connections. 0 means unbounded. Admission
	// at capacity is rejected, never queued.
	Limit int
	// UseConnectionKeys requires a valid one-time key in the "key"
	// query parameter.
	UseConnectionKeys bool
	// KeyExpiration bounds how long an issued key stays valid.
	// Defaults to DefaultKeyExpiration.
	KeyExpiration time.Duration
	// RequiredParams lists query parameters that must be present.
	RequiredParams []string
	// IdleTimeout closes connections that show no activity for this
	// long. 0 disables the watchdog.
	IdleTimeout time.Duration
	// RateLimit throttles admissions per client identity.
	RateLimit RateLimit
	// Keys optionally backs the key authority with a shared store so
	// keys issued by one process validate on another. Nil keeps keys
	// in-process.
	Keys store.Storage
}

// DefaultConfig returns the default endpoint configuration: key-gated,
// unbounded, no idle timeout, no rate limit.
func DefaultConfig() Config {
	return Config{
		UseConnectionKeys: true,
		KeyExpiration:     DefaultKeyExpiration,
	}
}
