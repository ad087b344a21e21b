package endpoint

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// ErrDestroyed is returned by operations on a destroyed controller.
var ErrDestroyed = errors.New("endpoint destroyed")

// Controller is the per-route aggregate: it owns the connection
// registry, the key authority and the rate limiter, admits handshaken
// connections, and exposes messaging and shutdown.
type Controller struct {
	path string
	cfg  Config

	keys    *KeyAuthority
	limiter *RateLimiter

	mu        sync.RWMutex
	conns     map[string]*Conn
	destroyed bool

	observers *observers
	disposer  func(*Controller)
	logger    *log.Logger
}

// NewController creates a controller for the given route path.
func NewController(path string, cfg Config) *Controller {
	if cfg.KeyExpiration <= 0 {
		cfg.KeyExpiration = DefaultKeyExpiration
	}
	ctl := &Controller{
		path:      path,
		cfg:       cfg,
		keys:      NewKeyAuthority(cfg.KeyExpiration, cfg.Keys, path),
		conns:     make(map[string]*Conn),
		observers: newObservers(),
		logger:    log.Default(),
	}
	if cfg.RateLimit.Max > 0 && cfg.RateLimit.Window > 0 {
		ctl.limiter = NewRateLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window)
	}
	return ctl
}

// Path returns the route path this controller serves.
func (ctl *Controller) Path() string { return ctl.path }

// Config returns the controller's configuration.
func (ctl *Controller) Config() Config { return ctl.cfg }

// SetDisposer installs the callback invoked on Destroy, before the
// destroy event. The route table uses it to detach the controller.
func (ctl *Controller) SetDisposer(fn func(*Controller)) {
	ctl.mu.Lock()
	ctl.disposer = fn
	ctl.mu.Unlock()
}

// SetLogger overrides the controller's logger.
func (ctl *Controller) SetLogger(l *log.Logger) {
	if l != nil {
		ctl.logger = l
	}
}

// IssueKey issues a one-time connection key for this endpoint.
func (ctl *Controller) IssueKey() (string, error) {
	return ctl.keys.Issue()
}

// Len returns the number of live connections.
func (ctl *Controller) Len() int {
	ctl.mu.RLock()
	defer ctl.mu.RUnlock()
	return len(ctl.conns)
}

// Admit runs the admission sequence for a just-handshaken connection:
// rate limit, capacity, one-time key, required parameters, auth. Each
// failure closes the transport with its own status code and stops
// there. On success the connection is registered, its watchdog armed,
// and the connect event emitted.
func (ctl *Controller) Admit(ctx context.Context, t Transport, req *Request) (conn *Conn, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("admission panic: %v", r)
			ctl.observers.emitError(nil, err)
			_ = t.WriteClose(CloseInternalError, "internal error")
			_ = t.Close()
			// A panic past registration must not strand the connection in
			// the live set.
			if conn != nil && conn.id != "" {
				conn.beginClose(connClosed)
				ctl.remove(conn, CloseInternalError, "internal error")
			}
			conn = nil
		}
	}()

	if req == nil {
		req = &Request{Path: ctl.path}
	}

	if ctl.limiter != nil {
		clientID := req.ClientID()
		if !ctl.limiter.Allow(clientID) {
			ctl.observers.emitRateLimited(clientID)
			return nil, ctl.reject(t, CloseRateLimited, "rate limit exceeded")
		}
	}

	if ctl.cfg.Limit > 0 && ctl.Len() >= ctl.cfg.Limit {
		return nil, ctl.reject(t, CloseTooManyConnections, "too many connections")
	}

	if ctl.cfg.UseConnectionKeys {
		if !ctl.keys.Validate(req.Param("key")) {
			return nil, ctl.reject(t, CloseInvalidKey, "invalid or expired connection key")
		}
	}

	for _, p := range ctl.cfg.RequiredParams {
		if req.Param(p) == "" {
			return nil, ctl.reject(t, CloseMissingParam, "missing parameter: "+p)
		}
	}

	if ctl.cfg.AuthHandler != nil {
		ok, authErr := ctl.cfg.AuthHandler(ctx, req)
		if authErr != nil {
			ctl.observers.emitError(nil, authErr)
			return nil, ctl.reject(t, CloseInternalError, "internal error")
		}
		if !ok {
			return nil, ctl.reject(t, CloseAuthFailed, "authorization failed")
		}
	}

	now := time.Now()
	conn = &Conn{
		ctl:          ctl,
		transport:    t,
		params:       req.Params,
		connectedAt:  now,
		lastActivity: now,
	}

	// The auth handler may have suspended; decide on the registry state
	// as it is now, not as it was before the call.
	ctl.mu.Lock()
	if ctl.destroyed {
		ctl.mu.Unlock()
		return nil, ctl.reject(t, CloseGoingAway, "endpoint closed")
	}
	if ctl.cfg.Limit > 0 && len(ctl.conns) >= ctl.cfg.Limit {
		ctl.mu.Unlock()
		return nil, ctl.reject(t, CloseTooManyConnections, "too many connections")
	}
	id, idErr := ctl.uniqueIDLocked()
	if idErr != nil {
		ctl.mu.Unlock()
		ctl.observers.emitError(nil, idErr)
		return nil, ctl.reject(t, CloseInternalError, "internal error")
	}
	conn.id = id
	ctl.conns[id] = conn
	ctl.mu.Unlock()

	ctl.armWatchdog(conn)
	ctl.observers.emitConnect(conn)
	return conn, nil
}

// uniqueIDLocked generates a connection identity unused within this
// controller. Caller holds ctl.mu.
func (ctl *Controller) uniqueIDLocked() (string, error) {
	for {
		token, err := randomToken()
		if err != nil {
			return "", err
		}
		id := "conn_" + token[:12]
		if _, taken := ctl.conns[id]; !taken {
			return id, nil
		}
	}
}

func (ctl *Controller) reject(t Transport, code int, reason string) error {
	_ = t.WriteClose(code, reason)
	_ = t.Close()
	return &AdmissionError{Code: code, Reason: reason}
}

// HandleMessage records activity and fans the payload out to message
// observers. The dispatcher calls it from the read loop.
func (ctl *Controller) HandleMessage(c *Conn, messageType int, payload []byte) {
	c.Touch()
	ctl.observers.emitMessage(c, messageType, payload)
}

// HandleError surfaces a transport error as an error event. The
// controller stays usable.
func (ctl *Controller) HandleError(c *Conn, err error) {
	ctl.observers.emitError(c, err)
}

// HandleClose removes a connection whose transport the dispatcher
// observed closing, carrying the peer's close code and reason.
func (ctl *Controller) HandleClose(c *Conn, code int, reason string) {
	if t := c.beginClose(connClosed); t != nil {
		_ = t.Close()
	}
	ctl.remove(c, code, reason)
}

// armWatchdog (re)arms the idle timer for a connection. The previous
// timer is always stopped first, so a connection never has two.
func (ctl *Controller) armWatchdog(c *Conn) {
	d := ctl.cfg.IdleTimeout
	if d <= 0 {
		return
	}
	c.mu.Lock()
	if c.state != connOpen {
		c.mu.Unlock()
		return
	}
	if c.watchdog != nil {
		c.watchdog.Stop()
	}
	c.watchdog = time.AfterFunc(d, func() {
		ctl.closeConn(c, CloseIdleTimeout, "idle timeout", true)
	})
	c.mu.Unlock()
}

// closeConn closes a connection from our side and removes it. A close
// that already happened wins; the call is then a no-op.
func (ctl *Controller) closeConn(c *Conn, code int, reason string, terminate bool) {
	t := c.beginClose(connClosed)
	if t == nil {
		return
	}
	_ = t.WriteClose(code, reason)
	if terminate {
		_ = t.Close()
	}
	ctl.remove(c, code, reason)
}

// remove is the single path that shrinks the live set. Idempotent.
func (ctl *Controller) remove(c *Conn, code int, reason string) {
	ctl.mu.Lock()
	if _, ok := ctl.conns[c.id]; !ok {
		ctl.mu.Unlock()
		return
	}
	delete(ctl.conns, c.id)
	ctl.mu.Unlock()
	ctl.observers.emitDisconnect(c, code, reason)
}

func (ctl *Controller) snapshotConns() []*Conn {
	ctl.mu.RLock()
	defer ctl.mu.RUnlock()
	out := make([]*Conn, 0, len(ctl.conns))
	for _, c := range ctl.conns {
		out = append(out, c)
	}
	return out
}

// ConnInfo describes one live connection for the query API.
type ConnInfo struct {
	ID           string            `json:"id"`
	ReadyState   string            `json:"readyState"`
	Params       map[string]string `json:"params,omitempty"`
	ConnectedAt  time.Time         `json:"connectedAt"`
	LastActivity time.Time         `json:"lastActivity"`
	IdleFor      time.Duration     `json:"idleFor"`
	Meta         map[string]any    `json:"meta,omitempty"`
}

// Stats aggregates the controller's counters.
type Stats struct {
	Connections      int `json:"connections"`
	PendingKeys      int `json:"pendingKeys"`
	RateLimitEntries int `json:"rateLimitEntries"`
}

// Snapshot returns the current live connections.
func (ctl *Controller) Snapshot() []ConnInfo {
	conns := ctl.snapshotConns()
	out := make([]ConnInfo, 0, len(conns))
	for _, c := range conns {
		last := c.LastActivity()
		out = append(out, ConnInfo{
			ID:           c.ID(),
			ReadyState:   c.ReadyState(),
			Params:       c.Params(),
			ConnectedAt:  c.ConnectedAt(),
			LastActivity: last,
			IdleFor:      time.Since(last),
			Meta:         c.metaSnapshot(),
		})
	}
	return out
}

// Stats returns the controller's aggregate counts.
func (ctl *Controller) Stats() Stats {
	s := Stats{
		Connections: ctl.Len(),
		PendingKeys: ctl.keys.Count(),
	}
	if ctl.limiter != nil {
		s.RateLimitEntries = ctl.limiter.Len()
	}
	return s
}
