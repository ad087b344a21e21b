package endpoint

import (
	"errors"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// Message types, matching RFC 6455 data frame opcodes.
const (
	TextMessage   = 1
	BinaryMessage = 2
)

// ErrNotOpen is returned when sending on a connection that is closing
// or closed.
var ErrNotOpen = errors.New("connection is not open")

// Transport is the minimal surface the controller needs from a
// WebSocket connection. The dispatcher adapts the real library
// connection; tests substitute fakes.
type Transport interface {
	// WriteMessage writes a data frame.
	WriteMessage(messageType int, data []byte) error
	// WriteClose writes a close control frame with the given status
	// code and reason.
	WriteClose(code int, reason string) error
	// Close tears the underlying connection down without a closing
	// handshake.
	Close() error
}

type connState int

const (
	connOpen connState = iota
	connClosing
	connClosed
)

func (s connState) String() string {
	switch s {
	case connOpen:
		return "open"
	case connClosing:
		return "closing"
	default:
		return "closed"
	}
}

// SendOptions adjusts a single send. The zero value sends a text frame.
type SendOptions struct {
	Binary bool
}

// Conn is one live connection admitted by a controller. It is owned by
// the controller that admitted it and removed on close.
type Conn struct {
	id          string
	ctl         *Controller
	transport   Transport
	params      map[string]string
	connectedAt time.Time

	mu           sync.Mutex
	state        connState
	lastActivity time.Time
	watchdog     *time.Timer
	meta         map[string]any
}

// ID returns the connection's identity, unique within its controller.
func (c *Conn) ID() string { return c.id }

// Params returns the query parameters resolved at admission.
func (c *Conn) Params() map[string]string { return c.params }

// ConnectedAt returns when the connection was admitted.
func (c *Conn) ConnectedAt() time.Time { return c.connectedAt }

// LastActivity returns when activity was last observed.
func (c *Conn) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// IdleFor returns how long the connection has been without activity.
func (c *Conn) IdleFor() time.Duration {
	return time.Since(c.LastActivity())
}

// IsOpen reports whether the connection accepts sends.
func (c *Conn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == connOpen
}

// ReadyState returns "open", "closing" or "closed".
func (c *Conn) ReadyState() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.String()
}

// Set stores a metadata value on the connection.
func (c *Conn) Set(key string, value any) {
	c.mu.Lock()
	if c.meta == nil {
		c.meta = make(map[string]any)
	}
	c.meta[key] = value
	c.mu.Unlock()
}

// Get returns a metadata value previously stored with Set.
func (c *Conn) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.meta[key]
	return v, ok
}

// Touch records activity and rearms the idle watchdog. The dispatcher
// calls it for every inbound message and pong.
func (c *Conn) Touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
	c.ctl.armWatchdog(c)
}

// Send writes a payload to the peer. It fails with ErrNotOpen once a
// close has begun.
func (c *Conn) Send(payload []byte, opts *SendOptions) error {
	messageType := TextMessage
	if opts != nil && opts.Binary {
		messageType = BinaryMessage
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != connOpen {
		return ErrNotOpen
	}
	return c.transport.WriteMessage(messageType, payload)
}

// SendJSON marshals v and sends it as a text frame.
func (c *Conn) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Send(data, nil)
}

// Close performs a polite close with the given code and removes the
// connection from its controller.
func (c *Conn) Close(code int, reason string) {
	c.ctl.closeConn(c, code, reason, true)
}

// metaSnapshot copies the metadata map for the query API.
func (c *Conn) metaSnapshot() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.meta) == 0 {
		return nil
	}
	out := make(map[string]any, len(c.meta))
	for k, v := range c.meta {
		out[k] = v
	}
	return out
}

// beginClose transitions the state and cancels the watchdog. It returns
// the transport to finish the close on, or nil if a close already won.
func (c *Conn) beginClose(to connState) Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == connClosed || (to == connClosing && c.state != connOpen) {
		return nil
	}
	c.state = to
	if to == connClosed && c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
	return c.transport
}
