package endpoint

import (
	"errors"
	"sync"

	json "github.com/goccy/go-json"
)

// ErrUnknownConnection is returned when sending to an identity this
// controller does not track.
var ErrUnknownConnection = errors.New("unknown connection")

// SendError records one failed delivery during a broadcast.
type SendError struct {
	ID  string
	Err error
}

// Send delivers a payload to a single connection by identity. Unknown
// identities and non-open connections are local failures reported to
// the caller, not events.
func (ctl *Controller) Send(id string, payload []byte, opts *SendOptions) error {
	ctl.mu.RLock()
	c, ok := ctl.conns[id]
	ctl.mu.RUnlock()
	if !ok {
		return ErrUnknownConnection
	}
	return c.Send(payload, opts)
}

// SendJSON marshals v and delivers it to a single connection.
func (ctl *Controller) SendJSON(id string, v any) error {
	ctl.mu.RLock()
	c, ok := ctl.conns[id]
	ctl.mu.RUnlock()
	if !ok {
		return ErrUnknownConnection
	}
	return c.SendJSON(v)
}

// Broadcast delivers a payload to every open connection, or to the
// subset filter selects. Deliveries run independently; one slow or
// failing connection never blocks another. It returns after every
// attempt has resolved, with the list of genuine send failures.
// Connections that closed before delivery are skipped, not reported.
// No eligible connections is a no-op success.
func (ctl *Controller) Broadcast(payload []byte, opts *SendOptions, filter func(*Conn) bool) []SendError {
	conns := ctl.snapshotConns()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures []SendError
	)
	for _, c := range conns {
		if !c.IsOpen() {
			continue
		}
		if filter != nil && !filter(c) {
			continue
		}
		wg.Add(1)
		go func(c *Conn) {
			defer wg.Done()
			if err := c.Send(payload, opts); err != nil && !errors.Is(err, ErrNotOpen) {
				mu.Lock()
				failures = append(failures, SendError{ID: c.ID(), Err: err})
				mu.Unlock()
			}
		}(c)
	}
	wg.Wait()
	return failures
}

// BroadcastJSON marshals v once and broadcasts it as a text frame.
func (ctl *Controller) BroadcastJSON(v any, filter func(*Conn) bool) ([]SendError, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return ctl.Broadcast(data, nil, filter), nil
}
