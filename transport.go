package sockmux

import (
	"context"
	"errors"
	"sync"
	"time"

	fws "github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/aydenstechdungeon/sockmux/endpoint"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second
	// pongWait is how long a peer may stay silent before the read side
	// gives up on it.
	pongWait = 60 * time.Second
	// pingPeriod keeps pings comfortably inside pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// requestLocal is the fiber locals key carrying the captured request
// metadata across the handshake.
const requestLocal = "sockmux_request"

// Handler returns the dispatch handler. Mount it where upgrade requests
// arrive, e.g. app.Use("/ws", mux.Handler()); it resolves the request
// path against the route table and rejects unknown paths before any
// handshake happens.
func (m *Mux) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		m.mu.RLock()
		r, ok := m.routes[c.Path()]
		m.mu.RUnlock()
		if !ok {
			return fiber.ErrNotFound
		}
		if r.raw != nil {
			return r.raw(c)
		}
		return r.serve(c)
	}
}

// serveGated builds the per-route handler: pre-upgrade gate, handshake,
// admission, then the read pump.
func (m *Mux) serveGated(ctl *endpoint.Controller) fiber.Handler {
	upgraded := websocket.New(func(wc *websocket.Conn) {
		req, _ := wc.Locals(requestLocal).(*endpoint.Request)
		t := &wsTransport{conn: wc}
		conn, err := ctl.Admit(context.Background(), t, req)
		if err != nil {
			return
		}
		m.pump(ctl, conn, wc)
	})

	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		req := captureRequest(c, ctl.Path())
		if gate := ctl.Config().Gate; gate != nil && !gate(req) {
			return fiber.ErrForbidden
		}
		c.Locals(requestLocal, req)
		return upgraded(c)
	}
}

// captureRequest copies what the admission checks need out of the fiber
// context before the handshake consumes it.
func captureRequest(c *fiber.Ctx, path string) *endpoint.Request {
	params := make(map[string]string)
	for k, v := range c.Queries() {
		params[k] = v
	}
	return &endpoint.Request{
		Path:          path,
		Params:        params,
		RemoteAddr:    c.Context().RemoteAddr().String(),
		UserAgent:     c.Get(fiber.HeaderUserAgent),
		Authorization: c.Get(fiber.HeaderAuthorization),
	}
}

// pump reads until the peer goes away, feeding activity and messages to
// the controller, with a ping ticker keeping the connection alive.
func (m *Mux) pump(ctl *endpoint.Controller, conn *endpoint.Conn, wc *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)

	_ = wc.SetReadDeadline(time.Now().Add(pongWait))
	wc.SetPongHandler(func(string) error {
		_ = wc.SetReadDeadline(time.Now().Add(pongWait))
		conn.Touch()
		return nil
	})

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := wc.WriteControl(fws.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	for {
		messageType, payload, err := wc.ReadMessage()
		if err != nil {
			code, reason := closeStatus(err)
			ctl.HandleClose(conn, code, reason)
			return
		}
		_ = wc.SetReadDeadline(time.Now().Add(pongWait))
		ctl.HandleMessage(conn, messageType, payload)
	}
}

// closeStatus extracts the peer's close code and reason from a read
// error, defaulting to abnormal closure.
func closeStatus(err error) (int, string) {
	var ce *fws.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	return fws.CloseAbnormalClosure, err.Error()
}

// wsTransport adapts the library connection to endpoint.Transport,
// serializing data-frame writes.
type wsTransport struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (t *wsTransport) WriteMessage(messageType int, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(messageType, data)
}

func (t *wsTransport) WriteClose(code int, reason string) error {
	return t.conn.WriteControl(fws.CloseMessage, fws.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
