// Package sockmux multiplexes WebSocket upgrade requests across named
// routes. Each route is served either by an endpoint.Controller, which
// gates admissions with one-time keys, rate limits, capacity caps and
// auth, or by a raw passthrough handler that does its own upgrading.
package sockmux

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/aydenstechdungeon/sockmux/endpoint"
	"github.com/aydenstechdungeon/sockmux/store"
	"github.com/gofiber/fiber/v2"
)

var (
	// ErrRouteOccupied is returned when a registration collides with an
	// existing route of an incompatible kind.
	ErrRouteOccupied = errors.New("route already registered")
	// ErrUnknownRoute is returned when an operation names a path with no
	// registered endpoint.
	ErrUnknownRoute = errors.New("no such route")
)

// Config holds mux-wide options.
type Config struct {
	// Logger overrides the default logger.
	Logger *log.Logger
	// PublicBase is prepended to one-time connect URLs, e.g.
	// "wss://example.com". Empty leaves them as bare paths.
	PublicBase string
	// KeyStore is applied as the shared key backing for endpoints that
	// do not set their own.
	KeyStore store.Storage
	// Relay distributes Publish calls across processes. Nil keeps
	// broadcasts local.
	Relay store.PubSub
}

// route is the tagged variant behind each path: exactly one of
// controller or raw is set.
type route struct {
	controller  *endpoint.Controller
	serve       fiber.Handler
	raw         fiber.Handler
	relayCancel func()
}

// Mux is the process-wide route table. Construct one explicitly and
// mount Handler on the hosting app; Clear it at shutdown.
type Mux struct {
	cfg    Config
	logger *log.Logger

	mu     sync.RWMutex
	routes map[string]*route
}

// New creates an empty mux.
func New(cfg ...Config) *Mux {
	m := &Mux{
		routes: make(map[string]*route),
		logger: log.Default(),
	}
	if len(cfg) > 0 {
		m.cfg = cfg[0]
	}
	if m.cfg.Logger != nil {
		m.logger = m.cfg.Logger
	}
	return m
}

// Open returns the controller for path, creating one with cfg if the
// path is free. Idempotent by path: a second Open for an occupied path
// returns the existing controller untouched. A path held by a raw
// handler returns ErrRouteOccupied.
func (m *Mux) Open(path string, cfg endpoint.Config) (*endpoint.Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.routes[path]; ok {
		if existing.controller != nil {
			return existing.controller, nil
		}
		return nil, ErrRouteOccupied
	}
	return m.openLocked(path, cfg), nil
}

// openLocked creates and registers a controller. Caller holds m.mu.
func (m *Mux) openLocked(path string, cfg endpoint.Config) *endpoint.Controller {
	if cfg.Keys == nil {
		cfg.Keys = m.cfg.KeyStore
	}

	ctl := endpoint.NewController(path, cfg)
	ctl.SetLogger(m.logger)
	ctl.SetDisposer(m.dispose)

	r := &route{controller: ctl}
	r.serve = m.serveGated(ctl)
	if m.cfg.Relay != nil {
		cancel, err := m.cfg.Relay.Subscribe(relayChannel(path), func(message []byte) {
			ctl.Broadcast(message, nil, nil)
		})
		if err != nil {
			m.logger.Printf("sockmux: relay subscribe failed for %s: %v", path, err)
		} else {
			r.relayCancel = cancel
		}
	}

	m.routes[path] = r
	m.logger.Printf("sockmux: endpoint opened: %s", path)
	return ctl
}

// OpenOnce registers a single-admission endpoint: the first connection
// invokes onConnect exactly once, and the controller destroys itself
// when that connection closes. It returns the connect URL, carrying the
// issued one-time key when key-gating is enabled.
func (m *Mux) OpenOnce(path string, onConnect endpoint.ConnectHandler, cfg endpoint.Config) (string, error) {
	// Check and create under one lock pass, so a concurrent Open cannot
	// claim the path in between and inherit the self-destruct below.
	m.mu.Lock()
	if _, occupied := m.routes[path]; occupied {
		m.mu.Unlock()
		return "", ErrRouteOccupied
	}
	cfg.Limit = 1
	ctl := m.openLocked(path, cfg)
	m.mu.Unlock()

	var once sync.Once
	ctl.OnConnect(func(c *endpoint.Conn) {
		once.Do(func() {
			if onConnect != nil {
				onConnect(c)
			}
		})
	})
	ctl.OnDisconnect(func(c *endpoint.Conn, code int, reason string) {
		ctl.Destroy()
	})

	url := m.cfg.PublicBase + path
	if cfg.UseConnectionKeys {
		token, err := ctl.IssueKey()
		if err != nil {
			ctl.Destroy()
			return "", err
		}
		url += "?key=" + token
	}
	return url, nil
}

// HandleRaw registers a passthrough for path. The handler receives the
// untouched upgrade request and is responsible for completing or
// rejecting the handshake itself; no admission machinery runs.
func (m *Mux) HandleRaw(path string, handler fiber.Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.routes[path]; ok {
		return ErrRouteOccupied
	}
	m.routes[path] = &route{raw: handler}
	m.logger.Printf("sockmux: raw route registered: %s", path)
	return nil
}

// Get returns the controller serving path, or nil.
func (m *Mux) Get(path string) *endpoint.Controller {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.routes[path]; ok {
		return r.controller
	}
	return nil
}

// Paths returns the registered route paths.
func (m *Mux) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.routes))
	for p := range m.routes {
		out = append(out, p)
	}
	return out
}

// Publish broadcasts a payload on a route. With a relay configured the
// payload goes through it, reaching every process subscribed to the
// route, this one included; otherwise delivery is local.
func (m *Mux) Publish(path string, payload []byte) error {
	if m.cfg.Relay != nil {
		return m.cfg.Relay.Publish(relayChannel(path), payload)
	}
	ctl := m.Get(path)
	if ctl == nil {
		return ErrUnknownRoute
	}
	ctl.Broadcast(payload, nil, nil)
	return nil
}

// Clear snapshots all routes, removes them from the table and shuts the
// controllers down concurrently: graceful within timeout, then
// destroyed. One controller failing to drain does not hold up the rest.
func (m *Mux) Clear(timeout time.Duration) {
	m.mu.Lock()
	routes := m.routes
	m.routes = make(map[string]*route)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for path, r := range routes {
		if r.relayCancel != nil {
			r.relayCancel()
		}
		if r.controller == nil {
			continue
		}
		wg.Add(1)
		go func(path string, ctl *endpoint.Controller) {
			defer wg.Done()
			ctl.GracefulShutdown(timeout)
			ctl.Destroy()
			m.logger.Printf("sockmux: endpoint closed: %s", path)
		}(path, r.controller)
	}
	wg.Wait()
}

// dispose detaches a destroyed controller from the table. Installed as
// every controller's disposer, so an application calling Destroy
// directly also vacates the route.
func (m *Mux) dispose(ctl *endpoint.Controller) {
	m.mu.Lock()
	r, ok := m.routes[ctl.Path()]
	if ok && r.controller == ctl {
		delete(m.routes, ctl.Path())
		if r.relayCancel != nil {
			r.relayCancel()
		}
	}
	m.mu.Unlock()
}

func relayChannel(path string) string {
	return "sockmux:relay:" + path
}
