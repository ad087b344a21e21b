package endpoint

import "sync"

// ConnectHandler observes a successful admission.
type ConnectHandler func(c *Conn)

// DisconnectHandler observes a connection's removal, with the close
// code and reason.
type DisconnectHandler func(c *Conn, code int, reason string)

// MessageHandler observes an inbound message on an admitted connection.
type MessageHandler func(c *Conn, messageType int, payload []byte)

// ErrorHandler observes transport or internal errors. c may be nil when
// the error predates registration.
type ErrorHandler func(c *Conn, err error)

// DestroyHandler observes the controller's destruction.
type DestroyHandler func()

// RateLimitHandler observes a denied admission attempt from a client
// identity.
type RateLimitHandler func(clientID string)

type observers struct {
	mu          sync.RWMutex
	nextID      int
	connect     map[int]ConnectHandler
	disconnect  map[int]DisconnectHandler
	message     map[int]MessageHandler
	errs        map[int]ErrorHandler
	destroy     map[int]DestroyHandler
	rateLimited map[int]RateLimitHandler
}

func newObservers() *observers {
	return &observers{
		connect:     make(map[int]ConnectHandler),
		disconnect:  make(map[int]DisconnectHandler),
		message:     make(map[int]MessageHandler),
		errs:        make(map[int]ErrorHandler),
		destroy:     make(map[int]DestroyHandler),
		rateLimited: make(map[int]RateLimitHandler),
	}
}

// OnConnect registers a connect observer and returns its unsubscribe.
func (ctl *Controller) OnConnect(h ConnectHandler) func() {
	o := ctl.observers
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.connect[id] = h
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		delete(o.connect, id)
		o.mu.Unlock()
	}
}

// OnDisconnect registers a disconnect observer and returns its
// unsubscribe.
func (ctl *Controller) OnDisconnect(h DisconnectHandler) func() {
	o := ctl.observers
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.disconnect[id] = h
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		delete(o.disconnect, id)
		o.mu.Unlock()
	}
}

// OnMessage registers a message observer and returns its unsubscribe.
func (ctl *Controller) OnMessage(h MessageHandler) func() {
	o := ctl.observers
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.message[id] = h
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		delete(o.message, id)
		o.mu.Unlock()
	}
}

// OnError registers an error observer and returns its unsubscribe.
func (ctl *Controller) OnError(h ErrorHandler) func() {
	o := ctl.observers
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.errs[id] = h
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		delete(o.errs, id)
		o.mu.Unlock()
	}
}

// OnDestroy registers a destroy observer and returns its unsubscribe.
func (ctl *Controller) OnDestroy(h DestroyHandler) func() {
	o := ctl.observers
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.destroy[id] = h
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		delete(o.destroy, id)
		o.mu.Unlock()
	}
}

// OnRateLimited registers a rate-limit observer and returns its
// unsubscribe.
func (ctl *Controller) OnRateLimited(h RateLimitHandler) func() {
	o := ctl.observers
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.rateLimited[id] = h
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		delete(o.rateLimited, id)
		o.mu.Unlock()
	}
}

// Handlers are snapshotted before invocation so an observer may
// unsubscribe, or destroy the controller, from within its own callback.

func (o *observers) emitConnect(c *Conn) {
	o.mu.RLock()
	hs := make([]ConnectHandler, 0, len(o.connect))
	for _, h := range o.connect {
		hs = append(hs, h)
	}
	o.mu.RUnlock()
	for _, h := range hs {
		h(c)
	}
}

func (o *observers) emitDisconnect(c *Conn, code int, reason string) {
	o.mu.RLock()
	hs := make([]DisconnectHandler, 0, len(o.disconnect))
	for _, h := range o.disconnect {
		hs = append(hs, h)
	}
	o.mu.RUnlock()
	for _, h := range hs {
		h(c, code, reason)
	}
}

func (o *observers) emitMessage(c *Conn, messageType int, payload []byte) {
	o.mu.RLock()
	hs := make([]MessageHandler, 0, len(o.message))
	for _, h := range o.message {
		hs = append(hs, h)
	}
	o.mu.RUnlock()
	for _, h := range hs {
		h(c, messageType, payload)
	}
}

func (o *observers) emitError(c *Conn, err error) {
	o.mu.RLock()
	hs := make([]ErrorHandler, 0, len(o.errs))
	for _, h := range o.errs {
		hs = append(hs, h)
	}
	o.mu.RUnlock()
	for _, h := range hs {
		h(c, err)
	}
}

func (o *observers) emitDestroy() {
	o.mu.RLock()
	hs := make([]DestroyHandler, 0, len(o.destroy))
	for _, h := range o.destroy {
		hs = append(hs, h)
	}
	o.mu.RUnlock()
	for _, h := range hs {
		h()
	}
}

func (o *observers) emitRateLimited(clientID string) {
	o.mu.RLock()
	hs := make([]RateLimitHandler, 0, len(o.rateLimited))
	for _, h := range o.rateLimited {
		hs = append(hs, h)
	}
	o.mu.RUnlock()
	for _, h := range hs {
		h(clientID)
	}
}

// clear detaches every observer.
func (o *observers) clear() {
	o.mu.Lock()
	o.connect = make(map[int]ConnectHandler)
	o.disconnect = make(map[int]DisconnectHandler)
	o.message = make(map[int]MessageHandler)
	o.errs = make(map[int]ErrorHandler)
	o.destroy = make(map[int]DestroyHandler)
	o.rateLimited = make(map[int]RateLimitHandler)
	o.mu.Unlock()
}
