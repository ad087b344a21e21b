package store

import "sync"

// PubSub is the broadcast relay boundary between processes. Subscribe
// returns a cancel function that detaches the handler.
type PubSub interface {
	Publish(channel string, message []byte) error
	Subscribe(channel string, handler func(message []byte)) (func(), error)
}

type memorySub struct {
	id      int
	handler func(message []byte)
}

// MemoryPubSub is an in-process PubSub for single-process deployments.
type MemoryPubSub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string][]memorySub
}

// NewMemoryPubSub creates an in-memory PubSub.
func NewMemoryPubSub() *MemoryPubSub {
	return &MemoryPubSub{
		subs: make(map[string][]memorySub),
	}
}

// Publish delivers a message to every subscriber of the channel.
// Handlers run asynchronously so a slow subscriber does not block the
// publisher.
func (p *MemoryPubSub) Publish(channel string, message []byte) error {
	p.mu.RLock()
	subs := make([]memorySub, len(p.subs[channel]))
	copy(subs, p.subs[channel])
	p.mu.RUnlock()

	for _, sub := range subs {
		go sub.handler(message)
	}
	return nil
}

// Subscribe registers a handler for a channel and returns its cancel.
func (p *MemoryPubSub) Subscribe(channel string, handler func(message []byte)) (func(), error) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[channel] = append(p.subs[channel], memorySub{id: id, handler: handler})
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		subs := p.subs[channel]
		for i, sub := range subs {
			if sub.id == id {
				p.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(p.subs[channel]) == 0 {
			delete(p.subs, channel)
		}
		p.mu.Unlock()
	}, nil
}
