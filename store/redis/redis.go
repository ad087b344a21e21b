// Package redis backs the store interfaces with Redis so connection
// keys and broadcasts work across processes.
package redis

import (
	"context"
	"time"

	"github.com/aydenstechdungeon/sockmux/store"
	goredis "github.com/redis/go-redis/v9"
)

// Store is a Redis-backed store.Storage.
type Store struct {
	client *goredis.Client
	ctx    context.Context
}

// NewStore creates a Redis storage over an existing client.
func NewStore(client *goredis.Client) *Store {
	return &Store{
		client: client,
		ctx:    context.Background(),
	}
}

// Get retrieves a key from Redis.
func (s *Store) Get(key string) ([]byte, error) {
	val, err := s.client.Get(s.ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, store.ErrNotFound
	}
	return val, err
}

// Set stores a key in Redis with an optional expiration.
func (s *Store) Set(key string, val []byte, exp time.Duration) error {
	return s.client.Set(s.ctx, key, val, exp).Err()
}

// Delete removes a key from Redis.
func (s *Store) Delete(key string) error {
	return s.client.Del(s.ctx, key).Err()
}

// Take removes and returns a key in one round trip. GETDEL is atomic on
// the server, so concurrent takers of a one-time key resolve to at most
// one success.
func (s *Store) Take(key string) ([]byte, error) {
	val, err := s.client.GetDel(s.ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, store.ErrNotFound
	}
	return val, err
}

// PubSub is a Redis-backed store.PubSub.
type PubSub struct {
	client *goredis.Client
	ctx    context.Context
}

// NewPubSub creates a Redis PubSub over an existing client.
func NewPubSub(client *goredis.Client) *PubSub {
	return &PubSub{
		client: client,
		ctx:    context.Background(),
	}
}

// Publish publishes a message to a Redis channel.
func (p *PubSub) Publish(channel string, message []byte) error {
	return p.client.Publish(p.ctx, channel, message).Err()
}

// Subscribe subscribes to a Redis channel. The returned cancel closes
// the subscription and stops the delivery goroutine.
func (p *PubSub) Subscribe(channel string, handler func(message []byte)) (func(), error) {
	pubsub := p.client.Subscribe(p.ctx, channel)

	// Wait for the subscription to be confirmed before returning.
	if _, err := pubsub.Receive(p.ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	go func() {
		for msg := range pubsub.Channel() {
			handler([]byte(msg.Payload))
		}
	}()

	return func() { _ = pubsub.Close() }, nil
}
