package transport

import (
	"context"
	"errors"
	"sync"
)

const defaultBufferSize = 100

// ErrClosed is returned when the transport has been closed.
var ErrClosed = errors.New("transport closed")

// Transport moves serialized events between producers and consumers.
// Delivery is at-least-once to consumers subscribed at the time of the send.
// There is no ordering guarantee across channels.
type Transport interface {
	// Send delivers payload to every consumer of channel.
	Send(ctx context.Context, channel string, payload []byte) error
	// Subscribe returns a stream of payloads sent on channel. The stream is
	// closed when ctx is done or the transport is closed.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

type subscriber struct {
	ch   chan []byte
	done chan struct{}
	once sync.Once
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// Memory is a process local Transport. A send blocks until every current
// subscriber of the channel has buffer space, so nothing is dropped while the
// subscriber is alive.
type Memory struct {
	mu          sync.RWMutex
	subscribers map[string]map[*subscriber]struct{}
	bufferSize  int
	closed      bool
}

// NewMemory creates a new in-memory transport.
func NewMemory() *Memory {
	return &Memory{
		subscribers: make(map[string]map[*subscriber]struct{}),
		bufferSize:  defaultBufferSize,
	}
}

func (m *Memory) Send(ctx context.Context, channel string, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}

	for sub := range m.subscribers[channel] {
		msg := append([]byte(nil), payload...)
		select {
		case sub.ch <- msg:
		case <-sub.done:
			// subscriber went away, nothing to deliver to
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	sub := &subscriber{
		ch:   make(chan []byte, m.bufferSize),
		done: make(chan struct{}),
	}
	if m.subscribers[channel] == nil {
		m.subscribers[channel] = map[*subscriber]struct{}{}
	}
	m.subscribers[channel][sub] = struct{}{}

	go func() {
		select {
		case <-ctx.Done():
		case <-sub.done:
			return
		}
		m.unsubscribe(channel, sub)
	}()
	return sub.ch, nil
}

// unsubscribe signals done before taking the write lock so a sender blocked
// on a full buffer releases its read lock.
func (m *Memory) unsubscribe(channel string, sub *subscriber) {
	sub.stop()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscribers[channel][sub]; !ok {
		return
	}
	delete(m.subscribers[channel], sub)
	if len(m.subscribers[channel]) == 0 {
		delete(m.subscribers, channel)
	}
	close(sub.ch)
}

// SubscriberCount returns the number of active subscribers of channel.
func (m *Memory) SubscriberCount(channel string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscribers[channel])
}

// Close closes all subscriber streams.
func (m *Memory) Close() error {
	m.mu.RLock()
	var subs []*subscriber
	for _, set := range m.subscribers {
		for sub := range set {
			subs = append(subs, sub)
		}
	}
	m.mu.RUnlock()
	for _, sub := range subs {
		sub.stop()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for channel, set := range m.subscribers {
		for sub := range set {
			close(sub.ch)
		}
		delete(m.subscribers, channel)
	}
	m.closed = true
	return nil
}
