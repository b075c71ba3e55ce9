package realtime

import (
	"context"
	"errors"
	"sync"
)

// PostsTopic carries changes to any post
const PostsTopic = "posts"

var ErrHubClosed = errors.New("realtime hub closed")

// ConversationTopic returns the topic carrying changes to one conversation and its messages
func ConversationTopic(conversationID string) string {
	return "conversation:" + conversationID
}

// Hub delivers "something changed" signals per topic. Signals carry no payload;
// subscribers re-read the store when one arrives.
type Hub interface {
	Publish(ctx context.Context, topic string) error
	Subscribe(ctx context.Context, topic string) (*Subscription, error)
	Close() error
}

// Subscription receives coalesced change signals for one topic.
// A burst of publishes while the subscriber is busy collapses into one signal.
type Subscription struct {
	Topic string

	ch     chan struct{}
	done   chan struct{}
	once   sync.Once
	remove func(*Subscription)
}

// C returns the signal channel
func (s *Subscription) C() <-chan struct{} {
	return s.ch
}

// Done is closed once the subscription is closed
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		if s.remove != nil {
			s.remove(s)
		}
	})
}

func (s *Subscription) notify() {
	select {
	case <-s.done:
	case s.ch <- struct{}{}:
	default:
	}
}

// registry is the subscriber bookkeeping shared by every hub implementation
type registry struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}
	closed bool
}

func newRegistry() *registry {
	return &registry{topics: make(map[string]map[*Subscription]struct{})}
}

func (r *registry) add(ctx context.Context, topic string) (*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrHubClosed
	}

	sub := &Subscription{
		Topic:  topic,
		ch:     make(chan struct{}, 1),
		done:   make(chan struct{}),
		remove: r.remove,
	}
	if r.topics[topic] == nil {
		r.topics[topic] = make(map[*Subscription]struct{})
	}
	r.topics[topic][sub] = struct{}{}

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()

	return sub, nil
}

func (r *registry) remove(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.topics[sub.Topic]
	delete(subs, sub)
	if len(subs) == 0 {
		delete(r.topics, sub.Topic)
	}
}

func (r *registry) dispatch(topic string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for sub := range r.topics[topic] {
		sub.notify()
	}
}

// dispatchAll signals every subscriber, used after a lost connection may have dropped events
func (r *registry) dispatchAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, subs := range r.topics {
		for sub := range subs {
			sub.notify()
		}
	}
}

func (r *registry) closeAll() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	var subs []*Subscription
	for _, set := range r.topics {
		for sub := range set {
			subs = append(subs, sub)
		}
	}
	r.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

// LocalHub is an in-process hub for a single replica
type LocalHub struct {
	*registry
}

// NewLocalHub creates an in-process hub
func NewLocalHub() *LocalHub {
	return &LocalHub{registry: newRegistry()}
}

func (h *LocalHub) Publish(ctx context.Context, topic string) error {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		return ErrHubClosed
	}

	h.dispatch(topic)
	return nil
}

func (h *LocalHub) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	return h.add(ctx, topic)
}

func (h *LocalHub) Close() error {
	h.closeAll()
	return nil
}
