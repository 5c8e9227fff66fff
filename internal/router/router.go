package router

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/rickgao/audiopanel/internal/envelope"
)

// Handler receives one payload for the channel it subscribed to. A
// returned error is logged by the dispatcher and otherwise ignored.
type Handler func(payload json.RawMessage) error

// Subscription is a handle for one registered handler. Handles are
// compared by identity, so subscribing the same function twice yields two
// independent subscriptions.
type Subscription struct {
	ID      uuid.UUID
	Channel string

	handler Handler
	active  atomic.Bool
}

// Active reports whether the subscription is still registered.
func (s *Subscription) Active() bool {
	return s.active.Load()
}

// Invoke calls the handler, converting a panic into an error.
func (s *Subscription) Invoke(payload json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.handler(payload)
}

// Delivery pairs a subscription with the payload it should receive.
type Delivery struct {
	Sub     *Subscription
	Payload json.RawMessage
}

// Router maps channels to ordered subscriptions.
type Router struct {
	mu   sync.RWMutex
	subs map[string][]*Subscription
}

// New creates an empty Router.
func New() *Router {
	return &Router{
		subs: make(map[string][]*Subscription),
	}
}

// Add registers h under channel and returns its handle.
func (r *Router) Add(channel string, h Handler) *Subscription {
	s := &Subscription{
		ID:      uuid.New(),
		Channel: channel,
		handler: h,
	}
	s.active.Store(true)

	r.mu.Lock()
	r.subs[channel] = append(r.subs[channel], s)
	r.mu.Unlock()

	return s
}

// Remove unregisters exactly s. Returns false if s was already removed.
func (r *Router) Remove(s *Subscription) bool {
	if s == nil || !s.active.CompareAndSwap(true, false) {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.subs[s.Channel]
	for i, cur := range list {
		if cur != s {
			continue
		}
		next := make([]*Subscription, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(r.subs, s.Channel)
		} else {
			r.subs[s.Channel] = next
		}
		break
	}
	return true
}

// Subscriptions returns a snapshot of the handles registered on channel,
// in registration order.
func (r *Router) Subscriptions(channel string) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.subs[channel]
	out := make([]*Subscription, len(list))
	copy(out, list)
	return out
}

// Count returns the total number of registered subscriptions.
func (r *Router) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, list := range r.subs {
		n += len(list)
	}
	return n
}

// Plan resolves who receives a decoded frame. Subscribers of the frame's
// channel get the payload without the channel tag; when the channel is not
// global, global subscribers additionally get raw, the frame as received.
func (r *Router) Plan(frame envelope.Frame, raw []byte) ([]Delivery, error) {
	channel := frame.Route()
	direct := r.Subscriptions(channel)

	var global []*Subscription
	if channel != envelope.GlobalChannel {
		global = r.Subscriptions(envelope.GlobalChannel)
	}

	if len(direct) == 0 && len(global) == 0 {
		return nil, nil
	}

	deliveries := make([]Delivery, 0, len(direct)+len(global))

	if len(direct) > 0 {
		payload, err := frame.Payload()
		if err != nil {
			return nil, err
		}
		for _, s := range direct {
			deliveries = append(deliveries, Delivery{Sub: s, Payload: payload})
		}
	}

	for _, s := range global {
		deliveries = append(deliveries, Delivery{Sub: s, Payload: json.RawMessage(raw)})
	}

	return deliveries, nil
}
