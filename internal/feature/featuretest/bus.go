// Package featuretest provides an in-memory Bus for feature module tests.
package featuretest

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rickgao/audiopanel/internal/envelope"
	"github.com/rickgao/audiopanel/internal/router"
)

// Bus records published envelopes and delivers injected payloads to
// subscribers synchronously.
type Bus struct {
	mu        sync.Mutex
	router    *router.Router
	published []string
	watchers  []chan bool
	connected bool
}

// NewBus creates a disconnected Bus.
func NewBus() *Bus {
	return &Bus{router: router.New()}
}

func (b *Bus) Subscribe(channel string, h router.Handler) func() {
	sub := b.router.Add(channel, h)
	return func() { b.router.Remove(sub) }
}

// Publish encodes the envelope exactly as the transport would and records it.
func (b *Bus) Publish(channel string, payload any) error {
	data, err := envelope.Encode(channel, payload)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.published = append(b.published, string(data))
	b.mu.Unlock()
	return nil
}

func (b *Bus) WatchConnected() (<-chan bool, func()) {
	ch := make(chan bool, 16)
	b.mu.Lock()
	ch <- b.connected
	b.watchers = append(b.watchers, ch)
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, w := range b.watchers {
				if w == ch {
					b.watchers = append(b.watchers[:i], b.watchers[i+1:]...)
					close(ch)
					return
				}
			}
		})
	}
}

// SetConnected notifies watchers of a connectivity change.
func (b *Bus) SetConnected(connected bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = connected
	for _, w := range b.watchers {
		w <- connected
	}
}

// Inject delivers a raw wire frame to matching subscribers and returns
// the first handler error.
func (b *Bus) Inject(raw string) error {
	frame, err := envelope.Decode([]byte(raw))
	if err != nil {
		return err
	}
	deliveries, err := b.router.Plan(frame, []byte(raw))
	if err != nil {
		return err
	}
	var first error
	for _, d := range deliveries {
		if err := d.Sub.Invoke(d.Payload); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Published returns every envelope published so far.
func (b *Bus) Published() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.published))
	copy(out, b.published)
	return out
}

// PublishedTypes returns the "type" field of every published envelope.
func (b *Bus) PublishedTypes() []string {
	var types []string
	for _, p := range b.Published() {
		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal([]byte(p), &msg); err != nil {
			panic(fmt.Sprintf("published non-json envelope %q", p))
		}
		types = append(types, msg.Type)
	}
	return types
}

// Reset forgets recorded envelopes.
func (b *Bus) Reset() {
	b.mu.Lock()
	b.published = nil
	b.mu.Unlock()
}

// Subscriptions returns the number of live subscriptions.
func (b *Bus) Subscriptions() int {
	return b.router.Count()
}
