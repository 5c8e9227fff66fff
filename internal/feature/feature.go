// Package feature holds what the panel's feature modules share: the bus
// they talk through and the reconnect hook they use to refresh state.
package feature

import (
	"context"

	"github.com/rickgao/audiopanel/internal/router"
)

// Bus is the slice of the transport a feature module needs.
type Bus interface {
	Subscribe(channel string, h router.Handler) (unsubscribe func())
	Publish(channel string, payload any) error
	WatchConnected() (<-chan bool, func())
}

// Request is an outbound message carrying only a type.
type Request struct {
	Type string `json:"type"`
}

// OnConnect calls fn every time bus goes from disconnected to connected,
// including when it is already connected at call time. It stops when ctx
// ends, the watch is closed, or stop is called.
func OnConnect(ctx context.Context, bus Bus, fn func()) (stop func()) {
	updates, cancel := bus.WatchConnected()
	ctx, cancelCtx := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer cancel()

		connected := false
		for {
			select {
			case <-ctx.Done():
				return
			case up, ok := <-updates:
				if !ok {
					return
				}
				if up && !connected {
					fn()
				}
				connected = up
			}
		}
	}()

	return func() {
		cancelCtx()
		<-done
	}
}
