// Package volume tracks the system volume over the "volume" channel and
// sends adjustments.
package volume

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/audiopanel/internal/feature"
)

// Channel is the transport channel this module uses.
const Channel = "volume"

// Step is the delta applied by Increase and Decrease.
const Step = 2

// Message types.
const (
	TypeStatus = "volume_status"
	TypeGet    = "get_volume"
	TypeAdjust = "adjust_volume"
)

// ErrAdjusting is returned when an adjustment is already in flight.
var ErrAdjusting = errors.New("volume adjustment in progress")

// State is a snapshot of the tracked volume.
type State struct {
	Volume     int
	AlsaVolume int
	Adjusting  bool
}

type statusMsg struct {
	Type       string `json:"type"`
	Volume     int    `json:"volume"`
	AlsaVolume int    `json:"alsa_volume"`
}

type adjustMsg struct {
	Type  string `json:"type"`
	Delta int    `json:"delta"`
}

// Volume is the volume feature module.
type Volume struct {
	bus    feature.Bus
	logger *slog.Logger
	settle time.Duration

	mu    sync.Mutex
	state State

	unsubscribe func()
	stopWatch   func()
}

// Option configures a Volume.
type Option func(*Volume)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Volume) {
		v.logger = logger
	}
}

// WithSettle sets how long Adjust waits between sending the adjustment
// and asking for the resulting volume.
func WithSettle(d time.Duration) Option {
	return func(v *Volume) {
		v.settle = d
	}
}

// New creates a Volume module on bus.
func New(bus feature.Bus, opts ...Option) *Volume {
	v := &Volume{
		bus:    bus,
		logger: slog.Default(),
		settle: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.logger == nil {
		v.logger = slog.Default()
	}
	v.logger = v.logger.With("feature", Channel)
	return v
}

// Start subscribes to the channel and refreshes on every (re)connect.
func (v *Volume) Start(ctx context.Context) {
	v.unsubscribe = v.bus.Subscribe(Channel, v.handle)
	v.stopWatch = feature.OnConnect(ctx, v.bus, func() {
		if err := v.Refresh(); err != nil {
			v.logger.Warn("volume refresh failed", "error", err)
		}
	})
}

// Close unsubscribes and stops the reconnect hook.
func (v *Volume) Close() {
	if v.stopWatch != nil {
		v.stopWatch()
	}
	if v.unsubscribe != nil {
		v.unsubscribe()
	}
}

// State returns the current snapshot.
func (v *Volume) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Refresh asks the backend for the current volume.
func (v *Volume) Refresh() error {
	return v.bus.Publish(Channel, feature.Request{Type: TypeGet})
}

// Increase raises the volume by Step.
func (v *Volume) Increase(ctx context.Context) error {
	return v.Adjust(ctx, Step)
}

// Decrease lowers the volume by Step.
func (v *Volume) Decrease(ctx context.Context) error {
	return v.Adjust(ctx, -Step)
}

// Adjust applies delta locally (clamped to 0..100), sends it, waits for
// the backend to settle, and asks for the resulting volume. Status updates
// arriving meanwhile are ignored. Only one adjustment runs at a time.
func (v *Volume) Adjust(ctx context.Context, delta int) error {
	v.mu.Lock()
	if v.state.Adjusting {
		v.mu.Unlock()
		return ErrAdjusting
	}
	v.state.Adjusting = true
	v.state.Volume = clamp(v.state.Volume + delta)
	target := v.state.Volume
	v.mu.Unlock()

	defer func() {
		v.mu.Lock()
		v.state.Adjusting = false
		v.mu.Unlock()
	}()

	v.logger.Debug("adjusting volume", "delta", delta, "target", target)

	if err := v.bus.Publish(Channel, adjustMsg{Type: TypeAdjust, Delta: delta}); err != nil {
		return fmt.Errorf("send adjustment: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(v.settle):
	}

	return v.Refresh()
}

func (v *Volume) handle(payload json.RawMessage) error {
	var msg statusMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decode volume message: %w", err)
	}
	if msg.Type != TypeStatus {
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state.Adjusting {
		return nil
	}
	v.state.Volume = clamp(msg.Volume)
	v.state.AlsaVolume = msg.AlsaVolume
	return nil
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}
