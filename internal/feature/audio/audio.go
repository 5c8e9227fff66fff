// Package audio tracks which audio source is active and requests source
// switches over the "audio" channel.
package audio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rickgao/audiopanel/internal/feature"
)

// Channel is the transport channel this module uses.
const Channel = "audio"

// Message types.
const (
	TypeStateChange = "audio_state_change"
	TypeSwitch      = "switch_source"
	TypeGetStatus   = "get_status"
)

// SourceNone is reported before the backend has selected a source.
const SourceNone = "none"

// ErrEmptySource is returned by SwitchSource for an empty source name.
var ErrEmptySource = errors.New("empty source name")

// State is a snapshot of the audio routing state.
type State struct {
	CurrentSource string `json:"current_source"`
	IsSwitching   bool   `json:"is_switching"`
}

type stateMsg struct {
	Type string `json:"type"`
	Data *State `json:"data"`
}

type switchMsg struct {
	Type string `json:"type"`
	Data struct {
		Source string `json:"source"`
	} `json:"data"`
}

// Audio is the audio source feature module.
type Audio struct {
	bus    feature.Bus
	logger *slog.Logger

	mu    sync.Mutex
	state State

	unsubscribe func()
	stopWatch   func()
}

// New creates an Audio module on bus.
func New(bus feature.Bus, logger *slog.Logger) *Audio {
	if logger == nil {
		logger = slog.Default()
	}
	return &Audio{
		bus:    bus,
		logger: logger.With("feature", Channel),
		state:  State{CurrentSource: SourceNone},
	}
}

// Start subscribes to the channel and refreshes on every (re)connect.
func (a *Audio) Start(ctx context.Context) {
	a.unsubscribe = a.bus.Subscribe(Channel, a.handle)
	a.stopWatch = feature.OnConnect(ctx, a.bus, func() {
		if err := a.Refresh(); err != nil {
			a.logger.Warn("audio refresh failed", "error", err)
		}
	})
}

// Close unsubscribes and stops the reconnect hook.
func (a *Audio) Close() {
	if a.stopWatch != nil {
		a.stopWatch()
	}
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
}

// State returns the current snapshot.
func (a *Audio) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Refresh asks the backend for the current routing state.
func (a *Audio) Refresh() error {
	return a.bus.Publish(Channel, feature.Request{Type: TypeGetStatus})
}

// SwitchSource asks the backend to route audio from source. The switch
// is reflected in State once the backend reports it.
func (a *Audio) SwitchSource(source string) error {
	if source == "" {
		return ErrEmptySource
	}

	msg := switchMsg{Type: TypeSwitch}
	msg.Data.Source = source

	a.logger.Info("switching source", "from", a.State().CurrentSource, "to", source)
	return a.bus.Publish(Channel, msg)
}

func (a *Audio) handle(payload json.RawMessage) error {
	var msg stateMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decode audio message: %w", err)
	}
	if msg.Type != TypeStateChange {
		return nil
	}
	if msg.Data == nil {
		return fmt.Errorf("%s without data", TypeStateChange)
	}

	a.mu.Lock()
	prev := a.state
	a.state = *msg.Data
	if a.state.CurrentSource == "" {
		a.state.CurrentSource = SourceNone
	}
	a.mu.Unlock()

	if prev.CurrentSource != msg.Data.CurrentSource {
		a.logger.Info("source changed",
			"from", prev.CurrentSource,
			"to", a.State().CurrentSource,
			"switching", msg.Data.IsSwitching,
		)
	}
	return nil
}
