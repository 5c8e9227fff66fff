// Package spotify mirrors the Spotify player's connection and playback
// state and sends transport commands over the "spotify" channel.
package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/audiopanel/internal/api"
	"github.com/rickgao/audiopanel/internal/feature"
)

// Channel is the transport channel and REST service name this module uses.
const Channel = "spotify"

// Message types.
const (
	TypeStatus            = "spotify_status"
	TypePlayback          = "playback_status"
	TypeGetStatus         = "get_status"
	TypeGetPlaybackStatus = "get_playback_status"
	TypePlayPause         = "play_pause"
	TypeNextTrack         = "next_track"
	TypePreviousTrack     = "previous_track"
)

// StatusAPI is the REST surface used to prime state before the first
// websocket update arrives. *api.Client satisfies it.
type StatusAPI interface {
	GetStatus(ctx context.Context, service string) (*api.ServiceStatus, error)
	GetPlayback(ctx context.Context) (*api.Playback, error)
}

// State is a snapshot of the player.
type State struct {
	Connected bool
	Playback  api.Playback
	UpdatedAt time.Time
}

// Active reports whether a track is loaded.
func (s State) Active() bool {
	return s.Playback.TrackName != ""
}

// Position estimates the playback position at now, in milliseconds.
// While playing it advances from the last reported position and stops
// at the track duration.
func (s State) Position(now time.Time) int64 {
	pos := s.Playback.Position
	if s.Playback.IsPlaying && !s.UpdatedAt.IsZero() {
		pos += now.Sub(s.UpdatedAt).Milliseconds()
	}
	if s.Playback.Duration > 0 && pos > s.Playback.Duration {
		pos = s.Playback.Duration
	}
	if pos < 0 {
		pos = 0
	}
	return pos
}

type message struct {
	Type   string          `json:"type"`
	Status json.RawMessage `json:"status"`
}

type connStatus struct {
	Connected bool `json:"connected"`
}

// Option configures a Spotify module.
type Option func(*Spotify)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Spotify) {
		s.logger = logger
	}
}

// WithAPI primes state from the REST API on Start.
func WithAPI(c StatusAPI) Option {
	return func(s *Spotify) {
		s.api = c
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Spotify) {
		s.now = now
	}
}

// Spotify is the Spotify feature module.
type Spotify struct {
	bus    feature.Bus
	api    StatusAPI
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	state State

	unsubscribe func()
	stopWatch   func()
}

// New creates a Spotify module on bus.
func New(bus feature.Bus, opts ...Option) *Spotify {
	s := &Spotify{
		bus:    bus,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("feature", Channel)
	return s
}

// Start subscribes to the channel, primes state from the REST API when
// one is configured and asks for the current status. The status request
// is repeated on every reconnect.
func (s *Spotify) Start(ctx context.Context) {
	s.unsubscribe = s.bus.Subscribe(Channel, s.handle)

	if s.api != nil {
		s.prime(ctx)
	}

	s.stopWatch = feature.OnConnect(ctx, s.bus, func() {
		if err := s.Refresh(); err != nil {
			s.logger.Warn("spotify refresh failed", "error", err)
		}
	})
}

// Close unsubscribes and stops the reconnect hook.
func (s *Spotify) Close() {
	if s.stopWatch != nil {
		s.stopWatch()
	}
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// State returns the current snapshot.
func (s *Spotify) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Position estimates the current playback position in milliseconds.
func (s *Spotify) Position() int64 {
	return s.State().Position(s.now())
}

// Refresh asks the backend for the player's connection status.
func (s *Spotify) Refresh() error {
	return s.send(TypeGetStatus)
}

// RequestPlayback asks the backend for the current playback state.
func (s *Spotify) RequestPlayback() error {
	return s.send(TypeGetPlaybackStatus)
}

func (s *Spotify) PlayPause() error { return s.send(TypePlayPause) }
func (s *Spotify) Next() error      { return s.send(TypeNextTrack) }
func (s *Spotify) Previous() error  { return s.send(TypePreviousTrack) }

func (s *Spotify) send(msgType string) error {
	return s.bus.Publish(Channel, feature.Request{Type: msgType})
}

// prime fills state from the REST API. Failures keep the current state.
func (s *Spotify) prime(ctx context.Context) {
	status, err := s.api.GetStatus(ctx, Channel)
	if err != nil {
		s.logger.Warn("prime spotify status", "error", err)
	} else {
		s.mu.Lock()
		s.state.Connected = status.Connected
		s.mu.Unlock()
	}

	playback, err := s.api.GetPlayback(ctx)
	if err != nil {
		s.logger.Warn("prime spotify playback", "error", err)
		return
	}
	s.setPlayback(*playback)
}

func (s *Spotify) handle(payload json.RawMessage) error {
	var msg message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decode spotify message: %w", err)
	}

	switch msg.Type {
	case TypeStatus:
		var status connStatus
		if err := json.Unmarshal(msg.Status, &status); err != nil {
			return fmt.Errorf("decode %s: %w", TypeStatus, err)
		}

		s.mu.Lock()
		changed := s.state.Connected != status.Connected
		s.state.Connected = status.Connected
		s.mu.Unlock()

		if changed {
			s.logger.Info("spotify connection changed", "connected", status.Connected)
		}
		if status.Connected {
			return s.RequestPlayback()
		}

	case TypePlayback:
		if len(msg.Status) == 0 || string(msg.Status) == "null" {
			return nil
		}
		var playback api.Playback
		if err := json.Unmarshal(msg.Status, &playback); err != nil {
			return fmt.Errorf("decode %s: %w", TypePlayback, err)
		}
		s.setPlayback(playback)
	}
	return nil
}

func (s *Spotify) setPlayback(p api.Playback) {
	if p.ArtistNames == nil {
		p.ArtistNames = []string{}
	}

	s.mu.Lock()
	prev := s.state.Playback.TrackName
	s.state.Playback = p
	s.state.UpdatedAt = s.now()
	s.mu.Unlock()

	if p.TrackName != prev {
		s.logger.Debug("track changed", "track", p.TrackName, "playing", p.IsPlaying)
	}
}
