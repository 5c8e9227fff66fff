package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rickgao/audiopanel/internal/api"
)

// Demo service channels.
const (
	VolumeChannel  = "volume"
	AudioChannel   = "audio"
	SpotifyChannel = "spotify"
)

// Errors returned by the demo services.
var (
	ErrUnknownType  = errors.New("unknown message type")
	ErrBadSource    = errors.New("unknown audio source")
	ErrSwitching    = errors.New("source switch already in progress")
	ErrMissingField = errors.New("missing field")
	ErrNoPlaylist   = errors.New("empty playlist")
)

// Demo is the set of in-memory services served by RegisterDemo.
type Demo struct {
	Volume  *VolumeService
	Audio   *AudioService
	Spotify *SpotifyService

	mu      sync.Mutex
	running map[string]bool
}

// RegisterDemo registers in-memory volume, audio and spotify services.
// They keep state in process so a panel can be exercised without the
// real audio backends.
func RegisterDemo(h *Hub) (*Demo, error) {
	d := &Demo{
		Volume:  NewVolumeService(50),
		Audio:   NewAudioService(),
		Spotify: NewSpotifyService(DemoPlaylist()),
		running: map[string]bool{SpotifyChannel: true},
	}
	services := map[string]Service{
		VolumeChannel:  d.Volume,
		AudioChannel:   d.Audio,
		SpotifyChannel: d.Spotify,
	}
	for ch, svc := range services {
		if err := h.Register(ch, svc); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func decode(msg Message, v any) error {
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("decode %s: %w", msg.Type, err)
	}
	return nil
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}

// VolumeService holds a 0..100 volume and mirrors it onto a mixer scale.
type VolumeService struct {
	mu     sync.Mutex
	volume int
}

// MixerMax is the raw mixer value for 100% volume.
const MixerMax = 255

func NewVolumeService(initial int) *VolumeService {
	return &VolumeService{volume: clamp(initial, 0, 100)}
}

type volumeStatus struct {
	Type       string `json:"type"`
	Volume     int    `json:"volume"`
	AlsaVolume int    `json:"alsa_volume"`
}

func (s *VolumeService) Handle(_ context.Context, c *Client, msg Message) error {
	switch msg.Type {
	case "get_volume":
	case "set_volume":
		var req struct {
			Volume *int `json:"volume"`
		}
		if err := decode(msg, &req); err != nil {
			return err
		}
		if req.Volume == nil {
			return fmt.Errorf("%w: volume", ErrMissingField)
		}
		s.set(*req.Volume)
	case "adjust_volume":
		var req struct {
			Delta *int `json:"delta"`
		}
		if err := decode(msg, &req); err != nil {
			return err
		}
		if req.Delta == nil {
			return fmt.Errorf("%w: delta", ErrMissingField)
		}
		s.mu.Lock()
		s.volume = clamp(s.volume+*req.Delta, 0, 100)
		s.mu.Unlock()
	default:
		return fmt.Errorf("%w: %s", ErrUnknownType, msg.Type)
	}
	return c.Broadcast(msg.Channel, s.status())
}

// Volume returns the current volume.
func (s *VolumeService) Volume() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

func (s *VolumeService) set(v int) {
	s.mu.Lock()
	s.volume = clamp(v, 0, 100)
	s.mu.Unlock()
}

func (s *VolumeService) status() volumeStatus {
	v := s.Volume()
	return volumeStatus{
		Type:       "volume_status",
		Volume:     v,
		AlsaVolume: v * MixerMax / 100,
	}
}

// Audio sources.
const (
	SourceNone      = "none"
	SourceSpotify   = "spotify"
	SourceBluetooth = "bluetooth"
	SourceMacOS     = "macos"
)

// AudioService tracks the active source. Switching is announced with
// is_switching set before the new source is reported.
type AudioService struct {
	mu        sync.Mutex
	current   string
	switching bool
}

func NewAudioService() *AudioService {
	return &AudioService{current: SourceNone}
}

type audioState struct {
	CurrentSource string `json:"current_source"`
	IsSwitching   bool   `json:"is_switching"`
}

type audioStateChange struct {
	Type string     `json:"type"`
	Data audioState `json:"data"`
}

func (s *AudioService) Handle(_ context.Context, c *Client, msg Message) error {
	switch msg.Type {
	case "get_status":
		return c.Broadcast(msg.Channel, s.state())
	case "switch_source":
		var req struct {
			Data struct {
				Source string `json:"source"`
			} `json:"data"`
		}
		if err := decode(msg, &req); err != nil {
			return err
		}
		return s.switchTo(c, msg.Channel, req.Data.Source)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownType, msg.Type)
	}
}

// Source returns the active source.
func (s *AudioService) Source() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *AudioService) switchTo(c *Client, channel, source string) error {
	switch source {
	case SourceSpotify, SourceBluetooth, SourceMacOS:
	case "":
		return fmt.Errorf("%w: source", ErrMissingField)
	default:
		return fmt.Errorf("%w: %q", ErrBadSource, source)
	}

	s.mu.Lock()
	if s.switching {
		s.mu.Unlock()
		return ErrSwitching
	}
	if s.current == source {
		s.mu.Unlock()
		return c.Broadcast(channel, s.state())
	}
	s.switching = true
	s.mu.Unlock()

	if err := c.Broadcast(channel, s.state()); err != nil {
		return err
	}

	s.mu.Lock()
	s.current = source
	s.switching = false
	s.mu.Unlock()

	return c.Broadcast(channel, s.state())
}

func (s *AudioService) state() audioStateChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return audioStateChange{
		Type: "audio_state_change",
		Data: audioState{CurrentSource: s.current, IsSwitching: s.switching},
	}
}

// SpotifyService plays a fixed playlist. Status requests are answered
// to the asking client; playback changes go to everyone.
type SpotifyService struct {
	mu        sync.Mutex
	playlist  []api.Playback
	index     int
	playing   bool
	connected bool
}

// DemoPlaylist returns a short fixed playlist.
func DemoPlaylist() []api.Playback {
	return []api.Playback{
		{TrackName: "Teardrop", ArtistNames: []string{"Massive Attack"}, AlbumName: "Mezzanine", Duration: 330000, Volume: 70},
		{TrackName: "Glory Box", ArtistNames: []string{"Portishead"}, AlbumName: "Dummy", Duration: 306000, Volume: 70},
		{TrackName: "Roads", ArtistNames: []string{"Portishead"}, AlbumName: "Dummy", Duration: 305000, Volume: 70},
	}
}

func NewSpotifyService(playlist []api.Playback) *SpotifyService {
	return &SpotifyService{playlist: playlist, connected: true}
}

// Connected reports whether the player is up with something to play.
func (s *SpotifyService) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected && len(s.playlist) > 0
}

// SetConnected marks the player up or down. Playback stops when it goes
// down.
func (s *SpotifyService) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
	if !connected {
		s.playing = false
	}
}

func (s *SpotifyService) status() spotifyStatus {
	var st spotifyStatus
	st.Type = "spotify_status"
	st.Status.Connected = s.Connected()
	return st
}

type spotifyStatus struct {
	Type   string `json:"type"`
	Status struct {
		Connected bool `json:"connected"`
	} `json:"status"`
}

type playbackStatus struct {
	Type   string       `json:"type"`
	Status api.Playback `json:"status"`
}

func (s *SpotifyService) Handle(_ context.Context, c *Client, msg Message) error {
	switch msg.Type {
	case "get_status":
		return c.Reply(msg.Channel, s.status())
	case "get_playback_status":
		p, err := s.Playback()
		if err != nil {
			return err
		}
		return c.Reply(msg.Channel, playbackStatus{Type: "playback_status", Status: p})
	case "play_pause":
		return s.change(c, msg.Channel, func() { s.playing = !s.playing })
	case "next_track":
		return s.change(c, msg.Channel, func() { s.index = (s.index + 1) % len(s.playlist) })
	case "previous_track":
		return s.change(c, msg.Channel, func() { s.index = (s.index + len(s.playlist) - 1) % len(s.playlist) })
	default:
		return fmt.Errorf("%w: %s", ErrUnknownType, msg.Type)
	}
}

// Playback returns the current track state.
func (s *SpotifyService) Playback() (api.Playback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playbackLocked()
}

func (s *SpotifyService) playbackLocked() (api.Playback, error) {
	if len(s.playlist) == 0 {
		return api.Playback{}, ErrNoPlaylist
	}
	p := s.playlist[s.index]
	p.IsPlaying = s.playing
	return p, nil
}

func (s *SpotifyService) change(c *Client, channel string, fn func()) error {
	s.mu.Lock()
	if len(s.playlist) == 0 {
		s.mu.Unlock()
		return ErrNoPlaylist
	}
	fn()
	p, err := s.playbackLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return c.Broadcast(channel, playbackStatus{Type: "playback_status", Status: p})
}
