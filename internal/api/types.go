package api

import "errors"

// Errors
var (
	ErrEmptyService   = errors.New("empty service name")
	ErrInvalidBaseURL = errors.New("invalid base url")
)

// ServiceStatus from GET /api/<service>/status
type ServiceStatus struct {
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
}

// ActionResponse from POST /api/<service>/start and /stop
type ActionResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Playback from GET /api/spotify/playback
type Playback struct {
	TrackName     string   `json:"track_name"`
	ArtistNames   []string `json:"artist_names"`
	AlbumName     string   `json:"album_name"`
	AlbumCoverURL string   `json:"album_cover_url"`
	Duration      int64    `json:"duration"` // Milliseconds
	Position      int64    `json:"position"` // Milliseconds
	IsPlaying     bool     `json:"is_playing"`
	Volume        int      `json:"volume"`
}
