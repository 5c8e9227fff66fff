// Package api provides the client for the audio backend's REST control API.
//
// Endpoints, one set per service (spotify, bluetooth, snapcast, ...):
//   - GET  /api/<service>/status
//   - POST /api/<service>/start
//   - POST /api/<service>/stop
//   - GET  /api/spotify/playback
//
// Live state flows over the websocket transport; this client covers the
// request/response operations and priming state at startup.
package api
