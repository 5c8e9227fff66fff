// Package transport implements the panel's multiplexed reconnecting
// transport.
//
// One Transport owns one physical websocket connection to the backend and
// shares it between independent feature modules:
//   - Lifecycle: connect with a 5s timeout, reconnect with exponential
//     backoff (1s base, x1.5, 30s cap), 60s cooldown after 10 attempts
//   - Routing: Subscribe(channel, handler) / Publish(channel, payload)
//   - Outbound queue: envelopes published while offline are flushed in
//     order on the next open
//   - Inbound dispatch: a single goroutine delivers frames one at a time,
//     yielding between handlers; failing handlers are logged and skipped
//   - Keep-alive: {"type":"ping"} frames are answered with {"type":"pong"}
//
// Network failures never surface to callers; connectivity is observable
// through IsConnected and WatchConnected.
package transport
