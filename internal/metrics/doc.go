// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Transport connection state, reconnects, and frame rates
//   - Outbound queue depth and overflow drops
//   - Decode and subscriber handler failures
//   - Hub client count and per-channel message rates
//
// All collectors live on a private registry so tests and multiple
// instances never collide on the global one.
package metrics
