// Package poller implements the service status poller.
//
// The poller:
//   - Polls GET /api/<service>/status for each configured backend service
//   - Runs on a fixed interval, once immediately on Start
//   - Bounds concurrent requests
//   - Hands every result to a StatusHandler (the panel feeds them to the
//     last-known state writer)
package poller
