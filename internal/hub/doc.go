// Package hub is the backend end of the panel transport: one websocket
// endpoint carrying every service, multiplexed by the envelope's channel.
//
// Each client gets a reader goroutine that routes envelopes to the
// Service registered for their channel and a writer goroutine that owns
// the connection's write side and sends {"type":"ping"} probes. Clients
// that stop answering probes, or fall behind their send buffer, are
// dropped.
package hub
