package transport

import (
	"fmt"
	"runtime"

	"github.com/rickgao/audiopanel/internal/envelope"
)

// inboundFrame is a decoded frame awaiting dispatch.
type inboundFrame struct {
	gen   uint64 // Connection the frame arrived on
	raw   []byte
	frame envelope.Frame
}

// readLoop reads frames from conn until it fails.
func (t *Transport) readLoop(conn Conn, gen uint64) {
	defer t.wg.Done()

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			t.connectionLost(gen, err)
			return
		}
		t.onFrame(gen, data)
	}
}

// onFrame decodes one raw frame and queues it for dispatch. Frames from a
// connection that is no longer current are discarded; malformed frames are
// recorded and dropped.
func (t *Transport) onFrame(gen uint64, raw []byte) {
	t.mu.Lock()
	err := t.currentLocked(gen)
	t.mu.Unlock()
	if err != nil {
		t.logger.Debug("discarding frame", "gen", gen, "error", err)
		return
	}

	t.metrics.IncFramesReceived()

	frame, err := envelope.Decode(raw)
	if err != nil {
		t.mu.Lock()
		t.lastErr = err
		t.mu.Unlock()
		t.metrics.IncDecodeErrors()
		t.logger.Warn("dropping malformed frame", "error", err, "bytes", len(raw))
		return
	}

	t.inbound.Push(inboundFrame{gen: gen, raw: raw, frame: frame})
}

// dispatchLoop is the single consumer of the inbound queue. Frames pushed
// while a frame is being dispatched are picked up by the same loop.
func (t *Transport) dispatchLoop() {
	defer t.wg.Done()

	for {
		in, ok := t.inbound.Receive()
		if !ok {
			return
		}
		t.dispatch(in)
	}
}

// dispatch delivers one frame. Probes are answered without touching the
// router. Every handler runs even if an earlier one failed, and the loop
// yields after each handler.
func (t *Transport) dispatch(in inboundFrame) {
	if in.frame.IsPing() {
		t.replyPong(in.gen)
		return
	}

	deliveries, err := t.router.Plan(in.frame, in.raw)
	if err != nil {
		t.logger.Warn("dropping undeliverable frame", "error", err)
		return
	}

	for _, d := range deliveries {
		if !d.Sub.Active() {
			continue
		}
		if err := d.Sub.Invoke(d.Payload); err != nil {
			t.metrics.IncHandlerErrors(d.Sub.Channel)
			t.logger.Error("handler failed",
				"channel", d.Sub.Channel,
				"sub_id", d.Sub.ID,
				"type", in.frame.Type(),
				"error", err,
			)
		}
		// Suspension point between handlers.
		runtime.Gosched()
	}
}

// replyPong answers a liveness probe on the connection it arrived on.
func (t *Transport) replyPong(gen uint64) {
	t.mu.Lock()
	defer t.unlock()

	if err := t.currentLocked(gen); err != nil {
		t.logger.Debug("skipping pong", "gen", gen, "error", err)
		return
	}
	if err := t.writeLocked(envelope.Pong()); err != nil {
		t.lastErr = fmt.Errorf("pong: %w", err)
		t.logger.Warn("pong failed", "conn_id", t.connID, "error", err)
		t.dropConnLocked()
		t.scheduleReconnectLocked()
	}
}

// currentLocked reports ErrStaleConnection unless gen is the open connection.
func (t *Transport) currentLocked(gen uint64) error {
	if gen != t.gen || t.state != StateOpen {
		return fmt.Errorf("%w: gen %d, current %d (%s)", ErrStaleConnection, gen, t.gen, t.state)
	}
	return nil
}
