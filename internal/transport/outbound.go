package transport

import (
	"fmt"
)

// send writes data if the connection is open and queues it otherwise.
func (t *Transport) send(data []byte) error {
	t.mu.Lock()
	defer t.unlock()

	switch t.state {
	case StateShutdown:
		return ErrClosed

	case StateOpen:
		if err := t.writeLocked(data); err != nil {
			t.lastErr = fmt.Errorf("send: %w", err)
			t.logger.Warn("send failed, requeueing", "conn_id", t.connID, "error", err)
			t.enqueueLocked(data)
			t.dropConnLocked()
			t.scheduleReconnectLocked()
		}
		return nil
	}

	t.enqueueLocked(data)
	t.logger.Debug("not connected, message queued", "pending", t.outbound.Len())

	if t.state != StateConnecting {
		t.connectAsyncLocked()
	}
	return nil
}

// writeLocked writes one frame to the current connection.
func (t *Transport) writeLocked(data []byte) error {
	if t.conn == nil {
		return ErrClosed
	}
	if err := t.conn.WriteMessage(data); err != nil {
		return err
	}
	t.metrics.IncFramesSent()
	return nil
}

func (t *Transport) enqueueLocked(data []byte) {
	t.outbound.Push(data)
	t.metrics.SetOutboundPending(t.outbound.Len())
}

// flushLocked drains the outbound queue in order onto the freshly opened
// connection. On a write failure the unsent remainder goes back to the
// head of the queue, the connection is dropped, and false is returned.
func (t *Transport) flushLocked() bool {
	pending := t.outbound.DrainTo(0)
	if len(pending) > 0 {
		t.logger.Info("flushing queued messages", "count", len(pending))
	}

	for i, data := range pending {
		if err := t.writeLocked(data); err != nil {
			t.outbound.Prepend(pending[i:]...)
			t.metrics.SetOutboundPending(t.outbound.Len())
			t.lastErr = fmt.Errorf("flush: %w", err)
			t.logger.Warn("flush failed",
				"sent", i,
				"remaining", len(pending)-i,
				"error", err,
			)
			t.dropConnLocked()
			t.scheduleReconnectLocked()
			return false
		}
	}

	t.metrics.SetOutboundPending(0)
	return true
}

// onOutboundEvict runs under the queue lock when MaxPending overflows.
func (t *Transport) onOutboundEvict(data []byte) {
	t.metrics.IncOutboundDropped()
	t.logger.Warn("outbound queue full, dropping oldest message",
		"max_pending", t.cfg.MaxPending,
		"bytes", len(data),
	)
}
