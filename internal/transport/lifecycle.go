package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// newBackoff builds the reconnect delay policy: attempt n (counting from
// one) waits min(base * growth^n, max), with no jitter and no overall
// deadline.
func newBackoff(cfg Config) *backoff.ExponentialBackOff {
	first := time.Duration(float64(cfg.BackoffBase) * cfg.BackoffGrowth)
	if first > cfg.BackoffMax {
		first = cfg.BackoffMax
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = first
	b.MaxInterval = cfg.BackoffMax
	b.Multiplier = cfg.BackoffGrowth
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Connect opens the connection. It returns true at once if already open
// and false at once if another attempt is in flight. Otherwise it dials,
// bounded by ConnectTimeout, and reports whether the connection opened.
// A failed attempt schedules a reconnect; it is never returned as an error.
func (t *Transport) Connect(ctx context.Context) bool {
	t.mu.Lock()
	switch t.state {
	case StateOpen:
		t.mu.Unlock()
		return true
	case StateConnecting, StateShutdown:
		t.mu.Unlock()
		return false
	}

	// An explicit attempt supersedes any scheduled one.
	t.cancelReconnectLocked()
	t.disposeLocked()
	if !t.setStateLocked(StateConnecting) {
		t.unlock()
		return false
	}
	t.gen++
	gen := t.gen
	t.unlock()

	// Wait out any close still in flight.
	t.closeMu.Lock()
	t.closeMu.Unlock()

	dialCtx, cancel := context.WithTimeout(t.ctx, t.cfg.ConnectTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	t.logger.Debug("connecting", "url", t.cfg.URL)
	conn, err := t.dialer.Dial(dialCtx, t.cfg.URL)

	t.mu.Lock()
	defer t.unlock()

	if gen != t.gen || t.state != StateConnecting {
		// Superseded (Close ran while dialing).
		if conn != nil {
			t.retired = append(t.retired, conn)
		}
		return false
	}

	if err != nil {
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", ErrConnectTimeout, err)
		}
		t.lastErr = fmt.Errorf("dial %s: %w", t.cfg.URL, err)
		t.logger.Warn("connect failed",
			"url", t.cfg.URL,
			"attempt", t.attempt,
			"error", err,
		)
		t.setStateLocked(StateClosed)
		t.scheduleReconnectLocked()
		return false
	}

	t.openLocked(conn, gen)
	return t.state == StateOpen
}

// openLocked installs a freshly dialed connection, resets the reconnect
// state, flushes pending envelopes, and starts the reader.
func (t *Transport) openLocked(conn Conn, gen uint64) {
	t.conn = conn
	t.connID = uuid.New()
	t.attempt = 0
	t.lastDelay = 0
	t.backoff.Reset()
	t.setStateLocked(StateOpen)

	t.logger.Info("connected",
		"url", t.cfg.URL,
		"conn_id", t.connID,
		"pending", t.outbound.Len(),
	)

	if !t.flushLocked() {
		return
	}

	t.setConnectedLocked(true)

	t.wg.Add(1)
	go t.readLoop(conn, gen)
}

// unlock releases t.mu and then closes the connections retired while it
// was held, so a slow close handshake never blocks other callers. Connect
// waits on closeMu so the old socket is closed before a new dial.
func (t *Transport) unlock() {
	retired := t.retired
	t.retired = nil
	if len(retired) == 0 {
		t.mu.Unlock()
		return
	}

	t.closeMu.Lock()
	t.mu.Unlock()
	defer t.closeMu.Unlock()

	for _, c := range retired {
		if err := c.Close(); err != nil {
			t.logger.Debug("close retired connection", "error", err)
		}
	}
}

// connectAsyncLocked starts a background Connect. Must be called with t.mu
// held and the transport not shut down.
func (t *Transport) connectAsyncLocked() {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.Connect(t.ctx)
	}()
}

// connectionLost handles a read failure on connection gen.
func (t *Transport) connectionLost(gen uint64, err error) {
	t.mu.Lock()
	defer t.unlock()

	if gen != t.gen || t.state != StateOpen {
		return
	}

	t.lastErr = fmt.Errorf("read: %w", err)
	t.logger.Warn("connection lost", "conn_id", t.connID, "error", err)
	t.dropConnLocked()
	t.scheduleReconnectLocked()
}

// dropConnLocked closes the current open connection and detaches it so
// its reader can no longer deliver frames.
func (t *Transport) dropConnLocked() {
	if !t.setStateLocked(StateClosing) {
		return
	}
	t.disposeLocked()
	t.setStateLocked(StateClosed)
}

// disposeLocked detaches the current connection, if any. The socket is
// closed by unlock once t.mu is released.
func (t *Transport) disposeLocked() {
	if t.conn == nil {
		return
	}
	t.retired = append(t.retired, t.conn)
	t.conn = nil
	t.gen++
	t.setConnectedLocked(false)
}

// scheduleReconnectLocked arms the next reconnect. Once MaxAttempts
// reconnects have been scheduled without an open, it waits Cooldown,
// resets the attempt counter, and starts over.
func (t *Transport) scheduleReconnectLocked() {
	if t.state == StateShutdown {
		return
	}
	t.cancelReconnectLocked()

	if t.attempt >= t.cfg.MaxAttempts {
		if !t.setStateLocked(StateBackoffExhausted) {
			return
		}
		t.lastDelay = t.cfg.Cooldown
		t.logger.Warn("reconnect attempts exhausted, cooling down",
			"attempts", t.attempt,
			"cooldown", t.cfg.Cooldown,
		)
		t.armTimerLocked(t.cfg.Cooldown, t.cooldownElapsed)
		return
	}

	if !t.setStateLocked(StateIdle) {
		return
	}
	delay := t.backoff.NextBackOff()
	t.attempt++
	t.lastDelay = delay
	t.metrics.IncReconnects()

	t.logger.Info("reconnect scheduled",
		"attempt", t.attempt,
		"max_attempts", t.cfg.MaxAttempts,
		"delay", delay,
	)
	t.armTimerLocked(delay, t.reconnectDue)
}

// armTimerLocked schedules fn. Only the most recently armed timer fires.
func (t *Transport) armTimerLocked(d time.Duration, fn func(seq uint64)) {
	t.timerSeq++
	seq := t.timerSeq
	t.stopTimer = t.afterFunc(d, func() { fn(seq) })
}

// cancelReconnectLocked stops any pending reconnect or cooldown timer.
func (t *Transport) cancelReconnectLocked() {
	if t.stopTimer != nil {
		t.stopTimer()
		t.stopTimer = nil
	}
	t.timerSeq++
}

func (t *Transport) reconnectDue(seq uint64) {
	t.mu.Lock()
	if seq != t.timerSeq {
		t.mu.Unlock()
		return
	}
	t.stopTimer = nil
	t.mu.Unlock()

	t.Connect(t.ctx)
}

func (t *Transport) cooldownElapsed(seq uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if seq != t.timerSeq || t.state != StateBackoffExhausted {
		return
	}
	t.stopTimer = nil
	t.attempt = 0
	t.backoff.Reset()
	t.logger.Info("reconnect cooldown elapsed")
	t.scheduleReconnectLocked()
}
