package transport

// State is the connection lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
	StateBackoffExhausted
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateBackoffExhausted:
		return "backoff_exhausted"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

var transitions = map[State][]State{
	StateIdle:             {StateConnecting, StateShutdown},
	StateConnecting:       {StateOpen, StateClosed, StateShutdown},
	StateOpen:             {StateClosing, StateShutdown},
	StateClosing:          {StateClosed, StateShutdown},
	StateClosed:           {StateIdle, StateBackoffExhausted, StateConnecting, StateShutdown},
	StateBackoffExhausted: {StateIdle, StateConnecting, StateShutdown},
}

// canTransition reports whether s may move to next.
func (s State) canTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// setStateLocked is the only place the lifecycle state changes. Must be
// called with t.mu held.
func (t *Transport) setStateLocked(next State) bool {
	if !t.state.canTransition(next) {
		t.logger.Error("invalid state transition",
			"from", t.state,
			"to", next,
		)
		return false
	}

	t.logger.Debug("state transition", "from", t.state, "to", next)
	t.state = next
	t.metrics.SetState(int(next))
	return true
}
