package session

import (
	"fmt"
	"slices"
	"time"
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
	StateReconnecting
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
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var transitions = map[State][]State{
	StateIdle:         {StateConnecting},
	StateConnecting:   {StateOpen, StateReconnecting, StateClosing, StateClosed},
	StateOpen:         {StateClosing, StateReconnecting, StateClosed},
	StateClosing:      {StateClosed},
	StateReconnecting: {StateConnecting, StateClosed},
	StateClosed:       {StateConnecting},
}

// CanTransition reports whether the session may move from one state to
// another.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

const (
	reconnectBaseDelay = 250 * time.Millisecond
	reconnectMaxDelay  = 5 * time.Second
)

// ReconnectDelay is the backoff before reconnect attempt n (1-indexed):
// min(5s, 250ms * 2^(n-1)).
func ReconnectDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := reconnectBaseDelay
	for i := 1; i < attempt && delay < reconnectMaxDelay; i++ {
		delay *= 2
	}
	return min(delay, reconnectMaxDelay)
}
