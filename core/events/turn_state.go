package events

import "github.com/koscakluka/ema-live/core/turns"

// KindTurnCompleted identifies turn completion.
const KindTurnCompleted Kind = "turn_state.completed"

// TurnCompleted carries the latency summary of a completed turn.
type TurnCompleted struct {
	Base
	Summary turns.Summary
}

// NewTurnCompleted creates a turn completed event.
func NewTurnCompleted(summary turns.Summary) TurnCompleted {
	return TurnCompleted{Base: NewBase(KindTurnCompleted), Summary: summary}
}
