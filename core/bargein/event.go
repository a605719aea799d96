package bargein

import "time"

// Action is one step taken while handling an interruption.
type Action struct {
	Name string
	Ts   time.Time
}

const (
	actionPartialSpeech = "partial_speech"
	actionClientClear   = "client_clear"
	actionTTSCancelled  = "tts_cancelled"
	actionAudioStop     = "audio_stop"
	actionServerClear   = "server_clear"
)

// Event is one logical interruption, reconciled from client-detected partial
// speech and server-confirmed cancellation.
type Event struct {
	ID      string
	Trigger string
	Stage   string
	Reason  string

	ReceivedTs    time.Time
	CancelTs      *time.Time
	AudioStopTs   *time.Time
	ClearIssuedTs *time.Time
	FinalizedTs   *time.Time

	Actions []Action

	TimeFromCancelMs      *float64
	TotalClearMs          *float64
	ClearAfterAudioStopMs *float64

	Finalized bool
	// KeepPending lets a finalized event absorb follow-up signals of the same
	// interruption.
	KeepPending bool
}

func (e *Event) record(name string, ts time.Time) {
	e.Actions = append(e.Actions, Action{Name: name, Ts: ts})
}

func (e *Event) derive() {
	if e.ClearIssuedTs != nil {
		e.TotalClearMs = ptr(ms(e.ClearIssuedTs.Sub(e.ReceivedTs)))
	}
	if e.AudioStopTs != nil && e.CancelTs != nil {
		e.TimeFromCancelMs = ptr(ms(e.AudioStopTs.Sub(*e.CancelTs)))
	}
	if e.AudioStopTs != nil && e.ClearIssuedTs != nil {
		// Negative when the client cleared ahead of the server.
		e.ClearAfterAudioStopMs = ptr(ms(e.ClearIssuedTs.Sub(*e.AudioStopTs)))
	}
}

func (e Event) clone() Event {
	e.Actions = append([]Action(nil), e.Actions...)
	return e
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func ptr[T any](v T) *T {
	return &v
}
