package turns

import (
	"fmt"
	"time"
)

type State int

const (
	StateCreated State = iota
	StateAwaitingFirstToken
	StateStreaming
	// StateFinalTextReceived marks a turn whose text is complete but which is
	// no longer the turn awaiting audio.
	StateFinalTextReceived
	StateAwaitingAudio
	StateAudioPlaying
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAwaitingFirstToken:
		return "awaiting_first_token"
	case StateStreaming:
		return "streaming"
	case StateFinalTextReceived:
		return "final_text_received"
	case StateAwaitingAudio:
		return "awaiting_audio"
	case StateAudioPlaying:
		return "audio_playing"
	case StateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Turn is one user utterance and the assistant response to it. Milestones
// are nil until reached.
type Turn struct {
	ID       int64
	State    State
	UserText string
	// Partial is true while the turn only has an interim transcript.
	Partial bool

	UserTs       time.Time
	FirstTokenTs *time.Time
	FinalTextTs  *time.Time
	AudioStartTs *time.Time
	AudioEndTs   *time.Time

	Sender      string
	AudioFrames int
	TotalFrames int

	FirstTokenLatency *time.Duration
	FinalLatency      *time.Duration
	FinalToAudio      *time.Duration
	PlaybackDuration  *time.Duration
	TotalLatency      *time.Duration
}

// Summary is the flattened metrics record of a completed turn, in
// milliseconds. Missing milestones are reported as -1.
type Summary struct {
	TurnID              int64   `json:"turn_id"`
	Sender              string  `json:"sender,omitempty"`
	FirstTokenLatencyMs float64 `json:"first_token_latency_ms"`
	FinalLatencyMs      float64 `json:"final_latency_ms"`
	FinalToAudioMs      float64 `json:"final_to_audio_ms"`
	PlaybackDurationMs  float64 `json:"playback_duration_ms"`
	TotalLatencyMs      float64 `json:"total_latency_ms"`
	AudioFrames         int     `json:"audio_frames"`
	TotalFrames         int     `json:"total_frames"`
	SessionFirstTokenMs float64 `json:"session_first_token_ms"`
}

func (t Turn) summary(sessionFirstToken *time.Duration) Summary {
	return Summary{
		TurnID:              t.ID,
		Sender:              t.Sender,
		FirstTokenLatencyMs: millis(t.FirstTokenLatency),
		FinalLatencyMs:      millis(t.FinalLatency),
		FinalToAudioMs:      millis(t.FinalToAudio),
		PlaybackDurationMs:  millis(t.PlaybackDuration),
		TotalLatencyMs:      millis(t.TotalLatency),
		AudioFrames:         t.AudioFrames,
		TotalFrames:         t.TotalFrames,
		SessionFirstTokenMs: millis(sessionFirstToken),
	}
}

func millis(d *time.Duration) float64 {
	if d == nil {
		return -1
	}
	return float64(*d) / float64(time.Millisecond)
}

func ptr[T any](v T) *T {
	return &v
}
