// Package messages normalises inbound wire messages into a closed set of
// envelope kinds.
//
// Three JSON shapes are accepted side by side:
//
//   - nested: {"type", "sender", "payload", "ts", "session_id", "topic"}; the
//     payload is unwrapped and re-tagged with the outer type and sender.
//   - relay: {"sender", "message"}; used by the call monitoring connection.
//   - flat: {"type", "content"|"text"|"message", "sender"|"speaker", ...}.
//
// Binary frames carry raw PCM16 audio unless they hold a structured message.
package messages

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/koscakluka/ema-live/core/audio"
)

type Kind string

const (
	KindUnknown                 Kind = "unknown"
	KindUserText                Kind = "user_text"
	KindAssistantStreamingDelta Kind = "assistant_delta"
	KindAssistantFinal          Kind = "assistant_final"
	KindToolStart               Kind = "tool_start"
	KindToolProgress            Kind = "tool_progress"
	KindToolEnd                 Kind = "tool_end"
	KindControl                 Kind = "control"
	KindAudioData               Kind = "audio_data"
	KindSttPartial              Kind = "stt_partial"
	KindSessionEnd              Kind = "session_end"
	KindLiveAgentTransfer       Kind = "live_agent_transfer"
	// KindRawAudio is an opaque binary PCM16 frame played as-is.
	KindRawAudio Kind = "raw_audio"
)

type Action string

const (
	ActionTTSCancelled Action = "tts_cancelled"
	ActionAudioStop    Action = "audio_stop"
)

// ReasonHumanHandoff ends the session for good: the conversation moved to a
// human agent and the client must not reconnect.
const ReasonHumanHandoff = "HUMAN_HANDOFF"

// Envelope is the canonical decoded form of one inbound message. Only the
// fields relevant to Kind are set.
type Envelope struct {
	Kind   Kind
	Sender string
	Text   string

	Tool *ToolInfo

	Action  Action
	Reason  string
	Trigger string
	Stage   string

	Sequence *int
	Audio    *AudioFrame

	Timestamp time.Time
	SessionID string
	Topic     string

	Raw []byte
	// Err explains why a message decoded as KindUnknown.
	Err error
}

// Terminal reports whether the envelope ends the session without
// reconnection.
func (e Envelope) Terminal() bool {
	return e.Kind == KindSessionEnd && strings.EqualFold(e.Reason, ReasonHumanHandoff)
}

type ToolInfo struct {
	Name      string
	Status    string
	Progress  float64
	Result    json.RawMessage
	Error     string
	ElapsedMs float64
}

// AudioFrame is one inbound PCM16 mono frame.
type AudioFrame struct {
	FrameIndex  int
	TotalFrames int
	SampleRate  int
	Payload     []byte
	IsFinal     bool
}

// Samples decodes the PCM16 payload into float samples.
func (f AudioFrame) Samples() []float32 {
	return audio.PCM16ToFloat32(f.Payload)
}
