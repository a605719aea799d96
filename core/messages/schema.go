package messages

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// WireMessage documents the flat inbound message shape. Decoding does not use
// it; it exists to publish the schema to server implementers.
type WireMessage struct {
	Type    string `json:"type" jsonschema:"title=Type,enum=user_text,enum=assistant_delta,enum=assistant_final,enum=tool_start,enum=tool_progress,enum=tool_end,enum=control,enum=audio_data,enum=stt_partial,enum=session_end,enum=live_agent_transfer"`
	Sender  string `json:"sender,omitempty" jsonschema:"description=Speaker of the message; speaker is accepted as an alias"`
	Content string `json:"content,omitempty" jsonschema:"description=Message text; text and message are accepted as aliases"`

	Tool      string          `json:"tool,omitempty"`
	Status    string          `json:"status,omitempty"`
	Progress  float64         `json:"progress,omitempty" jsonschema:"minimum=0,maximum=100"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	ElapsedMs float64         `json:"elapsed_ms,omitempty"`

	Action  string `json:"action,omitempty" jsonschema:"enum=tts_cancelled,enum=audio_stop"`
	Reason  string `json:"reason,omitempty" jsonschema:"description=HUMAN_HANDOFF ends the session without reconnection"`
	Trigger string `json:"trigger,omitempty"`
	Stage   string `json:"stage,omitempty"`

	Sequence int `json:"sequence,omitempty"`

	FrameIndex  int    `json:"frame_index,omitempty"`
	TotalFrames int    `json:"total_frames,omitempty"`
	SampleRate  int    `json:"sample_rate,omitempty" jsonschema:"default=16000"`
	Payload     string `json:"payload,omitempty" jsonschema:"description=Base64 encoded 16-bit little-endian mono PCM"`
	IsFinal     bool   `json:"is_final,omitempty"`

	Timestamp int64  `json:"ts,omitempty" jsonschema:"description=Epoch milliseconds"`
	SessionID string `json:"session_id,omitempty"`
	Topic     string `json:"topic,omitempty"`
}

// Schema returns the JSON schema of [WireMessage].
func Schema() ([]byte, error) {
	reflector := jsonschema.Reflector{DoNotReference: true}
	schema := reflector.Reflect(&WireMessage{})
	schema.Title = "ema-live inbound message"

	encoded, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode message schema: %w", err)
	}
	return encoded, nil
}
