package messages

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/koscakluka/ema-live/core/audio"
)

var (
	ErrMalformed    = errors.New("malformed message")
	ErrUnrecognised = errors.New("unrecognised message shape")
)

var typeAliases = map[string]Kind{
	"user_text":       KindUserText,
	"user":            KindUserText,
	"user_transcript": KindUserText,
	"transcript":      KindUserText,
	"stt_final":       KindUserText,

	"assistant_delta":     KindAssistantStreamingDelta,
	"assistant_streaming": KindAssistantStreamingDelta,
	"assistant_stream":    KindAssistantStreamingDelta,
	"stream":              KindAssistantStreamingDelta,
	"delta":               KindAssistantStreamingDelta,

	"assistant_final":   KindAssistantFinal,
	"assistant":         KindAssistantFinal,
	"assistant_message": KindAssistantFinal,
	"response":          KindAssistantFinal,

	"tool_start":      KindToolStart,
	"tool_started":    KindToolStart,
	"tool_call_start": KindToolStart,
	"tool_progress":   KindToolProgress,
	"tool_end":        KindToolEnd,
	"tool_result":     KindToolEnd,
	"tool_completed":  KindToolEnd,
	"tool_call_end":   KindToolEnd,

	"control": KindControl,

	"audio_data":  KindAudioData,
	"audio":       KindAudioData,
	"audio_chunk": KindAudioData,

	"stt_partial":        KindSttPartial,
	"partial_transcript": KindSttPartial,
	"interim":            KindSttPartial,

	"session_end":   KindSessionEnd,
	"session_ended": KindSessionEnd,
	"end_session":   KindSessionEnd,

	"live_agent_transfer": KindLiveAgentTransfer,
	"human_transfer":      KindLiveAgentTransfer,
	"transfer":            KindLiveAgentTransfer,
}

var userSenders = map[string]bool{
	"user":     true,
	"customer": true,
	"caller":   true,
	"human":    true,
	"client":   true,
}

// Decode parses one text frame. It never fails: malformed or unrecognised
// input yields a KindUnknown envelope with Err set.
func Decode(raw []byte) Envelope {
	envelope := decode(raw)
	if envelope.Kind == KindUnknown {
		logger.Warn("skipping unrecognised message",
			"error", envelope.Err,
			"bytes", len(raw),
		)
	}
	return envelope
}

// DecodeBinary parses one binary frame. A frame holding a structured message
// is decoded like a text frame; anything else is raw PCM16 audio at the
// default sample rate.
func DecodeBinary(raw []byte) Envelope {
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '{' {
		if envelope := decode(trimmed); envelope.Kind != KindUnknown {
			return envelope
		}
	}

	return Envelope{
		Kind: KindRawAudio,
		Audio: &AudioFrame{
			FrameIndex: -1,
			SampleRate: audio.DefaultSampleRate,
			Payload:    raw,
		},
		Raw: raw,
	}
}

func decode(raw []byte) Envelope {
	var root fields
	if err := json.Unmarshal(raw, &root); err != nil {
		return Envelope{Kind: KindUnknown, Raw: raw, Err: fmt.Errorf("%w: %w", ErrMalformed, err)}
	}

	envelope := Envelope{Raw: raw}
	msg := root
	if isNested(root) {
		envelope.Timestamp = root.timestamp("ts", "timestamp")
		envelope.SessionID = root.str("session_id")
		envelope.Topic = root.str("topic")

		inner, err := root.unwrapPayload()
		if err != nil {
			envelope.Kind = KindUnknown
			envelope.Err = fmt.Errorf("%w: payload: %w", ErrMalformed, err)
			return envelope
		}
		if typ := root.str("type"); typ != "" {
			inner.set("type", typ)
		}
		if sender := root.str("sender"); sender != "" {
			inner.set("sender", sender)
		}
		msg = inner
	} else if isRelay(root) {
		msg = fields{
			"sender": root["sender"],
			"text":   root["message"],
		}
		envelope.Timestamp = root.timestamp("ts", "timestamp")
	} else {
		envelope.Timestamp = root.timestamp("ts", "timestamp")
		envelope.SessionID = root.str("session_id")
		envelope.Topic = root.str("topic")
	}

	applyFlat(&envelope, msg)
	return envelope
}

func isNested(root fields) bool {
	payload, ok := root["payload"]
	if !ok || (!root.has("type") && !root.has("sender")) {
		return false
	}

	switch firstByte(payload) {
	case '{':
		return true
	case '"':
		if root.has("frame_index") || typeAliases[normaliseType(root.str("type"))] == KindAudioData {
			return false
		}
		return root.has("ts") || root.has("session_id") || root.has("topic")
	}
	return false
}

func isRelay(root fields) bool {
	return root.has("sender") && root.has("message") && !root.has("type")
}

func applyFlat(envelope *Envelope, msg fields) {
	envelope.Sender = msg.str("sender", "speaker", "role")
	envelope.Text = msg.str("text", "content", "message", "transcript", "delta")

	kind, action := classify(msg, envelope.Sender, envelope.Text)
	envelope.Kind = kind

	switch kind {
	case KindUserText:
		if envelope.Sender == "" {
			envelope.Sender = "user"
		}
	case KindAssistantStreamingDelta, KindAssistantFinal:
		if envelope.Sender == "" {
			envelope.Sender = "assistant"
		}
	case KindToolStart, KindToolProgress, KindToolEnd:
		envelope.Tool = decodeTool(msg, kind)
	case KindControl:
		envelope.Action = action
		envelope.Reason = msg.str("reason")
		envelope.Trigger = msg.str("trigger")
		envelope.Stage = msg.str("stage")
	case KindSttPartial:
		envelope.Trigger = msg.str("trigger")
		if sequence, ok := msg.integer("sequence", "seq"); ok {
			envelope.Sequence = &sequence
		}
	case KindSessionEnd, KindLiveAgentTransfer:
		envelope.Reason = msg.str("reason")
		if envelope.Reason == "" && kind == KindSessionEnd {
			envelope.Reason = envelope.Text
		}
	case KindAudioData:
		frame, err := decodeAudio(msg)
		if err != nil {
			envelope.Kind = KindUnknown
			envelope.Err = err
			return
		}
		envelope.Audio = frame
	case KindUnknown:
		envelope.Err = ErrUnrecognised
	}
}

func classify(msg fields, sender, text string) (Kind, Action) {
	typ := normaliseType(msg.str("type", "event"))

	switch Action(typ) {
	case ActionTTSCancelled, ActionAudioStop:
		return KindControl, Action(typ)
	}

	if kind, ok := typeAliases[typ]; ok {
		switch kind {
		case KindControl:
			return kind, Action(normaliseType(msg.str("action")))
		case KindAssistantFinal:
			if msg.isTrue("streaming", "partial", "is_partial") {
				return KindAssistantStreamingDelta, ""
			}
		case KindUserText:
			if msg.isTrue("partial", "is_partial") {
				return KindSttPartial, ""
			}
		}
		return kind, ""
	}

	// An unlisted type is still a chat line when it names who said it.
	switch {
	case typ != "" && typ != "message" && typ != "text" && typ != "chat" && sender == "":
		return KindUnknown, ""
	case msg.has("action"):
		return KindControl, Action(normaliseType(msg.str("action")))
	case msg.has("frame_index"):
		return KindAudioData, ""
	case text == "":
		return KindUnknown, ""
	case userSenders[strings.ToLower(sender)]:
		if msg.isTrue("partial", "is_partial") {
			return KindSttPartial, ""
		}
		return KindUserText, ""
	case msg.isTrue("streaming", "partial", "is_partial"):
		return KindAssistantStreamingDelta, ""
	default:
		return KindAssistantFinal, ""
	}
}

func normaliseType(typ string) string {
	typ = strings.ToLower(strings.TrimSpace(typ))
	return strings.NewReplacer(".", "_", "-", "_", " ", "_").Replace(typ)
}

func decodeTool(msg fields, kind Kind) *ToolInfo {
	tool := &ToolInfo{
		Name:   msg.str("tool", "tool_name", "name"),
		Status: msg.str("status"),
		Error:  msg.str("error"),
	}

	if toolRaw, ok := msg["tool"]; ok && firstByte(toolRaw) == '{' {
		var nested fields
		if err := json.Unmarshal(toolRaw, &nested); err == nil {
			tool.Name = nested.str("name", "tool")
		}
	}

	tool.Progress, _ = msg.number("progress", "pct", "percent")
	tool.ElapsedMs, _ = msg.number("elapsed_ms", "elapsedMs", "duration_ms")
	if result, ok := msg["result"]; ok {
		tool.Result = result
	}

	if kind == KindToolEnd && tool.Status == "" {
		tool.Status = "success"
		if tool.Error != "" {
			tool.Status = "error"
		}
	}
	return tool
}

func decodeAudio(msg fields) (*AudioFrame, error) {
	frame := &AudioFrame{SampleRate: audio.DefaultSampleRate}
	frame.FrameIndex, _ = msg.integer("frame_index")
	frame.TotalFrames, _ = msg.integer("total_frames")
	if rate, ok := msg.integer("sample_rate"); ok && rate > 0 {
		frame.SampleRate = rate
	}
	frame.IsFinal = msg.isTrue("is_final", "final")

	encoded := msg.str("payload", "audio", "data")
	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: audio payload: %w", ErrMalformed, err)
	}
	frame.Payload = payload
	return frame, nil
}

// fields is a loosely-typed JSON object accessed by key.
type fields map[string]json.RawMessage

func (f fields) has(key string) bool {
	_, ok := f[key]
	return ok
}

func (f fields) set(key, value string) {
	encoded, _ := json.Marshal(value)
	f[key] = encoded
}

// str returns the first key holding a non-empty string.
func (f fields) str(keys ...string) string {
	for _, key := range keys {
		raw, ok := f[key]
		if !ok {
			continue
		}
		var value string
		if err := json.Unmarshal(raw, &value); err == nil && value != "" {
			return value
		}
	}
	return ""
}

func (f fields) number(keys ...string) (float64, bool) {
	for _, key := range keys {
		raw, ok := f[key]
		if !ok {
			continue
		}
		var value float64
		if err := json.Unmarshal(raw, &value); err == nil {
			return value, true
		}
		var text string
		if err := json.Unmarshal(raw, &text); err == nil {
			if value, err := strconv.ParseFloat(text, 64); err == nil {
				return value, true
			}
		}
	}
	return 0, false
}

func (f fields) integer(keys ...string) (int, bool) {
	value, ok := f.number(keys...)
	if !ok || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false
	}
	return int(value), true
}

func (f fields) isTrue(keys ...string) bool {
	for _, key := range keys {
		raw, ok := f[key]
		if !ok {
			continue
		}
		var value bool
		if err := json.Unmarshal(raw, &value); err == nil && value {
			return true
		}
	}
	return false
}

// timestamp accepts epoch milliseconds, epoch seconds or RFC 3339 strings.
func (f fields) timestamp(keys ...string) time.Time {
	for _, key := range keys {
		raw, ok := f[key]
		if !ok {
			continue
		}
		var text string
		if err := json.Unmarshal(raw, &text); err == nil {
			if ts, err := time.Parse(time.RFC3339Nano, text); err == nil {
				return ts
			}
			continue
		}
		var number float64
		if err := json.Unmarshal(raw, &number); err == nil && number > 0 {
			if number < 1e11 {
				return time.UnixMilli(int64(number * 1000))
			}
			return time.UnixMilli(int64(number))
		}
	}
	return time.Time{}
}

func (f fields) unwrapPayload() (fields, error) {
	raw := f["payload"]
	if firstByte(raw) == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, err
		}
		inner := fields{}
		inner.set("text", text)
		return inner, nil
	}

	var inner fields
	if err := json.Unmarshal(raw, &inner); err != nil {
		return nil, err
	}
	if inner == nil {
		inner = fields{}
	}
	return inner, nil
}

func firstByte(raw json.RawMessage) byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}
