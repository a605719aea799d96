package orchestration

import (
	"context"
	"time"

	"github.com/koscakluka/ema-live/core/calls"
	"github.com/koscakluka/ema-live/core/capture"
	"github.com/koscakluka/ema-live/core/events"
	"github.com/koscakluka/ema-live/core/playback"
	"github.com/koscakluka/ema-live/core/session"
)

type OrchestratorOption func(*Orchestrator)

// AudioInput is a microphone delivering mono float samples.
type AudioInput interface {
	capture.Device
}

// AudioOutput is a speaker pulling from the playback pipeline.
type AudioOutput interface {
	OpenPlayback() (playback.Sink, error)
	OutputSampleRate() int
}

// CallsClient places outbound calls and reports backend health.
type CallsClient interface {
	InitiateCall(ctx context.Context, request calls.CallRequest) (calls.Call, error)
	Health(ctx context.Context) error
}

// WithEndpoint sets the conversation connection. The path must contain
// {session_id}.
func WithEndpoint(endpoint session.Endpoint) OrchestratorOption {
	return func(o *Orchestrator) { o.endpoint = endpoint }
}

// WithRelayEndpoint sets the connection used to monitor placed calls.
func WithRelayEndpoint(endpoint session.Endpoint) OrchestratorOption {
	return func(o *Orchestrator) { o.relayEndpoint = endpoint }
}

func WithAudioInput(client AudioInput) OrchestratorOption {
	return func(o *Orchestrator) { o.audioInput = client }
}

func WithAudioOutput(client AudioOutput) OrchestratorOption {
	return func(o *Orchestrator) { o.audioOutput = client }
}

// WithSessionID reuses a persisted session id instead of generating one.
func WithSessionID(id string) OrchestratorOption {
	return func(o *Orchestrator) {
		if id != "" {
			o.sessionID = id
		}
	}
}

func WithDialer(dialer session.Dialer) OrchestratorOption {
	return func(o *Orchestrator) {
		o.sessionOptions = append(o.sessionOptions, session.WithDialer(dialer))
	}
}

// WithSessionOptions passes options to every connection manager.
func WithSessionOptions(opts ...session.ManagerOption) OrchestratorOption {
	return func(o *Orchestrator) {
		o.sessionOptions = append(o.sessionOptions, opts...)
	}
}

func WithCallsClient(client CallsClient) OrchestratorOption {
	return func(o *Orchestrator) { o.callsClient = client }
}

// WithHealthCheck polls the backend health at the given interval while the
// session runs. Requires a calls client.
func WithHealthCheck(interval time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.healthInterval = interval }
}

// WithCaptureOptions configures the capture pipeline.
func WithCaptureOptions(opts ...capture.Option) OrchestratorOption {
	return func(o *Orchestrator) {
		o.captureOptions = append(o.captureOptions, opts...)
	}
}

type OrchestrateOptions struct {
	onTranscription        func(transcript string)
	onInterimTranscription func(transcript string)
	onResponse             func(response string)
	onResponseEnd          func(response string)
	onCancellation         func()
	onInputAudio           func(audio []byte)
	onAudio                func(audio []byte)
	onAudioEnded           func()
	onEvent                func(event events.Event)
}

type OrchestrateOption func(*OrchestrateOptions)

// WithTranscriptionCallback registers a callback for final user transcripts.
func WithTranscriptionCallback(callback func(transcript string)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onTranscription = callback
	}
}

// WithInterimTranscriptionCallback registers a callback for interim user
// transcripts.
func WithInterimTranscriptionCallback(callback func(transcript string)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onInterimTranscription = callback
	}
}

func WithResponseCallback(callback func(response string)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onResponse = callback
	}
}

func WithResponseEndCallback(callback func(response string)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onResponseEnd = callback
	}
}

// WithCancellationCallback is called when assistant playback is interrupted.
func WithCancellationCallback(callback func()) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onCancellation = callback
	}
}

// WithAudioCallback registers a callback for inbound assistant audio, as
// 16-bit little-endian PCM, for every frame that is played.
func WithAudioCallback(callback func(audio []byte)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onAudio = callback
	}
}

func WithAudioEndedCallback(callback func()) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onAudioEnded = callback
	}
}

// WithInputAudioCallback registers a callback for outbound PCM frames.
//
// The provided slice is passed through as-is (no defensive copy). The
// callback runs inline on the capture path and should not block.
func WithInputAudioCallback(callback func(audio []byte)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onInputAudio = callback
	}
}

// WithEventCallback receives every conversation-log event, after the
// specific callbacks ran.
func WithEventCallback(callback func(event events.Event)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onEvent = callback
	}
}
