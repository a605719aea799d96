// Package orchestration runs a full-duplex voice session: microphone audio
// is streamed to a remote agent while its text and audio are rendered back,
// and playback stops the moment the user talks over the agent.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/koscakluka/ema-live/core/bargein"
	"github.com/koscakluka/ema-live/core/calls"
	"github.com/koscakluka/ema-live/core/capture"
	"github.com/koscakluka/ema-live/core/events"
	"github.com/koscakluka/ema-live/core/messages"
	"github.com/koscakluka/ema-live/core/session"
	"github.com/koscakluka/ema-live/core/turns"
)

var (
	ErrNotStarted    = errors.New("session not started")
	ErrNoCallsClient = errors.New("no calls client configured")
)

var (
	DefaultEndpoint      = session.Endpoint{BaseURL: "ws://localhost:8000", Path: "/ws/{session_id}"}
	DefaultRelayEndpoint = session.Endpoint{BaseURL: "ws://localhost:8000", Path: "/relay/{session_id}"}
)

type Orchestrator struct {
	endpoint       session.Endpoint
	relayEndpoint  session.Endpoint
	sessionOptions []session.ManagerOption
	audioInput     AudioInput
	audioOutput    AudioOutput
	captureOptions []capture.Option
	callsClient    CallsClient
	healthInterval time.Duration

	mu                 sync.Mutex
	sessionID          string
	current            *conversation
	relay              *session.Manager
	capture            *capture.Pipeline
	emit               eventEmitter
	orchestrateOptions []OrchestrateOption
	baseContext        context.Context
	stopHealth         context.CancelFunc
	stopOnCancel       func() bool

	closeOnce sync.Once
}

func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		endpoint:      DefaultEndpoint,
		relayEndpoint: DefaultRelayEndpoint,
		emit:          noopEventEmitter,
		baseContext:   context.Background(),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.sessionID == "" {
		o.sessionID = newSessionID()
	}
	if o.audioInput != nil {
		o.capture = capture.New(o.audioInput, o.captureOptions...)
	}
	return o
}

func newSessionID() string {
	return ulid.Make().String()
}

// Start connects the session and begins rendering what the agent sends.
// Cancelling ctx stops the session.
func (o *Orchestrator) Start(ctx context.Context, opts ...OrchestrateOption) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.current != nil {
		return fmt.Errorf("%w: %s", session.ErrAlreadyStarted, o.current.id)
	}

	o.orchestrateOptions = opts
	options := OrchestrateOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	o.emit = newCallbackEventEmitter(options)
	o.baseContext = ctx

	conversation := newConversation(o.sessionID, o.audioOutput, o.emit, options.onAudio)
	conversation.onTerminated = func() {
		if err := o.stopConversation(conversation); err != nil {
			logger.Warn("failed to stop terminated session", "error", err)
		}
	}
	sessionOpts := append([]session.ManagerOption{session.WithName("conversation")}, o.sessionOptions...)
	if err := conversation.start(ctx, sessionOpts, o.endpoint); err != nil {
		conversation.playback.Close()
		return fmt.Errorf("failed to start session: %w", err)
	}
	o.current = conversation

	if o.callsClient != nil && o.healthInterval > 0 {
		healthCtx, cancel := context.WithCancel(ctx)
		o.stopHealth = cancel
		go o.pollHealth(healthCtx, o.healthInterval)
	}

	o.stopOnCancel = context.AfterFunc(ctx, func() {
		if err := o.stopConversation(conversation); err != nil {
			logger.Warn("failed to stop cancelled session", "error", err)
		}
	})

	logger.Info("session started", "session_id", o.sessionID)
	return nil
}

// StartCapture opens the microphone and streams its frames to the agent.
// It also counts as the user gesture that initialises playback.
func (o *Orchestrator) StartCapture(ctx context.Context) error {
	o.mu.Lock()
	current, pipeline := o.current, o.capture
	options := OrchestrateOptions{}
	for _, opt := range o.orchestrateOptions {
		opt(&options)
	}
	o.mu.Unlock()

	if current == nil {
		return ErrNotStarted
	}
	if pipeline == nil {
		return capture.ErrNoDevice
	}

	current.playback.Warm()
	return pipeline.Start(ctx, func(pcm []byte) {
		if options.onInputAudio != nil {
			options.onInputAudio(pcm)
		}
		current.manager.Send(pcm)
	})
}

func (o *Orchestrator) StopCapture() error {
	if o.capture == nil {
		return nil
	}
	return o.capture.Stop()
}

// IsCapturing reports whether microphone audio is being streamed.
func (o *Orchestrator) IsCapturing() bool {
	return o.capture != nil && o.capture.IsRunning()
}

// InputLevel is the normalised level of the last captured block.
func (o *Orchestrator) InputLevel() float64 {
	if o.capture == nil {
		return 0
	}
	return o.capture.Level()
}

// Stop halts capture, clears playback, cancels reconnection and health
// polling and closes every connection. It is safe to call repeatedly.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	current := o.current
	o.mu.Unlock()

	return o.stopConversation(current)
}

func (o *Orchestrator) stopConversation(target *conversation) error {
	o.mu.Lock()
	if target == nil || o.current != target {
		o.mu.Unlock()
		return nil
	}
	o.current = nil
	relay := o.relay
	o.relay = nil
	stopHealth := o.stopHealth
	o.stopHealth = nil
	if o.stopOnCancel != nil {
		o.stopOnCancel()
		o.stopOnCancel = nil
	}
	o.mu.Unlock()

	var errs []error
	if err := o.StopCapture(); err != nil {
		errs = append(errs, err)
	}
	if stopHealth != nil {
		stopHealth()
	}
	if relay != nil {
		relay.Stop()
	}
	if err := target.stop(); err != nil {
		errs = append(errs, err)
	}

	logger.Info("session stopped", "session_id", target.id)
	return errors.Join(errs...)
}

// Close stops the session for good.
func (o *Orchestrator) Close() error {
	var err error
	o.closeOnce.Do(func() {
		err = o.Stop()
	})
	return err
}

func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessionID
}

// ResetSession replaces the session id. A running session is restarted
// under the new id.
func (o *Orchestrator) ResetSession() (string, error) {
	o.mu.Lock()
	running := o.current != nil
	ctx, opts := o.baseContext, o.orchestrateOptions
	o.mu.Unlock()

	if running {
		if err := o.Stop(); err != nil {
			logger.Warn("failed to stop session cleanly", "error", err)
		}
	}

	o.mu.Lock()
	o.sessionID = newSessionID()
	id := o.sessionID
	o.mu.Unlock()
	logger.Info("session reset", "session_id", id)

	if running {
		return id, o.Start(ctx, opts...)
	}
	return id, nil
}

func (o *Orchestrator) SessionState() session.State {
	o.mu.Lock()
	current := o.current
	o.mu.Unlock()

	if current == nil {
		return session.StateIdle
	}
	return current.manager.State()
}

// Turns returns the latency record of every turn of the running session.
func (o *Orchestrator) Turns() []turns.Turn {
	o.mu.Lock()
	current := o.current
	o.mu.Unlock()

	if current == nil {
		return nil
	}
	return current.tracker.Turns()
}

// Interruptions returns every barge-in of the running session.
func (o *Orchestrator) Interruptions() []bargein.Event {
	o.mu.Lock()
	current := o.current
	o.mu.Unlock()

	if current == nil {
		return nil
	}
	return current.bargeIn.Events()
}

// MonitorCall places an outbound call bound to the current session and
// follows its conversation over the relay connection.
func (o *Orchestrator) MonitorCall(ctx context.Context, phoneNumber string) (calls.Call, error) {
	ctx, span := tracer.Start(ctx, "monitor call")
	defer span.End()

	if o.callsClient == nil {
		return calls.Call{}, ErrNoCallsClient
	}

	o.mu.Lock()
	sessionID, emit := o.sessionID, o.emit
	o.mu.Unlock()
	span.SetAttributes(attribute.String("session.id", sessionID))

	call, err := o.callsClient.InitiateCall(ctx, calls.CallRequest{PhoneNumber: phoneNumber, SessionID: sessionID})
	if err != nil {
		err = fmt.Errorf("failed to initiate call: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return calls.Call{}, err
	}
	emit(events.NewCallInitiated(call.ID, phoneNumber))

	var relay *session.Manager
	relay = session.NewManager(o.relayEndpoint, session.Handlers{
		OnMessage: func(frame session.Frame) {
			if frame.Binary {
				return
			}
			relayMessage(relay, messages.Decode(frame.Data), emit)
		},
	}, append([]session.ManagerOption{session.WithName("relay")}, o.sessionOptions...)...)

	o.mu.Lock()
	previous := o.relay
	o.relay = relay
	baseCtx := o.baseContext
	o.mu.Unlock()
	if previous != nil {
		previous.Stop()
	}

	if err := relay.Start(baseCtx, sessionID); err != nil {
		err = fmt.Errorf("failed to monitor call: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return call, err
	}
	return call, nil
}

func relayMessage(relay *session.Manager, envelope messages.Envelope, emit eventEmitter) {
	switch envelope.Kind {
	case messages.KindUserText, messages.KindSttPartial:
		emit(events.NewCallRelayMessage(envelope.Sender, envelope.Text, true))
	case messages.KindAssistantFinal, messages.KindAssistantStreamingDelta:
		emit(events.NewCallRelayMessage(envelope.Sender, envelope.Text, false))
	case messages.KindSessionEnd:
		// The call is over; the conversation session keeps running.
		relay.DisableReconnect()
	case messages.KindLiveAgentTransfer:
		emit(events.NewLiveAgentTransfer(envelope.Reason))
	}
}

func (o *Orchestrator) pollHealth(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last *bool
	check := func() {
		err := o.callsClient.Health(ctx)
		if ctx.Err() != nil {
			return
		}
		healthy := err == nil
		if last != nil && *last == healthy {
			return
		}
		last = &healthy
		if err != nil {
			logger.Warn("backend unhealthy", "error", err)
		}

		o.mu.Lock()
		emit := o.emit
		o.mu.Unlock()
		emit(events.NewBackendHealthChanged(healthy, err))
	}

	check()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}
