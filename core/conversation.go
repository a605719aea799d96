package orchestration

import (
	"context"

	"github.com/koscakluka/ema-live/core/audio"
	"github.com/koscakluka/ema-live/core/bargein"
	"github.com/koscakluka/ema-live/core/events"
	"github.com/koscakluka/ema-live/core/messages"
	"github.com/koscakluka/ema-live/core/playback"
	"github.com/koscakluka/ema-live/core/session"
	"github.com/koscakluka/ema-live/core/turns"
)

// conversation is everything owned by one Start..Stop lifetime of a session.
// Its dispatch methods run only on the manager's event loop.
type conversation struct {
	id       string
	manager  *session.Manager
	playback *playback.Pipeline
	bargeIn  *bargein.Coordinator
	tracker  *turns.Tracker

	emit    eventEmitter
	onAudio func(audio []byte)

	// terminated is set by a terminal session end. onTerminated runs on its
	// own goroutine once the connection is gone.
	terminated   bool
	onTerminated func()

	// lastInterruption is the id of the last interruption reported to the
	// host, so that follow-up signals of it are not reported twice.
	lastInterruption string
}

func newConversation(id string, output AudioOutput, emit eventEmitter, onAudio func([]byte)) *conversation {
	var playbackOpts []playback.Option
	if output != nil {
		playbackOpts = append(playbackOpts,
			playback.WithSink(output.OpenPlayback),
			playback.WithOutputSampleRate(output.OutputSampleRate()),
		)
	}

	c := &conversation{
		id:       id,
		playback: playback.New(playbackOpts...),
		emit:     emit,
		onAudio:  onAudio,
	}
	c.tracker = turns.NewTracker(turns.WithSummaryCallback(func(summary turns.Summary) {
		c.emit(events.NewTurnCompleted(summary))
	}))
	c.bargeIn = bargein.NewCoordinator(c.playback, bargein.WithEventCallback(c.interrupted))
	return c
}

func (c *conversation) handlers() session.Handlers {
	return session.Handlers{
		OnOpen: func() {
			c.emit(events.NewSessionOpened(c.id))
		},
		OnMessage: func(frame session.Frame) {
			if frame.Binary {
				c.dispatch(messages.DecodeBinary(frame.Data))
				return
			}
			c.dispatch(messages.Decode(frame.Data))
		},
		OnClose: func(code int, reason string) {
			c.playback.EndStream()
			reconnecting := c.manager.State() == session.StateReconnecting
			c.emit(events.NewSessionClosed(code, reason, reconnecting))
			if c.terminated && !reconnecting && c.onTerminated != nil {
				go c.onTerminated()
			}
		},
	}
}

func (c *conversation) dispatch(envelope messages.Envelope) {
	switch envelope.Kind {
	case messages.KindUserText:
		turn := c.tracker.RegisterUserTurn(envelope.Text)
		event := events.NewUserTranscriptFinal(envelope.Text, turn.ID)
		event.Base = event.Base.At(envelope.Timestamp)
		c.emit(event)

	case messages.KindSttPartial:
		sequence := -1
		if envelope.Sequence != nil {
			sequence = *envelope.Sequence
		}
		// Playback is cleared before anything else touches the message.
		c.bargeIn.OnPartialSpeech(envelope.Trigger, envelope.Sequence)
		if envelope.Text != "" {
			c.tracker.RegisterUserPartial(envelope.Text)
		}
		event := events.NewUserTranscriptInterimUpdated(envelope.Text, sequence)
		event.Base = event.Base.At(envelope.Timestamp)
		c.emit(event)

	case messages.KindAssistantStreamingDelta:
		c.tracker.RegisterAssistantStreaming(envelope.Sender)
		event := events.NewAssistantResponseSegment(envelope.Sender, envelope.Text)
		event.Base = event.Base.At(envelope.Timestamp)
		c.emit(event)

	case messages.KindAssistantFinal:
		c.tracker.RegisterAssistantFinal(envelope.Sender)
		event := events.NewAssistantResponseFinal(envelope.Sender, envelope.Text)
		event.Base = event.Base.At(envelope.Timestamp)
		c.emit(event)

	case messages.KindToolStart:
		c.emit(events.NewToolCallStarted(envelope.Tool.Name))

	case messages.KindToolProgress:
		c.emit(events.NewToolCallProgress(envelope.Tool.Name, envelope.Tool.Progress))

	case messages.KindToolEnd:
		tool := envelope.Tool
		if tool.Status == "error" || tool.Error != "" {
			c.emit(events.NewToolCallFailed(tool.Name, tool.Error, tool.ElapsedMs))
		} else {
			c.emit(events.NewToolCallCompleted(tool.Name, string(tool.Result), tool.ElapsedMs))
		}

	case messages.KindControl:
		c.bargeIn.OnControl(envelope.Action, envelope.Trigger, envelope.Stage, envelope.Reason)

	case messages.KindAudioData:
		c.playStructured(*envelope.Audio)

	case messages.KindRawAudio:
		c.playRaw(*envelope.Audio)

	case messages.KindSessionEnd:
		terminal := envelope.Terminal()
		if terminal {
			c.terminated = true
			c.manager.DisableReconnect()
		}
		logger.Info("server ended session", "reason", envelope.Reason, "terminal", terminal)
		c.emit(events.NewSessionEnded(envelope.Reason, terminal))

	case messages.KindLiveAgentTransfer:
		logger.Info("transferring to live agent", "reason", envelope.Reason)
		c.emit(events.NewLiveAgentTransfer(envelope.Reason))
	}
}

func (c *conversation) playStructured(frame messages.AudioFrame) {
	c.bargeIn.OnAudioFrame(frame.FrameIndex)
	if !c.bargeIn.AllowAudio(frame.FrameIndex, true) {
		logger.Debug("dropping audio of interrupted response", "frame_index", frame.FrameIndex)
		return
	}

	c.tracker.RegisterAudioFrame(frame.FrameIndex, frame.TotalFrames, frame.IsFinal)
	if frame.FrameIndex == 0 {
		c.emit(events.NewAssistantPlaybackStarted(frame.TotalFrames))
	}

	c.playback.Push(frame.Samples(), frame.SampleRate)
	if c.onAudio != nil {
		c.onAudio(frame.Payload)
	}

	if frame.IsFinal {
		c.playback.EndStream()
		c.emit(events.NewAssistantPlaybackEnded())
	}
}

// playRaw plays a binary PCM frame as-is. Raw frames carry no stream
// boundaries, so the pipeline only counts as active while they are queued.
func (c *conversation) playRaw(frame messages.AudioFrame) {
	c.bargeIn.OnAudioFrame(frame.FrameIndex)
	if !c.bargeIn.AllowAudio(frame.FrameIndex, false) {
		return
	}

	rate := frame.SampleRate
	if rate <= 0 {
		rate = audio.DefaultSampleRate
	}
	c.playback.Push(frame.Samples(), rate)
	c.playback.EndStream()
	if c.onAudio != nil {
		c.onAudio(frame.Payload)
	}
}

func (c *conversation) interrupted(event bargein.Event) {
	if event.ID == c.lastInterruption {
		return
	}
	c.lastInterruption = event.ID

	clearMs := -1.0
	if event.TotalClearMs != nil {
		clearMs = *event.TotalClearMs
	}
	c.emit(events.NewAssistantPlaybackInterrupted(event.ID, event.Trigger, clearMs))
}

// stop tears the conversation down: connection, interruption state and the
// output device. Each step is idempotent.
func (c *conversation) stop() error {
	c.manager.Stop()
	c.playback.Clear()
	c.bargeIn.Reset()
	return c.playback.Close()
}

func (c *conversation) start(ctx context.Context, opts []session.ManagerOption, endpoint session.Endpoint) error {
	c.manager = session.NewManager(endpoint, c.handlers(), opts...)
	return c.manager.Start(ctx, c.id)
}
