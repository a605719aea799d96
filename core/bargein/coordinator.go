// Package bargein stops assistant playback when the user talks over it and
// reconciles that client-side decision with the server's own cancellation
// signals into a single interruption record.
package bargein

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/koscakluka/ema-live/core/messages"
)

// DefaultKeepPendingWindow is how long a finalized interruption keeps
// absorbing follow-up signals.
const DefaultKeepPendingWindow = 2 * time.Second

// Playback is the part of the playback pipeline an interruption acts on.
type Playback interface {
	Active() bool
	Clear()
}

type Option func(*Coordinator)

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithKeepPendingWindow(window time.Duration) Option {
	return func(c *Coordinator) { c.window = window }
}

// WithEventCallback is called every time an interruption is finalized, after
// the coordinator has released its lock.
func WithEventCallback(callback func(Event)) Option {
	return func(c *Coordinator) { c.onEvent = callback }
}

type Coordinator struct {
	playback Playback
	now      func() time.Time
	window   time.Duration
	onEvent  func(Event)

	mu      sync.Mutex
	pending *Event
	keptAt  time.Time
	span    trace.Span
	events  []*Event

	lastAudioFrame time.Time
	suppressing    bool
	suppressedAt   time.Time
}

func NewCoordinator(playback Playback, opts ...Option) *Coordinator {
	c := &Coordinator{
		playback: playback,
		now:      time.Now,
		window:   DefaultKeepPendingWindow,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnPartialSpeech handles interim user speech. When assistant audio is
// audible it is cleared immediately, before any server confirmation, and
// true is returned.
func (c *Coordinator) OnPartialSpeech(trigger string, sequence *int) bool {
	var finalized *Event
	defer func() { c.notify(finalized) }()
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.expire(now)
	if !c.playback.Active() {
		return false
	}

	c.playback.Clear()
	c.suppress(now)

	event := c.open(trigger, now)
	event.record(actionPartialSpeech, now)
	if event.ClearIssuedTs == nil {
		event.ClearIssuedTs = ptr(now)
		event.record(actionClientClear, now)
	}

	attrs := []any{"id", event.ID, "trigger", trigger}
	if sequence != nil {
		attrs = append(attrs, "sequence", *sequence)
	}
	logger.Info("barge-in cleared playback", attrs...)

	finalized = c.finalize(event, true, now)
	return true
}

// OnControl handles a server control message.
func (c *Coordinator) OnControl(action messages.Action, trigger, stage, reason string) {
	var finalized *Event
	defer func() { c.notify(finalized) }()
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.expire(now)

	switch action {
	case messages.ActionTTSCancelled:
		event := c.open(trigger, now)
		if event.CancelTs == nil {
			event.CancelTs = ptr(now)
		}
		if stage != "" {
			event.Stage = stage
		}
		if reason != "" {
			event.Reason = reason
		}
		event.record(actionTTSCancelled, now)
		c.suppress(now)

		attrs := []any{"id", event.ID, "trigger", event.Trigger, "stage", event.Stage}
		if !c.lastAudioFrame.IsZero() {
			attrs = append(attrs, "time_since_last_audio_frame_ms", ms(now.Sub(c.lastAudioFrame)))
		}
		logger.Info("server cancelled speech", attrs...)

	case messages.ActionAudioStop:
		event := c.open(trigger, now)
		if event.AudioStopTs == nil {
			event.AudioStopTs = ptr(now)
		}
		event.record(actionAudioStop, now)
		if event.ClearIssuedTs == nil {
			c.playback.Clear()
			event.ClearIssuedTs = ptr(now)
			event.record(actionServerClear, now)
		}
		c.suppressing = false

		finalized = c.finalize(event, false, now)

	default:
		logger.Debug("ignoring control action", "action", action, "reason", reason)
	}
}

// OnAudioFrame records the arrival of assistant audio. The start of a new
// structured stream closes a kept interruption.
func (c *Coordinator) OnAudioFrame(frameIndex int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.lastAudioFrame = now
	if frameIndex == 0 && c.pending != nil && c.pending.KeepPending {
		c.release(now)
	}
}

// AllowAudio reports whether an inbound frame may be played. Audio of an
// interrupted response is dropped until a new structured stream starts
// (frame 0) or the server confirms audio_stop. Raw frames carry no index, so
// their suppression also lapses after the keep pending window.
func (c *Coordinator) AllowAudio(frameIndex int, structured bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.suppressing {
		return true
	}
	if structured && frameIndex == 0 {
		c.suppressing = false
		return true
	}
	if !structured && c.now().Sub(c.suppressedAt) >= c.window {
		c.suppressing = false
		return true
	}
	return false
}

// Pending returns the interruption currently open to follow-up signals.
func (c *Coordinator) Pending() (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == nil {
		return Event{}, false
	}
	return c.pending.clone(), true
}

// Events returns every interruption of the session, oldest first.
func (c *Coordinator) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Event, 0, len(c.events))
	for _, event := range c.events {
		out = append(out, event.clone())
	}
	return out
}

// Reset releases the pending interruption and lifts audio suppression, e.g.
// when the session stops.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.release(c.now())
	c.suppressing = false
}

// open returns the pending event or starts a new one.
func (c *Coordinator) open(trigger string, now time.Time) *Event {
	if c.pending != nil {
		if c.pending.Trigger == "" {
			c.pending.Trigger = trigger
		}
		return c.pending
	}

	event := &Event{
		ID:         uuid.NewString(),
		Trigger:    trigger,
		ReceivedTs: now,
	}
	c.pending = event
	c.events = append(c.events, event)

	_, c.span = tracer.Start(context.Background(), "barge-in",
		trace.WithTimestamp(now),
		trace.WithAttributes(
			attribute.String("id", event.ID),
			attribute.String("trigger", trigger),
		),
	)
	return event
}

// finalize computes the derived latencies. With keepPending the event stays
// open for follow-up signals until the window lapses.
func (c *Coordinator) finalize(event *Event, keepPending bool, now time.Time) *Event {
	event.derive()
	if !event.Finalized {
		event.Finalized = true
		event.FinalizedTs = ptr(now)
	}
	event.KeepPending = keepPending
	if keepPending {
		c.keptAt = now
	}

	logger.Info("barge-in finalized",
		"id", event.ID,
		"trigger", event.Trigger,
		"keep_pending", keepPending,
		"total_clear_ms", deref(event.TotalClearMs),
		"time_from_cancel_ms", deref(event.TimeFromCancelMs),
		"clear_after_audio_stop_ms", deref(event.ClearAfterAudioStopMs),
	)
	snapshot := event.clone()

	if !keepPending {
		c.release(now)
	}
	return &snapshot
}

func (c *Coordinator) notify(event *Event) {
	if event != nil && c.onEvent != nil {
		c.onEvent(*event)
	}
}

// expire releases a kept event once its window has lapsed.
func (c *Coordinator) expire(now time.Time) {
	if c.pending == nil || !c.pending.KeepPending {
		return
	}
	if now.Sub(c.keptAt) >= c.window {
		c.release(now)
	}
}

func (c *Coordinator) release(now time.Time) {
	if c.pending == nil {
		return
	}
	event := c.pending
	event.KeepPending = false
	c.pending = nil

	if c.span != nil {
		c.span.SetAttributes(
			attribute.Int("actions", len(event.Actions)),
			attribute.Float64("total_clear_ms", deref(event.TotalClearMs)),
		)
		c.span.End(trace.WithTimestamp(now))
		c.span = nil
	}
}

func (c *Coordinator) suppress(now time.Time) {
	c.suppressing = true
	c.suppressedAt = now
}

func deref(v *float64) float64 {
	if v == nil {
		return -1
	}
	return *v
}
