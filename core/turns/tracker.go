// Package turns derives per-turn latency milestones from the decoded message
// stream: when the user spoke, when the first assistant token arrived, when
// the final text arrived and when its audio started and ended.
package turns

import (
	"context"
	"sync"
	"time"

	"github.com/jinzhu/copier"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Tracker is driven from a single goroutine (the session event loop) but its
// read accessors are safe to call from anywhere.
type Tracker struct {
	mu sync.Mutex

	turns    []Turn
	nextID   int64
	awaiting int // index into turns of the turn awaiting audio, -1 if none

	sessionFirstToken *time.Duration

	now       func() time.Time
	onSummary func(Summary)

	firstTokenHist   metric.Float64Histogram
	finalHist        metric.Float64Histogram
	finalToAudioHist metric.Float64Histogram
	totalHist        metric.Float64Histogram
}

type TrackerOption func(*Tracker)

// WithClock replaces time.Now as the source of timestamps.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		t.now = now
	}
}

// WithSummaryCallback is called with the metrics of every completed turn.
func WithSummaryCallback(callback func(Summary)) TrackerOption {
	return func(t *Tracker) {
		t.onSummary = callback
	}
}

func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		nextID:   1,
		awaiting: -1,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}

	t.firstTokenHist = histogram("ema_live.turn.first_token_latency", "Time from user utterance to the first assistant token.")
	t.finalHist = histogram("ema_live.turn.final_latency", "Time from user utterance to the final assistant text.")
	t.finalToAudioHist = histogram("ema_live.turn.final_to_audio", "Time from the final assistant text to the first audio frame.")
	t.totalHist = histogram("ema_live.turn.total_latency", "Time from user utterance to the end of assistant audio.")
	return t
}

func histogram(name, description string) metric.Float64Histogram {
	h, err := meter.Float64Histogram(name,
		metric.WithDescription(description),
		metric.WithUnit("ms"),
	)
	if err != nil {
		logger.Error("failed to create histogram", "name", name, "error", err)
		return noop.Float64Histogram{}
	}
	return h
}

// RegisterUserTurn opens a new turn for a final user transcript. A turn
// opened by an interim transcript that has not been answered yet is
// promoted instead of duplicated.
func (t *Tracker) RegisterUserTurn(text string) Turn {
	t.mu.Lock()
	defer t.mu.Unlock()

	if turn := t.latest(); turn != nil && turn.Partial && turn.FirstTokenTs == nil {
		turn.Partial = false
		turn.UserText = text
		turn.UserTs = t.now()
		t.awaitAudio(len(t.turns) - 1)
		return *turn
	}

	return t.open(text, false)
}

// RegisterUserPartial opens a turn for an interim transcript unless the
// latest turn is still waiting for its first token, in which case only its
// text is updated.
func (t *Tracker) RegisterUserPartial(text string) Turn {
	t.mu.Lock()
	defer t.mu.Unlock()

	if turn := t.latest(); turn != nil && turn.State == StateAwaitingFirstToken {
		if turn.Partial {
			turn.UserText = text
		}
		return *turn
	}

	return t.open(text, true)
}

func (t *Tracker) open(text string, partial bool) Turn {
	turn := Turn{
		ID:       t.nextID,
		State:    StateCreated,
		UserText: text,
		Partial:  partial,
		UserTs:   t.now(),
	}
	t.nextID++
	turn.State = StateAwaitingFirstToken

	t.turns = append(t.turns, turn)
	t.awaitAudio(len(t.turns) - 1)

	logger.Debug("turn opened", "turn_id", turn.ID, "partial", partial)
	return turn
}

// awaitAudio moves the awaiting audio pointer; a turn losing it before its
// audio started keeps whatever text milestones it reached.
func (t *Tracker) awaitAudio(idx int) {
	if prev := t.awaiting; prev >= 0 && prev != idx {
		if turn := &t.turns[prev]; turn.State == StateAwaitingAudio {
			turn.State = StateFinalTextReceived
		}
	}
	t.awaiting = idx
}

// RegisterAssistantStreaming stamps the first token of the latest open
// turn. Later deltas for the same turn are ignored.
func (t *Tracker) RegisterAssistantStreaming(sender string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	turn := t.latest()
	if turn == nil || turn.FirstTokenTs != nil || turn.State == StateCompleted {
		return
	}

	now := t.now()
	latency := now.Sub(turn.UserTs)
	turn.FirstTokenTs = &now
	turn.FirstTokenLatency = &latency
	turn.Sender = sender
	if turn.State < StateStreaming {
		turn.State = StateStreaming
	}
	t.firstTokenHist.Record(context.Background(), ms(latency))

	if t.sessionFirstToken == nil {
		t.sessionFirstToken = ptr(latency)
		logger.Info("session time to first token", "turn_id", turn.ID, "latency_ms", ms(latency))
	}
}

// RegisterAssistantFinal stamps the final text on the most recent turn
// lacking one. Turns whose audio already started are left alone since their
// text milestone was implied by the audio. Completed turns are never reopened.
func (t *Tracker) RegisterAssistantFinal(sender string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := -1
	for i := len(t.turns) - 1; i >= 0; i-- {
		if t.turns[i].State != StateCompleted && t.turns[i].FinalTextTs == nil {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}

	turn := &t.turns[idx]
	now := t.now()
	latency := now.Sub(turn.UserTs)
	turn.FinalTextTs = &now
	turn.FinalLatency = &latency
	if turn.Sender == "" {
		turn.Sender = sender
	}
	if turn.FirstTokenTs == nil {
		// A final without deltas is its own first token.
		turn.FirstTokenTs = &now
		turn.FirstTokenLatency = ptr(latency)
		t.firstTokenHist.Record(context.Background(), ms(latency))
		if t.sessionFirstToken == nil {
			t.sessionFirstToken = ptr(latency)
		}
	}

	if idx == t.awaiting {
		turn.State = StateAwaitingAudio
	} else {
		turn.State = StateFinalTextReceived
	}
	t.finalHist.Record(context.Background(), ms(latency))
}

// RegisterAudioFrame tracks structured audio for the turn awaiting audio.
// Frame 0 starts the audio, a final frame completes the turn.
func (t *Tracker) RegisterAudioFrame(frameIndex, totalFrames int, isFinal bool) {
	var summary *Summary
	defer func() {
		if summary != nil && t.onSummary != nil {
			t.onSummary(*summary)
		}
	}()
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.awaiting < 0 {
		logger.Debug("audio frame without a turn awaiting audio", "frame_index", frameIndex)
		return
	}

	turn := &t.turns[t.awaiting]
	turn.AudioFrames++
	if totalFrames > 0 {
		turn.TotalFrames = totalFrames
	}

	if frameIndex == 0 && turn.AudioStartTs == nil {
		now := t.now()
		turn.AudioStartTs = &now
		if turn.FinalTextTs == nil {
			turn.FinalTextTs = &now
			turn.FinalLatency = ptr(now.Sub(turn.UserTs))
		}
		finalToAudio := now.Sub(*turn.FinalTextTs)
		turn.FinalToAudio = &finalToAudio
		turn.State = StateAudioPlaying
		t.finalToAudioHist.Record(context.Background(), ms(finalToAudio))
	}

	if isFinal {
		completed := t.complete(turn)
		summary = &completed
		t.awaiting = -1
	}
}

func (t *Tracker) complete(turn *Turn) Summary {
	now := t.now()
	turn.AudioEndTs = &now
	if turn.AudioStartTs != nil {
		turn.PlaybackDuration = ptr(now.Sub(*turn.AudioStartTs))
	}
	total := now.Sub(turn.UserTs)
	turn.TotalLatency = &total
	turn.State = StateCompleted
	t.totalHist.Record(context.Background(), ms(total), metric.WithAttributes(
		attribute.String("sender", turn.Sender),
	))

	summary := turn.summary(t.sessionFirstToken)
	logger.Info("turn completed",
		"turn_id", summary.TurnID,
		"first_token_latency_ms", summary.FirstTokenLatencyMs,
		"final_latency_ms", summary.FinalLatencyMs,
		"final_to_audio_ms", summary.FinalToAudioMs,
		"playback_duration_ms", summary.PlaybackDurationMs,
		"total_latency_ms", summary.TotalLatencyMs,
		"audio_frames", summary.AudioFrames,
	)
	return summary
}

// Turns returns a copy of every tracked turn, oldest first. Milestone
// pointers are shared but never written through once set.
func (t *Tracker) Turns() []Turn {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.turns) == 0 {
		return nil
	}

	var out []Turn
	if err := copier.Copy(&out, t.turns); err != nil {
		logger.Error("failed to copy turns", "error", err)
		return nil
	}
	return out
}

// AwaitingAudio returns the turn currently waiting for its audio.
func (t *Tracker) AwaitingAudio() (Turn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.awaiting < 0 {
		return Turn{}, false
	}
	return t.turns[t.awaiting], true
}

// TimeToFirstToken returns the first token latency of the first answered
// turn of the session.
func (t *Tracker) TimeToFirstToken() (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sessionFirstToken == nil {
		return 0, false
	}
	return *t.sessionFirstToken, true
}

func (t *Tracker) latest() *Turn {
	if len(t.turns) == 0 {
		return nil
	}
	return &t.turns[len(t.turns)-1]
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
