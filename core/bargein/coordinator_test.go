package bargein

import (
	"testing"
	"time"

	"github.com/koscakluka/ema-live/core/messages"
	"github.com/koscakluka/ema-live/core/playback"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fakePlayback struct {
	active bool
	clears int
}

func (p *fakePlayback) Active() bool { return p.active }

func (p *fakePlayback) Clear() {
	p.clears++
	p.active = false
}

func newTestCoordinator(pb Playback, opts ...Option) (*Coordinator, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	return NewCoordinator(pb, append([]Option{WithClock(clock.Now)}, opts...)...), clock
}

func TestPartialSpeechWhilePlayingSilencesNextPull(t *testing.T) {
	pipeline := playback.New(playback.WithOutputSampleRate(16000))
	coordinator, _ := newTestCoordinator(pipeline)

	speech := make([]float32, 4096)
	for i := range speech {
		speech[i] = 0.5
	}
	pipeline.Push(speech, 16000)

	out := make([]float32, 512)
	if n := pipeline.Pull(out); n != len(out) {
		t.Fatalf("expected audio before barge-in, got %d samples", n)
	}

	if !coordinator.OnPartialSpeech("stt_partial", nil) {
		t.Fatalf("expected partial speech to clear active playback")
	}
	if pipeline.Active() {
		t.Fatalf("expected playback to be inactive after barge-in")
	}

	n := pipeline.Pull(out)
	if n != 0 {
		t.Fatalf("expected no queued samples after barge-in, got %d", n)
	}
	for i, sample := range out {
		if sample != 0 {
			t.Fatalf("expected silence at %d, got %v", i, sample)
		}
	}
}

func TestPartialSpeechWithoutPlaybackDoesNothing(t *testing.T) {
	pb := &fakePlayback{}
	coordinator, _ := newTestCoordinator(pb)

	if coordinator.OnPartialSpeech("stt_partial", nil) {
		t.Fatalf("expected no barge-in while playback is idle")
	}
	if pb.clears != 0 {
		t.Fatalf("expected no clear, got %d", pb.clears)
	}
	if _, ok := coordinator.Pending(); ok {
		t.Fatalf("expected no pending event")
	}
}

func TestAudioStopFinalizesClientInterruption(t *testing.T) {
	pb := &fakePlayback{active: true}
	var finalized []Event
	coordinator, clock := newTestCoordinator(pb, WithEventCallback(func(e Event) {
		finalized = append(finalized, e)
	}))

	sequence := 7
	coordinator.OnPartialSpeech("stt_partial", &sequence)
	pending, ok := coordinator.Pending()
	if !ok || !pending.KeepPending || pending.ClearIssuedTs == nil {
		t.Fatalf("expected kept pending event with clear stamp, got %+v", pending)
	}
	clearedAt := *pending.ClearIssuedTs

	clock.Advance(120 * time.Millisecond)
	coordinator.OnControl(messages.ActionTTSCancelled, "stt_partial", "early", "barge_in")
	clock.Advance(80 * time.Millisecond)
	coordinator.OnControl(messages.ActionAudioStop, "", "", "")

	events := coordinator.Events()
	if len(events) != 1 {
		t.Fatalf("expected a single interruption, got %d", len(events))
	}
	event := events[0]
	if event.ID != pending.ID {
		t.Fatalf("expected audio_stop to finalize the pending event")
	}
	if !event.ClearIssuedTs.Equal(clearedAt) {
		t.Fatalf("expected clear stamp to be set once")
	}
	if pb.clears != 1 {
		t.Fatalf("expected exactly one clear, got %d", pb.clears)
	}
	if *event.TimeFromCancelMs != 80 {
		t.Fatalf("expected 80ms from cancel, got %v", *event.TimeFromCancelMs)
	}
	if *event.ClearAfterAudioStopMs != -200 {
		t.Fatalf("expected client clear 200ms ahead of audio stop, got %v", *event.ClearAfterAudioStopMs)
	}
	if event.Stage != "early" || event.Reason != "barge_in" {
		t.Fatalf("unexpected stage/reason %q/%q", event.Stage, event.Reason)
	}

	names := make([]string, 0, len(event.Actions))
	for _, action := range event.Actions {
		names = append(names, action.Name)
	}
	want := []string{actionPartialSpeech, actionClientClear, actionTTSCancelled, actionAudioStop}
	if len(names) != len(want) {
		t.Fatalf("expected actions %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected actions %v, got %v", want, names)
		}
	}

	if _, ok := coordinator.Pending(); ok {
		t.Fatalf("expected audio_stop to release the event")
	}
	if len(finalized) != 2 {
		t.Fatalf("expected finalize callbacks for partial and audio_stop, got %d", len(finalized))
	}
}

func TestScenarioPartialDuringStreamThenAudioStop(t *testing.T) {
	pipeline := playback.New(playback.WithOutputSampleRate(16000))
	coordinator, clock := newTestCoordinator(pipeline)

	frame := messages.AudioFrame{FrameIndex: 0, TotalFrames: 10, SampleRate: 16000, IsFinal: false}
	coordinator.OnAudioFrame(frame.FrameIndex)
	pipeline.Push(make([]float32, 1600), frame.SampleRate)

	clock.Advance(50 * time.Millisecond)
	coordinator.OnPartialSpeech("stt_partial", nil)
	clock.Advance(300 * time.Millisecond)
	coordinator.OnControl(messages.ActionAudioStop, "stt_partial", "", "")

	if events := coordinator.Events(); len(events) != 1 {
		t.Fatalf("expected audio_stop to reuse the pending event, got %d events", len(events))
	}
}

func TestRapidSecondPartialReusesEvent(t *testing.T) {
	pb := &fakePlayback{active: true}
	coordinator, clock := newTestCoordinator(pb)

	coordinator.OnPartialSpeech("stt_partial", nil)
	clock.Advance(500 * time.Millisecond)
	pb.active = true
	coordinator.OnPartialSpeech("stt_partial", nil)

	if events := coordinator.Events(); len(events) != 1 {
		t.Fatalf("expected partials within the window to share an event, got %d", len(events))
	}
	if pb.clears != 2 {
		t.Fatalf("expected both partials to clear playback, got %d", pb.clears)
	}

	clock.Advance(DefaultKeepPendingWindow)
	pb.active = true
	coordinator.OnPartialSpeech("stt_partial", nil)
	if events := coordinator.Events(); len(events) != 2 {
		t.Fatalf("expected a new event after the window, got %d", len(events))
	}
}

func TestKeepPendingWindowIsConfigurable(t *testing.T) {
	pb := &fakePlayback{active: true}
	coordinator, clock := newTestCoordinator(pb, WithKeepPendingWindow(100*time.Millisecond))

	coordinator.OnPartialSpeech("stt_partial", nil)
	if _, ok := coordinator.Pending(); !ok {
		t.Fatalf("expected the interruption to stay pending")
	}

	clock.Advance(150 * time.Millisecond)
	pb.active = true
	coordinator.OnPartialSpeech("stt_partial", nil)
	if events := coordinator.Events(); len(events) != 2 {
		t.Fatalf("expected the shorter window to open a new event, got %d", len(events))
	}
}

func TestServerOnlyCancellationClearsOnAudioStop(t *testing.T) {
	pb := &fakePlayback{active: true}
	coordinator, clock := newTestCoordinator(pb)

	coordinator.OnAudioFrame(3)
	clock.Advance(40 * time.Millisecond)
	coordinator.OnControl(messages.ActionTTSCancelled, "server_vad", "late", "")
	if pb.clears != 0 {
		t.Fatalf("expected tts_cancelled alone not to clear playback")
	}
	if _, ok := coordinator.Pending(); !ok {
		t.Fatalf("expected tts_cancelled to open a pending event")
	}

	clock.Advance(60 * time.Millisecond)
	coordinator.OnControl(messages.ActionAudioStop, "", "", "")
	if pb.clears != 1 {
		t.Fatalf("expected audio_stop to clear playback, got %d clears", pb.clears)
	}

	event := coordinator.Events()[0]
	if !event.Finalized || event.KeepPending {
		t.Fatalf("expected finalized, released event, got %+v", event)
	}
	if *event.TotalClearMs != 60 || *event.ClearAfterAudioStopMs != 0 {
		t.Fatalf("unexpected latencies total=%v after_stop=%v", *event.TotalClearMs, *event.ClearAfterAudioStopMs)
	}
	if event.Trigger != "server_vad" {
		t.Fatalf("unexpected trigger %q", event.Trigger)
	}
}

func TestInterruptedAudioIsSuppressed(t *testing.T) {
	pb := &fakePlayback{active: true}
	coordinator, clock := newTestCoordinator(pb)

	coordinator.OnPartialSpeech("stt_partial", nil)

	if coordinator.AllowAudio(6, true) {
		t.Fatalf("expected late frame of interrupted stream to be dropped")
	}
	if coordinator.AllowAudio(-1, false) {
		t.Fatalf("expected raw audio to be dropped right after the interruption")
	}
	if !coordinator.AllowAudio(0, true) {
		t.Fatalf("expected a new stream to be played")
	}
	if !coordinator.AllowAudio(1, true) {
		t.Fatalf("expected suppression to be lifted by the new stream")
	}

	pb.active = true
	clock.Advance(DefaultKeepPendingWindow)
	coordinator.OnPartialSpeech("stt_partial", nil)
	coordinator.OnControl(messages.ActionAudioStop, "", "", "")
	if !coordinator.AllowAudio(9, true) {
		t.Fatalf("expected audio_stop to lift suppression")
	}

	pb.active = true
	clock.Advance(DefaultKeepPendingWindow)
	coordinator.OnPartialSpeech("stt_partial", nil)
	clock.Advance(DefaultKeepPendingWindow)
	if !coordinator.AllowAudio(-1, false) {
		t.Fatalf("expected raw audio suppression to lapse after the window")
	}
}

func TestNewStreamReleasesKeptEvent(t *testing.T) {
	pb := &fakePlayback{active: true}
	coordinator, _ := newTestCoordinator(pb)

	coordinator.OnPartialSpeech("stt_partial", nil)
	coordinator.OnAudioFrame(0)

	if _, ok := coordinator.Pending(); ok {
		t.Fatalf("expected a new stream to release the kept event")
	}
}

func TestResetReleasesPendingEvent(t *testing.T) {
	pb := &fakePlayback{active: true}
	coordinator, _ := newTestCoordinator(pb)

	coordinator.OnControl(messages.ActionTTSCancelled, "", "", "")
	coordinator.Reset()
	coordinator.Reset()

	if _, ok := coordinator.Pending(); ok {
		t.Fatalf("expected reset to release the pending event")
	}
	if !coordinator.AllowAudio(4, true) {
		t.Fatalf("expected reset to lift suppression")
	}
}
