package turns

import (
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestTracker(opts ...TrackerOption) (*Tracker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	return NewTracker(append([]TrackerOption{WithClock(clock.Now)}, opts...)...), clock
}

func TestTurnCompletesAfterFinalAudioFrame(t *testing.T) {
	var summaries []Summary
	tracker, clock := newTestTracker(WithSummaryCallback(func(s Summary) {
		summaries = append(summaries, s)
	}))

	tracker.RegisterUserTurn("hello")
	clock.Advance(300 * time.Millisecond)
	tracker.RegisterAssistantStreaming("Assistant")
	clock.Advance(200 * time.Millisecond)
	tracker.RegisterAudioFrame(0, 5, false)
	clock.Advance(time.Second)
	tracker.RegisterAudioFrame(4, 5, true)

	turns := tracker.Turns()
	if len(turns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(turns))
	}
	turn := turns[0]
	if turn.State != StateCompleted {
		t.Fatalf("expected completed turn, got %s", turn.State)
	}
	if turn.TotalLatency == nil || *turn.TotalLatency <= 0 {
		t.Fatalf("expected positive total latency, got %v", turn.TotalLatency)
	}
	if *turn.TotalLatency != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s total latency, got %v", *turn.TotalLatency)
	}
	if *turn.FirstTokenLatency != 300*time.Millisecond {
		t.Fatalf("expected 300ms first token latency, got %v", *turn.FirstTokenLatency)
	}
	if *turn.PlaybackDuration != time.Second {
		t.Fatalf("expected 1s playback, got %v", *turn.PlaybackDuration)
	}
	if turn.AudioFrames != 2 || turn.TotalFrames != 5 {
		t.Fatalf("unexpected frame counts %d/%d", turn.AudioFrames, turn.TotalFrames)
	}
	if _, ok := tracker.AwaitingAudio(); ok {
		t.Fatalf("expected no turn awaiting audio after completion")
	}

	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(summaries))
	}
	if summaries[0].TotalLatencyMs != 1500 || summaries[0].SessionFirstTokenMs != 300 {
		t.Fatalf("unexpected summary %+v", summaries[0])
	}
}

func TestFullTurnLifecycleStates(t *testing.T) {
	tracker, clock := newTestTracker()

	turn := tracker.RegisterUserTurn("what's the weather")
	if turn.State != StateAwaitingFirstToken {
		t.Fatalf("expected awaiting first token, got %s", turn.State)
	}

	steps := []struct {
		apply func()
		state State
	}{
		{apply: func() { tracker.RegisterAssistantStreaming("Assistant") }, state: StateStreaming},
		{apply: func() { tracker.RegisterAssistantStreaming("Assistant") }, state: StateStreaming},
		{apply: func() { tracker.RegisterAssistantFinal("Assistant") }, state: StateAwaitingAudio},
		{apply: func() { tracker.RegisterAudioFrame(0, 3, false) }, state: StateAudioPlaying},
		{apply: func() { tracker.RegisterAudioFrame(1, 3, false) }, state: StateAudioPlaying},
		{apply: func() { tracker.RegisterAudioFrame(2, 3, true) }, state: StateCompleted},
	}
	for i, step := range steps {
		clock.Advance(100 * time.Millisecond)
		step.apply()
		got := tracker.Turns()[0].State
		if got != step.state {
			t.Fatalf("step %d: expected %s, got %s", i, step.state, got)
		}
	}

	completed := tracker.Turns()[0]
	if *completed.FinalToAudio != 100*time.Millisecond {
		t.Fatalf("expected 100ms final to audio, got %v", *completed.FinalToAudio)
	}
	if *completed.FinalLatency != 300*time.Millisecond {
		t.Fatalf("expected 300ms final latency, got %v", *completed.FinalLatency)
	}
}

func TestLateFinalTextDoesNotReopenCompletedTurn(t *testing.T) {
	tracker, clock := newTestTracker()

	tracker.RegisterUserTurn("hello")
	clock.Advance(200 * time.Millisecond)
	tracker.RegisterAudioFrame(2, 3, true)
	if state := tracker.Turns()[0].State; state != StateCompleted {
		t.Fatalf("expected final frame to complete the turn, got %s", state)
	}

	clock.Advance(100 * time.Millisecond)
	tracker.RegisterAssistantFinal("Assistant")

	turn := tracker.Turns()[0]
	if turn.State != StateCompleted {
		t.Fatalf("expected late final text to leave the turn completed, got %s", turn.State)
	}
	if turn.FinalTextTs != nil {
		t.Fatalf("expected no final text timestamp on the completed turn, got %v", turn.FinalTextTs)
	}
	if _, ok := tracker.AwaitingAudio(); ok {
		t.Fatalf("expected no turn awaiting audio")
	}
}

func TestTurnIDsStrictlyIncreaseAndAudioFollowsText(t *testing.T) {
	tracker, clock := newTestTracker()

	for i := 0; i < 5; i++ {
		tracker.RegisterUserTurn("question")
		clock.Advance(50 * time.Millisecond)
		if i%2 == 0 {
			tracker.RegisterAssistantFinal("Assistant")
			clock.Advance(50 * time.Millisecond)
		}
		tracker.RegisterAudioFrame(0, 1, false)
		clock.Advance(50 * time.Millisecond)
		if i%2 == 0 {
			// A late final must not rewrite the text milestone.
			tracker.RegisterAssistantFinal("Assistant")
		}
		tracker.RegisterAudioFrame(1, 1, true)
		clock.Advance(50 * time.Millisecond)
	}

	turns := tracker.Turns()
	if len(turns) != 5 {
		t.Fatalf("expected 5 turns, got %d", len(turns))
	}
	for i, turn := range turns {
		if i > 0 && turn.ID <= turns[i-1].ID {
			t.Fatalf("turn ids not increasing: %d after %d", turn.ID, turns[i-1].ID)
		}
		if turn.FinalTextTs != nil && turn.AudioStartTs != nil && turn.AudioStartTs.Before(*turn.FinalTextTs) {
			t.Fatalf("turn %d audio started before final text", turn.ID)
		}
	}
}

func TestPartialTranscriptOpensSingleTurn(t *testing.T) {
	tracker, clock := newTestTracker()

	first := tracker.RegisterUserPartial("wha")
	clock.Advance(100 * time.Millisecond)
	second := tracker.RegisterUserPartial("what time")
	if first.ID != second.ID {
		t.Fatalf("expected partials to share a turn, got %d and %d", first.ID, second.ID)
	}

	clock.Advance(100 * time.Millisecond)
	final := tracker.RegisterUserTurn("what time is it")
	if final.ID != first.ID || final.Partial {
		t.Fatalf("expected final transcript to promote the partial turn, got %+v", final)
	}
	if !final.UserTs.Equal(clock.Now()) {
		t.Fatalf("expected user timestamp to move to the final transcript")
	}

	if turns := tracker.Turns(); len(turns) != 1 || turns[0].UserText != "what time is it" {
		t.Fatalf("unexpected turns %+v", turns)
	}

	tracker.RegisterAssistantStreaming("Assistant")
	next := tracker.RegisterUserPartial("actually")
	if next.ID == first.ID {
		t.Fatalf("expected a partial after the response started to open a new turn")
	}
}

func TestNewUserTurnTakesOverAwaitingAudio(t *testing.T) {
	tracker, _ := newTestTracker()

	tracker.RegisterUserTurn("first")
	tracker.RegisterAssistantFinal("Assistant")
	tracker.RegisterUserTurn("second")

	awaiting, ok := tracker.AwaitingAudio()
	if !ok || awaiting.UserText != "second" {
		t.Fatalf("expected second turn to await audio, got %+v", awaiting)
	}
	if state := tracker.Turns()[0].State; state != StateFinalTextReceived {
		t.Fatalf("expected superseded turn to keep its text state, got %s", state)
	}
}

func TestTimeToFirstTokenRecordedOnce(t *testing.T) {
	tracker, clock := newTestTracker()

	if _, ok := tracker.TimeToFirstToken(); ok {
		t.Fatalf("expected no time to first token before any response")
	}

	tracker.RegisterUserTurn("one")
	clock.Advance(250 * time.Millisecond)
	tracker.RegisterAssistantStreaming("Assistant")

	tracker.RegisterUserTurn("two")
	clock.Advance(900 * time.Millisecond)
	tracker.RegisterAssistantStreaming("Assistant")

	ttft, ok := tracker.TimeToFirstToken()
	if !ok || ttft != 250*time.Millisecond {
		t.Fatalf("expected 250ms session time to first token, got %v", ttft)
	}
}

func TestAudioWithoutTurnIsIgnored(t *testing.T) {
	tracker, _ := newTestTracker()

	tracker.RegisterAudioFrame(0, 2, false)
	tracker.RegisterAudioFrame(1, 2, true)
	tracker.RegisterAssistantStreaming("Assistant")
	tracker.RegisterAssistantFinal("Assistant")

	if turns := tracker.Turns(); len(turns) != 0 {
		t.Fatalf("expected no turns, got %d", len(turns))
	}
}

func TestTurnsReturnsCopy(t *testing.T) {
	tracker, _ := newTestTracker()
	tracker.RegisterUserTurn("hello")

	turns := tracker.Turns()
	turns[0].UserText = "changed"
	turns[0].State = StateCompleted

	if got := tracker.Turns()[0]; got.UserText != "hello" || got.State != StateAwaitingFirstToken {
		t.Fatalf("expected tracker state to be unaffected, got %+v", got)
	}
}
