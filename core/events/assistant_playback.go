package events

const (
	// KindAssistantPlaybackStarted identifies playback start for the current response.
	KindAssistantPlaybackStarted Kind = "assistant_playback.started"
	// KindAssistantPlaybackEnded identifies the last frame of a response being queued.
	KindAssistantPlaybackEnded Kind = "assistant_playback.ended"
	// KindAssistantPlaybackInterrupted identifies playback cleared by a barge-in.
	KindAssistantPlaybackInterrupted Kind = "assistant_playback.interrupted"
)

// AssistantPlaybackStarted marks the start of assistant playback.
type AssistantPlaybackStarted struct {
	Base
	TotalFrames int
}

// NewAssistantPlaybackStarted creates a playback started event.
func NewAssistantPlaybackStarted(totalFrames int) AssistantPlaybackStarted {
	return AssistantPlaybackStarted{Base: NewBase(KindAssistantPlaybackStarted), TotalFrames: totalFrames}
}

// AssistantPlaybackEnded marks that the final frame of a response was queued.
type AssistantPlaybackEnded struct{ Base }

// NewAssistantPlaybackEnded creates a playback ended event.
func NewAssistantPlaybackEnded() AssistantPlaybackEnded {
	return AssistantPlaybackEnded{Base: NewBase(KindAssistantPlaybackEnded)}
}

// AssistantPlaybackInterrupted marks playback cleared because the user
// talked over the assistant or the server cancelled speech.
type AssistantPlaybackInterrupted struct {
	Base
	InterruptionID string
	Trigger        string
	// ClearMs is the time from the first interruption signal to the clear.
	ClearMs float64
}

// NewAssistantPlaybackInterrupted creates a playback interrupted event.
func NewAssistantPlaybackInterrupted(interruptionID, trigger string, clearMs float64) AssistantPlaybackInterrupted {
	return AssistantPlaybackInterrupted{
		Base:           NewBase(KindAssistantPlaybackInterrupted),
		InterruptionID: interruptionID,
		Trigger:        trigger,
		ClearMs:        clearMs,
	}
}
