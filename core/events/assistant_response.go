package events

const (
	// KindAssistantResponseSegment identifies streamed assistant response text.
	KindAssistantResponseSegment Kind = "assistant_response.segment"
	// KindAssistantResponseFinal identifies the complete assistant response.
	KindAssistantResponseFinal Kind = "assistant_response.final"
)

// AssistantResponseSegment carries one streamed response delta.
type AssistantResponseSegment struct {
	Base
	Sender  string
	Segment string
}

// NewAssistantResponseSegment creates a response segment event.
func NewAssistantResponseSegment(sender, segment string) AssistantResponseSegment {
	return AssistantResponseSegment{Base: NewBase(KindAssistantResponseSegment), Sender: sender, Segment: segment}
}

// AssistantResponseFinal carries the complete response text.
type AssistantResponseFinal struct {
	Base
	Sender string
	Text   string
}

// NewAssistantResponseFinal creates a response final event.
func NewAssistantResponseFinal(sender, text string) AssistantResponseFinal {
	return AssistantResponseFinal{Base: NewBase(KindAssistantResponseFinal), Sender: sender, Text: text}
}
