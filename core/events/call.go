package events

const (
	// KindCallInitiated identifies a placed outbound call.
	KindCallInitiated Kind = "call.initiated"
	// KindCallRelayMessage identifies a message of a monitored call.
	KindCallRelayMessage Kind = "call.relay_message"
)

// CallInitiated marks a placed outbound call.
type CallInitiated struct {
	Base
	CallID      string
	PhoneNumber string
}

// NewCallInitiated creates a call initiated event.
func NewCallInitiated(callID, phoneNumber string) CallInitiated {
	return CallInitiated{Base: NewBase(KindCallInitiated), CallID: callID, PhoneNumber: phoneNumber}
}

// CallRelayMessage carries one message of a monitored call.
type CallRelayMessage struct {
	Base
	Sender string
	Text   string
	// FromUser is true for the caller's side of the conversation.
	FromUser bool
}

// NewCallRelayMessage creates a call relay message event.
func NewCallRelayMessage(sender, text string, fromUser bool) CallRelayMessage {
	return CallRelayMessage{Base: NewBase(KindCallRelayMessage), Sender: sender, Text: text, FromUser: fromUser}
}
