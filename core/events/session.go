package events

const (
	// KindSessionOpened identifies an established connection.
	KindSessionOpened Kind = "session.opened"
	// KindSessionClosed identifies a lost connection.
	KindSessionClosed Kind = "session.closed"
	// KindSessionEnded identifies the end of the session.
	KindSessionEnded Kind = "session.ended"
	// KindLiveAgentTransfer identifies a hand over to a human agent.
	KindLiveAgentTransfer Kind = "session.live_agent_transfer"
	// KindBackendHealthChanged identifies a change of backend health.
	KindBackendHealthChanged Kind = "session.backend_health_changed"
)

// SessionOpened marks an established connection.
type SessionOpened struct {
	Base
	SessionID string
}

// NewSessionOpened creates a session opened event.
func NewSessionOpened(sessionID string) SessionOpened {
	return SessionOpened{Base: NewBase(KindSessionOpened), SessionID: sessionID}
}

// SessionClosed marks a lost connection.
type SessionClosed struct {
	Base
	Code   int
	Reason string
	// Reconnecting is false when the session will not come back on its own.
	Reconnecting bool
}

// NewSessionClosed creates a session closed event.
func NewSessionClosed(code int, reason string, reconnecting bool) SessionClosed {
	return SessionClosed{Base: NewBase(KindSessionClosed), Code: code, Reason: reason, Reconnecting: reconnecting}
}

// SessionEnded marks a server-signalled end of the session.
type SessionEnded struct {
	Base
	Reason string
	// Terminal is set when reconnection was disabled by the reason.
	Terminal bool
}

// NewSessionEnded creates a session ended event.
func NewSessionEnded(reason string, terminal bool) SessionEnded {
	return SessionEnded{Base: NewBase(KindSessionEnded), Reason: reason, Terminal: terminal}
}

// LiveAgentTransfer marks a hand over to a human agent.
type LiveAgentTransfer struct {
	Base
	Reason string
}

// NewLiveAgentTransfer creates a live agent transfer event.
func NewLiveAgentTransfer(reason string) LiveAgentTransfer {
	return LiveAgentTransfer{Base: NewBase(KindLiveAgentTransfer), Reason: reason}
}

// BackendHealthChanged reports the result of the health check when it
// differs from the previous one.
type BackendHealthChanged struct {
	Base
	Healthy bool
	Error   string
}

// NewBackendHealthChanged creates a backend health changed event.
func NewBackendHealthChanged(healthy bool, err error) BackendHealthChanged {
	event := BackendHealthChanged{Base: NewBase(KindBackendHealthChanged), Healthy: healthy}
	if err != nil {
		event.Error = err.Error()
	}
	return event
}
