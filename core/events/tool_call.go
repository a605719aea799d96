package events

const (
	// KindToolCallStarted identifies tool call execution start.
	KindToolCallStarted Kind = "tool_call.started"
	// KindToolCallProgress identifies a tool call progress report.
	KindToolCallProgress Kind = "tool_call.progress"
	// KindToolCallCompleted identifies successful tool call completion.
	KindToolCallCompleted Kind = "tool_call.completed"
	// KindToolCallFailed identifies tool call failure.
	KindToolCallFailed Kind = "tool_call.failed"
)

// ToolCallStarted marks start of tool execution.
type ToolCallStarted struct {
	Base
	Name string
}

// NewToolCallStarted creates a tool call started event.
func NewToolCallStarted(name string) ToolCallStarted {
	return ToolCallStarted{Base: NewBase(KindToolCallStarted), Name: name}
}

// ToolCallProgress reports how far a tool run got, in percent.
type ToolCallProgress struct {
	Base
	Name     string
	Progress float64
}

// NewToolCallProgress creates a tool call progress event.
func NewToolCallProgress(name string, progress float64) ToolCallProgress {
	return ToolCallProgress{Base: NewBase(KindToolCallProgress), Name: name, Progress: progress}
}

// ToolCallCompleted marks successful tool execution.
type ToolCallCompleted struct {
	Base
	Name      string
	Response  string
	ElapsedMs float64
}

// NewToolCallCompleted creates a tool call completed event.
func NewToolCallCompleted(name, response string, elapsedMs float64) ToolCallCompleted {
	return ToolCallCompleted{Base: NewBase(KindToolCallCompleted), Name: name, Response: response, ElapsedMs: elapsedMs}
}

// ToolCallFailed marks failed tool execution.
type ToolCallFailed struct {
	Base
	Name      string
	Error     string
	ElapsedMs float64
}

// NewToolCallFailed creates a tool call failed event.
func NewToolCallFailed(name, err string, elapsedMs float64) ToolCallFailed {
	return ToolCallFailed{Base: NewBase(KindToolCallFailed), Name: name, Error: err, ElapsedMs: elapsedMs}
}
