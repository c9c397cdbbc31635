package agent

import "github.com/harun/kagent/pkg/toolexec"

// EventType identifies a stage of turn processing.
type EventType string

const (
	EventUserInput         EventType = "user_input"
	EventAssistantThinking EventType = "assistant_thinking"
	EventToolCall          EventType = "tool_call"
	EventToolResult        EventType = "tool_result"
	EventAssistantResponse EventType = "assistant_response"
	EventError             EventType = "error"
)

// Event is one lifecycle notification from the turn loop. Fields beyond
// Type/Content are populated per event kind: tool events carry the tool
// name, arguments and result; error events carry Err.
type Event struct {
	Type       EventType              `json:"type"`
	TurnID     string                 `json:"turn_id"`
	SessionID  string                 `json:"session_id"`
	Content    string                 `json:"content,omitempty"`
	ToolName   string                 `json:"tool_name,omitempty"`
	Arguments  map[string]interface{} `json:"arguments,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
	Result     *toolexec.ToolResult   `json:"result,omitempty"`
	Err        string                 `json:"error,omitempty"`
}

// EventObserver receives loop events. Emission is fire-and-forget: observer
// panics are swallowed and never affect loop state.
type EventObserver func(Event)
