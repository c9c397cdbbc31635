// Package session holds the per-conversation runtime state and its
// persistence. A Runtime is a pure data bundle; all behavior lives in the
// context store and the Manager.
package session

import (
	"time"

	"github.com/harun/kagent/pkg/toolexec"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn-unit in conversation history. Content may be empty on
// assistant messages that only carry tool calls. ToolCallID is set only on
// tool-role messages and must reference a tool call emitted by the nearest
// preceding assistant message.
type Message struct {
	Role       string              `json:"role"`
	Content    string              `json:"content"`
	ToolCalls  []toolexec.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string              `json:"tool_call_id,omitempty"`
	Timestamp  time.Time           `json:"timestamp,omitempty"`
}

// Runtime is the state of one conversation session. It has no behavior:
// history is mutated only through the context store, persistence only
// through the Manager.
type Runtime struct {
	SessionID    string    `json:"session_id"`
	SystemPrompt string    `json:"system_prompt"`
	LoadedTools  []string  `json:"loaded_tools,omitempty"`
	ActiveSkills []string  `json:"active_skills,omitempty"`
	History      []Message `json:"history"`
	TokenCount   int       `json:"token_count"`
}

// NewRuntime creates an empty runtime for a session id.
func NewRuntime(sessionID string) *Runtime {
	return &Runtime{
		SessionID: sessionID,
		History:   []Message{},
	}
}
