package toolexec

import "context"

// ToolParameter defines a single parameter in a tool's schema.
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// ToolDefinition declares a callable capability: metadata plus handler.
// Definitions are immutable after registration.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	Handler     ToolHandler     `json:"-"`
}

// ToolHandler is the function signature for tool execution.
type ToolHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// ToolSchema is the model-facing view of a registered tool.
type ToolSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// ToolCall is a model-requested invocation of a registered tool.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolResult is the outcome of one tool execution. Output and Error are
// mutually exclusive; CallID ties the result back to the requesting call.
type ToolResult struct {
	CallID  string      `json:"call_id"`
	Name    string      `json:"name"`
	Success bool        `json:"success"`
	Output  interface{} `json:"output,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Observer receives a notification after each individual tool execution.
type Observer func(name string, args map[string]interface{}, result ToolResult)
