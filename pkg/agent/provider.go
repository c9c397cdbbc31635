package agent

import (
	"context"
	"fmt"

	"github.com/harun/kagent/pkg/session"
	"github.com/harun/kagent/pkg/toolexec"
)

// CompletionRequest carries one model call: full history (including any
// leading system message) plus the tool schema the model may use.
type CompletionRequest struct {
	Model       string
	Messages    []session.Message
	Tools       []toolexec.ToolSchema
	Temperature float64
	MaxTokens   int
}

// Completion is a normalized model response.
type Completion struct {
	Content   string
	ToolCalls []toolexec.ToolCall
	Usage     *TokenUsage
}

// TokenUsage tracks token consumption of one completion.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Provider is an LLM backend. Transport and rate-limit errors are returned
// untouched; the loop surfaces them without retrying.
type Provider interface {
	Complete(ctx context.Context, request CompletionRequest) (*Completion, error)
	Name() string
}

// NewProvider creates a provider by name.
func NewProvider(name, apiKey string) (Provider, error) {
	switch name {
	case "openai":
		return NewOpenAIProvider(apiKey), nil
	case "anthropic":
		return NewAnthropicProvider(apiKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}
