package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/kagent/pkg/contextstore"
	"github.com/harun/kagent/pkg/session"
)

const summarizerPrompt = `Condense the following conversation into a short factual summary.
Keep decisions, open tasks, file paths and anything the assistant must remember to continue.
Reply with the summary only.`

// LLMSummarizer condenses conversation history through a model provider. It
// satisfies contextstore.Summarizer.
type LLMSummarizer struct {
	provider Provider
	model    string
}

// NewLLMSummarizer creates a summarizer backed by the given provider/model.
func NewLLMSummarizer(provider Provider, model string) *LLMSummarizer {
	return &LLMSummarizer{provider: provider, model: model}
}

// Summarize renders the messages as a transcript and asks the model for a
// condensed rewrite.
func (s *LLMSummarizer) Summarize(ctx context.Context, messages []session.Message) (string, error) {
	transcript := contextstore.Transcript(messages)
	if strings.TrimSpace(transcript) == "" {
		return fmt.Sprintf("%d earlier messages omitted", len(messages)), nil
	}

	completion, err := s.provider.Complete(ctx, CompletionRequest{
		Model: s.model,
		Messages: []session.Message{
			{Role: session.RoleSystem, Content: summarizerPrompt},
			{Role: session.RoleUser, Content: transcript},
		},
		MaxTokens: 1024,
	})
	if err != nil {
		return "", fmt.Errorf("summarization call failed: %w", err)
	}

	return strings.TrimSpace(completion.Content), nil
}
