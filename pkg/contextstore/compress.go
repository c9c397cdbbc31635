package contextstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/harun/kagent/internal/observability"
	"github.com/harun/kagent/pkg/session"
)

// summaryPrefix marks the assistant message that replaces a compressed
// history prefix.
const summaryPrefix = "[conversation summary]"

// Summarizer condenses a slice of messages into a short text. Implementations
// are typically LLM-backed; a nil summarizer falls back to a count-only
// placeholder.
type Summarizer interface {
	Summarize(ctx context.Context, messages []session.Message) (string, error)
}

// Compress reduces history when the token estimate exceeds the budget. The
// most recent keepRecent messages are preserved verbatim; the cut is moved
// backward past tool messages so the kept suffix never starts with an
// orphaned tool result. The dropped prefix is replaced by a single assistant
// summary message. Returns the post-compression estimate. Compressing a
// compliant history is a no-op.
func (s *Store) Compress(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runtime == nil {
		return 0, fmt.Errorf("no runtime bound")
	}

	rt := s.runtime
	if rt.TokenCount <= s.budget {
		return rt.TokenCount, nil
	}

	cut := len(rt.History) - s.keepRecent
	for cut > 0 && rt.History[cut].Role == session.RoleTool {
		cut--
	}

	// No compressible prefix: either the history is short, or it already
	// collapsed to a summary plus the protected suffix. Warn and keep the
	// oversized context rather than fail the turn.
	if cut <= 0 || (cut == 1 && isSummary(rt.History[0])) {
		log.Warn().
			Int("tokens", rt.TokenCount).
			Int("budget", s.budget).
			Msg("History cannot be reduced below budget")
		return rt.TokenCount, nil
	}

	prefix := rt.History[:cut]
	suffix := rt.History[cut:]

	summary := s.summarize(ctx, prefix)

	compressed := make([]session.Message, 0, len(suffix)+1)
	compressed = append(compressed, session.Message{
		Role:      session.RoleAssistant,
		Content:   summaryPrefix + " " + summary,
		Timestamp: time.Now(),
	})
	compressed = append(compressed, suffix...)

	before := rt.TokenCount
	rt.History = compressed
	rt.TokenCount = estimateHistory(rt.History)

	observability.RecordCompression()
	observability.SetContextTokens(rt.TokenCount)

	log.Info().
		Int("before", before).
		Int("after", rt.TokenCount).
		Int("summarized", len(prefix)).
		Int("kept", len(suffix)).
		Msg("Context compressed")

	if rt.TokenCount > s.budget {
		log.Warn().
			Int("tokens", rt.TokenCount).
			Int("budget", s.budget).
			Msg("Context still over budget after compression")
	}

	return rt.TokenCount, nil
}

func isSummary(msg session.Message) bool {
	return msg.Role == session.RoleAssistant && strings.HasPrefix(msg.Content, summaryPrefix)
}

func (s *Store) summarize(ctx context.Context, prefix []session.Message) string {
	if s.summarizer == nil {
		return fmt.Sprintf("%d earlier messages omitted", len(prefix))
	}

	summary, err := s.summarizer.Summarize(ctx, prefix)
	if err != nil || strings.TrimSpace(summary) == "" {
		log.Warn().Err(err).Msg("Summarizer failed, using placeholder")
		return fmt.Sprintf("%d earlier messages omitted", len(prefix))
	}
	return summary
}

// Transcript renders messages for summarization: tool messages are skipped
// and tool-call turns are noted without their payloads.
func Transcript(messages []session.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		if msg.Role == session.RoleTool || msg.Content == "" && len(msg.ToolCalls) == 0 {
			continue
		}
		b.WriteString(capitalize(msg.Role))
		b.WriteString(": ")
		b.WriteString(msg.Content)
		if len(msg.ToolCalls) > 0 {
			b.WriteString(" [used tools]")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
