// Package contextstore owns the ordered conversation history of one bound
// session runtime: invariant-checked appends, token accounting, and
// budget-driven compression.
package contextstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/harun/kagent/internal/observability"
	"github.com/harun/kagent/pkg/session"
)

// ErrInvalidSequence is returned when an append would violate the
// tool-call/tool-result ordering invariant.
var ErrInvalidSequence = errors.New("invalid message sequence")

// Defaults for the compression policy.
const (
	DefaultTokenBudget = 140000
	DefaultKeepRecent  = 6
)

// Config tunes the store's compression policy.
type Config struct {
	TokenBudget int
	KeepRecent  int
}

// SkillResolver maps an active skill name to its prompt content.
type SkillResolver func(name string) (string, bool)

// Store operates on exactly one session runtime at a time. Swapping
// runtimes is a pointer replacement; the store never copies state into or
// out of an old runtime.
type Store struct {
	runtime      *session.Runtime
	budget       int
	keepRecent   int
	summarizer   Summarizer
	basePrompt   string
	resolveSkill SkillResolver
	mu           sync.Mutex
}

// New creates a Store bound to rt.
func New(rt *session.Runtime, cfg Config) *Store {
	observability.EnsureRegistered()

	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = DefaultTokenBudget
	}
	if cfg.KeepRecent <= 0 {
		cfg.KeepRecent = DefaultKeepRecent
	}

	s := &Store{
		runtime:    rt,
		budget:     cfg.TokenBudget,
		keepRecent: cfg.KeepRecent,
	}
	if rt != nil {
		s.basePrompt = rt.SystemPrompt
		rt.TokenCount = estimateHistory(rt.History)
	}
	return s
}

// SetSummarizer installs the summarizer used during compression.
func (s *Store) SetSummarizer(sum Summarizer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summarizer = sum
}

// Runtime returns the currently bound runtime.
func (s *Store) Runtime() *session.Runtime {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runtime
}

// UpdateRuntime atomically swaps the bound runtime. The previous runtime is
// neither read nor mutated afterward.
func (s *Store) UpdateRuntime(rt *session.Runtime) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runtime = rt
	if rt != nil {
		rt.TokenCount = estimateHistory(rt.History)
		observability.SetContextTokens(rt.TokenCount)
		log.Debug().Str("session_id", rt.SessionID).Int("messages", len(rt.History)).Msg("Runtime swapped")
	}
}

// SetSkillResolver installs the lookup used to expand active skill names
// into prompt text when the system prompt is composed.
func (s *Store) SetSkillResolver(fn SkillResolver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolveSkill = fn
}

// SetSystemPrompt replaces the base system prompt and recomposes the bound
// runtime's prompt from it plus any active skills. History is untouched; the
// prompt is injected at read time.
func (s *Store) SetSystemPrompt(prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.basePrompt = prompt
	s.composePromptLocked()
}

// ActivateSkill marks a skill active on the bound runtime and extends the
// system prompt with its content. Returns false when no runtime is bound or
// the skill is already active.
func (s *Store) ActivateSkill(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runtime == nil {
		return false
	}
	for _, active := range s.runtime.ActiveSkills {
		if active == name {
			return false
		}
	}

	s.runtime.ActiveSkills = append(s.runtime.ActiveSkills, name)
	s.composePromptLocked()
	log.Info().Str("session_id", s.runtime.SessionID).Str("skill", name).Msg("Skill activated")
	return true
}

// composePromptLocked rebuilds the runtime's system prompt as the base
// prompt followed by the content of each active skill. Skills that no longer
// resolve are dropped from the prompt but stay listed on the runtime.
func (s *Store) composePromptLocked() {
	if s.runtime == nil {
		return
	}

	parts := make([]string, 0, 1+len(s.runtime.ActiveSkills))
	if s.basePrompt != "" {
		parts = append(parts, s.basePrompt)
	}
	if s.resolveSkill != nil {
		for _, name := range s.runtime.ActiveSkills {
			if content, ok := s.resolveSkill(name); ok && content != "" {
				parts = append(parts, content)
			}
		}
	}
	s.runtime.SystemPrompt = strings.Join(parts, "\n\n")
}

// Append validates the ordering invariant and adds a message to history,
// updating the running token estimate.
func (s *Store) Append(msg session.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runtime == nil {
		return fmt.Errorf("no runtime bound")
	}

	if err := validateAppend(s.runtime.History, msg); err != nil {
		return err
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	s.runtime.History = append(s.runtime.History, msg)
	s.runtime.TokenCount += estimateMessage(msg)
	observability.SetContextTokens(s.runtime.TokenCount)

	return nil
}

// validateAppend enforces: a tool message must carry a tool_call_id that
// matches a tool call on the nearest preceding assistant message, with only
// other tool messages in between.
func validateAppend(history []session.Message, msg session.Message) error {
	switch msg.Role {
	case session.RoleUser, session.RoleAssistant, session.RoleSystem:
		return nil
	case session.RoleTool:
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidSequence, msg.Role)
	}

	if msg.ToolCallID == "" {
		return fmt.Errorf("%w: tool message without tool_call_id", ErrInvalidSequence)
	}

	for i := len(history) - 1; i >= 0; i-- {
		prev := history[i]
		if prev.Role == session.RoleTool {
			continue
		}
		if prev.Role != session.RoleAssistant {
			break
		}
		for _, tc := range prev.ToolCalls {
			if tc.ID == msg.ToolCallID {
				return nil
			}
		}
		break
	}

	return fmt.Errorf("%w: tool message %s does not match a pending tool call", ErrInvalidSequence, msg.ToolCallID)
}

// History returns a copy of the conversation, prefixed with a synthetic
// system message when a system prompt is set.
func (s *Store) History() []session.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runtime == nil {
		return nil
	}

	out := make([]session.Message, 0, len(s.runtime.History)+1)
	if s.runtime.SystemPrompt != "" {
		out = append(out, session.Message{
			Role:    session.RoleSystem,
			Content: s.runtime.SystemPrompt,
		})
	}
	out = append(out, s.runtime.History...)
	return out
}

// EstimateTokens returns the running token estimate of the history.
func (s *Store) EstimateTokens() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runtime == nil {
		return 0
	}
	return s.runtime.TokenCount
}

// Reset clears history and the token estimate, preserving session identity,
// loaded tools and the system prompt.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runtime == nil {
		return
	}
	s.runtime.History = []session.Message{}
	s.runtime.TokenCount = 0
	observability.SetContextTokens(0)
}

// estimateMessage approximates tokens for one message: content plus
// tool-call names and serialized arguments, at roughly four characters per
// token.
func estimateMessage(msg session.Message) int {
	chars := len(msg.Content)
	for _, tc := range msg.ToolCalls {
		chars += len(tc.Name)
		if len(tc.Arguments) > 0 {
			if raw, err := json.Marshal(tc.Arguments); err == nil {
				chars += len(raw)
			}
		}
	}
	return (chars + 3) / 4
}

func estimateHistory(history []session.Message) int {
	total := 0
	for _, msg := range history {
		total += estimateMessage(msg)
	}
	return total
}
