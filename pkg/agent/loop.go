package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/harun/kagent/internal/observability"
	"github.com/harun/kagent/pkg/commandqueue"
	"github.com/harun/kagent/pkg/contextstore"
	"github.com/harun/kagent/pkg/session"
	"github.com/harun/kagent/pkg/toolexec"
)

// ErrRoundLimit is returned when a turn hits the model-round ceiling before
// the model produced a plain answer.
var ErrRoundLimit = errors.New("round limit reached")

// DefaultMaxRounds caps model rounds per chat turn.
const DefaultMaxRounds = 10

const truncationNotice = "I stopped before finishing: the turn hit its tool-use round limit. Ask me to continue if you want the remaining work done."

// Config tunes the turn loop.
type Config struct {
	Model       string
	MaxRounds   int
	Temperature float64
	MaxTokens   int
}

// Loop drives chat turns for one bound session context. Turns on the same
// session are serialized through a per-session lane; the loop itself holds no
// conversation state beyond what the store carries.
type Loop struct {
	store    *contextstore.Store
	executor *toolexec.Executor
	provider Provider
	queue    *commandqueue.Queue
	observer EventObserver
	cfg      Config
}

// NewLoop assembles a turn loop.
func NewLoop(store *contextstore.Store, executor *toolexec.Executor, provider Provider, queue *commandqueue.Queue, cfg Config) *Loop {
	observability.EnsureRegistered()

	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	return &Loop{
		store:    store,
		executor: executor,
		provider: provider,
		queue:    queue,
		cfg:      cfg,
	}
}

// SetObserver installs the lifecycle event observer.
func (l *Loop) SetObserver(obs EventObserver) {
	l.observer = obs
}

// Store returns the bound context store.
func (l *Loop) Store() *contextstore.Store {
	return l.store
}

// Chat processes one user message to completion and returns the assistant's
// final answer. Concurrent calls against the same session queue up and run
// one at a time; calls against different sessions proceed independently.
func (l *Loop) Chat(ctx context.Context, text string) (string, error) {
	rt := l.store.Runtime()
	if rt == nil {
		return "", fmt.Errorf("no session bound")
	}

	lane := "session-" + rt.SessionID
	value, err := l.queue.Enqueue(ctx, lane, func(taskCtx context.Context) (interface{}, error) {
		return l.runTurn(taskCtx, text)
	})
	if err != nil {
		return "", err
	}

	answer, _ := value.(string)
	return answer, nil
}

func (l *Loop) runTurn(ctx context.Context, text string) (string, error) {
	turnID := uuid.NewString()
	sessionID := l.store.Runtime().SessionID
	start := time.Now()

	if err := l.store.Append(session.Message{
		Role:    session.RoleUser,
		Content: text,
	}); err != nil {
		return "", err
	}
	l.emit(Event{Type: EventUserInput, TurnID: turnID, SessionID: sessionID, Content: text})

	rounds := 0
	for rounds < l.cfg.MaxRounds {
		rounds++

		if _, err := l.store.Compress(ctx); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("Compression failed, continuing with full history")
		}

		completion, err := l.provider.Complete(ctx, CompletionRequest{
			Model:       l.cfg.Model,
			Messages:    l.store.History(),
			Tools:       l.toolSchemas(),
			Temperature: l.cfg.Temperature,
			MaxTokens:   l.cfg.MaxTokens,
		})
		if err != nil {
			l.emit(Event{Type: EventError, TurnID: turnID, SessionID: sessionID, Err: err.Error()})
			observability.RecordTurn("error", time.Since(start), rounds)
			log.Error().Err(err).Str("session_id", sessionID).Int("round", rounds).Msg("Provider call failed")
			return "", fmt.Errorf("provider %s: %w", l.provider.Name(), err)
		}

		if len(completion.ToolCalls) == 0 {
			if err := l.store.Append(session.Message{
				Role:    session.RoleAssistant,
				Content: completion.Content,
			}); err != nil {
				return "", err
			}
			l.emit(Event{Type: EventAssistantResponse, TurnID: turnID, SessionID: sessionID, Content: completion.Content})
			observability.RecordTurn("success", time.Since(start), rounds)
			log.Info().
				Str("session_id", sessionID).
				Int("rounds", rounds).
				Dur("duration", time.Since(start)).
				Msg("Turn completed")
			return completion.Content, nil
		}

		if completion.Content != "" {
			l.emit(Event{Type: EventAssistantThinking, TurnID: turnID, SessionID: sessionID, Content: completion.Content})
		}

		if err := l.store.Append(session.Message{
			Role:      session.RoleAssistant,
			Content:   completion.Content,
			ToolCalls: completion.ToolCalls,
		}); err != nil {
			return "", err
		}

		for _, tc := range completion.ToolCalls {
			l.emit(Event{
				Type:       EventToolCall,
				TurnID:     turnID,
				SessionID:  sessionID,
				ToolName:   tc.Name,
				Arguments:  tc.Arguments,
				ToolCallID: tc.ID,
			})
		}

		results := l.executor.ExecuteMany(ctx, completion.ToolCalls)

		for i := range results {
			result := results[i]
			if err := l.store.Append(session.Message{
				Role:       session.RoleTool,
				Content:    renderToolOutput(result),
				ToolCallID: result.CallID,
			}); err != nil {
				return "", err
			}
			l.emit(Event{
				Type:       EventToolResult,
				TurnID:     turnID,
				SessionID:  sessionID,
				ToolName:   result.Name,
				ToolCallID: result.CallID,
				Result:     &result,
			})
		}
	}

	// Round ceiling hit. Close the turn with an explicit notice so the
	// history never ends on dangling tool results.
	if err := l.store.Append(session.Message{
		Role:    session.RoleAssistant,
		Content: truncationNotice,
	}); err != nil {
		return "", err
	}
	l.emit(Event{Type: EventAssistantResponse, TurnID: turnID, SessionID: sessionID, Content: truncationNotice})
	observability.RecordTurn("truncated", time.Since(start), rounds)
	log.Warn().
		Str("session_id", sessionID).
		Int("max_rounds", l.cfg.MaxRounds).
		Msg("Turn truncated at round limit")

	return truncationNotice, ErrRoundLimit
}

// toolSchemas resolves the schema subset the bound session may use. An empty
// LoadedTools list means everything registered.
func (l *Loop) toolSchemas() []toolexec.ToolSchema {
	rt := l.store.Runtime()
	if rt == nil || len(rt.LoadedTools) == 0 {
		return l.executor.Schema()
	}
	return l.executor.SchemaFor(rt.LoadedTools)
}

// renderToolOutput turns an execution result into tool-message content.
// Failures become readable text rather than errors; the model decides how to
// react.
func renderToolOutput(result toolexec.ToolResult) string {
	if !result.Success {
		return "Error: " + result.Error
	}

	switch out := result.Output.(type) {
	case nil:
		return ""
	case string:
		return out
	default:
		raw, err := json.Marshal(out)
		if err != nil {
			return fmt.Sprintf("%v", out)
		}
		return string(raw)
	}
}

func (l *Loop) emit(event Event) {
	if l.observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Str("event", string(event.Type)).Msg("Event observer panicked")
		}
	}()
	l.observer(event)
}
