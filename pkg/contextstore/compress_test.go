package contextstore

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/kagent/pkg/session"
	"github.com/harun/kagent/pkg/toolexec"
)

type fakeSummarizer struct {
	summary string
	err     error
	calls   int
	seen    []session.Message
}

func (f *fakeSummarizer) Summarize(_ context.Context, messages []session.Message) (string, error) {
	f.calls++
	f.seen = messages
	return f.summary, f.err
}

func filler(role string, chars int) session.Message {
	return session.Message{Role: role, Content: strings.Repeat("x", chars)}
}

func overBudgetRuntime(messages int) *session.Runtime {
	rt := session.NewRuntime("sess-1")
	for i := 0; i < messages; i++ {
		role := session.RoleUser
		if i%2 == 1 {
			role = session.RoleAssistant
		}
		rt.History = append(rt.History, filler(role, 400))
	}
	return rt
}

func TestCompress_NoOpWithinBudget(t *testing.T) {
	sum := &fakeSummarizer{summary: "summary"}
	s := New(overBudgetRuntime(4), Config{TokenBudget: 100000, KeepRecent: 2})
	s.SetSummarizer(sum)

	before := s.Runtime().History
	tokens, err := s.Compress(context.Background())
	require.NoError(t, err)

	assert.Equal(t, s.EstimateTokens(), tokens)
	assert.Equal(t, len(before), len(s.Runtime().History))
	assert.Equal(t, 0, sum.calls)
}

func TestCompress_ReplacesPrefixWithSummary(t *testing.T) {
	sum := &fakeSummarizer{summary: "they discussed ten things"}
	// 10 messages of ~100 tokens each against a 500 token budget
	s := New(overBudgetRuntime(10), Config{TokenBudget: 500, KeepRecent: 4})
	s.SetSummarizer(sum)

	tokens, err := s.Compress(context.Background())
	require.NoError(t, err)

	history := s.Runtime().History
	require.Len(t, history, 5)
	assert.Equal(t, session.RoleAssistant, history[0].Role)
	assert.Contains(t, history[0].Content, "they discussed ten things")
	assert.Equal(t, 1, sum.calls)
	assert.Len(t, sum.seen, 6)
	assert.Less(t, tokens, 500)
	assert.Equal(t, tokens, s.Runtime().TokenCount)
}

func TestCompress_KeepsRecentVerbatim(t *testing.T) {
	sum := &fakeSummarizer{summary: "summary"}
	rt := overBudgetRuntime(10)
	tail := make([]session.Message, 4)
	copy(tail, rt.History[6:])

	s := New(rt, Config{TokenBudget: 500, KeepRecent: 4})
	s.SetSummarizer(sum)

	_, err := s.Compress(context.Background())
	require.NoError(t, err)

	history := s.Runtime().History
	for i, want := range tail {
		assert.Equal(t, want.Content, history[i+1].Content)
		assert.Equal(t, want.Role, history[i+1].Role)
	}
}

func TestCompress_CutMovesPastToolMessages(t *testing.T) {
	rt := session.NewRuntime("sess-1")
	rt.History = []session.Message{
		filler(session.RoleUser, 400),
		filler(session.RoleUser, 400),
		filler(session.RoleUser, 400),
		{
			Role:      session.RoleAssistant,
			Content:   strings.Repeat("x", 400),
			ToolCalls: []toolexec.ToolCall{{ID: "tc-1", Name: "echo"}},
		},
		{Role: session.RoleTool, Content: strings.Repeat("x", 400), ToolCallID: "tc-1"},
		filler(session.RoleAssistant, 400),
	}

	// KeepRecent 2 would cut right at the tool message; the cut must back up
	// to include its assistant.
	s := New(rt, Config{TokenBudget: 300, KeepRecent: 2})
	s.SetSummarizer(&fakeSummarizer{summary: "summary"})

	_, err := s.Compress(context.Background())
	require.NoError(t, err)

	history := s.Runtime().History
	require.NotEmpty(t, history)
	assert.NotEqual(t, session.RoleTool, history[1].Role)

	// The kept suffix still pairs the tool result with its call
	var sawAssistant bool
	for _, msg := range history {
		if len(msg.ToolCalls) > 0 {
			sawAssistant = true
		}
		if msg.Role == session.RoleTool {
			assert.True(t, sawAssistant, "tool result kept without its assistant call")
		}
	}
}

func TestCompress_SecondPassIsNoOp(t *testing.T) {
	sum := &fakeSummarizer{summary: strings.Repeat("long summary ", 50)}
	// Summary itself keeps the history over budget
	s := New(overBudgetRuntime(10), Config{TokenBudget: 100, KeepRecent: 4})
	s.SetSummarizer(sum)

	_, err := s.Compress(context.Background())
	require.NoError(t, err)
	afterFirst := len(s.Runtime().History)
	assert.Equal(t, 1, sum.calls)

	_, err = s.Compress(context.Background())
	require.NoError(t, err)

	assert.Equal(t, afterFirst, len(s.Runtime().History))
	assert.Equal(t, 1, sum.calls, "already collapsed history must not be summarized again")
}

func TestCompress_NilSummarizerFallback(t *testing.T) {
	s := New(overBudgetRuntime(10), Config{TokenBudget: 500, KeepRecent: 4})

	_, err := s.Compress(context.Background())
	require.NoError(t, err)

	history := s.Runtime().History
	assert.Contains(t, history[0].Content, "6 earlier messages omitted")
}

func TestCompress_SummarizerErrorFallsBack(t *testing.T) {
	s := New(overBudgetRuntime(10), Config{TokenBudget: 500, KeepRecent: 4})
	s.SetSummarizer(&fakeSummarizer{err: assert.AnError})

	_, err := s.Compress(context.Background())
	require.NoError(t, err)

	assert.Contains(t, s.Runtime().History[0].Content, "earlier messages omitted")
}

func TestCompress_ShortHistoryCannotReduce(t *testing.T) {
	rt := session.NewRuntime("sess-1")
	rt.History = []session.Message{filler(session.RoleUser, 4000)}

	s := New(rt, Config{TokenBudget: 100, KeepRecent: 4})

	tokens, err := s.Compress(context.Background())
	require.NoError(t, err)

	assert.Len(t, s.Runtime().History, 1)
	assert.Greater(t, tokens, 100)
}

func TestTranscript(t *testing.T) {
	messages := []session.Message{
		{Role: session.RoleUser, Content: "hello"},
		{Role: session.RoleAssistant, Content: "checking", ToolCalls: []toolexec.ToolCall{{ID: "tc-1", Name: "echo"}}},
		{Role: session.RoleTool, Content: "raw output", ToolCallID: "tc-1"},
		{Role: session.RoleAssistant, Content: "done"},
	}

	transcript := Transcript(messages)

	assert.Contains(t, transcript, "User: hello")
	assert.Contains(t, transcript, "checking [used tools]")
	assert.Contains(t, transcript, "Assistant: done")
	assert.NotContains(t, transcript, "raw output")
}
