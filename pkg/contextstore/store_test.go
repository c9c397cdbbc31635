package contextstore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/kagent/pkg/session"
	"github.com/harun/kagent/pkg/toolexec"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(session.NewRuntime("sess-1"), Config{})
}

func TestStore_Append_ValidSequence(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Append(session.Message{Role: session.RoleUser, Content: "hi"}))
	require.NoError(t, s.Append(session.Message{
		Role:      session.RoleAssistant,
		ToolCalls: []toolexec.ToolCall{{ID: "tc-1", Name: "echo"}},
	}))
	require.NoError(t, s.Append(session.Message{
		Role:       session.RoleTool,
		Content:    "result",
		ToolCallID: "tc-1",
	}))
	require.NoError(t, s.Append(session.Message{Role: session.RoleAssistant, Content: "done"}))

	assert.Len(t, s.Runtime().History, 4)
}

func TestStore_Append_ToolWithoutPendingCall(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Append(session.Message{Role: session.RoleUser, Content: "hi"}))

	err := s.Append(session.Message{
		Role:       session.RoleTool,
		Content:    "result",
		ToolCallID: "tc-1",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSequence)
	assert.Len(t, s.Runtime().History, 1)
}

func TestStore_Append_ToolWithWrongCallID(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Append(session.Message{
		Role:      session.RoleAssistant,
		ToolCalls: []toolexec.ToolCall{{ID: "tc-1", Name: "echo"}},
	}))

	err := s.Append(session.Message{
		Role:       session.RoleTool,
		Content:    "result",
		ToolCallID: "tc-other",
	})
	assert.ErrorIs(t, err, ErrInvalidSequence)
}

func TestStore_Append_ToolWithoutCallID(t *testing.T) {
	s := newTestStore(t)

	err := s.Append(session.Message{Role: session.RoleTool, Content: "result"})
	assert.ErrorIs(t, err, ErrInvalidSequence)
}

func TestStore_Append_MultipleToolResultsForOneAssistant(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Append(session.Message{
		Role: session.RoleAssistant,
		ToolCalls: []toolexec.ToolCall{
			{ID: "tc-1", Name: "echo"},
			{ID: "tc-2", Name: "echo"},
		},
	}))

	require.NoError(t, s.Append(session.Message{Role: session.RoleTool, Content: "a", ToolCallID: "tc-1"}))
	require.NoError(t, s.Append(session.Message{Role: session.RoleTool, Content: "b", ToolCallID: "tc-2"}))
}

func TestStore_Append_UnknownRole(t *testing.T) {
	s := newTestStore(t)

	err := s.Append(session.Message{Role: "narrator", Content: "meanwhile"})
	assert.ErrorIs(t, err, ErrInvalidSequence)
}

func TestStore_History_InjectsSystemPrompt(t *testing.T) {
	rt := session.NewRuntime("sess-1")
	rt.SystemPrompt = "You are terse."
	s := New(rt, Config{})

	require.NoError(t, s.Append(session.Message{Role: session.RoleUser, Content: "hi"}))

	history := s.History()
	require.Len(t, history, 2)
	assert.Equal(t, session.RoleSystem, history[0].Role)
	assert.Equal(t, "You are terse.", history[0].Content)

	// Raw runtime history stays prompt-free
	assert.Len(t, s.Runtime().History, 1)
}

func TestStore_History_NoSystemPrompt(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Append(session.Message{Role: session.RoleUser, Content: "hi"}))

	history := s.History()
	require.Len(t, history, 1)
	assert.Equal(t, session.RoleUser, history[0].Role)
}

func TestStore_EstimateTokens(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Append(session.Message{
		Role:    session.RoleUser,
		Content: strings.Repeat("a", 400),
	}))

	assert.Equal(t, 100, s.EstimateTokens())
}

func TestStore_UpdateRuntime_Swap(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Append(session.Message{Role: session.RoleUser, Content: "first session"}))

	other := session.NewRuntime("sess-2")
	other.History = []session.Message{
		{Role: session.RoleUser, Content: "second session"},
		{Role: session.RoleAssistant, Content: "hello"},
	}

	s.UpdateRuntime(other)

	rt := s.Runtime()
	assert.Equal(t, "sess-2", rt.SessionID)
	assert.Len(t, rt.History, 2)
	assert.Greater(t, rt.TokenCount, 0)
}

func TestStore_SetSystemPrompt(t *testing.T) {
	s := newTestStore(t)
	s.SetSystemPrompt("new prompt")

	assert.Equal(t, "new prompt", s.Runtime().SystemPrompt)
}

func TestStore_ActivateSkill_ExtendsSystemPrompt(t *testing.T) {
	s := newTestStore(t)
	s.SetSkillResolver(func(name string) (string, bool) {
		if name == "reviewer" {
			return "You review code carefully.", true
		}
		return "", false
	})
	s.SetSystemPrompt("base prompt")

	require.True(t, s.ActivateSkill("reviewer"))
	assert.Equal(t, "base prompt\n\nYou review code carefully.", s.Runtime().SystemPrompt)
	assert.Equal(t, []string{"reviewer"}, s.Runtime().ActiveSkills)

	// Activating again is a no-op
	assert.False(t, s.ActivateSkill("reviewer"))
	assert.Equal(t, []string{"reviewer"}, s.Runtime().ActiveSkills)
}

func TestStore_ActivateSkill_SurvivesPromptReload(t *testing.T) {
	s := newTestStore(t)
	s.SetSkillResolver(func(name string) (string, bool) {
		return "Skill text for " + name, true
	})
	s.SetSystemPrompt("first base")
	require.True(t, s.ActivateSkill("writer"))

	// A base prompt change recomposes with the skill still applied
	s.SetSystemPrompt("second base")
	assert.Equal(t, "second base\n\nSkill text for writer", s.Runtime().SystemPrompt)
}

func TestStore_ActivateSkill_UnresolvedSkillDropsFromPrompt(t *testing.T) {
	s := newTestStore(t)
	s.SetSkillResolver(func(string) (string, bool) { return "", false })
	s.SetSystemPrompt("base")

	require.True(t, s.ActivateSkill("gone"))
	assert.Equal(t, "base", s.Runtime().SystemPrompt)
	assert.Equal(t, []string{"gone"}, s.Runtime().ActiveSkills)
}

func TestStore_ActivateSkill_NoRuntime(t *testing.T) {
	s := New(nil, Config{})
	assert.False(t, s.ActivateSkill("anything"))
}

func TestStore_Reset(t *testing.T) {
	rt := session.NewRuntime("sess-1")
	rt.SystemPrompt = "prompt"
	rt.LoadedTools = []string{"echo"}
	s := New(rt, Config{})

	require.NoError(t, s.Append(session.Message{Role: session.RoleUser, Content: "hi"}))
	s.Reset()

	got := s.Runtime()
	assert.Empty(t, got.History)
	assert.Equal(t, 0, got.TokenCount)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.Equal(t, "prompt", got.SystemPrompt)
	assert.Equal(t, []string{"echo"}, got.LoadedTools)
}
