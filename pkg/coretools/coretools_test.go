package coretools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/kagent/internal/skill"
	"github.com/harun/kagent/pkg/toolexec"
)

func newTestExecutor(t *testing.T) (*toolexec.Executor, string) {
	t.Helper()

	root, err := os.MkdirTemp("", "kagent-tools-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(root) })

	// MkdirTemp may return a symlinked path on some systems
	root, err = filepath.EvalSymlinks(root)
	require.NoError(t, err)

	e := toolexec.New()
	require.NoError(t, RegisterCoreTools(e, Options{WorkspaceRoot: root}))
	return e, root
}

func execute(t *testing.T, e *toolexec.Executor, name string, args map[string]interface{}) map[string]interface{} {
	t.Helper()
	result := e.Execute(context.Background(), toolexec.ToolCall{ID: "call-1", Name: name, Arguments: args})
	require.True(t, result.Success, "tool %s failed: %s", name, result.Error)
	out, ok := result.Output.(map[string]interface{})
	require.True(t, ok)
	return out
}

func TestRegisterCoreTools(t *testing.T) {
	e, _ := newTestExecutor(t)

	names := e.Names()
	assert.Equal(t, []string{"bash", "read_file", "write_file", "edit_file", "glob", "grep", "todo_write"}, names)
}

func TestRegisterCoreTools_RequiresWorkspace(t *testing.T) {
	err := RegisterCoreTools(toolexec.New(), Options{})
	assert.Error(t, err)
}

func TestWriteThenReadFile(t *testing.T) {
	e, _ := newTestExecutor(t)

	out := execute(t, e, "write_file", map[string]interface{}{
		"path":    "notes/hello.txt",
		"content": "hello world",
	})
	assert.Equal(t, 11, out["bytes"])

	out = execute(t, e, "read_file", map[string]interface{}{"path": "notes/hello.txt"})
	assert.Equal(t, "hello world", out["content"])
	assert.Equal(t, false, out["truncated"])
}

func TestWriteFile_Append(t *testing.T) {
	e, _ := newTestExecutor(t)

	execute(t, e, "write_file", map[string]interface{}{"path": "log.txt", "content": "one\n"})
	execute(t, e, "write_file", map[string]interface{}{"path": "log.txt", "content": "two\n", "append": true})

	out := execute(t, e, "read_file", map[string]interface{}{"path": "log.txt"})
	assert.Equal(t, "one\ntwo\n", out["content"])
}

func TestReadFile_Truncation(t *testing.T) {
	e, root := newTestExecutor(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.txt"), []byte(strings.Repeat("a", 100)), 0644))

	out := execute(t, e, "read_file", map[string]interface{}{
		"path":      "big.txt",
		"max_bytes": float64(10),
	})
	assert.Equal(t, true, out["truncated"])
	assert.Len(t, out["content"], 10)
}

func TestReadFile_EscapeRejected(t *testing.T) {
	e, _ := newTestExecutor(t)

	result := e.Execute(context.Background(), toolexec.ToolCall{
		ID:        "call-1",
		Name:      "read_file",
		Arguments: map[string]interface{}{"path": "../outside.txt"},
	})

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "outside workspace root")
}

func TestEditFile(t *testing.T) {
	e, root := newTestExecutor(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "code.go"), []byte("foo bar foo"), 0644))

	t.Run("single occurrence replaced", func(t *testing.T) {
		out := execute(t, e, "edit_file", map[string]interface{}{
			"path":    "code.go",
			"search":  "bar",
			"replace": "baz",
		})
		assert.Equal(t, 1, out["occurrences"])
	})

	t.Run("ambiguous match rejected", func(t *testing.T) {
		result := e.Execute(context.Background(), toolexec.ToolCall{
			ID:   "call-1",
			Name: "edit_file",
			Arguments: map[string]interface{}{
				"path":    "code.go",
				"search":  "foo",
				"replace": "qux",
			},
		})
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "replace_all")
	})

	t.Run("replace all", func(t *testing.T) {
		out := execute(t, e, "edit_file", map[string]interface{}{
			"path":        "code.go",
			"search":      "foo",
			"replace":     "qux",
			"replace_all": true,
		})
		assert.Equal(t, 2, out["occurrences"])

		read := execute(t, e, "read_file", map[string]interface{}{"path": "code.go"})
		assert.Equal(t, "qux baz qux", read["content"])
	})

	t.Run("missing search text", func(t *testing.T) {
		result := e.Execute(context.Background(), toolexec.ToolCall{
			ID:   "call-1",
			Name: "edit_file",
			Arguments: map[string]interface{}{
				"path":    "code.go",
				"search":  "not there",
				"replace": "x",
			},
		})
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "not found")
	})
}

func TestGlob(t *testing.T) {
	e, root := newTestExecutor(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src", "deep"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "a.go"), []byte("package a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "deep", "b.go"), []byte("package b"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "readme.md"), []byte("# hi"), 0644))

	out := execute(t, e, "glob", map[string]interface{}{"pattern": "src/**/*.go"})
	assert.Equal(t, []string{"src/a.go", "src/deep/b.go"}, out["matches"])
	assert.Equal(t, 2, out["count"])
}

func TestGrep(t *testing.T) {
	e, root := newTestExecutor(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\nfunc main() {}\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.md"), []byte("main ideas\n"), 0644))

	t.Run("matches across files", func(t *testing.T) {
		out := execute(t, e, "grep", map[string]interface{}{"pattern": "main"})
		matches, ok := out["matches"].([]grepMatch)
		require.True(t, ok)
		assert.Len(t, matches, 3)
	})

	t.Run("glob filter", func(t *testing.T) {
		out := execute(t, e, "grep", map[string]interface{}{
			"pattern": "main",
			"glob":    "*.go",
		})
		matches := out["matches"].([]grepMatch)
		require.Len(t, matches, 2)
		assert.Equal(t, "main.go", matches[0].Path)
		assert.Equal(t, 1, matches[0].Line)
	})

	t.Run("case insensitive", func(t *testing.T) {
		out := execute(t, e, "grep", map[string]interface{}{
			"pattern":          "PACKAGE",
			"case_insensitive": true,
		})
		matches := out["matches"].([]grepMatch)
		assert.Len(t, matches, 1)
	})

	t.Run("invalid regexp", func(t *testing.T) {
		result := e.Execute(context.Background(), toolexec.ToolCall{
			ID:        "call-1",
			Name:      "grep",
			Arguments: map[string]interface{}{"pattern": "("},
		})
		assert.False(t, result.Success)
	})
}

func TestBash(t *testing.T) {
	e, _ := newTestExecutor(t)

	t.Run("captures stdout and exit code", func(t *testing.T) {
		out := execute(t, e, "bash", map[string]interface{}{"command": "echo hello"})
		assert.Equal(t, "hello\n", out["stdout"])
		assert.Equal(t, 0, out["exit_code"])
	})

	t.Run("nonzero exit is data", func(t *testing.T) {
		out := execute(t, e, "bash", map[string]interface{}{"command": "exit 3"})
		assert.Equal(t, 3, out["exit_code"])
	})

	t.Run("runs in workspace", func(t *testing.T) {
		execute(t, e, "write_file", map[string]interface{}{"path": "marker.txt", "content": "x"})
		out := execute(t, e, "bash", map[string]interface{}{"command": "ls"})
		assert.Contains(t, out["stdout"], "marker.txt")
	})

	t.Run("stdin", func(t *testing.T) {
		out := execute(t, e, "bash", map[string]interface{}{"command": "cat", "stdin": "piped"})
		assert.Equal(t, "piped", out["stdout"])
	})
}

func TestTodoWrite(t *testing.T) {
	e, _ := newTestExecutor(t)

	out := execute(t, e, "todo_write", map[string]interface{}{
		"todos": []interface{}{
			map[string]interface{}{"content": "first task", "status": "completed"},
			map[string]interface{}{"content": "second task", "status": "in_progress"},
			map[string]interface{}{"content": "third task"},
		},
	})

	assert.Equal(t, 3, out["count"])
	rendered := out["rendered"].(string)
	assert.Contains(t, rendered, "[x] first task")
	assert.Contains(t, rendered, "[~] second task")
	assert.Contains(t, rendered, "[ ] third task")
}

func newSkillExecutor(t *testing.T) (*toolexec.Executor, string, *[]string) {
	t.Helper()

	root, err := os.MkdirTemp("", "kagent-skilltools-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(root) })

	activated := &[]string{}
	e := toolexec.New()
	require.NoError(t, RegisterCoreTools(e, Options{
		WorkspaceRoot: root,
		Skills:        skill.NewManager(root),
		ActivateSkill: func(name string) bool {
			for _, prev := range *activated {
				if prev == name {
					return false
				}
			}
			*activated = append(*activated, name)
			return true
		},
	}))
	return e, root, activated
}

func writeSkillFile(t *testing.T, root, name, content string) {
	t.Helper()
	dir := filepath.Join(root, ".agent", "skills", name)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, skill.SkillFileName), []byte(content), 0644))
}

func TestRegisterCoreTools_SkillToolsOptional(t *testing.T) {
	e, _ := newTestExecutor(t)
	assert.NotContains(t, e.Names(), "list_skills")

	se, _, _ := newSkillExecutor(t)
	assert.Contains(t, se.Names(), "list_skills")
	assert.Contains(t, se.Names(), "use_skill")
}

func TestListSkills(t *testing.T) {
	e, root, _ := newSkillExecutor(t)

	t.Run("no skills", func(t *testing.T) {
		result := e.Execute(context.Background(), toolexec.ToolCall{ID: "call-1", Name: "list_skills"})
		require.True(t, result.Success)
		assert.Contains(t, result.Output.(string), "No skills found")
	})

	t.Run("lists name and description", func(t *testing.T) {
		writeSkillFile(t, root, "reviewer", "---\nname: reviewer\ndescription: Reviews code\n---\nReview carefully.\n")

		result := e.Execute(context.Background(), toolexec.ToolCall{ID: "call-1", Name: "list_skills"})
		require.True(t, result.Success)
		out := result.Output.(string)
		assert.Contains(t, out, "Available skills (1)")
		assert.Contains(t, out, "reviewer: Reviews code")
	})
}

func TestUseSkill(t *testing.T) {
	e, root, activated := newSkillExecutor(t)
	writeSkillFile(t, root, "writer", "---\ndescription: Writes prose\n---\nWrite well.\n")

	t.Run("activates a known skill", func(t *testing.T) {
		result := e.Execute(context.Background(), toolexec.ToolCall{
			ID:        "call-1",
			Name:      "use_skill",
			Arguments: map[string]interface{}{"name": "writer"},
		})
		require.True(t, result.Success, result.Error)
		assert.Contains(t, result.Output.(string), "Loaded skill")
		assert.Equal(t, []string{"writer"}, *activated)
	})

	t.Run("already active", func(t *testing.T) {
		result := e.Execute(context.Background(), toolexec.ToolCall{
			ID:        "call-1",
			Name:      "use_skill",
			Arguments: map[string]interface{}{"name": "writer"},
		})
		require.True(t, result.Success)
		assert.Contains(t, result.Output.(string), "already active")
	})

	t.Run("unknown skill fails with available names", func(t *testing.T) {
		result := e.Execute(context.Background(), toolexec.ToolCall{
			ID:        "call-1",
			Name:      "use_skill",
			Arguments: map[string]interface{}{"name": "nope"},
		})
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "not found")
		assert.Contains(t, result.Error, "writer")
	})
}

func TestTodoWrite_InvalidStatus(t *testing.T) {
	e, _ := newTestExecutor(t)

	result := e.Execute(context.Background(), toolexec.ToolCall{
		ID:   "call-1",
		Name: "todo_write",
		Arguments: map[string]interface{}{
			"todos": []interface{}{
				map[string]interface{}{"content": "task", "status": "someday"},
			},
		},
	})

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "invalid todo status")
}
