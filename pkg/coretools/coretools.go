// Package coretools registers the baseline tool set every agent gets:
// filesystem access, shell execution, workspace search and the task list.
// All paths are confined to the configured workspace root.
package coretools

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/harun/kagent/internal/skill"
	"github.com/harun/kagent/pkg/toolexec"
)

// Options configures core tool registration. Skills and ActivateSkill are
// optional; the skill tools are registered only when a skill manager is set.
type Options struct {
	WorkspaceRoot string
	Skills        *skill.Manager
	ActivateSkill func(name string) bool
}

// RegisterCoreTools registers the baseline runtime and filesystem tools.
func RegisterCoreTools(executor *toolexec.Executor, opts Options) error {
	if executor == nil {
		return errors.New("tool executor is required")
	}
	if strings.TrimSpace(opts.WorkspaceRoot) == "" {
		return errors.New("workspace root is required")
	}
	opts.WorkspaceRoot = filepath.Clean(opts.WorkspaceRoot)

	todos := newTodoList()

	tools := []toolexec.ToolDefinition{
		bashTool(opts),
		readFileTool(opts),
		writeFileTool(opts),
		editFileTool(opts),
		globTool(opts),
		grepTool(opts),
		todoWriteTool(todos),
	}
	if opts.Skills != nil {
		tools = append(tools, listSkillsTool(opts.Skills), useSkillTool(opts.Skills, opts.ActivateSkill))
	}

	for _, tool := range tools {
		if err := executor.Register(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}

// resolvePathInWorkspace joins a user-supplied path with the workspace root
// and rejects anything that escapes it.
func resolvePathInWorkspace(workspaceRoot string, pathValue string) (string, error) {
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return "", fmt.Errorf("path is required")
	}
	if strings.Contains(pathValue, "://") {
		return "", fmt.Errorf("path must be a local file")
	}
	candidate := pathValue
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(workspaceRoot, candidate)
	}
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(workspaceRoot, candidate)
	if err != nil {
		return "", err
	}
	if rel == "." || (!strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "..") {
		return candidate, nil
	}
	return "", fmt.Errorf("path %q is outside workspace root", pathValue)
}

func parseDurationSeconds(value interface{}, fallback time.Duration) time.Duration {
	switch v := value.(type) {
	case float64:
		if v > 0 {
			return time.Duration(v * float64(time.Second))
		}
	case int:
		if v > 0 {
			return time.Duration(v) * time.Second
		}
	}
	return fallback
}
