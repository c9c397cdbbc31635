package coretools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/harun/kagent/pkg/toolexec"
)

const defaultBashTimeout = 30 * time.Second

func bashTool(opts Options) toolexec.ToolDefinition {
	return toolexec.ToolDefinition{
		Name:        "bash",
		Description: "Run a shell command in the workspace and return its output.",
		Parameters: []toolexec.ToolParameter{
			{Name: "command", Type: "string", Description: "Command to execute via bash -c", Required: true},
			{Name: "cwd", Type: "string", Description: "Working directory relative to the workspace", Required: false},
			{Name: "timeout", Type: "number", Description: "Timeout in seconds (default 30)", Required: false},
			{Name: "stdin", Type: "string", Description: "Standard input", Required: false},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			command, _ := params["command"].(string)
			command = strings.TrimSpace(command)
			if command == "" {
				return nil, fmt.Errorf("command is required")
			}

			workDir := opts.WorkspaceRoot
			if raw, ok := params["cwd"].(string); ok && strings.TrimSpace(raw) != "" {
				resolved, err := resolvePathInWorkspace(opts.WorkspaceRoot, raw)
				if err != nil {
					return nil, err
				}
				workDir = resolved
			}

			timeout := parseDurationSeconds(params["timeout"], defaultBashTimeout)
			execCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			cmd := exec.CommandContext(execCtx, "bash", "-c", command)
			cmd.Dir = workDir
			if stdin, ok := params["stdin"].(string); ok && stdin != "" {
				cmd.Stdin = strings.NewReader(stdin)
			}

			var stdout, stderr bytes.Buffer
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr

			start := time.Now()
			err := cmd.Run()

			exitCode := 0
			if err != nil {
				if exitErr, ok := err.(*exec.ExitError); ok {
					exitCode = exitErr.ExitCode()
				} else if execCtx.Err() == context.DeadlineExceeded {
					return nil, fmt.Errorf("command timed out after %v", timeout)
				} else {
					return nil, err
				}
			}

			return map[string]interface{}{
				"stdout":    stdout.String(),
				"stderr":    stderr.String(),
				"exit_code": exitCode,
				"duration":  time.Since(start).Milliseconds(),
			}, nil
		},
	}
}
