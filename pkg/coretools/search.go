package coretools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/harun/kagent/pkg/toolexec"
)

const (
	maxGlobMatches = 500
	maxGrepMatches = 200
	maxGrepLine    = 400
)

func globTool(opts Options) toolexec.ToolDefinition {
	return toolexec.ToolDefinition{
		Name:        "glob",
		Description: "Find workspace files matching a glob pattern, ** included.",
		Parameters: []toolexec.ToolParameter{
			{Name: "pattern", Type: "string", Description: "Glob pattern relative to the workspace, e.g. src/**/*.go", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			pattern, _ := params["pattern"].(string)
			pattern = strings.TrimSpace(pattern)
			if pattern == "" {
				return nil, fmt.Errorf("pattern is required")
			}
			if !doublestar.ValidatePattern(pattern) {
				return nil, fmt.Errorf("invalid glob pattern: %s", pattern)
			}

			matches, err := doublestar.Glob(os.DirFS(opts.WorkspaceRoot), pattern)
			if err != nil {
				return nil, fmt.Errorf("glob failed: %w", err)
			}

			sort.Strings(matches)
			truncated := false
			if len(matches) > maxGlobMatches {
				matches = matches[:maxGlobMatches]
				truncated = true
			}

			return map[string]interface{}{
				"pattern":   pattern,
				"matches":   matches,
				"count":     len(matches),
				"truncated": truncated,
			}, nil
		},
	}
}

type grepMatch struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

func grepTool(opts Options) toolexec.ToolDefinition {
	return toolexec.ToolDefinition{
		Name:        "grep",
		Description: "Search workspace file contents with a regular expression.",
		Parameters: []toolexec.ToolParameter{
			{Name: "pattern", Type: "string", Description: "Regular expression to search for", Required: true},
			{Name: "glob", Type: "string", Description: "Restrict the search to files matching this glob", Required: false},
			{Name: "case_insensitive", Type: "boolean", Description: "Case-insensitive match (default false)", Required: false},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			pattern, _ := params["pattern"].(string)
			if pattern == "" {
				return nil, fmt.Errorf("pattern is required")
			}
			if insensitive, _ := params["case_insensitive"].(bool); insensitive {
				pattern = "(?i)" + pattern
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("invalid regular expression: %w", err)
			}

			fileGlob, _ := params["glob"].(string)
			if fileGlob != "" && !doublestar.ValidatePattern(fileGlob) {
				return nil, fmt.Errorf("invalid glob pattern: %s", fileGlob)
			}

			matches, truncated, err := grepWorkspace(ctx, opts.WorkspaceRoot, re, fileGlob)
			if err != nil {
				return nil, err
			}

			return map[string]interface{}{
				"pattern":   re.String(),
				"matches":   matches,
				"count":     len(matches),
				"truncated": truncated,
			}, nil
		},
	}
}

func grepWorkspace(ctx context.Context, root string, re *regexp.Regexp, fileGlob string) ([]grepMatch, bool, error) {
	matches := []grepMatch{}
	truncated := false

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.IsDir() {
			if entry.Name() == ".git" || entry.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		if fileGlob != "" {
			ok, err := doublestar.Match(fileGlob, filepath.ToSlash(rel))
			if err != nil || !ok {
				return nil
			}
		}

		data, err := os.ReadFile(path)
		if err != nil || isBinary(data) {
			return nil
		}

		for i, line := range strings.Split(string(data), "\n") {
			if !re.MatchString(line) {
				continue
			}
			if len(matches) >= maxGrepMatches {
				truncated = true
				return filepath.SkipAll
			}
			if len(line) > maxGrepLine {
				line = line[:maxGrepLine] + "..."
			}
			matches = append(matches, grepMatch{
				Path: filepath.ToSlash(rel),
				Line: i + 1,
				Text: line,
			})
		}
		return nil
	})
	if err != nil && err != filepath.SkipAll {
		return nil, false, err
	}

	return matches, truncated, nil
}

func isBinary(data []byte) bool {
	limit := len(data)
	if limit > 8000 {
		limit = 8000
	}
	for _, b := range data[:limit] {
		if b == 0 {
			return true
		}
	}
	return false
}
