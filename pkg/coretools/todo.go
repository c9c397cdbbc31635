package coretools

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/harun/kagent/pkg/toolexec"
)

type todoItem struct {
	Content string `json:"content"`
	Status  string `json:"status"`
}

// todoList is the in-memory task board the model maintains during a run.
// Every write replaces the whole list; reads render it as markdown.
type todoList struct {
	items []todoItem
	mu    sync.Mutex
}

func newTodoList() *todoList {
	return &todoList{}
}

var todoStatuses = map[string]bool{
	"pending":     true,
	"in_progress": true,
	"completed":   true,
}

func (t *todoList) replace(items []todoItem) error {
	for _, item := range items {
		if strings.TrimSpace(item.Content) == "" {
			return fmt.Errorf("todo content cannot be empty")
		}
		if !todoStatuses[item.Status] {
			return fmt.Errorf("invalid todo status %q", item.Status)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = items
	return nil
}

func (t *todoList) render() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.items) == 0 {
		return "No todos."
	}

	var b strings.Builder
	for _, item := range t.items {
		marker := "[ ]"
		switch item.Status {
		case "in_progress":
			marker = "[~]"
		case "completed":
			marker = "[x]"
		}
		fmt.Fprintf(&b, "- %s %s\n", marker, item.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

func todoWriteTool(todos *todoList) toolexec.ToolDefinition {
	return toolexec.ToolDefinition{
		Name:        "todo_write",
		Description: "Replace the task list used to track multi-step work. Each item needs content and a status of pending, in_progress or completed.",
		Parameters: []toolexec.ToolParameter{
			{Name: "todos", Type: "array", Description: "Full replacement task list", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			raw, ok := params["todos"].([]interface{})
			if !ok {
				return nil, fmt.Errorf("todos must be an array")
			}

			items := make([]todoItem, 0, len(raw))
			for _, entry := range raw {
				obj, ok := entry.(map[string]interface{})
				if !ok {
					return nil, fmt.Errorf("each todo must be an object with content and status")
				}
				content, _ := obj["content"].(string)
				status, _ := obj["status"].(string)
				if status == "" {
					status = "pending"
				}
				items = append(items, todoItem{Content: content, Status: status})
			}

			if err := todos.replace(items); err != nil {
				return nil, err
			}

			return map[string]interface{}{
				"count":    len(items),
				"rendered": todos.render(),
			}, nil
		},
	}
}
