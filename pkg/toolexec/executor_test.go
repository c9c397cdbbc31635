package toolexec

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool(name string) ToolDefinition {
	return ToolDefinition{
		Name:        name,
		Description: "Echoes its input",
		Parameters: []ToolParameter{
			{Name: "input", Type: "string", Description: "Input value", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return params["input"], nil
		},
	}
}

func TestExecutor_Register(t *testing.T) {
	e := New()

	err := e.Register(echoTool("echo"))
	require.NoError(t, err)

	tool := e.Get("echo")
	require.NotNil(t, tool)
	assert.Equal(t, "echo", tool.Name)
	assert.Equal(t, []string{"echo"}, e.Names())
}

func TestExecutor_Register_Duplicate(t *testing.T) {
	e := New()

	first := echoTool("echo")
	require.NoError(t, e.Register(first))

	second := echoTool("echo")
	second.Description = "A different tool with the same name"
	err := e.Register(second)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateTool)

	// First registration stays in place
	assert.Equal(t, "Echoes its input", e.Get("echo").Description)
	assert.Equal(t, []string{"echo"}, e.Names())
}

func TestExecutor_Register_InvalidDefinition(t *testing.T) {
	e := New()

	tests := []struct {
		name string
		def  ToolDefinition
	}{
		{
			name: "empty name",
			def: ToolDefinition{
				Description: "Test",
				Handler:     func(ctx context.Context, params map[string]interface{}) (interface{}, error) { return nil, nil },
			},
		},
		{
			name: "empty description",
			def: ToolDefinition{
				Name:    "test",
				Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) { return nil, nil },
			},
		},
		{
			name: "nil handler",
			def: ToolDefinition{
				Name:        "test",
				Description: "Test",
			},
		},
		{
			name: "invalid parameter type",
			def: ToolDefinition{
				Name:        "test",
				Description: "Test",
				Parameters:  []ToolParameter{{Name: "x", Type: "decimal"}},
				Handler:     func(ctx context.Context, params map[string]interface{}) (interface{}, error) { return nil, nil },
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.Register(tt.def)
			assert.Error(t, err)
		})
	}
}

func TestExecutor_Schema_RegistrationOrder(t *testing.T) {
	e := New()
	require.NoError(t, e.Register(echoTool("bravo")))
	require.NoError(t, e.Register(echoTool("alpha")))

	schema := e.Schema()
	require.Len(t, schema, 2)
	assert.Equal(t, "bravo", schema[0].Name)
	assert.Equal(t, "alpha", schema[1].Name)

	props, ok := schema[0].InputSchema["properties"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, props, "input")
	assert.Equal(t, []string{"input"}, schema[0].InputSchema["required"])
}

func TestExecutor_SchemaFor(t *testing.T) {
	e := New()
	require.NoError(t, e.Register(echoTool("alpha")))
	require.NoError(t, e.Register(echoTool("bravo")))
	require.NoError(t, e.Register(echoTool("charlie")))

	subset := e.SchemaFor([]string{"charlie", "alpha", "missing"})
	require.Len(t, subset, 2)
	// Registration order wins over request order
	assert.Equal(t, "alpha", subset[0].Name)
	assert.Equal(t, "charlie", subset[1].Name)
}

func TestExecutor_Execute_Success(t *testing.T) {
	e := New()
	require.NoError(t, e.Register(echoTool("echo")))

	result := e.Execute(context.Background(), ToolCall{
		ID:        "call-1",
		Name:      "echo",
		Arguments: map[string]interface{}{"input": "hello"},
	})

	assert.True(t, result.Success)
	assert.Equal(t, "call-1", result.CallID)
	assert.Equal(t, "echo", result.Name)
	assert.Equal(t, "hello", result.Output)
	assert.Empty(t, result.Error)
}

func TestExecutor_Execute_UnknownTool(t *testing.T) {
	e := New()

	result := e.Execute(context.Background(), ToolCall{ID: "call-1", Name: "nope"})

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "unknown tool")
	assert.Equal(t, "call-1", result.CallID)
}

func TestExecutor_Execute_InvalidArguments(t *testing.T) {
	e := New()
	require.NoError(t, e.Register(echoTool("echo")))

	result := e.Execute(context.Background(), ToolCall{
		ID:        "call-1",
		Name:      "echo",
		Arguments: map[string]interface{}{},
	})

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "invalid arguments")
}

func TestExecutor_Execute_HandlerError(t *testing.T) {
	e := New()
	require.NoError(t, e.Register(ToolDefinition{
		Name:        "fail",
		Description: "Always fails",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return nil, errors.New("boom")
		},
	}))

	result := e.Execute(context.Background(), ToolCall{ID: "call-1", Name: "fail"})

	assert.False(t, result.Success)
	assert.Equal(t, "boom", result.Error)
}

func TestExecutor_Execute_Panic(t *testing.T) {
	e := New()
	require.NoError(t, e.Register(ToolDefinition{
		Name:        "panics",
		Description: "Panics",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			panic("unexpected")
		},
	}))

	result := e.Execute(context.Background(), ToolCall{ID: "call-1", Name: "panics"})

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "panicked")
}

func TestExecutor_Execute_Timeout(t *testing.T) {
	e := New()
	e.SetTimeout(50 * time.Millisecond)
	require.NoError(t, e.Register(ToolDefinition{
		Name:        "slow",
		Description: "Sleeps past the timeout",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			select {
			case <-time.After(5 * time.Second):
				return "done", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}))

	result := e.Execute(context.Background(), ToolCall{ID: "call-1", Name: "slow"})

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "timeout")
}

func TestExecutor_ExecuteMany_OrderPreserved(t *testing.T) {
	e := New()
	require.NoError(t, e.Register(echoTool("echo")))

	calls := make([]ToolCall, 5)
	for i := range calls {
		calls[i] = ToolCall{
			ID:        fmt.Sprintf("call-%d", i),
			Name:      "echo",
			Arguments: map[string]interface{}{"input": fmt.Sprintf("value-%d", i)},
		}
	}

	results := e.ExecuteMany(context.Background(), calls)
	require.Len(t, results, 5)
	for i, result := range results {
		assert.Equal(t, fmt.Sprintf("call-%d", i), result.CallID)
		assert.Equal(t, fmt.Sprintf("value-%d", i), result.Output)
	}
}

func TestExecutor_ExecuteMany_MixedOutcomes(t *testing.T) {
	e := New()
	require.NoError(t, e.Register(echoTool("echo")))

	results := e.ExecuteMany(context.Background(), []ToolCall{
		{ID: "ok", Name: "echo", Arguments: map[string]interface{}{"input": "fine"}},
		{ID: "bad", Name: "missing"},
	})

	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
}

func TestExecutor_Observer(t *testing.T) {
	e := New()
	require.NoError(t, e.Register(echoTool("echo")))

	var observed []string
	e.SetObserver(func(name string, args map[string]interface{}, result ToolResult) {
		observed = append(observed, name)
	})

	e.Execute(context.Background(), ToolCall{
		ID:        "call-1",
		Name:      "echo",
		Arguments: map[string]interface{}{"input": "x"},
	})

	assert.Equal(t, []string{"echo"}, observed)
}

func TestExecutor_Observer_PanicDoesNotAffectResult(t *testing.T) {
	e := New()
	require.NoError(t, e.Register(echoTool("echo")))
	e.SetObserver(func(name string, args map[string]interface{}, result ToolResult) {
		panic("observer bug")
	})

	result := e.Execute(context.Background(), ToolCall{
		ID:        "call-1",
		Name:      "echo",
		Arguments: map[string]interface{}{"input": "x"},
	})

	assert.True(t, result.Success)
}
