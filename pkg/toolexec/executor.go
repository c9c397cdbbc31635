package toolexec

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/harun/kagent/internal/observability"
)

// ErrDuplicateTool is returned when registering a tool whose name is taken.
var ErrDuplicateTool = errors.New("tool already registered")

// DefaultTimeout bounds a single tool execution.
const DefaultTimeout = 30 * time.Second

// Executor holds the tool registry and runs model-requested invocations.
// The registry is write-once per name: tools are registered at startup and
// the schema may then be read concurrently without further locking concerns.
type Executor struct {
	tools    map[string]*ToolDefinition
	schemas  map[string]*gojsonschema.Schema
	order    []string
	observer Observer
	timeout  time.Duration
	mu       sync.RWMutex
}

// New creates an Executor with the default execution timeout.
func New() *Executor {
	observability.EnsureRegistered()

	return &Executor{
		tools:   make(map[string]*ToolDefinition),
		schemas: make(map[string]*gojsonschema.Schema),
		timeout: DefaultTimeout,
	}
}

// SetObserver installs a callback invoked after every individual execution.
// Observer failures never affect execution results.
func (e *Executor) SetObserver(obs Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observer = obs
}

// SetTimeout overrides the per-execution timeout.
func (e *Executor) SetTimeout(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if d > 0 {
		e.timeout = d
	}
}

// Register adds a tool to the registry. Registering a name twice fails with
// ErrDuplicateTool and the first registration is retained.
func (e *Executor) Register(def ToolDefinition) error {
	if err := validateDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := compileSchema(def)
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", def.Name, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.tools[def.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, def.Name)
	}

	e.tools[def.Name] = &def
	e.schemas[def.Name] = schema
	e.order = append(e.order, def.Name)

	log.Info().Str("tool", def.Name).Msg("Tool registered")

	return nil
}

// Get returns a tool definition by name, or nil.
func (e *Executor) Get(name string) *ToolDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.tools[name]
}

// Names returns registered tool names in registration order.
func (e *Executor) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, len(e.order))
	copy(names, e.order)
	return names
}

// Schema returns the model-facing schema of every registered tool, in
// registration order. Pure and side-effect free.
func (e *Executor) Schema() []ToolSchema {
	e.mu.RLock()
	defer e.mu.RUnlock()

	schemas := make([]ToolSchema, 0, len(e.order))
	for _, name := range e.order {
		def := e.tools[name]
		schemas = append(schemas, ToolSchema{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: inputSchemaMap(def),
		})
	}
	return schemas
}

// SchemaFor returns the schema of a named subset of tools, preserving
// registration order. Unknown names are skipped.
func (e *Executor) SchemaFor(names []string) []ToolSchema {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	all := e.Schema()
	subset := make([]ToolSchema, 0, len(names))
	for _, ts := range all {
		if wanted[ts.Name] {
			subset = append(subset, ts)
		}
	}
	return subset
}

// Execute runs a single tool call. Unknown tools, invalid arguments, handler
// errors, panics and timeouts all come back as failed ToolResults; nothing
// escapes this boundary.
func (e *Executor) Execute(ctx context.Context, call ToolCall) ToolResult {
	e.mu.RLock()
	tool := e.tools[call.Name]
	schema := e.schemas[call.Name]
	timeout := e.timeout
	observer := e.observer
	e.mu.RUnlock()

	start := time.Now()
	result := e.run(ctx, tool, schema, timeout, call)

	observability.RecordToolExecution(call.Name, time.Since(start), result.Success)
	notify(observer, call, result)

	return result
}

func (e *Executor) run(ctx context.Context, tool *ToolDefinition, schema *gojsonschema.Schema, timeout time.Duration, call ToolCall) ToolResult {
	if tool == nil {
		log.Warn().Str("tool", call.Name).Msg("Unknown tool requested")
		return ToolResult{
			CallID: call.ID,
			Name:   call.Name,
			Error:  fmt.Sprintf("unknown tool: %s", call.Name),
		}
	}

	args := call.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}

	if err := validateArguments(schema, args); err != nil {
		log.Warn().Str("tool", call.Name).Err(err).Msg("Argument validation failed")
		return ToolResult{
			CallID: call.ID,
			Name:   call.Name,
			Error:  fmt.Sprintf("invalid arguments: %v", err),
		}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	resultCh := make(chan interface{}, 1)
	errCh := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				errCh <- fmt.Errorf("tool panicked: %v", r)
			}
		}()
		output, err := tool.Handler(timeoutCtx, args)
		if err != nil {
			errCh <- err
		} else {
			resultCh <- output
		}
	}()

	select {
	case output := <-resultCh:
		log.Debug().
			Str("tool", call.Name).
			Dur("duration", time.Since(start)).
			Msg("Tool execution completed")
		return ToolResult{
			CallID:  call.ID,
			Name:    call.Name,
			Success: true,
			Output:  output,
		}

	case err := <-errCh:
		log.Error().
			Str("tool", call.Name).
			Dur("duration", time.Since(start)).
			Err(err).
			Msg("Tool execution failed")
		return ToolResult{
			CallID: call.ID,
			Name:   call.Name,
			Error:  err.Error(),
		}

	case <-timeoutCtx.Done():
		log.Error().
			Str("tool", call.Name).
			Dur("duration", time.Since(start)).
			Msg("Tool execution timeout")
		return ToolResult{
			CallID: call.ID,
			Name:   call.Name,
			Error:  fmt.Sprintf("tool execution timeout after %v", timeout),
		}
	}
}

// ExecuteMany runs an ordered batch of calls. Calls run concurrently but
// results come back in input order; pairing downstream is by CallID.
func (e *Executor) ExecuteMany(ctx context.Context, calls []ToolCall) []ToolResult {
	results := make([]ToolResult, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(slot int, c ToolCall) {
			defer wg.Done()
			results[slot] = e.Execute(ctx, c)
		}(i, call)
	}
	wg.Wait()

	return results
}

func notify(observer Observer, call ToolCall, result ToolResult) {
	if observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Str("tool", call.Name).Interface("panic", r).Msg("Tool observer panicked")
		}
	}()
	observer(call.Name, call.Arguments, result)
}

func validateDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
	}

	return nil
}

// inputSchemaMap builds the JSON-schema document for a tool's parameters.
func inputSchemaMap(def *ToolDefinition) map[string]interface{} {
	properties := make(map[string]interface{})
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schemaMap := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}
	return schemaMap
}

func compileSchema(def ToolDefinition) (*gojsonschema.Schema, error) {
	loader := gojsonschema.NewGoLoader(inputSchemaMap(&def))
	return gojsonschema.NewSchema(loader)
}

func validateArguments(schema *gojsonschema.Schema, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}

	if !result.Valid() {
		details := []string{}
		for _, verr := range result.Errors() {
			details = append(details, verr.String())
		}
		return fmt.Errorf("validation errors: %v", details)
	}

	return nil
}
