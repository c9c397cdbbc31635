// Package agent implements the conversation turn loop: it feeds history and
// tool schemas to a model provider, executes requested tools, and appends
// results until the model produces a plain answer. Lifecycle events are
// emitted to an optional observer for channel rendering.
package agent
