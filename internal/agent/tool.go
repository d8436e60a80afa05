package agent

import (
	"context"
	"encoding/json"
)

// Tool is a named, JSON-schema-described operation an LLM may invoke.
//
// Execute may block or may itself launch a goroutine and return once it
// completes; the Executor (C2) is responsible for running it off the
// scheduler so a blocking tool never stalls other work.
type Tool interface {
	Name() string
	Description() string
	// Schema returns the tool's parameters as a JSON Schema object. The
	// Registry strips vendor-neutral export-only keys (title, $schema,
	// $defs, additionalProperties, definitions) before handing it to a
	// provider adapter.
	Schema() json.RawMessage
	Execute(ctx context.Context, arguments json.RawMessage) (*ToolResult, error)
}

// ToolResult is a tool's raw output before it is wrapped into a
// models.ToolResult addressed to a specific ToolCall.
type ToolResult struct {
	Result  json.RawMessage
	IsError bool
}

// LLMTool is the vendor-neutral shape exported to provider adapters.
type LLMTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}
