package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool parameter limits to prevent resource exhaustion.
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolArgumentsSize is the maximum size of tool arguments JSON (10MB).
	MaxToolArgumentsSize = 10 << 20
)

// exportStrippedKeys are JSON Schema keys that are meaningful for local
// validation but meaningless (or actively rejected) once exported to an LLM
// provider's tool-definition format.
var exportStrippedKeys = []string{"title", "$schema", "$defs", "additionalProperties", "definitions"}

// ToolRegistry maps tool name to Tool, compiling each tool's JSON Schema once
// at registration time so that later validation on the hot path is cheap.
//
// Registering a duplicate name fails per the tool contract (C1): callers must
// Unregister before re-registering under the same name.
type ToolRegistry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewToolRegistry creates a new empty tool registry ready for tool registration.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool to the registry by its name. It fails if a tool is
// already registered under the same name, or if the tool's declared schema
// does not itself compile as valid JSON Schema.
func (r *ToolRegistry) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("cannot register a nil tool")
	}
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool name must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q is already registered", name)
	}

	schema, err := compileToolSchema(name, tool.Schema())
	if err != nil {
		return fmt.Errorf("tool %q has invalid schema: %w", name, err)
	}

	r.tools[name] = tool
	r.schemas[name] = schema
	return nil
}

func compileToolSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{"type":"object"}`)
	}
	compiler := jsonschema.NewCompiler()
	resourceURL := "tool://" + name
	if err := compiler.AddResource(resourceURL, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile(resourceURL)
}

// Unregister removes a tool from the registry by name.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schemas, name)
}

// Get returns a tool by name and a boolean indicating if it was found.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Execute validates arguments against the tool's declared schema and, if
// valid, runs the tool. A missing tool or a schema violation short-circuits
// to an error ToolResult without invoking the tool, never returning a Go
// error itself — callers always get exactly one ToolResult per call.
func (r *ToolRegistry) Execute(ctx context.Context, name string, arguments json.RawMessage) (*ToolResult, error) {
	if len(name) > MaxToolNameLength {
		return &ToolResult{IsError: true, Result: jsonString(fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength))}, nil
	}
	if len(arguments) > MaxToolArgumentsSize {
		return &ToolResult{IsError: true, Result: jsonString(fmt.Sprintf("tool arguments exceed maximum size of %d bytes", MaxToolArgumentsSize))}, nil
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return &ToolResult{IsError: true, Result: jsonString("unknown tool: " + name)}, nil
	}

	if schema != nil {
		if err := validateArguments(schema, arguments); err != nil {
			return &ToolResult{IsError: true, Result: jsonString("invalid arguments: " + err.Error())}, nil
		}
	}

	return tool.Execute(ctx, arguments)
}

func validateArguments(schema *jsonschema.Schema, arguments json.RawMessage) error {
	if len(arguments) == 0 {
		arguments = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(arguments, &decoded); err != nil {
		return err
	}
	return schema.Validate(decoded)
}

func jsonString(s string) json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}

// AsLLMTools returns all registered tools in the vendor-neutral export shape,
// with export-only schema keys stripped.
func (r *ToolRegistry) AsLLMTools() []LLMTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]LLMTool, 0, len(r.tools))
	for name, tool := range r.tools {
		out = append(out, LLMTool{
			Name:        name,
			Description: tool.Description(),
			Parameters:  stripExportKeys(tool.Schema()),
		})
	}
	return out
}

// stripExportKeys removes schema keys that are useful for local validation
// but should not be sent to provider adapters.
func stripExportKeys(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return raw
	}
	for _, key := range exportStrippedKeys {
		delete(decoded, key)
	}
	cleaned, err := json.Marshal(decoded)
	if err != nil {
		return raw
	}
	return cleaned
}

func normalizeToolName(name string) string {
	return strings.TrimSpace(name)
}

// matchesToolPatterns reports whether toolName matches any of the given
// glob-style patterns. A pattern ending in ".*" matches by prefix; the
// literal "mcp:*" matches any name with an "mcp:" prefix; anything else is
// matched exactly.
func matchesToolPatterns(patterns []string, toolName string) bool {
	if len(patterns) == 0 {
		return false
	}
	name := normalizeToolName(toolName)
	for _, pattern := range patterns {
		if matchToolPattern(normalizeToolName(pattern), name) {
			return true
		}
	}
	return false
}

func matchToolPattern(pattern, toolName string) bool {
	if pattern == "" || toolName == "" {
		return false
	}
	if pattern == "mcp:*" {
		return strings.HasPrefix(toolName, "mcp:")
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(toolName, prefix)
	}
	return pattern == toolName
}
