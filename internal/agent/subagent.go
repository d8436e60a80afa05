package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/haasonsaas/orchestra/pkg/models"
)

// SubagentSpec describes one named sub-agent that can be invoked as a tool by
// a parent reasoning loop. Unlike the teacher's bidirectional handoff (which
// transfers the whole conversation to a peer agent and optionally returns
// control later), a sub-agent here is invoked, runs its own Stream call to
// completion, and hands back only its final content - there is no handoff
// stack, no return_control tool, and no supervisor/router layer.
type SubagentSpec struct {
	// Name identifies the sub-agent in the invoke_subagent tool's schema.
	Name string

	// Description is shown to the parent LLM to help it decide when to
	// delegate to this sub-agent.
	Description string

	// Provider is the LLM provider the sub-agent's loop streams against.
	Provider LLMProvider

	// Registry holds the tools available to the sub-agent. May differ from
	// the parent's registry (e.g. a narrower, specialist tool set).
	Registry *ToolRegistry

	// AgentConfig configures the sub-agent's own reasoning loop (model,
	// system prompt, max_steps, sensitive_tool_names, ...).
	AgentConfig models.AgentConfig

	// LoopConfig configures the sub-agent's loop subsystems. Nil uses
	// DefaultLoopConfig.
	LoopConfig *LoopConfig

	memory *Memory
	loop   *AgenticLoop
}

// SubagentRegistry holds the set of sub-agents a parent loop can delegate to
// via the invoke_subagent tool. Each sub-agent's memory persists across
// invocations within the registry's lifetime unless the caller asks for it to
// be cleared first.
type SubagentRegistry struct {
	mu   sync.RWMutex
	subs map[string]*SubagentSpec
}

// NewSubagentRegistry creates an empty sub-agent registry.
func NewSubagentRegistry() *SubagentRegistry {
	return &SubagentRegistry{subs: make(map[string]*SubagentSpec)}
}

// Register adds a sub-agent under spec.Name, failing if the name is already
// taken or the spec is missing a provider.
func (r *SubagentRegistry) Register(spec *SubagentSpec) error {
	if spec == nil || spec.Name == "" {
		return fmt.Errorf("subagent spec must have a non-empty name")
	}
	if spec.Provider == nil {
		return fmt.Errorf("subagent %q: provider is required", spec.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.subs[spec.Name]; exists {
		return fmt.Errorf("subagent %q already registered", spec.Name)
	}

	registry := spec.Registry
	if registry == nil {
		registry = NewToolRegistry()
	}
	spec.Registry = registry
	spec.memory = NewMemory(0)
	spec.loop = NewAgenticLoop(spec.Provider, registry, spec.memory, spec.AgentConfig, spec.LoopConfig)
	r.subs[spec.Name] = spec
	return nil
}

// Get returns the named sub-agent's spec, or nil if it isn't registered.
func (r *SubagentRegistry) Get(name string) *SubagentSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.subs[name]
}

// Names returns the registered sub-agent names in sorted order.
func (r *SubagentRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.subs))
	for name := range r.subs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// invokeSubagentInput is the schema-bound input to the invoke_subagent tool.
type invokeSubagentInput struct {
	AgentName   string `json:"agent_name"`
	Task        string `json:"task"`
	ClearMemory bool   `json:"clear_memory"`
}

// SubagentTool is a Tool that lets a parent reasoning loop delegate a task to
// one of a fixed set of named sub-agents, running each invocation to
// completion and returning only the sub-agent's final content. It is
// deliberately one-directional: a sub-agent cannot itself delegate back to
// its caller, and there is no shared handoff stack.
type SubagentTool struct {
	registry *SubagentRegistry
}

// NewSubagentTool creates a tool that dispatches invoke_subagent calls
// against registry.
func NewSubagentTool(registry *SubagentRegistry) *SubagentTool {
	return &SubagentTool{registry: registry}
}

// Name returns the tool's name.
func (t *SubagentTool) Name() string { return "invoke_subagent" }

// Description lists the currently registered sub-agents and their purpose.
func (t *SubagentTool) Description() string {
	var b strings.Builder
	b.WriteString("Delegate a task to a specialized sub-agent and wait for its final answer. ")
	b.WriteString("The sub-agent runs independently to completion; it cannot ask you follow-up questions.\n\nAvailable agents:")
	for _, name := range t.registry.Names() {
		spec := t.registry.Get(name)
		b.WriteString(fmt.Sprintf("\n- %s: %s", name, spec.Description))
	}
	return b.String()
}

// Schema returns the JSON schema for the tool's input.
func (t *SubagentTool) Schema() json.RawMessage {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent_name": map[string]any{
				"type":        "string",
				"description": "Name of the sub-agent to invoke",
				"enum":        t.registry.Names(),
			},
			"task": map[string]any{
				"type":        "string",
				"description": "The task to hand to the sub-agent, in enough detail for it to act without further context",
			},
			"clear_memory": map[string]any{
				"type":        "boolean",
				"description": "Discard the sub-agent's prior conversation history before running this task",
				"default":     false,
			},
		},
		"required": []string{"agent_name", "task"},
	}
	data, _ := json.Marshal(schema)
	return data
}

// Execute runs the named sub-agent's reasoning loop to completion against
// the given task and returns its accumulated final content.
func (t *SubagentTool) Execute(ctx context.Context, arguments json.RawMessage) (*ToolResult, error) {
	var input invokeSubagentInput
	if err := json.Unmarshal(arguments, &input); err != nil {
		return &ToolResult{Result: jsonErrorResult(fmt.Sprintf("invalid arguments: %v", err)), IsError: true}, nil
	}

	spec := t.registry.Get(input.AgentName)
	if spec == nil {
		return &ToolResult{
			Result:  jsonErrorResult(fmt.Sprintf("unknown sub-agent %q; available: %s", input.AgentName, strings.Join(t.registry.Names(), ", "))),
			IsError: true,
		}, nil
	}
	if strings.TrimSpace(input.Task) == "" {
		return &ToolResult{Result: jsonErrorResult("task must not be empty"), IsError: true}, nil
	}

	if input.ClearMemory {
		spec.memory.Clear()
		if spec.AgentConfig.SystemPrompt != "" {
			spec.memory.Add(models.Message{Role: models.RoleSystem, Content: spec.AgentConfig.SystemPrompt})
		}
	}

	var content strings.Builder
	for chunk := range spec.loop.Stream(ctx, input.Task) {
		content.WriteString(chunk.Content)
	}

	if err := spec.loop.LastError(); err != nil {
		return &ToolResult{
			Result:  jsonErrorResult(fmt.Sprintf("sub-agent %q failed: %v", input.AgentName, err)),
			IsError: true,
		}, nil
	}

	payload, _ := json.Marshal(map[string]string{
		"agent_name": input.AgentName,
		"result":     content.String(),
	})
	return &ToolResult{Result: payload}, nil
}

func jsonErrorResult(msg string) json.RawMessage {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return data
}
