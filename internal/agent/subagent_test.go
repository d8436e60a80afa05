package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/haasonsaas/orchestra/pkg/models"
)

func newTestSubagentRegistry(t *testing.T, provider LLMProvider) *SubagentRegistry {
	t.Helper()
	registry := NewSubagentRegistry()
	err := registry.Register(&SubagentSpec{
		Name:        "researcher",
		Description: "Looks things up",
		Provider:    provider,
		AgentConfig: models.AgentConfig{MaxSteps: 5},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return registry
}

func newTestSubagentRegistryWithSystemPrompt(t *testing.T, provider LLMProvider, systemPrompt string) *SubagentRegistry {
	t.Helper()
	registry := NewSubagentRegistry()
	err := registry.Register(&SubagentSpec{
		Name:        "researcher",
		Description: "Looks things up",
		Provider:    provider,
		AgentConfig: models.AgentConfig{MaxSteps: 5, SystemPrompt: systemPrompt},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return registry
}

func TestSubagentRegistry_RegisterDuplicateFails(t *testing.T) {
	provider := &scriptedProvider{turns: [][]models.StreamChunk{{{Content: "ok"}}}}
	registry := newTestSubagentRegistry(t, provider)

	err := registry.Register(&SubagentSpec{Name: "researcher", Provider: provider})
	if err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestSubagentRegistry_RegisterRequiresProvider(t *testing.T) {
	registry := NewSubagentRegistry()
	if err := registry.Register(&SubagentSpec{Name: "x"}); err == nil {
		t.Fatal("expected registration without a provider to fail")
	}
}

func TestSubagentTool_SchemaListsRegisteredAgents(t *testing.T) {
	provider := &scriptedProvider{turns: [][]models.StreamChunk{{{Content: "ok"}}}}
	registry := newTestSubagentRegistry(t, provider)
	tool := NewSubagentTool(registry)

	var schema map[string]any
	if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
		t.Fatalf("schema did not parse as JSON: %v", err)
	}
	props, _ := schema["properties"].(map[string]any)
	agentName, _ := props["agent_name"].(map[string]any)
	enum, _ := agentName["enum"].([]any)
	if len(enum) != 1 || enum[0] != "researcher" {
		t.Errorf("expected schema agent_name enum [researcher], got %v", agentName["enum"])
	}
	if !strings.Contains(tool.Description(), "researcher") {
		t.Errorf("expected description to list the researcher sub-agent, got %q", tool.Description())
	}
}

func TestSubagentTool_ExecuteRunsSubagentToCompletion(t *testing.T) {
	provider := &scriptedProvider{turns: [][]models.StreamChunk{
		{{Content: "the answer is 42"}},
	}}
	registry := newTestSubagentRegistry(t, provider)
	tool := NewSubagentTool(registry)

	args, _ := json.Marshal(invokeSubagentInput{AgentName: "researcher", Task: "what is the answer"})
	result, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Result)
	}

	var payload struct {
		AgentName string `json:"agent_name"`
		Result    string `json:"result"`
	}
	if err := json.Unmarshal(result.Result, &payload); err != nil {
		t.Fatalf("result did not parse as JSON: %v", err)
	}
	if payload.Result != "the answer is 42" {
		t.Errorf("result = %q, want %q", payload.Result, "the answer is 42")
	}

	spec := registry.Get("researcher")
	if spec.memory.Len() == 0 {
		t.Error("expected sub-agent memory to retain the conversation")
	}
}

func TestSubagentTool_ExecuteUnknownAgent(t *testing.T) {
	provider := &scriptedProvider{turns: [][]models.StreamChunk{{{Content: "ok"}}}}
	registry := newTestSubagentRegistry(t, provider)
	tool := NewSubagentTool(registry)

	args, _ := json.Marshal(invokeSubagentInput{AgentName: "nonexistent", Task: "do something"})
	result, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error result for an unknown sub-agent")
	}
}

func TestSubagentTool_ExecuteEmptyTaskRejected(t *testing.T) {
	provider := &scriptedProvider{turns: [][]models.StreamChunk{{{Content: "ok"}}}}
	registry := newTestSubagentRegistry(t, provider)
	tool := NewSubagentTool(registry)

	args, _ := json.Marshal(invokeSubagentInput{AgentName: "researcher", Task: "   "})
	result, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error result for an empty task")
	}
}

func TestSubagentTool_ClearMemoryDiscardsHistory(t *testing.T) {
	provider := &scriptedProvider{turns: [][]models.StreamChunk{
		{{Content: "first"}},
		{{Content: "second"}},
	}}
	registry := newTestSubagentRegistry(t, provider)
	tool := NewSubagentTool(registry)

	args1, _ := json.Marshal(invokeSubagentInput{AgentName: "researcher", Task: "first task"})
	if _, err := tool.Execute(context.Background(), args1); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	spec := registry.Get("researcher")
	lenAfterFirst := spec.memory.Len()
	if lenAfterFirst == 0 {
		t.Fatal("expected memory after first call")
	}

	args2, _ := json.Marshal(invokeSubagentInput{AgentName: "researcher", Task: "second task", ClearMemory: true})
	if _, err := tool.Execute(context.Background(), args2); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if spec.memory.Len() >= lenAfterFirst*2 {
		t.Errorf("expected clear_memory to discard prior history, memory length = %d", spec.memory.Len())
	}
}

func TestSubagentTool_ClearMemoryReseedsSystemPrompt(t *testing.T) {
	provider := &scriptedProvider{turns: [][]models.StreamChunk{
		{{Content: "first"}},
		{{Content: "second"}},
	}}
	registry := newTestSubagentRegistryWithSystemPrompt(t, provider, "you are a careful researcher")
	tool := NewSubagentTool(registry)

	args1, _ := json.Marshal(invokeSubagentInput{AgentName: "researcher", Task: "first task"})
	if _, err := tool.Execute(context.Background(), args1); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	args2, _ := json.Marshal(invokeSubagentInput{AgentName: "researcher", Task: "second task", ClearMemory: true})
	if _, err := tool.Execute(context.Background(), args2); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	spec := registry.Get("researcher")
	messages := spec.memory.Messages()
	if len(messages) == 0 || messages[0].Role != models.RoleSystem || messages[0].Content != "you are a careful researcher" {
		t.Fatalf("expected clear_memory to re-seed the system prompt as the first message, got %+v", messages)
	}

	args3, _ := json.Marshal(invokeSubagentInput{AgentName: "researcher", Task: "third task", ClearMemory: true})
	if _, err := tool.Execute(context.Background(), args3); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	messages = spec.memory.Messages()
	if len(messages) == 0 || messages[0].Role != models.RoleSystem {
		t.Fatalf("expected the system prompt to survive a second clear_memory call too, got %+v", messages)
	}
}
