package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/haasonsaas/orchestra/pkg/models"
)

// scriptedProvider replays a fixed sequence of turns, one per Stream call.
type scriptedProvider struct {
	turns [][]models.StreamChunk
	calls int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Generate(ctx context.Context, history []models.Message, tools []LLMTool) (*models.AgentResponse, error) {
	return nil, nil
}

func (p *scriptedProvider) Stream(ctx context.Context, history []models.Message, tools []LLMTool) (<-chan models.StreamChunk, error) {
	idx := p.calls
	p.calls++
	if idx >= len(p.turns) {
		idx = len(p.turns) - 1
	}
	ch := make(chan models.StreamChunk, len(p.turns[idx]))
	for _, c := range p.turns[idx] {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func drain(ch <-chan models.StreamChunk) []models.StreamChunk {
	var out []models.StreamChunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

type echoTool struct{}

func (echoTool) Name() string            { return "list_directory" }
func (echoTool) Description() string     { return "lists a directory" }
func (echoTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (echoTool) Execute(ctx context.Context, arguments json.RawMessage) (*ToolResult, error) {
	return &ToolResult{Result: json.RawMessage(`{"items":["a","b"]}`)}, nil
}

func TestAgenticLoop_SimpleAnswer(t *testing.T) {
	provider := &scriptedProvider{turns: [][]models.StreamChunk{
		{{Content: "4"}},
	}}
	loop := NewAgenticLoop(provider, NewToolRegistry(), nil, models.AgentConfig{MaxSteps: 5}, nil)

	chunks := drain(loop.Stream(context.Background(), "what is 2+2"))
	if err := loop.LastError(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(chunks) != 2 {
		t.Fatalf("expected content + terminator, got %d chunks: %+v", len(chunks), chunks)
	}
	if chunks[0].Content != "4" {
		t.Errorf("content = %q, want %q", chunks[0].Content, "4")
	}
	if chunks[1].FinishReason == "" {
		t.Errorf("expected terminator chunk with FinishReason set")
	}

	msgs := loop.Memory().Messages()
	if len(msgs) != 2 || msgs[0].Role != models.RoleUser || msgs[1].Role != models.RoleAssistant {
		t.Fatalf("unexpected memory tail: %+v", msgs)
	}
}

func TestAgenticLoop_SingleNonSensitiveToolCall(t *testing.T) {
	registry := NewToolRegistry()
	if err := registry.Register(echoTool{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	provider := &scriptedProvider{turns: [][]models.StreamChunk{
		{{ToolCall: &models.ToolCall{Name: "list_directory", Arguments: json.RawMessage(`{"path":"."}`)}}},
		{{Content: "Files: a, b"}},
	}}
	loop := NewAgenticLoop(provider, registry, nil, models.AgentConfig{MaxSteps: 5}, nil)

	chunks := drain(loop.Stream(context.Background(), "list files"))
	if err := loop.LastError(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var sawToolCall, sawToolResult, sawContent, sawTerminator bool
	for _, c := range chunks {
		switch {
		case c.ToolCall != nil:
			sawToolCall = true
		case c.ToolResult != nil:
			sawToolResult = true
			if c.ToolResult.IsError() {
				t.Errorf("unexpected tool error: %s", c.ToolResult.Error)
			}
		case c.Content == "Files: a, b":
			sawContent = true
		case c.FinishReason != "":
			sawTerminator = true
		}
	}
	if !sawToolCall || !sawToolResult || !sawContent || !sawTerminator {
		t.Fatalf("missing expected chunk kinds: %+v", chunks)
	}

	msgs := loop.Memory().Messages()
	if len(msgs) != 4 {
		t.Fatalf("expected user, assistant(tool_calls), tool, assistant(content); got %d: %+v", len(msgs), msgs)
	}
	if msgs[1].Role != models.RoleAssistant || len(msgs[1].ToolCalls) != 1 {
		t.Fatalf("expected assistant tool_calls message, got %+v", msgs[1])
	}
	if msgs[2].Role != models.RoleTool || len(msgs[2].ToolResults) != 1 {
		t.Fatalf("expected tool message, got %+v", msgs[2])
	}
}

func TestAgenticLoop_SensitiveToolRequiresApprovalThenRuns(t *testing.T) {
	registry := NewToolRegistry()
	if err := registry.Register(echoTool{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	provider := &scriptedProvider{turns: [][]models.StreamChunk{
		{{ToolCall: &models.ToolCall{ID: "call-1", Name: "list_directory"}}},
		{{Content: "done"}},
	}}
	cfg := models.AgentConfig{MaxSteps: 5, SensitiveToolNames: map[string]bool{"list_directory": true}}
	loop := NewAgenticLoop(provider, registry, nil, cfg, nil)

	first := drain(loop.Stream(context.Background(), "restart"))
	if err := loop.LastError(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var sawPermissionRequest bool
	for _, c := range first {
		if len(c.PermissionRequest) == 1 && c.PermissionRequest[0].Name == "list_directory" {
			sawPermissionRequest = true
		}
	}
	if !sawPermissionRequest {
		t.Fatalf("expected permission_request chunk, got %+v", first)
	}

	for _, m := range loop.Memory().Messages() {
		if m.Role == models.RoleTool {
			t.Fatalf("no tool message should be appended before approval resolves")
		}
	}

	second := drain(loop.Stream(context.Background(), "yes"))
	if err := loop.LastError(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var sawGrant, sawResult, sawContent bool
	for _, c := range second {
		switch {
		case c.Content == "✅ Permission granted, executing...":
			sawGrant = true
		case c.ToolResult != nil:
			sawResult = true
		case c.Content == "done":
			sawContent = true
		}
	}
	if !sawGrant || !sawResult || !sawContent {
		t.Fatalf("expected grant + result + next turn content, got %+v", second)
	}
}

func TestAgenticLoop_SensitiveToolDenied(t *testing.T) {
	registry := NewToolRegistry()
	if err := registry.Register(echoTool{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	provider := &scriptedProvider{turns: [][]models.StreamChunk{
		{{ToolCall: &models.ToolCall{ID: "call-1", Name: "list_directory"}}},
		{{Content: "acknowledged"}},
	}}
	cfg := models.AgentConfig{MaxSteps: 5, SensitiveToolNames: map[string]bool{"list_directory": true}}
	loop := NewAgenticLoop(provider, registry, nil, cfg, nil)

	drain(loop.Stream(context.Background(), "restart"))

	second := drain(loop.Stream(context.Background(), "no"))
	if err := loop.LastError(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var sawDenial bool
	for _, c := range second {
		if c.Content == "❌ Permission denied, continuing without executing the requested tools." {
			sawDenial = true
		}
		if c.ToolResult != nil {
			t.Fatalf("denial must not execute the tool, got a tool_result chunk")
		}
	}
	if !sawDenial {
		t.Fatalf("expected denial content chunk, got %+v", second)
	}

	var toolMsg *models.Message
	msgs := loop.Memory().Messages()
	for i, m := range msgs {
		if m.Role == models.RoleTool {
			toolMsg = &msgs[i]
		}
	}
	if toolMsg == nil || len(toolMsg.ToolResults) != 1 {
		t.Fatalf("expected one tool message with the denial result")
	}
	want := "user denied permission; input: no"
	if toolMsg.ToolResults[0].Error != want {
		t.Errorf("error = %q, want %q", toolMsg.ToolResults[0].Error, want)
	}
}

func TestAgenticLoop_MaxStepsExceeded(t *testing.T) {
	registry := NewToolRegistry()
	if err := registry.Register(echoTool{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	turn := []models.StreamChunk{{ToolCall: &models.ToolCall{Name: "list_directory"}}}
	provider := &scriptedProvider{turns: [][]models.StreamChunk{turn, turn, turn}}
	loop := NewAgenticLoop(provider, registry, nil, models.AgentConfig{MaxSteps: 2}, nil)

	chunks := drain(loop.Stream(context.Background(), "go"))

	err := loop.LastError()
	if err == nil {
		t.Fatal("expected LastError to report max steps exceeded")
	}
	loopErr, ok := err.(*LoopError)
	if !ok {
		t.Fatalf("expected *LoopError, got %T", err)
	}
	if loopErr.Cause != ErrMaxStepsExceeded {
		t.Errorf("cause = %v, want ErrMaxStepsExceeded", loopErr.Cause)
	}

	var sawTerminal bool
	for _, c := range chunks {
		if c.FinishReason == "max_steps_exceeded" {
			sawTerminal = true
		}
	}
	if !sawTerminal {
		t.Fatalf("expected a max_steps_exceeded terminal chunk, got %+v", chunks)
	}
}

func TestAgenticLoop_MaxWallTimeExpired(t *testing.T) {
	provider := &scriptedProvider{turns: [][]models.StreamChunk{
		{{Content: "ok"}},
	}}
	cfg := &LoopConfig{MaxWallTime: time.Nanosecond}
	loop := NewAgenticLoop(provider, NewToolRegistry(), nil, models.AgentConfig{MaxSteps: 5}, cfg)

	time.Sleep(time.Millisecond)
	drain(loop.Stream(context.Background(), "hi"))
	if err := loop.LastError(); err == nil {
		t.Fatal("expected an error from an already-expired wall time budget")
	}
}
