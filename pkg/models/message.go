// Package models holds the data model shared by every component of the
// orchestrator: messages, tool calls, tasks, and bus events.
package models

import "encoding/json"

// Role identifies the author of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is an LLM's request to execute a tool.
//
// ID is unique within a single assistant turn. When a provider omits it,
// the reasoning loop assigns one before dispatch (see agent.SynthesizeToolCallID).
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the one-to-one response to a prior ToolCall.
//
// Error is non-empty exactly when the call failed (timeout, exception, denied
// permission, or the tool itself reported an error); Result is meaningless in
// that case.
type ToolResult struct {
	ToolCallID string          `json:"tool_call_id"`
	Name       string          `json:"name"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// IsError reports whether this result represents a failure.
func (r ToolResult) IsError() bool {
	return r.Error != ""
}

// Message is one entry in an agent's ordered conversation history.
//
// Invariants (enforced by the callers that build messages, not by this
// struct): assistant messages may carry ToolCalls and/or Content; tool
// messages carry only ToolResults and must immediately follow the assistant
// message whose ToolCalls they satisfy, in matching order; system messages
// appear only at the head of history and survive compaction.
type Message struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// UsageMetadata reports token accounting for a single provider turn.
type UsageMetadata struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// StreamChunk is one element of a provider's streaming response.
//
// Exactly one payload field is meaningful per chunk; Usage may piggyback
// alongside any of the others on the final chunk of a turn.
type StreamChunk struct {
	Content           string         `json:"content,omitempty"`
	ToolCall          *ToolCall      `json:"tool_call,omitempty"`
	ToolResult        *ToolResult    `json:"tool_result,omitempty"`
	PermissionRequest []ToolCall     `json:"permission_request,omitempty"`
	Usage             *UsageMetadata `json:"usage,omitempty"`
	FinishReason      string         `json:"finish_reason,omitempty"`
}

// AgentResponse is the non-streaming counterpart to a sequence of StreamChunks,
// returned by LLMProvider.Generate.
type AgentResponse struct {
	Content   string         `json:"content,omitempty"`
	ToolCalls []ToolCall     `json:"tool_calls,omitempty"`
	Usage     *UsageMetadata `json:"usage,omitempty"`
}

// AgentConfig describes how an agent instance should behave: which model and
// provider to use, its system prompt, and its step/sampling bounds.
type AgentConfig struct {
	Model              string         `json:"model"`
	Provider           string         `json:"provider"`
	SystemPrompt       string         `json:"system_prompt,omitempty"`
	MaxSteps           int            `json:"max_steps"`
	Temperature        float64        `json:"temperature,omitempty"`
	TopP               *float64       `json:"top_p,omitempty"`
	TopK               *int           `json:"top_k,omitempty"`
	MaxTokens          *int           `json:"max_tokens,omitempty"`
	SensitiveToolNames map[string]bool `json:"sensitive_tool_names,omitempty"`
	Extras             map[string]any `json:"extras,omitempty"`
}

// IsSensitive reports whether toolName requires human approval under this config.
func (c AgentConfig) IsSensitive(toolName string) bool {
	return c.SensitiveToolNames[toolName]
}
