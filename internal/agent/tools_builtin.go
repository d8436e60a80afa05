package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// EchoTool is the simplest possible illustration of the tool contract (C1):
// it returns its "text" argument unchanged. Useful as a smoke-test tool for
// wiring a new provider adapter or gateway without depending on anything
// else in the system.
type EchoTool struct{}

func (EchoTool) Name() string        { return "echo" }
func (EchoTool) Description() string { return "returns the given text unchanged" }
func (EchoTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"text": {"type": "string"}},
		"required": ["text"]
	}`)
}

func (EchoTool) Execute(ctx context.Context, arguments json.RawMessage) (*ToolResult, error) {
	var args struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return &ToolResult{IsError: true, Result: jsonString("invalid arguments: " + err.Error())}, nil
	}
	return &ToolResult{Result: jsonString(args.Text)}, nil
}

// SleepTool blocks for the given duration, bounded by MaxSleep, honoring
// ctx cancellation. It exists to exercise the Executor's (C2) concurrent
// dispatch and cancellation paths without a real long-running tool.
type SleepTool struct {
	// MaxSleep caps the requested duration; zero means no cap.
	MaxSleep time.Duration
}

func (SleepTool) Name() string        { return "sleep" }
func (SleepTool) Description() string { return "sleeps for the given number of milliseconds" }
func (SleepTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"milliseconds": {"type": "integer", "minimum": 0}},
		"required": ["milliseconds"]
	}`)
}

func (t SleepTool) Execute(ctx context.Context, arguments json.RawMessage) (*ToolResult, error) {
	var args struct {
		Milliseconds int64 `json:"milliseconds"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return &ToolResult{IsError: true, Result: jsonString("invalid arguments: " + err.Error())}, nil
	}

	d := time.Duration(args.Milliseconds) * time.Millisecond
	if t.MaxSleep > 0 && d > t.MaxSleep {
		d = t.MaxSleep
	}

	select {
	case <-time.After(d):
		return &ToolResult{Result: jsonString(fmt.Sprintf("slept %s", d))}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// FailingTool always returns an error result. It exists so tests and
// operators can exercise the loop's and executor's error-reporting path
// (an error ToolResult, not a Go error) without a real tool that might fail
// intermittently.
type FailingTool struct {
	// Message is the error text returned in the ToolResult. Defaults to a
	// generic message when empty.
	Message string
}

func (FailingTool) Name() string        { return "fail" }
func (FailingTool) Description() string { return "always fails, for exercising error handling" }
func (FailingTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type": "object"}`)
}

func (t FailingTool) Execute(ctx context.Context, arguments json.RawMessage) (*ToolResult, error) {
	msg := t.Message
	if msg == "" {
		msg = "fail tool invoked"
	}
	return &ToolResult{IsError: true, Result: jsonString(msg)}, nil
}
