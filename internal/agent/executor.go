package agent

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/haasonsaas/orchestra/internal/bus"
	"github.com/haasonsaas/orchestra/internal/telemetry"
	"github.com/haasonsaas/orchestra/pkg/models"
)

// EventPublisher is the subset of the event bus the executor needs to
// announce tool_execution_started/completed/failed. It is satisfied by
// *bus.EventBus; tests can supply a stub.
type EventPublisher interface {
	Publish(event bus.Event)
}

type nopEventPublisher struct{}

func (nopEventPublisher) Publish(bus.Event) {}

// ExecutorConfig configures the parallel tool executor behavior including
// concurrency limits, timeouts, and retry strategies.
type ExecutorConfig struct {
	// MaxConcurrency limits the number of parallel tool executions.
	MaxConcurrency int

	// DefaultTimeout is the per-call timeout applied when a tool has no
	// override. The contract default is 300s.
	DefaultTimeout time.Duration

	// DefaultRetries is the default number of retries for retryable errors.
	DefaultRetries int

	// RetryBackoff is the initial backoff duration between retries.
	RetryBackoff time.Duration

	// MaxRetryBackoff caps the exponential backoff.
	MaxRetryBackoff time.Duration
}

// DefaultExecutorConfig returns the default executor configuration.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		MaxConcurrency:  5,
		DefaultTimeout:  300 * time.Second,
		DefaultRetries:  2,
		RetryBackoff:    100 * time.Millisecond,
		MaxRetryBackoff: 5 * time.Second,
	}
}

// ToolConfig holds per-tool configuration overrides for timeout, retry, and
// priority settings.
type ToolConfig struct {
	Timeout      time.Duration
	Retries      int
	RetryBackoff time.Duration
	Priority     int
}

// Executor runs batches of tool calls concurrently (C2), preserving the
// caller's ordering in its results slice regardless of completion order.
// Metrics is optional; when nil, execution is unobserved.
type Executor struct {
	registry   *ToolRegistry
	config     *ExecutorConfig
	toolConfig map[string]*ToolConfig
	mu         sync.RWMutex

	sem chan struct{}

	metrics   *ExecutorMetrics
	telemetry *telemetry.Metrics
	events    EventPublisher

	// AgentID tags the agent_id field of published tool_execution_* events.
	// Optional; left empty when the executor isn't bound to one agent.
	AgentID string
}

// ExecutorMetrics tracks executor performance metrics independent of any
// external metrics system, so callers without Prometheus wired up still get
// basic counters back from Metrics().
type ExecutorMetrics struct {
	mu              sync.Mutex
	TotalExecutions int64
	TotalRetries    int64
	TotalFailures   int64
	TotalTimeouts   int64
	TotalPanics     int64
}

// NewExecutor creates a new parallel tool executor with the given registry
// and configuration. If config is nil, DefaultExecutorConfig is used. met may
// be nil if Prometheus metrics are not needed (e.g. in unit tests).
func NewExecutor(registry *ToolRegistry, config *ExecutorConfig, met *telemetry.Metrics) *Executor {
	if config == nil {
		config = DefaultExecutorConfig()
	}

	return &Executor{
		registry:   registry,
		config:     config,
		toolConfig: make(map[string]*ToolConfig),
		sem:        make(chan struct{}, config.MaxConcurrency),
		metrics:    &ExecutorMetrics{},
		telemetry:  met,
		events:     nopEventPublisher{},
	}
}

// WithEvents wires the Event Bus every tool_execution_started/completed/failed
// announcement publishes to, tagging each with agentID. Returns the executor
// for chaining; passing a nil events leaves publishing a no-op.
func (e *Executor) WithEvents(events EventPublisher, agentID string) *Executor {
	if events != nil {
		e.events = events
	}
	e.AgentID = agentID
	return e
}

func (e *Executor) publishEvent(eventType models.EventType, payload map[string]any) {
	if e.AgentID != "" {
		payload["agent_id"] = e.AgentID
	}
	e.events.Publish(bus.NewEvent(eventType, payload))
}

// ConfigureTool sets per-tool configuration overrides for the named tool.
func (e *Executor) ConfigureTool(name string, config *ToolConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.toolConfig[name] = config
}

func (e *Executor) getToolConfig(name string) *ToolConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.toolConfig[name]
}

// ExecutionResult holds the result of a single tool execution including
// timing information and retry attempts.
type ExecutionResult struct {
	ToolCallID string
	ToolName   string
	Result     *ToolResult
	Error      error
	Duration   time.Duration
	Attempts   int
}

// ExecuteAll executes multiple tool calls concurrently, one goroutine per
// call, bounded by the executor's semaphore. Results are returned in the same
// order as the input calls, regardless of completion order.
func (e *Executor) ExecuteAll(ctx context.Context, calls []models.ToolCall) []*ExecutionResult {
	if len(calls) == 0 {
		return nil
	}

	results := make([]*ExecutionResult, len(calls))
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc models.ToolCall) {
			defer wg.Done()
			results[idx] = e.Execute(ctx, tc)
		}(i, call)
	}

	wg.Wait()
	return results
}

// Execute executes a single tool call with retry logic and timeout handling,
// acquiring a semaphore slot for backpressure before it runs.
func (e *Executor) Execute(ctx context.Context, call models.ToolCall) *ExecutionResult {
	start := time.Now()
	result := &ExecutionResult{
		ToolCallID: call.ID,
		ToolName:   call.Name,
	}

	e.publishEvent(models.EventToolExecutionStarted, map[string]any{
		"tool_call_id": call.ID,
		"tool_name":    call.Name,
		"arguments":    call.Arguments,
	})

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		result.Error = NewToolError(call.Name, ctx.Err()).
			WithType(ToolErrorTimeout).
			WithToolCallID(call.ID)
		result.Duration = time.Since(start)
		e.recordOutcome(call.Name, "timeout", result.Duration)
		e.publishEvent(models.EventToolExecutionFailed, map[string]any{
			"tool_call_id": call.ID,
			"tool_name":    call.Name,
			"error":        result.Error.Error(),
		})
		return result
	}

	tc := e.getToolConfig(call.Name)
	timeout := e.config.DefaultTimeout
	maxRetries := e.config.DefaultRetries
	backoff := e.config.RetryBackoff

	if tc != nil {
		if tc.Timeout > 0 {
			timeout = tc.Timeout
		}
		if tc.Retries >= 0 {
			maxRetries = tc.Retries
		}
		if tc.RetryBackoff > 0 {
			backoff = tc.RetryBackoff
		}
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		result.Attempts = attempt + 1

		execResult, execErr := e.executeWithTimeout(ctx, call, timeout)

		if execErr == nil {
			result.Result = execResult
			result.Duration = time.Since(start)

			e.metrics.mu.Lock()
			e.metrics.TotalExecutions++
			if attempt > 0 {
				e.metrics.TotalRetries += int64(attempt)
			}
			e.metrics.mu.Unlock()

			outcome := "success"
			if execResult != nil && execResult.IsError {
				outcome = "error"
			}
			e.recordOutcome(call.Name, outcome, result.Duration)
			if outcome == "success" {
				e.publishEvent(models.EventToolExecutionDone, map[string]any{
					"tool_call_id": call.ID,
					"tool_name":    call.Name,
					"result":       execResult.Result,
				})
			} else {
				e.publishEvent(models.EventToolExecutionFailed, map[string]any{
					"tool_call_id": call.ID,
					"tool_name":    call.Name,
					"error":        string(execResult.Result),
				})
			}
			return result
		}

		lastErr = execErr

		if !IsToolRetryable(execErr) || ctx.Err() != nil || attempt >= maxRetries {
			break
		}

		sleepDuration := backoff * time.Duration(1<<uint(attempt))
		if sleepDuration > e.config.MaxRetryBackoff {
			sleepDuration = e.config.MaxRetryBackoff
		}

		select {
		case <-time.After(sleepDuration):
		case <-ctx.Done():
			lastErr = NewToolError(call.Name, ctx.Err()).
				WithType(ToolErrorTimeout).
				WithToolCallID(call.ID)
		}
	}

	result.Error = lastErr
	result.Duration = time.Since(start)

	e.metrics.mu.Lock()
	e.metrics.TotalExecutions++
	e.metrics.TotalFailures++
	outcome := "error"
	if toolErr, ok := GetToolError(lastErr); ok {
		if toolErr.Type == ToolErrorTimeout {
			e.metrics.TotalTimeouts++
			outcome = "timeout"
		} else if toolErr.Type == ToolErrorPanic {
			e.metrics.TotalPanics++
			outcome = "panic"
		}
	}
	e.metrics.mu.Unlock()

	e.recordOutcome(call.Name, outcome, result.Duration)
	e.publishEvent(models.EventToolExecutionFailed, map[string]any{
		"tool_call_id": call.ID,
		"tool_name":    call.Name,
		"error":        result.Error.Error(),
	})
	return result
}

func (e *Executor) recordOutcome(toolName, outcome string, d time.Duration) {
	if e.telemetry == nil {
		return
	}
	e.telemetry.ToolExecutions.WithLabelValues(toolName, outcome).Inc()
	e.telemetry.ToolExecutionDuration.WithLabelValues(toolName).Observe(d.Seconds())
}

// executeWithTimeout executes a tool call with a timeout, recovering from any
// panic inside the tool so it never takes the executor down with it.
func (e *Executor) executeWithTimeout(ctx context.Context, call models.ToolCall, timeout time.Duration) (*ToolResult, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type execResult struct {
		result *ToolResult
		err    error
	}
	resultCh := make(chan execResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				err := NewToolError(call.Name, fmt.Errorf("panic: %v\n%s", r, stack)).
					WithType(ToolErrorPanic).
					WithToolCallID(call.ID)
				resultCh <- execResult{err: err}
			}
		}()

		result, err := e.registry.Execute(execCtx, call.Name, call.Arguments)
		if err != nil {
			toolErr := NewToolError(call.Name, err).WithToolCallID(call.ID)
			resultCh <- execResult{err: toolErr}
			return
		}
		resultCh <- execResult{result: result}
	}()

	select {
	case res := <-resultCh:
		return res.result, res.err
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return nil, NewToolError(call.Name, ctx.Err()).
				WithType(ToolErrorTimeout).
				WithToolCallID(call.ID).
				WithMessage("context cancelled")
		}
		return nil, NewToolError(call.Name, ErrToolTimeout).
			WithType(ToolErrorTimeout).
			WithToolCallID(call.ID).
			WithMessage(fmt.Sprintf("execution timed out after %s", timeout))
	}
}

// Metrics returns a copy-safe snapshot of the executor's internal counters.
func (e *Executor) Metrics() *ExecutorMetricsSnapshot {
	e.metrics.mu.Lock()
	defer e.metrics.mu.Unlock()
	return &ExecutorMetricsSnapshot{
		TotalExecutions: e.metrics.TotalExecutions,
		TotalRetries:    e.metrics.TotalRetries,
		TotalFailures:   e.metrics.TotalFailures,
		TotalTimeouts:   e.metrics.TotalTimeouts,
		TotalPanics:     e.metrics.TotalPanics,
	}
}

// ExecutorMetricsSnapshot is a thread-safe copy of executor metrics at a point in time.
type ExecutorMetricsSnapshot struct {
	TotalExecutions int64
	TotalRetries    int64
	TotalFailures   int64
	TotalTimeouts   int64
	TotalPanics     int64
}

// ResultsToMessages converts execution results into models.ToolResult values
// suitable for appending to conversation history.
func ResultsToMessages(results []*ExecutionResult) []models.ToolResult {
	toolResults := make([]models.ToolResult, len(results))

	for i, r := range results {
		toolResults[i] = models.ToolResult{
			ToolCallID: r.ToolCallID,
			Name:       r.ToolName,
		}
		switch {
		case r.Error != nil:
			toolResults[i].Error = r.Error.Error()
		case r.Result != nil:
			if r.Result.IsError {
				toolResults[i].Error = string(r.Result.Result)
			} else {
				toolResults[i].Result = r.Result.Result
			}
		}
	}

	return toolResults
}

// AnyErrors returns true if any execution result contains an error.
func AnyErrors(results []*ExecutionResult) bool {
	for _, r := range results {
		if r.Error != nil {
			return true
		}
	}
	return false
}
