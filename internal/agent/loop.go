package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/orchestra/internal/jobs"
	"github.com/haasonsaas/orchestra/internal/telemetry"
	"github.com/haasonsaas/orchestra/internal/tools/policy"
	"github.com/haasonsaas/orchestra/pkg/models"
)

// approvalTokens is the set of raw HITL resume inputs that count as approval.
// Comparison is case-insensitive and trims surrounding whitespace; anything
// else is a denial.
var approvalTokens = map[string]bool{
	"yes":     true,
	"y":       true,
	"approve": true,
	"confirm": true,
}

func isApprovalToken(raw string) bool {
	return approvalTokens[strings.ToLower(strings.TrimSpace(raw))]
}

// LoopConfig configures an AgenticLoop's step/time bounds and the
// subsystems it wires tool execution through.
type LoopConfig struct {
	// MaxWallTime bounds the total duration of a single Stream call.
	// 0 means no limit.
	MaxWallTime time.Duration

	// ExecutorConfig configures the underlying parallel tool executor.
	ExecutorConfig *ExecutorConfig

	// Telemetry, if set, is wired into the executor for Prometheus metrics.
	Telemetry *telemetry.Metrics

	// ApprovalChecker, if set, supplements AgentConfig.SensitiveToolNames:
	// a tool call batch is held pending if any call is in the static set OR
	// the checker resolves it to anything other than ApprovalAllowed.
	ApprovalChecker *ApprovalChecker

	// AgentID identifies this loop's agent to the ApprovalChecker and to
	// queued async jobs. Optional.
	AgentID string

	// AsyncTools lists tool-name patterns (see matchesToolPatterns) that are
	// queued onto JobStore instead of executed inline.
	AsyncTools []string

	// JobStore receives async tool job records. Async dispatch is a no-op
	// (falls through to synchronous execution) when nil.
	JobStore jobs.Store

	// MaxConcurrentJobs bounds the number of async tool jobs running at
	// once; additional jobs still run, just without the semaphore's bound.
	MaxConcurrentJobs int

	// ToolResultGuard redacts and truncates tool results before they are
	// appended to memory or persisted to the job store.
	ToolResultGuard ToolResultGuard

	// PolicyResolver and Policy, if both set, narrow the tool list offered
	// to the provider on every turn to what Policy allows - a restricted
	// agent profile never even sees a tool name it isn't permitted to call.
	PolicyResolver *policy.Resolver
	Policy         *policy.Policy

	// Events, if set, receives tool_execution_started/completed/failed
	// announcements from the executor, tagged with AgentID.
	Events EventPublisher
}

// DefaultLoopConfig returns the default loop configuration.
func DefaultLoopConfig() *LoopConfig {
	return &LoopConfig{
		ExecutorConfig:    DefaultExecutorConfig(),
		MaxConcurrentJobs: 5,
	}
}

func sanitizeLoopConfig(config *LoopConfig) *LoopConfig {
	if config == nil {
		return DefaultLoopConfig()
	}
	cfg := *config
	defaults := DefaultLoopConfig()
	if cfg.ExecutorConfig == nil {
		cfg.ExecutorConfig = defaults.ExecutorConfig
	}
	if cfg.MaxWallTime < 0 {
		cfg.MaxWallTime = 0
	}
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = defaults.MaxConcurrentJobs
	}
	return &cfg
}

// defaultMaxSteps bounds LLM turns per Stream call when AgentConfig.MaxSteps
// is unset.
const defaultMaxSteps = 10

// AgenticLoop implements the agent reasoning loop (C5): given raw input, it
// produces a models.StreamChunk sequence and a durable memory update.
//
// The loop is a state machine, not implicit suspension over ad-hoc awaits,
// so HITL suspend/resume stays legible and testable:
//
//	pending_tool_calls? ──yes──► resolve approval ──┐
//	        │no                                     │
//	        ▼                                       │
//	append user message ◄─────────────────────────┘
//	        │
//	        ▼
//	   step loop (turns < max_steps)
//	        │
//	        ▼
//	provider.Stream → forward chunks, accumulate content & tool_calls
//	        │
//	   tool_calls empty? ──yes──► terminator chunk → done
//	        │no
//	        ▼
//	   any call sensitive? ──yes──► store pending, emit permission_request → suspended
//	        │no
//	        ▼
//	   execute batch → emit tool_result chunks → append tool message → next turn
//
// A single AgenticLoop instance is not safe for concurrent Stream calls; the
// caller serializes invocations the same way it owns the underlying Memory.
type AgenticLoop struct {
	provider LLMProvider
	registry *ToolRegistry
	executor *Executor
	config   *LoopConfig
	agent    models.AgentConfig
	memory   *Memory

	jobSem chan struct{}

	mu               sync.Mutex
	pendingToolCalls []models.ToolCall
	lastErr          error
}

// NewAgenticLoop constructs a reasoning loop bound to one agent's config and
// memory. If registry is nil, an empty one is used (the loop never invokes
// tools). If memory is nil, a fresh unbounded Memory is created. If config is
// nil, DefaultLoopConfig is used. When memory is empty and agentCfg carries a
// SystemPrompt, it is seeded as the first message.
func NewAgenticLoop(provider LLMProvider, registry *ToolRegistry, memory *Memory, agentCfg models.AgentConfig, config *LoopConfig) *AgenticLoop {
	config = sanitizeLoopConfig(config)
	if registry == nil {
		registry = NewToolRegistry()
	}
	if memory == nil {
		memory = NewMemory(0)
	}
	if agentCfg.SystemPrompt != "" && memory.Len() == 0 {
		memory.Add(models.Message{Role: models.RoleSystem, Content: agentCfg.SystemPrompt})
	}

	executor := NewExecutor(registry, config.ExecutorConfig, config.Telemetry)
	if config.Events != nil {
		executor.WithEvents(config.Events, config.AgentID)
	}

	return &AgenticLoop{
		provider: provider,
		registry: registry,
		executor: executor,
		config:   config,
		agent:    agentCfg,
		memory:   memory,
		jobSem:   make(chan struct{}, config.MaxConcurrentJobs),
	}
}

// Memory returns the loop's underlying message log.
func (l *AgenticLoop) Memory() *Memory {
	return l.memory
}

// ConfigureTool sets per-tool timeout/retry/priority overrides on the
// underlying executor.
func (l *AgenticLoop) ConfigureTool(name string, config *ToolConfig) {
	l.executor.ConfigureTool(name, config)
}

// LastError returns the error, if any, from the most recently completed
// Stream call. StreamChunk carries no error field, so callers check this
// after the returned channel closes.
func (l *AgenticLoop) LastError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

func (l *AgenticLoop) setLastError(err error) {
	l.mu.Lock()
	l.lastErr = err
	l.mu.Unlock()
}

func (l *AgenticLoop) maxSteps() int {
	if l.agent.MaxSteps > 0 {
		return l.agent.MaxSteps
	}
	return defaultMaxSteps
}

// Stream runs one call of the C5 state machine for rawInput and returns a
// channel of chunks, closed when this call ends. If the previous call
// suspended on a permission request, rawInput is interpreted as the HITL
// approval token instead of conversation text. Call LastError after the
// channel closes to check whether the call ended in error.
func (l *AgenticLoop) Stream(ctx context.Context, rawInput string) <-chan models.StreamChunk {
	out := make(chan models.StreamChunk, 16)

	runCtx := ctx
	var cancel context.CancelFunc
	if l.config.MaxWallTime > 0 {
		runCtx, cancel = context.WithTimeout(ctx, l.config.MaxWallTime)
	}

	go func() {
		defer close(out)
		if cancel != nil {
			defer cancel()
		}
		l.setLastError(nil)

		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("panic: %v", r)
				out <- models.StreamChunk{Content: "⚠️ internal error: " + err.Error(), FinishReason: "error"}
				l.setLastError(&LoopError{Phase: PhaseStream, Cause: err})
			}
		}()

		l.mu.Lock()
		pending := l.pendingToolCalls
		l.pendingToolCalls = nil
		l.mu.Unlock()

		if len(pending) > 0 {
			l.resumeFromApproval(runCtx, rawInput, pending, out)
		} else {
			l.memory.Add(models.Message{Role: models.RoleUser, Content: rawInput})
		}

		if err := l.stepLoop(runCtx, out); err != nil {
			l.setLastError(err)
		}
	}()

	return out
}

// resumeFromApproval resolves a previously suspended batch per the HITL
// resume protocol: approval executes the batch normally; denial synthesizes
// an error ToolResult for every pending call. Either way it appends exactly
// one tool message and never appends a user message, so the caller proceeds
// straight into stepLoop for the next provider turn.
func (l *AgenticLoop) resumeFromApproval(ctx context.Context, rawInput string, pending []models.ToolCall, out chan<- models.StreamChunk) {
	if isApprovalToken(rawInput) {
		out <- models.StreamChunk{Content: "✅ Permission granted, executing..."}
		results := l.executeBatch(ctx, pending)
		for i := range results {
			out <- models.StreamChunk{ToolResult: &results[i]}
		}
		l.memory.Add(models.Message{Role: models.RoleTool, ToolResults: results})
		return
	}

	out <- models.StreamChunk{Content: "❌ Permission denied, continuing without executing the requested tools."}
	results := make([]models.ToolResult, len(pending))
	for i, tc := range pending {
		results[i] = models.ToolResult{
			ToolCallID: tc.ID,
			Name:       tc.Name,
			Error:      fmt.Sprintf("user denied permission; input: %s", rawInput),
		}
	}
	l.memory.Add(models.Message{Role: models.RoleTool, ToolResults: results})
}

// availableTools returns the tool list to offer the provider this turn,
// narrowed by config.PolicyResolver/Policy if both are set.
func (l *AgenticLoop) availableTools() []LLMTool {
	if l.config.PolicyResolver != nil && l.config.Policy != nil {
		return l.registry.AsLLMToolsFiltered(l.config.PolicyResolver, l.config.Policy)
	}
	return l.registry.AsLLMTools()
}

// stepLoop drives provider turns until the assistant produces a turn with no
// tool calls, a turn is held pending approval, or max_steps is exhausted.
func (l *AgenticLoop) stepLoop(ctx context.Context, out chan<- models.StreamChunk) error {
	limit := l.maxSteps()

	for step := 0; step < limit; step++ {
		select {
		case <-ctx.Done():
			return &LoopError{Phase: PhaseStream, Iteration: step, Cause: ErrContextCancelled}
		default:
		}

		provChunks, err := l.provider.Stream(ctx, l.memory.Messages(), l.availableTools())
		if err != nil {
			return &LoopError{Phase: PhaseStream, Iteration: step, Cause: err}
		}

		var content strings.Builder
		var toolCalls []models.ToolCall
		for chunk := range provChunks {
			if chunk.ToolCall != nil {
				toolCalls = append(toolCalls, *chunk.ToolCall)
			}
			if chunk.Content != "" {
				content.WriteString(chunk.Content)
			}
			out <- chunk
		}

		if len(toolCalls) == 0 {
			l.memory.Add(models.Message{Role: models.RoleAssistant, Content: content.String()})
			out <- models.StreamChunk{FinishReason: "stop"}
			return nil
		}

		synthesizeMissingIDs(step, toolCalls)
		l.memory.Add(models.Message{Role: models.RoleAssistant, Content: content.String(), ToolCalls: toolCalls})

		if l.batchIsSensitive(ctx, toolCalls) {
			l.mu.Lock()
			l.pendingToolCalls = toolCalls
			l.mu.Unlock()
			out <- models.StreamChunk{PermissionRequest: toolCalls}
			return nil
		}

		results := l.executeBatch(ctx, toolCalls)
		for i := range results {
			out <- models.StreamChunk{ToolResult: &results[i]}
		}
		l.memory.Add(models.Message{Role: models.RoleTool, ToolResults: results})
	}

	out <- models.StreamChunk{
		Content:      fmt.Sprintf("reached max steps (%d) without completing the turn", limit),
		FinishReason: "max_steps_exceeded",
	}
	return &LoopError{
		Phase:     PhaseStream,
		Iteration: limit,
		Cause:     ErrMaxStepsExceeded,
		Message:   fmt.Sprintf("reached max steps: %d", limit),
	}
}

// synthesizeMissingIDs assigns a deterministic id to any tool call the
// provider omitted one for, in place.
func synthesizeMissingIDs(turnIndex int, calls []models.ToolCall) {
	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = SynthesizeToolCallID(turnIndex, i, calls[i].Name)
		}
	}
}

// batchIsSensitive reports whether any call in the batch requires HITL
// approval: either it is in AgentConfig.SensitiveToolNames, or the optional
// ApprovalChecker resolves it to anything other than ApprovalAllowed. Per
// the teacher's all-or-nothing executeToolsPhase gating, one sensitive call
// holds the entire batch.
func (l *AgenticLoop) batchIsSensitive(ctx context.Context, calls []models.ToolCall) bool {
	for _, tc := range calls {
		if l.agent.IsSensitive(tc.Name) {
			return true
		}
		if l.config.ApprovalChecker != nil {
			if decision, _ := l.config.ApprovalChecker.Check(ctx, l.config.AgentID, tc); decision != ApprovalAllowed {
				return true
			}
		}
	}
	return false
}

// executeBatch runs an approved batch of tool calls, dispatching any call
// matching AsyncTools to the job store instead of the synchronous executor,
// and applying ToolResultGuard to every result before it is returned. The
// result order matches the input order regardless of completion order.
func (l *AgenticLoop) executeBatch(ctx context.Context, calls []models.ToolCall) []models.ToolResult {
	results := make([]models.ToolResult, len(calls))

	var syncCalls []models.ToolCall
	var syncIdx []int
	for i, tc := range calls {
		if l.config.JobStore != nil && matchesToolPatterns(l.config.AsyncTools, tc.Name) {
			results[i] = l.queueAsyncJob(tc)
			continue
		}
		syncCalls = append(syncCalls, tc)
		syncIdx = append(syncIdx, i)
	}

	if len(syncCalls) > 0 {
		mapped := ResultsToMessages(l.executor.ExecuteAll(ctx, syncCalls))
		for j, idx := range syncIdx {
			results[idx] = mapped[j]
		}
	}

	for i := range results {
		results[i] = l.config.ToolResultGuard.Apply(calls[i].Name, results[i])
	}
	return results
}

// queueAsyncJob records a queued job for tc and starts it in the background,
// bounded by the loop's job semaphore, returning an immediate non-error
// result carrying the job id so the conversation can continue without
// blocking on the tool.
func (l *AgenticLoop) queueAsyncJob(tc models.ToolCall) models.ToolResult {
	job := &jobs.Job{
		ID:         uuid.NewString(),
		ToolName:   tc.Name,
		ToolCallID: tc.ID,
		Status:     jobs.StatusQueued,
		CreatedAt:  time.Now(),
	}
	if err := l.config.JobStore.Create(context.Background(), job); err != nil {
		return models.ToolResult{ToolCallID: tc.ID, Name: tc.Name, Error: fmt.Sprintf("failed to queue job: %v", err)}
	}

	payload, err := json.Marshal(map[string]any{"job_id": job.ID, "status": string(job.Status)})
	if err != nil {
		return models.ToolResult{ToolCallID: tc.ID, Name: tc.Name, Error: fmt.Sprintf("failed to encode job payload: %v", err)}
	}

	select {
	case l.jobSem <- struct{}{}:
		go func() {
			defer func() { <-l.jobSem }()
			l.runToolJob(tc, job)
		}()
	default:
		go l.runToolJob(tc, job)
	}

	return models.ToolResult{ToolCallID: tc.ID, Name: tc.Name, Result: payload}
}

// runToolJob executes tc synchronously against the executor on behalf of a
// background job, updating the job store with the outcome. It runs detached
// from the Stream call that queued it, so it uses its own background
// context.
func (l *AgenticLoop) runToolJob(tc models.ToolCall, job *jobs.Job) {
	ctx := context.Background()
	job.Status = jobs.StatusRunning
	job.StartedAt = time.Now()
	_ = l.config.JobStore.Update(ctx, job)

	execResult := l.executor.Execute(ctx, tc)
	res := ResultsToMessages([]*ExecutionResult{execResult})[0]
	res = l.config.ToolResultGuard.Apply(tc.Name, res)

	job.FinishedAt = time.Now()
	if res.IsError() {
		job.Status = jobs.StatusFailed
		job.Error = res.Error
	} else {
		job.Status = jobs.StatusSucceeded
		job.Result = &res
	}
	_ = l.config.JobStore.Update(ctx, job)
}
