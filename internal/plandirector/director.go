// Package plandirector implements the Plan Director (C11): the scheduler
// that pulls runnable tasks off the priority queue and drives each through
// an agent instance, bounded by a concurrency limit and a watchdog that
// kills tasks which stop making progress.
package plandirector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/orchestra/internal/agentmanager"
	"github.com/haasonsaas/orchestra/internal/bus"
	"github.com/haasonsaas/orchestra/internal/config"
	"github.com/haasonsaas/orchestra/internal/tasks"
	"github.com/haasonsaas/orchestra/internal/telemetry"
	"github.com/haasonsaas/orchestra/pkg/models"
)

// triggeringEvents are the task lifecycle events that re-run process_queue.
var triggeringEvents = []string{
	"task_created",
	"task_status_changed",
	"task_completed",
	"task_failed",
}

// tracker is the scheduler's bookkeeping for one task currently being run
// through an agent. It lives only in memory - a process restart loses every
// tracker, which is exactly what makes the task it belonged to a zombie.
type tracker struct {
	startTime    time.Time
	lastActivity time.Time
	toolCalls    int
	cancel       context.CancelFunc
}

// Director is the Plan Director (C11).
type Director struct {
	store   *tasks.Store
	events  *bus.EventBus
	agents  *agentmanager.Manager
	metrics *telemetry.Metrics
	logger  *slog.Logger
	cfg     config.SchedulerConfig

	// defaultAgentID is used for any task without an assigned_to.
	defaultAgentID string

	mu         sync.Mutex
	processing map[string]*tracker
	running    bool

	wake         chan struct{}
	unsubs       []func()
	stopOnce     sync.Once
	cancel       context.CancelFunc
	loopDone     chan struct{}
	watchdogDone chan struct{}
}

// Option configures a Director at construction time.
type Option func(*Director)

// WithLogger overrides the director's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Director) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics wires Prometheus gauges for running/blocked task counts.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(d *Director) { d.metrics = metrics }
}

// WithDefaultAgent sets the agent id used for tasks with no assigned_to.
func WithDefaultAgent(agentID string) Option {
	return func(d *Director) { d.defaultAgentID = agentID }
}

// NewDirector builds a Plan Director over the given task store, event bus,
// and agent instance manager. cfg supplies the scheduling loop's
// concurrency bound and the watchdog's timeouts; a zero value for any field
// falls back to the documented spec default.
func NewDirector(store *tasks.Store, events *bus.EventBus, agents *agentmanager.Manager, cfg config.SchedulerConfig, opts ...Option) *Director {
	d := &Director{
		store:      store,
		events:     events,
		agents:     agents,
		cfg:        cfg,
		logger:     slog.Default().With("component", "plan_director"),
		processing: make(map[string]*tracker),
		wake:       make(chan struct{}, 1),
	}
	if d.cfg.MaxConcurrentTasks <= 0 {
		d.cfg.MaxConcurrentTasks = 1
	}
	if d.cfg.PollInterval <= 0 {
		d.cfg.PollInterval = time.Second
	}
	if d.cfg.WatchdogInterval <= 0 {
		d.cfg.WatchdogInterval = 45 * time.Second
	}
	if d.cfg.InactivityTimeout <= 0 {
		d.cfg.InactivityTimeout = 240 * time.Second
	}
	if d.cfg.MaxTotalTime <= 0 {
		d.cfg.MaxTotalTime = 900 * time.Second
	}
	if d.cfg.MaxToolCalls <= 0 {
		d.cfg.MaxToolCalls = 100
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start recovers zombie tasks left over from a prior process, subscribes to
// task lifecycle events, and launches the scheduling and watchdog loops.
// Calling Start more than once is a no-op.
func (d *Director) Start(ctx context.Context) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.mu.Unlock()

	d.recoverZombies()

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.loopDone = make(chan struct{})
	d.watchdogDone = make(chan struct{})

	for _, evt := range triggeringEvents {
		d.unsubs = append(d.unsubs, d.events.Subscribe(evt, func(bus.Event) { d.Trigger() }))
	}

	go d.schedulingLoop(runCtx)
	go d.watchdogLoop(runCtx)

	d.Trigger()
}

// Stop cancels both loops and blocks until they have exited, then removes
// every event subscription. Safe to call multiple times.
func (d *Director) Stop() {
	d.stopOnce.Do(func() {
		if d.cancel != nil {
			d.cancel()
		}
	})
	if d.loopDone != nil {
		<-d.loopDone
	}
	if d.watchdogDone != nil {
		<-d.watchdogDone
	}
	for _, unsub := range d.unsubs {
		unsub()
	}
}

// Trigger requests an immediate process_queue pass. Safe to call from any
// goroutine; redundant triggers while one is already pending are coalesced.
func (d *Director) Trigger() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// recoverZombies implements the spec's startup behavior: any task left
// in_progress by a prior, now-dead process has no tracker in this fresh
// Director, so it can never make progress again and is reset to paused.
func (d *Director) recoverZombies() {
	for _, task := range d.store.ListTasks(tasks.StatusInProgress, "") {
		ctxCopy := cloneContext(task.Context)
		ctxCopy["pause_reason"] = "system restart cleanup"
		if err := d.store.UpdateTask(task.ID, tasks.PartialTask{
			Status:  statusPtr(tasks.StatusPaused),
			Context: ctxCopy,
		}); err != nil {
			d.logger.Error("failed to recover zombie task", "task_id", task.ID, "error", err)
		}
	}
}

func cloneContext(src map[string]any) map[string]any {
	out := make(map[string]any, len(src)+1)
	for k, v := range src {
		out[k] = v
	}
	return out
}

func statusPtr(s tasks.Status) *tasks.Status { return &s }

// schedulingLoop runs process_queue whenever triggered, on a poll-interval
// backstop, or whenever the previous pass finished and left capacity free.
func (d *Director) schedulingLoop(ctx context.Context) {
	defer close(d.loopDone)
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		d.processQueue(ctx)
		select {
		case <-ctx.Done():
			return
		case <-d.wake:
		case <-ticker.C:
		}
	}
}

// processQueue starts as many runnable tasks as there is spare capacity for.
func (d *Director) processQueue(ctx context.Context) {
	for {
		next := d.claimNext()
		if next == nil {
			return
		}
		d.startTask(ctx, next)
	}
}

// claimNext returns the next runnable, not-already-tracked task, or nil if
// the scheduler is at capacity or the queue has nothing eligible.
func (d *Director) claimNext() *tasks.Task {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.processing) >= d.cfg.MaxConcurrentTasks {
		return nil
	}
	for _, candidate := range tasks.Runnable(d.store.Snapshot()) {
		if _, tracked := d.processing[candidate.ID]; !tracked {
			return candidate
		}
	}
	return nil
}

// startTask registers a tracker, marks the task in_progress, and runs it in
// its own goroutine.
func (d *Director) startTask(parent context.Context, task *tasks.Task) {
	taskCtx, cancel := context.WithCancel(parent)
	now := time.Now()

	d.mu.Lock()
	d.processing[task.ID] = &tracker{startTime: now, lastActivity: now, cancel: cancel}
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.SchedulerTasksRunning.Inc()
	}
	if err := d.store.UpdateStatus(task.ID, tasks.StatusInProgress); err != nil {
		d.logger.Error("failed to mark task in_progress", "task_id", task.ID, "error", err)
	}

	go d.runTask(taskCtx, task)
}

// runTask streams the assigned agent over a prompt describing task, then
// deregisters the tracker and runs verify-and-cleanup regardless of how the
// stream ended.
func (d *Director) runTask(ctx context.Context, task *tasks.Task) {
	defer d.finishTask(task.ID)

	agentID := task.AssignedTo
	if agentID == "" {
		agentID = d.defaultAgentID
	}
	inst := d.agents.Get(agentID)
	if inst == nil {
		d.logger.Error("no agent instance available for task", "task_id", task.ID, "agent_id", agentID)
		_ = d.store.UpdateStatus(task.ID, tasks.StatusBlocked)
		return
	}

	for chunk := range inst.Loop.Stream(ctx, taskPrompt(task)) {
		d.observeChunk(task.ID, chunk)
	}

	d.verifyAndCleanup(task.ID, inst)
}

// taskPrompt embeds the fields the spec calls out - id, title, description,
// status - so the agent's first turn has the task fully in context.
func taskPrompt(task *tasks.Task) string {
	return fmt.Sprintf(
		"Task %s: %s\nStatus: %s\nDescription: %s",
		task.ID, task.Title, task.Status, task.Description,
	)
}

// observeChunk refreshes the task's tracker and, on a permission request,
// suspends the task pending human approval.
func (d *Director) observeChunk(taskID string, chunk models.StreamChunk) {
	d.mu.Lock()
	tr, tracked := d.processing[taskID]
	if tracked {
		tr.lastActivity = time.Now()
		if chunk.ToolCall != nil {
			tr.toolCalls++
		}
	}
	d.mu.Unlock()

	if len(chunk.PermissionRequest) > 0 {
		names := make([]any, 0, len(chunk.PermissionRequest))
		for _, tc := range chunk.PermissionRequest {
			names = append(names, tc.Name)
		}
		ctx := map[string]any{"pending_permissions": names}
		if err := d.store.UpdateTask(taskID, tasks.PartialTask{
			Status:  statusPtr(tasks.StatusWaitingApproval),
			Context: ctx,
		}); err != nil {
			d.logger.Error("failed to suspend task for approval", "task_id", taskID, "error", err)
		}
	}
}

// finishTask deregisters taskID's tracker and wakes the scheduling loop so
// the freed slot is claimed immediately rather than waiting for the poll
// interval.
func (d *Director) finishTask(taskID string) {
	d.mu.Lock()
	delete(d.processing, taskID)
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.SchedulerTasksRunning.Dec()
	}
	d.Trigger()
}

// verifyAndCleanup applies the post-run parent/child consistency rules. It
// is a no-op if the task already moved to a non-in_progress status while
// streaming (waiting_approval via observeChunk, or blocked via the
// watchdog) - whichever of those won the race stands.
func (d *Director) verifyAndCleanup(taskID string, inst *agentmanager.Instance) {
	current := d.store.GetTask(taskID)
	if current == nil || current.Status != tasks.StatusInProgress {
		return
	}

	if err := inst.Loop.LastError(); err != nil {
		d.logger.Error("agent loop ended in error", "task_id", taskID, "error", err)
		_ = d.store.UpdateStatus(taskID, tasks.StatusFailed)
		return
	}

	subtasks := d.store.GetSubtasks(taskID)
	if len(subtasks) == 0 {
		if current.AssignedTo == "" {
			_ = d.store.UpdateTask(taskID, tasks.PartialTask{
				Status:  statusPtr(tasks.StatusPaused),
				Context: map[string]any{"pause_reason": "no subtasks/agent assigned"},
			})
			return
		}
		_ = d.store.UpdateStatus(taskID, tasks.StatusDone)
		return
	}

	allDone, anyBlocked := true, false
	for _, sub := range subtasks {
		if sub.Status != tasks.StatusDone {
			allDone = false
		}
		if sub.Status == tasks.StatusBlocked {
			anyBlocked = true
		}
	}
	switch {
	case allDone:
		summary := "auto-complete: all subtasks finished"
		_ = d.store.UpdateTask(taskID, tasks.PartialTask{
			Status:        statusPtr(tasks.StatusDone),
			ResultSummary: &summary,
		})
	case anyBlocked:
		_ = d.store.UpdateStatus(taskID, tasks.StatusBlocked)
	}
}

// watchdogLoop periodically scans every tracked task for inactivity,
// absolute-time, or tool-call-count violations.
func (d *Director) watchdogLoop(ctx context.Context) {
	defer close(d.watchdogDone)
	ticker := time.NewTicker(d.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.checkWatchdog()
		}
	}
}

func (d *Director) checkWatchdog() {
	now := time.Now()

	type violation struct {
		taskID string
		cancel context.CancelFunc
		reason string
	}
	var violations []violation

	d.mu.Lock()
	for taskID, tr := range d.processing {
		elapsed := now.Sub(tr.startTime)
		inactive := now.Sub(tr.lastActivity)
		switch {
		case inactive > d.cfg.InactivityTimeout:
			violations = append(violations, violation{taskID, tr.cancel, fmt.Sprintf("Inactivity: no tool calls or events for %s", inactive.Round(time.Second))})
		case elapsed > d.cfg.MaxTotalTime:
			violations = append(violations, violation{taskID, tr.cancel, fmt.Sprintf("exceeded max total time %s", d.cfg.MaxTotalTime)})
		case tr.toolCalls >= d.cfg.MaxToolCalls:
			violations = append(violations, violation{taskID, tr.cancel, fmt.Sprintf("exceeded max tool calls %d", d.cfg.MaxToolCalls)})
		}
	}
	d.mu.Unlock()

	for _, v := range violations {
		d.logger.Warn("watchdog blocking task", "task_id", v.taskID, "reason", v.reason)
		if err := d.store.UpdateTask(v.taskID, tasks.PartialTask{
			Status:  statusPtr(tasks.StatusBlocked),
			Context: map[string]any{"blocked_reason": v.reason},
		}); err != nil {
			d.logger.Error("failed to block watchdog-terminated task", "task_id", v.taskID, "error", err)
		}
		if d.metrics != nil {
			d.metrics.SchedulerTasksBlocked.Inc()
		}
		v.cancel()
	}
}
