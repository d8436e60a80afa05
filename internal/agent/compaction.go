package agent

import (
	"context"
	"strings"
	"sync"
	"time"
)

// CompactionState tracks compaction status for a single agent's memory.
type CompactionState string

const (
	// CompactionIdle means no compaction is pending.
	CompactionIdle CompactionState = "idle"
	// CompactionPending means compaction is needed but awaiting flush.
	CompactionPending CompactionState = "pending"
	// CompactionAwaitingConfirm means flush was requested, waiting for confirmation.
	CompactionAwaitingConfirm CompactionState = "awaiting_confirm"
	// CompactionInProgress means compaction is running.
	CompactionInProgress CompactionState = "in_progress"
)

// CompactionConfig configures automatic compaction behavior.
type CompactionConfig struct {
	// Enabled turns on automatic compaction monitoring.
	Enabled bool

	// ThresholdPercent is the memory usage percentage (0-100, measured
	// against MaxMessages) that triggers flush. Default: 80.
	ThresholdPercent int

	// FlushPrompt is the message sent to prompt memory flush.
	FlushPrompt string

	// ConfirmationTimeout is how long to wait for flush confirmation.
	// Default: 5 minutes.
	ConfirmationTimeout time.Duration

	// AutoCompactOnTimeout compacts automatically if confirmation times out.
	// Default: true.
	AutoCompactOnTimeout bool
}

// DefaultCompactionConfig returns sensible defaults.
func DefaultCompactionConfig() *CompactionConfig {
	return &CompactionConfig{
		Enabled:              true,
		ThresholdPercent:     80,
		FlushPrompt:          "Memory nearing its retention limit. If there are durable facts worth keeping past compaction, restate them now. Reply NO_REPLY if nothing needs attention.",
		ConfirmationTimeout:  5 * time.Minute,
		AutoCompactOnTimeout: true,
	}
}

// CompactionManager monitors an agent's Memory usage against MaxMessages and
// triggers the flush/compact flow above Memory.Compact's raw mechanism,
// giving the agent a chance to externalize durable facts before history is
// collapsed.
type CompactionManager struct {
	mu     sync.RWMutex
	config *CompactionConfig
	agents map[string]*agentCompaction

	onFlushRequired       func(ctx context.Context, agentID string, prompt string) error
	onCompactionComplete  func(ctx context.Context, agentID string, dropped int) error
}

type agentCompaction struct {
	state        CompactionState
	lastCheck    time.Time
	flushSentAt  time.Time
	usagePercent int
}

// NewCompactionManager creates a new compaction manager.
func NewCompactionManager(config *CompactionConfig) *CompactionManager {
	if config == nil {
		config = DefaultCompactionConfig()
	}
	return &CompactionManager{
		config: config,
		agents: make(map[string]*agentCompaction),
	}
}

// SetFlushCallback sets the function called when flush is required.
func (m *CompactionManager) SetFlushCallback(fn func(ctx context.Context, agentID string, prompt string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFlushRequired = fn
}

// SetCompactionCallback sets the function called when compaction completes.
func (m *CompactionManager) SetCompactionCallback(fn func(ctx context.Context, agentID string, dropped int) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCompactionComplete = fn
}

// Check evaluates mem's usage against MaxMessages and triggers flush if
// needed. Returns true if a flush was triggered on this call.
func (m *CompactionManager) Check(ctx context.Context, agentID string, mem *Memory) (bool, error) {
	if !m.config.Enabled || mem == nil || mem.maxMessages <= 0 {
		return false, nil
	}

	usagePercent := (mem.Len() * 100) / mem.maxMessages

	m.mu.Lock()
	state := m.agents[agentID]
	if state == nil {
		state = &agentCompaction{state: CompactionIdle}
		m.agents[agentID] = state
	}
	state.lastCheck = time.Now()
	state.usagePercent = usagePercent

	if usagePercent >= m.config.ThresholdPercent && state.state == CompactionIdle {
		state.state = CompactionPending
		state.flushSentAt = time.Now()
		flushCallback := m.onFlushRequired
		prompt := m.config.FlushPrompt
		m.mu.Unlock()

		if flushCallback != nil {
			if err := flushCallback(ctx, agentID, prompt); err != nil {
				return false, err
			}
		}
		return true, nil
	}

	if (state.state == CompactionPending || state.state == CompactionAwaitingConfirm) && time.Since(state.flushSentAt) > m.config.ConfirmationTimeout {
		if m.config.AutoCompactOnTimeout {
			state.state = CompactionInProgress
			m.mu.Unlock()
			return m.performCompaction(ctx, agentID, mem)
		}
		state.state = CompactionIdle
	}
	m.mu.Unlock()

	return false, nil
}

// ConfirmFlush confirms that memory flush is complete and runs the compaction.
func (m *CompactionManager) ConfirmFlush(ctx context.Context, agentID string, mem *Memory) error {
	m.mu.Lock()
	state := m.agents[agentID]
	if state == nil {
		m.mu.Unlock()
		return nil
	}
	if state.state == CompactionPending || state.state == CompactionAwaitingConfirm {
		state.state = CompactionInProgress
		m.mu.Unlock()
		_, err := m.performCompaction(ctx, agentID, mem)
		return err
	}
	m.mu.Unlock()
	return nil
}

// RejectFlush proceeds with compaction even though the agent declined to
// externalize anything first.
func (m *CompactionManager) RejectFlush(ctx context.Context, agentID string, mem *Memory) error {
	m.mu.Lock()
	state := m.agents[agentID]
	if state != nil && (state.state == CompactionPending || state.state == CompactionAwaitingConfirm) {
		state.state = CompactionInProgress
		m.mu.Unlock()
		_, err := m.performCompaction(ctx, agentID, mem)
		return err
	}
	m.mu.Unlock()
	return nil
}

// GetState returns the compaction state for an agent.
func (m *CompactionManager) GetState(agentID string) CompactionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state := m.agents[agentID]
	if state == nil {
		return CompactionIdle
	}
	return state.state
}

// GetUsage returns the last known usage percentage for an agent.
func (m *CompactionManager) GetUsage(agentID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state := m.agents[agentID]
	if state == nil {
		return 0
	}
	return state.usagePercent
}

func (m *CompactionManager) performCompaction(ctx context.Context, agentID string, mem *Memory) (bool, error) {
	dropped := 0
	if mem != nil {
		dropped = mem.Compact("(earlier conversation compacted)", DefaultCompactionTailSize)
	}

	m.mu.Lock()
	callback := m.onCompactionComplete
	state := m.agents[agentID]
	if state != nil {
		state.state = CompactionIdle
	}
	m.mu.Unlock()

	if callback != nil {
		if err := callback(ctx, agentID, dropped); err != nil {
			return false, err
		}
	}
	return true, nil
}

// Reset clears the compaction state for an agent.
func (m *CompactionManager) Reset(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.agents, agentID)
}

// CompactionInfo returns diagnostic info about compaction state.
type CompactionInfo struct {
	AgentID      string
	State        CompactionState
	UsagePercent int
	LastCheck    time.Time
	FlushSentAt  time.Time
	Threshold    int
}

// GetInfo returns diagnostic information for an agent.
func (m *CompactionManager) GetInfo(agentID string) *CompactionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state := m.agents[agentID]
	if state == nil {
		return &CompactionInfo{AgentID: agentID, State: CompactionIdle, Threshold: m.config.ThresholdPercent}
	}
	return &CompactionInfo{
		AgentID:      agentID,
		State:        state.state,
		UsagePercent: state.usagePercent,
		LastCheck:    state.lastCheck,
		FlushSentAt:  state.flushSentAt,
		Threshold:    m.config.ThresholdPercent,
	}
}

// IsFlushResponse checks if a message is acknowledging a flush prompt rather
// than continuing the conversation.
func IsFlushResponse(content string) bool {
	lowerContent := content
	if len(lowerContent) > 50 {
		lowerContent = lowerContent[:50]
	}
	patterns := []string{
		"no_reply",
		"nothing to save",
		"nothing needs attention",
		"saved to memory",
		"stored in memory",
		"memory updated",
	}
	for _, p := range patterns {
		if containsFlushPattern(lowerContent, p) {
			return true
		}
	}
	return false
}

func containsFlushPattern(s, substr string) bool {
	if substr == "" {
		return true
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
