package agent

import (
	"sync"

	"github.com/haasonsaas/orchestra/pkg/models"
)

// DefaultCompactionTailSize is the number of most-recent non-system messages
// a Compact() call always preserves verbatim.
const DefaultCompactionTailSize = 10

// Memory is an append-only ordered log of Message, bounded by an optional
// message-count retention rule (C3).
//
// Add enforces retention eagerly: once MaxMessages is set and exceeded,
// every system message is kept, and only the most recent N−|system|
// non-system messages survive. Compact is a separate, coarser operation that
// collapses the non-system history behind a synthetic checkpoint; callers
// invoke it explicitly (typically from a usage-threshold policy), it is not
// triggered by Add.
type Memory struct {
	mu          sync.Mutex
	messages    []models.Message
	maxMessages int
}

// NewMemory creates a Memory with the given retention bound. maxMessages <= 0
// means unbounded.
func NewMemory(maxMessages int) *Memory {
	return &Memory{maxMessages: maxMessages}
}

// Add appends msg to the log and applies retention.
func (m *Memory) Add(msg models.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	m.applyRetention()
}

// AddAll appends several messages atomically with respect to retention.
func (m *Memory) AddAll(msgs ...models.Message) {
	if len(msgs) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msgs...)
	m.applyRetention()
}

// applyRetention keeps all system messages plus the most recent
// N−|system| non-system messages. Must be called with m.mu held.
func (m *Memory) applyRetention() {
	if m.maxMessages <= 0 || len(m.messages) <= m.maxMessages {
		return
	}

	var systemMsgs, rest []models.Message
	for _, msg := range m.messages {
		if msg.Role == models.RoleSystem {
			systemMsgs = append(systemMsgs, msg)
		} else {
			rest = append(rest, msg)
		}
	}

	keep := m.maxMessages - len(systemMsgs)
	if keep < 0 {
		keep = 0
	}
	if keep < len(rest) {
		rest = rest[len(rest)-keep:]
	}

	m.messages = make([]models.Message, 0, len(systemMsgs)+len(rest))
	m.messages = append(m.messages, systemMsgs...)
	m.messages = append(m.messages, rest...)
}

// Messages returns a snapshot copy of the current log, safe for the caller to
// mutate or hand to a provider without holding Memory's lock.
func (m *Memory) Messages() []models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// Len reports the current number of messages in the log.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// Clear empties the log, used when an Agent-as-Tool sub-agent is re-invoked
// with a fresh system prompt.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
}

// Compact replaces the leading window of non-system messages with a single
// synthetic system checkpoint message, preserving tailSize most-recent
// non-system messages verbatim. tailSize <= 0 uses DefaultCompactionTailSize.
// checkpoint becomes the compacted summary's content. Returns the number of
// messages dropped.
func (m *Memory) Compact(checkpoint string, tailSize int) int {
	if tailSize <= 0 {
		tailSize = DefaultCompactionTailSize
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var systemMsgs, rest []models.Message
	for _, msg := range m.messages {
		if msg.Role == models.RoleSystem {
			systemMsgs = append(systemMsgs, msg)
		} else {
			rest = append(rest, msg)
		}
	}

	if len(rest) <= tailSize {
		return 0
	}

	dropped := len(rest) - tailSize
	tail := rest[dropped:]

	checkpointMsg := models.Message{Role: models.RoleSystem, Content: checkpoint}

	compacted := make([]models.Message, 0, len(systemMsgs)+1+len(tail))
	compacted = append(compacted, systemMsgs...)
	compacted = append(compacted, checkpointMsg)
	compacted = append(compacted, tail...)
	m.messages = compacted

	return dropped
}
