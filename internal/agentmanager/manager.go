// Package agentmanager implements the Agent Instance Manager (C6): the
// single owner of every live agent instance in the process. The Plan
// Director and gateways hold only instance ids; every read or mutation of
// the actual instance goes through this package so it stays consistent
// under concurrent callers.
package agentmanager

import (
	"fmt"
	"sync"
	"time"

	"github.com/haasonsaas/orchestra/internal/agent"
	"github.com/haasonsaas/orchestra/pkg/models"
)

// Instance is one registered, addressable agent: its reasoning loop plus
// the bookkeeping the manager needs to track it.
type Instance struct {
	ID       string
	Config   models.AgentConfig
	Registry *agent.ToolRegistry
	Memory   *agent.Memory
	Loop     *agent.AgenticLoop

	CreatedAt time.Time
	UpdatedAt time.Time

	// PriorConfigs records every config this instance has replaced via
	// Update, most recent first, so an operator can audit how an instance
	// drifted from its original configuration.
	PriorConfigs []models.AgentConfig
}

// Manager owns the set of live agent instances and tracks which one is
// "current". All mutating methods are serialized under a single mutex: the
// manager is a reentrant singleton, safe for concurrent callers, provided
// each mutation completes before the next begins.
type Manager struct {
	mu        sync.Mutex
	instances map[string]*Instance
	currentID string
}

// NewManager creates an empty instance manager.
func NewManager() *Manager {
	return &Manager{instances: make(map[string]*Instance)}
}

// CreateAndRegister builds a new agent instance from provider/config and
// registers it under id. If memory is nil, a fresh Memory is created. If
// registry is nil, an empty ToolRegistry is created. Returns an error if id
// is empty or already registered.
func (m *Manager) CreateAndRegister(id string, provider agent.LLMProvider, config models.AgentConfig, registry *agent.ToolRegistry, memory *agent.Memory, loopConfig *agent.LoopConfig) (*Instance, error) {
	if id == "" {
		return nil, fmt.Errorf("agent id must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.instances[id]; exists {
		return nil, fmt.Errorf("agent %q already registered", id)
	}

	if registry == nil {
		registry = agent.NewToolRegistry()
	}
	if memory == nil {
		memory = agent.NewMemory(0)
	}

	now := time.Now()
	inst := &Instance{
		ID:        id,
		Config:    config,
		Registry:  registry,
		Memory:    memory,
		Loop:      agent.NewAgenticLoop(provider, registry, memory, config, loopConfig),
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.instances[id] = inst
	if m.currentID == "" {
		m.currentID = id
	}
	return inst, nil
}

// Get returns the instance registered under id, or nil if none exists.
func (m *Manager) Get(id string) *Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.instances[id]
}

// Current returns the current instance, or nil if none is registered.
func (m *Manager) Current() *Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.currentID == "" {
		return nil
	}
	return m.instances[m.currentID]
}

// SetCurrent designates id as the current agent. Returns an error if id is
// not registered.
func (m *Manager) SetCurrent(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.instances[id]; !ok {
		return fmt.Errorf("agent %q not found", id)
	}
	m.currentID = id
	return nil
}

// List returns every registered instance id.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.instances))
	for id := range m.instances {
		ids = append(ids, id)
	}
	return ids
}

// Remove deregisters id. If id was the current agent, no other agent
// becomes current automatically - callers must call SetCurrent explicitly.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.instances[id]; !ok {
		return fmt.Errorf("agent %q not found", id)
	}
	delete(m.instances, id)
	if m.currentID == id {
		m.currentID = ""
	}
	return nil
}

// UpdateOptions configures an Update call.
type UpdateOptions struct {
	// PreserveMemory re-attaches the old instance's memory to the new one
	// instead of starting fresh. DefaultUpdateOptions sets it to true; the
	// zero value drops the memory.
	PreserveMemory bool
	// PreserveRegistry re-attaches the old instance's tool registry to the
	// new one instead of starting with an empty one. DefaultUpdateOptions
	// sets it to true; the zero value drops the registry.
	PreserveRegistry bool
}

// DefaultUpdateOptions preserves both memory and the tool registry, which is
// the common case: an operator tightening a model or system prompt without
// wanting to lose conversation history or tools.
func DefaultUpdateOptions() UpdateOptions {
	return UpdateOptions{PreserveMemory: true, PreserveRegistry: true}
}

// Update atomically replaces the instance registered under id with one
// built from newConfig, re-attaching the prior memory and/or tool registry
// unless the caller explicitly drops them. The prior config is recorded on
// the new instance for audit.
func (m *Manager) Update(id string, provider agent.LLMProvider, newConfig models.AgentConfig, loopConfig *agent.LoopConfig, opts UpdateOptions) (*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.instances[id]
	if !ok {
		return nil, fmt.Errorf("agent %q not found", id)
	}

	registry := agent.NewToolRegistry()
	if opts.PreserveRegistry && old.Registry != nil {
		registry = old.Registry
	}
	memory := agent.NewMemory(0)
	if opts.PreserveMemory && old.Memory != nil {
		memory = old.Memory
	}

	replacement := &Instance{
		ID:           id,
		Config:       newConfig,
		Registry:     registry,
		Memory:       memory,
		Loop:         agent.NewAgenticLoop(provider, registry, memory, newConfig, loopConfig),
		CreatedAt:    old.CreatedAt,
		UpdatedAt:    time.Now(),
		PriorConfigs: append([]models.AgentConfig{old.Config}, old.PriorConfigs...),
	}
	m.instances[id] = replacement
	return replacement, nil
}

// TransferMemory rebinds dst's memory to src's memory by reference: after
// this call, both instances share the same underlying Memory, and a message
// added through either is visible to both. Because the running loop closes
// over its memory at construction time, dst's loop is rebuilt (reusing its
// own provider-independent wiring) against the shared memory rather than
// merely repointing the Instance field.
func (m *Manager) TransferMemory(srcID, dstID string, provider agent.LLMProvider, loopConfig *agent.LoopConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, ok := m.instances[srcID]
	if !ok {
		return fmt.Errorf("agent %q not found", srcID)
	}
	dst, ok := m.instances[dstID]
	if !ok {
		return fmt.Errorf("agent %q not found", dstID)
	}

	dst.Memory = src.Memory
	dst.Loop = agent.NewAgenticLoop(provider, dst.Registry, dst.Memory, dst.Config, loopConfig)
	dst.UpdatedAt = time.Now()
	return nil
}
