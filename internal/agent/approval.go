package agent

import (
	"context"
	"strings"
	"sync"

	"github.com/haasonsaas/orchestra/internal/tools/policy"
	"github.com/haasonsaas/orchestra/pkg/models"
)

// ApprovalDecision is the outcome of an approval check for one tool call.
type ApprovalDecision string

const (
	// ApprovalAllowed means the call may proceed without pausing for HITL.
	ApprovalAllowed ApprovalDecision = "allowed"
	// ApprovalDenied means an explicit deny rule matched. The loop handles it
	// like ApprovalPending: the batch holds for a permission_request, and a
	// user approval still lets it run.
	ApprovalDenied ApprovalDecision = "denied"
	// ApprovalPending means nothing allowed the call, so the batch holds for
	// a permission_request round-trip (see AgenticLoop.batchIsSensitive).
	ApprovalPending ApprovalDecision = "pending"
)

// ApprovalChecker supplements AgentConfig.SensitiveToolNames with
// policy.Resolver's allow/deny rules: a sensitive-tool batch still pauses
// for HITL confirmation, but a tool call the resolver's policy doesn't
// allow pauses too, even if it wasn't named in SensitiveToolNames. It
// reuses C1's tool-authorization machinery rather than re-implementing
// pattern matching here, so an agent's approval gate and its tool list
// are always judged by the same rules.
type ApprovalChecker struct {
	mu       sync.RWMutex
	resolver *policy.Resolver
	policies map[string]*policy.Policy // per-agent override, keyed by AgentID
	fallback *policy.Policy
}

// NewApprovalChecker builds a checker that resolves tool calls against
// fallback for any agent without an override. A nil resolver or fallback
// policy defaults to an unrestricted resolver and policy.ProfileFull.
func NewApprovalChecker(resolver *policy.Resolver, fallback *policy.Policy) *ApprovalChecker {
	if resolver == nil {
		resolver = policy.NewResolver()
	}
	if fallback == nil {
		fallback = policy.NewPolicy(policy.ProfileFull)
	}
	return &ApprovalChecker{
		resolver: resolver,
		policies: make(map[string]*policy.Policy),
		fallback: fallback,
	}
}

// SetAgentPolicy overrides the policy used for a specific agent ID. Passing
// a nil policy removes the override, reverting that agent to fallback.
func (c *ApprovalChecker) SetAgentPolicy(agentID string, pol *policy.Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pol == nil {
		delete(c.policies, agentID)
		return
	}
	c.policies[agentID] = pol
}

// PolicyFor returns the policy governing agentID: its override if one was
// set via SetAgentPolicy, otherwise the checker's fallback.
func (c *ApprovalChecker) PolicyFor(agentID string) *policy.Policy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if pol, ok := c.policies[agentID]; ok {
		return pol
	}
	return c.fallback
}

// Check resolves toolCall.Name against agentID's policy and reports the
// decision plus a human-readable reason string suitable for logging.
func (c *ApprovalChecker) Check(_ context.Context, agentID string, toolCall models.ToolCall) (ApprovalDecision, string) {
	decision := c.resolver.Decide(c.PolicyFor(agentID), toolCall.Name)
	if decision.Allowed {
		return ApprovalAllowed, decision.Reason
	}
	if strings.HasPrefix(decision.Reason, "denied by rule") {
		return ApprovalDenied, decision.Reason
	}
	return ApprovalPending, decision.Reason
}

// DefaultApprovalPolicy returns the policy new agents get absent an
// explicit SetAgentPolicy override: everything allowed except an empty
// deny list, i.e. only AgentConfig.SensitiveToolNames gates anything.
func DefaultApprovalPolicy() *policy.Policy {
	return policy.NewPolicy(policy.ProfileFull)
}
