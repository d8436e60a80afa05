package agent

import "github.com/haasonsaas/orchestra/internal/tools/policy"

// AsLLMToolsFiltered is AsLLMTools narrowed by pol: only tools FilterAllowed
// approves are handed to the provider, so a restricted agent profile (e.g.
// policy.ProfileMinimal) never even sees a tool name it isn't permitted to
// call, rather than being trusted to decline it.
func (r *ToolRegistry) AsLLMToolsFiltered(resolver *policy.Resolver, pol *policy.Policy) []LLMTool {
	if resolver == nil || pol == nil {
		return r.AsLLMTools()
	}

	all := r.AsLLMTools()
	names := make([]string, len(all))
	for i, t := range all {
		names[i] = t.Name
	}
	allowed := make(map[string]bool, len(names))
	for _, name := range resolver.FilterAllowed(pol, names) {
		allowed[name] = true
	}

	filtered := make([]LLMTool, 0, len(all))
	for _, t := range all {
		if allowed[t.Name] {
			filtered = append(filtered, t)
		}
	}
	return filtered
}
