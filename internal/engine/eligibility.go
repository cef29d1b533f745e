package engine

import "crewline/internal/domain"

// EligibleTasks filters the task list down to what the agent could pick
// up right now. An unknown agent id yields an empty set, not an error.
func (e *Engine) EligibleTasks(agentID string) []domain.Task {
	agent := e.agentByID(agentID)
	if agent == nil {
		return nil
	}
	byID := make(map[string]domain.Task, len(e.tasks.Tasks))
	for _, t := range e.tasks.Tasks {
		byID[t.ID] = t
	}
	var out []domain.Task
	for _, t := range e.tasks.Tasks {
		if e.isEligible(t, *agent, byID) {
			out = append(out, t)
		}
	}
	return out
}

func (e *Engine) isEligible(t domain.Task, agent domain.Agent, byID map[string]domain.Task) bool {
	if t.Status != domain.StatusTodo && t.Status != domain.StatusBlocked {
		return false
	}
	if t.HasAssignee(agent.ID) {
		return false
	}
	for _, dep := range t.Dependencies {
		// A dependency pointing at a missing task blocks the task
		// until the edge is repaired.
		dt, ok := byID[dep]
		if !ok || dt.Status != domain.StatusCompleted {
			return false
		}
	}
	return e.capabilityMatch(t, agent)
}

// capabilityMatch enforces the category gate. It only applies to ai
// agents that declare at least one capability; humans and untyped ai
// agents see everything.
func (e *Engine) capabilityMatch(t domain.Task, agent domain.Agent) bool {
	if agent.Type != domain.AgentTypeAI || len(agent.Capabilities) == 0 {
		return true
	}
	if e.Config == nil {
		return true
	}
	required, ok := e.Config.Capabilities[t.Category]
	if !ok || required == "" {
		return true
	}
	return agent.HasCapability(required)
}
