package engine

import (
	"fmt"

	"crewline/internal/domain"
	"crewline/internal/repo"
)

// RecomputeWorkloads rebuilds every agent's workload counters from the
// task list in a single pass. Counters are never adjusted incrementally;
// a full recompute after each mutation keeps them consistent with the
// tasks no matter what changed.
func RecomputeWorkloads(tasks []domain.Task, agents []domain.Agent) {
	byID := make(map[string]*domain.Agent, len(agents))
	for i := range agents {
		agents[i].Workload = domain.Workload{}
		byID[agents[i].ID] = &agents[i]
	}
	for _, t := range tasks {
		for _, as := range t.Assignees {
			a := byID[as.ID]
			if a == nil {
				continue
			}
			switch t.Status {
			case domain.StatusCompleted:
				a.Workload.CompletedTasks++
			case domain.StatusTodo, domain.StatusInProgress:
				a.Workload.ActiveTasks++
				a.Workload.TotalScore += t.RecommendationScore
			}
		}
	}
}

// AgentWorkload returns the current counters for one agent.
func (e *Engine) AgentWorkload(agentID string) (domain.Workload, error) {
	a := e.agentByID(agentID)
	if a == nil {
		return domain.Workload{}, fmt.Errorf("agent %s: %w", agentID, repo.ErrNotFound)
	}
	RecomputeWorkloads(e.tasks.Tasks, e.agents.Agents)
	return a.Workload, nil
}
