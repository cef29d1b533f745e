package engine

import (
	"context"
	"fmt"
	"sort"

	"crewline/internal/domain"
	"crewline/internal/events"
	"crewline/internal/repo"
)

const algorithmVersion = "additive-v1"

// Recommendation pairs an eligible task with its score and rationale.
type Recommendation struct {
	Task   domain.Task `json:"task"`
	Score  int         `json:"score"`
	Reason string      `json:"reason"`
}

// Recommend ranks the agent's eligible tasks and returns the top ones.
// Unlike EligibleTasks, an unknown agent here is an error: callers ask
// for recommendations on behalf of a specific registered agent.
// Each run is recorded in the agent's bounded recommendation history and
// the winning scores are cached on the tasks.
func (e *Engine) Recommend(ctx context.Context, agentID string, limit int) ([]Recommendation, error) {
	agent := e.agentByID(agentID)
	if agent == nil {
		return nil, fmt.Errorf("agent %s: %w", agentID, repo.ErrNotFound)
	}
	if limit <= 0 {
		limit = 3
		if e.Config != nil && e.Config.Recommendations.DefaultLimit > 0 {
			limit = e.Config.Recommendations.DefaultLimit
		}
	}
	eligible := e.EligibleTasks(agentID)
	recs := make([]Recommendation, 0, len(eligible))
	for _, t := range eligible {
		total, b := e.ScoreTask(t)
		// Every considered task gets its cache refreshed, not just
		// the ones that survive the limit.
		if stored := e.taskByID(t.ID); stored != nil {
			stored.RecommendationScore = total
		}
		t.RecommendationScore = total
		recs = append(recs, Recommendation{Task: t, Score: total, Reason: e.scoreReason(t, b)})
	}
	// Stable sort keeps document order among equal scores.
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Score > recs[j].Score })
	if len(recs) > limit {
		recs = recs[:limit]
	}
	record := domain.RecommendationRecord{
		AgentID:          agentID,
		Date:             e.timestamp(),
		AlgorithmVersion: algorithmVersion,
		Rationale:        fmt.Sprintf("%d eligible, %d recommended", len(eligible), len(recs)),
	}
	for i := range recs {
		record.Recommendations = append(record.Recommendations, domain.RecommendedTask{
			TaskID: recs[i].Task.ID,
			Score:  recs[i].Score,
		})
	}
	agent.RecommendationHistory = append(agent.RecommendationHistory, record)
	limitHistory := 50
	if e.Config != nil && e.Config.Recommendations.HistoryLimit > 0 {
		limitHistory = e.Config.Recommendations.HistoryLimit
	}
	if over := len(agent.RecommendationHistory) - limitHistory; over > 0 {
		agent.RecommendationHistory = agent.RecommendationHistory[over:]
	}
	e.logEvent(ctx, "recommendation.run", "agent", agentID, agentID, events.EventPayload{
		"eligible":    len(eligible),
		"recommended": len(recs),
	})
	if err := e.persist(); err != nil {
		return nil, err
	}
	return recs, nil
}
