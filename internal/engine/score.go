package engine

import (
	"fmt"
	"strings"

	"crewline/internal/config"
	"crewline/internal/domain"
)

// ScoreBreakdown records the four additive components of a task score.
type ScoreBreakdown struct {
	Priority int `json:"priority"`
	Blocking int `json:"blocking"`
	Risk     int `json:"risk"`
	Phase    int `json:"phase"`
}

func (b ScoreBreakdown) Total() int {
	return b.Priority + b.Blocking + b.Risk + b.Phase
}

// ScoreTask computes the recommendation score for a task. Pure over the
// task, the scoring tables and the current phase, so identical inputs
// always produce identical scores.
func (e *Engine) ScoreTask(t domain.Task) (int, ScoreBreakdown) {
	s := e.scoring()
	b := ScoreBreakdown{
		Priority: tableOrDefault(s.Priority, t.Priority, domain.PriorityMedium),
		Risk:     tableOrDefault(s.Risk, t.RiskLevel, domain.RiskMedium),
	}
	if len(t.Blocks) > 0 {
		b.Blocking = s.Blocking
	} else {
		b.Blocking = s.Independent
	}
	if t.Phase == e.currentPhase() {
		b.Phase = s.PhaseMatch
	} else {
		b.Phase = s.PhaseOther
	}
	return b.Total(), b
}

func (e *Engine) scoring() config.ScoringConfig {
	if e.Config != nil {
		return e.Config.Recommendations.Scoring
	}
	return config.Default("").Recommendations.Scoring
}

// tableOrDefault looks up a points table, falling back to the fallback
// key for unknown values.
func tableOrDefault(table map[string]int, key, fallback string) int {
	if v, ok := table[key]; ok {
		return v
	}
	return table[fallback]
}

// scoreReason builds the human-readable rationale from the components
// that contributed.
func (e *Engine) scoreReason(t domain.Task, b ScoreBreakdown) string {
	s := e.scoring()
	var parts []string
	if b.Priority >= s.Priority[domain.PriorityHigh] {
		parts = append(parts, fmt.Sprintf("%s priority", t.Priority))
	}
	if len(t.Blocks) > 0 {
		parts = append(parts, fmt.Sprintf("unblocks %d task(s)", len(t.Blocks)))
	}
	if b.Phase == s.PhaseMatch && t.Phase != "" {
		parts = append(parts, "in current phase")
	}
	if t.RiskLevel == domain.RiskHigh {
		parts = append(parts, "high risk needs attention")
	}
	if len(parts) == 0 {
		return "available and ready to start"
	}
	return strings.Join(parts, ", ")
}
