package domain

// Task statuses. Arbitrary strings are accepted unless strict transitions
// are enabled in config; these are the documented values.
const (
	StatusTodo       = "todo"
	StatusInProgress = "in-progress"
	StatusBlocked    = "blocked"
	StatusReview     = "review"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
	PriorityLow      = "low"
)

const (
	RiskHigh   = "high"
	RiskMedium = "medium"
	RiskLow    = "low"
)

const (
	AgentTypeAI    = "ai"
	AgentTypeHuman = "human"
)

// Assignee is a denormalized snapshot taken at assignment time. Agent
// name/type can drift from the source record until re-assigned.
type Assignee struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type" enum:"ai,human"`
	Role         string `json:"role,omitempty"`
	AssignedDate string `json:"assigned_date" format:"date-time"`
}

type Task struct {
	ID                  string     `json:"id"`
	Title               string     `json:"title"`
	Description         string     `json:"description,omitempty"`
	Category            string     `json:"category,omitempty"`
	Status              string     `json:"status" enum:"todo,in-progress,blocked,review,completed,cancelled"`
	Priority            string     `json:"priority" enum:"critical,high,medium,low"`
	RiskLevel           string     `json:"risk_level" enum:"high,medium,low"`
	Phase               string     `json:"phase,omitempty"`
	Assignees           []Assignee `json:"assignees,omitempty"`
	Dependencies        []string   `json:"dependencies,omitempty"`
	Blocks              []string   `json:"blocks,omitempty"`
	RecommendationScore int        `json:"recommendation_score,omitempty"`
	Completed           *string    `json:"completed,omitempty" format:"date-time"`
	Created             string     `json:"created" format:"date-time"`
	Updated             string     `json:"updated" format:"date-time"`
}

// HasAssignee reports whether the agent id appears in the assignee list.
func (t Task) HasAssignee(agentID string) bool {
	for _, a := range t.Assignees {
		if a.ID == agentID {
			return true
		}
	}
	return false
}

// Workload counters are derived from the task collection and fully
// recomputed after every mutation; never mutated independently.
type Workload struct {
	ActiveTasks    int `json:"active_tasks"`
	CompletedTasks int `json:"completed_tasks"`
	TotalScore     int `json:"total_score"`
}

type Notification struct {
	Type       string `json:"type"`
	TaskID     string `json:"task_id"`
	TaskTitle  string `json:"task_title"`
	AssignedBy string `json:"assigned_by"`
	AssignedAt string `json:"assigned_at" format:"date-time"`
	Priority   string `json:"priority"`
	Message    string `json:"message"`
}

type RecommendedTask struct {
	TaskID   string `json:"task_id"`
	Score    int    `json:"score"`
	Selected bool   `json:"selected"`
}

// RecommendationRecord is one audit entry of a recommendation run; agents
// keep a bounded ring of these, oldest evicted first.
type RecommendationRecord struct {
	AgentID          string            `json:"agent_id"`
	Date             string            `json:"date" format:"date-time"`
	AlgorithmVersion string            `json:"algorithm_version"`
	Recommendations  []RecommendedTask `json:"recommendations"`
	Rationale        string            `json:"rationale,omitempty"`
}

type Agent struct {
	ID                    string                 `json:"id"`
	Name                  string                 `json:"name"`
	Type                  string                 `json:"type" enum:"ai,human"`
	Role                  string                 `json:"role,omitempty"`
	Capabilities          []string               `json:"capabilities,omitempty"`
	Status                string                 `json:"status" enum:"active,inactive"`
	Workload              Workload               `json:"workload"`
	Notifications         []Notification         `json:"notifications,omitempty"`
	RecommendationHistory []RecommendationRecord `json:"recommendation_history,omitempty"`
	Created               string                 `json:"created" format:"date-time"`
	Updated               string                 `json:"updated" format:"date-time"`
}

// HasCapability reports whether the agent declares the capability tag.
func (a Agent) HasCapability(cap string) bool {
	for _, c := range a.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

type Progress struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	InProgress int `json:"in_progress"`
	Todo       int `json:"todo"`
	Percentage int `json:"percentage"`
}

type ProjectState struct {
	Name         string   `json:"name"`
	CurrentPhase string   `json:"current_phase,omitempty"`
	Phases       []string `json:"phases,omitempty"`
}

// TaskDocument is the on-disk shape of the task store: project header,
// derived progress counters, and the full task collection.
type TaskDocument struct {
	Project  ProjectState `json:"project"`
	Progress Progress     `json:"progress"`
	Tasks    []Task       `json:"tasks"`
}

// AgentDocument is the on-disk shape of the agent store.
type AgentDocument struct {
	Agents []Agent `json:"agents"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	AgentID    string `json:"agent_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	AgentID   string `json:"agent_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
