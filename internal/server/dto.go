package server

import (
	"encoding/json"

	"crewline/internal/domain"
	"crewline/internal/engine"
	"crewline/internal/repo"
)

// Request payloads

type CreateTaskRequest struct {
	Title        string   `json:"title"`
	Description  *string  `json:"description,omitempty"`
	Category     *string  `json:"category,omitempty"`
	Priority     *string  `json:"priority,omitempty" enum:"critical,high,medium,low"`
	RiskLevel    *string  `json:"risk_level,omitempty" enum:"high,medium,low"`
	Phase        *string  `json:"phase,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
	Blocks       []string `json:"blocks,omitempty"`
}

type UpdateTaskRequest struct {
	Title              *string  `json:"title,omitempty"`
	Description        *string  `json:"description,omitempty"`
	Category           *string  `json:"category,omitempty"`
	Priority           *string  `json:"priority,omitempty" enum:"critical,high,medium,low"`
	RiskLevel          *string  `json:"risk_level,omitempty" enum:"high,medium,low"`
	Phase              *string  `json:"phase,omitempty"`
	Status             *string  `json:"status,omitempty" enum:"todo,in-progress,blocked,review,completed,cancelled"`
	AddDependencies    []string `json:"add_dependencies,omitempty"`
	RemoveDependencies []string `json:"remove_dependencies,omitempty"`
	AddBlocks          []string `json:"add_blocks,omitempty"`
	RemoveBlocks       []string `json:"remove_blocks,omitempty"`
}

type AssignTaskRequest struct {
	AgentID string `json:"agent_id"`
}

type TransferTaskRequest struct {
	FromAgentID string `json:"from_agent_id"`
	ToAgentID   string `json:"to_agent_id"`
}

type RegisterAgentRequest struct {
	ID           *string  `json:"id,omitempty"`
	Name         string   `json:"name"`
	Type         string   `json:"type,omitempty" enum:"ai,human"`
	Role         *string  `json:"role,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

type UpdateAgentRequest struct {
	Name         *string   `json:"name,omitempty"`
	Role         *string   `json:"role,omitempty"`
	Status       *string   `json:"status,omitempty" enum:"active,inactive"`
	Capabilities *[]string `json:"capabilities,omitempty"`
}

// Response payloads

type TaskResponse struct {
	ID                  string            `json:"id"`
	Title               string            `json:"title"`
	Description         string            `json:"description,omitempty"`
	Category            string            `json:"category,omitempty"`
	Status              string            `json:"status" enum:"todo,in-progress,blocked,review,completed,cancelled"`
	Priority            string            `json:"priority" enum:"critical,high,medium,low"`
	RiskLevel           string            `json:"risk_level" enum:"high,medium,low"`
	Phase               string            `json:"phase,omitempty"`
	Assignees           []domain.Assignee `json:"assignees"`
	Dependencies        []string          `json:"dependencies"`
	Blocks              []string          `json:"blocks"`
	RecommendationScore int               `json:"recommendation_score"`
	Completed           *string           `json:"completed,omitempty" format:"date-time"`
	Created             string            `json:"created" format:"date-time"`
	Updated             string            `json:"updated" format:"date-time"`
}

type AgentResponse struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Type         string          `json:"type" enum:"ai,human"`
	Role         string          `json:"role,omitempty"`
	Capabilities []string        `json:"capabilities"`
	Status       string          `json:"status" enum:"active,inactive"`
	Workload     domain.Workload `json:"workload"`
	Created      string          `json:"created" format:"date-time"`
	Updated      string          `json:"updated" format:"date-time"`
}

type RecommendationResponse struct {
	Task   TaskResponse `json:"task"`
	Score  int          `json:"score"`
	Reason string       `json:"reason"`
}

type NotificationResponse struct {
	Type       string `json:"type"`
	TaskID     string `json:"task_id"`
	TaskTitle  string `json:"task_title"`
	AssignedBy string `json:"assigned_by"`
	AssignedAt string `json:"assigned_at" format:"date-time"`
	Priority   string `json:"priority,omitempty"`
	Message    string `json:"message"`
}

type StatusResponse struct {
	Project    domain.ProjectState `json:"project"`
	Progress   domain.Progress     `json:"progress"`
	TaskCounts map[string]int      `json:"task_counts"`
	Agents     int                 `json:"agents"`
}

type CheckInResponse struct {
	Agent         AgentResponse          `json:"agent"`
	Tasks         []TaskResponse         `json:"tasks"`
	Notifications []NotificationResponse `json:"notifications"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	AgentID    string         `json:"agent_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:                  t.ID,
		Title:               t.Title,
		Description:         t.Description,
		Category:            t.Category,
		Status:              t.Status,
		Priority:            t.Priority,
		RiskLevel:           t.RiskLevel,
		Phase:               t.Phase,
		Assignees:           nonNilSlice(t.Assignees),
		Dependencies:        nonNilSlice(t.Dependencies),
		Blocks:              nonNilSlice(t.Blocks),
		RecommendationScore: t.RecommendationScore,
		Completed:           t.Completed,
		Created:             t.Created,
		Updated:             t.Updated,
	}
}

func mapTasks(tasks []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskResponse(t))
	}
	return out
}

func agentResponse(a domain.Agent) AgentResponse {
	return AgentResponse{
		ID:           a.ID,
		Name:         a.Name,
		Type:         a.Type,
		Role:         a.Role,
		Capabilities: nonNilSlice(a.Capabilities),
		Status:       a.Status,
		Workload:     a.Workload,
		Created:      a.Created,
		Updated:      a.Updated,
	}
}

func mapAgents(agents []domain.Agent) []AgentResponse {
	out := make([]AgentResponse, 0, len(agents))
	for _, a := range agents {
		out = append(out, agentResponse(a))
	}
	return out
}

func recommendationResponse(r engine.Recommendation) RecommendationResponse {
	return RecommendationResponse{
		Task:   taskResponse(r.Task),
		Score:  r.Score,
		Reason: r.Reason,
	}
}

func mapRecommendations(recs []engine.Recommendation) []RecommendationResponse {
	out := make([]RecommendationResponse, 0, len(recs))
	for _, r := range recs {
		out = append(out, recommendationResponse(r))
	}
	return out
}

func notificationResponse(n domain.Notification) NotificationResponse {
	return NotificationResponse(n)
}

func mapNotifications(notes []domain.Notification) []NotificationResponse {
	out := make([]NotificationResponse, 0, len(notes))
	for _, n := range notes {
		out = append(out, notificationResponse(n))
	}
	return out
}

func eventResponse(e repo.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		AgentID:    e.AgentID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func mapEvents(events []repo.Event) []EventResponse {
	out := make([]EventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, eventResponse(e))
	}
	return out
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func stringOrEmpty(in *string) string {
	if in == nil {
		return ""
	}
	return *in
}
