package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"crewline/internal/config"
	"crewline/internal/domain"
	"crewline/internal/events"
	"crewline/internal/repo"
	"crewline/internal/store"
)

// Engine holds the two in-memory aggregates and applies every mutation
// through them. Single writer; the HTTP layer serializes access.
type Engine struct {
	Store    store.Store
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Now      func() time.Time
	Autosave bool

	tasks  *domain.TaskDocument
	agents *domain.AgentDocument
}

// New loads both documents from the store. The sidecar connection may be
// nil; event appends become no-ops.
func New(s store.Store, conn *sql.DB, cfg *config.Config) (*Engine, error) {
	tasks, err := s.LoadTasks()
	if err != nil {
		return nil, err
	}
	agents, err := s.LoadAgents()
	if err != nil {
		return nil, err
	}
	e := &Engine{
		Store:    s,
		Repo:     repo.Repo{DB: conn},
		Events:   events.Writer{DB: conn},
		Config:   cfg,
		Now:      time.Now,
		Autosave: true,
		tasks:    &tasks,
		agents:   &agents,
	}
	if cfg != nil && tasks.Project.Name == "" {
		e.tasks.Project = domain.ProjectState{
			Name:         cfg.Project.Name,
			CurrentPhase: cfg.Project.CurrentPhase,
			Phases:       cfg.Project.Phases,
		}
	}
	return e, nil
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// logEvent appends to the audit log. Failures are logged, never
// propagated; the triggering mutation stands.
func (e *Engine) logEvent(ctx context.Context, evtType, entityKind, entityID, agentID string, payload events.EventPayload) {
	if err := e.Events.Append(ctx, evtType, entityKind, entityID, agentID, payload); err != nil {
		log.Printf("event append failed (%s): %v", evtType, err)
	}
}

// persist recomputes the derived aggregates and saves both documents
// when autosave is on. With autosave off the caller flushes explicitly.
func (e *Engine) persist() error {
	e.recomputeProgress()
	RecomputeWorkloads(e.tasks.Tasks, e.agents.Agents)
	if !e.Autosave {
		return nil
	}
	return e.Store.Save(*e.tasks, *e.agents)
}

// Flush saves the current documents regardless of the autosave flag.
func (e *Engine) Flush() error {
	return e.Store.Save(*e.tasks, *e.agents)
}

func (e *Engine) recomputeProgress() {
	p := domain.Progress{Total: len(e.tasks.Tasks)}
	for _, t := range e.tasks.Tasks {
		switch t.Status {
		case domain.StatusCompleted:
			p.Completed++
		case domain.StatusInProgress:
			p.InProgress++
		case domain.StatusTodo:
			p.Todo++
		}
	}
	if p.Total > 0 {
		p.Percentage = int(math.Round(float64(p.Completed) / float64(p.Total) * 100))
	}
	e.tasks.Progress = p
}

func (e *Engine) taskByID(id string) *domain.Task {
	for i := range e.tasks.Tasks {
		if e.tasks.Tasks[i].ID == id {
			return &e.tasks.Tasks[i]
		}
	}
	return nil
}

func (e *Engine) agentByID(id string) *domain.Agent {
	for i := range e.agents.Agents {
		if e.agents.Agents[i].ID == id {
			return &e.agents.Agents[i]
		}
	}
	return nil
}

func (e *Engine) currentPhase() string {
	return e.tasks.Project.CurrentPhase
}

// Project returns the project header.
func (e *Engine) Project() domain.ProjectState {
	return e.tasks.Project
}

// Progress returns the derived progress counters.
func (e *Engine) Progress() domain.Progress {
	e.recomputeProgress()
	return e.tasks.Progress
}

// nextTaskID scans existing TASK-NNN ids and picks max+1. Gaps after
// deletion are allowed and never reused downward.
func (e *Engine) nextTaskID() string {
	max := 0
	for _, t := range e.tasks.Tasks {
		rest, ok := strings.CutPrefix(t.ID, "TASK-")
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(rest); err == nil && n > max {
			max = n
		}
	}
	return fmt.Sprintf("TASK-%03d", max+1)
}

func validPriority(p string) bool {
	switch p {
	case domain.PriorityCritical, domain.PriorityHigh, domain.PriorityMedium, domain.PriorityLow:
		return true
	}
	return false
}

func validRisk(r string) bool {
	switch r {
	case domain.RiskHigh, domain.RiskMedium, domain.RiskLow:
		return true
	}
	return false
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	Title        string
	Description  string
	Category     string
	Priority     string
	RiskLevel    string
	Phase        string
	Dependencies []string
	Blocks       []string
	AgentID      string
}

func (e *Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Task{}, errors.New("title is required")
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	if !validPriority(opts.Priority) {
		return domain.Task{}, fmt.Errorf("invalid priority %s", opts.Priority)
	}
	if opts.RiskLevel == "" {
		opts.RiskLevel = domain.RiskMedium
	}
	if !validRisk(opts.RiskLevel) {
		return domain.Task{}, fmt.Errorf("invalid risk level %s", opts.RiskLevel)
	}
	if opts.Phase == "" {
		opts.Phase = e.currentPhase()
	}
	id := e.nextTaskID()
	for _, dep := range opts.Dependencies {
		if dep == id {
			return domain.Task{}, errors.New("task cannot depend on itself")
		}
	}
	now := e.timestamp()
	t := domain.Task{
		ID:           id,
		Title:        opts.Title,
		Description:  opts.Description,
		Category:     opts.Category,
		Status:       domain.StatusTodo,
		Priority:     opts.Priority,
		RiskLevel:    opts.RiskLevel,
		Phase:        opts.Phase,
		Dependencies: opts.Dependencies,
		Blocks:       opts.Blocks,
		Created:      now,
		Updated:      now,
	}
	e.tasks.Tasks = append(e.tasks.Tasks, t)
	e.logEvent(ctx, "task.created", "task", t.ID, opts.AgentID, events.EventPayload{"title": t.Title, "status": t.Status})
	if err := e.persist(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e *Engine) GetTask(id string) (domain.Task, error) {
	t := e.taskByID(id)
	if t == nil {
		return domain.Task{}, fmt.Errorf("task %s: %w", id, repo.ErrNotFound)
	}
	return *t, nil
}

// TaskFilters narrow task listings; empty fields match everything.
type TaskFilters struct {
	AgentID  string
	Status   string
	Priority string
	Phase    string
	Category string
}

func (e *Engine) ListTasks(f TaskFilters) []domain.Task {
	var out []domain.Task
	for _, t := range e.tasks.Tasks {
		if f.AgentID != "" && !t.HasAssignee(f.AgentID) {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.Priority != "" && t.Priority != f.Priority {
			continue
		}
		if f.Phase != "" && t.Phase != f.Phase {
			continue
		}
		if f.Category != "" && t.Category != f.Category {
			continue
		}
		out = append(out, t)
	}
	return out
}

// TaskUpdateOptions encapsulates allowed updates. Nil pointers leave the
// field untouched.
type TaskUpdateOptions struct {
	ID                 string
	Title              *string
	Description        *string
	Category           *string
	Priority           *string
	RiskLevel          *string
	Phase              *string
	Status             *string
	AddDependencies    []string
	RemoveDependencies []string
	AddBlocks          []string
	RemoveBlocks       []string
	AgentID            string
}

func (e *Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	t := e.taskByID(opts.ID)
	if t == nil {
		return domain.Task{}, fmt.Errorf("task %s: %w", opts.ID, repo.ErrNotFound)
	}
	if opts.Priority != nil && !validPriority(*opts.Priority) {
		return *t, fmt.Errorf("invalid priority %s", *opts.Priority)
	}
	if opts.RiskLevel != nil && !validRisk(*opts.RiskLevel) {
		return *t, fmt.Errorf("invalid risk level %s", *opts.RiskLevel)
	}
	for _, dep := range opts.AddDependencies {
		if dep == t.ID {
			return *t, errors.New("task cannot depend on itself")
		}
	}
	fromStatus := t.Status
	if opts.Status != nil && *opts.Status != t.Status {
		if err := e.setTaskStatus(t, *opts.Status); err != nil {
			return *t, err
		}
	}
	if opts.Title != nil {
		t.Title = *opts.Title
	}
	if opts.Description != nil {
		t.Description = *opts.Description
	}
	if opts.Category != nil {
		t.Category = *opts.Category
	}
	if opts.Priority != nil {
		t.Priority = *opts.Priority
	}
	if opts.RiskLevel != nil {
		t.RiskLevel = *opts.RiskLevel
	}
	if opts.Phase != nil {
		t.Phase = *opts.Phase
	}
	t.Dependencies = addUnique(t.Dependencies, opts.AddDependencies)
	t.Dependencies = removeAll(t.Dependencies, opts.RemoveDependencies)
	t.Blocks = addUnique(t.Blocks, opts.AddBlocks)
	t.Blocks = removeAll(t.Blocks, opts.RemoveBlocks)
	t.Updated = e.timestamp()
	e.logEvent(ctx, "task.updated", "task", t.ID, opts.AgentID, events.EventPayload{
		"from_status": fromStatus,
		"to_status":   t.Status,
	})
	if err := e.persist(); err != nil {
		return *t, err
	}
	return *t, nil
}

// setTaskStatus applies a status change. Arbitrary statuses are accepted
// unless strict transitions are configured; moving to completed stamps
// the completion time.
func (e *Engine) setTaskStatus(t *domain.Task, status string) error {
	if status == t.Status {
		return nil
	}
	if e.Config != nil && e.Config.Tasks.StrictTransitions {
		if err := ensureTaskTransition(t.Status, status); err != nil {
			return err
		}
	}
	t.Status = status
	if status == domain.StatusCompleted {
		ts := e.timestamp()
		t.Completed = &ts
	}
	return nil
}

func ensureTaskTransition(oldStatus, newStatus string) error {
	if newStatus == domain.StatusCancelled {
		return nil
	}
	switch oldStatus {
	case domain.StatusTodo:
		if newStatus == domain.StatusInProgress || newStatus == domain.StatusBlocked {
			return nil
		}
	case domain.StatusBlocked:
		if newStatus == domain.StatusTodo {
			return nil
		}
	case domain.StatusInProgress:
		if newStatus == domain.StatusCompleted || newStatus == domain.StatusBlocked {
			return nil
		}
	}
	return fmt.Errorf("invalid task status transition %s -> %s", oldStatus, newStatus)
}

// DeleteTask removes the task after cascading its id out of every other
// task's dependency and blocks arrays.
func (e *Engine) DeleteTask(ctx context.Context, id, agentID string) error {
	idx := -1
	for i := range e.tasks.Tasks {
		if e.tasks.Tasks[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("task %s: %w", id, repo.ErrNotFound)
	}
	for i := range e.tasks.Tasks {
		if i == idx {
			continue
		}
		t := &e.tasks.Tasks[i]
		t.Dependencies = removeAll(t.Dependencies, []string{id})
		t.Blocks = removeAll(t.Blocks, []string{id})
	}
	e.tasks.Tasks = append(e.tasks.Tasks[:idx], e.tasks.Tasks[idx+1:]...)
	e.logEvent(ctx, "task.deleted", "task", id, agentID, nil)
	return e.persist()
}

// AgentAddOptions are parameters for registering an agent.
type AgentAddOptions struct {
	ID           string
	Name         string
	Type         string
	Role         string
	Capabilities []string
}

func (e *Engine) AddAgent(ctx context.Context, opts AgentAddOptions) (domain.Agent, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Agent{}, errors.New("name is required")
	}
	if opts.Type == "" {
		opts.Type = domain.AgentTypeHuman
	}
	if opts.Type != domain.AgentTypeAI && opts.Type != domain.AgentTypeHuman {
		return domain.Agent{}, fmt.Errorf("invalid agent type %s", opts.Type)
	}
	id := opts.ID
	if id == "" {
		id = fmt.Sprintf("agent-%d", e.now().Unix())
		if e.agentByID(id) != nil {
			id = "agent-" + uuid.NewString()[:8]
		}
	} else if e.agentByID(id) != nil {
		return domain.Agent{}, fmt.Errorf("agent %s already exists", id)
	}
	now := e.timestamp()
	a := domain.Agent{
		ID:           id,
		Name:         opts.Name,
		Type:         opts.Type,
		Role:         opts.Role,
		Capabilities: opts.Capabilities,
		Status:       "active",
		Created:      now,
		Updated:      now,
	}
	e.agents.Agents = append(e.agents.Agents, a)
	e.logEvent(ctx, "agent.added", "agent", a.ID, a.ID, events.EventPayload{"name": a.Name, "type": a.Type})
	if err := e.persist(); err != nil {
		return domain.Agent{}, err
	}
	return a, nil
}

func (e *Engine) GetAgent(id string) (domain.Agent, error) {
	a := e.agentByID(id)
	if a == nil {
		return domain.Agent{}, fmt.Errorf("agent %s: %w", id, repo.ErrNotFound)
	}
	return *a, nil
}

func (e *Engine) ListAgents() []domain.Agent {
	return append([]domain.Agent(nil), e.agents.Agents...)
}

// AgentUpdateOptions encapsulates allowed agent updates.
type AgentUpdateOptions struct {
	ID              string
	Name            *string
	Role            *string
	Status          *string
	Capabilities    []string
	CapabilitiesSet bool
}

func (e *Engine) UpdateAgent(ctx context.Context, opts AgentUpdateOptions) (domain.Agent, error) {
	a := e.agentByID(opts.ID)
	if a == nil {
		return domain.Agent{}, fmt.Errorf("agent %s: %w", opts.ID, repo.ErrNotFound)
	}
	if opts.Status != nil && *opts.Status != "active" && *opts.Status != "inactive" {
		return *a, fmt.Errorf("invalid agent status %s", *opts.Status)
	}
	if opts.Name != nil {
		a.Name = *opts.Name
	}
	if opts.Role != nil {
		a.Role = *opts.Role
	}
	if opts.Status != nil {
		a.Status = *opts.Status
	}
	if opts.CapabilitiesSet {
		a.Capabilities = opts.Capabilities
	}
	a.Updated = e.timestamp()
	e.logEvent(ctx, "agent.updated", "agent", a.ID, a.ID, nil)
	if err := e.persist(); err != nil {
		return *a, err
	}
	return *a, nil
}

// RemoveAgent deletes the agent and strips it from every task's assignee
// list. Tasks and dependency edges stay untouched.
func (e *Engine) RemoveAgent(ctx context.Context, id, actingAgent string) error {
	idx := -1
	for i := range e.agents.Agents {
		if e.agents.Agents[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("agent %s: %w", id, repo.ErrNotFound)
	}
	for i := range e.tasks.Tasks {
		t := &e.tasks.Tasks[i]
		kept := t.Assignees[:0]
		removed := false
		for _, a := range t.Assignees {
			if a.ID == id {
				removed = true
				continue
			}
			kept = append(kept, a)
		}
		if removed {
			t.Assignees = kept
			t.Updated = e.timestamp()
		}
	}
	e.agents.Agents = append(e.agents.Agents[:idx], e.agents.Agents[idx+1:]...)
	e.logEvent(ctx, "agent.removed", "agent", id, actingAgent, nil)
	return e.persist()
}

// Assign adds the agent to the task's assignee list with a denormalized
// snapshot. Re-assigning an already-assigned agent is a no-op.
func (e *Engine) Assign(ctx context.Context, taskID, agentID, assignedBy string) (domain.Task, error) {
	t := e.taskByID(taskID)
	if t == nil {
		return domain.Task{}, fmt.Errorf("task %s: %w", taskID, repo.ErrNotFound)
	}
	a := e.agentByID(agentID)
	if a == nil {
		return domain.Task{}, fmt.Errorf("agent %s: %w", agentID, repo.ErrNotFound)
	}
	if t.HasAssignee(agentID) {
		return *t, nil
	}
	now := e.timestamp()
	t.Assignees = append(t.Assignees, domain.Assignee{
		ID:           a.ID,
		Name:         a.Name,
		Type:         a.Type,
		Role:         a.Role,
		AssignedDate: now,
	})
	t.Updated = now
	e.notifyAssignees(*t, agentID, assignedBy, now)
	e.logEvent(ctx, "task.assigned", "task", t.ID, assignedBy, events.EventPayload{"agent_id": agentID})
	if err := e.persist(); err != nil {
		return *t, err
	}
	return *t, nil
}

// notifyAssignees queues an assignment notification for every current
// assignee. Best effort: unknown assignee records are skipped.
func (e *Engine) notifyAssignees(t domain.Task, newAgentID, assignedBy, now string) {
	n := domain.Notification{
		Type:       "assignment",
		TaskID:     t.ID,
		TaskTitle:  t.Title,
		AssignedBy: assignedBy,
		AssignedAt: now,
		Priority:   t.Priority,
		Message:    fmt.Sprintf("%s was assigned to %s: %s", newAgentID, t.ID, t.Title),
	}
	for _, as := range t.Assignees {
		agent := e.agentByID(as.ID)
		if agent == nil {
			continue
		}
		agent.Notifications = append(agent.Notifications, n)
	}
}

// Unassign removes the agent from the task. Not being assigned is not
// an error.
func (e *Engine) Unassign(ctx context.Context, taskID, agentID, actingAgent string) (domain.Task, error) {
	t := e.taskByID(taskID)
	if t == nil {
		return domain.Task{}, fmt.Errorf("task %s: %w", taskID, repo.ErrNotFound)
	}
	kept := t.Assignees[:0]
	removed := false
	for _, a := range t.Assignees {
		if a.ID == agentID {
			removed = true
			continue
		}
		kept = append(kept, a)
	}
	if !removed {
		return *t, nil
	}
	t.Assignees = kept
	t.Updated = e.timestamp()
	e.logEvent(ctx, "task.unassigned", "task", t.ID, actingAgent, events.EventPayload{"agent_id": agentID})
	if err := e.persist(); err != nil {
		return *t, err
	}
	return *t, nil
}

// Transfer moves the assignment from one agent to another in one step.
func (e *Engine) Transfer(ctx context.Context, taskID, fromID, toID, actingAgent string) (domain.Task, error) {
	if e.taskByID(taskID) == nil {
		return domain.Task{}, fmt.Errorf("task %s: %w", taskID, repo.ErrNotFound)
	}
	if e.agentByID(toID) == nil {
		return domain.Task{}, fmt.Errorf("agent %s: %w", toID, repo.ErrNotFound)
	}
	if _, err := e.Unassign(ctx, taskID, fromID, actingAgent); err != nil {
		return domain.Task{}, err
	}
	return e.Assign(ctx, taskID, toID, actingAgent)
}

// StartTask moves an assigned task to in-progress for the acting agent.
func (e *Engine) StartTask(ctx context.Context, taskID, agentID string) (domain.Task, error) {
	t := e.taskByID(taskID)
	if t == nil {
		return domain.Task{}, fmt.Errorf("task %s: %w", taskID, repo.ErrNotFound)
	}
	if !t.HasAssignee(agentID) {
		return *t, fmt.Errorf("agent %s is not assigned to task %s", agentID, taskID)
	}
	if err := e.setTaskStatus(t, domain.StatusInProgress); err != nil {
		return *t, err
	}
	t.Updated = e.timestamp()
	e.logEvent(ctx, "task.started", "task", t.ID, agentID, nil)
	if err := e.persist(); err != nil {
		return *t, err
	}
	return *t, nil
}

// CompleteTask marks an assigned task completed and stamps the
// completion time.
func (e *Engine) CompleteTask(ctx context.Context, taskID, agentID string) (domain.Task, error) {
	t := e.taskByID(taskID)
	if t == nil {
		return domain.Task{}, fmt.Errorf("task %s: %w", taskID, repo.ErrNotFound)
	}
	if !t.HasAssignee(agentID) {
		return *t, fmt.Errorf("agent %s is not assigned to task %s", agentID, taskID)
	}
	if err := e.setTaskStatus(t, domain.StatusCompleted); err != nil {
		return *t, err
	}
	t.Updated = e.timestamp()
	e.logEvent(ctx, "task.completed", "task", t.ID, agentID, nil)
	if err := e.persist(); err != nil {
		return *t, err
	}
	return *t, nil
}

func (e *Engine) Notifications(agentID string) ([]domain.Notification, error) {
	a := e.agentByID(agentID)
	if a == nil {
		return nil, fmt.Errorf("agent %s: %w", agentID, repo.ErrNotFound)
	}
	return append([]domain.Notification(nil), a.Notifications...), nil
}

func (e *Engine) ClearNotifications(ctx context.Context, agentID string) error {
	a := e.agentByID(agentID)
	if a == nil {
		return fmt.Errorf("agent %s: %w", agentID, repo.ErrNotFound)
	}
	a.Notifications = nil
	e.logEvent(ctx, "agent.notifications.cleared", "agent", agentID, agentID, nil)
	return e.persist()
}

// CheckInSummary is what an agent sees when checking in: its record with
// fresh workload counters, its assigned tasks, and pending notifications.
type CheckInSummary struct {
	Agent         domain.Agent          `json:"agent"`
	Tasks         []domain.Task         `json:"tasks"`
	Notifications []domain.Notification `json:"notifications"`
}

func (e *Engine) CheckIn(ctx context.Context, agentID string) (CheckInSummary, error) {
	a := e.agentByID(agentID)
	if a == nil {
		return CheckInSummary{}, fmt.Errorf("agent %s: %w", agentID, repo.ErrNotFound)
	}
	a.Updated = e.timestamp()
	e.logEvent(ctx, "agent.checkin", "agent", agentID, agentID, nil)
	if err := e.persist(); err != nil {
		return CheckInSummary{}, err
	}
	return CheckInSummary{
		Agent:         *a,
		Tasks:         e.ListTasks(TaskFilters{AgentID: agentID}),
		Notifications: append([]domain.Notification(nil), a.Notifications...),
	}, nil
}

// ProjectStatus is the reporting snapshot for the whole workspace.
type ProjectStatus struct {
	Project    domain.ProjectState `json:"project"`
	Progress   domain.Progress     `json:"progress"`
	TaskCounts map[string]int      `json:"task_counts"`
	Agents     int                 `json:"agents"`
}

func (e *Engine) Status() ProjectStatus {
	e.recomputeProgress()
	counts := map[string]int{}
	for _, t := range e.tasks.Tasks {
		counts[t.Status]++
	}
	return ProjectStatus{
		Project:    e.tasks.Project,
		Progress:   e.tasks.Progress,
		TaskCounts: counts,
		Agents:     len(e.agents.Agents),
	}
}

// --- helpers ---

func addUnique(list []string, add []string) []string {
	for _, v := range add {
		found := false
		for _, existing := range list {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			list = append(list, v)
		}
	}
	return list
}

func removeAll(list []string, remove []string) []string {
	if len(remove) == 0 {
		return list
	}
	drop := make(map[string]bool, len(remove))
	for _, v := range remove {
		drop[v] = true
	}
	kept := list[:0]
	for _, v := range list {
		if !drop[v] {
			kept = append(kept, v)
		}
	}
	return kept
}
