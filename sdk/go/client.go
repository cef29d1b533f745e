package crewlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Crewline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	// AgentID is sent as X-Agent-Id when no API key or bearer token is
	// set. Only works against servers run with --allow-agent-header.
	AgentID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task represents the API task model.
type Task struct {
	ID                  string     `json:"id"`
	Title               string     `json:"title"`
	Description         string     `json:"description,omitempty"`
	Category            string     `json:"category,omitempty"`
	Status              string     `json:"status"`
	Priority            string     `json:"priority"`
	RiskLevel           string     `json:"risk_level"`
	Phase               string     `json:"phase,omitempty"`
	Assignees           []Assignee `json:"assignees"`
	Dependencies        []string   `json:"dependencies"`
	Blocks              []string   `json:"blocks"`
	RecommendationScore int        `json:"recommendation_score"`
	Completed           *string    `json:"completed,omitempty"`
	Created             string     `json:"created"`
	Updated             string     `json:"updated"`
}

// Assignee is a task assignee entry.
type Assignee struct {
	ID   string `json:"id"`
	Type string `json:"type,omitempty"`
}

// Agent represents the API agent model.
type Agent struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Role         string   `json:"role,omitempty"`
	Capabilities []string `json:"capabilities"`
	Status       string   `json:"status"`
	Workload     Workload `json:"workload"`
	Created      string   `json:"created"`
	Updated      string   `json:"updated"`
}

// Workload holds per-agent task counters.
type Workload struct {
	ActiveTasks    int `json:"active_tasks"`
	CompletedTasks int `json:"completed_tasks"`
	TotalScore     int `json:"total_score"`
}

// Recommendation is a scored task suggestion.
type Recommendation struct {
	Task   Task   `json:"task"`
	Score  int    `json:"score"`
	Reason string `json:"reason"`
}

// Notification is a message delivered to an agent.
type Notification struct {
	Type       string `json:"type"`
	TaskID     string `json:"task_id"`
	TaskTitle  string `json:"task_title"`
	AssignedBy string `json:"assigned_by"`
	AssignedAt string `json:"assigned_at"`
	Priority   string `json:"priority,omitempty"`
	Message    string `json:"message"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	AgentID    string         `json:"agent_id"`
	Payload    map[string]any `json:"payload"`
}

// Status summarizes project state.
type Status struct {
	Project struct {
		Name         string   `json:"name"`
		CurrentPhase string   `json:"current_phase,omitempty"`
		Phases       []string `json:"phases,omitempty"`
	} `json:"project"`
	Progress struct {
		Total      int `json:"total"`
		Completed  int `json:"completed"`
		InProgress int `json:"in_progress"`
		Todo       int `json:"todo"`
		Percentage int `json:"percentage"`
	} `json:"progress"`
	TaskCounts map[string]int `json:"task_counts"`
	Agents     int            `json:"agents"`
}

// CheckIn bundles an agent's state after a check-in.
type CheckIn struct {
	Agent         Agent          `json:"agent"`
	Tasks         []Task         `json:"tasks"`
	Notifications []Notification `json:"notifications"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps event listings with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateTaskOptions are the optional fields of CreateTask.
type CreateTaskOptions struct {
	Description  string
	Category     string
	Priority     string
	RiskLevel    string
	Phase        string
	Dependencies []string
	Blocks       []string
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, title string, opts CreateTaskOptions) (Task, error) {
	body := map[string]any{"title": title}
	if opts.Description != "" {
		body["description"] = opts.Description
	}
	if opts.Category != "" {
		body["category"] = opts.Category
	}
	if opts.Priority != "" {
		body["priority"] = opts.Priority
	}
	if opts.RiskLevel != "" {
		body["risk_level"] = opts.RiskLevel
	}
	if opts.Phase != "" {
		body["phase"] = opts.Phase
	}
	if len(opts.Dependencies) > 0 {
		body["dependencies"] = opts.Dependencies
	}
	if len(opts.Blocks) > 0 {
		body["blocks"] = opts.Blocks
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "v0/tasks", body, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "v0/tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// TaskFilters narrow ListTasks results. Zero values mean no filter.
type TaskFilters struct {
	Status   string
	Priority string
	Phase    string
	Category string
	AgentID  string
}

// ListTasks lists tasks, optionally filtered.
func (c *Client) ListTasks(ctx context.Context, f TaskFilters) ([]Task, error) {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.Priority != "" {
		q.Set("priority", f.Priority)
	}
	if f.Phase != "" {
		q.Set("phase", f.Phase)
	}
	if f.Category != "" {
		q.Set("category", f.Category)
	}
	if f.AgentID != "" {
		q.Set("agent_id", f.AgentID)
	}
	endpoint := "v0/tasks"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AssignTask assigns a task to an agent.
func (c *Client) AssignTask(ctx context.Context, taskID, agentID string) (Task, error) {
	var resp Task
	endpoint := fmt.Sprintf("v0/tasks/%s/assign", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"agent_id": agentID}, &resp)
	return resp, err
}

// UnassignTask removes an agent from a task.
func (c *Client) UnassignTask(ctx context.Context, taskID, agentID string) (Task, error) {
	var resp Task
	endpoint := fmt.Sprintf("v0/tasks/%s/unassign", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"agent_id": agentID}, &resp)
	return resp, err
}

// TransferTask moves a task from one agent to another.
func (c *Client) TransferTask(ctx context.Context, taskID, fromAgentID, toAgentID string) (Task, error) {
	var resp Task
	endpoint := fmt.Sprintf("v0/tasks/%s/transfer", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{
		"from_agent_id": fromAgentID,
		"to_agent_id":   toAgentID,
	}, &resp)
	return resp, err
}

// StartTask marks a task in-progress as the authenticated agent.
func (c *Client) StartTask(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	endpoint := fmt.Sprintf("v0/tasks/%s/start", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// CompleteTask marks a task completed as the authenticated agent.
func (c *Client) CompleteTask(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	endpoint := fmt.Sprintf("v0/tasks/%s/complete", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// TakeTask self-assigns a task to the authenticated agent.
func (c *Client) TakeTask(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	endpoint := fmt.Sprintf("v0/me/tasks/%s/take", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// RegisterAgentOptions are the optional fields of RegisterAgent.
type RegisterAgentOptions struct {
	ID           string
	Type         string
	Role         string
	Capabilities []string
}

// RegisterAgent registers a new agent.
func (c *Client) RegisterAgent(ctx context.Context, name string, opts RegisterAgentOptions) (Agent, error) {
	body := map[string]any{"name": name}
	if opts.ID != "" {
		body["id"] = opts.ID
	}
	if opts.Type != "" {
		body["type"] = opts.Type
	}
	if opts.Role != "" {
		body["role"] = opts.Role
	}
	if len(opts.Capabilities) > 0 {
		body["capabilities"] = opts.Capabilities
	}
	var resp Agent
	err := c.do(ctx, http.MethodPost, "v0/agents", body, &resp)
	return resp, err
}

// GetAgent fetches an agent by id.
func (c *Client) GetAgent(ctx context.Context, id string) (Agent, error) {
	var resp Agent
	err := c.do(ctx, http.MethodGet, "v0/agents/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListAgents lists all agents.
func (c *Client) ListAgents(ctx context.Context) ([]Agent, error) {
	var resp []Agent
	err := c.do(ctx, http.MethodGet, "v0/agents", nil, &resp)
	return resp, err
}

// Recommend returns scored task suggestions for an agent.
func (c *Client) Recommend(ctx context.Context, agentID string, limit int) ([]Recommendation, error) {
	endpoint := fmt.Sprintf("v0/agents/%s/recommendations", url.PathEscape(agentID))
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Recommendation
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// EligibleTasks lists the tasks an agent could pick up right now.
func (c *Client) EligibleTasks(ctx context.Context, agentID string) ([]Task, error) {
	var resp []Task
	endpoint := fmt.Sprintf("v0/agents/%s/eligible", url.PathEscape(agentID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AgentWorkload returns an agent's workload counters.
func (c *Client) AgentWorkload(ctx context.Context, agentID string) (Workload, error) {
	var resp struct {
		AgentID string `json:"agent_id"`
		Workload
	}
	endpoint := fmt.Sprintf("v0/agents/%s/workload", url.PathEscape(agentID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Workload, err
}

// Notifications lists an agent's pending notifications.
func (c *Client) Notifications(ctx context.Context, agentID string) ([]Notification, error) {
	var resp []Notification
	endpoint := fmt.Sprintf("v0/agents/%s/notifications", url.PathEscape(agentID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ClearNotifications empties an agent's notification queue.
func (c *Client) ClearNotifications(ctx context.Context, agentID string) error {
	endpoint := fmt.Sprintf("v0/agents/%s/notifications", url.PathEscape(agentID))
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
}

// Status returns the project summary.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var resp Status
	err := c.do(ctx, http.MethodGet, "v0/status", nil, &resp)
	return resp, err
}

// CheckIn checks in as the authenticated agent.
func (c *Client) CheckIn(ctx context.Context) (CheckIn, error) {
	var resp CheckIn
	err := c.do(ctx, http.MethodPost, "v0/me/checkin", nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.AgentID != "":
		req.Header.Set("X-Agent-Id", c.AgentID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
