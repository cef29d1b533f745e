package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"crewline/internal/engine"
	"crewline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
	Auth     AuthConfig
}

// state wraps the engine with a mutex. The engine itself is a
// single-writer in-memory structure; the HTTP layer serializes access.
type state struct {
	mu  sync.Mutex
	eng *engine.Engine
}

func (s *state) lock() func() {
	s.mu.Lock()
	return s.mu.Unlock
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"task TASK-042: not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Crewline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	s := &state{eng: cfg.Engine}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Crewline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, s)
	registerTasks(group, s)
	registerAgents(group, s)
	registerEvents(group, s)
	registerMe(group, s)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "already exists"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "not assigned"),
		strings.Contains(lowered, "transition"):
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", msg, nil)
	case strings.Contains(lowered, "invalid") ||
		strings.Contains(lowered, "missing") ||
		strings.Contains(lowered, "required") ||
		strings.Contains(lowered, "cannot"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func bodyBytes(ctx context.Context) []byte {
	if b, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return b
	}
	return nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Crewline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStatus(api huma.API, s *state) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Project status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		defer s.lock()()
		st := s.eng.Status()
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: StatusResponse{
			Project:    st.Project,
			Progress:   st.Progress,
			TaskCounts: st.TaskCounts,
			Agents:     st.Agents,
		}}, nil
	})
}

func registerTasks(api huma.API, s *state) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		agentID, authErr := agentIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		defer s.lock()()
		t, err := s.eng.CreateTask(ctx, engine.TaskCreateOptions{
			Title:        input.Body.Title,
			Description:  stringOrEmpty(input.Body.Description),
			Category:     stringOrEmpty(input.Body.Category),
			Priority:     stringOrEmpty(input.Body.Priority),
			RiskLevel:    stringOrEmpty(input.Body.RiskLevel),
			Phase:        stringOrEmpty(input.Body.Phase),
			Dependencies: input.Body.Dependencies,
			Blocks:       input.Body.Blocks,
			AgentID:      agentID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status"`
		Priority string `query:"priority"`
		Phase    string `query:"phase"`
		Category string `query:"category"`
		AgentID  string `query:"agent_id"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		defer s.lock()()
		tasks := s.eng.ListTasks(engine.TaskFilters{
			Status:   input.Status,
			Priority: input.Priority,
			Phase:    input.Phase,
			Category: input.Category,
			AgentID:  input.AgentID,
		})
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(tasks)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		defer s.lock()()
		t, err := s.eng.GetTask(input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}",
		Summary:     "Update task",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		agentID, authErr := agentIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		defer s.lock()()
		t, err := s.eng.UpdateTask(ctx, engine.TaskUpdateOptions{
			ID:                 input.TaskID,
			Title:              input.Body.Title,
			Description:        input.Body.Description,
			Category:           input.Body.Category,
			Priority:           input.Body.Priority,
			RiskLevel:          input.Body.RiskLevel,
			Phase:              input.Body.Phase,
			Status:             input.Body.Status,
			AddDependencies:    input.Body.AddDependencies,
			RemoveDependencies: input.Body.RemoveDependencies,
			AddBlocks:          input.Body.AddBlocks,
			RemoveBlocks:       input.Body.RemoveBlocks,
			AgentID:            agentID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{task_id}",
		Summary:     "Delete task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct{}, error) {
		agentID, authErr := agentIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		defer s.lock()()
		if err := s.eng.DeleteTask(ctx, input.TaskID, agentID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/assign",
		Summary:     "Assign task to an agent",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   AssignTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if input.Body.AgentID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "agent_id is required", nil)
		}
		actingAgent, authErr := agentIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		defer s.lock()()
		t, err := s.eng.Assign(ctx, input.TaskID, input.Body.AgentID, actingAgent)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unassign-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/unassign",
		Summary:     "Remove an agent from a task",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   AssignTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if input.Body.AgentID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "agent_id is required", nil)
		}
		actingAgent, authErr := agentIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		defer s.lock()()
		t, err := s.eng.Unassign(ctx, input.TaskID, input.Body.AgentID, actingAgent)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transfer-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/transfer",
		Summary:     "Transfer task between agents",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string              `path:"task_id"`
		Body   TransferTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if input.Body.FromAgentID == "" || input.Body.ToAgentID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "from_agent_id and to_agent_id are required", nil)
		}
		actingAgent, authErr := agentIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		defer s.lock()()
		t, err := s.eng.Transfer(ctx, input.TaskID, input.Body.FromAgentID, input.Body.ToAgentID, actingAgent)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/start",
		Summary:     "Start task as the acting agent",
		Errors: []int{
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		agentID, authErr := agentIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		defer s.lock()()
		t, err := s.eng.StartTask(ctx, input.TaskID, agentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/complete",
		Summary:     "Complete task as the acting agent",
		Errors: []int{
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		agentID, authErr := agentIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		defer s.lock()()
		t, err := s.eng.CompleteTask(ctx, input.TaskID, agentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})
}

func registerAgents(api huma.API, s *state) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-agent",
		Method:        http.MethodPost,
		Path:          "/agents",
		Summary:       "Register agent",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body RegisterAgentRequest `json:"body"`
	}) (*struct {
		Body AgentResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		defer s.lock()()
		a, err := s.eng.AddAgent(ctx, engine.AgentAddOptions{
			ID:           stringOrEmpty(input.Body.ID),
			Name:         input.Body.Name,
			Type:         input.Body.Type,
			Role:         stringOrEmpty(input.Body.Role),
			Capabilities: input.Body.Capabilities,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgentResponse `json:"body"`
		}{Body: agentResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "List agents",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []AgentResponse `json:"body"`
	}, error) {
		defer s.lock()()
		return &struct {
			Body []AgentResponse `json:"body"`
		}{Body: mapAgents(s.eng.ListAgents())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-agent",
		Method:      http.MethodGet,
		Path:        "/agents/{agent_id}",
		Summary:     "Get agent",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AgentID string `path:"agent_id"`
	}) (*struct {
		Body AgentResponse `json:"body"`
	}, error) {
		defer s.lock()()
		a, err := s.eng.GetAgent(input.AgentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgentResponse `json:"body"`
		}{Body: agentResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-agent",
		Method:      http.MethodPatch,
		Path:        "/agents/{agent_id}",
		Summary:     "Update agent",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		AgentID string             `path:"agent_id"`
		Body    UpdateAgentRequest `json:"body"`
	}) (*struct {
		Body AgentResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		defer s.lock()()
		opts := engine.AgentUpdateOptions{
			ID:     input.AgentID,
			Name:   input.Body.Name,
			Role:   input.Body.Role,
			Status: input.Body.Status,
		}
		if input.Body.Capabilities != nil {
			opts.Capabilities = *input.Body.Capabilities
			opts.CapabilitiesSet = true
		}
		a, err := s.eng.UpdateAgent(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgentResponse `json:"body"`
		}{Body: agentResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-agent",
		Method:      http.MethodDelete,
		Path:        "/agents/{agent_id}",
		Summary:     "Remove agent",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AgentID string `path:"agent_id"`
	}) (*struct{}, error) {
		actingAgent, authErr := agentIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		defer s.lock()()
		if err := s.eng.RemoveAgent(ctx, input.AgentID, actingAgent); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "agent-recommendations",
		Method:      http.MethodGet,
		Path:        "/agents/{agent_id}/recommendations",
		Summary:     "Recommend tasks for an agent",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AgentID string `path:"agent_id"`
		Limit   int    `query:"limit"`
	}) (*struct {
		Body []RecommendationResponse `json:"body"`
	}, error) {
		defer s.lock()()
		recs, err := s.eng.Recommend(ctx, input.AgentID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []RecommendationResponse `json:"body"`
		}{Body: mapRecommendations(recs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "agent-eligible-tasks",
		Method:      http.MethodGet,
		Path:        "/agents/{agent_id}/eligible",
		Summary:     "List tasks the agent could pick up",
	}, func(ctx context.Context, input *struct {
		AgentID string `path:"agent_id"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		defer s.lock()()
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(s.eng.EligibleTasks(input.AgentID))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "agent-workload",
		Method:      http.MethodGet,
		Path:        "/agents/{agent_id}/workload",
		Summary:     "Agent workload counters",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AgentID string `path:"agent_id"`
	}) (*struct {
		Body domainWorkloadBody `json:"body"`
	}, error) {
		defer s.lock()()
		wl, err := s.eng.AgentWorkload(input.AgentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domainWorkloadBody `json:"body"`
		}{Body: domainWorkloadBody{
			AgentID:        input.AgentID,
			ActiveTasks:    wl.ActiveTasks,
			CompletedTasks: wl.CompletedTasks,
			TotalScore:     wl.TotalScore,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "agent-notifications",
		Method:      http.MethodGet,
		Path:        "/agents/{agent_id}/notifications",
		Summary:     "Pending notifications for an agent",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AgentID string `path:"agent_id"`
	}) (*struct {
		Body []NotificationResponse `json:"body"`
	}, error) {
		defer s.lock()()
		notes, err := s.eng.Notifications(input.AgentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []NotificationResponse `json:"body"`
		}{Body: mapNotifications(notes)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "clear-agent-notifications",
		Method:      http.MethodDelete,
		Path:        "/agents/{agent_id}/notifications",
		Summary:     "Clear an agent's notifications",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AgentID string `path:"agent_id"`
	}) (*struct{}, error) {
		defer s.lock()()
		if err := s.eng.ClearNotifications(ctx, input.AgentID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

type domainWorkloadBody struct {
	AgentID        string `json:"agent_id"`
	ActiveTasks    int    `json:"active_tasks"`
	CompletedTasks int    `json:"completed_tasks"`
	TotalScore     int    `json:"total_score"`
}

func registerEvents(api huma.API, s *state) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List audit events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		AgentID    string `query:"agent_id"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if s.eng.Repo.DB == nil {
			return nil, newAPIError(http.StatusNotFound, "not_found", "event log not available", nil)
		}
		limit := input.Limit
		if limit <= 0 || limit > 200 {
			limit = 50
		}
		var cursor int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil || parsed < 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", nil)
			}
			cursor = parsed
		}
		filters := repo.EventFilters{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			AgentID:    input.AgentID,
		}
		events, err := s.eng.Repo.LatestEventsFrom(ctx, limit+1, cursor, filters)
		if err != nil {
			return nil, handleError(err)
		}
		next := ""
		if len(events) > limit {
			events = events[:limit]
			next = strconv.FormatInt(events[len(events)-1].ID, 10)
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: paginatedEvents{Items: mapEvents(events), NextCursor: next}}, nil
	})
}

func registerMe(api huma.API, s *state) {
	huma.Register(api, huma.Operation{
		OperationID: "me-tasks",
		Method:      http.MethodGet,
		Path:        "/me/tasks",
		Summary:     "Tasks assigned to the acting agent",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		agentID, authErr := agentIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		defer s.lock()()
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(s.eng.ListTasks(engine.TaskFilters{AgentID: agentID}))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me-recommendations",
		Method:      http.MethodGet,
		Path:        "/me/recommendations",
		Summary:     "Recommendations for the acting agent",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit"`
	}) (*struct {
		Body []RecommendationResponse `json:"body"`
	}, error) {
		agentID, authErr := agentIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		defer s.lock()()
		recs, err := s.eng.Recommend(ctx, agentID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []RecommendationResponse `json:"body"`
		}{Body: mapRecommendations(recs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me-eligible-tasks",
		Method:      http.MethodGet,
		Path:        "/me/eligible",
		Summary:     "Eligible tasks for the acting agent",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		agentID, authErr := agentIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		defer s.lock()()
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(s.eng.EligibleTasks(agentID))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me-checkin",
		Method:      http.MethodPost,
		Path:        "/me/checkin",
		Summary:     "Check in as the acting agent",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body CheckInResponse `json:"body"`
	}, error) {
		agentID, authErr := agentIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		defer s.lock()()
		sum, err := s.eng.CheckIn(ctx, agentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CheckInResponse `json:"body"`
		}{Body: CheckInResponse{
			Agent:         agentResponse(sum.Agent),
			Tasks:         mapTasks(sum.Tasks),
			Notifications: mapNotifications(sum.Notifications),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me-workload",
		Method:      http.MethodGet,
		Path:        "/me/workload",
		Summary:     "Workload counters for the acting agent",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domainWorkloadBody `json:"body"`
	}, error) {
		agentID, authErr := agentIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		defer s.lock()()
		wl, err := s.eng.AgentWorkload(agentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domainWorkloadBody `json:"body"`
		}{Body: domainWorkloadBody{
			AgentID:        agentID,
			ActiveTasks:    wl.ActiveTasks,
			CompletedTasks: wl.CompletedTasks,
			TotalScore:     wl.TotalScore,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me-start-task",
		Method:      http.MethodPost,
		Path:        "/me/tasks/{task_id}/start",
		Summary:     "Start a task as the acting agent",
		Errors: []int{
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		agentID, authErr := agentIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		defer s.lock()()
		t, err := s.eng.StartTask(ctx, input.TaskID, agentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me-complete-task",
		Method:      http.MethodPost,
		Path:        "/me/tasks/{task_id}/complete",
		Summary:     "Complete a task as the acting agent",
		Errors: []int{
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		agentID, authErr := agentIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		defer s.lock()()
		t, err := s.eng.CompleteTask(ctx, input.TaskID, agentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me-take-task",
		Method:      http.MethodPost,
		Path:        "/me/tasks/{task_id}/take",
		Summary:     "Self-assign a task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		agentID, authErr := agentIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		defer s.lock()()
		t, err := s.eng.Assign(ctx, input.TaskID, agentID, agentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})
}
