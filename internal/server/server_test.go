package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"crewline/internal/config"
	"crewline/internal/db"
	"crewline/internal/engine"
	"crewline/internal/migrate"
	"crewline/internal/store"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	fs, err := store.NewFileStore(workspace)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("crewline")
	cfg.Project.CurrentPhase = "build"
	cfg.Project.Phases = []string{"plan", "build"}
	eng, err := engine.New(fs, conn, cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	handler, err := New(Config{
		Engine:   eng,
		BasePath: "/v0",
		Auth:     AuthConfig{AllowLegacyAgentHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asAgent(id string) map[string]string {
	return map[string]string{"X-Agent-Id": id}
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/agents", map[string]any{
		"id":   "alice",
		"name": "Alice",
		"type": "human",
	}, asAgent("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register agent: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title":    "Ship feature",
		"priority": "high",
	}, asAgent("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task: %d %s", res.StatusCode, string(data))
	}
	var created TaskResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if created.ID == "" || created.Status != "todo" {
		t.Fatalf("unexpected created task: %+v", created)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+created.ID+"/assign", map[string]any{
		"agent_id": "alice",
	}, asAgent("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("assign: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+created.ID+"/start", nil, asAgent("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+created.ID+"/complete", nil, asAgent("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete: %d %s", res.StatusCode, string(data))
	}
	var done TaskResponse
	if err := json.Unmarshal(data, &done); err != nil {
		t.Fatalf("unmarshal done: %v", err)
	}
	if done.Status != "completed" || done.Completed == nil {
		t.Fatalf("expected completed task, got %+v", done)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/status", nil, asAgent("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status: %d %s", res.StatusCode, string(data))
	}
	var status StatusResponse
	if err := json.Unmarshal(data, &status); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if status.Progress.Completed != 1 || status.Progress.Total != 1 {
		t.Fatalf("unexpected progress: %+v", status.Progress)
	}
}

func TestCompleteByNonAssigneeIsRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	for _, id := range []string{"alice", "bob"} {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/agents", map[string]any{
			"id":   id,
			"name": id,
		}, asAgent(id))
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("register %s: %d %s", id, res.StatusCode, string(data))
		}
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title": "Guarded",
	}, asAgent("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task: %d %s", res.StatusCode, string(data))
	}
	var created TaskResponse
	_ = json.Unmarshal(data, &created)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+created.ID+"/assign", map[string]any{
		"agent_id": "alice",
	}, asAgent("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("assign: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+created.ID+"/complete", nil, asAgent("bob"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "validation_failed" {
		t.Fatalf("expected validation_failed code, got %q", envelope.Error.Code)
	}
}

func TestRecommendationsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/agents", map[string]any{
		"id":   "alice",
		"name": "Alice",
	}, asAgent("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register agent: %d %s", res.StatusCode, string(data))
	}
	for _, title := range []string{"one", "two", "three", "four"} {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
			"title": title,
		}, asAgent("alice"))
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create %s: %d %s", title, res.StatusCode, string(data))
		}
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/agents/alice/recommendations?limit=2", nil, asAgent("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("recommendations: %d %s", res.StatusCode, string(data))
	}
	var recs []RecommendationResponse
	if err := json.Unmarshal(data, &recs); err != nil {
		t.Fatalf("unmarshal recommendations: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 recommendations, got %d", len(recs))
	}
	if recs[0].Score == 0 || recs[0].Reason == "" {
		t.Fatalf("unexpected recommendation: %+v", recs[0])
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/agents/ghost/recommendations", nil, asAgent("alice"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown agent, got %d %s", res.StatusCode, string(data))
	}
}

func TestUnauthorizedWithoutCredentials(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}

	// Health stays open.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", res.StatusCode, string(data))
	}
}

func TestEventsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/agents", map[string]any{
		"id":   "alice",
		"name": "Alice",
	}, asAgent("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register agent: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title": "Tracked",
	}, asAgent("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?type=task.created", nil, asAgent("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, string(data))
	}
	var page paginatedEvents
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Type != "task.created" {
		t.Fatalf("unexpected events: %+v", page.Items)
	}
}
