package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"crewline/internal/config"
	"crewline/internal/domain"
	"crewline/internal/repo"
	"crewline/internal/store"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	fs, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	cfg := config.Default("demo")
	cfg.Project.CurrentPhase = "build"
	cfg.Project.Phases = []string{"plan", "build", "ship"}
	eng, err := New(fs, nil, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	eng.Now = func() time.Time {
		return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	}
	return eng
}

func addAgent(t *testing.T, eng *Engine, id, agentType string, caps ...string) domain.Agent {
	t.Helper()
	a, err := eng.AddAgent(context.Background(), AgentAddOptions{
		ID:           id,
		Name:         id,
		Type:         agentType,
		Capabilities: caps,
	})
	if err != nil {
		t.Fatalf("AddAgent %s: %v", id, err)
	}
	return a
}

func createTask(t *testing.T, eng *Engine, opts TaskCreateOptions) domain.Task {
	t.Helper()
	task, err := eng.CreateTask(context.Background(), opts)
	if err != nil {
		t.Fatalf("CreateTask %q: %v", opts.Title, err)
	}
	return task
}

func TestCreateTaskDefaultsAndIDs(t *testing.T) {
	eng := newTestEngine(t)
	first := createTask(t, eng, TaskCreateOptions{Title: "first"})
	if first.ID != "TASK-001" {
		t.Fatalf("expected TASK-001, got %s", first.ID)
	}
	if first.Status != domain.StatusTodo || first.Priority != domain.PriorityMedium || first.RiskLevel != domain.RiskMedium {
		t.Fatalf("unexpected defaults: %+v", first)
	}
	if first.Phase != "build" {
		t.Fatalf("expected current phase default, got %q", first.Phase)
	}
	second := createTask(t, eng, TaskCreateOptions{Title: "second"})
	if second.ID != "TASK-002" {
		t.Fatalf("expected TASK-002, got %s", second.ID)
	}
	// Deleting the highest id leaves a reusable slot at the top.
	if err := eng.DeleteTask(context.Background(), second.ID, ""); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	third := createTask(t, eng, TaskCreateOptions{Title: "third"})
	if third.ID != "TASK-002" {
		t.Fatalf("expected TASK-002 after delete, got %s", third.ID)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	eng := newTestEngine(t)
	if _, err := eng.CreateTask(context.Background(), TaskCreateOptions{Title: "  "}); err == nil {
		t.Fatal("expected error for blank title")
	}
	if _, err := eng.CreateTask(context.Background(), TaskCreateOptions{Title: "x", Priority: "urgent"}); err == nil {
		t.Fatal("expected error for unknown priority")
	}
	if _, err := eng.CreateTask(context.Background(), TaskCreateOptions{Title: "x", RiskLevel: "extreme"}); err == nil {
		t.Fatal("expected error for unknown risk level")
	}
}

func TestAssignIsIdempotent(t *testing.T) {
	eng := newTestEngine(t)
	addAgent(t, eng, "alice", domain.AgentTypeHuman)
	task := createTask(t, eng, TaskCreateOptions{Title: "wire router"})

	got, err := eng.Assign(context.Background(), task.ID, "alice", "alice")
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if len(got.Assignees) != 1 {
		t.Fatalf("expected 1 assignee, got %d", len(got.Assignees))
	}
	again, err := eng.Assign(context.Background(), task.ID, "alice", "alice")
	if err != nil {
		t.Fatalf("re-Assign: %v", err)
	}
	if len(again.Assignees) != 1 {
		t.Fatalf("re-assign duplicated assignee: %d", len(again.Assignees))
	}
	notes, err := eng.Notifications("alice")
	if err != nil {
		t.Fatalf("Notifications: %v", err)
	}
	if len(notes) != 1 {
		t.Fatalf("re-assign should not re-notify, got %d notifications", len(notes))
	}
}

func TestAssignNotifiesAllAssignees(t *testing.T) {
	eng := newTestEngine(t)
	addAgent(t, eng, "alice", domain.AgentTypeHuman)
	addAgent(t, eng, "bob", domain.AgentTypeHuman)
	task := createTask(t, eng, TaskCreateOptions{Title: "pair work"})

	if _, err := eng.Assign(context.Background(), task.ID, "alice", "lead"); err != nil {
		t.Fatalf("Assign alice: %v", err)
	}
	if _, err := eng.Assign(context.Background(), task.ID, "bob", "lead"); err != nil {
		t.Fatalf("Assign bob: %v", err)
	}
	aliceNotes, _ := eng.Notifications("alice")
	if len(aliceNotes) != 2 {
		t.Fatalf("alice should hear about both assignments, got %d", len(aliceNotes))
	}
	bobNotes, _ := eng.Notifications("bob")
	if len(bobNotes) != 1 {
		t.Fatalf("bob should hear about his own assignment, got %d", len(bobNotes))
	}
	if bobNotes[0].AssignedBy != "lead" || bobNotes[0].TaskID != task.ID {
		t.Fatalf("unexpected notification: %+v", bobNotes[0])
	}
}

func TestUnassignMissingAgentIsNoop(t *testing.T) {
	eng := newTestEngine(t)
	addAgent(t, eng, "alice", domain.AgentTypeHuman)
	task := createTask(t, eng, TaskCreateOptions{Title: "solo"})
	if _, err := eng.Assign(context.Background(), task.ID, "alice", "alice"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	got, err := eng.Unassign(context.Background(), task.ID, "nobody", "alice")
	if err != nil {
		t.Fatalf("Unassign: %v", err)
	}
	if len(got.Assignees) != 1 {
		t.Fatalf("no-op unassign changed assignees: %d", len(got.Assignees))
	}
}

func TestStartAndCompleteRequireAssignment(t *testing.T) {
	eng := newTestEngine(t)
	addAgent(t, eng, "alice", domain.AgentTypeHuman)
	addAgent(t, eng, "bob", domain.AgentTypeHuman)
	task := createTask(t, eng, TaskCreateOptions{Title: "guarded"})

	if _, err := eng.StartTask(context.Background(), task.ID, "bob"); err == nil {
		t.Fatal("start by non-assignee should fail")
	}
	if _, err := eng.Assign(context.Background(), task.ID, "alice", "alice"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	started, err := eng.StartTask(context.Background(), task.ID, "alice")
	if err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	if started.Status != domain.StatusInProgress {
		t.Fatalf("expected in-progress, got %s", started.Status)
	}
	if _, err := eng.CompleteTask(context.Background(), task.ID, "bob"); err == nil {
		t.Fatal("complete by non-assignee should fail")
	}
	got, _ := eng.GetTask(task.ID)
	if got.Status != domain.StatusInProgress {
		t.Fatalf("failed complete mutated status to %s", got.Status)
	}
	done, err := eng.CompleteTask(context.Background(), task.ID, "alice")
	if err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	if done.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}
	if done.Completed == nil || *done.Completed == "" {
		t.Fatal("completion timestamp not set")
	}
}

func TestStrictTransitions(t *testing.T) {
	eng := newTestEngine(t)
	eng.Config.Tasks.StrictTransitions = true
	addAgent(t, eng, "alice", domain.AgentTypeHuman)
	task := createTask(t, eng, TaskCreateOptions{Title: "strict"})
	if _, err := eng.Assign(context.Background(), task.ID, "alice", "alice"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	// todo -> completed skips in-progress and must be rejected.
	if _, err := eng.CompleteTask(context.Background(), task.ID, "alice"); err == nil {
		t.Fatal("todo -> completed should fail under strict transitions")
	}
	if _, err := eng.StartTask(context.Background(), task.ID, "alice"); err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	if _, err := eng.CompleteTask(context.Background(), task.ID, "alice"); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	// Cancellation is always allowed.
	other := createTask(t, eng, TaskCreateOptions{Title: "doomed"})
	status := domain.StatusCancelled
	if _, err := eng.UpdateTask(context.Background(), TaskUpdateOptions{ID: other.ID, Status: &status}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
}

func TestEligibilityDependencyGate(t *testing.T) {
	eng := newTestEngine(t)
	addAgent(t, eng, "alice", domain.AgentTypeHuman)
	dep := createTask(t, eng, TaskCreateOptions{Title: "dep"})
	blocked := createTask(t, eng, TaskCreateOptions{Title: "needs dep", Dependencies: []string{dep.ID}})
	dangling := createTask(t, eng, TaskCreateOptions{Title: "bad edge", Dependencies: []string{"TASK-999"}})

	ids := taskIDs(eng.EligibleTasks("alice"))
	if ids[blocked.ID] {
		t.Fatal("task with incomplete dependency should not be eligible")
	}
	if ids[dangling.ID] {
		t.Fatal("task with missing dependency id should not be eligible")
	}
	if !ids[dep.ID] {
		t.Fatal("dependency-free task should be eligible")
	}

	if _, err := eng.Assign(context.Background(), dep.ID, "alice", "alice"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if _, err := eng.StartTask(context.Background(), dep.ID, "alice"); err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	if _, err := eng.CompleteTask(context.Background(), dep.ID, "alice"); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	ids = taskIDs(eng.EligibleTasks("alice"))
	if !ids[blocked.ID] {
		t.Fatal("task should become eligible once its dependency completes")
	}
}

func TestEligibilityExcludesAssignedAndDoneTasks(t *testing.T) {
	eng := newTestEngine(t)
	addAgent(t, eng, "alice", domain.AgentTypeHuman)
	mine := createTask(t, eng, TaskCreateOptions{Title: "mine"})
	open := createTask(t, eng, TaskCreateOptions{Title: "open"})
	if _, err := eng.Assign(context.Background(), mine.ID, "alice", "alice"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	inReview := createTask(t, eng, TaskCreateOptions{Title: "review"})
	status := domain.StatusReview
	if _, err := eng.UpdateTask(context.Background(), TaskUpdateOptions{ID: inReview.ID, Status: &status}); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	ids := taskIDs(eng.EligibleTasks("alice"))
	if ids[mine.ID] {
		t.Fatal("already-assigned task should not be eligible")
	}
	if ids[inReview.ID] {
		t.Fatal("review task should not be eligible")
	}
	if !ids[open.ID] {
		t.Fatal("open todo task should be eligible")
	}
}

func TestEligibilityCapabilityGate(t *testing.T) {
	eng := newTestEngine(t)
	addAgent(t, eng, "tester", domain.AgentTypeAI, "testing")
	addAgent(t, eng, "blank-ai", domain.AgentTypeAI)
	addAgent(t, eng, "human", domain.AgentTypeHuman)
	coding := createTask(t, eng, TaskCreateOptions{Title: "implement parser", Category: "coding"})
	uncat := createTask(t, eng, TaskCreateOptions{Title: "misc", Category: "ops"})

	if taskIDs(eng.EligibleTasks("tester"))[coding.ID] {
		t.Fatal("ai agent without coding capability should not see coding task")
	}
	if !taskIDs(eng.EligibleTasks("tester"))[uncat.ID] {
		t.Fatal("unmapped category should bypass the capability gate")
	}
	if !taskIDs(eng.EligibleTasks("blank-ai"))[coding.ID] {
		t.Fatal("ai agent with no declared capabilities should see everything")
	}
	if !taskIDs(eng.EligibleTasks("human"))[coding.ID] {
		t.Fatal("human agent should bypass the capability gate")
	}
}

func TestUnknownAgentAsymmetry(t *testing.T) {
	eng := newTestEngine(t)
	createTask(t, eng, TaskCreateOptions{Title: "anything"})
	if got := eng.EligibleTasks("ghost"); len(got) != 0 {
		t.Fatalf("unknown agent should get empty eligible set, got %d", len(got))
	}
	if _, err := eng.Recommend(context.Background(), "ghost", 0); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not-found from Recommend, got %v", err)
	}
}

func TestScoreComponents(t *testing.T) {
	eng := newTestEngine(t)
	task := domain.Task{
		Priority:  domain.PriorityHigh,
		RiskLevel: domain.RiskMedium,
		Phase:     "build",
	}
	total, b := eng.ScoreTask(task)
	if total != 23 {
		t.Fatalf("expected 7+1+5+10=23, got %d (%+v)", total, b)
	}
	again, _ := eng.ScoreTask(task)
	if again != total {
		t.Fatalf("score not deterministic: %d vs %d", again, total)
	}

	task.Blocks = []string{"TASK-009"}
	total, b = eng.ScoreTask(task)
	if b.Blocking != 8 || total != 30 {
		t.Fatalf("expected blocking bonus, got %d (%+v)", total, b)
	}

	offPhase := domain.Task{Priority: domain.PriorityLow, RiskLevel: domain.RiskLow, Phase: "ship"}
	total, b = eng.ScoreTask(offPhase)
	if b.Phase != 3 || total != 8 {
		t.Fatalf("expected off-phase score 8, got %d (%+v)", total, b)
	}

	unknown := domain.Task{Priority: "someday", RiskLevel: "weird"}
	_, b = eng.ScoreTask(unknown)
	if b.Priority != 5 || b.Risk != 5 {
		t.Fatalf("unknown keys should fall back to medium, got %+v", b)
	}
}

func TestScorePhaseMatchWithEmptyPhases(t *testing.T) {
	fs, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	// Default config has no current phase; a task with no phase still
	// matches by plain equality.
	eng, err := New(fs, nil, config.Default("demo"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	total, b := eng.ScoreTask(domain.Task{
		Priority:  domain.PriorityHigh,
		RiskLevel: domain.RiskMedium,
	})
	if b.Phase != 10 {
		t.Fatalf("empty phase should match empty current phase, got %+v", b)
	}
	if total != 23 {
		t.Fatalf("expected 7+1+5+10=23, got %d (%+v)", total, b)
	}
}

func TestUpdateAgentRenameKeepsAssigneeSnapshot(t *testing.T) {
	eng := newTestEngine(t)
	addAgent(t, eng, "alice", domain.AgentTypeHuman)
	task := createTask(t, eng, TaskCreateOptions{Title: "snapshot"})
	if _, err := eng.Assign(context.Background(), task.ID, "alice", "alice"); err != nil {
		t.Fatalf("Assign: %v", err)
	}

	newName := "Alice Cooper"
	renamed, err := eng.UpdateAgent(context.Background(), AgentUpdateOptions{ID: "alice", Name: &newName})
	if err != nil {
		t.Fatalf("UpdateAgent: %v", err)
	}
	if renamed.Name != newName {
		t.Fatalf("agent rename did not apply: %q", renamed.Name)
	}

	// Assignee entries are snapshots taken at assignment time; the
	// rename does not rewrite them.
	got, err := eng.GetTask(task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if len(got.Assignees) != 1 || got.Assignees[0].Name != "alice" {
		t.Fatalf("expected stale assignee snapshot, got %+v", got.Assignees)
	}
}

func TestRecommendOrderingAndLimit(t *testing.T) {
	eng := newTestEngine(t)
	addAgent(t, eng, "alice", domain.AgentTypeHuman)
	low := createTask(t, eng, TaskCreateOptions{Title: "low", Priority: domain.PriorityLow})
	crit := createTask(t, eng, TaskCreateOptions{Title: "crit", Priority: domain.PriorityCritical})
	createTask(t, eng, TaskCreateOptions{Title: "med-a"})
	createTask(t, eng, TaskCreateOptions{Title: "med-b"})
	createTask(t, eng, TaskCreateOptions{Title: "med-c"})

	recs, err := eng.Recommend(context.Background(), "alice", 0)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected default limit 3, got %d", len(recs))
	}
	if recs[0].Task.ID != crit.ID {
		t.Fatalf("critical task should rank first, got %s", recs[0].Task.ID)
	}
	for _, r := range recs {
		if r.Task.ID == low.ID {
			t.Fatal("low priority task should be squeezed out by the limit")
		}
	}
	// Equal scores keep document order.
	if recs[1].Task.Title != "med-a" || recs[2].Task.Title != "med-b" {
		t.Fatalf("tie order unstable: %s, %s", recs[1].Task.Title, recs[2].Task.Title)
	}
	// Winning scores are cached on the tasks.
	got, _ := eng.GetTask(crit.ID)
	if got.RecommendationScore != recs[0].Score {
		t.Fatalf("score cache not persisted: %d vs %d", got.RecommendationScore, recs[0].Score)
	}
	// So are the scores of eligible tasks squeezed out by the limit.
	squeezed, _ := eng.GetTask(low.ID)
	if squeezed.RecommendationScore != 18 {
		t.Fatalf("expected cached score 2+1+5+10=18 for the squeezed-out task, got %d", squeezed.RecommendationScore)
	}
}

func TestRecommendHistoryBounded(t *testing.T) {
	eng := newTestEngine(t)
	eng.Config.Recommendations.HistoryLimit = 5
	addAgent(t, eng, "alice", domain.AgentTypeHuman)
	createTask(t, eng, TaskCreateOptions{Title: "work"})

	for i := 0; i < 8; i++ {
		if _, err := eng.Recommend(context.Background(), "alice", 0); err != nil {
			t.Fatalf("Recommend run %d: %v", i, err)
		}
	}
	a, _ := eng.GetAgent("alice")
	if len(a.RecommendationHistory) != 5 {
		t.Fatalf("history should cap at 5, got %d", len(a.RecommendationHistory))
	}
	last := a.RecommendationHistory[len(a.RecommendationHistory)-1]
	if last.AlgorithmVersion != algorithmVersion || len(last.Recommendations) != 1 {
		t.Fatalf("unexpected history record: %+v", last)
	}
	if last.Recommendations[0].Selected {
		t.Fatal("recommendations start unselected")
	}
}

func TestWorkloadRecompute(t *testing.T) {
	eng := newTestEngine(t)
	addAgent(t, eng, "alice", domain.AgentTypeHuman)
	task := createTask(t, eng, TaskCreateOptions{Title: "tracked", Priority: domain.PriorityHigh})
	if _, err := eng.Recommend(context.Background(), "alice", 0); err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if _, err := eng.Assign(context.Background(), task.ID, "alice", "alice"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	wl, err := eng.AgentWorkload("alice")
	if err != nil {
		t.Fatalf("AgentWorkload: %v", err)
	}
	if wl.ActiveTasks != 1 || wl.CompletedTasks != 0 {
		t.Fatalf("expected one active task, got %+v", wl)
	}
	if wl.TotalScore == 0 {
		t.Fatal("active workload should accumulate the cached score")
	}
	if _, err := eng.StartTask(context.Background(), task.ID, "alice"); err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	if _, err := eng.CompleteTask(context.Background(), task.ID, "alice"); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	wl, _ = eng.AgentWorkload("alice")
	if wl.ActiveTasks != 0 || wl.CompletedTasks != 1 || wl.TotalScore != 0 {
		t.Fatalf("expected completed workload, got %+v", wl)
	}
}

func TestBlockedTasksCountTowardNeither(t *testing.T) {
	eng := newTestEngine(t)
	addAgent(t, eng, "alice", domain.AgentTypeHuman)
	task := createTask(t, eng, TaskCreateOptions{Title: "stuck"})
	if _, err := eng.Assign(context.Background(), task.ID, "alice", "alice"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	status := domain.StatusBlocked
	if _, err := eng.UpdateTask(context.Background(), TaskUpdateOptions{ID: task.ID, Status: &status}); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	wl, _ := eng.AgentWorkload("alice")
	if wl.ActiveTasks != 0 || wl.CompletedTasks != 0 {
		t.Fatalf("blocked task should count toward neither bucket, got %+v", wl)
	}
}

func TestDeleteTaskCascadesEdges(t *testing.T) {
	eng := newTestEngine(t)
	a := createTask(t, eng, TaskCreateOptions{Title: "a"})
	b := createTask(t, eng, TaskCreateOptions{Title: "b", Dependencies: []string{a.ID}})
	c := createTask(t, eng, TaskCreateOptions{Title: "c", Blocks: []string{a.ID}})

	if err := eng.DeleteTask(context.Background(), a.ID, ""); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	gotB, _ := eng.GetTask(b.ID)
	if len(gotB.Dependencies) != 0 {
		t.Fatalf("dangling dependency left behind: %v", gotB.Dependencies)
	}
	gotC, _ := eng.GetTask(c.ID)
	if len(gotC.Blocks) != 0 {
		t.Fatalf("dangling blocks edge left behind: %v", gotC.Blocks)
	}
}

func TestRemoveAgentCascadesAssignees(t *testing.T) {
	eng := newTestEngine(t)
	addAgent(t, eng, "alice", domain.AgentTypeHuman)
	addAgent(t, eng, "bob", domain.AgentTypeHuman)
	task := createTask(t, eng, TaskCreateOptions{Title: "shared"})
	if _, err := eng.Assign(context.Background(), task.ID, "alice", "alice"); err != nil {
		t.Fatalf("Assign alice: %v", err)
	}
	if _, err := eng.Assign(context.Background(), task.ID, "bob", "bob"); err != nil {
		t.Fatalf("Assign bob: %v", err)
	}
	if err := eng.RemoveAgent(context.Background(), "alice", ""); err != nil {
		t.Fatalf("RemoveAgent: %v", err)
	}
	got, _ := eng.GetTask(task.ID)
	if len(got.Assignees) != 1 || got.Assignees[0].ID != "bob" {
		t.Fatalf("expected only bob left, got %+v", got.Assignees)
	}
	if _, err := eng.GetAgent("alice"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not-found for removed agent, got %v", err)
	}
}

func TestTransfer(t *testing.T) {
	eng := newTestEngine(t)
	addAgent(t, eng, "alice", domain.AgentTypeHuman)
	addAgent(t, eng, "bob", domain.AgentTypeHuman)
	task := createTask(t, eng, TaskCreateOptions{Title: "handoff"})
	if _, err := eng.Assign(context.Background(), task.ID, "alice", "alice"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	got, err := eng.Transfer(context.Background(), task.ID, "alice", "bob", "alice")
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if len(got.Assignees) != 1 || got.Assignees[0].ID != "bob" {
		t.Fatalf("expected bob after transfer, got %+v", got.Assignees)
	}
	if _, err := eng.Transfer(context.Background(), task.ID, "bob", "ghost", "bob"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("transfer to unknown agent should fail, got %v", err)
	}
	// Precondition failure must leave the assignment intact.
	got, _ = eng.GetTask(task.ID)
	if len(got.Assignees) != 1 || got.Assignees[0].ID != "bob" {
		t.Fatalf("failed transfer mutated assignees: %+v", got.Assignees)
	}
}

func TestProgressCounters(t *testing.T) {
	eng := newTestEngine(t)
	addAgent(t, eng, "alice", domain.AgentTypeHuman)
	done := createTask(t, eng, TaskCreateOptions{Title: "done"})
	createTask(t, eng, TaskCreateOptions{Title: "open"})
	createTask(t, eng, TaskCreateOptions{Title: "open too"})
	if _, err := eng.Assign(context.Background(), done.ID, "alice", "alice"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if _, err := eng.StartTask(context.Background(), done.ID, "alice"); err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	if _, err := eng.CompleteTask(context.Background(), done.ID, "alice"); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	p := eng.Progress()
	if p.Total != 3 || p.Completed != 1 || p.Todo != 2 || p.InProgress != 0 {
		t.Fatalf("unexpected progress: %+v", p)
	}
	if p.Percentage != 33 {
		t.Fatalf("expected 33%%, got %d", p.Percentage)
	}
}

func TestStatePersistsAcrossEngines(t *testing.T) {
	fs, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	cfg := config.Default("demo")
	eng, err := New(fs, nil, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	addAgent(t, eng, "alice", domain.AgentTypeHuman)
	task := createTask(t, eng, TaskCreateOptions{Title: "durable"})
	if _, err := eng.Assign(context.Background(), task.ID, "alice", "alice"); err != nil {
		t.Fatalf("Assign: %v", err)
	}

	reopened, err := New(fs, nil, cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.GetTask(task.ID)
	if err != nil {
		t.Fatalf("GetTask after reopen: %v", err)
	}
	if len(got.Assignees) != 1 || got.Assignees[0].ID != "alice" {
		t.Fatalf("assignment did not survive reload: %+v", got.Assignees)
	}
	if _, err := reopened.GetAgent("alice"); err != nil {
		t.Fatalf("GetAgent after reopen: %v", err)
	}
}

func TestAutosaveOffRequiresFlush(t *testing.T) {
	fs, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	cfg := config.Default("demo")
	eng, err := New(fs, nil, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	eng.Autosave = false
	createTask(t, eng, TaskCreateOptions{Title: "buffered"})

	before, err := New(fs, nil, cfg)
	if err != nil {
		t.Fatalf("reopen before flush: %v", err)
	}
	if got := before.ListTasks(TaskFilters{}); len(got) != 0 {
		t.Fatalf("unflushed task leaked to disk: %d", len(got))
	}
	if err := eng.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	after, err := New(fs, nil, cfg)
	if err != nil {
		t.Fatalf("reopen after flush: %v", err)
	}
	if got := after.ListTasks(TaskFilters{}); len(got) != 1 {
		t.Fatalf("expected 1 task after flush, got %d", len(got))
	}
}

func TestCheckIn(t *testing.T) {
	eng := newTestEngine(t)
	addAgent(t, eng, "alice", domain.AgentTypeHuman)
	task := createTask(t, eng, TaskCreateOptions{Title: "current"})
	if _, err := eng.Assign(context.Background(), task.ID, "alice", "lead"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	sum, err := eng.CheckIn(context.Background(), "alice")
	if err != nil {
		t.Fatalf("CheckIn: %v", err)
	}
	if sum.Agent.ID != "alice" || len(sum.Tasks) != 1 || len(sum.Notifications) != 1 {
		t.Fatalf("unexpected check-in summary: %+v", sum)
	}
	if err := eng.ClearNotifications(context.Background(), "alice"); err != nil {
		t.Fatalf("ClearNotifications: %v", err)
	}
	notes, _ := eng.Notifications("alice")
	if len(notes) != 0 {
		t.Fatalf("notifications not cleared: %d", len(notes))
	}
}

func taskIDs(tasks []domain.Task) map[string]bool {
	out := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		out[t.ID] = true
	}
	return out
}
