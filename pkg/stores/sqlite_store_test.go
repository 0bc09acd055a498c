package stores

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cocinero/cocinero/pkg/engine"
	"github.com/cocinero/cocinero/pkg/telemetry"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := Open(context.Background(), MemoryPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: MemoryPath})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("health check should fail before Init")
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"runs", "actions", "events"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// a second migration is a no-op
	if err := store.Migrate(ctx); err != nil {
		t.Errorf("re-running migrations failed: %v", err)
	}
}

func TestStoreFileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	store, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	run := &Run{ID: "run-file", PlanID: "plan", State: "running", StartedAt: time.Now()}
	if err := store.CreateRun(ctx, run, nil); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	if _, err := reopened.GetRun(ctx, "run-file"); err != nil {
		t.Errorf("run not persisted: %v", err)
	}
}

func TestRunLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	started := time.Now().UTC().Truncate(time.Millisecond)
	run := &Run{
		ID:           "run-1",
		PlanID:       "plan-1",
		Recipes:      []string{"nginx", "motd"},
		Packages:     []string{"nginx"},
		SystemdUnits: []string{"nginx.service"},
		State:        "running",
		ActionCount:  2,
		StartedAt:    started,
	}
	actions := []*ActionRecord{
		{ID: "a0", Position: 0, Kind: "write_file", Recipe: "nginx", StepIndex: 0, Target: "/etc/nginx/nginx.conf", Status: "pending"},
		{ID: "a1", Position: 1, Kind: "exec_shell", Recipe: "motd", StepIndex: 0, Target: "echo hi", Status: "pending"},
	}

	if err := store.CreateRun(ctx, run, actions); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.PlanID != "plan-1" || got.State != "running" || got.ActionCount != 2 {
		t.Errorf("unexpected run %+v", got)
	}
	if len(got.Recipes) != 2 || got.Recipes[1] != "motd" {
		t.Errorf("Recipes = %v", got.Recipes)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}
	if got.CompletedAt != nil {
		t.Error("CompletedAt should be nil while running")
	}

	code := 0
	if err := store.UpdateAction(ctx, &ActionRecord{
		RunID: "run-1", Position: 1, Status: "succeeded", ExitCode: &code, Stdout: "hi\n", DurationMS: 12,
	}); err != nil {
		t.Fatalf("UpdateAction() error = %v", err)
	}

	failed := 1
	msg := "boom"
	kind := "action_failure"
	if err := store.FinishRun(ctx, "run-1", RunSummary{
		State: "failed", FailedAction: &failed, Error: &msg, ErrorKind: &kind, CompletedAt: time.Now(),
	}); err != nil {
		t.Fatalf("FinishRun() error = %v", err)
	}

	got, err = store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.State != "failed" || got.FailedAction == nil || *got.FailedAction != 1 {
		t.Errorf("unexpected finished run %+v", got)
	}
	if got.Error == nil || *got.Error != "boom" || got.ErrorKind == nil || *got.ErrorKind != kind {
		t.Errorf("error not recorded: %+v", got)
	}
	if got.CompletedAt == nil || got.Duration() < 0 {
		t.Errorf("CompletedAt not recorded")
	}

	records, err := store.ListActionsByRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListActionsByRun() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(records))
	}
	if records[0].Status != "pending" || records[0].ExitCode != nil {
		t.Errorf("action 0 = %+v", records[0])
	}
	if records[1].Status != "succeeded" || records[1].Stdout != "hi\n" || records[1].ExitCode == nil || *records[1].ExitCode != 0 {
		t.Errorf("action 1 = %+v", records[1])
	}
}

func TestRunNotFound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun() error = %v, want ErrNotFound", err)
	}
	if err := store.FinishRun(ctx, "missing", RunSummary{State: "completed", CompletedAt: time.Now()}); !errors.Is(err, ErrNotFound) {
		t.Errorf("FinishRun() error = %v, want ErrNotFound", err)
	}
	if err := store.DeleteRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteRun() error = %v, want ErrNotFound", err)
	}
	if err := store.UpdateAction(ctx, &ActionRecord{RunID: "missing", Position: 0, Status: "failed"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateAction() error = %v, want ErrNotFound", err)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		run := &Run{
			ID:        fmt.Sprintf("run-%d", i),
			PlanID:    "plan",
			State:     "completed",
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.CreateRun(ctx, run, nil); err != nil {
			t.Fatalf("CreateRun() error = %v", err)
		}
	}

	runs, err := store.ListRuns(ctx, 3, 0)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	if runs[0].ID != "run-4" || runs[2].ID != "run-2" {
		t.Errorf("unexpected order: %s, %s, %s", runs[0].ID, runs[1].ID, runs[2].ID)
	}

	page, err := store.ListRuns(ctx, 3, 3)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(page) != 2 {
		t.Errorf("expected 2 runs on second page, got %d", len(page))
	}
}

func TestDeleteRunCascades(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := &Run{ID: "run-del", PlanID: "plan", State: "completed", StartedAt: time.Now()}
	actions := []*ActionRecord{{ID: "x", Position: 0, Kind: "exec_shell", Status: "succeeded"}}
	if err := store.CreateRun(ctx, run, actions); err != nil {
		t.Fatal(err)
	}

	if err := store.DeleteRun(ctx, "run-del"); err != nil {
		t.Fatalf("DeleteRun() error = %v", err)
	}

	records, err := store.ListActionsByRun(ctx, "run-del")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("expected actions to be deleted, got %d", len(records))
	}
}

func TestEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	runID := "run-ev"
	events := []*Event{
		{EventID: "e1", RunID: &runID, Type: "run.started", Level: EventLevelInfo, Message: "started"},
		{EventID: "e2", RunID: &runID, Type: "action.failed", Level: EventLevelError, Message: "failed"},
		{EventID: "e3", Type: "policy.violation", Level: EventLevelWarning, Message: "warn"},
	}
	for _, e := range events {
		if err := store.AppendEvent(ctx, e); err != nil {
			t.Fatalf("AppendEvent() error = %v", err)
		}
		if e.ID == 0 {
			t.Error("event ID not assigned")
		}
	}

	all, err := store.GetEvents(ctx, nil, nil, 10, 0)
	if err != nil {
		t.Fatalf("GetEvents() error = %v", err)
	}
	if len(all) != 3 || all[0].EventID != "e1" {
		t.Errorf("unexpected events %+v", all)
	}

	byRun, err := store.GetEvents(ctx, &runID, nil, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(byRun) != 2 {
		t.Errorf("expected 2 run events, got %d", len(byRun))
	}

	level := EventLevelError
	errorsOnly, err := store.GetEvents(ctx, &runID, &level, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(errorsOnly) != 1 || errorsOnly[0].Type != "action.failed" {
		t.Errorf("unexpected filtered events %+v", errorsOnly)
	}
}

func TestRecorder(t *testing.T) {
	store := setupTestStore(t)
	rec := NewRecorder(store, zerolog.Nop())
	ctx := context.Background()

	plan := &engine.Plan{
		ID:      "plan-r",
		Recipes: []string{"web"},
		Actions: []engine.Action{
			{ID: "w", Kind: engine.ActionWriteFile, Recipe: "web", Path: "/etc/motd"},
			{ID: "s", Kind: engine.ActionExecShell, Recipe: "web", StepIndex: 1, Command: "false"},
			{ID: "r", Kind: engine.ActionExecScript, Recipe: "web", StepIndex: 2, Path: "/srv/setup.sh"},
		},
		Packages: []string{"nginx"},
	}

	if err := rec.RunStarted(ctx, "run-r", plan); err != nil {
		t.Fatalf("RunStarted() error = %v", err)
	}

	now := time.Now()
	if err := rec.ActionFinished(ctx, "run-r", plan.Actions[0], engine.ActionResult{
		ActionID: "w", Index: 0, Status: engine.ActionStatusSucceeded, StartedAt: now,
	}); err != nil {
		t.Fatalf("ActionFinished() error = %v", err)
	}

	actionErr := engine.NewActionError(plan.Actions[1], 1, errors.New("exit status 1"))
	if err := rec.ActionFinished(ctx, "run-r", plan.Actions[1], engine.ActionResult{
		ActionID: "s", Index: 1, Status: engine.ActionStatusFailed, ExitCode: 1, Stderr: "nope", Error: actionErr, StartedAt: now,
	}); err != nil {
		t.Fatalf("ActionFinished() error = %v", err)
	}

	failed := 1
	outcome := &engine.Outcome{
		RunID:        "run-r",
		PlanID:       "plan-r",
		State:        engine.RunStateFailed,
		FailedAction: &failed,
		Err:          actionErr,
		Results: []engine.ActionResult{
			{ActionID: "w", Index: 0, Status: engine.ActionStatusSucceeded},
			{ActionID: "s", Index: 1, Status: engine.ActionStatusFailed},
			{ActionID: "r", Index: 2, Status: engine.ActionStatusSkipped},
		},
		StartedAt:   now,
		CompletedAt: now.Add(time.Second),
	}
	if err := rec.RunFinished(ctx, outcome); err != nil {
		t.Fatalf("RunFinished() error = %v", err)
	}

	run, err := store.GetRun(ctx, "run-r")
	if err != nil {
		t.Fatal(err)
	}
	if run.State != "failed" || run.ErrorKind == nil || *run.ErrorKind != string(engine.ErrorKindActionFailure) {
		t.Errorf("unexpected run %+v", run)
	}
	if len(run.Packages) != 1 || run.Packages[0] != "nginx" {
		t.Errorf("Packages = %v", run.Packages)
	}

	records, err := store.ListActionsByRun(ctx, "run-r")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"succeeded", "failed", "skipped"}
	for i, r := range records {
		if r.Status != want[i] {
			t.Errorf("action %d status = %s, want %s", i, r.Status, want[i])
		}
	}
	if records[0].ExitCode != nil {
		t.Error("write_file actions have no exit code")
	}
	if records[1].ExitCode == nil || *records[1].ExitCode != 1 || records[1].Stderr != "nope" || records[1].Error == nil {
		t.Errorf("failed action not recorded: %+v", records[1])
	}
	if records[2].Target != "/srv/setup.sh" {
		t.Errorf("Target = %q", records[2].Target)
	}
}

func TestRecorder_HookFailure(t *testing.T) {
	store := setupTestStore(t)
	rec := NewRecorder(store, zerolog.Nop())
	ctx := context.Background()

	plan := &engine.Plan{ID: "plan-h", SystemdUnits: []string{"nginx.service"}}
	if err := rec.RunStarted(ctx, "run-h", plan); err != nil {
		t.Fatal(err)
	}

	hookErr := engine.NewError(engine.ErrorKindHookFailure, "unit enable failed", errors.New("no such unit"))
	if err := rec.RunFinished(ctx, &engine.Outcome{
		RunID: "run-h",
		State: engine.RunStateCompleted,
		Hooks: &engine.HookOutcome{Err: hookErr},
	}); err != nil {
		t.Fatalf("RunFinished() error = %v", err)
	}

	run, err := store.GetRun(ctx, "run-h")
	if err != nil {
		t.Fatal(err)
	}
	if run.State != "completed" || run.Error != nil {
		t.Errorf("hook failure must not change the run state: %+v", run)
	}
	if run.HooksError == nil {
		t.Error("hook error not recorded")
	}
	if run.CompletedAt == nil {
		t.Error("CompletedAt should default to now")
	}
}

func TestEventSink(t *testing.T) {
	store := setupTestStore(t)

	sink := EventSink(store, zerolog.Nop())
	sink(telemetry.Event{
		ID:        "evt-1",
		Timestamp: time.Now(),
		Type:      telemetry.EventTypeRunStarted,
		Source:    "runner",
		RunID:     "run-s",
		Level:     telemetry.EventLevelInfo,
		Message:   "Run started",
		Data:      map[string]interface{}{"plan_id": "p"},
	})

	runID := "run-s"
	events, err := store.GetEvents(context.Background(), &runID, nil, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.Type != telemetry.EventTypeRunStarted || e.ActionID != nil || e.Details == nil {
		t.Errorf("unexpected event %+v", e)
	}
}
