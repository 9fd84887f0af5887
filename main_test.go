package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harrisonrobin/dayblock/pkg/config"
	"github.com/harrisonrobin/dayblock/pkg/logx"
	"github.com/harrisonrobin/dayblock/pkg/model"
	"github.com/harrisonrobin/dayblock/pkg/planner"
	"github.com/harrisonrobin/dayblock/pkg/store/memory"
	"github.com/harrisonrobin/dayblock/pkg/taskwarrior"
)

const testConfig = `user: u1
timezone: UTC
workday_start: "09:00"
workday_end: "17:00"
log:
  level: error
google:
  busy_calendars: []
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(testConfig), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCLI(t *testing.T, path string, stdin string, args ...string) []byte {
	t.Helper()
	var out, errOut bytes.Buffer
	full := append([]string{"--config", path}, args...)
	if err := run(context.Background(), full, strings.NewReader(stdin), &out, &errOut); err != nil {
		t.Fatalf("dayblock %v failed: %v\n%s", args, err, errOut.String())
	}
	return out.Bytes()
}

func TestAddListPropose(t *testing.T) {
	path := writeConfig(t)

	var added taskView
	out := runCLI(t, path, "", "task", "add", "--title", "Write report", "--priority", "high", "--estimate", "45")
	if err := json.Unmarshal(out, &added); err != nil {
		t.Fatalf("bad add output %s: %v", out, err)
	}
	if added.ID == "" || added.Priority != "high" || added.EstimatedMinutes != 45 {
		t.Errorf("Unexpected task: %+v", added)
	}

	var listed []taskView
	if err := json.Unmarshal(runCLI(t, path, "", "task", "list"), &listed); err != nil {
		t.Fatal(err)
	}
	if len(listed) != 1 || listed[0].ID != added.ID {
		t.Errorf("Expected the added task listed, got %+v", listed)
	}

	var prop planner.Proposal
	if err := json.Unmarshal(runCLI(t, path, "", "propose", "--date", "2024-03-04"), &prop); err != nil {
		t.Fatal(err)
	}
	if len(prop.Blocks) != 1 || prop.Blocks[0].TaskID != added.ID {
		t.Fatalf("Expected one block for the task, got %+v", prop)
	}
	if got := prop.Blocks[0].End.Sub(prop.Blocks[0].Start).Minutes(); got != 45 {
		t.Errorf("Expected 45 minute block, got %v", got)
	}
}

func TestStartStopDoneLearns(t *testing.T) {
	path := writeConfig(t)
	runCLI(t, path, "", "task", "add", "--id", "t1", "--estimate", "30", "Read paper")
	runCLI(t, path, "", "start", "t1")

	var done struct {
		OldEstimate int `json:"old_estimate"`
		NewEstimate int `json:"new_estimate"`
	}
	if err := json.Unmarshal(runCLI(t, path, "", "done", "t1"), &done); err != nil {
		t.Fatal(err)
	}
	if done.OldEstimate != 30 || done.NewEstimate < 15 {
		t.Errorf("Unexpected done result: %+v", done)
	}

	var listed []taskView
	if err := json.Unmarshal(runCLI(t, path, "", "task", "list", "--all"), &listed); err != nil {
		t.Fatal(err)
	}
	if len(listed) != 1 || listed[0].Status != string(model.StatusDone) {
		t.Errorf("Expected t1 done, got %+v", listed)
	}
}

func TestSetCalendar(t *testing.T) {
	path := writeConfig(t)
	runCLI(t, path, "", "set-calendar", "Deep Work")
	cfg, err := config.LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Google.Calendar != "Deep Work" || cfg.User != "u1" {
		t.Errorf("Expected calendar saved with other settings kept, got %+v", cfg)
	}
}

func TestImportTaskwarriorStdin(t *testing.T) {
	path := writeConfig(t)
	export := `[
{"uuid":"a1","description":"Pay invoice","status":"pending","priority":"H","due":"20240305T170000Z","est":"PT1H30M"},
{"uuid":"a2","description":"Old","status":"deleted"}
]`
	var res importResult
	if err := json.Unmarshal(runCLI(t, path, export, "task", "import", "--stdin"), &res); err != nil {
		t.Fatal(err)
	}
	if len(res.Added) != 1 || res.Added[0] != "a1" || res.Skipped != 1 {
		t.Errorf("Unexpected import result: %+v", res)
	}

	if err := json.Unmarshal(runCLI(t, path, export, "task", "import", "--stdin"), &res); err != nil {
		t.Fatal(err)
	}
	if len(res.Added) != 0 || len(res.Updated) != 0 {
		t.Errorf("Expected re-import to be a no-op, got %+v", res)
	}
}

func TestUnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), []string{"--config", writeConfig(t), "frobnicate"}, strings.NewReader(""), &out, &errOut)
	if err == nil || !strings.Contains(err.Error(), "frobnicate") {
		t.Errorf("Expected unknown command error, got %v", err)
	}
	if !strings.Contains(errOut.String(), "propose") {
		t.Errorf("Expected usage listing commands, got %q", errOut.String())
	}
}

func TestImportTasksKeepsLearnedState(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	learned := model.Task{ID: "t1", UserID: "u1", Title: "Draft", Priority: model.PriorityMed,
		EstimatedMinutes: 52, ActualMinutes: 40, Status: model.StatusInProgress, Source: "taskwarrior"}
	if err := repo.UpsertTask(ctx, learned); err != nil {
		t.Fatal(err)
	}

	incoming := learned
	incoming.Title = "Draft v2"
	incoming.EstimatedMinutes = 30
	incoming.ActualMinutes = 0
	incoming.Status = model.StatusTodo

	res, err := importTasks(ctx, repo, []model.Task{incoming})
	if err != nil {
		t.Fatalf("importTasks failed: %v", err)
	}
	if len(res.Updated) != 1 {
		t.Errorf("Expected one update, got %+v", res)
	}
	got, err := repo.GetTask(ctx, "u1", "t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Draft v2" || got.EstimatedMinutes != 52 || got.ActualMinutes != 40 || got.Status != model.StatusInProgress {
		t.Errorf("Unexpected merged task: %+v", got)
	}
}

func TestImportTasksKeepsDoneStatus(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	done := model.Task{ID: "t1", UserID: "u1", Title: "Draft", Priority: model.PriorityMed,
		EstimatedMinutes: 45, Status: model.StatusDone, Source: "taskwarrior"}
	if err := repo.UpsertTask(ctx, done); err != nil {
		t.Fatal(err)
	}

	for _, status := range []model.TaskStatus{model.StatusTodo, model.StatusInProgress} {
		incoming := done
		incoming.Status = status
		if _, err := importTasks(ctx, repo, []model.Task{incoming}); err != nil {
			t.Fatalf("importTasks failed: %v", err)
		}
		got, err := repo.GetTask(ctx, "u1", "t1")
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != model.StatusDone {
			t.Errorf("Expected status done after importing %s, got %s", status, got.Status)
		}
	}
	sched, err := repo.GetSchedulable(ctx, "u1", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(sched) != 0 {
		t.Errorf("Expected no schedulable tasks, got %d", len(sched))
	}
}

func memoryApp(t *testing.T) *app {
	t.Helper()
	cfg := config.Default()
	cfg.User = "u1"
	cfg.Timezone = "UTC"
	cfg.Storage.Driver = "memory"
	a, err := newAppWithLogger(filepath.Join(t.TempDir(), "config.yaml"), cfg, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestListTasksShowsTodayMinutes(t *testing.T) {
	ctx := context.Background()
	a := memoryApp(t)
	if err := a.store.UpsertTask(ctx, model.Task{ID: "t1", UserID: "u1", Title: "Read", Priority: model.PriorityMed,
		EstimatedMinutes: 30, Status: model.StatusTodo}); err != nil {
		t.Fatal(err)
	}
	if err := a.store.UpsertTask(ctx, model.Task{ID: "t2", UserID: "u1", Title: "Write", Priority: model.PriorityLow,
		EstimatedMinutes: 30, Status: model.StatusTodo}); err != nil {
		t.Fatal(err)
	}

	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	yesterday := midnight.Add(-2 * time.Hour)
	for _, start := range []time.Time{yesterday, midnight.Add(time.Hour)} {
		if _, err := a.store.Start(ctx, "u1", "t1", "", start); err != nil {
			t.Fatal(err)
		}
		if _, _, err := a.store.Stop(ctx, "u1", "t1", start.Add(25*time.Minute)); err != nil {
			t.Fatal(err)
		}
	}

	listed, err := a.listTasks(ctx, false)
	if err != nil {
		t.Fatalf("listTasks failed: %v", err)
	}
	minutes := map[string]int{}
	for _, v := range listed {
		minutes[v.ID] = v.TodayMinutes
	}
	if minutes["t1"] != 25 {
		t.Errorf("Expected 25 minutes today on t1, got %d", minutes["t1"])
	}
	if got, ok := minutes["t2"]; !ok || got != 0 {
		t.Errorf("Expected t2 listed with 0 minutes, got %d (%v)", got, ok)
	}
}

func TestApplyHookTask(t *testing.T) {
	ctx := context.Background()
	a := memoryApp(t)

	res, err := a.applyHookTask(ctx, taskwarrior.Task{UUID: "h1", Description: "Call bank", Status: "pending"})
	if err != nil {
		t.Fatalf("applyHookTask failed: %v", err)
	}
	if res.Action != "added" || !res.Replanned {
		t.Errorf("Expected added and replanned, got %+v", res)
	}

	start := time.Now().Add(2 * time.Hour)
	if err := a.store.PersistPlanned(ctx, "u1", "p1", []model.TaskBlock{{ID: "b1", TaskID: "h1", Start: start, End: start.Add(30 * time.Minute)}}); err != nil {
		t.Fatal(err)
	}
	if err := a.store.MarkConfirmed(ctx, "b1", "evt-1"); err != nil {
		t.Fatal(err)
	}

	// No credentials exist, so the event stays but retiring still succeeds.
	res, err = a.applyHookTask(ctx, taskwarrior.Task{UUID: "h1", Description: "Call bank", Status: "pending", Tags: []string{"BLOCKED"}})
	if err != nil {
		t.Fatalf("applyHookTask failed: %v", err)
	}
	if res.Action != "retired" {
		t.Errorf("Expected retired, got %+v", res)
	}
	got, err := a.store.GetTask(ctx, "u1", "h1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.StatusDone {
		t.Errorf("Expected retired task done, got %s", got.Status)
	}

	res, err = a.applyHookTask(ctx, taskwarrior.Task{UUID: "nope", Status: "deleted"})
	if err != nil || res.Action != "ignored" {
		t.Errorf("Expected unknown deleted task ignored, got %+v, %v", res, err)
	}
}
