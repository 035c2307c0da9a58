package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/james-alvey-42/nightshift/pkg/models"
)

// setupStore creates a temporary task store.
func setupStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// makeTask inserts a STAGED task with the given id.
func makeTask(t *testing.T, s *Store, id string) *models.Task {
	t.Helper()
	task := &models.Task{
		TaskID:      id,
		Description: "test task " + id,
		Status:      models.TaskStatusStaged,
	}
	if err := s.Create(task); err != nil {
		t.Fatalf("create task %s: %v", id, err)
	}
	return task
}

func TestCreateAndGet(t *testing.T) {
	s := setupStore(t)

	task := &models.Task{
		TaskID:             "task_0a1b2c3d",
		Description:        "write a haiku about dusk",
		Status:             models.TaskStatusStaged,
		AllowedTools:       []string{"Write"},
		AllowedDirectories: []string{"/home/user/work"},
		NeedsGit:           true,
		SystemPrompt:       "be brief",
	}
	if err := s.Create(task); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := s.Get("task_0a1b2c3d")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Description != task.Description {
		t.Errorf("Description = %q", got.Description)
	}
	if got.Status != models.TaskStatusStaged {
		t.Errorf("Status = %q", got.Status)
	}
	if len(got.AllowedTools) != 1 || got.AllowedTools[0] != "Write" {
		t.Errorf("AllowedTools = %v", got.AllowedTools)
	}
	if !got.NeedsGit {
		t.Error("NeedsGit lost")
	}
	if got.TimeoutSeconds != models.DefaultTimeoutSeconds {
		t.Errorf("TimeoutSeconds = %d, want default", got.TimeoutSeconds)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}
	if got.StartedAt != nil || got.CompletedAt != nil {
		t.Error("started_at/completed_at should be unset on a staged task")
	}
}

func TestCreateDuplicate(t *testing.T) {
	s := setupStore(t)
	makeTask(t, s, "task_00000001")

	err := s.Create(&models.Task{TaskID: "task_00000001", Description: "dup"})
	if !errors.Is(err, ErrDuplicateTask) {
		t.Errorf("want ErrDuplicateTask, got %v", err)
	}
}

func TestGetNotFound(t *testing.T) {
	s := setupStore(t)
	_, err := s.Get("task_deadbeef")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
}

func TestListOrderAndFilter(t *testing.T) {
	s := setupStore(t)
	for i := 0; i < 3; i++ {
		makeTask(t, s, fmt.Sprintf("task_0000000%d", i))
		time.Sleep(2 * time.Millisecond)
	}
	if err := s.UpdateStatus("task_00000001", models.TaskStatusCancelled, nil); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	all, err := s.List("")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List returned %d tasks, want 3", len(all))
	}
	// Newest first.
	if all[0].TaskID != "task_00000002" || all[2].TaskID != "task_00000000" {
		t.Errorf("ordering wrong: %s ... %s", all[0].TaskID, all[2].TaskID)
	}

	staged, err := s.List(models.TaskStatusStaged)
	if err != nil {
		t.Fatalf("List(staged) failed: %v", err)
	}
	if len(staged) != 2 {
		t.Errorf("List(staged) returned %d, want 2", len(staged))
	}
}

func TestUpdateStatusTransitions(t *testing.T) {
	s := setupStore(t)
	makeTask(t, s, "task_00000010")

	// staged -> running is forbidden
	err := s.UpdateStatus("task_00000010", models.TaskStatusRunning, nil)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("want ErrInvalidTransition, got %v", err)
	}
	got, _ := s.Get("task_00000010")
	if got.Status != models.TaskStatusStaged {
		t.Errorf("failed transition modified the row: %s", got.Status)
	}

	// staged -> committed -> running -> completed
	for _, next := range []models.TaskStatus{
		models.TaskStatusCommitted,
		models.TaskStatusRunning,
		models.TaskStatusCompleted,
	} {
		if err := s.UpdateStatus("task_00000010", next, nil); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}

	got, _ = s.Get("task_00000010")
	if got.Status != models.TaskStatusCompleted {
		t.Errorf("Status = %s", got.Status)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Fatal("timestamps missing after terminal transition")
	}
	if got.CompletedAt.Before(*got.StartedAt) || got.StartedAt.Before(got.CreatedAt) {
		t.Error("completed_at >= started_at >= created_at violated")
	}

	// terminal states are final
	err = s.UpdateStatus("task_00000010", models.TaskStatusRunning, nil)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("transition out of terminal state should fail, got %v", err)
	}
}

func TestUpdateStatusFields(t *testing.T) {
	s := setupStore(t)
	makeTask(t, s, "task_00000020")
	s.UpdateStatus("task_00000020", models.TaskStatusCommitted, nil)
	s.UpdateStatus("task_00000020", models.TaskStatusRunning, nil)

	pid := 12345
	path := "/tmp/out.json"
	if err := s.UpdateStatus("task_00000020", models.TaskStatusPaused, &UpdateFields{
		ProcessID:  &pid,
		ResultPath: &path,
	}); err != nil {
		t.Fatalf("pause with fields: %v", err)
	}
	got, _ := s.Get("task_00000020")
	if got.ProcessID != 12345 || got.ResultPath != path {
		t.Errorf("fields not persisted: pid=%d path=%q", got.ProcessID, got.ResultPath)
	}

	s.UpdateStatus("task_00000020", models.TaskStatusRunning, nil)

	tokens := 465
	secs := 12.5
	errMsg := "nope"
	if err := s.UpdateStatus("task_00000020", models.TaskStatusFailed, &UpdateFields{
		TokenUsage:    &tokens,
		ExecutionTime: &secs,
		ErrorMessage:  &errMsg,
	}); err != nil {
		t.Fatalf("fail with fields: %v", err)
	}
	got, _ = s.Get("task_00000020")
	if got.TokenUsage != 465 || got.ExecutionTime != 12.5 || got.ErrorMessage != "nope" {
		t.Errorf("terminal fields not persisted: %+v", got)
	}
	if got.ProcessID != 0 {
		t.Errorf("process_id should be cleared on terminal status, got %d", got.ProcessID)
	}
}

func TestUpdatePlanOnlyWhileStaged(t *testing.T) {
	s := setupStore(t)
	makeTask(t, s, "task_00000030")

	plan := &models.Plan{
		EnhancedPrompt:     "do the thing carefully",
		AllowedTools:       []string{"WebSearch", "Write"},
		AllowedDirectories: []string{"/home/user/work"},
		SystemPrompt:       "stay in allowed paths",
		EstimatedTokens:    1200,
		EstimatedTime:      60,
	}
	if err := s.UpdatePlan("task_00000030", plan); err != nil {
		t.Fatalf("UpdatePlan failed: %v", err)
	}
	got, _ := s.Get("task_00000030")
	if got.Description != "do the thing carefully" {
		t.Errorf("Description = %q", got.Description)
	}
	if len(got.AllowedTools) != 2 {
		t.Errorf("AllowedTools = %v", got.AllowedTools)
	}

	// A revision replaces the tool list wholesale.
	revised := &models.Plan{
		EnhancedPrompt:     "use arxiv instead",
		AllowedTools:       []string{"ext__arxiv__search", "Write"},
		AllowedDirectories: []string{"/home/user/work"},
		SystemPrompt:       "stay in allowed paths",
	}
	if err := s.UpdatePlan("task_00000030", revised); err != nil {
		t.Fatalf("UpdatePlan revision: %v", err)
	}
	got, _ = s.Get("task_00000030")
	for _, tool := range got.AllowedTools {
		if tool == "WebSearch" {
			t.Error("old tool survived revision")
		}
	}
	if got.AllowedTools[0] != "ext__arxiv__search" {
		t.Errorf("AllowedTools = %v", got.AllowedTools)
	}

	s.UpdateStatus("task_00000030", models.TaskStatusCommitted, nil)
	err := s.UpdatePlan("task_00000030", plan)
	if !errors.Is(err, ErrNotStaged) {
		t.Errorf("want ErrNotStaged, got %v", err)
	}
}

func TestAcquireForExecution(t *testing.T) {
	s := setupStore(t)
	if task, err := s.AcquireForExecution(); err != nil || task != nil {
		t.Fatalf("empty store: task=%v err=%v", task, err)
	}

	makeTask(t, s, "task_000000a0")
	time.Sleep(2 * time.Millisecond)
	makeTask(t, s, "task_000000a1")
	s.UpdateStatus("task_000000a0", models.TaskStatusCommitted, nil)
	s.UpdateStatus("task_000000a1", models.TaskStatusCommitted, nil)

	// Oldest committed first.
	task, err := s.AcquireForExecution()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if task.TaskID != "task_000000a0" {
		t.Errorf("acquired %s, want task_000000a0", task.TaskID)
	}
	if task.Status != models.TaskStatusRunning {
		t.Errorf("Status = %s, want running", task.Status)
	}
	if task.StartedAt == nil {
		t.Error("started_at not set by acquisition")
	}
}

func TestAcquireConcurrent(t *testing.T) {
	s := setupStore(t)

	const committed = 5
	const workers = 8
	for i := 0; i < committed; i++ {
		id := fmt.Sprintf("task_000000b%d", i)
		makeTask(t, s, id)
		s.UpdateStatus(id, models.TaskStatusCommitted, nil)
	}

	var mu sync.Mutex
	claimed := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task, err := s.AcquireForExecution()
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			if task != nil {
				mu.Lock()
				claimed[task.TaskID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claimed) != committed {
		t.Errorf("claimed %d distinct tasks, want %d", len(claimed), committed)
	}
	for id, n := range claimed {
		if n != 1 {
			t.Errorf("task %s claimed %d times", id, n)
		}
	}

	running, _ := s.CountByStatus(models.TaskStatusRunning)
	if running != committed {
		t.Errorf("running count = %d, want %d", running, committed)
	}
}

func TestSetProcessInfo(t *testing.T) {
	s := setupStore(t)
	makeTask(t, s, "task_000000e0")

	// Not running yet.
	err := s.SetProcessInfo("task_000000e0", 4242, "/tmp/out.json")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("want ErrInvalidTransition on staged task, got %v", err)
	}

	s.UpdateStatus("task_000000e0", models.TaskStatusCommitted, nil)
	s.UpdateStatus("task_000000e0", models.TaskStatusRunning, nil)
	if err := s.SetProcessInfo("task_000000e0", 4242, "/tmp/out.json"); err != nil {
		t.Fatalf("SetProcessInfo: %v", err)
	}
	got, _ := s.Get("task_000000e0")
	if got.ProcessID != 4242 || got.ResultPath != "/tmp/out.json" {
		t.Errorf("process info not stored: %+v", got)
	}
	if got.Status != models.TaskStatusRunning {
		t.Errorf("SetProcessInfo changed status to %s", got.Status)
	}

	if err := s.SetProcessInfo("task_deadbeef", 1, "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
}

func TestLogs(t *testing.T) {
	s := setupStore(t)
	makeTask(t, s, "task_000000c0")

	if err := s.AppendLog("task_000000c0", "INFO", "created"); err != nil {
		t.Fatalf("AppendLog: %v", err)
	}
	if err := s.AppendLog("task_000000c0", "ERROR", "went sideways"); err != nil {
		t.Fatalf("AppendLog: %v", err)
	}

	logs, err := s.GetLogs("task_000000c0")
	if err != nil {
		t.Fatalf("GetLogs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("got %d logs, want 2", len(logs))
	}
	if logs[0].Level != "INFO" || logs[1].Level != "ERROR" {
		t.Errorf("log order wrong: %+v", logs)
	}
	if logs[1].Message != "went sideways" {
		t.Errorf("Message = %q", logs[1].Message)
	}
}

func TestDeleteAndClear(t *testing.T) {
	s := setupStore(t)
	makeTask(t, s, "task_000000d0")
	makeTask(t, s, "task_000000d1")
	s.AppendLog("task_000000d0", "INFO", "x")

	if err := s.Delete("task_000000d0"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get("task_000000d0"); !errors.Is(err, ErrNotFound) {
		t.Error("deleted task still present")
	}
	if err := s.Delete("task_000000d0"); !errors.Is(err, ErrNotFound) {
		t.Error("double delete should report not found")
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	all, _ := s.List("")
	if len(all) != 0 {
		t.Errorf("store not empty after Clear: %d tasks", len(all))
	}
}
