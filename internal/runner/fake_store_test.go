package runner

import (
	"fmt"
	"sync"
	"time"

	"github.com/james-alvey-42/nightshift/internal/store"
	"github.com/james-alvey-42/nightshift/pkg/models"
)

// fakeStore is an in-memory TaskStore enforcing the same transition graph
// as the SQLite implementation.
type fakeStore struct {
	mu    sync.Mutex
	tasks map[string]*models.Task
	logs  []models.LogEntry

	failSetProcessInfo bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: make(map[string]*models.Task)}
}

func (f *fakeStore) Create(task *models.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tasks[task.TaskID]; ok {
		return store.ErrDuplicateTask
	}
	if task.Status == "" {
		task.Status = models.TaskStatusStaged
	}
	now := time.Now()
	task.CreatedAt = now
	task.UpdatedAt = now
	clone := *task
	f.tasks[task.TaskID] = &clone
	return nil
}

func (f *fakeStore) Get(taskID string) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *task
	return &clone, nil
}

func (f *fakeStore) List(status models.TaskStatus) ([]*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Task
	for _, task := range f.tasks {
		if status == "" || task.Status == status {
			clone := *task
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdatePlan(taskID string, plan *models.Plan) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok {
		return store.ErrNotFound
	}
	if task.Status != models.TaskStatusStaged {
		return store.ErrNotStaged
	}
	task.Description = plan.EnhancedPrompt
	task.AllowedTools = plan.AllowedTools
	task.AllowedDirectories = plan.AllowedDirectories
	task.NeedsGit = plan.NeedsGit
	task.SystemPrompt = plan.SystemPrompt
	return nil
}

func (f *fakeStore) UpdateStatus(taskID string, newStatus models.TaskStatus, fields *store.UpdateFields) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok {
		return store.ErrNotFound
	}
	if !task.Status.CanTransition(newStatus) {
		return fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, task.Status, newStatus)
	}
	now := time.Now()
	task.Status = newStatus
	task.UpdatedAt = now
	if newStatus == models.TaskStatusRunning && task.StartedAt == nil {
		task.StartedAt = &now
	}
	if newStatus.Terminal() {
		task.CompletedAt = &now
		task.ProcessID = 0
	}
	if fields != nil {
		if fields.ResultPath != nil {
			task.ResultPath = *fields.ResultPath
		}
		if fields.ErrorMessage != nil {
			task.ErrorMessage = *fields.ErrorMessage
		}
		if fields.TokenUsage != nil {
			task.TokenUsage = *fields.TokenUsage
		}
		if fields.ExecutionTime != nil {
			task.ExecutionTime = *fields.ExecutionTime
		}
		if fields.ProcessID != nil && !newStatus.Terminal() {
			task.ProcessID = *fields.ProcessID
		}
	}
	return nil
}

func (f *fakeStore) SetProcessInfo(taskID string, pid int, resultPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSetProcessInfo {
		return &store.StorageError{Op: "set_process_info", Err: fmt.Errorf("injected")}
	}
	task, ok := f.tasks[taskID]
	if !ok {
		return store.ErrNotFound
	}
	if task.Status != models.TaskStatusRunning && task.Status != models.TaskStatusPaused {
		return store.ErrInvalidTransition
	}
	task.ProcessID = pid
	task.ResultPath = resultPath
	return nil
}

func (f *fakeStore) AcquireForExecution() (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var oldest *models.Task
	for _, task := range f.tasks {
		if task.Status != models.TaskStatusCommitted {
			continue
		}
		if oldest == nil || task.CreatedAt.Before(oldest.CreatedAt) {
			oldest = task
		}
	}
	if oldest == nil {
		return nil, nil
	}
	now := time.Now()
	oldest.Status = models.TaskStatusRunning
	oldest.StartedAt = &now
	clone := *oldest
	return &clone, nil
}

func (f *fakeStore) CountByStatus(status models.TaskStatus) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, task := range f.tasks {
		if task.Status == status {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) AppendLog(taskID, level, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, models.LogEntry{
		TaskID: taskID, Timestamp: time.Now(), Level: level, Message: message,
	})
	return nil
}

func (f *fakeStore) GetLogs(taskID string) ([]models.LogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.LogEntry
	for _, entry := range f.logs {
		if entry.TaskID == taskID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (f *fakeStore) Delete(taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tasks[taskID]; !ok {
		return store.ErrNotFound
	}
	delete(f.tasks, taskID)
	return nil
}

func (f *fakeStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = make(map[string]*models.Task)
	f.logs = nil
	return nil
}

var _ store.TaskStore = (*fakeStore)(nil)
