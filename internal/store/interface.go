package store

import "github.com/james-alvey-42/nightshift/pkg/models"

// TaskStore is the persistence interface consumed by the executor, runner,
// and service layers. *Store is the SQLite implementation; tests substitute
// fakes.
type TaskStore interface {
	Create(task *models.Task) error
	Get(taskID string) (*models.Task, error)
	List(status models.TaskStatus) ([]*models.Task, error)
	UpdatePlan(taskID string, plan *models.Plan) error
	UpdateStatus(taskID string, newStatus models.TaskStatus, fields *UpdateFields) error
	SetProcessInfo(taskID string, pid int, resultPath string) error
	AcquireForExecution() (*models.Task, error)
	CountByStatus(status models.TaskStatus) (int, error)
	AppendLog(taskID, level, message string) error
	GetLogs(taskID string) ([]models.LogEntry, error)
	Delete(taskID string) error
	Clear() error
}

// Verify *Store satisfies the interface.
var _ TaskStore = (*Store)(nil)
