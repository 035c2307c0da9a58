// Package service is the facade the front-ends speak to: it owns task
// creation, planning, the approval workflow, signal routing, and executor
// control, delegating persistence and execution to the core packages.
package service

import (
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/james-alvey-42/nightshift/internal/config"
	"github.com/james-alvey-42/nightshift/internal/executor"
	"github.com/james-alvey-42/nightshift/internal/logger"
	"github.com/james-alvey-42/nightshift/internal/planner"
	"github.com/james-alvey-42/nightshift/internal/runner"
	"github.com/james-alvey-42/nightshift/internal/sandbox"
	"github.com/james-alvey-42/nightshift/internal/store"
	"github.com/james-alvey-42/nightshift/pkg/models"
)

// Service wires the core components behind the public operations.
type Service struct {
	cfg      *config.Config
	store    store.TaskStore
	planner  *planner.Planner
	executor *executor.Service
	control  *runner.Controller
	sandbox  *sandbox.Manager
	log      *logger.Logger
}

// New assembles a Service from its components.
func New(cfg *config.Config, st store.TaskStore, pl *planner.Planner, ex *executor.Service, control *runner.Controller, sb *sandbox.Manager, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		cfg:      cfg,
		store:    st,
		planner:  pl,
		executor: ex,
		control:  control,
		sandbox:  sb,
		log:      log,
	}
}

// SubmitOptions tunes task creation.
type SubmitOptions struct {
	// TimeoutSeconds overrides the default execution timeout.
	TimeoutSeconds int
}

// NewTaskID generates a fresh task identifier: "task_" plus 8 hex chars.
func NewTaskID() string {
	return "task_" + uuid.New().String()[:8]
}

// Submit creates a new STAGED task and returns its id.
func (s *Service) Submit(description string, opts SubmitOptions) (string, error) {
	if description == "" {
		return "", fmt.Errorf("empty task description")
	}

	task := &models.Task{
		TaskID:         NewTaskID(),
		Description:    description,
		Status:         models.TaskStatusStaged,
		TimeoutSeconds: opts.TimeoutSeconds,
	}
	if err := s.store.Create(task); err != nil {
		return "", err
	}

	s.store.AppendLog(task.TaskID, "INFO", "task created")
	s.log.Info("task %s created: %s", task.TaskID, truncate(description, 120))
	return task.TaskID, nil
}

// Plan runs the planner for a STAGED task and stores the result on it.
func (s *Service) Plan(taskID string) (*models.Plan, error) {
	task, err := s.store.Get(taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != models.TaskStatusStaged {
		return nil, fmt.Errorf("%w: %s", store.ErrNotStaged, taskID)
	}

	plan, err := s.planner.Plan(task.Description)
	if err != nil {
		s.store.AppendLog(taskID, "ERROR", fmt.Sprintf("planning failed: %v", err))
		return nil, err
	}

	if err := s.store.UpdatePlan(taskID, plan); err != nil {
		return nil, err
	}
	s.store.AppendLog(taskID, "INFO", fmt.Sprintf("plan stored (tools: %v)", plan.AllowedTools))
	return plan, nil
}

// Revise re-plans a STAGED task using user feedback against its current
// plan.
func (s *Service) Revise(taskID, feedback string) (*models.Plan, error) {
	task, err := s.store.Get(taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != models.TaskStatusStaged {
		return nil, fmt.Errorf("%w: %s", store.ErrNotStaged, taskID)
	}

	current := &models.Plan{
		EnhancedPrompt:     task.Description,
		AllowedTools:       task.AllowedTools,
		AllowedDirectories: task.AllowedDirectories,
		NeedsGit:           task.NeedsGit,
		SystemPrompt:       task.SystemPrompt,
		EstimatedTokens:    task.EstimatedTokens,
		EstimatedTime:      task.EstimatedTime,
	}

	plan, err := s.planner.Revise(current, feedback)
	if err != nil {
		s.store.AppendLog(taskID, "ERROR", fmt.Sprintf("plan revision failed: %v", err))
		return nil, err
	}

	if err := s.store.UpdatePlan(taskID, plan); err != nil {
		return nil, err
	}
	s.store.AppendLog(taskID, "INFO", "plan revised")
	return plan, nil
}

// Approve moves a STAGED task to COMMITTED after re-validating its write
// directories. Dangerous paths block the commit and leave the task STAGED.
func (s *Service) Approve(taskID string) error {
	task, err := s.store.Get(taskID)
	if err != nil {
		return err
	}

	if _, err := s.sandbox.ValidateDirectories(task.AllowedDirectories); err != nil {
		s.store.AppendLog(taskID, "ERROR", fmt.Sprintf("approval rejected: %v", err))
		return err
	}

	if err := s.store.UpdateStatus(taskID, models.TaskStatusCommitted, nil); err != nil {
		return err
	}
	s.store.AppendLog(taskID, "INFO", "task approved")
	s.log.Info("task %s approved", taskID)
	return nil
}

// Cancel cancels a STAGED or COMMITTED task. Running tasks go through Kill.
func (s *Service) Cancel(taskID string) error {
	msg := "cancelled by user"
	err := s.store.UpdateStatus(taskID, models.TaskStatusCancelled, &store.UpdateFields{
		ErrorMessage: &msg,
	})
	if err != nil {
		return err
	}
	s.store.AppendLog(taskID, "INFO", "task cancelled")
	return nil
}

// Pause suspends a running task's agent subprocess. When this process
// owns the subprocess the signal routes through the runner's control
// channel; otherwise it is delivered straight to the durably-stored PID,
// so a one-shot CLI invocation can pause a task the executor process is
// running.
func (s *Service) Pause(taskID string) error {
	task, err := s.store.Get(taskID)
	if err != nil {
		return err
	}
	if task.Status != models.TaskStatusRunning {
		return fmt.Errorf("%w: %s is %s, want %s", runner.ErrNotRunning, taskID, task.Status, models.TaskStatusRunning)
	}

	err = s.control.Deliver(taskID, runner.SignalPause)
	if !errors.Is(err, runner.ErrNotRunning) {
		return err
	}

	if err := s.signalStored(task, syscall.SIGSTOP); err != nil {
		return err
	}
	if err := s.store.UpdateStatus(taskID, models.TaskStatusPaused, nil); err != nil {
		return err
	}
	s.store.AppendLog(taskID, "INFO", "task paused")
	return nil
}

// Resume continues a paused task, signaling the stored PID when the
// subprocess lives in another process.
func (s *Service) Resume(taskID string) error {
	task, err := s.store.Get(taskID)
	if err != nil {
		return err
	}
	if task.Status != models.TaskStatusPaused {
		return fmt.Errorf("%w: %s is %s, want %s", runner.ErrNotRunning, taskID, task.Status, models.TaskStatusPaused)
	}

	err = s.control.Deliver(taskID, runner.SignalResume)
	if !errors.Is(err, runner.ErrNotRunning) {
		return err
	}

	if err := s.signalStored(task, syscall.SIGCONT); err != nil {
		return err
	}
	if err := s.store.UpdateStatus(taskID, models.TaskStatusRunning, nil); err != nil {
		return err
	}
	s.store.AppendLog(taskID, "INFO", "task resumed")
	return nil
}

// Kill terminates a running or paused task. Like Pause/Resume it falls
// back to the stored PID for subprocesses owned by another process; a
// recorded PID whose process already exited is reconciled to CANCELLED.
func (s *Service) Kill(taskID string) error {
	task, err := s.store.Get(taskID)
	if err != nil {
		return err
	}
	if task.Status != models.TaskStatusRunning && task.Status != models.TaskStatusPaused {
		return fmt.Errorf("%w: %s is %s", runner.ErrNotRunning, taskID, task.Status)
	}

	err = s.control.Deliver(taskID, runner.SignalKill)
	if !errors.Is(err, runner.ErrNotRunning) {
		return err
	}
	if task.ProcessID <= 0 {
		return err
	}

	if !processAlive(task.ProcessID) {
		msg := "already terminated"
		if uerr := s.store.UpdateStatus(taskID, models.TaskStatusCancelled, &store.UpdateFields{
			ErrorMessage: &msg,
		}); uerr != nil {
			return uerr
		}
		s.store.AppendLog(taskID, "INFO", "process already terminated, task cancelled")
		return nil
	}

	if err := s.signalStored(task, syscall.SIGKILL); err != nil {
		return err
	}
	msg := "task killed by user"
	if err := s.store.UpdateStatus(taskID, models.TaskStatusCancelled, &store.UpdateFields{
		ErrorMessage: &msg,
	}); err != nil {
		return err
	}
	s.store.AppendLog(taskID, "INFO", fmt.Sprintf("kill signal delivered to pid %d", task.ProcessID))
	return nil
}

// signalStored delivers a signal to a task's recorded subprocess. The
// runner starts agents in their own process group, so the group is
// signaled first, falling back to the bare PID when the group is gone.
func (s *Service) signalStored(task *models.Task, sig syscall.Signal) error {
	if task.ProcessID <= 0 {
		return fmt.Errorf("%w: %s has no recorded process", runner.ErrNotRunning, task.TaskID)
	}
	if !processAlive(task.ProcessID) {
		return fmt.Errorf("%w: process %d no longer exists", runner.ErrNotRunning, task.ProcessID)
	}
	if err := syscall.Kill(-task.ProcessID, sig); err == nil || !errors.Is(err, syscall.ESRCH) {
		if err != nil {
			return fmt.Errorf("signal pid %d: %w", task.ProcessID, err)
		}
		return nil
	}
	if err := syscall.Kill(task.ProcessID, sig); err != nil {
		return fmt.Errorf("signal pid %d: %w", task.ProcessID, err)
	}
	return nil
}

// List returns tasks, optionally filtered by status.
func (s *Service) List(status models.TaskStatus) ([]*models.Task, error) {
	return s.store.List(status)
}

// TaskDetail is a task with its audit trail.
type TaskDetail struct {
	Task *models.Task      `json:"task"`
	Logs []models.LogEntry `json:"logs"`
}

// Get returns one task with its logs.
func (s *Service) Get(taskID string) (*TaskDetail, error) {
	task, err := s.store.Get(taskID)
	if err != nil {
		return nil, err
	}
	logs, err := s.store.GetLogs(taskID)
	if err != nil {
		return nil, err
	}
	return &TaskDetail{Task: task, Logs: logs}, nil
}

// Clear truncates the task store.
func (s *Service) Clear() error {
	return s.store.Clear()
}

// ExecutorStart launches the background executor.
func (s *Service) ExecutorStart() error {
	return s.executor.Start(s.cfg.Executor.MaxWorkers, s.cfg.Executor.PollInterval)
}

// ExecutorStop stops the executor, waiting up to gracefulTimeout.
func (s *Service) ExecutorStop(gracefulTimeout time.Duration) error {
	return s.executor.Stop(gracefulTimeout)
}

// ExecutorStatus reports the executor's state.
func (s *Service) ExecutorStatus() executor.Status {
	return s.executor.Status()
}

func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
