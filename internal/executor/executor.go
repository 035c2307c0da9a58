// Package executor runs the background worker pool: a single polling
// controller claims committed tasks from the store and hands each to its
// own worker goroutine, which blocks on the agent subprocess until the
// task reaches a terminal state.
package executor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/james-alvey-42/nightshift/internal/logger"
	"github.com/james-alvey-42/nightshift/internal/runner"
	"github.com/james-alvey-42/nightshift/internal/store"
	"github.com/james-alvey-42/nightshift/pkg/models"
)

// Notifier receives completed task results. Implemented by internal/notify.
type Notifier interface {
	Notify(task *models.Task, result *runner.Result) error
}

// Status reports the executor's current shape.
type Status struct {
	Running          bool     `json:"running"`
	MaxWorkers       int      `json:"max_workers"`
	ActiveTasks      []string `json:"active_tasks"`
	AvailableWorkers int      `json:"available_workers"`
	PollInterval     float64  `json:"poll_interval_seconds"`
}

// Service is the long-lived executor singleton.
type Service struct {
	store    store.TaskStore
	runner   *runner.Runner
	control  *runner.Controller
	notifier Notifier
	log      *logger.Logger
	lockPath string

	mu           sync.Mutex
	running      bool
	maxWorkers   int
	pollInterval time.Duration
	active       map[string]bool
	lock         *Lock
	shutdown     chan struct{}
	pollDone     chan struct{}
	workers      sync.WaitGroup
}

// Options configures a Service.
type Options struct {
	// Notifier receives completion summaries; nil disables notifications.
	Notifier Notifier
	// Logger receives diagnostics; nil means discard.
	Logger *logger.Logger
	// LockPath is the singleton PID-lock file.
	LockPath string
}

// New creates a stopped executor service.
func New(st store.TaskStore, run *runner.Runner, control *runner.Controller, opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		store:    st,
		runner:   run,
		control:  control,
		notifier: opts.Notifier,
		log:      log,
		lockPath: opts.LockPath,
		active:   make(map[string]bool),
	}
}

// Start launches the polling controller. Fails with ErrAlreadyRunning when
// this or another process already runs an executor over the same data
// directory.
func (s *Service) Start(maxWorkers int, pollInterval time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("%w: this process", ErrAlreadyRunning)
	}
	if maxWorkers <= 0 {
		maxWorkers = 3
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	if s.lockPath != "" {
		lock, err := AcquireLock(s.lockPath)
		if err != nil {
			return err
		}
		s.lock = lock
	}

	s.running = true
	s.maxWorkers = maxWorkers
	s.pollInterval = pollInterval
	s.shutdown = make(chan struct{})
	s.pollDone = make(chan struct{})

	go s.pollLoop(s.shutdown, s.pollDone, pollInterval)

	s.log.Info("task executor started (max_workers=%d, poll_interval=%s)", maxWorkers, pollInterval)
	return nil
}

// Stop halts polling and waits up to gracefulTimeout for in-flight workers.
// Workers still running after the deadline have their agent subprocesses
// killed.
func (s *Service) Stop(gracefulTimeout time.Duration) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	shutdown := s.shutdown
	pollDone := s.pollDone
	s.mu.Unlock()

	close(shutdown)
	<-pollDone

	finished := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(gracefulTimeout):
		s.log.Warn("graceful timeout elapsed, killing in-flight agents")
		for _, taskID := range s.activeTasks() {
			if err := s.control.Deliver(taskID, runner.SignalKill); err != nil {
				s.log.Warn("killing %s during shutdown: %v", taskID, err)
			}
		}
		<-finished
	}

	s.mu.Lock()
	s.running = false
	lock := s.lock
	s.lock = nil
	s.mu.Unlock()

	if err := lock.Release(); err != nil {
		s.log.Warn("releasing executor lock: %v", err)
	}
	s.log.Info("task executor stopped")
	return nil
}

// Status reports whether the executor runs and what it is doing.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := make([]string, 0, len(s.active))
	for id := range s.active {
		active = append(active, id)
	}
	return Status{
		Running:          s.running,
		MaxWorkers:       s.maxWorkers,
		ActiveTasks:      active,
		AvailableWorkers: s.maxWorkers - len(active),
		PollInterval:     s.pollInterval.Seconds(),
	}
}

// Running reports whether the service is started.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// pollLoop is the single controller goroutine: sleep, then claim tasks
// while worker slots are free. Storage errors are logged and retried on
// the next tick.
func (s *Service) pollLoop(shutdown <-chan struct{}, done chan<- struct{}, interval time.Duration) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-shutdown:
			return
		case <-ticker.C:
		}

		for s.slotFree() {
			task, err := s.store.AcquireForExecution()
			if err != nil {
				s.log.Error("acquiring task: %v", err)
				break
			}
			if task == nil {
				break
			}
			select {
			case <-shutdown:
				return
			default:
			}
			s.submit(task)
		}
	}
}

func (s *Service) slotFree() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running && len(s.active) < s.maxWorkers
}

func (s *Service) activeTasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	return ids
}

// submit hands a claimed task to its own worker goroutine.
func (s *Service) submit(task *models.Task) {
	s.mu.Lock()
	s.active[task.TaskID] = true
	busy := len(s.active)
	s.mu.Unlock()

	s.log.Info("task %s submitted (%d/%d workers busy)", task.TaskID, busy, s.maxWorkers)

	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		defer func() {
			s.mu.Lock()
			delete(s.active, task.TaskID)
			s.mu.Unlock()
		}()

		result, err := s.runner.Execute(task)
		if err != nil {
			if errors.Is(err, runner.ErrLaunchFailed) {
				s.log.Error("task %s failed to launch: %v", task.TaskID, err)
			} else {
				s.log.Error("task %s execution error: %v", task.TaskID, err)
			}
		}
		if result == nil {
			return
		}

		if s.notifier != nil {
			fresh, getErr := s.store.Get(task.TaskID)
			if getErr != nil {
				fresh = task
			}
			if nerr := s.notifier.Notify(fresh, result); nerr != nil {
				s.log.Warn("notification for %s failed: %v", task.TaskID, nerr)
			}
		}
	}()
}
