// Package notify composes completion summaries for finished tasks,
// persists them as JSON artifacts, and pushes them to the terminal and
// any configured external sinks.
package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/james-alvey-42/nightshift/internal/logger"
	"github.com/james-alvey-42/nightshift/internal/runner"
	"github.com/james-alvey-42/nightshift/pkg/models"
)

const (
	maxDescriptionLen = 500
	maxResponseLen    = 1000
	maxErrorLen       = 500
	// maxFilesPerBucket bounds rendered file lists; the summary artifact
	// keeps the full lists.
	maxFilesPerBucket = 5
)

// NotifierError wraps a summary persistence failure. Sink failures are
// logged and swallowed instead.
type NotifierError struct {
	Op  string
	Err error
}

func (e *NotifierError) Error() string {
	return fmt.Sprintf("notifier %s: %v", e.Op, e.Err)
}

func (e *NotifierError) Unwrap() error { return e.Err }

// Sink posts a formatted summary to an external destination.
type Sink interface {
	Name() string
	Send(summary *models.Summary) error
}

// Notifier assembles and distributes task summaries.
type Notifier struct {
	dir      string
	terminal bool
	sinks    []Sink
	log      *logger.Logger
}

// Options configures a Notifier.
type Options struct {
	// Terminal enables the human-readable terminal rendering.
	Terminal bool
	// Sinks are the external destinations (e.g. Slack).
	Sinks []Sink
	// Logger receives diagnostics; nil means discard.
	Logger *logger.Logger
}

// New creates a Notifier persisting summaries under dir.
func New(dir string, opts Options) *Notifier {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Notifier{
		dir:      dir,
		terminal: opts.Terminal,
		sinks:    opts.Sinks,
		log:      log,
	}
}

// Notify composes the summary for a finished task, persists it, renders it
// to the terminal, and posts it to each sink. Only persistence failures
// surface; sink failures are logged and swallowed.
func (n *Notifier) Notify(task *models.Task, result *runner.Result) error {
	summary := n.BuildSummary(task, result)

	if err := n.persist(summary); err != nil {
		return err
	}

	if n.terminal {
		renderTerminal(summary)
	}

	for _, sink := range n.sinks {
		if err := sink.Send(summary); err != nil {
			n.log.Warn("%s notification for %s failed: %v", sink.Name(), summary.TaskID, err)
		}
	}
	return nil
}

// BuildSummary assembles the bounded summary record from the task, the
// run result, and the raw output artifact.
func (n *Notifier) BuildSummary(task *models.Task, result *runner.Result) *models.Summary {
	summary := &models.Summary{
		TaskID:        task.TaskID,
		Description:   truncate(task.Description, maxDescriptionLen),
		Status:        result.Status,
		Timestamp:     time.Now(),
		ExecutionTime: result.ExecutionTime,
		TokenUsage:    result.TokenUsage,
		FileChanges:   models.GroupChanges(result.FileChanges),
		ErrorMessage:  truncate(result.ErrorMessage, maxErrorLen),
		ResultPath:    result.ResultPath,
	}

	if result.ResultPath != "" {
		if artifact, err := runner.LoadArtifact(result.ResultPath); err == nil {
			summary.ResponseText = truncate(runner.ExtractResponseText(artifact.Stdout), maxResponseLen)
		}
	}
	return summary
}

// persist writes the summary artifact
// (<dir>/<task_id>_notification.json).
func (n *Notifier) persist(summary *models.Summary) error {
	if err := os.MkdirAll(n.dir, 0o755); err != nil {
		return &NotifierError{Op: "persist", Err: err}
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return &NotifierError{Op: "persist", Err: err}
	}
	path := filepath.Join(n.dir, summary.TaskID+"_notification.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &NotifierError{Op: "persist", Err: err}
	}
	return nil
}

// truncate bounds a string, marking the cut.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "... [truncated]"
}

// capFiles limits a file list for rendering, appending an "and N more"
// marker when the list is cut.
func capFiles(files []string) []string {
	if len(files) <= maxFilesPerBucket {
		return files
	}
	capped := make([]string, maxFilesPerBucket, maxFilesPerBucket+1)
	copy(capped, files[:maxFilesPerBucket])
	return append(capped, fmt.Sprintf("... and %d more", len(files)-maxFilesPerBucket))
}
