package models

import "time"

// TaskStatus represents the current state of a task in its lifecycle.
type TaskStatus string

const (
	// TaskStatusStaged indicates the task was created and awaits approval.
	TaskStatusStaged TaskStatus = "staged"
	// TaskStatusCommitted indicates the task was approved and is ready to execute.
	TaskStatusCommitted TaskStatus = "committed"
	// TaskStatusRunning indicates the task is currently executing.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusPaused indicates execution is suspended.
	TaskStatusPaused TaskStatus = "paused"
	// TaskStatusCompleted indicates the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was cancelled.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusStaged, TaskStatusCommitted, TaskStatusRunning,
		TaskStatusPaused, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions are allowed from the status.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// transitions is the allowed edge set of the task state machine.
var transitions = map[TaskStatus][]TaskStatus{
	TaskStatusStaged:    {TaskStatusCommitted, TaskStatusCancelled},
	TaskStatusCommitted: {TaskStatusRunning, TaskStatusCancelled},
	TaskStatusRunning:   {TaskStatusPaused, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled},
	TaskStatusPaused:    {TaskStatusRunning, TaskStatusCancelled},
}

// CanTransition reports whether moving from s to next is a legal edge.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// DefaultTimeoutSeconds is applied when a task has no explicit timeout.
const DefaultTimeoutSeconds = 900

// Task represents a research task moving through the staged-approval lifecycle.
type Task struct {
	// TaskID is the unique identifier, "task_" followed by 8 hex characters.
	TaskID string `json:"task_id"`
	// Description is the user's request, enriched after planning.
	Description string `json:"description"`
	// Status is the current lifecycle state.
	Status TaskStatus `json:"status"`
	// AllowedTools lists tool identifiers the agent may use. External
	// tool-server operations use the qualified form ext__<server>__<op>.
	AllowedTools []string `json:"allowed_tools,omitempty"`
	// AllowedDirectories lists absolute paths the agent may write to.
	// An empty list means the run is read-only.
	AllowedDirectories []string `json:"allowed_directories,omitempty"`
	// NeedsGit enables git/GitHub-CLI device-file and token access in the sandbox.
	NeedsGit bool `json:"needs_git,omitempty"`
	// SystemPrompt is the preamble passed to the agent binary.
	SystemPrompt string `json:"system_prompt,omitempty"`
	// EstimatedTokens is the planner's non-binding token estimate.
	EstimatedTokens int `json:"estimated_tokens,omitempty"`
	// EstimatedTime is the planner's non-binding time estimate in seconds.
	EstimatedTime int `json:"estimated_time,omitempty"`
	// TimeoutSeconds is the hard wall-clock limit for the run.
	TimeoutSeconds int `json:"timeout_seconds"`
	// ProcessID is the PID of the live agent subprocess, 0 when none.
	ProcessID int `json:"process_id,omitempty"`
	// ResultPath points at the raw-output artifact written by the runner.
	ResultPath string `json:"result_path,omitempty"`
	// TokenUsage is the cumulative token count reported by the agent.
	TokenUsage int `json:"token_usage,omitempty"`
	// ExecutionTime is the wall-clock run duration in seconds.
	ExecutionTime float64 `json:"execution_time,omitempty"`
	// ErrorMessage is set on FAILED or CANCELLED.
	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Timeout returns the task's wall-clock limit as a duration,
// falling back to the default when unset.
func (t *Task) Timeout() time.Duration {
	secs := t.TimeoutSeconds
	if secs <= 0 {
		secs = DefaultTimeoutSeconds
	}
	return time.Duration(secs) * time.Second
}

// LogEntry is one line of a task's append-only audit trail.
type LogEntry struct {
	TaskID    string    `json:"task_id"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}
