package store

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/james-alvey-42/nightshift/pkg/models"
)

const selectTaskSQL = `
	SELECT task_id, description, status, allowed_tools, allowed_directories,
	       needs_git, system_prompt, estimated_tokens, estimated_time,
	       timeout_seconds, process_id, result_path, token_usage,
	       execution_time, error_message, created_at, updated_at,
	       started_at, completed_at
	FROM tasks`

// rowScanner matches both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask hydrates one task row.
func scanTask(row rowScanner) (*models.Task, error) {
	var (
		task          models.Task
		status        string
		tools, dirs   sql.NullString
		needsGit      int
		systemPrompt  sql.NullString
		estTokens     sql.NullInt64
		estTime       sql.NullInt64
		processID     sql.NullInt64
		resultPath    sql.NullString
		tokenUsage    sql.NullInt64
		executionTime sql.NullFloat64
		errorMessage  sql.NullString
		createdAt     string
		updatedAt     string
		startedAt     sql.NullString
		completedAt   sql.NullString
	)

	err := row.Scan(
		&task.TaskID, &task.Description, &status, &tools, &dirs,
		&needsGit, &systemPrompt, &estTokens, &estTime,
		&task.TimeoutSeconds, &processID, &resultPath, &tokenUsage,
		&executionTime, &errorMessage, &createdAt, &updatedAt,
		&startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Status = models.TaskStatus(status)
	task.AllowedTools = unmarshalList(tools)
	task.AllowedDirectories = unmarshalList(dirs)
	task.NeedsGit = needsGit != 0
	task.SystemPrompt = systemPrompt.String
	task.EstimatedTokens = int(estTokens.Int64)
	task.EstimatedTime = int(estTime.Int64)
	task.ProcessID = int(processID.Int64)
	task.ResultPath = resultPath.String
	task.TokenUsage = int(tokenUsage.Int64)
	task.ExecutionTime = executionTime.Float64
	task.ErrorMessage = errorMessage.String

	if t, err := parseTime(createdAt); err == nil {
		task.CreatedAt = t
	}
	if t, err := parseTime(updatedAt); err == nil {
		task.UpdatedAt = t
	}
	task.StartedAt = parseNullableTime(startedAt)
	task.CompletedAt = parseNullableTime(completedAt)

	return &task, nil
}

// marshalList stores a string slice as a JSON array column, NULL when nil.
func marshalList(items []string) any {
	if items == nil {
		return nil
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil
	}
	return string(data)
}

// unmarshalList reads a JSON array column; NULL becomes nil.
func unmarshalList(s sql.NullString) []string {
	if !s.Valid || s.String == "" {
		return nil
	}
	var items []string
	if err := json.Unmarshal([]byte(s.String), &items); err != nil {
		return nil
	}
	return items
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

// formatTime formats a time.Time for SQLite storage. A fixed-width
// nanosecond fraction keeps created_at ordering strict under rapid inserts.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// parseNullableTime parses a nullable time string from SQLite.
func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}

func joinClauses(clauses []string) string {
	return strings.Join(clauses, ", ")
}
