// Package store provides the SQLite-backed task store for NightShift.
// It owns the tasks and task_logs tables and serializes every status
// mutation through the transition graph in pkg/models.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/james-alvey-42/nightshift/pkg/models"
)

// lockTimeout is how long a connection waits on a contended write lock.
const lockTimeout = 30 * time.Second

// Store wraps an SQLite database connection with task-queue operations.
// Safe for use from multiple worker goroutines; write transactions are
// serialized by SQLite's immediate locking.
type Store struct {
	conn *sql.DB
	path string
}

// UpdateFields carries the optional columns set alongside a status change.
// Nil pointers leave the column untouched.
type UpdateFields struct {
	ResultPath    *string
	ErrorMessage  *string
	TokenUsage    *int
	ExecutionTime *float64
	ProcessID     *int
}

// Open opens the task store at the given path, creating parent directories
// and the schema if needed. WAL journaling is enabled so readers and the
// single writer do not block each other.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, storageErr("open", fmt.Errorf("create db directory: %w", err))
	}

	// busy_timeout and foreign_keys are per-connection settings; as DSN
	// pragmas they apply to every connection the pool opens.
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)", path, lockTimeout.Milliseconds())
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storageErr("open", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", lockTimeout.Milliseconds()),
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, storageErr("open", fmt.Errorf("%s: %w", p, err))
		}
	}

	s := &Store{conn: conn, path: path}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Path returns the path to the database file.
func (s *Store) Path() string {
	return s.path
}

// migrate applies all pending schema migrations.
func (s *Store) migrate() error {
	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return storageErr("migrate", fmt.Errorf("create schema_version table: %w", err))
	}

	var current int
	row := s.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&current); err != nil {
		return storageErr("migrate", fmt.Errorf("get schema version: %w", err))
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Tasks},
		{2, migrationV2TaskLogs},
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.conn.Begin()
		if err != nil {
			return storageErr("migrate", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return storageErr("migrate", fmt.Errorf("apply migration v%d: %w", m.version, err))
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return storageErr("migrate", fmt.Errorf("record migration v%d: %w", m.version, err))
		}
		if err := tx.Commit(); err != nil {
			return storageErr("migrate", fmt.Errorf("commit migration v%d: %w", m.version, err))
		}
	}
	return nil
}

const migrationV1Tasks = `
CREATE TABLE IF NOT EXISTS tasks (
	task_id TEXT PRIMARY KEY,
	description TEXT NOT NULL,
	status TEXT NOT NULL,
	allowed_tools TEXT,
	allowed_directories TEXT,
	needs_git INTEGER NOT NULL DEFAULT 0,
	system_prompt TEXT,
	estimated_tokens INTEGER,
	estimated_time INTEGER,
	timeout_seconds INTEGER NOT NULL DEFAULT 900,
	process_id INTEGER,
	result_path TEXT,
	token_usage INTEGER,
	execution_time REAL,
	error_message TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	started_at TEXT,
	completed_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at);
`

const migrationV2TaskLogs = `
CREATE TABLE IF NOT EXISTS task_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	log_level TEXT NOT NULL,
	message TEXT NOT NULL,
	FOREIGN KEY (task_id) REFERENCES tasks(task_id)
);

CREATE INDEX IF NOT EXISTS idx_task_logs_task_id ON task_logs(task_id);
`

// Create inserts a new task. The task keeps whatever status it carries
// (normally STAGED); duplicate ids are rejected.
func (s *Store) Create(task *models.Task) error {
	if task.Status == "" {
		task.Status = models.TaskStatusStaged
	}
	now := time.Now()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	if task.TimeoutSeconds <= 0 {
		task.TimeoutSeconds = models.DefaultTimeoutSeconds
	}

	var exists int
	err := s.conn.QueryRow("SELECT COUNT(*) FROM tasks WHERE task_id = ?", task.TaskID).Scan(&exists)
	if err != nil {
		return storageErr("create", err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, task.TaskID)
	}

	_, err = s.conn.Exec(`
		INSERT INTO tasks (
			task_id, description, status, allowed_tools, allowed_directories,
			needs_git, system_prompt, estimated_tokens, estimated_time,
			timeout_seconds, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		task.TaskID,
		task.Description,
		string(task.Status),
		marshalList(task.AllowedTools),
		marshalList(task.AllowedDirectories),
		boolToInt(task.NeedsGit),
		nullString(task.SystemPrompt),
		nullInt(task.EstimatedTokens),
		nullInt(task.EstimatedTime),
		task.TimeoutSeconds,
		formatTime(task.CreatedAt),
		formatTime(task.UpdatedAt),
	)
	return storageErr("create", err)
}

// Get retrieves a task by id. Returns ErrNotFound if absent.
func (s *Store) Get(taskID string) (*models.Task, error) {
	row := s.conn.QueryRow(selectTaskSQL+" WHERE task_id = ?", taskID)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	if err != nil {
		return nil, storageErr("get", err)
	}
	return task, nil
}

// List returns tasks ordered by created_at descending, optionally filtered
// by status.
func (s *Store) List(status models.TaskStatus) ([]*models.Task, error) {
	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = s.conn.Query(selectTaskSQL+" WHERE status = ? ORDER BY created_at DESC", string(status))
	} else {
		rows, err = s.conn.Query(selectTaskSQL + " ORDER BY created_at DESC")
	}
	if err != nil {
		return nil, storageErr("list", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, storageErr("list", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, storageErr("list", rows.Err())
}

// UpdatePlan stores planner output on a task. Allowed only while STAGED.
// The execution timeout is left untouched; it belongs to the submitter.
func (s *Store) UpdatePlan(taskID string, plan *models.Plan) error {
	res, err := s.conn.Exec(`
		UPDATE tasks SET
			description = ?,
			allowed_tools = ?,
			allowed_directories = ?,
			needs_git = ?,
			system_prompt = ?,
			estimated_tokens = ?,
			estimated_time = ?,
			updated_at = ?
		WHERE task_id = ? AND status = ?
	`,
		plan.EnhancedPrompt,
		marshalList(plan.AllowedTools),
		marshalList(plan.AllowedDirectories),
		boolToInt(plan.NeedsGit),
		nullString(plan.SystemPrompt),
		nullInt(plan.EstimatedTokens),
		nullInt(plan.EstimatedTime),
		formatTime(time.Now()),
		taskID,
		string(models.TaskStatusStaged),
	)
	if err != nil {
		return storageErr("update_plan", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("update_plan", err)
	}
	if n == 0 {
		if _, err := s.Get(taskID); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrNotStaged, taskID)
	}
	return nil
}

// UpdateStatus moves a task along the transition graph, setting timestamps
// per the lifecycle invariants and any extra fields. The read-validate-write
// runs under an immediate transaction so concurrent mutators cannot race
// past the graph.
func (s *Store) UpdateStatus(taskID string, newStatus models.TaskStatus, fields *UpdateFields) error {
	if !newStatus.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, newStatus)
	}

	ctx := context.Background()
	conn, err := s.conn.Conn(ctx)
	if err != nil {
		return storageErr("update_status", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return storageErr("update_status", err)
	}
	commit := false
	defer func() {
		if !commit {
			conn.ExecContext(ctx, "ROLLBACK")
		}
	}()

	var current string
	var startedAt sql.NullString
	row := conn.QueryRowContext(ctx,
		"SELECT status, started_at FROM tasks WHERE task_id = ?", taskID)
	if err := row.Scan(&current, &startedAt); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: %s", ErrNotFound, taskID)
		}
		return storageErr("update_status", err)
	}

	from := models.TaskStatus(current)
	if !from.CanTransition(newStatus) {
		return transitionErr(taskID, from, newStatus)
	}

	now := formatTime(time.Now())
	setClauses := []string{"status = ?", "updated_at = ?"}
	args := []any{string(newStatus), now}

	if newStatus == models.TaskStatusRunning && !startedAt.Valid {
		setClauses = append(setClauses, "started_at = ?")
		args = append(args, now)
	}
	if newStatus.Terminal() {
		setClauses = append(setClauses, "completed_at = ?", "process_id = NULL")
		args = append(args, now)
	}

	if fields != nil {
		if fields.ResultPath != nil {
			setClauses = append(setClauses, "result_path = ?")
			args = append(args, *fields.ResultPath)
		}
		if fields.ErrorMessage != nil {
			setClauses = append(setClauses, "error_message = ?")
			args = append(args, *fields.ErrorMessage)
		}
		if fields.TokenUsage != nil {
			setClauses = append(setClauses, "token_usage = ?")
			args = append(args, *fields.TokenUsage)
		}
		if fields.ExecutionTime != nil {
			setClauses = append(setClauses, "execution_time = ?")
			args = append(args, *fields.ExecutionTime)
		}
		if fields.ProcessID != nil && !newStatus.Terminal() {
			setClauses = append(setClauses, "process_id = ?")
			args = append(args, *fields.ProcessID)
		}
	}

	args = append(args, taskID)
	query := "UPDATE tasks SET " + joinClauses(setClauses) + " WHERE task_id = ?"
	if _, err := conn.ExecContext(ctx, query, args...); err != nil {
		return storageErr("update_status", err)
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return storageErr("update_status", err)
	}
	commit = true
	return nil
}

// AcquireForExecution atomically claims the oldest COMMITTED task: it is
// moved to RUNNING with started_at set and returned. Returns (nil, nil)
// when no committed task exists. BEGIN IMMEDIATE takes the write lock up
// front so two workers cannot claim the same row.
func (s *Store) AcquireForExecution() (*models.Task, error) {
	ctx := context.Background()
	conn, err := s.conn.Conn(ctx)
	if err != nil {
		return nil, storageErr("acquire", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return nil, storageErr("acquire", err)
	}
	commit := false
	defer func() {
		if !commit {
			conn.ExecContext(ctx, "ROLLBACK")
		}
	}()

	var taskID string
	row := conn.QueryRowContext(ctx, `
		SELECT task_id FROM tasks
		WHERE status = ?
		ORDER BY created_at ASC
		LIMIT 1
	`, string(models.TaskStatusCommitted))
	if err := row.Scan(&taskID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, storageErr("acquire", err)
	}

	now := formatTime(time.Now())
	_, err = conn.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, updated_at = ?, started_at = ?
		WHERE task_id = ?
	`, string(models.TaskStatusRunning), now, now, taskID)
	if err != nil {
		return nil, storageErr("acquire", err)
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return nil, storageErr("acquire", err)
	}
	commit = true

	return s.Get(taskID)
}

// SetProcessInfo publishes a live subprocess PID and result path onto a
// task. Allowed only while the task is RUNNING or PAUSED; the runner calls
// this immediately after spawn, before any signal can be delivered.
func (s *Store) SetProcessInfo(taskID string, pid int, resultPath string) error {
	res, err := s.conn.Exec(`
		UPDATE tasks SET process_id = ?, result_path = ?, updated_at = ?
		WHERE task_id = ? AND status IN (?, ?)
	`,
		pid,
		resultPath,
		formatTime(time.Now()),
		taskID,
		string(models.TaskStatusRunning),
		string(models.TaskStatusPaused),
	)
	if err != nil {
		return storageErr("set_process_info", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("set_process_info", err)
	}
	if n == 0 {
		if _, err := s.Get(taskID); err != nil {
			return err
		}
		return fmt.Errorf("%w: task %s is not running", ErrInvalidTransition, taskID)
	}
	return nil
}

// CountByStatus returns how many tasks hold the given status.
func (s *Store) CountByStatus(status models.TaskStatus) (int, error) {
	var n int
	err := s.conn.QueryRow(
		"SELECT COUNT(*) FROM tasks WHERE status = ?", string(status)).Scan(&n)
	return n, storageErr("count", err)
}

// AppendLog records one audit-trail entry for a task.
func (s *Store) AppendLog(taskID, level, message string) error {
	_, err := s.conn.Exec(`
		INSERT INTO task_logs (task_id, timestamp, log_level, message)
		VALUES (?, ?, ?, ?)
	`, taskID, formatTime(time.Now()), level, message)
	return storageErr("append_log", err)
}

// GetLogs returns a task's audit trail in insertion order.
func (s *Store) GetLogs(taskID string) ([]models.LogEntry, error) {
	rows, err := s.conn.Query(`
		SELECT timestamp, log_level, message
		FROM task_logs
		WHERE task_id = ?
		ORDER BY id ASC
	`, taskID)
	if err != nil {
		return nil, storageErr("get_logs", err)
	}
	defer rows.Close()

	var entries []models.LogEntry
	for rows.Next() {
		var ts, level, msg string
		if err := rows.Scan(&ts, &level, &msg); err != nil {
			return nil, storageErr("get_logs", err)
		}
		t, err := parseTime(ts)
		if err != nil {
			t = time.Time{}
		}
		entries = append(entries, models.LogEntry{
			TaskID:    taskID,
			Timestamp: t,
			Level:     level,
			Message:   msg,
		})
	}
	return entries, storageErr("get_logs", rows.Err())
}

// Delete removes a task and its logs. Returns ErrNotFound for unknown ids.
func (s *Store) Delete(taskID string) error {
	if _, err := s.conn.Exec("DELETE FROM task_logs WHERE task_id = ?", taskID); err != nil {
		return storageErr("delete", err)
	}
	res, err := s.conn.Exec("DELETE FROM tasks WHERE task_id = ?", taskID)
	if err != nil {
		return storageErr("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("delete", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	return nil
}

// Clear truncates both tables. Used by the front-end clear-all operation.
func (s *Store) Clear() error {
	if _, err := s.conn.Exec("DELETE FROM task_logs"); err != nil {
		return storageErr("clear", err)
	}
	_, err := s.conn.Exec("DELETE FROM tasks")
	return storageErr("clear", err)
}
