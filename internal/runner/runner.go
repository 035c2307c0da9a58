// Package runner spawns sandboxed agent-binary subprocesses for committed
// tasks, stream-parses their output, and enforces pause/resume/kill and
// timeout semantics. All subprocess-level failures are converted into
// terminal task states; only a launch failure before PID publication
// surfaces as an error.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	osexec "os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/james-alvey-42/nightshift/internal/agentenv"
	"github.com/james-alvey-42/nightshift/internal/exec"
	"github.com/james-alvey-42/nightshift/internal/logger"
	"github.com/james-alvey-42/nightshift/internal/sandbox"
	"github.com/james-alvey-42/nightshift/internal/store"
	"github.com/james-alvey-42/nightshift/internal/toolconfig"
	"github.com/james-alvey-42/nightshift/internal/tracker"
	"github.com/james-alvey-42/nightshift/pkg/models"
)

// ErrLaunchFailed indicates the subprocess could not be spawned or its PID
// could not be recorded. The task is moved to FAILED before this surfaces.
var ErrLaunchFailed = errors.New("launch failed")

// Result summarizes one agent run.
type Result struct {
	// Status is "success", "failure", or "cancelled".
	Status string
	// TokenUsage is the cumulative token count reported by the agent.
	TokenUsage int
	// ExecutionTime is the wall-clock duration in seconds.
	ExecutionTime float64
	// ResultPath is the raw-output artifact location.
	ResultPath string
	// ErrorMessage is set on failure or cancellation.
	ErrorMessage string
	// FileChanges is the tracked filesystem diff for the run.
	FileChanges []models.FileChange
}

const (
	// StatusSuccess is a zero-exit run.
	StatusSuccess = "success"
	// StatusFailure is a non-zero exit, timeout, or launch failure.
	StatusFailure = "failure"
	// StatusCancelled is a user-killed run.
	StatusCancelled = "cancelled"
)

// ghTokenTimeout bounds the GitHub-CLI token fetch.
const ghTokenTimeout = 5 * time.Second

// Runner executes agent subprocesses for tasks.
type Runner struct {
	store     store.TaskStore
	sandbox   *sandbox.Manager
	tools     *toolconfig.Manager
	control   *Controller
	log       *logger.Logger
	ghRunner  exec.CommandRunner
	agentBin  string
	outputDir string
	workDir   string
	tokenFile string
}

// Options configures a Runner.
type Options struct {
	// AgentBin is the agent binary name or path. Defaults to "claude".
	AgentBin string
	// OutputDir receives per-task artifacts.
	OutputDir string
	// WorkDir is the tracked working directory. Defaults to the process cwd.
	WorkDir string
	// TokenFile is the fallback subscription-token file.
	TokenFile string
	// GHRunner substitutes the GitHub-CLI token fetch in tests.
	GHRunner exec.CommandRunner
	// Logger receives diagnostics; nil means discard.
	Logger *logger.Logger
}

// New creates a Runner.
func New(st store.TaskStore, sb *sandbox.Manager, tools *toolconfig.Manager, control *Controller, opts Options) *Runner {
	r := &Runner{
		store:     st,
		sandbox:   sb,
		tools:     tools,
		control:   control,
		log:       opts.Logger,
		ghRunner:  opts.GHRunner,
		agentBin:  opts.AgentBin,
		outputDir: opts.OutputDir,
		workDir:   opts.WorkDir,
		tokenFile: opts.TokenFile,
	}
	if r.agentBin == "" {
		r.agentBin = "claude"
	}
	if r.workDir == "" {
		if cwd, err := os.Getwd(); err == nil {
			r.workDir = cwd
		}
	}
	if r.ghRunner == nil {
		r.ghRunner = exec.NewRunner()
	}
	if r.log == nil {
		r.log = logger.Nop()
	}
	return r
}

// Execute runs one task to a terminal state. The task must already be
// RUNNING (claimed through the store's acquisition). The returned error is
// non-nil only for launch failures.
func (r *Runner) Execute(task *models.Task) (*Result, error) {
	start := time.Now()
	timeout := task.Timeout()

	credentialFiles := r.tools.CredentialFiles(task.AllowedTools)
	profilePath, err := r.sandbox.Generate(task.AllowedDirectories, task.NeedsGit, credentialFiles)
	if err != nil {
		return r.launchFailure(task, start, fmt.Errorf("sandbox profile: %w", err))
	}
	defer removeIfSet(profilePath)

	manifestPath, err := r.tools.WriteMinimal(task.AllowedTools)
	if err != nil {
		return r.launchFailure(task, start, fmt.Errorf("tool manifest: %w", err))
	}
	defer removeIfSet(manifestPath)

	track, err := tracker.New(r.workDir)
	if err == nil {
		err = track.Start()
	}
	if err != nil {
		return r.launchFailure(task, start, fmt.Errorf("file tracker: %w", err))
	}

	argv := r.buildCommand(task, manifestPath)
	argv = r.sandbox.Wrap(argv, profilePath)

	env := agentenv.Build(r.tokenFile)
	if task.NeedsGit {
		env = r.withGHToken(env)
	}

	cmd := osexec.Command(argv[0], argv[1:]...)
	cmd.Env = env
	cmd.Dir = r.workDir
	// Own process group so stop/continue/kill reach the agent's children.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return r.launchFailure(task, start, fmt.Errorf("stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return r.launchFailure(task, start, fmt.Errorf("stderr pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		return r.launchFailure(task, start, fmt.Errorf("spawn agent: %w", err))
	}
	pid := cmd.Process.Pid

	resultPath := ArtifactPath(r.outputDir, task.TaskID)
	if err := r.store.SetProcessInfo(task.TaskID, pid, resultPath); err != nil {
		// PID could not be recorded: kill the orphan and raise LaunchFailed.
		cmd.Process.Kill()
		cmd.Wait()
		return r.launchFailure(task, start, fmt.Errorf("record PID: %w", err))
	}
	r.store.AppendLog(task.TaskID, "INFO", fmt.Sprintf("agent started (pid %d)", pid))
	r.log.Info("task %s executing with pid %d", task.TaskID, pid)

	entry := r.control.register(task.TaskID, pid)
	defer r.control.unregister(task.TaskID)

	parser := NewStreamParser()
	var stderrBuf strings.Builder
	var stderrMu sync.Mutex

	artifact := &Artifact{
		TaskID:  task.TaskID,
		Command: strings.Join(argv, " "),
		Status:  "running",
	}
	WriteArtifact(resultPath, artifact)

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		scanner := bufio.NewScanner(stdout)
		buf := make([]byte, 64*1024)
		scanner.Buffer(buf, 1024*1024)
		for scanner.Scan() {
			parser.Feed(scanner.Text())
			// Rewrite the artifact as output streams so partial output
			// survives kills and timeouts.
			artifact.Stdout = parser.Raw()
			artifact.TokenUsage = parser.TokenUsage()
			artifact.ExecutionTime = time.Since(start).Seconds()
			WriteArtifact(resultPath, artifact)
		}
	}()
	go func() {
		defer readers.Done()
		scanner := bufio.NewScanner(stderr)
		buf := make([]byte, 16*1024)
		scanner.Buffer(buf, 256*1024)
		for scanner.Scan() {
			stderrMu.Lock()
			stderrBuf.WriteString(scanner.Text())
			stderrBuf.WriteByte('\n')
			stderrMu.Unlock()
		}
	}()

	waitCh := make(chan error, 1)
	go func() {
		readers.Wait()
		waitCh <- cmd.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var (
		waitErr   error
		paused    bool
		timedOut  bool
		cancelled bool
		cancelMsg string
	)

loop:
	for {
		select {
		case waitErr = <-waitCh:
			break loop

		case <-timer.C:
			timedOut = true
			signalGroup(pid, syscall.SIGKILL)
			r.store.AppendLog(task.TaskID, "ERROR",
				fmt.Sprintf("task exceeded timeout of %ds, killing agent", int(timeout.Seconds())))

		case req := <-entry.signals:
			switch req.kind {
			case SignalPause:
				err := signalGroup(pid, syscall.SIGSTOP)
				if err == nil {
					err = r.store.UpdateStatus(task.TaskID, models.TaskStatusPaused, nil)
				}
				if err == nil {
					paused = true
					r.store.AppendLog(task.TaskID, "INFO", "task paused")
				}
				req.reply <- err

			case SignalResume:
				err := signalGroup(pid, syscall.SIGCONT)
				if err == nil {
					err = r.store.UpdateStatus(task.TaskID, models.TaskStatusRunning, nil)
				}
				if err == nil {
					paused = false
					r.store.AppendLog(task.TaskID, "INFO", "task resumed")
				}
				req.reply <- err

			case SignalKill:
				cancelled = true
				cancelMsg = "task killed by user"
				if err := signalGroup(pid, syscall.SIGKILL); errors.Is(err, syscall.ESRCH) {
					cancelMsg = "already terminated"
				}
				r.store.AppendLog(task.TaskID, "INFO", "kill signal delivered")
				req.reply <- nil
			}
		}
	}

	execTime := time.Since(start).Seconds()

	exitCode := 0
	if waitErr != nil {
		exitCode = -1
		var exitErr *osexec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
	}

	changes, trackErr := track.Stop()
	if trackErr != nil {
		r.log.Warn("file tracking failed for %s: %v", task.TaskID, trackErr)
	}
	if _, err := tracker.SaveChanges(task.TaskID, changes, r.outputDir); err != nil {
		r.log.Warn("saving file changes for %s: %v", task.TaskID, err)
	}

	stderrMu.Lock()
	stderrText := stderrBuf.String()
	stderrMu.Unlock()

	result := &Result{
		TokenUsage:    parser.TokenUsage(),
		ExecutionTime: execTime,
		ResultPath:    resultPath,
		FileChanges:   changes,
	}

	switch {
	case cancelled:
		result.Status = StatusCancelled
		result.ErrorMessage = cancelMsg
		artifact.Status = "cancelled"
	case timedOut:
		result.Status = StatusFailure
		result.ErrorMessage = fmt.Sprintf("task exceeded timeout of %ds", int(timeout.Seconds()))
		artifact.Status = "failed"
	case exitCode == 0:
		result.Status = StatusSuccess
		artifact.Status = "completed"
	default:
		result.Status = StatusFailure
		result.ErrorMessage = failureMessage(stderrText)
		artifact.Status = "failed"
	}

	artifact.Stdout = parser.Raw()
	artifact.Stderr = stderrText
	artifact.ReturnCode = exitCode
	artifact.ExecutionTime = execTime
	artifact.TokenUsage = parser.TokenUsage()
	artifact.ToolCalls = parser.ToolCalls()
	if err := WriteArtifact(resultPath, artifact); err != nil {
		r.log.Error("writing artifact for %s: %v", task.TaskID, err)
	}

	// Temp files go before the terminal status is committed; the deferred
	// removes are a backstop only.
	removeIfSet(profilePath)
	removeIfSet(manifestPath)

	r.commitTerminal(task.TaskID, result, paused)
	return result, nil
}

// buildCommand assembles the agent invocation in streaming-output mode.
func (r *Runner) buildCommand(task *models.Task, manifestPath string) []string {
	argv := []string{
		r.agentBin,
		"-p", task.Description,
		"--output-format", "stream-json",
		"--verbose",
		"--tool-config", manifestPath,
	}
	if len(task.AllowedTools) > 0 {
		argv = append(argv, "--allowed-tools", strings.Join(task.AllowedTools, ","))
	}
	if task.SystemPrompt != "" {
		argv = append(argv, "--system-prompt", task.SystemPrompt)
	}
	return argv
}

// withGHToken shells out to the GitHub CLI once and injects GH_TOKEN for
// the child. Failure is non-fatal; git tasks may still work unauthenticated.
func (r *Runner) withGHToken(env []string) []string {
	ctx, cancel := context.WithTimeout(context.Background(), ghTokenTimeout)
	defer cancel()

	stdout, _, err := r.ghRunner.Run(ctx, exec.Command{Name: "gh", Args: []string{"auth", "token"}})
	if err != nil {
		r.log.Warn("could not load GH_TOKEN: %v", err)
		return env
	}
	token := strings.TrimSpace(string(stdout))
	if token == "" {
		return env
	}
	return agentenv.With(env, "GH_TOKEN="+token)
}

// commitTerminal persists the terminal status and result fields. A paused
// task is first resumed in the store so the terminal edge stays legal.
func (r *Runner) commitTerminal(taskID string, result *Result, paused bool) {
	terminal := models.TaskStatusCompleted
	switch result.Status {
	case StatusFailure:
		terminal = models.TaskStatusFailed
	case StatusCancelled:
		terminal = models.TaskStatusCancelled
	}

	if paused && terminal == models.TaskStatusFailed {
		if err := r.store.UpdateStatus(taskID, models.TaskStatusRunning, nil); err != nil {
			r.log.Warn("unpausing %s before terminal state: %v", taskID, err)
		}
	}

	fields := &store.UpdateFields{
		TokenUsage:    &result.TokenUsage,
		ExecutionTime: &result.ExecutionTime,
		ResultPath:    &result.ResultPath,
	}
	if result.ErrorMessage != "" {
		fields.ErrorMessage = &result.ErrorMessage
	}

	if err := r.store.UpdateStatus(taskID, terminal, fields); err != nil {
		r.log.Error("committing terminal status for %s: %v", taskID, err)
		return
	}

	level := "INFO"
	msg := fmt.Sprintf("task %s (%.1fs, %d tokens)", terminal, result.ExecutionTime, result.TokenUsage)
	if terminal != models.TaskStatusCompleted {
		level = "ERROR"
		msg = fmt.Sprintf("task %s: %s", terminal, result.ErrorMessage)
	}
	r.store.AppendLog(taskID, level, msg)
}

// launchFailure marks a task FAILED before its PID was published and
// returns the wrapped launch error.
func (r *Runner) launchFailure(task *models.Task, start time.Time, cause error) (*Result, error) {
	execTime := time.Since(start).Seconds()
	msg := fmt.Sprintf("launch failed: %v", cause)

	fields := &store.UpdateFields{
		ErrorMessage:  &msg,
		ExecutionTime: &execTime,
	}
	if err := r.store.UpdateStatus(task.TaskID, models.TaskStatusFailed, fields); err != nil {
		r.log.Error("marking %s failed after launch error: %v", task.TaskID, err)
	}
	r.store.AppendLog(task.TaskID, "ERROR", msg)

	return &Result{
		Status:        StatusFailure,
		ExecutionTime: execTime,
		ErrorMessage:  msg,
	}, fmt.Errorf("%w: %v", ErrLaunchFailed, cause)
}

// failureMessage derives a task error message from stderr.
func failureMessage(stderr string) string {
	msg := strings.TrimSpace(stderr)
	if msg == "" {
		return "agent process returned non-zero exit code"
	}
	if len(msg) > 500 {
		msg = msg[:500] + "..."
	}
	return msg
}

// signalGroup signals the subprocess's whole process group.
func signalGroup(pid int, sig syscall.Signal) error {
	return syscall.Kill(-pid, sig)
}

func removeIfSet(path string) {
	if path != "" {
		os.Remove(path)
	}
}
