// Package planner converts natural-language task descriptions into
// structured execution plans by invoking the agent binary in single-shot
// planning mode.
package planner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/james-alvey-42/nightshift/internal/agentenv"
	"github.com/james-alvey-42/nightshift/internal/exec"
	"github.com/james-alvey-42/nightshift/internal/logger"
	"github.com/james-alvey-42/nightshift/internal/toolconfig"
	"github.com/james-alvey-42/nightshift/pkg/models"
)

// ErrInvalidPlan indicates the planner response failed validation.
var ErrInvalidPlan = errors.New("invalid plan")

// ErrUnknownTool indicates the plan references a tool server the registry
// does not know.
var ErrUnknownTool = errors.New("unknown tool")

// ErrPlannerTimeout indicates planning exceeded the wall-clock limit.
var ErrPlannerTimeout = errors.New("planner timeout")

// defaultPlanTimeout bounds one planning invocation.
const defaultPlanTimeout = 120 * time.Second

// Planner invokes the agent binary to plan and revise tasks.
type Planner struct {
	agentBin  string
	timeout   time.Duration
	registry  *toolconfig.Manager
	runner    exec.CommandRunner
	log       *logger.Logger
	tokenFile string

	toolsReference string
	directoryMap   string
}

// Options configures a Planner.
type Options struct {
	// AgentBin is the agent binary name or path. Defaults to "claude".
	AgentBin string
	// Timeout bounds a single planning call.
	Timeout time.Duration
	// Runner substitutes command execution in tests.
	Runner exec.CommandRunner
	// Logger receives diagnostics; nil means discard.
	Logger *logger.Logger
	// TokenFile is the fallback subscription-token file.
	TokenFile string
	// ToolsReferencePath points at tool documentation embedded in prompts.
	ToolsReferencePath string
	// DirectoryMapPath points at the optional directory map for prompts.
	DirectoryMapPath string
}

// New creates a Planner over the given tool-server registry.
func New(registry *toolconfig.Manager, opts Options) *Planner {
	p := &Planner{
		agentBin:  opts.AgentBin,
		timeout:   opts.Timeout,
		registry:  registry,
		runner:    opts.Runner,
		log:       opts.Logger,
		tokenFile: opts.TokenFile,
	}
	if p.agentBin == "" {
		p.agentBin = "claude"
	}
	if p.timeout <= 0 {
		p.timeout = defaultPlanTimeout
	}
	if p.runner == nil {
		p.runner = exec.NewRunner()
	}
	if p.log == nil {
		p.log = logger.Nop()
	}
	if opts.ToolsReferencePath != "" {
		if data, err := os.ReadFile(opts.ToolsReferencePath); err == nil {
			p.toolsReference = string(data)
		}
	}
	if opts.DirectoryMapPath != "" {
		if data, err := os.ReadFile(opts.DirectoryMapPath); err == nil {
			p.directoryMap = string(data)
		}
	}
	return p
}

// Plan analyzes a task description and returns a validated execution plan.
func (p *Planner) Plan(description string) (*models.Plan, error) {
	prompt := p.planningPrompt(description)
	return p.invoke(prompt)
}

// Revise refines an existing plan according to user feedback.
func (p *Planner) Revise(current *models.Plan, feedback string) (*models.Plan, error) {
	prompt := p.revisionPrompt(current, feedback)
	return p.invoke(prompt)
}

// invoke runs one planning call: empty tool manifest, structured-output
// schema, bounded wall clock.
func (p *Planner) invoke(prompt string) (*models.Plan, error) {
	manifestPath, err := p.registry.WriteMinimal(nil)
	if err != nil {
		return nil, fmt.Errorf("planner tool manifest: %w", err)
	}
	defer os.Remove(manifestPath)

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	cmd := exec.Command{
		Name: p.agentBin,
		Args: []string{
			"-p", prompt,
			"--output-format", "json",
			"--json-schema", planSchema,
			"--tool-config", manifestPath,
		},
		Env: agentenv.Build(p.tokenFile),
	}

	stdout, stderr, err := p.runner.Run(ctx, cmd)
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%w: planning exceeded %s", ErrPlannerTimeout, p.timeout)
	}
	if err != nil {
		p.log.Error("planning command failed: %v; stderr: %s", err, truncate(string(stderr), 500))
		return nil, fmt.Errorf("planning failed: %w", err)
	}

	plan, err := ParseResponse(stdout)
	if err != nil {
		p.log.Error("planning response unparseable: %v", err)
		return nil, err
	}

	if err := p.validate(plan); err != nil {
		return nil, err
	}

	if plan.EstimatedTokens == 0 || plan.EstimatedTime == 0 {
		est := QuickEstimate(plan.EnhancedPrompt)
		if plan.EstimatedTokens == 0 {
			plan.EstimatedTokens = est.Tokens
		}
		if plan.EstimatedTime == 0 {
			plan.EstimatedTime = est.Seconds
		}
	}

	p.log.Debug("plan created: tools=%v dirs=%v needs_git=%v",
		plan.AllowedTools, plan.AllowedDirectories, plan.NeedsGit)
	return plan, nil
}

// validate enforces required fields and known tool servers.
func (p *Planner) validate(plan *models.Plan) error {
	if plan.EnhancedPrompt == "" {
		return fmt.Errorf("%w: missing enhanced_prompt", ErrInvalidPlan)
	}
	if plan.SystemPrompt == "" {
		return fmt.Errorf("%w: missing system_prompt", ErrInvalidPlan)
	}
	if plan.AllowedTools == nil {
		return fmt.Errorf("%w: missing allowed_tools", ErrInvalidPlan)
	}
	// Absent allowed_directories is an error; an empty list means a
	// read-only run and is fine.
	if plan.AllowedDirectories == nil {
		return fmt.Errorf("%w: missing allowed_directories", ErrInvalidPlan)
	}

	for _, server := range toolconfig.ExtractServerNames(plan.AllowedTools) {
		if !p.registry.Has(server) {
			return fmt.Errorf("%w: tool server %q not in registry", ErrUnknownTool, server)
		}
	}
	return nil
}

// Estimate is a rough resource guess for a task.
type Estimate struct {
	Tokens  int
	Seconds int
}

// QuickEstimate is the heuristic fallback used when the planner response
// carries no estimates.
func QuickEstimate(description string) Estimate {
	lower := strings.ToLower(description)
	switch {
	case strings.Contains(lower, "arxiv") || strings.Contains(lower, "paper"):
		return Estimate{Tokens: 2500, Seconds: 300}
	case strings.Contains(lower, "csv") || strings.Contains(lower, "data") ||
		strings.Contains(lower, "analyze") || strings.Contains(lower, "plot"):
		return Estimate{Tokens: 1500, Seconds: 300}
	default:
		return Estimate{Tokens: 500, Seconds: 120}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
