package planner

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/james-alvey-42/nightshift/internal/exec"
	"github.com/james-alvey-42/nightshift/internal/toolconfig"
	"github.com/james-alvey-42/nightshift/pkg/models"
)

// fakeRunner returns canned output, optionally blocking until the context
// expires to simulate a hung agent binary.
type fakeRunner struct {
	stdout []byte
	stderr []byte
	err    error
	hang   bool

	lastCmd exec.Command
}

func (f *fakeRunner) Run(ctx context.Context, cmd exec.Command) ([]byte, []byte, error) {
	f.lastCmd = cmd
	if f.hang {
		<-ctx.Done()
		return nil, nil, ctx.Err()
	}
	return f.stdout, f.stderr, f.err
}

func emptyRegistry(t *testing.T) *toolconfig.Manager {
	t.Helper()
	m, err := toolconfig.Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func registryWith(t *testing.T, names ...string) *toolconfig.Manager {
	t.Helper()
	content := "{"
	for i, n := range names {
		if i > 0 {
			content += ","
		}
		content += `"` + n + `": {"command": "` + n + `-server"}`
	}
	content += "}"
	path := filepath.Join(t.TempDir(), "reg.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := toolconfig.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

const planJSON = `{
	"enhanced_prompt": "Write a haiku about dusk and save it to haiku.md",
	"allowed_tools": ["Write"],
	"allowed_directories": ["/home/user/work"],
	"needs_git": false,
	"system_prompt": "Do all work in the allowed directories.",
	"estimated_tokens": 500,
	"estimated_time": 30,
	"reasoning": "Only file output is needed."
}`

func wantPlan() *models.Plan {
	return &models.Plan{
		EnhancedPrompt:     "Write a haiku about dusk and save it to haiku.md",
		AllowedTools:       []string{"Write"},
		AllowedDirectories: []string{"/home/user/work"},
		NeedsGit:           false,
		SystemPrompt:       "Do all work in the allowed directories.",
		EstimatedTokens:    500,
		EstimatedTime:      30,
		Reasoning:          "Only file output is needed.",
	}
}

func TestParseResponseThreeShapes(t *testing.T) {
	shapes := map[string]string{
		"structured_output": `{"structured_output": ` + planJSON + `}`,
		"result_plain":      `{"result": ` + quoteJSON(planJSON) + `}`,
		"result_fenced":     `{"result": ` + quoteJSON("```json\n"+planJSON+"\n```") + `}`,
		"result_bare_fence": `{"result": ` + quoteJSON("```\n"+planJSON+"\n```") + `}`,
		"raw":               planJSON,
	}

	want := wantPlan()
	for name, input := range shapes {
		t.Run(name, func(t *testing.T) {
			got, err := ParseResponse([]byte(input))
			if err != nil {
				t.Fatalf("ParseResponse: %v", err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("plan mismatch:\ngot  %+v\nwant %+v", got, want)
			}
		})
	}
}

func TestParseResponseRepairsNearJSON(t *testing.T) {
	// Trailing comma is invalid JSON but repairable.
	broken := `{
		"enhanced_prompt": "p",
		"allowed_tools": ["Write"],
		"allowed_directories": [],
		"needs_git": false,
		"system_prompt": "s",
	}`
	got, err := ParseResponse([]byte(broken))
	if err != nil {
		t.Fatalf("ParseResponse on repairable JSON: %v", err)
	}
	if got.EnhancedPrompt != "p" || got.SystemPrompt != "s" {
		t.Errorf("repaired plan = %+v", got)
	}
}

func TestParseResponseGarbage(t *testing.T) {
	if _, err := ParseResponse([]byte("")); !errors.Is(err, ErrInvalidPlan) {
		t.Errorf("empty: %v", err)
	}
}

func TestPlanHappyPath(t *testing.T) {
	runner := &fakeRunner{stdout: []byte(`{"structured_output": ` + planJSON + `}`)}
	p := New(emptyRegistry(t), Options{Runner: runner})

	plan, err := p.Plan("write a haiku about dusk")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if !reflect.DeepEqual(plan, wantPlan()) {
		t.Errorf("plan = %+v", plan)
	}

	// The invocation must use the structured output mode with a schema.
	args := runner.lastCmd.Args
	if !containsArg(args, "--json-schema") || !containsArg(args, "--output-format") {
		t.Errorf("invocation args missing schema flags: %v", args)
	}
}

func TestPlanMissingDirectoriesIsInvalid(t *testing.T) {
	resp := `{"structured_output": {
		"enhanced_prompt": "p",
		"allowed_tools": ["Write"],
		"needs_git": false,
		"system_prompt": "s"
	}}`
	p := New(emptyRegistry(t), Options{Runner: &fakeRunner{stdout: []byte(resp)}})

	_, err := p.Plan("whatever")
	if !errors.Is(err, ErrInvalidPlan) {
		t.Errorf("want ErrInvalidPlan, got %v", err)
	}
}

func TestPlanEmptyDirectoriesIsReadOnly(t *testing.T) {
	resp := `{"structured_output": {
		"enhanced_prompt": "p",
		"allowed_tools": ["Read"],
		"allowed_directories": [],
		"needs_git": false,
		"system_prompt": "s"
	}}`
	p := New(emptyRegistry(t), Options{Runner: &fakeRunner{stdout: []byte(resp)}})

	plan, err := p.Plan("summarize something")
	if err != nil {
		t.Fatalf("empty allowed_directories should be valid: %v", err)
	}
	if plan.AllowedDirectories == nil || len(plan.AllowedDirectories) != 0 {
		t.Errorf("AllowedDirectories = %v", plan.AllowedDirectories)
	}
}

func TestPlanUnknownTool(t *testing.T) {
	resp := `{"structured_output": {
		"enhanced_prompt": "p",
		"allowed_tools": ["ext__nope__op"],
		"allowed_directories": [],
		"needs_git": false,
		"system_prompt": "s"
	}}`
	p := New(registryWith(t, "arxiv"), Options{Runner: &fakeRunner{stdout: []byte(resp)}})

	_, err := p.Plan("whatever")
	if !errors.Is(err, ErrUnknownTool) {
		t.Errorf("want ErrUnknownTool, got %v", err)
	}
}

func TestPlanKnownExternalTool(t *testing.T) {
	resp := `{"structured_output": {
		"enhanced_prompt": "p",
		"allowed_tools": ["ext__arxiv__search", "Write"],
		"allowed_directories": ["/home/user/work"],
		"needs_git": false,
		"system_prompt": "s"
	}}`
	p := New(registryWith(t, "arxiv"), Options{Runner: &fakeRunner{stdout: []byte(resp)}})

	if _, err := p.Plan("survey arxiv"); err != nil {
		t.Errorf("known server should validate: %v", err)
	}
}

func TestPlanTimeout(t *testing.T) {
	p := New(emptyRegistry(t), Options{
		Runner:  &fakeRunner{hang: true},
		Timeout: 20 * time.Millisecond,
	})

	_, err := p.Plan("anything")
	if !errors.Is(err, ErrPlannerTimeout) {
		t.Errorf("want ErrPlannerTimeout, got %v", err)
	}
}

func TestPlanFillsEstimates(t *testing.T) {
	resp := `{"structured_output": {
		"enhanced_prompt": "summarize the arxiv paper",
		"allowed_tools": ["Read"],
		"allowed_directories": [],
		"needs_git": false,
		"system_prompt": "s"
	}}`
	p := New(emptyRegistry(t), Options{Runner: &fakeRunner{stdout: []byte(resp)}})

	plan, err := p.Plan("summarize the arxiv paper")
	if err != nil {
		t.Fatal(err)
	}
	if plan.EstimatedTokens == 0 || plan.EstimatedTime == 0 {
		t.Errorf("estimates not backfilled: %+v", plan)
	}
}

func TestRevisePromptCarriesFeedback(t *testing.T) {
	runner := &fakeRunner{stdout: []byte(`{"structured_output": ` + planJSON + `}`)}
	p := New(emptyRegistry(t), Options{Runner: runner})

	current := wantPlan()
	if _, err := p.Revise(current, "use ArXiv, not web search"); err != nil {
		t.Fatalf("Revise: %v", err)
	}

	prompt := argAfter(runner.lastCmd.Args, "-p")
	if prompt == "" {
		t.Fatal("no prompt passed")
	}
	for _, fragment := range []string{"use ArXiv, not web search", current.EnhancedPrompt} {
		if !contains(prompt, fragment) {
			t.Errorf("revision prompt missing %q", fragment)
		}
	}
}

func TestQuickEstimate(t *testing.T) {
	if est := QuickEstimate("summarize this arxiv paper"); est.Tokens != 2500 {
		t.Errorf("arxiv estimate = %+v", est)
	}
	if est := QuickEstimate("analyze sales.csv"); est.Tokens != 1500 {
		t.Errorf("data estimate = %+v", est)
	}
	if est := QuickEstimate("write a poem"); est.Tokens != 500 || est.Seconds != 120 {
		t.Errorf("default estimate = %+v", est)
	}
}

// helpers

func quoteJSON(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}

func containsArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func argAfter(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func contains(haystack, needle string) bool {
	return strings.Contains(haystack, needle)
}
