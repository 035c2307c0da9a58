package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/james-alvey-42/nightshift/internal/runner"
	"github.com/james-alvey-42/nightshift/pkg/models"
)

func makeResult(t *testing.T, stdout string) *runner.Result {
	t.Helper()
	dir := t.TempDir()
	path := runner.ArtifactPath(dir, "task_0a1b2c3d")
	err := runner.WriteArtifact(path, &runner.Artifact{
		TaskID: "task_0a1b2c3d",
		Stdout: stdout,
		Status: "completed",
	})
	if err != nil {
		t.Fatal(err)
	}
	return &runner.Result{
		Status:        runner.StatusSuccess,
		TokenUsage:    465,
		ExecutionTime: 12.5,
		ResultPath:    path,
		FileChanges: []models.FileChange{
			{Path: "haiku.md", Kind: models.ChangeCreated},
		},
	}
}

func TestNotifyPersistsSummary(t *testing.T) {
	dir := t.TempDir()
	n := New(dir, Options{})

	task := &models.Task{TaskID: "task_0a1b2c3d", Description: "write a haiku about dusk"}
	result := makeResult(t, `{"type": "text", "text": "Twilight falls softly"}`+"\n")

	if err := n.Notify(task, result); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "task_0a1b2c3d_notification.json"))
	if err != nil {
		t.Fatalf("summary artifact missing: %v", err)
	}
	var summary models.Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatal(err)
	}
	if summary.TaskID != "task_0a1b2c3d" || summary.Status != "success" {
		t.Errorf("summary = %+v", summary)
	}
	if summary.ResponseText != "Twilight falls softly" {
		t.Errorf("ResponseText = %q", summary.ResponseText)
	}
	if len(summary.FileChanges.Created) != 1 {
		t.Errorf("FileChanges = %+v", summary.FileChanges)
	}
}

func TestBuildSummaryTruncation(t *testing.T) {
	n := New(t.TempDir(), Options{})

	longDesc := strings.Repeat("d", 600)
	longText := strings.Repeat("r", 1500)
	result := makeResult(t, fmt.Sprintf(`{"type": "text", "text": %q}`, longText)+"\n")
	result.ErrorMessage = strings.Repeat("e", 600)

	summary := n.BuildSummary(&models.Task{TaskID: "task_0a1b2c3d", Description: longDesc}, result)

	if len(summary.Description) > 520 || !strings.HasSuffix(summary.Description, "[truncated]") {
		t.Errorf("description not truncated: %d chars", len(summary.Description))
	}
	if len(summary.ResponseText) > 1020 || !strings.HasSuffix(summary.ResponseText, "[truncated]") {
		t.Errorf("response text not truncated: %d chars", len(summary.ResponseText))
	}
	if len(summary.ErrorMessage) > 520 {
		t.Errorf("error not truncated: %d chars", len(summary.ErrorMessage))
	}
}

func TestBuildSummaryMissingArtifact(t *testing.T) {
	n := New(t.TempDir(), Options{})
	result := &runner.Result{
		Status:     runner.StatusFailure,
		ResultPath: filepath.Join(t.TempDir(), "absent.json"),
	}
	summary := n.BuildSummary(&models.Task{TaskID: "task_00000001"}, result)
	if summary.ResponseText != "" {
		t.Errorf("ResponseText = %q", summary.ResponseText)
	}
}

func TestCapFiles(t *testing.T) {
	few := []string{"a", "b"}
	if got := capFiles(few); len(got) != 2 {
		t.Errorf("capFiles(few) = %v", got)
	}

	many := []string{"a", "b", "c", "d", "e", "f", "g"}
	got := capFiles(many)
	if len(got) != 6 {
		t.Fatalf("capFiles(many) = %v", got)
	}
	if got[5] != "... and 2 more" {
		t.Errorf("marker = %q", got[5])
	}
}

func TestFailingSinkIsSwallowed(t *testing.T) {
	n := New(t.TempDir(), Options{Sinks: []Sink{failingSink{}}})
	task := &models.Task{TaskID: "task_0a1b2c3d", Description: "x"}
	result := makeResult(t, "")

	if err := n.Notify(task, result); err != nil {
		t.Errorf("sink failure should be swallowed, got %v", err)
	}
}

type failingSink struct{}

func (failingSink) Name() string               { return "failing" }
func (failingSink) Send(*models.Summary) error { return fmt.Errorf("boom") }

func TestRenderSummary(t *testing.T) {
	summary := &models.Summary{
		TaskID:        "task_0a1b2c3d",
		Description:   "write a haiku",
		Status:        "success",
		ExecutionTime: 3.2,
		TokenUsage:    465,
		FileChanges: models.FileChangeSet{
			Created: []string{"haiku.md"},
		},
	}
	out := renderSummary(summary)
	for _, fragment := range []string{"task_0a1b2c3d", "SUCCESS", "haiku.md", "465"} {
		if !strings.Contains(out, fragment) {
			t.Errorf("rendering missing %q", fragment)
		}
	}
}
