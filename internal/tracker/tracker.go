// Package tracker snapshots a directory tree before and after a task run
// and diffs the two states into created/modified/deleted file changes.
package tracker

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/james-alvey-42/nightshift/pkg/models"
)

// skipDirs are dependency and cache directories excluded from snapshots.
var skipDirs = map[string]bool{
	"node_modules": true,
	"__pycache__":  true,
	"venv":         true,
	".venv":        true,
	"vendor":       true,
}

// Tracker compares content-hash snapshots of a watched directory.
// Changes outside the watched root are invisible.
type Tracker struct {
	root   string
	before map[string]string
}

// New creates a tracker rooted at dir. The path is resolved to absolute.
func New(dir string) (*Tracker, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve watch dir: %w", err)
	}
	return &Tracker{root: abs}, nil
}

// Root returns the watched directory.
func (t *Tracker) Root() string { return t.root }

// Start takes the before snapshot.
func (t *Tracker) Start() error {
	snap, err := t.snapshot()
	if err != nil {
		return err
	}
	t.before = snap
	return nil
}

// Stop takes the after snapshot and returns the diff against Start.
func (t *Tracker) Stop() ([]models.FileChange, error) {
	if t.before == nil {
		return nil, fmt.Errorf("tracker not started")
	}
	after, err := t.snapshot()
	if err != nil {
		return nil, err
	}
	return diff(t.before, after), nil
}

// snapshot walks the root and hashes every regular file, skipping hidden
// entries and dependency directories. Paths are stored relative to root.
func (t *Tracker) snapshot() (map[string]string, error) {
	snap := make(map[string]string)

	err := filepath.WalkDir(t.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Entries vanishing mid-walk are expected while the agent runs.
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if path == t.root {
				return nil
			}
			if strings.HasPrefix(name, ".") || skipDirs[name] {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || !d.Type().IsRegular() {
			return nil
		}

		sum, err := hashFile(path)
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(t.root, path)
		if err != nil {
			return nil
		}
		snap[rel] = sum
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", t.root, err)
	}
	return snap, nil
}

// hashFile returns the hex SHA-256 of a file's content.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// diff compares two snapshots. Identical hashes are omitted.
func diff(before, after map[string]string) []models.FileChange {
	var changes []models.FileChange

	for path, afterHash := range after {
		beforeHash, existed := before[path]
		switch {
		case !existed:
			changes = append(changes, models.FileChange{
				Path:      path,
				Kind:      models.ChangeCreated,
				AfterHash: afterHash,
			})
		case beforeHash != afterHash:
			changes = append(changes, models.FileChange{
				Path:       path,
				Kind:       models.ChangeModified,
				BeforeHash: beforeHash,
				AfterHash:  afterHash,
			})
		}
	}

	for path, beforeHash := range before {
		if _, exists := after[path]; !exists {
			changes = append(changes, models.FileChange{
				Path:       path,
				Kind:       models.ChangeDeleted,
				BeforeHash: beforeHash,
			})
		}
	}

	return changes
}

// changesArtifact is the on-disk shape of the per-task file-change artifact.
type changesArtifact struct {
	TaskID    string              `json:"task_id"`
	Timestamp time.Time           `json:"timestamp"`
	Changes   []models.FileChange `json:"changes"`
}

// SaveChanges writes the per-task file-change artifact
// (<outputDir>/<taskID>_files.json) and returns its path.
func SaveChanges(taskID string, changes []models.FileChange, outputDir string) (string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	if changes == nil {
		changes = []models.FileChange{}
	}

	artifact := changesArtifact{
		TaskID:    taskID,
		Timestamp: time.Now(),
		Changes:   changes,
	}
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal file changes: %w", err)
	}

	path := filepath.Join(outputDir, taskID+"_files.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write file changes: %w", err)
	}
	return path, nil
}
