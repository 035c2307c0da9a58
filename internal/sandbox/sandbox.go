// Package sandbox generates macOS sandbox-exec profiles that deny
// filesystem writes outside a task's allowed directories. On platforms
// without sandbox-exec the manager degrades to a pass-through.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// ErrDangerousPath indicates an allowed directory under a protected system
// root. The task must not be committed with such a plan.
var ErrDangerousPath = errors.New("dangerous path")

// dangerousRoots are system paths writes can never be granted to, including
// the macOS /private/* variants.
var dangerousRoots = []string{
	"/", "/private",
	"/etc", "/private/etc",
	"/var", "/private/var",
	"/bin", "/usr", "/sbin",
	"/System", "/Library",
	"/Applications", "/Volumes",
}

// Manager generates and tracks sandbox profiles.
type Manager struct {
	enabled bool
	warn    func(format string, args ...any)
}

// Option configures a Manager.
type Option func(*Manager)

// WithWarn routes validation warnings (e.g. whole-home grants) to a logger.
func WithWarn(fn func(format string, args ...any)) Option {
	return func(m *Manager) { m.warn = fn }
}

// New creates a Manager. Sandboxing is active only when the platform
// provides sandbox-exec.
func New(opts ...Option) *Manager {
	m := &Manager{enabled: Available()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Available reports whether the platform sandbox facility exists.
func Available() bool {
	if runtime.GOOS != "darwin" {
		return false
	}
	_, err := exec.LookPath("sandbox-exec")
	return err == nil
}

// Enabled reports whether generated profiles will actually be enforced.
func (m *Manager) Enabled() bool { return m.enabled }

// ValidateDirectories resolves each directory to an absolute path and
// rejects anything equal to or under a protected system root. It warns
// (without failing) when the home directory itself is granted.
func (m *Manager) ValidateDirectories(dirs []string) ([]string, error) {
	home, _ := os.UserHomeDir()

	validated := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", dir, err)
		}
		abs = filepath.Clean(abs)

		for _, root := range dangerousRoots {
			if abs == root || strings.HasPrefix(abs, root+"/") {
				return nil, fmt.Errorf("%w: refusing writes to system directory %s", ErrDangerousPath, abs)
			}
		}

		if home != "" && abs == home && m.warn != nil {
			m.warn("allowing writes to entire home directory %s; consider a more specific subdirectory", abs)
		}

		validated = append(validated, abs)
	}
	return validated, nil
}

// Generate writes a profile allowing writes only to the validated
// directories (plus temp and agent config paths) and returns its path.
// credentialFiles are individual files external tool servers must be able
// to write (token caches); they are allow-listed as literals, not
// subtrees. Returns an empty path when sandboxing is unavailable. The
// caller removes the file after the subprocess exits.
func (m *Manager) Generate(allowedDirs []string, needsGit bool, credentialFiles []string) (string, error) {
	if !m.enabled {
		return "", nil
	}

	validated, err := m.ValidateDirectories(allowedDirs)
	if err != nil {
		return "", err
	}

	content := Profile(validated, needsGit, credentialFiles)

	f, err := os.CreateTemp("", "nightshift_sandbox_*.sb")
	if err != nil {
		return "", fmt.Errorf("create profile file: %w", err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write profile: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close profile: %w", err)
	}
	return f.Name(), nil
}

// Wrap prefixes a command with the sandbox invocation. With an empty
// profile path (sandboxing unavailable) the command is returned unchanged.
func (m *Manager) Wrap(command []string, profilePath string) []string {
	if !m.enabled || profilePath == "" {
		return command
	}
	wrapped := []string{"sandbox-exec", "-f", profilePath}
	return append(wrapped, command...)
}

// Profile renders the sandbox policy text. Deny-by-default, then: exec and
// fork, read everything, full network, IPC, and writes restricted to the
// allow list. Exposed for tests; WriteAllowPaths documents the allow set.
func Profile(allowedDirs []string, needsGit bool, credentialFiles []string) string {
	var b strings.Builder
	b.WriteString("(version 1)\n\n")
	b.WriteString(";; Deny everything by default\n")
	b.WriteString("(deny default)\n\n")
	b.WriteString(";; Allow process execution and basic operations\n")
	b.WriteString("(allow process-exec*)\n")
	b.WriteString("(allow process-fork)\n")
	b.WriteString("(allow signal)\n")
	b.WriteString("(allow sysctl-read)\n\n")
	b.WriteString(";; Allow reading all files\n")
	b.WriteString("(allow file-read*)\n\n")
	b.WriteString(";; Allow network access\n")
	b.WriteString("(allow network*)\n\n")
	b.WriteString(";; Allow IPC for subprocess communication\n")
	b.WriteString("(allow ipc*)\n")
	b.WriteString("(allow mach*)\n\n")
	b.WriteString(";; Allow writes ONLY to permitted directories\n")

	for _, path := range WriteAllowPaths(allowedDirs, needsGit) {
		fmt.Fprintf(&b, "(allow file-write* (subpath %q))\n", path)
	}

	if files := CredentialWritePaths(credentialFiles); len(files) > 0 {
		b.WriteString("\n;; Credential files used by external tool servers\n")
		for _, file := range files {
			fmt.Fprintf(&b, "(allow file-write* (literal %q))\n", file)
		}
	}

	if needsGit {
		b.WriteString("\n;; Device files and services required by git / gh\n")
		b.WriteString("(allow file-write* (literal \"/dev/null\"))\n")
		b.WriteString("(allow file-write* (literal \"/dev/tty\"))\n")
		b.WriteString("(allow mach-lookup (global-name \"com.apple.trustd.agent\"))\n")
		b.WriteString("(allow mach-lookup (global-name \"com.apple.dnssd.service\"))\n")
		b.WriteString("(allow mach-lookup (global-name \"com.apple.SystemConfiguration.DNSConfiguration\"))\n")
	}

	return b.String()
}

// WriteAllowPaths returns the deduplicated, sorted set of write-allowed
// subtrees for a run: the task's directories, the platform temp
// directories, and the agent binary's config directory. With needsGit the
// GitHub-CLI config directory is added.
func WriteAllowPaths(allowedDirs []string, needsGit bool) []string {
	set := make(map[string]bool)
	for _, d := range allowedDirs {
		set[filepath.Clean(d)] = true
	}

	set["/tmp"] = true
	set["/private/tmp"] = true
	set["/private/var/tmp"] = true
	if tmp, err := filepath.Abs(os.TempDir()); err == nil {
		set[filepath.Clean(tmp)] = true
	}
	if home, err := os.UserHomeDir(); err == nil {
		// Agent binary writes debug logs and session state here.
		set[filepath.Join(home, ".claude")] = true
		if needsGit {
			set[filepath.Join(home, ".config", "gh")] = true
		}
	}

	paths := make([]string, 0, len(set))
	for p := range set {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// CredentialWritePaths returns the deduplicated, sorted set of credential
// files allow-listed as write literals for a run.
func CredentialWritePaths(files []string) []string {
	set := make(map[string]bool)
	for _, f := range files {
		if f == "" {
			continue
		}
		set[filepath.Clean(f)] = true
	}
	paths := make([]string, 0, len(set))
	for p := range set {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
