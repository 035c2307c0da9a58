// Package toolconfig derives minimal external tool-server manifests from a
// task's allowed tools. The agent binary loads every declared server into
// its context on startup, so each run gets a manifest containing only the
// servers it actually references. This is an optimization, not a security
// boundary; isolation is the sandbox's job.
package toolconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// toolPrefix marks qualified external-tool identifiers: ext__<server>__<op>.
const toolPrefix = "ext__"

// ServerConfig describes how to launch one external tool server.
type ServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	// CredentialFiles are files the server writes at runtime (token
	// caches, refreshed credentials). The sandbox allow-lists them for
	// runs that load the server. Paths may start with "~/".
	CredentialFiles []string `json:"credential_files,omitempty"`
}

// manifest is the on-disk shape consumed by the agent binary.
type manifest struct {
	ToolServers map[string]ServerConfig `json:"toolServers"`
}

// Manager holds the base server registry, read once at startup.
type Manager struct {
	servers map[string]ServerConfig
	warn    func(format string, args ...any)
}

// Option configures a Manager.
type Option func(*Manager)

// WithWarn routes registry warnings to a logger.
func WithWarn(fn func(format string, args ...any)) Option {
	return func(m *Manager) { m.warn = fn }
}

// Load reads the registry file. A missing file is non-fatal and equivalent
// to an empty registry.
func Load(registryPath string, opts ...Option) (*Manager, error) {
	m := &Manager{servers: map[string]ServerConfig{}}
	for _, opt := range opts {
		opt(m)
	}

	data, err := os.ReadFile(registryPath)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tool registry: %w", err)
	}

	// The registry may be a bare server map or wrapped under toolServers.
	var wrapped manifest
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.ToolServers != nil {
		m.servers = wrapped.ToolServers
		return m, nil
	}
	var bare map[string]ServerConfig
	if err := json.Unmarshal(data, &bare); err != nil {
		return nil, fmt.Errorf("parse tool registry %s: %w", registryPath, err)
	}
	m.servers = bare
	return m, nil
}

// ServerNames returns the registered server names, sorted.
func (m *Manager) ServerNames() []string {
	names := make([]string, 0, len(m.servers))
	for name := range m.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether the registry knows the named server.
func (m *Manager) Has(server string) bool {
	_, ok := m.servers[server]
	return ok
}

// ExtractServerNames pulls the server component out of every qualified tool
// identifier. Built-in tool names pass through unmatched.
func ExtractServerNames(tools []string) []string {
	set := make(map[string]bool)
	for _, tool := range tools {
		if !strings.HasPrefix(tool, toolPrefix) {
			continue
		}
		parts := strings.Split(tool, "__")
		if len(parts) >= 2 && parts[1] != "" {
			set[parts[1]] = true
		}
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CredentialFiles returns the credential file paths declared by the
// servers the allowed tools reference, deduplicated and sorted, with a
// leading "~/" expanded against the user's home directory.
func (m *Manager) CredentialFiles(allowedTools []string) []string {
	home, _ := os.UserHomeDir()

	set := make(map[string]bool)
	for _, name := range ExtractServerNames(allowedTools) {
		cfg, ok := m.servers[name]
		if !ok {
			continue
		}
		for _, file := range cfg.CredentialFiles {
			if file == "" {
				continue
			}
			if strings.HasPrefix(file, "~/") && home != "" {
				file = filepath.Join(home, file[2:])
			}
			set[filepath.Clean(file)] = true
		}
	}

	files := make([]string, 0, len(set))
	for f := range set {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// WriteMinimal writes a per-run manifest holding only the servers the
// allowed tools reference, and returns its path. Plans without external
// tools get an empty manifest. The caller deletes the file after the run.
func (m *Manager) WriteMinimal(allowedTools []string) (string, error) {
	needed := ExtractServerNames(allowedTools)

	minimal := manifest{ToolServers: map[string]ServerConfig{}}
	for _, name := range needed {
		cfg, ok := m.servers[name]
		if !ok {
			if m.warn != nil {
				m.warn("tool server %q not present in registry, skipping", name)
			}
			continue
		}
		minimal.ToolServers[name] = cfg
	}

	data, err := json.MarshalIndent(minimal, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal tool manifest: %w", err)
	}

	f, err := os.CreateTemp("", "nightshift_tools_*.json")
	if err != nil {
		return "", fmt.Errorf("create tool manifest: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write tool manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close tool manifest: %w", err)
	}
	return f.Name(), nil
}
