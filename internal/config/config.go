// Package config handles configuration loading and the on-disk data layout
// for NightShift. It supports a user config file, environment variables,
// and built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for NightShift.
type Config struct {
	Executor ExecutorConfig `mapstructure:"executor"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Sandbox  SandboxConfig  `mapstructure:"sandbox"`

	// BaseDir is the root of the data directory, ~/.nightshift by default.
	BaseDir string `mapstructure:"base_dir"`
}

// ExecutorConfig holds worker-pool settings.
type ExecutorConfig struct {
	// MaxWorkers is the number of concurrent task executions.
	MaxWorkers int `mapstructure:"max_workers"`
	// PollInterval is how often the controller polls for committed tasks.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// AutoStart makes approve print a reminder to start the executor when
	// none is running; nothing starts the executor automatically.
	AutoStart bool `mapstructure:"auto_start"`
}

// AgentConfig holds agent-binary invocation settings.
type AgentConfig struct {
	// Bin is the agent binary name or path.
	Bin string `mapstructure:"bin"`
	// PlanTimeout bounds a single planning invocation.
	PlanTimeout time.Duration `mapstructure:"plan_timeout"`
	// RegistryPath points at the external tool-server registry JSON.
	// Empty means the default under the config directory.
	RegistryPath string `mapstructure:"registry_path"`
}

// NotifyConfig holds notification sink settings.
type NotifyConfig struct {
	// Terminal enables the human-readable terminal rendering.
	Terminal bool `mapstructure:"terminal"`
	// SlackWebhookURL, when set, enables the Slack sink.
	SlackWebhookURL string `mapstructure:"slack_webhook_url"`
}

// SandboxConfig holds sandbox toggles.
type SandboxConfig struct {
	// Enabled turns subprocess sandboxing on where the platform supports it.
	Enabled bool `mapstructure:"enabled"`
}

// Load reads configuration from defaults, the user config file, and
// environment variables, and ensures the data directory layout exists.
// Precedence (highest to lowest):
// 1. Environment variables (NIGHTSHIFT_*)
// 2. User config (~/.nightshift/config/config.yaml)
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(defaultBaseDir(), "config"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	v.SetEnvPrefix("NIGHTSHIFT")
	v.AutomaticEnv()
	v.BindEnv("executor.max_workers", "NIGHTSHIFT_MAX_WORKERS")
	v.BindEnv("executor.poll_interval", "NIGHTSHIFT_POLL_INTERVAL")
	v.BindEnv("executor.auto_start", "NIGHTSHIFT_AUTO_START")
	v.BindEnv("agent.bin", "NIGHTSHIFT_AGENT_BIN")
	v.BindEnv("notify.slack_webhook_url", "NIGHTSHIFT_SLACK_WEBHOOK_URL")
	v.BindEnv("base_dir", "NIGHTSHIFT_HOME")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if cfg.BaseDir == "" {
		cfg.BaseDir = defaultBaseDir()
	}
	if err := cfg.ensureLayout(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromBase builds a configuration rooted at an explicit base directory,
// skipping the user config file. Used by tests and embedding adapters.
func LoadFromBase(baseDir string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.BaseDir = baseDir
	if err := cfg.ensureLayout(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("executor.max_workers", 3)
	v.SetDefault("executor.poll_interval", "1s")
	v.SetDefault("executor.auto_start", true)
	v.SetDefault("agent.bin", "claude")
	v.SetDefault("agent.plan_timeout", "120s")
	v.SetDefault("agent.registry_path", "")
	v.SetDefault("notify.terminal", true)
	v.SetDefault("notify.slack_webhook_url", "")
	v.SetDefault("sandbox.enabled", true)
	v.SetDefault("base_dir", "")
}

// defaultBaseDir returns ~/.nightshift.
func defaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nightshift"
	}
	return filepath.Join(home, ".nightshift")
}

// ensureLayout creates the data directory tree.
func (c *Config) ensureLayout() error {
	for _, dir := range []string{
		c.BaseDir,
		c.DatabaseDir(),
		c.LogsDir(),
		c.OutputDir(),
		c.NotificationsDir(),
		c.ConfigDir(),
		c.SlackDir(),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data directory %s: %w", dir, err)
		}
	}
	return nil
}

// DatabaseDir returns the directory holding the embedded database.
func (c *Config) DatabaseDir() string { return filepath.Join(c.BaseDir, "database") }

// DatabasePath returns the task store file path.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DatabaseDir(), "nightshift.db")
}

// LogsDir returns the rolling daily log directory.
func (c *Config) LogsDir() string { return filepath.Join(c.BaseDir, "logs") }

// OutputDir returns the per-task raw output artifact directory.
func (c *Config) OutputDir() string { return filepath.Join(c.BaseDir, "output") }

// NotificationsDir returns the summary artifact directory.
func (c *Config) NotificationsDir() string { return filepath.Join(c.BaseDir, "notifications") }

// ConfigDir returns the user-local configuration directory.
func (c *Config) ConfigDir() string { return filepath.Join(c.BaseDir, "config") }

// SlackDir returns the per-task Slack routing metadata directory.
func (c *Config) SlackDir() string { return filepath.Join(c.BaseDir, "slack") }

// LockPath returns the executor singleton PID-lock file path.
func (c *Config) LockPath() string { return filepath.Join(c.BaseDir, "executor.lock") }

// ToolRegistryPath returns the external tool-server registry file path.
func (c *Config) ToolRegistryPath() string {
	if c.Agent.RegistryPath != "" {
		return c.Agent.RegistryPath
	}
	return filepath.Join(c.ConfigDir(), "tool_servers.json")
}

// ToolsReferencePath returns the tool documentation embedded in planner prompts.
func (c *Config) ToolsReferencePath() string {
	return filepath.Join(c.ConfigDir(), "tools-reference.md")
}

// DirectoryMapPath returns the optional directory map embedded in planner prompts.
func (c *Config) DirectoryMapPath() string {
	return filepath.Join(c.ConfigDir(), "directory-map.md")
}

// TokenFilePath returns the fallback file holding the agent subscription token.
func (c *Config) TokenFilePath() string {
	return filepath.Join(c.BaseDir, "claude_token")
}
