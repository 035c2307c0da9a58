package main

import (
	"fmt"

	"github.com/james-alvey-42/nightshift/internal/config"
	"github.com/james-alvey-42/nightshift/internal/executor"
	"github.com/james-alvey-42/nightshift/internal/logger"
	"github.com/james-alvey-42/nightshift/internal/notify"
	"github.com/james-alvey-42/nightshift/internal/planner"
	"github.com/james-alvey-42/nightshift/internal/runner"
	"github.com/james-alvey-42/nightshift/internal/sandbox"
	"github.com/james-alvey-42/nightshift/internal/service"
	"github.com/james-alvey-42/nightshift/internal/store"
	"github.com/james-alvey-42/nightshift/internal/toolconfig"
)

// app bundles the wired core for one CLI invocation.
type app struct {
	cfg     *config.Config
	service *service.Service
	log     *logger.Logger
	store   *store.Store
}

// close releases the app's resources.
func (a *app) close() {
	a.store.Close()
	a.log.Close()
}

// buildApp loads configuration and wires the core components the way the
// daemonless CLI uses them.
func buildApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	log, err := logger.New(cfg.LogsDir(), false)
	if err != nil {
		return nil, fmt.Errorf("opening log: %w", err)
	}

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("opening task store: %w", err)
	}

	tools, err := toolconfig.Load(cfg.ToolRegistryPath(), toolconfig.WithWarn(log.Warn))
	if err != nil {
		st.Close()
		log.Close()
		return nil, fmt.Errorf("loading tool registry: %w", err)
	}

	sb := sandbox.New(sandbox.WithWarn(log.Warn))
	if cfg.Sandbox.Enabled && !sb.Enabled() {
		log.Warn("sandboxing requested but no sandbox facility is available on this platform")
	}

	pl := planner.New(tools, planner.Options{
		AgentBin:           cfg.Agent.Bin,
		Timeout:            cfg.Agent.PlanTimeout,
		Logger:             log,
		TokenFile:          cfg.TokenFilePath(),
		ToolsReferencePath: cfg.ToolsReferencePath(),
		DirectoryMapPath:   cfg.DirectoryMapPath(),
	})

	control := runner.NewController()
	run := runner.New(st, sb, tools, control, runner.Options{
		AgentBin:  cfg.Agent.Bin,
		OutputDir: cfg.OutputDir(),
		TokenFile: cfg.TokenFilePath(),
		Logger:    log,
	})

	var sinks []notify.Sink
	if cfg.Notify.SlackWebhookURL != "" {
		sinks = append(sinks, notify.NewSlackSink(
			cfg.Notify.SlackWebhookURL,
			notify.NewMetadataStore(cfg.SlackDir()),
		))
	}
	notifier := notify.New(cfg.NotificationsDir(), notify.Options{
		Terminal: cfg.Notify.Terminal,
		Sinks:    sinks,
		Logger:   log,
	})

	ex := executor.New(st, run, control, executor.Options{
		Notifier: notifier,
		Logger:   log,
		LockPath: cfg.LockPath(),
	})

	svc := service.New(cfg, st, pl, ex, control, sb, log)
	return &app{cfg: cfg, service: svc, log: log, store: st}, nil
}
