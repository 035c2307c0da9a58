package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/james-alvey-42/nightshift/internal/executor"
)

var executorGraceful time.Duration

var executorCmd = &cobra.Command{
	Use:   "executor",
	Short: "Control the background task executor",
}

var executorStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the executor in the foreground until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.close()

		if err := CheckAgentCLI(app.cfg.Agent.Bin); err != nil {
			return err
		}

		if err := app.service.ExecutorStart(); err != nil {
			return err
		}
		fmt.Printf("Executor running (workers=%d, poll=%s). Ctrl-C to stop.\n",
			app.cfg.Executor.MaxWorkers, app.cfg.Executor.PollInterval)

		// Block until interrupted, then drain gracefully.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nStopping executor...")
		return app.service.ExecutorStop(executorGraceful)
	},
}

var executorStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show executor status",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.close()

		// A lock held by another process means the executor lives there.
		if pid, ok := executor.ReadLockPID(app.cfg.LockPath()); ok && pid != os.Getpid() {
			fmt.Printf("Executor running in process %d (lock: %s)\n", pid, app.cfg.LockPath())
			return nil
		}

		status := app.service.ExecutorStatus()
		if !status.Running {
			fmt.Println("Executor not running.")
			return nil
		}
		fmt.Printf("Running: %v\n", status.Running)
		fmt.Printf("Workers: %d (%d available)\n", status.MaxWorkers, status.AvailableWorkers)
		fmt.Printf("Active tasks: %v\n", status.ActiveTasks)
		return nil
	},
}

func init() {
	executorStartCmd.Flags().DurationVar(&executorGraceful, "graceful-timeout", 30*time.Second,
		"how long to wait for in-flight tasks on shutdown")
	executorCmd.AddCommand(executorStartCmd)
	executorCmd.AddCommand(executorStatusCmd)
}
