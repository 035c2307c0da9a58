package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/james-alvey-42/nightshift/internal/executor"
)

var approveCmd = &cobra.Command{
	Use:   "approve <task-id>",
	Short: "Approve a staged task for execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.close()

		if err := app.service.Approve(args[0]); err != nil {
			return err
		}
		fmt.Printf("%s approved.\n", args[0])

		if _, running := executor.ReadLockPID(app.cfg.LockPath()); running {
			fmt.Println("The executor will pick it up.")
		} else if app.cfg.Executor.AutoStart {
			fmt.Println("No executor is running; start one with 'nightshift executor start'.")
		}
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a staged or committed task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.close()

		if err := app.service.Cancel(args[0]); err != nil {
			return err
		}
		fmt.Printf("%s cancelled.\n", args[0])
		return nil
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause <task-id>",
	Short: "Pause a running task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.close()

		if err := app.service.Pause(args[0]); err != nil {
			return err
		}
		fmt.Printf("%s paused.\n", args[0])
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <task-id>",
	Short: "Resume a paused task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.close()

		if err := app.service.Resume(args[0]); err != nil {
			return err
		}
		fmt.Printf("%s resumed.\n", args[0])
		return nil
	},
}

var killCmd = &cobra.Command{
	Use:   "kill <task-id>",
	Short: "Kill a running or paused task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.close()

		if err := app.service.Kill(args[0]); err != nil {
			return err
		}
		fmt.Printf("%s killed.\n", args[0])
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all tasks and logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.close()

		if err := app.service.Clear(); err != nil {
			return err
		}
		fmt.Println("Task store cleared.")
		return nil
	},
}
