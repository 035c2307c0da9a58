package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var getShowLogs bool

var getCmd = &cobra.Command{
	Use:   "get <task-id>",
	Short: "Show a task's details, plan, and logs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.close()

		detail, err := app.service.Get(args[0])
		if err != nil {
			return err
		}
		task := detail.Task

		bold := color.New(color.Bold)
		bold.Printf("%s  ", task.TaskID)
		statusColor(task.Status).Printf("[%s]\n", task.Status)
		fmt.Printf("  Description: %s\n", oneLine(task.Description, 100))
		fmt.Printf("  Created:     %s\n", task.CreatedAt.Local().Format(time.DateTime))
		if task.StartedAt != nil {
			fmt.Printf("  Started:     %s\n", task.StartedAt.Local().Format(time.DateTime))
		}
		if task.CompletedAt != nil {
			fmt.Printf("  Completed:   %s\n", task.CompletedAt.Local().Format(time.DateTime))
		}
		if len(task.AllowedTools) > 0 {
			fmt.Printf("  Tools:       %v\n", task.AllowedTools)
		}
		if len(task.AllowedDirectories) > 0 {
			fmt.Printf("  Directories: %v\n", task.AllowedDirectories)
		}
		if task.TokenUsage > 0 {
			fmt.Printf("  Tokens:      %d\n", task.TokenUsage)
		}
		if task.ExecutionTime > 0 {
			fmt.Printf("  Duration:    %.1fs\n", task.ExecutionTime)
		}
		if task.ProcessID > 0 {
			fmt.Printf("  PID:         %d\n", task.ProcessID)
		}
		if task.ResultPath != "" {
			fmt.Printf("  Output:      %s\n", task.ResultPath)
		}
		if task.ErrorMessage != "" {
			color.New(color.FgRed).Printf("  Error:       %s\n", task.ErrorMessage)
		}

		if getShowLogs && len(detail.Logs) > 0 {
			bold.Println("\nLogs")
			for _, entry := range detail.Logs {
				fmt.Printf("  %s [%s] %s\n",
					entry.Timestamp.Local().Format(time.TimeOnly),
					entry.Level,
					entry.Message,
				)
			}
		}
		return nil
	},
}

func init() {
	getCmd.Flags().BoolVar(&getShowLogs, "logs", true, "include the task's audit trail")
}
