package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/james-alvey-42/nightshift/pkg/models"
)

var listStatus string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.close()

		var filter models.TaskStatus
		if listStatus != "" {
			filter = models.TaskStatus(listStatus)
			if !filter.Valid() {
				return fmt.Errorf("unknown status %q", listStatus)
			}
		}

		tasks, err := app.service.List(filter)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			fmt.Println("No tasks.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TASK\tSTATUS\tCREATED\tDESCRIPTION")
		for _, task := range tasks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				task.TaskID,
				statusColor(task.Status).Sprint(task.Status),
				task.CreatedAt.Local().Format(time.DateTime),
				oneLine(task.Description, 60),
			)
		}
		return w.Flush()
	},
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status (staged, committed, running, paused, completed, failed, cancelled)")
}
