package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	submitTimeout int
	submitNoPlan  bool
)

var submitCmd = &cobra.Command{
	Use:   "submit <description>",
	Short: "Submit a new task and plan it",
	Long: `Submit creates a STAGED task from a natural-language description and,
unless --no-plan is given, immediately runs the planning pass so the task
is ready for review and approval.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.close()

		description := strings.Join(args, " ")

		taskID, err := app.service.Submit(description, submitOptions())
		if err != nil {
			return err
		}
		fmt.Printf("Created %s\n", taskID)

		if submitNoPlan {
			fmt.Printf("Run 'nightshift plan %s' to plan it.\n", taskID)
			return nil
		}

		if err := CheckAgentCLI(app.cfg.Agent.Bin); err != nil {
			return err
		}
		fmt.Println("Planning...")
		plan, err := app.service.Plan(taskID)
		if err != nil {
			return fmt.Errorf("planning %s: %w", taskID, err)
		}

		printPlan(plan)
		fmt.Printf("\nApprove with 'nightshift approve %s'\n", taskID)
		return nil
	},
}

func init() {
	submitCmd.Flags().IntVar(&submitTimeout, "timeout", 0, "execution timeout in seconds (default 900)")
	submitCmd.Flags().BoolVar(&submitNoPlan, "no-plan", false, "create the task without running the planner")
}
