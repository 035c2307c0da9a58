package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan <task-id>",
	Short: "Run (or re-run) the planner for a staged task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.close()

		if err := CheckAgentCLI(app.cfg.Agent.Bin); err != nil {
			return err
		}

		plan, err := app.service.Plan(args[0])
		if err != nil {
			return err
		}
		printPlan(plan)
		return nil
	},
}

var reviseCmd = &cobra.Command{
	Use:   "revise <task-id> <feedback>",
	Short: "Revise a staged task's plan with feedback",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.close()

		if err := CheckAgentCLI(app.cfg.Agent.Bin); err != nil {
			return err
		}

		feedback := strings.Join(args[1:], " ")
		plan, err := app.service.Revise(args[0], feedback)
		if err != nil {
			return err
		}
		fmt.Println("Plan revised.")
		printPlan(plan)
		return nil
	},
}
