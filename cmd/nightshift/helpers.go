package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/james-alvey-42/nightshift/internal/service"
	"github.com/james-alvey-42/nightshift/pkg/models"
)

func submitOptions() service.SubmitOptions {
	return service.SubmitOptions{TimeoutSeconds: submitTimeout}
}

// statusColor maps task statuses to terminal colors.
func statusColor(status models.TaskStatus) *color.Color {
	switch status {
	case models.TaskStatusCompleted:
		return color.New(color.FgGreen)
	case models.TaskStatusFailed:
		return color.New(color.FgRed)
	case models.TaskStatusCancelled:
		return color.New(color.FgHiBlack)
	case models.TaskStatusRunning:
		return color.New(color.FgCyan)
	case models.TaskStatusPaused:
		return color.New(color.FgYellow)
	case models.TaskStatusCommitted:
		return color.New(color.FgBlue)
	default:
		return color.New(color.FgWhite)
	}
}

// printPlan renders a stored plan for review.
func printPlan(plan *models.Plan) {
	bold := color.New(color.Bold)

	bold.Println("Plan")
	fmt.Printf("  Prompt:      %s\n", oneLine(plan.EnhancedPrompt, 100))
	fmt.Printf("  Tools:       %s\n", strings.Join(plan.AllowedTools, ", "))
	fmt.Printf("  Directories: %s\n", strings.Join(plan.AllowedDirectories, ", "))
	fmt.Printf("  Needs git:   %v\n", plan.NeedsGit)
	if plan.EstimatedTokens > 0 {
		fmt.Printf("  Est. tokens: %d\n", plan.EstimatedTokens)
	}
	if plan.EstimatedTime > 0 {
		fmt.Printf("  Est. time:   %ds\n", plan.EstimatedTime)
	}
	if plan.Reasoning != "" {
		fmt.Printf("  Reasoning:   %s\n", oneLine(plan.Reasoning, 200))
	}
}

// oneLine collapses whitespace and truncates for single-line display.
func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > max {
		return s[:max-3] + "..."
	}
	return s
}
