package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

// CheckAgentCLI verifies that the agent binary is available in PATH.
// Returns an error with installation instructions if not found.
func CheckAgentCLI(bin string) error {
	_, err := exec.LookPath(bin)
	if err != nil {
		return fmt.Errorf("%s CLI not found in PATH\n\n"+
			"NightShift drives the Claude Code CLI to plan and execute tasks.\n\n"+
			"Install it with:\n"+
			"  npm install -g @anthropic-ai/claude-code\n\n"+
			"For more information, visit:\n"+
			"  https://docs.anthropic.com/en/docs/claude-code", bin)
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "nightshift",
	Short: "Overnight research task automation",
	Long: `NightShift runs AI research tasks while you sleep.

Submit a natural-language request and NightShift plans it with the agent
CLI, stages the plan for your approval, then executes it in a sandboxed
subprocess with filesystem tracking and completion notifications.

Typical flow:
  nightshift submit "summarize the latest arxiv papers on dark matter"
  nightshift list
  nightshift approve task_ab12cd34
  nightshift executor start`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(reviseCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(killCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(executorCmd)
	rootCmd.AddCommand(versionCmd)
}
