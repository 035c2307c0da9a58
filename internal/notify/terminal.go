package notify

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/james-alvey-42/nightshift/pkg/models"
)

var (
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 2).
			Width(76)

	titleStyle   = lipgloss.NewStyle().Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// renderTerminal prints a completion panel for a summary.
func renderTerminal(summary *models.Summary) {
	fmt.Fprintln(os.Stderr, renderSummary(summary))
}

// renderSummary builds the panel text. Split out for tests.
func renderSummary(summary *models.Summary) string {
	var b strings.Builder

	statusStyle := failStyle
	if summary.Status == "success" {
		statusStyle = successStyle
	}

	b.WriteString(titleStyle.Render("Task Completed: "+summary.TaskID) + "\n\n")
	b.WriteString(labelStyle.Render("Description: ") + summary.Description + "\n")
	b.WriteString(labelStyle.Render("Status: ") + statusStyle.Render(strings.ToUpper(summary.Status)) + "\n")
	b.WriteString(labelStyle.Render("Execution Time: ") + fmt.Sprintf("%.1fs", summary.ExecutionTime) + "\n")
	if summary.TokenUsage > 0 {
		b.WriteString(labelStyle.Render("Token Usage: ") + fmt.Sprintf("%d", summary.TokenUsage) + "\n")
	}

	writeBucket := func(label string, files []string) {
		if len(files) == 0 {
			return
		}
		b.WriteString(labelStyle.Render(fmt.Sprintf("%s (%d):", label, len(files))) + "\n")
		for _, f := range capFiles(files) {
			b.WriteString("  - " + f + "\n")
		}
	}
	if len(summary.FileChanges.Created)+len(summary.FileChanges.Modified)+len(summary.FileChanges.Deleted) > 0 {
		b.WriteString("\n")
		writeBucket("Created", summary.FileChanges.Created)
		writeBucket("Modified", summary.FileChanges.Modified)
		writeBucket("Deleted", summary.FileChanges.Deleted)
	}

	if summary.ErrorMessage != "" {
		b.WriteString("\n" + failStyle.Render("Error: ") + summary.ErrorMessage + "\n")
	}
	if summary.ResponseText != "" {
		b.WriteString("\n" + summary.ResponseText + "\n")
	}
	if summary.ResultPath != "" {
		b.WriteString("\n" + dimStyle.Render("Results: "+summary.ResultPath) + "\n")
	}

	return panelStyle.Render(strings.TrimRight(b.String(), "\n"))
}
