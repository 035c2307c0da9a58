package planner

import (
	"fmt"
	"os"
	"strings"

	"github.com/james-alvey-42/nightshift/pkg/models"
)

// planSchema is the structured-output schema passed to the agent binary.
const planSchema = `{
  "type": "object",
  "properties": {
    "enhanced_prompt": {"type": "string"},
    "allowed_tools": {"type": "array", "items": {"type": "string"}},
    "allowed_directories": {"type": "array", "items": {"type": "string"}},
    "needs_git": {"type": "boolean"},
    "system_prompt": {"type": "string"},
    "estimated_tokens": {"type": "integer"},
    "estimated_time": {"type": "integer"},
    "reasoning": {"type": "string"}
  },
  "required": ["enhanced_prompt", "allowed_tools", "allowed_directories", "needs_git", "system_prompt"]
}`

// planGuidelines are shared between the planning and revision prompts.
const planGuidelines = `Guidelines:
- Be specific about which tools are needed
- Include file operation tools (Write, Read) if outputs need to be saved
- External tool-server operations use the qualified form ext__<server>__<op>

NEEDS_GIT FLAG:
- Set needs_git to true if the task involves git operations (commit, push,
  pull, branch, merge) or the 'gh' CLI (issues, PRs, releases, GitHub API)
- needs_git grants the device-file and token access gh requires
- When in doubt, if the task mentions "gh", "GitHub", or git commands,
  set needs_git=true

SECURITY - directory sandboxing:
- The executor runs in a sandbox that blocks all filesystem writes outside
  allowed_directories
- Grant write access to the MINIMUM set of directories the task needs
- Use ABSOLUTE paths only, resolved against the working directory above
- If the task mentions the current directory or names no location, use the
  working directory shown above
- An empty list means a read-only run
- Never allow "/" or the home directory unless explicitly required
- Temp directories are always writable; do not list them

SYSTEM PROMPT:
- The system_prompt must instruct the executor to do all work inside the
  allowed directories and to never place task outputs in /tmp unless they
  are genuinely temporary intermediates`

// planningPrompt builds the prompt for an initial planning call.
func (p *Planner) planningPrompt(description string) string {
	cwd, _ := os.Getwd()

	var b strings.Builder
	b.WriteString("You are the task planning agent for NightShift, an automated research assistant.\n\n")
	b.WriteString("Analyze the user's task and decide which tools it needs, which directories\n")
	b.WriteString("it must write to, the system prompt for the executor agent, and a clarified\n")
	b.WriteString("version of the prompt itself.\n\n")
	fmt.Fprintf(&b, "USER TASK:\n%s\n\n", description)
	fmt.Fprintf(&b, "CURRENT WORKING DIRECTORY:\n%s\n\n", cwd)

	if p.toolsReference != "" {
		fmt.Fprintf(&b, "AVAILABLE TOOLS:\n%s\n\n", p.toolsReference)
	}
	if p.directoryMap != "" {
		fmt.Fprintf(&b, "DIRECTORY STRUCTURE MAP:\n%s\n\n", p.directoryMap)
	}

	b.WriteString("Respond with ONLY a JSON object matching the required schema.\n\n")
	b.WriteString(planGuidelines)
	return b.String()
}

// revisionPrompt builds the prompt for a plan revision call.
func (p *Planner) revisionPrompt(current *models.Plan, feedback string) string {
	cwd, _ := os.Getwd()

	var b strings.Builder
	b.WriteString("You are the task planning agent for NightShift, an automated research assistant.\n\n")
	b.WriteString("A user reviewed a task plan and requested changes. Produce a REVISED plan\n")
	b.WriteString("that addresses their feedback while keeping the task's objectives.\n\n")
	b.WriteString("CURRENT PLAN:\n")
	fmt.Fprintf(&b, "Enhanced Prompt: %s\n", current.EnhancedPrompt)
	fmt.Fprintf(&b, "Allowed Tools: %s\n", strings.Join(current.AllowedTools, ", "))
	fmt.Fprintf(&b, "Allowed Directories: %s\n", strings.Join(current.AllowedDirectories, ", "))
	fmt.Fprintf(&b, "Needs Git: %v\n", current.NeedsGit)
	fmt.Fprintf(&b, "System Prompt: %s\n\n", current.SystemPrompt)
	fmt.Fprintf(&b, "USER FEEDBACK:\n%s\n\n", feedback)
	fmt.Fprintf(&b, "CURRENT WORKING DIRECTORY:\n%s\n\n", cwd)

	if p.toolsReference != "" {
		fmt.Fprintf(&b, "AVAILABLE TOOLS:\n%s\n\n", p.toolsReference)
	}

	b.WriteString("Respond with ONLY a JSON object matching the required schema.\n")
	b.WriteString("Explain what changed in the reasoning field.\n\n")
	b.WriteString(planGuidelines)
	return b.String()
}
