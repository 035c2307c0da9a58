package runner

import (
	"encoding/json"
	"strings"
	"sync"
)

// ToolCall records one tool-use event observed in the stream.
type ToolCall struct {
	Tool  string         `json:"tool"`
	Input map[string]any `json:"parameters,omitempty"`
}

// StreamParser accumulates the agent binary's streaming-output lines.
// Each line is attempted as a JSON object; text deltas, tool-use events,
// and the cumulative usage field are extracted, and unparseable lines are
// retained as raw text. Safe for one writer goroutine plus readers.
type StreamParser struct {
	mu         sync.Mutex
	raw        strings.Builder
	text       strings.Builder
	toolCalls  []ToolCall
	tokenUsage int
}

// NewStreamParser creates an empty parser.
func NewStreamParser() *StreamParser {
	return &StreamParser{}
}

// Feed consumes one stdout line.
func (p *StreamParser) Feed(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.raw.WriteString(line)
	p.raw.WriteByte('\n')

	var event map[string]any
	if err := json.Unmarshal([]byte(line), &event); err != nil {
		// Not JSON; keep as plain text output.
		p.text.WriteString(line)
		p.text.WriteByte('\n')
		return
	}

	if t, _ := event["type"].(string); t == "text" {
		if text, ok := event["text"].(string); ok {
			p.text.WriteString(text)
		}
	} else if t == "tool_use" {
		call := ToolCall{}
		call.Tool, _ = event["name"].(string)
		if input, ok := event["input"].(map[string]any); ok {
			call.Input = input
		}
		p.toolCalls = append(p.toolCalls, call)
	}

	if usage, ok := event["usage"].(map[string]any); ok {
		p.tokenUsage = sumUsage(usage)
	}
}

// sumUsage totals all token categories in a usage object, cache tokens
// included.
func sumUsage(usage map[string]any) int {
	total := 0
	for _, key := range []string{
		"input_tokens",
		"output_tokens",
		"cache_creation_input_tokens",
		"cache_read_input_tokens",
	} {
		if v, ok := usage[key].(float64); ok {
			total += int(v)
		}
	}
	return total
}

// Raw returns the full concatenated stdout seen so far.
func (p *StreamParser) Raw() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.raw.String()
}

// Text returns the concatenated text deltas.
func (p *StreamParser) Text() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.text.String()
}

// ToolCalls returns the tool-use events seen so far.
func (p *StreamParser) ToolCalls() []ToolCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	calls := make([]ToolCall, len(p.toolCalls))
	copy(calls, p.toolCalls)
	return calls
}

// TokenUsage returns the latest cumulative token count, 0 if never seen.
func (p *StreamParser) TokenUsage() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenUsage
}

// ExtractResponseText scans raw streaming output for text-delta events and
// concatenates them. Used by the notifier against the stored artifact.
func ExtractResponseText(raw string) string {
	parser := NewStreamParser()
	for _, line := range strings.Split(raw, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		parser.Feed(line)
	}
	return parser.Text()
}
