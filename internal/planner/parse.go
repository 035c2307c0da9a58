package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/james-alvey-42/nightshift/pkg/models"
)

// wrapper is the agent binary's top-level planning response. Depending on
// the output mode, the plan arrives either as a structured_output object or
// as a JSON string under result (possibly fenced in Markdown).
type wrapper struct {
	StructuredOutput json.RawMessage `json:"structured_output"`
	Result           string          `json:"result"`
}

// ParseResponse extracts a Plan from the agent binary's stdout. Three
// shapes are tried in order:
//
//  1. a wrapper object with a structured_output field holding the plan;
//  2. a wrapper object with a result field holding the plan as a JSON
//     string, optionally inside ``` or ```json fences;
//  3. the raw stdout as the plan object itself.
//
// Near-JSON payloads (trailing commas, single quotes) are run through
// jsonrepair before giving up.
func ParseResponse(stdout []byte) (*models.Plan, error) {
	trimmed := strings.TrimSpace(string(stdout))
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty planning response", ErrInvalidPlan)
	}

	var w wrapper
	if err := json.Unmarshal([]byte(trimmed), &w); err == nil {
		if len(w.StructuredOutput) > 0 && string(w.StructuredOutput) != "null" {
			return parsePlanObject(string(w.StructuredOutput))
		}
		if w.Result != "" {
			return parsePlanObject(stripFences(w.Result))
		}
	}

	// Shape 3: the stdout is the plan itself.
	return parsePlanObject(trimmed)
}

// parsePlanObject decodes one plan object, repairing near-JSON if needed.
func parsePlanObject(text string) (*models.Plan, error) {
	text = strings.TrimSpace(text)

	plan := &models.Plan{}
	if err := json.Unmarshal([]byte(text), plan); err == nil {
		return plan, nil
	}

	repaired, err := jsonrepair.JSONRepair(text)
	if err != nil {
		return nil, fmt.Errorf("%w: response is not JSON", ErrInvalidPlan)
	}
	plan = &models.Plan{}
	if err := json.Unmarshal([]byte(repaired), plan); err != nil {
		return nil, fmt.Errorf("%w: response is not a plan object", ErrInvalidPlan)
	}
	return plan, nil
}

// stripFences removes a leading ``` or ```json fence and its closing fence.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}
