package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/orb/internal/llm"
)

// Approach is the planner's choice of data source.
type Approach string

const (
	ApproachSQL      Approach = "sql"
	ApproachSemantic Approach = "semantic"
)

// Plan is the planner's structured decision for one attempt.
type Plan struct {
	Consideration string   `json:"consideration"`
	Approach      Approach `json:"approach"`
	SQLIntent     string   `json:"sql_intent"`
}

var errPlanShape = errors.New("plan does not match schema")

// parsePlan decodes and validates planner output. approach is matched
// case-insensitively; sql_intent is required only for the sql approach.
func parsePlan(raw string) (Plan, error) {
	text := stripFences(raw)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return Plan{}, fmt.Errorf("parsing plan JSON: %w", err)
	}

	var p Plan
	if err := stringField(fields, "consideration", &p.Consideration, false); err != nil {
		return Plan{}, err
	}
	var approach string
	if err := stringField(fields, "approach", &approach, true); err != nil {
		return Plan{}, err
	}
	p.Approach = Approach(strings.ToLower(strings.TrimSpace(approach)))
	if p.Approach != ApproachSQL && p.Approach != ApproachSemantic {
		return Plan{}, fmt.Errorf("%w: approach %q is not sql or semantic", errPlanShape, approach)
	}
	if err := stringField(fields, "sql_intent", &p.SQLIntent, p.Approach == ApproachSQL); err != nil {
		return Plan{}, err
	}
	if p.Approach == ApproachSQL && strings.TrimSpace(p.SQLIntent) == "" {
		return Plan{}, fmt.Errorf("%w: sql approach without sql_intent", errPlanShape)
	}
	return p, nil
}

func stringField(fields map[string]json.RawMessage, name string, dst *string, required bool) error {
	raw, ok := fields[name]
	if !ok || string(raw) == "null" {
		if required {
			return fmt.Errorf("%w: missing %s", errPlanShape, name)
		}
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %s is not a string", errPlanShape, name)
	}
	return nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// planSchema constrains planner output on backends that accept a schema.
func planSchema() *llm.Schema {
	return &llm.Schema{
		Type: "object",
		Properties: map[string]llm.SchemaProperty{
			"consideration": {Type: "string", Description: "Why sql or semantic was chosen"},
			"approach":      {Type: "string", Enum: []string{string(ApproachSQL), string(ApproachSemantic)}},
			"sql_intent":    {Type: "string", Description: "What the query must find; empty for semantic"},
		},
		Required: []string{"consideration", "approach", "sql_intent"},
	}
}
