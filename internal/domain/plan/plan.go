// Package plan turns a work-item goal into a structured Epic/Feature/Story/
// Task breakdown: it builds the generation prompt, parses the model's JSON
// plan output and applies an accepted plan by creating child work items.
package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/planpilot/planpilot/internal/infra/llm"
	"github.com/planpilot/planpilot/internal/infra/workitems"
)

var (
	ErrEmptyPlan       = errors.New("plan contains no items")
	ErrNoPlanInOutput  = errors.New("no json plan found in model output")
	ErrInvalidItemType = errors.New("invalid plan item type")
	ErrUntitledItem    = errors.New("plan item has no title")
)

// validItemTypes is the work-item hierarchy the host platform accepts.
var validItemTypes = map[string]struct{}{
	"Epic":    {},
	"Feature": {},
	"Story":   {},
	"Task":    {},
}

// Item is one node of a generated plan.
type Item struct {
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Children    []Item `json:"children,omitempty"`
}

// Plan is the model's proposed work-item breakdown.
type Plan struct {
	Items []Item `json:"items"`
}

const planSchemaInstruction = `You are a planning assistant for a work-tracking platform.
Respond with a single JSON object and nothing else, in this shape:
{"items":[{"type":"Epic|Feature|Story|Task","title":"...","description":"...","children":[...]}]}
Every item needs a type and a short imperative title. Nest children one level
below their parent type (Epic > Feature > Story > Task). Do not invent work
outside the stated goal.`

// BuildPrompt assembles the generation conversation: schema instruction as
// the system turn, work-item context plus the goal as the user turn.
func BuildPrompt(parent *workitems.WorkItem, goal string) (prompt string, history []llm.Message) {
	b := strings.Builder{}
	if parent != nil {
		b.WriteString("Current work item:\n")
		fmt.Fprintf(&b, "- ID: %d\n- Type: %s\n- Title: %s\n", parent.ID, parent.Type, parent.Title)
		if parent.Description != "" {
			fmt.Fprintf(&b, "- Description: %s\n", parent.Description)
		}
		b.WriteString("\n")
	}
	b.WriteString("Goal: ")
	b.WriteString(goal)

	history = []llm.Message{{Role: llm.RoleSystem, Content: planSchemaInstruction}}
	return b.String(), history
}

// Parse extracts the JSON plan from raw model output. Models wrap JSON in
// markdown fences or prose despite instructions, so the parser strips fences
// first and then falls back to the outermost brace pair.
func Parse(raw string) (*Plan, error) {
	candidate := stripFences(raw)

	start := strings.Index(candidate, "{")
	end := strings.LastIndex(candidate, "}")
	if start < 0 || end <= start {
		return nil, ErrNoPlanInOutput
	}

	var p Plan
	if err := json.Unmarshal([]byte(candidate[start:end+1]), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoPlanInOutput, err)
	}
	if len(p.Items) == 0 {
		return nil, ErrEmptyPlan
	}
	if err := validateItems(p.Items); err != nil {
		return nil, err
	}
	return &p, nil
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop a language tag like "json" on the opening fence.
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func validateItems(items []Item) error {
	for _, item := range items {
		if _, ok := validItemTypes[item.Type]; !ok {
			return fmt.Errorf("%w: %q", ErrInvalidItemType, item.Type)
		}
		if strings.TrimSpace(item.Title) == "" {
			return fmt.Errorf("%w: type %s", ErrUntitledItem, item.Type)
		}
		if err := validateItems(item.Children); err != nil {
			return err
		}
	}
	return nil
}
