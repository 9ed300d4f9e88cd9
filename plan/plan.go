// Package plan defines the task plan entity shared by the planner, the
// dependency analyzer, the execution engines, and the persistence layer.
package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Validation errors.
var (
	ErrEmptyPlan     = errors.New("plan has no tasks")
	ErrEmptyTaskName = errors.New("task name is empty")
	ErrTaskNameSpace = errors.New("task name contains whitespace")
	ErrDuplicateTask = errors.New("duplicate task name")
)

// Task is one unit of work in a plan: what the step is called, what it is
// for, and the prompt template handed to the worker agent that executes it.
// Templates may reference {{user_request}}, {{prev_output}}, or the output
// of any earlier task as {{<task name>}}.
type Task struct {
	Name           string `json:"name" yaml:"name"`
	Description    string `json:"description" yaml:"description"`
	PromptTemplate string `json:"promptTemplate" yaml:"promptTemplate"`
}

// Validate checks the task's own fields. Name uniqueness is a plan-level
// property checked by Plan.Validate.
func (t Task) Validate() error {
	if t.Name == "" {
		return ErrEmptyTaskName
	}
	if strings.IndexFunc(t.Name, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: %q", ErrTaskNameSpace, t.Name)
	}
	return nil
}

// Plan is an ordered list of tasks. Order is authoritative: it drives
// execution sequencing and prev_output resolution, so it must be preserved
// end to end through persistence.
type Plan []Task

// Validate checks every task and rejects duplicate names.
func (p Plan) Validate() error {
	if len(p) == 0 {
		return ErrEmptyPlan
	}
	seen := make(map[string]struct{}, len(p))
	for i, t := range p {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("task %d: %w", i, err)
		}
		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateTask, t.Name)
		}
		seen[t.Name] = struct{}{}
	}
	return nil
}

// Names returns the task names in plan order.
func (p Plan) Names() []string {
	names := make([]string, len(p))
	for i, t := range p {
		names[i] = t.Name
	}
	return names
}

// Index returns the position of the named task, or -1 if absent.
func (p Plan) Index(name string) int {
	for i, t := range p {
		if t.Name == name {
			return i
		}
	}
	return -1
}

// Clone returns an independent copy of the plan.
func (p Plan) Clone() Plan {
	if p == nil {
		return nil
	}
	out := make(Plan, len(p))
	copy(out, p)
	return out
}

// Marshal encodes the plan for persistence.
func Marshal(p Plan) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal plan: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a persisted plan.
func Unmarshal(data []byte) (Plan, error) {
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal plan: %w", err)
	}
	return p, nil
}
