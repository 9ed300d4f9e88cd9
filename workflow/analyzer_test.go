package workflow_test

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/braidwork/braid/plan"
	"github.com/braidwork/braid/workflow"
)

// chainPlan builds a plan where each task's template references the given
// names.
func task(name string, refs ...string) plan.Task {
	var sb strings.Builder
	sb.WriteString("Work on " + name + ".")
	for _, ref := range refs {
		sb.WriteString(" Uses {{" + ref + "}}.")
	}
	return plan.Task{Name: name, Description: "does " + name, PromptTemplate: sb.String()}
}

func TestDependencies(t *testing.T) {
	p := plan.Plan{
		task("a", "user_request"),
		task("b", "a", "prev_output"),
		task("c", "a", "b", "later", "c"),
		task("later"),
	}

	tests := []struct {
		idx  int
		want []string
	}{
		{0, nil},                // built-ins never count
		{1, []string{"a"}},      // prev_output excluded
		{2, []string{"a", "b"}}, // forward and self references inert
		{3, nil},                // no references at all
	}
	for _, tt := range tests {
		got := workflow.Dependencies(p, tt.idx)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Dependencies(p, %d) = %v, want %v", tt.idx, got, tt.want)
		}
	}

	if got := workflow.Dependencies(p, -1); got != nil {
		t.Errorf("Dependencies(p, -1) = %v, want nil", got)
	}
	if got := workflow.Dependencies(p, len(p)); got != nil {
		t.Errorf("Dependencies(p, len) = %v, want nil", got)
	}
}

func TestDependenciesDeduplicates(t *testing.T) {
	p := plan.Plan{
		task("a"),
		{Name: "b", PromptTemplate: "{{a}} and {{a}} again"},
	}
	got := workflow.Dependencies(p, 1)
	if !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("Dependencies = %v, want [a]", got)
	}
}

func TestBatches(t *testing.T) {
	tests := []struct {
		name string
		p    plan.Plan
		want [][]string
	}{
		{
			name: "linear chain",
			p:    plan.Plan{task("a"), task("b", "a"), task("c", "b")},
			want: [][]string{{"a"}, {"b"}, {"c"}},
		},
		{
			name: "diamond",
			p:    plan.Plan{task("a"), task("b", "a"), task("c", "a"), task("d", "b", "c")},
			want: [][]string{{"a"}, {"b", "c"}, {"d"}},
		},
		{
			name: "independent tasks share one batch",
			p:    plan.Plan{task("a"), task("b"), task("c")},
			want: [][]string{{"a", "b", "c"}},
		},
		{
			name: "forward reference does not constrain",
			p:    plan.Plan{task("a", "b"), task("b")},
			want: [][]string{{"a", "b"}},
		},
		{
			name: "single task",
			p:    plan.Plan{task("only")},
			want: [][]string{{"only"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := workflow.Batches(tt.p)
			if err != nil {
				t.Fatalf("Batches error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Batches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBatchesRejectsCycles(t *testing.T) {
	tests := []struct {
		name string
		p    plan.Plan
	}{
		{
			name: "two task cycle",
			p: plan.Plan{
				{Name: "a", PromptTemplate: "needs {{b}}"},
				{Name: "b", PromptTemplate: "needs {{a}}"},
			},
		},
		{
			name: "self reference",
			p: plan.Plan{
				{Name: "a", PromptTemplate: "needs {{a}}"},
			},
		},
		{
			name: "cycle behind a clean prefix",
			p: plan.Plan{
				task("setup"),
				{Name: "x", PromptTemplate: "{{setup}} {{y}}"},
				{Name: "y", PromptTemplate: "{{x}}"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := workflow.Batches(tt.p)
			if !errors.Is(err, workflow.ErrCircularDependency) {
				t.Fatalf("Batches error = %v, want ErrCircularDependency", err)
			}
			// The error must name a task on the cycle.
			named := false
			for _, task := range tt.p {
				if strings.Contains(err.Error(), `"`+task.Name+`"`) {
					named = true
				}
			}
			if !named {
				t.Errorf("error does not name a cycle participant: %v", err)
			}
		})
	}
}

func TestBatchesValidatesPlan(t *testing.T) {
	if _, err := workflow.Batches(nil); !errors.Is(err, plan.ErrEmptyPlan) {
		t.Errorf("Batches(nil) error = %v, want ErrEmptyPlan", err)
	}

	dup := plan.Plan{task("a"), task("a")}
	if _, err := workflow.Batches(dup); !errors.Is(err, plan.ErrDuplicateTask) {
		t.Errorf("Batches(dup) error = %v, want ErrDuplicateTask", err)
	}
}

func TestParallelismRatio(t *testing.T) {
	tests := []struct {
		tasks, batches int
		want           float64
	}{
		{3, 3, 0},    // fully sequential
		{4, 3, 0.25}, // diamond
		{3, 1, 2.0 / 3.0},
		{1, 1, 0},
		{0, 0, 0},
		{2, 3, 0}, // never negative
	}
	for _, tt := range tests {
		got := workflow.ParallelismRatio(tt.tasks, tt.batches)
		if got != tt.want {
			t.Errorf("ParallelismRatio(%d, %d) = %g, want %g", tt.tasks, tt.batches, got, tt.want)
		}
	}
}
