package plan

import (
	"errors"
	"testing"
)

func TestPlanValidate(t *testing.T) {
	tests := []struct {
		name    string
		plan    Plan
		wantErr error
	}{
		{
			name:    "empty plan",
			plan:    Plan{},
			wantErr: ErrEmptyPlan,
		},
		{
			name:    "empty task name",
			plan:    Plan{{Name: "", Description: "d"}},
			wantErr: ErrEmptyTaskName,
		},
		{
			name:    "whitespace in name",
			plan:    Plan{{Name: "fetch data", Description: "d"}},
			wantErr: ErrTaskNameSpace,
		},
		{
			name:    "tab in name",
			plan:    Plan{{Name: "fetch\tdata", Description: "d"}},
			wantErr: ErrTaskNameSpace,
		},
		{
			name: "duplicate names",
			plan: Plan{
				{Name: "fetch", Description: "a"},
				{Name: "fetch", Description: "b"},
			},
			wantErr: ErrDuplicateTask,
		},
		{
			name: "valid plan",
			plan: Plan{
				{Name: "fetch", Description: "a", PromptTemplate: "{{user_request}}"},
				{Name: "summarize", Description: "b", PromptTemplate: "{{fetch}}"},
			},
			wantErr: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPlanNamesAndIndex(t *testing.T) {
	p := Plan{
		{Name: "a"},
		{Name: "b"},
		{Name: "c"},
	}

	names := p.Names()
	want := []string{"a", "b", "c"}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, names[i], want[i])
		}
	}

	if got := p.Index("b"); got != 1 {
		t.Errorf("Index(b) = %d, want 1", got)
	}
	if got := p.Index("missing"); got != -1 {
		t.Errorf("Index(missing) = %d, want -1", got)
	}
}

func TestPlanRoundTrip(t *testing.T) {
	p := Plan{
		{Name: "research", Description: "gather sources", PromptTemplate: "Find material for: {{user_request}}"},
		{Name: "draft", Description: "write draft", PromptTemplate: "Use {{research}}"},
	}

	data, err := Marshal(p)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}

	if len(got) != len(p) {
		t.Fatalf("round trip length = %d, want %d", len(got), len(p))
	}
	for i := range p {
		if got[i] != p[i] {
			t.Errorf("task %d = %+v, want %+v", i, got[i], p[i])
		}
	}
}

func TestPlanCloneIndependent(t *testing.T) {
	p := Plan{{Name: "a", Description: "orig"}}
	c := p.Clone()
	c[0].Description = "changed"
	if p[0].Description != "orig" {
		t.Errorf("Clone aliases the original plan")
	}
}
