// Package storetest provides a conformance suite for store.Store
// implementations. Backend tests call Run with a factory that yields a
// fresh, empty store.
package storetest

import (
	"context"
	"reflect"
	"testing"

	"github.com/braidwork/braid/plan"
	"github.com/braidwork/braid/store"
)

// Factory returns a fresh store for one subtest. Cleanup should be
// registered on t.
type Factory func(t *testing.T) store.Store

// Run exercises the full Store contract against the factory's stores.
func Run(t *testing.T, factory Factory) {
	t.Run("memory append and load", func(t *testing.T) { testMemory(t, factory(t)) })
	t.Run("memory missing log is empty", func(t *testing.T) { testMemoryMissing(t, factory(t)) })
	t.Run("memory remove", func(t *testing.T) { testMemoryRemove(t, factory(t)) })
	t.Run("plan round trip", func(t *testing.T) { testPlan(t, factory(t)) })
	t.Run("plan overwrite", func(t *testing.T) { testPlanOverwrite(t, factory(t)) })
	t.Run("outputs ordered by first write", func(t *testing.T) { testOutputs(t, factory(t)) })
	t.Run("outputs overwrite keeps position", func(t *testing.T) { testOutputOverwrite(t, factory(t)) })
	t.Run("remove workflow", func(t *testing.T) { testRemoveWorkflow(t, factory(t)) })
	t.Run("workflows are independent", func(t *testing.T) { testWorkflowIsolation(t, factory(t)) })
	t.Run("values survive byte for byte", func(t *testing.T) { testFidelity(t, factory(t)) })
}

func testMemory(t *testing.T, s store.Store) {
	ctx := context.Background()
	entries := []string{"first", "second", "third"}
	for _, e := range entries {
		if err := s.AddMemory(ctx, "scribe", e); err != nil {
			t.Fatalf("AddMemory(%q) error: %v", e, err)
		}
	}

	got, err := s.LoadMemory(ctx, "scribe")
	if err != nil {
		t.Fatalf("LoadMemory error: %v", err)
	}
	if !reflect.DeepEqual(got, entries) {
		t.Errorf("LoadMemory = %v, want %v", got, entries)
	}

	// Another agent's log must stay untouched.
	other, err := s.LoadMemory(ctx, "editor")
	if err != nil {
		t.Fatalf("LoadMemory(editor) error: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("LoadMemory(editor) = %v, want empty", other)
	}
}

func testMemoryMissing(t *testing.T, s store.Store) {
	got, err := s.LoadMemory(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("LoadMemory error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("LoadMemory = %v, want empty", got)
	}
}

func testMemoryRemove(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.AddMemory(ctx, "scribe", "entry"); err != nil {
		t.Fatalf("AddMemory error: %v", err)
	}
	if err := s.RemoveMemory(ctx, "scribe"); err != nil {
		t.Fatalf("RemoveMemory error: %v", err)
	}
	got, err := s.LoadMemory(ctx, "scribe")
	if err != nil {
		t.Fatalf("LoadMemory error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("LoadMemory after remove = %v, want empty", got)
	}
	// Removing again is a no-op.
	if err := s.RemoveMemory(ctx, "scribe"); err != nil {
		t.Errorf("RemoveMemory(missing) error: %v", err)
	}
}

func samplePlan() plan.Plan {
	return plan.Plan{
		{Name: "outline", Description: "Outline the report", PromptTemplate: "Outline for: {{user_request}}"},
		{Name: "draft", Description: "Write the draft", PromptTemplate: "Expand: {{outline}}"},
	}
}

func testPlan(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, ok, err := s.LoadPlan(ctx, "wf-1")
	if err != nil {
		t.Fatalf("LoadPlan(missing) error: %v", err)
	}
	if ok {
		t.Fatal("LoadPlan(missing) ok = true, want false")
	}

	want := samplePlan()
	if err := s.SavePlan(ctx, "wf-1", want); err != nil {
		t.Fatalf("SavePlan error: %v", err)
	}
	got, ok, err := s.LoadPlan(ctx, "wf-1")
	if err != nil {
		t.Fatalf("LoadPlan error: %v", err)
	}
	if !ok {
		t.Fatal("LoadPlan ok = false, want true")
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("LoadPlan = %+v, want %+v", got, want)
	}
}

func testPlanOverwrite(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.SavePlan(ctx, "wf-1", samplePlan()); err != nil {
		t.Fatalf("SavePlan error: %v", err)
	}
	want := plan.Plan{{Name: "solo", Description: "One task", PromptTemplate: "{{user_request}}"}}
	if err := s.SavePlan(ctx, "wf-1", want); err != nil {
		t.Fatalf("SavePlan(overwrite) error: %v", err)
	}
	got, ok, err := s.LoadPlan(ctx, "wf-1")
	if err != nil || !ok {
		t.Fatalf("LoadPlan = ok %v, err %v", ok, err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("LoadPlan = %+v, want %+v", got, want)
	}
}

func testOutputs(t *testing.T, s store.Store) {
	ctx := context.Background()

	empty, err := s.LoadTaskOutputs(ctx, "wf-1")
	if err != nil {
		t.Fatalf("LoadTaskOutputs(missing) error: %v", err)
	}
	if empty.Len() != 0 {
		t.Errorf("LoadTaskOutputs(missing).Len = %d, want 0", empty.Len())
	}

	writes := []struct{ task, output string }{
		{"outline", "I. intro"},
		{"draft", "Once upon a time"},
		{"review", "LGTM"},
	}
	for _, w := range writes {
		if err := s.SaveTaskOutput(ctx, "wf-1", w.task, w.output); err != nil {
			t.Fatalf("SaveTaskOutput(%q) error: %v", w.task, err)
		}
	}

	outs, err := s.LoadTaskOutputs(ctx, "wf-1")
	if err != nil {
		t.Fatalf("LoadTaskOutputs error: %v", err)
	}
	wantNames := []string{"outline", "draft", "review"}
	if got := outs.Names(); !reflect.DeepEqual(got, wantNames) {
		t.Errorf("Names = %v, want %v", got, wantNames)
	}
	for _, w := range writes {
		got, ok := outs.Get(w.task)
		if !ok || got != w.output {
			t.Errorf("Get(%q) = %q, %v; want %q, true", w.task, got, ok, w.output)
		}
	}
}

func testOutputOverwrite(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.SaveTaskOutput(ctx, "wf-1", "outline", "v1"); err != nil {
		t.Fatalf("SaveTaskOutput error: %v", err)
	}
	if err := s.SaveTaskOutput(ctx, "wf-1", "draft", "text"); err != nil {
		t.Fatalf("SaveTaskOutput error: %v", err)
	}
	if err := s.SaveTaskOutput(ctx, "wf-1", "outline", "v2"); err != nil {
		t.Fatalf("SaveTaskOutput(overwrite) error: %v", err)
	}

	outs, err := s.LoadTaskOutputs(ctx, "wf-1")
	if err != nil {
		t.Fatalf("LoadTaskOutputs error: %v", err)
	}
	wantNames := []string{"outline", "draft"}
	if got := outs.Names(); !reflect.DeepEqual(got, wantNames) {
		t.Errorf("Names = %v, want %v", got, wantNames)
	}
	if got, _ := outs.Get("outline"); got != "v2" {
		t.Errorf("Get(outline) = %q, want %q", got, "v2")
	}
}

func testRemoveWorkflow(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.SavePlan(ctx, "wf-1", samplePlan()); err != nil {
		t.Fatalf("SavePlan error: %v", err)
	}
	if err := s.SaveTaskOutput(ctx, "wf-1", "outline", "text"); err != nil {
		t.Fatalf("SaveTaskOutput error: %v", err)
	}

	if err := s.RemoveWorkflow(ctx, "wf-1"); err != nil {
		t.Fatalf("RemoveWorkflow error: %v", err)
	}

	_, ok, err := s.LoadPlan(ctx, "wf-1")
	if err != nil {
		t.Fatalf("LoadPlan error: %v", err)
	}
	if ok {
		t.Error("LoadPlan ok = true after RemoveWorkflow, want false")
	}
	outs, err := s.LoadTaskOutputs(ctx, "wf-1")
	if err != nil {
		t.Fatalf("LoadTaskOutputs error: %v", err)
	}
	if outs.Len() != 0 {
		t.Errorf("LoadTaskOutputs.Len = %d after RemoveWorkflow, want 0", outs.Len())
	}
	// Removing an unknown workflow is a no-op.
	if err := s.RemoveWorkflow(ctx, "wf-404"); err != nil {
		t.Errorf("RemoveWorkflow(missing) error: %v", err)
	}
}

func testWorkflowIsolation(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.SaveTaskOutput(ctx, "wf-1", "outline", "one"); err != nil {
		t.Fatalf("SaveTaskOutput error: %v", err)
	}
	if err := s.SaveTaskOutput(ctx, "wf-2", "outline", "two"); err != nil {
		t.Fatalf("SaveTaskOutput error: %v", err)
	}
	if err := s.RemoveWorkflow(ctx, "wf-1"); err != nil {
		t.Fatalf("RemoveWorkflow error: %v", err)
	}

	outs, err := s.LoadTaskOutputs(ctx, "wf-2")
	if err != nil {
		t.Fatalf("LoadTaskOutputs error: %v", err)
	}
	if got, _ := outs.Get("outline"); got != "two" {
		t.Errorf("wf-2 outline = %q, want %q", got, "two")
	}
}

func testFidelity(t *testing.T, s store.Store) {
	ctx := context.Background()
	raw := "line one\n\ttab\n\"quotes\" and unicode: héllo — 世界\n{}[]"
	if err := s.SaveTaskOutput(ctx, "wf-1", "raw", raw); err != nil {
		t.Fatalf("SaveTaskOutput error: %v", err)
	}
	if err := s.AddMemory(ctx, "scribe", raw); err != nil {
		t.Fatalf("AddMemory error: %v", err)
	}

	outs, err := s.LoadTaskOutputs(ctx, "wf-1")
	if err != nil {
		t.Fatalf("LoadTaskOutputs error: %v", err)
	}
	if got, _ := outs.Get("raw"); got != raw {
		t.Errorf("output round trip = %q, want %q", got, raw)
	}
	mem, err := s.LoadMemory(ctx, "scribe")
	if err != nil {
		t.Fatalf("LoadMemory error: %v", err)
	}
	if len(mem) != 1 || mem[0] != raw {
		t.Errorf("memory round trip = %v, want [%q]", mem, raw)
	}
}
