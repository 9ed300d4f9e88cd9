package gormstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/braidwork/braid/store"
	"github.com/braidwork/braid/store/gormstore"
	"github.com/braidwork/braid/store/storetest"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := gormstore.Open(filepath.Join(t.TempDir(), "braid.db"))
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestContract(t *testing.T) {
	storetest.Run(t, newTestStore)
}

func TestStateSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "braid.db")
	ctx := context.Background()

	first, err := gormstore.Open(path)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if err := first.SaveTaskOutput(ctx, "wf", "outline", "kept"); err != nil {
		t.Fatalf("SaveTaskOutput error: %v", err)
	}
	if err := first.AddMemory(ctx, "scribe", "note"); err != nil {
		t.Fatalf("AddMemory error: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	second, err := gormstore.Open(path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer second.Close()

	outs, err := second.LoadTaskOutputs(ctx, "wf")
	if err != nil {
		t.Fatalf("LoadTaskOutputs error: %v", err)
	}
	if got, _ := outs.Get("outline"); got != "kept" {
		t.Errorf("outline = %q, want %q", got, "kept")
	}
	mem, err := second.LoadMemory(ctx, "scribe")
	if err != nil {
		t.Fatalf("LoadMemory error: %v", err)
	}
	if len(mem) != 1 || mem[0] != "note" {
		t.Errorf("memory = %v, want [note]", mem)
	}
}
