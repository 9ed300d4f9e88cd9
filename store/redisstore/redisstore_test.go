package redisstore_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/braidwork/braid/store"
	"github.com/braidwork/braid/store/redisstore"
	"github.com/braidwork/braid/store/storetest"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	s := redisstore.New(mr.Addr())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestContract(t *testing.T) {
	storetest.Run(t, newTestStore)
}

func TestOutputOrderSurvivesReconnect(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	first := redisstore.New(mr.Addr())
	for _, task := range []string{"c", "a", "b"} {
		if err := first.SaveTaskOutput(ctx, "wf", task, "out-"+task); err != nil {
			t.Fatalf("SaveTaskOutput(%q) error: %v", task, err)
		}
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	second := redisstore.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer second.Close()

	outs, err := second.LoadTaskOutputs(ctx, "wf")
	if err != nil {
		t.Fatalf("LoadTaskOutputs error: %v", err)
	}
	want := []string{"c", "a", "b"}
	got := outs.Names()
	if len(got) != len(want) {
		t.Fatalf("Names = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Names[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
