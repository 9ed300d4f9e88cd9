package agent_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/braidwork/braid/agent"
	"github.com/braidwork/braid/llm/testutil"
	"github.com/braidwork/braid/store"
	"github.com/braidwork/braid/store/memstore"
)

func newEchoRegistry(t *testing.T, names ...string) *agent.Registry {
	t.Helper()
	r := agent.NewRegistry()
	for _, name := range names {
		tool := agent.NewToolFunc(name, "echoes", func(_ context.Context, input agent.ExecutionInput) (agent.ExecutionResult, error) {
			return agent.ExecutionResult{Success: true, Output: "echo: " + input.Content}, nil
		})
		if err := r.Register(tool); err != nil {
			t.Fatalf("Register(%q) error: %v", name, err)
		}
	}
	return r
}

func TestPromptAssembly(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	for _, entry := range []string{"first note", "second note"} {
		if err := st.AddMemory(ctx, "summarizer", entry); err != nil {
			t.Fatalf("AddMemory error: %v", err)
		}
	}

	client := testutil.NewMockClient(testutil.Respond("fine"))
	a, err := agent.New(ctx, "summarizer", "You are a careful summarizer.", client,
		agent.WithStore(st),
		agent.WithTools(newEchoRegistry(t, "b-tool", "a-tool")),
		agent.WithPromptTemplate("Focus on {{topic}}"),
	)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	if _, err := a.Execute(ctx, agent.ExecutionInput{Content: "Summarize the memo"}); err != nil {
		t.Fatalf("Execute error: %v", err)
	}

	want := "System: You are a careful summarizer.\n\n" +
		"Memory (most recent first):\n" +
		"- second note\n" +
		"- first note\n\n" +
		"Available tools: a-tool, b-tool\n" +
		`You can call tools using JSON format: {"tool": "tool_name", "arguments": "arguments here"}. Only use tools when helpful. Otherwise just answer directly.` + "\n\n" +
		"User Input:\nSummarize the memo\n\n" +
		"Prompt Template:\nFocus on {{topic}}\n\n" +
		"Produce the best output now."

	got, ok := client.LastPrompt()
	if !ok {
		t.Fatal("no prompt captured")
	}
	if got != want {
		t.Errorf("prompt mismatch\ngot:\n%s\n\nwant:\n%s", got, want)
	}
}

func TestPromptOmitsEmptySections(t *testing.T) {
	ctx := context.Background()
	client := testutil.NewMockClient(testutil.Respond("ok"))
	a, err := agent.New(ctx, "bare", "Minimal agent.", client)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	if _, err := a.Execute(ctx, agent.ExecutionInput{Content: "hi"}); err != nil {
		t.Fatalf("Execute error: %v", err)
	}

	want := "System: Minimal agent.\n\nUser Input:\nhi\n\nProduce the best output now."
	if got, _ := client.LastPrompt(); got != want {
		t.Errorf("prompt = %q, want %q", got, want)
	}
}

func TestExecutePlainText(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	client := testutil.NewMockClient(testutil.Respond("The answer is 42."))
	a, err := agent.New(ctx, "oracle", "Answers questions.", client, agent.WithStore(st))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	res, err := a.Execute(ctx, agent.ExecutionInput{Content: "meaning of life?"})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !res.Success || res.Output != "The answer is 42." {
		t.Errorf("result = %+v", res)
	}

	mem, err := st.LoadMemory(ctx, "oracle")
	if err != nil {
		t.Fatalf("LoadMemory error: %v", err)
	}
	if len(mem) != 1 || mem[0] != "LLM_OUTPUT: The answer is 42." {
		t.Errorf("memory = %v, want single LLM_OUTPUT entry", mem)
	}
}

func TestExecuteToolCall(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()

	var gotInput agent.ExecutionInput
	r := agent.NewRegistry()
	tool := agent.NewToolFunc("search", "searches", func(_ context.Context, input agent.ExecutionInput) (agent.ExecutionResult, error) {
		gotInput = input
		return agent.ExecutionResult{Success: true, Output: "found it", Metadata: map[string]string{"hits": "3"}}, nil
	})
	if err := r.Register(tool); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	client := testutil.NewMockClient(testutil.Respond(`{"tool":"search","arguments":"golang errgroup"}`))
	a, err := agent.New(ctx, "researcher", "Researches topics.", client,
		agent.WithStore(st), agent.WithTools(r))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	res, err := a.Execute(ctx, agent.ExecutionInput{
		Content: "find docs",
		Params:  map[string]string{"workflow": "wf-1"},
	})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !res.Success || res.Output != "found it" || res.Metadata["hits"] != "3" {
		t.Errorf("result = %+v, want tool result", res)
	}
	if gotInput.Content != "golang errgroup" {
		t.Errorf("tool received content %q, want arguments", gotInput.Content)
	}
	if gotInput.Params["workflow"] != "wf-1" {
		t.Errorf("tool params = %v, want pass-through", gotInput.Params)
	}

	mem, _ := st.LoadMemory(ctx, "researcher")
	if len(mem) != 1 || mem[0] != "TOOL_CALL search arg=golang errgroup" {
		t.Errorf("memory = %v, want single TOOL_CALL entry", mem)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	ctx := context.Background()
	client := testutil.NewMockClient(testutil.Respond(`{"tool":"nope","arguments":"x"}`))
	a, err := agent.New(ctx, "worker", "Works.", client,
		agent.WithTools(newEchoRegistry(t, "echo")))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	res, err := a.Execute(ctx, agent.ExecutionInput{Content: "go"})
	if err != nil {
		t.Fatalf("Execute error = %v, want nil for unknown tool", err)
	}
	if res.Success {
		t.Error("Success = true, want false")
	}
	if res.Output != "[ERROR: unknown tool nope]" {
		t.Errorf("Output = %q, want %q", res.Output, "[ERROR: unknown tool nope]")
	}
}

func TestExecuteToolFailure(t *testing.T) {
	ctx := context.Background()
	cause := errors.New("index offline")
	r := agent.NewRegistry()
	failing := agent.NewToolFunc("search", "fails", func(context.Context, agent.ExecutionInput) (agent.ExecutionResult, error) {
		return agent.ExecutionResult{}, cause
	})
	if err := r.Register(failing); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	client := testutil.NewMockClient(testutil.Respond(`{"tool":"search","arguments":"x"}`))
	a, err := agent.New(ctx, "worker", "Works.", client, agent.WithTools(r))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	res, err := a.Execute(ctx, agent.ExecutionInput{Content: "go"})
	if res.Success {
		t.Error("Success = true, want false")
	}
	var terr *agent.ToolError
	if !errors.As(err, &terr) || terr.Tool != "search" {
		t.Errorf("error = %v, want ToolError for search", err)
	}
	if !errors.Is(err, cause) {
		t.Error("error does not wrap the tool failure")
	}
}

func TestToolCallWithoutRegistryIsPlainText(t *testing.T) {
	ctx := context.Background()
	raw := `{"tool":"search","arguments":"x"}`
	client := testutil.NewMockClient(testutil.Respond(raw))
	a, err := agent.New(ctx, "bare", "No tools.", client)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	res, err := a.Execute(ctx, agent.ExecutionInput{Content: "go"})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !res.Success || res.Output != raw {
		t.Errorf("result = %+v, want raw text pass-through", res)
	}
}

func TestExecuteBlankContent(t *testing.T) {
	ctx := context.Background()
	client := testutil.NewMockClient()
	a, err := agent.New(ctx, "worker", "Works.", client)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	_, err = a.Execute(ctx, agent.ExecutionInput{Content: "   "})
	var aerr *agent.ArgumentError
	if !errors.As(err, &aerr) {
		t.Fatalf("error = %v, want ArgumentError", err)
	}
	if aerr.Field != "content" {
		t.Errorf("Field = %q, want %q", aerr.Field, "content")
	}
	if client.Calls() != 0 {
		t.Error("blank content reached the client")
	}
}

func TestExecuteGenerateFailure(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	cause := errors.New("backend down")
	client := testutil.NewMockClient(testutil.Fail(cause))
	a, err := agent.New(ctx, "worker", "Works.", client, agent.WithStore(st))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	res, err := a.Execute(ctx, agent.ExecutionInput{Content: "go"})
	if err == nil || !errors.Is(err, cause) {
		t.Fatalf("error = %v, want wrapped cause", err)
	}
	if res.Success {
		t.Error("Success = true, want false")
	}
	mem, _ := st.LoadMemory(ctx, "worker")
	if len(mem) != 0 {
		t.Errorf("memory = %v, want empty after failed generation", mem)
	}
}

func TestMemoryEntriesTruncated(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	long := strings.Repeat("x", 500)
	client := testutil.NewMockClient(testutil.Respond(long))
	a, err := agent.New(ctx, "worker", "Works.", client, agent.WithStore(st))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	res, err := a.Execute(ctx, agent.ExecutionInput{Content: "go"})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if res.Output != long {
		t.Error("returned output was truncated; only memory should be")
	}

	mem, _ := st.LoadMemory(ctx, "worker")
	if len(mem) != 1 {
		t.Fatalf("memory entries = %d, want 1", len(mem))
	}
	want := "LLM_OUTPUT: " + strings.Repeat("x", 300) + "…"
	if mem[0] != want {
		t.Errorf("entry length = %d, want truncated to %d", len(mem[0]), len(want))
	}
}

func TestMemoryLimitNewestFirst(t *testing.T) {
	ctx := context.Background()
	client := testutil.NewMockClient(
		testutil.Respond("one"), testutil.Respond("two"),
		testutil.Respond("three"), testutil.Respond("four"),
	)
	a, err := agent.New(ctx, "worker", "Works.", client, agent.WithMemoryLimit(2))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	for i := 0; i < 4; i++ {
		if _, err := a.Execute(ctx, agent.ExecutionInput{Content: "go"}); err != nil {
			t.Fatalf("Execute error: %v", err)
		}
	}

	prompt, _ := client.LastPrompt()
	wantSection := "Memory (most recent first):\n- LLM_OUTPUT: three\n- LLM_OUTPUT: two"
	if !strings.Contains(prompt, wantSection) {
		t.Errorf("prompt missing section %q:\n%s", wantSection, prompt)
	}
	if strings.Contains(prompt, "LLM_OUTPUT: one") {
		t.Error("prompt contains entry beyond the limit")
	}
}

func TestZeroMemoryLimitOmitsSection(t *testing.T) {
	ctx := context.Background()
	client := testutil.NewMockClient(testutil.Respond("a"), testutil.Respond("b"))
	a, err := agent.New(ctx, "worker", "Works.", client, agent.WithMemoryLimit(0))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := a.Execute(ctx, agent.ExecutionInput{Content: "go"}); err != nil {
			t.Fatalf("Execute error: %v", err)
		}
	}
	prompt, _ := client.LastPrompt()
	if strings.Contains(prompt, "Memory (most recent first):") {
		t.Error("prompt contains memory section despite zero limit")
	}
}

func TestMemoryRehydration(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	if err := st.AddMemory(ctx, "veteran", "LLM_OUTPUT: old wisdom"); err != nil {
		t.Fatalf("AddMemory error: %v", err)
	}

	client := testutil.NewMockClient()
	a, err := agent.New(ctx, "veteran", "Remembers.", client, agent.WithStore(st))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	mem := a.Memory()
	if len(mem) != 1 || mem[0] != "LLM_OUTPUT: old wisdom" {
		t.Errorf("Memory = %v, want rehydrated entry", mem)
	}
}

// failingStore rejects memory writes to prove persistence failures don't
// fail executions.
type failingStore struct {
	store.Store
}

func (f *failingStore) AddMemory(context.Context, string, string) error {
	return errors.New("write refused")
}

func TestMemoryPersistFailureNonFatal(t *testing.T) {
	ctx := context.Background()
	client := testutil.NewMockClient(testutil.Respond("still fine"))
	a, err := agent.New(ctx, "worker", "Works.", client,
		agent.WithStore(&failingStore{Store: memstore.New()}))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	res, err := a.Execute(ctx, agent.ExecutionInput{Content: "go"})
	if err != nil {
		t.Fatalf("Execute error = %v, want nil despite persist failure", err)
	}
	if !res.Success || res.Output != "still fine" {
		t.Errorf("result = %+v", res)
	}
	if mem := a.Memory(); len(mem) != 1 {
		t.Errorf("in-memory log = %v, want one entry", mem)
	}
}

func TestNewValidation(t *testing.T) {
	ctx := context.Background()
	client := testutil.NewMockClient()

	tests := []struct {
		name  string
		build func() (*agent.Agent, error)
	}{
		{"blank name", func() (*agent.Agent, error) {
			return agent.New(ctx, "  ", "desc", client)
		}},
		{"blank description", func() (*agent.Agent, error) {
			return agent.New(ctx, "worker", "", client)
		}},
		{"nil client", func() (*agent.Agent, error) {
			return agent.New(ctx, "worker", "desc", nil)
		}},
		{"negative memory limit", func() (*agent.Agent, error) {
			return agent.New(ctx, "worker", "desc", client, agent.WithMemoryLimit(-1))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build()
			var aerr *agent.ArgumentError
			if !errors.As(err, &aerr) {
				t.Errorf("error = %v, want ArgumentError", err)
			}
		})
	}
}
