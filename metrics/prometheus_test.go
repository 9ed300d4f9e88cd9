package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestPromSinkRegistersAndRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewPromSink(reg)

	tags := map[string]string{"agent": "writer", "type": "unified"}
	s.Record(Metric{Name: "agent.execution.count", Kind: KindCounter, Value: 1, Tags: tags, At: time.Now()})
	s.Record(Metric{Name: "agent.execution.count", Kind: KindCounter, Value: 1, Tags: tags, At: time.Now()})
	s.Record(Metric{Name: "retry.attempts.total", Kind: KindGauge, Value: 3, Tags: map[string]string{"operation": "llm.generate"}, At: time.Now()})
	s.Record(Metric{Name: "agent.execution.duration", Kind: KindTimer, Value: 0.25, Tags: tags, At: time.Now()})

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}

	byName := map[string]bool{}
	for _, f := range families {
		byName[f.GetName()] = true
	}

	for _, want := range []string{
		"braid_agent_execution_count",
		"braid_retry_attempts_total",
		"braid_agent_execution_duration_seconds",
	} {
		if !byName[want] {
			t.Errorf("metric family %q not gathered, got %v", want, byName)
		}
	}
}

func TestPromSinkConformsLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewPromSink(reg)

	// First sight fixes the schema at {a, b}.
	s.Record(Metric{Name: "x", Kind: KindCounter, Value: 1, Tags: map[string]string{"a": "1", "b": "2"}})
	// Missing and extra labels must not panic.
	s.Record(Metric{Name: "x", Kind: KindCounter, Value: 1, Tags: map[string]string{"a": "1", "c": "3"}})

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	if len(families) != 1 {
		t.Fatalf("gathered %d families, want 1", len(families))
	}
	if got := len(families[0].GetMetric()); got != 2 {
		t.Errorf("series count = %d, want 2", got)
	}
}

func TestPromNameShapes(t *testing.T) {
	if got := promName("retry.operations.count", ""); got != "braid_retry_operations_count" {
		t.Errorf("promName = %q", got)
	}
	if got := promName("tool.execution.duration", "seconds"); got != "braid_tool_execution_duration_seconds" {
		t.Errorf("promName = %q", got)
	}
}
