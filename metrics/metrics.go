// Package metrics defines the measurement model and sink contract used
// across the engine, plus in-memory and Prometheus sink implementations.
package metrics

import "time"

// Kind distinguishes how a metric value is interpreted.
type Kind string

const (
	// KindCounter values are monotonic increments.
	KindCounter Kind = "counter"
	// KindGauge values are point-in-time levels.
	KindGauge Kind = "gauge"
	// KindTimer values are durations in seconds.
	KindTimer Kind = "timer"
)

// Metric is one recorded measurement.
type Metric struct {
	Name  string
	Kind  Kind
	Value float64
	Tags  map[string]string
	At    time.Time
}

// Sink receives measurements. Implementations must be safe for concurrent
// use and must not block callers.
type Sink interface {
	Record(m Metric)
}

// NopSink discards everything.
type NopSink struct{}

// Record implements Sink.
func (NopSink) Record(Metric) {}

// Count records a counter increment of one. All helpers are nil-safe so
// instrumented code never has to guard its sink.
func Count(s Sink, name string, tags map[string]string) {
	CountN(s, name, 1, tags)
}

// CountN records a counter increment of n.
func CountN(s Sink, name string, n float64, tags map[string]string) {
	if s == nil {
		return
	}
	s.Record(Metric{Name: name, Kind: KindCounter, Value: n, Tags: tags, At: time.Now()})
}

// Gauge records a point-in-time level.
func Gauge(s Sink, name string, value float64, tags map[string]string) {
	if s == nil {
		return
	}
	s.Record(Metric{Name: name, Kind: KindGauge, Value: value, Tags: tags, At: time.Now()})
}

// Timer records the elapsed time since start, in seconds.
func Timer(s Sink, name string, start time.Time, tags map[string]string) {
	if s == nil {
		return
	}
	s.Record(Metric{Name: name, Kind: KindTimer, Value: time.Since(start).Seconds(), Tags: tags, At: time.Now()})
}

// errorMessageLimit bounds the error_message tag so sinks with bounded
// label cardinality stay usable.
const errorMessageLimit = 100

// Error records one occurrence on the global error counter.
func Error(s Sink, component, errType, message string) {
	Count(s, "errors.count", map[string]string{
		"component":     component,
		"error_type":    errType,
		"error_message": clip(message, errorMessageLimit),
	})
}

func clip(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
