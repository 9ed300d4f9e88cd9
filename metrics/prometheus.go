package metrics

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PromSink bridges the Sink contract onto Prometheus collectors. Instruments
// are registered lazily on first sight of a metric name; the label set seen
// first becomes that instrument's schema and later records are conformed to
// it (missing labels become empty, unknown labels are dropped).
type PromSink struct {
	reg prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]*promInstrument[*prometheus.CounterVec]
	gauges     map[string]*promInstrument[*prometheus.GaugeVec]
	histograms map[string]*promInstrument[*prometheus.HistogramVec]
}

type promInstrument[V any] struct {
	vec    V
	labels []string
}

// NewPromSink returns a sink registering against reg. A nil reg uses the
// process default registerer.
func NewPromSink(reg prometheus.Registerer) *PromSink {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &PromSink{
		reg:        reg,
		counters:   make(map[string]*promInstrument[*prometheus.CounterVec]),
		gauges:     make(map[string]*promInstrument[*prometheus.GaugeVec]),
		histograms: make(map[string]*promInstrument[*prometheus.HistogramVec]),
	}
}

// Record implements Sink.
func (s *PromSink) Record(m Metric) {
	switch m.Kind {
	case KindCounter:
		inst := s.counter(promName(m.Name, ""), m.Tags)
		inst.vec.With(conform(m.Tags, inst.labels)).Add(m.Value)
	case KindGauge:
		inst := s.gauge(promName(m.Name, ""), m.Tags)
		inst.vec.With(conform(m.Tags, inst.labels)).Set(m.Value)
	case KindTimer:
		inst := s.histogram(promName(m.Name, "seconds"), m.Tags)
		inst.vec.With(conform(m.Tags, inst.labels)).Observe(m.Value)
	}
}

func (s *PromSink) counter(name string, tags map[string]string) *promInstrument[*prometheus.CounterVec] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inst, ok := s.counters[name]; ok {
		return inst
	}
	labels := labelNames(tags)
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: helpText}, labels)
	if existing := register(s.reg, vec); existing != nil {
		if v, ok := existing.(*prometheus.CounterVec); ok {
			vec = v
		}
	}
	inst := &promInstrument[*prometheus.CounterVec]{vec: vec, labels: labels}
	s.counters[name] = inst
	return inst
}

func (s *PromSink) gauge(name string, tags map[string]string) *promInstrument[*prometheus.GaugeVec] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inst, ok := s.gauges[name]; ok {
		return inst
	}
	labels := labelNames(tags)
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: helpText}, labels)
	if existing := register(s.reg, vec); existing != nil {
		if v, ok := existing.(*prometheus.GaugeVec); ok {
			vec = v
		}
	}
	inst := &promInstrument[*prometheus.GaugeVec]{vec: vec, labels: labels}
	s.gauges[name] = inst
	return inst
}

func (s *PromSink) histogram(name string, tags map[string]string) *promInstrument[*prometheus.HistogramVec] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inst, ok := s.histograms[name]; ok {
		return inst
	}
	labels := labelNames(tags)
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    name,
		Help:    helpText,
		Buckets: prometheus.DefBuckets,
	}, labels)
	if existing := register(s.reg, vec); existing != nil {
		if v, ok := existing.(*prometheus.HistogramVec); ok {
			vec = v
		}
	}
	inst := &promInstrument[*prometheus.HistogramVec]{vec: vec, labels: labels}
	s.histograms[name] = inst
	return inst
}

const helpText = "Recorded by the braid metrics sink."

// register adds c to the registry. If a collector with the same descriptor
// already exists it is returned so the sink reuses it instead of failing.
func register(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	err := reg.Register(c)
	if err == nil {
		return nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		return are.ExistingCollector
	}
	return nil
}

// promName converts a dotted metric name into Prometheus form, with an
// optional unit suffix.
func promName(name, unit string) string {
	n := strings.NewReplacer(".", "_", "-", "_").Replace(name)
	if unit != "" {
		n += "_" + unit
	}
	return "braid_" + n
}

func labelNames(tags map[string]string) []string {
	names := make([]string, 0, len(tags))
	for k := range tags {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func conform(tags map[string]string, labels []string) prometheus.Labels {
	out := make(prometheus.Labels, len(labels))
	for _, l := range labels {
		out[l] = tags[l]
	}
	return out
}
