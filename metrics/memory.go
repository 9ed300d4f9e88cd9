package metrics

import "sync"

// defaultMemoryCap bounds the in-memory sink before compaction kicks in.
const defaultMemoryCap = 4096

// MemorySink buffers measurements in memory. When the buffer reaches its
// cap the oldest half is dropped, so long runs stay bounded while recent
// history remains inspectable. Intended for tests and diagnostics.
type MemorySink struct {
	mu      sync.Mutex
	cap     int
	entries []Metric
}

// NewMemorySink returns a sink bounded at the default capacity.
func NewMemorySink() *MemorySink {
	return NewMemorySinkCap(defaultMemoryCap)
}

// NewMemorySinkCap returns a sink bounded at cap entries. Values below 2
// are raised to 2 so compaction always makes progress.
func NewMemorySinkCap(cap int) *MemorySink {
	if cap < 2 {
		cap = 2
	}
	return &MemorySink{cap: cap}
}

// Record implements Sink.
func (s *MemorySink) Record(m Metric) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) >= s.cap {
		keep := len(s.entries) / 2
		s.entries = append(s.entries[:0], s.entries[len(s.entries)-keep:]...)
	}
	s.entries = append(s.entries, m)
}

// Snapshot returns a copy of the buffered metrics, oldest first.
func (s *MemorySink) Snapshot() []Metric {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Metric, len(s.entries))
	copy(out, s.entries)
	return out
}

// Find returns the buffered metrics with the given name, oldest first.
func (s *MemorySink) Find(name string) []Metric {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Metric
	for _, m := range s.entries {
		if m.Name == name {
			out = append(out, m)
		}
	}
	return out
}

// Last returns the most recent metric with the given name.
func (s *MemorySink) Last(name string) (Metric, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].Name == name {
			return s.entries[i], true
		}
	}
	return Metric{}, false
}

// Len reports the number of buffered metrics.
func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
