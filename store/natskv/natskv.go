// Package natskv implements store.Store on NATS JetStream key-value
// buckets, one bucket per state kind: plans, task outputs, and agent
// memory logs.
package natskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/braidwork/braid/plan"
	"github.com/braidwork/braid/store"
)

// Bucket names for each state kind.
const (
	BucketPlans   = "braid-plans"
	BucketOutputs = "braid-outputs"
	BucketMemory  = "braid-memory"
)

// memorySeqDigits pads memory sequence numbers so lexical key order equals
// append order.
const memorySeqDigits = 12

// outputHistoryDepth is how many revisions of a task output key survive.
// LoadTaskOutputs ranks tasks by their oldest surviving revision; past this
// many overwrites of one output, its rank degrades to the oldest kept one.
const outputHistoryDepth = 64

// Store persists workflow state in three JetStream KV buckets. Task output
// keys are "<workflow>.<task>", memory keys are "<agent>.<seq>" with a
// zero-padded sequence suffix.
type Store struct {
	plans   jetstream.KeyValue
	outputs jetstream.KeyValue
	memory  jetstream.KeyValue
	logger  *slog.Logger

	nc *nats.Conn // owned connection, nil when the caller supplied JetStream
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for non-fatal backend events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Open dials the NATS server at url and builds the store on top of it.
// Close drops the connection.
func Open(ctx context.Context, url string, opts ...Option) (*Store, error) {
	nc, err := nats.Connect(url, nats.Name("braid-store"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	s, err := New(ctx, js, opts...)
	if err != nil {
		nc.Close()
		return nil, err
	}
	s.nc = nc
	return s, nil
}

// New builds the store on an existing JetStream context, creating the
// buckets if they don't exist. Close leaves the caller's connection open.
func New(ctx context.Context, js jetstream.JetStream, opts ...Option) (*Store, error) {
	plans, err := getOrCreateBucket(ctx, js, BucketPlans, "braid workflow plans", 1)
	if err != nil {
		return nil, fmt.Errorf("create plans bucket: %w", err)
	}
	// Output order is reconstructed from each key's creation revision, so
	// the bucket keeps history deep enough to survive overwrites.
	outputs, err := getOrCreateBucket(ctx, js, BucketOutputs, "braid task outputs", outputHistoryDepth)
	if err != nil {
		return nil, fmt.Errorf("create outputs bucket: %w", err)
	}
	memory, err := getOrCreateBucket(ctx, js, BucketMemory, "braid agent memory logs", 1)
	if err != nil {
		return nil, fmt.Errorf("create memory bucket: %w", err)
	}

	s := &Store{plans: plans, outputs: outputs, memory: memory}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name, description string, history uint8) (jetstream.KeyValue, error) {
	return js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: description,
		History:     history,
	})
}

// sanitizeKey maps an arbitrary identifier onto the KV key alphabet. The
// '.' separator is reserved for composing key segments.
func sanitizeKey(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}

// outputRecord wraps a task output so the exact task name survives key
// sanitization.
type outputRecord struct {
	Task   string `json:"task"`
	Output string `json:"output"`
}

func (s *Store) AddMemory(ctx context.Context, agentName, entry string) error {
	prefix := sanitizeKey(agentName) + "."
	// Create fails when the slot is taken, so concurrent appenders re-list
	// and claim the next sequence instead of overwriting each other.
	for {
		if err := ctx.Err(); err != nil {
			return &store.PersistenceError{Op: "add memory", Key: agentName, Err: err}
		}
		keys, err := s.keysWithPrefix(ctx, s.memory, prefix)
		if err != nil {
			return &store.PersistenceError{Op: "add memory", Key: agentName, Err: err}
		}
		key := fmt.Sprintf("%s%0*d", prefix, memorySeqDigits, len(keys))
		_, err = s.memory.Create(ctx, key, []byte(entry))
		if err == nil {
			return nil
		}
		if errors.Is(err, jetstream.ErrKeyExists) {
			continue
		}
		return &store.PersistenceError{Op: "add memory", Key: agentName, Err: err}
	}
}

func (s *Store) LoadMemory(ctx context.Context, agentName string) ([]string, error) {
	prefix := sanitizeKey(agentName) + "."
	keys, err := s.keysWithPrefix(ctx, s.memory, prefix)
	if err != nil {
		return nil, &store.PersistenceError{Op: "load memory", Key: agentName, Err: err}
	}
	sort.Strings(keys)

	entries := make([]string, 0, len(keys))
	for _, key := range keys {
		entry, err := s.memory.Get(ctx, key)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, &store.PersistenceError{Op: "load memory", Key: agentName, Err: err}
		}
		entries = append(entries, string(entry.Value()))
	}
	return entries, nil
}

func (s *Store) RemoveMemory(ctx context.Context, agentName string) error {
	prefix := sanitizeKey(agentName) + "."
	keys, err := s.keysWithPrefix(ctx, s.memory, prefix)
	if err != nil {
		return &store.PersistenceError{Op: "remove memory", Key: agentName, Err: err}
	}
	for _, key := range keys {
		if err := s.memory.Purge(ctx, key); err != nil && !isNotFound(err) {
			return &store.PersistenceError{Op: "remove memory", Key: agentName, Err: err}
		}
	}
	return nil
}

func (s *Store) SavePlan(ctx context.Context, workflowID string, p plan.Plan) error {
	data, err := plan.Marshal(p)
	if err != nil {
		return &store.PersistenceError{Op: "save plan", Key: workflowID, Err: err}
	}
	if _, err := s.plans.Put(ctx, sanitizeKey(workflowID), data); err != nil {
		return &store.PersistenceError{Op: "save plan", Key: workflowID, Err: err}
	}
	return nil
}

func (s *Store) LoadPlan(ctx context.Context, workflowID string) (plan.Plan, bool, error) {
	entry, err := s.plans.Get(ctx, sanitizeKey(workflowID))
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, &store.PersistenceError{Op: "load plan", Key: workflowID, Err: err}
	}
	p, err := plan.Unmarshal(entry.Value())
	if err != nil {
		return nil, false, &store.PersistenceError{Op: "load plan", Key: workflowID, Err: err}
	}
	return p, true, nil
}

func (s *Store) SaveTaskOutput(ctx context.Context, workflowID, taskName, output string) error {
	data, err := json.Marshal(outputRecord{Task: taskName, Output: output})
	if err != nil {
		return &store.PersistenceError{Op: "save output", Key: workflowID + "/" + taskName, Err: err}
	}
	key := sanitizeKey(workflowID) + "." + sanitizeKey(taskName)
	if _, err := s.outputs.Put(ctx, key, data); err != nil {
		return &store.PersistenceError{Op: "save output", Key: workflowID + "/" + taskName, Err: err}
	}
	return nil
}

func (s *Store) LoadTaskOutputs(ctx context.Context, workflowID string) (*store.TaskOutputs, error) {
	prefix := sanitizeKey(workflowID) + "."
	keys, err := s.keysWithPrefix(ctx, s.outputs, prefix)
	if err != nil {
		return nil, &store.PersistenceError{Op: "load outputs", Key: workflowID, Err: err}
	}

	type revisioned struct {
		rec outputRecord
		rev uint64
	}
	records := make([]revisioned, 0, len(keys))
	for _, key := range keys {
		// History is oldest first and bucket revisions are monotonic, so
		// the first put since the last delete ranks the task by first
		// write while the newest put carries the current value.
		hist, err := s.outputs.History(ctx, key)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, &store.PersistenceError{Op: "load outputs", Key: workflowID, Err: err}
		}
		var rev uint64
		var value []byte
		for _, entry := range hist {
			if entry.Operation() != jetstream.KeyValuePut {
				rev, value = 0, nil
				continue
			}
			if rev == 0 {
				rev = entry.Revision()
			}
			value = entry.Value()
		}
		if value == nil {
			continue
		}
		var rec outputRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return nil, &store.PersistenceError{Op: "load outputs", Key: workflowID, Err: err}
		}
		records = append(records, revisioned{rec: rec, rev: rev})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].rev < records[j].rev })

	outs := store.NewTaskOutputs()
	for _, r := range records {
		outs.Set(r.rec.Task, r.rec.Output)
	}
	return outs, nil
}

func (s *Store) RemoveWorkflow(ctx context.Context, workflowID string) error {
	key := sanitizeKey(workflowID)
	if err := s.plans.Purge(ctx, key); err != nil && !isNotFound(err) {
		return &store.PersistenceError{Op: "remove workflow", Key: workflowID, Err: err}
	}
	keys, err := s.keysWithPrefix(ctx, s.outputs, key+".")
	if err != nil {
		return &store.PersistenceError{Op: "remove workflow", Key: workflowID, Err: err}
	}
	for _, k := range keys {
		if err := s.outputs.Purge(ctx, k); err != nil && !isNotFound(err) {
			return &store.PersistenceError{Op: "remove workflow", Key: workflowID, Err: err}
		}
	}
	return nil
}

// Close drops the NATS connection when this store owns it.
func (s *Store) Close() error {
	if s.nc != nil {
		s.nc.Close()
	}
	return nil
}

func (s *Store) keysWithPrefix(ctx context.Context, bucket jetstream.KeyValue, prefix string) ([]string, error) {
	keys, err := bucket.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, err
	}
	matched := keys[:0]
	for _, key := range keys {
		if strings.HasPrefix(key, prefix) {
			matched = append(matched, key)
		}
	}
	return matched, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrNoKeysFound)
}
