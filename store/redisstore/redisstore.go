// Package redisstore implements store.Store on Redis. Memory logs are
// lists, plans are plain string keys, and task outputs are a hash plus a
// list that records first-write order.
package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/braidwork/braid/plan"
	"github.com/braidwork/braid/store"
)

const (
	memoryKeyPrefix      = "braid:memory:"
	planKeyPrefix        = "braid:plan:"
	outputsKeyPrefix     = "braid:outputs:"
	outputOrderKeyPrefix = "braid:outputs-order:"
)

// Store persists workflow state in Redis. It is safe for concurrent use;
// all synchronization is delegated to the server.
type Store struct {
	client *redis.Client
}

// New connects to the Redis server at addr. Close drops the connection.
func New(addr string) *Store {
	return NewWithClient(redis.NewClient(&redis.Options{Addr: addr}))
}

// NewWithClient wraps an existing client. Close closes it.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) AddMemory(ctx context.Context, agentName, entry string) error {
	if err := s.client.RPush(ctx, memoryKeyPrefix+agentName, entry).Err(); err != nil {
		return &store.PersistenceError{Op: "add memory", Key: agentName, Err: err}
	}
	return nil
}

func (s *Store) LoadMemory(ctx context.Context, agentName string) ([]string, error) {
	entries, err := s.client.LRange(ctx, memoryKeyPrefix+agentName, 0, -1).Result()
	if err != nil {
		return nil, &store.PersistenceError{Op: "load memory", Key: agentName, Err: err}
	}
	return entries, nil
}

func (s *Store) RemoveMemory(ctx context.Context, agentName string) error {
	if err := s.client.Del(ctx, memoryKeyPrefix+agentName).Err(); err != nil {
		return &store.PersistenceError{Op: "remove memory", Key: agentName, Err: err}
	}
	return nil
}

func (s *Store) SavePlan(ctx context.Context, workflowID string, p plan.Plan) error {
	data, err := plan.Marshal(p)
	if err != nil {
		return &store.PersistenceError{Op: "save plan", Key: workflowID, Err: err}
	}
	if err := s.client.Set(ctx, planKeyPrefix+workflowID, data, 0).Err(); err != nil {
		return &store.PersistenceError{Op: "save plan", Key: workflowID, Err: err}
	}
	return nil
}

func (s *Store) LoadPlan(ctx context.Context, workflowID string) (plan.Plan, bool, error) {
	data, err := s.client.Get(ctx, planKeyPrefix+workflowID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, &store.PersistenceError{Op: "load plan", Key: workflowID, Err: err}
	}
	p, err := plan.Unmarshal(data)
	if err != nil {
		return nil, false, &store.PersistenceError{Op: "load plan", Key: workflowID, Err: err}
	}
	return p, true, nil
}

func (s *Store) SaveTaskOutput(ctx context.Context, workflowID, taskName, output string) error {
	key := workflowID + "/" + taskName
	added, err := s.client.HSet(ctx, outputsKeyPrefix+workflowID, taskName, output).Result()
	if err != nil {
		return &store.PersistenceError{Op: "save output", Key: key, Err: err}
	}
	// HSET reports 1 for a new field; only then does the task join the order list.
	if added > 0 {
		if err := s.client.RPush(ctx, outputOrderKeyPrefix+workflowID, taskName).Err(); err != nil {
			return &store.PersistenceError{Op: "save output", Key: key, Err: err}
		}
	}
	return nil
}

func (s *Store) LoadTaskOutputs(ctx context.Context, workflowID string) (*store.TaskOutputs, error) {
	order, err := s.client.LRange(ctx, outputOrderKeyPrefix+workflowID, 0, -1).Result()
	if err != nil {
		return nil, &store.PersistenceError{Op: "load outputs", Key: workflowID, Err: err}
	}
	values, err := s.client.HGetAll(ctx, outputsKeyPrefix+workflowID).Result()
	if err != nil {
		return nil, &store.PersistenceError{Op: "load outputs", Key: workflowID, Err: err}
	}

	outs := store.NewTaskOutputs()
	for _, name := range order {
		if v, ok := values[name]; ok {
			outs.Set(name, v)
		}
	}
	return outs, nil
}

func (s *Store) RemoveWorkflow(ctx context.Context, workflowID string) error {
	keys := []string{
		planKeyPrefix + workflowID,
		outputsKeyPrefix + workflowID,
		outputOrderKeyPrefix + workflowID,
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return &store.PersistenceError{Op: "remove workflow", Key: workflowID, Err: err}
	}
	return nil
}

// Close drops the connection to the server.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}
