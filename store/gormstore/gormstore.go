// Package gormstore implements store.Store on a relational database via
// GORM, with SQLite as the bundled driver. It suits single-node setups that
// want durable state without running NATS or Redis.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/braidwork/braid/plan"
	"github.com/braidwork/braid/store"
)

// PlanRecord is the stored form of a workflow plan.
type PlanRecord struct {
	WorkflowID string `gorm:"primaryKey;size:256"`
	Data       []byte
	UpdatedAt  time.Time
}

// TaskOutputRecord is one task's output. The auto-increment ID preserves
// first-persisted order; overwrites keep the original row.
type TaskOutputRecord struct {
	ID         uint   `gorm:"primaryKey"`
	WorkflowID string `gorm:"size:256;uniqueIndex:uniq_workflow_task"`
	TaskName   string `gorm:"size:256;uniqueIndex:uniq_workflow_task"`
	Output     string
	CreatedAt  time.Time
}

// MemoryRecord is one agent memory entry.
type MemoryRecord struct {
	ID        uint   `gorm:"primaryKey"`
	AgentName string `gorm:"size:256;index"`
	Entry     string
	CreatedAt time.Time
}

// Store persists workflow state through a GORM database handle.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the SQLite database at path and migrates the
// schema. Use ":memory:" for an ephemeral database.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %s: %w", path, err)
	}
	return New(db)
}

// New wraps an existing GORM handle and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&PlanRecord{}, &TaskOutputRecord{}, &MemoryRecord{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) AddMemory(ctx context.Context, agentName, entry string) error {
	rec := MemoryRecord{AgentName: agentName, Entry: entry}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return &store.PersistenceError{Op: "add memory", Key: agentName, Err: err}
	}
	return nil
}

func (s *Store) LoadMemory(ctx context.Context, agentName string) ([]string, error) {
	var recs []MemoryRecord
	err := s.db.WithContext(ctx).
		Where("agent_name = ?", agentName).
		Order("id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, &store.PersistenceError{Op: "load memory", Key: agentName, Err: err}
	}
	entries := make([]string, len(recs))
	for i, rec := range recs {
		entries[i] = rec.Entry
	}
	return entries, nil
}

func (s *Store) RemoveMemory(ctx context.Context, agentName string) error {
	err := s.db.WithContext(ctx).
		Where("agent_name = ?", agentName).
		Delete(&MemoryRecord{}).Error
	if err != nil {
		return &store.PersistenceError{Op: "remove memory", Key: agentName, Err: err}
	}
	return nil
}

func (s *Store) SavePlan(ctx context.Context, workflowID string, p plan.Plan) error {
	data, err := plan.Marshal(p)
	if err != nil {
		return &store.PersistenceError{Op: "save plan", Key: workflowID, Err: err}
	}
	rec := PlanRecord{WorkflowID: workflowID, Data: data, UpdatedAt: time.Now()}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "workflow_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
		}).
		Create(&rec).Error
	if err != nil {
		return &store.PersistenceError{Op: "save plan", Key: workflowID, Err: err}
	}
	return nil
}

func (s *Store) LoadPlan(ctx context.Context, workflowID string) (plan.Plan, bool, error) {
	var rec PlanRecord
	err := s.db.WithContext(ctx).First(&rec, "workflow_id = ?", workflowID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, &store.PersistenceError{Op: "load plan", Key: workflowID, Err: err}
	}
	p, err := plan.Unmarshal(rec.Data)
	if err != nil {
		return nil, false, &store.PersistenceError{Op: "load plan", Key: workflowID, Err: err}
	}
	return p, true, nil
}

func (s *Store) SaveTaskOutput(ctx context.Context, workflowID, taskName, output string) error {
	rec := TaskOutputRecord{WorkflowID: workflowID, TaskName: taskName, Output: output}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "workflow_id"}, {Name: "task_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"output"}),
		}).
		Create(&rec).Error
	if err != nil {
		return &store.PersistenceError{Op: "save output", Key: workflowID + "/" + taskName, Err: err}
	}
	return nil
}

func (s *Store) LoadTaskOutputs(ctx context.Context, workflowID string) (*store.TaskOutputs, error) {
	var recs []TaskOutputRecord
	err := s.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, &store.PersistenceError{Op: "load outputs", Key: workflowID, Err: err}
	}
	outs := store.NewTaskOutputs()
	for _, rec := range recs {
		outs.Set(rec.TaskName, rec.Output)
	}
	return outs, nil
}

func (s *Store) RemoveWorkflow(ctx context.Context, workflowID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("workflow_id = ?", workflowID).Delete(&PlanRecord{}).Error; err != nil {
			return err
		}
		return tx.Where("workflow_id = ?", workflowID).Delete(&TaskOutputRecord{}).Error
	})
	if err != nil {
		return &store.PersistenceError{Op: "remove workflow", Key: workflowID, Err: err}
	}
	return nil
}

// Close closes the underlying database connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("unwrap sql.DB: %w", err)
	}
	return sqlDB.Close()
}
