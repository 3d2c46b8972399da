// Package store is the metadata store client (C1): it reads function
// descriptors and appends execution-log rows against a Postgres-backed
// relational store. Every method that touches the pool takes a context and
// returns a wrapped error; callers that must never fail (the dispatcher's
// logging path) own that guarantee themselves via the batcher in
// internal/dispatch, not by a no-fail contract baked into this package.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/novacore/novacore/internal/domain"
)

// MetadataStore is the durable store of function descriptors, schedules, and
// execution logs consumed by the dispatcher and the scheduler.
type MetadataStore interface {
	Close() error
	Ping(ctx context.Context) error

	// FetchActive returns the function descriptor for id. It fails with an
	// apperr.KindNotFound error when the row is absent or is_active=false.
	FetchActive(ctx context.Context, functionID string) (*domain.Function, error)

	// AppendExecutionLog persists one execution log row.
	AppendExecutionLog(ctx context.Context, log *domain.ExecutionLog) error

	ScheduleStore
}

// ScheduleStore is the cron scheduler's persistence surface.
type ScheduleStore interface {
	SaveSchedule(ctx context.Context, s *Schedule) error
	ListAllSchedules(ctx context.Context) ([]*Schedule, error)
	ListSchedulesByFunction(ctx context.Context, functionID string) ([]*Schedule, error)
	GetSchedule(ctx context.Context, id string) (*Schedule, error)
	DeleteSchedule(ctx context.Context, id string) error
	UpdateScheduleRun(ctx context.Context, id string, lastRunAt time.Time, nextExecution *time.Time) error
	UpdateScheduleEnabled(ctx context.Context, id string, enabled bool) error
}

// Store is a thin, injectable handle over a MetadataStore implementation.
// It exists so callers depend on an interface, not *PostgresStore directly,
// matching the rest of the codebase's dependency-injected-handle style.
type Store struct {
	MetadataStore
}

func NewStore(meta MetadataStore) *Store {
	return &Store{MetadataStore: meta}
}

func (s *Store) Ping(ctx context.Context) error {
	if s.MetadataStore == nil {
		return fmt.Errorf("metadata store not configured")
	}
	return s.MetadataStore.Ping(ctx)
}
