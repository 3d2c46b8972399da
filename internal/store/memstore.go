package store

import (
	"context"
	"sync"
	"time"

	"github.com/novacore/novacore/internal/apperr"
	"github.com/novacore/novacore/internal/domain"
)

// MemStore is an in-memory MetadataStore used by tests that exercise the
// dispatcher, scheduler, or cache population path without a live Postgres
// instance. It implements the exact same contract as PostgresStore.
type MemStore struct {
	mu        sync.Mutex
	functions map[string]*domain.Function
	logs      []*domain.ExecutionLog
	schedules map[string]*Schedule
}

func NewMemStore() *MemStore {
	return &MemStore{
		functions: make(map[string]*domain.Function),
		schedules: make(map[string]*Schedule),
	}
}

func (m *MemStore) Close() error { return nil }

func (m *MemStore) Ping(ctx context.Context) error { return nil }

// PutFunction seeds or replaces a function descriptor; test-only helper,
// not part of the MetadataStore interface.
func (m *MemStore) PutFunction(fn *domain.Function) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *fn
	m.functions[fn.ID] = &cp
}

func (m *MemStore) FetchActive(ctx context.Context, functionID string) (*domain.Function, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn, ok := m.functions[functionID]
	if !ok || !fn.IsActive {
		return nil, apperr.New(apperr.KindNotFound, "function not found or inactive: "+functionID)
	}
	cp := *fn
	return &cp, nil
}

func (m *MemStore) AppendExecutionLog(ctx context.Context, log *domain.ExecutionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if log.ExecutedAt.IsZero() {
		log.ExecutedAt = time.Now()
	}
	m.logs = append(m.logs, log)
	return nil
}

// Logs returns a snapshot of every appended execution log, in append
// order; test-only helper.
func (m *MemStore) Logs() []*domain.ExecutionLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.ExecutionLog, len(m.logs))
	copy(out, m.logs)
	return out
}

func (m *MemStore) SaveSchedule(ctx context.Context, s *Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.schedules[s.ID] = &cp
	return nil
}

func (m *MemStore) ListAllSchedules(ctx context.Context) ([]*Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Schedule, 0, len(m.schedules))
	for _, s := range m.schedules {
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemStore) ListSchedulesByFunction(ctx context.Context, functionID string) ([]*Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Schedule
	for _, s := range m.schedules {
		if s.FunctionID == functionID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemStore) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "schedule not found: "+id)
	}
	cp := *s
	return &cp, nil
}

func (m *MemStore) DeleteSchedule(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[id]; !ok {
		return apperr.New(apperr.KindNotFound, "schedule not found: "+id)
	}
	delete(m.schedules, id)
	return nil
}

func (m *MemStore) UpdateScheduleRun(ctx context.Context, id string, lastRunAt time.Time, nextExecution *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return apperr.New(apperr.KindNotFound, "schedule not found: "+id)
	}
	s.LastRunAt = &lastRunAt
	s.NextExecution = nextExecution
	s.UpdatedAt = time.Now()
	return nil
}

func (m *MemStore) UpdateScheduleEnabled(ctx context.Context, id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return apperr.New(apperr.KindNotFound, "schedule not found: "+id)
	}
	s.Enabled = enabled
	s.UpdatedAt = time.Now()
	return nil
}
