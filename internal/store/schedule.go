package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Schedule is a cron-style periodic invocation of a function.
type Schedule struct {
	ID            string          `json:"id"`
	FunctionID  string          `json:"function_id"`
	CronExpr      string          `json:"cron_expression"`
	Input         json.RawMessage `json:"input,omitempty"`
	Enabled       bool            `json:"enabled"`
	LastRunAt     *time.Time      `json:"last_run_at,omitempty"`
	NextExecution *time.Time      `json:"next_execution,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func NewSchedule(functionID, cronExpr string, input json.RawMessage) *Schedule {
	now := time.Now()
	return &Schedule{
		ID:           uuid.New().String(),
		FunctionID: functionID,
		CronExpr:     cronExpr,
		Input:        input,
		Enabled:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (s *PostgresStore) SaveSchedule(ctx context.Context, sched *Schedule) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO schedules (id, function_id, cron_expression, input, enabled, last_run_at, next_execution, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			function_id = EXCLUDED.function_id,
			cron_expression = EXCLUDED.cron_expression,
			input = EXCLUDED.input,
			enabled = EXCLUDED.enabled,
			next_execution = EXCLUDED.next_execution,
			updated_at = NOW()
	`, sched.ID, sched.FunctionID, sched.CronExpr, sched.Input, sched.Enabled, sched.LastRunAt, sched.NextExecution, sched.CreatedAt, sched.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSchedulesByFunction(ctx context.Context, functionID string) ([]*Schedule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, function_id, cron_expression, input, enabled, last_run_at, next_execution, created_at, updated_at
		FROM schedules WHERE function_id = $1 ORDER BY created_at DESC
	`, functionID)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

func (s *PostgresStore) ListAllSchedules(ctx context.Context) ([]*Schedule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, function_id, cron_expression, input, enabled, last_run_at, next_execution, created_at, updated_at
		FROM schedules ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list all schedules: %w", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

func (s *PostgresStore) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	var sched Schedule
	err := s.pool.QueryRow(ctx, `
		SELECT id, function_id, cron_expression, input, enabled, last_run_at, next_execution, created_at, updated_at
		FROM schedules WHERE id = $1
	`, id).Scan(&sched.ID, &sched.FunctionID, &sched.CronExpr, &sched.Input, &sched.Enabled,
		&sched.LastRunAt, &sched.NextExecution, &sched.CreatedAt, &sched.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("schedule not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return &sched, nil
}

func (s *PostgresStore) DeleteSchedule(ctx context.Context, id string) error {
	ct, err := s.pool.Exec(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("schedule not found: %s", id)
	}
	return nil
}

// UpdateScheduleRun records that a schedule fired at lastRunAt and, per the
// decision in SPEC_FULL.md (E5.3 / matches the teacher), advances
// next_execution on both success and failure — the caller computes
// nextExecution regardless of the run's outcome.
func (s *PostgresStore) UpdateScheduleRun(ctx context.Context, id string, lastRunAt time.Time, nextExecution *time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE schedules SET last_run_at = $1, next_execution = $2, updated_at = NOW() WHERE id = $3`,
		lastRunAt, nextExecution, id)
	if err != nil {
		return fmt.Errorf("update schedule run: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateScheduleEnabled(ctx context.Context, id string, enabled bool) error {
	_, err := s.pool.Exec(ctx, `UPDATE schedules SET enabled = $1, updated_at = NOW() WHERE id = $2`, enabled, id)
	if err != nil {
		return fmt.Errorf("update schedule enabled: %w", err)
	}
	return nil
}

func scanSchedules(rows pgx.Rows) ([]*Schedule, error) {
	var schedules []*Schedule
	for rows.Next() {
		var sched Schedule
		if err := rows.Scan(&sched.ID, &sched.FunctionID, &sched.CronExpr, &sched.Input, &sched.Enabled,
			&sched.LastRunAt, &sched.NextExecution, &sched.CreatedAt, &sched.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, &sched)
	}
	return schedules, nil
}
