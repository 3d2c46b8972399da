// Package scheduler is the cron scheduler described in spec §4.6 and §6:
// it selects due schedules, runs them through the same invocation pipeline
// as an HTTP request (dispatch.Dispatcher.InvokeScheduled), and advances
// each schedule's next_execution. The actual triggering transport (any
// periodic caller hitting POST /trigger-scheduled) is an external
// collaborator per spec §1; this package only implements what runs once
// triggered, grounded on the teacher's scheduler.Add/invoke pair,
// generalized from a cron.AddFunc-per-entry in-process timer to an
// on-demand "run everything due right now" sweep matching the external
// trigger surface.
package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/novacore/novacore/internal/dispatch"
	"github.com/novacore/novacore/internal/logging"
	"github.com/novacore/novacore/internal/store"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

const defaultSchedulerConcurrency = 8

// RunResult records the outcome of one schedule's run within a sweep.
type RunResult struct {
	ScheduleID string
	FunctionID string
	Err        error
	Disabled   bool
}

// Scheduler drives scheduled (cron) invocations through the dispatcher.
type Scheduler struct {
	store       *store.Store
	dispatcher  *dispatch.Dispatcher
	concurrency int
}

func New(s *store.Store, d *dispatch.Dispatcher) *Scheduler {
	return &Scheduler{store: s, dispatcher: d, concurrency: defaultSchedulerConcurrency}
}

// NewWithConcurrency is New but with an explicit bound on how many due
// schedules RunDue fans out to concurrently, typically sourced from
// config.DispatchConfig.MaxConcurrentInvocations.
func NewWithConcurrency(s *store.Store, d *dispatch.Dispatcher, concurrency int) *Scheduler {
	if concurrency <= 0 {
		concurrency = defaultSchedulerConcurrency
	}
	return &Scheduler{store: s, dispatcher: d, concurrency: concurrency}
}

// RunDue implements spec §6's POST /trigger-scheduled: select enabled
// schedules whose next_execution is due (nil or <= now), run them in
// ascending (next_execution, id) order, and write back the outcome.
func (s *Scheduler) RunDue(ctx context.Context) ([]RunResult, error) {
	schedules, err := s.store.ListAllSchedules(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	due := make([]*store.Schedule, 0, len(schedules))
	for _, sched := range schedules {
		if !sched.Enabled {
			continue
		}
		if sched.NextExecution == nil || !sched.NextExecution.After(now) {
			due = append(due, sched)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		ni, nj := due[i].NextExecution, due[j].NextExecution
		switch {
		case ni == nil && nj == nil:
			return due[i].ID < due[j].ID
		case ni == nil:
			return true
		case nj == nil:
			return false
		case !ni.Equal(*nj):
			return ni.Before(*nj)
		default:
			return due[i].ID < due[j].ID
		}
	})

	// Each due schedule's run is independent (distinct function_id, cache
	// entry, and store rows), so they fan out through a bounded errgroup
	// rather than running strictly one at a time; a sweep with many due
	// cron schedules would otherwise serialize behind each other's sandbox
	// execution time. Results are written into a pre-sized, index-owned
	// slice so the returned order still matches the ascending
	// (next_execution, id) order computed above regardless of completion
	// order.
	results := make([]RunResult, len(due))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, sched := range due {
		i, sched := i, sched
		g.Go(func() error {
			results[i] = s.runOne(gctx, sched, now)
			return nil
		})
	}
	_ = g.Wait() // runOne never returns an error; failures are carried in RunResult.Err
	return results, nil
}

func (s *Scheduler) runOne(ctx context.Context, sched *store.Schedule, now time.Time) RunResult {
	schedule, parseErr := cronParser.Parse(sched.CronExpr)
	if parseErr != nil {
		logging.Op().Warn("disabling schedule with unparseable cron expression",
			"schedule_id", sched.ID, "function_id", sched.FunctionID, "cron", sched.CronExpr, "error", parseErr)
		if err := s.store.UpdateScheduleEnabled(ctx, sched.ID, false); err != nil {
			logging.Op().Error("failed to disable schedule after parse failure", "schedule_id", sched.ID, "error", err)
		}
		return RunResult{ScheduleID: sched.ID, FunctionID: sched.FunctionID, Err: parseErr, Disabled: true}
	}

	execErr := s.dispatcher.InvokeScheduled(ctx, sched.FunctionID)
	if execErr != nil {
		logging.Op().Warn("scheduled invocation failed", "schedule_id", sched.ID, "function_id", sched.FunctionID, "error", execErr)
	} else {
		logging.Op().Debug("scheduled invocation succeeded", "schedule_id", sched.ID, "function_id", sched.FunctionID)
	}

	// E5.3: next_execution advances on both success and failure; only a
	// cron-parse failure (handled above) disables the schedule.
	next := schedule.Next(now)
	if err := s.store.UpdateScheduleRun(ctx, sched.ID, now, &next); err != nil {
		logging.Op().Error("failed to update schedule run", "schedule_id", sched.ID, "error", err)
	}

	return RunResult{ScheduleID: sched.ID, FunctionID: sched.FunctionID, Err: execErr}
}
