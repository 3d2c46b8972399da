package scheduler

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/novacore/novacore/internal/store"
)

func TestRunDue_DisablesOnUnparseableCron(t *testing.T) {
	ms := store.NewMemStore()
	sched := store.NewSchedule("missing-function", "not a cron expression", nil)
	if err := ms.SaveSchedule(context.Background(), sched); err != nil {
		t.Fatalf("SaveSchedule: %v", err)
	}

	s := New(store.NewStore(ms), nil)
	results, err := s.RunDue(context.Background())
	if err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	if len(results) != 1 || !results[0].Disabled {
		t.Fatalf("expected one disabled result, got %+v", results)
	}

	got, err := ms.GetSchedule(context.Background(), sched.ID)
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	if got.Enabled {
		t.Fatal("expected schedule to be disabled after parse failure")
	}
}

func TestRunDue_SkipsDisabledSchedules(t *testing.T) {
	ms := store.NewMemStore()
	sched := store.NewSchedule("some-function", "* * * * *", nil)
	sched.Enabled = false
	if err := ms.SaveSchedule(context.Background(), sched); err != nil {
		t.Fatalf("SaveSchedule: %v", err)
	}

	s := New(store.NewStore(ms), nil)
	results, err := s.RunDue(context.Background())
	if err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected disabled schedule to be skipped, got %+v", results)
	}
}

func TestRunDue_PreservesOrderUnderConcurrentFanOut(t *testing.T) {
	ms := store.NewMemStore()
	var ids []string
	for i := 0; i < 12; i++ {
		sched := store.NewSchedule("missing-function", "not a cron expression", nil)
		if err := ms.SaveSchedule(context.Background(), sched); err != nil {
			t.Fatalf("SaveSchedule: %v", err)
		}
		ids = append(ids, sched.ID)
	}
	sortedIDs := append([]string(nil), ids...)
	sort.Strings(sortedIDs)

	s := NewWithConcurrency(store.NewStore(ms), nil, 4)
	results, err := s.RunDue(context.Background())
	if err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	if len(results) != len(sortedIDs) {
		t.Fatalf("expected %d results, got %d", len(sortedIDs), len(results))
	}
	for i, r := range results {
		if !r.Disabled {
			t.Fatalf("result %d: expected Disabled, got %+v", i, r)
		}
		if r.ScheduleID != sortedIDs[i] {
			t.Fatalf("result order mismatch at %d: got %s, want %s (concurrent fan-out must preserve ascending (next_execution, id) order)", i, r.ScheduleID, sortedIDs[i])
		}
	}
}

func TestRunDue_SkipsNotYetDue(t *testing.T) {
	ms := store.NewMemStore()
	sched := store.NewSchedule("some-function", "* * * * *", nil)
	future := time.Now().Add(time.Hour)
	sched.NextExecution = &future
	if err := ms.SaveSchedule(context.Background(), sched); err != nil {
		t.Fatalf("SaveSchedule: %v", err)
	}

	s := New(store.NewStore(ms), nil)
	results, err := s.RunDue(context.Background())
	if err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected not-yet-due schedule to be skipped, got %+v", results)
	}
}
