package store

import "testing"

func TestNewSchedule_Defaults(t *testing.T) {
	s := NewSchedule("my-func", "*/5 * * * *", nil)
	if s.ID == "" {
		t.Fatal("expected generated ID")
	}
	if !s.Enabled {
		t.Fatal("expected new schedule to be enabled by default")
	}
	if s.FunctionID != "my-func" || s.CronExpr != "*/5 * * * *" {
		t.Fatalf("unexpected schedule: %+v", s)
	}
	if s.NextExecution != nil {
		t.Fatal("NextExecution should be unset until the scheduler computes it")
	}
}
