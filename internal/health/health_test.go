package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestChecker_AggregatesWorstStatus(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("database", DatabaseCheck(func(context.Context) error { return nil }))
	c.Register("provider", ProviderCheck("alpha_vantage", func() bool { return false }))

	got := c.Run(context.Background())
	if got.Status != StatusDegraded {
		t.Fatalf("Status = %s, want degraded", got.Status)
	}
	if len(got.Components) != 2 || got.Components[0].Name != "database" {
		t.Errorf("components not sorted by name: %+v", got.Components)
	}

	c.Register("database", DatabaseCheck(func(context.Context) error { return errors.New("locked") }))
	if got := c.Run(context.Background()); got.Status != StatusUnhealthy {
		t.Errorf("Status = %s, want unhealthy", got.Status)
	}
}

func TestChecker_RecoversPanickingCheck(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("broken", func(context.Context) ComponentHealth { panic("boom") })

	got := c.Run(context.Background())
	if got.Status != StatusUnhealthy {
		t.Errorf("Status = %s, want unhealthy", got.Status)
	}
}

func TestSchedulerCheck(t *testing.T) {
	stuck := SchedulerCheck(func() (bool, time.Time) { return true, time.Now().Add(-time.Hour) }, 10*time.Minute)
	if h := stuck(context.Background()); h.Status != StatusDegraded {
		t.Errorf("stuck run Status = %s, want degraded", h.Status)
	}
	idle := SchedulerCheck(func() (bool, time.Time) { return false, time.Time{} }, 10*time.Minute)
	if h := idle(context.Background()); h.Status != StatusHealthy {
		t.Errorf("idle Status = %s, want healthy", h.Status)
	}
}
