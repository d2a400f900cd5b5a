package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCheckerHealthy(t *testing.T) {
	c := New(Config{})
	c.Register("sink", "sink", true, func(context.Context) error { return nil })

	status := c.Check(context.Background())
	if status.Status != StatusHealthy || len(status.Components) != 1 {
		t.Fatalf("unexpected status %+v", status)
	}
	if got := c.GetLastStatus(); got.Status != StatusHealthy {
		t.Fatalf("unexpected last status %+v", got)
	}
}

func TestCheckerCriticalFailure(t *testing.T) {
	c := New(Config{})
	c.Register("sink", "sink", true, func(context.Context) error { return errors.New("connection refused") })
	c.Register("cache", "cache", false, func(context.Context) error { return nil })

	status := c.Check(context.Background())
	if status.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %s", status.Status)
	}
	if status.Components[0].Name != "cache" || status.Components[1].Error != "connection refused" {
		t.Fatalf("unexpected components %+v", status.Components)
	}
}

func TestCheckerNonCriticalFailureDegrades(t *testing.T) {
	c := New(Config{})
	c.Register("optional", "sink", false, func(context.Context) error { return errors.New("down") })
	if status := c.Check(context.Background()); status.Status != StatusDegraded {
		t.Fatalf("expected degraded, got %s", status.Status)
	}
}

func TestCheckerSlowProbe(t *testing.T) {
	c := New(Config{MaxLatency: time.Millisecond, Timeout: time.Second})
	c.Register("sink", "sink", true, func(ctx context.Context) error {
		time.Sleep(10 * time.Millisecond)
		return nil
	})
	if status := c.Check(context.Background()); status.Status != StatusDegraded {
		t.Fatalf("expected degraded, got %s", status.Status)
	}
}

func TestCheckerTimeout(t *testing.T) {
	c := New(Config{Timeout: 5 * time.Millisecond})
	c.Register("sink", "sink", true, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if status := c.Check(context.Background()); status.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %s", status.Status)
	}
}
