package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestChecker_CheckLiveness(t *testing.T) {
	c := New(0)
	status := c.CheckLiveness(context.Background())
	if status.Status != "ok" {
		t.Errorf("Status = %q, want ok", status.Status)
	}
}

func TestChecker_CheckReadiness_NoChecks(t *testing.T) {
	c := New(0)
	status := c.CheckReadiness(context.Background())
	if status.Status != "ready" {
		t.Errorf("Status = %q, want ready", status.Status)
	}
}

func TestChecker_CheckReadiness_Degraded(t *testing.T) {
	c := New(0)
	c.RegisterCheck("supervisor", func(ctx context.Context) error { return nil })
	c.RegisterCheck("registry", func(ctx context.Context) error { return errors.New("directory missing") })

	status := c.CheckReadiness(context.Background())
	if status.Status != "degraded" {
		t.Errorf("Status = %q, want degraded", status.Status)
	}
	if status.Checks["supervisor"].Status != "ok" {
		t.Errorf("supervisor check = %+v, want ok", status.Checks["supervisor"])
	}
	if status.Checks["registry"].Status != "unhealthy" {
		t.Errorf("registry check = %+v, want unhealthy", status.Checks["registry"])
	}
}

func TestChecker_CheckReadiness_Timeout(t *testing.T) {
	c := New(10 * time.Millisecond)
	c.RegisterCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	status := c.CheckReadiness(context.Background())
	if status.Status != "degraded" {
		t.Errorf("Status = %q, want degraded", status.Status)
	}
	if status.Checks["slow"].Message != "health check timeout" {
		t.Errorf("message = %q, want health check timeout", status.Checks["slow"].Message)
	}
}
