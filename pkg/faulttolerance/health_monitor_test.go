package faulttolerance

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestHealthMonitorTransitions(t *testing.T) {
	hm := NewHealthMonitor(quietLogger(), 0)

	var mu sync.Mutex
	fail := errors.New("connection refused")
	var current error
	hm.AddCheck("redis", func(ctx context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		return current
	})
	hm.AddCheck("nats", func(ctx context.Context) error { return nil })

	var changes []string
	hm.OnChange(func(name string, healthy bool) {
		mu.Lock()
		defer mu.Unlock()
		if healthy {
			changes = append(changes, name+":up")
		} else {
			changes = append(changes, name+":down")
		}
	})

	hm.RunChecks(context.Background())
	if hm.Overall() != HealthStatusHealthy {
		t.Errorf("Expected healthy, got %s", hm.Overall())
	}

	mu.Lock()
	current = fail
	mu.Unlock()
	hm.RunChecks(context.Background())
	hm.RunChecks(context.Background())

	if hm.Overall() != HealthStatusUnhealthy {
		t.Errorf("Expected unhealthy, got %s", hm.Overall())
	}
	checks := hm.Checks()
	if len(checks) != 2 || checks[0].Name != "nats" || checks[1].Name != "redis" {
		t.Fatalf("Expected sorted checks, got %+v", checks)
	}
	if checks[1].Error != fail.Error() {
		t.Errorf("Expected error %q, got %q", fail, checks[1].Error)
	}

	mu.Lock()
	defer mu.Unlock()
	downs := 0
	for _, c := range changes {
		if c == "redis:down" {
			downs++
		}
	}
	if downs != 1 {
		t.Errorf("Expected one redis:down transition, got %v", changes)
	}
}
