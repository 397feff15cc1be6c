package faulttolerance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// HealthStatus represents the health status of a dependency
type HealthStatus string

const (
	HealthStatusUnknown   HealthStatus = "unknown"
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

const checkTimeout = 5 * time.Second

// CheckResult is a snapshot of one health check.
type CheckResult struct {
	Name      string        `json:"name"`
	Status    HealthStatus  `json:"status"`
	LastCheck time.Time     `json:"lastCheck"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

type healthCheck struct {
	CheckResult
	fn func(ctx context.Context) error
}

// HealthMonitor runs named checks on an interval and reports status
// transitions.
type HealthMonitor struct {
	logger   *logrus.Logger
	interval time.Duration

	mu       sync.RWMutex
	checks   map[string]*healthCheck
	onChange []func(name string, healthy bool)
}

func NewHealthMonitor(logger *logrus.Logger, interval time.Duration) *HealthMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HealthMonitor{
		logger:   logger,
		interval: interval,
		checks:   make(map[string]*healthCheck),
	}
}

// AddCheck registers fn under name. Checks start as unknown.
func (hm *HealthMonitor) AddCheck(name string, fn func(ctx context.Context) error) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[name] = &healthCheck{
		CheckResult: CheckResult{Name: name, Status: HealthStatusUnknown},
		fn:          fn,
	}
	hm.logger.Infof("Added health check: %s", name)
}

// OnChange registers fn for every status transition. fn must not block.
func (hm *HealthMonitor) OnChange(fn func(name string, healthy bool)) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.onChange = append(hm.onChange, fn)
}

// Run checks immediately and then every interval until ctx is done.
func (hm *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(hm.interval)
	defer ticker.Stop()

	hm.RunChecks(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hm.RunChecks(ctx)
		}
	}
}

// RunChecks runs every check concurrently and waits for them.
func (hm *HealthMonitor) RunChecks(ctx context.Context) {
	hm.mu.RLock()
	checks := make([]*healthCheck, 0, len(hm.checks))
	for _, c := range hm.checks {
		checks = append(checks, c)
	}
	hm.mu.RUnlock()

	var wg sync.WaitGroup
	for _, c := range checks {
		wg.Add(1)
		go func(c *healthCheck) {
			defer wg.Done()
			hm.runCheck(ctx, c)
		}(c)
	}
	wg.Wait()
}

func (hm *HealthMonitor) runCheck(ctx context.Context, c *healthCheck) {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	err := c.fn(checkCtx)
	cancel()

	hm.mu.Lock()
	old := c.Status
	c.LastCheck = start
	c.Duration = time.Since(start)
	if err != nil {
		c.Status = HealthStatusUnhealthy
		c.Error = err.Error()
	} else {
		c.Status = HealthStatusHealthy
		c.Error = ""
	}
	changed := old != c.Status
	listeners := append([]func(string, bool){}, hm.onChange...)
	hm.mu.Unlock()

	if !changed {
		return
	}
	if err != nil {
		hm.logger.Errorf("Health check '%s' failed: %v", c.Name, err)
	} else if old != HealthStatusUnknown {
		hm.logger.Infof("Health check '%s' recovered", c.Name)
	}
	for _, fn := range listeners {
		fn(c.Name, err == nil)
	}
}

// Checks returns a snapshot sorted by name.
func (hm *HealthMonitor) Checks() []CheckResult {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	out := make([]CheckResult, 0, len(hm.checks))
	for _, c := range hm.checks {
		out = append(out, c.CheckResult)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Overall is unhealthy when any check is, healthy otherwise.
func (hm *HealthMonitor) Overall() HealthStatus {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	for _, c := range hm.checks {
		if c.Status == HealthStatusUnhealthy {
			return HealthStatusUnhealthy
		}
	}
	return HealthStatusHealthy
}
