// Package health aggregates component health checks for the service.
package health

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Name      string                 `json:"name"`
	Status    Status                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	LastCheck time.Time              `json:"last_check"`
	Latency   time.Duration          `json:"latency_ns"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Check is a health check function.
type Check func(ctx context.Context) ComponentHealth

// SystemHealth represents overall system health.
type SystemHealth struct {
	Status     Status            `json:"status"`
	Uptime     string            `json:"uptime"`
	StartTime  time.Time         `json:"start_time"`
	Components []ComponentHealth `json:"components"`
	Goroutines int               `json:"goroutines"`
	MemAllocMB uint64            `json:"mem_alloc_mb"`
}

// Checker runs registered checks on demand.
type Checker struct {
	mu         sync.RWMutex
	startTime  time.Time
	components map[string]Check
	timeout    time.Duration
}

// NewChecker creates a checker whose checks share timeout.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Checker{
		startTime:  time.Now(),
		components: make(map[string]Check),
		timeout:    timeout,
	}
}

// Register registers a health check for a component.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components[name] = check
}

// Run executes every check concurrently and returns the combined result.
// One unhealthy component makes the system unhealthy.
func (c *Checker) Run(ctx context.Context) SystemHealth {
	c.mu.RLock()
	checks := make(map[string]Check, len(c.components))
	for k, v := range c.components {
		checks[k] = v
	}
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var wg sync.WaitGroup
	results := make(chan ComponentHealth, len(checks))
	for name, check := range checks {
		wg.Add(1)
		go func(n string, chk Check) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results <- ComponentHealth{Name: n, Status: StatusUnhealthy, Message: fmt.Sprintf("check panicked: %v", r), LastCheck: time.Now()}
				}
			}()

			start := time.Now()
			h := chk(ctx)
			h.Name = n
			h.LastCheck = time.Now()
			if h.Latency == 0 {
				h.Latency = time.Since(start)
			}
			results <- h
		}(name, check)
	}
	wg.Wait()
	close(results)

	overall := StatusHealthy
	components := make([]ComponentHealth, 0, len(checks))
	for h := range results {
		components = append(components, h)
		switch h.Status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
		case StatusDegraded:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
	}
	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return SystemHealth{
		Status:     overall,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
		StartTime:  c.startTime,
		Components: components,
		Goroutines: runtime.NumGoroutine(),
		MemAllocMB: memStats.Alloc / 1024 / 1024,
	}
}

// DatabaseCheck creates a health check for the database connection.
func DatabaseCheck(ping func(ctx context.Context) error) Check {
	return func(ctx context.Context) ComponentHealth {
		h := ComponentHealth{}

		start := time.Now()
		err := ping(ctx)
		h.Latency = time.Since(start)

		switch {
		case err != nil:
			h.Status = StatusUnhealthy
			h.Message = fmt.Sprintf("Database ping failed: %v", err)
		case h.Latency > 100*time.Millisecond:
			h.Status = StatusDegraded
			h.Message = fmt.Sprintf("Database slow: %v", h.Latency)
		default:
			h.Status = StatusHealthy
		}
		return h
	}
}

// ProviderCheck reports whether the quote provider is configured. An
// unconfigured provider degrades the service; the API stays usable.
func ProviderCheck(name string, ready func() bool) Check {
	return func(context.Context) ComponentHealth {
		h := ComponentHealth{Status: StatusHealthy, Details: map[string]interface{}{"provider": name}}
		if !ready() {
			h.Status = StatusDegraded
			h.Message = "provider not configured"
		}
		return h
	}
}

// SchedulerCheck reports a bulk run that has been running longer than limit.
func SchedulerCheck(running func() (bool, time.Time), limit time.Duration) Check {
	return func(context.Context) ComponentHealth {
		h := ComponentHealth{Status: StatusHealthy}
		isRunning, since := running()
		h.Details = map[string]interface{}{"running": isRunning}
		if isRunning && limit > 0 && time.Since(since) > limit {
			h.Status = StatusDegraded
			h.Message = fmt.Sprintf("run active for %v", time.Since(since).Round(time.Second))
		}
		return h
	}
}
