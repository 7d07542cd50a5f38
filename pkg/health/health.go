// Package health serves liveness and readiness probes.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

type Response struct {
	Status     Status                 `json:"status"`
	Version    string                 `json:"version,omitempty"`
	Uptime     string                 `json:"uptime,omitempty"`
	Checks     map[string]CheckResult `json:"checks,omitempty"`
	ReportedAt time.Time              `json:"reported_at"`
}

// Pinger is anything with a connectivity probe.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc adapts a plain function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

type dependency struct {
	pinger   Pinger
	required bool
}

type Checker struct {
	deps      map[string]dependency
	startTime time.Time
	version   string
	mu        sync.RWMutex
	ready     bool
}

func NewChecker(version string) *Checker {
	return &Checker{
		deps:      map[string]dependency{},
		startTime: time.Now(),
		version:   version,
	}
}

// Register adds a dependency check. An optional dependency that fails degrades the service
// instead of marking it unhealthy.
func (c *Checker) Register(name string, pinger Pinger, required bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deps[name] = dependency{pinger: pinger, required: required}
}

func (c *Checker) SetReady(ready bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = ready
}

func (c *Checker) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// LivenessHandler: is the process running?
func (c *Checker) LivenessHandler(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, Response{
		Status:     StatusHealthy,
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
		ReportedAt: time.Now(),
	})
}

// ReadinessHandler: can the service take traffic?
func (c *Checker) ReadinessHandler(ctx echo.Context) error {
	if !c.IsReady() {
		return ctx.JSON(http.StatusServiceUnavailable, Response{
			Status:     StatusUnhealthy,
			Version:    c.version,
			ReportedAt: time.Now(),
			Checks: map[string]CheckResult{
				"startup": {Status: StatusUnhealthy, Message: "service is still starting up"},
			},
		})
	}
	return c.HealthHandler(ctx)
}

func (c *Checker) HealthHandler(ctx echo.Context) error {
	checks := c.Run(ctx.Request().Context())
	overall := Overall(checks)

	statusCode := http.StatusOK
	if overall == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	return ctx.JSON(statusCode, Response{
		Status:     overall,
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
		Checks:     checks,
		ReportedAt: time.Now(),
	})
}

// Run probes every registered dependency.
func (c *Checker) Run(ctx context.Context) map[string]CheckResult {
	c.mu.RLock()
	deps := make(map[string]dependency, len(c.deps))
	for k, v := range c.deps {
		deps[k] = v
	}
	c.mu.RUnlock()

	checks := make(map[string]CheckResult, len(deps))
	for name, dep := range deps {
		checks[name] = probe(ctx, dep)
	}
	return checks
}

func probe(ctx context.Context, dep dependency) CheckResult {
	failed := StatusUnhealthy
	if !dep.required {
		failed = StatusDegraded
	}
	if dep.pinger == nil {
		return CheckResult{Status: failed, Message: "not configured"}
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := dep.pinger.PingContext(ctx); err != nil {
		return CheckResult{Status: failed, Message: err.Error(), Latency: time.Since(start).String()}
	}
	return CheckResult{Status: StatusHealthy, Latency: time.Since(start).String()}
}

// Overall folds individual results into one status.
func Overall(checks map[string]CheckResult) Status {
	hasDegraded := false
	for _, check := range checks {
		switch check.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			hasDegraded = true
		}
	}
	if hasDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}

func (c *Checker) RegisterRoutes(e *echo.Echo) {
	health := e.Group("/api/v1/health")
	health.GET("", c.HealthHandler)
	health.GET("/live", c.LivenessHandler)
	health.GET("/ready", c.ReadinessHandler)
}
