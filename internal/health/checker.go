package health

import (
	"context"
	"fmt"
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

// Probe checks one dependency.
type Probe func(ctx context.Context) error

// CheckResult holds the result of a health check.
type CheckResult struct {
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms"`
	Timestamp time.Time     `json:"timestamp"`
	Error     string        `json:"error,omitempty"`
}

// Component represents a system component that can be health-checked.
type Component struct {
	Name string `json:"name"`
	Type string `json:"type"` // sink, ...
	// Critical components turn the overall status unhealthy when they fail.
	Critical bool `json:"critical"`
	CheckResult
}

type registered struct {
	name     string
	typ      string
	critical bool
	probe    Probe
}

// Checker runs registered probes concurrently.
type Checker struct {
	mu         sync.RWMutex
	probes     []registered
	components []Component

	timeout    time.Duration
	maxLatency time.Duration
}

// Config holds health checker configuration.
type Config struct {
	// Timeout bounds each probe.
	Timeout time.Duration
	// MaxLatency marks slower probes as degraded.
	MaxLatency time.Duration
}

// New creates a new health checker.
func New(cfg Config) *Checker {
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.MaxLatency == 0 {
		cfg.MaxLatency = 100 * time.Millisecond
	}
	return &Checker{timeout: cfg.Timeout, maxLatency: cfg.MaxLatency}
}

// Register adds a probe.
func (c *Checker) Register(name, typ string, critical bool, probe Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes = append(c.probes, registered{name: name, typ: typ, critical: critical, probe: probe})
}

// Check performs all health checks and returns overall status.
func (c *Checker) Check(ctx context.Context) HealthStatus {
	c.mu.RLock()
	probes := append([]registered(nil), c.probes...)
	c.mu.RUnlock()

	var wg sync.WaitGroup
	results := make(chan Component, len(probes))
	for _, p := range probes {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.run(ctx, p)
		}()
	}
	wg.Wait()
	close(results)

	components := make([]Component, 0, len(probes))
	for comp := range results {
		components = append(components, comp)
	}
	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	c.mu.Lock()
	c.components = components
	c.mu.Unlock()

	return c.calculateOverallStatus(components)
}

func (c *Checker) run(ctx context.Context, p registered) Component {
	comp := Component{
		Name:     p.name,
		Type:     p.typ,
		Critical: p.critical,
		CheckResult: CheckResult{
			Timestamp: time.Now(),
		},
	}

	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := p.probe(probeCtx)
	comp.Latency = time.Since(start)

	switch {
	case err != nil:
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		comp.Message = "Unreachable"
	case comp.Latency > c.maxLatency:
		comp.Status = StatusDegraded
		comp.Message = fmt.Sprintf("High latency: %v", comp.Latency)
	default:
		comp.Status = StatusHealthy
		comp.Message = "Connected"
	}
	return comp
}

// calculateOverallStatus determines overall health based on component statuses.
func (c *Checker) calculateOverallStatus(components []Component) HealthStatus {
	overallStatus := StatusHealthy
	criticalUnhealthy := false

	for _, comp := range components {
		switch comp.Status {
		case StatusUnhealthy:
			if comp.Critical {
				criticalUnhealthy = true
			}
			overallStatus = StatusDegraded
		case StatusDegraded:
			overallStatus = StatusDegraded
		}
	}
	if criticalUnhealthy {
		overallStatus = StatusUnhealthy
	}

	return HealthStatus{
		Status:     overallStatus,
		Timestamp:  time.Now(),
		Components: components,
	}
}

// HealthStatus represents the overall health of the system.
type HealthStatus struct {
	Status     Status      `json:"status"`
	Timestamp  time.Time   `json:"timestamp"`
	Components []Component `json:"components"`
}

// GetLastStatus returns the last health check result.
func (c *Checker) GetLastStatus() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.components) == 0 {
		return HealthStatus{
			Status:    StatusHealthy,
			Timestamp: time.Now(),
		}
	}
	return c.calculateOverallStatus(c.components)
}
