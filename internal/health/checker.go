// Package health runs periodic liveness probes against the engine's
// backing dependencies (the policy store and audit sink databases) and
// exposes the latest results for the deep health endpoint.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// Probe is a named liveness check for one dependency.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Status is the latest result for one probe.
type Status struct {
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`

	// ConsecutiveFails counts failures since the last success. A probe is
	// reported degraded only once this reaches the configured threshold.
	ConsecutiveFails int `json:"consecutive_fails,omitempty"`
}

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(success bool)

// Checker runs periodic dependency probes.
type Checker struct {
	probes    []Probe
	mu        sync.Mutex
	statuses  map[string]Status
	cfg       Config
	onMetrics MetricsRecordFunc
	logger    *zap.Logger
}

// New creates a Checker over the given probes.
func New(probes []Probe, cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = time.Minute
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		probes:   probes,
		statuses: make(map[string]Status),
		cfg:      cfg,
		logger:   logger,
	}
}

// SetMetricsRecord configures the metrics recording callback.
func (c *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	c.onMetrics = fn
}

// Start runs the probe loop until stop is closed.
func (c *Checker) Start(stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()

	budget := c.cfg.CheckInterval - time.Second
	if budget <= 0 {
		budget = c.cfg.CheckInterval
	}

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), budget)
			c.CheckAll(ctx)
			cancel()
		case <-stop:
			return
		}
	}
}

// CheckAll runs every probe once and records the results.
func (c *Checker) CheckAll(ctx context.Context) {
	for _, p := range c.probes {
		probeCtx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
		err := p.Check(probeCtx)
		cancel()

		c.mu.Lock()
		st := c.statuses[p.Name]
		st.CheckedAt = time.Now().UTC()
		if err != nil {
			st.ConsecutiveFails++
			st.Error = err.Error()
			st.Healthy = st.ConsecutiveFails < c.cfg.FailThreshold
		} else {
			st.ConsecutiveFails = 0
			st.Error = ""
			st.Healthy = true
		}
		c.statuses[p.Name] = st
		c.mu.Unlock()

		if c.onMetrics != nil {
			c.onMetrics(err == nil)
		}
		if err != nil {
			c.logger.Warn("health probe failed",
				zap.String("probe", p.Name),
				zap.Int("consecutive_fails", st.ConsecutiveFails),
				zap.Error(err),
			)
		}
	}
}

// Statuses returns a copy of the latest probe results.
func (c *Checker) Statuses() map[string]Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Status, len(c.statuses))
	for k, v := range c.statuses {
		out[k] = v
	}
	return out
}

// Healthy reports whether every probe is currently below its fail
// threshold. A checker with no completed probes reports healthy.
func (c *Checker) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, st := range c.statuses {
		if !st.Healthy {
			return false
		}
	}
	return true
}
