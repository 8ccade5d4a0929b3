package health_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tessera-sec/gatewise/internal/health"
)

func okProbe(name string) health.Probe {
	return health.Probe{Name: name, Check: func(ctx context.Context) error { return nil }}
}

func failProbe(name string) health.Probe {
	return health.Probe{Name: name, Check: func(ctx context.Context) error {
		return errors.New("connection refused")
	}}
}

func TestCheckAll_recordsStatuses(t *testing.T) {
	c := health.New([]health.Probe{okProbe("policies"), failProbe("audit")}, health.Config{}, nil)
	c.CheckAll(context.Background())

	statuses := c.Statuses()
	if len(statuses) != 2 {
		t.Fatalf("got %d statuses, want 2", len(statuses))
	}
	if !statuses["policies"].Healthy || statuses["policies"].Error != "" {
		t.Errorf("policies status = %+v, want healthy", statuses["policies"])
	}
	if statuses["audit"].Error != "connection refused" {
		t.Errorf("audit error = %q, want connection refused", statuses["audit"].Error)
	}
	if statuses["audit"].CheckedAt.IsZero() {
		t.Error("CheckedAt not stamped")
	}
}

func TestHealthy_degradesOnlyAtFailThreshold(t *testing.T) {
	c := health.New([]health.Probe{failProbe("audit")}, health.Config{FailThreshold: 3}, nil)

	c.CheckAll(context.Background())
	c.CheckAll(context.Background())
	if !c.Healthy() {
		t.Fatal("unhealthy after 2 failures with threshold 3")
	}

	c.CheckAll(context.Background())
	if c.Healthy() {
		t.Fatal("still healthy after reaching the fail threshold")
	}
	if got := c.Statuses()["audit"].ConsecutiveFails; got != 3 {
		t.Errorf("consecutive fails = %d, want 3", got)
	}
}

func TestCheckAll_successResetsFailCount(t *testing.T) {
	shouldFail := true
	probe := health.Probe{Name: "policies", Check: func(ctx context.Context) error {
		if shouldFail {
			return errors.New("down")
		}
		return nil
	}}
	c := health.New([]health.Probe{probe}, health.Config{FailThreshold: 2}, nil)

	c.CheckAll(context.Background())
	c.CheckAll(context.Background())
	if c.Healthy() {
		t.Fatal("expected degraded after hitting the threshold")
	}

	shouldFail = false
	c.CheckAll(context.Background())
	if !c.Healthy() {
		t.Fatal("success did not restore health")
	}
	if got := c.Statuses()["policies"].ConsecutiveFails; got != 0 {
		t.Errorf("consecutive fails = %d, want 0 after recovery", got)
	}
}

func TestCheckAll_enforcesProbeTimeout(t *testing.T) {
	probe := health.Probe{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	c := health.New([]health.Probe{probe}, health.Config{
		ProbeTimeout:  50 * time.Millisecond,
		FailThreshold: 1,
	}, nil)

	start := time.Now()
	c.CheckAll(context.Background())
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("probe ran %v, timeout not enforced", elapsed)
	}
	if c.Healthy() {
		t.Error("timed-out probe should count as a failure")
	}
}

func TestCheckAll_invokesMetricsRecorder(t *testing.T) {
	var results []bool
	c := health.New([]health.Probe{okProbe("policies"), failProbe("audit")}, health.Config{}, nil)
	c.SetMetricsRecord(func(success bool) { results = append(results, success) })

	c.CheckAll(context.Background())
	if len(results) != 2 || !results[0] || results[1] {
		t.Errorf("recorded results = %v, want [true false]", results)
	}
}

func TestHealthy_trueBeforeAnyProbeRuns(t *testing.T) {
	c := health.New([]health.Probe{failProbe("audit")}, health.Config{}, nil)
	if !c.Healthy() {
		t.Error("checker with no completed probes must report healthy")
	}
}

func TestStart_stopsWhenChannelCloses(t *testing.T) {
	c := health.New([]health.Probe{okProbe("policies")}, health.Config{CheckInterval: 10 * time.Millisecond}, nil)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		c.Start(stop)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	close(stop)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after stop closed")
	}
	if len(c.Statuses()) == 0 {
		t.Error("probe loop never ran")
	}
}
