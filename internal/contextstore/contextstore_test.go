package contextstore_test

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tessera-sec/gatewise/internal/contextstore"
)

// businessClock pins the wall clock to a weekday mid-morning so the
// unusual-time signal never fires unless a test wants it to.
func businessClock() time.Time {
	return time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
}

func newStore() *contextstore.Store {
	s := contextstore.New(contextstore.DefaultRiskWeights(), zap.NewNop())
	s.SetClock(businessClock)
	return s
}

func TestGet_missingSubject(t *testing.T) {
	s := newStore()
	if _, ok := s.Get("nobody"); ok {
		t.Error("expected ok=false for unknown subject")
	}
}

func TestUpdate_bridgesPreviousFields(t *testing.T) {
	s := newStore()

	s.Update("u1", contextstore.Context{Location: "office", Device: "laptop"})
	c, ok := s.Get("u1")
	if !ok {
		t.Fatal("context missing after update")
	}
	if c.PreviousLocation != "" || c.PreviousDevice != "" {
		t.Errorf("first update must leave previous fields unset, got %q/%q",
			c.PreviousLocation, c.PreviousDevice)
	}
	if c.LastUpdated.IsZero() {
		t.Error("LastUpdated not stamped")
	}

	s.Update("u1", contextstore.Context{Location: "home", Device: "phone"})
	c, _ = s.Get("u1")
	if c.PreviousLocation != "office" {
		t.Errorf("PreviousLocation = %q, want office", c.PreviousLocation)
	}
	if c.PreviousDevice != "laptop" {
		t.Errorf("PreviousDevice = %q, want laptop", c.PreviousDevice)
	}
}

func TestUpdate_replacesWholesale(t *testing.T) {
	s := newStore()
	s.Update("u1", contextstore.Context{Location: "office", VPNEnabled: true, FailedAttempts: 3})
	s.Update("u1", contextstore.Context{Location: "office"})

	c, _ := s.Get("u1")
	if c.VPNEnabled || c.FailedAttempts != 0 {
		t.Error("fields absent from the second update must be dropped")
	}
}

func TestUpdate_callerCannotInjectDerivedFields(t *testing.T) {
	s := newStore()
	s.Update("u1", contextstore.Context{Location: "office", PreviousLocation: "mars"})

	c, _ := s.Get("u1")
	if c.PreviousLocation != "" {
		t.Errorf("caller-supplied PreviousLocation survived: %q", c.PreviousLocation)
	}
}

func TestUpdateAndGet_extraMapDoesNotAliasStore(t *testing.T) {
	s := newStore()

	attrs := contextstore.Context{Location: "office", Extra: map[string]string{"network": "corp"}}
	s.Update("u1", attrs)

	// Mutating the caller's map after the update must not reach the store.
	attrs.Extra["network"] = "public"
	c, _ := s.Get("u1")
	if c.Extra["network"] != "corp" {
		t.Errorf("Extra = %v, caller mutation reached the store", c.Extra)
	}

	// Mutating a returned copy must not reach the store either.
	c.Extra["network"] = "hotel"
	again, _ := s.Get("u1")
	if again.Extra["network"] != "corp" {
		t.Errorf("Extra = %v, mutation of a returned context reached the store", again.Extra)
	}
}

func TestEvaluateRisk_missingContextIsMaxRisk(t *testing.T) {
	s := newStore()
	if got := s.EvaluateRisk("ghost"); got != 1.0 {
		t.Errorf("risk for unknown subject = %v, want 1.0", got)
	}
}

func TestEvaluateRisk_locationChangeWeight(t *testing.T) {
	w := contextstore.DefaultRiskWeights()

	stable := newStore()
	stable.Update("u1", contextstore.Context{Location: "office", Device: "laptop"})
	stable.Update("u1", contextstore.Context{Location: "office", Device: "laptop"})

	moved := newStore()
	moved.Update("u1", contextstore.Context{Location: "office", Device: "laptop"})
	moved.Update("u1", contextstore.Context{Location: "unknown", Device: "laptop"})

	diff := moved.EvaluateRisk("u1") - stable.EvaluateRisk("u1")
	if diff != w.LocationChange {
		t.Errorf("location change contributed %v, want exactly %v", diff, w.LocationChange)
	}
}

func TestEvaluateRisk_deviceChangeWeight(t *testing.T) {
	w := contextstore.DefaultRiskWeights()
	s := newStore()
	s.Update("u1", contextstore.Context{Location: "office", Device: "laptop"})
	s.Update("u1", contextstore.Context{Location: "office", Device: "tablet"})

	if got := s.EvaluateRisk("u1"); got != w.NewDevice {
		t.Errorf("risk = %v, want %v (device change only)", got, w.NewDevice)
	}
}

func TestEvaluateRisk_vpnFlag(t *testing.T) {
	w := contextstore.DefaultRiskWeights()
	s := newStore()
	s.Update("u1", contextstore.Context{Location: "office", VPNEnabled: true})

	if got := s.EvaluateRisk("u1"); got != w.VPNUsage {
		t.Errorf("risk = %v, want %v (vpn only)", got, w.VPNUsage)
	}
}

func TestEvaluateRisk_unusualTime(t *testing.T) {
	w := contextstore.DefaultRiskWeights()
	s := contextstore.New(w, zap.NewNop())
	s.SetClock(func() time.Time {
		return time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC) // 3am
	})
	s.Update("u1", contextstore.Context{Location: "office"})

	if got := s.EvaluateRisk("u1"); got != w.UnusualTime {
		t.Errorf("risk = %v, want %v (unusual time only)", got, w.UnusualTime)
	}
}

func TestEvaluateRisk_failedAttemptsMonotonicAndCapped(t *testing.T) {
	w := contextstore.DefaultRiskWeights()

	prev := 0.0
	for attempts := 0; attempts <= 5; attempts++ {
		s := newStore()
		s.Update("u1", contextstore.Context{Location: "office", FailedAttempts: attempts})
		got := s.EvaluateRisk("u1")
		if got < prev {
			t.Errorf("risk dropped from %v to %v at %d attempts", prev, got, attempts)
		}
		if got > 1.0 {
			t.Errorf("risk %v exceeds cap at %d attempts", got, attempts)
		}
		prev = got
	}

	// A single failed attempt contributes the full weight, below the cap.
	s := newStore()
	s.Update("u1", contextstore.Context{Location: "office", FailedAttempts: 1})
	if got := s.EvaluateRisk("u1"); got != w.FailedAttempts {
		t.Errorf("risk = %v, want %v for one failed attempt", got, w.FailedAttempts)
	}

	// Many attempts saturate at FailedAttemptsCap.
	s = newStore()
	s.Update("u1", contextstore.Context{Location: "office", FailedAttempts: 100})
	if got := s.EvaluateRisk("u1"); got != w.FailedAttemptsCap {
		t.Errorf("risk = %v, want cap %v", got, w.FailedAttemptsCap)
	}
}

func TestEvaluateRisk_totalCappedAtOne(t *testing.T) {
	s := contextstore.New(contextstore.DefaultRiskWeights(), zap.NewNop())
	s.SetClock(func() time.Time {
		return time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC)
	})
	s.Update("u1", contextstore.Context{Location: "office", Device: "laptop"})
	s.Update("u1", contextstore.Context{
		Location:       "unknown",
		Device:         "burner",
		VPNEnabled:     true,
		FailedAttempts: 10,
	})

	if got := s.EvaluateRisk("u1"); got != 1.0 {
		t.Errorf("risk = %v, want 1.0 (all signals firing)", got)
	}
}

func TestAttributeCount(t *testing.T) {
	c := &contextstore.Context{
		Location:       "office",
		Device:         "laptop",
		FailedAttempts: 2,
		Extra:          map[string]string{"network": "corp"},
	}
	if got := c.AttributeCount(); got != 4 {
		t.Errorf("AttributeCount = %d, want 4", got)
	}
}
