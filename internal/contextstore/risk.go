package contextstore

import "go.uber.org/zap"

// RiskWeights is the contribution of each independent risk signal. Each
// weight applies when its triggering condition holds; the failed-attempts
// contribution is weight×count bounded by FailedAttemptsCap. The total is
// capped at 1.0.
type RiskWeights struct {
	LocationChange    float64
	UnusualTime       float64
	NewDevice         float64
	VPNUsage          float64
	FailedAttempts    float64
	FailedAttemptsCap float64

	// Business hours window; an access whose wall-clock hour falls outside
	// [StartHour, EndHour] contributes UnusualTime.
	BusinessHoursStart int
	BusinessHoursEnd   int
}

// DefaultRiskWeights returns the stock weighting.
func DefaultRiskWeights() RiskWeights {
	return RiskWeights{
		LocationChange:     0.3,
		UnusualTime:        0.4,
		NewDevice:          0.5,
		VPNUsage:           0.2,
		FailedAttempts:     0.6,
		FailedAttemptsCap:  0.8,
		BusinessHoursStart: 6,
		BusinessHoursEnd:   22,
	}
}

// EvaluateRisk computes the subject's current risk score in [0,1] as a
// weighted sum over independent signals. A subject with no stored context
// scores the maximum 1.0 — no context is the riskiest state, and the
// decision engine treats it as an immediate deny precondition anyway.
func (s *Store) EvaluateRisk(subjectID string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contexts[subjectID]
	if !ok {
		return 1.0
	}

	score := 0.0

	if c.PreviousLocation != "" && c.Location != c.PreviousLocation {
		score += s.weights.LocationChange
	}

	hour := s.clock().Hour()
	if hour < s.weights.BusinessHoursStart || hour > s.weights.BusinessHoursEnd {
		score += s.weights.UnusualTime
	}

	if c.PreviousDevice != "" && c.Device != c.PreviousDevice {
		score += s.weights.NewDevice
	}

	if c.VPNEnabled {
		score += s.weights.VPNUsage
	}

	if c.FailedAttempts > 0 {
		contrib := s.weights.FailedAttempts * float64(c.FailedAttempts)
		if contrib > s.weights.FailedAttemptsCap {
			contrib = s.weights.FailedAttemptsCap
		}
		score += contrib
	}

	if score > 1.0 {
		score = 1.0
	}
	if score < 0 {
		// Misconfigured negative weights must not leak a nonsense score.
		s.logger.Warn("risk score clamped from negative", zap.String("subject", subjectID))
		score = 0
	}
	return score
}
