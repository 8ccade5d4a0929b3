package audit

import (
	"context"
	"time"
)

// Pattern summarises a subject's recent access behaviour. The rule
// generation workflow consumes it as pattern data.
type Pattern struct {
	// AccessFrequency is the number of events inside the lookback window.
	AccessFrequency int `json:"access_frequency"`

	// DataTypes and Actions are occurrence counts inside the window.
	DataTypes map[string]int `json:"data_types"`
	Actions   map[string]int `json:"actions"`

	// DenialRate is the fraction of events inside the window that were
	// denied, in [0,1]. Zero when the window is empty.
	DenialRate float64 `json:"denial_rate"`

	// LastAccess is the most recent event timestamp; zero when the
	// subject has no recorded events.
	LastAccess time.Time `json:"last_access"`
}

// Analyzer derives access patterns from a Sink's history.
type Analyzer struct {
	sink     Sink
	lookback time.Duration
	clock    func() time.Time
}

// NewAnalyzer creates an Analyzer over sink with the given lookback
// window; lookback <= 0 defaults to 30 days.
func NewAnalyzer(sink Sink, lookback time.Duration) *Analyzer {
	if lookback <= 0 {
		lookback = 30 * 24 * time.Hour
	}
	return &Analyzer{sink: sink, lookback: lookback, clock: time.Now}
}

// Patterns analyses the subject's recent history. It reads at most limit
// events (<= 0 uses the sink default).
func (a *Analyzer) Patterns(ctx context.Context, subjectID string, limit int) (*Pattern, error) {
	events, err := a.sink.History(ctx, subjectID, limit)
	if err != nil {
		return nil, err
	}

	p := &Pattern{
		DataTypes: make(map[string]int),
		Actions:   make(map[string]int),
	}

	cutoff := a.clock().UTC().Add(-a.lookback)
	denied := 0
	for _, ev := range events {
		if ev.Timestamp.After(p.LastAccess) {
			p.LastAccess = ev.Timestamp
		}
		if ev.Timestamp.Before(cutoff) {
			continue
		}
		p.AccessFrequency++
		p.DataTypes[ev.DataType]++
		p.Actions[ev.Action]++
		if !ev.Success {
			denied++
		}
	}
	if p.AccessFrequency > 0 {
		p.DenialRate = float64(denied) / float64(p.AccessFrequency)
	}
	return p, nil
}
