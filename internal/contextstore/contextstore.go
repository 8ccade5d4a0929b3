// Package contextstore tracks the latest known situational attributes for
// each subject and derives a transition-aware risk score from them.
//
// An update replaces the subject's record wholesale, but the immediately
// preceding location and device are bridged into PreviousLocation and
// PreviousDevice so that a change between consecutive updates is
// detectable. Records are never deleted by this package; retention is an
// external concern.
package contextstore

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Context is the stored record for a single subject.
type Context struct {
	Location       string `json:"location,omitempty"`
	Device         string `json:"device,omitempty"`
	VPNEnabled     bool   `json:"vpn_enabled,omitempty"`
	FailedAttempts int    `json:"failed_attempts,omitempty"`

	// Extra holds open-ended attributes (custom risk flags and the like)
	// that have no dedicated field.
	Extra map[string]string `json:"extra,omitempty"`

	// Bridged from the prior record on update; empty when the subject had
	// no prior record or the prior record had no value.
	PreviousLocation string `json:"previous_location,omitempty"`
	PreviousDevice   string `json:"previous_device,omitempty"`

	LastUpdated time.Time `json:"last_updated"`
}

// clone returns a copy whose Extra map does not alias the receiver's.
func (c Context) clone() Context {
	out := c
	if c.Extra != nil {
		out.Extra = make(map[string]string, len(c.Extra))
		for k, v := range c.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// AttributeCount reports how many attributes the record carries. It is the
// context-richness input to feature assembly.
func (c *Context) AttributeCount() int {
	n := len(c.Extra)
	if c.Location != "" {
		n++
	}
	if c.Device != "" {
		n++
	}
	if c.VPNEnabled {
		n++
	}
	if c.FailedAttempts > 0 {
		n++
	}
	return n
}

// Store holds subject contexts in memory. All methods are safe for
// concurrent use; the single RWMutex gives updates exclusive access so a
// concurrent risk evaluation can never observe a half-bridged record.
type Store struct {
	mu       sync.RWMutex
	contexts map[string]*Context

	weights RiskWeights
	clock   func() time.Time
	logger  *zap.Logger
}

// New creates a Store with the given risk weights. Pass DefaultRiskWeights()
// unless the deployment tunes them.
func New(weights RiskWeights, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		contexts: make(map[string]*Context),
		weights:  weights,
		clock:    time.Now,
		logger:   logger,
	}
}

// SetClock replaces the wall clock. Tests use this to pin the
// business-hours check.
func (s *Store) SetClock(clock func() time.Time) {
	s.clock = clock
}

// Update replaces the subject's context with attrs, carrying the prior
// location and device forward as PreviousLocation/PreviousDevice and
// stamping LastUpdated. Fields absent from attrs are dropped — this is
// last-write semantics with bridged transition fields, not a patch.
func (s *Store) Update(subjectID string, attrs Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := attrs.clone()
	// Derived fields always come from the store, never from the caller.
	next.PreviousLocation = ""
	next.PreviousDevice = ""
	if prev, ok := s.contexts[subjectID]; ok {
		next.PreviousLocation = prev.Location
		next.PreviousDevice = prev.Device
	}
	next.LastUpdated = s.clock().UTC()
	s.contexts[subjectID] = &next
}

// Get returns a copy of the subject's current context, or ok=false when the
// subject has none.
func (s *Store) Get(subjectID string) (Context, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contexts[subjectID]
	if !ok {
		return Context{}, false
	}
	return c.clone(), true
}
