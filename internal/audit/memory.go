package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// defaultHistoryLimit applies when History is called with limit <= 0.
const defaultHistoryLimit = 100

// MemorySink is an in-memory, thread-safe Sink implementation. It keeps at
// most maxEvents events, discarding the oldest first.
type MemorySink struct {
	mu        sync.RWMutex
	events    []Event
	maxEvents int
	clock     func() time.Time
}

// NewMemorySink creates a MemorySink retaining up to maxEvents events;
// maxEvents <= 0 means unbounded.
func NewMemorySink(maxEvents int) *MemorySink {
	return &MemorySink{maxEvents: maxEvents, clock: time.Now}
}

// Record implements Sink.
func (s *MemorySink) Record(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.clock().UTC()
	}

	s.events = append(s.events, ev)
	if s.maxEvents > 0 && len(s.events) > s.maxEvents {
		s.events = s.events[len(s.events)-s.maxEvents:]
	}
	return nil
}

// History implements Sink.
func (s *MemorySink) History(_ context.Context, subjectID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		if s.events[i].SubjectID == subjectID {
			out = append(out, s.events[i])
		}
	}
	return out, nil
}
