// Package audit records access events for later analysis.
//
// Every decision the engine makes is recorded here, including decisions
// that fell back to a conservative default after an absorbed fault — the
// audit trail is what makes those silent defaults diagnosable after the
// fact. Two implementations of the Sink interface are provided:
//   - MemorySink: in-process ring buffer, for testing and development.
//   - PostgresSink: durable, for production use.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is a single recorded access check.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	SubjectID string    `json:"subject_id"`
	DataType  string    `json:"data_type"`
	Action    string    `json:"action"`
	Success   bool      `json:"success"`

	// Context is a snapshot of the subject's situational attributes at
	// decision time, for forensic reconstruction.
	Context map[string]string `json:"context,omitempty"`
}

// Sink accepts access events and serves historical queries.
type Sink interface {
	// Record appends one event.
	Record(ctx context.Context, ev Event) error

	// History returns up to limit past events for the subject, most
	// recent first.
	History(ctx context.Context, subjectID string, limit int) ([]Event, error)
}
