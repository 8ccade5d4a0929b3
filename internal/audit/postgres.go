package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresSink persists access events to a PostgreSQL database. It
// implements the Sink interface.
type PostgresSink struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresSink creates a PostgresSink backed by the given pool.
func NewPostgresSink(pool *pgxpool.Pool, logger *zap.Logger) *PostgresSink {
	return &PostgresSink{pool: pool, logger: logger}
}

// Record implements Sink.
func (s *PostgresSink) Record(ctx context.Context, ev Event) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	snapshot, err := json.Marshal(ev.Context)
	if err != nil {
		return fmt.Errorf("marshal context snapshot: %w", err)
	}

	if _, err := s.pool.Exec(ctx, `
		INSERT INTO access_events (id, timestamp, subject_id, data_type, action, success, context)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ID, ev.Timestamp, ev.SubjectID, ev.DataType, ev.Action, ev.Success, snapshot,
	); err != nil {
		return fmt.Errorf("insert access event: %w", err)
	}
	return nil
}

// History implements Sink.
func (s *PostgresSink) History(ctx context.Context, subjectID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, timestamp, subject_id, data_type, action, success, context
		FROM access_events
		WHERE subject_id = $1
		ORDER BY timestamp DESC
		LIMIT $2`, subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("query access events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var snapshot []byte
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.SubjectID, &ev.DataType, &ev.Action, &ev.Success, &snapshot); err != nil {
			return nil, fmt.Errorf("scan access event: %w", err)
		}
		if len(snapshot) > 0 {
			if err := json.Unmarshal(snapshot, &ev.Context); err != nil {
				s.logger.Warn("corrupt context snapshot in audit row",
					zap.String("event_id", ev.ID.String()),
					zap.Error(err),
				)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// DeleteBefore removes events older than cutoff and returns the number
// deleted. The retention sweep in the server calls this periodically.
func (s *PostgresSink) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM access_events WHERE timestamp < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired access events: %w", err)
	}
	return tag.RowsAffected(), nil
}
