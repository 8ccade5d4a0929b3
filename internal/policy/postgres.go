package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresStore persists policies to a PostgreSQL database. It implements
// the Store interface. Version increments happen inside a transaction so a
// concurrent Active reader never observes a bumped version with a stale
// active flag.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// Upsert implements Store.
func (s *PostgresStore) Upsert(ctx context.Context, id string, data Upsert) (*Policy, error) {
	if err := data.Validate(); err != nil {
		return nil, err
	}

	rules, err := json.Marshal(data.Rules)
	if err != nil {
		return nil, fmt.Errorf("marshal rules: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	version := 1
	var prev int
	err = tx.QueryRow(ctx,
		"SELECT version FROM policies WHERE id = $1 FOR UPDATE", id,
	).Scan(&prev)
	switch {
	case err == nil:
		version = prev + 1
	case errors.Is(err, pgx.ErrNoRows):
		// first version
	default:
		return nil, fmt.Errorf("read policy version: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		INSERT INTO policies (id, rules, data_types, actions, version, active, updated_at)
		VALUES ($1, $2, $3, $4, $5, true, $6)
		ON CONFLICT (id) DO UPDATE
		SET rules = $2, data_types = $3, actions = $4, version = $5, active = true, updated_at = $6`,
		id, rules, data.DataTypes, data.Actions, version, now,
	); err != nil {
		return nil, fmt.Errorf("upsert policy: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit policy tx: %w", err)
	}

	s.logger.Debug("policy upserted",
		zap.String("policy_id", id),
		zap.Int("version", version),
	)

	return &Policy{
		ID:        id,
		Rules:     data.Rules,
		DataTypes: data.DataTypes,
		Actions:   data.Actions,
		Version:   version,
		Active:    true,
		UpdatedAt: now,
	}, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Policy, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, rules, data_types, actions, version, active, updated_at
		FROM policies WHERE id = $1`, id)
	p, err := scanPolicy(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// Active implements Store.
func (s *PostgresStore) Active(ctx context.Context) (map[string]*Policy, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, rules, data_types, actions, version, active, updated_at
		FROM policies WHERE active`)
	if err != nil {
		return nil, fmt.Errorf("query active policies: %w", err)
	}
	defer rows.Close()

	active := make(map[string]*Policy)
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		active[p.ID] = p
	}
	return active, rows.Err()
}

// Deactivate implements Store.
func (s *PostgresStore) Deactivate(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE policies SET active = false, updated_at = $2 WHERE id = $1",
		id, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("deactivate policy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPolicy(row pgx.Row) (*Policy, error) {
	p := &Policy{}
	var rules []byte
	if err := row.Scan(&p.ID, &rules, &p.DataTypes, &p.Actions, &p.Version, &p.Active, &p.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scan policy row: %w", err)
	}
	if err := json.Unmarshal(rules, &p.Rules); err != nil {
		return nil, fmt.Errorf("unmarshal policy rules: %w", err)
	}
	return p, nil
}
