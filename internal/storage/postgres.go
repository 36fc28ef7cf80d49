package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"claims-orchestrator/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore persists whole claim states as JSONB, with the columns the
// listing queries filter on kept alongside.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, st domain.ClaimState) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode claim %s: %w", st.ID(), err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO claims (id, status, priority, document_id, created_at, updated_at, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			priority = EXCLUDED.priority,
			updated_at = EXCLUDED.updated_at,
			state = EXCLUDED.state
	`, st.ID(), st.Record.Status, st.Record.Priority, st.Record.DocumentID, st.Record.CreatedAt, st.Record.UpdatedAt, string(payload))
	if err != nil {
		return fmt.Errorf("save claim %s: %w", st.ID(), err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, claimID string) (domain.ClaimState, bool, error) {
	var payload []byte
	row := s.db.QueryRowContext(ctx, `SELECT state FROM claims WHERE id = $1`, claimID)
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ClaimState{}, false, nil
		}
		return domain.ClaimState{}, false, fmt.Errorf("load claim %s: %w", claimID, err)
	}
	st, err := decodeState(payload)
	if err != nil {
		return domain.ClaimState{}, false, err
	}
	return st, true, nil
}

func (s *PostgresStore) Delete(ctx context.Context, claimID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM claims WHERE id = $1`, claimID)
	if err != nil {
		return false, fmt.Errorf("delete claim %s: %w", claimID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]domain.ClaimState, error) {
	return s.query(ctx, `SELECT state FROM claims ORDER BY created_at ASC`)
}

// ListByStatus narrows the scan to the given statuses in the database.
func (s *PostgresStore) ListByStatus(ctx context.Context, statuses []domain.ClaimStatus) ([]domain.ClaimState, error) {
	values := make([]string, 0, len(statuses))
	for _, st := range statuses {
		values = append(values, string(st))
	}
	return s.query(ctx, `
		SELECT state FROM claims
		WHERE status = ANY($1)
		ORDER BY created_at ASC
	`, pq.Array(values))
}

func (s *PostgresStore) query(ctx context.Context, q string, args ...any) ([]domain.ClaimState, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ClaimState, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		st, err := decodeState(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeState(payload []byte) (domain.ClaimState, error) {
	var st domain.ClaimState
	if err := json.Unmarshal(payload, &st); err != nil {
		return domain.ClaimState{}, fmt.Errorf("decode claim state: %w", err)
	}
	return st, nil
}
