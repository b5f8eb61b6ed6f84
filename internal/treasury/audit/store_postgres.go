package audit

import (
	"context"
	"database/sql"
	"fmt"

	id "custodia/pkg/domain"
)

// PostgresStore persists audit events durably. Append-only by construction:
// there are no UPDATE or DELETE paths.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed audit store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the audit table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	seq         BIGSERIAL PRIMARY KEY,
	ts          TIMESTAMPTZ NOT NULL,
	action      TEXT        NOT NULL,
	actor       TEXT        NOT NULL DEFAULT '',
	proposal_id BIGINT      NOT NULL DEFAULT 0,
	target      TEXT        NOT NULL DEFAULT '',
	amount      TEXT        NOT NULL DEFAULT '',
	detail      TEXT        NOT NULL DEFAULT ''
);`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	const query = `
		INSERT INTO audit_events (ts, action, actor, proposal_id, target, amount, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.Timestamp,
		string(event.Action),
		event.Actor,
		uint64(event.ProposalID),
		event.Target,
		event.Amount,
		event.Detail,
	)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]Event, error) {
	query := `
		SELECT ts, action, actor, proposal_id, target, amount, detail
		FROM audit_events ORDER BY seq
	`
	args := []any{}
	if limit > 0 {
		// Newest N, returned oldest-first to match the in-memory store.
		query = `
			SELECT ts, action, actor, proposal_id, target, amount, detail
			FROM (
				SELECT seq, ts, action, actor, proposal_id, target, amount, detail
				FROM audit_events ORDER BY seq DESC LIMIT $1
			) latest ORDER BY seq
		`
		args = append(args, limit)
	}
	return s.query(ctx, query, args...)
}

func (s *PostgresStore) ListByProposal(ctx context.Context, proposalID id.ProposalID) ([]Event, error) {
	const query = `
		SELECT ts, action, actor, proposal_id, target, amount, detail
		FROM audit_events WHERE proposal_id = $1 ORDER BY seq
	`
	return s.query(ctx, query, uint64(proposalID))
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var event Event
		var rawID uint64
		if err := rows.Scan(&event.Timestamp, (*string)(&event.Action), &event.Actor,
			&rawID, &event.Target, &event.Amount, &event.Detail); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.ProposalID = id.ProposalID(rawID)
		out = append(out, event)
	}
	return out, rows.Err()
}
