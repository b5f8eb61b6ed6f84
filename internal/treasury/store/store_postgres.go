package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"custodia/internal/treasury/models"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

// PostgresStore persists proposals in PostgreSQL via database/sql (pgx
// stdlib driver). Ids come from a BIGSERIAL so they start at 1 and are never
// reused even across restarts. Votes live in a child table keyed by
// (proposal_id, voter) so the one-vote-per-principal invariant is also a
// database constraint.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed proposal store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the tables when missing. Deployments with managed
// migrations can skip this.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS proposals (
	id          BIGSERIAL PRIMARY KEY,
	proposer    BYTEA        NOT NULL,
	target      BYTEA        NOT NULL,
	value       NUMERIC(78)  NOT NULL,
	payload     BYTEA,
	description TEXT         NOT NULL,
	state       TEXT         NOT NULL,
	created_at  TIMESTAMPTZ  NOT NULL,
	approved_at TIMESTAMPTZ,
	yes_votes   INT          NOT NULL DEFAULT 0,
	no_votes    INT          NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS proposal_votes (
	proposal_id BIGINT NOT NULL REFERENCES proposals(id),
	voter       BYTEA  NOT NULL,
	support     BOOL   NOT NULL,
	PRIMARY KEY (proposal_id, voter)
);`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure proposal schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, proposal *models.Proposal) (id.ProposalID, error) {
	const query = `
		INSERT INTO proposals (proposer, target, value, payload, description, state, created_at, yes_votes, no_votes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	var allocated uint64
	err := s.db.QueryRowContext(ctx, query,
		proposal.Proposer.Bytes(),
		proposal.Target.Bytes(),
		proposal.Value.String(),
		proposal.Payload,
		proposal.Description,
		string(proposal.State),
		proposal.CreatedAt,
		proposal.YesVotes,
		proposal.NoVotes,
	).Scan(&allocated)
	if err != nil {
		return id.Nil, fmt.Errorf("create proposal: %w", err)
	}
	proposal.ID = id.ProposalID(allocated)
	return proposal.ID, nil
}

func (s *PostgresStore) Get(ctx context.Context, proposalID id.ProposalID) (*models.Proposal, error) {
	const query = `
		SELECT id, proposer, target, value, payload, description, state, created_at, approved_at, yes_votes, no_votes
		FROM proposals WHERE id = $1
	`
	proposal, err := scanProposal(s.db.QueryRowContext(ctx, query, uint64(proposalID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("proposal %s: %w", proposalID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("get proposal: %w", err)
	}
	if err := s.loadVotes(ctx, proposal); err != nil {
		return nil, err
	}
	return proposal, nil
}

func (s *PostgresStore) Update(ctx context.Context, proposal *models.Proposal) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update proposal: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const query = `
		UPDATE proposals
		SET description = $2, state = $3, approved_at = $4, yes_votes = $5, no_votes = $6
		WHERE id = $1
	`
	var approvedAt any
	if !proposal.ApprovedAt.IsZero() {
		approvedAt = proposal.ApprovedAt
	}
	res, err := tx.ExecContext(ctx, query,
		uint64(proposal.ID),
		proposal.Description,
		string(proposal.State),
		approvedAt,
		proposal.YesVotes,
		proposal.NoVotes,
	)
	if err != nil {
		return fmt.Errorf("update proposal: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update proposal: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("proposal %s: %w", proposal.ID, sentinel.ErrNotFound)
	}

	const upsertVote = `
		INSERT INTO proposal_votes (proposal_id, voter, support)
		VALUES ($1, $2, $3)
		ON CONFLICT (proposal_id, voter) DO NOTHING
	`
	for voter, support := range proposal.Voted {
		if _, err := tx.ExecContext(ctx, upsertVote, uint64(proposal.ID), voter.Bytes(), support); err != nil {
			return fmt.Errorf("record vote: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("update proposal: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*models.Proposal, error) {
	const query = `
		SELECT id, proposer, target, value, payload, description, state, created_at, approved_at, yes_votes, no_votes
		FROM proposals ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	var out []*models.Proposal
	for rows.Next() {
		proposal, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("list proposals: %w", err)
		}
		out = append(out, proposal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	for _, proposal := range out {
		if err := s.loadVotes(ctx, proposal); err != nil {
			return nil, err
		}
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProposal(row rowScanner) (*models.Proposal, error) {
	var (
		p          models.Proposal
		rawID      uint64
		proposer   []byte
		target     []byte
		value      string
		approvedAt sql.NullTime
	)
	err := row.Scan(&rawID, &proposer, &target, &value, &p.Payload, &p.Description,
		(*string)(&p.State), &p.CreatedAt, &approvedAt, &p.YesVotes, &p.NoVotes)
	if err != nil {
		return nil, err
	}
	p.ID = id.ProposalID(rawID)
	p.Proposer = common.BytesToAddress(proposer)
	p.Target = common.BytesToAddress(target)
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("malformed stored value %q", value)
	}
	p.Value = amount
	if approvedAt.Valid {
		p.ApprovedAt = approvedAt.Time
	}
	p.Voted = make(map[common.Address]bool)
	return &p, nil
}

func (s *PostgresStore) loadVotes(ctx context.Context, proposal *models.Proposal) error {
	const query = `SELECT voter, support FROM proposal_votes WHERE proposal_id = $1`
	rows, err := s.db.QueryContext(ctx, query, uint64(proposal.ID))
	if err != nil {
		return fmt.Errorf("load votes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var voter []byte
		var support bool
		if err := rows.Scan(&voter, &support); err != nil {
			return fmt.Errorf("load votes: %w", err)
		}
		proposal.Voted[common.BytesToAddress(voter)] = support
	}
	return rows.Err()
}
