package audit

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"custodia/internal/treasury/models"
	id "custodia/pkg/domain"
)

// RecordStore persists execution records, the immutable audit trail of fund
// movements through the proposal pipeline.
type RecordStore interface {
	Append(ctx context.Context, record models.ExecutionRecord) error
	List(ctx context.Context) ([]models.ExecutionRecord, error)
}

// InMemoryRecordStore keeps execution records in an append-only slice.
type InMemoryRecordStore struct {
	mu      sync.RWMutex
	records []models.ExecutionRecord
}

// NewInMemoryRecordStore constructs an empty in-memory record store.
func NewInMemoryRecordStore() *InMemoryRecordStore {
	return &InMemoryRecordStore{}
}

func (s *InMemoryRecordStore) Append(_ context.Context, record models.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *InMemoryRecordStore) List(_ context.Context) ([]models.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ExecutionRecord, len(s.records))
	copy(out, s.records)
	return out, nil
}

// PostgresRecordStore persists execution records durably.
type PostgresRecordStore struct {
	db *sql.DB
}

// NewPostgresRecordStore constructs a PostgreSQL-backed record store.
func NewPostgresRecordStore(db *sql.DB) *PostgresRecordStore {
	return &PostgresRecordStore{db: db}
}

// EnsureSchema creates the execution records table when missing.
func (s *PostgresRecordStore) EnsureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS execution_records (
	seq         BIGSERIAL PRIMARY KEY,
	id          UUID        NOT NULL UNIQUE,
	proposal_id BIGINT      NOT NULL,
	target      BYTEA       NOT NULL,
	value       NUMERIC(78) NOT NULL,
	executed_by BYTEA       NOT NULL,
	executed_at TIMESTAMPTZ NOT NULL
);`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure execution record schema: %w", err)
	}
	return nil
}

func (s *PostgresRecordStore) Append(ctx context.Context, record models.ExecutionRecord) error {
	const query = `
		INSERT INTO execution_records (id, proposal_id, target, value, executed_by, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		record.ID.String(),
		uint64(record.ProposalID),
		record.Target.Bytes(),
		record.Value.String(),
		record.ExecutedBy.Bytes(),
		record.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("append execution record: %w", err)
	}
	return nil
}

func (s *PostgresRecordStore) List(ctx context.Context) ([]models.ExecutionRecord, error) {
	const query = `
		SELECT id, proposal_id, target, value, executed_by, executed_at
		FROM execution_records ORDER BY seq
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list execution records: %w", err)
	}
	defer rows.Close()

	var out []models.ExecutionRecord
	for rows.Next() {
		var (
			record     models.ExecutionRecord
			rawUUID    string
			rawID      uint64
			target     []byte
			value      string
			executedBy []byte
		)
		if err := rows.Scan(&rawUUID, &rawID, &target, &value, &executedBy, &record.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan execution record: %w", err)
		}
		record.ID, err = uuid.Parse(rawUUID)
		if err != nil {
			return nil, fmt.Errorf("malformed execution record id %q: %w", rawUUID, err)
		}
		record.ProposalID = id.ProposalID(rawID)
		record.Target = common.BytesToAddress(target)
		amount, ok := new(big.Int).SetString(value, 10)
		if !ok {
			return nil, fmt.Errorf("malformed stored value %q", value)
		}
		record.Value = amount
		record.ExecutedBy = common.BytesToAddress(executedBy)
		out = append(out, record)
	}
	return out, rows.Err()
}
