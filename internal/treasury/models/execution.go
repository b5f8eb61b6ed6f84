package models

import (
	"encoding/binary"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	id "custodia/pkg/domain"
)

// executionNamespace seeds deterministic execution record ids. Fixed forever;
// changing it would re-key the audit trail.
var executionNamespace = uuid.MustParse("8f3c1d9e-5a42-4b6f-9e71-2d8a30c4f5b1")

// ExecutionRecord is an immutable audit entry appended at the moment a
// proposal's funds move. Records are never mutated or deleted; the sequence
// of all records forms the execution audit trail.
type ExecutionRecord struct {
	ID         uuid.UUID      `json:"id"`
	ProposalID id.ProposalID  `json:"proposal_id"`
	Target     common.Address `json:"target"`
	Value      *big.Int       `json:"value"`
	ExecutedBy common.Address `json:"executed_by"`
	ExecutedAt time.Time      `json:"executed_at"`
}

// NewExecutionRecord derives a record deterministically from the proposal id
// and execution timestamp, so the same execution always yields the same
// record id.
func NewExecutionRecord(p *Proposal, executedBy common.Address, executedAt time.Time) ExecutionRecord {
	var seed [16]byte
	binary.BigEndian.PutUint64(seed[:8], uint64(p.ID))
	binary.BigEndian.PutUint64(seed[8:], uint64(executedAt.UnixNano()))
	return ExecutionRecord{
		ID:         uuid.NewSHA1(executionNamespace, seed[:]),
		ProposalID: p.ID,
		Target:     p.Target,
		Value:      new(big.Int).Set(p.Value),
		ExecutedBy: executedBy,
		ExecutedAt: executedAt,
	}
}
