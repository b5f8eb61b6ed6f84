package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

// ProposalState is the stored lifecycle state of a proposal.
//
// Transitions: Pending → {Approved, Rejected, Canceled}; Approved → Executed.
// Rejected, Canceled, and Executed are terminal. Expiry is deliberately not a
// stored state: a proposal past its expiry window remains Pending on record
// and is excluded from approval and the active list by computation. See
// IsExpired.
type ProposalState string

const (
	StatePending  ProposalState = "pending"
	StateApproved ProposalState = "approved"
	StateRejected ProposalState = "rejected"
	StateCanceled ProposalState = "canceled"
	StateExecuted ProposalState = "executed"
)

// Proposal is a proposed, auditable transfer of treasury funds or external
// call, subject to governance approval.
//
// Invariants:
//   - ID is allocated once and never reused
//   - Target, Value, and Payload are immutable after creation
//   - Only Description and the vote tallies may change while Pending
//   - ApprovedAt is set exactly when State becomes Approved and stays fixed
//     afterwards, including through Executed
type Proposal struct {
	ID          id.ProposalID  `json:"id"`
	Proposer    common.Address `json:"proposer"`
	Target      common.Address `json:"target"`
	Value       *big.Int       `json:"value"`
	Payload     []byte         `json:"payload,omitempty"`
	Description string         `json:"description"`
	State       ProposalState  `json:"state"`
	CreatedAt   time.Time      `json:"created_at"`
	ApprovedAt  time.Time      `json:"approved_at,omitzero"`
	YesVotes    int            `json:"yes_votes"`
	NoVotes     int            `json:"no_votes"`
	Voted       map[common.Address]bool `json:"-"`
}

// Clone returns a deep copy so store reads never alias store-owned state.
func (p *Proposal) Clone() *Proposal {
	cp := *p
	if p.Value != nil {
		cp.Value = new(big.Int).Set(p.Value)
	}
	if p.Payload != nil {
		cp.Payload = append([]byte(nil), p.Payload...)
	}
	cp.Voted = make(map[common.Address]bool, len(p.Voted))
	for voter, support := range p.Voted {
		cp.Voted[voter] = support
	}
	return &cp
}

// IsExpired reports whether the proposal's pending lifetime has elapsed.
// Expired is a computed predicate, never persisted: the record keeps reading
// Pending but becomes ineligible for approval and drops out of the active
// list.
func (p *Proposal) IsExpired(now time.Time, expiry time.Duration) bool {
	return now.After(p.CreatedAt.Add(expiry))
}

// IsActive reports whether the proposal is Pending and inside its expiry
// window.
func (p *Proposal) IsActive(now time.Time, expiry time.Duration) bool {
	return p.State == StatePending && !p.IsExpired(now, expiry)
}

// HasVoted reports whether the principal already cast a vote.
func (p *Proposal) HasVoted(voter common.Address) bool {
	_, ok := p.Voted[voter]
	return ok
}

// RecordVote tallies a vote. Each principal contributes at most once; the
// second attempt is rejected and leaves the tallies unchanged. The map value
// records the vote direction for auditability.
func (p *Proposal) RecordVote(voter common.Address, support bool) error {
	if p.State != StatePending {
		return dErrors.New(dErrors.CodeNotPending, "proposal is not pending")
	}
	if p.HasVoted(voter) {
		return dErrors.New(dErrors.CodeAlreadyVoted, "principal already voted on this proposal")
	}
	if p.Voted == nil {
		p.Voted = make(map[common.Address]bool)
	}
	p.Voted[voter] = support
	if support {
		p.YesVotes++
	} else {
		p.NoVotes++
	}
	return nil
}

// CanApprove checks every approval precondition: Pending, inside the expiry
// window, and carrying strict-majority support (a tie is insufficient).
func (p *Proposal) CanApprove(now time.Time, expiry time.Duration) error {
	if p.State != StatePending {
		return dErrors.New(dErrors.CodeNotPending, "proposal is not pending")
	}
	if p.IsExpired(now, expiry) {
		return dErrors.New(dErrors.CodeProposalExpired, "proposal expiry window has passed")
	}
	if p.YesVotes <= p.NoVotes {
		return dErrors.New(dErrors.CodeInsufficientSupport, "proposal lacks strict majority support")
	}
	return nil
}

// ApplyApproval transitions to Approved and pins the approval timestamp.
// Call CanApprove first.
func (p *Proposal) ApplyApproval(now time.Time) {
	p.State = StateApproved
	p.ApprovedAt = now
}

// TimelockElapsed reports whether the mandatory delay between approval and
// execution has passed.
func (p *Proposal) TimelockElapsed(now time.Time, timelock time.Duration) bool {
	return !now.Before(p.ApprovedAt.Add(timelock))
}
