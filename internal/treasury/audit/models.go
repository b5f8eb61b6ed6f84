package audit

import (
	"context"
	"time"

	id "custodia/pkg/domain"
)

// Action names every observable notification the treasury emits. One event
// per successful operation; the sequence forms the system's audit log.
type Action string

const (
	ActionProposalCreated     Action = "proposal_created"
	ActionVoteCast            Action = "vote_cast"
	ActionProposalApproved    Action = "proposal_approved"
	ActionProposalRejected    Action = "proposal_rejected"
	ActionProposalCanceled    Action = "proposal_canceled"
	ActionProposalExecuted    Action = "proposal_executed"
	ActionDescriptionUpdated  Action = "description_updated"
	ActionFundsReceived       Action = "funds_received"
	ActionTokensTransferred   Action = "tokens_transferred"
	ActionTimelockUpdated     Action = "timelock_updated"
	ActionEmergencyWithdrawal Action = "emergency_withdrawal"
	ActionSystemPaused        Action = "system_paused"
	ActionSystemResumed       Action = "system_resumed"
	ActionRoleGranted         Action = "role_granted"
	ActionRoleRevoked         Action = "role_revoked"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp  time.Time     `json:"timestamp"`
	Action     Action        `json:"action"`
	Actor      string        `json:"actor,omitempty"`
	ProposalID id.ProposalID `json:"proposal_id,omitempty"`
	Target     string        `json:"target,omitempty"`
	Amount     string        `json:"amount,omitempty"`
	Detail     string        `json:"detail,omitempty"`
}

// Store persists audit events. Append-only; nothing is ever mutated or
// deleted.
type Store interface {
	Append(ctx context.Context, event Event) error
	List(ctx context.Context, limit int) ([]Event, error)
	ListByProposal(ctx context.Context, proposalID id.ProposalID) ([]Event, error)
}
