// Package service implements the proposal lifecycle engine: the state
// machine that validates role and state preconditions for every transition
// and mutates the proposal store accordingly.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"custodia/internal/treasury/audit"
	"custodia/internal/treasury/config"
	"custodia/internal/treasury/metrics"
	"custodia/internal/treasury/models"
	"custodia/internal/treasury/roles"
	"custodia/internal/treasury/store"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/sentinel"
)

// AuditPublisher emits the observable notification for each successful
// operation.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service is the lifecycle engine. All mutations are serialized by an
// internal mutex so each operation leaves the store fully consistent before
// returning; there are no partially applied transitions.
type Service struct {
	mu sync.Mutex

	store   store.ProposalStore
	roles   *roles.Registry
	gov     *config.Governance
	auditor AuditPublisher
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithAuditPublisher attaches the audit sink.
func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) { s.auditor = publisher }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source. Tests use this to cross the expiry
// and timelock windows without sleeping.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New constructs the lifecycle engine.
func New(proposals store.ProposalStore, registry *roles.Registry, gov *config.Governance, opts ...Option) (*Service, error) {
	if proposals == nil {
		return nil, fmt.Errorf("proposal store is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("role registry is required")
	}
	if gov == nil {
		return nil, fmt.Errorf("governance config is required")
	}
	s := &Service{
		store: proposals,
		roles: registry,
		gov:   gov,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create validates and stores a new proposal. Proposer role required; the
// target must be non-null and the description non-empty. Returns the
// allocated id.
func (s *Service) Create(ctx context.Context, caller, target common.Address, value *big.Int, payload []byte, description string) (id.ProposalID, error) {
	if err := s.roles.Require(caller, roles.RoleProposer); err != nil {
		return id.Nil, err
	}
	if target == (common.Address{}) {
		return id.Nil, dErrors.New(dErrors.CodeInvalidAddress, "proposal target must not be the null address")
	}
	if description == "" {
		return id.Nil, dErrors.New(dErrors.CodeEmptyDescription, "proposal description must not be empty")
	}
	if value == nil || value.Sign() < 0 {
		return id.Nil, dErrors.New(dErrors.CodeInvalidAmount, "proposal value must not be negative")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	proposal := &models.Proposal{
		Proposer:    caller,
		Target:      target,
		Value:       new(big.Int).Set(value),
		Payload:     append([]byte(nil), payload...),
		Description: description,
		State:       models.StatePending,
		CreatedAt:   s.now(),
		Voted:       make(map[common.Address]bool),
	}
	proposalID, err := s.store.Create(ctx, proposal)
	if err != nil {
		return id.Nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store proposal")
	}

	s.emit(ctx, audit.Event{
		Action:     audit.ActionProposalCreated,
		Actor:      caller.Hex(),
		ProposalID: proposalID,
		Target:     target.Hex(),
		Amount:     value.String(),
	})
	if s.metrics != nil {
		s.metrics.ProposalsCreated.Inc()
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "proposal created",
			"proposal_id", proposalID.String(),
			"proposer", caller.Hex(),
		)
	}
	return proposalID, nil
}

// Vote tallies one vote from a proposer. The stored state is the only thing
// checked here: a proposal past its expiry window but still nominally
// Pending accepts votes, matching the deployed behavior (expiry is enforced
// at approval and in the active list).
func (s *Service) Vote(ctx context.Context, caller common.Address, proposalID id.ProposalID, support bool) error {
	if err := s.roles.Require(caller, roles.RoleProposer); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	proposal, err := s.get(ctx, proposalID)
	if err != nil {
		return err
	}
	if err := proposal.RecordVote(caller, support); err != nil {
		return err
	}
	if err := s.store.Update(ctx, proposal); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record vote")
	}

	s.emit(ctx, audit.Event{
		Action:     audit.ActionVoteCast,
		Actor:      caller.Hex(),
		ProposalID: proposalID,
		Detail:     fmt.Sprintf("support=%t yes=%d no=%d", support, proposal.YesVotes, proposal.NoVotes),
	})
	if s.metrics != nil {
		s.metrics.VotesCast.Inc()
	}
	return nil
}

// Approve moves a Pending proposal to Approved. Admin only. Fails when the
// proposal is not Pending, past its expiry window, or lacks strict majority
// support (yes must exceed no; a tie is insufficient).
func (s *Service) Approve(ctx context.Context, caller common.Address, proposalID id.ProposalID) error {
	if err := s.roles.Require(caller, roles.RoleAdmin); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	proposal, err := s.get(ctx, proposalID)
	if err != nil {
		return err
	}
	now := s.now()
	if err := proposal.CanApprove(now, s.gov.ProposalExpiry()); err != nil {
		return err
	}
	proposal.ApplyApproval(now)
	if err := s.store.Update(ctx, proposal); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to approve proposal")
	}

	s.emit(ctx, audit.Event{
		Action:     audit.ActionProposalApproved,
		Actor:      caller.Hex(),
		ProposalID: proposalID,
		Detail:     fmt.Sprintf("yes=%d no=%d", proposal.YesVotes, proposal.NoVotes),
	})
	if s.metrics != nil {
		s.metrics.ProposalsApproved.Inc()
	}
	return nil
}

// Reject moves a Pending proposal to Rejected. Admin only. Deliberately has
// no vote-tally precondition: rejection is an admin override path, distinct
// from approval.
func (s *Service) Reject(ctx context.Context, caller common.Address, proposalID id.ProposalID) error {
	if err := s.roles.Require(caller, roles.RoleAdmin); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	proposal, err := s.get(ctx, proposalID)
	if err != nil {
		return err
	}
	if proposal.State != models.StatePending {
		return dErrors.New(dErrors.CodeNotPending, "proposal is not pending")
	}
	proposal.State = models.StateRejected
	if err := s.store.Update(ctx, proposal); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to reject proposal")
	}

	s.emit(ctx, audit.Event{
		Action:     audit.ActionProposalRejected,
		Actor:      caller.Hex(),
		ProposalID: proposalID,
	})
	if s.metrics != nil {
		s.metrics.ProposalsRejected.Inc()
	}
	return nil
}

// Cancel moves a Pending proposal to Canceled. Only the original proposer
// may cancel; no role beyond that identity is required.
func (s *Service) Cancel(ctx context.Context, caller common.Address, proposalID id.ProposalID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	proposal, err := s.get(ctx, proposalID)
	if err != nil {
		return err
	}
	if proposal.Proposer != caller {
		return dErrors.New(dErrors.CodeNotProposer, "only the original proposer may cancel")
	}
	if proposal.State != models.StatePending {
		return dErrors.New(dErrors.CodeNotPending, "proposal is not pending")
	}
	proposal.State = models.StateCanceled
	if err := s.store.Update(ctx, proposal); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to cancel proposal")
	}

	s.emit(ctx, audit.Event{
		Action:     audit.ActionProposalCanceled,
		Actor:      caller.Hex(),
		ProposalID: proposalID,
	})
	if s.metrics != nil {
		s.metrics.ProposalsCanceled.Inc()
	}
	return nil
}

// UpdateDescription replaces the description of a Pending proposal. Only the
// original proposer may edit; votes and timestamps are untouched.
func (s *Service) UpdateDescription(ctx context.Context, caller common.Address, proposalID id.ProposalID, description string) error {
	if description == "" {
		return dErrors.New(dErrors.CodeEmptyDescription, "proposal description must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	proposal, err := s.get(ctx, proposalID)
	if err != nil {
		return err
	}
	if proposal.Proposer != caller {
		return dErrors.New(dErrors.CodeNotProposer, "only the original proposer may edit the description")
	}
	if proposal.State != models.StatePending {
		return dErrors.New(dErrors.CodeNotPending, "proposal is not pending")
	}
	proposal.Description = description
	if err := s.store.Update(ctx, proposal); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update description")
	}

	s.emit(ctx, audit.Event{
		Action:     audit.ActionDescriptionUpdated,
		Actor:      caller.Hex(),
		ProposalID: proposalID,
	})
	return nil
}

// SetTimelock updates the execution timelock. Admin only; the safety floor
// is enforced by the governance config.
func (s *Service) SetTimelock(ctx context.Context, caller common.Address, timelock time.Duration) error {
	if err := s.roles.Require(caller, roles.RoleAdmin); err != nil {
		return err
	}
	if err := s.gov.SetTimelock(timelock); err != nil {
		return err
	}
	s.emit(ctx, audit.Event{
		Action: audit.ActionTimelockUpdated,
		Actor:  caller.Hex(),
		Detail: timelock.String(),
	})
	return nil
}

// Get returns one proposal.
func (s *Service) Get(ctx context.Context, proposalID id.ProposalID) (*models.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(ctx, proposalID)
}

// All returns every proposal ever created in exact creation order,
// regardless of later state changes.
func (s *Service) All(ctx context.Context) ([]*models.Proposal, error) {
	proposals, err := s.store.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list proposals")
	}
	return proposals, nil
}

// Active returns, in creation order, every proposal currently Pending and
// inside its expiry window.
func (s *Service) Active(ctx context.Context) ([]*models.Proposal, error) {
	proposals, err := s.store.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list proposals")
	}
	now := s.now()
	expiry := s.gov.ProposalExpiry()
	active := make([]*models.Proposal, 0, len(proposals))
	for _, proposal := range proposals {
		if proposal.IsActive(now, expiry) {
			active = append(active, proposal)
		}
	}
	return active, nil
}

func (s *Service) get(ctx context.Context, proposalID id.ProposalID) (*models.Proposal, error) {
	proposal, err := s.store.Get(ctx, proposalID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "proposal does not exist")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load proposal")
	}
	return proposal, nil
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Emit(ctx, event); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event",
			"action", string(event.Action),
			"error", err,
		)
	}
}
