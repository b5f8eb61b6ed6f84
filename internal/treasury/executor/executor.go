// Package executor implements the execution engine: the component that
// actually moves funds once a proposal is approved and its timelock has
// elapsed, plus the break-glass channels that bypass the proposal pipeline
// under direct Executor/Admin authority.
package executor

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
	"custodia/internal/treasury/ledger"
	"custodia/internal/treasury/metrics"
	"custodia/internal/treasury/models"
	"custodia/internal/treasury/pause"
	"custodia/internal/treasury/roles"
	"custodia/internal/treasury/store"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/sentinel"
)

// Invoker performs the external call a proposal describes. Implementations
// must report failure rather than silently losing funds; the engine treats
// any returned error as a hard failure and rolls its own state back.
type Invoker interface {
	Invoke(ctx context.Context, target common.Address, value *big.Int, payload []byte) error
}

// AuditPublisher emits the observable notification for each successful
// operation.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Engine moves treasury funds. Every fund-moving operation holds the
// non-reentrancy guard for its full duration; an external call that calls
// back into the engine before the first operation completes is rejected.
type Engine struct {
	// entry is the re-entry flag. TryLock failing means a fund-moving
	// operation is already on the stack.
	entry sync.Mutex

	proposals store.ProposalStore
	roles     *roles.Registry
	gov       *config.Governance
	funds     *ledger.FundLedger
	pauser    *pause.Controller
	invoker   Invoker
	records   audit.RecordStore
	auditor   AuditPublisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithAuditPublisher attaches the audit sink.
func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(e *Engine) { e.auditor = publisher }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New constructs the execution engine.
func New(
	proposals store.ProposalStore,
	registry *roles.Registry,
	gov *config.Governance,
	funds *ledger.FundLedger,
	pauser *pause.Controller,
	invoker Invoker,
	records audit.RecordStore,
	opts ...Option,
) (*Engine, error) {
	if proposals == nil || registry == nil || gov == nil || funds == nil || pauser == nil {
		return nil, fmt.Errorf("proposal store, role registry, governance config, fund ledger, and pause controller are required")
	}
	if invoker == nil {
		return nil, fmt.Errorf("invoker is required")
	}
	if records == nil {
		return nil, fmt.Errorf("execution record store is required")
	}
	e := &Engine{
		proposals: proposals,
		roles:     registry,
		gov:       gov,
		funds:     funds,
		pauser:    pauser,
		invoker:   invoker,
		records:   records,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Execute performs an approved proposal's transfer. Executor role required;
// rejected while paused. Preconditions are checked in order: the proposal
// must exist, be Approved, have its timelock elapsed, and the native balance
// must cover its value. Any failed precondition aborts with no state change.
//
// On success the state is set to Executed and the balance debited before the
// external call runs (checks-effects-interactions). If the call reports
// failure, both effects are rolled back and the operation fails atomically.
func (e *Engine) Execute(ctx context.Context, caller common.Address, proposalID id.ProposalID) error {
	if err := e.roles.Require(caller, roles.RoleExecutor); err != nil {
		return err
	}
	if !e.entry.TryLock() {
		return dErrors.New(dErrors.CodeInternal, "reentrant fund movement rejected")
	}
	defer e.entry.Unlock()

	if err := e.pauser.RequireRunning(ctx); err != nil {
		return err
	}

	start := e.now()
	err := e.execute(ctx, caller, proposalID, start)
	if e.metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		e.metrics.ObserveExecution(outcome, time.Since(start))
	}
	return err
}

func (e *Engine) execute(ctx context.Context, caller common.Address, proposalID id.ProposalID, now time.Time) error {
	proposal, err := e.get(ctx, proposalID)
	if err != nil {
		return err
	}
	if proposal.State != models.StateApproved {
		return dErrors.New(dErrors.CodeNotApproved, "proposal is not approved")
	}
	if !proposal.TimelockElapsed(now, e.gov.ExecutionTimelock()) {
		return dErrors.New(dErrors.CodeTimelockActive, "execution timelock has not elapsed")
	}

	// Effects first: debit the balance and mark Executed, then interact.
	// Debit also enforces the balance precondition atomically.
	if err := e.funds.Debit(proposal.Value); err != nil {
		return err
	}
	proposal.State = models.StateExecuted
	if err := e.proposals.Update(ctx, proposal); err != nil {
		e.funds.Credit(proposal.Value)
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to mark proposal executed")
	}

	if err := e.invoker.Invoke(ctx, proposal.Target, proposal.Value, proposal.Payload); err != nil {
		// Roll back both effects; a proposal marked Executed with no
		// completed transfer would be a correctness violation.
		proposal.State = models.StateApproved
		if rbErr := e.proposals.Update(ctx, proposal); rbErr != nil && e.logger != nil {
			e.logger.ErrorContext(ctx, "failed to roll back executed state",
				"proposal_id", proposalID.String(),
				"error", rbErr,
			)
		}
		e.funds.Credit(proposal.Value)
		return dErrors.Wrap(err, dErrors.CodeExecutionFailed, "external call reported failure")
	}

	record := models.NewExecutionRecord(proposal, caller, now)
	if err := e.records.Append(ctx, record); err != nil && e.logger != nil {
		// The transfer completed; a record sink failure must not fail the
		// operation or re-run the transfer.
		e.logger.ErrorContext(ctx, "failed to append execution record",
			"proposal_id", proposalID.String(),
			"error", err,
		)
	}
	e.emit(ctx, audit.Event{
		Action:     audit.ActionProposalExecuted,
		Actor:      caller.Hex(),
		ProposalID: proposalID,
		Target:     proposal.Target.Hex(),
		Amount:     proposal.Value.String(),
	})
	if e.logger != nil {
		e.logger.InfoContext(ctx, "proposal executed",
			"proposal_id", proposalID.String(),
			"target", proposal.Target.Hex(),
			"value", proposal.Value.String(),
		)
	}
	return nil
}

// TransferToken moves tokens under direct Executor authority. This is a
// break-glass channel: it does not route through the proposal pipeline or
// the timelock, and is documented as such. Rejected while paused.
func (e *Engine) TransferToken(ctx context.Context, caller, token, to common.Address, amount *big.Int) error {
	if err := e.roles.Require(caller, roles.RoleExecutor); err != nil {
		return err
	}
	if !e.entry.TryLock() {
		return dErrors.New(dErrors.CodeInternal, "reentrant fund movement rejected")
	}
	defer e.entry.Unlock()

	if err := e.pauser.RequireRunning(ctx); err != nil {
		return err
	}
	if err := validateTokenTransfer(token, to, amount); err != nil {
		return err
	}

	// The external ledger is authoritative; re-query before moving.
	held, err := e.funds.TokenBalance(ctx, token)
	if err != nil {
		return err
	}
	if held.Cmp(amount) < 0 {
		return dErrors.New(dErrors.CodeInsufficientBalance, "token balance below requested amount")
	}
	if err := e.funds.TransferToken(ctx, token, to, amount); err != nil {
		return err
	}

	e.emit(ctx, audit.Event{
		Action: audit.ActionTokensTransferred,
		Actor:  caller.Hex(),
		Target: to.Hex(),
		Amount: amount.String(),
		Detail: "token=" + token.Hex(),
	})
	return nil
}

// EmergencyWithdrawNative moves native funds under direct Admin authority,
// bypassing the proposal pipeline and the pause flag entirely. Intended
// strictly for crisis fund recovery.
func (e *Engine) EmergencyWithdrawNative(ctx context.Context, caller, to common.Address, amount *big.Int) error {
	if err := e.roles.Require(caller, roles.RoleAdmin); err != nil {
		return err
	}
	if !e.entry.TryLock() {
		return dErrors.New(dErrors.CodeInternal, "reentrant fund movement rejected")
	}
	defer e.entry.Unlock()

	if to == (common.Address{}) {
		return dErrors.New(dErrors.CodeInvalidAddress, "recipient must not be the null address")
	}
	if amount == nil || amount.Sign() <= 0 {
		return dErrors.New(dErrors.CodeInvalidAmount, "amount must be positive")
	}
	if err := e.funds.Debit(amount); err != nil {
		return err
	}
	if err := e.invoker.Invoke(ctx, to, amount, nil); err != nil {
		e.funds.Credit(amount)
		return dErrors.Wrap(err, dErrors.CodeTransferFailed, "native transfer reported failure")
	}

	e.emit(ctx, audit.Event{
		Action: audit.ActionEmergencyWithdrawal,
		Actor:  caller.Hex(),
		Target: to.Hex(),
		Amount: amount.String(),
		Detail: "native",
	})
	if e.metrics != nil {
		e.metrics.EmergencyWithdrawals.Inc()
	}
	if e.logger != nil {
		e.logger.WarnContext(ctx, "emergency native withdrawal",
			"caller", caller.Hex(),
			"to", to.Hex(),
			"amount", amount.String(),
		)
	}
	return nil
}

// EmergencyWithdrawToken moves tokens under direct Admin authority,
// bypassing the proposal pipeline and the pause flag entirely.
func (e *Engine) EmergencyWithdrawToken(ctx context.Context, caller, token, to common.Address, amount *big.Int) error {
	if err := e.roles.Require(caller, roles.RoleAdmin); err != nil {
		return err
	}
	if !e.entry.TryLock() {
		return dErrors.New(dErrors.CodeInternal, "reentrant fund movement rejected")
	}
	defer e.entry.Unlock()

	if err := validateTokenTransfer(token, to, amount); err != nil {
		return err
	}
	held, err := e.funds.TokenBalance(ctx, token)
	if err != nil {
		return err
	}
	if held.Cmp(amount) < 0 {
		return dErrors.New(dErrors.CodeInsufficientBalance, "token balance below requested amount")
	}
	if err := e.funds.TransferToken(ctx, token, to, amount); err != nil {
		return err
	}

	e.emit(ctx, audit.Event{
		Action: audit.ActionEmergencyWithdrawal,
		Actor:  caller.Hex(),
		Target: to.Hex(),
		Amount: amount.String(),
		Detail: "token=" + token.Hex(),
	})
	if e.metrics != nil {
		e.metrics.EmergencyWithdrawals.Inc()
	}
	if e.logger != nil {
		e.logger.WarnContext(ctx, "emergency token withdrawal",
			"caller", caller.Hex(),
			"token", token.Hex(),
			"to", to.Hex(),
			"amount", amount.String(),
		)
	}
	return nil
}

// Records returns the execution audit trail in append order.
func (e *Engine) Records(ctx context.Context) ([]models.ExecutionRecord, error) {
	return e.records.List(ctx)
}

func validateTokenTransfer(token, to common.Address, amount *big.Int) error {
	if token == (common.Address{}) || to == (common.Address{}) {
		return dErrors.New(dErrors.CodeInvalidAddress, "token and recipient must not be the null address")
	}
	if amount == nil || amount.Sign() == 0 {
		return dErrors.New(dErrors.CodeInvalidAmount, "amount must not be zero")
	}
	if amount.Sign() < 0 {
		return dErrors.New(dErrors.CodeInvalidAmount, "amount must not be negative")
	}
	return nil
}

func (e *Engine) get(ctx context.Context, proposalID id.ProposalID) (*models.Proposal, error) {
	proposal, err := e.proposals.Get(ctx, proposalID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "proposal does not exist")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load proposal")
	}
	return proposal, nil
}

func (e *Engine) emit(ctx context.Context, event audit.Event) {
	if e.auditor == nil {
		return
	}
	if err := e.auditor.Emit(ctx, event); err != nil && e.logger != nil {
		e.logger.WarnContext(ctx, "failed to emit audit event",
			"action", string(event.Action),
			"error", err,
		)
	}
}
