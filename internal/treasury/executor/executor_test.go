package executor

//go:generate mockgen -source=executor.go -destination=mocks/mocks.go -package=mocks Invoker,AuditPublisher

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"custodia/internal/treasury/audit"
	"custodia/internal/treasury/config"
	"custodia/internal/treasury/executor/mocks"
	"custodia/internal/treasury/ledger"
	"custodia/internal/treasury/models"
	"custodia/internal/treasury/pause"
	"custodia/internal/treasury/roles"
	"custodia/internal/treasury/store"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

var (
	root     = common.HexToAddress("0x0000000000000000000000000000000000000001")
	executor = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	proposer = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	target   = common.HexToAddress("0x00000000000000000000000000000000000000dd")
	token    = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	payee    = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	stranger = common.HexToAddress("0x00000000000000000000000000000000000000ff")
)

type EngineSuite struct {
	suite.Suite
	ctrl        *gomock.Controller
	mockInvoker *mocks.MockInvoker
	engine      *Engine
	proposals   *store.InMemoryStore
	registry    *roles.Registry
	gov         *config.Governance
	funds       *ledger.FundLedger
	tokens      *ledger.InMemoryTokenLedger
	pauser      *pause.Controller
	records     *audit.InMemoryRecordStore
	auditStore  *audit.InMemoryStore
	ctx         context.Context
	now         time.Time
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.ctrl = gomock.NewController(s.T())
	s.mockInvoker = mocks.NewMockInvoker(s.ctrl)

	var err error
	s.registry, err = roles.New(root)
	s.Require().NoError(err)
	s.Require().NoError(s.registry.Grant(s.ctx, root, executor, roles.RoleExecutor))

	s.gov, err = config.NewGovernance(config.DefaultTimelock, config.DefaultExpiry)
	s.Require().NoError(err)

	s.proposals = store.NewInMemoryStore()
	s.tokens = ledger.NewInMemoryTokenLedger(root)
	s.funds = ledger.New(root, s.tokens)
	s.pauser = pause.New(pause.NewInMemoryStore(), s.registry)
	s.records = audit.NewInMemoryRecordStore()
	s.auditStore = audit.NewInMemoryStore()

	s.engine, err = New(s.proposals, s.registry, s.gov, s.funds, s.pauser,
		s.mockInvoker, s.records,
		WithAuditPublisher(audit.NewPublisher(s.auditStore)),
		WithClock(func() time.Time { return s.now }),
	)
	s.Require().NoError(err)
}

func (s *EngineSuite) TearDownTest() {
	s.ctrl.Finish()
}

// approvedProposal stores a proposal already Approved with its timelock
// elapsed at s.now.
func (s *EngineSuite) approvedProposal(value int64) id.ProposalID {
	p := &models.Proposal{
		Proposer:    proposer,
		Target:      target,
		Value:       big.NewInt(value),
		Description: "approved transfer",
		State:       models.StateApproved,
		CreatedAt:   s.now.Add(-96 * time.Hour),
		ApprovedAt:  s.now.Add(-s.gov.ExecutionTimelock()),
		YesVotes:    2,
		NoVotes:     0,
		Voted:       make(map[common.Address]bool),
	}
	proposalID, err := s.proposals.Create(s.ctx, p)
	s.Require().NoError(err)
	return proposalID
}

func (s *EngineSuite) TestExecute() {
	s.Run("success debits balance, marks executed, appends record", func() {
		s.Require().NoError(s.funds.Deposit(big.NewInt(500)))
		proposalID := s.approvedProposal(100)
		s.mockInvoker.EXPECT().
			Invoke(gomock.Any(), target, big.NewInt(100), gomock.Any()).
			Return(nil)

		s.Require().NoError(s.engine.Execute(s.ctx, executor, proposalID))

		s.Equal(int64(400), s.funds.NativeBalance().Int64())
		p, err := s.proposals.Get(s.ctx, proposalID)
		s.Require().NoError(err)
		s.Equal(models.StateExecuted, p.State)

		records, err := s.engine.Records(s.ctx)
		s.Require().NoError(err)
		s.Require().Len(records, 1)
		s.Equal(proposalID, records[0].ProposalID)
		s.Equal(executor, records[0].ExecutedBy)
	})

	s.Run("invoker failure rolls back state and balance", func() {
		s.Require().NoError(s.funds.Deposit(big.NewInt(500)))
		proposalID := s.approvedProposal(100)
		s.mockInvoker.EXPECT().
			Invoke(gomock.Any(), target, big.NewInt(100), gomock.Any()).
			Return(errors.New("revert"))

		err := s.engine.Execute(s.ctx, executor, proposalID)
		s.True(dErrors.HasCode(err, dErrors.CodeExecutionFailed))

		s.Equal(int64(500), s.funds.NativeBalance().Int64())
		p, err := s.proposals.Get(s.ctx, proposalID)
		s.Require().NoError(err)
		s.Equal(models.StateApproved, p.State)

		records, err := s.engine.Records(s.ctx)
		s.Require().NoError(err)
		s.Empty(records)
	})

	s.Run("without executor role rejected", func() {
		proposalID := s.approvedProposal(1)
		err := s.engine.Execute(s.ctx, stranger, proposalID)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("missing proposal", func() {
		err := s.engine.Execute(s.ctx, executor, 999)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("pending proposal not executable", func() {
		p := &models.Proposal{
			Proposer: proposer, Target: target, Value: big.NewInt(1),
			Description: "still pending", State: models.StatePending,
			CreatedAt: s.now, Voted: make(map[common.Address]bool),
		}
		proposalID, err := s.proposals.Create(s.ctx, p)
		s.Require().NoError(err)

		err = s.engine.Execute(s.ctx, executor, proposalID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotApproved))
	})

	s.Run("timelock still active", func() {
		proposalID := s.approvedProposal(1)
		p, err := s.proposals.Get(s.ctx, proposalID)
		s.Require().NoError(err)
		p.ApprovedAt = s.now.Add(-time.Minute)
		s.Require().NoError(s.proposals.Update(s.ctx, p))

		err = s.engine.Execute(s.ctx, executor, proposalID)
		s.True(dErrors.HasCode(err, dErrors.CodeTimelockActive))
	})

	s.Run("insufficient native balance aborts before any effect", func() {
		proposalID := s.approvedProposal(1_000_000)
		err := s.engine.Execute(s.ctx, executor, proposalID)
		s.True(dErrors.HasCode(err, dErrors.CodeInsufficientFunds))

		p, err := s.proposals.Get(s.ctx, proposalID)
		s.Require().NoError(err)
		s.Equal(models.StateApproved, p.State)
	})

	s.Run("already executed cannot run twice", func() {
		s.Require().NoError(s.funds.Deposit(big.NewInt(100)))
		proposalID := s.approvedProposal(100)
		s.mockInvoker.EXPECT().
			Invoke(gomock.Any(), target, big.NewInt(100), gomock.Any()).
			Return(nil)
		s.Require().NoError(s.engine.Execute(s.ctx, executor, proposalID))

		err := s.engine.Execute(s.ctx, executor, proposalID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotApproved))
	})
}

func (s *EngineSuite) TestPauseGating() {
	s.Require().NoError(s.funds.Deposit(big.NewInt(500)))
	s.Require().NoError(s.pauser.Pause(s.ctx, root))

	s.Run("execute blocked while paused", func() {
		proposalID := s.approvedProposal(100)
		err := s.engine.Execute(s.ctx, executor, proposalID)
		s.True(dErrors.HasCode(err, dErrors.CodeSystemPaused))
		s.Equal(int64(500), s.funds.NativeBalance().Int64())
	})

	s.Run("token transfer blocked while paused", func() {
		s.tokens.Mint(token, root, big.NewInt(100))
		err := s.engine.TransferToken(s.ctx, executor, token, payee, big.NewInt(10))
		s.True(dErrors.HasCode(err, dErrors.CodeSystemPaused))
	})

	s.Run("emergency native withdrawal bypasses the pause", func() {
		s.mockInvoker.EXPECT().
			Invoke(gomock.Any(), payee, big.NewInt(50), gomock.Nil()).
			Return(nil)
		s.Require().NoError(s.engine.EmergencyWithdrawNative(s.ctx, root, payee, big.NewInt(50)))
		s.Equal(int64(450), s.funds.NativeBalance().Int64())
	})

	s.Run("emergency token withdrawal bypasses the pause", func() {
		s.tokens.Mint(token, root, big.NewInt(100))
		s.Require().NoError(s.engine.EmergencyWithdrawToken(s.ctx, root, token, payee, big.NewInt(30)))

		held, err := s.tokens.BalanceOf(s.ctx, token, payee)
		s.Require().NoError(err)
		s.Equal(int64(30), held.Int64())
	})
}

func (s *EngineSuite) TestTransferToken() {
	s.Run("moves tokens after re-querying the balance", func() {
		s.tokens.Mint(token, root, big.NewInt(100))
		s.Require().NoError(s.engine.TransferToken(s.ctx, executor, token, payee, big.NewInt(40)))

		held, err := s.tokens.BalanceOf(s.ctx, token, payee)
		s.Require().NoError(err)
		s.Equal(int64(40), held.Int64())
	})

	s.Run("insufficient token balance rejected", func() {
		err := s.engine.TransferToken(s.ctx, executor, token, payee, big.NewInt(1_000_000))
		s.True(dErrors.HasCode(err, dErrors.CodeInsufficientBalance))
	})

	s.Run("null token or recipient rejected", func() {
		err := s.engine.TransferToken(s.ctx, executor, common.Address{}, payee, big.NewInt(1))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidAddress))
		err = s.engine.TransferToken(s.ctx, executor, token, common.Address{}, big.NewInt(1))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidAddress))
	})

	s.Run("zero amount rejected", func() {
		err := s.engine.TransferToken(s.ctx, executor, token, payee, big.NewInt(0))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidAmount))
	})

	s.Run("without executor role rejected", func() {
		err := s.engine.TransferToken(s.ctx, stranger, token, payee, big.NewInt(1))
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *EngineSuite) TestEmergencyWithdrawNative() {
	s.Require().NoError(s.funds.Deposit(big.NewInt(200)))

	s.Run("admin only", func() {
		err := s.engine.EmergencyWithdrawNative(s.ctx, executor, payee, big.NewInt(1))
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("failure credits the balance back", func() {
		s.mockInvoker.EXPECT().
			Invoke(gomock.Any(), payee, big.NewInt(50), gomock.Nil()).
			Return(errors.New("revert"))
		err := s.engine.EmergencyWithdrawNative(s.ctx, root, payee, big.NewInt(50))
		s.True(dErrors.HasCode(err, dErrors.CodeTransferFailed))
		s.Equal(int64(200), s.funds.NativeBalance().Int64())
	})

	s.Run("success debits the balance", func() {
		s.mockInvoker.EXPECT().
			Invoke(gomock.Any(), payee, big.NewInt(50), gomock.Nil()).
			Return(nil)
		s.Require().NoError(s.engine.EmergencyWithdrawNative(s.ctx, root, payee, big.NewInt(50)))
		s.Equal(int64(150), s.funds.NativeBalance().Int64())
	})

	s.Run("zero amount rejected", func() {
		err := s.engine.EmergencyWithdrawNative(s.ctx, root, payee, big.NewInt(0))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidAmount))
	})
}

// reentrantInvoker calls back into the engine mid-execution, mimicking an
// external call that tries to trigger a second fund movement.
type reentrantInvoker struct {
	engine     *Engine
	caller     common.Address
	reentryErr error
}

func (r *reentrantInvoker) Invoke(ctx context.Context, _ common.Address, _ *big.Int, _ []byte) error {
	r.reentryErr = r.engine.EmergencyWithdrawNative(ctx, r.caller, payee, big.NewInt(1))
	return nil
}

func (s *EngineSuite) TestReentrancyGuard() {
	s.Require().NoError(s.funds.Deposit(big.NewInt(500)))
	proposalID := s.approvedProposal(100)

	inv := &reentrantInvoker{caller: root}
	engine, err := New(s.proposals, s.registry, s.gov, s.funds, s.pauser,
		inv, s.records,
		WithClock(func() time.Time { return s.now }),
	)
	s.Require().NoError(err)
	inv.engine = engine

	s.Require().NoError(engine.Execute(s.ctx, executor, proposalID))

	// The outer execution succeeded; the nested fund movement was rejected.
	s.Require().Error(inv.reentryErr)
	s.True(dErrors.HasCode(inv.reentryErr, dErrors.CodeInternal))
	s.Equal(int64(400), s.funds.NativeBalance().Int64())
}

func (s *EngineSuite) TestAuditTrail() {
	s.Require().NoError(s.funds.Deposit(big.NewInt(100)))
	proposalID := s.approvedProposal(100)
	s.mockInvoker.EXPECT().
		Invoke(gomock.Any(), target, big.NewInt(100), gomock.Any()).
		Return(nil)
	s.Require().NoError(s.engine.Execute(s.ctx, executor, proposalID))

	events, err := s.auditStore.List(s.ctx, 0)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(audit.ActionProposalExecuted, events[0].Action)
	s.Equal(proposalID, events[0].ProposalID)
}
