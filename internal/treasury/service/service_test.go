package service

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/suite"

	"custodia/internal/treasury/audit"
	"custodia/internal/treasury/config"
	"custodia/internal/treasury/models"
	"custodia/internal/treasury/roles"
	"custodia/internal/treasury/store"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

var (
	root     = common.HexToAddress("0x0000000000000000000000000000000000000001")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob      = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	carol    = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	target   = common.HexToAddress("0x00000000000000000000000000000000000000dd")
	stranger = common.HexToAddress("0x00000000000000000000000000000000000000ff")
)

type ServiceSuite struct {
	suite.Suite
	service    *Service
	registry   *roles.Registry
	gov        *config.Governance
	auditStore *audit.InMemoryStore
	ctx        context.Context

	// now is the movable test clock.
	now time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var err error
	s.registry, err = roles.New(root)
	s.Require().NoError(err)
	s.gov, err = config.NewGovernance(config.DefaultTimelock, config.DefaultExpiry)
	s.Require().NoError(err)

	for _, voter := range []common.Address{alice, bob, carol} {
		s.Require().NoError(s.registry.Grant(s.ctx, root, voter, roles.RoleProposer))
	}

	s.auditStore = audit.NewInMemoryStore()
	s.service, err = New(store.NewInMemoryStore(), s.registry, s.gov,
		WithAuditPublisher(audit.NewPublisher(s.auditStore)),
		WithClock(func() time.Time { return s.now }),
	)
	s.Require().NoError(err)
}

func (s *ServiceSuite) create() id.ProposalID {
	proposalID, err := s.service.Create(s.ctx, alice, target, big.NewInt(100), nil, "fund the grants program")
	s.Require().NoError(err)
	return proposalID
}

func (s *ServiceSuite) TestNew() {
	s.Run("nil dependencies rejected", func() {
		_, err := New(nil, s.registry, s.gov)
		s.Error(err)
		_, err = New(store.NewInMemoryStore(), nil, s.gov)
		s.Error(err)
		_, err = New(store.NewInMemoryStore(), s.registry, nil)
		s.Error(err)
	})
}

func (s *ServiceSuite) TestCreate() {
	s.Run("proposer creates a pending proposal", func() {
		proposalID := s.create()
		s.Equal(id.ProposalID(1), proposalID)

		p, err := s.service.Get(s.ctx, proposalID)
		s.Require().NoError(err)
		s.Equal(models.StatePending, p.State)
		s.Equal(alice, p.Proposer)
		s.Equal(s.now, p.CreatedAt)
		s.Zero(p.YesVotes)
		s.Zero(p.NoVotes)
	})

	s.Run("without proposer role rejected", func() {
		_, err := s.service.Create(s.ctx, stranger, target, big.NewInt(1), nil, "x")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("null target rejected", func() {
		_, err := s.service.Create(s.ctx, alice, common.Address{}, big.NewInt(1), nil, "x")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidAddress))
	})

	s.Run("empty description rejected", func() {
		_, err := s.service.Create(s.ctx, alice, target, big.NewInt(1), nil, "")
		s.True(dErrors.HasCode(err, dErrors.CodeEmptyDescription))
	})

	s.Run("negative value rejected", func() {
		_, err := s.service.Create(s.ctx, alice, target, big.NewInt(-1), nil, "x")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidAmount))
	})

	s.Run("zero value allowed for pure calls", func() {
		_, err := s.service.Create(s.ctx, alice, target, big.NewInt(0), []byte{0x01}, "call only")
		s.NoError(err)
	})

	s.Run("emits a creation event", func() {
		events, err := s.auditStore.List(s.ctx, 0)
		s.Require().NoError(err)
		s.Require().NotEmpty(events)
		s.Equal(audit.ActionProposalCreated, events[0].Action)
	})
}

func (s *ServiceSuite) TestVote() {
	s.Run("tallies votes from distinct proposers", func() {
		proposalID := s.create()
		s.Require().NoError(s.service.Vote(s.ctx, alice, proposalID, true))
		s.Require().NoError(s.service.Vote(s.ctx, bob, proposalID, true))
		s.Require().NoError(s.service.Vote(s.ctx, carol, proposalID, false))

		p, err := s.service.Get(s.ctx, proposalID)
		s.Require().NoError(err)
		s.Equal(2, p.YesVotes)
		s.Equal(1, p.NoVotes)
	})

	s.Run("double vote rejected and tally unchanged", func() {
		proposalID := s.create()
		s.Require().NoError(s.service.Vote(s.ctx, alice, proposalID, true))
		err := s.service.Vote(s.ctx, alice, proposalID, false)
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyVoted))

		p, err := s.service.Get(s.ctx, proposalID)
		s.Require().NoError(err)
		s.Equal(1, p.YesVotes)
		s.Zero(p.NoVotes)
	})

	s.Run("expired but pending proposal still accepts votes", func() {
		proposalID := s.create()
		s.now = s.now.Add(s.gov.ProposalExpiry() + time.Hour)
		s.NoError(s.service.Vote(s.ctx, alice, proposalID, true))
	})

	s.Run("missing proposal yields not found", func() {
		err := s.service.Vote(s.ctx, alice, 999, true)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("without proposer role rejected", func() {
		proposalID := s.create()
		err := s.service.Vote(s.ctx, stranger, proposalID, true)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *ServiceSuite) TestApprove() {
	s.Run("strict majority approved and timestamp pinned", func() {
		proposalID := s.create()
		s.Require().NoError(s.service.Vote(s.ctx, alice, proposalID, true))
		s.Require().NoError(s.service.Vote(s.ctx, bob, proposalID, true))
		s.Require().NoError(s.service.Vote(s.ctx, carol, proposalID, false))

		s.Require().NoError(s.service.Approve(s.ctx, root, proposalID))

		p, err := s.service.Get(s.ctx, proposalID)
		s.Require().NoError(err)
		s.Equal(models.StateApproved, p.State)
		s.Equal(s.now, p.ApprovedAt)
	})

	s.Run("tie is insufficient", func() {
		proposalID := s.create()
		s.Require().NoError(s.service.Vote(s.ctx, alice, proposalID, true))
		s.Require().NoError(s.service.Vote(s.ctx, bob, proposalID, false))

		err := s.service.Approve(s.ctx, root, proposalID)
		s.True(dErrors.HasCode(err, dErrors.CodeInsufficientSupport))
	})

	s.Run("no votes is insufficient", func() {
		proposalID := s.create()
		err := s.service.Approve(s.ctx, root, proposalID)
		s.True(dErrors.HasCode(err, dErrors.CodeInsufficientSupport))
	})

	s.Run("expired proposal cannot be approved", func() {
		proposalID := s.create()
		s.Require().NoError(s.service.Vote(s.ctx, alice, proposalID, true))
		s.now = s.now.Add(s.gov.ProposalExpiry() + time.Minute)

		err := s.service.Approve(s.ctx, root, proposalID)
		s.True(dErrors.HasCode(err, dErrors.CodeProposalExpired))

		p, err := s.service.Get(s.ctx, proposalID)
		s.Require().NoError(err)
		s.Equal(models.StatePending, p.State)
	})

	s.Run("non-admin rejected", func() {
		proposalID := s.create()
		s.Require().NoError(s.service.Vote(s.ctx, alice, proposalID, true))
		err := s.service.Approve(s.ctx, alice, proposalID)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("already approved cannot be approved again", func() {
		proposalID := s.create()
		s.Require().NoError(s.service.Vote(s.ctx, alice, proposalID, true))
		s.Require().NoError(s.service.Approve(s.ctx, root, proposalID))
		err := s.service.Approve(s.ctx, root, proposalID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotPending))
	})
}

func (s *ServiceSuite) TestReject() {
	s.Run("admin rejects without any vote precondition", func() {
		proposalID := s.create()
		s.Require().NoError(s.service.Reject(s.ctx, root, proposalID))

		p, err := s.service.Get(s.ctx, proposalID)
		s.Require().NoError(err)
		s.Equal(models.StateRejected, p.State)
	})

	s.Run("rejected is terminal", func() {
		proposalID := s.create()
		s.Require().NoError(s.service.Reject(s.ctx, root, proposalID))
		err := s.service.Reject(s.ctx, root, proposalID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotPending))
		err = s.service.Approve(s.ctx, root, proposalID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotPending))
	})

	s.Run("non-admin cannot reject", func() {
		proposalID := s.create()
		err := s.service.Reject(s.ctx, alice, proposalID)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *ServiceSuite) TestCancel() {
	s.Run("proposer cancels own pending proposal", func() {
		proposalID := s.create()
		s.Require().NoError(s.service.Cancel(s.ctx, alice, proposalID))

		p, err := s.service.Get(s.ctx, proposalID)
		s.Require().NoError(err)
		s.Equal(models.StateCanceled, p.State)
	})

	s.Run("identity check, not role: admins cannot cancel others' proposals", func() {
		proposalID := s.create()
		err := s.service.Cancel(s.ctx, root, proposalID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotProposer))
	})

	s.Run("non-pending proposal cannot be canceled", func() {
		proposalID := s.create()
		s.Require().NoError(s.service.Vote(s.ctx, alice, proposalID, true))
		s.Require().NoError(s.service.Approve(s.ctx, root, proposalID))
		err := s.service.Cancel(s.ctx, alice, proposalID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotPending))
	})
}

func (s *ServiceSuite) TestUpdateDescription() {
	s.Run("proposer edits description, votes untouched", func() {
		proposalID := s.create()
		s.Require().NoError(s.service.Vote(s.ctx, bob, proposalID, true))
		s.Require().NoError(s.service.UpdateDescription(s.ctx, alice, proposalID, "clarified"))

		p, err := s.service.Get(s.ctx, proposalID)
		s.Require().NoError(err)
		s.Equal("clarified", p.Description)
		s.Equal(1, p.YesVotes)
	})

	s.Run("empty description rejected", func() {
		proposalID := s.create()
		err := s.service.UpdateDescription(s.ctx, alice, proposalID, "")
		s.True(dErrors.HasCode(err, dErrors.CodeEmptyDescription))
	})

	s.Run("only the proposer may edit", func() {
		proposalID := s.create()
		err := s.service.UpdateDescription(s.ctx, bob, proposalID, "hijacked")
		s.True(dErrors.HasCode(err, dErrors.CodeNotProposer))
	})
}

func (s *ServiceSuite) TestSetTimelock() {
	s.Run("admin raises the timelock", func() {
		s.Require().NoError(s.service.SetTimelock(s.ctx, root, 72*time.Hour))
		s.Equal(72*time.Hour, s.gov.ExecutionTimelock())
	})

	s.Run("below the safety floor rejected", func() {
		err := s.service.SetTimelock(s.ctx, root, 30*time.Minute)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
		s.Equal(72*time.Hour, s.gov.ExecutionTimelock())
	})

	s.Run("non-admin rejected", func() {
		err := s.service.SetTimelock(s.ctx, alice, 72*time.Hour)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *ServiceSuite) TestListing() {
	s.Run("all preserves creation order across state changes", func() {
		first := s.create()
		second := s.create()
		third := s.create()
		s.Require().NoError(s.service.Cancel(s.ctx, alice, second))

		proposals, err := s.service.All(s.ctx)
		s.Require().NoError(err)
		s.Require().Len(proposals, 3)
		s.Equal(first, proposals[0].ID)
		s.Equal(second, proposals[1].ID)
		s.Equal(third, proposals[2].ID)
	})

	s.Run("active excludes non-pending and expired", func() {
		pending := s.create()
		canceled := s.create()
		s.Require().NoError(s.service.Cancel(s.ctx, alice, canceled))

		expired := s.create()
		s.now = s.now.Add(s.gov.ProposalExpiry() + time.Minute)
		fresh := s.create()

		active, err := s.service.Active(s.ctx)
		s.Require().NoError(err)
		s.Require().Len(active, 1)
		s.Equal(fresh, active[0].ID)

		// The expired one is still Pending on record.
		p, err := s.service.Get(s.ctx, expired)
		s.Require().NoError(err)
		s.Equal(models.StatePending, p.State)
		_ = pending
	})
}

func (s *ServiceSuite) TestAuditTrail() {
	proposalID := s.create()
	s.Require().NoError(s.service.Vote(s.ctx, alice, proposalID, true))
	s.Require().NoError(s.service.Approve(s.ctx, root, proposalID))

	events, err := s.auditStore.ListByProposal(s.ctx, proposalID)
	s.Require().NoError(err)
	s.Require().Len(events, 3)
	s.Equal(audit.ActionProposalCreated, events[0].Action)
	s.Equal(audit.ActionVoteCast, events[1].Action)
	s.Equal(audit.ActionProposalApproved, events[2].Action)
}
