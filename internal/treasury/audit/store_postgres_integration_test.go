//go:build integration

package audit_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/suite"

	"custodia/internal/treasury/audit"
	"custodia/internal/treasury/models"
	"custodia/pkg/testutil/containers"
)

type PostgresAuditSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	events   *audit.PostgresStore
	records  *audit.PostgresRecordStore
}

func TestPostgresAuditSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresAuditSuite))
}

func (s *PostgresAuditSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.events = audit.NewPostgres(s.postgres.DB)
	s.records = audit.NewPostgresRecordStore(s.postgres.DB)

	ctx := context.Background()
	s.Require().NoError(s.events.EnsureSchema(ctx))
	s.Require().NoError(s.records.EnsureSchema(ctx))
}

func (s *PostgresAuditSuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx, "audit_events", "execution_records")
	s.Require().NoError(err)
}

func (s *PostgresAuditSuite) TestAppendAndList() {
	ctx := context.Background()

	for i := range 5 {
		err := s.events.Append(ctx, audit.Event{
			Timestamp:  time.Now().UTC(),
			Action:     audit.ActionVoteCast,
			Actor:      "0xabc",
			ProposalID: 1,
			Detail:     string(rune('a' + i)),
		})
		s.Require().NoError(err)
	}

	all, err := s.events.List(ctx, 0)
	s.Require().NoError(err)
	s.Len(all, 5)

	// Newest N come back oldest-first.
	latest, err := s.events.List(ctx, 2)
	s.Require().NoError(err)
	s.Require().Len(latest, 2)
	s.Equal("d", latest[0].Detail)
	s.Equal("e", latest[1].Detail)
}

func (s *PostgresAuditSuite) TestListByProposal() {
	ctx := context.Background()

	s.Require().NoError(s.events.Append(ctx, audit.Event{
		Timestamp: time.Now().UTC(), Action: audit.ActionProposalCreated, ProposalID: 1,
	}))
	s.Require().NoError(s.events.Append(ctx, audit.Event{
		Timestamp: time.Now().UTC(), Action: audit.ActionProposalCreated, ProposalID: 2,
	}))
	s.Require().NoError(s.events.Append(ctx, audit.Event{
		Timestamp: time.Now().UTC(), Action: audit.ActionVoteCast, ProposalID: 1,
	}))

	got, err := s.events.ListByProposal(ctx, 1)
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal(audit.ActionProposalCreated, got[0].Action)
	s.Equal(audit.ActionVoteCast, got[1].Action)
}

func (s *PostgresAuditSuite) TestExecutionRecordRoundTrip() {
	ctx := context.Background()

	executedAt := time.Now().UTC().Truncate(time.Microsecond)
	proposal := &models.Proposal{
		ID:     7,
		Target: common.HexToAddress("0x00000000000000000000000000000000000000dd"),
		Value:  big.NewInt(12345),
	}
	record := models.NewExecutionRecord(proposal,
		common.HexToAddress("0x00000000000000000000000000000000000000e1"), executedAt)

	s.Require().NoError(s.records.Append(ctx, record))

	got, err := s.records.List(ctx)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(record.ID, got[0].ID)
	s.Equal(record.ProposalID, got[0].ProposalID)
	s.Equal(record.Target, got[0].Target)
	s.Equal(record.Value.String(), got[0].Value.String())
	s.Equal(record.ExecutedBy, got[0].ExecutedBy)
	s.WithinDuration(executedAt, got[0].ExecutedAt, time.Millisecond)
}

func (s *PostgresAuditSuite) TestDuplicateRecordIDRejected() {
	ctx := context.Background()

	executedAt := time.Now().UTC()
	proposal := &models.Proposal{
		ID:     8,
		Target: common.HexToAddress("0x00000000000000000000000000000000000000dd"),
		Value:  big.NewInt(1),
	}
	record := models.NewExecutionRecord(proposal,
		common.HexToAddress("0x00000000000000000000000000000000000000e1"), executedAt)

	s.Require().NoError(s.records.Append(ctx, record))
	s.Error(s.records.Append(ctx, record))
}
