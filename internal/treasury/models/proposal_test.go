package models

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	dErrors "custodia/pkg/domain-errors"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	carol = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

func newPending(createdAt time.Time) *Proposal {
	return &Proposal{
		ID:          1,
		Proposer:    alice,
		Target:      bob,
		Value:       big.NewInt(100),
		Description: "fund the grants program",
		State:       StatePending,
		CreatedAt:   createdAt,
		Voted:       make(map[common.Address]bool),
	}
}

func TestRecordVote(t *testing.T) {
	now := time.Now()

	t.Run("tallies yes and no separately", func(t *testing.T) {
		p := newPending(now)
		require.NoError(t, p.RecordVote(alice, true))
		require.NoError(t, p.RecordVote(bob, false))
		require.Equal(t, 1, p.YesVotes)
		require.Equal(t, 1, p.NoVotes)
	})

	t.Run("second vote from same principal rejected", func(t *testing.T) {
		p := newPending(now)
		require.NoError(t, p.RecordVote(alice, true))
		err := p.RecordVote(alice, false)
		require.True(t, dErrors.HasCode(err, dErrors.CodeAlreadyVoted))
		require.Equal(t, 1, p.YesVotes)
		require.Equal(t, 0, p.NoVotes)
	})

	t.Run("rejected on non-pending proposal", func(t *testing.T) {
		p := newPending(now)
		p.State = StateRejected
		err := p.RecordVote(alice, true)
		require.True(t, dErrors.HasCode(err, dErrors.CodeNotPending))
	})

	t.Run("records vote direction", func(t *testing.T) {
		p := newPending(now)
		require.NoError(t, p.RecordVote(alice, true))
		require.NoError(t, p.RecordVote(bob, false))
		require.True(t, p.Voted[alice])
		require.False(t, p.Voted[bob])
	})
}

func TestCanApprove(t *testing.T) {
	now := time.Now()
	expiry := 7 * 24 * time.Hour

	t.Run("strict majority passes", func(t *testing.T) {
		p := newPending(now)
		require.NoError(t, p.RecordVote(alice, true))
		require.NoError(t, p.RecordVote(bob, true))
		require.NoError(t, p.RecordVote(carol, false))
		require.NoError(t, p.CanApprove(now, expiry))
	})

	t.Run("tie is insufficient", func(t *testing.T) {
		p := newPending(now)
		require.NoError(t, p.RecordVote(alice, true))
		require.NoError(t, p.RecordVote(bob, false))
		err := p.CanApprove(now, expiry)
		require.True(t, dErrors.HasCode(err, dErrors.CodeInsufficientSupport))
	})

	t.Run("zero votes is insufficient", func(t *testing.T) {
		p := newPending(now)
		err := p.CanApprove(now, expiry)
		require.True(t, dErrors.HasCode(err, dErrors.CodeInsufficientSupport))
	})

	t.Run("expired pending proposal cannot be approved", func(t *testing.T) {
		p := newPending(now.Add(-expiry - time.Minute))
		require.NoError(t, p.RecordVote(alice, true))
		err := p.CanApprove(now, expiry)
		require.True(t, dErrors.HasCode(err, dErrors.CodeProposalExpired))
	})

	t.Run("expiry checked before support", func(t *testing.T) {
		p := newPending(now.Add(-expiry - time.Minute))
		err := p.CanApprove(now, expiry)
		require.True(t, dErrors.HasCode(err, dErrors.CodeProposalExpired))
	})

	t.Run("non-pending rejected regardless of votes", func(t *testing.T) {
		p := newPending(now)
		require.NoError(t, p.RecordVote(alice, true))
		p.State = StateCanceled
		err := p.CanApprove(now, expiry)
		require.True(t, dErrors.HasCode(err, dErrors.CodeNotPending))
	})
}

func TestExpiryPredicate(t *testing.T) {
	now := time.Now()
	expiry := time.Hour

	t.Run("inside window not expired", func(t *testing.T) {
		p := newPending(now.Add(-30 * time.Minute))
		require.False(t, p.IsExpired(now, expiry))
		require.True(t, p.IsActive(now, expiry))
	})

	t.Run("past window expired but state stays pending", func(t *testing.T) {
		p := newPending(now.Add(-2 * time.Hour))
		require.True(t, p.IsExpired(now, expiry))
		require.Equal(t, StatePending, p.State)
		require.False(t, p.IsActive(now, expiry))
	})

	t.Run("approved proposal is not active", func(t *testing.T) {
		p := newPending(now)
		p.ApplyApproval(now)
		require.False(t, p.IsActive(now, expiry))
	})
}

func TestApplyApproval(t *testing.T) {
	now := time.Now()
	p := newPending(now.Add(-time.Minute))
	p.ApplyApproval(now)
	require.Equal(t, StateApproved, p.State)
	require.Equal(t, now, p.ApprovedAt)
}

func TestTimelockElapsed(t *testing.T) {
	now := time.Now()
	timelock := 48 * time.Hour

	p := newPending(now.Add(-72 * time.Hour))
	p.ApplyApproval(now.Add(-timelock))
	require.True(t, p.TimelockElapsed(now, timelock))

	p2 := newPending(now.Add(-time.Hour))
	p2.ApplyApproval(now.Add(-timelock + time.Minute))
	require.False(t, p2.TimelockElapsed(now, timelock))
}

func TestClone(t *testing.T) {
	p := newPending(time.Now())
	p.Payload = []byte{0x01, 0x02}
	require.NoError(t, p.RecordVote(alice, true))

	cp := p.Clone()
	cp.Value.SetInt64(999)
	cp.Payload[0] = 0xff
	cp.Voted[bob] = false
	require.NoError(t, cp.RecordVote(carol, false))

	require.Equal(t, int64(100), p.Value.Int64())
	require.Equal(t, byte(0x01), p.Payload[0])
	require.False(t, p.HasVoted(bob))
	require.False(t, p.HasVoted(carol))
}

func TestNewExecutionRecordDeterminism(t *testing.T) {
	now := time.Now()
	p := newPending(now)

	first := NewExecutionRecord(p, carol, now)
	second := NewExecutionRecord(p, carol, now)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, p.ID, first.ProposalID)
	require.Equal(t, carol, first.ExecutedBy)

	later := NewExecutionRecord(p, carol, now.Add(time.Nanosecond))
	require.NotEqual(t, first.ID, later.ID)
}
