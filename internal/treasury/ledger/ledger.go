// Package ledger tracks the treasury's own funds. The native balance is
// book-kept here (total received minus total moved out); token balances are
// never duplicated locally and are re-queried from the authoritative token
// ledger before every movement.
package ledger

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	dErrors "custodia/pkg/domain-errors"
)

// TokenLedger is the external fungible-token ledger the treasury consults
// and instructs. Implementations report failure rather than silently losing
// funds.
type TokenLedger interface {
	BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error)
	Transfer(ctx context.Context, token, to common.Address, amount *big.Int) error
}

// FundLedger owns the native balance and fronts token balance queries.
type FundLedger struct {
	mu     sync.RWMutex
	native *big.Int
	self   common.Address
	tokens TokenLedger
}

// New constructs a ledger for the treasury at the given address.
func New(self common.Address, tokens TokenLedger) *FundLedger {
	return &FundLedger{
		native: new(big.Int),
		self:   self,
		tokens: tokens,
	}
}

// NativeBalance returns a copy of the current native balance.
func (l *FundLedger) NativeBalance() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.native)
}

// Deposit records received native funds.
func (l *FundLedger) Deposit(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return dErrors.New(dErrors.CodeInvalidAmount, "deposit amount must be positive")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.native.Add(l.native, amount)
	return nil
}

// Debit removes native funds, failing without effect when the balance is
// insufficient.
func (l *FundLedger) Debit(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return dErrors.New(dErrors.CodeInvalidAmount, "debit amount must not be negative")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.native.Cmp(amount) < 0 {
		return dErrors.New(dErrors.CodeInsufficientFunds, "native balance below requested amount")
	}
	l.native.Sub(l.native, amount)
	return nil
}

// Credit restores native funds after a rolled-back external call.
func (l *FundLedger) Credit(amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.native.Add(l.native, amount)
}

// TokenBalance queries the authoritative external balance for a token held
// by the treasury. No local caching; the external ledger is the truth.
func (l *FundLedger) TokenBalance(ctx context.Context, token common.Address) (*big.Int, error) {
	balance, err := l.tokens.BalanceOf(ctx, token, l.self)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTransferFailed, "token balance query failed")
	}
	return balance, nil
}

// TransferToken instructs the external ledger to move tokens out of the
// treasury. The caller has already verified the balance; a failure here is
// surfaced as a hard error with no local state to unwind.
func (l *FundLedger) TransferToken(ctx context.Context, token, to common.Address, amount *big.Int) error {
	if err := l.tokens.Transfer(ctx, token, to, amount); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTransferFailed, "token transfer reported failure")
	}
	return nil
}
