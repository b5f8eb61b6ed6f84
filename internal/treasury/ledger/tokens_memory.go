package ledger

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	dErrors "custodia/pkg/domain-errors"
)

// InMemoryTokenLedger is a process-local token ledger keyed by (token,
// holder). It serves single-process deployments and tests; a chain-backed
// implementation replaces it at wiring time.
type InMemoryTokenLedger struct {
	mu       sync.RWMutex
	source   common.Address
	balances map[common.Address]map[common.Address]*big.Int
}

// NewInMemoryTokenLedger constructs a ledger whose transfers debit the given
// source holder (the treasury address).
func NewInMemoryTokenLedger(source common.Address) *InMemoryTokenLedger {
	return &InMemoryTokenLedger{
		source:   source,
		balances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// Mint credits a holder's balance. Used to seed balances in tests and
// development environments.
func (l *InMemoryTokenLedger) Mint(token, holder common.Address, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(token, holder, amount)
}

func (l *InMemoryTokenLedger) BalanceOf(_ context.Context, token, holder common.Address) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if balance, ok := l.balances[token][holder]; ok {
		return new(big.Int).Set(balance), nil
	}
	return new(big.Int), nil
}

func (l *InMemoryTokenLedger) Transfer(_ context.Context, token, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	balance, ok := l.balances[token][l.source]
	if !ok || balance.Cmp(amount) < 0 {
		return dErrors.New(dErrors.CodeInsufficientBalance, "source holds fewer tokens than requested")
	}
	balance.Sub(balance, amount)
	l.credit(token, to, amount)
	return nil
}

func (l *InMemoryTokenLedger) credit(token, holder common.Address, amount *big.Int) {
	holders := l.balances[token]
	if holders == nil {
		holders = make(map[common.Address]*big.Int)
		l.balances[token] = holders
	}
	if balance, ok := holders[holder]; ok {
		balance.Add(balance, amount)
		return
	}
	holders[holder] = new(big.Int).Set(amount)
}
