// Package config holds the governance timing parameters. Process-wide,
// mutated only through the admin operation on the lifecycle service.
package config

import (
	"sync"
	"time"

	dErrors "custodia/pkg/domain-errors"
)

// MinTimelock is the safety floor for the execution timelock. An admin can
// never configure instant execution.
const MinTimelock = time.Hour

// Defaults mirror the deployed contract parameters.
const (
	DefaultTimelock = 2 * 24 * time.Hour
	DefaultExpiry   = 7 * 24 * time.Hour
)

// Governance carries the execution timelock (minimum delay between approval
// and execution) and the proposal expiry (maximum pending lifetime).
type Governance struct {
	mu       sync.RWMutex
	timelock time.Duration
	expiry   time.Duration
}

// NewGovernance validates and constructs the timing configuration.
func NewGovernance(timelock, expiry time.Duration) (*Governance, error) {
	if timelock < MinTimelock {
		return nil, dErrors.New(dErrors.CodeBadRequest, "execution timelock below safety floor")
	}
	if expiry <= 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "proposal expiry must be positive")
	}
	return &Governance{timelock: timelock, expiry: expiry}, nil
}

// ExecutionTimelock returns the current mandatory approval-to-execution delay.
func (g *Governance) ExecutionTimelock() time.Duration {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.timelock
}

// ProposalExpiry returns the maximum pending lifetime.
func (g *Governance) ProposalExpiry() time.Duration {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.expiry
}

// SetTimelock updates the timelock, enforcing the safety floor. Authorization
// is the caller's concern; this only guards the invariant.
func (g *Governance) SetTimelock(timelock time.Duration) error {
	if timelock < MinTimelock {
		return dErrors.New(dErrors.CodeBadRequest, "execution timelock below safety floor")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.timelock = timelock
	return nil
}
