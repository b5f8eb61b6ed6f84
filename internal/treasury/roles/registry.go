// Package roles holds the capability-set role registry. Every state-mutating
// treasury operation checks membership here before doing anything else.
package roles

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	dErrors "custodia/pkg/domain-errors"
)

// Role is a named capability granted to a principal. A principal may hold
// zero, one, or several roles simultaneously.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleProposer Role = "proposer"
	RoleExecutor Role = "executor"
)

// ParseRole validates a role name from transport input.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleProposer, RoleExecutor:
		return Role(s), nil
	default:
		return "", dErrors.New(dErrors.CodeBadRequest, "unknown role: "+s)
	}
}

// Registry maps principals to their role sets. Only the root authority (the
// bootstrap admin fixed at construction) may grant or revoke; the root
// capability itself is not transferable.
type Registry struct {
	mu     sync.RWMutex
	root   common.Address
	grants map[common.Address]map[Role]bool
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger attaches a structured logger for grant/revoke logging.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// New constructs a registry rooted at the given principal. The root starts
// with all three roles so a fresh deployment is operable before any grants.
func New(root common.Address, opts ...Option) (*Registry, error) {
	if root == (common.Address{}) {
		return nil, dErrors.New(dErrors.CodeInvalidAddress, "root authority must not be the null address")
	}
	r := &Registry{
		root: root,
		grants: map[common.Address]map[Role]bool{
			root: {RoleAdmin: true, RoleProposer: true, RoleExecutor: true},
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Root returns the root authority address.
func (r *Registry) Root() common.Address {
	return r.root
}

// Has answers the membership query for one principal and role.
func (r *Registry) Has(principal common.Address, role Role) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.grants[principal][role]
}

// Require fails with an authorization error when the principal lacks the
// role. Services call this before any side effect.
func (r *Registry) Require(principal common.Address, role Role) error {
	if !r.Has(principal, role) {
		return dErrors.New(dErrors.CodeUnauthorized, "principal lacks "+string(role)+" role")
	}
	return nil
}

// Grant adds a role to a principal. Root authority only.
func (r *Registry) Grant(ctx context.Context, caller, principal common.Address, role Role) error {
	if caller != r.root {
		return dErrors.New(dErrors.CodeUnauthorized, "only the root authority may grant roles")
	}
	if principal == (common.Address{}) {
		return dErrors.New(dErrors.CodeInvalidAddress, "cannot grant a role to the null address")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.grants[principal] == nil {
		r.grants[principal] = make(map[Role]bool)
	}
	r.grants[principal][role] = true
	if r.logger != nil {
		r.logger.InfoContext(ctx, "role granted",
			"principal", principal.Hex(),
			"role", string(role),
		)
	}
	return nil
}

// Revoke removes a role from a principal. Root authority only. Revoking the
// root's own admin role is refused so the registry can never orphan itself.
func (r *Registry) Revoke(ctx context.Context, caller, principal common.Address, role Role) error {
	if caller != r.root {
		return dErrors.New(dErrors.CodeUnauthorized, "only the root authority may revoke roles")
	}
	if principal == r.root && role == RoleAdmin {
		return dErrors.New(dErrors.CodeBadRequest, "root authority cannot revoke its own admin role")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.grants[principal] != nil {
		delete(r.grants[principal], role)
	}
	if r.logger != nil {
		r.logger.InfoContext(ctx, "role revoked",
			"principal", principal.Hex(),
			"role", string(role),
		)
	}
	return nil
}

// Holders lists every principal currently holding the role. Used by views
// and tests; order is unspecified.
func (r *Registry) Holders(role Role) []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []common.Address
	for principal, set := range r.grants {
		if set[role] {
			out = append(out, principal)
		}
	}
	return out
}
