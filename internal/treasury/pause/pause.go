// Package pause implements the emergency control flag. While paused, the
// execution engine refuses to move funds; governance deliberation (creating,
// voting, approving, rejecting, canceling proposals) stays available.
package pause

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"custodia/internal/treasury/roles"
	dErrors "custodia/pkg/domain-errors"
)

// Store persists the binary pause flag. The in-memory implementation serves
// a single process; the Redis implementation shares the flag across
// replicas.
type Store interface {
	SetPaused(ctx context.Context, paused bool) error
	IsPaused(ctx context.Context) (bool, error)
}

// Controller gates the flag behind the Admin role and exposes the check the
// execution engine performs before any fund movement.
type Controller struct {
	store  Store
	roles  *roles.Registry
	logger *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// New constructs a pause controller.
func New(store Store, registry *roles.Registry, opts ...Option) *Controller {
	c := &Controller{store: store, roles: registry}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Pause sets the flag. Admin only.
func (c *Controller) Pause(ctx context.Context, caller common.Address) error {
	return c.set(ctx, caller, true)
}

// Resume clears the flag. Admin only.
func (c *Controller) Resume(ctx context.Context, caller common.Address) error {
	return c.set(ctx, caller, false)
}

func (c *Controller) set(ctx context.Context, caller common.Address, paused bool) error {
	if err := c.roles.Require(caller, roles.RoleAdmin); err != nil {
		return err
	}
	if err := c.store.SetPaused(ctx, paused); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist pause flag")
	}
	if c.logger != nil {
		c.logger.InfoContext(ctx, "pause flag changed",
			"paused", paused,
			"caller", caller.Hex(),
		)
	}
	return nil
}

// RequireRunning fails with SystemPaused while the flag is set. Fund-moving
// operations call this before touching any state.
func (c *Controller) RequireRunning(ctx context.Context) error {
	paused, err := c.store.IsPaused(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read pause flag")
	}
	if paused {
		return dErrors.New(dErrors.CodeSystemPaused, "fund movement is paused")
	}
	return nil
}

// IsPaused exposes the raw flag for views.
func (c *Controller) IsPaused(ctx context.Context) (bool, error) {
	return c.store.IsPaused(ctx)
}

// InMemoryStore holds the flag in process memory.
type InMemoryStore struct {
	mu     sync.RWMutex
	paused bool
}

// NewInMemoryStore constructs an unpaused in-memory flag store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) SetPaused(_ context.Context, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = paused
	return nil
}

func (s *InMemoryStore) IsPaused(_ context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused, nil
}
