package store

import (
	"context"

	"custodia/internal/treasury/models"
	id "custodia/pkg/domain"
)

// Error Contract:
// All store methods follow this pattern:
// - Return sentinel.ErrNotFound (wrapped) when the proposal does not exist
// - Return nil for successful operations
// - Return wrapped errors with context for infrastructure failures
//
// ProposalStore persists proposal records plus the insertion-ordered list of
// every id ever created. Stores are interface-driven so the lifecycle engine
// stays testable against the in-memory implementation while production runs
// on PostgreSQL.
type ProposalStore interface {
	// Create allocates the next id (starting at 1, never reused), stamps it
	// onto the proposal, and appends it to the enumeration order.
	Create(ctx context.Context, proposal *models.Proposal) (id.ProposalID, error)

	// Get returns a copy of the proposal.
	Get(ctx context.Context, proposalID id.ProposalID) (*models.Proposal, error)

	// Update replaces the stored record under the same id. Mutations go
	// read-modify-write through the owning service, which serializes them.
	Update(ctx context.Context, proposal *models.Proposal) error

	// List returns every proposal ever created in exact creation order,
	// regardless of state.
	List(ctx context.Context) ([]*models.Proposal, error)
}
