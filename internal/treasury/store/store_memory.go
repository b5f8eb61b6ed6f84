package store

import (
	"context"
	"fmt"
	"sync"

	"custodia/internal/treasury/models"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

// InMemoryStore keeps proposals in process memory. Authoritative for
// single-process deployments and the default for tests.
type InMemoryStore struct {
	mu        sync.RWMutex
	nextID    id.ProposalID
	proposals map[id.ProposalID]*models.Proposal
	order     []id.ProposalID
}

// NewInMemoryStore constructs an empty in-memory proposal store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		nextID:    1,
		proposals: make(map[id.ProposalID]*models.Proposal),
	}
}

func (s *InMemoryStore) Create(_ context.Context, proposal *models.Proposal) (id.ProposalID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	proposal.ID = s.nextID
	s.nextID++
	s.proposals[proposal.ID] = proposal.Clone()
	s.order = append(s.order, proposal.ID)
	return proposal.ID, nil
}

func (s *InMemoryStore) Get(_ context.Context, proposalID id.ProposalID) (*models.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposals[proposalID]
	if !ok {
		return nil, fmt.Errorf("proposal %s: %w", proposalID, sentinel.ErrNotFound)
	}
	return p.Clone(), nil
}

func (s *InMemoryStore) Update(_ context.Context, proposal *models.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.proposals[proposal.ID]; !ok {
		return fmt.Errorf("proposal %s: %w", proposal.ID, sentinel.ErrNotFound)
	}
	s.proposals[proposal.ID] = proposal.Clone()
	return nil
}

func (s *InMemoryStore) List(_ context.Context) ([]*models.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Proposal, 0, len(s.order))
	for _, proposalID := range s.order {
		out = append(out, s.proposals[proposalID].Clone())
	}
	return out, nil
}
