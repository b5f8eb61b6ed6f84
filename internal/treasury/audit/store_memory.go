package audit

import (
	"context"
	"sync"

	id "custodia/pkg/domain"
)

// InMemoryStore keeps audit events in an append-only slice.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

// NewInMemoryStore constructs an empty in-memory audit store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *InMemoryStore) List(_ context.Context, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := 0
	if limit > 0 && len(s.events) > limit {
		start = len(s.events) - limit
	}
	out := make([]Event, len(s.events)-start)
	copy(out, s.events[start:])
	return out, nil
}

func (s *InMemoryStore) ListByProposal(_ context.Context, proposalID id.ProposalID) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, event := range s.events {
		if event.ProposalID == proposalID {
			out = append(out, event)
		}
	}
	return out, nil
}
