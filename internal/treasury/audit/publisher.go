package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	id "custodia/pkg/domain"
)

// Publisher captures structured audit events. It is append-only and uses the
// storage layer for persistence so tests can swap sinks easily. By default
// emission is synchronous; WithAsyncBuffer switches to a buffered channel
// drained by a background goroutine, for deployments where the sink is slow.
type Publisher struct {
	store  Store
	logger *slog.Logger

	inbox chan Event
	done  chan struct{}
	once  sync.Once
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithAsyncBuffer enables asynchronous emission with the given buffer size.
func WithAsyncBuffer(size int) PublisherOption {
	return func(p *Publisher) {
		p.inbox = make(chan Event, size)
	}
}

// WithLogger attaches a logger for drop/failure reporting.
func WithLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// NewPublisher constructs a publisher over the given store.
func NewPublisher(store Store, opts ...PublisherOption) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	if p.inbox != nil {
		p.done = make(chan struct{})
		go p.drain()
	}
	return p
}

// Emit records one event, stamping the time when unset. In async mode a full
// buffer falls back to a synchronous append rather than dropping the event:
// the audit trail is part of the operation contract.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if p.inbox == nil {
		return p.store.Append(ctx, event)
	}
	select {
	case p.inbox <- event:
		return nil
	default:
		return p.store.Append(ctx, event)
	}
}

// List returns the most recent events, newest last.
func (p *Publisher) List(ctx context.Context, limit int) ([]Event, error) {
	return p.store.List(ctx, limit)
}

// ListByProposal returns the events for one proposal in emission order.
func (p *Publisher) ListByProposal(ctx context.Context, proposalID id.ProposalID) ([]Event, error) {
	return p.store.ListByProposal(ctx, proposalID)
}

// Close drains any buffered events and stops the background goroutine.
func (p *Publisher) Close() {
	p.once.Do(func() {
		if p.inbox != nil {
			close(p.inbox)
			<-p.done
		}
	})
}

func (p *Publisher) drain() {
	defer close(p.done)
	for event := range p.inbox {
		if err := p.store.Append(context.Background(), event); err != nil && p.logger != nil {
			p.logger.Warn("failed to append audit event",
				"action", string(event.Action),
				"error", err,
			)
		}
	}
}
