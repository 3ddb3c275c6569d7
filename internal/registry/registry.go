// Package registry records agent identities and their declared capabilities.
//
// Registration is agent-directed: two processes registering the same id
// simply overwrite each other, so the registry needs no concurrency control.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/chalk/internal/query"
	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/dyluth/chalk/pkg/store"
	"github.com/rs/zerolog"
)

// Registry registers and discovers agents.
type Registry struct {
	store  store.Store
	origin blackboard.OriginSource
	log    zerolog.Logger
	now    func() time.Time

	linker blackboard.ContextLinker
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithContextLinker attaches agents to the context named on their card.
func WithContextLinker(l blackboard.ContextLinker) Option {
	return func(r *Registry) { r.linker = l }
}

// New creates a registry over s.
func New(s store.Store, origin blackboard.OriginSource, log zerolog.Logger, opts ...Option) *Registry {
	r := &Registry{store: s, origin: origin, log: log, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register upserts card by id. The first registration sets RegisteredAt;
// later ones keep it and overwrite everything else.
func (r *Registry) Register(ctx context.Context, card blackboard.AgentCard) (*blackboard.AgentCard, error) {
	if card.Status == "" {
		card.Status = blackboard.AgentStatusActive
	}
	if card.Name == "" {
		card.Name = card.ID
	}
	if err := card.Validate(); err != nil {
		return nil, err
	}

	now := r.now().UTC()
	card.RegisteredAt = now
	card.Origin = r.origin.Current()
	if existing := r.Get(ctx, card.ID); existing != nil {
		card.RegisteredAt = existing.RegisteredAt
		card.Durable = existing.Durable
	}
	card.UpdatedAt = now

	if err := r.write(ctx, &card); err != nil {
		return nil, err
	}
	if card.ContextID != "" && r.linker != nil {
		r.linker.AttachAgent(ctx, card.ContextID, card.ID)
	}
	r.log.Debug().Str("agent_id", card.ID).Strs("capabilities", card.Capabilities).Msg("Agent registered")
	return &card, nil
}

// Get returns the card for id, or nil when it is unknown or unreadable.
func (r *Registry) Get(ctx context.Context, id string) *blackboard.AgentCard {
	if id == "" {
		return nil
	}
	return query.Get(ctx, r.store, blackboard.AgentPath(id), blackboard.AgentFromDocument, r.log)
}

// Filter narrows List. Zero fields do not filter.
type Filter struct {
	Instance   string
	Status     blackboard.AgentStatus
	Capability string
	ContextID  string
}

// List returns registered agents sorted by id. Cards from every instance are
// returned unless Filter.Instance restricts them to one.
func (r *Registry) List(ctx context.Context, f Filter) []*blackboard.AgentCard {
	tags := []store.Tag{blackboard.KindTag(blackboard.KindAgent)}
	if f.Instance != "" && f.Instance != query.AllInstances {
		tags = append(tags, blackboard.InstanceTag(f.Instance))
	}
	if f.Status != "" {
		tags = append(tags, blackboard.StatusTag(string(f.Status)))
	}
	if f.Capability != "" {
		tags = append(tags, store.T(blackboard.TagCapability, f.Capability))
	}
	if f.ContextID != "" {
		tags = append(tags, blackboard.ContextTag(f.ContextID))
	}
	return query.Load(ctx, r.store, store.Query{Tags: tags, PathPrefix: blackboard.AgentsPrefix}, blackboard.AgentFromDocument, r.log)
}

// UpdateStatus changes an agent's status. Unknown agents are ignored.
func (r *Registry) UpdateStatus(ctx context.Context, id string, status blackboard.AgentStatus) error {
	if err := status.Validate(); err != nil {
		return err
	}
	card := r.Get(ctx, id)
	if card == nil {
		r.log.Debug().Str("agent_id", id).Msg("Status update for unknown agent ignored")
		return nil
	}
	card.Status = status
	card.UpdatedAt = r.now().UTC()
	if err := r.write(ctx, card); err != nil {
		return err
	}
	r.log.Debug().Str("agent_id", id).Str("status", string(status)).Msg("Agent status updated")
	return nil
}

func (r *Registry) write(ctx context.Context, card *blackboard.AgentCard) error {
	content, err := blackboard.EncodeJSON(card)
	if err != nil {
		return err
	}
	if _, err := r.store.Put(ctx, store.Document{
		Path:    blackboard.AgentPath(card.ID),
		Content: content,
		Tags:    blackboard.AgentTags(card),
	}); err != nil {
		return fmt.Errorf("failed to write agent %s: %w", card.ID, err)
	}
	return nil
}
