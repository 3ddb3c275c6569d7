// Package contexts manages named groupings of findings, tasks and agents.
//
// A context's id lists are maintained by attachment: components that write
// an entity carrying a context_id call the Attach methods, which are
// best-effort and never fail the originating write.
package contexts

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dyluth/chalk/internal/query"
	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/dyluth/chalk/pkg/store"
	"github.com/rs/zerolog"
)

const maxAttachAttempts = 8

// Manager creates and maintains contexts.
type Manager struct {
	store    store.Store
	origin   blackboard.OriginSource
	log      zerolog.Logger
	now      func() time.Time
	promoter blackboard.Promoter
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithPromoter promotes contexts into the durable corpus after each write.
func WithPromoter(p blackboard.Promoter) Option {
	return func(m *Manager) { m.promoter = p }
}

// New creates a context manager over s.
func New(s store.Store, origin blackboard.OriginSource, log zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{store: s, origin: origin, log: log, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateInput describes a new context. ID is generated when empty.
type CreateInput struct {
	ID          string
	Name        string
	Description string
}

// Create stores a new active context. Creating an id that exists fails.
func (m *Manager) Create(ctx context.Context, in CreateInput) (*blackboard.Context, error) {
	now := m.now().UTC()
	c := &blackboard.Context{
		ID:          strings.TrimSpace(in.ID),
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Findings:    []string{},
		Tasks:       []string{},
		Agents:      []string{},
		Status:      blackboard.ContextStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
		Origin:      m.origin.Current(),
	}
	if c.ID == "" {
		c.ID = blackboard.NewID()
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := m.write(ctx, c, 0); err != nil {
		if store.IsConflict(err) {
			return nil, fmt.Errorf("%w: context %s already exists", blackboard.ErrInvalidInput, c.ID)
		}
		return nil, err
	}
	m.log.Debug().Str("context_id", c.ID).Str("name", c.Name).Msg("Context created")
	return c, nil
}

// Get returns the context, or nil when it is unknown or unreadable.
func (m *Manager) Get(ctx context.Context, id string) *blackboard.Context {
	if id == "" || strings.Contains(id, "/") {
		return nil
	}
	return query.Get(ctx, m.store, blackboard.ContextPath(id), blackboard.ContextFromDocument, m.log)
}

// Filter narrows List.
type Filter struct {
	Status   blackboard.ContextStatus
	Instance string // "" means the current instance
}

// List returns contexts, newest first.
func (m *Manager) List(ctx context.Context, f Filter) []*blackboard.Context {
	tags := []store.Tag{blackboard.KindTag(blackboard.KindContext)}
	if f.Status != "" {
		tags = append(tags, blackboard.StatusTag(string(f.Status)))
	}
	instance := f.Instance
	if instance == "" {
		instance = m.origin.Current().Instance
	}
	out := query.Visible(ctx, m.store, store.Query{Tags: tags, PathPrefix: blackboard.ContextsPrefix}, instance, blackboard.ContextFromDocument, m.log)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// SetStatus changes a context's status.
func (m *Manager) SetStatus(ctx context.Context, id string, status blackboard.ContextStatus) (*blackboard.Context, error) {
	if err := status.Validate(); err != nil {
		return nil, err
	}
	return m.modify(ctx, id, func(c *blackboard.Context) bool {
		if c.Status == status {
			return false
		}
		c.Status = status
		return true
	})
}

// AttachFinding implements blackboard.ContextLinker.
func (m *Manager) AttachFinding(ctx context.Context, contextID, findingID string) {
	m.attach(ctx, contextID, "finding", findingID, func(c *blackboard.Context) *[]string { return &c.Findings })
}

// AttachTask implements blackboard.ContextLinker.
func (m *Manager) AttachTask(ctx context.Context, contextID, taskID string) {
	m.attach(ctx, contextID, "task", taskID, func(c *blackboard.Context) *[]string { return &c.Tasks })
}

// AttachAgent implements blackboard.ContextLinker.
func (m *Manager) AttachAgent(ctx context.Context, contextID, agentID string) {
	m.attach(ctx, contextID, "agent", agentID, func(c *blackboard.Context) *[]string { return &c.Agents })
}

func (m *Manager) attach(ctx context.Context, contextID, kind, id string, list func(*blackboard.Context) *[]string) {
	_, err := m.modify(ctx, contextID, func(c *blackboard.Context) bool {
		ids := list(c)
		for _, have := range *ids {
			if have == id {
				return false
			}
		}
		*ids = append(*ids, id)
		return true
	})
	if err != nil {
		m.log.Warn().Err(err).Str("context_id", contextID).Str(kind+"_id", id).Msg("Context attach failed")
	}
}

// modify applies change under a revision check and retries on conflict.
// change reports whether it altered the context; unchanged contexts are not
// rewritten.
func (m *Manager) modify(ctx context.Context, id string, change func(*blackboard.Context) bool) (*blackboard.Context, error) {
	if id == "" || strings.Contains(id, "/") {
		return nil, fmt.Errorf("context %q: %w", id, blackboard.ErrNotFound)
	}
	for attempt := 1; ; attempt++ {
		doc, err := m.store.Get(ctx, blackboard.ContextPath(id))
		if err != nil {
			if store.IsNotFound(err) {
				return nil, fmt.Errorf("context %s: %w", id, blackboard.ErrNotFound)
			}
			return nil, fmt.Errorf("failed to read context %s: %w", id, err)
		}
		c, err := blackboard.ContextFromDocument(doc)
		if err != nil {
			return nil, fmt.Errorf("context %s: %w: %v", id, blackboard.ErrNotFound, err)
		}
		if !change(c) {
			return c, nil
		}
		c.UpdatedAt = m.now().UTC()

		err = m.write(ctx, c, doc.Revision)
		if store.IsConflict(err) && attempt < maxAttachAttempts {
			continue
		}
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

func (m *Manager) write(ctx context.Context, c *blackboard.Context, revision int64) error {
	content, err := blackboard.EncodeJSON(c)
	if err != nil {
		return err
	}
	path := blackboard.ContextPath(c.ID)
	if _, err := m.store.PutIf(ctx, store.Document{
		Path:    path,
		Content: content,
		Tags:    blackboard.ContextTags(c),
	}, revision); err != nil {
		return fmt.Errorf("failed to write context %s: %w", c.ID, err)
	}
	if m.promoter != nil {
		m.promoter.Promote(ctx, path)
	}
	return nil
}
