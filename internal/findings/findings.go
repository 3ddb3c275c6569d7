// Package findings manages the finding lifecycle:
//
//	draft → published → acknowledged → resolved
//	                  ↘              ↘
//	                   rejected       rejected
//
// A finding's body is written once, at post time. Every later lifecycle change
// is a tag-only store update that carries who/when/why in document metadata.
package findings

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/dyluth/chalk/internal/query"
	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/dyluth/chalk/pkg/store"
	"github.com/rs/zerolog"
)

// DefaultConfidence is used when a post omits confidence.
const DefaultConfidence = 1.0

// maxTransitionAttempts bounds the read/CAS loop of a lifecycle transition.
const maxTransitionAttempts = 8

// Manager posts and moves findings through their lifecycle.
type Manager struct {
	store        store.Store
	origin       blackboard.OriginSource
	log          zerolog.Logger
	now          func() time.Time
	defaultScope blackboard.Scope

	emitter  blackboard.Emitter
	promoter blackboard.Promoter
	linker   blackboard.ContextLinker
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithDefaultScope sets the scope applied when a post omits one.
func WithDefaultScope(s blackboard.Scope) Option {
	return func(m *Manager) { m.defaultScope = s }
}

// WithEmitter routes lifecycle events to e.
func WithEmitter(e blackboard.Emitter) Option {
	return func(m *Manager) { m.emitter = e }
}

// WithPromoter promotes persistent findings into the durable corpus.
func WithPromoter(p blackboard.Promoter) Option {
	return func(m *Manager) { m.promoter = p }
}

// WithContextLinker attaches findings to the context they name.
func WithContextLinker(l blackboard.ContextLinker) Option {
	return func(m *Manager) { m.linker = l }
}

// New creates a finding manager over s.
func New(s store.Store, origin blackboard.OriginSource, log zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:        s,
		origin:       origin,
		log:          log,
		now:          time.Now,
		defaultScope: blackboard.ScopeSession,
		emitter:      blackboard.NopEmitter,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// PostInput describes a new finding.
type PostInput struct {
	AgentID    string
	Topic      blackboard.Topic
	Title      string
	Content    string
	Confidence *float64 // nil means DefaultConfidence
	Severity   blackboard.Severity
	Scope      blackboard.Scope // "" means the configured default
	ContextID  string
	ParentID   string
	References []blackboard.Reference
	TTL        time.Duration
	Metadata   map[string]string
	Draft      bool // post as draft; Publish makes it visible to subscribers
}

// Post stores a new finding and emits finding_created unless it is a draft.
func (m *Manager) Post(ctx context.Context, in PostInput) (*blackboard.Finding, error) {
	f := &blackboard.Finding{
		ID:         blackboard.NewID(),
		AgentID:    in.AgentID,
		Topic:      in.Topic,
		Title:      strings.TrimSpace(in.Title),
		Content:    in.Content,
		Confidence: DefaultConfidence,
		Severity:   in.Severity,
		Status:     blackboard.FindingStatusPublished,
		Scope:      in.Scope,
		ContextID:  in.ContextID,
		ParentID:   in.ParentID,
		References: in.References,
		TTL:        in.TTL,
		Metadata:   in.Metadata,
		CreatedAt:  m.now().UTC(),
		Origin:     m.origin.Current(),
	}
	if in.Confidence != nil {
		f.Confidence = *in.Confidence
	}
	if in.Draft {
		f.Status = blackboard.FindingStatusDraft
	}
	if f.Scope == "" {
		f.Scope = m.defaultScope
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	content, err := blackboard.EncodeFinding(f)
	if err != nil {
		return nil, err
	}
	docPath := blackboard.FindingPath(f.Topic, f.ID)
	if _, err := m.store.PutIf(ctx, store.Document{
		Path:     docPath,
		Content:  content,
		Tags:     blackboard.FindingTags(f),
		Metadata: map[string]string{blackboard.MetaStatus: string(f.Status)},
		Links:    blackboard.FindingLinks(f, m.resolver(ctx)),
	}, 0); err != nil {
		return nil, fmt.Errorf("failed to write finding %s: %w", f.ID, err)
	}

	if f.Scope == blackboard.ScopePersistent && m.promoter != nil {
		m.promoter.Promote(ctx, docPath)
	}
	if f.ContextID != "" && m.linker != nil {
		m.linker.AttachFinding(ctx, f.ContextID, f.ID)
	}
	if f.Status == blackboard.FindingStatusPublished {
		m.emitter.Emit(ctx, blackboard.NewFindingEvent(blackboard.EventFindingCreated, f, "", f.CreatedAt))
	}

	m.log.Debug().Str("finding_id", f.ID).Str("topic", string(f.Topic)).Str("agent_id", f.AgentID).Msg("Finding posted")
	return f, nil
}

// Get looks a finding up by id across every topic partition. Returns nil when
// it is absent or unparseable.
func (m *Manager) Get(ctx context.Context, id string) *blackboard.Finding {
	doc := m.lookup(ctx, id)
	if doc == nil {
		return nil
	}
	f, err := blackboard.FindingFromDocument(doc)
	if err != nil {
		m.log.Warn().Err(err).Str("finding_id", id).Msg("Unparseable finding")
		return nil
	}
	return f
}

// lookup returns the stored document of finding id, or nil. The id is an
// exact key: glob metacharacters never widen the match.
func (m *Manager) lookup(ctx context.Context, id string) *store.Document {
	if id == "" || strings.ContainsAny(id, "/*?[]\\") {
		return nil
	}
	docs, err := m.store.Glob(ctx, blackboard.FindingGlob(id))
	if err != nil {
		m.log.Warn().Err(err).Str("finding_id", id).Msg("Finding lookup failed")
		return nil
	}
	for _, doc := range docs {
		if path.Base(doc.Path) == id {
			return doc
		}
	}
	return nil
}

// PathOf returns the stored path of finding id, or "" when it is unknown.
func (m *Manager) PathOf(ctx context.Context, id string) string {
	if doc := m.lookup(ctx, id); doc != nil {
		return doc.Path
	}
	return ""
}

func (m *Manager) resolver(ctx context.Context) blackboard.FindingPathResolver {
	return func(id string) string { return m.PathOf(ctx, id) }
}

// Acknowledge records that agentID has seen the finding.
func (m *Manager) Acknowledge(ctx context.Context, id, agentID string) (*blackboard.Finding, error) {
	return m.transition(ctx, id, agentID, blackboard.FindingStatusAcknowledged, blackboard.EventFindingUpdated, map[string]string{
		blackboard.MetaAcknowledgedBy: agentID,
		blackboard.MetaAcknowledgedAt: blackboard.FormatMetaTime(m.now()),
	})
}

// Resolve closes the finding. The finding_resolved event carries the original
// topic and severity so subscribers need not refetch.
func (m *Manager) Resolve(ctx context.Context, id, agentID, resolution string) (*blackboard.Finding, error) {
	return m.transition(ctx, id, agentID, blackboard.FindingStatusResolved, blackboard.EventFindingResolved, map[string]string{
		blackboard.MetaResolvedBy: agentID,
		blackboard.MetaResolvedAt: blackboard.FormatMetaTime(m.now()),
		blackboard.MetaResolution: resolution,
	})
}

// Reject marks the finding as not actionable.
func (m *Manager) Reject(ctx context.Context, id, agentID, reason string) (*blackboard.Finding, error) {
	return m.transition(ctx, id, agentID, blackboard.FindingStatusRejected, blackboard.EventFindingUpdated, map[string]string{
		blackboard.MetaRejectedBy:   agentID,
		blackboard.MetaRejectedAt:   blackboard.FormatMetaTime(m.now()),
		blackboard.MetaRejectReason: reason,
	})
}

// Publish moves a draft to published and emits finding_created.
func (m *Manager) Publish(ctx context.Context, id string) (*blackboard.Finding, error) {
	return m.transition(ctx, id, "", blackboard.FindingStatusPublished, blackboard.EventFindingCreated, nil)
}

// transition moves finding id to status to. The tag swap is conditional on
// the revision that was read, so of two racing transitions out of the same
// status only one lands; the other re-reads and is judged against the new
// status.
func (m *Manager) transition(ctx context.Context, id, agentID string, to blackboard.FindingStatus, evt blackboard.EventType, meta map[string]string) (*blackboard.Finding, error) {
	if agentID == "" && to != blackboard.FindingStatusPublished {
		return nil, fmt.Errorf("%w: agent id cannot be empty", blackboard.ErrInvalidInput)
	}
	for attempt := 1; ; attempt++ {
		doc := m.lookup(ctx, id)
		if doc == nil {
			return nil, fmt.Errorf("finding %s: %w", id, blackboard.ErrNotFound)
		}
		f, err := blackboard.FindingFromDocument(doc)
		if err != nil {
			return nil, fmt.Errorf("finding %s: %w", id, blackboard.ErrNotFound)
		}
		if !f.Status.CanTransition(to) {
			return nil, fmt.Errorf("%w: finding %s is %s, cannot become %s", blackboard.ErrInvalidTransition, id, f.Status, to)
		}

		update := map[string]string{blackboard.MetaStatus: string(to)}
		for k, v := range meta {
			update[k] = v
		}
		add := []store.Tag{blackboard.StatusTag(string(to))}
		remove := []store.Tag{blackboard.StatusTag(string(f.Status))}
		_, err = m.store.UpdateTagsIf(ctx, doc.Path, add, remove, update, doc.Revision)
		if store.IsConflict(err) && attempt < maxTransitionAttempts {
			m.log.Debug().Str("finding_id", id).Int("attempt", attempt).Msg("Finding changed underneath transition; retrying")
			continue
		}
		if err != nil {
			if store.IsNotFound(err) {
				return nil, fmt.Errorf("finding %s: %w", id, blackboard.ErrNotFound)
			}
			return nil, fmt.Errorf("failed to update finding %s: %w", id, err)
		}

		merged := make(map[string]string, len(doc.Metadata)+len(update))
		for k, v := range doc.Metadata {
			merged[k] = v
		}
		for k, v := range update {
			merged[k] = v
		}
		blackboard.ApplyFindingMetadata(f, merged)

		m.emitter.Emit(ctx, blackboard.NewFindingEvent(evt, f, agentID, m.now().UTC()))
		m.log.Debug().Str("finding_id", id).Str("status", string(to)).Str("agent_id", agentID).Msg("Finding updated")
		return f, nil
	}
}

// Filter selects findings. Tag fields are ANDed in the store; Severity,
// MinConfidence, expiry and archival are applied after fetching.
type Filter struct {
	Topic     blackboard.Topic
	AgentID   string
	ContextID string
	Status    blackboard.FindingStatus
	Scope     blackboard.Scope
	ParentID  string
	Session   string

	// Severity is an allow-list; any listed value matches.
	Severity      []blackboard.Severity
	MinConfidence float64

	// Instance restricts results to one instance plus durable records.
	// "" means the current instance; query.AllInstances disables the check.
	Instance        string
	IncludeArchived bool
	IncludeExpired  bool

	Limit  int
	Offset int
}

func (f Filter) tags() []store.Tag {
	tags := []store.Tag{blackboard.KindTag(blackboard.KindFinding)}
	add := func(key, value string) {
		if value != "" {
			tags = append(tags, store.T(key, value))
		}
	}
	add(blackboard.TagTopic, string(f.Topic))
	add(blackboard.TagAgent, f.AgentID)
	add(blackboard.TagContext, f.ContextID)
	add(blackboard.TagStatus, string(f.Status))
	add(blackboard.TagScope, string(f.Scope))
	add(blackboard.TagParent, f.ParentID)
	add(blackboard.TagSession, f.Session)
	return tags
}

func (m *Manager) instance(f Filter) string {
	if f.Instance != "" {
		return f.Instance
	}
	return m.origin.Current().Instance
}

// keep applies the post-fetch filters.
func (m *Manager) keep(f Filter, now time.Time, x *blackboard.Finding) bool {
	if x.Archived && !f.IncludeArchived {
		return false
	}
	if !f.IncludeExpired && x.Expired(now) {
		return false
	}
	if x.Confidence < f.MinConfidence {
		return false
	}
	if len(f.Severity) > 0 && !(blackboard.SubscriptionFilters{Severity: f.Severity}).AllowsSeverity(x.Severity) {
		return false
	}
	return true
}

// Query returns the findings matching f, newest first.
func (m *Manager) Query(ctx context.Context, f Filter) []*blackboard.Finding {
	all := query.Visible(ctx, m.store, store.Query{Tags: f.tags(), PathPrefix: blackboard.FindingsPrefix}, m.instance(f), blackboard.FindingFromDocument, m.log)

	now := m.now()
	out := make([]*blackboard.Finding, 0, len(all))
	for _, x := range all {
		if m.keep(f, now, x) {
			out = append(out, x)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return store.Paginate(out, store.Query{Limit: f.Limit, Offset: f.Offset})
}

// Thread returns the replies to parentID, oldest first.
func (m *Manager) Thread(ctx context.Context, parentID string) []*blackboard.Finding {
	if parentID == "" {
		return nil
	}
	replies := m.Query(ctx, Filter{ParentID: parentID, Instance: query.AllInstances, IncludeArchived: true})
	for i, j := 0, len(replies)-1; i < j; i, j = i+1, j-1 {
		replies[i], replies[j] = replies[j], replies[i]
	}
	return replies
}

// Hit is a ranked search result.
type Hit struct {
	Finding *blackboard.Finding
	Score   float64
	Snippet string
}

// Search ranks findings by relevance to text, scoped by f.
func (m *Manager) Search(ctx context.Context, text string, f Filter) []Hit {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	hits, err := m.store.Search(ctx, text, store.Query{Tags: f.tags(), PathPrefix: blackboard.FindingsPrefix})
	if err != nil {
		m.log.Warn().Err(err).Str("text", text).Msg("Finding search failed")
		return nil
	}

	instance := m.instance(f)
	now := m.now()
	out := make([]Hit, 0, len(hits))
	for _, h := range hits {
		x := query.Get(ctx, m.store, h.Path, blackboard.FindingFromDocument, m.log)
		if x == nil || !visibleTo(x.Origin, instance) || !m.keep(f, now, x) {
			continue
		}
		out = append(out, Hit{Finding: x, Score: h.Score, Snippet: h.Snippet})
	}
	return store.Paginate(out, store.Query{Limit: f.Limit, Offset: f.Offset})
}

// Grep returns the lines of visible findings that match the regular
// expression pattern.
func (m *Manager) Grep(ctx context.Context, pattern string, f Filter) []store.GrepMatch {
	q := store.Query{Tags: f.tags(), PathPrefix: blackboard.FindingsPrefix}
	matches, err := m.store.Grep(ctx, pattern, q)
	if err != nil {
		m.log.Warn().Err(err).Str("pattern", pattern).Msg("Finding grep failed")
		return nil
	}

	visible := make(map[string]bool)
	for _, x := range m.Query(ctx, Filter{
		Topic: f.Topic, AgentID: f.AgentID, ContextID: f.ContextID, Status: f.Status,
		Scope: f.Scope, ParentID: f.ParentID, Session: f.Session, Severity: f.Severity,
		MinConfidence: f.MinConfidence, Instance: f.Instance,
		IncludeArchived: f.IncludeArchived, IncludeExpired: f.IncludeExpired,
	}) {
		visible[blackboard.FindingPath(x.Topic, x.ID)] = true
	}

	out := make([]store.GrepMatch, 0, len(matches))
	for _, gm := range matches {
		if visible[gm.Path] {
			out = append(out, gm)
		}
	}
	return store.Paginate(out, store.Query{Limit: f.Limit, Offset: f.Offset})
}

// Related returns the paths of records linked to the finding within depth
// hops: its parent, replies, referenced findings and tasks, and tasks that
// list it among their results.
func (m *Manager) Related(ctx context.Context, id string, depth int) []string {
	doc := m.lookup(ctx, id)
	if doc == nil {
		return nil
	}
	if depth <= 0 {
		depth = 1
	}
	paths, err := m.store.Neighbors(ctx, doc.Path, depth)
	if err != nil {
		m.log.Warn().Err(err).Str("finding_id", id).Msg("Neighbor walk failed")
		return nil
	}
	return paths
}

// ArchiveSessionScoped archives every session-scoped finding written in
// session: it gains the archived marker and an archived-session tag and
// loses its session tag. Nothing is deleted. Returns the number archived.
func (m *Manager) ArchiveSessionScoped(ctx context.Context, session string) (int, error) {
	if session == "" {
		return 0, fmt.Errorf("%w: session cannot be empty", blackboard.ErrInvalidInput)
	}
	descs, err := m.store.List(ctx, store.Query{
		Tags: []store.Tag{
			blackboard.KindTag(blackboard.KindFinding),
			blackboard.SessionTag(session),
			store.T(blackboard.TagScope, string(blackboard.ScopeSession)),
		},
		PathPrefix: blackboard.FindingsPrefix,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list session findings: %w", err)
	}

	at := blackboard.FormatMetaTime(m.now())
	archived := 0
	var errs []error
	for _, d := range descs {
		if d.HasTag(blackboard.ArchivedTag) {
			continue
		}
		_, err := m.store.UpdateTags(ctx, d.Path,
			[]store.Tag{blackboard.ArchivedTag, blackboard.ArchivedSessionTag(session)},
			[]store.Tag{blackboard.SessionTag(session)},
			map[string]string{blackboard.MetaArchivedAt: at},
		)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.Path, err))
			continue
		}
		archived++
	}
	m.log.Debug().Str("session", session).Int("archived", archived).Msg("Session findings archived")
	return archived, errors.Join(errs...)
}

func visibleTo(o blackboard.Origin, instance string) bool {
	return instance == query.AllInstances || o.Instance == instance || o.Durable
}
