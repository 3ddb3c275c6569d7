// Package aggregator condenses a context into a bounded markdown report and a
// compaction manifest, and rebuilds full state from a stored manifest.
//
// The report is what a host pastes into an agent's prompt when it compacts
// the agent's working memory. The manifest is the recovery anchor: ids and a
// few classifying fields, enough to re-fetch everything later.
package aggregator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dyluth/chalk/internal/findings"
	"github.com/dyluth/chalk/internal/query"
	"github.com/dyluth/chalk/internal/registry"
	"github.com/dyluth/chalk/internal/tasks"
	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/dyluth/chalk/pkg/store"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Findings is the finding access the aggregator needs.
type Findings interface {
	Query(ctx context.Context, f findings.Filter) []*blackboard.Finding
	Get(ctx context.Context, id string) *blackboard.Finding
	ArchiveSessionScoped(ctx context.Context, session string) (int, error)
}

// Tasks is the task access the aggregator needs.
type Tasks interface {
	List(ctx context.Context, f tasks.Filter) []*blackboard.Task
	Get(ctx context.Context, id string) *blackboard.Task
}

// Agents is the registry access the aggregator needs.
type Agents interface {
	List(ctx context.Context, f registry.Filter) []*blackboard.AgentCard
}

// Contexts resolves context names for report headings.
type Contexts interface {
	Get(ctx context.Context, id string) *blackboard.Context
}

// Limits bound the rendered report.
type Limits struct {
	ItemChars int // per-item content budget
	MaxItems  int // items per section
	MaxChars  int // whole report
}

// DefaultLimits match the configuration defaults.
var DefaultLimits = Limits{ItemChars: 200, MaxItems: 10, MaxChars: 8000}

// hydrateParallelism bounds concurrent re-fetches during Hydrate.
const hydrateParallelism = 8

// Aggregator builds summaries and manifests.
type Aggregator struct {
	store    store.Store
	origin   blackboard.OriginSource
	findings Findings
	tasks    Tasks
	agents   Agents
	contexts Contexts
	limits   Limits
	log      zerolog.Logger
	now      func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithLimits overrides the report bounds.
func WithLimits(l Limits) Option {
	return func(a *Aggregator) { a.limits = l }
}

// WithContexts lets reports show context names.
func WithContexts(c Contexts) Option {
	return func(a *Aggregator) { a.contexts = c }
}

// New creates an aggregator.
func New(s store.Store, origin blackboard.OriginSource, f Findings, t Tasks, ag Agents, log zerolog.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:    s,
		origin:   origin,
		findings: f,
		tasks:    t,
		agents:   ag,
		limits:   DefaultLimits,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// snapshot is everything in scope of one summary.
type snapshot struct {
	key      string
	title    string
	at       time.Time
	findings []*blackboard.Finding
	tasks    []*blackboard.Task
	agents   []*blackboard.AgentCard
	agentIDs []string
}

// ManifestKey returns the id a manifest is stored under. An empty contextID
// summarizes the instance's whole board.
func (a *Aggregator) ManifestKey(contextID string) string {
	if contextID != "" {
		return contextID
	}
	return "board-" + a.origin.Current().Instance
}

func (a *Aggregator) gather(ctx context.Context, contextID string) *snapshot {
	instance := a.origin.Current().Instance
	snap := &snapshot{
		key:      a.ManifestKey(contextID),
		title:    "board " + instance,
		at:       a.now().UTC(),
		findings: a.findings.Query(ctx, findings.Filter{ContextID: contextID}),
		tasks:    a.tasks.List(ctx, tasks.Filter{ContextID: contextID}),
		agents:   a.agents.List(ctx, registry.Filter{ContextID: contextID, Instance: instance}),
	}

	ids := make(map[string]struct{})
	add := func(id string) {
		if id != "" {
			ids[id] = struct{}{}
		}
	}
	if contextID != "" {
		snap.title = "context " + contextID
		if a.contexts != nil {
			if c := a.contexts.Get(ctx, contextID); c != nil {
				snap.title = c.Name + " (" + c.ID + ")"
				for _, id := range c.Agents {
					add(id)
				}
			}
		}
	}
	for _, c := range snap.agents {
		add(c.ID)
	}
	for _, f := range snap.findings {
		add(f.AgentID)
	}
	for _, t := range snap.tasks {
		add(t.AssignedTo)
		add(t.CreatedBy)
	}
	for id := range ids {
		snap.agentIDs = append(snap.agentIDs, id)
	}
	sort.Strings(snap.agentIDs)

	sort.SliceStable(snap.findings, func(i, j int) bool {
		return findingRank(snap.findings[i]) > findingRank(snap.findings[j])
	})
	return snap
}

// findingRank orders findings for the report: severity first, then open
// before closed.
func findingRank(f *blackboard.Finding) int {
	r := f.Severity.Rank() * 2
	if f.Status.Open() {
		r++
	}
	return r
}

// Summarize renders the bounded markdown report for contextID. It never
// fails; unreadable records are simply absent.
func (a *Aggregator) Summarize(ctx context.Context, contextID string) string {
	return a.render(a.gather(ctx, contextID))
}

// Result pairs the report with its manifest.
type Result struct {
	Markdown string
	Manifest *blackboard.CompactionManifest
}

// SummarizeWithManifest renders the report, builds the manifest and stores
// it for later hydration. The result is complete even when storing the
// manifest fails; the error reports that failure.
func (a *Aggregator) SummarizeWithManifest(ctx context.Context, contextID string) (*Result, error) {
	snap := a.gather(ctx, contextID)
	m := buildManifest(snap)
	m.Origin = a.origin.Current()
	res := &Result{Markdown: a.render(snap), Manifest: m}

	content, err := blackboard.EncodeJSON(m)
	if err != nil {
		return res, err
	}
	links := make([]string, 0, len(snap.findings)+len(snap.tasks))
	for _, f := range snap.findings {
		links = append(links, blackboard.FindingPath(f.Topic, f.ID))
	}
	for _, t := range snap.tasks {
		links = append(links, blackboard.TaskPath(t.ID))
	}
	if _, err := a.store.Put(ctx, store.Document{
		Path:    blackboard.ManifestPath(m.ContextID),
		Content: content,
		Tags:    blackboard.ManifestTags(m),
		Links:   links,
	}); err != nil {
		return res, fmt.Errorf("failed to store manifest for %s: %w", m.ContextID, err)
	}

	a.log.Debug().
		Str("context_id", m.ContextID).
		Int("findings", m.Stats.Findings).
		Int("tasks", m.Stats.Tasks).
		Msg("Compaction manifest stored")
	return res, nil
}

func buildManifest(snap *snapshot) *blackboard.CompactionManifest {
	m := &blackboard.CompactionManifest{
		ContextID: snap.key,
		Timestamp: snap.at,
		Findings:  make([]blackboard.FindingRef, 0, len(snap.findings)),
		Tasks:     make([]blackboard.TaskRef, 0, len(snap.tasks)),
		AgentIDs:  append([]string{}, snap.agentIDs...),
	}
	for _, f := range snap.findings {
		m.Findings = append(m.Findings, blackboard.FindingRef{
			ID: f.ID, Topic: f.Topic, Severity: f.Severity, Status: f.Status, Title: f.Title,
		})
		if f.Severity.Elevated() {
			m.Stats.ElevatedFindings++
		}
		if f.Status.Open() {
			m.Stats.OpenFindings++
		}
	}
	for _, t := range snap.tasks {
		m.Tasks = append(m.Tasks, blackboard.TaskRef{
			ID: t.ID, Type: t.Type, Status: t.Status, Priority: t.Priority, AssignedTo: t.AssignedTo, Title: t.Title,
		})
		switch {
		case t.Status == blackboard.TaskStatusBlocked:
			m.Stats.BlockedTasks++
			m.Stats.ActiveTasks++
		case t.Status.Active():
			m.Stats.ActiveTasks++
		case t.Status == blackboard.TaskStatusCompleted:
			m.Stats.CompletedTasks++
		}
	}
	m.Stats.Findings = len(m.Findings)
	m.Stats.Tasks = len(m.Tasks)
	m.Stats.Agents = len(m.AgentIDs)
	return m
}

// GetManifest returns the stored manifest for contextID, or nil.
func (a *Aggregator) GetManifest(ctx context.Context, contextID string) *blackboard.CompactionManifest {
	key := a.ManifestKey(contextID)
	return query.Get(ctx, a.store, blackboard.ManifestPath(key), blackboard.ManifestFromDocument, a.log)
}

// Hydrated is the full state recovered from a manifest.
type Hydrated struct {
	Findings []*blackboard.Finding
	Tasks    []*blackboard.Task
}

// Hydrate re-fetches every finding and task a manifest lists, in manifest
// order. Records that no longer exist are dropped.
func (a *Aggregator) Hydrate(ctx context.Context, m *blackboard.CompactionManifest) *Hydrated {
	if m == nil {
		return &Hydrated{}
	}
	fs := make([]*blackboard.Finding, len(m.Findings))
	ts := make([]*blackboard.Task, len(m.Tasks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(hydrateParallelism)
	for i, ref := range m.Findings {
		i, id := i, ref.ID
		g.Go(func() error {
			fs[i] = a.findings.Get(gctx, id)
			return nil
		})
	}
	for i, ref := range m.Tasks {
		i, id := i, ref.ID
		g.Go(func() error {
			ts[i] = a.tasks.Get(gctx, id)
			return nil
		})
	}
	_ = g.Wait()

	out := &Hydrated{}
	for _, f := range fs {
		if f != nil {
			out.Findings = append(out.Findings, f)
		}
	}
	for _, t := range ts {
		if t != nil {
			out.Tasks = append(out.Tasks, t)
		}
	}
	if dropped := len(fs) + len(ts) - len(out.Findings) - len(out.Tasks); dropped > 0 {
		a.log.Debug().Str("context_id", m.ContextID).Int("dropped", dropped).Msg("Manifest entries no longer exist")
	}
	return out
}

// ArchiveSessionScoped archives the session-scoped findings of session.
func (a *Aggregator) ArchiveSessionScoped(ctx context.Context, session string) (int, error) {
	return a.findings.ArchiveSessionScoped(ctx, session)
}
