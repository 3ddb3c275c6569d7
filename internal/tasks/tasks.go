// Package tasks is the task coordination graph: creation, dependency-aware
// readiness, the exclusive claim protocol and status transitions.
//
// Every write after creation is a compare-and-swap on the document revision
// observed at read time. A claim that loses the race is rejected; other
// updates re-read and retry a bounded number of times.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dyluth/chalk/internal/query"
	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/dyluth/chalk/pkg/store"
	"github.com/rs/zerolog"
)

// DefaultPriority is the mid-range priority applied when none is given.
const DefaultPriority = 2

// maxUpdateAttempts bounds the read/CAS loop of Update.
const maxUpdateAttempts = 8

// FindingLocator maps a finding id to its stored path, or "".
type FindingLocator func(ctx context.Context, id string) string

// Manager coordinates tasks.
type Manager struct {
	store           store.Store
	origin          blackboard.OriginSource
	log             zerolog.Logger
	now             func() time.Time
	defaultPriority int

	emitter  blackboard.Emitter
	promoter blackboard.Promoter
	linker   blackboard.ContextLinker
	findings FindingLocator
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithDefaultPriority sets the priority applied when a create omits one.
func WithDefaultPriority(p int) Option {
	return func(m *Manager) { m.defaultPriority = p }
}

// WithEmitter routes task events to e.
func WithEmitter(e blackboard.Emitter) Option {
	return func(m *Manager) { m.emitter = e }
}

// WithPromoter promotes tasks into the durable corpus after each write.
func WithPromoter(p blackboard.Promoter) Option {
	return func(m *Manager) { m.promoter = p }
}

// WithContextLinker attaches tasks to the context they name.
func WithContextLinker(l blackboard.ContextLinker) Option {
	return func(m *Manager) { m.linker = l }
}

// WithFindingLocator lets result findings become graph links.
func WithFindingLocator(f FindingLocator) Option {
	return func(m *Manager) { m.findings = f }
}

// New creates a task manager over s.
func New(s store.Store, origin blackboard.OriginSource, log zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:           s,
		origin:          origin,
		log:             log,
		now:             time.Now,
		defaultPriority: DefaultPriority,
		emitter:         blackboard.NopEmitter,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateInput describes a new task.
type CreateInput struct {
	Title       string
	Description string
	Type        blackboard.TaskType
	Priority    *int // nil means the configured default
	CreatedBy   string
	DependsOn   []string
	ContextID   string
}

// Create stores a new pending task and emits task_created.
func (m *Manager) Create(ctx context.Context, in CreateInput) (*blackboard.Task, error) {
	now := m.now().UTC()
	t := &blackboard.Task{
		ID:          blackboard.NewID(),
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Type:        in.Type,
		Priority:    m.defaultPriority,
		Status:      blackboard.TaskStatusPending,
		CreatedBy:   in.CreatedBy,
		DependsOn:   dedupe(in.DependsOn),
		ContextID:   in.ContextID,
		CreatedAt:   now,
		UpdatedAt:   now,
		Origin:      m.origin.Current(),
	}
	if t.Type == "" {
		t.Type = blackboard.TaskTypeGeneral
	}
	if in.Priority != nil {
		t.Priority = *in.Priority
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}

	if err := m.write(ctx, t, 0); err != nil {
		return nil, err
	}
	if t.ContextID != "" && m.linker != nil {
		m.linker.AttachTask(ctx, t.ContextID, t.ID)
	}
	m.emitter.Emit(ctx, blackboard.NewTaskEvent(blackboard.EventTaskCreated, t, now))

	m.log.Debug().Str("task_id", t.ID).Int("priority", t.Priority).Strs("depends_on", t.DependsOn).Msg("Task created")
	return t, nil
}

// Get returns the task, or nil when it is unknown or unreadable.
func (m *Manager) Get(ctx context.Context, id string) *blackboard.Task {
	t, _, err := m.read(ctx, id)
	if err != nil {
		if !errors.Is(err, blackboard.ErrNotFound) {
			m.log.Warn().Err(err).Str("task_id", id).Msg("Task read failed")
		}
		return nil
	}
	return t
}

// read returns the task and the document revision it was read at.
func (m *Manager) read(ctx context.Context, id string) (*blackboard.Task, int64, error) {
	if id == "" || strings.Contains(id, "/") {
		return nil, 0, fmt.Errorf("task %q: %w", id, blackboard.ErrNotFound)
	}
	doc, err := m.store.Get(ctx, blackboard.TaskPath(id))
	if err != nil {
		if store.IsNotFound(err) {
			return nil, 0, fmt.Errorf("task %s: %w", id, blackboard.ErrNotFound)
		}
		return nil, 0, fmt.Errorf("failed to read task %s: %w", id, err)
	}
	t, err := blackboard.TaskFromDocument(doc)
	if err != nil {
		return nil, 0, fmt.Errorf("task %s: %w: %v", id, blackboard.ErrNotFound, err)
	}
	return t, doc.Revision, nil
}

// write stores t, conditioned on the revision it was read at.
func (m *Manager) write(ctx context.Context, t *blackboard.Task, revision int64) error {
	content, err := blackboard.EncodeJSON(t)
	if err != nil {
		return err
	}
	path := blackboard.TaskPath(t.ID)
	_, err = m.store.PutIf(ctx, store.Document{
		Path:    path,
		Content: content,
		Tags:    blackboard.TaskTags(t),
		Links:   blackboard.TaskLinks(t, m.resolver(ctx)),
	}, revision)
	if err != nil {
		return fmt.Errorf("failed to write task %s: %w", t.ID, err)
	}
	if m.promoter != nil {
		m.promoter.Promote(ctx, path)
	}
	return nil
}

func (m *Manager) resolver(ctx context.Context) blackboard.FindingPathResolver {
	if m.findings == nil {
		return nil
	}
	return func(id string) string { return m.findings(ctx, id) }
}

// ReadyFilter narrows GetReady.
type ReadyFilter struct {
	// Types restricts results to these task types; empty allows all.
	Types     []blackboard.TaskType
	ContextID string
	Instance  string // "" means the current instance
}

// GetReady returns the pending tasks whose dependencies are all completed,
// lowest priority number first. A dependency that is missing, unreadable or
// in any other status keeps the task out of the result.
func (m *Manager) GetReady(ctx context.Context, f ReadyFilter) []*blackboard.Task {
	tags := []store.Tag{
		blackboard.KindTag(blackboard.KindTask),
		blackboard.StatusTag(string(blackboard.TaskStatusPending)),
	}
	if f.ContextID != "" {
		tags = append(tags, blackboard.ContextTag(f.ContextID))
	}
	pending := query.Visible(ctx, m.store, store.Query{Tags: tags, PathPrefix: blackboard.TasksPrefix}, m.instance(f.Instance), blackboard.TaskFromDocument, m.log)

	completed := make(map[string]bool)
	done := func(id string) bool {
		if v, ok := completed[id]; ok {
			return v
		}
		dep, _, err := m.read(ctx, id)
		if err != nil && !errors.Is(err, blackboard.ErrNotFound) {
			m.log.Warn().Err(err).Str("task_id", id).Msg("Dependency lookup failed; treating as incomplete")
		}
		ok := err == nil && dep.Status == blackboard.TaskStatusCompleted
		completed[id] = ok
		return ok
	}

	ready := make([]*blackboard.Task, 0, len(pending))
	for _, t := range pending {
		if !typeAllowed(f.Types, t.Type) {
			continue
		}
		blocked := false
		for _, dep := range t.DependsOn {
			if !done(dep) {
				blocked = true
				break
			}
		}
		if !blocked {
			ready = append(ready, t)
		}
	}
	sortByPriority(ready)
	return ready
}

// Claim assigns a pending task to agentID. It returns ErrClaimConflict when
// the task is no longer pending or another agent claimed it first.
func (m *Manager) Claim(ctx context.Context, id, agentID string) (*blackboard.Task, error) {
	if agentID == "" {
		return nil, fmt.Errorf("%w: agent id cannot be empty", blackboard.ErrInvalidInput)
	}
	t, rev, err := m.read(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != blackboard.TaskStatusPending {
		return nil, fmt.Errorf("task %s is %s: %w", id, t.Status, blackboard.ErrClaimConflict)
	}

	now := m.now().UTC()
	t.Status = blackboard.TaskStatusClaimed
	t.AssignedTo = agentID
	t.ClaimedAt = &now
	t.UpdatedAt = now
	if err := m.write(ctx, t, rev); err != nil {
		if store.IsConflict(err) {
			return nil, fmt.Errorf("task %s was claimed concurrently: %w", id, blackboard.ErrClaimConflict)
		}
		return nil, err
	}

	m.emitter.Emit(ctx, blackboard.NewTaskEvent(blackboard.EventTaskClaimed, t, now))
	m.log.Debug().Str("task_id", id).Str("agent_id", agentID).Msg("Task claimed")
	return t, nil
}

// UpdateInput names the fields Update merges onto the stored task. Nil fields
// are left unchanged.
type UpdateInput struct {
	Status    *blackboard.TaskStatus
	Error     *string
	Findings  []string
	Artifacts []string

	// Actor is recorded as the assignee when a pending task is cancelled.
	Actor string
}

// Update merges in onto the stored task. When the status changes it emits
// task_completed for completion and task_updated otherwise, attributed to
// the assignee or, failing that, the creator.
//
// Claiming goes through Claim; Update refuses pending → claimed.
func (m *Manager) Update(ctx context.Context, id string, in UpdateInput) (*blackboard.Task, error) {
	for attempt := 1; ; attempt++ {
		t, rev, err := m.read(ctx, id)
		if err != nil {
			return nil, err
		}
		prev := t.Status
		if err := m.apply(t, in); err != nil {
			return nil, err
		}

		err = m.write(ctx, t, rev)
		if store.IsConflict(err) && attempt < maxUpdateAttempts {
			m.log.Debug().Str("task_id", id).Int("attempt", attempt).Msg("Task changed underneath update; retrying")
			continue
		}
		if err != nil {
			return nil, err
		}

		if t.Status != prev {
			typ := blackboard.EventTaskUpdated
			if t.Status == blackboard.TaskStatusCompleted {
				typ = blackboard.EventTaskCompleted
			}
			m.emitter.Emit(ctx, blackboard.NewTaskEvent(typ, t, t.UpdatedAt))
		}
		m.log.Debug().Str("task_id", id).Str("status", string(t.Status)).Msg("Task updated")
		return t, nil
	}
}

func (m *Manager) apply(t *blackboard.Task, in UpdateInput) error {
	if in.Status != nil && *in.Status != t.Status {
		next := *in.Status
		if err := next.Validate(); err != nil {
			return err
		}
		if next == blackboard.TaskStatusClaimed && t.Status == blackboard.TaskStatusPending {
			return fmt.Errorf("%w: task %s must be claimed, not updated to claimed", blackboard.ErrInvalidTransition, t.ID)
		}
		if !t.Status.CanTransition(next) {
			return fmt.Errorf("%w: task %s is %s, cannot become %s", blackboard.ErrInvalidTransition, t.ID, t.Status, next)
		}
		if t.Status == blackboard.TaskStatusPending {
			if in.Actor == "" {
				return fmt.Errorf("%w: leaving pending requires an actor", blackboard.ErrInvalidInput)
			}
			t.AssignedTo = in.Actor
		}
		t.Status = next
	}
	if in.Error != nil {
		t.Error = *in.Error
	}
	if in.Findings != nil {
		t.Findings = dedupe(in.Findings)
	}
	if in.Artifacts != nil {
		t.Artifacts = dedupe(in.Artifacts)
	}
	t.UpdatedAt = m.now().UTC()
	return t.Validate()
}

// Results are the outputs recorded on completion.
type Results struct {
	Findings  []string
	Artifacts []string
}

// Complete marks the task completed, optionally recording its results.
func (m *Manager) Complete(ctx context.Context, id string, results *Results) (*blackboard.Task, error) {
	status := blackboard.TaskStatusCompleted
	in := UpdateInput{Status: &status}
	if results != nil {
		in.Findings = results.Findings
		in.Artifacts = results.Artifacts
	}
	return m.Update(ctx, id, in)
}

// Fail marks the task failed with reason.
func (m *Manager) Fail(ctx context.Context, id, reason string) (*blackboard.Task, error) {
	status := blackboard.TaskStatusFailed
	return m.Update(ctx, id, UpdateInput{Status: &status, Error: &reason})
}

// Cancel withdraws a pending or claimed task. A pending task is recorded as
// assigned to the canceller.
func (m *Manager) Cancel(ctx context.Context, id, agentID, reason string) (*blackboard.Task, error) {
	status := blackboard.TaskStatusCancelled
	in := UpdateInput{Status: &status, Actor: agentID}
	if reason != "" {
		in.Error = &reason
	}
	return m.Update(ctx, id, in)
}

// Filter narrows List. Zero fields do not filter.
type Filter struct {
	Status     blackboard.TaskStatus
	Type       blackboard.TaskType
	AssignedTo string
	CreatedBy  string
	ContextID  string
	Instance   string // "" means the current instance
	Limit      int
	Offset     int
}

// List returns tasks matching f, lowest priority number first.
func (m *Manager) List(ctx context.Context, f Filter) []*blackboard.Task {
	tags := []store.Tag{blackboard.KindTag(blackboard.KindTask)}
	add := func(key, value string) {
		if value != "" {
			tags = append(tags, store.T(key, value))
		}
	}
	add(blackboard.TagStatus, string(f.Status))
	add(blackboard.TagTaskType, string(f.Type))
	add(blackboard.TagAssigned, f.AssignedTo)
	add(blackboard.TagCreatedBy, f.CreatedBy)
	add(blackboard.TagContext, f.ContextID)

	out := query.Visible(ctx, m.store, store.Query{Tags: tags, PathPrefix: blackboard.TasksPrefix}, m.instance(f.Instance), blackboard.TaskFromDocument, m.log)
	sortByPriority(out)
	return store.Paginate(out, store.Query{Limit: f.Limit, Offset: f.Offset})
}

func (m *Manager) instance(name string) string {
	if name != "" {
		return name
	}
	return m.origin.Current().Instance
}

func sortByPriority(ts []*blackboard.Task) {
	sort.SliceStable(ts, func(i, j int) bool {
		if ts[i].Priority != ts[j].Priority {
			return ts[i].Priority < ts[j].Priority
		}
		return ts[i].CreatedAt.Before(ts[j].CreatedAt)
	})
}

func typeAllowed(types []blackboard.TaskType, t blackboard.TaskType) bool {
	if len(types) == 0 {
		return true
	}
	for _, allowed := range types {
		if allowed == t {
			return true
		}
	}
	return false
}

// dedupe drops empty and repeated ids, keeping first occurrence order.
func dedupe(ids []string) []string {
	if ids == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
