// Package session scopes writes to an instance and, optionally, a
// conversational session, and reconciles finished sessions into the durable
// cross-session corpus.
//
// Writes made while a session is active stay private to the instance until
// the session ends. Ending a session archives its session-scoped findings
// and promotes everything else it wrote: tasks, contexts and persistent
// findings gain the durable tag, which makes them visible across sessions and
// instances. Writes made outside any session are promoted immediately.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dyluth/chalk/internal/instance"
	"github.com/dyluth/chalk/internal/query"
	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/dyluth/chalk/pkg/store"
	"github.com/rs/zerolog"
)

// Archiver archives the session-scoped findings of a session.
type Archiver interface {
	ArchiveSessionScoped(ctx context.Context, session string) (int, error)
}

// Manager tracks the current session. It implements blackboard.OriginSource
// and blackboard.Promoter.
type Manager struct {
	store    store.Store
	instance string
	log      zerolog.Logger
	now      func() time.Time
	archiver Archiver

	mu      sync.RWMutex
	session string
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a manager for instanceName. session may be empty.
func New(s store.Store, instanceName, session string, log zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{store: s, instance: instanceName, session: session, log: log, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetArchiver wires the finding archiver used by End. The finding manager
// depends on this manager for its origin, so it is attached after both exist.
func (m *Manager) SetArchiver(a Archiver) {
	m.archiver = a
}

// Current implements blackboard.OriginSource.
func (m *Manager) Current() blackboard.Origin {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return blackboard.Origin{Instance: m.instance, Session: m.session}
}

// Session returns the active session name, or "".
func (m *Manager) Session() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// Instance returns the instance name.
func (m *Manager) Instance() string {
	return m.instance
}

// Start makes name the active session, generating a name when empty, and
// records it. Starting the session that is already active is a no-op.
func (m *Manager) Start(ctx context.Context, name string) (*blackboard.SessionRecord, error) {
	now := m.now().UTC()
	if name == "" {
		name = instance.NewSessionName(now)
	}
	if err := instance.ValidateName(name); err != nil {
		return nil, fmt.Errorf("%w: session: %v", blackboard.ErrInvalidInput, err)
	}

	if existing := m.Record(ctx, name); existing != nil && existing.Status == blackboard.SessionStatusActive {
		m.setSession(name)
		return existing, nil
	}

	rec := &blackboard.SessionRecord{
		ID:        name,
		Instance:  m.instance,
		Status:    blackboard.SessionStatusActive,
		StartedAt: now,
	}
	if err := m.writeRecord(ctx, rec); err != nil {
		return nil, err
	}
	m.setSession(name)
	m.log.Info().Str("session", name).Str("instance", m.instance).Msg("Session started")
	return rec, nil
}

// Resume adopts the most recently started active session of the instance,
// if any, and returns its name.
func (m *Manager) Resume(ctx context.Context) string {
	active := m.Sessions(ctx, blackboard.SessionStatusActive)
	if len(active) == 0 {
		return ""
	}
	latest := active[0]
	m.setSession(latest.ID)
	m.log.Debug().Str("session", latest.ID).Msg("Resumed active session")
	return latest.ID
}

// End archives the active session's session-scoped findings, reconciles the
// rest into the durable corpus, and clears the active session. Archival
// failures are reported; reconciliation is best-effort.
func (m *Manager) End(ctx context.Context) (*blackboard.SessionRecord, error) {
	name := m.Session()
	if name == "" {
		return nil, fmt.Errorf("%w: no active session", blackboard.ErrInvalidInput)
	}

	rec := m.Record(ctx, name)
	if rec == nil {
		rec = &blackboard.SessionRecord{ID: name, Instance: m.instance, StartedAt: m.now().UTC()}
	}

	var archiveErr error
	if m.archiver != nil {
		rec.Archived, archiveErr = m.archiver.ArchiveSessionScoped(ctx, name)
		if archiveErr != nil {
			m.log.Warn().Err(archiveErr).Str("session", name).Msg("Session archival incomplete")
		}
	}
	rec.Promoted = m.Reconcile(ctx, name)

	ended := m.now().UTC()
	rec.Status = blackboard.SessionStatusEnded
	rec.EndedAt = &ended
	if err := m.writeRecord(ctx, rec); err != nil {
		m.log.Warn().Err(err).Str("session", name).Msg("Failed to record session end")
	}
	m.setSession("")

	m.log.Info().Str("session", name).Int("archived", rec.Archived).Int("promoted", rec.Promoted).Msg("Session ended")
	return rec, archiveErr
}

// promotable lists the kinds that join the durable corpus.
var promotable = []string{blackboard.KindTask, blackboard.KindContext, blackboard.KindFinding}

// Reconcile promotes every record session wrote that is not yet durable,
// skipping archived and session-scoped findings. Failures are logged and
// skipped. Returns the number promoted.
func (m *Manager) Reconcile(ctx context.Context, session string) int {
	if session == "" {
		return 0
	}
	sessionScoped := store.T(blackboard.TagScope, string(blackboard.ScopeSession))
	promoted := 0
	for _, kind := range promotable {
		descs, err := m.store.List(ctx, store.Query{Tags: []store.Tag{
			blackboard.KindTag(kind),
			blackboard.SessionTag(session),
			blackboard.InstanceTag(m.instance),
		}})
		if err != nil {
			m.log.Warn().Err(err).Str("session", session).Str("kind", kind).Msg("Reconcile listing failed")
			continue
		}
		for _, d := range descs {
			if d.HasTag(blackboard.DurableTag) || d.HasTag(blackboard.ArchivedTag) || d.HasTag(sessionScoped) {
				continue
			}
			if m.promote(ctx, d.Path) {
				promoted++
			}
		}
	}
	return promoted
}

// Promote implements blackboard.Promoter. Outside a session the record joins
// the durable corpus at once; inside one, promotion waits for End.
func (m *Manager) Promote(ctx context.Context, path string) {
	if m.Session() != "" {
		return
	}
	m.promote(ctx, path)
}

func (m *Manager) promote(ctx context.Context, path string) bool {
	if _, err := m.store.UpdateTags(ctx, path, []store.Tag{blackboard.DurableTag}, nil, nil); err != nil {
		m.log.Warn().Err(err).Str("path", path).Msg("Promotion failed")
		return false
	}
	return true
}

// Record returns the stored record of session name, or nil.
func (m *Manager) Record(ctx context.Context, name string) *blackboard.SessionRecord {
	if name == "" {
		return nil
	}
	return query.Get(ctx, m.store, blackboard.SessionPath(m.instance, name), blackboard.SessionFromDocument, m.log)
}

// Sessions lists the instance's session records, newest first. status ""
// lists all.
func (m *Manager) Sessions(ctx context.Context, status blackboard.SessionStatus) []*blackboard.SessionRecord {
	tags := []store.Tag{blackboard.KindTag(blackboard.KindSession), blackboard.InstanceTag(m.instance)}
	if status != "" {
		tags = append(tags, blackboard.StatusTag(string(status)))
	}
	recs := query.Load(ctx, m.store, store.Query{Tags: tags, PathPrefix: blackboard.SessionsPrefix}, blackboard.SessionFromDocument, m.log)
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].StartedAt.After(recs[j].StartedAt) })
	return recs
}

func (m *Manager) setSession(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = name
}

func (m *Manager) writeRecord(ctx context.Context, rec *blackboard.SessionRecord) error {
	content, err := blackboard.EncodeJSON(rec)
	if err != nil {
		return err
	}
	if _, err := m.store.Put(ctx, store.Document{
		Path:    blackboard.SessionPath(rec.Instance, rec.ID),
		Content: content,
		Tags:    blackboard.SessionRecordTags(rec),
	}); err != nil {
		return fmt.Errorf("failed to write session %s: %w", rec.ID, err)
	}
	return nil
}
