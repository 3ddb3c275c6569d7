package findings

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dyluth/chalk/internal/logging"
	"github.com/dyluth/chalk/internal/query"
	"github.com/dyluth/chalk/internal/testutil"
	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/dyluth/chalk/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	m      *Manager
	store  store.Store
	clock  *testutil.Clock
	events *testutil.Recorder
}

func setup(t *testing.T) *fixture {
	t.Helper()
	s, _ := testutil.NewStore(t)
	return setupOn(t, s, testutil.Origin("s1"))
}

func setupOn(t *testing.T, s store.Store, origin blackboard.OriginSource) *fixture {
	t.Helper()
	clock := testutil.NewClock()
	events := &testutil.Recorder{}
	m := New(s, origin, logging.Nop(), WithClock(clock.Now), WithEmitter(events))
	return &fixture{m: m, store: s, clock: clock, events: events}
}

func post(t *testing.T, m *Manager, in PostInput) *blackboard.Finding {
	t.Helper()
	if in.AgentID == "" {
		in.AgentID = "scanner"
	}
	if in.Topic == "" {
		in.Topic = blackboard.TopicSecurity
	}
	if in.Title == "" {
		in.Title = "SQL injection in login handler"
	}
	f, err := m.Post(context.Background(), in)
	require.NoError(t, err)
	return f
}

func conf(v float64) *float64 { return &v }

func TestPost(t *testing.T) {
	ctx := context.Background()

	t.Run("applies defaults and emits finding_created", func(t *testing.T) {
		fx := setup(t)
		f := post(t, fx.m, PostInput{Severity: blackboard.SeverityHigh, Content: "user input reaches the query"})

		assert.Equal(t, blackboard.FindingStatusPublished, f.Status)
		assert.Equal(t, blackboard.ScopeSession, f.Scope)
		assert.Equal(t, DefaultConfidence, f.Confidence)
		assert.Equal(t, testutil.TestInstance, f.Instance)
		assert.Equal(t, "s1", f.Session)

		events := fx.events.Events()
		require.Len(t, events, 1)
		assert.Equal(t, blackboard.EventFindingCreated, events[0].Type)
		assert.Equal(t, blackboard.TopicSecurity, events[0].Topic())
		assert.Equal(t, blackboard.SeverityHigh, events[0].Severity())
		assert.Equal(t, "scanner", events[0].SourceAgentID)

		got := fx.m.Get(ctx, f.ID)
		require.NotNil(t, got)
		assert.Equal(t, f.Title, got.Title)
		assert.Equal(t, "user input reaches the query", got.Content)
	})

	t.Run("drafts emit nothing until published", func(t *testing.T) {
		fx := setup(t)
		f := post(t, fx.m, PostInput{Draft: true})
		assert.Equal(t, blackboard.FindingStatusDraft, f.Status)
		assert.Empty(t, fx.events.Events())

		published, err := fx.m.Publish(ctx, f.ID)
		require.NoError(t, err)
		assert.Equal(t, blackboard.FindingStatusPublished, published.Status)
		assert.Equal(t, []blackboard.EventType{blackboard.EventFindingCreated}, fx.events.Types())
	})

	t.Run("uses the configured default scope", func(t *testing.T) {
		s, _ := testutil.NewStore(t)
		m := New(s, testutil.Origin(""), logging.Nop(), WithDefaultScope(blackboard.ScopePersistent))
		f := post(t, m, PostInput{})
		assert.Equal(t, blackboard.ScopePersistent, f.Scope)
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		fx := setup(t)
		cases := []PostInput{
			{AgentID: "a", Topic: "gossip", Title: "t"},
			{AgentID: "a", Topic: blackboard.TopicBug, Title: "  "},
			{AgentID: "a", Topic: blackboard.TopicBug, Title: "t", Confidence: conf(1.5)},
			{AgentID: "", Topic: blackboard.TopicBug, Title: "t"},
			{AgentID: "a", Topic: blackboard.TopicBug, Title: "t", Severity: "urgent"},
		}
		for _, in := range cases {
			_, err := fx.m.Post(ctx, in)
			assert.ErrorIs(t, err, blackboard.ErrInvalidInput, "input %+v", in)
		}
		assert.Empty(t, fx.events.Events())
	})
}

func TestGetUnknown(t *testing.T) {
	fx := setup(t)
	assert.Nil(t, fx.m.Get(context.Background(), blackboard.NewID()))
	assert.Nil(t, fx.m.Get(context.Background(), "../../etc"))
}

func TestGetUnparseable(t *testing.T) {
	fx := setup(t)
	id := blackboard.NewID()
	_, err := fx.store.Put(context.Background(), store.Document{Path: blackboard.FindingPath(blackboard.TopicBug, id), Content: "not a finding"})
	require.NoError(t, err)
	assert.Nil(t, fx.m.Get(context.Background(), id))
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("acknowledge then resolve", func(t *testing.T) {
		fx := setup(t)
		f := post(t, fx.m, PostInput{Severity: blackboard.SeverityCritical})

		fx.clock.Advance(time.Minute)
		acked, err := fx.m.Acknowledge(ctx, f.ID, "reviewer")
		require.NoError(t, err)
		assert.Equal(t, blackboard.FindingStatusAcknowledged, acked.Status)
		assert.Equal(t, "reviewer", acked.AcknowledgedBy)
		require.NotNil(t, acked.AcknowledgedAt)
		assert.Equal(t, fx.clock.Now(), *acked.AcknowledgedAt)

		resolved, err := fx.m.Resolve(ctx, f.ID, "fixer", "parameterized the query")
		require.NoError(t, err)
		assert.Equal(t, blackboard.FindingStatusResolved, resolved.Status)

		got := fx.m.Get(ctx, f.ID)
		require.NotNil(t, got)
		assert.Equal(t, blackboard.FindingStatusResolved, got.Status)
		assert.Equal(t, "reviewer", got.AcknowledgedBy)
		assert.Equal(t, "fixer", got.ResolvedBy)
		assert.Equal(t, "parameterized the query", got.Resolution)
		assert.Equal(t, f.Content, got.Content, "body is never rewritten")

		assert.Equal(t, []blackboard.EventType{
			blackboard.EventFindingCreated,
			blackboard.EventFindingUpdated,
			blackboard.EventFindingResolved,
		}, fx.events.Types())
		last := fx.events.Events()[2]
		assert.Equal(t, "fixer", last.SourceAgentID)
		assert.Equal(t, blackboard.SeverityCritical, last.Severity())
		assert.Equal(t, blackboard.TopicSecurity, last.Topic())

		assert.Len(t, fx.m.Query(ctx, Filter{Status: blackboard.FindingStatusResolved}), 1)
		assert.Empty(t, fx.m.Query(ctx, Filter{Status: blackboard.FindingStatusPublished}))
	})

	t.Run("reject from published", func(t *testing.T) {
		fx := setup(t)
		f := post(t, fx.m, PostInput{})
		rejected, err := fx.m.Reject(ctx, f.ID, "reviewer", "false positive")
		require.NoError(t, err)
		assert.Equal(t, blackboard.FindingStatusRejected, rejected.Status)
		assert.Equal(t, "false positive", fx.m.Get(ctx, f.ID).RejectReason)
	})

	t.Run("invalid transitions are refused", func(t *testing.T) {
		fx := setup(t)
		f := post(t, fx.m, PostInput{})
		_, err := fx.m.Resolve(ctx, f.ID, "fixer", "done")
		require.NoError(t, err)

		_, err = fx.m.Acknowledge(ctx, f.ID, "reviewer")
		assert.ErrorIs(t, err, blackboard.ErrInvalidTransition)
		_, err = fx.m.Publish(ctx, f.ID)
		assert.ErrorIs(t, err, blackboard.ErrInvalidTransition)
	})

	t.Run("unknown id fails cleanly without an event", func(t *testing.T) {
		fx := setup(t)
		_, err := fx.m.Acknowledge(ctx, blackboard.NewID(), "reviewer")
		assert.ErrorIs(t, err, blackboard.ErrNotFound)
		_, err = fx.m.Resolve(ctx, blackboard.NewID(), "reviewer", "x")
		assert.ErrorIs(t, err, blackboard.ErrNotFound)
		assert.Empty(t, fx.events.Events())
	})

	t.Run("agent id is required", func(t *testing.T) {
		fx := setup(t)
		f := post(t, fx.m, PostInput{})
		_, err := fx.m.Acknowledge(ctx, f.ID, "")
		assert.ErrorIs(t, err, blackboard.ErrInvalidInput)
	})
}

func TestLookupIsExact(t *testing.T) {
	ctx := context.Background()
	fx := setup(t)
	a := post(t, fx.m, PostInput{Title: "first"})
	post(t, fx.m, PostInput{Topic: blackboard.TopicBug, Title: "second"})
	created := len(fx.events.Events())

	for _, id := range []string{"*", a.ID[:4] + "*", a.ID[:len(a.ID)-1] + "?", "[" + a.ID[:1] + "]*"} {
		t.Run(id, func(t *testing.T) {
			assert.Nil(t, fx.m.Get(ctx, id))
			assert.Empty(t, fx.m.PathOf(ctx, id))

			_, err := fx.m.Acknowledge(ctx, id, "reviewer")
			assert.ErrorIs(t, err, blackboard.ErrNotFound)
			_, err = fx.m.Resolve(ctx, id, "fixer", "done")
			assert.ErrorIs(t, err, blackboard.ErrNotFound)
		})
	}

	assert.Len(t, fx.events.Events(), created, "wildcard ids never transition anything")
	assert.Equal(t, blackboard.FindingStatusPublished, fx.m.Get(ctx, a.ID).Status)
}

// racingStore runs interfere once, just before the first conditional tag
// update, to stand in for a competing writer.
type racingStore struct {
	store.Store
	once      sync.Once
	interfere func()
}

func (r *racingStore) UpdateTagsIf(ctx context.Context, path string, add, remove []store.Tag, metadata map[string]string, expectedRevision int64) (int64, error) {
	r.once.Do(r.interfere)
	return r.Store.UpdateTagsIf(ctx, path, add, remove, metadata, expectedRevision)
}

func statusTags(t *testing.T, s store.Store, path string) int {
	t.Helper()
	doc, err := s.Get(context.Background(), path)
	require.NoError(t, err)
	n := 0
	for _, tag := range doc.Tags {
		if tag.Key == blackboard.TagStatus {
			n++
		}
	}
	return n
}

func TestConcurrentTransitions(t *testing.T) {
	ctx := context.Background()

	t.Run("a stale read loses to the competing transition", func(t *testing.T) {
		base, _ := testutil.NewStore(t)
		racing := &racingStore{Store: base}
		fx := setupOn(t, racing, testutil.Origin("s1"))
		f := post(t, fx.m, PostInput{Severity: blackboard.SeverityHigh})

		rival := New(base, testutil.Origin("s1"), logging.Nop(), WithClock(fx.clock.Now), WithEmitter(fx.events))
		racing.interfere = func() {
			_, err := rival.Reject(ctx, f.ID, "reviewer", "duplicate")
			require.NoError(t, err)
		}

		_, err := fx.m.Resolve(ctx, f.ID, "fixer", "patched")
		assert.ErrorIs(t, err, blackboard.ErrInvalidTransition)

		got := fx.m.Get(ctx, f.ID)
		require.NotNil(t, got)
		assert.Equal(t, blackboard.FindingStatusRejected, got.Status)
		assert.Empty(t, got.ResolvedBy)
		assert.Equal(t, 1, statusTags(t, base, blackboard.FindingPath(f.Topic, f.ID)))
		assert.Equal(t, []blackboard.EventType{
			blackboard.EventFindingCreated,
			blackboard.EventFindingUpdated,
		}, fx.events.Types())
	})

	t.Run("resolve and reject race to one outcome", func(t *testing.T) {
		fx := setup(t)
		f := post(t, fx.m, PostInput{})

		var (
			wg   sync.WaitGroup
			errs = make([]error, 2)
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, errs[0] = fx.m.Resolve(ctx, f.ID, "fixer", "patched")
		}()
		go func() {
			defer wg.Done()
			_, errs[1] = fx.m.Reject(ctx, f.ID, "reviewer", "not reproducible")
		}()
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
				continue
			}
			assert.ErrorIs(t, err, blackboard.ErrInvalidTransition)
		}
		assert.Equal(t, 1, wins)
		assert.Equal(t, 1, statusTags(t, fx.store, blackboard.FindingPath(f.Topic, f.ID)))
		assert.Len(t, fx.events.Events(), 2, "one created plus one transition")

		got := fx.m.Get(ctx, f.ID)
		require.NotNil(t, got)
		if errs[0] == nil {
			assert.Equal(t, blackboard.FindingStatusResolved, got.Status)
		} else {
			assert.Equal(t, blackboard.FindingStatusRejected, got.Status)
		}
	})
}

func TestQuery(t *testing.T) {
	ctx := context.Background()
	fx := setup(t)

	high := post(t, fx.m, PostInput{Severity: blackboard.SeverityHigh, Confidence: conf(0.9)})
	fx.clock.Advance(time.Second)
	crit := post(t, fx.m, PostInput{Severity: blackboard.SeverityCritical, Confidence: conf(0.4), AgentID: "auditor"})
	fx.clock.Advance(time.Second)
	low := post(t, fx.m, PostInput{Severity: blackboard.SeverityLow, Topic: blackboard.TopicPerformance, ContextID: "ctx-1"})

	ids := func(fs []*blackboard.Finding) []string {
		var out []string
		for _, f := range fs {
			out = append(out, f.ID)
		}
		return out
	}

	t.Run("newest first", func(t *testing.T) {
		assert.Equal(t, []string{low.ID, crit.ID, high.ID}, ids(fx.m.Query(ctx, Filter{})))
	})

	t.Run("tags are ANDed", func(t *testing.T) {
		assert.Equal(t, []string{crit.ID}, ids(fx.m.Query(ctx, Filter{Topic: blackboard.TopicSecurity, AgentID: "auditor"})))
		assert.Empty(t, fx.m.Query(ctx, Filter{Topic: blackboard.TopicPerformance, AgentID: "auditor"}))
		assert.Equal(t, []string{low.ID}, ids(fx.m.Query(ctx, Filter{ContextID: "ctx-1"})))
	})

	t.Run("severity allow-list is ORed client-side", func(t *testing.T) {
		got := fx.m.Query(ctx, Filter{Severity: []blackboard.Severity{blackboard.SeverityHigh, blackboard.SeverityCritical}})
		assert.Equal(t, []string{crit.ID, high.ID}, ids(got))
	})

	t.Run("min confidence", func(t *testing.T) {
		assert.Equal(t, []string{high.ID}, ids(fx.m.Query(ctx, Filter{Topic: blackboard.TopicSecurity, MinConfidence: 0.5})))
	})

	t.Run("pagination", func(t *testing.T) {
		assert.Equal(t, []string{crit.ID}, ids(fx.m.Query(ctx, Filter{Limit: 1, Offset: 1})))
	})
}

func TestQueryHidesExpiredFindings(t *testing.T) {
	ctx := context.Background()
	fx := setup(t)
	f := post(t, fx.m, PostInput{TTL: time.Hour})

	assert.Len(t, fx.m.Query(ctx, Filter{}), 1)
	fx.clock.Advance(2 * time.Hour)
	assert.Empty(t, fx.m.Query(ctx, Filter{}))
	assert.Len(t, fx.m.Query(ctx, Filter{IncludeExpired: true}), 1)
	assert.NotNil(t, fx.m.Get(ctx, f.ID), "expiry hides, never deletes")
}

func TestInstanceVisibility(t *testing.T) {
	ctx := context.Background()
	s, _ := testutil.NewStore(t)
	alpha := setupOn(t, s, blackboard.FixedOrigin{Instance: "alpha"})
	beta := setupOn(t, s, blackboard.FixedOrigin{Instance: "beta"})

	a := post(t, alpha.m, PostInput{Title: "alpha finding"})
	b := post(t, beta.m, PostInput{Title: "beta finding"})

	assert.Len(t, alpha.m.Query(ctx, Filter{}), 1)
	assert.Equal(t, a.ID, alpha.m.Query(ctx, Filter{})[0].ID)
	assert.Len(t, alpha.m.Query(ctx, Filter{Instance: query.AllInstances}), 2)
	assert.Equal(t, b.ID, alpha.m.Query(ctx, Filter{Instance: "beta"})[0].ID)

	_, err := s.UpdateTags(ctx, blackboard.FindingPath(b.Topic, b.ID), []store.Tag{blackboard.DurableTag}, nil, nil)
	require.NoError(t, err)
	assert.Len(t, alpha.m.Query(ctx, Filter{}), 2, "durable findings cross instances")
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	fx := setup(t)
	post(t, fx.m, PostInput{Title: "Slow query", Topic: blackboard.TopicPerformance, Content: "the index is missing"})
	best := post(t, fx.m, PostInput{Title: "Token leak", Content: "token logged; token cached; token in url"})
	post(t, fx.m, PostInput{Title: "Stale token", Content: "cache holds an old value"})

	hits := fx.m.Search(ctx, "token", Filter{})
	require.Len(t, hits, 2)
	assert.Equal(t, best.ID, hits[0].Finding.ID)
	assert.Greater(t, hits[0].Score, hits[1].Score)

	assert.Empty(t, fx.m.Search(ctx, "token", Filter{Topic: blackboard.TopicPerformance}))
	assert.Empty(t, fx.m.Search(ctx, "   ", Filter{}))
}

func TestGrep(t *testing.T) {
	ctx := context.Background()
	fx := setup(t)
	post(t, fx.m, PostInput{Content: "line one\ncalls eval(input)\nline three"})
	post(t, fx.m, PostInput{Content: "nothing here"})

	matches := fx.m.Grep(ctx, `eval\(`, Filter{})
	require.Len(t, matches, 1)
	assert.Contains(t, matches[0].Text, "eval(input)")

	assert.Nil(t, fx.m.Grep(ctx, `(`, Filter{}), "bad patterns degrade to empty")
}

func TestThreadAndRelated(t *testing.T) {
	ctx := context.Background()
	fx := setup(t)
	taskID := blackboard.NewID()

	root := post(t, fx.m, PostInput{Title: "root", References: []blackboard.Reference{{Type: blackboard.RefTask, Target: taskID}}})
	fx.clock.Advance(time.Second)
	first := post(t, fx.m, PostInput{Title: "first reply", ParentID: root.ID, Topic: blackboard.TopicBug})
	fx.clock.Advance(time.Second)
	second := post(t, fx.m, PostInput{Title: "second reply", ParentID: root.ID})

	thread := fx.m.Thread(ctx, root.ID)
	require.Len(t, thread, 2)
	assert.Equal(t, first.ID, thread[0].ID)
	assert.Equal(t, second.ID, thread[1].ID)

	_, err := fx.store.Put(ctx, store.Document{Path: blackboard.TaskPath(taskID), Content: "{}"})
	require.NoError(t, err)

	related := fx.m.Related(ctx, root.ID, 1)
	assert.ElementsMatch(t, []string{
		blackboard.FindingPath(first.Topic, first.ID),
		blackboard.FindingPath(second.Topic, second.ID),
		blackboard.TaskPath(taskID),
	}, related)

	assert.Nil(t, fx.m.Related(ctx, blackboard.NewID(), 1))
}

func TestArchiveSessionScoped(t *testing.T) {
	ctx := context.Background()
	fx := setup(t)

	ephemeral := post(t, fx.m, PostInput{Scope: blackboard.ScopeSession})
	kept := post(t, fx.m, PostInput{Scope: blackboard.ScopePersistent})

	n, err := fx.m.ArchiveSessionScoped(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	visible := fx.m.Query(ctx, Filter{})
	require.Len(t, visible, 1)
	assert.Equal(t, kept.ID, visible[0].ID)

	archived := fx.m.Get(ctx, ephemeral.ID)
	require.NotNil(t, archived, "archival never deletes")
	assert.True(t, archived.Archived)

	doc, err := fx.store.Get(ctx, blackboard.FindingPath(ephemeral.Topic, ephemeral.ID))
	require.NoError(t, err)
	assert.True(t, doc.HasTag(blackboard.ArchivedSessionTag("s1")))
	assert.False(t, doc.HasTag(blackboard.SessionTag("s1")))
	assert.NotEmpty(t, doc.Metadata[blackboard.MetaArchivedAt])

	n, err = fx.m.ArchiveSessionScoped(ctx, "s1")
	require.NoError(t, err)
	assert.Zero(t, n, "archival is idempotent")

	assert.Len(t, fx.m.Query(ctx, Filter{IncludeArchived: true}), 2)

	_, err = fx.m.ArchiveSessionScoped(ctx, "")
	assert.ErrorIs(t, err, blackboard.ErrInvalidInput)
}
