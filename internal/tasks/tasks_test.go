package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dyluth/chalk/internal/logging"
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
	clock := testutil.NewClock()
	events := &testutil.Recorder{}
	m := New(s, testutil.Origin(""), logging.Nop(), WithClock(clock.Now), WithEmitter(events))
	return &fixture{m: m, store: s, clock: clock, events: events}
}

func priority(p int) *int { return &p }

func (fx *fixture) create(t *testing.T, in CreateInput) *blackboard.Task {
	t.Helper()
	if in.Title == "" {
		in.Title = "task"
	}
	if in.CreatedBy == "" {
		in.CreatedBy = "planner"
	}
	task, err := fx.m.Create(context.Background(), in)
	require.NoError(t, err)
	fx.clock.Advance(time.Millisecond)
	return task
}

func ids(ts []*blackboard.Task) []string {
	var out []string
	for _, t := range ts {
		out = append(out, t.ID)
	}
	return out
}

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults", func(t *testing.T) {
		fx := setup(t)
		task := fx.create(t, CreateInput{Title: "  audit auth  "})
		assert.Equal(t, "audit auth", task.Title)
		assert.Equal(t, blackboard.TaskStatusPending, task.Status)
		assert.Equal(t, DefaultPriority, task.Priority)
		assert.Equal(t, blackboard.TaskTypeGeneral, task.Type)
		assert.Empty(t, task.AssignedTo)

		assert.Equal(t, []blackboard.EventType{blackboard.EventTaskCreated}, fx.events.Types())
		assert.Equal(t, "planner", fx.events.Events()[0].SourceAgentID)

		got := fx.m.Get(ctx, task.ID)
		require.NotNil(t, got)
		assert.Equal(t, task.ID, got.ID)
	})

	t.Run("explicit priority zero is kept", func(t *testing.T) {
		fx := setup(t)
		assert.Equal(t, 0, fx.create(t, CreateInput{Priority: priority(0)}).Priority)
	})

	t.Run("dependencies are de-duplicated", func(t *testing.T) {
		fx := setup(t)
		a := fx.create(t, CreateInput{})
		b := fx.create(t, CreateInput{DependsOn: []string{a.ID, a.ID, " "}})
		assert.Equal(t, []string{a.ID}, b.DependsOn)
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		fx := setup(t)
		cases := []CreateInput{
			{Title: "", CreatedBy: "p"},
			{Title: "t", CreatedBy: ""},
			{Title: "t", CreatedBy: "p", Priority: priority(5)},
			{Title: "t", CreatedBy: "p", Type: "chores"},
		}
		for _, in := range cases {
			_, err := fx.m.Create(ctx, in)
			assert.ErrorIs(t, err, blackboard.ErrInvalidInput, "input %+v", in)
		}
		assert.Empty(t, fx.events.Events())
	})
}

func TestGetReady(t *testing.T) {
	ctx := context.Background()

	t.Run("dependent task becomes ready only after its dependency completes", func(t *testing.T) {
		fx := setup(t)
		a := fx.create(t, CreateInput{Title: "A"})
		b := fx.create(t, CreateInput{Title: "B", DependsOn: []string{a.ID}})

		assert.Equal(t, []string{a.ID}, ids(fx.m.GetReady(ctx, ReadyFilter{})))

		_, err := fx.m.Claim(ctx, a.ID, "worker")
		require.NoError(t, err)
		_, err = fx.m.Complete(ctx, a.ID, nil)
		require.NoError(t, err)

		assert.Equal(t, []string{b.ID}, ids(fx.m.GetReady(ctx, ReadyFilter{})))
	})

	t.Run("any non-completed dependency blocks", func(t *testing.T) {
		for _, status := range []blackboard.TaskStatus{
			blackboard.TaskStatusPending,
			blackboard.TaskStatusClaimed,
			blackboard.TaskStatusWorking,
			blackboard.TaskStatusBlocked,
			blackboard.TaskStatusFailed,
		} {
			t.Run(string(status), func(t *testing.T) {
				fx := setup(t)
				dep := fx.create(t, CreateInput{Title: "dep"})
				if status != blackboard.TaskStatusPending {
					_, err := fx.m.Claim(ctx, dep.ID, "worker")
					require.NoError(t, err)
				}
				for _, step := range pathTo(status) {
					s := step
					_, err := fx.m.Update(ctx, dep.ID, UpdateInput{Status: &s})
					require.NoError(t, err)
				}
				blocked := fx.create(t, CreateInput{DependsOn: []string{dep.ID}})

				for _, r := range fx.m.GetReady(ctx, ReadyFilter{}) {
					assert.NotEqual(t, blocked.ID, r.ID)
				}
			})
		}
	})

	t.Run("missing dependency blocks", func(t *testing.T) {
		fx := setup(t)
		fx.create(t, CreateInput{DependsOn: []string{blackboard.NewID()}})
		assert.Empty(t, fx.m.GetReady(ctx, ReadyFilter{}))
	})

	t.Run("unreadable dependency blocks", func(t *testing.T) {
		fx := setup(t)
		broken := blackboard.NewID()
		_, err := fx.store.Put(ctx, store.Document{Path: blackboard.TaskPath(broken), Content: "{not json"})
		require.NoError(t, err)
		fx.create(t, CreateInput{DependsOn: []string{broken}})
		assert.Empty(t, fx.m.GetReady(ctx, ReadyFilter{}))
	})

	t.Run("sorted by ascending priority", func(t *testing.T) {
		fx := setup(t)
		var want [4]string
		for _, p := range []int{2, 0, 3, 1} {
			want[p] = fx.create(t, CreateInput{Priority: priority(p)}).ID
		}
		assert.Equal(t, want[:], ids(fx.m.GetReady(ctx, ReadyFilter{})))
	})

	t.Run("type filter", func(t *testing.T) {
		fx := setup(t)
		review := fx.create(t, CreateInput{Type: blackboard.TaskTypeReview})
		fx.create(t, CreateInput{Type: blackboard.TaskTypeFix})
		got := fx.m.GetReady(ctx, ReadyFilter{Types: []blackboard.TaskType{blackboard.TaskTypeReview}})
		assert.Equal(t, []string{review.ID}, ids(got))
	})

	t.Run("claimed tasks are not ready", func(t *testing.T) {
		fx := setup(t)
		a := fx.create(t, CreateInput{})
		_, err := fx.m.Claim(ctx, a.ID, "worker")
		require.NoError(t, err)
		assert.Empty(t, fx.m.GetReady(ctx, ReadyFilter{}))
	})
}

// pathTo returns the updates that move a freshly claimed task to status.
func pathTo(status blackboard.TaskStatus) []blackboard.TaskStatus {
	switch status {
	case blackboard.TaskStatusWorking:
		return []blackboard.TaskStatus{blackboard.TaskStatusWorking}
	case blackboard.TaskStatusBlocked:
		return []blackboard.TaskStatus{blackboard.TaskStatusWorking, blackboard.TaskStatusBlocked}
	case blackboard.TaskStatusFailed:
		return []blackboard.TaskStatus{blackboard.TaskStatusFailed}
	default:
		return nil
	}
}

func TestClaim(t *testing.T) {
	ctx := context.Background()

	t.Run("claims a pending task", func(t *testing.T) {
		fx := setup(t)
		task := fx.create(t, CreateInput{})
		claimed, err := fx.m.Claim(ctx, task.ID, "worker")
		require.NoError(t, err)
		assert.Equal(t, blackboard.TaskStatusClaimed, claimed.Status)
		assert.Equal(t, "worker", claimed.AssignedTo)
		require.NotNil(t, claimed.ClaimedAt)
		assert.Equal(t, fx.clock.Now(), *claimed.ClaimedAt)

		types := fx.events.Types()
		assert.Equal(t, blackboard.EventTaskClaimed, types[len(types)-1])
		assert.Equal(t, "worker", fx.events.Events()[len(types)-1].SourceAgentID)
	})

	t.Run("second claim is rejected", func(t *testing.T) {
		fx := setup(t)
		task := fx.create(t, CreateInput{})
		_, err := fx.m.Claim(ctx, task.ID, "first")
		require.NoError(t, err)

		got, err := fx.m.Claim(ctx, task.ID, "second")
		assert.Nil(t, got)
		assert.ErrorIs(t, err, blackboard.ErrClaimConflict)
		assert.Equal(t, "first", fx.m.Get(ctx, task.ID).AssignedTo)
	})

	t.Run("unknown task", func(t *testing.T) {
		fx := setup(t)
		got, err := fx.m.Claim(ctx, blackboard.NewID(), "worker")
		assert.Nil(t, got)
		assert.ErrorIs(t, err, blackboard.ErrNotFound)
	})

	t.Run("concurrent claims have exactly one winner", func(t *testing.T) {
		fx := setup(t)
		task := fx.create(t, CreateInput{})

		const contenders = 12
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners []string
		)
		for i := 0; i < contenders; i++ {
			wg.Add(1)
			go func(agent string) {
				defer wg.Done()
				_, err := fx.m.Claim(ctx, task.ID, agent)
				if err == nil {
					mu.Lock()
					winners = append(winners, agent)
					mu.Unlock()
					return
				}
				assert.True(t, errors.Is(err, blackboard.ErrClaimConflict), "unexpected error: %v", err)
			}(string(rune('a' + i)))
		}
		wg.Wait()

		require.Len(t, winners, 1)
		assert.Equal(t, winners[0], fx.m.Get(ctx, task.ID).AssignedTo)
	})
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("status change emits task_updated then task_completed", func(t *testing.T) {
		fx := setup(t)
		task := fx.create(t, CreateInput{})
		_, err := fx.m.Claim(ctx, task.ID, "worker")
		require.NoError(t, err)

		working := blackboard.TaskStatusWorking
		_, err = fx.m.Update(ctx, task.ID, UpdateInput{Status: &working})
		require.NoError(t, err)

		done, err := fx.m.Complete(ctx, task.ID, &Results{Findings: []string{"f1"}, Artifacts: []string{"report.md"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"f1"}, done.Findings)
		assert.Equal(t, []string{"report.md"}, done.Artifacts)

		assert.Equal(t, []blackboard.EventType{
			blackboard.EventTaskCreated,
			blackboard.EventTaskClaimed,
			blackboard.EventTaskUpdated,
			blackboard.EventTaskCompleted,
		}, fx.events.Types())
		assert.Equal(t, "worker", fx.events.Events()[3].SourceAgentID)
	})

	t.Run("field-only update emits nothing", func(t *testing.T) {
		fx := setup(t)
		task := fx.create(t, CreateInput{})
		_, err := fx.m.Update(ctx, task.ID, UpdateInput{Artifacts: []string{"notes.txt"}})
		require.NoError(t, err)
		assert.Equal(t, []blackboard.EventType{blackboard.EventTaskCreated}, fx.events.Types())
		assert.Equal(t, []string{"notes.txt"}, fx.m.Get(ctx, task.ID).Artifacts)
	})

	t.Run("fail records the error", func(t *testing.T) {
		fx := setup(t)
		task := fx.create(t, CreateInput{})
		_, err := fx.m.Claim(ctx, task.ID, "worker")
		require.NoError(t, err)
		failed, err := fx.m.Fail(ctx, task.ID, "tests do not compile")
		require.NoError(t, err)
		assert.Equal(t, blackboard.TaskStatusFailed, failed.Status)
		assert.Equal(t, "tests do not compile", fx.m.Get(ctx, task.ID).Error)
	})

	t.Run("invalid transitions are refused", func(t *testing.T) {
		fx := setup(t)
		task := fx.create(t, CreateInput{})

		working := blackboard.TaskStatusWorking
		_, err := fx.m.Update(ctx, task.ID, UpdateInput{Status: &working})
		assert.ErrorIs(t, err, blackboard.ErrInvalidTransition)

		claimed := blackboard.TaskStatusClaimed
		_, err = fx.m.Update(ctx, task.ID, UpdateInput{Status: &claimed, Actor: "sneaky"})
		assert.ErrorIs(t, err, blackboard.ErrInvalidTransition)

		_, err = fx.m.Complete(ctx, task.ID, nil)
		assert.ErrorIs(t, err, blackboard.ErrInvalidTransition)
		assert.Equal(t, blackboard.TaskStatusPending, fx.m.Get(ctx, task.ID).Status)
	})

	t.Run("unknown task", func(t *testing.T) {
		fx := setup(t)
		_, err := fx.m.Complete(ctx, blackboard.NewID(), nil)
		assert.ErrorIs(t, err, blackboard.ErrNotFound)
		assert.Nil(t, fx.m.Get(ctx, blackboard.NewID()))
	})
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("pending task is assigned to the canceller", func(t *testing.T) {
		fx := setup(t)
		task := fx.create(t, CreateInput{})
		cancelled, err := fx.m.Cancel(ctx, task.ID, "planner", "superseded")
		require.NoError(t, err)
		assert.Equal(t, blackboard.TaskStatusCancelled, cancelled.Status)
		assert.Equal(t, "planner", cancelled.AssignedTo)
		assert.Equal(t, "superseded", cancelled.Error)
	})

	t.Run("claimed task keeps its assignee", func(t *testing.T) {
		fx := setup(t)
		task := fx.create(t, CreateInput{})
		_, err := fx.m.Claim(ctx, task.ID, "worker")
		require.NoError(t, err)
		cancelled, err := fx.m.Cancel(ctx, task.ID, "planner", "")
		require.NoError(t, err)
		assert.Equal(t, "worker", cancelled.AssignedTo)
	})

	t.Run("working task cannot be cancelled", func(t *testing.T) {
		fx := setup(t)
		task := fx.create(t, CreateInput{})
		_, err := fx.m.Claim(ctx, task.ID, "worker")
		require.NoError(t, err)
		working := blackboard.TaskStatusWorking
		_, err = fx.m.Update(ctx, task.ID, UpdateInput{Status: &working})
		require.NoError(t, err)

		_, err = fx.m.Cancel(ctx, task.ID, "planner", "")
		assert.ErrorIs(t, err, blackboard.ErrInvalidTransition)
	})

	t.Run("pending cancel needs an actor", func(t *testing.T) {
		fx := setup(t)
		task := fx.create(t, CreateInput{})
		_, err := fx.m.Cancel(ctx, task.ID, "", "")
		assert.ErrorIs(t, err, blackboard.ErrInvalidInput)
	})
}

func TestList(t *testing.T) {
	ctx := context.Background()
	fx := setup(t)
	low := fx.create(t, CreateInput{Priority: priority(4), Type: blackboard.TaskTypeReview})
	high := fx.create(t, CreateInput{Priority: priority(0), ContextID: "ctx-1"})
	_, err := fx.m.Claim(ctx, high.ID, "worker")
	require.NoError(t, err)

	assert.Equal(t, []string{high.ID, low.ID}, ids(fx.m.List(ctx, Filter{})))
	assert.Equal(t, []string{high.ID}, ids(fx.m.List(ctx, Filter{AssignedTo: "worker"})))
	assert.Equal(t, []string{high.ID}, ids(fx.m.List(ctx, Filter{ContextID: "ctx-1"})))
	assert.Equal(t, []string{low.ID}, ids(fx.m.List(ctx, Filter{Status: blackboard.TaskStatusPending})))
	assert.Equal(t, []string{low.ID}, ids(fx.m.List(ctx, Filter{Type: blackboard.TaskTypeReview})))
	assert.Equal(t, []string{low.ID}, ids(fx.m.List(ctx, Filter{Offset: 1})))
	assert.Empty(t, fx.m.List(ctx, Filter{Instance: "elsewhere"}))
}

func TestResultFindingsBecomeLinks(t *testing.T) {
	ctx := context.Background()
	s, _ := testutil.NewStore(t)
	findingPath := blackboard.FindingPath(blackboard.TopicBug, "f-1")
	_, err := s.Put(ctx, store.Document{Path: findingPath, Content: "x"})
	require.NoError(t, err)

	locate := func(_ context.Context, id string) string {
		if id == "f-1" {
			return findingPath
		}
		return ""
	}
	m := New(s, testutil.Origin(""), logging.Nop(), WithFindingLocator(locate))
	task, err := m.Create(ctx, CreateInput{Title: "t", CreatedBy: "p"})
	require.NoError(t, err)
	_, err = m.Claim(ctx, task.ID, "worker")
	require.NoError(t, err)
	_, err = m.Complete(ctx, task.ID, &Results{Findings: []string{"f-1", "f-unknown"}})
	require.NoError(t, err)

	neighbors, err := s.Neighbors(ctx, blackboard.TaskPath(task.ID), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{findingPath}, neighbors)
}
