package contexts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dyluth/chalk/internal/logging"
	"github.com/dyluth/chalk/internal/testutil"
	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Manager, *testutil.Clock) {
	t.Helper()
	s, _ := testutil.NewStore(t)
	clock := testutil.NewClock()
	return New(s, testutil.Origin(""), logging.Nop(), WithClock(clock.Now)), clock
}

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("explicit id", func(t *testing.T) {
		m, _ := setup(t)
		c, err := m.Create(ctx, CreateInput{ID: "auth-review", Name: "Auth review"})
		require.NoError(t, err)
		assert.Equal(t, blackboard.ContextStatusActive, c.Status)

		got := m.Get(ctx, "auth-review")
		require.NotNil(t, got)
		assert.Equal(t, "Auth review", got.Name)
		assert.Empty(t, got.Findings)
	})

	t.Run("generated id", func(t *testing.T) {
		m, _ := setup(t)
		c, err := m.Create(ctx, CreateInput{Name: "Perf sweep"})
		require.NoError(t, err)
		assert.NotEmpty(t, c.ID)
		assert.NotNil(t, m.Get(ctx, c.ID))
	})

	t.Run("duplicate id", func(t *testing.T) {
		m, _ := setup(t)
		_, err := m.Create(ctx, CreateInput{ID: "dup", Name: "one"})
		require.NoError(t, err)
		_, err = m.Create(ctx, CreateInput{ID: "dup", Name: "two"})
		assert.ErrorIs(t, err, blackboard.ErrInvalidInput)
		assert.Equal(t, "one", m.Get(ctx, "dup").Name)
	})

	t.Run("invalid", func(t *testing.T) {
		m, _ := setup(t)
		_, err := m.Create(ctx, CreateInput{ID: "a/b", Name: "x"})
		assert.ErrorIs(t, err, blackboard.ErrInvalidInput)
		_, err = m.Create(ctx, CreateInput{Name: " "})
		assert.ErrorIs(t, err, blackboard.ErrInvalidInput)
	})
}

func TestAttach(t *testing.T) {
	ctx := context.Background()
	m, _ := setup(t)
	_, err := m.Create(ctx, CreateInput{ID: "c1", Name: "c1"})
	require.NoError(t, err)

	m.AttachFinding(ctx, "c1", "f1")
	m.AttachFinding(ctx, "c1", "f1")
	m.AttachTask(ctx, "c1", "t1")
	m.AttachAgent(ctx, "c1", "a1")
	m.AttachAgent(ctx, "missing", "a1")

	c := m.Get(ctx, "c1")
	require.NotNil(t, c)
	assert.Equal(t, []string{"f1"}, c.Findings)
	assert.Equal(t, []string{"t1"}, c.Tasks)
	assert.Equal(t, []string{"a1"}, c.Agents)
	assert.Nil(t, m.Get(ctx, "missing"), "attach never creates contexts")
}

func TestConcurrentAttachKeepsEveryID(t *testing.T) {
	ctx := context.Background()
	m, _ := setup(t)
	_, err := m.Create(ctx, CreateInput{ID: "c1", Name: "c1"})
	require.NoError(t, err)

	ids := []string{"t1", "t2", "t3", "t4"}
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			m.AttachTask(ctx, "c1", id)
		}(id)
	}
	wg.Wait()

	assert.ElementsMatch(t, ids, m.Get(ctx, "c1").Tasks)
}

func TestSetStatusAndList(t *testing.T) {
	ctx := context.Background()
	m, clock := setup(t)
	_, err := m.Create(ctx, CreateInput{ID: "old", Name: "old"})
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = m.Create(ctx, CreateInput{ID: "new", Name: "new"})
	require.NoError(t, err)

	c, err := m.SetStatus(ctx, "old", blackboard.ContextStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, blackboard.ContextStatusCompleted, c.Status)

	all := m.List(ctx, Filter{})
	require.Len(t, all, 2)
	assert.Equal(t, "new", all[0].ID)

	done := m.List(ctx, Filter{Status: blackboard.ContextStatusCompleted})
	require.Len(t, done, 1)
	assert.Equal(t, "old", done[0].ID)

	_, err = m.SetStatus(ctx, "ghost", blackboard.ContextStatusArchived)
	assert.ErrorIs(t, err, blackboard.ErrNotFound)
	_, err = m.SetStatus(ctx, "old", "paused")
	assert.ErrorIs(t, err, blackboard.ErrInvalidInput)
}
