package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/dyluth/chalk/internal/logging"
	"github.com/dyluth/chalk/internal/tasks"
	"github.com/dyluth/chalk/internal/testutil"
	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/dyluth/chalk/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, ids ...string) store.Store {
	t.Helper()
	s, _ := testutil.NewStore(t)
	ctx := context.Background()
	for _, id := range ids {
		task := &blackboard.Task{ID: id, Title: id, Type: blackboard.TaskTypeGeneral, Priority: 2, Status: blackboard.TaskStatusPending, CreatedBy: "a"}
		_, err := s.Put(ctx, store.Document{Path: blackboard.TaskPath(id), Content: "{}", Tags: blackboard.TaskTags(task)})
		require.NoError(t, err)
	}
	return s
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	s := seed(t, "abcdef01-aaaa", "abcdef02-bbbb", "123456-cccc", "short")

	t.Run("unique prefix", func(t *testing.T) {
		id, err := Resolve(ctx, s, blackboard.KindTask, "123456")
		require.NoError(t, err)
		assert.Equal(t, "123456-cccc", id)
	})

	t.Run("exact id below minimum length", func(t *testing.T) {
		id, err := Resolve(ctx, s, blackboard.KindTask, "short")
		require.NoError(t, err)
		assert.Equal(t, "short", id)
	})

	t.Run("prefix too short", func(t *testing.T) {
		_, err := Resolve(ctx, s, blackboard.KindTask, "abc")
		assert.ErrorContains(t, err, "at least 6")
	})

	t.Run("ambiguous", func(t *testing.T) {
		_, err := Resolve(ctx, s, blackboard.KindTask, "abcdef")
		require.True(t, IsAmbiguous(err))
		var amb *AmbiguousError
		require.True(t, errors.As(err, &amb))
		assert.Len(t, amb.Matches, 2)
		assert.Contains(t, amb.Describe(), "abcdef01-aaaa")
	})

	t.Run("not found", func(t *testing.T) {
		_, err := Resolve(ctx, s, blackboard.KindTask, "zzzzzz")
		assert.True(t, IsNotFound(err))
	})

	t.Run("kind is respected", func(t *testing.T) {
		_, err := Resolve(ctx, s, blackboard.KindFinding, "123456")
		assert.True(t, IsNotFound(err))
	})
}

func TestResolve_RealTasks(t *testing.T) {
	ctx := context.Background()
	s, _ := testutil.NewStore(t)
	m := tasks.New(s, testutil.Origin(""), logging.Nop())
	task, err := m.Create(ctx, tasks.CreateInput{Title: "x", CreatedBy: "a"})
	require.NoError(t, err)

	id, err := Resolve(ctx, s, blackboard.KindTask, task.ID[:8])
	require.NoError(t, err)
	assert.Equal(t, task.ID, id)
}
