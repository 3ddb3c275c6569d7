package board_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/chalk/internal/board"
	"github.com/dyluth/chalk/internal/board/boardtest"
	"github.com/dyluth/chalk/internal/config"
	"github.com/dyluth/chalk/internal/contexts"
	"github.com/dyluth/chalk/internal/events"
	"github.com/dyluth/chalk/internal/findings"
	"github.com/dyluth/chalk/internal/logging"
	"github.com/dyluth/chalk/internal/tasks"
	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("redis", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		defer mr.Close()

		cfg := config.Default()
		cfg.Store.RedisURL = "redis://" + mr.Addr()
		b, err := board.Open(ctx, cfg, logging.Nop())
		require.NoError(t, err)
		defer b.Close()
		assert.NotNil(t, b.Live)
	})

	t.Run("sqlite", func(t *testing.T) {
		cfg := config.Default()
		cfg.Store.Backend = config.BackendSQLite
		cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "board.sqlite")
		b, err := board.Open(ctx, cfg, logging.Nop())
		require.NoError(t, err)
		defer b.Close()
		assert.Nil(t, b.Live)

		_, err = b.Tasks.Create(ctx, tasks.CreateInput{Title: "works", CreatedBy: "a"})
		require.NoError(t, err)
	})

	t.Run("unreachable redis", func(t *testing.T) {
		cfg := config.Default()
		cfg.Store.RedisURL = "redis://127.0.0.1:1"
		_, err := board.Open(ctx, cfg, logging.Nop())
		assert.Error(t, err)
	})

	t.Run("resumes the active session", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		defer mr.Close()

		cfg := config.Default()
		cfg.Store.RedisURL = "redis://" + mr.Addr()
		first, err := board.Open(ctx, cfg, logging.Nop())
		require.NoError(t, err)
		_, err = first.Session.Start(ctx, "s1")
		require.NoError(t, err)
		require.NoError(t, first.Close())

		second, err := board.Open(ctx, cfg, logging.Nop())
		require.NoError(t, err)
		defer second.Close()
		assert.Equal(t, "s1", second.Session.Session())
	})
}

func TestWiring(t *testing.T) {
	ctx := context.Background()
	b, _ := boardtest.New(t, "")

	_, err := b.Contexts.Create(ctx, contexts.CreateInput{ID: "review", Name: "Review"})
	require.NoError(t, err)

	_, err = b.Events.Subscribe(ctx, events.SubscribeInput{
		SubscriberID: "watcher",
		PatternType:  blackboard.PatternTopic,
		PatternValue: string(blackboard.TopicSecurity),
	})
	require.NoError(t, err)

	f, err := b.Findings.Post(ctx, findings.PostInput{
		AgentID:   "scanner",
		Topic:     blackboard.TopicSecurity,
		Title:     "Token in logs",
		Severity:  blackboard.SeverityHigh,
		ContextID: "review",
	})
	require.NoError(t, err)

	task, err := b.Tasks.Create(ctx, tasks.CreateInput{Title: "Scrub logs", CreatedBy: "scanner", ContextID: "review"})
	require.NoError(t, err)
	_, err = b.Tasks.Claim(ctx, task.ID, "fixer")
	require.NoError(t, err)
	_, err = b.Tasks.Complete(ctx, task.ID, &tasks.Results{Findings: []string{f.ID}})
	require.NoError(t, err)

	// Context linking.
	c := b.Contexts.Get(ctx, "review")
	require.NotNil(t, c)
	assert.Equal(t, []string{f.ID}, c.Findings)
	assert.Equal(t, []string{task.ID}, c.Tasks)

	// Event delivery.
	unread := b.Events.GetUnread(ctx, "watcher", 0)
	require.Len(t, unread, 1)
	assert.Equal(t, f.ID, unread[0].SourceID)

	// Finding locator turns produced findings into links.
	assert.Contains(t, b.Findings.Related(ctx, f.ID, 1), blackboard.TaskPath(task.ID))

	// Aggregation.
	res, err := b.Aggregator.SummarizeWithManifest(ctx, "review")
	require.NoError(t, err)
	assert.Contains(t, res.Markdown, "Token in logs")
	require.Len(t, res.Manifest.Findings, 1)
	require.Len(t, res.Manifest.Tasks, 1)

	stored := b.Aggregator.GetManifest(ctx, "review")
	require.NotNil(t, stored)
	hydrated := b.Aggregator.Hydrate(ctx, stored)
	require.Len(t, hydrated.Findings, 1)
	assert.Equal(t, f.ID, hydrated.Findings[0].ID)
}
