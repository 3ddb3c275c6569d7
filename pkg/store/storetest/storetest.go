// Package storetest is a conformance suite every store.Store backend runs.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/dyluth/chalk/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run executes the conformance suite against the backend built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("put and get round trip", func(t *testing.T) { testPutGet(t, newStore(t)) })
	t.Run("get missing returns ErrNotFound", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("put if enforces revision", func(t *testing.T) { testPutIf(t, newStore(t)) })
	t.Run("concurrent put if has one winner", func(t *testing.T) { testPutIfRace(t, newStore(t)) })
	t.Run("list matches all and any", func(t *testing.T) { testList(t, newStore(t)) })
	t.Run("list paginates by path", func(t *testing.T) { testPagination(t, newStore(t)) })
	t.Run("put replaces tag index", func(t *testing.T) { testReindex(t, newStore(t)) })
	t.Run("update tags keeps content", func(t *testing.T) { testUpdateTags(t, newStore(t)) })
	t.Run("update tags if enforces revision", func(t *testing.T) { testUpdateTagsIf(t, newStore(t)) })
	t.Run("concurrent update tags if has one winner", func(t *testing.T) { testUpdateTagsIfRace(t, newStore(t)) })
	t.Run("delete removes from index", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("glob matches one segment per star", func(t *testing.T) { testGlob(t, newStore(t)) })
	t.Run("search ranks by relevance", func(t *testing.T) { testSearch(t, newStore(t)) })
	t.Run("grep returns matching lines", func(t *testing.T) { testGrep(t, newStore(t)) })
	t.Run("neighbors walks both directions", func(t *testing.T) { testNeighbors(t, newStore(t)) })
}

func put(t *testing.T, s store.Store, path, content string, tags ...store.Tag) int64 {
	t.Helper()
	rev, err := s.Put(context.Background(), store.Document{Path: path, Content: content, Tags: tags})
	require.NoError(t, err)
	return rev
}

func paths(descs []store.Descriptor) []string {
	out := make([]string, len(descs))
	for i, d := range descs {
		out[i] = d.Path
	}
	return out
}

func testPutGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	rev, err := s.Put(ctx, store.Document{
		Path:     "tasks/a",
		Content:  `{"id":"a"}`,
		Tags:     []store.Tag{store.T("kind", "task"), store.T("status", "pending"), store.Marker("durable")},
		Metadata: map[string]string{"owner": "agent-1"},
		Links:    []string{"tasks/b"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)

	doc, err := s.Get(ctx, "tasks/a")
	require.NoError(t, err)
	assert.Equal(t, "tasks/a", doc.Path)
	assert.Equal(t, `{"id":"a"}`, doc.Content)
	assert.Equal(t, int64(1), doc.Revision)
	assert.Equal(t, "agent-1", doc.Metadata["owner"])
	assert.Equal(t, []string{"tasks/b"}, doc.Links)
	assert.True(t, doc.HasTag(store.T("status", "pending")))
	assert.True(t, doc.HasTag(store.Marker("durable")))
	assert.Equal(t, "task", doc.TagValue("kind"))
	assert.False(t, doc.UpdatedAt.IsZero())

	rev = put(t, s, "tasks/a", "second")
	assert.Equal(t, int64(2), rev)
}

func testGetMissing(t *testing.T, s store.Store) {
	doc, err := s.Get(context.Background(), "tasks/none")
	assert.Nil(t, doc)
	assert.True(t, store.IsNotFound(err))
}

func testPutIf(t *testing.T, s store.Store) {
	ctx := context.Background()

	rev, err := s.PutIf(ctx, store.Document{Path: "tasks/x", Content: "v1"}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)

	_, err = s.PutIf(ctx, store.Document{Path: "tasks/x", Content: "dup"}, 0)
	assert.True(t, store.IsConflict(err), "create-only write over an existing doc must conflict")

	_, err = s.PutIf(ctx, store.Document{Path: "tasks/x", Content: "stale"}, 7)
	assert.True(t, store.IsConflict(err))

	rev, err = s.PutIf(ctx, store.Document{Path: "tasks/x", Content: "v2"}, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rev)

	doc, err := s.Get(ctx, "tasks/x")
	require.NoError(t, err)
	assert.Equal(t, "v2", doc.Content)
}

func testPutIfRace(t *testing.T, s store.Store) {
	ctx := context.Background()
	put(t, s, "tasks/race", "initial")

	const contenders = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.PutIf(ctx, store.Document{Path: "tasks/race", Content: fmt.Sprintf("winner-%d", i)}, 1)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.True(t, store.IsConflict(err), "unexpected error: %v", err)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func testList(t *testing.T, s store.Store) {
	ctx := context.Background()
	put(t, s, "findings/security/1", "a", store.T("topic", "security"), store.T("severity", "high"))
	put(t, s, "findings/security/2", "b", store.T("topic", "security"), store.T("severity", "low"))
	put(t, s, "findings/bug/3", "c", store.T("topic", "bug"), store.T("severity", "high"))

	all, err := s.List(ctx, store.Query{Tags: []store.Tag{store.T("topic", "security"), store.T("severity", "high")}})
	require.NoError(t, err)
	assert.Equal(t, []string{"findings/security/1"}, paths(all))

	any, err := s.List(ctx, store.Query{
		Tags:  []store.Tag{store.T("topic", "bug"), store.T("severity", "low")},
		Match: store.MatchAny,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"findings/bug/3", "findings/security/2"}, paths(any))

	prefixed, err := s.List(ctx, store.Query{PathPrefix: "findings/security/"})
	require.NoError(t, err)
	assert.Equal(t, []string{"findings/security/1", "findings/security/2"}, paths(prefixed))

	none, err := s.List(ctx, store.Query{Tags: []store.Tag{store.T("topic", "nope")}})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testPagination(t *testing.T, s store.Store) {
	for _, p := range []string{"n/c", "n/a", "n/e", "n/b", "n/d"} {
		put(t, s, p, p, store.T("kind", "note"))
	}
	page, err := s.List(context.Background(), store.Query{Tags: []store.Tag{store.T("kind", "note")}, Offset: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"n/b", "n/c"}, paths(page))
}

func testReindex(t *testing.T, s store.Store) {
	ctx := context.Background()
	put(t, s, "tasks/r", "v1", store.T("status", "pending"))
	put(t, s, "tasks/r", "v2", store.T("status", "claimed"))

	pending, err := s.List(ctx, store.Query{Tags: []store.Tag{store.T("status", "pending")}})
	require.NoError(t, err)
	assert.Empty(t, pending)

	claimed, err := s.List(ctx, store.Query{Tags: []store.Tag{store.T("status", "claimed")}})
	require.NoError(t, err)
	assert.Equal(t, []string{"tasks/r"}, paths(claimed))
}

func testUpdateTags(t *testing.T, s store.Store) {
	ctx := context.Background()
	put(t, s, "findings/bug/u", "body text", store.T("status", "published"), store.T("session", "s1"))

	rev, err := s.UpdateTags(ctx, "findings/bug/u",
		[]store.Tag{store.T("status", "resolved"), store.Marker("archived")},
		[]store.Tag{store.T("status", "published"), store.T("session", "s1")},
		map[string]string{"resolved_by": "agent-2"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rev)

	doc, err := s.Get(ctx, "findings/bug/u")
	require.NoError(t, err)
	assert.Equal(t, "body text", doc.Content)
	assert.Equal(t, "agent-2", doc.Metadata["resolved_by"])
	assert.True(t, doc.HasTag(store.T("status", "resolved")))
	assert.True(t, doc.HasTag(store.Marker("archived")))
	assert.False(t, doc.HasTag(store.T("status", "published")))
	assert.False(t, doc.HasTag(store.T("session", "s1")))

	old, err := s.List(ctx, store.Query{Tags: []store.Tag{store.T("session", "s1")}})
	require.NoError(t, err)
	assert.Empty(t, old)

	_, err = s.UpdateTags(ctx, "findings/bug/missing", nil, nil, nil)
	assert.True(t, store.IsNotFound(err))
}

func testUpdateTagsIf(t *testing.T, s store.Store) {
	ctx := context.Background()
	rev := put(t, s, "findings/bug/c", "body", store.T("status", "published"))

	_, err := s.UpdateTagsIf(ctx, "findings/bug/c",
		[]store.Tag{store.T("status", "resolved")}, []store.Tag{store.T("status", "published")}, nil, rev+5)
	assert.True(t, store.IsConflict(err))

	next, err := s.UpdateTagsIf(ctx, "findings/bug/c",
		[]store.Tag{store.T("status", "resolved")}, []store.Tag{store.T("status", "published")},
		map[string]string{"status": "resolved"}, rev)
	require.NoError(t, err)
	assert.Equal(t, rev+1, next)

	_, err = s.UpdateTagsIf(ctx, "findings/bug/c",
		[]store.Tag{store.T("status", "rejected")}, []store.Tag{store.T("status", "published")}, nil, rev)
	assert.True(t, store.IsConflict(err), "a stale revision must not apply")

	doc, err := s.Get(ctx, "findings/bug/c")
	require.NoError(t, err)
	assert.True(t, doc.HasTag(store.T("status", "resolved")))
	assert.False(t, doc.HasTag(store.T("status", "rejected")))
	assert.Equal(t, "resolved", doc.Metadata["status"])

	_, err = s.UpdateTagsIf(ctx, "findings/bug/missing", nil, nil, nil, 1)
	assert.True(t, store.IsNotFound(err))
}

func testUpdateTagsIfRace(t *testing.T, s store.Store) {
	ctx := context.Background()
	rev := put(t, s, "findings/bug/race", "body", store.T("status", "published"))

	const contenders = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := fmt.Sprintf("s%d", i)
			_, err := s.UpdateTagsIf(ctx, "findings/bug/race",
				[]store.Tag{store.T("status", status)}, []store.Tag{store.T("status", "published")}, nil, rev)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.True(t, store.IsConflict(err), "unexpected error: %v", err)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	doc, err := s.Get(ctx, "findings/bug/race")
	require.NoError(t, err)
	statuses := 0
	for _, tag := range doc.Tags {
		if tag.Key == "status" {
			statuses++
		}
	}
	assert.Equal(t, 1, statuses)
}

func testDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	put(t, s, "tasks/d", "x", store.T("kind", "task"))
	require.NoError(t, s.Delete(ctx, "tasks/d"))
	require.NoError(t, s.Delete(ctx, "tasks/d"))

	_, err := s.Get(ctx, "tasks/d")
	assert.True(t, store.IsNotFound(err))

	listed, err := s.List(ctx, store.Query{Tags: []store.Tag{store.T("kind", "task")}})
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func testGlob(t *testing.T, s store.Store) {
	put(t, s, "findings/security/f1", "a")
	put(t, s, "findings/bug/f1", "b")
	put(t, s, "findings/bug/f2", "c")
	put(t, s, "findings/bug/f1/extra", "d")

	docs, err := s.Glob(context.Background(), "findings/*/f1")
	require.NoError(t, err)
	var got []string
	for _, d := range docs {
		got = append(got, d.Path)
	}
	assert.ElementsMatch(t, []string{"findings/security/f1", "findings/bug/f1"}, got)
}

func testSearch(t *testing.T, s store.Store) {
	ctx := context.Background()
	put(t, s, "findings/security/s1", "SQL injection in login handler.\nInjection again.", store.T("topic", "security"))
	put(t, s, "findings/security/s2", "Weak password hashing", store.T("topic", "security"))
	put(t, s, "findings/bug/s3", "injection of dependencies is broken", store.T("topic", "bug"))

	hits, err := s.Search(ctx, "injection", store.Query{Tags: []store.Tag{store.T("topic", "security")}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "findings/security/s1", hits[0].Path)
	assert.Contains(t, hits[0].Snippet, "injection")

	ranked, err := s.Search(ctx, "injection", store.Query{})
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, "findings/security/s1", ranked[0].Path)
	assert.Greater(t, ranked[0].Score, ranked[1].Score)

	empty, err := s.Search(ctx, "   ", store.Query{})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testGrep(t *testing.T, s store.Store) {
	ctx := context.Background()
	put(t, s, "findings/bug/g1", "line one\nTODO fix this\nline three", store.T("topic", "bug"))
	put(t, s, "findings/style/g2", "TODO rename", store.T("topic", "style"))

	matches, err := s.Grep(ctx, `^TODO`, store.Query{Tags: []store.Tag{store.T("topic", "bug")}})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, store.GrepMatch{Path: "findings/bug/g1", Line: 2, Text: "TODO fix this"}, matches[0])

	_, err = s.Grep(ctx, `([`, store.Query{})
	assert.Error(t, err)
}

func testNeighbors(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.Put(ctx, store.Document{Path: "tasks/b", Content: "b", Links: []string{"tasks/a"}})
	require.NoError(t, err)
	_, err = s.Put(ctx, store.Document{Path: "tasks/c", Content: "c", Links: []string{"tasks/b"}})
	require.NoError(t, err)
	put(t, s, "tasks/a", "a")

	one, err := s.Neighbors(ctx, "tasks/b", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"tasks/a", "tasks/c"}, one)

	fromA, err := s.Neighbors(ctx, "tasks/a", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"tasks/b"}, fromA)

	two, err := s.Neighbors(ctx, "tasks/a", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"tasks/b", "tasks/c"}, two)

	require.NoError(t, s.Delete(ctx, "tasks/c"))
	after, err := s.Neighbors(ctx, "tasks/a", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"tasks/b"}, after)
}
