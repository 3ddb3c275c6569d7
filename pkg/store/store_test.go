package store

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTagRendering(t *testing.T) {
	assert.Equal(t, "status:pending", T("status", "pending").String())
	assert.Equal(t, "durable", Marker("durable").String())
	assert.Equal(t, T("scope", "session"), ParseTag("scope:session"))
	assert.Equal(t, Marker("archived"), ParseTag("archived"))

	// Values may themselves contain the separator.
	assert.Equal(t, T("pattern", "a:b"), ParseTag("pattern:a:b"))
}

func TestTagStrings(t *testing.T) {
	got := TagStrings([]Tag{T("b", "2"), T("a", "1"), T("b", "2"), {}})
	assert.Equal(t, []string{"a:1", "b:2"}, got)
	assert.Equal(t, []Tag{T("a", "1"), T("b", "2")}, ParseTags(got))
}

func TestGlobMatch(t *testing.T) {
	tests := []struct {
		pattern, path string
		want          bool
	}{
		{"findings/*/abc", "findings/security/abc", true},
		{"findings/*/abc", "findings/security/abd", false},
		{"findings/*/abc", "findings/abc", false},
		{"tasks/*", "tasks/t1", true},
		{"tasks/t1", "tasks/t1", true},
		{"*/x", "a/b/x", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"~"+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, GlobMatch(tt.pattern, tt.path))
		})
	}
	assert.Equal(t, "findings/", GlobPrefix("findings/*/abc"))
	assert.Equal(t, "tasks/t1", GlobPrefix("tasks/t1"))
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, Paginate(items, Query{}))
	assert.Equal(t, []int{3, 4}, Paginate(items, Query{Offset: 2, Limit: 2}))
	assert.Nil(t, Paginate(items, Query{Offset: 9}))
	assert.Equal(t, []int{5}, Paginate(items, Query{Offset: 4, Limit: 10}))
}

func TestScoreAndSnippet(t *testing.T) {
	terms := Terms("SQL Injection!")
	assert.Equal(t, []string{"sql", "injection"}, terms)

	assert.Zero(t, Score(terms, "nothing relevant"))
	// Both terms once: 1+1 each.
	assert.Equal(t, 4.0, Score(terms, "sql injection"))
	// Repetition of one term can match full coverage.
	assert.Equal(t, 4.0, Score(terms, "injection injection injection"))

	content := "header\n  possible SQL issue here  \nfooter"
	assert.Equal(t, "possible SQL issue here", Snippet(terms, content, 100))
	assert.Equal(t, "possible S...", Snippet(terms, content, 10))
	assert.Empty(t, Snippet(terms, "no match", 10))
}

func TestRankHits(t *testing.T) {
	hits := []Hit{
		{Descriptor: Descriptor{Path: "b"}, Score: 1},
		{Descriptor: Descriptor{Path: "c"}, Score: 3},
		{Descriptor: Descriptor{Path: "a"}, Score: 1},
	}
	RankHits(hits)
	assert.Equal(t, "c", hits[0].Path)
	assert.Equal(t, "a", hits[1].Path)
	assert.Equal(t, "b", hits[2].Path)
}

func TestGrepContent(t *testing.T) {
	re := regexp.MustCompile(`err`)
	got := GrepContent(re, "p", "ok\nerr one\nfine\nanother err")
	assert.Equal(t, []GrepMatch{
		{Path: "p", Line: 2, Text: "err one"},
		{Path: "p", Line: 4, Text: "another err"},
	}, got)
}
