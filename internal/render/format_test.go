package render

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func TestFindingsTable(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		var buf bytes.Buffer
		Findings(&buf, nil, now)
		assert.Equal(t, "No findings found\n", buf.String())
	})

	t.Run("rows", func(t *testing.T) {
		var buf bytes.Buffer
		Findings(&buf, []*blackboard.Finding{{
			ID:        "0f8fad5b-d9cb-469f-a165-70867728950e",
			Topic:     blackboard.TopicSecurity,
			Severity:  blackboard.SeverityHigh,
			Status:    blackboard.FindingStatusPublished,
			AgentID:   "scanner",
			Title:     "Token logged\nsecond line",
			CreatedAt: now.Add(-5 * time.Minute),
		}}, now)

		out := buf.String()
		assert.Contains(t, out, "0f8fad5b ")
		assert.Contains(t, out, "5m ago")
		assert.Contains(t, out, "Token logged")
		assert.NotContains(t, out, "second line")
		assert.True(t, strings.HasSuffix(out, "\n1 finding\n"))
	})
}

func TestTasksTable(t *testing.T) {
	var buf bytes.Buffer
	Tasks(&buf, []*blackboard.Task{
		{ID: "a", Priority: 0, Status: blackboard.TaskStatusPending, Type: blackboard.TaskTypeFix, Title: "one", CreatedAt: now},
		{ID: "b", Priority: 3, Status: blackboard.TaskStatusClaimed, Type: blackboard.TaskTypeReview, AssignedTo: "w1", DependsOn: []string{"a"}, Title: "two", CreatedAt: now.Add(-26 * time.Hour)},
	}, now)
	out := buf.String()
	assert.Contains(t, out, "p0")
	assert.Contains(t, out, "1d ago")
	assert.Contains(t, out, "\n2 tasks\n")
}

func TestJSONL(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, JSONL(&buf, []*blackboard.Context{{ID: "c1", Name: "one"}, {ID: "c2", Name: "two"}}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var c blackboard.Context
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &c))
	assert.Equal(t, "c2", c.ID)
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "abcdefgh", ShortID("abcdefghijk"))
	assert.Equal(t, "abc", ShortID("abc"))
	assert.Equal(t, "hello w...", Clip("hello world!", 10))
	assert.Equal(t, "héllo", Clip("héllo", 5))
	assert.Equal(t, "first", FirstLine("\n  first \nsecond"))
	assert.Equal(t, "in 2h", Until(now.Add(2*time.Hour), now))
	assert.Equal(t, "expired", Until(now.Add(-time.Second), now))
	assert.Equal(t, "-", Age(time.Time{}, now))

	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatTable, f)
	_, err = ParseFormat("yaml")
	assert.Error(t, err)
}
