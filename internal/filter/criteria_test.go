package filter

import (
	"testing"
	"time"

	"github.com/dyluth/chalk/internal/timespec"
	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/stretchr/testify/assert"
)

func TestCriteria(t *testing.T) {
	at := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	f := &blackboard.Finding{AgentID: "scanner-2", Title: "SQL injection", CreatedAt: at}

	tests := []struct {
		name string
		c    Criteria
		want bool
	}{
		{"empty matches", Criteria{}, true},
		{"agent glob", Criteria{AgentGlob: "scanner-*"}, true},
		{"agent glob miss", Criteria{AgentGlob: "fixer-*"}, false},
		{"title glob", Criteria{TitleGlob: "SQL*"}, true},
		{"inside window", Criteria{Window: timespec.Range{Since: at.Add(-time.Hour), Until: at.Add(time.Hour)}}, true},
		{"before window", Criteria{Window: timespec.Range{Since: at.Add(time.Minute)}}, false},
		{"bad glob never matches", Criteria{AgentGlob: "["}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.c.Finding(f))
		})
	}

	assert.False(t, Criteria{}.HasFilters())
	assert.True(t, Criteria{TitleGlob: "x"}.HasFilters())
}

func TestApply(t *testing.T) {
	tasks := []*blackboard.Task{
		{Title: "fix login", CreatedBy: "lead"},
		{Title: "write docs", CreatedBy: "writer"},
	}
	c := Criteria{AgentGlob: "lead"}
	got := Apply(tasks, c.Task)
	assert.Len(t, got, 1)
	assert.Equal(t, "fix login", got[0].Title)
	assert.Len(t, tasks, 2)
}
