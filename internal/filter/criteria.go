// Package filter applies the client-side list filters the CLI offers on top
// of the tag queries the managers run.
package filter

import (
	"path/filepath"

	"github.com/dyluth/chalk/internal/timespec"
	"github.com/dyluth/chalk/pkg/blackboard"
)

// Criteria are ANDed together; zero values match everything.
type Criteria struct {
	Window    timespec.Range
	AgentGlob string // glob over the posting or creating agent
	TitleGlob string // glob over the title
}

// HasFilters reports whether any criterion is set.
func (c Criteria) HasFilters() bool {
	return !c.Window.Since.IsZero() || !c.Window.Until.IsZero() || c.AgentGlob != "" || c.TitleGlob != ""
}

// Finding reports whether f passes.
func (c Criteria) Finding(f *blackboard.Finding) bool {
	return c.Window.Contains(f.CreatedAt) && glob(c.AgentGlob, f.AgentID) && glob(c.TitleGlob, f.Title)
}

// Task reports whether t passes.
func (c Criteria) Task(t *blackboard.Task) bool {
	return c.Window.Contains(t.CreatedAt) && glob(c.AgentGlob, t.CreatedBy) && glob(c.TitleGlob, t.Title)
}

// Apply keeps the items keep accepts.
func Apply[T any](items []*T, keep func(*T) bool) []*T {
	out := items[:0:0]
	for _, it := range items {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}

func glob(pattern, s string) bool {
	if pattern == "" {
		return true
	}
	ok, err := filepath.Match(pattern, s)
	return err == nil && ok
}
