package aggregator

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dyluth/chalk/pkg/blackboard"
)

const truncatedMarker = "\n\n_(summary truncated)_\n"

// render writes the markdown report. Elevated and unresolved findings come
// first, then tasks by urgency, then agents.
//
// The high-severity section holds every high or critical finding whatever its
// status, open ones first, matching the high/critical count in the header.
// The open and closed sections hold the rest. Agents split into active and
// idle or offline.
func (a *Aggregator) render(snap *snapshot) string {
	var b strings.Builder
	lim := a.limits

	m := buildManifest(snap)
	var activeAgents, otherAgents []*blackboard.AgentCard
	for _, c := range snap.agents {
		if c.Status == blackboard.AgentStatusActive {
			activeAgents = append(activeAgents, c)
		} else {
			otherAgents = append(otherAgents, c)
		}
	}

	fmt.Fprintf(&b, "# Blackboard summary: %s\n\n", snap.title)
	fmt.Fprintf(&b, "_%s | %d findings (%d open, %d high/critical) | %d tasks (%d active, %d blocked, %d completed) | %d agents (%d active)_\n",
		snap.at.Format(time.RFC3339),
		m.Stats.Findings, m.Stats.OpenFindings, m.Stats.ElevatedFindings,
		m.Stats.Tasks, m.Stats.ActiveTasks, m.Stats.BlockedTasks, m.Stats.CompletedTasks,
		m.Stats.Agents, len(activeAgents))

	var elevated, open, closed []*blackboard.Finding
	for _, f := range snap.findings {
		switch {
		case f.Severity.Elevated():
			elevated = append(elevated, f)
		case f.Status.Open():
			open = append(open, f)
		default:
			closed = append(closed, f)
		}
	}
	section(&b, "High-severity findings", elevated, lim.MaxItems, func(f *blackboard.Finding) string {
		return a.findingLine(f)
	})
	section(&b, "Open findings", open, lim.MaxItems, func(f *blackboard.Finding) string {
		return a.findingLine(f)
	})

	var blocked, active, pending, finished []*blackboard.Task
	for _, t := range snap.tasks {
		switch {
		case t.Status == blackboard.TaskStatusBlocked:
			blocked = append(blocked, t)
		case t.Status.Active():
			active = append(active, t)
		case t.Status == blackboard.TaskStatusPending:
			pending = append(pending, t)
		default:
			finished = append(finished, t)
		}
	}
	section(&b, "Blocked tasks", blocked, lim.MaxItems, a.taskLine)
	section(&b, "Active tasks", active, lim.MaxItems, a.taskLine)
	section(&b, "Pending tasks", pending, lim.MaxItems, a.taskLine)
	section(&b, "Closed findings", closed, lim.MaxItems, func(f *blackboard.Finding) string {
		return fmt.Sprintf("%s `%s` %s", f.Status, shortID(f.ID), clip(f.Title, lim.ItemChars))
	})
	section(&b, "Finished tasks", finished, lim.MaxItems, func(t *blackboard.Task) string {
		return fmt.Sprintf("%s `%s` %s", t.Status, shortID(t.ID), clip(t.Title, lim.ItemChars))
	})
	agentLine := func(c *blackboard.AgentCard) string {
		return fmt.Sprintf("%s (%s): %s", c.ID, c.Status, strings.Join(c.Capabilities, ", "))
	}
	section(&b, "Active agents", activeAgents, lim.MaxItems, agentLine)
	section(&b, "Idle and offline agents", otherAgents, lim.MaxItems, agentLine)

	out := b.String()
	if lim.MaxChars > 0 && len(out) > lim.MaxChars {
		cut := lim.MaxChars - len(truncatedMarker)
		if cut < 0 {
			cut = 0
		}
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = out[:cut] + truncatedMarker
	}
	return out
}

func (a *Aggregator) findingLine(f *blackboard.Finding) string {
	sev := string(f.Severity)
	if sev == "" {
		sev = "unrated"
	}
	line := fmt.Sprintf("**[%s] %s** %s `%s` (%s, by %s, confidence %.2f)",
		sev, f.Topic, clip(f.Title, a.limits.ItemChars), shortID(f.ID), f.Status, f.AgentID, f.Confidence)
	if body := clip(oneLine(f.Content), a.limits.ItemChars); body != "" {
		line += "\n  " + body
	}
	return line
}

func (a *Aggregator) taskLine(t *blackboard.Task) string {
	line := fmt.Sprintf("[p%d] %s %s `%s` (%s)", t.Priority, t.Status, clip(t.Title, a.limits.ItemChars), shortID(t.ID), t.Type)
	if t.AssignedTo != "" {
		line += " assigned to " + t.AssignedTo
	}
	if len(t.DependsOn) > 0 {
		line += fmt.Sprintf(", %d dependencies", len(t.DependsOn))
	}
	if t.Error != "" {
		line += "\n  error: " + clip(oneLine(t.Error), a.limits.ItemChars)
	}
	return line
}

func section[T any](b *strings.Builder, heading string, items []T, max int, line func(T) string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n## %s\n\n", heading)
	shown := items
	if max > 0 && len(shown) > max {
		shown = shown[:max]
	}
	for _, it := range shown {
		b.WriteString("- " + line(it) + "\n")
	}
	if rest := len(items) - len(shown); rest > 0 {
		fmt.Fprintf(b, "- ... and %d more\n", rest)
	}
}

// clip truncates s to max runes, marking the cut.
func clip(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "..."
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
