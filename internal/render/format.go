// Package render formats blackboard entities for the terminal: fixed-width
// tables for people, JSONL for scripts, indented JSON for single records.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dyluth/chalk/pkg/blackboard"
)

// Format selects list output.
type Format string

const (
	// FormatTable is the human-readable default.
	FormatTable Format = "table"
	// FormatJSONL emits one compact JSON object per line.
	FormatJSONL Format = "jsonl"
)

// ParseFormat validates a --output flag value.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatTable, "":
		return FormatTable, nil
	case FormatJSONL:
		return FormatJSONL, nil
	default:
		return "", fmt.Errorf("unknown output format %q (use table or jsonl)", s)
	}
}

// JSONL writes each item as one line of JSON.
func JSONL[T any](w io.Writer, items []T) error {
	enc := json.NewEncoder(w)
	for _, it := range items {
		if err := enc.Encode(it); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// JSON writes v as indented JSON followed by a newline.
func JSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %T: %w", v, err)
	}
	if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	return nil
}

// Findings writes a findings table.
func Findings(w io.Writer, items []*blackboard.Finding, now time.Time) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No findings found")
		return
	}
	row := "%-8s %-13s %-8s %-12s %-14s %-8s %s\n"
	fmt.Fprintf(w, row, "ID", "TOPIC", "SEV", "STATUS", "BY", "AGE", "TITLE")
	for _, f := range items {
		fmt.Fprintf(w, row,
			ShortID(f.ID), string(f.Topic), dash(string(f.Severity)), string(f.Status),
			Clip(f.AgentID, 14), Age(f.CreatedAt, now), Clip(FirstLine(f.Title), 50))
	}
	count(w, len(items), "finding")
}

// Tasks writes a tasks table.
func Tasks(w io.Writer, items []*blackboard.Task, now time.Time) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No tasks found")
		return
	}
	row := "%-8s %-3s %-10s %-14s %-14s %-5s %-8s %s\n"
	fmt.Fprintf(w, row, "ID", "PRI", "STATUS", "TYPE", "ASSIGNED", "DEPS", "AGE", "TITLE")
	for _, t := range items {
		fmt.Fprintf(w, row,
			ShortID(t.ID), "p"+strconv.Itoa(t.Priority), string(t.Status), string(t.Type),
			Clip(dash(t.AssignedTo), 14), dash(countOrEmpty(len(t.DependsOn))), Age(t.CreatedAt, now), Clip(FirstLine(t.Title), 50))
	}
	count(w, len(items), "task")
}

// Agents writes an agents table.
func Agents(w io.Writer, items []*blackboard.AgentCard, now time.Time) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No agents registered")
		return
	}
	row := "%-20s %-8s %-16s %-8s %s\n"
	fmt.Fprintf(w, row, "ID", "STATUS", "INSTANCE", "SEEN", "CAPABILITIES")
	for _, a := range items {
		fmt.Fprintf(w, row,
			Clip(a.ID, 20), string(a.Status), Clip(a.Instance, 16), Age(a.UpdatedAt, now), dash(strings.Join(a.Capabilities, ",")))
	}
	count(w, len(items), "agent")
}

// Contexts writes a contexts table.
func Contexts(w io.Writer, items []*blackboard.Context, now time.Time) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No contexts found")
		return
	}
	row := "%-20s %-10s %-5s %-5s %-6s %-8s %s\n"
	fmt.Fprintf(w, row, "ID", "STATUS", "FIND", "TASK", "AGENT", "AGE", "NAME")
	for _, c := range items {
		fmt.Fprintf(w, row,
			Clip(c.ID, 20), string(c.Status), strconv.Itoa(len(c.Findings)), strconv.Itoa(len(c.Tasks)),
			strconv.Itoa(len(c.Agents)), Age(c.CreatedAt, now), Clip(c.Name, 40))
	}
	count(w, len(items), "context")
}

// Subscriptions writes a subscriptions table.
func Subscriptions(w io.Writer, items []*blackboard.Subscription, now time.Time) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No subscriptions found")
		return
	}
	row := "%-8s %-10s %-8s %-20s %-10s %s\n"
	fmt.Fprintf(w, row, "ID", "STATUS", "FIELD", "VALUE", "EXPIRES", "SEVERITY")
	for _, s := range items {
		expires := "-"
		if s.ExpiresAt != nil {
			expires = Until(*s.ExpiresAt, now)
		}
		sev := make([]string, len(s.Filters.Severity))
		for i, v := range s.Filters.Severity {
			sev[i] = string(v)
		}
		fmt.Fprintf(w, row,
			ShortID(s.ID), string(s.Status), string(s.PatternType), Clip(s.PatternValue, 20), expires, dash(strings.Join(sev, ",")))
	}
	count(w, len(items), "subscription")
}

// Notifications writes a mailbox table.
func Notifications(w io.Writer, items []*blackboard.Notification, now time.Time) {
	if len(items) == 0 {
		fmt.Fprintln(w, "Mailbox is empty")
		return
	}
	row := "%-8s %-9s %-16s %-8s %-14s %-8s %s\n"
	fmt.Fprintf(w, row, "ID", "STATUS", "EVENT", "SOURCE", "BY", "AGE", "TITLE")
	for _, n := range items {
		fmt.Fprintf(w, row,
			ShortID(n.ID), string(n.Status), string(n.EventType), ShortID(n.SourceID),
			Clip(n.SourceAgentID, 14), Age(n.CreatedAt, now), Clip(FirstLine(n.Summary.Title), 50))
	}
	count(w, len(items), "notification")
}

// ShortID truncates an id to its first 8 characters.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Clip shortens s to at most n runes, marking the cut with "...".
func Clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

// FirstLine returns the first non-blank line of s, trimmed.
func FirstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			return t
		}
	}
	return ""
}

// Age renders how long before now t was, e.g. "5m ago".
func Age(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return compact(now.Sub(t)) + " ago"
}

// Until renders how long after now t is, e.g. "in 2h", or "expired".
func Until(t, now time.Time) string {
	if !t.After(now) {
		return "expired"
	}
	return "in " + compact(t.Sub(now))
}

func compact(d time.Duration) string {
	switch {
	case d < 0:
		d = 0
		fallthrough
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func countOrEmpty(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}

func count(w io.Writer, n int, noun string) {
	if n != 1 {
		noun += "s"
	}
	fmt.Fprintf(w, "\n%d %s\n", n, noun)
}
