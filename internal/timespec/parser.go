// Package timespec parses the time arguments CLI flags accept: a Go duration
// ("90m", "2h30m") or an RFC3339 timestamp ("2025-10-29T13:00:00Z").
package timespec

import (
	"fmt"
	"time"
)

// Direction says which way a duration points from now.
type Direction int

const (
	// Past reads "1h" as one hour ago, for --since and --until.
	Past Direction = iota
	// Future reads "1h" as one hour from now, for --expires and --ttl.
	Future
)

// Parse resolves spec against now. Durations must be positive.
func Parse(spec string, now time.Time, dir Direction) (time.Time, error) {
	if spec == "" {
		return time.Time{}, fmt.Errorf("empty time specification")
	}

	if t, err := time.Parse(time.RFC3339, spec); err == nil {
		return t.UTC(), nil
	}

	d, err := time.ParseDuration(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time specification: %s (use duration like '1h30m' or RFC3339 like '2025-10-29T13:00:00Z')", spec)
	}
	if d <= 0 {
		return time.Time{}, fmt.Errorf("duration must be positive: %s", spec)
	}
	if dir == Future {
		return now.Add(d).UTC(), nil
	}
	return now.Add(-d).UTC(), nil
}

// ParseExpiry parses an optional future deadline. An empty spec means no
// deadline and yields nil. Deadlines in the past are rejected.
func ParseExpiry(spec string, now time.Time) (*time.Time, error) {
	if spec == "" {
		return nil, nil
	}
	t, err := Parse(spec, now, Future)
	if err != nil {
		return nil, err
	}
	if !t.After(now) {
		return nil, fmt.Errorf("expiry %s is not in the future", spec)
	}
	return &t, nil
}

// Range is a closed time window; a zero bound is open.
type Range struct {
	Since time.Time
	Until time.Time
}

// Contains reports whether t falls inside the window.
func (r Range) Contains(t time.Time) bool {
	if !r.Since.IsZero() && t.Before(r.Since) {
		return false
	}
	if !r.Until.IsZero() && t.After(r.Until) {
		return false
	}
	return true
}

// ParseRange parses the --since and --until flags.
func ParseRange(since, until string, now time.Time) (Range, error) {
	var r Range
	var err error

	if since != "" {
		if r.Since, err = Parse(since, now, Past); err != nil {
			return Range{}, fmt.Errorf("invalid --since: %w", err)
		}
	}
	if until != "" {
		if r.Until, err = Parse(until, now, Past); err != nil {
			return Range{}, fmt.Errorf("invalid --until: %w", err)
		}
	}

	if !r.Since.IsZero() && !r.Until.IsZero() && !r.Since.Before(r.Until) {
		return Range{}, fmt.Errorf("--since must be before --until")
	}
	return r, nil
}
