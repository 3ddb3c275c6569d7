// Package resolver expands the short id prefixes users type on the command
// line into full entity ids.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/dyluth/chalk/pkg/store"
)

// MinShortIDLength is the shortest prefix accepted.
const MinShortIDLength = 6

// maxListed bounds how many candidates an ambiguity report shows.
const maxListed = 10

// Resolve returns the id of the single entity of kind (a blackboard.Kind*
// value) whose id starts with prefix. An exact id match always wins, so
// explicit ids shorter than the minimum still resolve.
func Resolve(ctx context.Context, s store.Store, kind, prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "", fmt.Errorf("id cannot be empty")
	}

	descs, err := s.List(ctx, store.Query{Tags: []store.Tag{blackboard.KindTag(kind)}})
	if err != nil {
		return "", fmt.Errorf("failed to list %s ids: %w", kind, err)
	}

	var matches []string
	for _, d := range descs {
		id := tagValue(d.Tags, blackboard.TagID)
		if id == prefix {
			return id, nil
		}
		if strings.HasPrefix(id, prefix) {
			matches = append(matches, id)
		}
	}

	if len(prefix) < MinShortIDLength {
		return "", fmt.Errorf("short id must be at least %d characters (got %d)", MinShortIDLength, len(prefix))
	}
	switch len(matches) {
	case 0:
		return "", &NotFoundError{Kind: kind, ShortID: prefix}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{Kind: kind, ShortID: prefix, Matches: matches}
	}
}

func tagValue(tags []store.Tag, key string) string {
	for _, t := range tags {
		if t.Key == key {
			return t.Value
		}
	}
	return ""
}

// NotFoundError reports that nothing matched a prefix.
type NotFoundError struct {
	Kind    string
	ShortID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no %s found matching '%s'", e.Kind, e.ShortID)
}

// AmbiguousError reports that several ids share a prefix.
type AmbiguousError struct {
	Kind    string
	ShortID string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous short id '%s' matches %d %ss", e.ShortID, len(e.Matches), e.Kind)
}

// Describe renders the candidate list of an ambiguity for the terminal.
func (e *AmbiguousError) Describe() string {
	var b strings.Builder
	shown := e.Matches
	if len(shown) > maxListed {
		shown = shown[:maxListed]
	}
	for _, m := range shown {
		fmt.Fprintf(&b, "  %s\n", m)
	}
	if extra := len(e.Matches) - len(shown); extra > 0 {
		fmt.Fprintf(&b, "  ...and %d more\n", extra)
	}
	b.WriteString("\nUse a longer prefix.")
	return b.String()
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsAmbiguous reports whether err is an AmbiguousError.
func IsAmbiguous(err error) bool {
	var amb *AmbiguousError
	return errors.As(err, &amb)
}
