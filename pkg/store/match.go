package store

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// Helpers shared by the store backends. Keeping scoring, globbing and paging
// here means every backend ranks and paginates identically.

// GlobMatch reports whether path matches pattern, where '*' matches exactly
// one path segment and every other segment must match literally.
func GlobMatch(pattern, path string) bool {
	ps := strings.Split(pattern, "/")
	xs := strings.Split(path, "/")
	if len(ps) != len(xs) {
		return false
	}
	for i := range ps {
		if ps[i] != "*" && ps[i] != xs[i] {
			return false
		}
	}
	return true
}

// GlobPrefix returns the literal prefix of a glob pattern, up to the first
// wildcard segment. Backends use it to narrow the candidate set.
func GlobPrefix(pattern string) string {
	idx := strings.Index(pattern, "*")
	if idx < 0 {
		return pattern
	}
	return pattern[:idx]
}

// Paginate applies Offset and Limit to an already sorted slice.
func Paginate[T any](items []T, q Query) []T {
	if q.Offset > 0 {
		if q.Offset >= len(items) {
			return nil
		}
		items = items[q.Offset:]
	}
	if q.Limit > 0 && len(items) > q.Limit {
		items = items[:q.Limit]
	}
	return items
}

// Terms splits text into lowercase search terms.
func Terms(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Score returns the relevance of content for the given terms: the count of
// term occurrences, with each distinct term that appears adding a bonus so
// documents covering more of the query outrank repetitive ones.
func Score(terms []string, content string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	var score float64
	for _, term := range terms {
		n := strings.Count(lower, term)
		if n > 0 {
			score += float64(n) + 1
		}
	}
	return score
}

// Snippet returns the first line of content that contains any of the terms,
// trimmed to max runes.
func Snippet(terms []string, content string, max int) string {
	for _, line := range strings.Split(content, "\n") {
		lower := strings.ToLower(line)
		for _, term := range terms {
			if strings.Contains(lower, term) {
				return truncate(strings.TrimSpace(line), max)
			}
		}
	}
	return ""
}

// RankHits sorts hits by descending score, then by path.
func RankHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Path < hits[j].Path
	})
}

// GrepContent returns the matching lines of one document.
func GrepContent(re *regexp.Regexp, path, content string) []GrepMatch {
	var out []GrepMatch
	for i, line := range strings.Split(content, "\n") {
		if re.MatchString(line) {
			out = append(out, GrepMatch{Path: path, Line: i + 1, Text: line})
		}
	}
	return out
}

func truncate(s string, max int) string {
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
