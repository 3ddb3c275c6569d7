// Package store defines the tagged document store that the chalk coordination
// engine is layered over.
//
// A store holds documents at logical paths ("tasks/<id>", "findings/security/<id>").
// Each document carries a tag set, which is the store's only query index, a
// flat key/value metadata map, a list of outgoing links used for graph
// traversal, and a revision that is bumped on every write.
//
// The coordination core never builds query strings. It hands the store a typed
// Query, and the backend decides how to evaluate it (Redis set intersection,
// SQL GROUP BY/HAVING, ...).
//
// # Conditional writes
//
// PutIf is the compare-and-swap primitive that makes the task claim protocol
// safe under concurrency: the write only lands if the stored revision still
// equals the revision the caller observed when it read the document.
package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no document exists at a path.
	ErrNotFound = errors.New("document not found")

	// ErrConflict is returned by PutIf when the stored revision differs from
	// the expected revision.
	ErrConflict = errors.New("revision conflict")
)

// Tag is a single index entry on a document.
// Tags render as "key:value", or just "key" for marker tags.
type Tag struct {
	Key   string
	Value string
}

// T builds a Tag.
func T(key, value string) Tag {
	return Tag{Key: key, Value: value}
}

// Marker builds a value-less Tag.
func Marker(key string) Tag {
	return Tag{Key: key}
}

// String returns the canonical rendering used as the index key.
func (t Tag) String() string {
	if t.Value == "" {
		return t.Key
	}
	return t.Key + ":" + t.Value
}

// ParseTag parses the canonical rendering back into a Tag.
func ParseTag(s string) Tag {
	key, value, _ := strings.Cut(s, ":")
	return Tag{Key: key, Value: value}
}

// TagStrings renders a tag slice, sorted and de-duplicated.
func TagStrings(tags []Tag) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		s := t.String()
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ParseTags is the inverse of TagStrings.
func ParseTags(ss []string) []Tag {
	out := make([]Tag, 0, len(ss))
	for _, s := range ss {
		out = append(out, ParseTag(s))
	}
	return out
}

// Document is a full stored record.
type Document struct {
	Path      string
	Content   string
	Tags      []Tag
	Metadata  map[string]string
	Links     []string // outgoing edges, as paths
	Revision  int64
	UpdatedAt time.Time
}

// Descriptor is the lightweight form of a document returned by List.
type Descriptor struct {
	Path      string
	Tags      []Tag
	Metadata  map[string]string
	Revision  int64
	UpdatedAt time.Time
}

// HasTag reports whether the descriptor carries the tag.
func (d Descriptor) HasTag(t Tag) bool {
	return hasTag(d.Tags, t)
}

// HasTag reports whether the document carries the tag.
func (d *Document) HasTag(t Tag) bool {
	return hasTag(d.Tags, t)
}

// TagValue returns the value of the first tag with the given key.
func (d *Document) TagValue(key string) string {
	for _, t := range d.Tags {
		if t.Key == key {
			return t.Value
		}
	}
	return ""
}

// Descriptor returns the descriptor view of the document.
func (d *Document) Descriptor() Descriptor {
	return Descriptor{
		Path:      d.Path,
		Tags:      d.Tags,
		Metadata:  d.Metadata,
		Revision:  d.Revision,
		UpdatedAt: d.UpdatedAt,
	}
}

func hasTag(tags []Tag, t Tag) bool {
	for _, have := range tags {
		if have == t {
			return true
		}
	}
	return false
}

// Match selects how a Query combines its tags.
type Match int

const (
	// MatchAll requires every tag (AND). This is the default.
	MatchAll Match = iota
	// MatchAny requires at least one tag (OR).
	MatchAny
)

// Query selects documents by tag and path prefix.
// An empty tag list selects every document (subject to PathPrefix).
type Query struct {
	Tags       []Tag
	Match      Match
	PathPrefix string
	Limit      int // 0 = no limit
	Offset     int
}

// Hit is a single relevance-ranked search result.
type Hit struct {
	Descriptor
	Score   float64
	Snippet string
}

// GrepMatch is a single line matching a grep pattern.
type GrepMatch struct {
	Path string
	Line int
	Text string
}

// Store is the storage collaborator contract.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Put upserts a document, replacing content, tags, metadata and links.
	// Returns the new revision.
	Put(ctx context.Context, doc Document) (int64, error)

	// PutIf writes only when the stored revision equals expectedRevision.
	// An expectedRevision of 0 means the document must not exist yet.
	// Returns ErrConflict on mismatch.
	PutIf(ctx context.Context, doc Document, expectedRevision int64) (int64, error)

	// Get reads one document. Returns ErrNotFound when absent.
	Get(ctx context.Context, path string) (*Document, error)

	// Glob reads every document whose path matches pattern, where '*'
	// matches exactly one path segment.
	Glob(ctx context.Context, pattern string) ([]*Document, error)

	// List enumerates descriptors matching the query, sorted by path.
	List(ctx context.Context, q Query) ([]Descriptor, error)

	// Search ranks documents matching the query by relevance to text.
	Search(ctx context.Context, text string, q Query) ([]Hit, error)

	// UpdateTags mutates tags and merges metadata without rewriting content.
	// Returns ErrNotFound when absent.
	UpdateTags(ctx context.Context, path string, add, remove []Tag, metadata map[string]string) (int64, error)

	// UpdateTagsIf is UpdateTags applied only when the stored revision equals
	// expectedRevision. Returns ErrConflict on mismatch and ErrNotFound when
	// absent.
	UpdateTagsIf(ctx context.Context, path string, add, remove []Tag, metadata map[string]string, expectedRevision int64) (int64, error)

	// Delete removes a document and its index entries. Deleting an absent
	// document is not an error.
	Delete(ctx context.Context, path string) error

	// Neighbors walks links in both directions up to depth hops and returns
	// the reachable paths (excluding path itself), sorted.
	Neighbors(ctx context.Context, path string, depth int) ([]string, error)

	// Grep returns lines matching the regular expression across the
	// documents selected by the query.
	Grep(ctx context.Context, pattern string, q Query) ([]GrepMatch, error)

	// Close releases backend resources.
	Close() error
}

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err is (or wraps) ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
