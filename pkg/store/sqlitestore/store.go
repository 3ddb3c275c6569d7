// Package sqlitestore implements store.Store on an embedded SQLite database.
//
// It is the single-host backend: every agent on the machine opens the same
// database file. Tags live in their own table so an AND query is a
// GROUP BY/HAVING over the tag index, and conditional writes are a
// revision-guarded UPDATE, which SQLite serializes under its write lock.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dyluth/chalk/pkg/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS docs (
	path TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	revision INTEGER NOT NULL,
	updated_at_ms INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS doc_tags (
	path TEXT NOT NULL,
	tag TEXT NOT NULL,
	PRIMARY KEY (path, tag)
);
CREATE TABLE IF NOT EXISTS doc_links (
	src TEXT NOT NULL,
	dst TEXT NOT NULL,
	PRIMARY KEY (src, dst)
);
CREATE INDEX IF NOT EXISTS idx_doc_tags_tag ON doc_tags(tag);
CREATE INDEX IF NOT EXISTS idx_doc_links_dst ON doc_links(dst);
`

// Store implements store.Store using SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// New opens the SQLite database at path, creating parent dirs and schema.
func New(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("sqlite mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// One connection per process; other processes are serialized by the
	// busy timeout.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Put upserts a document.
func (s *Store) Put(ctx context.Context, doc store.Document) (int64, error) {
	return s.write(ctx, doc, nil)
}

// PutIf upserts a document only if its stored revision equals expectedRevision.
func (s *Store) PutIf(ctx context.Context, doc store.Document, expectedRevision int64) (int64, error) {
	return s.write(ctx, doc, &expectedRevision)
}

func (s *Store) write(ctx context.Context, doc store.Document, expected *int64) (int64, error) {
	if doc.Path == "" {
		return 0, fmt.Errorf("document path cannot be empty")
	}
	metadataJSON, err := encodeMetadata(doc.Metadata)
	if err != nil {
		return 0, err
	}
	nowMs := s.now().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	var revision int64
	switch {
	case expected == nil:
		err = tx.QueryRowContext(ctx, `
			INSERT INTO docs (path, content, metadata, revision, updated_at_ms) VALUES (?, ?, ?, 1, ?)
			ON CONFLICT(path) DO UPDATE SET
				content = excluded.content,
				metadata = excluded.metadata,
				revision = docs.revision + 1,
				updated_at_ms = excluded.updated_at_ms
			RETURNING revision`,
			doc.Path, doc.Content, metadataJSON, nowMs).Scan(&revision)
	case *expected == 0:
		err = tx.QueryRowContext(ctx, `
			INSERT INTO docs (path, content, metadata, revision, updated_at_ms) VALUES (?, ?, ?, 1, ?)
			ON CONFLICT(path) DO NOTHING
			RETURNING revision`,
			doc.Path, doc.Content, metadataJSON, nowMs).Scan(&revision)
	default:
		err = tx.QueryRowContext(ctx, `
			UPDATE docs SET content = ?, metadata = ?, revision = revision + 1, updated_at_ms = ?
			WHERE path = ? AND revision = ?
			RETURNING revision`,
			doc.Content, metadataJSON, nowMs, doc.Path, *expected).Scan(&revision)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrConflict
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite write %s: %w", doc.Path, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM doc_tags WHERE path = ?`, doc.Path); err != nil {
		return 0, fmt.Errorf("sqlite clear tags: %w", err)
	}
	for _, t := range store.TagStrings(doc.Tags) {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO doc_tags (path, tag) VALUES (?, ?)`, doc.Path, t); err != nil {
			return 0, fmt.Errorf("sqlite insert tag: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM doc_links WHERE src = ?`, doc.Path); err != nil {
		return 0, fmt.Errorf("sqlite clear links: %w", err)
	}
	for _, l := range doc.Links {
		if l == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO doc_links (src, dst) VALUES (?, ?)`, doc.Path, l); err != nil {
			return 0, fmt.Errorf("sqlite insert link: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite commit: %w", err)
	}
	return revision, nil
}

// Get retrieves one document.
func (s *Store) Get(ctx context.Context, path string) (*store.Document, error) {
	return s.load(ctx, path)
}

// Glob reads every document whose path matches pattern segment-by-segment.
func (s *Store) Glob(ctx context.Context, pattern string) ([]*store.Document, error) {
	prefix := store.GlobPrefix(pattern)
	paths, err := s.queryPaths(ctx, `SELECT path FROM docs WHERE substr(path, 1, ?) = ? ORDER BY path`, len(prefix), prefix)
	if err != nil {
		return nil, err
	}

	var docs []*store.Document
	for _, p := range paths {
		if !store.GlobMatch(pattern, p) {
			continue
		}
		doc, err := s.load(ctx, p)
		if err != nil {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// List enumerates descriptors matching the query.
func (s *Store) List(ctx context.Context, q store.Query) ([]store.Descriptor, error) {
	paths, err := s.candidates(ctx, q)
	if err != nil {
		return nil, err
	}

	out := make([]store.Descriptor, 0, len(paths))
	for _, p := range store.Paginate(paths, q) {
		doc, err := s.load(ctx, p)
		if err != nil {
			continue
		}
		out = append(out, doc.Descriptor())
	}
	return out, nil
}

// Search ranks the documents matching the query by term frequency.
func (s *Store) Search(ctx context.Context, text string, q store.Query) ([]store.Hit, error) {
	terms := store.Terms(text)
	if len(terms) == 0 {
		return nil, nil
	}
	paths, err := s.candidates(ctx, q)
	if err != nil {
		return nil, err
	}

	var hits []store.Hit
	for _, p := range paths {
		doc, err := s.load(ctx, p)
		if err != nil {
			continue
		}
		score := store.Score(terms, doc.Content)
		if score == 0 {
			continue
		}
		hits = append(hits, store.Hit{
			Descriptor: doc.Descriptor(),
			Score:      score,
			Snippet:    store.Snippet(terms, doc.Content, 160),
		})
	}
	store.RankHits(hits)
	return store.Paginate(hits, q), nil
}

// UpdateTags mutates tags and merges metadata without touching content.
func (s *Store) UpdateTags(ctx context.Context, path string, add, remove []store.Tag, metadata map[string]string) (int64, error) {
	return s.updateTags(ctx, path, add, remove, metadata, nil)
}

// UpdateTagsIf is UpdateTags guarded by the stored revision.
func (s *Store) UpdateTagsIf(ctx context.Context, path string, add, remove []store.Tag, metadata map[string]string, expectedRevision int64) (int64, error) {
	return s.updateTags(ctx, path, add, remove, metadata, &expectedRevision)
}

func (s *Store) updateTags(ctx context.Context, path string, add, remove []store.Tag, metadata map[string]string, expected *int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	var (
		revision int64
		rawMeta  string
	)
	if expected == nil {
		err = tx.QueryRowContext(ctx, `
			UPDATE docs SET revision = revision + 1, updated_at_ms = ?
			WHERE path = ?
			RETURNING revision, metadata`,
			s.now().UnixMilli(), path).Scan(&revision, &rawMeta)
	} else {
		err = tx.QueryRowContext(ctx, `
			UPDATE docs SET revision = revision + 1, updated_at_ms = ?
			WHERE path = ? AND revision = ?
			RETURNING revision, metadata`,
			s.now().UnixMilli(), path, *expected).Scan(&revision, &rawMeta)
	}
	if errors.Is(err, sql.ErrNoRows) {
		if expected != nil {
			var exists int
			if err := tx.QueryRowContext(ctx, `SELECT 1 FROM docs WHERE path = ?`, path).Scan(&exists); err == nil {
				return 0, store.ErrConflict
			}
		}
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite update %s: %w", path, err)
	}

	if len(metadata) > 0 {
		merged, err := decodeMetadata(rawMeta)
		if err != nil {
			return 0, err
		}
		for k, v := range metadata {
			merged[k] = v
		}
		encoded, err := encodeMetadata(merged)
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE docs SET metadata = ? WHERE path = ?`, encoded, path); err != nil {
			return 0, fmt.Errorf("sqlite update metadata: %w", err)
		}
	}

	for _, t := range store.TagStrings(remove) {
		if _, err := tx.ExecContext(ctx, `DELETE FROM doc_tags WHERE path = ? AND tag = ?`, path, t); err != nil {
			return 0, fmt.Errorf("sqlite remove tag: %w", err)
		}
	}
	removed := make(map[string]struct{}, len(remove))
	for _, t := range store.TagStrings(remove) {
		removed[t] = struct{}{}
	}
	for _, t := range store.TagStrings(add) {
		if _, drop := removed[t]; drop {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO doc_tags (path, tag) VALUES (?, ?)`, path, t); err != nil {
			return 0, fmt.Errorf("sqlite add tag: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite commit: %w", err)
	}
	return revision, nil
}

// Delete removes a document, its tags and its outgoing links.
func (s *Store) Delete(ctx context.Context, path string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM docs WHERE path = ?`,
		`DELETE FROM doc_tags WHERE path = ?`,
		`DELETE FROM doc_links WHERE src = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, path); err != nil {
			return fmt.Errorf("sqlite delete %s: %w", path, err)
		}
	}
	return tx.Commit()
}

// Neighbors walks links and backlinks breadth-first.
func (s *Store) Neighbors(ctx context.Context, path string, depth int) ([]string, error) {
	if depth < 1 {
		depth = 1
	}
	visited := map[string]struct{}{path: {}}
	frontier := []string{path}
	var reached []string

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, p := range frontier {
			adjacent, err := s.queryPaths(ctx, `
				SELECT dst FROM doc_links WHERE src = ?
				UNION
				SELECT src FROM doc_links WHERE dst = ?`, p, p)
			if err != nil {
				return nil, err
			}
			for _, a := range adjacent {
				if _, seen := visited[a]; seen {
					continue
				}
				visited[a] = struct{}{}
				next = append(next, a)
			}
		}
		for _, p := range next {
			var n int
			if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM docs WHERE path = ?`, p).Scan(&n); err != nil {
				return nil, fmt.Errorf("sqlite exists: %w", err)
			}
			if n > 0 {
				reached = append(reached, p)
			}
		}
		frontier = next
	}

	sort.Strings(reached)
	return reached, nil
}

// Grep returns the lines matching pattern across the selected documents.
func (s *Store) Grep(ctx context.Context, pattern string, q store.Query) ([]store.GrepMatch, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid grep pattern: %w", err)
	}
	paths, err := s.candidates(ctx, store.Query{Tags: q.Tags, Match: q.Match, PathPrefix: q.PathPrefix})
	if err != nil {
		return nil, err
	}

	var matches []store.GrepMatch
	for _, p := range paths {
		doc, err := s.load(ctx, p)
		if err != nil {
			continue
		}
		matches = append(matches, store.GrepContent(re, doc.Path, doc.Content)...)
	}
	return store.Paginate(matches, q), nil
}

func (s *Store) candidates(ctx context.Context, q store.Query) ([]string, error) {
	tags := store.TagStrings(q.Tags)

	var (
		paths []string
		err   error
	)
	switch {
	case len(tags) == 0:
		paths, err = s.queryPaths(ctx, `SELECT path FROM docs ORDER BY path`)
	case q.Match == store.MatchAny:
		paths, err = s.queryPaths(ctx,
			`SELECT DISTINCT path FROM doc_tags WHERE tag IN (`+placeholders(len(tags))+`) ORDER BY path`,
			stringArgs(tags)...)
	default:
		args := append(stringArgs(tags), len(tags))
		paths, err = s.queryPaths(ctx,
			`SELECT path FROM doc_tags WHERE tag IN (`+placeholders(len(tags))+`)
			 GROUP BY path HAVING COUNT(DISTINCT tag) = ? ORDER BY path`,
			args...)
	}
	if err != nil {
		return nil, err
	}

	if q.PathPrefix != "" {
		filtered := paths[:0]
		for _, p := range paths {
			if strings.HasPrefix(p, q.PathPrefix) {
				filtered = append(filtered, p)
			}
		}
		paths = filtered
	}
	return paths, nil
}

func (s *Store) load(ctx context.Context, path string) (*store.Document, error) {
	var (
		doc       store.Document
		rawMeta   string
		updatedMs int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT path, content, metadata, revision, updated_at_ms FROM docs WHERE path = ?`, path).
		Scan(&doc.Path, &doc.Content, &rawMeta, &doc.Revision, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite read %s: %w", path, err)
	}
	if doc.Metadata, err = decodeMetadata(rawMeta); err != nil {
		return nil, err
	}
	doc.UpdatedAt = time.UnixMilli(updatedMs)

	tags, err := s.queryPaths(ctx, `SELECT tag FROM doc_tags WHERE path = ? ORDER BY tag`, path)
	if err != nil {
		return nil, err
	}
	doc.Tags = store.ParseTags(tags)

	links, err := s.queryPaths(ctx, `SELECT dst FROM doc_links WHERE src = ? ORDER BY dst`, path)
	if err != nil {
		return nil, err
	}
	if links == nil {
		links = []string{}
	}
	doc.Links = links
	return &doc, nil
}

// queryPaths runs a single-column string query.
func (s *Store) queryPaths(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("sqlite scan: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(ss []string) []interface{} {
	args := make([]interface{}, len(ss))
	for i, s := range ss {
		args[i] = s
	}
	return args
}

func encodeMetadata(m map[string]string) (string, error) {
	if m == nil {
		m = map[string]string{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(data), nil
}

func decodeMetadata(raw string) (map[string]string, error) {
	m := map[string]string{}
	if raw == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	return m, nil
}
