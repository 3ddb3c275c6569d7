// Package redisstore implements store.Store on Redis.
//
// Each document is a Redis hash. Each tag is a Redis set of the paths that
// carry it, so an AND query is a SINTER and an OR query is a SUNION. Writes run
// inside WATCH/MULTI/EXEC so the hash and its index entries change atomically,
// and PutIf turns the same transaction into a compare-and-swap on the
// document revision.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dyluth/chalk/pkg/store"
	"github.com/redis/go-redis/v9"
)

// maxWriteAttempts bounds retries of unconditional writes that lose a WATCH race.
const maxWriteAttempts = 8

// Store provides namespaced document operations on Redis.
// It is safe for concurrent use from multiple goroutines and processes.
type Store struct {
	rdb       *redis.Client
	namespace string
	now       func() time.Time
}

var _ store.Store = (*Store)(nil)

// New creates a store for the given namespace.
// Returns an error if namespace is empty.
func New(redisOpts *redis.Options, namespace string) (*Store, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}

	return &Store{
		rdb:       redis.NewClient(redisOpts),
		namespace: namespace,
		now:       time.Now,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Ping verifies Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
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

	key := DocKey(s.namespace, doc.Path)
	var newRevision int64

	txf := func(tx *redis.Tx) error {
		current, err := tx.HMGet(ctx, key, fieldRevision, fieldTags, fieldLinks).Result()
		if err != nil {
			return fmt.Errorf("failed to read document: %w", err)
		}

		var currentRevision int64
		if raw, ok := current[0].(string); ok {
			currentRevision, _ = strconv.ParseInt(raw, 10, 64)
		}
		if expected != nil && *expected != currentRevision {
			return store.ErrConflict
		}

		oldTags, _ := decodeTags(stringField(current[1]))
		oldLinks, _ := decodeStrings(stringField(current[2]))

		newRevision = currentRevision + 1
		hash, err := docToHash(doc, newRevision, s.now())
		if err != nil {
			return err
		}

		newTags := store.TagStrings(doc.Tags)
		newLinks := uniqueStrings(doc.Links)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.HSet(ctx, key, hash)
			pipe.SAdd(ctx, DocsKey(s.namespace), doc.Path)

			for _, t := range difference(store.TagStrings(oldTags), newTags) {
				pipe.SRem(ctx, TagKey(s.namespace, t), doc.Path)
			}
			for _, t := range newTags {
				pipe.SAdd(ctx, TagKey(s.namespace, t), doc.Path)
			}

			for _, l := range difference(oldLinks, newLinks) {
				pipe.SRem(ctx, LinksKey(s.namespace, doc.Path), l)
				pipe.SRem(ctx, BacklinksKey(s.namespace, l), doc.Path)
			}
			for _, l := range newLinks {
				pipe.SAdd(ctx, LinksKey(s.namespace, doc.Path), l)
				pipe.SAdd(ctx, BacklinksKey(s.namespace, l), doc.Path)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			return newRevision, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			// Someone else wrote between our read and EXEC.
			if expected != nil {
				return 0, store.ErrConflict
			}
			continue
		}
		if errors.Is(err, store.ErrConflict) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to write document %s: %w", doc.Path, err)
	}

	return 0, fmt.Errorf("failed to write document %s: too much contention", doc.Path)
}

// Get retrieves one document.
// Returns store.ErrNotFound if it doesn't exist.
func (s *Store) Get(ctx context.Context, path string) (*store.Document, error) {
	hashData, err := s.rdb.HGetAll(ctx, DocKey(s.namespace, path)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read document from Redis: %w", err)
	}

	// HGetAll returns an empty map for non-existent keys
	if len(hashData) == 0 {
		return nil, store.ErrNotFound
	}

	doc, err := hashToDoc(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize document %s: %w", path, err)
	}
	return doc, nil
}

// Glob reads every document whose path matches pattern segment-by-segment.
func (s *Store) Glob(ctx context.Context, pattern string) ([]*store.Document, error) {
	var paths []string
	iter := s.rdb.SScan(ctx, DocsKey(s.namespace), 0, store.GlobPrefix(pattern)+"*", 0).Iterator()
	for iter.Next(ctx) {
		if p := iter.Val(); store.GlobMatch(pattern, p) {
			paths = append(paths, p)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan documents: %w", err)
	}
	sort.Strings(paths)

	return s.getMany(ctx, paths)
}

// List enumerates descriptors matching the query.
func (s *Store) List(ctx context.Context, q store.Query) ([]store.Descriptor, error) {
	paths, err := s.candidates(ctx, q)
	if err != nil {
		return nil, err
	}
	paths = store.Paginate(paths, q)

	cmds := make([]*redis.SliceCmd, len(paths))
	if _, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, p := range paths {
			cmds[i] = pipe.HMGet(ctx, DocKey(s.namespace, p), fieldTags, fieldMetadata, fieldRevision, fieldUpdatedAt)
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to read descriptors: %w", err)
	}

	out := make([]store.Descriptor, 0, len(paths))
	for i, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) < 4 || vals[2] == nil {
			// Deleted between index read and fetch.
			continue
		}
		tags, err := decodeTags(stringField(vals[0]))
		if err != nil {
			continue
		}
		metadata, err := decodeMetadata(stringField(vals[1]))
		if err != nil {
			continue
		}
		revision, _ := strconv.ParseInt(stringField(vals[2]), 10, 64)
		updatedMs, _ := strconv.ParseInt(stringField(vals[3]), 10, 64)
		out = append(out, store.Descriptor{
			Path:      paths[i],
			Tags:      tags,
			Metadata:  metadata,
			Revision:  revision,
			UpdatedAt: time.UnixMilli(updatedMs),
		})
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
	docs, err := s.getMany(ctx, paths)
	if err != nil {
		return nil, err
	}

	var hits []store.Hit
	for _, doc := range docs {
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
	key := DocKey(s.namespace, path)
	var newRevision int64

	txf := func(tx *redis.Tx) error {
		current, err := tx.HMGet(ctx, key, fieldRevision, fieldTags, fieldMetadata).Result()
		if err != nil {
			return fmt.Errorf("failed to read document: %w", err)
		}
		rawRevision, ok := current[0].(string)
		if !ok {
			return store.ErrNotFound
		}
		currentRevision, _ := strconv.ParseInt(rawRevision, 10, 64)
		if expected != nil && *expected != currentRevision {
			return store.ErrConflict
		}

		oldTags, err := decodeTags(stringField(current[1]))
		if err != nil {
			return err
		}
		merged, err := decodeMetadata(stringField(current[2]))
		if err != nil {
			return err
		}
		for k, v := range metadata {
			merged[k] = v
		}

		oldStrings := store.TagStrings(oldTags)
		newStrings := difference(store.TagStrings(append(oldTags, add...)), store.TagStrings(remove))

		tagsJSON, err := jsonString(newStrings)
		if err != nil {
			return err
		}
		metadataJSON, err := jsonString(merged)
		if err != nil {
			return err
		}

		newRevision = currentRevision + 1
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, map[string]interface{}{
				fieldTags:      tagsJSON,
				fieldMetadata:  metadataJSON,
				fieldRevision:  newRevision,
				fieldUpdatedAt: s.now().UnixMilli(),
			})
			for _, t := range difference(oldStrings, newStrings) {
				pipe.SRem(ctx, TagKey(s.namespace, t), path)
			}
			for _, t := range difference(newStrings, oldStrings) {
				pipe.SAdd(ctx, TagKey(s.namespace, t), path)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			return newRevision, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			if expected != nil {
				return 0, store.ErrConflict
			}
			continue
		}
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrConflict) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to update tags on %s: %w", path, err)
	}
	return 0, fmt.Errorf("failed to update tags on %s: too much contention", path)
}

// Delete removes a document and its index entries.
func (s *Store) Delete(ctx context.Context, path string) error {
	key := DocKey(s.namespace, path)

	txf := func(tx *redis.Tx) error {
		current, err := tx.HMGet(ctx, key, fieldTags, fieldLinks).Result()
		if err != nil {
			return fmt.Errorf("failed to read document: %w", err)
		}
		tags, _ := decodeTags(stringField(current[0]))
		links, _ := decodeStrings(stringField(current[1]))

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, DocsKey(s.namespace), path)
			for _, t := range store.TagStrings(tags) {
				pipe.SRem(ctx, TagKey(s.namespace, t), path)
			}
			for _, l := range links {
				pipe.SRem(ctx, BacklinksKey(s.namespace, l), path)
			}
			pipe.Del(ctx, LinksKey(s.namespace, path))
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("failed to delete document %s: %w", path, err)
	}
	return fmt.Errorf("failed to delete document %s: too much contention", path)
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
			adjacent, err := s.rdb.SUnion(ctx, LinksKey(s.namespace, p), BacklinksKey(s.namespace, p)).Result()
			if err != nil {
				return nil, fmt.Errorf("failed to read links of %s: %w", p, err)
			}
			for _, a := range adjacent {
				if _, seen := visited[a]; seen {
					continue
				}
				visited[a] = struct{}{}
				next = append(next, a)
			}
		}
		// Only report paths that still exist; links may dangle after a delete.
		for _, p := range next {
			ok, err := s.rdb.SIsMember(ctx, DocsKey(s.namespace), p).Result()
			if err != nil {
				return nil, fmt.Errorf("failed to check document existence: %w", err)
			}
			if ok {
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
	docs, err := s.getMany(ctx, paths)
	if err != nil {
		return nil, err
	}

	var matches []store.GrepMatch
	for _, doc := range docs {
		matches = append(matches, store.GrepContent(re, doc.Path, doc.Content)...)
	}
	return store.Paginate(matches, q), nil
}

// candidates resolves the tag expression and path prefix to a sorted path list.
func (s *Store) candidates(ctx context.Context, q store.Query) ([]string, error) {
	var (
		paths []string
		err   error
	)

	tags := store.TagStrings(q.Tags)
	switch {
	case len(tags) == 0:
		paths, err = s.rdb.SMembers(ctx, DocsKey(s.namespace)).Result()
	case q.Match == store.MatchAny:
		paths, err = s.rdb.SUnion(ctx, s.tagKeys(tags)...).Result()
	default:
		paths, err = s.rdb.SInter(ctx, s.tagKeys(tags)...).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query tag index: %w", err)
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

	sort.Strings(paths)
	return paths, nil
}

func (s *Store) tagKeys(tags []string) []string {
	keys := make([]string, len(tags))
	for i, t := range tags {
		keys[i] = TagKey(s.namespace, t)
	}
	return keys
}

// getMany fetches full documents in one pipeline, skipping any that vanished.
func (s *Store) getMany(ctx context.Context, paths []string) ([]*store.Document, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(paths))
	if _, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, p := range paths {
			cmds[i] = pipe.HGetAll(ctx, DocKey(s.namespace, p))
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to read documents: %w", err)
	}

	docs := make([]*store.Document, 0, len(paths))
	for _, cmd := range cmds {
		hash := cmd.Val()
		if len(hash) == 0 {
			continue
		}
		doc, err := hashToDoc(hash)
		if err != nil {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func stringField(v interface{}) string {
	s, _ := v.(string)
	return s
}

// difference returns the members of a that are not in b.
func difference(a, b []string) []string {
	drop := make(map[string]struct{}, len(b))
	for _, s := range b {
		drop[s] = struct{}{}
	}
	var out []string
	for _, s := range a {
		if _, ok := drop[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}
