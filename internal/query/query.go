// Package query holds the read helpers the coordination components share:
// listing documents by tag, decoding them, and applying instance visibility.
package query

import (
	"context"
	"sort"

	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/dyluth/chalk/pkg/store"
	"github.com/rs/zerolog"
)

// AllInstances selects records from every instance.
const AllInstances = "*"

// Decoder turns a stored document into an entity.
type Decoder[T any] func(doc *store.Document) (*T, error)

// Load lists the documents matching q and decodes each one. Documents that
// vanish or fail to decode are skipped and logged, never returned as errors.
// A store failure yields nil.
func Load[T any](ctx context.Context, s store.Store, q store.Query, decode Decoder[T], log zerolog.Logger) []*T {
	descs, err := s.List(ctx, q)
	if err != nil {
		log.Warn().Err(err).Msg("List failed")
		return nil
	}
	return fetch(ctx, s, paths(descs), decode, log)
}

// Visible loads the documents matching q that the given instance may see:
// those it wrote, plus durable records from any instance. instance may be
// AllInstances to skip the restriction. Results are sorted by path.
func Visible[T any](ctx context.Context, s store.Store, q store.Query, instance string, decode Decoder[T], log zerolog.Logger) []*T {
	if instance == AllInstances {
		return Load(ctx, s, q, decode, log)
	}

	own := q
	own.Tags = append(append([]store.Tag{}, q.Tags...), blackboard.InstanceTag(instance))
	own.Limit, own.Offset = 0, 0
	durable := q
	durable.Tags = append(append([]store.Tag{}, q.Tags...), blackboard.DurableTag)
	durable.Limit, durable.Offset = 0, 0

	ownDescs, err := s.List(ctx, own)
	if err != nil {
		log.Warn().Err(err).Msg("List failed")
		return nil
	}
	durableDescs, err := s.List(ctx, durable)
	if err != nil {
		log.Warn().Err(err).Msg("List of durable records failed")
		durableDescs = nil
	}

	merged := Union(paths(ownDescs), paths(durableDescs))
	return fetch(ctx, s, store.Paginate(merged, q), decode, log)
}

// Union merges path lists, de-duplicated and sorted.
func Union(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, p := range list {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Get reads and decodes one document. Any failure yields nil.
func Get[T any](ctx context.Context, s store.Store, path string, decode Decoder[T], log zerolog.Logger) *T {
	doc, err := s.Get(ctx, path)
	if err != nil {
		if !store.IsNotFound(err) {
			log.Warn().Err(err).Str("path", path).Msg("Read failed")
		}
		return nil
	}
	v, err := decode(doc)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Unparseable document")
		return nil
	}
	return v
}

func fetch[T any](ctx context.Context, s store.Store, ps []string, decode Decoder[T], log zerolog.Logger) []*T {
	out := make([]*T, 0, len(ps))
	for _, p := range ps {
		if v := Get(ctx, s, p, decode, log); v != nil {
			out = append(out, v)
		}
	}
	return out
}

func paths(descs []store.Descriptor) []string {
	out := make([]string, len(descs))
	for i, d := range descs {
		out[i] = d.Path
	}
	return out
}
