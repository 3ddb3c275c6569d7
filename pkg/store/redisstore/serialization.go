package redisstore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dyluth/chalk/pkg/store"
)

// Serialization helpers for converting documents to and from Redis hashes.
//
// Scalar fields are stored as-is. Tags, links and metadata are JSON-encoded
// into single hash fields.

const (
	fieldPath      = "path"
	fieldContent   = "content"
	fieldTags      = "tags"
	fieldMetadata  = "metadata"
	fieldLinks     = "links"
	fieldRevision  = "revision"
	fieldUpdatedAt = "updated_at_ms"
)

// docToHash converts a document to Redis hash format.
func docToHash(doc store.Document, revision int64, updatedAt time.Time) (map[string]interface{}, error) {
	tagsJSON, err := json.Marshal(store.TagStrings(doc.Tags))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tags: %w", err)
	}

	metadata := doc.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	links := uniqueStrings(doc.Links)
	linksJSON, err := json.Marshal(links)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal links: %w", err)
	}

	return map[string]interface{}{
		fieldPath:      doc.Path,
		fieldContent:   doc.Content,
		fieldTags:      string(tagsJSON),
		fieldMetadata:  string(metadataJSON),
		fieldLinks:     string(linksJSON),
		fieldRevision:  revision,
		fieldUpdatedAt: updatedAt.UnixMilli(),
	}, nil
}

// hashToDoc converts a Redis hash back to a document.
func hashToDoc(hash map[string]string) (*store.Document, error) {
	revision, err := strconv.ParseInt(hash[fieldRevision], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid revision field: %w", err)
	}

	tags, err := decodeTags(hash[fieldTags])
	if err != nil {
		return nil, err
	}

	metadata, err := decodeMetadata(hash[fieldMetadata])
	if err != nil {
		return nil, err
	}

	links, err := decodeStrings(hash[fieldLinks])
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal links: %w", err)
	}

	updatedMs, _ := strconv.ParseInt(hash[fieldUpdatedAt], 10, 64)

	return &store.Document{
		Path:      hash[fieldPath],
		Content:   hash[fieldContent],
		Tags:      tags,
		Metadata:  metadata,
		Links:     links,
		Revision:  revision,
		UpdatedAt: time.UnixMilli(updatedMs),
	}, nil
}

func decodeTags(raw string) ([]store.Tag, error) {
	ss, err := decodeStrings(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}
	return store.ParseTags(ss), nil
}

func decodeMetadata(raw string) (map[string]string, error) {
	metadata := map[string]string{}
	if raw == "" {
		return metadata, nil
	}
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return metadata, nil
}

func decodeStrings(raw string) ([]string, error) {
	var out []string
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return nil, err
		}
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func jsonString(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal field: %w", err)
	}
	return string(data), nil
}
