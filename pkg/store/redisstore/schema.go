package redisstore

import "fmt"

// Redis key pattern helpers
//
// All keys and channels are namespaced so several boards can share one Redis
// server without interference.
//
// Key pattern: chalk:{namespace}:{kind}:{rest}
// Channel pattern: chalk:{namespace}:events

// DocKey returns the hash key holding one document.
// Pattern: chalk:{namespace}:doc:{path}
func DocKey(namespace, path string) string {
	return fmt.Sprintf("chalk:%s:doc:%s", namespace, path)
}

// TagKey returns the set key indexing every path that carries a tag.
// Pattern: chalk:{namespace}:tag:{tag}
func TagKey(namespace, tag string) string {
	return fmt.Sprintf("chalk:%s:tag:%s", namespace, tag)
}

// DocsKey returns the set key holding every stored path.
// Pattern: chalk:{namespace}:docs
func DocsKey(namespace string) string {
	return fmt.Sprintf("chalk:%s:docs", namespace)
}

// LinksKey returns the set of outgoing links of a path.
// Pattern: chalk:{namespace}:links:{path}
func LinksKey(namespace, path string) string {
	return fmt.Sprintf("chalk:%s:links:%s", namespace, path)
}

// BacklinksKey returns the set of paths linking to a path.
// Pattern: chalk:{namespace}:backlinks:{path}
func BacklinksKey(namespace, path string) string {
	return fmt.Sprintf("chalk:%s:backlinks:%s", namespace, path)
}

// EventsChannel returns the Pub/Sub channel carrying blackboard events.
// Pattern: chalk:{namespace}:events
func EventsChannel(namespace string) string {
	return fmt.Sprintf("chalk:%s:events", namespace)
}
