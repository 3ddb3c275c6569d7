package blackboard

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dyluth/chalk/pkg/store"
	"gopkg.in/yaml.v3"
)

// Serialization helpers for converting entities to and from store documents.
//
// Findings are structured text: a YAML header between "---" lines, then a
// "# title" line, a blank line, and the free-text body. Everything else is
// JSON. Tag-only lifecycle updates never rewrite content, so on read the
// store metadata and tags overlay the header.

const frontMatterDelim = "---"

// Store metadata keys written by finding lifecycle updates.
const (
	MetaStatus         = "status"
	MetaAcknowledgedBy = "acknowledged_by"
	MetaAcknowledgedAt = "acknowledged_at"
	MetaResolvedBy     = "resolved_by"
	MetaResolvedAt     = "resolved_at"
	MetaResolution     = "resolution"
	MetaRejectedBy     = "rejected_by"
	MetaRejectedAt     = "rejected_at"
	MetaRejectReason   = "reject_reason"
	MetaArchivedAt     = "archived_at"
)

type findingHeader struct {
	ID         string            `yaml:"id"`
	AgentID    string            `yaml:"agent_id"`
	Topic      Topic             `yaml:"topic"`
	Confidence float64           `yaml:"confidence"`
	Status     FindingStatus     `yaml:"status"`
	Scope      Scope             `yaml:"scope"`
	CreatedAt  time.Time         `yaml:"created_at"`
	Severity   Severity          `yaml:"severity,omitempty"`
	ContextID  string            `yaml:"context_id,omitempty"`
	ParentID   string            `yaml:"parent_id,omitempty"`
	References []Reference       `yaml:"references,omitempty"`
	TTL        string            `yaml:"ttl,omitempty"`
	Metadata   map[string]string `yaml:"metadata,omitempty"`
	Instance   string            `yaml:"instance"`
	Session    string            `yaml:"session,omitempty"`
}

// EncodeFinding renders a finding as its stored structured text.
func EncodeFinding(f *Finding) (string, error) {
	h := findingHeader{
		ID:         f.ID,
		AgentID:    f.AgentID,
		Topic:      f.Topic,
		Confidence: f.Confidence,
		Status:     f.Status,
		Scope:      f.Scope,
		CreatedAt:  f.CreatedAt.UTC(),
		Severity:   f.Severity,
		ContextID:  f.ContextID,
		ParentID:   f.ParentID,
		References: f.References,
		Metadata:   f.Metadata,
		Instance:   f.Instance,
		Session:    f.Session,
	}
	if f.TTL > 0 {
		h.TTL = f.TTL.String()
	}

	header, err := yaml.Marshal(&h)
	if err != nil {
		return "", fmt.Errorf("failed to marshal finding header: %w", err)
	}

	var b strings.Builder
	b.WriteString(frontMatterDelim + "\n")
	b.Write(header)
	b.WriteString(frontMatterDelim + "\n")
	b.WriteString("# " + f.Title + "\n\n")
	b.WriteString(f.Content)
	return b.String(), nil
}

// DecodeFinding parses stored structured text back into a finding.
func DecodeFinding(text string) (*Finding, error) {
	rest, ok := strings.CutPrefix(text, frontMatterDelim+"\n")
	if !ok {
		return nil, fmt.Errorf("finding document has no header")
	}
	end := strings.Index(rest, "\n"+frontMatterDelim+"\n")
	if end < 0 {
		return nil, fmt.Errorf("finding header is not terminated")
	}
	rawHeader, body := rest[:end+1], rest[end+len(frontMatterDelim)+2:]

	var h findingHeader
	dec := yaml.NewDecoder(bytes.NewReader([]byte(rawHeader)))
	dec.KnownFields(true)
	if err := dec.Decode(&h); err != nil {
		return nil, fmt.Errorf("failed to parse finding header: %w", err)
	}

	titleLine, content, _ := strings.Cut(body, "\n")
	title, ok := strings.CutPrefix(titleLine, "# ")
	if !ok {
		return nil, fmt.Errorf("finding body has no title line")
	}
	content = strings.TrimPrefix(content, "\n")

	f := &Finding{
		ID:         h.ID,
		AgentID:    h.AgentID,
		Topic:      h.Topic,
		Title:      title,
		Content:    content,
		Confidence: h.Confidence,
		Severity:   h.Severity,
		Status:     h.Status,
		Scope:      h.Scope,
		ContextID:  h.ContextID,
		ParentID:   h.ParentID,
		References: h.References,
		Metadata:   h.Metadata,
		CreatedAt:  h.CreatedAt,
		Origin:     Origin{Instance: h.Instance, Session: h.Session},
	}
	if h.TTL != "" {
		ttl, err := time.ParseDuration(h.TTL)
		if err != nil {
			return nil, fmt.Errorf("invalid finding ttl %q: %w", h.TTL, err)
		}
		f.TTL = ttl
	}
	return f, nil
}

// FindingFromDocument decodes a stored finding and overlays the lifecycle
// state carried in store metadata and tags.
func FindingFromDocument(doc *store.Document) (*Finding, error) {
	f, err := DecodeFinding(doc.Content)
	if err != nil {
		return nil, fmt.Errorf("finding %s: %w", doc.Path, err)
	}
	ApplyFindingMetadata(f, doc.Metadata)
	f.Archived = doc.HasTag(ArchivedTag)
	f.Durable = doc.HasTag(DurableTag)
	return f, nil
}

// ApplyFindingMetadata overlays lifecycle metadata onto f.
func ApplyFindingMetadata(f *Finding, meta map[string]string) {
	if s := meta[MetaStatus]; s != "" {
		f.Status = FindingStatus(s)
	}
	f.AcknowledgedBy = meta[MetaAcknowledgedBy]
	f.AcknowledgedAt = parseMetaTime(meta[MetaAcknowledgedAt])
	f.ResolvedBy = meta[MetaResolvedBy]
	f.ResolvedAt = parseMetaTime(meta[MetaResolvedAt])
	f.Resolution = meta[MetaResolution]
	f.RejectedBy = meta[MetaRejectedBy]
	f.RejectedAt = parseMetaTime(meta[MetaRejectedAt])
	f.RejectReason = meta[MetaRejectReason]
}

// FormatMetaTime renders a timestamp for store metadata.
func FormatMetaTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseMetaTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}

// EncodeJSON renders a non-finding entity as its stored JSON.
func EncodeJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %T: %w", v, err)
	}
	return string(data), nil
}

func decodeJSON[T any](doc *store.Document) (*T, error) {
	var v T
	if err := json.Unmarshal([]byte(doc.Content), &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", doc.Path, err)
	}
	return &v, nil
}

// AgentFromDocument decodes a stored agent card.
func AgentFromDocument(doc *store.Document) (*AgentCard, error) {
	a, err := decodeJSON[AgentCard](doc)
	if err != nil {
		return nil, err
	}
	a.Durable = doc.HasTag(DurableTag)
	return a, nil
}

// TaskFromDocument decodes a stored task.
func TaskFromDocument(doc *store.Document) (*Task, error) {
	t, err := decodeJSON[Task](doc)
	if err != nil {
		return nil, err
	}
	if t.ID == "" {
		return nil, fmt.Errorf("task %s has no id", doc.Path)
	}
	t.Durable = doc.HasTag(DurableTag)
	return t, nil
}

// ContextFromDocument decodes a stored context.
func ContextFromDocument(doc *store.Document) (*Context, error) {
	c, err := decodeJSON[Context](doc)
	if err != nil {
		return nil, err
	}
	c.Durable = doc.HasTag(DurableTag)
	return c, nil
}

// SubscriptionFromDocument decodes a stored subscription.
func SubscriptionFromDocument(doc *store.Document) (*Subscription, error) {
	return decodeJSON[Subscription](doc)
}

// NotificationFromDocument decodes a stored notification.
func NotificationFromDocument(doc *store.Document) (*Notification, error) {
	return decodeJSON[Notification](doc)
}

// ManifestFromDocument decodes a stored compaction manifest.
func ManifestFromDocument(doc *store.Document) (*CompactionManifest, error) {
	return decodeJSON[CompactionManifest](doc)
}

// SessionFromDocument decodes a stored session record.
func SessionFromDocument(doc *store.Document) (*SessionRecord, error) {
	return decodeJSON[SessionRecord](doc)
}
