package blackboard

import (
	"strconv"

	"github.com/dyluth/chalk/pkg/store"
)

// Storage path helpers
//
// Every entity lives at a stable logical path. Updates rewrite the document
// at that path; nothing is patched in place.

// Path prefixes for listing one entity kind.
const (
	AgentsPrefix        = "agents/"
	FindingsPrefix      = "findings/"
	TasksPrefix         = "tasks/"
	ContextsPrefix      = "contexts/"
	SubscriptionsPrefix = "subscriptions/"
	NotificationsPrefix = "notifications/"
	SessionsPrefix      = "sessions/"

	manifestLeaf = "compaction-manifest"
)

// AgentPath returns the path of an agent card.
// Pattern: agents/{id}
func AgentPath(id string) string {
	return AgentsPrefix + id
}

// FindingPath returns the path of a finding.
// Pattern: findings/{topic}/{id}
func FindingPath(topic Topic, id string) string {
	return FindingsPrefix + string(topic) + "/" + id
}

// FindingGlob matches a finding by id across every topic partition.
// Pattern: findings/*/{id}
func FindingGlob(id string) string {
	return FindingsPrefix + "*/" + id
}

// TaskPath returns the path of a task.
// Pattern: tasks/{id}
func TaskPath(id string) string {
	return TasksPrefix + id
}

// ContextPath returns the path of a context.
// Pattern: contexts/{id}
func ContextPath(id string) string {
	return ContextsPrefix + id
}

// ManifestPath returns the path of a context's compaction manifest.
// Pattern: contexts/{id}/compaction-manifest
func ManifestPath(contextID string) string {
	return ContextsPrefix + contextID + "/" + manifestLeaf
}

// SubscriptionPath returns the path of a subscription.
// Pattern: subscriptions/{subscriberId}/{id}
func SubscriptionPath(subscriberID, id string) string {
	return SubscriptionsPrefix + subscriberID + "/" + id
}

// NotificationPath returns the path of a notification.
// Pattern: notifications/{recipientId}/{id}
func NotificationPath(recipientID, id string) string {
	return NotificationsPrefix + recipientID + "/" + id
}

// MailboxPrefix returns the path prefix of one recipient's notifications.
func MailboxPrefix(recipientID string) string {
	return NotificationsPrefix + recipientID + "/"
}

// SessionPath returns the path of a session record.
// Pattern: sessions/{instance}/{id}
func SessionPath(instance, id string) string {
	return SessionsPrefix + instance + "/" + id
}

// Kind values carried in the kind tag.
const (
	KindAgent        = "agent"
	KindFinding      = "finding"
	KindTask         = "task"
	KindContext      = "context"
	KindSubscription = "subscription"
	KindNotification = "notification"
	KindManifest     = "manifest"
	KindSession      = "session"
)

// Tag keys. Tags are the store's only query index.
const (
	TagKind            = "kind"
	TagID              = "id"
	TagAgent           = "agent"
	TagTopic           = "topic"
	TagSeverity        = "severity"
	TagStatus          = "status"
	TagScope           = "scope"
	TagContext         = "context"
	TagInstance        = "instance"
	TagSession         = "session"
	TagArchived        = "archived"
	TagArchivedSession = "archived-session"
	TagDurable         = "durable"
	TagParent          = "parent"
	TagCapability      = "capability"
	TagPriority        = "priority"
	TagTaskType        = "task-type"
	TagCreatedBy       = "created-by"
	TagAssigned        = "assigned"
	TagSubscriber      = "subscriber"
	TagRecipient       = "recipient"
	TagPattern         = "pattern"
)

// Common tag constructors.
var (
	ArchivedTag = store.Marker(TagArchived)
	DurableTag  = store.Marker(TagDurable)
)

// KindTag selects one entity kind.
func KindTag(kind string) store.Tag { return store.T(TagKind, kind) }

// InstanceTag selects one engine instance.
func InstanceTag(instance string) store.Tag { return store.T(TagInstance, instance) }

// SessionTag selects one session.
func SessionTag(session string) store.Tag { return store.T(TagSession, session) }

// StatusTag selects one status value.
func StatusTag(status string) store.Tag { return store.T(TagStatus, status) }

// ContextTag selects one context.
func ContextTag(contextID string) store.Tag { return store.T(TagContext, contextID) }

// originTags renders the scoping tags every write must carry.
func originTags(o Origin) []store.Tag {
	tags := []store.Tag{InstanceTag(o.Instance)}
	if o.Session != "" {
		tags = append(tags, SessionTag(o.Session))
	}
	if o.Durable {
		tags = append(tags, DurableTag)
	}
	return tags
}

// AgentTags returns the canonical tag set of an agent card.
func AgentTags(a *AgentCard) []store.Tag {
	tags := []store.Tag{
		KindTag(KindAgent),
		store.T(TagID, a.ID),
		StatusTag(string(a.Status)),
	}
	for _, c := range a.Capabilities {
		tags = append(tags, store.T(TagCapability, c))
	}
	if a.ContextID != "" {
		tags = append(tags, ContextTag(a.ContextID))
	}
	return append(tags, originTags(a.Origin)...)
}

// FindingTags returns the canonical tag set of a finding as posted.
// Lifecycle changes after posting adjust the status and archive tags only.
func FindingTags(f *Finding) []store.Tag {
	tags := []store.Tag{
		KindTag(KindFinding),
		store.T(TagID, f.ID),
		store.T(TagAgent, f.AgentID),
		store.T(TagTopic, string(f.Topic)),
		StatusTag(string(f.Status)),
		store.T(TagScope, string(f.Scope)),
	}
	if f.Severity != "" {
		tags = append(tags, store.T(TagSeverity, string(f.Severity)))
	}
	if f.ContextID != "" {
		tags = append(tags, ContextTag(f.ContextID))
	}
	if f.ParentID != "" {
		tags = append(tags, store.T(TagParent, f.ParentID))
	}
	if f.Archived {
		tags = append(tags, ArchivedTag)
	}
	return append(tags, originTags(f.Origin)...)
}

// FindingPathResolver maps a finding id to its stored path, or "" when the
// finding cannot be found. Finding paths are topic-partitioned, so links to
// other findings need a lookup.
type FindingPathResolver func(id string) string

// FindingLinks returns the store links implied by a finding's parent and
// references. Unresolvable finding ids are skipped.
func FindingLinks(f *Finding, resolve FindingPathResolver) []string {
	var links []string
	addFinding := func(id string) {
		if resolve == nil {
			return
		}
		if p := resolve(id); p != "" {
			links = append(links, p)
		}
	}
	if f.ParentID != "" {
		addFinding(f.ParentID)
	}
	for _, ref := range f.References {
		switch ref.Type {
		case RefTask:
			links = append(links, TaskPath(ref.Target))
		case RefFinding:
			addFinding(ref.Target)
		}
	}
	return links
}

// TaskTags returns the canonical tag set of a task.
func TaskTags(t *Task) []store.Tag {
	tags := []store.Tag{
		KindTag(KindTask),
		store.T(TagID, t.ID),
		StatusTag(string(t.Status)),
		store.T(TagTaskType, string(t.Type)),
		store.T(TagPriority, strconv.Itoa(t.Priority)),
		store.T(TagCreatedBy, t.CreatedBy),
	}
	if t.AssignedTo != "" {
		tags = append(tags, store.T(TagAssigned, t.AssignedTo))
	}
	if t.ContextID != "" {
		tags = append(tags, ContextTag(t.ContextID))
	}
	return append(tags, originTags(t.Origin)...)
}

// TaskLinks returns the store links of a task: its dependencies and the
// findings it produced.
func TaskLinks(t *Task, resolve FindingPathResolver) []string {
	links := make([]string, 0, len(t.DependsOn)+len(t.Findings))
	for _, dep := range t.DependsOn {
		links = append(links, TaskPath(dep))
	}
	if resolve == nil {
		return links
	}
	for _, id := range t.Findings {
		if p := resolve(id); p != "" {
			links = append(links, p)
		}
	}
	return links
}

// ContextTags returns the canonical tag set of a context.
func ContextTags(c *Context) []store.Tag {
	return append([]store.Tag{
		KindTag(KindContext),
		store.T(TagID, c.ID),
		StatusTag(string(c.Status)),
	}, originTags(c.Origin)...)
}

// SubscriptionTags returns the canonical tag set of a subscription.
func SubscriptionTags(s *Subscription) []store.Tag {
	return append([]store.Tag{
		KindTag(KindSubscription),
		store.T(TagID, s.ID),
		store.T(TagSubscriber, s.SubscriberID),
		StatusTag(string(s.Status)),
		store.T(TagPattern, string(s.PatternType)),
	}, originTags(s.Origin)...)
}

// NotificationTags returns the canonical tag set of a notification.
func NotificationTags(n *Notification) []store.Tag {
	return append([]store.Tag{
		KindTag(KindNotification),
		store.T(TagID, n.ID),
		store.T(TagRecipient, n.RecipientID),
		StatusTag(string(n.Status)),
	}, originTags(n.Origin)...)
}

// ManifestTags returns the canonical tag set of a compaction manifest.
func ManifestTags(m *CompactionManifest) []store.Tag {
	return append([]store.Tag{
		KindTag(KindManifest),
		ContextTag(m.ContextID),
	}, originTags(m.Origin)...)
}

// SessionRecordTags returns the canonical tag set of a session record.
func SessionRecordTags(r *SessionRecord) []store.Tag {
	return []store.Tag{
		KindTag(KindSession),
		store.T(TagID, r.ID),
		InstanceTag(r.Instance),
		StatusTag(string(r.Status)),
	}
}

// ArchivedSessionTag records which session an archived record came from.
func ArchivedSessionTag(session string) store.Tag { return store.T(TagArchivedSession, session) }
