package blackboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Origin records which engine instance and session wrote a record.
// Instance is always set; Session is empty outside a session.
//
// Durable is set once reconciliation has promoted the record into the
// cross-session corpus. It is sourced from the durable tag on read.
type Origin struct {
	Instance string `json:"instance" yaml:"instance"`
	Session  string `json:"session,omitempty" yaml:"session,omitempty"`
	Durable  bool   `json:"durable,omitempty" yaml:"-"`
}

// AgentCard is a registered agent identity.
// Cards are never deleted, only marked offline.
type AgentCard struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Capabilities []string    `json:"capabilities"`
	Status       AgentStatus `json:"status"`
	ContextID    string      `json:"context_id,omitempty"`
	RegisteredAt time.Time   `json:"registered_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	Origin
}

// Validate checks if the AgentCard has valid field values.
func (a *AgentCard) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("%w: agent id cannot be empty", ErrInvalidInput)
	}
	if strings.Contains(a.ID, "/") {
		return fmt.Errorf("%w: agent id cannot contain '/'", ErrInvalidInput)
	}
	if len(a.Capabilities) == 0 {
		return fmt.Errorf("%w: agent %s must declare at least one capability", ErrInvalidInput, a.ID)
	}
	for i, c := range a.Capabilities {
		if strings.TrimSpace(c) == "" {
			return fmt.Errorf("%w: capability at index %d is empty", ErrInvalidInput, i)
		}
	}
	return a.Status.Validate()
}

// HasCapability reports whether the agent declares capability c.
func (a *AgentCard) HasCapability(c string) bool {
	for _, have := range a.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Reference is a typed link from a finding to something else.
type Reference struct {
	Type   RefType `json:"type" yaml:"type"`
	Target string  `json:"target" yaml:"target"`
	Note   string  `json:"note,omitempty" yaml:"note,omitempty"`
}

// ParseReferences reads references written as "type:target". The types are
// checked later, by Finding.Validate.
func ParseReferences(raw []string) ([]Reference, error) {
	refs := make([]Reference, 0, len(raw))
	for _, r := range raw {
		typ, target, ok := strings.Cut(r, ":")
		if !ok || target == "" {
			return nil, fmt.Errorf("%w: reference %q must be type:target", ErrInvalidInput, r)
		}
		refs = append(refs, Reference{Type: RefType(typ), Target: target})
	}
	return refs, nil
}

// Finding is an observation one agent posts for others to read.
//
// The lifecycle fields (Status and the Acknowledged/Resolved/Rejected groups)
// are changed by tag-only updates and are carried in store metadata, so the
// stored body is never rewritten after posting.
type Finding struct {
	ID         string            `json:"id"`
	AgentID    string            `json:"agent_id"`
	Topic      Topic             `json:"topic"`
	Title      string            `json:"title"`
	Content    string            `json:"content"`
	Confidence float64           `json:"confidence"`
	Severity   Severity          `json:"severity,omitempty"`
	Status     FindingStatus     `json:"status"`
	Scope      Scope             `json:"scope"`
	ContextID  string            `json:"context_id,omitempty"`
	ParentID   string            `json:"parent_id,omitempty"`
	References []Reference       `json:"references,omitempty"`
	TTL        time.Duration     `json:"ttl,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	Origin

	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedBy     string     `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	Resolution     string     `json:"resolution,omitempty"`
	RejectedBy     string     `json:"rejected_by,omitempty"`
	RejectedAt     *time.Time `json:"rejected_at,omitempty"`
	RejectReason   string     `json:"reject_reason,omitempty"`
	Archived       bool       `json:"archived,omitempty"`
}

// Validate checks if the Finding has valid field values.
func (f *Finding) Validate() error {
	if !isValidUUID(f.ID) {
		return fmt.Errorf("%w: finding id is not a valid UUID", ErrInvalidInput)
	}
	if f.AgentID == "" {
		return fmt.Errorf("%w: finding agent_id cannot be empty", ErrInvalidInput)
	}
	if err := f.Topic.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(f.Title) == "" {
		return fmt.Errorf("%w: finding title cannot be empty", ErrInvalidInput)
	}
	if strings.Contains(f.Title, "\n") {
		return fmt.Errorf("%w: finding title must be a single line", ErrInvalidInput)
	}
	if f.Confidence < 0 || f.Confidence > 1 {
		return fmt.Errorf("%w: confidence must be within [0,1], got %v", ErrInvalidInput, f.Confidence)
	}
	if err := f.Severity.Validate(); err != nil {
		return err
	}
	if err := f.Status.Validate(); err != nil {
		return err
	}
	if err := f.Scope.Validate(); err != nil {
		return err
	}
	if f.TTL < 0 {
		return fmt.Errorf("%w: ttl cannot be negative", ErrInvalidInput)
	}
	for i, ref := range f.References {
		if err := ref.Type.Validate(); err != nil {
			return fmt.Errorf("reference %d: %w", i, err)
		}
		if ref.Target == "" {
			return fmt.Errorf("%w: reference %d has no target", ErrInvalidInput, i)
		}
	}
	return nil
}

// Expired reports whether the finding's TTL has elapsed at now.
func (f *Finding) Expired(now time.Time) bool {
	return f.TTL > 0 && now.After(f.CreatedAt.Add(f.TTL))
}

// Task is a claimable unit of work.
//
// AssignedTo is set if and only if Status is not pending.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Type        TaskType   `json:"type"`
	Priority    int        `json:"priority"`
	Status      TaskStatus `json:"status"`
	CreatedBy   string     `json:"created_by"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	DependsOn   []string   `json:"depends_on,omitempty"`
	Findings    []string   `json:"findings,omitempty"`
	Artifacts   []string   `json:"artifacts,omitempty"`
	ContextID   string     `json:"context_id,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Origin
}

// Validate checks if the Task has valid field values.
func (t *Task) Validate() error {
	if !isValidUUID(t.ID) {
		return fmt.Errorf("%w: task id is not a valid UUID", ErrInvalidInput)
	}
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("%w: task title cannot be empty", ErrInvalidInput)
	}
	if err := t.Type.Validate(); err != nil {
		return err
	}
	if err := ValidatePriority(t.Priority); err != nil {
		return err
	}
	if err := t.Status.Validate(); err != nil {
		return err
	}
	if t.CreatedBy == "" {
		return fmt.Errorf("%w: task created_by cannot be empty", ErrInvalidInput)
	}
	if (t.Status == TaskStatusPending) != (t.AssignedTo == "") {
		return fmt.Errorf("%w: task %s has status %s but assigned_to %q", ErrInvalidInput, t.ID, t.Status, t.AssignedTo)
	}
	for _, dep := range t.DependsOn {
		if dep == t.ID {
			return fmt.Errorf("%w: task %s depends on itself", ErrInvalidInput, t.ID)
		}
	}
	return nil
}

// Actor returns the agent credited with changes to the task.
func (t *Task) Actor() string {
	if t.AssignedTo != "" {
		return t.AssignedTo
	}
	return t.CreatedBy
}

// Context is a named grouping of related findings, tasks and agents.
type Context struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Findings    []string      `json:"findings"`
	Tasks       []string      `json:"tasks"`
	Agents      []string      `json:"agents"`
	Status      ContextStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	Origin
}

// Validate checks if the Context has valid field values.
func (c *Context) Validate() error {
	if c.ID == "" || strings.Contains(c.ID, "/") {
		return fmt.Errorf("%w: context id %q is empty or contains '/'", ErrInvalidInput, c.ID)
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: context name cannot be empty", ErrInvalidInput)
	}
	return c.Status.Validate()
}

// SubscriptionFilters narrow which matching events notify the subscriber.
type SubscriptionFilters struct {
	Severity []Severity `json:"severity,omitempty"`

	// MinConfidence is accepted and stored but not evaluated, because events
	// do not carry a confidence.
	MinConfidence *float64 `json:"min_confidence,omitempty"`

	// ExcludeSelf defaults to true when nil.
	ExcludeSelf *bool `json:"exclude_self,omitempty"`
}

// ExcludesSelf reports whether events caused by the subscriber are ignored.
func (f SubscriptionFilters) ExcludesSelf() bool {
	return f.ExcludeSelf == nil || *f.ExcludeSelf
}

// AllowsSeverity applies the severity allow-list. An empty list allows all.
func (f SubscriptionFilters) AllowsSeverity(s Severity) bool {
	if len(f.Severity) == 0 {
		return true
	}
	for _, allowed := range f.Severity {
		if allowed == s {
			return true
		}
	}
	return false
}

// Subscription is a standing pattern rule registered by an agent.
type Subscription struct {
	ID           string              `json:"id"`
	SubscriberID string              `json:"subscriber_id"`
	PatternType  PatternType         `json:"pattern_type"`
	PatternValue string              `json:"pattern_value"`
	Filters      SubscriptionFilters `json:"filters"`
	CreatedAt    time.Time           `json:"created_at"`
	ExpiresAt    *time.Time          `json:"expires_at,omitempty"`
	Status       SubscriptionStatus  `json:"status"`
	Origin
}

// Validate checks if the Subscription has valid field values.
func (s *Subscription) Validate() error {
	if s.SubscriberID == "" || strings.Contains(s.SubscriberID, "/") {
		return fmt.Errorf("%w: subscriber id %q is empty or contains '/'", ErrInvalidInput, s.SubscriberID)
	}
	if err := s.PatternType.Validate(); err != nil {
		return err
	}
	if s.PatternValue == "" {
		return fmt.Errorf("%w: pattern value cannot be empty", ErrInvalidInput)
	}
	for _, sev := range s.Filters.Severity {
		if sev == "" {
			return fmt.Errorf("%w: severity filter contains an empty value", ErrInvalidInput)
		}
		if err := sev.Validate(); err != nil {
			return err
		}
	}
	if mc := s.Filters.MinConfidence; mc != nil && (*mc < 0 || *mc > 1) {
		return fmt.Errorf("%w: min_confidence must be within [0,1]", ErrInvalidInput)
	}
	return nil
}

// Live reports whether the subscription is active and unexpired at now.
func (s *Subscription) Live(now time.Time) bool {
	if s.Status != SubscriptionStatusActive {
		return false
	}
	return s.ExpiresAt == nil || now.Before(*s.ExpiresAt)
}

// NotificationSummary denormalizes the source so a mailbox read never needs
// a second fetch.
type NotificationSummary struct {
	Title    string   `json:"title"`
	Topic    Topic    `json:"topic,omitempty"`
	Severity Severity `json:"severity,omitempty"`
	Status   string   `json:"status,omitempty"`
}

// Notification is a per-recipient mailbox entry.
type Notification struct {
	ID             string              `json:"id"`
	SubscriptionID string              `json:"subscription_id"`
	EventType      EventType           `json:"event_type"`
	SourceID       string              `json:"source_id"`
	SourceType     SourceType          `json:"source_type"`
	SourceAgentID  string              `json:"source_agent_id"`
	Summary        NotificationSummary `json:"summary"`
	RecipientID    string              `json:"recipient_id"`
	CreatedAt      time.Time           `json:"created_at"`
	Status         NotificationStatus  `json:"status"`
	Origin
}

// FindingRef is the manifest descriptor of a finding.
type FindingRef struct {
	ID       string        `json:"id"`
	Topic    Topic         `json:"topic"`
	Severity Severity      `json:"severity,omitempty"`
	Status   FindingStatus `json:"status"`
	Title    string        `json:"title"`
}

// TaskRef is the manifest descriptor of a task.
type TaskRef struct {
	ID         string     `json:"id"`
	Type       TaskType   `json:"type"`
	Status     TaskStatus `json:"status"`
	Priority   int        `json:"priority"`
	AssignedTo string     `json:"assigned_to,omitempty"`
	Title      string     `json:"title"`
}

// ManifestStats are the aggregate counts of a manifest.
type ManifestStats struct {
	Findings         int `json:"findings"`
	Tasks            int `json:"tasks"`
	Agents           int `json:"agents"`
	ElevatedFindings int `json:"elevatedFindings"`
	OpenFindings     int `json:"openFindings"`
	ActiveTasks      int `json:"activeTasks"`
	BlockedTasks     int `json:"blockedTasks"`
	CompletedTasks   int `json:"completedTasks"`
}

// CompactionManifest is a lightweight, re-fetchable index of a context.
type CompactionManifest struct {
	ContextID string        `json:"contextId"`
	Timestamp time.Time     `json:"timestamp"`
	Findings  []FindingRef  `json:"findings"`
	Tasks     []TaskRef     `json:"tasks"`
	AgentIDs  []string      `json:"agentIds"`
	Stats     ManifestStats `json:"stats"`
	Origin
}

// SessionStatus is the lifecycle state of a session record.
type SessionStatus string

const (
	SessionStatusActive SessionStatus = "active"
	SessionStatusEnded  SessionStatus = "ended"
)

// SessionRecord tracks one conversational session of an instance.
type SessionRecord struct {
	ID        string        `json:"id"`
	Instance  string        `json:"instance"`
	Status    SessionStatus `json:"status"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
	Archived  int           `json:"archived,omitempty"`
	Promoted  int           `json:"promoted,omitempty"`
}

// NewID returns a fresh globally unique id.
func NewID() string {
	return uuid.New().String()
}

// isValidUUID checks if a string is a valid UUID.
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
