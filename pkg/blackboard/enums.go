package blackboard

import "fmt"

// AgentStatus is the availability of a registered agent.
type AgentStatus string

const (
	AgentStatusActive  AgentStatus = "active"
	AgentStatusIdle    AgentStatus = "idle"
	AgentStatusOffline AgentStatus = "offline"
)

// Validate checks if the AgentStatus is a valid enum value.
func (s AgentStatus) Validate() error {
	switch s {
	case AgentStatusActive, AgentStatusIdle, AgentStatusOffline:
		return nil
	default:
		return fmt.Errorf("%w: unknown agent status %q", ErrInvalidInput, s)
	}
}

// Topic partitions findings. The set is closed.
type Topic string

const (
	TopicSecurity      Topic = "security"
	TopicPerformance   Topic = "performance"
	TopicBug           Topic = "bug"
	TopicArchitecture  Topic = "architecture"
	TopicTesting       Topic = "testing"
	TopicDocumentation Topic = "documentation"
	TopicDependency    Topic = "dependency"
	TopicStyle         Topic = "style"
	TopicGeneral       Topic = "general"
)

// Topics lists every topic in display order.
var Topics = []Topic{
	TopicSecurity, TopicPerformance, TopicBug, TopicArchitecture, TopicTesting,
	TopicDocumentation, TopicDependency, TopicStyle, TopicGeneral,
}

// Validate checks if the Topic is a valid enum value.
func (t Topic) Validate() error {
	for _, known := range Topics {
		if t == known {
			return nil
		}
	}
	return fmt.Errorf("%w: unknown topic %q", ErrInvalidInput, t)
}

// Severity grades a finding. The zero value means "unspecified".
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Validate checks if the Severity is empty or a valid enum value.
func (s Severity) Validate() error {
	if s == "" || s.Rank() > 0 {
		return nil
	}
	return fmt.Errorf("%w: unknown severity %q", ErrInvalidInput, s)
}

// Rank orders severities; higher is more severe. Unspecified ranks 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityLow:
		return 2
	case SeverityMedium:
		return 3
	case SeverityHigh:
		return 4
	case SeverityCritical:
		return 5
	default:
		return 0
	}
}

// Elevated reports whether the severity is high or critical.
func (s Severity) Elevated() bool {
	return s.Rank() >= SeverityHigh.Rank()
}

// FindingStatus is the lifecycle state of a finding.
type FindingStatus string

const (
	FindingStatusDraft        FindingStatus = "draft"
	FindingStatusPublished    FindingStatus = "published"
	FindingStatusAcknowledged FindingStatus = "acknowledged"
	FindingStatusResolved     FindingStatus = "resolved"
	FindingStatusRejected     FindingStatus = "rejected"
)

var findingTransitions = map[FindingStatus][]FindingStatus{
	FindingStatusDraft:        {FindingStatusPublished},
	FindingStatusPublished:    {FindingStatusAcknowledged, FindingStatusResolved, FindingStatusRejected},
	FindingStatusAcknowledged: {FindingStatusResolved, FindingStatusRejected},
}

// Validate checks if the FindingStatus is a valid enum value.
func (s FindingStatus) Validate() error {
	switch s {
	case FindingStatusDraft, FindingStatusPublished, FindingStatusAcknowledged,
		FindingStatusResolved, FindingStatusRejected:
		return nil
	default:
		return fmt.Errorf("%w: unknown finding status %q", ErrInvalidInput, s)
	}
}

// CanTransition reports whether a finding in status s may move to next.
func (s FindingStatus) CanTransition(next FindingStatus) bool {
	for _, allowed := range findingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Open reports whether the finding still needs attention.
func (s FindingStatus) Open() bool {
	return s != FindingStatusResolved && s != FindingStatusRejected
}

// Scope controls whether a finding outlives its session.
type Scope string

const (
	ScopeSession    Scope = "session"
	ScopePersistent Scope = "persistent"
)

// Validate checks if the Scope is a valid enum value.
func (s Scope) Validate() error {
	switch s {
	case ScopeSession, ScopePersistent:
		return nil
	default:
		return fmt.Errorf("%w: unknown scope %q", ErrInvalidInput, s)
	}
}

// RefType classifies a finding reference.
type RefType string

const (
	RefFile    RefType = "file"
	RefURL     RefType = "url"
	RefFinding RefType = "finding"
	RefTask    RefType = "task"
	RefSymbol  RefType = "symbol"
)

// Validate checks if the RefType is a valid enum value.
func (r RefType) Validate() error {
	switch r {
	case RefFile, RefURL, RefFinding, RefTask, RefSymbol:
		return nil
	default:
		return fmt.Errorf("%w: unknown reference type %q", ErrInvalidInput, r)
	}
}

// TaskType classifies work. The set is closed.
type TaskType string

const (
	TaskTypeAnalysis       TaskType = "analysis"
	TaskTypeImplementation TaskType = "implementation"
	TaskTypeReview         TaskType = "review"
	TaskTypeTesting        TaskType = "testing"
	TaskTypeDocumentation  TaskType = "documentation"
	TaskTypeResearch       TaskType = "research"
	TaskTypeFix            TaskType = "fix"
	TaskTypeGeneral        TaskType = "general"
)

// TaskTypes lists every task type.
var TaskTypes = []TaskType{
	TaskTypeAnalysis, TaskTypeImplementation, TaskTypeReview, TaskTypeTesting,
	TaskTypeDocumentation, TaskTypeResearch, TaskTypeFix, TaskTypeGeneral,
}

// Validate checks if the TaskType is a valid enum value.
func (t TaskType) Validate() error {
	for _, known := range TaskTypes {
		if t == known {
			return nil
		}
	}
	return fmt.Errorf("%w: unknown task type %q", ErrInvalidInput, t)
}

// Priority bounds. 0 is the most urgent.
const (
	PriorityHighest = 0
	PriorityLowest  = 4
)

// ValidatePriority checks that p is within 0..4.
func ValidatePriority(p int) error {
	if p < PriorityHighest || p > PriorityLowest {
		return fmt.Errorf("%w: priority must be between %d and %d, got %d", ErrInvalidInput, PriorityHighest, PriorityLowest, p)
	}
	return nil
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusClaimed   TaskStatus = "claimed"
	TaskStatusWorking   TaskStatus = "working"
	TaskStatusBlocked   TaskStatus = "blocked"
	TaskStatusReview    TaskStatus = "review"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// pending → claimed → working → {blocked ⇄ working, review} → completed.
// failed is reachable from every active state; cancelled from pending and claimed.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending: {TaskStatusClaimed, TaskStatusCancelled},
	TaskStatusClaimed: {TaskStatusWorking, TaskStatusReview, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled},
	TaskStatusWorking: {TaskStatusBlocked, TaskStatusReview, TaskStatusCompleted, TaskStatusFailed},
	TaskStatusBlocked: {TaskStatusWorking, TaskStatusFailed},
	TaskStatusReview:  {TaskStatusWorking, TaskStatusCompleted, TaskStatusFailed},
}

// Validate checks if the TaskStatus is a valid enum value.
func (s TaskStatus) Validate() error {
	switch s {
	case TaskStatusPending, TaskStatusClaimed, TaskStatusWorking, TaskStatusBlocked,
		TaskStatusReview, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return nil
	default:
		return fmt.Errorf("%w: unknown task status %q", ErrInvalidInput, s)
	}
}

// CanTransition reports whether a task in status s may move to next.
// Staying in the same status is always allowed.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range taskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// Active reports whether an agent currently holds the task.
func (s TaskStatus) Active() bool {
	switch s {
	case TaskStatusClaimed, TaskStatusWorking, TaskStatusBlocked, TaskStatusReview:
		return true
	default:
		return false
	}
}

// ContextStatus is the lifecycle state of a context.
type ContextStatus string

const (
	ContextStatusActive    ContextStatus = "active"
	ContextStatusCompleted ContextStatus = "completed"
	ContextStatusArchived  ContextStatus = "archived"
)

// Validate checks if the ContextStatus is a valid enum value.
func (s ContextStatus) Validate() error {
	switch s {
	case ContextStatusActive, ContextStatusCompleted, ContextStatusArchived:
		return nil
	default:
		return fmt.Errorf("%w: unknown context status %q", ErrInvalidInput, s)
	}
}

// PatternType selects which event field a subscription compares.
type PatternType string

const (
	PatternTopic   PatternType = "topic"   // event topic
	PatternEntity  PatternType = "entity"  // event source type
	PatternAgent   PatternType = "agent"   // event source agent
	PatternStatus  PatternType = "status"  // event status
	PatternContext PatternType = "context" // event context id
)

// Validate checks if the PatternType is a valid enum value.
func (p PatternType) Validate() error {
	switch p {
	case PatternTopic, PatternEntity, PatternAgent, PatternStatus, PatternContext:
		return nil
	default:
		return fmt.Errorf("%w: unknown pattern type %q", ErrInvalidInput, p)
	}
}

// SubscriptionStatus is the lifecycle state of a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive  SubscriptionStatus = "active"
	SubscriptionStatusPaused  SubscriptionStatus = "paused"
	SubscriptionStatusExpired SubscriptionStatus = "expired"
)

// NotificationStatus is the read state of a notification.
type NotificationStatus string

const (
	NotificationStatusUnread    NotificationStatus = "unread"
	NotificationStatusRead      NotificationStatus = "read"
	NotificationStatusDismissed NotificationStatus = "dismissed"
)

// EventType names a state change that subscribers can react to.
type EventType string

const (
	EventFindingCreated  EventType = "finding_created"
	EventFindingUpdated  EventType = "finding_updated"
	EventFindingResolved EventType = "finding_resolved"
	EventTaskCreated     EventType = "task_created"
	EventTaskClaimed     EventType = "task_claimed"
	EventTaskUpdated     EventType = "task_updated"
	EventTaskCompleted   EventType = "task_completed"
)

// SourceType names the kind of entity an event came from.
type SourceType string

const (
	SourceFinding SourceType = "finding"
	SourceTask    SourceType = "task"
)
