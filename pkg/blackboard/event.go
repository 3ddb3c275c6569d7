package blackboard

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Event is a transient state-change notice. It is never stored as its own
// document; the event bus matches it against subscriptions and broadcasts it.
//
// The shared fields are the ones every source can fill in. Exactly one of
// Finding or Task is set, and it determines SourceType.
type Event struct {
	Type          EventType `json:"event_type"`
	SourceID      string    `json:"source_id"`
	SourceAgentID string    `json:"source_agent_id"`
	Title         string    `json:"title"`
	Status        string    `json:"status,omitempty"`
	ContextID     string    `json:"context_id,omitempty"`
	At            time.Time `json:"at"`
	Origin

	Finding *FindingSource `json:"finding,omitempty"`
	Task    *TaskSource    `json:"task,omitempty"`
}

// FindingSource holds the fields only finding events carry.
type FindingSource struct {
	Topic    Topic    `json:"topic"`
	Severity Severity `json:"severity,omitempty"`
}

// TaskSource holds the fields only task events carry.
type TaskSource struct {
	Type     TaskType `json:"type"`
	Priority int      `json:"priority"`
}

// NewFindingEvent builds an event describing f.
func NewFindingEvent(typ EventType, f *Finding, actor string, at time.Time) Event {
	if actor == "" {
		actor = f.AgentID
	}
	return Event{
		Type:          typ,
		SourceID:      f.ID,
		SourceAgentID: actor,
		Title:         f.Title,
		Status:        string(f.Status),
		ContextID:     f.ContextID,
		At:            at,
		Origin:        f.Origin,
		Finding:       &FindingSource{Topic: f.Topic, Severity: f.Severity},
	}
}

// NewTaskEvent builds an event describing t, attributed to t.Actor().
func NewTaskEvent(typ EventType, t *Task, at time.Time) Event {
	return Event{
		Type:          typ,
		SourceID:      t.ID,
		SourceAgentID: t.Actor(),
		Title:         t.Title,
		Status:        string(t.Status),
		ContextID:     t.ContextID,
		At:            at,
		Origin:        t.Origin,
		Task:          &TaskSource{Type: t.Type, Priority: t.Priority},
	}
}

// SourceType reports which kind of entity raised the event.
func (e Event) SourceType() SourceType {
	if e.Task != nil {
		return SourceTask
	}
	return SourceFinding
}

// Topic returns the finding topic, or "" for task events.
func (e Event) Topic() Topic {
	if e.Finding == nil {
		return ""
	}
	return e.Finding.Topic
}

// Severity returns the finding severity, or "" for task events.
func (e Event) Severity() Severity {
	if e.Finding == nil {
		return ""
	}
	return e.Finding.Severity
}

// Field returns the event value a subscription of pattern type p compares.
func (e Event) Field(p PatternType) string {
	switch p {
	case PatternTopic:
		return string(e.Topic())
	case PatternEntity:
		return string(e.SourceType())
	case PatternAgent:
		return e.SourceAgentID
	case PatternStatus:
		return e.Status
	case PatternContext:
		return e.ContextID
	default:
		return ""
	}
}

// Summary denormalizes the event for a notification.
func (e Event) Summary() NotificationSummary {
	return NotificationSummary{
		Title:    e.Title,
		Topic:    e.Topic(),
		Severity: e.Severity(),
		Status:   e.Status,
	}
}

// MarshalJSON adds the derived source_type so consumers outside Go can
// dispatch on it.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	return json.Marshal(struct {
		plain
		SourceType SourceType `json:"source_type"`
	}{plain(e), e.SourceType()})
}

// Validate checks that exactly one source variant is set.
func (e Event) Validate() error {
	if (e.Finding == nil) == (e.Task == nil) {
		return fmt.Errorf("%w: event %s must carry exactly one source", ErrInvalidInput, e.Type)
	}
	if e.SourceID == "" {
		return fmt.Errorf("%w: event %s has no source id", ErrInvalidInput, e.Type)
	}
	return nil
}

// String renders a one-line description for logs and watchers.
func (e Event) String() string {
	detail := ""
	switch {
	case e.Finding != nil:
		detail = string(e.Finding.Topic)
		if e.Finding.Severity != "" {
			detail += "/" + string(e.Finding.Severity)
		}
	case e.Task != nil:
		detail = string(e.Task.Type) + "/p" + strconv.Itoa(e.Task.Priority)
	}
	return fmt.Sprintf("%s %s %s [%s] by %s: %s", e.Type, e.SourceType(), e.SourceID, detail, e.SourceAgentID, e.Title)
}
