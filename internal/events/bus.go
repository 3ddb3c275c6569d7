// Package events is the subscription and notification layer.
//
// Agents register pattern subscriptions. Every state-changing operation hands
// its event to the Bus, which matches it against the live subscriptions of
// the event's instance and drops a notification into each matching
// subscriber's mailbox. Mailboxes are pulled, never pushed; a Broadcaster,
// when configured, additionally publishes each event for live watchers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dyluth/chalk/internal/query"
	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/dyluth/chalk/pkg/store"
	"github.com/rs/zerolog"
)

// Broadcaster publishes serialized events to live watchers.
type Broadcaster interface {
	Publish(ctx context.Context, payload []byte) error
}

// Bus owns subscriptions, matching and mailboxes.
type Bus struct {
	store       store.Store
	origin      blackboard.OriginSource
	log         zerolog.Logger
	now         func() time.Time
	broadcaster Broadcaster
}

// Option configures a Bus.
type Option func(*Bus)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) { b.now = now }
}

// WithBroadcaster publishes every emitted event through p.
func WithBroadcaster(p Broadcaster) Option {
	return func(b *Bus) { b.broadcaster = p }
}

// New creates a bus over s.
func New(s store.Store, origin blackboard.OriginSource, log zerolog.Logger, opts ...Option) *Bus {
	b := &Bus{store: s, origin: origin, log: log, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Emit implements blackboard.Emitter: it delivers notifications and then
// broadcasts the event. Nothing here can fail the caller.
func (b *Bus) Emit(ctx context.Context, e blackboard.Event) {
	b.Trigger(ctx, e)
	if b.broadcaster == nil {
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		b.log.Warn().Err(err).Str("event", string(e.Type)).Msg("Failed to encode event for broadcast")
		return
	}
	if err := b.broadcaster.Publish(ctx, payload); err != nil {
		b.log.Warn().Err(err).Str("event", string(e.Type)).Msg("Event broadcast failed")
	}
}

// Trigger writes a notification for every subscription matching e and
// returns how many were delivered. A failed write skips that subscriber only.
func (b *Bus) Trigger(ctx context.Context, e blackboard.Event) int {
	if err := e.Validate(); err != nil {
		b.log.Warn().Err(err).Msg("Dropping malformed event")
		return 0
	}

	delivered := 0
	for _, sub := range b.FindMatching(ctx, e) {
		n := &blackboard.Notification{
			ID:             blackboard.NewID(),
			SubscriptionID: sub.ID,
			EventType:      e.Type,
			SourceID:       e.SourceID,
			SourceType:     e.SourceType(),
			SourceAgentID:  e.SourceAgentID,
			Summary:        e.Summary(),
			RecipientID:    sub.SubscriberID,
			CreatedAt:      b.now().UTC(),
			Status:         blackboard.NotificationStatusUnread,
			Origin:         blackboard.Origin{Instance: e.Instance, Session: e.Session},
		}
		if err := b.writeNotification(ctx, n); err != nil {
			b.log.Warn().Err(err).Str("recipient", sub.SubscriberID).Str("subscription_id", sub.ID).Msg("Notification delivery failed")
			continue
		}
		delivered++
	}
	if delivered > 0 {
		b.log.Debug().Str("event", e.String()).Int("delivered", delivered).Msg("Event delivered")
	}
	return delivered
}

// FindMatching returns the live subscriptions of the event's instance that
// e satisfies.
func (b *Bus) FindMatching(ctx context.Context, e blackboard.Event) []*blackboard.Subscription {
	instance := e.Instance
	if instance == "" {
		instance = b.origin.Current().Instance
	}
	subs := query.Load(ctx, b.store, store.Query{
		Tags: []store.Tag{
			blackboard.KindTag(blackboard.KindSubscription),
			blackboard.StatusTag(string(blackboard.SubscriptionStatusActive)),
			blackboard.InstanceTag(instance),
		},
		PathPrefix: blackboard.SubscriptionsPrefix,
	}, blackboard.SubscriptionFromDocument, b.log)

	now := b.now()
	var out []*blackboard.Subscription
	for _, s := range subs {
		if s.Live(now) && Matches(s, e) {
			out = append(out, s)
		}
	}
	return out
}

// Matches reports whether e satisfies the subscription's pattern and filters.
// Liveness is the caller's concern.
func Matches(s *blackboard.Subscription, e blackboard.Event) bool {
	if s.Filters.ExcludesSelf() && e.SourceAgentID == s.SubscriberID {
		return false
	}
	value := e.Field(s.PatternType)
	if value == "" {
		return false
	}
	if s.PatternValue != Wildcard && s.PatternValue != value {
		return false
	}
	return s.Filters.AllowsSeverity(e.Severity())
}

// Wildcard as a pattern value matches any non-empty field.
const Wildcard = "*"

func validRecipient(id string) bool {
	return id != "" && !strings.Contains(id, "/")
}

func (b *Bus) writeNotification(ctx context.Context, n *blackboard.Notification) error {
	content, err := blackboard.EncodeJSON(n)
	if err != nil {
		return err
	}
	if _, err := b.store.Put(ctx, store.Document{
		Path:    blackboard.NotificationPath(n.RecipientID, n.ID),
		Content: content,
		Tags:    blackboard.NotificationTags(n),
	}); err != nil {
		return fmt.Errorf("failed to write notification %s: %w", n.ID, err)
	}
	return nil
}
