package events

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/chalk/internal/query"
	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/dyluth/chalk/pkg/store"
)

// SubscribeInput describes a new subscription.
type SubscribeInput struct {
	SubscriberID string
	PatternType  blackboard.PatternType
	PatternValue string
	Filters      blackboard.SubscriptionFilters
	ExpiresAt    *time.Time
}

// Subscribe registers an active subscription.
func (b *Bus) Subscribe(ctx context.Context, in SubscribeInput) (*blackboard.Subscription, error) {
	now := b.now().UTC()
	s := &blackboard.Subscription{
		ID:           blackboard.NewID(),
		SubscriberID: in.SubscriberID,
		PatternType:  in.PatternType,
		PatternValue: in.PatternValue,
		Filters:      in.Filters,
		CreatedAt:    now,
		ExpiresAt:    in.ExpiresAt,
		Status:       blackboard.SubscriptionStatusActive,
		Origin:       b.origin.Current(),
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if s.ExpiresAt != nil && !s.ExpiresAt.After(now) {
		return nil, fmt.Errorf("%w: subscription would already be expired", blackboard.ErrInvalidInput)
	}
	if err := b.writeSubscription(ctx, s); err != nil {
		return nil, err
	}
	b.log.Debug().
		Str("subscriber", s.SubscriberID).
		Str("pattern", string(s.PatternType)+"="+s.PatternValue).
		Msg("Subscription created")
	return s, nil
}

// Cancel expires a subscription. It reports false, without error, when the
// subscription is unknown or already inactive.
func (b *Bus) Cancel(ctx context.Context, subscriberID, subscriptionID string) (bool, error) {
	if !validRecipient(subscriberID) || !validRecipient(subscriptionID) {
		return false, nil
	}
	s := query.Get(ctx, b.store, blackboard.SubscriptionPath(subscriberID, subscriptionID), blackboard.SubscriptionFromDocument, b.log)
	if s == nil || s.Status == blackboard.SubscriptionStatusExpired {
		return false, nil
	}
	s.Status = blackboard.SubscriptionStatusExpired
	if err := b.writeSubscription(ctx, s); err != nil {
		return false, err
	}
	b.log.Debug().Str("subscriber", subscriberID).Str("subscription_id", subscriptionID).Msg("Subscription cancelled")
	return true, nil
}

// Subscriptions returns a subscriber's subscriptions, oldest first. Active
// subscriptions past their expiry are reported as expired. Inactive ones are
// omitted unless includeInactive is set.
func (b *Bus) Subscriptions(ctx context.Context, subscriberID string, includeInactive bool) []*blackboard.Subscription {
	if !validRecipient(subscriberID) {
		return nil
	}
	subs := query.Load(ctx, b.store, store.Query{
		Tags: []store.Tag{
			blackboard.KindTag(blackboard.KindSubscription),
			store.T(blackboard.TagSubscriber, subscriberID),
		},
		PathPrefix: blackboard.SubscriptionsPrefix + subscriberID + "/",
	}, blackboard.SubscriptionFromDocument, b.log)

	now := b.now()
	out := make([]*blackboard.Subscription, 0, len(subs))
	for _, s := range subs {
		if s.Status == blackboard.SubscriptionStatusActive && !s.Live(now) {
			s.Status = blackboard.SubscriptionStatusExpired
		}
		if s.Status != blackboard.SubscriptionStatusActive && !includeInactive {
			continue
		}
		out = append(out, s)
	}
	sortOldestFirst(out)
	return out
}

func (b *Bus) writeSubscription(ctx context.Context, s *blackboard.Subscription) error {
	content, err := blackboard.EncodeJSON(s)
	if err != nil {
		return err
	}
	if _, err := b.store.Put(ctx, store.Document{
		Path:    blackboard.SubscriptionPath(s.SubscriberID, s.ID),
		Content: content,
		Tags:    blackboard.SubscriptionTags(s),
	}); err != nil {
		return fmt.Errorf("failed to write subscription %s: %w", s.ID, err)
	}
	return nil
}
