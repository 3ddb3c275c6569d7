package events

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dyluth/chalk/internal/query"
	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/dyluth/chalk/pkg/store"
)

// Counts summarizes one mailbox.
type Counts struct {
	Unread int `json:"unread"`
	Total  int `json:"total"`
}

// Mailbox returns a recipient's notifications, newest first. status "" means
// every status; limit 0 means no limit.
func (b *Bus) Mailbox(ctx context.Context, recipientID string, status blackboard.NotificationStatus, limit int) []*blackboard.Notification {
	if !validRecipient(recipientID) {
		return nil
	}
	tags := []store.Tag{
		blackboard.KindTag(blackboard.KindNotification),
		store.T(blackboard.TagRecipient, recipientID),
	}
	if status != "" {
		tags = append(tags, blackboard.StatusTag(string(status)))
	}
	ns := query.Load(ctx, b.store, store.Query{Tags: tags, PathPrefix: blackboard.MailboxPrefix(recipientID)}, blackboard.NotificationFromDocument, b.log)

	sort.SliceStable(ns, func(i, j int) bool {
		if !ns[i].CreatedAt.Equal(ns[j].CreatedAt) {
			return ns[i].CreatedAt.After(ns[j].CreatedAt)
		}
		return ns[i].ID > ns[j].ID
	})
	return store.Paginate(ns, store.Query{Limit: limit})
}

// GetUnread returns up to limit unread notifications, newest first.
func (b *Bus) GetUnread(ctx context.Context, recipientID string, limit int) []*blackboard.Notification {
	return b.Mailbox(ctx, recipientID, blackboard.NotificationStatusUnread, limit)
}

// MarkRead marks one notification read. It reports false when the
// notification is unknown or not unread.
func (b *Bus) MarkRead(ctx context.Context, recipientID, id string) (bool, error) {
	return b.setStatus(ctx, recipientID, id, blackboard.NotificationStatusRead)
}

// Dismiss hides one notification from the mailbox without deleting it.
func (b *Bus) Dismiss(ctx context.Context, recipientID, id string) (bool, error) {
	return b.setStatus(ctx, recipientID, id, blackboard.NotificationStatusDismissed)
}

// MarkAllRead marks every unread notification read and returns how many
// changed.
func (b *Bus) MarkAllRead(ctx context.Context, recipientID string) (int, error) {
	var (
		changed int
		errs    []error
	)
	for _, n := range b.GetUnread(ctx, recipientID, 0) {
		n.Status = blackboard.NotificationStatusRead
		if err := b.writeNotification(ctx, n); err != nil {
			errs = append(errs, err)
			continue
		}
		changed++
	}
	return changed, errors.Join(errs...)
}

// Count returns the unread and total notification counts of a mailbox.
func (b *Bus) Count(ctx context.Context, recipientID string) Counts {
	if !validRecipient(recipientID) {
		return Counts{}
	}
	descs, err := b.store.List(ctx, store.Query{
		Tags: []store.Tag{
			blackboard.KindTag(blackboard.KindNotification),
			store.T(blackboard.TagRecipient, recipientID),
		},
		PathPrefix: blackboard.MailboxPrefix(recipientID),
	})
	if err != nil {
		b.log.Warn().Err(err).Str("recipient", recipientID).Msg("Mailbox count failed")
		return Counts{}
	}
	c := Counts{Total: len(descs)}
	unread := blackboard.StatusTag(string(blackboard.NotificationStatusUnread))
	for _, d := range descs {
		if d.HasTag(unread) {
			c.Unread++
		}
	}
	return c
}

func (b *Bus) setStatus(ctx context.Context, recipientID, id string, status blackboard.NotificationStatus) (bool, error) {
	if !validRecipient(recipientID) || !validRecipient(id) {
		return false, nil
	}
	n := query.Get(ctx, b.store, blackboard.NotificationPath(recipientID, id), blackboard.NotificationFromDocument, b.log)
	if n == nil || n.Status == status || n.Status == blackboard.NotificationStatusDismissed {
		return false, nil
	}
	n.Status = status
	if err := b.writeNotification(ctx, n); err != nil {
		return false, fmt.Errorf("failed to update notification %s: %w", id, err)
	}
	return true, nil
}

func sortOldestFirst(subs []*blackboard.Subscription) {
	sort.SliceStable(subs, func(i, j int) bool {
		return subs[i].CreatedAt.Before(subs[j].CreatedAt)
	})
}
