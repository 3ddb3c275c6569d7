// Package watch follows blackboard activity live: the broadcast event feed
// when the backend has one, or a polled mailbox otherwise.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/chalk/internal/render"
	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/rs/zerolog"
)

// Filter narrows the streamed events. Zero values match everything.
type Filter struct {
	Types     []blackboard.EventType
	Topic     blackboard.Topic
	AgentID   string
	ContextID string
	Instance  string
}

// Matches reports whether e passes the filter.
func (f Filter) Matches(e blackboard.Event) bool {
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == e.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Topic != "" && e.Topic() != f.Topic {
		return false
	}
	if f.AgentID != "" && e.SourceAgentID != f.AgentID {
		return false
	}
	if f.ContextID != "" && e.ContextID != f.ContextID {
		return false
	}
	if f.Instance != "" && e.Instance != f.Instance {
		return false
	}
	return true
}

var icons = map[blackboard.EventType]string{
	blackboard.EventFindingCreated:  "📝",
	blackboard.EventFindingUpdated:  "✏️",
	blackboard.EventFindingResolved: "✅",
	blackboard.EventTaskCreated:     "📋",
	blackboard.EventTaskClaimed:     "🙋",
	blackboard.EventTaskUpdated:     "🔄",
	blackboard.EventTaskCompleted:   "🏁",
}

// Line renders one event for the terminal.
func Line(e blackboard.Event) string {
	icon := icons[e.Type]
	if icon == "" {
		icon = "•"
	}
	return fmt.Sprintf("[%s] %s %s", e.At.Local().Format("15:04:05"), icon, e.String())
}

// Stream prints every matching event from messages until the channel closes
// or ctx is done. Undecodable payloads are logged and skipped.
func Stream(ctx context.Context, messages <-chan []byte, w io.Writer, format render.Format, f Filter, log zerolog.Logger) error {
	enc := json.NewEncoder(w)
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-messages:
			if !ok {
				return nil
			}
			var e blackboard.Event
			if err := json.Unmarshal(payload, &e); err != nil {
				log.Warn().Err(err).Msg("Skipping undecodable event")
				continue
			}
			if !f.Matches(e) {
				continue
			}
			var err error
			if format == render.FormatJSONL {
				err = enc.Encode(e)
			} else {
				_, err = fmt.Fprintln(w, Line(e))
			}
			if err != nil {
				return fmt.Errorf("failed to write event: %w", err)
			}
		}
	}
}

// Mailbox is the read side of a recipient's notifications.
type Mailbox interface {
	GetUnread(ctx context.Context, recipientID string, limit int) []*blackboard.Notification
}

// Follow polls recipient's unread notifications every interval and hands
// each one not seen before to emit, oldest first, until ctx is done.
func Follow(ctx context.Context, mb Mailbox, recipient string, interval time.Duration, emit func(*blackboard.Notification) error) error {
	seen := make(map[string]bool)
	poll := func() error {
		unread := mb.GetUnread(ctx, recipient, 0)
		for i := len(unread) - 1; i >= 0; i-- {
			n := unread[i]
			if seen[n.ID] {
				continue
			}
			seen[n.ID] = true
			if err := emit(n); err != nil {
				return err
			}
		}
		return nil
	}

	if err := poll(); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := poll(); err != nil {
				return err
			}
		}
	}
}
