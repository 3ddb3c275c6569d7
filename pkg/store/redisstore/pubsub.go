package redisstore

import (
	"context"
	"fmt"
	"sync"
)

// Feed represents an active Pub/Sub subscription to the events channel.
// Caller must call Close() when done to clean up resources.
// Payloads are delivered raw; decoding is the subscriber's concern.
type Feed struct {
	messages <-chan []byte
	cancel   func()
	once     sync.Once
}

// Messages returns the channel of raw event payloads.
// The channel is closed when the feed is closed or the context is cancelled.
func (f *Feed) Messages() <-chan []byte {
	return f.messages
}

// Close stops the subscription. Implements io.Closer.
// Safe to call multiple times - subsequent calls are no-ops.
func (f *Feed) Close() error {
	f.once.Do(f.cancel)
	return nil
}

// Publish broadcasts a payload on the namespace's events channel.
// Delivery is at-most-once; subscribers that are not connected miss it.
func (s *Store) Publish(ctx context.Context, payload []byte) error {
	if err := s.rdb.Publish(ctx, EventsChannel(s.namespace), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// SubscribeEvents subscribes to the namespace's events channel.
// Caller must call feed.Close() when done. Context cancellation also stops it.
//
// Messages are delivered on a buffered channel (size 10). A subscriber that
// falls behind will miss messages, since Redis Pub/Sub does not retain them.
func (s *Store) SubscribeEvents(ctx context.Context) (*Feed, error) {
	pubsub := s.rdb.Subscribe(ctx, EventsChannel(s.namespace))

	// Wait for the subscription to be confirmed so no publish is missed
	// between this call returning and the goroutine starting.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to events: %w", err)
	}

	messages := make(chan []byte, 10)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(messages)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case messages <- []byte(msg.Payload):
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Feed{
		messages: messages,
		cancel:   cancelFunc,
	}, nil
}
