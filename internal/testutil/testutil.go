// Package testutil holds fixtures shared by the store-backed unit tests.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/dyluth/chalk/pkg/store/redisstore"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// TestInstance is the instance name stamped on writes by Origin.
const TestInstance = "test-instance"

// NewStore returns a redis store backed by a fresh miniredis server. Both are
// closed when the test ends.
func NewStore(t *testing.T) (*redisstore.Store, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	s, err := redisstore.New(&redis.Options{Addr: mr.Addr()}, TestInstance)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s, mr
}

// Origin returns a fixed origin in TestInstance with the given session.
func Origin(session string) blackboard.FixedOrigin {
	return blackboard.FixedOrigin{Instance: TestInstance, Session: session}
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock frozen at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Recorder collects emitted events.
type Recorder struct {
	mu     sync.Mutex
	events []blackboard.Event
}

// Emit implements blackboard.Emitter.
func (r *Recorder) Emit(_ context.Context, e blackboard.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything emitted so far.
func (r *Recorder) Events() []blackboard.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]blackboard.Event(nil), r.events...)
}

// Types returns the type of every emitted event, in order.
func (r *Recorder) Types() []blackboard.EventType {
	var out []blackboard.EventType
	for _, e := range r.Events() {
		out = append(out, e.Type)
	}
	return out
}
