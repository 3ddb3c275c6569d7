package blackboard

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validFinding() *Finding {
	return &Finding{
		ID:         NewID(),
		AgentID:    "scanner",
		Topic:      TopicSecurity,
		Title:      "SQL injection in login",
		Content:    "user input reaches the query builder",
		Confidence: 0.9,
		Severity:   SeverityHigh,
		Status:     FindingStatusPublished,
		Scope:      ScopeSession,
		CreatedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Origin:     Origin{Instance: "inst-1", Session: "sess-1"},
	}
}

func validTask() *Task {
	return &Task{
		ID:        NewID(),
		Title:     "Patch login",
		Type:      TaskTypeFix,
		Priority:  1,
		Status:    TaskStatusPending,
		CreatedBy: "planner",
		Origin:    Origin{Instance: "inst-1"},
	}
}

func TestFindingValidate(t *testing.T) {
	t.Run("valid finding passes", func(t *testing.T) {
		assert.NoError(t, validFinding().Validate())
	})

	tests := []struct {
		name   string
		mutate func(f *Finding)
	}{
		{"invalid id", func(f *Finding) { f.ID = "nope" }},
		{"missing agent", func(f *Finding) { f.AgentID = "" }},
		{"unknown topic", func(f *Finding) { f.Topic = "gossip" }},
		{"empty title", func(f *Finding) { f.Title = "  " }},
		{"multiline title", func(f *Finding) { f.Title = "a\nb" }},
		{"confidence above one", func(f *Finding) { f.Confidence = 1.5 }},
		{"negative confidence", func(f *Finding) { f.Confidence = -0.1 }},
		{"unknown severity", func(f *Finding) { f.Severity = "urgent" }},
		{"unknown scope", func(f *Finding) { f.Scope = "forever" }},
		{"negative ttl", func(f *Finding) { f.TTL = -time.Second }},
		{"bad reference type", func(f *Finding) { f.References = []Reference{{Type: "blob", Target: "x"}} }},
		{"empty reference target", func(f *Finding) { f.References = []Reference{{Type: RefFile}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := validFinding()
			tt.mutate(f)
			err := f.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidInput))
		})
	}

	t.Run("severity is optional", func(t *testing.T) {
		f := validFinding()
		f.Severity = ""
		assert.NoError(t, f.Validate())
	})
}

func TestFindingExpired(t *testing.T) {
	f := validFinding()
	assert.False(t, f.Expired(f.CreatedAt.Add(100*time.Hour)), "no ttl never expires")

	f.TTL = time.Hour
	assert.False(t, f.Expired(f.CreatedAt.Add(59*time.Minute)))
	assert.True(t, f.Expired(f.CreatedAt.Add(61*time.Minute)))
}

func TestTaskValidate(t *testing.T) {
	t.Run("valid task passes", func(t *testing.T) {
		assert.NoError(t, validTask().Validate())
	})

	t.Run("pending task must be unassigned", func(t *testing.T) {
		task := validTask()
		task.AssignedTo = "worker"
		assert.ErrorIs(t, task.Validate(), ErrInvalidInput)
	})

	t.Run("non-pending task must be assigned", func(t *testing.T) {
		task := validTask()
		task.Status = TaskStatusClaimed
		assert.ErrorIs(t, task.Validate(), ErrInvalidInput)

		task.AssignedTo = "worker"
		assert.NoError(t, task.Validate())
	})

	t.Run("rejects self dependency", func(t *testing.T) {
		task := validTask()
		task.DependsOn = []string{NewID(), task.ID}
		assert.ErrorIs(t, task.Validate(), ErrInvalidInput)
	})

	t.Run("rejects out of range priority", func(t *testing.T) {
		task := validTask()
		task.Priority = 5
		assert.ErrorIs(t, task.Validate(), ErrInvalidInput)
		task.Priority = -1
		assert.ErrorIs(t, task.Validate(), ErrInvalidInput)
	})

	t.Run("actor prefers assignee", func(t *testing.T) {
		task := validTask()
		assert.Equal(t, "planner", task.Actor())
		task.AssignedTo = "worker"
		assert.Equal(t, "worker", task.Actor())
	})
}

func TestTaskTransitions(t *testing.T) {
	allowed := []struct{ from, to TaskStatus }{
		{TaskStatusPending, TaskStatusClaimed},
		{TaskStatusPending, TaskStatusCancelled},
		{TaskStatusClaimed, TaskStatusWorking},
		{TaskStatusClaimed, TaskStatusCancelled},
		{TaskStatusClaimed, TaskStatusCompleted},
		{TaskStatusWorking, TaskStatusBlocked},
		{TaskStatusBlocked, TaskStatusWorking},
		{TaskStatusWorking, TaskStatusReview},
		{TaskStatusReview, TaskStatusCompleted},
		{TaskStatusBlocked, TaskStatusFailed},
		{TaskStatusWorking, TaskStatusWorking},
	}
	for _, tr := range allowed {
		assert.True(t, tr.from.CanTransition(tr.to), "%s -> %s should be allowed", tr.from, tr.to)
	}

	denied := []struct{ from, to TaskStatus }{
		{TaskStatusPending, TaskStatusWorking},
		{TaskStatusPending, TaskStatusCompleted},
		{TaskStatusWorking, TaskStatusCancelled},
		{TaskStatusCompleted, TaskStatusWorking},
		{TaskStatusFailed, TaskStatusPending},
		{TaskStatusCancelled, TaskStatusClaimed},
	}
	for _, tr := range denied {
		assert.False(t, tr.from.CanTransition(tr.to), "%s -> %s should be denied", tr.from, tr.to)
	}

	assert.True(t, TaskStatusCancelled.Terminal())
	assert.False(t, TaskStatusReview.Terminal())
	assert.True(t, TaskStatusBlocked.Active())
	assert.False(t, TaskStatusPending.Active())
}

func TestFindingTransitions(t *testing.T) {
	assert.True(t, FindingStatusDraft.CanTransition(FindingStatusPublished))
	assert.True(t, FindingStatusPublished.CanTransition(FindingStatusAcknowledged))
	assert.True(t, FindingStatusAcknowledged.CanTransition(FindingStatusResolved))
	assert.True(t, FindingStatusAcknowledged.CanTransition(FindingStatusRejected))
	assert.False(t, FindingStatusDraft.CanTransition(FindingStatusRejected))
	assert.False(t, FindingStatusResolved.CanTransition(FindingStatusAcknowledged))
	assert.False(t, FindingStatusRejected.CanTransition(FindingStatusPublished))

	assert.True(t, FindingStatusAcknowledged.Open())
	assert.False(t, FindingStatusResolved.Open())
}

func TestSeverity(t *testing.T) {
	assert.NoError(t, Severity("").Validate())
	assert.Error(t, Severity("bad").Validate())
	assert.True(t, SeverityCritical.Rank() > SeverityHigh.Rank())
	assert.True(t, SeverityHigh.Elevated())
	assert.False(t, SeverityMedium.Elevated())
}

func TestSubscription(t *testing.T) {
	now := time.Now()
	sub := &Subscription{
		ID:           NewID(),
		SubscriberID: "reviewer",
		PatternType:  PatternTopic,
		PatternValue: "security",
		Status:       SubscriptionStatusActive,
	}
	require.NoError(t, sub.Validate())

	t.Run("live until expiry", func(t *testing.T) {
		assert.True(t, sub.Live(now))
		past := now.Add(-time.Minute)
		expired := *sub
		expired.ExpiresAt = &past
		assert.False(t, expired.Live(now))
	})

	t.Run("cancelled is not live", func(t *testing.T) {
		cancelled := *sub
		cancelled.Status = SubscriptionStatusExpired
		assert.False(t, cancelled.Live(now))
	})

	t.Run("exclude self defaults to true", func(t *testing.T) {
		assert.True(t, SubscriptionFilters{}.ExcludesSelf())
		off := false
		assert.False(t, SubscriptionFilters{ExcludeSelf: &off}.ExcludesSelf())
	})

	t.Run("severity allow-list", func(t *testing.T) {
		f := SubscriptionFilters{Severity: []Severity{SeverityHigh, SeverityCritical}}
		assert.True(t, f.AllowsSeverity(SeverityHigh))
		assert.False(t, f.AllowsSeverity(SeverityLow))
		assert.False(t, f.AllowsSeverity(""))
		assert.True(t, SubscriptionFilters{}.AllowsSeverity(""))
	})

	t.Run("rejects bad input", func(t *testing.T) {
		bad := *sub
		bad.PatternType = "regex"
		assert.ErrorIs(t, bad.Validate(), ErrInvalidInput)

		bad = *sub
		bad.PatternValue = ""
		assert.ErrorIs(t, bad.Validate(), ErrInvalidInput)

		bad = *sub
		bad.SubscriberID = "a/b"
		assert.ErrorIs(t, bad.Validate(), ErrInvalidInput)
	})
}

func TestAgentCardValidate(t *testing.T) {
	card := &AgentCard{ID: "scanner", Name: "Scanner", Capabilities: []string{"analysis"}, Status: AgentStatusActive}
	require.NoError(t, card.Validate())
	assert.True(t, card.HasCapability("analysis"))
	assert.False(t, card.HasCapability("fix"))

	noCaps := *card
	noCaps.Capabilities = nil
	assert.ErrorIs(t, noCaps.Validate(), ErrInvalidInput)

	badStatus := *card
	badStatus.Status = "sleeping"
	assert.ErrorIs(t, badStatus.Validate(), ErrInvalidInput)
}

func TestParseReferences(t *testing.T) {
	refs, err := ParseReferences([]string{"file:internal/auth/login.go:42", "task:abc"})
	require.NoError(t, err)
	assert.Equal(t, []Reference{
		{Type: RefFile, Target: "internal/auth/login.go:42"},
		{Type: RefTask, Target: "abc"},
	}, refs)

	_, err = ParseReferences([]string{"no-colon"})
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = ParseReferences([]string{"file:"})
	assert.Error(t, err)
}
