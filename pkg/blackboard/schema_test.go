package blackboard

import (
	"testing"

	"github.com/dyluth/chalk/pkg/store"
	"github.com/stretchr/testify/assert"
)

func TestPaths(t *testing.T) {
	assert.Equal(t, "agents/scanner", AgentPath("scanner"))
	assert.Equal(t, "findings/security/f1", FindingPath(TopicSecurity, "f1"))
	assert.Equal(t, "findings/*/f1", FindingGlob("f1"))
	assert.True(t, store.GlobMatch(FindingGlob("f1"), FindingPath(TopicBug, "f1")))
	assert.Equal(t, "tasks/t1", TaskPath("t1"))
	assert.Equal(t, "contexts/c1", ContextPath("c1"))
	assert.Equal(t, "contexts/c1/compaction-manifest", ManifestPath("c1"))
	assert.Equal(t, "subscriptions/reviewer/s1", SubscriptionPath("reviewer", "s1"))
	assert.Equal(t, "notifications/reviewer/n1", NotificationPath("reviewer", "n1"))
	assert.Equal(t, "notifications/reviewer/", MailboxPrefix("reviewer"))
	assert.Equal(t, "sessions/inst-1/s-1", SessionPath("inst-1", "s-1"))
}

func TestFindingTags(t *testing.T) {
	f := validFinding()
	f.ContextID = "ctx-1"
	f.ParentID = "p1"

	tags := store.TagStrings(FindingTags(f))
	for _, want := range []string{
		"kind:finding",
		"id:" + f.ID,
		"agent:scanner",
		"topic:security",
		"status:published",
		"scope:session",
		"severity:high",
		"context:ctx-1",
		"parent:p1",
		"instance:inst-1",
		"session:sess-1",
	} {
		assert.Contains(t, tags, want)
	}
	assert.NotContains(t, tags, "archived")
	assert.NotContains(t, tags, "durable")

	t.Run("tags are deterministic", func(t *testing.T) {
		assert.Equal(t, tags, store.TagStrings(FindingTags(f)))
	})

	t.Run("markers follow flags", func(t *testing.T) {
		f.Archived = true
		f.Durable = true
		tags := store.TagStrings(FindingTags(f))
		assert.Contains(t, tags, "archived")
		assert.Contains(t, tags, "durable")
	})

	t.Run("no session tag outside a session", func(t *testing.T) {
		f := validFinding()
		f.Session = ""
		for _, tag := range FindingTags(f) {
			assert.NotEqual(t, TagSession, tag.Key)
		}
	})
}

func TestTaskTags(t *testing.T) {
	task := validTask()
	task.Status = TaskStatusClaimed
	task.AssignedTo = "worker"
	task.ContextID = "ctx-1"

	tags := store.TagStrings(TaskTags(task))
	for _, want := range []string{
		"kind:task",
		"id:" + task.ID,
		"status:claimed",
		"task-type:fix",
		"priority:1",
		"created-by:planner",
		"assigned:worker",
		"context:ctx-1",
		"instance:inst-1",
	} {
		assert.Contains(t, tags, want)
	}
}

func TestEntityLinks(t *testing.T) {
	resolve := func(id string) string {
		if id == "known" {
			return FindingPath(TopicBug, id)
		}
		return ""
	}

	f := validFinding()
	f.ParentID = "known"
	f.References = []Reference{
		{Type: RefTask, Target: "t1"},
		{Type: RefFinding, Target: "missing"},
		{Type: RefFile, Target: "main.go"},
	}
	assert.Equal(t, []string{"findings/bug/known", "tasks/t1"}, FindingLinks(f, resolve))

	task := validTask()
	task.DependsOn = []string{"a", "b"}
	task.Findings = []string{"known", "missing"}
	assert.Equal(t, []string{"tasks/a", "tasks/b", "findings/bug/known"}, TaskLinks(task, resolve))
	assert.Equal(t, []string{"tasks/a", "tasks/b"}, TaskLinks(task, nil))
}

func TestOtherEntityTags(t *testing.T) {
	origin := Origin{Instance: "inst-1", Session: "s"}

	agent := &AgentCard{ID: "a1", Capabilities: []string{"review", "fix"}, Status: AgentStatusIdle, Origin: origin}
	assert.Subset(t, store.TagStrings(AgentTags(agent)), []string{"kind:agent", "capability:review", "capability:fix", "status:idle", "instance:inst-1", "session:s"})

	sub := &Subscription{ID: "s1", SubscriberID: "r", PatternType: PatternAgent, Status: SubscriptionStatusActive, Origin: origin}
	assert.Subset(t, store.TagStrings(SubscriptionTags(sub)), []string{"kind:subscription", "subscriber:r", "pattern:agent", "status:active"})

	n := &Notification{ID: "n1", RecipientID: "r", Status: NotificationStatusUnread, Origin: origin}
	assert.Subset(t, store.TagStrings(NotificationTags(n)), []string{"kind:notification", "recipient:r", "status:unread"})

	m := &CompactionManifest{ContextID: "c1", Origin: origin}
	assert.Subset(t, store.TagStrings(ManifestTags(m)), []string{"kind:manifest", "context:c1"})

	c := &Context{ID: "c1", Status: ContextStatusActive, Origin: origin}
	assert.Subset(t, store.TagStrings(ContextTags(c)), []string{"kind:context", "id:c1", "status:active"})

	r := &SessionRecord{ID: "s-1", Instance: "inst-1", Status: SessionStatusActive}
	assert.Equal(t, []string{"id:s-1", "instance:inst-1", "kind:session", "status:active"}, store.TagStrings(SessionRecordTags(r)))
}
