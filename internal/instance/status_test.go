package instance

import (
	"testing"

	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/stretchr/testify/assert"
)

func cards(instance string, statuses ...blackboard.AgentStatus) []*blackboard.AgentCard {
	out := make([]*blackboard.AgentCard, len(statuses))
	for i, s := range statuses {
		out[i] = &blackboard.AgentCard{Status: s, Origin: blackboard.Origin{Instance: instance}}
	}
	return out
}

func TestDetermineStatus_AllActive(t *testing.T) {
	status := DetermineStatus(cards("a", blackboard.AgentStatusActive, blackboard.AgentStatusActive))
	assert.Equal(t, StatusRunning, status)
}

func TestDetermineStatus_AllOffline(t *testing.T) {
	status := DetermineStatus(cards("a", blackboard.AgentStatusOffline, blackboard.AgentStatusIdle))
	assert.Equal(t, StatusStopped, status)
}

func TestDetermineStatus_Degraded(t *testing.T) {
	status := DetermineStatus(cards("a", blackboard.AgentStatusActive, blackboard.AgentStatusOffline))
	assert.Equal(t, StatusDegraded, status)
}

func TestDetermineStatus_Empty(t *testing.T) {
	assert.Equal(t, StatusStopped, DetermineStatus(nil))
}

func TestSummarize(t *testing.T) {
	all := append(cards("beta", blackboard.AgentStatusOffline),
		cards("alpha", blackboard.AgentStatusActive, blackboard.AgentStatusActive)...)

	infos := Summarize(all)
	assert.Equal(t, []InstanceInfo{
		{Name: "alpha", Status: StatusRunning, Agents: 2},
		{Name: "beta", Status: StatusStopped, Agents: 1},
	}, infos)
}
