package instance

import (
	"sort"

	"github.com/dyluth/chalk/pkg/blackboard"
)

// Status represents the health of an instance, rolled up from its agents
type Status string

const (
	// StatusRunning indicates every registered agent is active
	StatusRunning Status = "Running"

	// StatusDegraded indicates some agents are idle or offline
	StatusDegraded Status = "Degraded"

	// StatusStopped indicates no agent is active
	StatusStopped Status = "Stopped"
)

// DetermineStatus analyzes a set of agent cards and determines the overall instance status.
func DetermineStatus(cards []*blackboard.AgentCard) Status {
	if len(cards) == 0 {
		return StatusStopped
	}

	activeCount := 0
	for _, c := range cards {
		if c.Status == blackboard.AgentStatusActive {
			activeCount++
		}
	}

	if activeCount == len(cards) {
		return StatusRunning
	} else if activeCount > 0 {
		return StatusDegraded
	} else {
		return StatusStopped
	}
}

// InstanceInfo holds information about one instance on the board
type InstanceInfo struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Agents int    `json:"agents"`
}

// Summarize groups agent cards by instance into sorted InstanceInfo rows.
func Summarize(cards []*blackboard.AgentCard) []InstanceInfo {
	byInstance := make(map[string][]*blackboard.AgentCard)
	for _, c := range cards {
		byInstance[c.Instance] = append(byInstance[c.Instance], c)
	}

	infos := make([]InstanceInfo, 0, len(byInstance))
	for name, group := range byInstance {
		infos = append(infos, InstanceInfo{
			Name:   name,
			Status: DetermineStatus(group),
			Agents: len(group),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
