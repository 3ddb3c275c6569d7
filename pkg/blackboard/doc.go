// Package blackboard provides type-safe Go definitions, storage paths and tag
// rules for the chalk coordination blackboard.
//
// # Overview
//
// The blackboard is the shared state through which autonomous agents
// coordinate. Every component (registry, findings, tasks, event bus,
// aggregator) reads and writes the records defined here through a
// store.Store, and never builds storage paths or tags by hand.
//
// # Core Concepts
//
// Agents register an AgentCard describing what they can do.
//
// Findings are observations one agent posts for others to read. They move
// through draft → published → acknowledged → resolved, or are rejected.
//
// Tasks are claimable units of work with dependencies. A task is claimed
// exactly once while pending, and ends completed, failed or cancelled.
//
// Contexts group related findings, tasks and agents.
//
// Subscriptions are standing pattern rules. When an Event matches one, a
// Notification lands in the subscriber's mailbox.
//
// A CompactionManifest is a lightweight index of a context's findings and
// tasks, persisted so full state can be re-fetched after the agent's working
// memory has been compressed.
//
// # Scoping
//
// Every record carries an Origin: the instance that wrote it and, optionally,
// the session. Both become tags, so one store can host several engine
// instances without them seeing each other's in-flight state.
//
// # Storage Layout
//
//	agents/{id}
//	findings/{topic}/{id}
//	tasks/{id}
//	contexts/{id}
//	contexts/{id}/compaction-manifest
//	subscriptions/{subscriberId}/{id}
//	notifications/{recipientId}/{id}
//
// Findings are stored as YAML front matter followed by a markdown title and
// body. Every other record is JSON.
package blackboard
