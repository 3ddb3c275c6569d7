package blackboard

import "context"

// OriginSource supplies the origin stamped on every write. The session
// manager implements it so a session started mid-process applies to later
// writes.
type OriginSource interface {
	Current() Origin
}

// FixedOrigin is an OriginSource that always returns the same origin.
type FixedOrigin Origin

// Current implements OriginSource.
func (f FixedOrigin) Current() Origin { return Origin(f) }

// Emitter receives every state-changing event. Emit must not fail the
// operation that raised the event, so it has no error return.
type Emitter interface {
	Emit(ctx context.Context, e Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, e Event)

// Emit implements Emitter.
func (f EmitterFunc) Emit(ctx context.Context, e Event) { f(ctx, e) }

// NopEmitter discards events.
var NopEmitter Emitter = EmitterFunc(func(context.Context, Event) {})

// Promoter merges a freshly written record into the durable cross-session
// corpus. Promotion is best-effort and never fails the write.
type Promoter interface {
	Promote(ctx context.Context, path string)
}

// ContextLinker records that an entity belongs to a context. Linking is
// best-effort and never fails the write.
type ContextLinker interface {
	AttachFinding(ctx context.Context, contextID, findingID string)
	AttachTask(ctx context.Context, contextID, taskID string)
	AttachAgent(ctx context.Context, contextID, agentID string)
}
