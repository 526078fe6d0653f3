// Package events implements ordered publish, a bounded ring buffer, and
// best-effort fan-out to live subscribers: uuid-tagged variant events
// published under a lock and delivered FIFO per subscriber.
package events

import "github.com/google/uuid"

// Type is a tagged event variant.
type Type string

const (
	TypeFileChanged Type = "file.changed"
	TypeFileAdded   Type = "file.added"
	TypeFileDeleted Type = "file.deleted"

	TypeTaskCreated   Type = "task.created"
	TypeTaskUpdated   Type = "task.updated"
	TypeTaskCompleted Type = "task.completed"

	TypeIntentPosted Type = "intent.posted"

	TypeClaimCreated  Type = "claim.created"
	TypeClaimExtended Type = "claim.extended"
	TypeClaimReleased Type = "claim.released"
	TypeClaimConflict Type = "claim.conflict"

	TypeEvidenceAttached Type = "evidence.attached"

	TypeChangelogLogged Type = "changelog.logged"

	TypeGateRun    Type = "gate.run"
	TypeGatePassed Type = "gate.passed"
	TypeGateFailed Type = "gate.failed"

	TypeCommentAdded Type = "comment.added"

	TypeBlockerAdded    Type = "blocker.added"
	TypeBlockerResolved Type = "blocker.resolved"

	TypeDependencyAdded   Type = "dependency.added"
	TypeDependencyRemoved Type = "dependency.removed"

	TypeAgentRegistered Type = "agent.registered"
	TypeAgentHeartbeat  Type = "agent.heartbeat"

	// TypeHello is the synthetic event a subscriber receives immediately
	// on subscribe.
	TypeHello Type = "hello"
)

// Event is one item of the ordered publish stream. Every event carries a
// millisecond Ts assigned at publish time.
type Event struct {
	ID      string                 `json:"id"`
	Type    Type                   `json:"type"`
	Ts      int64                  `json:"ts"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// New creates an Event with a fresh id; Ts is assigned by Bus.Publish.
func New(t Type, payload map[string]interface{}) Event {
	return Event{
		ID:      uuid.New().String(),
		Type:    t,
		Payload: payload,
	}
}
