// Package evidence implements the append-only log of (command, output)
// records an agent attaches to a task as proof of verification work.
// Output clipping reuses internal/changelog.Clip, the same 20,000-char
// rule the changelog applies to diff snippets.
package evidence

import (
	"database/sql"
	"fmt"

	"github.com/agentcoord/kernel/internal/changelog"
	"github.com/agentcoord/kernel/internal/clock"
	"github.com/agentcoord/kernel/internal/events"
	"github.com/agentcoord/kernel/internal/kernelerr"
	"github.com/agentcoord/kernel/internal/model"
	"github.com/agentcoord/kernel/internal/store"
	"github.com/google/uuid"
)

// Log is the append-only evidence log.
type Log struct {
	store      *store.Store
	clock      clock.Clock
	bus        *events.Bus
	taskExists changelog.TaskExists
}

// New constructs an EvidenceLog bound to the shared store, clock, bus, and
// an injected task-existence check.
func New(s *store.Store, c clock.Clock, b *events.Bus, taskExists changelog.TaskExists) *Log {
	return &Log{store: s, clock: c, bus: b, taskExists: taskExists}
}

// AttachInput is the input to Attach.
type AttachInput struct {
	TaskID  string
	AgentID string
	Command string
	Output  string
}

// Attach validates, clips output to 20,000 chars, and appends an Evidence
// record, then publishes evidence.attached.
func (l *Log) Attach(input AttachInput) (model.Evidence, error) {
	if input.AgentID == "" || len(input.AgentID) > 120 {
		return model.Evidence{}, kernelerr.Validation("agentId must be 1-120 chars")
	}
	if len(input.Command) == 0 || len(input.Command) > 2000 {
		return model.Evidence{}, kernelerr.Validation("command must be 1-2000 chars")
	}
	if len(input.Output) > 500000 {
		return model.Evidence{}, kernelerr.Validation("output must be at most 500000 chars")
	}

	ok, err := l.taskExists(input.TaskID)
	if err != nil {
		return model.Evidence{}, fmt.Errorf("failed to check task existence: %w", err)
	}
	if !ok {
		return model.Evidence{}, kernelerr.NotFound("task %s does not exist", input.TaskID)
	}

	ev := model.Evidence{
		ID:        uuid.New().String(),
		TaskID:    input.TaskID,
		AgentID:   input.AgentID,
		Command:   input.Command,
		Output:    changelog.Clip(input.Output),
		CreatedAt: l.clock.NowMillis(),
	}

	err = l.store.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO evidence (id, task_id, agent_id, command, output, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			ev.ID, ev.TaskID, ev.AgentID, ev.Command, ev.Output, ev.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert evidence: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Evidence{}, err
	}

	l.bus.Publish(events.New(events.TypeEvidenceAttached, map[string]interface{}{
		"taskId": ev.TaskID, "agentId": ev.AgentID,
	}))

	return ev, nil
}

// ListByTaskAndAgent returns every evidence record for (taskId, agentId),
// oldest first.
func (l *Log) ListByTaskAndAgent(taskID, agentID string) ([]model.Evidence, error) {
	rows, err := l.store.DB().Query(
		`SELECT id, task_id, agent_id, command, output, created_at FROM evidence WHERE task_id = ? AND agent_id = ? ORDER BY created_at ASC`,
		taskID, agentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list evidence: %w", err)
	}
	defer rows.Close()

	out := make([]model.Evidence, 0)
	for rows.Next() {
		var ev model.Evidence
		if err := rows.Scan(&ev.ID, &ev.TaskID, &ev.AgentID, &ev.Command, &ev.Output, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan evidence: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}
