// Package intent implements the append-only log of agent declarations of
// intent to edit files for a task, with task-existence validation at
// insert.
package intent

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/agentcoord/kernel/internal/changelog"
	"github.com/agentcoord/kernel/internal/clock"
	"github.com/agentcoord/kernel/internal/events"
	"github.com/agentcoord/kernel/internal/kernelerr"
	"github.com/agentcoord/kernel/internal/model"
	"github.com/agentcoord/kernel/internal/store"
	"github.com/google/uuid"
)

const maxFiles = 200

// Log is the append-only intent log.
type Log struct {
	store      *store.Store
	clock      clock.Clock
	bus        *events.Bus
	taskExists changelog.TaskExists
}

// New constructs an IntentLog bound to the shared store, clock, bus, and
// an injected task-existence check.
func New(s *store.Store, c clock.Clock, b *events.Bus, taskExists changelog.TaskExists) *Log {
	return &Log{store: s, clock: c, bus: b, taskExists: taskExists}
}

// PostInput is the input to Post.
type PostInput struct {
	TaskID             string
	AgentID            string
	Files              []string
	Boundaries         []string
	AcceptanceCriteria string
}

// Post validates and appends an Intent, then publishes intent.posted.
func (l *Log) Post(input PostInput) (model.Intent, error) {
	if input.AgentID == "" || len(input.AgentID) > 120 {
		return model.Intent{}, kernelerr.Validation("agentId must be 1-120 chars")
	}
	if len(input.Files) == 0 || len(input.Files) > maxFiles {
		return model.Intent{}, kernelerr.Validation("files must contain 1-200 entries")
	}
	if input.AcceptanceCriteria != "" && (len(input.AcceptanceCriteria) < 10 || len(input.AcceptanceCriteria) > 4000) {
		return model.Intent{}, kernelerr.Validation("acceptanceCriteria must be 10-4000 chars when given")
	}

	ok, err := l.taskExists(input.TaskID)
	if err != nil {
		return model.Intent{}, fmt.Errorf("failed to check task existence: %w", err)
	}
	if !ok {
		return model.Intent{}, kernelerr.NotFound("task %s does not exist", input.TaskID)
	}

	in := model.Intent{
		ID:                 uuid.New().String(),
		TaskID:             input.TaskID,
		AgentID:            input.AgentID,
		Files:              input.Files,
		Boundaries:         input.Boundaries,
		AcceptanceCriteria: input.AcceptanceCriteria,
		CreatedAt:          l.clock.NowMillis(),
	}

	filesJSON, err := json.Marshal(in.Files)
	if err != nil {
		return model.Intent{}, fmt.Errorf("failed to marshal files: %w", err)
	}
	boundariesJSON, err := json.Marshal(in.Boundaries)
	if err != nil {
		return model.Intent{}, fmt.Errorf("failed to marshal boundaries: %w", err)
	}

	err = l.store.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO intents (id, task_id, agent_id, files, boundaries, acceptance_criteria, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			in.ID, in.TaskID, in.AgentID, string(filesJSON), string(boundariesJSON), in.AcceptanceCriteria, in.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert intent: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Intent{}, err
	}

	l.bus.Publish(events.New(events.TypeIntentPosted, map[string]interface{}{
		"taskId": in.TaskID, "agentId": in.AgentID, "files": in.Files,
	}))

	return in, nil
}

// ListByTaskAndAgent returns every intent posted by agentId for taskId,
// oldest first. Compliance unions their files/boundaries.
func (l *Log) ListByTaskAndAgent(taskID, agentID string) ([]model.Intent, error) {
	rows, err := l.store.DB().Query(
		`SELECT id, task_id, agent_id, files, boundaries, acceptance_criteria, created_at FROM intents WHERE task_id = ? AND agent_id = ? ORDER BY created_at ASC`,
		taskID, agentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list intents: %w", err)
	}
	defer rows.Close()

	out := make([]model.Intent, 0)
	for rows.Next() {
		var in model.Intent
		var filesJSON, boundariesJSON string
		if err := rows.Scan(&in.ID, &in.TaskID, &in.AgentID, &filesJSON, &boundariesJSON, &in.AcceptanceCriteria, &in.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan intent: %w", err)
		}
		if err := json.Unmarshal([]byte(filesJSON), &in.Files); err != nil {
			return nil, fmt.Errorf("failed to unmarshal files: %w", err)
		}
		if boundariesJSON != "" {
			if err := json.Unmarshal([]byte(boundariesJSON), &in.Boundaries); err != nil {
				return nil, fmt.Errorf("failed to unmarshal boundaries: %w", err)
			}
		}
		out = append(out, in)
	}
	return out, nil
}
