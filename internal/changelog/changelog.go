// Package changelog implements the single append-only audit trail of file
// and task lifecycle events: a prepared statement inside a transaction,
// each append followed by a publish onto the event bus.
package changelog

import (
	"database/sql"
	"fmt"

	"github.com/agentcoord/kernel/internal/clock"
	"github.com/agentcoord/kernel/internal/events"
	"github.com/agentcoord/kernel/internal/kernelerr"
	"github.com/agentcoord/kernel/internal/model"
	"github.com/agentcoord/kernel/internal/store"
	"github.com/google/uuid"
)

const maxClipLength = 20000
const clipSuffixFormat = "\n[clipped to %d chars]"

// Clip truncates s to maxClipLength chars, appending the clip suffix when
// truncation occurred. Append uses it for diff snippets; internal/evidence
// and internal/gates use it for Evidence and GateRun output.
func Clip(s string) string {
	if len(s) <= maxClipLength {
		return s
	}
	return s[:maxClipLength] + fmt.Sprintf(clipSuffixFormat, maxClipLength)
}

// TaskExists is injected so Log can validate a referenced taskId without
// importing internal/kanban (which itself appends to Log).
type TaskExists func(taskID string) (bool, error)

// Log is the append-only changelog.
type Log struct {
	store      *store.Store
	clock      clock.Clock
	bus        *events.Bus
	taskExists TaskExists
}

// New constructs a Changelog. taskExists is used only when Entry.TaskID is
// non-nil.
func New(s *store.Store, c clock.Clock, b *events.Bus, taskExists TaskExists) *Log {
	return &Log{store: s, clock: c, bus: b, taskExists: taskExists}
}

// Entry is the input to Append; ID and CreatedAt are assigned by Append.
type Entry struct {
	TaskID      *string
	AgentID     string
	FilePath    string
	ChangeType  model.ChangeType
	Summary     string
	DiffSnippet string
	CommitHash  string
}

// Append validates (task existence, when given) and persists one changelog
// row, then publishes changelog.logged. Every task-lifecycle change the
// kernel makes emits exactly one entry; file-touching operations rely on
// the caller (agent or watcher) to call Append.
func (l *Log) Append(e Entry) (model.ChangelogEntry, error) {
	if e.AgentID == "" {
		return model.ChangelogEntry{}, kernelerr.Validation("agentId is required")
	}
	if e.FilePath == "" {
		return model.ChangelogEntry{}, kernelerr.Validation("filePath is required")
	}
	if e.Summary == "" {
		return model.ChangelogEntry{}, kernelerr.Validation("summary is required")
	}

	if e.TaskID != nil && l.taskExists != nil {
		ok, err := l.taskExists(*e.TaskID)
		if err != nil {
			return model.ChangelogEntry{}, fmt.Errorf("failed to check task existence: %w", err)
		}
		if !ok {
			return model.ChangelogEntry{}, kernelerr.NotFound("task %s does not exist", *e.TaskID)
		}
	}

	entry := model.ChangelogEntry{
		ID:          uuid.New().String(),
		TaskID:      e.TaskID,
		AgentID:     e.AgentID,
		FilePath:    e.FilePath,
		ChangeType:  e.ChangeType,
		Summary:     e.Summary,
		DiffSnippet: Clip(e.DiffSnippet),
		CommitHash:  e.CommitHash,
		CreatedAt:   l.clock.NowMillis(),
	}

	err := l.store.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO changelog (id, task_id, agent_id, file_path, change_type, summary, diff_snippet, commit_hash, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.ID, store.NullString(taskIDValue(entry.TaskID)), entry.AgentID, entry.FilePath,
			string(entry.ChangeType), entry.Summary, store.NullString(entry.DiffSnippet),
			store.NullString(entry.CommitHash), entry.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert changelog entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.ChangelogEntry{}, err
	}

	l.bus.Publish(events.New(events.TypeChangelogLogged, map[string]interface{}{
		"id":         entry.ID,
		"taskId":     e.TaskID,
		"agentId":    entry.AgentID,
		"filePath":   entry.FilePath,
		"changeType": string(entry.ChangeType),
	}))

	return entry, nil
}

func taskIDValue(id *string) string {
	if id == nil {
		return ""
	}
	return *id
}

// ListByTask returns all changelog entries for a task, oldest first.
func (l *Log) ListByTask(taskID string) ([]model.ChangelogEntry, error) {
	rows, err := l.store.DB().Query(
		`SELECT id, task_id, agent_id, file_path, change_type, summary, diff_snippet, commit_hash, created_at
		 FROM changelog WHERE task_id = ? ORDER BY created_at ASC`, taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list changelog by task: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListByAgent returns all changelog entries for an agent across tasks,
// oldest first.
func (l *Log) ListByAgent(agentID string) ([]model.ChangelogEntry, error) {
	rows, err := l.store.DB().Query(
		`SELECT id, task_id, agent_id, file_path, change_type, summary, diff_snippet, commit_hash, created_at
		 FROM changelog WHERE agent_id = ? ORDER BY created_at ASC`, agentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list changelog by agent: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListByTaskAndAgent returns changelog entries scoped to one (task, agent)
// pair, the shape Compliance actually reads.
func (l *Log) ListByTaskAndAgent(taskID, agentID string) ([]model.ChangelogEntry, error) {
	rows, err := l.store.DB().Query(
		`SELECT id, task_id, agent_id, file_path, change_type, summary, diff_snippet, commit_hash, created_at
		 FROM changelog WHERE task_id = ? AND agent_id = ? ORDER BY created_at ASC`, taskID, agentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list changelog by task and agent: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Recent returns the most recent n changelog entries across all tasks,
// newest first, backing the feed endpoint.
func (l *Log) Recent(limit int) ([]model.ChangelogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.store.DB().Query(
		`SELECT id, task_id, agent_id, file_path, change_type, summary, diff_snippet, commit_hash, created_at
		 FROM changelog ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent changelog: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]model.ChangelogEntry, error) {
	out := make([]model.ChangelogEntry, 0)
	for rows.Next() {
		var e model.ChangelogEntry
		var taskID, diffSnippet, commitHash sql.NullString
		if err := rows.Scan(&e.ID, &taskID, &e.AgentID, &e.FilePath, &e.ChangeType, &e.Summary, &diffSnippet, &commitHash, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan changelog row: %w", err)
		}
		if taskID.Valid {
			v := taskID.String
			e.TaskID = &v
		}
		e.DiffSnippet = diffSnippet.String
		e.CommitHash = commitHash.String
		out = append(out, e)
	}
	return out, nil
}
