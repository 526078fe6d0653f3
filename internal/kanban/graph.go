// Package kanban implements the task graph: tasks, dependencies, WIP
// limits, and board queries over a six-status Kanban vocabulary with a
// dependency DAG (cycle-rejecting, DFS-based reachability).
package kanban

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/agentcoord/kernel/internal/changelog"
	"github.com/agentcoord/kernel/internal/clock"
	"github.com/agentcoord/kernel/internal/events"
	"github.com/agentcoord/kernel/internal/kernelerr"
	"github.com/agentcoord/kernel/internal/model"
	"github.com/agentcoord/kernel/internal/store"
	"github.com/google/uuid"
)

const (
	minStoryPoints = 1
	maxStoryPoints = 21
	minWipLimit    = 1
	maxWipLimit    = 100
)

// Graph is the task graph.
type Graph struct {
	store *store.Store
	clock clock.Clock
	bus   *events.Bus
	log   *changelog.Log
}

// New constructs a TaskGraph bound to the shared store, clock, bus and
// changelog. l may be nil when the changelog has not been constructed yet
// (it needs Graph.TaskExists); callers must then call SetChangelog before
// any mutating operation.
func New(s *store.Store, c clock.Clock, b *events.Bus, l *changelog.Log) *Graph {
	return &Graph{store: s, clock: c, bus: b, log: l}
}

// SetChangelog completes construction when New was called with a nil
// changelog, breaking the Graph/Changelog construction cycle (Changelog
// needs Graph.TaskExists; Graph needs a constructed Changelog to append
// to).
func (g *Graph) SetChangelog(l *changelog.Log) {
	g.log = l
}

// TaskExists satisfies changelog.TaskExists, letting IntentLog/EvidenceLog/
// Changelog validate a taskId without importing this package.
func (g *Graph) TaskExists(taskID string) (bool, error) {
	var n int
	err := g.store.DB().QueryRow(`SELECT COUNT(1) FROM tasks WHERE id = ?`, taskID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check task existence: %w", err)
	}
	return n > 0, nil
}

// CreateOptions are the optional fields accepted by Create.
type CreateOptions struct {
	Status        model.TaskStatus
	Priority      model.Priority
	AssignedAgent string
	DueDate       *int64
	Labels        []string
	StoryPoints   *int
}

// Create inserts a new Task and records its creation in the changelog.
// Status defaults to backlog, priority to medium.
func (g *Graph) Create(title, description string, opts CreateOptions) (model.Task, error) {
	if len(title) == 0 || len(title) > 200 {
		return model.Task{}, kernelerr.Validation("title must be 1-200 chars")
	}
	if len(description) > 2000 {
		return model.Task{}, kernelerr.Validation("description must be at most 2000 chars")
	}
	if opts.StoryPoints != nil && (*opts.StoryPoints < minStoryPoints || *opts.StoryPoints > maxStoryPoints) {
		return model.Task{}, kernelerr.Validation("storyPoints must be in [1,21]")
	}

	status := opts.Status
	if status == "" {
		status = model.StatusBacklog
	}
	if !validStatus(status) {
		return model.Task{}, kernelerr.Validation("invalid status %q", status)
	}
	priority := opts.Priority
	if priority == "" {
		priority = model.PriorityMedium
	}
	if !validPriority(priority) {
		return model.Task{}, kernelerr.Validation("invalid priority %q", priority)
	}

	now := g.clock.NowMillis()
	t := model.Task{
		ID:            uuid.New().String(),
		Title:         title,
		Description:   description,
		Status:        status,
		Priority:      priority,
		AssignedAgent: opts.AssignedAgent,
		DueDate:       opts.DueDate,
		Labels:        opts.Labels,
		StoryPoints:   opts.StoryPoints,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if t.Labels == nil {
		t.Labels = []string{}
	}
	if status == model.StatusInProgress {
		t.StartedAt = &now
	}
	if status == model.StatusDone {
		startedAt := now
		t.StartedAt = &startedAt
		completedAt := now
		t.CompletedAt = &completedAt
	}

	if err := g.insert(t); err != nil {
		return model.Task{}, err
	}

	taskID := t.ID
	if _, err := g.log.Append(changelog.Entry{
		TaskID:     &taskID,
		AgentID:    model.SystemAgent,
		FilePath:   "task:" + t.ID,
		ChangeType: model.ChangeTaskCreated,
		Summary:    fmt.Sprintf("task %q created", t.Title),
	}); err != nil {
		return model.Task{}, err
	}

	g.bus.Publish(events.New(events.TypeTaskCreated, map[string]interface{}{"taskId": t.ID, "title": t.Title}))

	return t, nil
}

func (g *Graph) insert(t model.Task) error {
	labelsJSON, err := json.Marshal(t.Labels)
	if err != nil {
		return fmt.Errorf("failed to marshal labels: %w", err)
	}
	return g.store.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO tasks (id, title, description, status, priority, assigned_agent, due_date, labels, story_points, created_at, updated_at, started_at, completed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.Title, store.NullString(t.Description), string(t.Status), string(t.Priority),
			store.NullString(t.AssignedAgent), store.NullInt64(t.DueDate), string(labelsJSON),
			nullIntPtr(t.StoryPoints), t.CreatedAt, t.UpdatedAt, store.NullInt64(t.StartedAt), store.NullInt64(t.CompletedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert task: %w", err)
		}
		return nil
	})
}

func nullIntPtr(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func validStatus(s model.TaskStatus) bool {
	switch s {
	case model.StatusBacklog, model.StatusTodo, model.StatusInProgress, model.StatusReview, model.StatusDone, model.StatusCancelled:
		return true
	}
	return false
}

func validPriority(p model.Priority) bool {
	switch p {
	case model.PriorityCritical, model.PriorityHigh, model.PriorityMedium, model.PriorityLow:
		return true
	}
	return false
}

// Get loads a Task by id.
func (g *Graph) Get(taskID string) (model.Task, error) {
	row := g.store.DB().QueryRow(
		`SELECT id, title, description, status, priority, assigned_agent, due_date, labels, story_points, created_at, updated_at, started_at, completed_at
		 FROM tasks WHERE id = ?`, taskID,
	)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return model.Task{}, kernelerr.NotFound("task %s not found", taskID)
	}
	if err != nil {
		return model.Task{}, fmt.Errorf("failed to load task: %w", err)
	}
	return t, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (model.Task, error) {
	var t model.Task
	var description, assignedAgent, labelsJSON sql.NullString
	var dueDate, startedAt, completedAt sql.NullInt64
	var storyPoints sql.NullInt64

	err := row.Scan(&t.ID, &t.Title, &description, &t.Status, &t.Priority, &assignedAgent, &dueDate,
		&labelsJSON, &storyPoints, &t.CreatedAt, &t.UpdatedAt, &startedAt, &completedAt)
	if err != nil {
		return model.Task{}, err
	}

	t.Description = description.String
	t.AssignedAgent = assignedAgent.String
	if dueDate.Valid {
		v := dueDate.Int64
		t.DueDate = &v
	}
	if startedAt.Valid {
		v := startedAt.Int64
		t.StartedAt = &v
	}
	if completedAt.Valid {
		v := completedAt.Int64
		t.CompletedAt = &v
	}
	if storyPoints.Valid {
		v := int(storyPoints.Int64)
		t.StoryPoints = &v
	}
	t.Labels = []string{}
	if labelsJSON.Valid && labelsJSON.String != "" {
		if err := json.Unmarshal([]byte(labelsJSON.String), &t.Labels); err != nil {
			return model.Task{}, fmt.Errorf("failed to unmarshal labels: %w", err)
		}
	}
	return t, nil
}

// UpdateFields are the fields Update may change; a nil pointer or nil
// Labels slice means "leave unchanged", and Status/Priority use the empty
// string as "unchanged" since they are plain strings at the call site.
type UpdateFields struct {
	Title         *string
	Description   *string
	Status        model.TaskStatus
	Priority      model.Priority
	AssignedAgent *string
	DueDate       *int64
	Labels        []string
	StoryPoints   *int
}

// UpdateOptions control enforcement of readiness and WIP limits.
type UpdateOptions struct {
	EnforceDependencies bool
	EnforceWipLimits    bool
}

// DefaultUpdateOptions enables dependency enforcement and disables
// WIP-limit enforcement.
func DefaultUpdateOptions() UpdateOptions {
	return UpdateOptions{EnforceDependencies: true, EnforceWipLimits: false}
}

// UpdateResult is the Task after Update plus any non-fatal warnings raised
// in place of an enforcement error.
type UpdateResult struct {
	Task     model.Task
	Warnings []string
}

// Update applies the given field changes, enforcing readiness and WIP-limit
// rules and recording each effective change in the changelog.
func (g *Graph) Update(taskID string, fields UpdateFields, opts UpdateOptions) (UpdateResult, error) {
	existing, err := g.Get(taskID)
	if err != nil {
		return UpdateResult{}, err
	}

	var warnings []string
	statusChanging := fields.Status != "" && fields.Status != existing.Status

	if statusChanging && !validStatus(fields.Status) {
		return UpdateResult{}, kernelerr.Validation("invalid status %q", fields.Status)
	}

	if statusChanging && fields.Status == model.StatusInProgress {
		ready, err := g.IsReady(taskID)
		if err != nil {
			return UpdateResult{}, err
		}
		if !ready.Ready {
			if opts.EnforceDependencies {
				return UpdateResult{}, kernelerr.Validation("task %s is not ready: blocked by %v", taskID, ready.BlockingTasks)
			}
			warnings = append(warnings, fmt.Sprintf("task is not ready: blocked by %v", ready.BlockingTasks))
		}
	}

	if statusChanging {
		wip, err := g.CheckWipLimit(fields.Status)
		if err != nil {
			return UpdateResult{}, err
		}
		if !wip.Allowed {
			if opts.EnforceWipLimits {
				return UpdateResult{}, kernelerr.Validation("WIP limit reached for status %q (%d/%d)", fields.Status, wip.Count, *wip.Limit)
			}
			warnings = append(warnings, fmt.Sprintf("WIP limit reached for status %q (%d/%d)", fields.Status, wip.Count, *wip.Limit))
		}
	}

	if fields.StoryPoints != nil && (*fields.StoryPoints < minStoryPoints || *fields.StoryPoints > maxStoryPoints) {
		return UpdateResult{}, kernelerr.Validation("storyPoints must be in [1,21]")
	}
	if fields.Priority != "" && !validPriority(fields.Priority) {
		return UpdateResult{}, kernelerr.Validation("invalid priority %q", fields.Priority)
	}

	now := g.clock.NowMillis()
	updated := existing

	if fields.Title != nil {
		if len(*fields.Title) == 0 || len(*fields.Title) > 200 {
			return UpdateResult{}, kernelerr.Validation("title must be 1-200 chars")
		}
		updated.Title = *fields.Title
	}
	if fields.Description != nil {
		updated.Description = *fields.Description
	}
	priorityChanged := fields.Priority != "" && fields.Priority != existing.Priority
	if fields.Priority != "" {
		updated.Priority = fields.Priority
	}
	assignmentChanged := fields.AssignedAgent != nil && *fields.AssignedAgent != existing.AssignedAgent
	if fields.AssignedAgent != nil {
		updated.AssignedAgent = *fields.AssignedAgent
	}
	if fields.DueDate != nil {
		updated.DueDate = fields.DueDate
	}
	if fields.Labels != nil {
		updated.Labels = fields.Labels
	}
	if fields.StoryPoints != nil {
		updated.StoryPoints = fields.StoryPoints
	}

	statusChanged := false
	newlyDone := false
	if statusChanging {
		statusChanged = true
		updated.Status = fields.Status
		if fields.Status == model.StatusInProgress && updated.StartedAt == nil {
			updated.StartedAt = &now
		}
		if fields.Status == model.StatusDone && updated.CompletedAt == nil {
			updated.CompletedAt = &now
			newlyDone = true
		}
	}
	updated.UpdatedAt = now

	if err := g.persistUpdate(updated); err != nil {
		return UpdateResult{}, err
	}

	if statusChanged {
		changeType := model.ChangeTaskStatusChange
		if updated.Status == model.StatusDone {
			changeType = model.ChangeTaskCompleted
		}
		if _, err := g.log.Append(changelog.Entry{
			TaskID:     &taskID,
			AgentID:    model.SystemAgent,
			FilePath:   "task:" + taskID,
			ChangeType: changeType,
			Summary:    fmt.Sprintf("status changed from %q to %q", existing.Status, updated.Status),
		}); err != nil {
			return UpdateResult{}, err
		}
	}
	if assignmentChanged {
		if _, err := g.log.Append(changelog.Entry{
			TaskID:     &taskID,
			AgentID:    model.SystemAgent,
			FilePath:   "task:" + taskID,
			ChangeType: model.ChangeTaskAssigned,
			Summary:    fmt.Sprintf("assigned to %q", updated.AssignedAgent),
		}); err != nil {
			return UpdateResult{}, err
		}
	}
	if priorityChanged {
		if _, err := g.log.Append(changelog.Entry{
			TaskID:     &taskID,
			AgentID:    model.SystemAgent,
			FilePath:   "task:" + taskID,
			ChangeType: model.ChangeTaskPriorityChange,
			Summary:    fmt.Sprintf("priority changed from %q to %q", existing.Priority, updated.Priority),
		}); err != nil {
			return UpdateResult{}, err
		}
	}

	g.bus.Publish(events.New(events.TypeTaskUpdated, map[string]interface{}{"taskId": taskID, "status": string(updated.Status)}))
	if newlyDone {
		g.bus.Publish(events.New(events.TypeTaskCompleted, map[string]interface{}{"taskId": taskID}))
	}

	return UpdateResult{Task: updated, Warnings: warnings}, nil
}

func (g *Graph) persistUpdate(t model.Task) error {
	labelsJSON, err := json.Marshal(t.Labels)
	if err != nil {
		return fmt.Errorf("failed to marshal labels: %w", err)
	}
	return g.store.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`UPDATE tasks SET title=?, description=?, status=?, priority=?, assigned_agent=?, due_date=?, labels=?, story_points=?, updated_at=?, started_at=?, completed_at=?
			 WHERE id=?`,
			t.Title, store.NullString(t.Description), string(t.Status), string(t.Priority), store.NullString(t.AssignedAgent),
			store.NullInt64(t.DueDate), string(labelsJSON), nullIntPtr(t.StoryPoints), t.UpdatedAt,
			store.NullInt64(t.StartedAt), store.NullInt64(t.CompletedAt), t.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update task: %w", err)
		}
		return nil
	})
}

// AddDependency records that taskID depends on dependsOnTaskID, rejecting
// self-dependencies, duplicates, and cycles.
func (g *Graph) AddDependency(taskID, dependsOnTaskID string) (model.Dependency, error) {
	if taskID == dependsOnTaskID {
		return model.Dependency{}, kernelerr.Validation("a task cannot depend on itself")
	}
	if _, err := g.Get(taskID); err != nil {
		return model.Dependency{}, err
	}
	if _, err := g.Get(dependsOnTaskID); err != nil {
		return model.Dependency{}, err
	}

	reachable, err := g.reachableFrom(dependsOnTaskID)
	if err != nil {
		return model.Dependency{}, err
	}
	if reachable[taskID] {
		return model.Dependency{}, kernelerr.Validation("adding this dependency would create a cycle")
	}

	now := g.clock.NowMillis()
	err = g.store.WithTx(func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRow(`SELECT COUNT(1) FROM dependencies WHERE task_id = ? AND depends_on_task_id = ?`, taskID, dependsOnTaskID).Scan(&n); err != nil {
			return fmt.Errorf("failed to check existing dependency: %w", err)
		}
		if n > 0 {
			return kernelerr.Validation("dependency already exists")
		}
		_, err := tx.Exec(`INSERT INTO dependencies (task_id, depends_on_task_id, created_at) VALUES (?, ?, ?)`, taskID, dependsOnTaskID, now)
		if err != nil {
			return fmt.Errorf("failed to insert dependency: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Dependency{}, err
	}

	if _, err := g.log.Append(changelog.Entry{
		TaskID:     &taskID,
		AgentID:    model.SystemAgent,
		FilePath:   "task:" + taskID,
		ChangeType: model.ChangeDependencyAdded,
		Summary:    fmt.Sprintf("now depends on %s", dependsOnTaskID),
	}); err != nil {
		return model.Dependency{}, err
	}

	g.bus.Publish(events.New(events.TypeDependencyAdded, map[string]interface{}{"taskId": taskID, "dependsOnTaskId": dependsOnTaskID}))

	return model.Dependency{TaskID: taskID, DependsOnTaskID: dependsOnTaskID, CreatedAt: now}, nil
}

// reachableFrom returns the set of task ids reachable via "depends on"
// edges starting at taskID (taskID itself included), used both for cycle
// detection in AddDependency and blocking-set discovery in IsReady.
func (g *Graph) reachableFrom(taskID string) (map[string]bool, error) {
	visited := map[string]bool{taskID: true}
	stack := []string{taskID}

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		rows, err := g.store.DB().Query(`SELECT depends_on_task_id FROM dependencies WHERE task_id = ?`, cur)
		if err != nil {
			return nil, fmt.Errorf("failed to query dependencies: %w", err)
		}
		var next []string
		for rows.Next() {
			var dep string
			if err := rows.Scan(&dep); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan dependency: %w", err)
			}
			next = append(next, dep)
		}
		rows.Close()

		for _, dep := range next {
			if !visited[dep] {
				visited[dep] = true
				stack = append(stack, dep)
			}
		}
	}

	return visited, nil
}

// ReadyResult is the result of IsReady.
type ReadyResult struct {
	Ready         bool
	BlockingTasks []string
}

// IsReady reports whether every task taskID transitively depends on is
// done.
func (g *Graph) IsReady(taskID string) (ReadyResult, error) {
	reachable, err := g.reachableFrom(taskID)
	if err != nil {
		return ReadyResult{}, err
	}
	delete(reachable, taskID)

	var blocking []string
	for depID := range reachable {
		dep, err := g.Get(depID)
		if err != nil {
			return ReadyResult{}, err
		}
		if dep.Status != model.StatusDone {
			blocking = append(blocking, depID)
		}
	}
	sort.Strings(blocking)

	return ReadyResult{Ready: len(blocking) == 0, BlockingTasks: blocking}, nil
}

// WipResult is the result of CheckWipLimit.
type WipResult struct {
	Allowed bool
	Count   int
	Limit   *int
}

// CheckWipLimit reports whether another task may enter status, given any
// configured wip_limits row. cancelled is always allowed.
func (g *Graph) CheckWipLimit(status model.TaskStatus) (WipResult, error) {
	if status == model.StatusCancelled {
		return WipResult{Allowed: true}, nil
	}

	var count int
	if err := g.store.DB().QueryRow(`SELECT COUNT(1) FROM tasks WHERE status = ?`, string(status)).Scan(&count); err != nil {
		return WipResult{}, fmt.Errorf("failed to count tasks by status: %w", err)
	}

	var limitValue sql.NullInt64
	err := g.store.DB().QueryRow(`SELECT limit_value FROM wip_limits WHERE status = ?`, string(status)).Scan(&limitValue)
	if err != nil && err != sql.ErrNoRows {
		return WipResult{}, fmt.Errorf("failed to look up wip limit: %w", err)
	}

	if !limitValue.Valid {
		return WipResult{Allowed: true, Count: count}, nil
	}

	limit := int(limitValue.Int64)
	return WipResult{Allowed: count < limit, Count: count, Limit: &limit}, nil
}

// SetWipLimit sets or clears (limit == nil) the WIP cap for status.
func (g *Graph) SetWipLimit(status model.TaskStatus, limit *int) error {
	if status == model.StatusCancelled {
		return kernelerr.Validation("cancelled cannot have a WIP limit")
	}
	if limit != nil && (*limit < minWipLimit || *limit > maxWipLimit) {
		return kernelerr.Validation("wip limit must be in [1,100]")
	}
	return g.store.WithTx(func(tx *sql.Tx) error {
		if limit == nil {
			_, err := tx.Exec(`DELETE FROM wip_limits WHERE status = ?`, string(status))
			return err
		}
		_, err := tx.Exec(
			`INSERT INTO wip_limits (status, limit_value) VALUES (?, ?)
			 ON CONFLICT(status) DO UPDATE SET limit_value = excluded.limit_value`,
			string(status), *limit,
		)
		return err
	})
}

// BoardFilters narrows GetBoard's result set.
type BoardFilters struct {
	AssignedAgent string
	Priority      model.Priority
}

// GetBoard returns tasks grouped by status (excluding cancelled), ordered
// within each column by priority descending then createdAt ascending.
func (g *Graph) GetBoard(filters BoardFilters) (map[model.TaskStatus][]model.Task, error) {
	query := `SELECT id, title, description, status, priority, assigned_agent, due_date, labels, story_points, created_at, updated_at, started_at, completed_at
	          FROM tasks WHERE status != ?`
	args := []interface{}{string(model.StatusCancelled)}
	if filters.AssignedAgent != "" {
		query += ` AND assigned_agent = ?`
		args = append(args, filters.AssignedAgent)
	}
	if filters.Priority != "" {
		query += ` AND priority = ?`
		args = append(args, string(filters.Priority))
	}

	rows, err := g.store.DB().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query board: %w", err)
	}
	defer rows.Close()

	board := make(map[model.TaskStatus][]model.Task)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan board task: %w", err)
		}
		board[t.Status] = append(board[t.Status], t)
	}

	for status := range board {
		tasks := board[status]
		sort.SliceStable(tasks, func(i, j int) bool {
			if tasks[i].Priority.Rank() != tasks[j].Priority.Rank() {
				return tasks[i].Priority.Rank() < tasks[j].Priority.Rank()
			}
			return tasks[i].CreatedAt < tasks[j].CreatedAt
		})
		board[status] = tasks
	}

	return board, nil
}
