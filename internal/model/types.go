// Package model holds the kernel's data-model value types. Every
// object returned by a kernel component is a value copy; no shared mutable
// state escapes the kernel.
package model

// TaskStatus is one of the six Kanban columns.
type TaskStatus string

const (
	StatusBacklog    TaskStatus = "backlog"
	StatusTodo       TaskStatus = "todo"
	StatusInProgress TaskStatus = "in_progress"
	StatusReview     TaskStatus = "review"
	StatusDone       TaskStatus = "done"
	StatusCancelled  TaskStatus = "cancelled"
)

// Priority is the task priority.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// priorityRank orders priorities for board sorting: critical first.
var priorityRank = map[Priority]int{
	PriorityCritical: 0,
	PriorityHigh:     1,
	PriorityMedium:   2,
	PriorityLow:      3,
}

// Rank returns the sort rank of a priority (lower sorts first). Unknown
// priorities rank last.
func (p Priority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return len(priorityRank)
}

// Task is a unit of work.
type Task struct {
	ID            string
	Title         string
	Description   string
	Status        TaskStatus
	Priority      Priority
	AssignedAgent string
	DueDate       *int64
	Labels        []string
	StoryPoints   *int
	CreatedAt     int64
	UpdatedAt     int64
	StartedAt     *int64
	CompletedAt   *int64
}

// Intent is an agent's declaration before editing files for a task.
type Intent struct {
	ID                 string
	TaskID             string
	AgentID            string
	Files              []string
	Boundaries         []string
	AcceptanceCriteria string
	CreatedAt          int64
}

// Claim is a logical grouping of all current claim rows for one agent,
// as returned to callers.
type Claim struct {
	AgentID   string
	Files     []string
	ExpiresAt int64
	CreatedAt int64
}

// Evidence is an immutable (command, output) record attached to a task.
type Evidence struct {
	ID        string
	TaskID    string
	AgentID   string
	Command   string
	Output    string
	CreatedAt int64
}

// ChangeType is the closed set of Changelog change types.
type ChangeType string

const (
	ChangeFileCreate         ChangeType = "create"
	ChangeFileModify         ChangeType = "modify"
	ChangeFileDelete         ChangeType = "delete"
	ChangeTaskCreated        ChangeType = "task_created"
	ChangeTaskStatusChange   ChangeType = "task_status_change"
	ChangeTaskAssigned       ChangeType = "task_assigned"
	ChangeTaskPriorityChange ChangeType = "task_priority_change"
	ChangeTaskCompleted      ChangeType = "task_completed"
	ChangeBlockerAdded       ChangeType = "blocker_added"
	ChangeBlockerResolved    ChangeType = "blocker_resolved"
	ChangeDependencyAdded    ChangeType = "dependency_added"
	ChangeDependencyRemoved  ChangeType = "dependency_removed"
	ChangeCommentAdded       ChangeType = "comment_added"
)

// FileChangeTypes lists the ChangeTypes compliance treats as "touched a file".
var FileChangeTypes = map[ChangeType]bool{
	ChangeFileCreate: true,
	ChangeFileModify: true,
	ChangeFileDelete: true,
}

// SystemAgent is the sentinel author id for kernel-authored changelog
// entries.
const SystemAgent = "system"

// ChangelogEntry is an append-only audit record.
type ChangelogEntry struct {
	ID          string
	TaskID      *string
	AgentID     string
	FilePath    string
	ChangeType  ChangeType
	Summary     string
	DiffSnippet string
	CommitHash  string
	CreatedAt   int64
}

// Dependency is a directed "taskId depends on dependsOnTaskId" edge.
type Dependency struct {
	TaskID          string
	DependsOnTaskID string
	CreatedAt       int64
}

// GateType is one of the closed set of gate kinds.
type GateType string

const (
	GateLint   GateType = "lint"
	GateTest   GateType = "test"
	GateBuild  GateType = "build"
	GateReview GateType = "review"
	GateCustom GateType = "custom"
)

// Gate is a named check bound to a task and a trigger status.
type Gate struct {
	ID            string
	TaskID        string
	GateType      GateType
	Command       string
	TriggerStatus TaskStatus
	Required      bool
	CreatedAt     int64
}

// GateRun is an immutable record of one execution of a Gate.
type GateRun struct {
	ID         string
	GateID     string
	TaskID     string
	AgentID    string
	Passed     bool
	Output     string
	DurationMs *int64
	CreatedAt  int64
}

// Comment is a peripheral per-task note.
type Comment struct {
	ID        string
	TaskID    string
	AgentID   string
	Body      string
	CreatedAt int64
}

// Blocker is a peripheral per-task impediment.
type Blocker struct {
	ID         string
	TaskID     string
	AgentID    string
	Reason     string
	Resolved   bool
	CreatedAt  int64
	ResolvedAt *int64
}

// Agent is a peripheral presence record.
type Agent struct {
	ID            string
	LastHeartbeat *int64
	RegisteredAt  int64
}
