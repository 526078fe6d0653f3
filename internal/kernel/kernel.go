// Package kernel implements the single public facade composing the
// claim, task graph, gate, intent, evidence, changelog, and compliance
// components behind one write mutex, one constructor wiring every
// sub-component together, and a single entry point mediating reads across
// them. Every mutation follows the same
// acquire-validate-write-publish-release shape.
package kernel

import (
	"log"
	"sync"

	"github.com/agentcoord/kernel/internal/changelog"
	"github.com/agentcoord/kernel/internal/claims"
	"github.com/agentcoord/kernel/internal/clock"
	"github.com/agentcoord/kernel/internal/compliance"
	"github.com/agentcoord/kernel/internal/evidence"
	"github.com/agentcoord/kernel/internal/events"
	"github.com/agentcoord/kernel/internal/gates"
	"github.com/agentcoord/kernel/internal/intent"
	"github.com/agentcoord/kernel/internal/kanban"
	"github.com/agentcoord/kernel/internal/model"
	"github.com/agentcoord/kernel/internal/store"
)

// Coordinator is C11, the kernel's only public entry point. Every
// write operation acquires mu for (precondition check -> Store write ->
// publish); reads take a read lock or no lock at all on snapshot-safe
// queries.
type Coordinator struct {
	mu sync.RWMutex

	store *store.Store
	clock clock.Clock
	bus   *events.Bus

	claims     *claims.Engine
	graph      *kanban.Graph
	gates      *gates.Evaluator
	intents    *intent.Log
	evidenceLg *evidence.Log
	changelog  *changelog.Log
	compliance *compliance.Evaluator
}

// New wires every kernel component, resolving the Graph/Changelog
// construction cycle the same way internal/kanban.New documents: Graph is
// constructed first with a nil changelog, Changelog is constructed against
// Graph.TaskExists, then wired back in via SetChangelog.
func New(s *store.Store, c clock.Clock) *Coordinator {
	bus := events.NewBus(c)

	graph := kanban.New(s, c, bus, nil)
	changelogLog := changelog.New(s, c, bus, graph.TaskExists)
	graph.SetChangelog(changelogLog)

	claimEngine := claims.New(s, c, bus)
	gateEvaluator := gates.New(s, c, bus, graph.TaskExists)
	intents := intent.New(s, c, bus, graph.TaskExists)
	evidenceLog := evidence.New(s, c, bus, graph.TaskExists)
	complianceEvaluator := compliance.New(intents, evidenceLog, changelogLog, claimEngine, c)

	return &Coordinator{
		store:      s,
		clock:      c,
		bus:        bus,
		claims:     claimEngine,
		graph:      graph,
		gates:      gateEvaluator,
		intents:    intents,
		evidenceLg: evidenceLog,
		changelog:  changelogLog,
		compliance: complianceEvaluator,
	}
}

// --- task graph ---

// CreateTask creates a new Task.
func (k *Coordinator) CreateTask(title, description string, opts kanban.CreateOptions) (model.Task, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.graph.Create(title, description, opts)
}

// UpdateTask applies an update to an existing Task, subject to readiness
// and WIP-limit enforcement.
func (k *Coordinator) UpdateTask(taskID string, fields kanban.UpdateFields, opts kanban.UpdateOptions) (kanban.UpdateResult, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.graph.Update(taskID, fields, opts)
}

// AddDependency records a "taskId depends on dependsOnTaskId" edge.
func (k *Coordinator) AddDependency(taskID, dependsOnTaskID string) (model.Dependency, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.graph.AddDependency(taskID, dependsOnTaskID)
}

// SetWipLimit sets or clears the WIP cap for a status.
func (k *Coordinator) SetWipLimit(status model.TaskStatus, limit *int) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.graph.SetWipLimit(status, limit)
}

// GetTask loads a Task by id. Reads take the read lock only.
func (k *Coordinator) GetTask(taskID string) (model.Task, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.graph.Get(taskID)
}

// GetBoard returns the Kanban board grouped by status.
func (k *Coordinator) GetBoard(filters kanban.BoardFilters) (map[model.TaskStatus][]model.Task, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.graph.GetBoard(filters)
}

// IsReady reports whether a task's dependencies are all done.
func (k *Coordinator) IsReady(taskID string) (kanban.ReadyResult, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.graph.IsReady(taskID)
}

// CheckWipLimit reports whether another task may enter status.
func (k *Coordinator) CheckWipLimit(status model.TaskStatus) (kanban.WipResult, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.graph.CheckWipLimit(status)
}

// --- claims ---

// CreateClaim attempts to claim files for an agent.
func (k *Coordinator) CreateClaim(agentID string, files []string, ttlSeconds int) (claims.CreateResult, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.claims.Create(agentID, files, ttlSeconds)
}

// ReleaseClaims releases an agent's claims, all or a subset.
func (k *Coordinator) ReleaseClaims(agentID string, files []string) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.claims.Release(agentID, files)
}

// ExtendClaims extends the expiry of an agent's currently held claims.
func (k *Coordinator) ExtendClaims(agentID string, additionalSeconds int, files []string) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.claims.Extend(agentID, additionalSeconds, files)
}

// ListActiveClaims returns every agent's current claim grouping.
func (k *Coordinator) ListActiveClaims() ([]model.Claim, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.claims.ListActive()
}

// GetAgentClaims returns the files currently held by an agent.
func (k *Coordinator) GetAgentClaims(agentID string) ([]string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.claims.GetAgentClaims(agentID)
}

// --- intents ---

// PostIntent records an agent's declared intent for a task.
func (k *Coordinator) PostIntent(input intent.PostInput) (model.Intent, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.intents.Post(input)
}

// --- evidence ---

// AttachEvidence records a (command, output) record for a task.
func (k *Coordinator) AttachEvidence(input evidence.AttachInput) (model.Evidence, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.evidenceLg.Attach(input)
}

// --- changelog ---

// LogChange appends a file-touching changelog entry. The kernel does not
// observe the filesystem itself; callers (the watcher or an agent) invoke
// this directly.
func (k *Coordinator) LogChange(e changelog.Entry) (model.ChangelogEntry, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.changelog.Append(e)
}

// Feed returns the most recent changelog entries across all tasks,
// backing GET /api/feed.
func (k *Coordinator) Feed(limit int) ([]model.ChangelogEntry, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.changelog.Recent(limit)
}

// --- gates ---

// SetGateCommandAllowlist overrides the gate command prefix allowlist,
// for the optional kernel.yaml override. Call once during startup, before
// any gate is defined.
func (k *Coordinator) SetGateCommandAllowlist(prefixes []string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.gates.SetAllowlist(prefixes)
}

// DefineGate defines a new named check bound to a task and trigger status.
func (k *Coordinator) DefineGate(input gates.DefineInput) (model.Gate, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.gates.Define(input)
}

// RecordGateRun records one execution of a Gate.
func (k *Coordinator) RecordGateRun(input gates.RecordRunInput) (model.GateRun, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.gates.RecordRun(input)
}

// GateStatus derives last-run-wins status for every gate triggered by
// forStatus.
func (k *Coordinator) GateStatus(taskID string, forStatus model.TaskStatus) (gates.StatusResult, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.gates.Status(taskID, forStatus)
}

// --- compliance ---

// CheckCompliance computes the compliance report for (taskID, agentID).
// Its only write is the expired-claim prune done by the claims lookup.
func (k *Coordinator) CheckCompliance(taskID, agentID string) (compliance.Report, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.compliance.Check(taskID, agentID)
}

// --- event bus ---

// Subscribe registers a live subscriber and returns its event channel. The
// EventBus has its own internal locking; subscribe/unsubscribe do not
// contend with the kernel write mutex.
func (k *Coordinator) Subscribe(id string) <-chan events.Event {
	return k.bus.Subscribe(id)
}

// Unsubscribe removes a subscriber.
func (k *Coordinator) Unsubscribe(id string) {
	k.bus.Unsubscribe(id)
}

// RecentEvents returns the last n events from the ring buffer, fetched
// explicitly rather than auto-delivered.
func (k *Coordinator) RecentEvents(n int) []events.Event {
	return k.bus.Recent(n)
}

// Close releases the underlying store connection.
func (k *Coordinator) Close() error {
	log.Printf("[KERNEL] shutting down")
	return k.store.Close()
}
