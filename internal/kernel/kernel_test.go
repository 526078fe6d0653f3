package kernel

import (
	"testing"

	"github.com/agentcoord/kernel/internal/changelog"
	"github.com/agentcoord/kernel/internal/clock"
	"github.com/agentcoord/kernel/internal/evidence"
	"github.com/agentcoord/kernel/internal/gates"
	"github.com/agentcoord/kernel/internal/intent"
	"github.com/agentcoord/kernel/internal/kanban"
	"github.com/agentcoord/kernel/internal/model"
	"github.com/agentcoord/kernel/internal/store"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *clock.Fake) {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	fc := clock.NewFake(1_000_000)
	return New(s, fc), fc
}

// Full happy path at the facade level: a task moves through intent, a
// successful claim, evidence, completion, release, and a changelog entry,
// ending with a compliant report.
func TestCoordinatorHappyPath(t *testing.T) {
	k, _ := newTestCoordinator(t)

	task, err := k.CreateTask("Fix login", "bug in session refresh", kanban.CreateOptions{})
	if err != nil {
		t.Fatalf("unexpected error creating task: %v", err)
	}

	if _, err := k.PostIntent(intent.PostInput{
		TaskID: task.ID, AgentID: "agent-a", Files: []string{"src/auth.ts"}, AcceptanceCriteria: "all auth tests pass",
	}); err != nil {
		t.Fatalf("unexpected error posting intent: %v", err)
	}

	claimRes, err := k.CreateClaim("agent-a", []string{"src/auth.ts"}, 900)
	if err != nil {
		t.Fatalf("unexpected error creating claim: %v", err)
	}
	if len(claimRes.ConflictsWith) != 0 {
		t.Fatalf("expected no conflicts, got %v", claimRes.ConflictsWith)
	}

	if _, err := k.AttachEvidence(evidence.AttachInput{
		TaskID: task.ID, AgentID: "agent-a", Command: "npm test", Output: "all tests passed",
	}); err != nil {
		t.Fatalf("unexpected error attaching evidence: %v", err)
	}

	if _, err := k.UpdateTask(task.ID, kanban.UpdateFields{Status: model.StatusDone}, kanban.DefaultUpdateOptions()); err != nil {
		t.Fatalf("unexpected error completing task: %v", err)
	}

	if n, err := k.ReleaseClaims("agent-a", []string{"src/auth.ts"}); err != nil || n != 1 {
		t.Fatalf("expected to release 1 claim, got n=%d err=%v", n, err)
	}

	taskIDCopy := task.ID
	if _, err := k.LogChange(changelog.Entry{
		TaskID: &taskIDCopy, AgentID: "agent-a", FilePath: "src/auth.ts", ChangeType: model.ChangeFileModify, Summary: "fixed refresh race",
	}); err != nil {
		t.Fatalf("unexpected error logging change: %v", err)
	}

	report, err := k.CheckCompliance(task.ID, "agent-a")
	if err != nil {
		t.Fatalf("unexpected error checking compliance: %v", err)
	}
	if !report.CanComplete {
		t.Fatalf("expected canComplete=true, got %+v", report)
	}

	feed, err := k.Feed(10)
	if err != nil {
		t.Fatalf("unexpected error reading feed: %v", err)
	}
	if len(feed) == 0 {
		t.Fatalf("expected feed to contain at least the logged change")
	}
}

// Conflict and release-reclaim at the facade level: a conflicting claim blocks a second
// agent until the first releases, after which the second can reclaim.
func TestCoordinatorConflictThenReleaseThenReclaim(t *testing.T) {
	k, _ := newTestCoordinator(t)

	if _, err := k.CreateClaim("agent-a", []string{"shared.go"}, 60); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := k.CreateClaim("agent-b", []string{"shared.go"}, 60)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.ConflictsWith) != 1 || res.ConflictsWith[0] != "agent-a" {
		t.Fatalf("expected agent-b to conflict with agent-a, got %v", res.ConflictsWith)
	}

	bFiles, err := k.GetAgentClaims("agent-b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bFiles) != 0 {
		t.Fatalf("expected agent-b to hold nothing after a conflicting claim, got %v", bFiles)
	}

	if _, err := k.ReleaseClaims("agent-a", nil); err != nil {
		t.Fatalf("unexpected error releasing: %v", err)
	}

	res2, err := k.CreateClaim("agent-b", []string{"shared.go"}, 60)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res2.ConflictsWith) != 0 {
		t.Fatalf("expected agent-b to reclaim cleanly after release, got conflicts %v", res2.ConflictsWith)
	}
}

// The gate pipeline is reachable through the facade: defining a gate,
// recording a failing then passing run, and deriving last-run-wins status.
func TestCoordinatorGatePipeline(t *testing.T) {
	k, _ := newTestCoordinator(t)

	task, err := k.CreateTask("Ship feature", "", kanban.CreateOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	gate, err := k.DefineGate(gates.DefineInput{
		TaskID: task.ID, GateType: model.GateTest, Command: "npm test", TriggerStatus: model.StatusReview,
	})
	if err != nil {
		t.Fatalf("unexpected error defining gate: %v", err)
	}

	if _, err := k.RecordGateRun(gates.RecordRunInput{
		GateID: gate.ID, AgentID: "agent-a", Passed: false, Output: "1 test failed",
	}); err != nil {
		t.Fatalf("unexpected error recording failing run: %v", err)
	}
	status, err := k.GateStatus(task.ID, model.StatusReview)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.AllPassed {
		t.Fatalf("expected allPassed=false after a failing run")
	}

	if _, err := k.RecordGateRun(gates.RecordRunInput{
		GateID: gate.ID, AgentID: "agent-a", Passed: true, Output: "all tests passed",
	}); err != nil {
		t.Fatalf("unexpected error recording passing run: %v", err)
	}
	status, err = k.GateStatus(task.ID, model.StatusReview)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !status.AllPassed {
		t.Fatalf("expected allPassed=true after the most recent run passed, got %+v", status)
	}
}

func TestCoordinatorSetGateCommandAllowlistAppliesToNewGates(t *testing.T) {
	k, _ := newTestCoordinator(t)

	task, err := k.CreateTask("Ship feature", "", kanban.CreateOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	k.SetGateCommandAllowlist([]string{"just-this-tool "})

	if _, err := k.DefineGate(gates.DefineInput{
		TaskID: task.ID, GateType: model.GateTest, Command: "npm test", TriggerStatus: model.StatusReview,
	}); err == nil {
		t.Fatalf("expected npm test to be rejected once the allowlist is overridden")
	}

	if _, err := k.DefineGate(gates.DefineInput{
		TaskID: task.ID, GateType: model.GateTest, Command: "just-this-tool run", TriggerStatus: model.StatusReview,
	}); err != nil {
		t.Fatalf("expected the overridden allowlist's own prefix to be accepted, got %v", err)
	}
}

func TestCoordinatorBoardAndDependencies(t *testing.T) {
	k, _ := newTestCoordinator(t)

	blocker, err := k.CreateTask("blocker", "", kanban.CreateOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dependent, err := k.CreateTask("dependent", "", kanban.CreateOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := k.AddDependency(dependent.ID, blocker.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ready, err := k.IsReady(dependent.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ready.Ready {
		t.Fatalf("expected dependent to be blocked by blocker")
	}

	board, err := k.GetBoard(kanban.BoardFilters{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(board[model.StatusBacklog]) != 2 {
		t.Fatalf("expected 2 tasks on the backlog column, got %d", len(board[model.StatusBacklog]))
	}
}
