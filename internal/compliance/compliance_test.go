package compliance

import (
	"testing"

	"github.com/agentcoord/kernel/internal/changelog"
	"github.com/agentcoord/kernel/internal/claims"
	"github.com/agentcoord/kernel/internal/clock"
	"github.com/agentcoord/kernel/internal/evidence"
	"github.com/agentcoord/kernel/internal/events"
	"github.com/agentcoord/kernel/internal/intent"
	"github.com/agentcoord/kernel/internal/kanban"
	"github.com/agentcoord/kernel/internal/model"
	"github.com/agentcoord/kernel/internal/store"
)

type harness struct {
	graph     *kanban.Graph
	intents   *intent.Log
	evidence  *evidence.Log
	changelog *changelog.Log
	claims    *claims.Engine
	compl     *Evaluator
	clock     *clock.Fake
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	fc := clock.NewFake(1_000_000)
	bus := events.NewBus(fc)

	graph := kanban.New(s, fc, bus, nil)
	log := changelog.New(s, fc, bus, graph.TaskExists)
	graph.SetChangelog(log)

	intents := intent.New(s, fc, bus, graph.TaskExists)
	ev := evidence.New(s, fc, bus, graph.TaskExists)
	claimEngine := claims.New(s, fc, bus)
	compl := New(intents, ev, log, claimEngine, fc)

	return &harness{graph: graph, intents: intents, evidence: ev, changelog: log, claims: claimEngine, compl: compl, clock: fc}
}

// Happy path compliance check after intent, claim release,
// and evidence are all in place.
func TestHappyPathCanComplete(t *testing.T) {
	h := newHarness(t)

	task, err := h.graph.Create("Fix login", "", kanban.CreateOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := h.intents.Post(intent.PostInput{
		TaskID: task.ID, AgentID: "agent-a", Files: []string{"src/auth.ts"}, AcceptanceCriteria: "All tests pass",
	}); err != nil {
		t.Fatalf("unexpected error posting intent: %v", err)
	}

	claimRes, err := h.claims.Create("agent-a", []string{"src/auth.ts"}, 900)
	if err != nil {
		t.Fatalf("unexpected error creating claim: %v", err)
	}
	if len(claimRes.ConflictsWith) != 0 {
		t.Fatalf("expected no conflicts, got %v", claimRes.ConflictsWith)
	}

	if _, err := h.evidence.Attach(evidence.AttachInput{TaskID: task.ID, AgentID: "agent-a", Command: "npm test", Output: "ok"}); err != nil {
		t.Fatalf("unexpected error attaching evidence: %v", err)
	}

	if _, err := h.graph.Update(task.ID, kanban.UpdateFields{Status: model.StatusDone}, kanban.DefaultUpdateOptions()); err != nil {
		t.Fatalf("unexpected error completing task: %v", err)
	}

	if _, err := h.claims.Release("agent-a", []string{"src/auth.ts"}); err != nil {
		t.Fatalf("unexpected error releasing claim: %v", err)
	}

	taskIDCopy := task.ID
	if _, err := h.changelog.Append(changelog.Entry{
		TaskID: &taskIDCopy, AgentID: "agent-a", FilePath: "src/auth.ts", ChangeType: model.ChangeFileModify, Summary: "fixed login bug",
	}); err != nil {
		t.Fatalf("unexpected error appending changelog: %v", err)
	}

	report, err := h.compl.Check(task.ID, "agent-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.CanComplete {
		t.Fatalf("expected canComplete=true, got report %+v", report)
	}

	entries, err := h.changelog.ListByTask(task.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, e := range entries {
		if e.ChangeType == model.ChangeTaskCompleted {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a task_completed changelog entry, got %+v", entries)
	}
}

func TestMissingIntentAndEvidenceBlockCompletion(t *testing.T) {
	h := newHarness(t)

	task, err := h.graph.Create("No intent task", "", kanban.CreateOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	report, err := h.compl.Check(task.ID, "agent-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.CanComplete {
		t.Fatalf("expected canComplete=false with no intent/evidence")
	}
	for _, c := range report.Checks {
		if c.Name == "intent_posted" && c.Passed {
			t.Fatalf("expected intent_posted to fail")
		}
		if c.Name == "evidence_attached" && c.Passed {
			t.Fatalf("expected evidence_attached to fail")
		}
	}
}

func TestFilesNotMatchingIntentIsOptionalFailure(t *testing.T) {
	h := newHarness(t)

	task, err := h.graph.Create("Touch extra file", "", kanban.CreateOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := h.intents.Post(intent.PostInput{
		TaskID: task.ID, AgentID: "agent-a", Files: []string{"a.go"}, AcceptanceCriteria: "tests pass for a.go",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := h.evidence.Attach(evidence.AttachInput{TaskID: task.ID, AgentID: "agent-a", Command: "go test", Output: "ok"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	taskIDCopy := task.ID
	if _, err := h.changelog.Append(changelog.Entry{
		TaskID: &taskIDCopy, AgentID: "agent-a", FilePath: "b.go", ChangeType: model.ChangeFileModify, Summary: "touched b.go instead",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	report, err := h.compl.Check(task.ID, "agent-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// files_match_intent is optional, so overall completion is still allowed.
	if !report.CanComplete {
		t.Fatalf("expected canComplete=true since files_match_intent is optional, got %+v", report)
	}
	for _, c := range report.Checks {
		if c.Name == "files_match_intent" && c.Passed {
			t.Fatalf("expected files_match_intent to fail since b.go was not declared")
		}
	}
}
