package intent

import (
	"strings"
	"testing"

	"github.com/agentcoord/kernel/internal/clock"
	"github.com/agentcoord/kernel/internal/events"
	"github.com/agentcoord/kernel/internal/model"
	"github.com/agentcoord/kernel/internal/store"
)

func newTestLog(t *testing.T, taskExists func(string) (bool, error)) (*Log, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	fc := clock.NewFake(1000)
	bus := events.NewBus(fc)
	return New(s, fc, bus, taskExists), s
}

func insertTestTask(t *testing.T, s *store.Store, id string) {
	t.Helper()
	_, err := s.DB().Exec(
		`INSERT INTO tasks (id, title, status, priority, labels, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, "test task", string(model.StatusBacklog), string(model.PriorityMedium), "[]", int64(1000), int64(1000),
	)
	if err != nil {
		t.Fatalf("failed to insert test task: %v", err)
	}
}

func TestPostRejectsUnknownTask(t *testing.T) {
	l, _ := newTestLog(t, func(string) (bool, error) { return false, nil })
	_, err := l.Post(PostInput{TaskID: "missing", AgentID: "agent-a", Files: []string{"a.go"}, AcceptanceCriteria: "all tests pass"})
	if err == nil {
		t.Fatalf("expected error for unknown task")
	}
}

func TestPostAndListByTaskAndAgent(t *testing.T) {
	l, s := newTestLog(t, func(string) (bool, error) { return true, nil })
	insertTestTask(t, s, "task-1")

	_, err := l.Post(PostInput{
		TaskID: "task-1", AgentID: "agent-a", Files: []string{"src/auth.ts"},
		Boundaries: []string{"src/legacy"}, AcceptanceCriteria: "All tests pass",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	intents, err := l.ListByTaskAndAgent("task-1", "agent-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(intents) != 1 {
		t.Fatalf("expected 1 intent, got %d", len(intents))
	}
	if len(intents[0].Files) != 1 || intents[0].Files[0] != "src/auth.ts" {
		t.Fatalf("expected files to round-trip, got %v", intents[0].Files)
	}
	if len(intents[0].Boundaries) != 1 || intents[0].Boundaries[0] != "src/legacy" {
		t.Fatalf("expected boundaries to round-trip, got %v", intents[0].Boundaries)
	}
}

func TestPostRejectsTooShortAcceptanceCriteria(t *testing.T) {
	l, s := newTestLog(t, func(string) (bool, error) { return true, nil })
	insertTestTask(t, s, "task-1")

	_, err := l.Post(PostInput{TaskID: "task-1", AgentID: "agent-a", Files: []string{"a.go"}, AcceptanceCriteria: "short"})
	if err == nil {
		t.Fatalf("expected error for too-short acceptanceCriteria")
	}
}

func TestPostRejectsEmptyFiles(t *testing.T) {
	l, s := newTestLog(t, func(string) (bool, error) { return true, nil })
	insertTestTask(t, s, "task-1")

	_, err := l.Post(PostInput{TaskID: "task-1", AgentID: "agent-a", Files: nil, AcceptanceCriteria: "all tests must pass"})
	if err == nil {
		t.Fatalf("expected error for empty files")
	}
}

func TestPostRejectsTooManyFiles(t *testing.T) {
	l, s := newTestLog(t, func(string) (bool, error) { return true, nil })
	insertTestTask(t, s, "task-1")

	files := make([]string, 201)
	for i := range files {
		files[i] = strings.Repeat("f", i+1)
	}
	_, err := l.Post(PostInput{TaskID: "task-1", AgentID: "agent-a", Files: files, AcceptanceCriteria: "all tests must pass"})
	if err == nil {
		t.Fatalf("expected error for more than 200 files")
	}
}
