package evidence

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

func TestAttachRejectsUnknownTask(t *testing.T) {
	l, _ := newTestLog(t, func(string) (bool, error) { return false, nil })
	_, err := l.Attach(AttachInput{TaskID: "missing", AgentID: "agent-a", Command: "npm test", Output: "ok"})
	if err == nil {
		t.Fatalf("expected error for unknown task")
	}
}

// Output clipping.
func TestAttachClipsLongOutput(t *testing.T) {
	l, s := newTestLog(t, func(string) (bool, error) { return true, nil })
	insertTestTask(t, s, "task-1")

	long := strings.Repeat("y", 25000)
	ev, err := l.Attach(AttachInput{TaskID: "task-1", AgentID: "agent-a", Command: "npm test", Output: long})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(ev.Output, "\n[clipped to 20000 chars]") {
		t.Fatalf("expected clip suffix, got tail %q", ev.Output[len(ev.Output)-40:])
	}
}

func TestAttachAndListByTaskAndAgent(t *testing.T) {
	l, s := newTestLog(t, func(string) (bool, error) { return true, nil })
	insertTestTask(t, s, "task-1")

	_, err := l.Attach(AttachInput{TaskID: "task-1", AgentID: "agent-a", Command: "npm test", Output: "ok"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	list, err := l.ListByTaskAndAgent("task-1", "agent-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 1 || list[0].Command != "npm test" {
		t.Fatalf("expected 1 evidence record with command npm test, got %v", list)
	}
}

func TestAttachRejectsOversizedOutput(t *testing.T) {
	l, s := newTestLog(t, func(string) (bool, error) { return true, nil })
	insertTestTask(t, s, "task-1")

	tooLong := strings.Repeat("z", 500001)
	_, err := l.Attach(AttachInput{TaskID: "task-1", AgentID: "agent-a", Command: "npm test", Output: tooLong})
	if err == nil {
		t.Fatalf("expected error for output over 500000 chars")
	}
}

func TestAttachRejectsEmptyCommand(t *testing.T) {
	l, s := newTestLog(t, func(string) (bool, error) { return true, nil })
	insertTestTask(t, s, "task-1")

	_, err := l.Attach(AttachInput{TaskID: "task-1", AgentID: "agent-a", Command: "", Output: "ok"})
	if err == nil {
		t.Fatalf("expected error for empty command")
	}
}
