package notifications

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentcoord/kernel/internal/events"
)

// mockChannel is a test implementation of Channel.
type mockChannel struct {
	name    string
	filter  func(events.Event) bool
	sendErr error

	sent int32

	mu     sync.Mutex
	events []events.Event
}

func newMockChannel(name string, filter func(events.Event) bool, sendErr error) *mockChannel {
	if filter == nil {
		filter = func(events.Event) bool { return true }
	}
	return &mockChannel{name: name, filter: filter, sendErr: sendErr}
}

func (m *mockChannel) Name() string { return m.name }

func (m *mockChannel) ShouldNotify(e events.Event) bool { return m.filter(e) }

func (m *mockChannel) Send(e events.Event) error {
	atomic.AddInt32(&m.sent, 1)
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
	return m.sendErr
}

func (m *mockChannel) sentCount() int { return int(atomic.LoadInt32(&m.sent)) }

func waitForSentCount(t *testing.T, ch *mockChannel, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if ch.sentCount() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("channel %s: expected %d sends, got %d", ch.name, want, ch.sentCount())
}

func TestRouteDispatchesToMatchingChannelsOnly(t *testing.T) {
	wantsGateFailed := newMockChannel("gate", func(e events.Event) bool { return e.Type == events.TypeGateFailed }, nil)
	wantsNothing := newMockChannel("silent", func(events.Event) bool { return false }, nil)

	r := NewRouter(wantsGateFailed, wantsNothing)
	r.Route(events.New(events.TypeGateFailed, nil))

	waitForSentCount(t, wantsGateFailed, 1)
	if wantsNothing.sentCount() != 0 {
		t.Fatalf("expected the non-matching channel to receive nothing, got %d", wantsNothing.sentCount())
	}
}

func TestRouteSwallowsChannelErrors(t *testing.T) {
	failing := newMockChannel("flaky", nil, errors.New("delivery failed"))
	r := NewRouter(failing)

	r.Route(events.New(events.TypeTaskCreated, nil))
	waitForSentCount(t, failing, 1)
}

func TestToastChannelFiltersOnGateFailed(t *testing.T) {
	ch := NewToastChannel(NewToastNotifier(""))
	if !ch.ShouldNotify(events.New(events.TypeGateFailed, nil)) {
		t.Fatalf("expected ToastChannel to notify on gate.failed")
	}
	if ch.ShouldNotify(events.New(events.TypeTaskCreated, nil)) {
		t.Fatalf("expected ToastChannel to ignore task.created")
	}
}
