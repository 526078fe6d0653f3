package webhook

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/agentcoord/kernel/internal/events"
)

func TestPublisherPublishesOnEventTypeSubject(t *testing.T) {
	pub := NewPublisher(EmbeddedServerConfig{Port: -1})
	if err := pub.Start(); err != nil {
		t.Fatalf("failed to start embedded nats server: %v", err)
	}
	defer pub.Close()

	sub, err := nats.Connect(pub.ClientURL())
	if err != nil {
		t.Fatalf("failed to connect test subscriber: %v", err)
	}
	defer sub.Close()

	received := make(chan *nats.Msg, 1)
	s, err := sub.Subscribe(Subject(events.TypeGateFailed), func(m *nats.Msg) {
		received <- m
	})
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}
	defer s.Unsubscribe()
	sub.Flush()

	e := events.New(events.TypeGateFailed, map[string]interface{}{"taskId": "task-1"})
	pub.Publish(e)

	select {
	case msg := <-received:
		var got events.Event
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			t.Fatalf("failed to unmarshal event: %v", err)
		}
		if got.ID != e.ID || got.Type != e.Type {
			t.Fatalf("expected to receive published event, got %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestPublisherStartTwiceFails(t *testing.T) {
	pub := NewPublisher(EmbeddedServerConfig{Port: -1})
	if err := pub.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer pub.Close()

	if err := pub.Start(); err == nil {
		t.Fatalf("expected second Start to fail")
	}
}

func TestPublishBeforeStartIsNoop(t *testing.T) {
	pub := NewPublisher(EmbeddedServerConfig{})
	pub.Publish(events.New(events.TypeTaskCreated, nil))
}

func TestSubjectNaming(t *testing.T) {
	if got := Subject(events.TypeTaskCompleted); got != "webhook.task.completed" {
		t.Fatalf("expected webhook.task.completed, got %s", got)
	}
}
