package notifications

import (
	"log"

	"github.com/agentcoord/kernel/internal/events"
)

// Channel is a notification sink that may or may not want a given event.
// The kernel has a single ambient channel (desktop toast); HTTP/webhook
// delivery to external subscribers is handled outside the kernel.
type Channel interface {
	Name() string
	ShouldNotify(e events.Event) bool
	Send(e events.Event) error
}

// Router dispatches EventBus events to every registered Channel,
// fire-and-forget: one goroutine per channel, logged-and-swallowed
// failures, never blocking the caller.
type Router struct {
	channels []Channel
}

// NewRouter creates a Router over the given channels.
func NewRouter(channels ...Channel) *Router {
	return &Router{channels: channels}
}

// Route dispatches e to every channel whose ShouldNotify(e) is true.
func (r *Router) Route(e events.Event) {
	for _, ch := range r.channels {
		if !ch.ShouldNotify(e) {
			continue
		}
		go func(channel Channel) {
			if err := channel.Send(e); err != nil {
				log.Printf("[NOTIFY] channel %s failed to send event %s: %v", channel.Name(), e.ID, err)
			}
		}(ch)
	}
}

// ToastChannel adapts a ToastNotifier into a Channel, firing on every
// gate.failed event; the event does not say whether the gate is required,
// so failed runs of optional gates notify too. Completions with a failing
// required compliance check are notified directly by the task-update path.
type ToastChannel struct {
	notifier *ToastNotifier
}

// NewToastChannel wraps a ToastNotifier as a Channel.
func NewToastChannel(n *ToastNotifier) *ToastChannel {
	return &ToastChannel{notifier: n}
}

func (c *ToastChannel) Name() string { return "toast" }

func (c *ToastChannel) ShouldNotify(e events.Event) bool {
	return e.Type == events.TypeGateFailed
}

func (c *ToastChannel) Send(e events.Event) error {
	taskID, _ := e.Payload["taskId"].(string)
	gateID, _ := e.Payload["gateId"].(string)
	return c.notifier.NotifyGateFailed(taskID, gateID)
}
