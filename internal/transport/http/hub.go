package http

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/agentcoord/kernel/internal/events"
	"github.com/agentcoord/kernel/internal/kernel"
)

// wsBufferSize is the per-connection outbound write buffer.
const wsBufferSize = 256

var upgrader = websocket.Upgrader{
	// The kernel's own HTTP surface is a thin adapter; origin checking,
	// like auth, belongs to the external deployment.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsMessage is the envelope streamed over /ws: a hello handshake message
// followed by raw kernel events.
type wsMessage struct {
	Type string      `json:"type"`
	TS   int64       `json:"ts,omitempty"`
	Data interface{} `json:"data,omitempty"`
}

// Hub bridges the kernel's EventBus to live websocket connections. Each
// client is its own EventBus subscriber rather than a fan-out off a single
// shared broadcast channel, since the bus already does bounded,
// drop-on-full per-subscriber delivery.
type Hub struct {
	coord *kernel.Coordinator
}

// NewHub creates a Hub bound to a Coordinator's EventBus.
func NewHub(coord *kernel.Coordinator) *Hub {
	return &Hub{coord: coord}
}

// Run is a no-op; this Hub has no central dispatch loop because each
// client owns its own EventBus subscription.
func (h *Hub) Run() {}

// HandleWebSocket upgrades the connection, subscribes it to the
// Coordinator's EventBus, and streams events until the client disconnects.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	subID := r.RemoteAddr + "-" + r.URL.Path
	ch := h.coord.Subscribe(subID)
	defer h.coord.Unsubscribe(subID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			msg := toWSMessage(e)
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func toWSMessage(e events.Event) wsMessage {
	if e.Type == events.TypeHello {
		return wsMessage{Type: "scrum.hello", TS: e.Ts}
	}
	return wsMessage{Type: string(e.Type), TS: e.Ts, Data: e.Payload}
}
