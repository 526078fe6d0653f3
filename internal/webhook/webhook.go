// Package webhook implements the kernel's webhook trigger contract. It
// publishes one NATS message per qualifying EventBus event onto a subject
// keyed by event type; an external delivery process, out of scope here,
// subscribes and owns retries, backoff, and HTTP delivery to registered
// webhook URLs.
//
// The publisher runs an embedded nats-server/v2 instance in-process and
// uses a fixed subject-constant convention (webhook.<event-type>) rather
// than per-agent subjects.
package webhook

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/agentcoord/kernel/internal/events"
)

// SubjectPrefix is prepended to an event's Type to form its NATS subject,
// e.g. "task.completed" publishes on "webhook.task.completed".
const SubjectPrefix = "webhook."

// Subject returns the NATS subject a given event type publishes on.
func Subject(t events.Type) string {
	return SubjectPrefix + string(t)
}

// EmbeddedServerConfig configures the in-process NATS server backing the
// trigger publisher.
type EmbeddedServerConfig struct {
	Port    int    // 0 or -1 picks a random free port (Start maps 0 to nats-server's RANDOM_PORT)
	DataDir string // JetStream storage dir; empty disables JetStream persistence
	Name    string
}

// Publisher owns an embedded NATS server and republishes EventBus events
// onto per-event-type subjects. It does not retry and does not know about
// registered webhook URLs: a separate delivery
// process, external to the kernel, subscribes to these subjects.
type Publisher struct {
	mu     sync.Mutex
	server *natsserver.Server
	conn   *nats.Conn
	config EmbeddedServerConfig
}

// NewPublisher creates a Publisher. Start must be called before Publish.
func NewPublisher(config EmbeddedServerConfig) *Publisher {
	if config.Name == "" {
		config.Name = "kernel-webhook"
	}
	return &Publisher{config: config}
}

// Start boots the embedded NATS server and connects the in-process
// publishing client: build options, start the server, wait for it to
// signal ready, then dial the in-process client.
func (p *Publisher) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.server != nil {
		return fmt.Errorf("webhook publisher already started")
	}

	port := p.config.Port
	if port == 0 {
		port = natsserver.RANDOM_PORT
	}
	opts := &natsserver.Options{
		ServerName: p.config.Name,
		Host:       "127.0.0.1",
		Port:       port,
		NoSigs:     true,
	}
	if p.config.DataDir != "" {
		opts.JetStream = true
		opts.StoreDir = p.config.DataDir
	}

	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return fmt.Errorf("failed to create embedded nats server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		return fmt.Errorf("embedded nats server not ready for connections")
	}

	conn, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		return fmt.Errorf("failed to connect to embedded nats server: %w", err)
	}

	p.server = ns
	p.conn = conn
	log.Printf("[WEBHOOK] embedded nats server listening at %s", ns.ClientURL())
	return nil
}

// Publish republishes e as a JSON payload on its type's subject. Publish
// failures are logged and swallowed: the trigger contract is best-effort,
// matching the EventBus's own "never block the publisher" rule --
// a webhook subject with no delivery-process subscriber is a silent no-op.
func (p *Publisher) Publish(e events.Event) {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return
	}

	data, err := json.Marshal(e)
	if err != nil {
		log.Printf("[WEBHOOK] failed to marshal event %s: %v", e.ID, err)
		return
	}

	if err := conn.Publish(Subject(e.Type), data); err != nil {
		log.Printf("[WEBHOOK] failed to publish event %s on %s: %v", e.ID, Subject(e.Type), err)
	}
}

// ClientURL returns the embedded server's connect URL, for an external
// delivery process to subscribe against.
func (p *Publisher) ClientURL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.server == nil {
		return ""
	}
	return p.server.ClientURL()
}

// Close disconnects the publishing client and shuts down the embedded
// server.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	if p.server != nil {
		p.server.Shutdown()
		p.server = nil
	}
	return nil
}
