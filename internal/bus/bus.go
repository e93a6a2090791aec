// Package bus provides in-process pub/sub between the appliance
// subsystems using an embedded NATS server.
package bus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// Subjects published by the appliance subsystems.
const (
	SubjectWindowStart    = "capture.window.start"
	SubjectWindowStop     = "capture.window.stop"
	SubjectRecorderCrash  = "capture.recorder.crash"
	SubjectProcessingRun  = "processing.run"
	SubjectProcessingJob  = "processing.job"
	SubjectSyncRun        = "sync.run"
)

// Event is the envelope carried on every subject.
type Event struct {
	ID      string          `json:"id"`
	Subject string          `json:"subject"`
	Time    time.Time       `json:"time"`
	Data    json.RawMessage `json:"data"`
}

// Publisher is the narrow interface subsystems use to emit events.
type Publisher interface {
	Publish(subject string, data any) error
}

// Config configures the embedded bus
type Config struct {
	Host string // default 127.0.0.1
	Port int    // default 12003
}

// Bus wraps an embedded NATS server and a local connection.
type Bus struct {
	server *server.Server
	conn   *nats.Conn
	logger *slog.Logger

	subsMu sync.Mutex
	subs   []*nats.Subscription
}

// New starts the embedded server and connects to it.
func New(cfg Config) (*Bus, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 12003
	}
	logger := slog.Default().With("component", "bus")

	opts := &server.Options{
		Host:   cfg.Host,
		Port:   cfg.Port,
		NoSigs: true,
		NoLog:  true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create bus server: %w", err)
	}
	go ns.Start()

	if !ns.ReadyForConnections(2 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("bus server not ready after 2 seconds (port %d)", cfg.Port)
	}

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("failed to connect to embedded bus: %w", err)
	}

	logger.Info("Event bus started", "url", ns.ClientURL())
	return &Bus{server: ns, conn: nc, logger: logger}, nil
}

// Publish emits an event on a subject. Payloads must be JSON-encodable;
// delivery is best-effort within the process.
func (b *Bus) Publish(subject string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode event payload: %w", err)
	}

	event := Event{
		ID:      uuid.NewString(),
		Subject: subject,
		Time:    time.Now(),
		Data:    raw,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return b.conn.Publish(subject, payload)
}

// Subscribe registers a handler for a subject (NATS wildcards allowed).
func (b *Bus) Subscribe(subject string, handler func(Event)) error {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			b.logger.Warn("Dropping undecodable event", "subject", msg.Subject, "error", err)
			return
		}
		handler(event)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	b.subsMu.Lock()
	b.subs = append(b.subs, sub)
	b.subsMu.Unlock()
	return nil
}

// Stop drains subscriptions and shuts the embedded server down.
func (b *Bus) Stop() {
	b.subsMu.Lock()
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
	b.subsMu.Unlock()

	if b.conn != nil {
		b.conn.Close()
	}
	if b.server != nil {
		b.server.Shutdown()
	}
	b.logger.Info("Event bus stopped")
}
