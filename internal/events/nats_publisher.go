package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"points_ledger/internal/domain"
	"points_ledger/internal/logger"

	"github.com/nats-io/nats.go"
)

// SubjectPrefix prefixes every subject published by NATSPublisher.
const SubjectPrefix = "ledger."

// StreamName is the JetStream stream capturing every ledger subject.
const StreamName = "LEDGER_EVENTS"

// NATSPublisher publishes outbox events to NATS JetStream.
type NATSPublisher struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

// ConnectNATS dials the servers with reconnect handling and a JetStream context.
func ConnectNATS(servers string) (*NATSPublisher, error) {
	log := logger.With("component", "nats")
	nc, err := nats.Connect(servers,
		nats.Name("points-ledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Error("nats disconnected", "error", err)
				return
			}
			log.Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	if err := ensureStream(js); err != nil {
		nc.Close()
		return nil, err
	}
	return &NATSPublisher{nc: nc, js: js}, nil
}

func ensureStream(js nats.JetStreamContext) error {
	if _, err := js.StreamInfo(StreamName); err == nil {
		return nil
	}
	_, err := js.AddStream(&nats.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ">"},
		Retention:   nats.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Storage:     nats.FileStorage,
		Replicas:    1,
		Description: "Committed ledger outbox events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream %s: %w", StreamName, err)
	}
	logger.Info("created jetstream stream", "stream", StreamName)
	return nil
}

// Subject maps an event type to its NATS subject.
func Subject(eventType string) string {
	return SubjectPrefix + eventType
}

func (p *NATSPublisher) Publish(ctx context.Context, ev domain.OutboxEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := p.js.Publish(Subject(ev.Type), data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
	}
}
