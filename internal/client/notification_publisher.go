package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/pesio-ai/be-docflow/internal/clock"
	"github.com/pesio-ai/be-docflow/internal/logger"
)

// NATSPublisher delivers notifications and realtime events over NATS for the
// email and socket gateways to consume. It implements service.Notifier and
// service.Realtime.
//
// Subjects:
//
//	<prefix>.notify.<event_kind>   one message per recipient
//	<prefix>.realtime.<room>       room is a student id or department code
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	log    *logger.Logger
}

// Event is the JSON envelope published to NATS.
type Event struct {
	EventKind  string         `json:"event_kind"`
	Recipient  string         `json:"recipient,omitempty"`
	Room       string         `json:"room,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// ConnectNATS dials the server with reconnects enabled.
func ConnectNATS(url, name string, log *logger.Logger) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats: disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats: reconnected")
		}),
	)
}

// NewNATSPublisher creates a publisher on an open connection.
func NewNATSPublisher(conn *nats.Conn, prefix string, log *logger.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = "docflow"
	}
	return &NATSPublisher{conn: conn, prefix: prefix, log: log}
}

// Notify publishes a notification for one recipient.
func (p *NATSPublisher) Notify(ctx context.Context, recipient, eventKind string, payload map[string]any) error {
	return p.publish(ctx, p.prefix+".notify."+eventKind, &Event{
		EventKind: eventKind,
		Recipient: recipient,
		Payload:   payload,
	})
}

// Publish publishes a realtime event to a room.
func (p *NATSPublisher) Publish(ctx context.Context, room, eventKind string, payload map[string]any) error {
	return p.publish(ctx, p.prefix+".realtime."+room, &Event{
		EventKind: eventKind,
		Room:      room,
		Payload:   payload,
	})
}

func (p *NATSPublisher) publish(ctx context.Context, subject string, event *Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	event.OccurredAt = clock.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.EventKind, err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	p.log.Debug().
		Str("subject", subject).
		Str("event_kind", event.EventKind).
		Msg("nats: event published")
	return nil
}

// LogPublisher is the fallback when no NATS server is configured: events are
// written to the log and dropped.
type LogPublisher struct {
	log *logger.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(log *logger.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Notify(_ context.Context, recipient, eventKind string, payload map[string]any) error {
	p.log.Info().
		Str("recipient", recipient).
		Str("event_kind", eventKind).
		Interface("payload", payload).
		Msg("notification (no transport configured)")
	return nil
}

func (p *LogPublisher) Publish(_ context.Context, room, eventKind string, payload map[string]any) error {
	p.log.Info().
		Str("room", room).
		Str("event_kind", eventKind).
		Interface("payload", payload).
		Msg("realtime event (no transport configured)")
	return nil
}
