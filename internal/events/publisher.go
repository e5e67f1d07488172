// Package events publishes message lifecycle events to a RabbitMQ topic
// exchange for consumers outside the chat (notifications, audit).
package events

import (
	"chatgogo/messenger/internal/models"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// Routing keys of the published events.
const (
	MessageCreated    = "chat.message.created.v1"
	MessageEdited     = "chat.message.edited.v1"
	MessageDeleted    = "chat.message.deleted.v1"
	MessageHidden     = "chat.message.hidden.v1"
	BestReplyMarked   = "chat.thread.best_marked.v1"
	BestReplyUnmarked = "chat.thread.best_unmarked.v1"
)

// Meta describes one event.
type Meta struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurredAt"`
	ActorID    string    `json:"actorId,omitempty"`
}

// Envelope is the JSON body of every published event.
type Envelope struct {
	Meta Meta           `json:"meta"`
	Data models.Message `json:"data"`
}

// NewEnvelope wraps msg as an event of the given type caused by actorID.
func NewEnvelope(eventType, actorID string, msg models.Message, now time.Time) Envelope {
	return Envelope{
		Meta: Meta{
			ID:         uuid.NewString(),
			Type:       eventType,
			OccurredAt: now.UTC(),
			ActorID:    actorID,
		},
		Data: msg,
	}
}

type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
	Close() error
}

// Nop discards every event. It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Envelope) error { return nil }
func (Nop) Close() error                            { return nil }

type rmqPublisher struct {
	conn     *amqp091.Connection
	exchange string
}

// NewRabbitPublisher connects to url and declares a durable topic exchange.
func NewRabbitPublisher(url, exchange string) (Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("events: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: channel: %w", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: declare %s: %w", exchange, err)
	}
	return &rmqPublisher{conn: conn, exchange: exchange}, nil
}

// Publish sends env with its type as routing key.
func (r *rmqPublisher) Publish(ctx context.Context, env Envelope) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, r.exchange, env.Meta.Type, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    env.Meta.ID,
		Timestamp:    env.Meta.OccurredAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("events: publish %s: %w", env.Meta.Type, err)
	}
	log.Printf("INFO: published %s for message %d", env.Meta.Type, env.Data.ID)
	return nil
}

func (r *rmqPublisher) Close() error {
	return r.conn.Close()
}
