package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shaiso/Herald/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeDispatch         MessageType = "notification.dispatch"
	MessageTypeWorkItemsChanged MessageType = "workitems.changed"
)

// Message — конверт сообщения.
type Message struct {
	// ID — идентификатор сообщения. Для dispatch детерминирован,
	// чтобы получатель мог отбросить дубликат после reclaim.
	ID string `json:"id"`

	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// DispatchPayload — одно уведомление для службы доставки канала.
type DispatchPayload struct {
	WorkItemID   uuid.UUID       `json:"work_item_id"`
	Owner        domain.OwnerRef `json:"owner"`
	Channel      domain.Channel  `json:"channel"`
	Recipient    string          `json:"recipient,omitempty"`
	Subject      string          `json:"subject,omitempty"`
	Body         string          `json:"body"`
	Timezone     string          `json:"timezone"`
	DueAt        time.Time       `json:"due_at"`
	AttemptCount int             `json:"attempt_count"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
}

// WorkItemsChangedPayload — подсказка воркерам, что набор items изменился.
type WorkItemsChangedPayload struct {
	Owner domain.OwnerRef `json:"owner"`
}

// DispatchMessageID — ID сообщения dispatch: один на item, канал и claim.
func DispatchMessageID(p DispatchPayload) string {
	return fmt.Sprintf("%s:%s:%d", p.WorkItemID, p.Channel, p.AttemptCount)
}

// NewMessage упаковывает payload в конверт.
func NewMessage(id string, msgType MessageType, payload any, now time.Time) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	if id == "" {
		id = uuid.New().String()
	}
	return &Message{ID: id, Type: msgType, Payload: raw, Timestamp: now.UTC()}, nil
}

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
	now    func() time.Time
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{conn: conn, logger: logger, now: time.Now}
}

// Publish публикует сообщение в exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(ctx, string(exchange), string(routingKey), false, false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
				Type:         string(msg.Type),
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// PublishDispatch публикует уведомление в очередь канала.
// Возвращает ID сообщения.
func (p *Publisher) PublishDispatch(ctx context.Context, payload DispatchPayload) (string, error) {
	routingKey, err := ChannelRoutingKey(payload.Channel)
	if err != nil {
		return "", err
	}
	msg, err := NewMessage(DispatchMessageID(payload), MessageTypeDispatch, payload, p.now())
	if err != nil {
		return "", err
	}
	if err := p.Publish(ctx, ExchangeDispatch, routingKey, msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}

// NotifyWorkItemsChanged публикует подсказку для досрочного тика воркеров.
func (p *Publisher) NotifyWorkItemsChanged(ctx context.Context, owner domain.OwnerRef) error {
	msg, err := NewMessage("", MessageTypeWorkItemsChanged, WorkItemsChangedPayload{Owner: owner}, p.now())
	if err != nil {
		return err
	}
	return p.Publish(ctx, ExchangeWorkItems, RoutingKeyChanged, msg)
}
