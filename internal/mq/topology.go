package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shaiso/Herald/internal/domain"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeDispatch  Exchange = "herald.dispatch"
	ExchangeWorkItems Exchange = "herald.workitems"
	ExchangeDLQ       Exchange = "herald.dlq"
)

// Queues — имена очередей.
const (
	QueueDispatchEmail    Queue = "dispatch.email"
	QueueDispatchSMS      Queue = "dispatch.sms"
	QueueWorkItemsChanged Queue = "workitems.changed"
	QueueDLQDispatch      Queue = "dlq.dispatch"
)

// Routing keys.
const (
	RoutingKeyEmail       RoutingKey = "email"
	RoutingKeySMS         RoutingKey = "sms"
	RoutingKeyChanged     RoutingKey = "changed"
	RoutingKeyDLQDispatch RoutingKey = "dispatch"
)

// ChannelRoutingKey возвращает routing key очереди доставки для канала.
func ChannelRoutingKey(ch domain.Channel) (RoutingKey, error) {
	switch ch {
	case domain.ChannelEmail:
		return RoutingKeyEmail, nil
	case domain.ChannelSMS:
		return RoutingKeySMS, nil
	default:
		return "", fmt.Errorf("no dispatch queue for channel %q", ch)
	}
}

type binding struct {
	queue      Queue
	routingKey RoutingKey
	exchange   Exchange
	args       amqp.Table
}

// topology — все очереди и их привязки.
func topology() []binding {
	// Недоставленные сообщения каналов уходят в DLQ
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQDispatch),
	}

	return []binding{
		{QueueDispatchEmail, RoutingKeyEmail, ExchangeDispatch, dlqArgs},
		{QueueDispatchSMS, RoutingKeySMS, ExchangeDispatch, dlqArgs},
		{QueueWorkItemsChanged, RoutingKeyChanged, ExchangeWorkItems, nil},
		{QueueDLQDispatch, RoutingKeyDLQDispatch, ExchangeDLQ, nil},
	}
}

// SetupTopology объявляет exchanges, очереди и привязки. Идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range []Exchange{ExchangeDispatch, ExchangeWorkItems, ExchangeDLQ} {
			if err := ch.ExchangeDeclare(string(ex), "direct", true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex, err)
			}
		}

		for _, b := range topology() {
			if _, err := ch.QueueDeclare(string(b.queue), true, false, false, false, b.args); err != nil {
				return fmt.Errorf("declare queue %s: %w", b.queue, err)
			}
			if err := ch.QueueBind(string(b.queue), string(b.routingKey), string(b.exchange), false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
			}
		}
		return nil
	})
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Herald RabbitMQ Topology:

    herald.dispatch (direct)
    ├── dispatch.email [routing: email]   DLQ: dlq.dispatch
    └── dispatch.sms   [routing: sms]     DLQ: dlq.dispatch
            Consumer: delivery services

    herald.workitems (direct)
    └── workitems.changed [routing: changed]
            Consumer: herald-worker (early tick)

    herald.dlq (direct)
    └── dlq.dispatch [routing: dispatch]
            Manual processing
  `
}
