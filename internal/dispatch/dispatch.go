// Package dispatch доставляет claimed items: одно сообщение на канал
// в очередь RabbitMQ и сводка результатов по каналам.
package dispatch

import (
	"context"
	"log/slog"

	"github.com/shaiso/Herald/internal/domain"
	"github.com/shaiso/Herald/internal/mq"
	"github.com/shaiso/Herald/internal/telemetry"
)

// Publisher отправляет одно уведомление канала. Реализуется *mq.Publisher.
type Publisher interface {
	PublishDispatch(ctx context.Context, payload mq.DispatchPayload) (string, error)
}

// Composer формирует тему и текст уведомления для типа якоря.
type Composer interface {
	Compose(item *domain.ClaimedWorkItem) (subject, body string)
}

// Dispatcher реализует scheduler.Dispatcher поверх очередей каналов.
type Dispatcher struct {
	publisher Publisher
	composer  Composer
	logger    *slog.Logger
}

// New создаёт новый Dispatcher.
func New(publisher Publisher, composer Composer, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{publisher: publisher, composer: composer, logger: logger}
}

// Dispatch публикует уведомление в каждый канал item.
//
// Ошибка одного канала не мешает остальным: она попадает в ChannelResult,
// а итоговый статус считает AttemptSummary.Status.
func (d *Dispatcher) Dispatch(ctx context.Context, item *domain.ClaimedWorkItem) (*domain.AttemptSummary, error) {
	subject, body := d.composer.Compose(item)
	logger := telemetry.FromContext(ctx)

	summary := &domain.AttemptSummary{}
	for _, ch := range item.Channels {
		payload := mq.DispatchPayload{
			WorkItemID:   item.ID,
			Owner:        item.Owner,
			Channel:      ch,
			Recipient:    item.Payload.Recipients[ch],
			Subject:      subject,
			Body:         body,
			Timezone:     item.Payload.Timezone,
			DueAt:        item.DueAt,
			AttemptCount: item.AttemptCount,
			Metadata:     item.Payload.Metadata,
		}

		// SMS без темы: она уже входит в текст
		if ch == domain.ChannelSMS {
			payload.Subject = ""
		}

		result := domain.ChannelResult{Channel: ch}
		id, err := d.publisher.PublishDispatch(ctx, payload)
		if err != nil {
			result.Status = domain.AttemptStatusFailed
			result.Error = err.Error()
			logger.Warn("channel dispatch failed", "channel", ch, "error", err)
		} else {
			result.Status = domain.AttemptStatusSent
			result.MessageID = id
		}
		summary.Channels = append(summary.Channels, result)
	}

	return summary, nil
}
