package domain

import (
	"errors"
	"strings"
)

// ChannelResult — результат dispatch по одному каналу.
type ChannelResult struct {
	Channel   Channel       `json:"channel"`
	Status    AttemptStatus `json:"status"`
	MessageID string        `json:"message_id,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// AttemptSummary — структурированный итог попытки dispatch.
type AttemptSummary struct {
	Channels []ChannelResult `json:"channels,omitempty"`

	// Reason — пояснение для skipped/cancelled попыток.
	Reason string `json:"reason,omitempty"`
}

// Status агрегирует результаты каналов.
//
// Хотя бы один отправленный канал — sent, все каналы с ошибкой — failed,
// каналов нет — skipped.
func (s *AttemptSummary) Status() AttemptStatus {
	if s == nil || len(s.Channels) == 0 {
		return AttemptStatusSkipped
	}
	for _, r := range s.Channels {
		if r.Status == AttemptStatusSent {
			return AttemptStatusSent
		}
	}
	return AttemptStatusFailed
}

// Err объединяет ошибки каналов. nil, если ошибок нет.
func (s *AttemptSummary) Err() error {
	if s == nil {
		return nil
	}
	var msgs []string
	for _, r := range s.Channels {
		if r.Error != "" {
			msgs = append(msgs, string(r.Channel)+": "+r.Error)
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return errors.New(strings.Join(msgs, "; "))
}
