package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AnchorKind — тип сущности-якоря, определяющей due time.
type AnchorKind string

const (
	// AnchorKindEvent — событие (event reminder automations).
	AnchorKindEvent AnchorKind = "event"

	// AnchorKindFollowUp — follow-up запись (follow-up notifications).
	AnchorKindFollowUp AnchorKind = "follow_up"
)

// Valid проверяет, что тип якоря известен.
func (k AnchorKind) Valid() bool {
	return k == AnchorKindEvent || k == AnchorKindFollowUp
}

// String возвращает строковое представление AnchorKind.
func (k AnchorKind) String() string {
	return string(k)
}

// Статусы якорей.
const (
	AnchorStatusScheduled = "scheduled"
	AnchorStatusCancelled = "cancelled"
	AnchorStatusCompleted = "completed"
)

// OwnerRef — ссылка на владельца work item.
// Все мутирующие операции ограничены владельцем.
type OwnerRef struct {
	Kind AnchorKind `json:"kind"`
	ID   uuid.UUID  `json:"id"`
}

// String возвращает "kind/id".
func (o OwnerRef) String() string {
	return fmt.Sprintf("%s/%s", o.Kind, o.ID)
}

// Anchor — текущее состояние якоря, нужное для due time и eligibility.
// Scheduler читает якоря, но никогда их не изменяет.
type Anchor struct {
	Owner     OwnerRef  `json:"owner"`
	Title     string    `json:"title"`
	Time      time.Time `json:"time"`
	Status    string    `json:"status"`
	Frequency Frequency `json:"frequency,omitempty"`
}

// IsEligible отвечает на вопрос "актуален ли ещё якорь".
//
//   - event: не отменён, не завершён и ещё не начался
//   - follow_up: в статусе scheduled
func (a *Anchor) IsEligible(now time.Time) bool {
	switch a.Owner.Kind {
	case AnchorKindEvent:
		if a.Status == AnchorStatusCancelled || a.Status == AnchorStatusCompleted {
			return false
		}
		return a.Time.After(now)
	case AnchorKindFollowUp:
		return a.Status == AnchorStatusScheduled
	default:
		return false
	}
}
