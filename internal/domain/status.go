package domain

// LifecycleState — состояние work item.
//
// Жизненный цикл:
//
//	PENDING → CLAIMED → ATTEMPTED
//	   ↑         │
//	   └─ stale ─┘ (claim старше stale timeout снова доступен для claim)
//	PENDING/CLAIMED → CANCELLED (отмена или sync владельца)
type LifecycleState string

const (
	// LifecycleStatePending — ожидает наступления due time.
	LifecycleStatePending LifecycleState = "pending"

	// LifecycleStateClaimed — захвачен воркером, идёт dispatch.
	LifecycleStateClaimed LifecycleState = "claimed"

	// LifecycleStateAttempted — попытка записана, терминальное состояние.
	LifecycleStateAttempted LifecycleState = "attempted"

	// LifecycleStateCancelled — отменён владельцем.
	LifecycleStateCancelled LifecycleState = "cancelled"
)

// IsTerminal возвращает true для состояний, из которых item больше не claim'ится.
func (s LifecycleState) IsTerminal() bool {
	switch s {
	case LifecycleStateAttempted, LifecycleStateCancelled:
		return true
	default:
		return false
	}
}

// String возвращает строковое представление LifecycleState.
func (s LifecycleState) String() string {
	return string(s)
}

// ParseLifecycleState парсит строку в LifecycleState.
func ParseLifecycleState(s string) LifecycleState {
	switch s {
	case "claimed":
		return LifecycleStateClaimed
	case "attempted":
		return LifecycleStateAttempted
	case "cancelled":
		return LifecycleStateCancelled
	default:
		return LifecycleStatePending
	}
}

// AttemptStatus — итог попытки, записанный Attempt Result Recorder.
type AttemptStatus string

const (
	AttemptStatusSent      AttemptStatus = "sent"
	AttemptStatusFailed    AttemptStatus = "failed"
	AttemptStatusSkipped   AttemptStatus = "skipped"
	AttemptStatusCancelled AttemptStatus = "cancelled"
)

// Valid проверяет, что статус входит в допустимый набор.
func (s AttemptStatus) Valid() bool {
	switch s {
	case AttemptStatusSent, AttemptStatusFailed, AttemptStatusSkipped, AttemptStatusCancelled:
		return true
	default:
		return false
	}
}

// Frequency — периодичность повторяющегося владельца (follow-up).
type Frequency string

const (
	FrequencyOnce     Frequency = "once"
	FrequencyDaily    Frequency = "daily"
	FrequencyWeekly   Frequency = "weekly"
	FrequencyBiweekly Frequency = "biweekly"
	FrequencyMonthly  Frequency = "monthly"
)

// Valid проверяет, что периодичность известна.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyOnce, FrequencyDaily, FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly:
		return true
	default:
		return false
	}
}
