package domain

import "time"

// TimingKind — тег варианта TimingRule.
type TimingKind string

const (
	// TimingRelative — due = anchor_time − offset.
	TimingRelative TimingKind = "relative"

	// TimingAbsolute — due = фиксированный момент времени.
	TimingAbsolute TimingKind = "absolute"
)

// TimingRule — правило вычисления due time.
//
// Ровно одно из полей OffsetMinutes / At заполнено в зависимости от Kind.
// Normalize очищает неиспользуемое поле.
type TimingRule struct {
	Kind TimingKind `json:"kind"`

	// OffsetMinutes — за сколько минут до anchor_time срабатывает (relative).
	OffsetMinutes int `json:"offset_minutes,omitempty"`

	// At — фиксированный момент (absolute).
	At *time.Time `json:"at,omitempty"`
}

// Relative создаёт relative-правило.
func Relative(offsetMinutes int) TimingRule {
	return TimingRule{Kind: TimingRelative, OffsetMinutes: offsetMinutes}
}

// Absolute создаёт absolute-правило.
func Absolute(at time.Time) TimingRule {
	at = at.UTC()
	return TimingRule{Kind: TimingAbsolute, At: &at}
}

// Normalize возвращает копию правила, в которой заполнено только поле своего варианта.
func (r TimingRule) Normalize() TimingRule {
	switch r.Kind {
	case TimingRelative:
		r.At = nil
	case TimingAbsolute:
		r.OffsetMinutes = 0
		if r.At != nil {
			at := r.At.UTC()
			r.At = &at
		}
	}
	return r
}

// Validate проверяет корректность правила.
func (r TimingRule) Validate() error {
	switch r.Kind {
	case TimingRelative:
		if r.OffsetMinutes <= 0 {
			return NewValidationError("timing.offset_minutes", "offset must be a positive number of minutes", ErrInvalidOffset)
		}
	case TimingAbsolute:
		if r.At == nil || r.At.IsZero() {
			return NewValidationError("timing.at", "absolute timing requires an instant", ErrMissingAbsoluteTime)
		}
	default:
		return NewValidationError("timing.kind", "timing kind must be relative or absolute", ErrUnknownTimingKind)
	}
	return nil
}

// Offset возвращает offset как time.Duration.
func (r TimingRule) Offset() time.Duration {
	return time.Duration(r.OffsetMinutes) * time.Minute
}
