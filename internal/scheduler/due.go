package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shaiso/Herald/internal/domain"
)

// ErrMissingAnchorTime — relative-правило без времени якоря.
var ErrMissingAnchorTime = errors.New("anchor time is required for relative timing")

// DueAt вычисляет due time: anchor_time − offset для relative, at для absolute.
// Результат в UTC.
func DueAt(rule domain.TimingRule, anchorTime time.Time) (time.Time, error) {
	rule = rule.Normalize()
	if err := rule.Validate(); err != nil {
		return time.Time{}, err
	}

	switch rule.Kind {
	case domain.TimingRelative:
		if anchorTime.IsZero() {
			return time.Time{}, ErrMissingAnchorTime
		}
		return anchorTime.Add(-rule.Offset()).UTC(), nil
	default:
		return rule.At.UTC(), nil
	}
}

// IsDue сообщает, наступил ли due time.
func IsDue(rule domain.TimingRule, anchorTime, now time.Time) (bool, error) {
	due, err := DueAt(rule, anchorTime)
	if err != nil {
		return false, err
	}
	return !due.After(now), nil
}

// ParseTimingRule собирает TimingRule из внешнего представления
// (флаги CLI, поля запроса). at — RFC3339.
func ParseTimingRule(kind string, offsetMinutes int, at string) (domain.TimingRule, error) {
	switch domain.TimingKind(strings.ToLower(strings.TrimSpace(kind))) {
	case domain.TimingRelative:
		rule := domain.Relative(offsetMinutes)
		if err := rule.Validate(); err != nil {
			return domain.TimingRule{}, err
		}
		return rule, nil
	case domain.TimingAbsolute:
		at = strings.TrimSpace(at)
		if at == "" {
			return domain.TimingRule{}, domain.NewValidationError("timing.at", "absolute time is required", domain.ErrMissingAbsoluteTime)
		}
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return domain.TimingRule{}, domain.NewValidationError("timing.at",
				fmt.Sprintf("parse absolute time %q: %v", at, err), domain.ErrMissingAbsoluteTime)
		}
		return domain.Absolute(t), nil
	default:
		return domain.TimingRule{}, domain.NewValidationError("timing.kind", "unknown timing kind "+kind, domain.ErrUnknownTimingKind)
	}
}
