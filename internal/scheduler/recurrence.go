package scheduler

import (
	"fmt"
	"time"

	"github.com/shaiso/Herald/internal/domain"
)

// NextOccurrence вычисляет следующее повторение после date.
// Для once возвращает ok=false. Время суток и timezone date сохраняются.
//
// Monthly прибавляет календарный месяц; если такого дня нет
// (31 января → февраль), берётся последний день месяца.
func NextOccurrence(date time.Time, freq domain.Frequency) (next time.Time, ok bool, err error) {
	switch freq {
	case domain.FrequencyOnce, "":
		return time.Time{}, false, nil
	case domain.FrequencyDaily:
		return date.AddDate(0, 0, 1), true, nil
	case domain.FrequencyWeekly:
		return date.AddDate(0, 0, 7), true, nil
	case domain.FrequencyBiweekly:
		return date.AddDate(0, 0, 14), true, nil
	case domain.FrequencyMonthly:
		return addMonthClamped(date), true, nil
	default:
		return time.Time{}, false, fmt.Errorf("unknown frequency %q", freq)
	}
}

func addMonthClamped(date time.Time) time.Time {
	y, m, d := date.Date()
	firstOfNext := time.Date(y, m+1, 1, date.Hour(), date.Minute(), date.Second(), date.Nanosecond(), date.Location())
	lastDay := firstOfNext.AddDate(0, 1, -1).Day()
	if d > lastDay {
		d = lastDay
	}
	return time.Date(firstOfNext.Year(), firstOfNext.Month(), d, date.Hour(), date.Minute(), date.Second(), date.Nanosecond(), date.Location())
}
