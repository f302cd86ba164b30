package scheduler

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// pollParser — стандартные cron-выражения и дескрипторы (@every 15s, @hourly).
var pollParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParsePollSchedule разбирает расписание опроса воркера.
func ParsePollSchedule(expr string) (cron.Schedule, error) {
	sched, err := pollParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid poll schedule %q: %w", expr, err)
	}
	return sched, nil
}
