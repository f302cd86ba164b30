// Package scheduler реализует цикл доставки due work items.
//
// Scheduler на каждом тике захватывает due items, повторно проверяет
// якорь, отдаёт item Dispatcher и записывает результат попытки.
//
// Структура:
//   - scheduler.go  — Tick и обработка одного item
//   - due.go        — вычисление due time (Due-Time Calculator)
//   - recurrence.go — следующее повторение для follow-up
//   - poll.go       — cron-расписание опроса воркера
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    Engine:     eventEngine,
//	    Dispatcher: dispatcher,
//	    Logger:     logger,
//	})
//
//	if _, err := sched.Tick(ctx); err != nil {
//	    logger.Error("scheduler tick failed", "error", err)
//	}
//
// Несколько воркеров могут вызывать Tick одновременно:
// claim гарантирует непересекающиеся батчи, leader election не нужен.
package scheduler
