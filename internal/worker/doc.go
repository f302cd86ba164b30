// Package worker запускает периодический claim и доставку work items.
//
// # Обзор
//
// Worker — долгоживущий процесс Herald. На каждый тип якоря (event,
// follow_up) приходится один scheduler.Scheduler; Worker вызывает его
// Tick по расписанию и по подсказкам из очереди workitems.changed.
//
//	w, err := worker.New(worker.Config{
//	    Tickers:  []worker.Ticker{eventScheduler, followUpScheduler},
//	    Schedule: schedule,
//	    Conn:     mqConn,
//	    Logger:   logger,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := w.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Stop()
//
// # Тик
//
//  1. Claim до BatchSize due items
//  2. Dispatch каждого item и запись результата
//  3. Если батч полный, следующий тик сразу, иначе ждём расписания
//
// Подсказка workitems.changed только ускоряет тик. Если сообщение
// потеряно, изменения подхватит ближайший тик по расписанию.
//
// # Ошибки
//
// Ошибка claim логируется, цикл продолжается на следующем тике.
// Item, результат которого не удалось записать, остаётся claimed и
// снова становится доступным после stale timeout.
package worker
