// Package engine реализует операции над work items.
//
// Engine объединяет:
//   - Create / Update / Cancel / Get / ListByOwner — операции владельца
//   - SyncPending — атомарная замена неотправленных items
//   - Claim — захват due items воркером (SKIP LOCKED, stale reclaim)
//   - RecordAttempt — запись результата попытки
//
// Состояние хранится в repo.Store; Engine не держит состояния между вызовами,
// поэтому несколько воркеров могут работать с одним хранилищем одновременно.
//
// Использование:
//
//	eng, err := engine.New(engine.Config{
//	    Store:    store,
//	    Kind:     domain.AnchorKindEvent,
//	    Notifier: publisher, // опционально
//	    Metrics:  metrics,   // опционально
//	    Logger:   logger,
//	})
//
//	items, err := eng.Claim(ctx, 50)
package engine
