package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/Herald/internal/domain"
	"github.com/shaiso/Herald/internal/mq"
)

// defaultPrefetch — prefetch consumer'а подсказок.
const defaultPrefetch = 10

// ErrNoSchedulers — воркеру нечего запускать.
var ErrNoSchedulers = errors.New("worker: at least one scheduler is required")

// Ticker — один тип якоря, обслуживаемый воркером.
// Реализуется *scheduler.Scheduler.
type Ticker interface {
	Kind() domain.AnchorKind
	BatchSize() int
	Tick(ctx context.Context) (int, error)
}

// Worker периодически claim'ит и доставляет due work items.
//
// Worker — stateless компонент, который:
//   - Запускает тик каждого Ticker по расписанию (polling)
//   - Продолжает тики без паузы, пока claim возвращает полный батч
//   - Запускает внеочередной тик по подсказке workitems.changed (event-driven)
//
// Несколько экземпляров безопасно работают с одним хранилищем:
// claim выдаёт им непересекающиеся наборы items.
type Worker struct {
	tickers  []Ticker
	schedule cron.Schedule
	conn     *mq.Connection
	logger   *slog.Logger
	now      func() time.Time

	nudges map[domain.AnchorKind]chan struct{}

	// Lifecycle
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	started    bool
	stopped    bool
	mu         sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	Tickers []Ticker

	// Schedule — расписание тиков (cron-выражение или @every).
	Schedule cron.Schedule

	// Conn — подключение для подсказок workitems.changed (опционально).
	Conn *mq.Connection

	Logger *slog.Logger
	Clock  func() time.Time // default: time.Now
}

// New создаёт новый Worker.
func New(cfg Config) (*Worker, error) {
	if len(cfg.Tickers) == 0 {
		return nil, ErrNoSchedulers
	}
	if cfg.Schedule == nil {
		return nil, errors.New("worker: schedule is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	nudges := make(map[domain.AnchorKind]chan struct{}, len(cfg.Tickers))
	for _, t := range cfg.Tickers {
		nudges[t.Kind()] = make(chan struct{}, 1)
	}

	return &Worker{
		tickers:  cfg.Tickers,
		schedule: cfg.Schedule,
		conn:     cfg.Conn,
		logger:   logger,
		now:      clock,
		nudges:   nudges,
	}, nil
}

// Start запускает цикл каждого Ticker и consumer подсказок.
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting worker", "kinds", len(w.tickers))

	for _, t := range w.tickers {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.loop(ctx, t)
		}()
	}

	if w.conn != nil {
		consumer := mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
			Queue:    mq.QueueWorkItemsChanged,
			Handler:  w.handleChanged,
			Prefetch: defaultPrefetch,
		})
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("workitems consumer error", "error", err)
			}
		}()
	}

	w.mu.Lock()
	w.started = true
	w.mu.Unlock()

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker и ждёт завершения текущих тиков.
func (w *Worker) Stop() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// Running возвращает true между Start и Stop.
func (w *Worker) Running() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.started && !w.stopped
}

// Nudge запрашивает внеочередной тик для типа якоря.
// Повторные подсказки до начала тика схлопываются.
func (w *Worker) Nudge(kind domain.AnchorKind) {
	ch, ok := w.nudges[kind]
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// loop — цикл одного Ticker.
func (w *Worker) loop(ctx context.Context, t Ticker) {
	logger := w.logger.With("anchor_kind", t.Kind())

	// Первый тик сразу при старте (подхватываем items, ставшие due пока воркер был выключен)
	w.drain(ctx, t, logger)

	for {
		wait := w.schedule.Next(w.now()).Sub(w.now())
		timer := time.NewTimer(max(wait, 0))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-w.nudges[t.Kind()]:
			timer.Stop()
			logger.Debug("early tick requested")
		case <-timer.C:
		}

		w.drain(ctx, t, logger)
	}
}

// drain тикает, пока claim возвращает полный батч.
func (w *Worker) drain(ctx context.Context, t Ticker, logger *slog.Logger) {
	for ctx.Err() == nil {
		n, err := t.Tick(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("scheduler tick failed", "error", err)
			}
			return
		}
		if n < t.BatchSize() {
			return
		}
	}
}

// handleChanged обрабатывает подсказку workitems.changed.
func (w *Worker) handleChanged(_ context.Context, msg *mq.Message) error {
	if msg.Type != mq.MessageTypeWorkItemsChanged {
		return mq.ErrDrop
	}
	payload, err := mq.ParsePayload[mq.WorkItemsChangedPayload](msg)
	if err != nil {
		return mq.ErrDrop
	}
	w.Nudge(payload.Owner.Kind)
	return nil
}
