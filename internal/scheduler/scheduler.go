package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Herald/internal/domain"
	"github.com/shaiso/Herald/internal/telemetry"
)

// recordTimeout — лимит на запись результата после dispatch.
const recordTimeout = 10 * time.Second

// Claimer — операции claim/record для одного типа якоря.
// Реализуется *engine.Engine.
type Claimer interface {
	Kind() domain.AnchorKind
	Claim(ctx context.Context, max int) ([]domain.ClaimedWorkItem, error)
	RecordAttempt(ctx context.Context, id uuid.UUID, status domain.AttemptStatus, summary *domain.AttemptSummary, lastErr error) error
}

// Dispatcher доставляет claimed item по его каналам.
//
// Ошибка означает сбой инфраструктуры (item будет записан как failed).
// Результаты отдельных каналов возвращаются в AttemptSummary.
type Dispatcher interface {
	Dispatch(ctx context.Context, item *domain.ClaimedWorkItem) (*domain.AttemptSummary, error)
}

// DispatcherFunc — адаптер функции к Dispatcher.
type DispatcherFunc func(ctx context.Context, item *domain.ClaimedWorkItem) (*domain.AttemptSummary, error)

// Dispatch вызывает f.
func (f DispatcherFunc) Dispatch(ctx context.Context, item *domain.ClaimedWorkItem) (*domain.AttemptSummary, error) {
	return f(ctx, item)
}

// Scheduler — один тик: claim → проверка якоря → dispatch → запись результата.
type Scheduler struct {
	engine     Claimer
	dispatcher Dispatcher
	logger     *slog.Logger
	batchSize  int
	now        func() time.Time
}

// Config — конфигурация Scheduler.
type Config struct {
	Engine     Claimer
	Dispatcher Dispatcher
	Logger     *slog.Logger
	BatchSize  int              // items за один claim (default: 50)
	Clock      func() time.Time // default: time.Now
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Scheduler{
		engine:     cfg.Engine,
		dispatcher: cfg.Dispatcher,
		logger:     logger.With("anchor_kind", cfg.Engine.Kind()),
		batchSize:  batchSize,
		now:        clock,
	}
}

// Kind возвращает тип якоря, который обслуживает Scheduler.
func (s *Scheduler) Kind() domain.AnchorKind {
	return s.engine.Kind()
}

// BatchSize возвращает размер батча.
func (s *Scheduler) BatchSize() int {
	return s.batchSize
}

// Tick выполняет один тик и возвращает количество claimed items.
//
// 1. Claim до BatchSize due items
// 2. Для каждого: повторная проверка eligibility якоря
// 3. Dispatch по каналам
// 4. RecordAttempt на любом исходе, включая ошибку и панику dispatch
//
// Ошибки одного item не блокируют обработку остальных.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	items, err := s.engine.Claim(ctx, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("claim work items: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	s.logger.Debug("claimed work items", "count", len(items))

	counts := make(map[domain.AttemptStatus]int)
	var recordFailures int
	for i := range items {
		status, err := s.process(ctx, &items[i])
		if err != nil {
			recordFailures++
			s.logger.Error("failed to record attempt",
				"work_item_id", items[i].ID,
				"status", status,
				"error", err,
			)
			// Item останется claimed и будет подобран после stale timeout
			continue
		}
		counts[status]++
	}

	s.logger.Info("scheduler tick completed",
		"claimed", len(items),
		"sent", counts[domain.AttemptStatusSent],
		"failed", counts[domain.AttemptStatusFailed],
		"skipped", counts[domain.AttemptStatusSkipped],
		"record_failures", recordFailures,
	)

	return len(items), nil
}

// process доставляет один item и записывает результат.
// Возвращает записанный статус и ошибку записи.
func (s *Scheduler) process(ctx context.Context, item *domain.ClaimedWorkItem) (status domain.AttemptStatus, err error) {
	logger := telemetry.WithWorkItemID(telemetry.WithOwner(s.logger, item.Owner), item.ID).
		With("attempt_count", item.AttemptCount)
	ctx = telemetry.WithLogger(ctx, logger)

	if item.Reclaimed() {
		logger.Warn("reclaimed stale work item", "due_at", item.DueAt)
	}

	summary, dispatchErr := s.dispatch(ctx, item)
	if dispatchErr != nil {
		status = domain.AttemptStatusFailed
		logger.Error("dispatch failed", "error", dispatchErr)
	} else {
		status = summary.Status()
		dispatchErr = summary.Err()
	}

	// Результат записывается даже при отмене ctx: иначе item останется claimed.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err := s.engine.RecordAttempt(recordCtx, item.ID, status, summary, dispatchErr); err != nil {
		return status, err
	}

	logger.Info("attempt recorded", "status", status, "due_at", item.DueAt)
	return status, nil
}

// dispatch проверяет якорь и вызывает Dispatcher. Паника превращается в ошибку.
func (s *Scheduler) dispatch(ctx context.Context, item *domain.ClaimedWorkItem) (summary *domain.AttemptSummary, err error) {
	if !item.Anchor.IsEligible(s.now()) {
		telemetry.FromContext(ctx).Info("anchor no longer eligible, skipping",
			"anchor_status", item.Anchor.Status,
			"anchor_time", item.Anchor.Time,
		)
		return &domain.AttemptSummary{Reason: "anchor no longer eligible"}, nil
	}

	defer func() {
		if r := recover(); r != nil {
			summary = nil
			err = fmt.Errorf("dispatch panic: %v", r)
		}
	}()

	summary, err = s.dispatcher.Dispatch(ctx, item)
	if err == nil && summary == nil {
		err = errors.New("dispatcher returned no summary")
	}
	return summary, err
}
