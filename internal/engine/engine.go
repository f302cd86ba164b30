package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/shaiso/Herald/internal/domain"
	"github.com/shaiso/Herald/internal/repo"
	"github.com/shaiso/Herald/internal/scheduler"
	"github.com/shaiso/Herald/internal/telemetry"
)

// DefaultStaleTimeout — через сколько claim считается брошенным.
const DefaultStaleTimeout = 10 * time.Minute

// Notifier сообщает воркерам, что набор items владельца изменился.
// Ошибка уведомления не влияет на результат операции.
type Notifier interface {
	NotifyWorkItemsChanged(ctx context.Context, owner domain.OwnerRef) error
}

// Engine — операции над work items одного типа якоря.
//
// Один Engine на тип: event reminders и follow-up notifications
// используют один механизм, отличаясь только источником якоря.
type Engine struct {
	store        repo.Store
	kind         domain.AnchorKind
	staleTimeout time.Duration
	now          func() time.Time
	notifier     Notifier
	metrics      *telemetry.Metrics
	tracer       trace.Tracer
	logger       *slog.Logger
}

// Config — конфигурация Engine.
type Config struct {
	Store        repo.Store
	Kind         domain.AnchorKind
	StaleTimeout time.Duration    // default: DefaultStaleTimeout
	Clock        func() time.Time // default: time.Now
	Notifier     Notifier         // опционально
	Metrics      *telemetry.Metrics
	Tracer       trace.Tracer // default: telemetry.Tracer()
	Logger       *slog.Logger
}

// New создаёт новый Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("engine: store is required")
	}
	if !cfg.Kind.Valid() {
		return nil, fmt.Errorf("engine: unknown anchor kind %q", cfg.Kind)
	}

	staleTimeout := cfg.StaleTimeout
	if staleTimeout <= 0 {
		staleTimeout = DefaultStaleTimeout
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = telemetry.Tracer()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		store:        cfg.Store,
		kind:         cfg.Kind,
		staleTimeout: staleTimeout,
		now:          clock,
		notifier:     cfg.Notifier,
		metrics:      cfg.Metrics,
		tracer:       tracer,
		logger:       logger.With("anchor_kind", string(cfg.Kind)),
	}, nil
}

// Kind возвращает тип якоря.
func (e *Engine) Kind() domain.AnchorKind {
	return e.kind
}

// StaleTimeout возвращает порог stale claim.
func (e *Engine) StaleTimeout() time.Duration {
	return e.staleTimeout
}

// Create создаёт pending item у существующего владельца.
func (e *Engine) Create(ctx context.Context, owner domain.OwnerRef, def domain.Definition) (*domain.WorkItem, error) {
	ctx, span := e.start(ctx, "engine.Create", owner)
	defer span.End()

	if err := e.checkOwner(owner); err != nil {
		return nil, err
	}
	def, err := def.Normalize()
	if err != nil {
		return nil, err
	}

	anchor, err := e.anchor(ctx, owner)
	if err != nil {
		return nil, fail(span, err)
	}

	item := domain.NewWorkItem(owner, def, e.now())
	if err := e.store.Insert(ctx, item); err != nil {
		return nil, fail(span, fmt.Errorf("insert work item: %w", err))
	}

	logger := telemetry.WithWorkItemID(telemetry.WithOwner(e.logger, owner), item.ID)
	if due, err := scheduler.DueAt(item.Timing, anchor.Time); err == nil {
		logger.Info("work item created", "due_at", due)
	} else {
		logger.Info("work item created")
	}

	e.notify(ctx, owner)
	return item, nil
}

// Get возвращает item владельца.
func (e *Engine) Get(ctx context.Context, owner domain.OwnerRef, id uuid.UUID) (*domain.WorkItem, error) {
	if err := e.checkOwner(owner); err != nil {
		return nil, err
	}
	item, err := e.store.Get(ctx, owner, id)
	if err != nil {
		return nil, translate(err)
	}
	return item, nil
}

// ListByOwner возвращает все items владельца.
func (e *Engine) ListByOwner(ctx context.Context, owner domain.OwnerRef) ([]domain.WorkItem, error) {
	if err := e.checkOwner(owner); err != nil {
		return nil, err
	}
	items, err := e.store.ListByOwner(ctx, owner)
	if err != nil {
		return nil, translate(err)
	}
	return items, nil
}

// Update меняет timing, channels или payload, пока попытка не записана.
// Состояние жизненного цикла не меняется.
func (e *Engine) Update(ctx context.Context, owner domain.OwnerRef, id uuid.UUID, patch domain.Patch) (*domain.WorkItem, error) {
	ctx, span := e.start(ctx, "engine.Update", owner)
	defer span.End()

	if err := e.checkOwner(owner); err != nil {
		return nil, err
	}

	item, err := e.store.Get(ctx, owner, id)
	if err != nil {
		return nil, fail(span, translate(err))
	}
	if item.IsAttempted() {
		return nil, &domain.TerminalStateError{ID: item.ID, AttemptedAt: item.AttemptedAt}
	}

	def, err := patch.Apply(item.Definition()).Normalize()
	if err != nil {
		return nil, err
	}
	item.ApplyDefinition(def, e.now())

	if err := e.store.UpdateDefinition(ctx, item); err != nil {
		return nil, fail(span, e.guardError(ctx, owner, id, err))
	}

	telemetry.WithWorkItemID(telemetry.WithOwner(e.logger, owner), id).Info("work item updated")
	e.notify(ctx, owner)
	return item, nil
}

// Cancel отменяет item, пока попытка не записана. Повторная отмена допустима.
func (e *Engine) Cancel(ctx context.Context, owner domain.OwnerRef, id uuid.UUID, actor string) error {
	ctx, span := e.start(ctx, "engine.Cancel", owner)
	defer span.End()

	if err := e.checkOwner(owner); err != nil {
		return err
	}
	if err := e.store.Cancel(ctx, owner, id, actor, e.now().UTC()); err != nil {
		return fail(span, e.guardError(ctx, owner, id, err))
	}

	telemetry.WithWorkItemID(telemetry.WithOwner(e.logger, owner), id).Info("work item cancelled")
	e.notify(ctx, owner)
	return nil
}

// SyncResult — итог SyncPending.
type SyncResult struct {
	Cancelled []uuid.UUID
	Created   []domain.WorkItem

	// InFlight — сколько отменённых items было claimed.
	// Их dispatch мог уже начаться, и они могут отправиться один раз.
	InFlight int
}

// SyncPending заменяет все ещё не отправленные items владельца новым набором.
//
// Отмена и вставка выполняются в одной транзакции. Items с записанной
// попыткой не трогаются. Все определения валидируются до любых записей.
func (e *Engine) SyncPending(ctx context.Context, owner domain.OwnerRef, defs []domain.Definition, actor string) (*SyncResult, error) {
	ctx, span := e.start(ctx, "engine.SyncPending", owner)
	defer span.End()

	if err := e.checkOwner(owner); err != nil {
		return nil, err
	}

	normalized := make([]domain.Definition, len(defs))
	for i, def := range defs {
		n, err := def.Normalize()
		if err != nil {
			return nil, fmt.Errorf("definition %d: %w", i, err)
		}
		if n.Actor == "" {
			n.Actor = actor
		}
		normalized[i] = n
	}

	// Пустой набор только отменяет: якорь мог быть уже удалён.
	if len(normalized) > 0 {
		if _, err := e.anchor(ctx, owner); err != nil {
			return nil, fail(span, err)
		}
	}

	now := e.now()
	result := &SyncResult{}
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx repo.Store) error {
		cancelled, err := tx.CancelPending(ctx, owner, actor, now.UTC())
		if err != nil {
			return fmt.Errorf("cancel pending: %w", err)
		}
		result.Cancelled = cancelled.IDs
		result.InFlight = cancelled.InFlight

		for _, def := range normalized {
			item := domain.NewWorkItem(owner, def, now)
			if err := tx.Insert(ctx, item); err != nil {
				return fmt.Errorf("insert work item: %w", err)
			}
			result.Created = append(result.Created, *item)
		}
		return nil
	})
	if err != nil {
		return nil, fail(span, err)
	}

	logger := telemetry.WithOwner(e.logger, owner)
	if result.InFlight > 0 {
		logger.Warn("sync cancelled in-flight work items, they may still send once",
			"in_flight", result.InFlight,
		)
	}
	logger.Info("work items synced",
		"cancelled", len(result.Cancelled),
		"created", len(result.Created),
	)

	e.notify(ctx, owner)
	return result, nil
}

// Claim атомарно захватывает до max due items этого типа.
//
// Item доступен, если он pending или claimed дольше StaleTimeout,
// якорь eligible и due time наступил. Результат упорядочен по due time.
// Конкурентные вызовы получают непересекающиеся наборы.
func (e *Engine) Claim(ctx context.Context, max int) ([]domain.ClaimedWorkItem, error) {
	if max <= 0 {
		return nil, ErrInvalidBatchSize
	}
	ctx, span := e.tracer.Start(ctx, "engine.Claim", trace.WithAttributes(
		attribute.String("herald.anchor_kind", string(e.kind)),
		attribute.Int("herald.batch_size", max),
	))
	defer span.End()

	started := time.Now()
	now := e.now().UTC()
	params := repo.ClaimParams{
		Kind:        e.kind,
		Now:         now,
		StaleBefore: now.Add(-e.staleTimeout),
		Limit:       max,
	}

	var claimed []domain.ClaimedWorkItem
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx repo.Store) error {
		var err error
		claimed, err = tx.Claim(ctx, params)
		return err
	})
	if err != nil {
		return nil, fail(span, fmt.Errorf("claim: %w", err))
	}

	var reclaimed int
	for i := range claimed {
		if claimed[i].Reclaimed() {
			reclaimed++
		}
	}
	e.metrics.ObserveClaim(e.kind, len(claimed), reclaimed, time.Since(started))
	span.SetAttributes(attribute.Int("herald.claimed", len(claimed)))

	return claimed, nil
}

// RecordAttempt записывает терминальный результат попытки.
//
// Вызывается на любом исходе dispatch. Запись безусловна:
// item, отменённый во время dispatch, тоже становится attempted.
func (e *Engine) RecordAttempt(ctx context.Context, id uuid.UUID, status domain.AttemptStatus, summary *domain.AttemptSummary, lastErr error) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	ctx, span := e.tracer.Start(ctx, "engine.RecordAttempt", trace.WithAttributes(
		attribute.String("herald.work_item_id", id.String()),
		attribute.String("herald.attempt_status", string(status)),
	))
	defer span.End()

	rec := repo.AttemptRecord{
		ID:          id,
		Status:      status,
		Summary:     summary,
		AttemptedAt: e.now().UTC(),
	}
	if lastErr != nil {
		rec.LastError = lastErr.Error()
	}

	if err := e.store.RecordAttempt(ctx, rec); err != nil {
		return fail(span, translate(err))
	}
	e.metrics.ObserveAttempt(e.kind, status)
	return nil
}

// Stats возвращает количество items по состояниям.
func (e *Engine) Stats(ctx context.Context) (map[domain.LifecycleState]int, error) {
	return e.store.Stats(ctx, e.kind)
}

func (e *Engine) checkOwner(owner domain.OwnerRef) error {
	if owner.ID == uuid.Nil {
		return domain.NewValidationError("owner.id", "owner id is required", domain.ErrInvalidOwner)
	}
	if owner.Kind != e.kind {
		return domain.NewValidationError("owner.kind",
			fmt.Sprintf("expected %s, got %s", e.kind, owner.Kind), ErrKindMismatch)
	}
	return nil
}

func (e *Engine) anchor(ctx context.Context, owner domain.OwnerRef) (*domain.Anchor, error) {
	anchor, err := e.store.GetAnchor(ctx, owner)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAnchorNotFound, owner)
	}
	if err != nil {
		return nil, fmt.Errorf("get anchor: %w", err)
	}
	return anchor, nil
}

// guardError превращает ErrInvalidState хранилища в TerminalStateError.
func (e *Engine) guardError(ctx context.Context, owner domain.OwnerRef, id uuid.UUID, err error) error {
	if !errors.Is(err, repo.ErrInvalidState) {
		return translate(err)
	}
	terminal := &domain.TerminalStateError{ID: id}
	if item, getErr := e.store.Get(ctx, owner, id); getErr == nil {
		terminal.AttemptedAt = item.AttemptedAt
	}
	return terminal
}

func (e *Engine) notify(ctx context.Context, owner domain.OwnerRef) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.NotifyWorkItemsChanged(ctx, owner); err != nil {
		// Воркеры подберут изменения на следующем тике
		telemetry.WithOwner(e.logger, owner).Warn("failed to notify workers", "error", err)
	}
}

func (e *Engine) start(ctx context.Context, name string, owner domain.OwnerRef) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("herald.owner_kind", string(owner.Kind)),
		attribute.String("herald.owner_id", owner.ID.String()),
	))
}

func translate(err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
