// Package followups — уведомления о follow-up записях: якорь follow_ups,
// повторения по frequency.
package followups

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Herald/internal/domain"
	"github.com/shaiso/Herald/internal/engine"
	"github.com/shaiso/Herald/internal/repo"
	"github.com/shaiso/Herald/internal/scheduler"
	"github.com/shaiso/Herald/internal/telemetry"
)

// Kind — тип якоря follow-up уведомлений.
const Kind = domain.AnchorKindFollowUp

// ErrNotScheduled — follow-up уже завершён или отменён.
var ErrNotScheduled = errors.New("follow-up is not scheduled")

// NewEngine создаёт Engine для follow-up уведомлений.
func NewEngine(cfg engine.Config) (*engine.Engine, error) {
	cfg.Kind = Kind
	return engine.New(cfg)
}

// Composer формирует текст follow-up уведомления.
type Composer struct{}

// Compose возвращает тему и текст.
func (Composer) Compose(item *domain.ClaimedWorkItem) (subject, body string) {
	subject = item.Payload.Subject
	if subject == "" {
		subject = "Follow-up: " + item.Anchor.Title
	}
	body = item.Payload.Message
	if body == "" {
		body = fmt.Sprintf("%s is due %s", item.Anchor.Title, item.Anchor.Time.Format("02 Jan 2006"))
	}
	return subject, body
}

// Store — то, что нужно Advancer от хранилища.
type Store interface {
	GetAnchor(ctx context.Context, owner domain.OwnerRef) (*domain.Anchor, error)
	repo.FollowUpWriter
}

// Advancer продвигает повторяющиеся follow-ups после выполнения.
type Advancer struct {
	store  Store
	engine *engine.Engine
	logger *slog.Logger
}

// NewAdvancer создаёт новый Advancer. eng должен быть follow-up Engine.
func NewAdvancer(store Store, eng *engine.Engine, logger *slog.Logger) (*Advancer, error) {
	if eng.Kind() != Kind {
		return nil, fmt.Errorf("%w: %s", engine.ErrKindMismatch, eng.Kind())
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Advancer{store: store, engine: eng, logger: logger}, nil
}

// AdvanceResult — итог Advance.
type AdvanceResult struct {
	// Next — новое scheduled_at; nil, если follow-up завершён.
	Next *time.Time

	Sync *engine.SyncResult
}

// Advance отмечает выполнение follow-up в completedOn.
//
// Если повторение есть, follow-up переносится на следующую дату, а план
// уведомлений пересоздаётся от нового якоря. Иначе follow-up завершается,
// и все неотправленные уведомления отменяются.
//
// План — уникальные relative-определения не отменённых items владельца.
// Absolute-уведомления привязаны к конкретному моменту и не повторяются.
func (a *Advancer) Advance(ctx context.Context, owner domain.OwnerRef, completedOn time.Time, actor string) (*AdvanceResult, error) {
	if owner.Kind != Kind {
		return nil, fmt.Errorf("%w: %s", engine.ErrKindMismatch, owner.Kind)
	}

	anchor, err := a.store.GetAnchor(ctx, owner)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", engine.ErrAnchorNotFound, owner)
	}
	if err != nil {
		return nil, fmt.Errorf("get anchor: %w", err)
	}
	if anchor.Status != domain.AnchorStatusScheduled {
		return nil, fmt.Errorf("%w: %s", ErrNotScheduled, anchor.Status)
	}

	next, ok, err := scheduler.NextOccurrence(completedOn, anchor.Frequency)
	if err != nil {
		return nil, err
	}

	logger := telemetry.WithOwner(a.logger, owner)

	if !ok {
		if err := a.store.CompleteFollowUp(ctx, owner.ID); err != nil {
			return nil, fmt.Errorf("complete follow-up: %w", err)
		}
		sync, err := a.engine.SyncPending(ctx, owner, nil, actor)
		if err != nil {
			return nil, err
		}
		logger.Info("follow-up completed", "frequency", anchor.Frequency)
		return &AdvanceResult{Sync: sync}, nil
	}

	items, err := a.engine.ListByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	plan, err := Plan(items)
	if err != nil {
		return nil, err
	}

	if err := a.store.RescheduleFollowUp(ctx, owner.ID, next); err != nil {
		return nil, fmt.Errorf("reschedule follow-up: %w", err)
	}
	sync, err := a.engine.SyncPending(ctx, owner, plan, actor)
	if err != nil {
		return nil, err
	}

	logger.Info("follow-up rescheduled",
		"frequency", anchor.Frequency,
		"next", next.UTC(),
		"notifications", len(sync.Created),
	)
	next = next.UTC()
	return &AdvanceResult{Next: &next, Sync: sync}, nil
}

// Plan извлекает план уведомлений из items владельца.
// Порядок первого вхождения сохраняется.
func Plan(items []domain.WorkItem) ([]domain.Definition, error) {
	seen := make(map[string]struct{})
	var plan []domain.Definition
	for i := range items {
		item := &items[i]
		if item.State == domain.LifecycleStateCancelled || item.Timing.Kind != domain.TimingRelative {
			continue
		}

		def := item.Definition()
		def.Actor = ""
		key, err := json.Marshal(def)
		if err != nil {
			return nil, fmt.Errorf("plan key: %w", err)
		}
		if _, ok := seen[string(key)]; ok {
			continue
		}
		seen[string(key)] = struct{}{}
		plan = append(plan, def)
	}
	return plan, nil
}
