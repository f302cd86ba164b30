package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Herald/internal/domain"
)

// Store — контракт хранилища work items.
//
// Реализации:
//   - WorkItemRepo — PostgreSQL (FOR UPDATE SKIP LOCKED)
//   - sqlite.Store — SQLite (условный UPDATE по каждому кандидату)
//
// Синхронизация между воркерами выражается только через транзакции
// и блокировки строк хранилища.
type Store interface {
	// WithinTx выполняет fn в транзакции. Commit при nil, rollback при ошибке или панике.
	// Вложенный вызов на транзакционном Store переиспользует текущую транзакцию.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	// GetAnchor читает текущее состояние якоря.
	GetAnchor(ctx context.Context, owner domain.OwnerRef) (*domain.Anchor, error)

	Insert(ctx context.Context, item *domain.WorkItem) error
	Get(ctx context.Context, owner domain.OwnerRef, id uuid.UUID) (*domain.WorkItem, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkItem, error)
	ListByOwner(ctx context.Context, owner domain.OwnerRef) ([]domain.WorkItem, error)

	// UpdateDefinition сохраняет timing/channels/payload.
	// ErrInvalidState, если попытка уже записана.
	UpdateDefinition(ctx context.Context, item *domain.WorkItem) error

	// Cancel переводит item в cancelled. ErrInvalidState, если попытка уже записана.
	Cancel(ctx context.Context, owner domain.OwnerRef, id uuid.UUID, actor string, now time.Time) error

	// CancelPending отменяет все pending/claimed items владельца без попытки.
	CancelPending(ctx context.Context, owner domain.OwnerRef, actor string, now time.Time) (CancelResult, error)

	// Claim атомарно захватывает due items.
	Claim(ctx context.Context, params ClaimParams) ([]domain.ClaimedWorkItem, error)

	// RecordAttempt записывает терминальный результат попытки.
	RecordAttempt(ctx context.Context, rec AttemptRecord) error

	// Stats возвращает количество items по состояниям для типа якоря.
	Stats(ctx context.Context, kind domain.AnchorKind) (map[domain.LifecycleState]int, error)
}

// ClaimParams — параметры одного claim.
type ClaimParams struct {
	Kind domain.AnchorKind

	// Now — время claim; due_at <= Now.
	Now time.Time

	// StaleBefore — claimed items с claimed_at < StaleBefore считаются брошенными.
	StaleBefore time.Time

	// Limit — максимальный размер батча.
	Limit int
}

// AttemptRecord — данные для Attempt Result Recorder.
type AttemptRecord struct {
	ID          uuid.UUID
	Status      domain.AttemptStatus
	Summary     *domain.AttemptSummary
	LastError   string
	AttemptedAt time.Time
}

// CancelResult — итог массовой отмены.
type CancelResult struct {
	// IDs — отменённые items.
	IDs []uuid.UUID

	// InFlight — сколько из них было в claimed (могут всё равно отправиться один раз).
	InFlight int
}

// FollowUpWriter — операции владельца follow-up, нужные для продвижения повторений.
type FollowUpWriter interface {
	RescheduleFollowUp(ctx context.Context, id uuid.UUID, next time.Time) error
	CompleteFollowUp(ctx context.Context, id uuid.UUID) error
}
