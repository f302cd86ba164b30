package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Herald/internal/domain"
)

// querier — общее подмножество pgxpool.Pool и pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// WorkItemRepo — PostgreSQL-реализация Store.
type WorkItemRepo struct {
	pool *pgxpool.Pool
	db   querier
	inTx bool
}

// NewWorkItemRepo создаёт новый WorkItemRepo.
func NewWorkItemRepo(pool *pgxpool.Pool) *WorkItemRepo {
	return &WorkItemRepo{pool: pool, db: pool}
}

var _ Store = (*WorkItemRepo)(nil)

// WithinTx выполняет fn в транзакции.
func (r *WorkItemRepo) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if r.inTx {
		return fn(ctx, r)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &WorkItemRepo{pool: r.pool, db: tx, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const workItemColumns = `w.id, w.owner_kind, w.owner_id, w.timing_kind, w.offset_minutes, w.absolute_at,
	w.channels, w.payload, w.lifecycle_state, w.claimed_at, w.attempt_count,
	w.attempted_at, w.attempt_status, w.attempt_summary, w.last_error,
	w.created_at, w.updated_at, w.created_by, w.modified_by`

// Insert создаёт новый work item.
func (r *WorkItemRepo) Insert(ctx context.Context, item *domain.WorkItem) error {
	payload, err := json.Marshal(item.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	offset, at := timingColumns(item.Timing)

	_, err = r.db.Exec(ctx, `
		INSERT INTO work_items (
			id, owner_kind, owner_id, timing_kind, offset_minutes, absolute_at,
			channels, payload, lifecycle_state, attempt_count,
			created_at, updated_at, created_by, modified_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10, $10, $11, $12)
	`,
		item.ID, string(item.Owner.Kind), item.Owner.ID, string(item.Timing.Kind), offset, at,
		channelStrings(item.Channels), payload, string(item.State),
		item.CreatedAt, item.CreatedBy, item.ModifiedBy,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert work item: %w", err)
	}
	return nil
}

// Get возвращает work item владельца.
func (r *WorkItemRepo) Get(ctx context.Context, owner domain.OwnerRef, id uuid.UUID) (*domain.WorkItem, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+workItemColumns+`
		FROM work_items w
		WHERE w.id = $1 AND w.owner_kind = $2 AND w.owner_id = $3
	`, id, string(owner.Kind), owner.ID)
	return scanWorkItem(row.Scan)
}

// GetByID возвращает work item без проверки владельца (для операторских инструментов).
func (r *WorkItemRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkItem, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+workItemColumns+`
		FROM work_items w
		WHERE w.id = $1
	`, id)
	return scanWorkItem(row.Scan)
}

// ListByOwner возвращает все items владельца, старые первыми.
func (r *WorkItemRepo) ListByOwner(ctx context.Context, owner domain.OwnerRef) ([]domain.WorkItem, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+workItemColumns+`
		FROM work_items w
		WHERE w.owner_kind = $1 AND w.owner_id = $2
		ORDER BY w.created_at ASC, w.id ASC
	`, string(owner.Kind), owner.ID)
	if err != nil {
		return nil, fmt.Errorf("query work items: %w", err)
	}
	defer rows.Close()

	var items []domain.WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// UpdateDefinition сохраняет изменённое определение, пока попытка не записана.
func (r *WorkItemRepo) UpdateDefinition(ctx context.Context, item *domain.WorkItem) error {
	payload, err := json.Marshal(item.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	offset, at := timingColumns(item.Timing)

	tag, err := r.db.Exec(ctx, `
		UPDATE work_items
		SET timing_kind = $4, offset_minutes = $5, absolute_at = $6,
		    channels = $7, payload = $8, modified_by = $9, updated_at = $10
		WHERE id = $1 AND owner_kind = $2 AND owner_id = $3 AND attempted_at IS NULL
	`,
		item.ID, string(item.Owner.Kind), item.Owner.ID,
		string(item.Timing.Kind), offset, at,
		channelStrings(item.Channels), payload, item.ModifiedBy, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update work item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.guardError(ctx, item.Owner, item.ID)
	}
	return nil
}

// Cancel отменяет item владельца, пока попытка не записана.
func (r *WorkItemRepo) Cancel(ctx context.Context, owner domain.OwnerRef, id uuid.UUID, actor string, now time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE work_items
		SET lifecycle_state = 'cancelled', attempt_status = 'cancelled',
		    claimed_at = NULL, modified_by = $4, updated_at = $5
		WHERE id = $1 AND owner_kind = $2 AND owner_id = $3 AND attempted_at IS NULL
	`, id, string(owner.Kind), owner.ID, actor, now)
	if err != nil {
		return fmt.Errorf("cancel work item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.guardError(ctx, owner, id)
	}
	return nil
}

// CancelPending отменяет все pending/claimed items владельца без попытки.
func (r *WorkItemRepo) CancelPending(ctx context.Context, owner domain.OwnerRef, actor string, now time.Time) (CancelResult, error) {
	rows, err := r.db.Query(ctx, `
		WITH target AS (
			SELECT id, lifecycle_state AS prev_state
			FROM work_items
			WHERE owner_kind = $1 AND owner_id = $2
			  AND attempted_at IS NULL
			  AND lifecycle_state IN ('pending', 'claimed')
			FOR UPDATE
		)
		UPDATE work_items w
		SET lifecycle_state = 'cancelled', attempt_status = 'cancelled',
		    claimed_at = NULL, modified_by = $3, updated_at = $4
		FROM target t
		WHERE w.id = t.id
		RETURNING w.id, t.prev_state
	`, string(owner.Kind), owner.ID, actor, now)
	if err != nil {
		return CancelResult{}, fmt.Errorf("cancel pending: %w", err)
	}
	defer rows.Close()

	var res CancelResult
	for rows.Next() {
		var (
			id   uuid.UUID
			prev string
		)
		if err := rows.Scan(&id, &prev); err != nil {
			return CancelResult{}, fmt.Errorf("scan cancelled id: %w", err)
		}
		res.IDs = append(res.IDs, id)
		if domain.ParseLifecycleState(prev) == domain.LifecycleStateClaimed {
			res.InFlight++
		}
	}
	return res, rows.Err()
}

// RecordAttempt записывает результат попытки. Выполняется всегда,
// даже если item был отменён во время dispatch.
func (r *WorkItemRepo) RecordAttempt(ctx context.Context, rec AttemptRecord) error {
	var summary []byte
	if rec.Summary != nil {
		var err error
		if summary, err = json.Marshal(rec.Summary); err != nil {
			return fmt.Errorf("marshal attempt summary: %w", err)
		}
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE work_items
		SET lifecycle_state = 'attempted', claimed_at = NULL,
		    attempted_at = $2, attempt_status = $3, attempt_summary = $4,
		    last_error = $5, updated_at = $2
		WHERE id = $1
	`, rec.ID, rec.AttemptedAt, string(rec.Status), summary, nullString(rec.LastError))
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Stats считает items по состояниям.
func (r *WorkItemRepo) Stats(ctx context.Context, kind domain.AnchorKind) (map[domain.LifecycleState]int, error) {
	rows, err := r.db.Query(ctx, `
		SELECT lifecycle_state, count(*)
		FROM work_items
		WHERE owner_kind = $1
		GROUP BY lifecycle_state
	`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[domain.LifecycleState]int)
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats[domain.ParseLifecycleState(state)] = n
	}
	return stats, rows.Err()
}

// guardError различает "нет такого item" и "попытка уже записана".
func (r *WorkItemRepo) guardError(ctx context.Context, owner domain.OwnerRef, id uuid.UUID) error {
	var attemptedAt *time.Time
	err := r.db.QueryRow(ctx, `
		SELECT attempted_at FROM work_items
		WHERE id = $1 AND owner_kind = $2 AND owner_id = $3
	`, id, string(owner.Kind), owner.ID).Scan(&attemptedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check work item: %w", err)
	}
	return ErrInvalidState
}

// scanWorkItem сканирует строку в domain.WorkItem.
func scanWorkItem(scan func(dest ...any) error) (*domain.WorkItem, error) {
	item, err := scanWorkItemWith(scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return item, err
}

// scanWorkItemWith сканирует колонки workItemColumns и дополнительные dest.
func scanWorkItemWith(scan func(dest ...any) error, extra ...any) (*domain.WorkItem, error) {
	var (
		item                              domain.WorkItem
		ownerKind, timingKind, state      string
		offset                            *int
		absoluteAt, claimedAt, attemptedT *time.Time
		channels                          []string
		payload, summary                  []byte
		attemptStatus, lastError          *string
	)

	dest := []any{
		&item.ID, &ownerKind, &item.Owner.ID, &timingKind, &offset, &absoluteAt,
		&channels, &payload, &state, &claimedAt, &item.AttemptCount,
		&attemptedT, &attemptStatus, &summary, &lastError,
		&item.CreatedAt, &item.UpdatedAt, &item.CreatedBy, &item.ModifiedBy,
	}
	if err := scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan work item: %w", err)
	}

	item.Owner.Kind = domain.AnchorKind(ownerKind)
	item.Timing = timingFromColumns(timingKind, offset, absoluteAt)
	item.Channels = toChannels(channels)
	item.State = domain.ParseLifecycleState(state)
	item.ClaimedAt = utcPtr(claimedAt)
	item.AttemptedAt = utcPtr(attemptedT)
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	if attemptStatus != nil {
		item.AttemptStatus = domain.AttemptStatus(*attemptStatus)
	}
	if lastError != nil {
		item.LastError = *lastError
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &item.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if len(summary) > 0 {
		item.AttemptSummary = &domain.AttemptSummary{}
		if err := json.Unmarshal(summary, item.AttemptSummary); err != nil {
			return nil, fmt.Errorf("unmarshal attempt summary: %w", err)
		}
	}
	return &item, nil
}
