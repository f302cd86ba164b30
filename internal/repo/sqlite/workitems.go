package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Herald/internal/domain"
	"github.com/shaiso/Herald/internal/repo"
)

const workItemColumns = `w.id, w.owner_kind, w.owner_id, w.timing_kind, w.offset_minutes, w.absolute_at,
	w.channels_json, w.payload_json, w.lifecycle_state, w.claimed_at, w.attempt_count,
	w.attempted_at, w.attempt_status, w.attempt_summary_json, w.last_error,
	w.created_at, w.updated_at, w.created_by, w.modified_by`

// Insert создаёт новый work item.
func (s *Store) Insert(ctx context.Context, item *domain.WorkItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	channels, payload, err := encodeDefinition(item)
	if err != nil {
		return err
	}
	offset, at := timingColumns(item.Timing)

	_, err = s.db.ExecContext(ctx, `
INSERT INTO work_items (
	id, owner_kind, owner_id, timing_kind, offset_minutes, absolute_at,
	channels_json, payload_json, lifecycle_state, attempt_count,
	created_at, updated_at, created_by, modified_by
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)
`,
		item.ID.String(), string(item.Owner.Kind), item.Owner.ID.String(),
		string(item.Timing.Kind), offset, at,
		channels, payload, string(item.State),
		toMillis(item.CreatedAt), toMillis(item.UpdatedAt), item.CreatedBy, item.ModifiedBy,
	)
	if err != nil {
		if isConstraintError(err) {
			return repo.ErrAlreadyExists
		}
		return fmt.Errorf("insert work item: %w", err)
	}
	return nil
}

// Get возвращает work item владельца.
func (s *Store) Get(ctx context.Context, owner domain.OwnerRef, id uuid.UUID) (*domain.WorkItem, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+workItemColumns+`
FROM work_items w
WHERE w.id = ? AND w.owner_kind = ? AND w.owner_id = ?
`, id.String(), string(owner.Kind), owner.ID.String())
	return scanWorkItem(row.Scan)
}

// GetByID возвращает work item без проверки владельца.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkItem, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+workItemColumns+`
FROM work_items w
WHERE w.id = ?
`, id.String())
	return scanWorkItem(row.Scan)
}

// ListByOwner возвращает все items владельца, старые первыми.
func (s *Store) ListByOwner(ctx context.Context, owner domain.OwnerRef) ([]domain.WorkItem, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+workItemColumns+`
FROM work_items w
WHERE w.owner_kind = ? AND w.owner_id = ?
ORDER BY w.created_at ASC, w.id ASC
`, string(owner.Kind), owner.ID.String())
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate work items: %w", err)
	}
	return items, nil
}

// UpdateDefinition сохраняет определение, пока попытка не записана.
func (s *Store) UpdateDefinition(ctx context.Context, item *domain.WorkItem) error {
	channels, payload, err := encodeDefinition(item)
	if err != nil {
		return err
	}
	offset, at := timingColumns(item.Timing)

	res, err := s.db.ExecContext(ctx, `
UPDATE work_items
SET timing_kind = ?, offset_minutes = ?, absolute_at = ?,
	channels_json = ?, payload_json = ?, modified_by = ?, updated_at = ?
WHERE id = ? AND owner_kind = ? AND owner_id = ? AND attempted_at IS NULL
`,
		string(item.Timing.Kind), offset, at, channels, payload,
		item.ModifiedBy, toMillis(item.UpdatedAt),
		item.ID.String(), string(item.Owner.Kind), item.Owner.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("update work item: %w", err)
	}
	return s.checkGuarded(ctx, res, item.Owner, item.ID)
}

// Cancel отменяет item владельца, пока попытка не записана.
func (s *Store) Cancel(ctx context.Context, owner domain.OwnerRef, id uuid.UUID, actor string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE work_items
SET lifecycle_state = 'cancelled', attempt_status = 'cancelled',
	claimed_at = NULL, modified_by = ?, updated_at = ?
WHERE id = ? AND owner_kind = ? AND owner_id = ? AND attempted_at IS NULL
`, actor, toMillis(now), id.String(), string(owner.Kind), owner.ID.String())
	if err != nil {
		return fmt.Errorf("cancel work item: %w", err)
	}
	return s.checkGuarded(ctx, res, owner, id)
}

// CancelPending отменяет все pending/claimed items владельца без попытки.
func (s *Store) CancelPending(ctx context.Context, owner domain.OwnerRef, actor string, now time.Time) (repo.CancelResult, error) {
	var res repo.CancelResult
	err := s.WithinTx(ctx, func(ctx context.Context, tx repo.Store) error {
		db := tx.(*Store).db
		rows, err := db.QueryContext(ctx, `
SELECT id, lifecycle_state
FROM work_items
WHERE owner_kind = ? AND owner_id = ?
AND attempted_at IS NULL
AND lifecycle_state IN ('pending', 'claimed')
ORDER BY created_at ASC, id ASC
`, string(owner.Kind), owner.ID.String())
		if err != nil {
			return fmt.Errorf("select pending: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var rawID, state string
			if err := rows.Scan(&rawID, &state); err != nil {
				return fmt.Errorf("scan pending: %w", err)
			}
			id, err := uuid.Parse(rawID)
			if err != nil {
				return fmt.Errorf("parse work item id: %w", err)
			}
			res.IDs = append(res.IDs, id)
			if domain.ParseLifecycleState(state) == domain.LifecycleStateClaimed {
				res.InFlight++
			}
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate pending: %w", err)
		}
		if err := rows.Close(); err != nil {
			return fmt.Errorf("close pending: %w", err)
		}

		_, err = db.ExecContext(ctx, `
UPDATE work_items
SET lifecycle_state = 'cancelled', attempt_status = 'cancelled',
	claimed_at = NULL, modified_by = ?, updated_at = ?
WHERE owner_kind = ? AND owner_id = ?
AND attempted_at IS NULL
AND lifecycle_state IN ('pending', 'claimed')
`, actor, toMillis(now), string(owner.Kind), owner.ID.String())
		if err != nil {
			return fmt.Errorf("cancel pending: %w", err)
		}
		return nil
	})
	if err != nil {
		return repo.CancelResult{}, err
	}
	return res, nil
}

// RecordAttempt записывает результат попытки безусловно.
func (s *Store) RecordAttempt(ctx context.Context, rec repo.AttemptRecord) error {
	var summary sql.NullString
	if rec.Summary != nil {
		raw, err := json.Marshal(rec.Summary)
		if err != nil {
			return fmt.Errorf("marshal attempt summary: %w", err)
		}
		summary = sql.NullString{String: string(raw), Valid: true}
	}
	lastError := sql.NullString{String: rec.LastError, Valid: rec.LastError != ""}

	res, err := s.db.ExecContext(ctx, `
UPDATE work_items
SET lifecycle_state = 'attempted', claimed_at = NULL,
	attempted_at = ?1, attempt_status = ?2, attempt_summary_json = ?3,
	last_error = ?4, updated_at = ?1
WHERE id = ?5
`, toMillis(rec.AttemptedAt), string(rec.Status), summary, lastError, rec.ID.String())
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record attempt rows affected: %w", err)
	}
	if n == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// Stats считает items по состояниям.
func (s *Store) Stats(ctx context.Context, kind domain.AnchorKind) (map[domain.LifecycleState]int, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT lifecycle_state, COUNT(*)
FROM work_items
WHERE owner_kind = ?
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

// checkGuarded различает "нет такого item" и "попытка уже записана".
func (s *Store) checkGuarded(ctx context.Context, res sql.Result, owner domain.OwnerRef, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM work_items WHERE id = ? AND owner_kind = ? AND owner_id = ?
`, id.String(), string(owner.Kind), owner.ID.String()).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check work item: %w", err)
	}
	if exists == 0 {
		return repo.ErrNotFound
	}
	return repo.ErrInvalidState
}

// isConstraintError распознаёт нарушение PRIMARY KEY / UNIQUE.
func isConstraintError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed")
}

func encodeDefinition(item *domain.WorkItem) (string, string, error) {
	channels, err := json.Marshal(item.Channels)
	if err != nil {
		return "", "", fmt.Errorf("marshal channels: %w", err)
	}
	payload, err := json.Marshal(item.Payload)
	if err != nil {
		return "", "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(channels), string(payload), nil
}

func timingColumns(rule domain.TimingRule) (sql.NullInt64, sql.NullInt64) {
	switch rule.Kind {
	case domain.TimingRelative:
		return sql.NullInt64{Int64: int64(rule.OffsetMinutes), Valid: true}, sql.NullInt64{}
	case domain.TimingAbsolute:
		if rule.At == nil {
			return sql.NullInt64{}, sql.NullInt64{}
		}
		return sql.NullInt64{}, sql.NullInt64{Int64: toMillis(*rule.At), Valid: true}
	default:
		return sql.NullInt64{}, sql.NullInt64{}
	}
}

// scanWorkItem сканирует строку в domain.WorkItem.
func scanWorkItem(scan func(dest ...any) error, extra ...any) (*domain.WorkItem, error) {
	var (
		item                               domain.WorkItem
		id, ownerKind, ownerID, timingKind string
		channels, payload, state           string
		offset, absoluteAt                 sql.NullInt64
		claimedAt, attemptedAt             sql.NullInt64
		attemptStatus, summary, lastError  sql.NullString
		createdAt, updatedAt               int64
	)

	dest := []any{
		&id, &ownerKind, &ownerID, &timingKind, &offset, &absoluteAt,
		&channels, &payload, &state, &claimedAt, &item.AttemptCount,
		&attemptedAt, &attemptStatus, &summary, &lastError,
		&createdAt, &updatedAt, &item.CreatedBy, &item.ModifiedBy,
	}
	if err := scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repo.ErrNotFound
		}
		return nil, fmt.Errorf("scan work item: %w", err)
	}

	var err error
	if item.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse work item id: %w", err)
	}
	if item.Owner.ID, err = uuid.Parse(ownerID); err != nil {
		return nil, fmt.Errorf("parse owner id: %w", err)
	}
	item.Owner.Kind = domain.AnchorKind(ownerKind)

	item.Timing = domain.TimingRule{Kind: domain.TimingKind(timingKind)}
	if offset.Valid {
		item.Timing.OffsetMinutes = int(offset.Int64)
	}
	item.Timing.At = nullMillis(absoluteAt)

	if err := json.Unmarshal([]byte(channels), &item.Channels); err != nil {
		return nil, fmt.Errorf("unmarshal channels: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &item.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	item.State = domain.ParseLifecycleState(state)
	item.ClaimedAt = nullMillis(claimedAt)
	item.AttemptedAt = nullMillis(attemptedAt)
	item.AttemptStatus = domain.AttemptStatus(attemptStatus.String)
	item.LastError = lastError.String
	if summary.Valid && summary.String != "" {
		item.AttemptSummary = &domain.AttemptSummary{}
		if err := json.Unmarshal([]byte(summary.String), item.AttemptSummary); err != nil {
			return nil, fmt.Errorf("unmarshal attempt summary: %w", err)
		}
	}
	item.CreatedAt = fromMillis(createdAt)
	item.UpdatedAt = fromMillis(updatedAt)
	return &item, nil
}
