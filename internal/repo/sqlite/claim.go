package sqlite

import (
	"context"
	"fmt"

	"github.com/shaiso/Herald/internal/domain"
	"github.com/shaiso/Herald/internal/repo"
)

// claimableState — item pending или claimed с истёкшим claim (?3 — граница).
const claimableState = `(w.lifecycle_state = 'pending'
	OR (w.lifecycle_state = 'claimed' AND w.claimed_at < ?3))`

func dueExpr(src anchorSource) string {
	return fmt.Sprintf(`(CASE WHEN w.timing_kind = 'relative'
	THEN a.%s - (w.offset_minutes * 60000)
	ELSE w.absolute_at END)`, src.timeCol)
}

// Claim захватывает due items.
//
// В SQLite нет SKIP LOCKED: кандидаты выбираются в транзакции,
// затем каждый захватывается условным UPDATE с тем же предикатом.
// Строка, которую успел забрать другой процесс, даёт 0 rows affected и пропускается.
func (s *Store) Claim(ctx context.Context, params repo.ClaimParams) ([]domain.ClaimedWorkItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, err := sourceFor(params.Kind)
	if err != nil {
		return nil, err
	}
	if params.Limit <= 0 {
		return nil, nil
	}

	now := toMillis(params.Now)
	staleBefore := toMillis(params.StaleBefore)

	var claimed []domain.ClaimedWorkItem
	err = s.WithinTx(ctx, func(ctx context.Context, tx repo.Store) error {
		db := tx.(*Store).db

		rows, err := db.QueryContext(ctx, fmt.Sprintf(`
SELECT w.id
FROM work_items w
JOIN %[1]s a ON a.id = w.owner_id
WHERE w.owner_kind = ?2
AND %[2]s
AND %[3]s
AND %[4]s <= ?1
ORDER BY %[4]s ASC, w.id ASC
LIMIT ?4
`, src.table, claimableState, src.eligible, dueExpr(src)),
			now, string(params.Kind), staleBefore, params.Limit)
		if err != nil {
			return fmt.Errorf("select claim candidates: %w", err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return fmt.Errorf("scan claim candidate: %w", err)
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return fmt.Errorf("iterate claim candidates: %w", err)
		}
		if err := rows.Close(); err != nil {
			return fmt.Errorf("close claim candidates: %w", err)
		}

		for _, id := range ids {
			res, err := db.ExecContext(ctx, `
UPDATE work_items AS w
SET lifecycle_state = 'claimed',
	claimed_at = ?1,
	attempt_count = w.attempt_count + 1,
	updated_at = ?1
WHERE w.id = ?2
AND `+claimableState, now, id, staleBefore)
			if err != nil {
				return fmt.Errorf("claim work item %s: %w", id, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("claim rows affected: %w", err)
			}
			if n == 0 {
				continue
			}

			item, err := loadClaimed(ctx, db, src, id)
			if err != nil {
				return err
			}
			claimed = append(claimed, *item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	repo.SortByDue(claimed)
	return claimed, nil
}

func loadClaimed(ctx context.Context, db dbtx, src anchorSource, id string) (*domain.ClaimedWorkItem, error) {
	var (
		dueAt, anchorTime int64
		title, status     string
		frequency         string
	)
	row := db.QueryRowContext(ctx, fmt.Sprintf(`
SELECT %[1]s, %[2]s, a.title, a.%[3]s, a.status, %[4]s
FROM work_items w
JOIN %[5]s a ON a.id = w.owner_id
WHERE w.id = ?1
`, workItemColumns, dueExpr(src), src.timeCol, src.frequency, src.table), id)

	item, err := scanWorkItem(row.Scan, &dueAt, &title, &anchorTime, &status, &frequency)
	if err != nil {
		return nil, fmt.Errorf("load claimed %s: %w", id, err)
	}
	return &domain.ClaimedWorkItem{
		WorkItem: *item,
		DueAt:    fromMillis(dueAt),
		Anchor: domain.Anchor{
			Owner:     item.Owner,
			Title:     title,
			Time:      fromMillis(anchorTime),
			Status:    status,
			Frequency: domain.Frequency(frequency),
		},
	}, nil
}
