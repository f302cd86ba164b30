package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/shaiso/Herald/internal/domain"
)

// dueExpr — SQL для due time: anchor_time − offset или absolute_at.
func dueExpr(src anchorSource) string {
	return fmt.Sprintf(`CASE WHEN w.timing_kind = 'relative'
		THEN a.%s - make_interval(mins => w.offset_minutes)
		ELSE w.absolute_at END`, src.timeCol)
}

// claimQuery строит запрос claim для типа якоря.
//
// Выбор и захват выполняются одним выражением: строки-кандидаты
// блокируются FOR UPDATE SKIP LOCKED, поэтому конкурентные воркеры
// получают непересекающиеся наборы.
//
// $1 — now, $2 — owner_kind, $3 — граница stale claim, $4 — limit.
func claimQuery(src anchorSource) string {
	due := dueExpr(src)
	return fmt.Sprintf(`
		WITH candidates AS (
			SELECT w.id,
			       %[1]s AS due_at,
			       a.title AS anchor_title,
			       a.%[2]s AS anchor_time,
			       a.status AS anchor_status,
			       %[3]s AS anchor_frequency
			FROM work_items w
			JOIN %[4]s a ON a.id = w.owner_id
			WHERE w.owner_kind = $2
			  AND (w.lifecycle_state = 'pending'
			       OR (w.lifecycle_state = 'claimed' AND w.claimed_at < $3))
			  AND %[5]s
			  AND %[1]s <= $1
			ORDER BY due_at ASC, w.id ASC
			LIMIT $4
			FOR UPDATE OF w SKIP LOCKED
		)
		UPDATE work_items w
		SET lifecycle_state = 'claimed',
		    claimed_at = $1,
		    attempt_count = w.attempt_count + 1,
		    updated_at = $1
		FROM candidates c
		WHERE w.id = c.id
		RETURNING %[6]s,
		          c.due_at, c.anchor_title, c.anchor_time, c.anchor_status, c.anchor_frequency
	`, due, src.timeCol, src.frequency, src.table, src.eligible, workItemColumns)
}

// Claim атомарно захватывает до params.Limit due items.
// Порядок результата — по возрастанию due time.
func (r *WorkItemRepo) Claim(ctx context.Context, params ClaimParams) ([]domain.ClaimedWorkItem, error) {
	src, err := sourceFor(params.Kind)
	if err != nil {
		return nil, err
	}
	if params.Limit <= 0 {
		return nil, nil
	}

	rows, err := r.db.Query(ctx, claimQuery(src),
		params.Now, string(params.Kind), params.StaleBefore, params.Limit)
	if err != nil {
		return nil, fmt.Errorf("claim work items: %w", err)
	}
	defer rows.Close()

	var claimed []domain.ClaimedWorkItem
	for rows.Next() {
		var (
			dueAt, anchorTime time.Time
			title, status     string
			frequency         string
		)
		item, err := scanWorkItemWith(rows.Scan, &dueAt, &title, &anchorTime, &status, &frequency)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, domain.ClaimedWorkItem{
			WorkItem: *item,
			DueAt:    dueAt.UTC(),
			Anchor: domain.Anchor{
				Owner:     item.Owner,
				Title:     title,
				Time:      anchorTime.UTC(),
				Status:    status,
				Frequency: domain.Frequency(frequency),
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim work items: %w", err)
	}

	// UPDATE ... RETURNING не сохраняет порядок CTE.
	SortByDue(claimed)
	return claimed, nil
}
