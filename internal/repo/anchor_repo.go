package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shaiso/Herald/internal/domain"
)

// anchorSource описывает таблицу якоря и предикат eligibility.
// $1 в eligible — время claim.
type anchorSource struct {
	table     string
	timeCol   string
	frequency string
	eligible  string
}

var anchorSources = map[domain.AnchorKind]anchorSource{
	domain.AnchorKindEvent: {
		table:     "events",
		timeCol:   "starts_at",
		frequency: "''",
		eligible:  "a.status NOT IN ('cancelled', 'completed') AND a.starts_at > $1",
	},
	domain.AnchorKindFollowUp: {
		table:     "follow_ups",
		timeCol:   "scheduled_at",
		frequency: "a.frequency",
		eligible:  "a.status = 'scheduled'",
	},
}

func sourceFor(kind domain.AnchorKind) (anchorSource, error) {
	src, ok := anchorSources[kind]
	if !ok {
		return anchorSource{}, fmt.Errorf("%w: %q", ErrUnknownAnchorKind, kind)
	}
	return src, nil
}

// GetAnchor читает якорь владельца.
func (r *WorkItemRepo) GetAnchor(ctx context.Context, owner domain.OwnerRef) (*domain.Anchor, error) {
	src, err := sourceFor(owner.Kind)
	if err != nil {
		return nil, err
	}

	a := domain.Anchor{Owner: owner}
	var frequency string
	err = r.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT a.title, a.%s, a.status, %s
		FROM %s a
		WHERE a.id = $1
	`, src.timeCol, src.frequency, src.table), owner.ID).Scan(&a.Title, &a.Time, &a.Status, &frequency)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get anchor: %w", err)
	}
	a.Time = a.Time.UTC()
	a.Frequency = domain.Frequency(frequency)
	return &a, nil
}

// RescheduleFollowUp переносит follow-up на следующее повторение.
func (r *WorkItemRepo) RescheduleFollowUp(ctx context.Context, id uuid.UUID, next time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE follow_ups SET scheduled_at = $2
		WHERE id = $1 AND status = 'scheduled'
	`, id, next)
	if err != nil {
		return fmt.Errorf("reschedule follow-up: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteFollowUp помечает follow-up завершённым.
func (r *WorkItemRepo) CompleteFollowUp(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE follow_ups SET status = 'completed'
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("complete follow-up: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
