package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Herald/internal/domain"
	"github.com/shaiso/Herald/internal/repo"
)

// anchorSource — таблица якоря и предикат eligibility (?1 — now).
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
		eligible:  "a.status NOT IN ('cancelled', 'completed') AND a.starts_at > ?1",
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
		return anchorSource{}, fmt.Errorf("%w: %q", repo.ErrUnknownAnchorKind, kind)
	}
	return src, nil
}

// GetAnchor читает якорь владельца.
func (s *Store) GetAnchor(ctx context.Context, owner domain.OwnerRef) (*domain.Anchor, error) {
	src, err := sourceFor(owner.Kind)
	if err != nil {
		return nil, err
	}

	var (
		a         = domain.Anchor{Owner: owner}
		at        int64
		frequency string
	)
	err = s.db.QueryRowContext(ctx, fmt.Sprintf(`
SELECT a.title, a.%s, a.status, %s
FROM %s a
WHERE a.id = ?
`, src.timeCol, src.frequency, src.table), owner.ID.String()).Scan(&a.Title, &at, &a.Status, &frequency)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get anchor: %w", err)
	}
	a.Time = fromMillis(at)
	a.Frequency = domain.Frequency(frequency)
	return &a, nil
}

// RescheduleFollowUp переносит follow-up на следующее повторение.
func (s *Store) RescheduleFollowUp(ctx context.Context, id uuid.UUID, next time.Time) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE follow_ups SET scheduled_at = ? WHERE id = ? AND status = 'scheduled'
`, toMillis(next), id.String())
	if err != nil {
		return fmt.Errorf("reschedule follow-up: %w", err)
	}
	return requireAffected(res)
}

// CompleteFollowUp помечает follow-up завершённым.
func (s *Store) CompleteFollowUp(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE follow_ups SET status = 'completed' WHERE id = ?
`, id.String())
	if err != nil {
		return fmt.Errorf("complete follow-up: %w", err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return repo.ErrNotFound
	}
	return nil
}
