// Package sqlitetest — фикстуры SQLite-хранилища для тестов.
package sqlitetest

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Herald/internal/domain"
	"github.com/shaiso/Herald/internal/repo/sqlite"
)

// Open открывает хранилище во временной директории теста.
func Open(t testing.TB) *sqlite.Store {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "herald.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close sqlite store: %v", err)
		}
	})
	return store
}

// AddEvent создаёт событие и возвращает ссылку на владельца.
func AddEvent(t testing.TB, store *sqlite.Store, startsAt time.Time, status string) domain.OwnerRef {
	t.Helper()

	owner := domain.OwnerRef{Kind: domain.AnchorKindEvent, ID: uuid.New()}
	_, err := store.DB().Exec(
		`INSERT INTO events (id, title, starts_at, status) VALUES (?, ?, ?, ?)`,
		owner.ID.String(), "Event "+owner.ID.String()[:8], startsAt.UTC().UnixMilli(), status,
	)
	if err != nil {
		t.Fatalf("insert event: %v", err)
	}
	return owner
}

// AddFollowUp создаёт follow-up и возвращает ссылку на владельца.
func AddFollowUp(t testing.TB, store *sqlite.Store, scheduledAt time.Time, status string, freq domain.Frequency) domain.OwnerRef {
	t.Helper()

	owner := domain.OwnerRef{Kind: domain.AnchorKindFollowUp, ID: uuid.New()}
	_, err := store.DB().Exec(
		`INSERT INTO follow_ups (id, title, scheduled_at, status, frequency) VALUES (?, ?, ?, ?, ?)`,
		owner.ID.String(), "Follow-up "+owner.ID.String()[:8], scheduledAt.UTC().UnixMilli(), status, string(freq),
	)
	if err != nil {
		t.Fatalf("insert follow-up: %v", err)
	}
	return owner
}

// SetEventStatus меняет статус события.
func SetEventStatus(t testing.TB, store *sqlite.Store, owner domain.OwnerRef, status string) {
	t.Helper()

	if _, err := store.DB().Exec(`UPDATE events SET status = ? WHERE id = ?`, status, owner.ID.String()); err != nil {
		t.Fatalf("update event status: %v", err)
	}
}

// SetEventStart переносит событие.
func SetEventStart(t testing.TB, store *sqlite.Store, owner domain.OwnerRef, startsAt time.Time) {
	t.Helper()

	if _, err := store.DB().Exec(`UPDATE events SET starts_at = ? WHERE id = ?`, startsAt.UTC().UnixMilli(), owner.ID.String()); err != nil {
		t.Fatalf("update event start: %v", err)
	}
}
