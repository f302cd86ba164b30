package reminders

import (
	"testing"
	"time"

	"github.com/shaiso/Herald/internal/domain"
	"github.com/shaiso/Herald/internal/engine"
	"github.com/shaiso/Herald/internal/repo/sqlite/sqlitetest"
)

func claimed(subject, message, tz string) *domain.ClaimedWorkItem {
	return &domain.ClaimedWorkItem{
		WorkItem: domain.WorkItem{
			Payload: domain.Payload{Subject: subject, Message: message, Timezone: tz},
		},
		Anchor: domain.Anchor{
			Title: "Team sync",
			Time:  time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		},
	}
}

func TestCompose(t *testing.T) {
	tests := []struct {
		name        string
		item        *domain.ClaimedWorkItem
		wantSubject string
		wantBody    string
	}{
		{
			name:        "explicit subject and message",
			item:        claimed("Heads up", "Bring slides", "UTC"),
			wantSubject: "Heads up",
			wantBody:    "Bring slides",
		},
		{
			name:        "defaults in recipient timezone",
			item:        claimed("", "", "Europe/Moscow"),
			wantSubject: "Reminder: Team sync",
			wantBody:    "Team sync starts at Mon, 02 Mar 2026 12:00 MSK",
		},
		{
			name:        "unknown timezone falls back to UTC",
			item:        claimed("", "", "Mars/Olympus"),
			wantSubject: "Reminder: Team sync",
			wantBody:    "Team sync starts at Mon, 02 Mar 2026 09:00 UTC",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject, body := Composer{}.Compose(tt.item)
			if subject != tt.wantSubject {
				t.Errorf("subject: expected %q, got %q", tt.wantSubject, subject)
			}
			if body != tt.wantBody {
				t.Errorf("body: expected %q, got %q", tt.wantBody, body)
			}
		})
	}
}

func TestNewEngine_ForcesKind(t *testing.T) {
	eng, err := NewEngine(engine.Config{Store: sqlitetest.Open(t), Kind: domain.AnchorKindFollowUp})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if eng.Kind() != domain.AnchorKindEvent {
		t.Errorf("expected event kind, got %s", eng.Kind())
	}
}
