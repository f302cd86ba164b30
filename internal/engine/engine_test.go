package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Herald/internal/domain"
	"github.com/shaiso/Herald/internal/repo/sqlite"
	"github.com/shaiso/Herald/internal/repo/sqlite/sqlitetest"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// testClock — управляемое время для тестов.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	engine *Engine
	store  *sqlite.Store
	clock  *testClock
}

func newFixture(t *testing.T, kind domain.AnchorKind) *fixture {
	t.Helper()

	store := sqlitetest.Open(t)
	clock := &testClock{now: base}
	eng, err := New(Config{Store: store, Kind: kind, Clock: clock.Now})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return &fixture{engine: eng, store: store, clock: clock}
}

func reminder(offsetMinutes int) domain.Definition {
	return domain.Definition{
		Timing:   domain.Relative(offsetMinutes),
		Channels: []domain.Channel{domain.ChannelEmail},
		Payload:  domain.Payload{Message: "Starts soon", Timezone: "Europe/Moscow"},
		Actor:    "tester",
	}
}

func (f *fixture) create(t *testing.T, owner domain.OwnerRef, def domain.Definition) *domain.WorkItem {
	t.Helper()
	item, err := f.engine.Create(context.Background(), owner, def)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return item
}

func (f *fixture) claim(t *testing.T, max int) []domain.ClaimedWorkItem {
	t.Helper()
	items, err := f.engine.Claim(context.Background(), max)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	return items
}

func (f *fixture) get(t *testing.T, owner domain.OwnerRef, id uuid.UUID) *domain.WorkItem {
	t.Helper()
	item, err := f.engine.Get(context.Background(), owner, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return item
}

// --- Create ---

func TestCreate_Pending(t *testing.T) {
	f := newFixture(t, domain.AnchorKindEvent)
	owner := sqlitetest.AddEvent(t, f.store, base.Add(3*time.Hour), domain.AnchorStatusScheduled)

	def := reminder(60)
	def.Channels = []domain.Channel{"SMS", "email", "sms"}
	item := f.create(t, owner, def)

	got := f.get(t, owner, item.ID)
	if got.State != domain.LifecycleStatePending {
		t.Errorf("expected pending, got %s", got.State)
	}
	if got.AttemptCount != 0 || got.ClaimedAt != nil || got.AttemptedAt != nil {
		t.Errorf("fresh item must have no claim or attempt: %+v", got)
	}
	if len(got.Channels) != 2 || got.Channels[0] != domain.ChannelEmail || got.Channels[1] != domain.ChannelSMS {
		t.Errorf("expected normalized channels [email sms], got %v", got.Channels)
	}
	if got.CreatedBy != "tester" {
		t.Errorf("expected created_by tester, got %q", got.CreatedBy)
	}
	if !got.CreatedAt.Equal(base) {
		t.Errorf("expected created_at %s, got %s", base, got.CreatedAt)
	}
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t, domain.AnchorKindEvent)
	owner := sqlitetest.AddEvent(t, f.store, base.Add(3*time.Hour), domain.AnchorStatusScheduled)

	tests := []struct {
		name   string
		mutate func(*domain.Definition)
		want   error
	}{
		{"no channels", func(d *domain.Definition) { d.Channels = nil }, domain.ErrNoChannels},
		{"unknown channel", func(d *domain.Definition) { d.Channels = []domain.Channel{"pigeon"} }, domain.ErrUnknownChannel},
		{"message too long", func(d *domain.Definition) { d.Payload.Message = strings.Repeat("я", 501) }, domain.ErrMessageTooLong},
		{"missing timezone", func(d *domain.Definition) { d.Payload.Timezone = "  " }, domain.ErrMissingTimezone},
		{"zero offset", func(d *domain.Definition) { d.Timing = domain.Relative(0) }, domain.ErrInvalidOffset},
		{"missing absolute time", func(d *domain.Definition) { d.Timing = domain.TimingRule{Kind: domain.TimingAbsolute} }, domain.ErrMissingAbsoluteTime},
		{"unknown timing kind", func(d *domain.Definition) { d.Timing = domain.TimingRule{Kind: "cron"} }, domain.ErrUnknownTimingKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := reminder(60)
			tt.mutate(&def)

			_, err := f.engine.Create(context.Background(), owner, def)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if !domain.IsValidationError(err) {
				t.Errorf("expected ValidationError, got %T", err)
			}
		})
	}

	items, err := f.engine.ListByOwner(context.Background(), owner)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("invalid definitions must not be stored, got %d items", len(items))
	}
}

func TestCreate_MessageAtLimit(t *testing.T) {
	f := newFixture(t, domain.AnchorKindEvent)
	owner := sqlitetest.AddEvent(t, f.store, base.Add(3*time.Hour), domain.AnchorStatusScheduled)

	def := reminder(60)
	def.Payload.Message = strings.Repeat("я", domain.MaxMessageLength)
	f.create(t, owner, def)
}

func TestCreate_OwnerChecks(t *testing.T) {
	f := newFixture(t, domain.AnchorKindEvent)

	_, err := f.engine.Create(context.Background(), domain.OwnerRef{Kind: domain.AnchorKindEvent}, reminder(60))
	if !errors.Is(err, domain.ErrInvalidOwner) {
		t.Errorf("expected ErrInvalidOwner, got %v", err)
	}

	followUp := domain.OwnerRef{Kind: domain.AnchorKindFollowUp, ID: uuid.New()}
	_, err = f.engine.Create(context.Background(), followUp, reminder(60))
	if !errors.Is(err, ErrKindMismatch) {
		t.Errorf("expected ErrKindMismatch, got %v", err)
	}

	missing := domain.OwnerRef{Kind: domain.AnchorKindEvent, ID: uuid.New()}
	_, err = f.engine.Create(context.Background(), missing, reminder(60))
	if !errors.Is(err, ErrAnchorNotFound) {
		t.Errorf("expected ErrAnchorNotFound, got %v", err)
	}
}

// --- Claim ---

func TestClaim_InvalidBatchSize(t *testing.T) {
	f := newFixture(t, domain.AnchorKindEvent)

	for _, max := range []int{0, -1} {
		if _, err := f.engine.Claim(context.Background(), max); !errors.Is(err, ErrInvalidBatchSize) {
			t.Errorf("max=%d: expected ErrInvalidBatchSize, got %v", max, err)
		}
	}
}

func TestClaim_DueOrderAndLimit(t *testing.T) {
	f := newFixture(t, domain.AnchorKindEvent)
	owner := sqlitetest.AddEvent(t, f.store, base.Add(3*time.Hour), domain.AnchorStatusScheduled)

	// due: base+2h, base+1h, base, base+2h30m
	at60 := f.create(t, owner, reminder(60))
	at120 := f.create(t, owner, reminder(120))
	at180 := f.create(t, owner, reminder(180))
	f.create(t, owner, reminder(30))

	f.clock.Advance(2 * time.Hour)

	first := f.claim(t, 2)
	if len(first) != 2 {
		t.Fatalf("expected 2 items, got %d", len(first))
	}
	if first[0].ID != at180.ID || first[1].ID != at120.ID {
		t.Errorf("expected ascending due order [180 120], got [%s %s]", first[0].ID, first[1].ID)
	}
	if !first[0].DueAt.Equal(base) {
		t.Errorf("expected due %s, got %s", base, first[0].DueAt)
	}
	for _, item := range first {
		if item.State != domain.LifecycleStateClaimed {
			t.Errorf("expected claimed, got %s", item.State)
		}
		if item.ClaimedAt == nil || !item.ClaimedAt.Equal(f.clock.Now()) {
			t.Errorf("expected claimed_at %s, got %v", f.clock.Now(), item.ClaimedAt)
		}
		if item.AttemptCount != 1 {
			t.Errorf("expected attempt_count 1, got %d", item.AttemptCount)
		}
		if item.Anchor.Owner != owner || item.Anchor.Status != domain.AnchorStatusScheduled {
			t.Errorf("unexpected anchor context: %+v", item.Anchor)
		}
	}

	// due == now включительно
	second := f.claim(t, 10)
	if len(second) != 1 || second[0].ID != at60.ID {
		t.Fatalf("expected only the item due exactly now, got %d items", len(second))
	}

	if rest := f.claim(t, 10); len(rest) != 0 {
		t.Errorf("expected no more due items, got %d", len(rest))
	}
}

func TestClaim_IneligibleEvent(t *testing.T) {
	tests := []struct {
		name     string
		startsAt time.Duration
		status   string
	}{
		{"cancelled", 3 * time.Hour, domain.AnchorStatusCancelled},
		{"completed", 3 * time.Hour, domain.AnchorStatusCompleted},
		{"already started", -time.Minute, domain.AnchorStatusScheduled},
		{"starts exactly now", 0, domain.AnchorStatusScheduled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, domain.AnchorKindEvent)
			owner := sqlitetest.AddEvent(t, f.store, base.Add(3*time.Hour), domain.AnchorStatusScheduled)
			item := f.create(t, owner, reminder(180))

			sqlitetest.SetEventStatus(t, f.store, owner, tt.status)
			sqlitetest.SetEventStart(t, f.store, owner, base.Add(tt.startsAt))

			if got := f.claim(t, 10); len(got) != 0 {
				t.Fatalf("expected no claim, got %d", len(got))
			}
			if got := f.get(t, owner, item.ID); got.State != domain.LifecycleStatePending {
				t.Errorf("ineligible item must stay pending, got %s", got.State)
			}
		})
	}
}

func TestClaim_Reschedule(t *testing.T) {
	f := newFixture(t, domain.AnchorKindEvent)
	owner := sqlitetest.AddEvent(t, f.store, base.Add(3*time.Hour), domain.AnchorStatusScheduled)
	item := f.create(t, owner, reminder(60))

	if got := f.claim(t, 10); len(got) != 0 {
		t.Fatalf("not due yet, got %d", len(got))
	}

	// Событие перенесли ближе — due time пересчитывается без изменения item
	sqlitetest.SetEventStart(t, f.store, owner, base.Add(30*time.Minute))

	got := f.claim(t, 10)
	if len(got) != 1 || got[0].ID != item.ID {
		t.Fatalf("expected rescheduled item to be due, got %d", len(got))
	}
	if want := base.Add(-30 * time.Minute); !got[0].DueAt.Equal(want) {
		t.Errorf("expected due %s, got %s", want, got[0].DueAt)
	}
}

func TestClaim_FollowUp(t *testing.T) {
	f := newFixture(t, domain.AnchorKindFollowUp)
	scheduled := sqlitetest.AddFollowUp(t, f.store, base.Add(24*time.Hour), domain.AnchorStatusScheduled, domain.FrequencyWeekly)
	completed := sqlitetest.AddFollowUp(t, f.store, base.Add(24*time.Hour), domain.AnchorStatusCompleted, domain.FrequencyOnce)

	def := reminder(0)
	def.Timing = domain.Absolute(base.Add(-time.Minute))
	item := f.create(t, scheduled, def)
	f.create(t, completed, def)

	// Relative по follow-up тоже работает: due = scheduled_at − offset
	later := f.create(t, scheduled, reminder(24*60-5))

	got := f.claim(t, 10)
	if len(got) != 1 || got[0].ID != item.ID {
		t.Fatalf("expected only the scheduled follow-up item, got %d", len(got))
	}
	if got[0].Anchor.Frequency != domain.FrequencyWeekly {
		t.Errorf("expected weekly frequency in anchor context, got %q", got[0].Anchor.Frequency)
	}

	f.clock.Advance(5 * time.Minute)
	got = f.claim(t, 10)
	if len(got) != 1 || got[0].ID != later.ID {
		t.Fatalf("expected relative follow-up item, got %d", len(got))
	}
}

func TestClaim_KindsAreIsolated(t *testing.T) {
	f := newFixture(t, domain.AnchorKindFollowUp)

	events, err := New(Config{Store: f.store, Kind: domain.AnchorKindEvent, Clock: f.clock.Now})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	owner := sqlitetest.AddEvent(t, f.store, base.Add(time.Hour), domain.AnchorStatusScheduled)
	if _, err := events.Create(context.Background(), owner, reminder(60)); err != nil {
		t.Fatalf("create: %v", err)
	}

	if got := f.claim(t, 10); len(got) != 0 {
		t.Errorf("follow-up engine must not claim event items, got %d", len(got))
	}
	got, err := events.Claim(context.Background(), 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected event item, got %d", len(got))
	}
}

func TestClaim_StaleReclaim(t *testing.T) {
	f := newFixture(t, domain.AnchorKindEvent)
	owner := sqlitetest.AddEvent(t, f.store, base.Add(3*time.Hour), domain.AnchorStatusScheduled)
	item := f.create(t, owner, reminder(180))

	claimedAt := f.clock.Now()
	if got := f.claim(t, 10); len(got) != 1 {
		t.Fatalf("expected first claim, got %d", len(got))
	}

	// Ровно до границы — ещё не stale
	f.clock.Advance(DefaultStaleTimeout - time.Second)
	if got := f.claim(t, 10); len(got) != 0 {
		t.Fatalf("claim younger than stale timeout must not be reclaimed, got %d", len(got))
	}

	f.clock.Advance(2 * time.Second)
	got := f.claim(t, 10)
	if len(got) != 1 || got[0].ID != item.ID {
		t.Fatalf("expected stale item to be reclaimed, got %d", len(got))
	}
	if got[0].AttemptCount != 2 || !got[0].Reclaimed() {
		t.Errorf("expected attempt_count 2, got %d", got[0].AttemptCount)
	}
	if !got[0].ClaimedAt.After(claimedAt) {
		t.Errorf("expected claimed_at to move forward, got %v", got[0].ClaimedAt)
	}
}

func TestClaim_ConfigurableStaleTimeout(t *testing.T) {
	store := sqlitetest.Open(t)
	clock := &testClock{now: base}
	eng, err := New(Config{Store: store, Kind: domain.AnchorKindEvent, Clock: clock.Now, StaleTimeout: time.Minute})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	owner := sqlitetest.AddEvent(t, store, base.Add(time.Hour), domain.AnchorStatusScheduled)
	if _, err := eng.Create(context.Background(), owner, reminder(60)); err != nil {
		t.Fatalf("create: %v", err)
	}

	if got, _ := eng.Claim(context.Background(), 1); len(got) != 1 {
		t.Fatalf("expected claim, got %d", len(got))
	}
	clock.Advance(61 * time.Second)
	if got, _ := eng.Claim(context.Background(), 1); len(got) != 1 {
		t.Fatalf("expected reclaim after custom timeout, got %d", len(got))
	}
}

func TestClaim_ConcurrentDisjoint(t *testing.T) {
	f := newFixture(t, domain.AnchorKindEvent)
	owner := sqlitetest.AddEvent(t, f.store, base.Add(3*time.Hour), domain.AnchorStatusScheduled)

	const total = 40
	for i := 0; i < total; i++ {
		f.create(t, owner, reminder(180))
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[uuid.UUID]int)
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				items, err := f.engine.Claim(context.Background(), 3)
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				if len(items) == 0 {
					return
				}
				mu.Lock()
				for _, item := range items {
					seen[item.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("expected %d distinct items, got %d", total, len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("item %s claimed %d times", id, n)
		}
	}
}

// --- RecordAttempt ---

func TestRecordAttempt_Terminal(t *testing.T) {
	f := newFixture(t, domain.AnchorKindEvent)
	owner := sqlitetest.AddEvent(t, f.store, base.Add(3*time.Hour), domain.AnchorStatusScheduled)
	item := f.create(t, owner, reminder(180))

	f.claim(t, 10)
	summary := &domain.AttemptSummary{Channels: []domain.ChannelResult{
		{Channel: domain.ChannelEmail, Status: domain.AttemptStatusSent, MessageID: "m-1"},
	}}
	f.clock.Advance(time.Second)
	if err := f.engine.RecordAttempt(context.Background(), item.ID, domain.AttemptStatusSent, summary, nil); err != nil {
		t.Fatalf("record attempt: %v", err)
	}

	got := f.get(t, owner, item.ID)
	if got.State != domain.LifecycleStateAttempted || got.AttemptStatus != domain.AttemptStatusSent {
		t.Errorf("expected attempted/sent, got %s/%s", got.State, got.AttemptStatus)
	}
	if got.AttemptedAt == nil || !got.AttemptedAt.Equal(f.clock.Now()) {
		t.Errorf("expected attempted_at %s, got %v", f.clock.Now(), got.AttemptedAt)
	}
	if got.ClaimedAt != nil {
		t.Errorf("claimed_at must be cleared, got %v", got.ClaimedAt)
	}
	if got.AttemptSummary == nil || len(got.AttemptSummary.Channels) != 1 || got.AttemptSummary.Channels[0].MessageID != "m-1" {
		t.Errorf("unexpected summary: %+v", got.AttemptSummary)
	}

	// Attempted item больше никогда не claim'ится
	f.clock.Advance(2 * DefaultStaleTimeout)
	if again := f.claim(t, 10); len(again) != 0 {
		t.Fatalf("attempted item must never be claimed again, got %d", len(again))
	}

	msg := "changed"
	_, err := f.engine.Update(context.Background(), owner, item.ID, domain.Patch{Message: &msg})
	if !domain.IsTerminalStateError(err) {
		t.Errorf("update after attempt: expected TerminalStateError, got %v", err)
	}
	if err := f.engine.Cancel(context.Background(), owner, item.ID, "tester"); !domain.IsTerminalStateError(err) {
		t.Errorf("cancel after attempt: expected TerminalStateError, got %v", err)
	}
}

func TestRecordAttempt_FailedKeepsError(t *testing.T) {
	f := newFixture(t, domain.AnchorKindEvent)
	owner := sqlitetest.AddEvent(t, f.store, base.Add(3*time.Hour), domain.AnchorStatusScheduled)
	item := f.create(t, owner, reminder(180))
	f.claim(t, 10)

	if err := f.engine.RecordAttempt(context.Background(), item.ID, domain.AttemptStatusFailed, nil, errors.New("smtp timeout")); err != nil {
		t.Fatalf("record attempt: %v", err)
	}

	got := f.get(t, owner, item.ID)
	if got.LastError != "smtp timeout" {
		t.Errorf("expected last_error, got %q", got.LastError)
	}
	if got.AttemptSummary != nil {
		t.Errorf("expected no summary, got %+v", got.AttemptSummary)
	}
}

func TestRecordAttempt_AfterCancel(t *testing.T) {
	f := newFixture(t, domain.AnchorKindEvent)
	owner := sqlitetest.AddEvent(t, f.store, base.Add(3*time.Hour), domain.AnchorStatusScheduled)
	item := f.create(t, owner, reminder(180))

	f.claim(t, 10)

	// Отмена во время dispatch: запись результата всё равно проходит
	if err := f.engine.Cancel(context.Background(), owner, item.ID, "tester"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := f.engine.RecordAttempt(context.Background(), item.ID, domain.AttemptStatusSent, nil, nil); err != nil {
		t.Fatalf("record attempt: %v", err)
	}

	got := f.get(t, owner, item.ID)
	if got.State != domain.LifecycleStateAttempted || got.AttemptStatus != domain.AttemptStatusSent {
		t.Errorf("expected attempted/sent, got %s/%s", got.State, got.AttemptStatus)
	}
}

func TestRecordAttempt_Errors(t *testing.T) {
	f := newFixture(t, domain.AnchorKindEvent)

	err := f.engine.RecordAttempt(context.Background(), uuid.New(), "delivered", nil, nil)
	if !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}

	err = f.engine.RecordAttempt(context.Background(), uuid.New(), domain.AttemptStatusSent, nil, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// --- Update / Cancel ---

func TestUpdate_ChangesTiming(t *testing.T) {
	f := newFixture(t, domain.AnchorKindEvent)
	owner := sqlitetest.AddEvent(t, f.store, base.Add(3*time.Hour), domain.AnchorStatusScheduled)
	item := f.create(t, owner, reminder(60))

	at := base.Add(-time.Minute)
	timing := domain.Absolute(at)
	msg := "Updated"
	updated, err := f.engine.Update(context.Background(), owner, item.ID, domain.Patch{Timing: &timing, Message: &msg, Actor: "editor"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Timing.Kind != domain.TimingAbsolute || updated.Timing.OffsetMinutes != 0 {
		t.Errorf("expected normalized absolute timing, got %+v", updated.Timing)
	}

	got := f.get(t, owner, item.ID)
	if got.Payload.Message != "Updated" || got.ModifiedBy != "editor" || got.CreatedBy != "tester" {
		t.Errorf("unexpected stored item: %+v", got)
	}
	if got.Timing.At == nil || !got.Timing.At.Equal(at) {
		t.Errorf("expected absolute at %s, got %v", at, got.Timing.At)
	}

	if claimed := f.claim(t, 10); len(claimed) != 1 {
		t.Errorf("updated timing must make item due, got %d", len(claimed))
	}
}

func TestUpdate_ValidationAndScope(t *testing.T) {
	f := newFixture(t, domain.AnchorKindEvent)
	owner := sqlitetest.AddEvent(t, f.store, base.Add(3*time.Hour), domain.AnchorStatusScheduled)
	other := sqlitetest.AddEvent(t, f.store, base.Add(3*time.Hour), domain.AnchorStatusScheduled)
	item := f.create(t, owner, reminder(60))

	_, err := f.engine.Update(context.Background(), owner, item.ID, domain.Patch{Channels: []domain.Channel{}})
	if !errors.Is(err, domain.ErrNoChannels) {
		t.Errorf("expected ErrNoChannels, got %v", err)
	}

	msg := "hijack"
	_, err = f.engine.Update(context.Background(), other, item.ID, domain.Patch{Message: &msg})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for foreign owner, got %v", err)
	}
	if err := f.engine.Cancel(context.Background(), other, item.ID, "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for foreign cancel, got %v", err)
	}
}

func TestCancel_IdempotentAndNotRevived(t *testing.T) {
	f := newFixture(t, domain.AnchorKindEvent)
	owner := sqlitetest.AddEvent(t, f.store, base.Add(3*time.Hour), domain.AnchorStatusScheduled)
	item := f.create(t, owner, reminder(180))

	for i := 0; i < 2; i++ {
		if err := f.engine.Cancel(context.Background(), owner, item.ID, "tester"); err != nil {
			t.Fatalf("cancel #%d: %v", i+1, err)
		}
	}

	msg := "still cancelled"
	if _, err := f.engine.Update(context.Background(), owner, item.ID, domain.Patch{Message: &msg}); err != nil {
		t.Fatalf("update cancelled item: %v", err)
	}

	got := f.get(t, owner, item.ID)
	if got.State != domain.LifecycleStateCancelled || got.AttemptStatus != domain.AttemptStatusCancelled {
		t.Errorf("expected cancelled, got %s/%s", got.State, got.AttemptStatus)
	}
	if got.AttemptedAt != nil {
		t.Errorf("cancel must not set attempted_at")
	}
	if claimed := f.claim(t, 10); len(claimed) != 0 {
		t.Errorf("cancelled item must not be claimed, got %d", len(claimed))
	}
}

// --- SyncPending ---

func TestSyncPending(t *testing.T) {
	f := newFixture(t, domain.AnchorKindEvent)
	owner := sqlitetest.AddEvent(t, f.store, base.Add(3*time.Hour), domain.AnchorStatusScheduled)

	attempted := f.create(t, owner, reminder(180))
	f.claim(t, 10)
	if err := f.engine.RecordAttempt(context.Background(), attempted.ID, domain.AttemptStatusSent, nil, nil); err != nil {
		t.Fatalf("record attempt: %v", err)
	}

	inFlight := f.create(t, owner, reminder(170))
	f.clock.Advance(10 * time.Minute)
	if got := f.claim(t, 10); len(got) != 1 {
		t.Fatalf("expected in-flight claim, got %d", len(got))
	}
	pending := f.create(t, owner, reminder(30))

	res, err := f.engine.SyncPending(context.Background(), owner, []domain.Definition{reminder(60), reminder(15)}, "sync")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(res.Cancelled) != 2 || res.InFlight != 1 || len(res.Created) != 2 {
		t.Errorf("unexpected sync result: cancelled=%d in_flight=%d created=%d", len(res.Cancelled), res.InFlight, len(res.Created))
	}

	if got := f.get(t, owner, attempted.ID); got.State != domain.LifecycleStateAttempted {
		t.Errorf("attempted item must be untouched, got %s", got.State)
	}
	for _, id := range []uuid.UUID{inFlight.ID, pending.ID} {
		got := f.get(t, owner, id)
		if got.State != domain.LifecycleStateCancelled || got.ClaimedAt != nil {
			t.Errorf("item %s: expected cancelled without claim, got %s", id, got.State)
		}
	}

	items, err := f.engine.ListByOwner(context.Background(), owner)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var pendingCount int
	for _, item := range items {
		if item.State == domain.LifecycleStatePending {
			pendingCount++
		}
	}
	if len(items) != 5 || pendingCount != 2 {
		t.Errorf("expected 5 items with 2 pending, got %d/%d", len(items), pendingCount)
	}
}

func TestSyncPending_InvalidLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, domain.AnchorKindEvent)
	owner := sqlitetest.AddEvent(t, f.store, base.Add(3*time.Hour), domain.AnchorStatusScheduled)
	item := f.create(t, owner, reminder(60))

	bad := reminder(30)
	bad.Channels = nil
	_, err := f.engine.SyncPending(context.Background(), owner, []domain.Definition{reminder(15), bad}, "sync")
	if !errors.Is(err, domain.ErrNoChannels) {
		t.Fatalf("expected ErrNoChannels, got %v", err)
	}

	if got := f.get(t, owner, item.ID); got.State != domain.LifecycleStatePending {
		t.Errorf("failed sync must not cancel, got %s", got.State)
	}
	items, _ := f.engine.ListByOwner(context.Background(), owner)
	if len(items) != 1 {
		t.Errorf("failed sync must not insert, got %d items", len(items))
	}
}

func TestSyncPending_EmptyCancelsAll(t *testing.T) {
	f := newFixture(t, domain.AnchorKindEvent)
	owner := sqlitetest.AddEvent(t, f.store, base.Add(3*time.Hour), domain.AnchorStatusScheduled)
	f.create(t, owner, reminder(60))
	f.create(t, owner, reminder(30))

	res, err := f.engine.SyncPending(context.Background(), owner, nil, "sync")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(res.Cancelled) != 2 || len(res.Created) != 0 {
		t.Errorf("expected 2 cancelled and none created, got %d/%d", len(res.Cancelled), len(res.Created))
	}
}

// --- End to end ---

func TestEndToEnd_EventReminder(t *testing.T) {
	f := newFixture(t, domain.AnchorKindEvent)

	// Событие через 61 минуту, напоминание за 60: due через минуту
	owner := sqlitetest.AddEvent(t, f.store, base.Add(61*time.Minute), domain.AnchorStatusScheduled)
	item := f.create(t, owner, reminder(60))

	if got := f.claim(t, 10); len(got) != 0 {
		t.Fatalf("not due yet, got %d", len(got))
	}

	f.clock.Advance(time.Minute)
	got := f.claim(t, 10)
	if len(got) != 1 || got[0].ID != item.ID {
		t.Fatalf("expected the reminder, got %d", len(got))
	}

	if err := f.engine.RecordAttempt(context.Background(), item.ID, domain.AttemptStatusSent, nil, nil); err != nil {
		t.Fatalf("record attempt: %v", err)
	}
	if again := f.claim(t, 10); len(again) != 0 {
		t.Errorf("expected empty claim after attempt, got %d", len(again))
	}
}

// --- Notifier ---

type recordingNotifier struct {
	mu     sync.Mutex
	owners []domain.OwnerRef
	err    error
}

func (n *recordingNotifier) NotifyWorkItemsChanged(_ context.Context, owner domain.OwnerRef) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.owners = append(n.owners, owner)
	return n.err
}

func TestNotifier(t *testing.T) {
	store := sqlitetest.Open(t)
	notifier := &recordingNotifier{err: errors.New("broker down")}
	eng, err := New(Config{Store: store, Kind: domain.AnchorKindEvent, Clock: func() time.Time { return base }, Notifier: notifier})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	owner := sqlitetest.AddEvent(t, store, base.Add(3*time.Hour), domain.AnchorStatusScheduled)

	// Ошибка уведомления не ломает операцию
	item, err := eng.Create(context.Background(), owner, reminder(60))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := eng.Cancel(context.Background(), owner, item.ID, "tester"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if len(notifier.owners) != 2 || notifier.owners[0] != owner {
		t.Errorf("expected 2 notifications for owner, got %v", notifier.owners)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{Kind: domain.AnchorKindEvent}); err == nil {
		t.Error("expected error without store")
	}
	if _, err := New(Config{Store: sqlitetest.Open(t), Kind: "task"}); err == nil {
		t.Error("expected error for unknown kind")
	}
}
