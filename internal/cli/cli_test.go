package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/Herald/internal/domain"
	"github.com/shaiso/Herald/internal/repo"
	"github.com/shaiso/Herald/internal/repo/sqlite"
	"github.com/shaiso/Herald/internal/repo/sqlite/sqlitetest"
)

type harness struct {
	store  *sqlite.Store
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	json   bool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{store: sqlitetest.Open(t), stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}}
}

func (h *harness) run(t *testing.T, cmd *cobra.Command, args ...string) error {
	t.Helper()
	h.stdout.Reset()
	h.stderr.Reset()
	cmd.SetArgs(args)
	cmd.SetOut(h.stderr)
	cmd.SetErr(h.stderr)
	return cmd.ExecuteContext(context.Background())
}

func (h *harness) items() *cobra.Command {
	storeFn := func(context.Context) (repo.Store, error) { return h.store, nil }
	outputFn := func() *Output { return NewOutput(h.json, h.stdout, h.stderr) }
	return NewItemsCmd(storeFn, outputFn)
}

func (h *harness) insert(t *testing.T, owner domain.OwnerRef, offset int) *domain.WorkItem {
	t.Helper()
	def, err := domain.Definition{
		Timing:   domain.Relative(offset),
		Channels: []domain.Channel{domain.ChannelEmail, domain.ChannelSMS},
		Payload:  domain.Payload{Message: "hello", Timezone: "UTC"},
		Actor:    "tester",
	}.Normalize()
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	item := domain.NewWorkItem(owner, def, time.Now())
	if err := h.store.Insert(context.Background(), item); err != nil {
		t.Fatalf("insert: %v", err)
	}
	return item
}

func TestItemsList(t *testing.T) {
	h := newHarness(t)
	owner := sqlitetest.AddEvent(t, h.store, time.Now().Add(time.Hour), domain.AnchorStatusScheduled)
	item := h.insert(t, owner, 30)

	err := h.run(t, h.items(), "list", "--owner-kind", "event", "--owner-id", owner.ID.String())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	out := h.stdout.String()
	for _, want := range []string{"ID", "TIMING", item.ID.String(), "30m before", "email,sms", "pending"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestItemsList_InvalidOwner(t *testing.T) {
	h := newHarness(t)

	if err := h.run(t, h.items(), "list", "--owner-kind", "meeting", "--owner-id", "x"); err == nil {
		t.Error("expected error for unknown owner kind")
	}
	if err := h.run(t, h.items(), "list", "--owner-kind", "event", "--owner-id", "x"); err == nil {
		t.Error("expected error for malformed owner id")
	}
}

func TestItemsShow_JSON(t *testing.T) {
	h := newHarness(t)
	h.json = true
	owner := sqlitetest.AddEvent(t, h.store, time.Now().Add(time.Hour), domain.AnchorStatusScheduled)
	item := h.insert(t, owner, 30)

	if err := h.run(t, h.items(), "show", item.ID.String()); err != nil {
		t.Fatalf("show: %v", err)
	}

	var got domain.WorkItem
	if err := json.Unmarshal(h.stdout.Bytes(), &got); err != nil {
		t.Fatalf("decode output: %v\n%s", err, h.stdout.String())
	}
	if got.ID != item.ID || got.Owner != owner {
		t.Errorf("unexpected item: %+v", got)
	}
}

func TestItemsShow_NotFound(t *testing.T) {
	h := newHarness(t)

	err := h.run(t, h.items(), "show", "7c1d6e9a-3b7f-4a59-9a43-0f9d1f6b6a11")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected not found error, got %v", err)
	}
}

func TestItemsCancel(t *testing.T) {
	h := newHarness(t)
	owner := sqlitetest.AddEvent(t, h.store, time.Now().Add(time.Hour), domain.AnchorStatusScheduled)
	item := h.insert(t, owner, 30)

	if err := h.run(t, h.items(), "cancel", item.ID.String(), "--actor", "ops"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !strings.Contains(h.stderr.String(), "Work item cancelled") {
		t.Errorf("expected success message, got %q", h.stderr.String())
	}

	got, err := h.store.GetByID(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != domain.LifecycleStateCancelled || got.ModifiedBy != "ops" {
		t.Errorf("expected cancelled by ops, got %s by %q", got.State, got.ModifiedBy)
	}
}

func TestItemsCancel_Attempted(t *testing.T) {
	h := newHarness(t)
	owner := sqlitetest.AddEvent(t, h.store, time.Now().Add(time.Hour), domain.AnchorStatusScheduled)
	item := h.insert(t, owner, 30)

	err := h.store.RecordAttempt(context.Background(), repo.AttemptRecord{
		ID:          item.ID,
		Status:      domain.AttemptStatusSent,
		AttemptedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	err = h.run(t, h.items(), "cancel", item.ID.String())
	if err == nil || !strings.Contains(err.Error(), "already attempted") {
		t.Errorf("expected already attempted error, got %v", err)
	}
}

func TestItemsStats(t *testing.T) {
	h := newHarness(t)
	owner := sqlitetest.AddEvent(t, h.store, time.Now().Add(time.Hour), domain.AnchorStatusScheduled)
	h.insert(t, owner, 30)
	h.insert(t, owner, 60)

	if err := h.run(t, h.items(), "stats", "--kind", "event"); err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !strings.Contains(h.stdout.String(), "event  pending  2") {
		t.Errorf("unexpected stats output:\n%s", h.stdout.String())
	}

	if err := h.run(t, h.items(), "stats", "--kind", "meeting"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestMigrate(t *testing.T) {
	h := newHarness(t)
	outputFn := func() *Output { return NewOutput(false, h.stdout, h.stderr) }

	called := false
	cmd := NewMigrateCmd(func(context.Context) error { called = true; return nil }, outputFn)
	if err := h.run(t, cmd); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !called || !strings.Contains(h.stderr.String(), "Migrations applied") {
		t.Errorf("expected migration to run, stderr=%q", h.stderr.String())
	}

	fail := NewMigrateCmd(func(context.Context) error { return errors.New("boom") }, outputFn)
	if err := h.run(t, fail); err == nil {
		t.Error("expected migration error")
	}
}

func TestOutput_Table(t *testing.T) {
	var buf bytes.Buffer
	NewOutput(false, &buf, &buf).Table([]string{"ID", "STATE"}, [][]string{{"1", "pending"}})

	want := "ID  STATE\n--  -----\n1   pending\n"
	if buf.String() != want {
		t.Errorf("expected:\n%q\ngot:\n%q", want, buf.String())
	}
}
