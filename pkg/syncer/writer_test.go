package syncer

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/danadube/farmtrackr-calendar/pkg/calendar"
)

func newWriter(e *testEnv) *Writer {
	return NewWriter(e.store, e.provider, slog.Default())
}

func draftEvent(calID string) *calendar.Event {
	start := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	return &calendar.Event{
		CalendarID: calID,
		Title:      "Property showing",
		Start:      start,
		End:        start.Add(time.Hour),
	}
}

func TestCreateEventLocalOnly(t *testing.T) {
	e := newTestEnv(t)
	if err := e.store.UpsertCalendar(&calendar.Calendar{ID: "farm", DisplayName: "Farm", Origin: calendar.OriginNative}); err != nil {
		t.Fatal(err)
	}

	result, err := newWriter(e).CreateEvent(context.Background(), draftEvent("farm"), "", false)
	if err != nil {
		t.Fatalf("CreateEvent failed: %v", err)
	}
	if result.Event.ID == "" {
		t.Error("event should get a generated id")
	}
	if result.Pushed || result.PushErr != nil {
		t.Errorf("no push was requested, got %+v", result)
	}

	stored, err := e.store.GetEvent(result.Event.ID)
	if err != nil {
		t.Fatalf("event not persisted: %v", err)
	}
	if stored.StartLabel != "2:00 PM" {
		t.Errorf("StartLabel = %q", stored.StartLabel)
	}
}

func TestCreateAllDayEventHasNoTimeLabels(t *testing.T) {
	e := newTestEnv(t)
	if err := e.store.UpsertCalendar(&calendar.Calendar{ID: "farm", DisplayName: "Farm", Origin: calendar.OriginNative}); err != nil {
		t.Fatal(err)
	}

	ev := draftEvent("farm")
	ev.AllDay = true
	ev.Start = time.Date(2025, 7, 4, 0, 0, 0, 0, time.UTC)
	ev.End = ev.Start.AddDate(0, 0, 1)

	result, err := newWriter(e).CreateEvent(context.Background(), ev, "", false)
	if err != nil {
		t.Fatalf("CreateEvent failed: %v", err)
	}

	stored, err := e.store.GetEvent(result.Event.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.StartLabel != "" || stored.EndLabel != "" {
		t.Errorf("all-day event should carry no time labels, got %q/%q", stored.StartLabel, stored.EndLabel)
	}
}

func TestCreateEventPushLinksRemoteID(t *testing.T) {
	e := newTestEnv(t)
	e.addMirror(t, "cal-1", "rc-1")

	result, err := newWriter(e).CreateEvent(context.Background(), draftEvent("cal-1"), "", true)
	if err != nil {
		t.Fatalf("CreateEvent failed: %v", err)
	}
	if !result.Pushed || result.PushErr != nil {
		t.Fatalf("push should succeed, got %+v", result)
	}
	if result.Event.RemoteID == "" {
		t.Error("remote id not linked back")
	}

	stored, err := e.store.FindEventByIdentity("cal-1", result.Event.RemoteID)
	if err != nil {
		t.Fatalf("linked event not findable by identity: %v", err)
	}
	if stored.ID != result.Event.ID {
		t.Errorf("identity lookup returned %q, want %q", stored.ID, result.Event.ID)
	}
}

func TestCreateEventPushFailureKeepsLocal(t *testing.T) {
	e := newTestEnv(t)
	e.addMirror(t, "cal-1", "rc-1")
	e.provider.createErr = calendar.ErrUnauthorized

	result, err := newWriter(e).CreateEvent(context.Background(), draftEvent("cal-1"), "", true)
	if err != nil {
		t.Fatalf("a failed push must not fail the write: %v", err)
	}
	if result.Pushed {
		t.Error("push reported success")
	}
	if !errors.Is(result.PushErr, calendar.ErrUnauthorized) {
		t.Errorf("PushErr = %v, want ErrUnauthorized", result.PushErr)
	}

	stored, err := e.store.GetEvent(result.Event.ID)
	if err != nil {
		t.Fatalf("local record lost: %v", err)
	}
	if stored.RemoteID != "" {
		t.Errorf("unpushed event should stay unlinked, got %q", stored.RemoteID)
	}
}

func TestCreateEventValidation(t *testing.T) {
	e := newTestEnv(t)
	if err := e.store.UpsertCalendar(&calendar.Calendar{ID: "farm", DisplayName: "Farm", Origin: calendar.OriginNative}); err != nil {
		t.Fatal(err)
	}

	ev := draftEvent("farm")
	ev.Title = ""
	_, err := newWriter(e).CreateEvent(context.Background(), ev, "", false)
	var verr *calendar.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	ev = draftEvent("farm")
	ev.End = ev.Start
	if _, err := newWriter(e).CreateEvent(context.Background(), ev, "", false); err == nil {
		t.Error("zero-duration event should be rejected")
	}

	if _, err := newWriter(e).CreateEvent(context.Background(), draftEvent("ghost"), "", false); !errors.Is(err, calendar.ErrNotFound) {
		t.Errorf("unknown calendar should be ErrNotFound, got %v", err)
	}
}

func TestCreateEventForbiddenForViewer(t *testing.T) {
	e := newTestEnv(t)
	if err := e.store.UpsertCalendar(&calendar.Calendar{ID: "farm", DisplayName: "Farm", Origin: calendar.OriginNative}); err != nil {
		t.Fatal(err)
	}
	if err := e.store.GrantShare("farm", "bob", calendar.RoleViewer); err != nil {
		t.Fatal(err)
	}

	_, err := newWriter(e).CreateEvent(context.Background(), draftEvent("farm"), "bob", false)
	if !errors.Is(err, calendar.ErrForbidden) {
		t.Fatalf("viewer write should be ErrForbidden, got %v", err)
	}
}

func TestUpdateEventPreservesRemoteLink(t *testing.T) {
	e := newTestEnv(t)
	e.addMirror(t, "cal-1", "rc-1")

	w := newWriter(e)
	created, err := w.CreateEvent(context.Background(), draftEvent("cal-1"), "", true)
	if err != nil {
		t.Fatal(err)
	}
	remoteID := created.Event.RemoteID

	edit := *created.Event
	edit.Title = "Property showing (moved)"
	edit.RemoteID = "" // callers don't need to carry the link

	result, err := w.UpdateEvent(context.Background(), &edit, "", true)
	if err != nil {
		t.Fatalf("UpdateEvent failed: %v", err)
	}
	if !result.Pushed {
		t.Errorf("push should succeed, got %+v", result)
	}
	if result.Event.RemoteID != remoteID {
		t.Errorf("remote link = %q, want %q preserved", result.Event.RemoteID, remoteID)
	}

	stored, err := e.store.GetEvent(created.Event.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Title != "Property showing (moved)" {
		t.Errorf("Title = %q", stored.Title)
	}
}

func TestUpdateEventPushesUnlinkedAsCreate(t *testing.T) {
	e := newTestEnv(t)
	e.addMirror(t, "cal-1", "rc-1")

	w := newWriter(e)
	created, err := w.CreateEvent(context.Background(), draftEvent("cal-1"), "", false)
	if err != nil {
		t.Fatal(err)
	}

	edit := *created.Event
	edit.Title = "Now pushed"
	result, err := w.UpdateEvent(context.Background(), &edit, "", true)
	if err != nil {
		t.Fatalf("UpdateEvent failed: %v", err)
	}
	if !result.Pushed || result.Event.RemoteID == "" {
		t.Errorf("unlinked update with push should create remotely, got %+v", result)
	}
}

func TestUpdateRemoteOnlyEventCreatesShadow(t *testing.T) {
	e := newTestEnv(t)
	e.addMirror(t, "cal-1", "rc-1")

	// The event lives only on the provider; the caller saw it via the
	// aggregator and is editing it.
	start := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	edit := &calendar.Event{
		ID:         "r99",
		CalendarID: "cal-1",
		RemoteID:   "r99",
		Title:      "Closing (edited)",
		Start:      start,
		End:        start.Add(time.Hour),
	}

	result, err := newWriter(e).UpdateEvent(context.Background(), edit, "", true)
	if err != nil {
		t.Fatalf("UpdateEvent failed: %v", err)
	}
	if !result.Pushed {
		t.Errorf("push should succeed, got %+v", result)
	}

	shadow, err := e.store.FindEventByIdentity("cal-1", "r99")
	if err != nil {
		t.Fatalf("shadow record not created: %v", err)
	}
	if shadow.Title != "Closing (edited)" {
		t.Errorf("Title = %q", shadow.Title)
	}
}

func TestUpdateEventMissing(t *testing.T) {
	e := newTestEnv(t)
	e.addMirror(t, "cal-1", "rc-1")

	ev := draftEvent("cal-1")
	ev.ID = "ghost"
	if _, err := newWriter(e).UpdateEvent(context.Background(), ev, "", false); !errors.Is(err, calendar.ErrNotFound) {
		t.Errorf("missing event should be ErrNotFound, got %v", err)
	}
}

func TestDeleteEventLocalOnly(t *testing.T) {
	e := newTestEnv(t)
	e.addMirror(t, "cal-1", "rc-1")

	w := newWriter(e)
	created, err := w.CreateEvent(context.Background(), draftEvent("cal-1"), "", false)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.DeleteEvent(context.Background(), created.Event.ID, ""); err != nil {
		t.Fatalf("DeleteEvent failed: %v", err)
	}
	if _, err := e.store.GetEvent(created.Event.ID); !errors.Is(err, calendar.ErrNotFound) {
		t.Errorf("event should be gone, got %v", err)
	}
}
