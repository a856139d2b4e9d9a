package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/danadube/farmtrackr-calendar/pkg/calendar"
	"github.com/danadube/farmtrackr-calendar/pkg/providers"
)

// WriteResult reports a dual write. The local store is authoritative, so
// Event is always the persisted record; Pushed and PushErr describe the
// best-effort remote leg.
type WriteResult struct {
	Event   *calendar.Event
	Pushed  bool
	PushErr error
}

// Writer creates and updates events locally and, on request, pushes them
// to the remote provider. The local write always lands first: a failed
// push never loses data, it just leaves the record unlinked.
type Writer struct {
	store    Store
	provider providers.RemoteProvider
	log      *slog.Logger
}

// NewWriter builds a Writer. provider may be nil; pushes then fail
// gracefully with ErrProviderUnavailable.
func NewWriter(store Store, provider providers.RemoteProvider, log *slog.Logger) *Writer {
	if log == nil {
		log = slog.Default()
	}
	return &Writer{store: store, provider: provider, log: log}
}

// CreateEvent persists a new event. actor, when non-empty, is checked
// against the calendar's share grants. push asks for a remote copy on
// mirror calendars; on push success the provider-assigned id is linked
// back into the local record.
func (w *Writer) CreateEvent(ctx context.Context, ev *calendar.Event, actor string, push bool) (*WriteResult, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	cal, err := w.store.GetCalendar(ev.CalendarID)
	if err != nil {
		return nil, err
	}
	if actor != "" {
		if err := w.store.AuthorizeMutation(ev.CalendarID, actor); err != nil {
			return nil, err
		}
	}

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.StampLabels()

	if err := w.store.UpsertEvent(ev); err != nil {
		return nil, err
	}
	result := &WriteResult{Event: ev}

	if push && cal.IsRemoteMirror() {
		result.Pushed, result.PushErr = w.pushCreate(ctx, cal, ev)
	}
	return result, nil
}

// UpdateEvent replaces an existing event's content. CRM links travel with
// the incoming record; the stored remote link is preserved. Editing an
// event that so far only exists remotely materializes a local shadow
// record, so the edit survives even if the push fails.
func (w *Writer) UpdateEvent(ctx context.Context, ev *calendar.Event, actor string, push bool) (*WriteResult, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	existing, err := w.store.GetEvent(ev.ID)
	if errors.Is(err, calendar.ErrNotFound) && ev.RemoteID != "" {
		existing, err = w.store.FindEventByIdentity(ev.CalendarID, ev.RemoteID)
		if errors.Is(err, calendar.ErrNotFound) {
			if ev.ID == "" {
				ev.ID = uuid.NewString()
			}
			existing = ev
			err = nil
		}
	}
	if err != nil {
		return nil, err
	}
	cal, err := w.store.GetCalendar(existing.CalendarID)
	if err != nil {
		return nil, err
	}
	if actor != "" {
		if err := w.store.AuthorizeMutation(existing.CalendarID, actor); err != nil {
			return nil, err
		}
	}

	ev.ID = existing.ID
	ev.CalendarID = existing.CalendarID
	ev.RemoteID = existing.RemoteID
	ev.StampLabels()

	if err := w.store.UpsertEvent(ev); err != nil {
		return nil, err
	}
	result := &WriteResult{Event: ev}

	if push && cal.IsRemoteMirror() {
		if ev.RemoteID != "" {
			result.Pushed, result.PushErr = w.pushUpdate(ctx, cal, ev)
		} else {
			// Local-only record on a mirror calendar: pushing it is a
			// create, after which it carries a remote link like any
			// synced event.
			result.Pushed, result.PushErr = w.pushCreate(ctx, cal, ev)
		}
	}
	return result, nil
}

// DeleteEvent removes an event from the local store. Remote copies are
// left alone; the next pull re-creates the local record if the event still
// exists upstream.
func (w *Writer) DeleteEvent(ctx context.Context, id, actor string) error {
	existing, err := w.store.GetEvent(id)
	if err != nil {
		return err
	}
	if actor != "" {
		if err := w.store.AuthorizeMutation(existing.CalendarID, actor); err != nil {
			return err
		}
	}
	return w.store.DeleteEvent(id)
}

func (w *Writer) pushCreate(ctx context.Context, cal *calendar.Calendar, ev *calendar.Event) (bool, error) {
	if w.provider == nil {
		return false, fmt.Errorf("push: %w", calendar.ErrProviderUnavailable)
	}

	created, err := w.provider.CreateEvent(ctx, cal.RemoteID, calendar.ToRawInput(ev))
	if err != nil {
		w.log.Warn("remote push failed, event kept local", "event", ev.ID, "error", err)
		return false, err
	}

	ev.RemoteID = created.ID
	if created.HTMLLink != "" {
		ev.HTMLLink = created.HTMLLink
	}
	if err := w.store.UpsertEvent(ev); err != nil {
		return true, err
	}
	return true, nil
}

func (w *Writer) pushUpdate(ctx context.Context, cal *calendar.Calendar, ev *calendar.Event) (bool, error) {
	if w.provider == nil {
		return false, fmt.Errorf("push: %w", calendar.ErrProviderUnavailable)
	}

	if _, err := w.provider.UpdateEvent(ctx, cal.RemoteID, ev.RemoteID, calendar.ToRawInput(ev)); err != nil {
		w.log.Warn("remote push failed, local copy kept", "event", ev.ID, "error", err)
		return false, err
	}
	return true, nil
}
