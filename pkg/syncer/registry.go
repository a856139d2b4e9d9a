package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/danadube/farmtrackr-calendar/pkg/calendar"
	"github.com/danadube/farmtrackr-calendar/pkg/providers"
)

// Store is the local persistence collaborator. *calendar.Store satisfies
// it; tests substitute fakes.
type Store interface {
	UpsertCalendar(c *calendar.Calendar) error
	GetCalendar(id string) (*calendar.Calendar, error)
	GetCalendarByRemoteID(remoteID string) (*calendar.Calendar, error)
	ListCalendars() ([]*calendar.Calendar, error)

	UpsertEvent(e *calendar.Event) error
	GetEvent(id string) (*calendar.Event, error)
	FindEventByIdentity(calendarID, remoteID string) (*calendar.Event, error)
	ListEvents(calendarIDs []string, w calendar.Window) ([]*calendar.Event, error)
	DeleteEvent(id string) error

	Selection() ([]string, error)
	SaveSelection(ids []string) error

	LastSyncedAt(calendarID string, w calendar.Window) (time.Time, error)
	MarkSynced(calendarID string, w calendar.Window, at time.Time) error

	AuthorizeMutation(calendarID, userID string) error
	GrantShare(calendarID, userID string, role calendar.ShareRole) error
	RevokeShare(calendarID, userID string) error
	ListShares(calendarID string) ([]*calendar.Share, error)
}

// Registry maintains the known calendar set: native calendars created
// locally plus mirrors of the provider's calendar list.
type Registry struct {
	store    Store
	provider providers.RemoteProvider
	log      *slog.Logger
}

// NewRegistry builds a Registry. provider may be nil for offline use.
func NewRegistry(store Store, provider providers.RemoteProvider, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{store: store, provider: provider, log: log}
}

// CreateNative creates a locally-owned calendar.
func (r *Registry) CreateNative(name, color string) (*calendar.Calendar, error) {
	if name == "" {
		return nil, &calendar.ValidationError{Field: "display_name", Reason: "display name is required"}
	}
	c := &calendar.Calendar{
		ID:          uuid.NewString(),
		DisplayName: name,
		Color:       color,
		Origin:      calendar.OriginNative,
	}
	if err := r.store.UpsertCalendar(c); err != nil {
		return nil, err
	}
	return c, nil
}

// RefreshMirrors pulls the provider's calendar list and upserts a mirror
// record for each entry. Existing mirrors keep their local id; the remote
// id is the stable join key.
func (r *Registry) RefreshMirrors(ctx context.Context) ([]*calendar.Calendar, error) {
	if r.provider == nil {
		return nil, fmt.Errorf("no remote provider configured")
	}

	raws, err := r.provider.ListCalendars(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list remote calendars: %w", err)
	}

	var mirrors []*calendar.Calendar
	for _, raw := range raws {
		c, err := r.store.GetCalendarByRemoteID(raw.ID)
		if err != nil {
			c = &calendar.Calendar{
				ID:       uuid.NewString(),
				Origin:   calendar.OriginRemoteMirror,
				RemoteID: raw.ID,
			}
		}
		c.DisplayName = raw.Summary
		if raw.BackgroundColor != "" {
			c.Color = raw.BackgroundColor
		}
		c.IsPrimary = raw.Primary

		if err := r.store.UpsertCalendar(c); err != nil {
			return nil, fmt.Errorf("failed to save calendar %s: %w", raw.ID, err)
		}
		mirrors = append(mirrors, c)
	}

	r.log.Debug("refreshed calendar mirrors", "count", len(mirrors))
	return mirrors, nil
}

// Select replaces the visible-calendar selection. Ids that name no known
// calendar are dropped rather than rejected, mirroring the read-side
// revalidation; the surviving ids persist in order.
func (r *Registry) Select(ids []string) error {
	var known []string
	for _, id := range ids {
		if _, err := r.store.GetCalendar(id); err != nil {
			r.log.Warn("dropping unknown calendar from selection", "calendar", id)
			continue
		}
		known = append(known, id)
	}
	return r.store.SaveSelection(known)
}

// VisibleCalendars resolves the persisted selection against the current
// calendar set. Ids pointing at calendars that no longer exist are dropped
// silently; an empty result falls back to the primary calendar (or, absent
// a primary, the first known calendar).
func (r *Registry) VisibleCalendars() ([]*calendar.Calendar, error) {
	all, err := r.store.ListCalendars()
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}

	byID := make(map[string]*calendar.Calendar, len(all))
	for _, c := range all {
		byID[c.ID] = c
	}

	ids, err := r.store.Selection()
	if err != nil {
		return nil, err
	}

	var visible []*calendar.Calendar
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			visible = append(visible, c)
		}
	}
	if len(visible) > 0 {
		return visible, nil
	}

	// ListCalendars orders primary first, so all[0] is the fallback.
	return []*calendar.Calendar{all[0]}, nil
}
