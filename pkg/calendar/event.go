package calendar

import (
	"time"
)

// Origin says where a calendar lives.
type Origin string

const (
	// OriginNative calendars are owned entirely by the CRM.
	OriginNative Origin = "native"
	// OriginRemoteMirror calendars are local representations of calendars
	// that live on the remote provider.
	OriginRemoteMirror Origin = "remote_mirror"
)

// Calendar is a container for events.
type Calendar struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Color       string `json:"color"`
	IsPrimary   bool   `json:"is_primary"`
	Origin      Origin `json:"origin"`

	// RemoteID is the provider-side calendar id. Empty for Native
	// calendars; stable across syncs for RemoteMirror calendars.
	RemoteID string `json:"remote_id,omitempty"`
}

// IsRemoteMirror reports whether events on this calendar can be pushed to
// the provider.
func (c *Calendar) IsRemoteMirror() bool {
	return c.Origin == OriginRemoteMirror && c.RemoteID != ""
}

// CRMLinks cross-references an event to CRM records. The ids are opaque
// here; the CRM data model is a collaborator.
type CRMLinks struct {
	ContactID string `json:"contact_id,omitempty"`
	DealID    string `json:"deal_id,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
}

// Empty reports whether no CRM record is linked.
func (l CRMLinks) Empty() bool {
	return l.ContactID == "" && l.DealID == "" && l.TaskID == ""
}

// Attendee is a participant on an event, mirrored from the provider.
type Attendee struct {
	Email          string `json:"email"`
	DisplayName    string `json:"display_name,omitempty"`
	ResponseStatus string `json:"response_status,omitempty"`
	Organizer      bool   `json:"organizer,omitempty"`
}

// Event is the canonical event shape shared by the store, the sync engine
// and the aggregator.
type Event struct {
	ID          string    `json:"id"`
	CalendarID  string    `json:"calendar_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AllDay      bool      `json:"all_day"`

	// RemoteID is the provider-side event id. The pair
	// (CalendarID, RemoteID) identifies one logical event across the local
	// and remote copies.
	RemoteID string `json:"remote_id,omitempty"`

	Recurrence *RecurrenceRule `json:"recurrence,omitempty"`
	CRMLinks   CRMLinks        `json:"crm_links,omitempty"`
	Attendees  []Attendee      `json:"attendees,omitempty"`

	// Presentation labels, computed once at normalization time.
	StartLabel string `json:"start_label,omitempty"`
	EndLabel   string `json:"end_label,omitempty"`

	HTMLLink string `json:"html_link,omitempty"`
}

// IsNative reports whether the event exists only in the local store.
func (e *Event) IsNative() bool {
	return e.RemoteID == ""
}

// IdentityKey returns the (calendarId, remoteId) join key, or "" for
// Native events which have no remote identity.
func (e *Event) IdentityKey() string {
	if e.RemoteID == "" {
		return ""
	}
	return e.CalendarID + "\x00" + e.RemoteID
}

// Duration returns the duration of the event.
func (e *Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// Overlaps reports whether this event overlaps the [start, end) range.
func (e *Event) Overlaps(start, end time.Time) bool {
	return e.Start.Before(end) && e.End.After(start)
}

// Validate checks the invariants enforced before any write.
func (e *Event) Validate() error {
	if e.Title == "" {
		return &ValidationError{Field: "title", Reason: "title is required"}
	}
	if e.CalendarID == "" {
		return &ValidationError{Field: "calendar_id", Reason: "calendar is required"}
	}
	if !e.End.After(e.Start) {
		return &ValidationError{Field: "end", Reason: "end must be after start"}
	}
	if e.Recurrence != nil {
		if err := e.Recurrence.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// StampLabels computes the presentation labels from the event's
// boundaries. All-day events carry no time-of-day, so their labels stay
// empty.
func (e *Event) StampLabels() {
	if e.AllDay {
		e.StartLabel, e.EndLabel = "", ""
		return
	}
	e.StartLabel = formatTimeLabel(e.Start)
	e.EndLabel = formatTimeLabel(e.End)
}

// SameContent reports whether two events carry the same synced fields.
// Used by pull sync to decide between update and skip; local-only fields
// (CRM links, labels) are deliberately excluded.
func (e *Event) SameContent(other *Event) bool {
	return e.Title == other.Title &&
		e.Description == other.Description &&
		e.Location == other.Location &&
		e.Start.Equal(other.Start) &&
		e.End.Equal(other.End) &&
		e.AllDay == other.AllDay
}

// ShareRole is the access level a user holds on a calendar.
type ShareRole string

const (
	RoleViewer ShareRole = "viewer"
	RoleEditor ShareRole = "editor"
	RoleOwner  ShareRole = "owner"
)

// ValidRole reports whether r is one of the three known roles.
func ValidRole(r ShareRole) bool {
	switch r {
	case RoleViewer, RoleEditor, RoleOwner:
		return true
	}
	return false
}

// CanMutate reports whether the role permits editing events on the
// calendar.
func (r ShareRole) CanMutate() bool {
	return r == RoleEditor || r == RoleOwner
}

// Share is a per-user grant on a Native calendar.
type Share struct {
	CalendarID string    `json:"calendar_id"`
	UserID     string    `json:"user_id"`
	Role       ShareRole `json:"role"`
	CreatedAt  time.Time `json:"created_at"`
}
