package providers

import (
	"context"
	"time"
)

// RawDate is the provider wire encoding of an event boundary. Exactly one
// of Date ("2006-01-02", all-day) or DateTime (RFC 3339) is set.
type RawDate struct {
	Date     string `json:"date,omitempty"`
	DateTime string `json:"dateTime,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

// IsAllDay reports whether the boundary is a date-only value.
func (d RawDate) IsAllDay() bool {
	return d.Date != "" && d.DateTime == ""
}

// RawAttendee is a participant as the provider reports it.
type RawAttendee struct {
	Email          string `json:"email,omitempty"`
	DisplayName    string `json:"displayName,omitempty"`
	ResponseStatus string `json:"responseStatus,omitempty"`
	Organizer      bool   `json:"organizer,omitempty"`
}

// RawEvent is the provider wire shape of an event.
type RawEvent struct {
	ID          string        `json:"id"`
	Status      string        `json:"status,omitempty"`
	Summary     string        `json:"summary,omitempty"`
	Description string        `json:"description,omitempty"`
	Location    string        `json:"location,omitempty"`
	Start       RawDate       `json:"start"`
	End         RawDate       `json:"end"`
	Recurrence  []string      `json:"recurrence,omitempty"`
	Attendees   []RawAttendee `json:"attendees,omitempty"`
	HTMLLink    string        `json:"htmlLink,omitempty"`
}

// RawEventInput is the payload for creating or updating a remote event.
type RawEventInput struct {
	Summary     string        `json:"summary"`
	Description string        `json:"description,omitempty"`
	Location    string        `json:"location,omitempty"`
	Start       RawDate       `json:"start"`
	End         RawDate       `json:"end"`
	Recurrence  []string      `json:"recurrence,omitempty"`
	Attendees   []RawAttendee `json:"attendees,omitempty"`
}

// RawCalendar is the provider wire shape of a calendar list entry.
type RawCalendar struct {
	ID              string `json:"id"`
	Summary         string `json:"summary"`
	Description     string `json:"description,omitempty"`
	BackgroundColor string `json:"backgroundColor,omitempty"`
	Primary         bool   `json:"primary,omitempty"`
	AccessRole      string `json:"accessRole,omitempty"`
}

// ListOptions bound an event list request.
type ListOptions struct {
	TimeMin    time.Time
	TimeMax    time.Time
	MaxResults int
}

// RemoteProvider is the remote calendar API collaborator. Any call may fail
// with calendar.ErrUnauthorized (expired or missing bearer token) or
// calendar.ErrProviderUnavailable (timeout, server error, bad payload);
// implementations wrap one of the two so callers can classify.
type RemoteProvider interface {
	// ListCalendars returns the provider's calendar list.
	ListCalendars(ctx context.Context) ([]RawCalendar, error)

	// ListEvents returns events on a remote calendar within the option
	// window, expanded to single instances.
	ListEvents(ctx context.Context, remoteCalendarID string, opts ListOptions) ([]RawEvent, error)

	// CreateEvent creates an event on a remote calendar and returns the
	// created record, including its provider-assigned id.
	CreateEvent(ctx context.Context, remoteCalendarID string, input RawEventInput) (*RawEvent, error)

	// UpdateEvent replaces an existing remote event.
	UpdateEvent(ctx context.Context, remoteCalendarID, remoteID string, input RawEventInput) (*RawEvent, error)
}
