package calendar

import (
	"fmt"
	"time"

	"github.com/danadube/farmtrackr-calendar/pkg/providers"
)

// Normalizer converts raw provider records into canonical Events.
//
// All-day boundaries arrive as date-only strings. Those MUST be parsed as
// local calendar dates: running "2025-03-10" through a UTC-instant parser
// shifts the visible day by one for users west of UTC.
type Normalizer struct {
	loc *time.Location
}

// NewNormalizer returns a Normalizer resolving all-day dates in loc. A nil
// loc means time.Local.
func NewNormalizer(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.Local
	}
	return &Normalizer{loc: loc}
}

// Normalize converts one raw record into an Event on the given calendar.
// Records with no usable start or end are rejected.
func (n *Normalizer) Normalize(raw providers.RawEvent, calendarID string) (*Event, error) {
	start, err := n.parseBoundary(raw.Start)
	if err != nil {
		return nil, fmt.Errorf("event %s: start: %w", raw.ID, err)
	}
	end, err := n.parseBoundary(raw.End)
	if err != nil {
		return nil, fmt.Errorf("event %s: end: %w", raw.ID, err)
	}

	title := raw.Summary
	if title == "" {
		title = "Untitled Event"
	}

	ev := &Event{
		ID:          raw.ID,
		CalendarID:  calendarID,
		RemoteID:    raw.ID,
		Title:       title,
		Description: raw.Description,
		Location:    raw.Location,
		Start:       start,
		End:         end,
		AllDay:      raw.Start.IsAllDay(),
		HTMLLink:    raw.HTMLLink,
	}

	for _, a := range raw.Attendees {
		if a.Email == "" {
			continue
		}
		status := a.ResponseStatus
		if status == "" {
			status = "needsAction"
		}
		ev.Attendees = append(ev.Attendees, Attendee{
			Email:          a.Email,
			DisplayName:    a.DisplayName,
			ResponseStatus: status,
			Organizer:      a.Organizer,
		})
	}

	// Labels are computed once here rather than on every read.
	ev.StampLabels()

	return ev, nil
}

// parseBoundary resolves one wire boundary to an instant. A date-only value
// becomes midnight of that calendar day in the normalizer's location; a
// dateTime is an absolute RFC 3339 instant.
func (n *Normalizer) parseBoundary(d providers.RawDate) (time.Time, error) {
	if d.DateTime != "" {
		t, err := time.Parse(time.RFC3339, d.DateTime)
		if err != nil {
			return time.Time{}, fmt.Errorf("bad dateTime %q: %w", d.DateTime, err)
		}
		return t, nil
	}
	if d.Date != "" {
		var year, month, day int
		if _, err := fmt.Sscanf(d.Date, "%4d-%2d-%2d", &year, &month, &day); err != nil {
			return time.Time{}, fmt.Errorf("bad date %q: %w", d.Date, err)
		}
		return time.Date(year, time.Month(month), day, 0, 0, 0, 0, n.loc), nil
	}
	return time.Time{}, fmt.Errorf("missing date and dateTime")
}

// ToRawInput converts an Event into the provider's write payload. All-day
// events go out as date-only boundaries.
func ToRawInput(ev *Event) providers.RawEventInput {
	input := providers.RawEventInput{
		Summary:     ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
	}
	if ev.AllDay {
		input.Start = providers.RawDate{Date: ev.Start.Format("2006-01-02")}
		input.End = providers.RawDate{Date: ev.End.Format("2006-01-02")}
	} else {
		input.Start = providers.RawDate{DateTime: ev.Start.Format(time.RFC3339)}
		input.End = providers.RawDate{DateTime: ev.End.Format(time.RFC3339)}
	}
	if ev.Recurrence != nil {
		input.Recurrence = []string{"RRULE:" + EncodeRRule(ev.Recurrence)}
	}
	for _, a := range ev.Attendees {
		input.Attendees = append(input.Attendees, providers.RawAttendee{
			Email:          a.Email,
			DisplayName:    a.DisplayName,
			ResponseStatus: a.ResponseStatus,
			Organizer:      a.Organizer,
		})
	}
	return input
}

func formatTimeLabel(t time.Time) string {
	return t.Format("3:04 PM")
}
