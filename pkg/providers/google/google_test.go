package google

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danadube/farmtrackr-calendar/pkg/calendar"
	"github.com/danadube/farmtrackr-calendar/pkg/providers"
)

func testProvider(handler http.HandlerFunc) (*Provider, *httptest.Server) {
	server := httptest.NewServer(handler)
	p := NewProviderWithClient(server.Client(), server.URL, 5*time.Second)
	return p, server
}

func TestListEventsPaginatesAndFiltersCancelled(t *testing.T) {
	calls := 0
	p, server := testProvider(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Query().Get("singleEvents") != "true" {
			t.Error("singleEvents not requested")
		}
		switch r.URL.Query().Get("pageToken") {
		case "":
			json.NewEncoder(w).Encode(map[string]any{
				"items": []map[string]any{
					{"id": "e1", "summary": "Closing", "start": map[string]string{"dateTime": "2025-03-10T14:00:00Z"}, "end": map[string]string{"dateTime": "2025-03-10T15:00:00Z"}},
					{"id": "e2", "status": "cancelled"},
				},
				"nextPageToken": "page2",
			})
		case "page2":
			json.NewEncoder(w).Encode(map[string]any{
				"items": []map[string]any{
					{"id": "e3", "summary": "Call buyer", "start": map[string]string{"date": "2025-03-11"}, "end": map[string]string{"date": "2025-03-12"}},
				},
			})
		default:
			t.Errorf("unexpected pageToken %q", r.URL.Query().Get("pageToken"))
		}
	})
	defer server.Close()

	events, err := p.ListEvents(context.Background(), "cal@example.com", providers.ListOptions{
		TimeMin: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		TimeMax: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("made %d requests, want 2", calls)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (cancelled filtered)", len(events))
	}
	if events[0].ID != "e1" || events[1].ID != "e3" {
		t.Errorf("events = %v", events)
	}
	if !events[1].Start.IsAllDay() {
		t.Error("date-only boundary should report all-day")
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"expired token", http.StatusUnauthorized, calendar.ErrUnauthorized},
		{"missing calendar", http.StatusNotFound, calendar.ErrNotFound},
		{"server error", http.StatusInternalServerError, calendar.ErrProviderUnavailable},
		{"bad gateway", http.StatusBadGateway, calendar.ErrProviderUnavailable},
		{"rate limited", http.StatusForbidden, calendar.ErrProviderUnavailable},
		{"too many requests", http.StatusTooManyRequests, calendar.ErrProviderUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, server := testProvider(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			defer server.Close()

			_, err := p.ListCalendars(context.Background())
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestBadPayloadIsProviderUnavailable(t *testing.T) {
	p, server := testProvider(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	})
	defer server.Close()

	_, err := p.ListCalendars(context.Background())
	if !errors.Is(err, calendar.ErrProviderUnavailable) {
		t.Errorf("error = %v, want ErrProviderUnavailable", err)
	}
}

func TestCreateEventSendsPayload(t *testing.T) {
	p, server := testProvider(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		var input providers.RawEventInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if input.Summary != "Property showing" {
			t.Errorf("summary = %q", input.Summary)
		}
		json.NewEncoder(w).Encode(providers.RawEvent{
			ID:      "created-1",
			Summary: input.Summary,
			Start:   input.Start,
			End:     input.End,
		})
	})
	defer server.Close()

	created, err := p.CreateEvent(context.Background(), "cal@example.com", providers.RawEventInput{
		Summary: "Property showing",
		Start:   providers.RawDate{DateTime: "2025-03-10T14:00:00Z"},
		End:     providers.RawDate{DateTime: "2025-03-10T15:00:00Z"},
	})
	if err != nil {
		t.Fatalf("CreateEvent failed: %v", err)
	}
	if created.ID != "created-1" {
		t.Errorf("ID = %q", created.ID)
	}
}
