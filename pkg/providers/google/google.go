package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/danadube/farmtrackr-calendar/pkg/calendar"
	"github.com/danadube/farmtrackr-calendar/pkg/providers"
)

const (
	baseURL        = "https://www.googleapis.com/calendar/v3"
	requestTimeout = 15 * time.Second
)

// Provider talks to the Google Calendar REST API with a bearer token.
type Provider struct {
	client  *http.Client
	base    string
	timeout time.Duration
}

// NewProvider builds a Provider around an oauth2 token source. Pass
// oauth2.StaticTokenSource for a fixed access token. A non-positive
// timeout falls back to the default.
func NewProvider(ts oauth2.TokenSource, timeout time.Duration) *Provider {
	if timeout <= 0 {
		timeout = requestTimeout
	}
	return &Provider{
		client:  oauth2.NewClient(context.Background(), ts),
		base:    baseURL,
		timeout: timeout,
	}
}

// NewProviderWithClient is for tests that need to point at a fake server.
func NewProviderWithClient(client *http.Client, base string, timeout time.Duration) *Provider {
	if base == "" {
		base = baseURL
	}
	if timeout <= 0 {
		timeout = requestTimeout
	}
	return &Provider{client: client, base: base, timeout: timeout}
}

type calendarListResponse struct {
	Items         []providers.RawCalendar `json:"items"`
	NextPageToken string                  `json:"nextPageToken"`
}

type eventListResponse struct {
	Items         []providers.RawEvent `json:"items"`
	NextPageToken string               `json:"nextPageToken"`
}

// ListCalendars fetches the account's calendar list, following pagination.
func (p *Provider) ListCalendars(ctx context.Context) ([]providers.RawCalendar, error) {
	var calendars []providers.RawCalendar
	pageToken := ""

	for {
		endpoint := p.base + "/users/me/calendarList"
		if pageToken != "" {
			endpoint += "?pageToken=" + url.QueryEscape(pageToken)
		}

		var resp calendarListResponse
		if err := p.doJSON(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
			return nil, err
		}

		calendars = append(calendars, resp.Items...)
		if resp.NextPageToken == "" {
			return calendars, nil
		}
		pageToken = resp.NextPageToken
	}
}

// ListEvents fetches events on one calendar within the option window.
// singleEvents=true expands recurring events server-side; cancelled
// instances are filtered out here.
func (p *Provider) ListEvents(ctx context.Context, remoteCalendarID string, opts providers.ListOptions) ([]providers.RawEvent, error) {
	params := url.Values{}
	params.Set("singleEvents", "true")
	params.Set("orderBy", "startTime")
	if !opts.TimeMin.IsZero() {
		params.Set("timeMin", opts.TimeMin.Format(time.RFC3339))
	}
	if !opts.TimeMax.IsZero() {
		params.Set("timeMax", opts.TimeMax.Format(time.RFC3339))
	}
	if opts.MaxResults > 0 {
		params.Set("maxResults", strconv.Itoa(opts.MaxResults))
	}

	var events []providers.RawEvent
	pageToken := ""

	for {
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}
		endpoint := fmt.Sprintf("%s/calendars/%s/events?%s",
			p.base, url.PathEscape(remoteCalendarID), params.Encode())

		var resp eventListResponse
		if err := p.doJSON(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
			return nil, err
		}

		for _, ev := range resp.Items {
			if ev.Status == "cancelled" {
				continue
			}
			events = append(events, ev)
		}
		if resp.NextPageToken == "" {
			return events, nil
		}
		pageToken = resp.NextPageToken
	}
}

// CreateEvent inserts an event on a remote calendar.
func (p *Provider) CreateEvent(ctx context.Context, remoteCalendarID string, input providers.RawEventInput) (*providers.RawEvent, error) {
	endpoint := fmt.Sprintf("%s/calendars/%s/events", p.base, url.PathEscape(remoteCalendarID))

	var created providers.RawEvent
	if err := p.doJSON(ctx, http.MethodPost, endpoint, input, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateEvent replaces an existing remote event.
func (p *Provider) UpdateEvent(ctx context.Context, remoteCalendarID, remoteID string, input providers.RawEventInput) (*providers.RawEvent, error) {
	endpoint := fmt.Sprintf("%s/calendars/%s/events/%s",
		p.base, url.PathEscape(remoteCalendarID), url.PathEscape(remoteID))

	var updated providers.RawEvent
	if err := p.doJSON(ctx, http.MethodPut, endpoint, input, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// doJSON issues one request and decodes the JSON response into out.
// Transport failures, 5xx responses and undecodable payloads classify as
// ErrProviderUnavailable, a 401 as ErrUnauthorized.
func (p *Provider) doJSON(ctx context.Context, method, endpoint string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %v", method, endpoint, calendar.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%s %s: %w", method, endpoint, calendar.ErrUnauthorized)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, endpoint, calendar.ErrNotFound)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%s %s: status %d: %w", method, endpoint, resp.StatusCode, calendar.ErrProviderUnavailable)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		// Residual 4xx (403 rate limit, 429) classifies as retryable.
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %w: %s", method, endpoint, resp.StatusCode, calendar.ErrProviderUnavailable, data)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: bad response: %w: %v", method, endpoint, calendar.ErrProviderUnavailable, err)
	}
	return nil
}
