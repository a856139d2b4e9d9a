package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/danadube/farmtrackr-calendar/pkg/calendar"
	"github.com/danadube/farmtrackr-calendar/pkg/providers"
)

// ErrSuperseded reports that a newer aggregation started while this one
// was in flight; the caller should drop the result.
var ErrSuperseded = errors.New("aggregation superseded by a newer request")

// Aggregator assembles the merged event list for a window: local events
// (natives plus synced mirrors) overlaid with a live remote fetch.
//
// Merge rule: a local record carrying a remote id owns that identity, so
// its copy (with CRM links intact) beats the freshly fetched one. Remote
// events nobody owns yet are normalized in. Native locals always appear.
type Aggregator struct {
	store      Store
	registry   *Registry
	provider   providers.RemoteProvider
	normalizer *calendar.Normalizer
	log        *slog.Logger

	maxConcurrent int
	generation    atomic.Uint64
}

// NewAggregator builds an Aggregator. provider may be nil for offline use,
// in which case only local events are returned.
func NewAggregator(store Store, registry *Registry, provider providers.RemoteProvider, normalizer *calendar.Normalizer, log *slog.Logger) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{
		store:         store,
		registry:      registry,
		provider:      provider,
		normalizer:    normalizer,
		log:           log,
		maxConcurrent: defaultMaxConcurrent,
	}
}

// AggregateResult is the merged event list plus the classification of any
// per-calendar fetch failures, so callers can tell "reconnect" apart from
// "retry" on a partially degraded view.
type AggregateResult struct {
	Events       []*calendar.Event
	Failed       int
	RequiresAuth bool
}

// GetEvents returns every event visible in the window across the selected
// calendars, deduplicated and ordered by start time (calendar id, then
// event id, break ties). Remote calendars are fetched concurrently; a
// calendar that fails to fetch degrades to its locally stored events
// rather than failing the whole call, with the failure counted on the
// result and any 401 raising RequiresAuth. If a newer GetEvents starts
// while this one is running, the stale call returns ErrSuperseded.
func (a *Aggregator) GetEvents(ctx context.Context, w calendar.Window) (*AggregateResult, error) {
	gen := a.generation.Add(1)

	visible, err := a.registry.VisibleCalendars()
	if err != nil {
		return nil, err
	}
	if len(visible) == 0 {
		return &AggregateResult{Events: []*calendar.Event{}}, nil
	}

	ids := make([]string, len(visible))
	for i, c := range visible {
		ids[i] = c.ID
	}

	local, err := a.store.ListEvents(ids, w)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]*calendar.Event)
	owned := make(map[string]bool)
	var out []*calendar.Event

	for _, ev := range local {
		instances, err := calendar.ExpandOccurrences(ev, w)
		if err != nil {
			a.log.Warn("skipping event with bad recurrence", "event", ev.ID, "error", err)
			continue
		}
		if key := ev.IdentityKey(); key != "" {
			owned[key] = true
		}
		for _, inst := range instances {
			merged[instanceKey(inst)] = inst
		}
	}

	fetched, fetchStats := a.fetchRemote(ctx, visible, w)
	if fetchStats.attempted > 0 && fetchStats.failed == fetchStats.attempted && len(merged) == 0 {
		return nil, fmt.Errorf("all %d remote calendars failed to fetch", fetchStats.attempted)
	}

	for _, ev := range fetched {
		if owned[ev.IdentityKey()] {
			continue
		}
		merged[instanceKey(ev)] = ev
	}

	if a.generation.Load() != gen {
		return nil, ErrSuperseded
	}

	for _, ev := range merged {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		if out[i].CalendarID != out[j].CalendarID {
			return out[i].CalendarID < out[j].CalendarID
		}
		return out[i].ID < out[j].ID
	})
	if out == nil {
		out = []*calendar.Event{}
	}
	return &AggregateResult{
		Events:       out,
		Failed:       fetchStats.failed,
		RequiresAuth: fetchStats.requiresAuth,
	}, nil
}

type fetchStats struct {
	attempted    int
	failed       int
	requiresAuth bool
}

// fetchRemote scatters one fetch per mirror calendar with a concurrency
// bound and gathers the normalized results. Failures are isolated per
// calendar and classified: a 401 flips requiresAuth so the caller can
// surface a reconnect notice instead of a generic error.
func (a *Aggregator) fetchRemote(ctx context.Context, visible []*calendar.Calendar, w calendar.Window) ([]*calendar.Event, fetchStats) {
	var stats fetchStats
	if a.provider == nil {
		return nil, stats
	}

	var fetched []*calendar.Event
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.maxConcurrent)

	for _, c := range visible {
		c := c
		if !c.IsRemoteMirror() {
			continue
		}
		stats.attempted++

		g.Go(func() error {
			raws, err := a.provider.ListEvents(ctx, c.RemoteID, providers.ListOptions{
				TimeMin: w.Start,
				TimeMax: w.End,
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.failed++
				if errors.Is(err, calendar.ErrUnauthorized) {
					stats.requiresAuth = true
				}
				a.log.Warn("remote fetch failed", "calendar", c.DisplayName, "error", err)
				return nil
			}
			for _, raw := range raws {
				ev, err := a.normalizer.Normalize(raw, c.ID)
				if err != nil {
					a.log.Warn("skipping unparseable event", "calendar", c.DisplayName, "event", raw.ID, "error", err)
					continue
				}
				fetched = append(fetched, ev)
			}
			return nil
		})
	}
	g.Wait()
	return fetched, stats
}

// instanceKey dedupes merged events. Identity-keyed events collapse by
// (calendarId, remoteId); others by (calendarId, id, start) so expanded
// recurrence instances stay distinct.
func instanceKey(ev *calendar.Event) string {
	if key := ev.IdentityKey(); key != "" && ev.Recurrence == nil {
		return key
	}
	return ev.CalendarID + "\x00" + ev.ID + "\x00" + ev.Start.UTC().Format("20060102T150405Z")
}
