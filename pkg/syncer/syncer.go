package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/danadube/farmtrackr-calendar/pkg/calendar"
	"github.com/danadube/farmtrackr-calendar/pkg/providers"
)

const (
	defaultMaxConcurrent = 8
	defaultFreshness     = 5 * time.Minute
)

// SyncResult reports what one pull did.
type SyncResult struct {
	Created      int
	Updated      int
	Skipped      int
	TotalSynced  int
	Failed       int
	Fresh        int
	RequiresAuth bool
}

// Syncer pulls remote events into the local store. Pulls are idempotent:
// re-running over an unchanged remote state creates and updates nothing.
type Syncer struct {
	store      Store
	provider   providers.RemoteProvider
	normalizer *calendar.Normalizer
	log        *slog.Logger

	maxConcurrent int
	freshness     time.Duration
	now           func() time.Time
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithMaxConcurrent bounds how many calendars sync in parallel.
func WithMaxConcurrent(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.maxConcurrent = n
		}
	}
}

// WithFreshness sets how recently a (calendar, window) pair must have been
// pulled for a non-forced sync to skip it.
func WithFreshness(d time.Duration) Option {
	return func(s *Syncer) {
		if d > 0 {
			s.freshness = d
		}
	}
}

// WithClock injects the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) { s.now = now }
}

// NewSyncer builds a Syncer.
func NewSyncer(store Store, provider providers.RemoteProvider, normalizer *calendar.Normalizer, log *slog.Logger, opts ...Option) *Syncer {
	if log == nil {
		log = slog.Default()
	}
	s := &Syncer{
		store:         store,
		provider:      provider,
		normalizer:    normalizer,
		log:           log,
		maxConcurrent: defaultMaxConcurrent,
		freshness:     defaultFreshness,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PullSync pulls remote events overlapping the window into the local store
// for every mirror calendar. Calendars sync concurrently with a bounded
// limit; one calendar failing never blocks the others. force bypasses the
// freshness check.
func (s *Syncer) PullSync(ctx context.Context, w calendar.Window, force bool) (*SyncResult, error) {
	calendars, err := s.store.ListCalendars()
	if err != nil {
		return nil, err
	}

	var mirrors []*calendar.Calendar
	for _, c := range calendars {
		if c.IsRemoteMirror() {
			mirrors = append(mirrors, c)
		}
	}
	result := &SyncResult{}
	if len(mirrors) == 0 {
		return result, nil
	}

	var mu sync.Mutex
	var firstErr error

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrent)

	for _, c := range mirrors {
		c := c
		g.Go(func() error {
			partial, err := s.syncCalendar(ctx, c, w, force)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				if errors.Is(err, calendar.ErrUnauthorized) {
					result.RequiresAuth = true
				}
				if firstErr == nil {
					firstErr = fmt.Errorf("calendar %s: %w", c.DisplayName, err)
				}
				s.log.Warn("calendar sync failed", "calendar", c.DisplayName, "error", err)
				return nil
			}
			result.Created += partial.Created
			result.Updated += partial.Updated
			result.Skipped += partial.Skipped
			result.TotalSynced += partial.TotalSynced
			result.Fresh += partial.Fresh
			return nil
		})
	}
	g.Wait()

	if result.Failed == len(mirrors) {
		return result, firstErr
	}
	return result, nil
}

// syncCalendar pulls one mirror calendar's events for the window.
func (s *Syncer) syncCalendar(ctx context.Context, c *calendar.Calendar, w calendar.Window, force bool) (*SyncResult, error) {
	partial := &SyncResult{}

	if !force {
		last, err := s.store.LastSyncedAt(c.ID, w)
		if err != nil {
			return nil, err
		}
		if !last.IsZero() && s.now().Sub(last) < s.freshness {
			partial.Fresh = 1
			return partial, nil
		}
	}

	raws, err := s.provider.ListEvents(ctx, c.RemoteID, providers.ListOptions{
		TimeMin: w.Start,
		TimeMax: w.End,
	})
	if err != nil {
		return nil, err
	}

	for _, raw := range raws {
		ev, err := s.normalizer.Normalize(raw, c.ID)
		if err != nil {
			s.log.Warn("skipping unparseable event", "calendar", c.DisplayName, "event", raw.ID, "error", err)
			continue
		}

		existing, err := s.store.FindEventByIdentity(c.ID, ev.RemoteID)
		switch {
		case errors.Is(err, calendar.ErrNotFound):
			if err := s.store.UpsertEvent(ev); err != nil {
				return nil, err
			}
			partial.Created++
		case err != nil:
			return nil, err
		case existing.SameContent(ev):
			partial.Skipped++
		default:
			// Keep the local id and CRM links; replace the synced fields
			// and the attendee list wholesale.
			ev.ID = existing.ID
			ev.CRMLinks = existing.CRMLinks
			if err := s.store.UpsertEvent(ev); err != nil {
				return nil, err
			}
			partial.Updated++
		}
		partial.TotalSynced++
	}

	if err := s.store.MarkSynced(c.ID, w, s.now()); err != nil {
		return nil, err
	}

	s.log.Debug("calendar synced",
		"calendar", c.DisplayName,
		"created", partial.Created,
		"updated", partial.Updated,
		"skipped", partial.Skipped)
	return partial, nil
}
