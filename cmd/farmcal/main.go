package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"

	"github.com/danadube/farmtrackr-calendar/internal/config"
	"github.com/danadube/farmtrackr-calendar/pkg/calendar"
	"github.com/danadube/farmtrackr-calendar/pkg/providers"
	"github.com/danadube/farmtrackr-calendar/pkg/providers/google"
	"github.com/danadube/farmtrackr-calendar/pkg/syncer"
)

var version = "dev"

func main() {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	app := &cli.App{
		Name:    "farmcal",
		Usage:   "FarmTrackr calendar sync and aggregation",
		Version: version,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable verbose logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "calendars",
				Usage: "Manage the calendar registry",
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List known calendars",
						Action: runCalendarsList,
					},
					{
						Name:   "refresh",
						Usage:  "Refresh calendar mirrors from the remote provider",
						Action: runCalendarsRefresh,
					},
					{
						Name:      "select",
						Usage:     "Set the visible calendar selection",
						ArgsUsage: "<calendar-id> [calendar-id...]",
						Action:    runCalendarsSelect,
					},
					{
						Name:  "create",
						Usage: "Create a native calendar",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "name", Required: true, Usage: "Display name"},
							&cli.StringFlag{Name: "color", Value: "#4285f4", Usage: "Calendar color"},
						},
						Action: runCalendarsCreate,
					},
					{
						Name:      "share",
						Usage:     "Grant a user access to a calendar",
						ArgsUsage: "<calendar-id> <user-id>",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "role", Value: "viewer", Usage: "Role: viewer, editor or owner"},
						},
						Action: runCalendarsShare,
					},
					{
						Name:      "unshare",
						Usage:     "Revoke a user's access to a calendar",
						ArgsUsage: "<calendar-id> <user-id>",
						Action:    runCalendarsUnshare,
					},
				},
			},
			{
				Name:  "sync",
				Usage: "Pull remote events into the local store",
				Flags: append(windowFlags(),
					&cli.BoolFlag{Name: "force", Usage: "Bypass the freshness check"},
				),
				Action: runSync,
			},
			{
				Name:   "agenda",
				Usage:  "Show the merged event list for a window",
				Flags:  windowFlags(),
				Action: runAgenda,
			},
			{
				Name:  "add",
				Usage: "Create an event",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "calendar", Usage: "Calendar id (defaults to primary)"},
					&cli.StringFlag{Name: "title", Required: true, Usage: "Event title"},
					&cli.StringFlag{Name: "start", Required: true, Usage: "Start (RFC 3339, or YYYY-MM-DD with --all-day)"},
					&cli.StringFlag{Name: "end", Usage: "End (defaults to one hour after start)"},
					&cli.BoolFlag{Name: "all-day", Usage: "All-day event"},
					&cli.StringFlag{Name: "description", Usage: "Description"},
					&cli.StringFlag{Name: "location", Usage: "Location"},
					&cli.StringFlag{Name: "rrule", Usage: "Recurrence rule, e.g. FREQ=WEEKLY;INTERVAL=1;BYDAY=MO,WE"},
					&cli.StringFlag{Name: "contact", Usage: "Linked CRM contact id"},
					&cli.StringFlag{Name: "deal", Usage: "Linked CRM deal id"},
					&cli.StringFlag{Name: "task", Usage: "Linked CRM task id"},
					&cli.BoolFlag{Name: "push", Usage: "Push to the remote provider"},
				},
				Action: runAdd,
			},
		},
		Before: func(c *cli.Context) error {
			setupLogger(c.Bool("verbose"))
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func setupLogger(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

func windowFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "view", Value: "", Usage: "Window view: month, week or day (defaults from config)"},
		&cli.StringFlag{Name: "date", Value: "", Usage: "Anchor date YYYY-MM-DD (defaults to today)"},
	}
}

// env holds the wired application collaborators for one command run.
type env struct {
	cfg        *config.Config
	store      *calendar.Store
	provider   providers.RemoteProvider
	normalizer *calendar.Normalizer
	registry   *syncer.Registry
	loc        *time.Location
	weekStart  time.Weekday
}

func setup() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	weekStart, err := cfg.WeekStart()
	if err != nil {
		return nil, err
	}
	store, err := calendar.NewStore(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	var provider providers.RemoteProvider
	if token := os.Getenv("GOOGLE_ACCESS_TOKEN"); token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		provider = google.NewProvider(ts, cfg.RequestTimeout())
	} else {
		slog.Debug("GOOGLE_ACCESS_TOKEN not set, running offline")
	}

	return &env{
		cfg:        cfg,
		store:      store,
		provider:   provider,
		normalizer: calendar.NewNormalizer(loc),
		registry:   syncer.NewRegistry(store, provider, slog.Default()),
		loc:        loc,
		weekStart:  weekStart,
	}, nil
}

func (e *env) window(c *cli.Context) (calendar.Window, error) {
	viewName := c.String("view")
	if viewName == "" {
		viewName = e.cfg.DefaultView
	}
	view, err := calendar.ParseView(viewName)
	if err != nil {
		return calendar.Window{}, err
	}

	anchor := time.Now().In(e.loc)
	if d := c.String("date"); d != "" {
		parsed, err := time.ParseInLocation("2006-01-02", d, e.loc)
		if err != nil {
			return calendar.Window{}, fmt.Errorf("bad date %q: %w", d, err)
		}
		anchor = parsed
	}
	return calendar.WindowFor(anchor, view, e.weekStart), nil
}

func runCalendarsList(c *cli.Context) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.store.Close()

	calendars, err := e.store.ListCalendars()
	if err != nil {
		return err
	}
	selected := make(map[string]bool)
	if ids, err := e.store.Selection(); err == nil {
		for _, id := range ids {
			selected[id] = true
		}
	}

	for _, cal := range calendars {
		marker := " "
		if selected[cal.ID] {
			marker = "*"
		}
		origin := "native"
		if cal.IsRemoteMirror() {
			origin = "remote"
		}
		primary := ""
		if cal.IsPrimary {
			primary = " (primary)"
		}
		fmt.Printf("%s %-36s  %-8s %s%s\n", marker, cal.ID, origin, cal.DisplayName, primary)
	}
	return nil
}

func runCalendarsRefresh(c *cli.Context) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.store.Close()

	mirrors, err := e.registry.RefreshMirrors(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("Refreshed %d calendar mirrors\n", len(mirrors))
	return nil
}

func runCalendarsSelect(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("at least one calendar id is required")
	}
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.store.Close()

	if err := e.registry.Select(c.Args().Slice()); err != nil {
		return err
	}
	ids, err := e.store.Selection()
	if err != nil {
		return err
	}
	fmt.Printf("Selected %d calendars\n", len(ids))
	return nil
}

func runCalendarsCreate(c *cli.Context) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.store.Close()

	cal, err := e.registry.CreateNative(c.String("name"), c.String("color"))
	if err != nil {
		return err
	}
	fmt.Printf("Created calendar %s (%s)\n", cal.DisplayName, cal.ID)
	return nil
}

func runCalendarsShare(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("usage: farmcal calendars share <calendar-id> <user-id>")
	}
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.store.Close()

	role := calendar.ShareRole(c.String("role"))
	if err := e.store.GrantShare(c.Args().Get(0), c.Args().Get(1), role); err != nil {
		return err
	}
	fmt.Printf("Granted %s to %s on %s\n", role, c.Args().Get(1), c.Args().Get(0))
	return nil
}

func runCalendarsUnshare(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("usage: farmcal calendars unshare <calendar-id> <user-id>")
	}
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.store.Close()

	if err := e.store.RevokeShare(c.Args().Get(0), c.Args().Get(1)); err != nil {
		return err
	}
	fmt.Println("Share revoked")
	return nil
}

func runSync(c *cli.Context) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.store.Close()

	if e.provider == nil {
		return fmt.Errorf("GOOGLE_ACCESS_TOKEN is not set")
	}

	w, err := e.window(c)
	if err != nil {
		return err
	}
	ctx := context.Background()

	if _, err := e.registry.RefreshMirrors(ctx); err != nil {
		return err
	}

	s := syncer.NewSyncer(e.store, e.provider, e.normalizer, slog.Default(),
		syncer.WithMaxConcurrent(e.cfg.MaxConcurrentFetches),
		syncer.WithFreshness(e.cfg.Freshness()),
	)
	result, err := s.PullSync(ctx, w, c.Bool("force"))
	if err != nil {
		return err
	}

	if result.RequiresAuth {
		slog.Warn("some calendars need re-authorization")
	}
	fmt.Printf("Synced %d events: %d created, %d updated, %d unchanged",
		result.TotalSynced, result.Created, result.Updated, result.Skipped)
	if result.Fresh > 0 {
		fmt.Printf(", %d calendars fresh", result.Fresh)
	}
	if result.Failed > 0 {
		fmt.Printf(", %d calendars failed", result.Failed)
	}
	fmt.Println()
	return nil
}

func runAgenda(c *cli.Context) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.store.Close()

	w, err := e.window(c)
	if err != nil {
		return err
	}

	agg := syncer.NewAggregator(e.store, e.registry, e.provider, e.normalizer, slog.Default())
	result, err := agg.GetEvents(context.Background(), w)
	if err != nil {
		return err
	}
	if result.RequiresAuth {
		slog.Warn("calendar access expired; reconnect your account and retry")
	} else if result.Failed > 0 {
		slog.Warn("some calendars could not be fetched; showing stored events", "failed", result.Failed)
	}
	if len(result.Events) == 0 {
		fmt.Println("No events")
		return nil
	}

	lastDay := ""
	for _, ev := range result.Events {
		day := ev.Start.In(e.loc).Format("Mon Jan 2 2006")
		if day != lastDay {
			fmt.Printf("\n%s\n", day)
			lastDay = day
		}
		when := fmt.Sprintf("%s - %s", ev.StartLabel, ev.EndLabel)
		if ev.AllDay {
			when = "all day"
		}
		fmt.Printf("  %-19s %s", when, ev.Title)
		if ev.Location != "" {
			fmt.Printf(" @ %s", ev.Location)
		}
		if !ev.CRMLinks.Empty() {
			fmt.Print(" [crm]")
		}
		fmt.Println()
	}
	return nil
}

func runAdd(c *cli.Context) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.store.Close()

	calID := c.String("calendar")
	if calID == "" {
		visible, err := e.registry.VisibleCalendars()
		if err != nil {
			return err
		}
		if len(visible) == 0 {
			return fmt.Errorf("no calendars exist; create one with 'farmcal calendars create'")
		}
		calID = visible[0].ID
	}

	start, end, err := parseEventTimes(c, e.loc)
	if err != nil {
		return err
	}

	ev := &calendar.Event{
		CalendarID:  calID,
		Title:       c.String("title"),
		Description: c.String("description"),
		Location:    c.String("location"),
		Start:       start,
		End:         end,
		AllDay:      c.Bool("all-day"),
		CRMLinks: calendar.CRMLinks{
			ContactID: c.String("contact"),
			DealID:    c.String("deal"),
			TaskID:    c.String("task"),
		},
	}
	if rr := c.String("rrule"); rr != "" {
		rule, err := calendar.DecodeRRule(rr)
		if err != nil {
			return err
		}
		ev.Recurrence = rule
	}

	writer := syncer.NewWriter(e.store, e.provider, slog.Default())
	result, err := writer.CreateEvent(context.Background(), ev, "", c.Bool("push"))
	if err != nil {
		return err
	}

	fmt.Printf("Created event %s (%s)\n", result.Event.Title, result.Event.ID)
	if c.Bool("push") {
		if result.Pushed {
			fmt.Printf("Pushed to remote as %s\n", result.Event.RemoteID)
		} else {
			fmt.Printf("Push failed, event kept local: %v\n", result.PushErr)
		}
	}
	return nil
}

func parseEventTimes(c *cli.Context, loc *time.Location) (time.Time, time.Time, error) {
	var start, end time.Time
	var err error

	if c.Bool("all-day") {
		start, err = time.ParseInLocation("2006-01-02", c.String("start"), loc)
		if err != nil {
			return start, end, fmt.Errorf("bad start %q: %w", c.String("start"), err)
		}
		end = start.AddDate(0, 0, 1)
		if v := c.String("end"); v != "" {
			end, err = time.ParseInLocation("2006-01-02", v, loc)
			if err != nil {
				return start, end, fmt.Errorf("bad end %q: %w", v, err)
			}
			// All-day ends are exclusive
			end = end.AddDate(0, 0, 1)
		}
		return start, end, nil
	}

	start, err = time.ParseInLocation(time.RFC3339, c.String("start"), loc)
	if err != nil {
		return start, end, fmt.Errorf("bad start %q: %w", c.String("start"), err)
	}
	end = start.Add(time.Hour)
	if v := c.String("end"); v != "" {
		end, err = time.ParseInLocation(time.RFC3339, v, loc)
		if err != nil {
			return start, end, fmt.Errorf("bad end %q: %w", v, err)
		}
	}
	return start, end, nil
}
