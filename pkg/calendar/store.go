package calendar

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store persists calendars, events, shares, the visible-calendar selection
// and sync-window bookkeeping.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens (and migrates) the database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	// DELETE journal mode for immediate writes (no WAL)
	connStr := dbPath + "?_foreign_keys=on&_journal_mode=DELETE&_synchronous=FULL"
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection to avoid pooling issues
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS calendars (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		color TEXT DEFAULT '#4285f4',
		is_primary INTEGER DEFAULT 0,
		origin TEXT NOT NULL DEFAULT 'native',
		remote_id TEXT
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_calendars_remote
		ON calendars(remote_id) WHERE remote_id IS NOT NULL AND remote_id != '';

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		calendar_id TEXT NOT NULL,
		remote_id TEXT,
		title TEXT NOT NULL,
		description TEXT,
		location TEXT,
		start_time DATETIME NOT NULL,
		end_time DATETIME NOT NULL,
		all_day INTEGER DEFAULT 0,
		recurrence TEXT,
		crm_contact_id TEXT,
		crm_deal_id TEXT,
		crm_task_id TEXT,
		attendees TEXT,
		start_label TEXT,
		end_label TEXT,
		html_link TEXT,
		FOREIGN KEY (calendar_id) REFERENCES calendars(id) ON DELETE CASCADE
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_events_identity
		ON events(calendar_id, remote_id) WHERE remote_id IS NOT NULL AND remote_id != '';
	CREATE INDEX IF NOT EXISTS idx_events_calendar ON events(calendar_id);
	CREATE INDEX IF NOT EXISTS idx_events_start ON events(start_time);
	CREATE INDEX IF NOT EXISTS idx_events_end ON events(end_time);

	CREATE TABLE IF NOT EXISTS calendar_shares (
		calendar_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (calendar_id, user_id),
		FOREIGN KEY (calendar_id) REFERENCES calendars(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS selection (
		position INTEGER PRIMARY KEY,
		calendar_id TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_windows (
		calendar_id TEXT NOT NULL,
		range_start DATETIME NOT NULL,
		range_end DATETIME NOT NULL,
		last_synced_at DATETIME NOT NULL,
		PRIMARY KEY (calendar_id, range_start, range_end),
		FOREIGN KEY (calendar_id) REFERENCES calendars(id) ON DELETE CASCADE
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Calendar Operations ---

// UpsertCalendar saves a calendar, keyed by id.
func (s *Store) UpsertCalendar(c *Calendar) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// ON CONFLICT DO UPDATE instead of REPLACE to avoid triggering CASCADE deletes
	_, err := s.db.Exec(`
		INSERT INTO calendars (id, display_name, color, is_primary, origin, remote_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			color = excluded.color,
			is_primary = excluded.is_primary,
			origin = excluded.origin,
			remote_id = excluded.remote_id`,
		c.ID, c.DisplayName, c.Color, c.IsPrimary, c.Origin, c.RemoteID)
	return err
}

// GetCalendar retrieves a calendar by id.
func (s *Store) GetCalendar(id string) (*Calendar, error) {
	row := s.db.QueryRow(`SELECT * FROM calendars WHERE id = ?`, id)
	c, err := scanCalendar(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("calendar %s: %w", id, ErrNotFound)
	}
	return c, err
}

// GetCalendarByRemoteID finds the RemoteMirror calendar for a provider
// calendar id. The remote id is the stable join key across syncs.
func (s *Store) GetCalendarByRemoteID(remoteID string) (*Calendar, error) {
	row := s.db.QueryRow(`SELECT * FROM calendars WHERE remote_id = ?`, remoteID)
	c, err := scanCalendar(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("remote calendar %s: %w", remoteID, ErrNotFound)
	}
	return c, err
}

// ListCalendars retrieves all calendars, primary first.
func (s *Store) ListCalendars() ([]*Calendar, error) {
	rows, err := s.db.Query(`SELECT * FROM calendars ORDER BY is_primary DESC, display_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calendars []*Calendar
	for rows.Next() {
		c, err := scanCalendar(rows.Scan)
		if err != nil {
			return nil, err
		}
		calendars = append(calendars, c)
	}
	return calendars, rows.Err()
}

// DeleteCalendar deletes a calendar and, via cascade, its events and shares.
func (s *Store) DeleteCalendar(id string) error {
	_, err := s.db.Exec(`DELETE FROM calendars WHERE id = ?`, id)
	return err
}

// --- Event Operations ---

// UpsertEvent saves an event, keyed by id.
func (s *Store) UpsertEvent(e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var recurrence string
	if e.Recurrence != nil {
		recurrence = EncodeRRule(e.Recurrence)
	}
	attendees, _ := json.Marshal(e.Attendees)

	_, err := s.db.Exec(`
		INSERT INTO events (id, calendar_id, remote_id, title, description, location, start_time, end_time, all_day, recurrence, crm_contact_id, crm_deal_id, crm_task_id, attendees, start_label, end_label, html_link)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			calendar_id = excluded.calendar_id,
			remote_id = excluded.remote_id,
			title = excluded.title,
			description = excluded.description,
			location = excluded.location,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			all_day = excluded.all_day,
			recurrence = excluded.recurrence,
			crm_contact_id = excluded.crm_contact_id,
			crm_deal_id = excluded.crm_deal_id,
			crm_task_id = excluded.crm_task_id,
			attendees = excluded.attendees,
			start_label = excluded.start_label,
			end_label = excluded.end_label,
			html_link = excluded.html_link`,
		e.ID, e.CalendarID, e.RemoteID, e.Title, e.Description, e.Location,
		e.Start, e.End, e.AllDay, recurrence,
		e.CRMLinks.ContactID, e.CRMLinks.DealID, e.CRMLinks.TaskID,
		string(attendees), e.StartLabel, e.EndLabel, e.HTMLLink)
	return err
}

// GetEvent retrieves an event by id.
func (s *Store) GetEvent(id string) (*Event, error) {
	row := s.db.QueryRow(`SELECT * FROM events WHERE id = ?`, id)
	e, err := scanEvent(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	return e, err
}

// FindEventByIdentity looks up the local copy of a logical event by its
// (calendarId, remoteId) identity key.
func (s *Store) FindEventByIdentity(calendarID, remoteID string) (*Event, error) {
	row := s.db.QueryRow(`SELECT * FROM events WHERE calendar_id = ? AND remote_id = ?`, calendarID, remoteID)
	e, err := scanEvent(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %s/%s: %w", calendarID, remoteID, ErrNotFound)
	}
	return e, err
}

// ListEvents retrieves events on the given calendars overlapping the
// half-open window, ordered by start time. Recurring events are returned
// whenever their base instance starts before the window end, since later
// occurrences may fall inside it; expansion happens in the caller.
func (s *Store) ListEvents(calendarIDs []string, w Window) ([]*Event, error) {
	if len(calendarIDs) == 0 {
		return nil, nil
	}

	query := `SELECT * FROM events WHERE calendar_id IN (?` +
		repeatPlaceholder(len(calendarIDs)-1) +
		`) AND start_time < ? AND (end_time > ? OR (recurrence IS NOT NULL AND recurrence != '')) ORDER BY start_time`
	args := make([]any, 0, len(calendarIDs)+2)
	for _, id := range calendarIDs {
		args = append(args, id)
	}
	args = append(args, w.End, w.Start)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// DeleteEvent deletes an event.
func (s *Store) DeleteEvent(id string) error {
	_, err := s.db.Exec(`DELETE FROM events WHERE id = ?`, id)
	return err
}

// --- Share Operations ---

// ListShares returns the grants on a calendar, oldest first.
func (s *Store) ListShares(calendarID string) ([]*Share, error) {
	rows, err := s.db.Query(`SELECT calendar_id, user_id, role, created_at FROM calendar_shares WHERE calendar_id = ? ORDER BY created_at`, calendarID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shares []*Share
	for rows.Next() {
		sh := &Share{}
		if err := rows.Scan(&sh.CalendarID, &sh.UserID, &sh.Role, &sh.CreatedAt); err != nil {
			return nil, err
		}
		shares = append(shares, sh)
	}
	return shares, rows.Err()
}

// GrantShare grants (or updates) a user's role on a calendar.
func (s *Store) GrantShare(calendarID, userID string, role ShareRole) error {
	if !ValidRole(role) {
		return &ValidationError{Field: "role", Reason: fmt.Sprintf("role must be owner, editor or viewer, got %q", role)}
	}
	if _, err := s.GetCalendar(calendarID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO calendar_shares (calendar_id, user_id, role, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(calendar_id, user_id) DO UPDATE SET role = excluded.role`,
		calendarID, userID, role, time.Now().UTC())
	return err
}

// RevokeShare removes a user's grant on a calendar.
func (s *Store) RevokeShare(calendarID, userID string) error {
	res, err := s.db.Exec(`DELETE FROM calendar_shares WHERE calendar_id = ? AND user_id = ?`, calendarID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("share %s/%s: %w", calendarID, userID, ErrNotFound)
	}
	return nil
}

// AuthorizeMutation checks whether userID may mutate events on a calendar.
// A calendar with no grants at all is unshared and open to its owner
// process; once grants exist, only owner and editor roles may write.
func (s *Store) AuthorizeMutation(calendarID, userID string) error {
	shares, err := s.ListShares(calendarID)
	if err != nil {
		return err
	}
	if len(shares) == 0 {
		return nil
	}
	for _, sh := range shares {
		if sh.UserID == userID {
			if sh.Role.CanMutate() {
				return nil
			}
			return fmt.Errorf("user %s is %s on calendar %s: %w", userID, sh.Role, calendarID, ErrForbidden)
		}
	}
	return fmt.Errorf("user %s has no grant on calendar %s: %w", userID, calendarID, ErrForbidden)
}

// --- Selection ---

// Selection returns the persisted ordered list of visible calendar ids.
// Validation against the registry happens at read time in the caller, not
// here.
func (s *Store) Selection() ([]string, error) {
	rows, err := s.db.Query(`SELECT calendar_id FROM selection ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SaveSelection atomically replaces the persisted selection. Last write
// wins; saving the same list twice is a no-op.
func (s *Store) SaveSelection(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM selection`); err != nil {
		return err
	}
	for i, id := range ids {
		if _, err := tx.Exec(`INSERT INTO selection (position, calendar_id) VALUES (?, ?)`, i, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// --- Sync Windows ---

// LastSyncedAt returns when the exact (calendar, range) pair was last
// pulled, or the zero time if never.
func (s *Store) LastSyncedAt(calendarID string, w Window) (time.Time, error) {
	row := s.db.QueryRow(`SELECT last_synced_at FROM sync_windows WHERE calendar_id = ? AND range_start = ? AND range_end = ?`,
		calendarID, w.Start, w.End)
	var t time.Time
	err := row.Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	return t, err
}

// MarkSynced records a completed pull for the (calendar, range) pair.
func (s *Store) MarkSynced(calendarID string, w Window, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO sync_windows (calendar_id, range_start, range_end, last_synced_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(calendar_id, range_start, range_end) DO UPDATE SET last_synced_at = excluded.last_synced_at`,
		calendarID, w.Start, w.End, at)
	return err
}

// --- Scan helpers ---

func scanCalendar(scan func(...any) error) (*Calendar, error) {
	c := &Calendar{}
	var color, remoteID sql.NullString
	err := scan(&c.ID, &c.DisplayName, &color, &c.IsPrimary, &c.Origin, &remoteID)
	if err != nil {
		return nil, err
	}
	c.Color = color.String
	c.RemoteID = remoteID.String
	if c.Color == "" {
		c.Color = "#4285f4"
	}
	return c, nil
}

func scanEvent(scan func(...any) error) (*Event, error) {
	e := &Event{}
	var remoteID, description, location, recurrence sql.NullString
	var contactID, dealID, taskID, attendees sql.NullString
	var startLabel, endLabel, htmlLink sql.NullString
	err := scan(&e.ID, &e.CalendarID, &remoteID, &e.Title, &description, &location,
		&e.Start, &e.End, &e.AllDay, &recurrence,
		&contactID, &dealID, &taskID, &attendees,
		&startLabel, &endLabel, &htmlLink)
	if err != nil {
		return nil, err
	}

	e.RemoteID = remoteID.String
	e.Description = description.String
	e.Location = location.String
	e.CRMLinks = CRMLinks{ContactID: contactID.String, DealID: dealID.String, TaskID: taskID.String}
	e.StartLabel = startLabel.String
	e.EndLabel = endLabel.String
	e.HTMLLink = htmlLink.String

	if recurrence.String != "" {
		// Rules are validated at write time, so a stored rule decodes.
		if rule, err := DecodeRRule(recurrence.String); err == nil {
			e.Recurrence = rule
		}
	}
	if attendees.String != "" && attendees.String != "null" {
		json.Unmarshal([]byte(attendees.String), &e.Attendees)
	}

	return e, nil
}

func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}
