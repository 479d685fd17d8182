// Package sqlite is the production Storage implementation backed by a
// single SQLite database file.
package sqlite

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"taskdav/internal/ics"
	"taskdav/internal/model"
	"taskdav/internal/storage"
	"taskdav/internal/validate"
)

// Store implements storage.Storage on database/sql + sqlite3.
type Store struct {
	db *sql.DB
}

// New opens (creating if necessary) the database at dbPath and applies
// migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			secret TEXT NOT NULL DEFAULT '',
			telegram_chat_id INTEGER NOT NULL DEFAULT 0,
			timezone TEXT NOT NULL DEFAULT 'UTC',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS calendars (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner TEXT NOT NULL,
			slug TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			color TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(owner, slug)
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			calendar_id INTEGER NOT NULL,
			uid TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL DEFAULT '',
			start_at TEXT NOT NULL,
			end_at TEXT NOT NULL,
			timezone TEXT NOT NULL DEFAULT 'UTC',
			all_day INTEGER NOT NULL DEFAULT 0,
			color TEXT NOT NULL DEFAULT '',
			rrule TEXT NOT NULL DEFAULT '',
			exceptions TEXT NOT NULL DEFAULT '',
			recurrence_end TEXT,
			etag TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (calendar_id) REFERENCES calendars(id),
			UNIQUE(calendar_id, uid)
		)`,
		`CREATE TABLE IF NOT EXISTS reminders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id INTEGER NOT NULL,
			offset_minutes INTEGER NOT NULL,
			channel TEXT NOT NULL DEFAULT '',
			sent INTEGER NOT NULL DEFAULT 0,
			trigger_at TEXT NOT NULL,
			FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_calendar_id ON tasks(calendar_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reminders_task_id ON reminders(task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reminders_trigger ON reminders(sent, trigger_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			if strings.Contains(err.Error(), "duplicate column name") {
				continue
			}
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

func (s *Store) AuthUser(ctx context.Context, username, secret string) (*model.User, error) {
	user, err := s.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, storage.ErrUnauthorized
		}
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(user.Secret), []byte(secret)) != 1 {
		return nil, storage.ErrUnauthorized
	}
	return user, nil
}

func (s *Store) GetUser(ctx context.Context, username string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, display_name, secret, telegram_chat_id, timezone
		 FROM users WHERE username = ?`, username)

	var u model.User
	err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Secret, &u.TelegramChatID, &u.Timezone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// CreateUser inserts a user account.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, display_name, secret, telegram_chat_id, timezone)
		 VALUES (?, ?, ?, ?, ?)`,
		u.Username, u.DisplayName, u.Secret, u.TelegramChatID, u.Timezone)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	u.ID, _ = res.LastInsertId()
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]*model.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, display_name, secret, telegram_chat_id, timezone
		 FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Secret, &u.TelegramChatID, &u.Timezone); err != nil {
			return nil, fmt.Errorf("list users: scan: %w", err)
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

func (s *Store) ListCalendars(ctx context.Context, owner string) ([]*model.Calendar, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner, slug, display_name, color, created_at, updated_at
		 FROM calendars WHERE owner = ? ORDER BY slug`, owner)
	if err != nil {
		return nil, fmt.Errorf("list calendars: %w", err)
	}
	defer rows.Close()

	var cals []*model.Calendar
	for rows.Next() {
		var c model.Calendar
		if err := rows.Scan(&c.ID, &c.Owner, &c.Slug, &c.DisplayName, &c.Color, &c.Created, &c.Updated); err != nil {
			return nil, fmt.Errorf("list calendars: scan: %w", err)
		}
		cals = append(cals, &c)
	}
	return cals, rows.Err()
}

func (s *Store) FindCalendar(ctx context.Context, owner, slug string) (*model.Calendar, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner, slug, display_name, color, created_at, updated_at
		 FROM calendars WHERE owner = ? AND slug = ?`, owner, slug)

	var c model.Calendar
	err := row.Scan(&c.ID, &c.Owner, &c.Slug, &c.DisplayName, &c.Color, &c.Created, &c.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find calendar: %w", err)
	}
	return &c, nil
}

// CreateCalendar inserts a collection.
func (s *Store) CreateCalendar(ctx context.Context, c *model.Calendar) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO calendars (owner, slug, display_name, color) VALUES (?, ?, ?, ?)`,
		c.Owner, c.Slug, c.DisplayName, c.Color)
	if err != nil {
		return fmt.Errorf("create calendar: %w", err)
	}
	c.ID, _ = res.LastInsertId()
	return nil
}

const taskColumns = `id, calendar_id, uid, title, description, location,
	start_at, end_at, timezone, all_day, color, rrule, exceptions,
	recurrence_end, created_at, updated_at`

func (s *Store) FindTask(ctx context.Context, calendarID int64, uid string) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE calendar_id = ? AND uid = ?`,
		calendarID, uid)

	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find task: %w", err)
	}
	if task.Reminders, err = loadReminders(ctx, s.db, task.ID); err != nil {
		return nil, err
	}
	return task, nil
}

func (s *Store) ListTasks(ctx context.Context, calendarID int64) ([]*model.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE calendar_id = ? ORDER BY start_at`,
		calendarID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("list tasks: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	for _, task := range tasks {
		if task.Reminders, err = loadReminders(ctx, s.db, task.ID); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

func (s *Store) SaveTask(ctx context.Context, calendarID int64, task *model.Task, expectedETag string) (string, bool, error) {
	if task.UID == "" {
		return "", false, storage.ErrInvalidInput
	}
	if err := task.Validate(); err != nil {
		return "", false, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("save task: begin: %w", err)
	}
	defer tx.Rollback()

	var (
		existingID   int64
		existingETag string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, etag FROM tasks WHERE calendar_id = ? AND uid = ?`,
		calendarID, task.UID).Scan(&existingID, &existingETag)
	exists := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", false, fmt.Errorf("save task: lookup: %w", err)
	}

	// The precondition check and the write share this transaction, so two
	// racing saves cannot both pass it.
	if expectedETag != "" && (!exists || existingETag != expectedETag) {
		return "", false, storage.ErrConflict
	}

	stored := *task
	stored.CalendarID = calendarID
	etag := ics.ETag(&stored)

	// Equal tags mean equal visible fields, so an unchanged save with an
	// unchanged reminder spec keeps the stored reminders, sent state and
	// all. Anything else recomputes them against the new start.
	keepReminders := false
	if exists && existingETag == etag {
		current, err := loadReminders(ctx, tx, existingID)
		if err != nil {
			return "", false, fmt.Errorf("save task: %w", err)
		}
		keepReminders = !validate.ReminderSpecChanged(current, stored.Reminders)
	}

	if exists {
		_, err = tx.ExecContext(ctx,
			`UPDATE tasks SET title = ?, description = ?, location = ?,
				start_at = ?, end_at = ?, timezone = ?, all_day = ?, color = ?,
				rrule = ?, exceptions = ?, recurrence_end = ?, etag = ?,
				updated_at = CURRENT_TIMESTAMP
			 WHERE id = ?`,
			stored.Title, stored.Description, stored.Location,
			formatInstant(stored.Start), formatInstant(stored.End), stored.Timezone,
			stored.AllDay, stored.Color, stored.RRule, joinInstants(stored.Exceptions),
			formatOptionalInstant(stored.RecurrenceEnd), etag, existingID)
		if err != nil {
			return "", false, fmt.Errorf("save task: update: %w", err)
		}
		stored.ID = existingID
		if !keepReminders {
			if _, err := tx.ExecContext(ctx, `DELETE FROM reminders WHERE task_id = ?`, existingID); err != nil {
				return "", false, fmt.Errorf("save task: clear reminders: %w", err)
			}
		}
	} else {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO tasks (calendar_id, uid, title, description, location,
				start_at, end_at, timezone, all_day, color, rrule, exceptions,
				recurrence_end, etag)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			calendarID, stored.UID, stored.Title, stored.Description, stored.Location,
			formatInstant(stored.Start), formatInstant(stored.End), stored.Timezone,
			stored.AllDay, stored.Color, stored.RRule, joinInstants(stored.Exceptions),
			formatOptionalInstant(stored.RecurrenceEnd), etag)
		if err != nil {
			return "", false, fmt.Errorf("save task: insert: %w", err)
		}
		stored.ID, _ = res.LastInsertId()
	}

	if !keepReminders {
		for _, rem := range stored.Reminders {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO reminders (task_id, offset_minutes, channel, sent, trigger_at)
				 VALUES (?, ?, ?, 0, ?)`,
				stored.ID, rem.OffsetMinutes, rem.Channel,
				formatInstant(rem.TriggerAt(stored.Start)))
			if err != nil {
				return "", false, fmt.Errorf("save task: insert reminder: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("save task: commit: %w", err)
	}
	return etag, !exists, nil
}

func (s *Store) DeleteTask(ctx context.Context, calendarID int64, uid string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE calendar_id = ? AND uid = ?`, calendarID, uid)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) DueReminders(ctx context.Context, now time.Time) ([]storage.DueReminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.task_id, r.offset_minutes, r.channel,
			t.uid, t.title, t.start_at, t.timezone,
			u.id, u.username, u.display_name, u.telegram_chat_id, u.timezone
		 FROM reminders r
		 JOIN tasks t ON t.id = r.task_id
		 JOIN calendars c ON c.id = t.calendar_id
		 JOIN users u ON u.username = c.owner
		 WHERE r.sent = 0 AND r.trigger_at <= ?
		 ORDER BY r.trigger_at`,
		formatInstant(now))
	if err != nil {
		return nil, fmt.Errorf("due reminders: %w", err)
	}
	defer rows.Close()

	var due []storage.DueReminder
	for rows.Next() {
		var (
			d        storage.DueReminder
			startRaw string
		)
		err := rows.Scan(&d.Reminder.ID, &d.Reminder.TaskID, &d.Reminder.OffsetMinutes,
			&d.Reminder.Channel,
			&d.Task.UID, &d.Task.Title, &startRaw, &d.Task.Timezone,
			&d.User.ID, &d.User.Username, &d.User.DisplayName,
			&d.User.TelegramChatID, &d.User.Timezone)
		if err != nil {
			return nil, fmt.Errorf("due reminders: scan: %w", err)
		}
		d.Task.Start, err = parseInstant(startRaw, d.Task.Timezone)
		if err != nil {
			return nil, fmt.Errorf("due reminders: %w", err)
		}
		due = append(due, d)
	}
	return due, rows.Err()
}

func (s *Store) MarkReminderSent(ctx context.Context, reminderID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET sent = 1 WHERE id = ?`, reminderID)
	if err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*model.Task, error) {
	var (
		t             model.Task
		startRaw      string
		endRaw        string
		exceptionsRaw string
		recEndRaw     sql.NullString
	)
	err := row.Scan(&t.ID, &t.CalendarID, &t.UID, &t.Title, &t.Description,
		&t.Location, &startRaw, &endRaw, &t.Timezone, &t.AllDay, &t.Color,
		&t.RRule, &exceptionsRaw, &recEndRaw, &t.Created, &t.Updated)
	if err != nil {
		return nil, err
	}

	if t.Start, err = parseInstant(startRaw, t.Timezone); err != nil {
		return nil, err
	}
	if t.End, err = parseInstant(endRaw, t.Timezone); err != nil {
		return nil, err
	}
	if t.Exceptions, err = splitInstants(exceptionsRaw); err != nil {
		return nil, err
	}
	if recEndRaw.Valid && recEndRaw.String != "" {
		end, err := time.Parse(time.RFC3339, recEndRaw.String)
		if err != nil {
			return nil, err
		}
		t.RecurrenceEnd = &end
	}
	return &t, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx, so reminder loading
// can run inside the SaveTask transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadReminders(ctx context.Context, q querier, taskID int64) ([]model.Reminder, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, task_id, offset_minutes, channel, sent
		 FROM reminders WHERE task_id = ? ORDER BY offset_minutes`, taskID)
	if err != nil {
		return nil, fmt.Errorf("load reminders: %w", err)
	}
	defer rows.Close()

	var reminders []model.Reminder
	for rows.Next() {
		var rem model.Reminder
		if err := rows.Scan(&rem.ID, &rem.TaskID, &rem.OffsetMinutes, &rem.Channel, &rem.Sent); err != nil {
			return nil, fmt.Errorf("load reminders: scan: %w", err)
		}
		reminders = append(reminders, rem)
	}
	return reminders, rows.Err()
}

// Instants are stored as RFC 3339; the timezone column restores the wall
// clock on the way out.
func formatInstant(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatOptionalInstant(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatInstant(*t)
}

func parseInstant(raw, timezone string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse instant %q: %w", raw, err)
	}
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err == nil {
			return t.In(loc), nil
		}
	}
	return t, nil
}

func joinInstants(ts []time.Time) string {
	parts := make([]string, 0, len(ts))
	for _, t := range ts {
		parts = append(parts, formatInstant(t))
	}
	return strings.Join(parts, ",")
}

func splitInstants(raw string) ([]time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	var out []time.Time
	for _, part := range strings.Split(raw, ",") {
		t, err := time.Parse(time.RFC3339, part)
		if err != nil {
			return nil, fmt.Errorf("parse instant list %q: %w", raw, err)
		}
		out = append(out, t)
	}
	return out, nil
}
