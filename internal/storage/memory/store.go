// Package memory is a map-backed Storage implementation used by tests and
// the example server. The precondition check and write in SaveTask share
// one mutex, which is all the atomicity the interface asks for.
package memory

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"taskdav/internal/ics"
	"taskdav/internal/model"
	"taskdav/internal/storage"
	"taskdav/internal/validate"
)

type taskEntry struct {
	task model.Task
	etag string
}

// Store implements storage.Storage using in-memory maps.
type Store struct {
	mu         sync.RWMutex
	users      map[string]*model.User
	calendars  map[string]*model.Calendar // key: owner/slug
	tasks      map[string]*taskEntry      // key: calendarID/uid
	nextID     int64
	reminderID int64
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		users:     make(map[string]*model.User),
		calendars: make(map[string]*model.Calendar),
		tasks:     make(map[string]*taskEntry),
	}
}

func taskKey(calendarID int64, uid string) string {
	return fmt.Sprintf("%d/%s", calendarID, uid)
}

func calendarKey(owner, slug string) string {
	return fmt.Sprintf("%s/%s", owner, slug)
}

// AddUser seeds a user.
func (s *Store) AddUser(u model.User) *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	u.ID = s.nextID
	s.users[u.Username] = &u
	return &u
}

// AddCalendar seeds a collection.
func (s *Store) AddCalendar(c model.Calendar) *model.Calendar {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	c.ID = s.nextID
	now := time.Now()
	c.Created = now
	c.Updated = now
	s.calendars[calendarKey(c.Owner, c.Slug)] = &c
	return &c
}

func (s *Store) AuthUser(_ context.Context, username, secret string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[username]
	if !ok || subtle.ConstantTimeCompare([]byte(user.Secret), []byte(secret)) != 1 {
		return nil, storage.ErrUnauthorized
	}
	u := *user
	return &u, nil
}

func (s *Store) GetUser(_ context.Context, username string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[username]
	if !ok {
		return nil, storage.ErrNotFound
	}
	u := *user
	return &u, nil
}

func (s *Store) ListUsers(_ context.Context) ([]*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]*model.User, 0, len(s.users))
	for _, user := range s.users {
		u := *user
		users = append(users, &u)
	}
	return users, nil
}

func (s *Store) ListCalendars(_ context.Context, owner string) ([]*model.Calendar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cals []*model.Calendar
	for _, cal := range s.calendars {
		if cal.Owner == owner {
			c := *cal
			cals = append(cals, &c)
		}
	}
	return cals, nil
}

func (s *Store) FindCalendar(_ context.Context, owner, slug string) (*model.Calendar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cal, ok := s.calendars[calendarKey(owner, slug)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *cal
	return &c, nil
}

func (s *Store) FindTask(_ context.Context, calendarID int64, uid string) (*model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.tasks[taskKey(calendarID, uid)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	t := entry.task
	return &t, nil
}

func (s *Store) ListTasks(_ context.Context, calendarID int64) ([]*model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tasks []*model.Task
	for _, entry := range s.tasks {
		if entry.task.CalendarID == calendarID {
			t := entry.task
			tasks = append(tasks, &t)
		}
	}
	return tasks, nil
}

func (s *Store) SaveTask(_ context.Context, calendarID int64, task *model.Task, expectedETag string) (string, bool, error) {
	if task.UID == "" {
		return "", false, storage.ErrInvalidInput
	}
	if err := task.Validate(); err != nil {
		return "", false, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := taskKey(calendarID, task.UID)
	existing, exists := s.tasks[key]

	if expectedETag != "" {
		if !exists || existing.etag != expectedETag {
			return "", false, storage.ErrConflict
		}
	}

	stored := *task
	stored.CalendarID = calendarID
	now := time.Now()
	if exists {
		stored.ID = existing.task.ID
		stored.Created = existing.task.Created
	} else {
		s.nextID++
		stored.ID = s.nextID
		stored.Created = now
	}
	stored.Updated = now

	// Reminders are owned by the task: replaced wholesale and reset to
	// unsent, since their trigger depends on the (possibly new) start.
	// The exception is an unchanged save: a sync client re-importing
	// identical content must not re-arm reminders that already fired.
	if exists && !validate.VisibleFieldsChanged(&existing.task, &stored) &&
		!validate.ReminderSpecChanged(existing.task.Reminders, task.Reminders) {
		stored.Reminders = append([]model.Reminder(nil), existing.task.Reminders...)
	} else {
		stored.Reminders = append([]model.Reminder(nil), task.Reminders...)
		for i := range stored.Reminders {
			s.reminderID++
			stored.Reminders[i].ID = s.reminderID
			stored.Reminders[i].TaskID = stored.ID
			stored.Reminders[i].Sent = false
		}
	}

	etag := ics.ETag(&stored)
	s.tasks[key] = &taskEntry{task: stored, etag: etag}
	return etag, !exists, nil
}

func (s *Store) DeleteTask(_ context.Context, calendarID int64, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := taskKey(calendarID, uid)
	if _, ok := s.tasks[key]; !ok {
		return storage.ErrNotFound
	}
	delete(s.tasks, key)
	return nil
}

func (s *Store) DueReminders(_ context.Context, now time.Time) ([]storage.DueReminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []storage.DueReminder
	for _, entry := range s.tasks {
		owner := s.calendarOwnerLocked(entry.task.CalendarID)
		if owner == nil {
			continue
		}
		for _, rem := range entry.task.Reminders {
			if rem.Sent || rem.TriggerAt(entry.task.Start).After(now) {
				continue
			}
			due = append(due, storage.DueReminder{
				Reminder: rem,
				Task:     entry.task,
				User:     *owner,
			})
		}
	}
	return due, nil
}

func (s *Store) MarkReminderSent(_ context.Context, reminderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range s.tasks {
		for i := range entry.task.Reminders {
			if entry.task.Reminders[i].ID == reminderID {
				entry.task.Reminders[i].Sent = true
				return nil
			}
		}
	}
	return storage.ErrNotFound
}

func (s *Store) calendarOwnerLocked(calendarID int64) *model.User {
	for _, cal := range s.calendars {
		if cal.ID == calendarID {
			if user, ok := s.users[cal.Owner]; ok {
				return user
			}
			return nil
		}
	}
	return nil
}
