// Package storage defines the persistence collaborator consumed by the
// CalDAV handler and the reminder scheduler. Implementations own all I/O
// and all concurrency guarantees; the protocol core never touches a
// database itself. Please use the error values provided.
package storage

import (
	"context"
	"errors"
	"time"

	"taskdav/internal/model"
)

var (
	// ErrNotFound is returned when a requested resource doesn't exist.
	ErrNotFound = errors.New("resource not found")
	// ErrConflict is returned when an entity-tag precondition fails.
	ErrConflict = errors.New("resource conflict")
	// ErrInvalidInput is returned when the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input parameters")
	// ErrUnauthorized is returned when credentials don't match any user.
	ErrUnauthorized = errors.New("unauthorized")
)

// DueReminder joins a pending reminder with its owning task and the user
// the notification should go to.
type DueReminder struct {
	Reminder model.Reminder
	Task     model.Task
	User     model.User
}

// Storage connects the backend store with the CalDAV handler and the
// scheduler. The expected-ETag check inside SaveTask and the subsequent
// write must happen as one atomic unit per task UID: two concurrent saves
// racing on the same UID must not both pass the precondition.
type Storage interface {
	// AuthUser verifies credentials and returns the matching user.
	AuthUser(ctx context.Context, username, secret string) (*model.User, error)
	// GetUser fetches a user by username.
	GetUser(ctx context.Context, username string) (*model.User, error)
	// ListUsers returns all user accounts.
	ListUsers(ctx context.Context) ([]*model.User, error)

	// FindCalendar resolves a collection by owner username and slug.
	FindCalendar(ctx context.Context, owner, slug string) (*model.Calendar, error)
	// ListCalendars returns the collections owned by a user.
	ListCalendars(ctx context.Context, owner string) ([]*model.Calendar, error)

	// FindTask fetches one task by collection and UID.
	FindTask(ctx context.Context, calendarID int64, uid string) (*model.Task, error)
	// ListTasks returns all tasks in a collection.
	ListTasks(ctx context.Context, calendarID int64) ([]*model.Task, error)
	// SaveTask creates or replaces the task stored under task.UID in the
	// given collection. A non-empty expectedETag must equal the stored
	// task's current ETag or ErrConflict is returned without mutation;
	// an expectedETag against a UID that doesn't exist is also a conflict.
	// Returns the new ETag and whether the task was created.
	SaveTask(ctx context.Context, calendarID int64, task *model.Task, expectedETag string) (etag string, created bool, err error)
	// DeleteTask removes a task and its reminders.
	DeleteTask(ctx context.Context, calendarID int64, uid string) error

	// DueReminders returns unsent reminders whose trigger time is at or
	// before now.
	DueReminders(ctx context.Context, now time.Time) ([]DueReminder, error)
	// MarkReminderSent flags a reminder as dispatched.
	MarkReminderSent(ctx context.Context, reminderID int64) error
}
