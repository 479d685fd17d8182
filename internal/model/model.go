// Package model holds the plain value objects shared by the storage layer,
// the iCalendar codec and the CalDAV handler. The codec and the recurrence
// engine operate on detached values and never reach back into storage.
package model

import (
	"fmt"
	"time"
)

// Task is the unit of synchronization. UID is the externally visible
// resource name and is never regenerated across updates; ID is the internal
// row key and does not appear on the wire.
type Task struct {
	ID         int64
	CalendarID int64

	// UID is the stable item identifier, used directly as the resource name.
	UID string

	Title       string
	Description string
	Location    string

	// Start and End carry the wall-clock time in the task's timezone.
	// When AllDay is set, only the date component is meaningful.
	Start    time.Time
	End      time.Time
	Timezone string
	AllDay   bool

	Color string

	// RRule is a single-line FREQ/BYDAY/COUNT/UNTIL rule, empty when the
	// task does not recur.
	RRule string
	// Exceptions are absolute instants excluded from the expansion.
	// Meaningless (and required empty) when RRule is empty.
	Exceptions []time.Time
	// RecurrenceEnd is an optional hard bound on the expansion, independent
	// of any UNTIL inside RRule.
	RecurrenceEnd *time.Time

	Created time.Time
	Updated time.Time

	Reminders []Reminder
}

// Duration returns the anchor duration. Every expanded occurrence carries
// exactly this duration.
func (t *Task) Duration() time.Duration {
	return t.End.Sub(t.Start)
}

// Validate checks the structural invariants of a task value.
func (t *Task) Validate() error {
	if !t.End.After(t.Start) {
		return fmt.Errorf("task %q: end must be after start", t.UID)
	}
	if t.RRule == "" && len(t.Exceptions) > 0 {
		return fmt.Errorf("task %q: exceptions without a recurrence rule", t.UID)
	}
	return nil
}

// Reminder is owned by exactly one task and is deleted with it. Its trigger
// time is always task start minus the offset.
type Reminder struct {
	ID            int64
	TaskID        int64
	OffsetMinutes int
	// Channel selects the notification backend, e.g. "telegram" or "log".
	Channel string
	Sent    bool
}

// TriggerAt computes the absolute dispatch instant for a given task start.
func (r *Reminder) TriggerAt(taskStart time.Time) time.Time {
	return taskStart.Add(-time.Duration(r.OffsetMinutes) * time.Minute)
}

// Occurrence is one concrete instance of a (possibly recurring) task. It is
// produced by the recurrence engine and never persisted.
type Occurrence struct {
	Start time.Time
	End   time.Time
}

// Calendar is a named collection of tasks scoped to one owner.
type Calendar struct {
	ID          int64
	Owner       string
	Slug        string
	DisplayName string
	Color       string
	Created     time.Time
	Updated     time.Time
}

// User is an account that owns calendars. Secret is only consulted by the
// Basic-auth layer; TelegramChatID by the telegram notification backend.
type User struct {
	ID             int64
	Username       string
	DisplayName    string
	Secret         string
	TelegramChatID int64
	Timezone       string
}
