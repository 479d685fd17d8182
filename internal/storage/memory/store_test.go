package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskdav/internal/model"
	"taskdav/internal/storage"
)

func seededStore() (*Store, *model.Calendar) {
	s := New()
	s.AddUser(model.User{Username: "alice", Secret: "s3cret", Timezone: "UTC"})
	cal := s.AddCalendar(model.Calendar{Owner: "alice", Slug: "work", DisplayName: "Work"})
	return s, cal
}

func sampleTask(uid string) *model.Task {
	return &model.Task{
		UID:      uid,
		Title:    "Standup",
		Start:    time.Date(2025, 10, 6, 10, 0, 0, 0, time.UTC),
		End:      time.Date(2025, 10, 6, 10, 30, 0, 0, time.UTC),
		Timezone: "UTC",
	}
}

func TestAuthUser(t *testing.T) {
	s, _ := seededStore()
	ctx := context.Background()

	user, err := s.AuthUser(ctx, "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)

	_, err = s.AuthUser(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, storage.ErrUnauthorized)

	_, err = s.AuthUser(ctx, "nobody", "s3cret")
	assert.ErrorIs(t, err, storage.ErrUnauthorized)
}

func TestSaveTaskCreateAndUpdate(t *testing.T) {
	s, cal := seededStore()
	ctx := context.Background()

	etag1, created, err := s.SaveTask(ctx, cal.ID, sampleTask("item-1"), "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, etag1)

	// Unconditional replace.
	task := sampleTask("item-1")
	task.Title = "Renamed"
	etag2, created, err := s.SaveTask(ctx, cal.ID, task, "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.NotEqual(t, etag1, etag2)

	got, err := s.FindTask(ctx, cal.ID, "item-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)
}

func TestSaveTaskPrecondition(t *testing.T) {
	s, cal := seededStore()
	ctx := context.Background()

	etag, _, err := s.SaveTask(ctx, cal.ID, sampleTask("item-1"), "")
	require.NoError(t, err)

	// Matching tag passes.
	task := sampleTask("item-1")
	task.Title = "First edit"
	_, _, err = s.SaveTask(ctx, cal.ID, task, etag)
	require.NoError(t, err)

	// The original tag is now stale.
	task = sampleTask("item-1")
	task.Title = "Second edit"
	_, _, err = s.SaveTask(ctx, cal.ID, task, etag)
	assert.ErrorIs(t, err, storage.ErrConflict)

	// The losing write must not have modified the stored task.
	got, err := s.FindTask(ctx, cal.ID, "item-1")
	require.NoError(t, err)
	assert.Equal(t, "First edit", got.Title)

	// Precondition against a missing item is also a conflict.
	_, _, err = s.SaveTask(ctx, cal.ID, sampleTask("missing"), etag)
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestSaveTaskValidatesInput(t *testing.T) {
	s, cal := seededStore()
	ctx := context.Background()

	task := sampleTask("")
	_, _, err := s.SaveTask(ctx, cal.ID, task, "")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	task = sampleTask("item-1")
	task.End = task.Start
	_, _, err = s.SaveTask(ctx, cal.ID, task, "")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestSaveTaskResetsReminders(t *testing.T) {
	s, cal := seededStore()
	ctx := context.Background()

	task := sampleTask("item-1")
	task.Reminders = []model.Reminder{{OffsetMinutes: 15, Sent: true}}
	_, _, err := s.SaveTask(ctx, cal.ID, task, "")
	require.NoError(t, err)

	got, err := s.FindTask(ctx, cal.ID, "item-1")
	require.NoError(t, err)
	require.Len(t, got.Reminders, 1)
	assert.False(t, got.Reminders[0].Sent, "reminders are reset to unsent on save")
	assert.NotZero(t, got.Reminders[0].ID)
}

func TestSaveTaskUnchangedKeepsSentReminders(t *testing.T) {
	s, cal := seededStore()
	ctx := context.Background()

	task := sampleTask("item-1")
	task.Reminders = []model.Reminder{{OffsetMinutes: 15}}
	_, _, err := s.SaveTask(ctx, cal.ID, task, "")
	require.NoError(t, err)

	got, err := s.FindTask(ctx, cal.ID, "item-1")
	require.NoError(t, err)
	require.Len(t, got.Reminders, 1)
	require.NoError(t, s.MarkReminderSent(ctx, got.Reminders[0].ID))

	// A sync client re-importing identical content must not re-arm a
	// reminder that already fired.
	again := sampleTask("item-1")
	again.Reminders = []model.Reminder{{OffsetMinutes: 15}}
	_, created, err := s.SaveTask(ctx, cal.ID, again, "")
	require.NoError(t, err)
	assert.False(t, created)

	got, err = s.FindTask(ctx, cal.ID, "item-1")
	require.NoError(t, err)
	require.Len(t, got.Reminders, 1)
	assert.True(t, got.Reminders[0].Sent, "unchanged save keeps sent state")

	// Moving the event re-arms it.
	moved := sampleTask("item-1")
	moved.Start = moved.Start.Add(time.Hour)
	moved.End = moved.End.Add(time.Hour)
	moved.Reminders = []model.Reminder{{OffsetMinutes: 15}}
	_, _, err = s.SaveTask(ctx, cal.ID, moved, "")
	require.NoError(t, err)

	got, err = s.FindTask(ctx, cal.ID, "item-1")
	require.NoError(t, err)
	require.Len(t, got.Reminders, 1)
	assert.False(t, got.Reminders[0].Sent, "visible change resets sent state")
}

func TestDeleteTask(t *testing.T) {
	s, cal := seededStore()
	ctx := context.Background()

	_, _, err := s.SaveTask(ctx, cal.ID, sampleTask("item-1"), "")
	require.NoError(t, err)

	require.NoError(t, s.DeleteTask(ctx, cal.ID, "item-1"))
	assert.ErrorIs(t, s.DeleteTask(ctx, cal.ID, "item-1"), storage.ErrNotFound)

	_, err = s.FindTask(ctx, cal.ID, "item-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDueReminders(t *testing.T) {
	s, cal := seededStore()
	ctx := context.Background()

	start := time.Now().Add(10 * time.Minute)
	task := sampleTask("item-1")
	task.Start = start
	task.End = start.Add(30 * time.Minute)
	task.Reminders = []model.Reminder{
		{OffsetMinutes: 15},
		{OffsetMinutes: 5},
	}
	_, _, err := s.SaveTask(ctx, cal.ID, task, "")
	require.NoError(t, err)

	// 15 minutes before start is already in the past, 5 minutes is not.
	due, err := s.DueReminders(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 15, due[0].Reminder.OffsetMinutes)
	assert.Equal(t, "alice", due[0].User.Username)

	require.NoError(t, s.MarkReminderSent(ctx, due[0].Reminder.ID))

	due, err = s.DueReminders(ctx, time.Now())
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestListCalendarsAndUsers(t *testing.T) {
	s, _ := seededStore()
	s.AddCalendar(model.Calendar{Owner: "alice", Slug: "home"})
	s.AddUser(model.User{Username: "bob", Secret: "x"})
	ctx := context.Background()

	cals, err := s.ListCalendars(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, cals, 2)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)
}
