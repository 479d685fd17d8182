// Package scheduler runs the background jobs: a minute tick that
// dispatches due reminders and a daily digest of the day's occurrences.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"taskdav/internal/model"
	"taskdav/internal/notify"
	"taskdav/internal/recurrence"
	"taskdav/internal/storage"
)

// jobTimeout bounds one tick's storage and delivery work.
const jobTimeout = 30 * time.Second

// Scheduler owns the cron instance and its jobs.
type Scheduler struct {
	cron     *cron.Cron
	store    storage.Storage
	registry *notify.Registry
	engine   *recurrence.Engine
	logger   *slog.Logger

	digestSpec string
	location   *time.Location
}

// New creates a scheduler. morningTime is a HH:MM wall clock in the given
// location at which the daily digest goes out.
func New(store storage.Storage, registry *notify.Registry, logger *slog.Logger, loc *time.Location, morningTime string) (*Scheduler, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(morningTime, "%d:%d", &hour, &minute); err != nil {
		return nil, fmt.Errorf("invalid morning time %q: %w", morningTime, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return nil, fmt.Errorf("invalid morning time %q", morningTime)
	}

	return &Scheduler{
		cron:       cron.New(cron.WithLocation(loc)),
		store:      store,
		registry:   registry,
		engine:     recurrence.NewEngine(),
		logger:     logger,
		digestSpec: fmt.Sprintf("%d %d * * *", minute, hour),
		location:   loc,
	}, nil
}

// Start registers the jobs and runs until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc("* * * * *", s.checkReminders); err != nil {
		return fmt.Errorf("add reminder check: %w", err)
	}
	if _, err := s.cron.AddFunc(s.digestSpec, s.morningDigest); err != nil {
		return fmt.Errorf("add morning digest: %w", err)
	}

	s.cron.Start()
	s.logger.Info("scheduler started",
		"timezone", s.location.String(),
		"digest_spec", s.digestSpec)

	<-ctx.Done()
	return nil
}

// Stop halts the cron loop and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}

// checkReminders dispatches every reminder whose trigger time has passed.
// A reminder is marked sent only after its backend accepted it, so a
// failed delivery is retried on the next tick.
func (s *Scheduler) checkReminders() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	due, err := s.store.DueReminders(ctx, time.Now())
	if err != nil {
		s.logger.Error("failed to fetch due reminders", "error", err)
		return
	}

	for _, d := range due {
		n := notify.Notification{
			User:  d.User,
			Title: "Reminder: " + d.Task.Title,
			Body:  "Starts at " + formatUserTime(d.Task.Start, d.User),
		}
		if err := s.registry.Dispatch(ctx, d.Reminder.Channel, n); err != nil {
			s.logger.Warn("failed to deliver reminder",
				"reminder_id", d.Reminder.ID,
				"user", d.User.Username,
				"error", err)
			continue
		}
		if err := s.store.MarkReminderSent(ctx, d.Reminder.ID); err != nil {
			s.logger.Error("failed to mark reminder sent",
				"reminder_id", d.Reminder.ID,
				"error", err)
		}
	}
}

// morningDigest sends each user a summary of today's occurrences across
// all their collections. Users with nothing scheduled get no message.
func (s *Scheduler) morningDigest() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		s.logger.Error("failed to list users for digest", "error", err)
		return
	}

	for _, user := range users {
		if err := s.sendDigest(ctx, user); err != nil {
			s.logger.Warn("failed to send digest",
				"user", user.Username,
				"error", err)
		}
	}
}

func (s *Scheduler) sendDigest(ctx context.Context, user *model.User) error {
	loc := userLocation(user)
	now := time.Now().In(loc)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	cals, err := s.store.ListCalendars(ctx, user.Username)
	if err != nil {
		return err
	}

	var lines []string
	for _, cal := range cals {
		tasks, err := s.store.ListTasks(ctx, cal.ID)
		if err != nil {
			return err
		}
		for _, task := range tasks {
			occs, err := s.engine.ExpandTask(task, dayStart, dayEnd)
			if err != nil {
				s.logger.Warn("skipping task in digest",
					"uid", task.UID,
					"error", err)
				continue
			}
			for _, occ := range occs {
				if task.AllDay {
					lines = append(lines, "(all day) "+task.Title)
				} else {
					lines = append(lines, occ.Start.In(loc).Format("15:04")+" "+task.Title)
				}
			}
		}
	}
	if len(lines) == 0 {
		return nil
	}
	// All-day entries sort ahead of timed ones.
	sort.Strings(lines)

	n := notify.Notification{
		User:  *user,
		Title: fmt.Sprintf("Today: %d scheduled", len(lines)),
		Body:  strings.Join(lines, "\n"),
	}
	return s.registry.Dispatch(ctx, "", n)
}

func formatUserTime(t time.Time, user model.User) string {
	return t.In(userLocation(&user)).Format("Mon 15:04")
}

func userLocation(user *model.User) *time.Location {
	if user.Timezone != "" {
		if loc, err := time.LoadLocation(user.Timezone); err == nil {
			return loc
		}
	}
	return time.UTC
}
