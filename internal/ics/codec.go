// Package ics is the bidirectional codec between the internal task
// representation and the iCalendar wire format. It handles single-occurrence
// events and to-dos, timezone-qualified recurring series, exception dates
// and embedded alarms. The codec operates on detached task values and
// performs no I/O.
package ics

import (
	"log/slog"
	"time"
)

const (
	prodID  = "-//taskdav//NONSGML taskdav//EN"
	version = "2.0"

	// propColor is the private extension property carrying the task color.
	propColor = "X-TASKDAV-COLOR"

	// todoTitlePrefix marks tasks decoded from VTODO components.
	todoTitlePrefix = "[Todo] "

	// todoDefaultDuration is the manufactured length of a task decoded from
	// a to-do with a timed due value. A product policy choice, not a
	// protocol requirement.
	todoDefaultDuration = 30 * time.Minute

	// maxReminderOffsetMinutes rejects alarm offsets beyond one month as
	// implausible. Such alarms are skipped, not clamped.
	maxReminderOffsetMinutes = 31 * 24 * 60

	maxTitleLen       = 100
	maxDescriptionLen = 2500
	maxLocationLen    = 200
)

// Wire formats for date and local date-time values.
const (
	dateFormat     = "20060102"
	dateTimeFormat = "20060102T150405"
)

// Codec converts between tasks and iCalendar components. Now is injected so
// decoding (which needs "today" for due-less to-dos) stays deterministic in
// tests; a nil Now falls back to time.Now.
type Codec struct {
	Logger *slog.Logger
	Now    func() time.Time
}

// NewCodec creates a codec logging through the given logger.
func NewCodec(logger *slog.Logger) *Codec {
	if logger == nil {
		logger = slog.Default()
	}
	return &Codec{Logger: logger, Now: time.Now}
}

func (c *Codec) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
