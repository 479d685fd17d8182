package ics

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"taskdav/internal/model"
)

// ETag derives the entity tag for a task from exactly the fields that are
// visible in the wire format. It is content-addressed, not time-addressed:
// re-importing identical content yields the same tag, changing any visible
// field yields a different one, and internal row keys never influence it.
//
// The returned tag is an unquoted lowercase hex token; the handler adds the
// surrounding quotes on the wire.
func ETag(t *model.Task) string {
	loc := etagLocation(t)

	fields := []string{
		t.Title,
		t.Description,
		t.Location,
		formatETagTime(t.Start, loc, t.AllDay),
		formatETagTime(t.End, loc, t.AllDay),
		t.Timezone,
		strconv.FormatBool(t.AllDay),
		t.RRule,
		t.Color,
	}
	sum := sha1.Sum([]byte(strings.Join(fields, "\x1f")))
	return hex.EncodeToString(sum[:])
}

func formatETagTime(t time.Time, loc *time.Location, allDay bool) string {
	if allDay {
		return t.In(loc).Format(dateFormat)
	}
	return t.In(loc).Format(dateTimeFormat)
}

func etagLocation(t *model.Task) *time.Location {
	if t.Timezone != "" {
		if loc, err := time.LoadLocation(t.Timezone); err == nil {
			return loc
		}
	}
	return t.Start.Location()
}
