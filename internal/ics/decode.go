package ics

import (
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"taskdav/internal/model"
	"taskdav/internal/recurrence"
)

// DecodeObject parses iCalendar text and maps the first VEVENT or VTODO
// component to a task. Malformed optional properties degrade to warnings;
// only structurally required pieces (an unparseable start, no component at
// all) produce an error.
func (c *Codec) DecodeObject(data string) (*model.Task, []string, error) {
	cal, err := ical.NewDecoder(strings.NewReader(data)).Decode()
	if err != nil {
		return nil, nil, fmt.Errorf("decode calendar: %w", err)
	}

	for _, comp := range cal.Children {
		switch comp.Name {
		case ical.CompEvent:
			return c.decodeEvent(comp)
		case ical.CompToDo:
			return c.decodeTodo(comp)
		}
	}
	return nil, nil, fmt.Errorf("decode calendar: no VEVENT or VTODO component")
}

// taskBuilder assembles a decoded task field by field so a single bad
// property only degrades that field.
type taskBuilder struct {
	task     model.Task
	warnings []string
}

func (b *taskBuilder) warnf(format string, args ...any) {
	b.warnings = append(b.warnings, fmt.Sprintf(format, args...))
}

// cappedText extracts a text property, truncating over-long values instead
// of failing. Verbose external producers are tolerated, not rejected.
func (b *taskBuilder) cappedText(comp *ical.Component, name string, max int) string {
	prop := comp.Props.Get(name)
	if prop == nil {
		return ""
	}
	v, err := prop.Text()
	if err != nil {
		b.warnf("%s: unreadable text value, field omitted: %v", name, err)
		return ""
	}
	return b.cap(name, v, max)
}

func (b *taskBuilder) cap(name, v string, max int) string {
	if r := []rune(v); len(r) > max {
		b.warnf("%s truncated to %d characters", name, max)
		return string(r[:max])
	}
	return v
}

func (c *Codec) decodeEvent(comp *ical.Component) (*model.Task, []string, error) {
	b := &taskBuilder{}

	startProp := comp.Props.Get(ical.PropDateTimeStart)
	if startProp == nil {
		return nil, b.warnings, fmt.Errorf("decode event: missing %s", ical.PropDateTimeStart)
	}

	// All-day detection is driven by the date-only value marker alone,
	// never by inspecting the time fields.
	allDay := startProp.Params.Get(ical.ParamValue) == string(ical.ValueDate)

	tzid, loc := c.resolveTimezone(b, startProp, allDay)

	start, err := startProp.DateTime(loc)
	if err != nil {
		return nil, b.warnings, fmt.Errorf("decode event: parse %s %q: %w", ical.PropDateTimeStart, startProp.Value, err)
	}

	end := c.decodeEnd(b, comp, start, loc, allDay)

	b.task = model.Task{
		Title:       b.cappedText(comp, ical.PropSummary, maxTitleLen),
		Description: b.cappedText(comp, ical.PropDescription, maxDescriptionLen),
		Location:    b.cappedText(comp, ical.PropLocation, maxLocationLen),
		Start:       start,
		End:         end,
		Timezone:    tzid,
		AllDay:      allDay,
	}

	b.task.UID = c.decodeUID(comp, b.task.Title, startProp.Value)
	c.decodeRecurrence(b, comp)
	c.decodeAlarms(b, comp)

	if prop := comp.Props.Get(propColor); prop != nil {
		b.task.Color = prop.Value
	}

	for _, w := range b.warnings {
		c.Logger.Debug("event decode warning", "uid", b.task.UID, "warning", w)
	}
	return &b.task, b.warnings, nil
}

// decodeTodo maps a VTODO with the hybrid due-value rule: a timed due value
// becomes a 30-minute task ending at the due instant; a date-only or absent
// due value becomes an all-day task for that date (today when absent).
func (c *Codec) decodeTodo(comp *ical.Component) (*model.Task, []string, error) {
	b := &taskBuilder{}

	var (
		start, end time.Time
		allDay     bool
		tzid       string
		dueRaw     string
	)

	dueProp := comp.Props.Get(ical.PropDue)
	switch {
	case dueProp != nil && dueProp.Params.Get(ical.ParamValue) != string(ical.ValueDate):
		dueRaw = dueProp.Value
		var loc *time.Location
		tzid, loc = c.resolveTimezone(b, dueProp, false)
		due, err := dueProp.DateTime(loc)
		if err != nil {
			return nil, b.warnings, fmt.Errorf("decode todo: parse %s %q: %w", ical.PropDue, dueProp.Value, err)
		}
		end = due
		start = due.Add(-todoDefaultDuration)

	case dueProp != nil:
		dueRaw = dueProp.Value
		due, err := dueProp.DateTime(time.UTC)
		if err != nil {
			return nil, b.warnings, fmt.Errorf("decode todo: parse %s %q: %w", ical.PropDue, dueProp.Value, err)
		}
		start = time.Date(due.Year(), due.Month(), due.Day(), 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 0, 1)
		allDay = true
		tzid = "UTC"

	default:
		now := c.now().UTC()
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 0, 1)
		allDay = true
		tzid = "UTC"
	}

	summary := b.cappedText(comp, ical.PropSummary, maxTitleLen)

	b.task = model.Task{
		Title:       b.cap(ical.PropSummary, todoTitlePrefix+summary, maxTitleLen),
		Description: b.cappedText(comp, ical.PropDescription, maxDescriptionLen),
		Location:    b.cappedText(comp, ical.PropLocation, maxLocationLen),
		Start:       start,
		End:         end,
		Timezone:    tzid,
		AllDay:      allDay,
	}
	b.task.UID = c.decodeUID(comp, summary, dueRaw)
	c.decodeAlarms(b, comp)

	if prop := comp.Props.Get(ical.PropRecurrenceRule); prop != nil {
		c.Logger.Debug("ignoring recurrence rule on to-do component", "uid", b.task.UID)
	}

	for _, w := range b.warnings {
		c.Logger.Debug("todo decode warning", "uid", b.task.UID, "warning", w)
	}
	return &b.task, b.warnings, nil
}

// resolveTimezone prefers the property's explicit TZID; when none is
// present and the value is not UTC, it defaults to UTC and records a
// warning rather than guessing.
func (c *Codec) resolveTimezone(b *taskBuilder, prop *ical.Prop, allDay bool) (string, *time.Location) {
	if allDay {
		return "", time.UTC
	}
	tzid := prop.Params.Get(ical.ParamTimezoneID)
	if tzid == "" {
		if !strings.HasSuffix(prop.Value, "Z") {
			b.warnf("%s: floating time without timezone, defaulting to UTC", prop.Name)
		}
		return "UTC", time.UTC
	}
	loc, err := time.LoadLocation(tzid)
	if err != nil {
		b.warnf("%s: unknown timezone %q, defaulting to UTC", prop.Name, tzid)
		return "UTC", time.UTC
	}
	return tzid, loc
}

func (c *Codec) decodeEnd(b *taskBuilder, comp *ical.Component, start time.Time, loc *time.Location, allDay bool) time.Time {
	if endProp := comp.Props.Get(ical.PropDateTimeEnd); endProp != nil {
		end, err := endProp.DateTime(loc)
		if err == nil {
			if end.After(start) {
				return end
			}
			if allDay && end.Equal(start) {
				return start.AddDate(0, 0, 1)
			}
			b.warnf("%s %q not after start, using default duration", ical.PropDateTimeEnd, endProp.Value)
		} else {
			b.warnf("%s: unreadable value, using default duration: %v", ical.PropDateTimeEnd, err)
		}
	} else if durProp := comp.Props.Get(ical.PropDuration); durProp != nil {
		dur, err := durProp.Duration()
		if err == nil && dur > 0 {
			return start.Add(dur)
		}
		b.warnf("%s %q unusable, using default duration", ical.PropDuration, durProp.Value)
	}

	if allDay {
		return start.AddDate(0, 0, 1)
	}
	return start.Add(todoDefaultDuration)
}

func (c *Codec) decodeRecurrence(b *taskBuilder, comp *ical.Component) {
	rruleProp := comp.Props.Get(ical.PropRecurrenceRule)
	if rruleProp == nil || rruleProp.Value == "" {
		return
	}
	if err := recurrence.ValidateRule(rruleProp.Value); err != nil {
		b.warnf("dropping invalid recurrence rule %q: %v", rruleProp.Value, err)
		return
	}
	b.task.RRule = rruleProp.Value

	for _, prop := range comp.Props[ical.PropExceptionDates] {
		b.task.Exceptions = append(b.task.Exceptions, c.decodeExceptionDates(b, &prop)...)
	}
}

// decodeExceptionDates parses one EXDATE property (a comma-joined date
// list) back into absolute instants.
func (c *Codec) decodeExceptionDates(b *taskBuilder, prop *ical.Prop) []time.Time {
	loc := time.UTC
	if tzid := prop.Params.Get(ical.ParamTimezoneID); tzid != "" {
		if l, err := time.LoadLocation(tzid); err == nil {
			loc = l
		} else {
			b.warnf("%s: unknown timezone %q, parsing in UTC", ical.PropExceptionDates, tzid)
		}
	}
	dateOnly := prop.Params.Get(ical.ParamValue) == string(ical.ValueDate)

	var out []time.Time
	for _, raw := range strings.Split(prop.Value, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		var (
			t   time.Time
			err error
		)
		switch {
		case dateOnly:
			t, err = time.ParseInLocation(dateFormat, raw, time.UTC)
		case strings.HasSuffix(raw, "Z"):
			t, err = time.Parse(dateTimeFormat+"Z0700", raw)
		default:
			t, err = time.ParseInLocation(dateTimeFormat, raw, loc)
		}
		if err != nil {
			b.warnf("%s: skipping unparseable value %q", ical.PropExceptionDates, raw)
			continue
		}
		out = append(out, t)
	}
	return out
}

// decodeAlarms maps embedded VALARM components to reminders. Only relative,
// start-relative triggers are honored; anything else is skipped.
func (c *Codec) decodeAlarms(b *taskBuilder, comp *ical.Component) {
	for _, child := range comp.Children {
		if child.Name != ical.CompAlarm {
			continue
		}
		trigger := child.Props.Get(ical.PropTrigger)
		if trigger == nil {
			continue
		}
		if related := trigger.Params.Get(ical.ParamRelated); strings.EqualFold(related, "END") {
			c.Logger.Debug("skipping end-relative alarm trigger", "trigger", trigger.Value)
			continue
		}
		dur, err := trigger.Duration()
		if err != nil {
			// Absolute date-time triggers land here.
			c.Logger.Debug("skipping non-relative alarm trigger", "trigger", trigger.Value)
			continue
		}
		// Zero stays: "-PT0M" means remind exactly at start.
		if dur > 0 {
			c.Logger.Debug("skipping alarm triggering after start", "trigger", trigger.Value)
			continue
		}
		offset := int(-dur / time.Minute)
		if offset > maxReminderOffsetMinutes {
			b.warnf("skipping alarm with implausible offset of %d minutes", offset)
			continue
		}
		b.task.Reminders = append(b.task.Reminders, model.Reminder{OffsetMinutes: offset})
	}
}
