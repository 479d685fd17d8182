package ics

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"taskdav/internal/model"
	"taskdav/internal/recurrence"
)

// EncodeTask renders a task as a VCALENDAR wrapping a single VEVENT.
// owner is only consulted when the task carries no stable identifier and a
// fallback one has to be synthesized.
func (c *Codec) EncodeTask(t *model.Task, owner string) (*ical.Calendar, error) {
	comp, err := c.EncodeComponent(t, owner)
	if err != nil {
		return nil, err
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, version)
	cal.Props.SetText(ical.PropProductID, prodID)
	cal.Children = append(cal.Children, comp)
	return cal, nil
}

// EncodeTaskString renders a task as iCalendar text.
func (c *Codec) EncodeTaskString(t *model.Task, owner string) (string, error) {
	cal, err := c.EncodeTask(t, owner)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return "", fmt.Errorf("encode task %q: %w", t.UID, err)
	}
	return buf.String(), nil
}

// EncodeComponent builds the VEVENT component for a task.
func (c *Codec) EncodeComponent(t *model.Task, owner string) (*ical.Component, error) {
	loc := c.taskLocation(t)

	comp := ical.NewComponent(ical.CompEvent)

	uid := t.UID
	if uid == "" {
		// Legacy rows without a stable identifier.
		uid = fmt.Sprintf("task-%d@%s", t.ID, owner)
	}
	comp.Props.SetText(ical.PropUID, uid)

	if t.Title != "" {
		comp.Props.SetText(ical.PropSummary, t.Title)
	}
	if t.Description != "" {
		comp.Props.SetText(ical.PropDescription, t.Description)
	}
	if t.Location != "" {
		comp.Props.SetText(ical.PropLocation, t.Location)
	}

	if t.AllDay {
		// Date-only values carry no time and no timezone.
		setDateProp(comp, ical.PropDateTimeStart, t.Start.In(loc))
		setDateProp(comp, ical.PropDateTimeEnd, t.End.In(loc))
	} else {
		// Tag with the task's timezone so the wall clock survives readers
		// in other zones. Never converted to UTC on the way out.
		setLocalDateTimeProp(comp, ical.PropDateTimeStart, t.Start.In(loc), t.Timezone)
		setLocalDateTimeProp(comp, ical.PropDateTimeEnd, t.End.In(loc), t.Timezone)
	}

	if t.RRule != "" {
		if err := recurrence.ValidateRule(t.RRule); err != nil {
			c.Logger.Warn("dropping invalid recurrence rule",
				"uid", uid,
				"rrule", t.RRule,
				"error", err)
		} else {
			rprop := ical.NewProp(ical.PropRecurrenceRule)
			rprop.Value = t.RRule
			comp.Props.Set(rprop)

			if len(t.Exceptions) > 0 {
				comp.Props.Set(c.exceptionDatesProp(t, loc))
			}
		}
	}

	for _, rem := range t.Reminders {
		comp.Children = append(comp.Children, alarmComponent(t, rem))
	}

	if t.Color != "" {
		comp.Props.SetText(propColor, t.Color)
	}

	comp.Props.SetDateTime(ical.PropDateTimeStamp, c.now().UTC())
	if !t.Created.IsZero() {
		comp.Props.SetDateTime(ical.PropCreated, t.Created.UTC())
	}
	if !t.Updated.IsZero() {
		comp.Props.SetDateTime(ical.PropLastModified, t.Updated.UTC())
	}

	return comp, nil
}

// exceptionDatesProp renders all exception instants as one EXDATE property
// whose value format matches DTSTART exactly. A format mismatch between the
// two makes clients ignore the exceptions, so both sides go through the
// same formatting helpers.
func (c *Codec) exceptionDatesProp(t *model.Task, loc *time.Location) *ical.Prop {
	prop := ical.NewProp(ical.PropExceptionDates)

	values := make([]string, 0, len(t.Exceptions))
	switch {
	case t.AllDay:
		prop.Params.Set(ical.ParamValue, string(ical.ValueDate))
		for _, ex := range t.Exceptions {
			values = append(values, ex.In(loc).Format(dateFormat))
		}
	case t.Timezone != "" && t.Timezone != "UTC":
		prop.Params.Set(ical.ParamTimezoneID, t.Timezone)
		for _, ex := range t.Exceptions {
			values = append(values, ex.In(loc).Format(dateTimeFormat))
		}
	default:
		// UTC starts are written in Z form, so the exceptions must be too.
		for _, ex := range t.Exceptions {
			values = append(values, ex.UTC().Format(dateTimeFormat)+"Z")
		}
	}
	prop.Value = strings.Join(values, ",")
	return prop
}

// alarmComponent renders one reminder as a display alarm with a negative,
// start-relative duration trigger.
func alarmComponent(t *model.Task, rem model.Reminder) *ical.Component {
	alarm := ical.NewComponent(ical.CompAlarm)
	alarm.Props.SetText(ical.PropAction, "DISPLAY")

	trigger := ical.NewProp(ical.PropTrigger)
	trigger.Value = fmt.Sprintf("-PT%dM", rem.OffsetMinutes)
	alarm.Props.Set(trigger)

	alarm.Props.SetText(ical.PropDescription, fmt.Sprintf("Reminder: %s", t.Title))
	return alarm
}

// taskLocation resolves the task's IANA timezone, falling back to the
// location already attached to its start value.
func (c *Codec) taskLocation(t *model.Task) *time.Location {
	if t.Timezone == "" {
		return t.Start.Location()
	}
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		c.Logger.Warn("unknown task timezone, using stored location",
			"uid", t.UID,
			"timezone", t.Timezone)
		return t.Start.Location()
	}
	return loc
}

func setDateProp(comp *ical.Component, name string, t time.Time) {
	prop := ical.NewProp(name)
	prop.Params.Set(ical.ParamValue, string(ical.ValueDate))
	prop.Value = t.Format(dateFormat)
	comp.Props.Set(prop)
}

func setLocalDateTimeProp(comp *ical.Component, name string, t time.Time, tzid string) {
	prop := ical.NewProp(name)
	if tzid != "" && tzid != "UTC" {
		prop.Params.Set(ical.ParamTimezoneID, tzid)
		prop.Value = t.Format(dateTimeFormat)
	} else {
		prop.Value = t.UTC().Format(dateTimeFormat) + "Z"
	}
	comp.Props.Set(prop)
}
