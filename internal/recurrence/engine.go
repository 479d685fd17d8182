// Package recurrence expands a recurrence rule plus an anchor occurrence
// into the concrete occurrences intersecting a query window. It is pure:
// no storage, no clock, no shared state.
package recurrence

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"taskdav/internal/model"
)

// Engine performs recurrence expansion and window intersection checks.
type Engine struct{}

// NewEngine creates a recurrence engine. The zero value is also usable.
func NewEngine() *Engine {
	return &Engine{}
}

// Expand returns the occurrences of the series described by the anchor
// (start, end), rule and exception set that intersect the half-open window
// [from, to), in chronological order.
//
// Every occurrence's duration equals the anchor duration. hardEnd, when
// non-nil, bounds enumeration independently of any UNTIL inside the rule;
// enumeration always stops at the window's upper edge and never
// materializes unbounded tails.
func (e *Engine) Expand(anchorStart, anchorEnd time.Time, rule string, hardEnd *time.Time, exceptions []time.Time, from, to time.Time) ([]model.Occurrence, error) {
	if !anchorEnd.After(anchorStart) {
		return nil, fmt.Errorf("expand: anchor end %v is not after start %v", anchorEnd, anchorStart)
	}
	if to.Before(from) {
		return nil, fmt.Errorf("expand: window end %v precedes start %v", to, from)
	}
	duration := anchorEnd.Sub(anchorStart)

	if rule == "" {
		// A non-recurring task yields at most its own anchor occurrence.
		if intersectsWindow(anchorStart, anchorEnd, from, to) && !isExcluded(anchorStart, exceptions) {
			return []model.Occurrence{{Start: anchorStart, End: anchorEnd}}, nil
		}
		return nil, nil
	}

	if err := ValidateRule(rule); err != nil {
		return nil, err
	}

	r, err := rrule.StrToRRule(rule)
	if err != nil {
		return nil, fmt.Errorf("expand: parse rule %q: %w", rule, err)
	}
	r.DTStart(anchorStart)

	// Enumerate in the anchor's location so BYDAY and friends follow the
	// task's wall clock, not the server's.
	loc := anchorStart.Location()
	enumEnd := to.In(loc)
	if hardEnd != nil && hardEnd.Before(enumEnd) {
		enumEnd = hardEnd.In(loc)
	}
	// Start enumeration one duration early so candidates that begin before
	// the window but overlap into it are not lost.
	enumStart := from.In(loc).Add(-duration)
	if enumStart.Before(anchorStart) {
		enumStart = anchorStart
	}

	candidates := r.Between(enumStart, enumEnd, true)

	var out []model.Occurrence
	for _, start := range candidates {
		if hardEnd != nil && start.After(*hardEnd) {
			break
		}
		end := start.Add(duration)
		if !intersectsWindow(start, end, from, to) {
			continue
		}
		if isExcluded(start, exceptions) {
			continue
		}
		out = append(out, model.Occurrence{Start: start, End: end})
	}
	return out, nil
}

// ExpandTask is a convenience wrapper over Expand for a stored task value.
func (e *Engine) ExpandTask(t *model.Task, from, to time.Time) ([]model.Occurrence, error) {
	return e.Expand(t.Start, t.End, t.RRule, t.RecurrenceEnd, t.Exceptions, from, to)
}

// HasOccurrenceInRange reports whether the series has at least one
// occurrence intersecting [from, to). Unlike Expand it walks the series
// lazily and stops at the first hit, so a window with an open upper edge
// never materializes an unbounded tail.
func (e *Engine) HasOccurrenceInRange(t *model.Task, from, to time.Time) (bool, error) {
	if t.RRule == "" {
		occ, err := e.ExpandTask(t, from, to)
		if err != nil {
			return false, err
		}
		return len(occ) > 0, nil
	}

	if !t.End.After(t.Start) {
		return false, fmt.Errorf("expand: anchor end %v is not after start %v", t.End, t.Start)
	}
	if to.Before(from) {
		return false, fmt.Errorf("expand: window end %v precedes start %v", to, from)
	}
	if err := ValidateRule(t.RRule); err != nil {
		return false, err
	}
	r, err := rrule.StrToRRule(t.RRule)
	if err != nil {
		return false, fmt.Errorf("expand: parse rule %q: %w", t.RRule, err)
	}
	r.DTStart(t.Start)
	duration := t.Duration()

	next := r.Iterator()
	for {
		start, ok := next()
		if !ok {
			return false, nil
		}
		if t.RecurrenceEnd != nil && start.After(*t.RecurrenceEnd) {
			return false, nil
		}
		// Starts ascend, so once one clears the window's upper edge no
		// later occurrence can intersect it.
		if !start.Before(to) {
			return false, nil
		}
		if start.Add(duration).After(from) && !isExcluded(start, t.Exceptions) {
			return true, nil
		}
	}
}

// intersectsWindow is the half-open interval overlap test: the occurrence
// [start, end) intersects [from, to).
func intersectsWindow(start, end, from, to time.Time) bool {
	return start.Before(to) && end.After(from)
}

// isExcluded reports whether a candidate start falls in the exception set.
// Comparison is by instant, so exceptions recorded in a different location
// still match.
func isExcluded(t time.Time, exceptions []time.Time) bool {
	for _, ex := range exceptions {
		if t.Equal(ex) {
			return true
		}
	}
	return false
}
