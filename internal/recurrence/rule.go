package recurrence

import (
	"fmt"
	"strings"
)

// Recurrence rule grammar pieces accepted by ValidateRule. The expansion
// itself is delegated to rrule-go; this predicate exists so callers can
// reject a rule before attempting expansion (or before emitting it on the
// wire).
var knownFrequencies = map[string]struct{}{
	"SECONDLY": {},
	"MINUTELY": {},
	"HOURLY":   {},
	"DAILY":    {},
	"WEEKLY":   {},
	"MONTHLY":  {},
	"YEARLY":   {},
}

var knownRuleKeys = map[string]struct{}{
	"FREQ":       {},
	"UNTIL":      {},
	"COUNT":      {},
	"INTERVAL":   {},
	"BYSECOND":   {},
	"BYMINUTE":   {},
	"BYHOUR":     {},
	"BYDAY":      {},
	"BYMONTHDAY": {},
	"BYYEARDAY":  {},
	"BYWEEKNO":   {},
	"BYMONTH":    {},
	"BYSETPOS":   {},
	"WKST":       {},
}

// ValidateRule reports whether rule is a well-formed single-line recurrence
// rule. The empty rule is valid (the task simply does not recur). Unknown
// FREQ tokens and unknown parameter keys are rejected.
func ValidateRule(rule string) error {
	if rule == "" {
		return nil
	}
	freqSeen := false
	for _, part := range strings.Split(rule, ";") {
		if part == "" {
			return fmt.Errorf("recurrence rule %q: empty part", rule)
		}
		key, value, found := strings.Cut(part, "=")
		if !found || value == "" {
			return fmt.Errorf("recurrence rule %q: part %q is not KEY=VALUE", rule, part)
		}
		key = strings.ToUpper(key)
		if _, ok := knownRuleKeys[key]; !ok {
			return fmt.Errorf("recurrence rule %q: unknown key %q", rule, key)
		}
		if key == "FREQ" {
			freqSeen = true
			if _, ok := knownFrequencies[strings.ToUpper(value)]; !ok {
				return fmt.Errorf("recurrence rule %q: unknown frequency %q", rule, value)
			}
		}
	}
	if !freqSeen {
		return fmt.Errorf("recurrence rule %q: missing FREQ", rule)
	}
	return nil
}
