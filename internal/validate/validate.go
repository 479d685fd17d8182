// Package validate holds the stateless input checks and output encoders
// applied at the protocol boundary. Everything here is a pure function.
package validate

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"taskdav/internal/model"
)

var (
	ErrEmpty      = errors.New("value is empty")
	ErrTooLong    = errors.New("value exceeds maximum length")
	ErrBadChar    = errors.New("value contains forbidden characters")
	ErrPathEscape = errors.New("value contains path traversal sequences")
)

const (
	maxIdentifierLen = 255
	maxUsernameLen   = 100
	maxSlugLen       = 100
)

var (
	identifierRe = regexp.MustCompile(`^[a-zA-Z0-9._@-]+$`)
	slugRe       = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
)

// ItemID checks an item identifier as it appears in a resource path.
// Identifiers end up embedded in response hrefs, so anything that could
// change path structure is rejected outright.
func ItemID(id string) error {
	return identifier(id, maxIdentifierLen)
}

// Username checks a collection-owner path segment.
func Username(name string) error {
	return identifier(name, maxUsernameLen)
}

func identifier(v string, max int) error {
	if v == "" {
		return ErrEmpty
	}
	if len(v) > max {
		return ErrTooLong
	}
	if strings.Contains(v, "..") {
		return ErrPathEscape
	}
	if strings.ContainsAny(v, `/\`) {
		return ErrPathEscape
	}
	if !identifierRe.MatchString(v) {
		return ErrBadChar
	}
	return nil
}

// Slug checks a collection name: lowercase alphanumeric groups joined by
// single hyphens, which is strictly narrower than the identifier grammar.
func Slug(slug string) error {
	if slug == "" {
		return ErrEmpty
	}
	if len(slug) > maxSlugLen {
		return ErrTooLong
	}
	if !slugRe.MatchString(slug) {
		return ErrBadChar
	}
	return nil
}

// Header strips all control characters (0x00-0x1F, 0x7F) from a value that
// is about to be written into a response header, closing off response
// splitting via CR/LF.
func Header(v string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, v)
}

var markupEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// Markup escapes the five reserved markup characters. Every user-controlled
// string interpolated into a structured response body goes through this (or
// through an XML builder that escapes equivalently).
func Markup(v string) string {
	return markupEscaper.Replace(v)
}

// VisibleFieldsChanged compares two tasks across exactly the fields that
// are visible in the wire format. A false result means re-importing the
// content is a no-op.
func VisibleFieldsChanged(a, b *model.Task) bool {
	if a.Title != b.Title ||
		a.Description != b.Description ||
		a.Location != b.Location ||
		a.Timezone != b.Timezone ||
		a.AllDay != b.AllDay ||
		a.RRule != b.RRule ||
		a.Color != b.Color {
		return true
	}
	if !a.Start.Equal(b.Start) || !a.End.Equal(b.End) {
		return true
	}
	return false
}

// ReminderSpecChanged reports whether two reminder sets request different
// schedules. Only the offset and channel matter: identifiers and sent
// state are delivery bookkeeping, not part of the requested schedule, and
// ordering carries no meaning.
func ReminderSpecChanged(a, b []model.Reminder) bool {
	if len(a) != len(b) {
		return true
	}
	key := func(r model.Reminder) string {
		return strconv.Itoa(r.OffsetMinutes) + "\x1f" + r.Channel
	}
	counts := make(map[string]int, len(a))
	for _, r := range a {
		counts[key(r)]++
	}
	for _, r := range b {
		k := key(r)
		if counts[k] == 0 {
			return true
		}
		counts[k]--
	}
	return false
}
