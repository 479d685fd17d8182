package ics

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"
)

// HashInput builds the input string for fallback identifier hashing from a
// component's summary and raw start value. Exposed as a pure function so id
// stability across repeated imports can be tested directly.
func HashInput(summary, startRaw string) string {
	return summary + "\n" + startRaw
}

// FallbackUID derives a stable identifier for a component that carries
// none. Repeated imports of the same unmodified item hash to the same id; a
// random id is used only when there is nothing to hash.
func FallbackUID(summary, startRaw string) string {
	input := HashInput(summary, startRaw)
	if strings.TrimSpace(input) == "" {
		return uuid.NewString()
	}
	sum := sha1.Sum([]byte(input))
	return hex.EncodeToString(sum[:])
}

// decodeUID preserves the component's own identifier when present and
// otherwise derives a deterministic fallback.
func (c *Codec) decodeUID(comp *ical.Component, summary, startRaw string) string {
	if prop := comp.Props.Get(ical.PropUID); prop != nil && prop.Value != "" {
		return prop.Value
	}
	uid := FallbackUID(summary, startRaw)
	c.Logger.Debug("component without UID, derived fallback", "uid", uid)
	return uid
}
