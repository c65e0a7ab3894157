// Package policy masks personal data in free text before it leaves the device.
package policy

import (
	"regexp"

	"github.com/artwise/artwise/internal/realtime/protocol"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

// minPhoneDigits keeps date ranges and catalogue numbers such as "1503-1519" intact.
const minPhoneDigits = 10

// RedactPII masks email addresses, card numbers and phone numbers.
func RedactPII(input string) (redacted string, changed bool) {
	out := input

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// Cards first so their digits are not taken for a phone number.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllStringFunc(out, func(m string) string {
		if countDigits(m) < minPhoneDigits {
			return m
		}
		return "[REDACTED_PHONE]"
	})
	changed = changed || next != out
	out = next

	return out, changed
}

// RedactSessionConfig masks PII in the instructions and seed context of cfg.
func RedactSessionConfig(cfg protocol.SessionConfig) (protocol.SessionConfig, bool) {
	out := cfg.Clone()
	var a, b bool
	out.Instructions, a = RedactPII(cfg.Instructions)
	out.SeedContext, b = RedactPII(cfg.SeedContext)
	return out, a || b
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}
