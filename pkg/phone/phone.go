// Package phone normalizes chat identifiers into canonical international
// phone numbers for CRM contact lookups.
package phone

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	minDigits = 10
	maxDigits = 15
)

var nonDigits = regexp.MustCompile(`[^0-9]+`)

// Normalize strips a chat identifier (e.g. "5511999990000@s.whatsapp.net" or
// "+55 11 99999-0000") down to digits and validates the plausible E.164
// length range. It returns the digits-only form.
func Normalize(identifier string) (string, error) {
	raw := strings.TrimSpace(identifier)
	if at := strings.IndexByte(raw, '@'); at >= 0 {
		raw = raw[:at]
	}
	// Device suffixes like "5511999990000:12" carry no phone information.
	if colon := strings.IndexByte(raw, ':'); colon >= 0 {
		raw = raw[:colon]
	}

	digits := nonDigits.ReplaceAllString(raw, "")
	if len(digits) < minDigits || len(digits) > maxDigits {
		return "", fmt.Errorf("phone %q: %d digits outside plausible range %d-%d", identifier, len(digits), minDigits, maxDigits)
	}
	return digits, nil
}

// E164 returns the leading-plus form of an already normalized number.
func E164(digits string) string {
	if digits == "" {
		return ""
	}
	return "+" + digits
}

// Variants returns the lookup forms a CRM search should try, most specific
// first: +digits then bare digits.
func Variants(digits string) []string {
	if digits == "" {
		return nil
	}
	return []string{E164(digits), digits}
}
