// Package logsanitize provides helpers for sanitizing untrusted values before
// they are logged or recorded as analytics.
package logsanitize

import (
	"strings"
	"unicode/utf8"
)

// TruncationSuffix marks a value shortened by Truncate.
const TruncationSuffix = "..."

// Sanitize replaces control characters in s with '_' to reduce the risk of
// log injection (CWE-117).
//
// Replaced ranges:
//   - C0 controls 0x00-0x1F (except horizontal tab 0x09)
//   - DEL 0x7F and C1 controls 0x80-0x9F
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\t' {
			return '_'
		}
		if r >= 0x7f && r <= 0x9f {
			return '_'
		}
		return r
	}, s)
}

// Truncate sanitizes s and cuts it to at most max bytes, appending
// TruncationSuffix when anything was cut. The cut never splits a rune.
func Truncate(s string, max int) string {
	s = Sanitize(s)
	if max <= 0 || len(s) <= max {
		return s
	}

	cut := max - len(TruncationSuffix)
	if cut < 0 {
		cut = 0
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + TruncationSuffix
}
