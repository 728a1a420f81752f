// Package utils provides shared utilities for text, math, and logging.
package utils

import "unicode/utf8"

// Truncate returns s cut to at most maxLen runes, with "..." appended if truncated.
// If maxLen is 0 or negative, returns s unchanged.
func Truncate(s string, maxLen int) string {
	cut, ok := TruncateRunes(s, maxLen)
	if !ok {
		return s
	}
	return cut + "..."
}

// TruncateRunes returns the first maxLen runes of s and whether anything was dropped.
// A non-positive maxLen means no limit.
func TruncateRunes(s string, maxLen int) (string, bool) {
	if maxLen <= 0 || utf8.RuneCountInString(s) <= maxLen {
		return s, false
	}
	n := 0
	for i := range s {
		if n == maxLen {
			return s[:i], true
		}
		n++
	}
	return s, false
}
