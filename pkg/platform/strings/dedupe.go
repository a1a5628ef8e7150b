// Package strings normalizes user supplied string lists such as filter
// arguments.
package strings

import (
	"strings"
)

// DedupeAndTrim drops blanks and duplicates after trimming. Order is kept.
func DedupeAndTrim(values []string) []string {
	return dedupe(values, strings.TrimSpace)
}

// DedupeAndTrimUpper is DedupeAndTrim with upper-casing, for enum style
// filters such as log severities.
//
//	DedupeAndTrimUpper([]string{" warning", "ERROR", "Warning"})
//	// []string{"WARNING", "ERROR"}
func DedupeAndTrimUpper(values []string) []string {
	return dedupe(values, func(s string) string {
		return strings.ToUpper(strings.TrimSpace(s))
	})
}

func dedupe(values []string, norm func(string) string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		n := norm(v)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		result = append(result, n)
	}
	return result
}
