// Package geo provides name canonicalization for administrative zone ids.
package geo

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ToASCII converts a string to ASCII by:
// 1. Normalizing unicode (NFD) to decompose accented characters
// 2. Removing non-ASCII characters (diacritics, non-Latin scripts)
// 3. Cleaning up whitespace
func ToASCII(s string) string {
	// NFD separates base chars from diacritics so the diacritics can drop.
	t := norm.NFD.String(s)

	var result strings.Builder
	result.Grow(len(t))
	for _, r := range t {
		if r <= 127 {
			result.WriteRune(r)
		}
	}

	return strings.Join(strings.Fields(result.String()), " ")
}

// CanonicalSegment normalizes an administrative name into a zone-id segment:
// ASCII-folded, uppercased, spaces collapsed to underscores. "New Delhi" ->
// "NEW_DELHI", "São Paulo" -> "SAO_PAULO". Empty input stays empty.
func CanonicalSegment(name string) string {
	s := ToASCII(strings.TrimSpace(name))
	s = strings.ToUpper(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '-' || r == '/' || r == ':'
	})
	return strings.Join(fields, "_")
}
