// Package normalize canonicalizes the strings and amounts guessed by the
// extraction collaborator. Every exported function is pure and nil-safe: a nil
// or empty input normalizes to nil, never to an error.
package normalize

import "strings"

// Devanagari digits occupy U+0966..U+096F in order.
const (
	devanagariZero = '०'
	devanagariNine = '९'
)

// ASCIIDigits maps every Devanagari digit in s to its ASCII digit and leaves
// all other characters untouched.
func ASCIIDigits(s string) string {
	if !strings.ContainsFunc(s, isDevanagariDigit) {
		return s
	}
	return strings.Map(func(r rune) rune {
		if isDevanagariDigit(r) {
			return '0' + (r - devanagariZero)
		}
		return r
	}, s)
}

// ConvertNepaliDigits is the nullable form of ASCIIDigits.
func ConvertNepaliDigits(in *string) *string {
	if in == nil || *in == "" {
		return nil
	}
	out := ASCIIDigits(*in)
	return &out
}

func isDevanagariDigit(r rune) bool {
	return r >= devanagariZero && r <= devanagariNine
}
