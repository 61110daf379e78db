package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// corporateSuffixes are matched against the lowercased, whitespace-collapsed
// vendor name. Longer forms come first so "pvt ltd" wins over "ltd".
var corporateSuffixes = []string{
	"private limited",
	"pvt. ltd.",
	"pvt. ltd",
	"pvt ltd.",
	"pvt ltd",
	"p. ltd.",
	"p. ltd",
	"p ltd",
	"limited",
	"ltd.",
	"ltd",
	"प्राइभेट लिमिटेड",
	"प्रा. लि.",
	"प्रा.लि.",
	"प्रा लि",
	"लिमिटेड",
	"लि.",
}

// Clean is NormalizeString over a plain string. It returns "" for input that
// has no visible content.
func Clean(s string) string {
	if s == "" {
		return ""
	}
	s = norm.NFC.String(s)

	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			pendingSpace = b.Len() > 0
			continue
		}
		if unicode.IsControl(r) || r == '\u200b' || r == '\ufeff' {
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// NormalizeString trims, strips control characters and collapses internal
// whitespace runs to one space.
func NormalizeString(in *string) *string {
	if in == nil {
		return nil
	}
	out := Clean(*in)
	if out == "" {
		return nil
	}
	return &out
}

// VendorKey lowercases a cleaned vendor name and strips one trailing
// corporate suffix.
func VendorKey(s string) string {
	s = strings.ToLower(Clean(s))
	for _, suffix := range corporateSuffixes {
		if s == suffix {
			// The whole name is a suffix token; keep it rather than erase the vendor.
			break
		}
		if strings.HasSuffix(s, suffix) {
			rest := strings.TrimSuffix(s, suffix)
			if rest != strings.TrimRight(rest, " ,.") || endsWordBoundary(rest) {
				s = strings.TrimRight(rest, " ,.")
				break
			}
		}
	}
	return s
}

// NormalizeVendorName is the nullable form of VendorKey.
func NormalizeVendorName(in *string) *string {
	if in == nil {
		return nil
	}
	out := VendorKey(*in)
	if out == "" {
		return nil
	}
	return &out
}

// endsWordBoundary reports whether the text before a matched suffix ends at a
// word boundary, so "holtd" is not read as "ho" + "ltd".
func endsWordBoundary(rest string) bool {
	if rest == "" {
		return false
	}
	r := []rune(rest)
	last := r[len(r)-1]
	return !unicode.IsLetter(last) && !unicode.IsDigit(last) && !unicode.Is(unicode.Mn, last)
}
