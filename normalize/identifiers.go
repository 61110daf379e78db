package normalize

import "strings"

// PANLength is the length of a Nepali Permanent Account Number.
const PANLength = 9

// InvoiceNumberKey converts digits, lowercases and drops every character
// outside [a-z0-9-].
func InvoiceNumberKey(s string) string {
	s = strings.ToLower(ASCIIDigits(s))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeInvoiceNumber is the nullable form of InvoiceNumberKey.
func NormalizeInvoiceNumber(in *string) *string {
	if in == nil {
		return nil
	}
	out := InvoiceNumberKey(*in)
	if out == "" {
		return nil
	}
	return &out
}

// NormalizePAN keeps only the digits of a PAN. The returned bool is true iff
// the result has exactly PANLength digits.
func NormalizePAN(in *string) (*string, bool) {
	if in == nil {
		return nil, false
	}
	s := ASCIIDigits(*in)
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return nil, false
	}
	out := b.String()
	return &out, len(out) == PANLength
}
