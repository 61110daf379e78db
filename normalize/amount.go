package normalize

import (
	"strings"

	"github.com/shopspring/decimal"
)

// currencyMarkers are removed before parsing. Matching is case-insensitive on
// the Latin forms.
var currencyMarkers = []string{
	"npr", "nrs", "rs.", "rs", "inr", "usd", "रु.", "रू.", "रु", "रू", "$", "₹",
	"/-",
}

// ParseAmount parses an amount written with mixed digit scripts, currency
// markers and thousands separators. Unparsable input yields nil.
func ParseAmount(in *string) *decimal.Decimal {
	if in == nil {
		return nil
	}
	s := strings.ToLower(strings.TrimSpace(ASCIIDigits(*in)))
	if s == "" {
		return nil
	}
	for _, m := range currencyMarkers {
		s = strings.ReplaceAll(s, m, "")
	}

	neg := false
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "-") {
		neg = !neg
		s = s[1:]
	}

	// Keep digits and '.', drop separators and whitespace; anything else is
	// not an amount.
	var b strings.Builder
	b.Grow(len(s) + 1)
	for _, r := range s {
		switch {
		case (r >= '0' && r <= '9') || r == '.':
			b.WriteRune(r)
		case r == ',' || r == '\'' || r == '_' || r == ' ' || r == '\u00a0' || r == '\t':
		default:
			return nil
		}
	}
	clean := b.String()
	if clean == "" || clean == "." {
		return nil
	}
	if neg {
		clean = "-" + clean
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return nil
	}
	return &d
}

// ParseAmountString is ParseAmount over a plain string.
func ParseAmountString(s string) *decimal.Decimal {
	return ParseAmount(&s)
}
