package calendar

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/invoice_recon/normalize"
)

type Calendar string

const (
	BS Calendar = "BS"
	AD Calendar = "AD"
)

// BsLikelyYear: years above it can only be BS. Years below MinAmbiguousYear
// can only be AD.
const (
	BsLikelyYear     = 2050
	MinAmbiguousYear = 2000
)

var (
	ErrEmptyDate       = errors.New("empty date")
	ErrUnparsableDate  = errors.New("unparsable date")
	ErrImplausibleDate = errors.New("month or day out of bounds")
)

// The date must not sit inside a longer digit run: "12345/01/01" is not 2345/01/01.
var datePattern = regexp.MustCompile(`(?:^|\D)(\d{1,4})\s*[/\-.]\s*(\d{1,2})\s*[/\-.]\s*(\d{1,4})(?:\D|$)`)

// DateParts is a calendar-agnostic year/month/day triple.
type DateParts struct {
	Year  int
	Month int
	Day   int
}

func (p DateParts) String() string {
	return fmt.Sprintf("%04d/%02d/%02d", p.Year, p.Month, p.Day)
}

// ParseCalendar reads the calendar hint sent by the extraction collaborator.
// Unknown hints return "".
func ParseCalendar(hint string) Calendar {
	switch strings.ToLower(strings.TrimSpace(strings.ReplaceAll(hint, ".", ""))) {
	case "bs", "vs", "nepali", "bikram sambat", "bikram_sambat":
		return BS
	case "ad", "ce", "gregorian", "english":
		return AD
	default:
		return ""
	}
}

// ParseDateString extracts a year/month/day triple. Separators "/", "-" and
// "." are accepted and Devanagari digits are converted first. A 4-digit last
// component is read as DD/MM/YYYY. Month must be 1..12 and day 1..32.
func ParseDateString(s string) (DateParts, error) {
	s = strings.TrimSpace(normalize.ASCIIDigits(s))
	if s == "" {
		return DateParts{}, ErrEmptyDate
	}
	m := datePattern.FindStringSubmatch(s)
	if m == nil {
		return DateParts{}, fmt.Errorf("%w: %q", ErrUnparsableDate, s)
	}
	a, _ := strconv.Atoi(m[1])
	b, _ := strconv.Atoi(m[2])
	c, _ := strconv.Atoi(m[3])

	var p DateParts
	switch {
	case len(m[1]) == 4:
		p = DateParts{Year: a, Month: b, Day: c}
	case len(m[3]) == 4:
		p = DateParts{Year: c, Month: b, Day: a}
	default:
		return DateParts{}, fmt.Errorf("%w: %q has no 4-digit year", ErrUnparsableDate, s)
	}
	if p.Month < 1 || p.Month > 12 || p.Day < 1 || p.Day > 32 {
		return DateParts{}, fmt.Errorf("%w: %q", ErrImplausibleDate, s)
	}
	return p, nil
}

// FormatDateString re-formats a parsable date string as zero-padded YYYY/MM/DD.
func FormatDateString(s string) (string, error) {
	p, err := ParseDateString(s)
	if err != nil {
		return "", err
	}
	return p.String(), nil
}

// ParseBsDate parses and validates a BS date string against the table.
func ParseBsDate(s string) (BsDate, bool) {
	p, err := ParseDateString(s)
	if err != nil {
		return BsDate{}, false
	}
	bs := BsDate{Year: p.Year, Month: p.Month, Day: p.Day}
	return bs, bs.IsValid()
}

// ParseAdDate parses and validates a Gregorian date string.
func ParseAdDate(s string) (time.Time, bool) {
	p, err := ParseDateString(s)
	if err != nil {
		return time.Time{}, false
	}
	return adFromParts(p)
}

func adFromParts(p DateParts) (time.Time, bool) {
	t := time.Date(p.Year, time.Month(p.Month), p.Day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes overflow (Feb 30 -> Mar 2); reject instead.
	if t.Year() != p.Year || int(t.Month()) != p.Month || t.Day() != p.Day {
		return time.Time{}, false
	}
	return t, true
}

// DetectCalendar guesses the calendar of a date string from its year:
// above BsLikelyYear is BS, below MinAmbiguousYear is AD, and in between the
// date is BS if it is a valid BS date, otherwise AD.
func DetectCalendar(s string) (Calendar, error) {
	p, err := ParseDateString(s)
	if err != nil {
		return "", err
	}
	return detectParts(p), nil
}

func detectParts(p DateParts) Calendar {
	switch {
	case p.Year > BsLikelyYear:
		return BS
	case p.Year < MinAmbiguousYear:
		return AD
	}
	if (BsDate{Year: p.Year, Month: p.Month, Day: p.Day}).IsValid() {
		return BS
	}
	return AD
}

// NormalizedDate is one extracted date expressed in both calendars.
type NormalizedDate struct {
	RawText          string   `json:"raw_text"`
	CalendarDetected Calendar `json:"calendar_detected"`
	BsDate           string   `json:"bs_date"`
	AdDate           string   `json:"ad_date"`
	ConversionValid  bool     `json:"conversion_valid"`
}

// Bs returns the BS date when the conversion succeeded.
func (n *NormalizedDate) Bs() (BsDate, bool) {
	if n == nil || !n.ConversionValid {
		return BsDate{}, false
	}
	return ParseBsDate(n.BsDate)
}

// NormalizeDate converts a raw extracted date. A nil or blank raw value
// returns nil (no date). A recognised hint ("BS"/"AD") wins over detection.
// Failures come back with ConversionValid=false, never as an error.
func NormalizeDate(raw *string, hint string) *NormalizedDate {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil
	}
	out := &NormalizedDate{RawText: *raw}

	p, err := ParseDateString(*raw)
	if err != nil {
		out.CalendarDetected = ParseCalendar(hint)
		return out
	}
	cal := ParseCalendar(hint)
	if cal == "" {
		cal = detectParts(p)
	}
	out.CalendarDetected = cal

	switch cal {
	case BS:
		bs := BsDate{Year: p.Year, Month: p.Month, Day: p.Day}
		ad, ok := BsToAd(bs)
		if !ok {
			return out
		}
		out.BsDate = bs.String()
		out.AdDate = FormatAd(ad)
		out.ConversionValid = true
	case AD:
		ad, ok := adFromParts(p)
		if !ok {
			return out
		}
		bs, ok := AdToBs(ad)
		if !ok {
			return out
		}
		out.BsDate = bs.String()
		out.AdDate = FormatAd(ad)
		out.ConversionValid = true
	}
	return out
}
