// Package calendar converts dates between Bikram Sambat (BS) and the
// Gregorian calendar (AD) using the month-length table in table.go.
// Conversion never panics: anything outside the table reports !ok.
package calendar

import (
	"fmt"
	"sort"
	"time"
)

// BsDate is a Bikram Sambat calendar date. Months are 1-indexed (1 = Baisakh).
type BsDate struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day"`
}

// String formats the date as zero-padded YYYY/MM/DD.
func (d BsDate) String() string {
	return fmt.Sprintf("%04d/%02d/%02d", d.Year, d.Month, d.Day)
}

const adLayout = "2006-01-02"

var (
	anchor time.Time
	// yearStart[i] is the day offset of BS (MinBsYear+i)/01/01 from anchor.
	// The last entry is one past the end of the table.
	yearStart [MaxBsYear - MinBsYear + 2]int
)

func init() {
	anchor = time.Date(bsAnchorAd[0], time.Month(bsAnchorAd[1]), bsAnchorAd[2], 0, 0, 0, 0, time.UTC)
	total := 0
	for i, months := range bsMonthDays {
		yearStart[i] = total
		for _, n := range months {
			total += n
		}
	}
	yearStart[len(yearStart)-1] = total
}

// DaysInMonth returns the length of a BS month, or false when the year is
// outside the table or the month is not 1..12.
func DaysInMonth(year, month int) (int, bool) {
	if year < MinBsYear || year > MaxBsYear || month < 1 || month > 12 {
		return 0, false
	}
	return bsMonthDays[year-MinBsYear][month-1], true
}

// DaysInYear returns the length of a BS year.
func DaysInYear(year int) (int, bool) {
	if year < MinBsYear || year > MaxBsYear {
		return 0, false
	}
	i := year - MinBsYear
	return yearStart[i+1] - yearStart[i], true
}

// IsValid reports whether d exists in the table.
func (d BsDate) IsValid() bool {
	n, ok := DaysInMonth(d.Year, d.Month)
	return ok && d.Day >= 1 && d.Day <= n
}

// BsToAd converts a BS date to its Gregorian date (UTC midnight).
func BsToAd(bs BsDate) (time.Time, bool) {
	if !bs.IsValid() {
		return time.Time{}, false
	}
	offset := yearStart[bs.Year-MinBsYear]
	for m := 0; m < bs.Month-1; m++ {
		offset += bsMonthDays[bs.Year-MinBsYear][m]
	}
	offset += bs.Day - 1
	return anchor.AddDate(0, 0, offset), true
}

// AdToBs converts a Gregorian date to BS. Only the calendar date of ad is
// used; its clock and location are ignored.
func AdToBs(ad time.Time) (BsDate, bool) {
	day := time.Date(ad.Year(), ad.Month(), ad.Day(), 0, 0, 0, 0, time.UTC)
	if day.Before(anchor) {
		return BsDate{}, false
	}
	offset := int(day.Sub(anchor).Hours() / 24)
	if offset >= yearStart[len(yearStart)-1] {
		return BsDate{}, false
	}

	// First year whose start is beyond offset, minus one.
	i := sort.Search(len(yearStart), func(i int) bool { return yearStart[i] > offset }) - 1
	rem := offset - yearStart[i]
	months := bsMonthDays[i]
	for m, n := range months {
		if rem < n {
			return BsDate{Year: MinBsYear + i, Month: m + 1, Day: rem + 1}, true
		}
		rem -= n
	}
	return BsDate{}, false
}

// FormatAd formats an AD date as YYYY-MM-DD.
func FormatAd(t time.Time) string {
	return t.Format(adLayout)
}

// SupportedAdRange returns the first and last Gregorian dates covered by the table.
func SupportedAdRange() (time.Time, time.Time) {
	return anchor, anchor.AddDate(0, 0, yearStart[len(yearStart)-1]-1)
}
