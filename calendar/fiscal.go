package calendar

import "fmt"

// FiscalYearStartMonth is Shrawan, the first month of Nepal's fiscal year.
const FiscalYearStartMonth = 4

// FiscalYear returns the fiscal year label of a BS date, e.g. "2082/83".
func FiscalYear(bs BsDate) string {
	if bs.Month >= FiscalYearStartMonth {
		return fmt.Sprintf("%d/%02d", bs.Year, (bs.Year+1)%100)
	}
	return fmt.Sprintf("%d/%02d", bs.Year-1, bs.Year%100)
}
