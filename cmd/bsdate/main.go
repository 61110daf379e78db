package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/invoice_recon/calendar"
)

// bsdate converts dates between Bikram Sambat and Gregorian.
//
//	bsdate 2082/09/07
//	bsdate -calendar AD 2025-12-22
func main() {
	hint := flag.String("calendar", "", "Calendar of the input: BS or AD. Detected when empty.")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: bsdate [-calendar BS|AD] DATE...")
		os.Exit(2)
	}

	failed := false
	for _, arg := range flag.Args() {
		raw := strings.TrimSpace(arg)
		nd := calendar.NormalizeDate(&raw, *hint)
		if nd == nil || !nd.ConversionValid {
			fmt.Fprintf(os.Stderr, "%s: cannot convert\n", raw)
			failed = true
			continue
		}
		fy := ""
		if bs, ok := nd.Bs(); ok {
			fy = calendar.FiscalYear(bs)
		}
		fmt.Printf("%s\t%s BS\t%s AD\tFY %s\n", raw, nd.BsDate, nd.AdDate, fy)
	}
	if failed {
		os.Exit(1)
	}
}
