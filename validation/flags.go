package validation

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/invoice_recon/calendar"
)

// Flags are the validation signals of one processed invoice. Notes holds one
// human-readable line per raised flag, in evaluation order.
type Flags struct {
	MissingFields        bool     `json:"missing_fields"`
	MissingFieldNames    []string `json:"missing_field_names,omitempty"`
	MathMismatch         bool     `json:"math_mismatch"`
	VatInconsistent      bool     `json:"vat_inconsistent"`
	DateConversionFailed bool     `json:"date_conversion_failed"`
	DateMismatch         bool     `json:"date_mismatch"`
	DuplicateInvoice     bool     `json:"duplicate_invoice"`
	PanInvalid           bool     `json:"pan_invalid"`
	Notes                []string `json:"notes"`
}

func (f *Flags) note(format string, args ...interface{}) {
	f.Notes = append(f.Notes, fmt.Sprintf(format, args...))
}

// MarkDuplicate raises the duplicate flag after a merge candidate was found.
func (f *Flags) MarkDuplicate(existingID string) {
	f.DuplicateInvoice = true
	f.note("same vendor, invoice number and date as invoice %s; pages merged into it", existingID)
}

// Any reports whether at least one flag is raised.
func (f Flags) Any() bool {
	return f.MissingFields || f.MathMismatch || f.VatInconsistent || f.DateConversionFailed ||
		f.DateMismatch || f.DuplicateInvoice || f.PanInvalid
}

// NamedDate is one of the invoice dates with its field name, used in notes.
type NamedDate struct {
	Field string
	Date  *calendar.NormalizedDate
}

// Input is everything Validate looks at. Strings are already normalized;
// nil means not extracted.
type Input struct {
	VendorName    *string
	InvoiceNumber *string
	SellerPAN     *string

	// PrimaryDate is the BS date the invoice is filed under, if any.
	PrimaryDate *string
	Dates       []NamedDate

	TaxableAmount *decimal.Decimal
	VatAmount     *decimal.Decimal
	GrandTotal    *decimal.Decimal
	VatRate       decimal.Decimal
	VatRateSource RateSource
}

// Validate computes every flag of an invoice under policy p.
func Validate(in Input, p Policy) Flags {
	f := Flags{Notes: []string{}}

	if names := CheckMissingFields(Required{
		VendorName:    in.VendorName,
		InvoiceNumber: in.InvoiceNumber,
		PrimaryDate:   in.PrimaryDate,
		GrandTotal:    in.GrandTotal,
	}); len(names) > 0 {
		f.MissingFields = true
		f.MissingFieldNames = names
		f.note("missing required fields: %s", strings.Join(names, ", "))
	}

	if CheckMathMismatch(in.TaxableAmount, in.VatAmount, in.GrandTotal, p.MathTolerance) {
		f.MathMismatch = true
		vat := decimal.Zero
		if in.VatAmount != nil {
			vat = *in.VatAmount
		}
		f.note("taxable %s + VAT %s = %s does not match grand total %s (difference %s, tolerance %s)",
			in.TaxableAmount.StringFixed(2), vat.StringFixed(2), in.TaxableAmount.Add(vat).StringFixed(2),
			in.GrandTotal.StringFixed(2), mathDifference(in.TaxableAmount, in.VatAmount, in.GrandTotal).StringFixed(2),
			p.MathTolerance.String())
	}

	if CheckVatInconsistent(in.TaxableAmount, in.VatAmount, in.VatRate, p.VatTolerance) {
		f.VatInconsistent = true
		expected := ExpectedVat(*in.TaxableAmount, in.VatRate)
		f.note("VAT %s does not match %s%% of taxable %s (expected %s, tolerance %s)",
			in.VatAmount.StringFixed(2), in.VatRate.String(), in.TaxableAmount.StringFixed(2),
			expected.StringFixed(2), p.VatTolerance.String())
	}
	if in.VatRateSource == RateDefaulted {
		if implied, ok := ImpliedVatRate(in.TaxableAmount, in.VatAmount); ok {
			f.note("VAT rate could not be confirmed (implied %s%%); assumed %s%%",
				implied.StringFixed(2), in.VatRate.String())
		} else {
			f.note("VAT rate could not be confirmed without a taxable amount; assumed %s%%", in.VatRate.String())
		}
	}

	var converted []NamedDate
	for _, d := range in.Dates {
		if d.Date == nil {
			continue
		}
		if !d.Date.ConversionValid {
			f.DateConversionFailed = true
			cal := string(d.Date.CalendarDetected)
			if cal == "" {
				cal = "unknown calendar"
			}
			f.note("%s %q could not be converted (%s)", d.Field, d.Date.RawText, cal)
			continue
		}
		converted = append(converted, d)
	}
	for i := 1; i < len(converted); i++ {
		a, b := converted[0], converted[i]
		if a.Date.BsDate != b.Date.BsDate {
			f.DateMismatch = true
			f.note("%s %s differs from %s %s", a.Field, a.Date.BsDate, b.Field, b.Date.BsDate)
		}
	}

	if !ValidatePAN(in.SellerPAN) {
		f.PanInvalid = true
		f.note("seller PAN %q is not 9 digits", *in.SellerPAN)
	}
	return f
}
