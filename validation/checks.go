// Package validation computes the arithmetic, tax and completeness flags of a
// processed invoice and decides whether it may be approved. All functions are
// pure; nil amounts mean the value was not extracted.
package validation

import (
	"strings"

	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/invoice_recon/normalize"
)

var (
	// DefaultTolerance is the absolute amount difference tolerated by the
	// math and VAT checks.
	DefaultTolerance = decimal.NewFromInt(2)

	StandardVatRate = decimal.NewFromInt(13)
	ZeroVatRate     = decimal.Zero

	// implied rates within this distance of StandardVatRate are accepted as 13%.
	impliedRateSlack = decimal.NewFromInt(1)
	hundred          = decimal.NewFromInt(100)
)

// Required field names reported in Flags.MissingFieldNames.
const (
	FieldVendorName    = "vendor_name"
	FieldInvoiceNumber = "invoice_number"
	FieldPrimaryDate   = "primary_date"
	FieldGrandTotal    = "grand_total"
)

// CheckMathMismatch reports whether taxable+vat differs from total by more
// than tolerance. Without a total or a taxable amount nothing can be checked
// and no mismatch is reported. A missing vat counts as zero.
func CheckMathMismatch(taxable, vat, total *decimal.Decimal, tolerance decimal.Decimal) bool {
	if total == nil || taxable == nil {
		return false
	}
	return mathDifference(taxable, vat, total).GreaterThan(tolerance)
}

func mathDifference(taxable, vat, total *decimal.Decimal) decimal.Decimal {
	sum := *taxable
	if vat != nil {
		sum = sum.Add(*vat)
	}
	return sum.Sub(*total).Abs()
}

// RateSource tells how InferVatRate arrived at its rate.
type RateSource string

const (
	RateExplicit  RateSource = "explicit"
	RateNone      RateSource = "none"
	RateImplied   RateSource = "implied"
	RateDefaulted RateSource = "defaulted"
)

// IsValidVatRate reports whether rate is one of the rates Nepal VAT allows.
func IsValidVatRate(rate decimal.Decimal) bool {
	return rate.Equal(ZeroVatRate) || rate.Equal(StandardVatRate)
}

// InferVatRate picks the VAT rate of an invoice. An explicit rate of 0 or 13
// wins. Otherwise an absent or zero vat means 0, and a vat whose implied rate
// is within one point of 13 means 13. Anything else defaults to 13.
func InferVatRate(taxable, vat, explicit *decimal.Decimal) (decimal.Decimal, RateSource) {
	if explicit != nil && IsValidVatRate(*explicit) {
		return *explicit, RateExplicit
	}
	if vat == nil || vat.IsZero() {
		return ZeroVatRate, RateNone
	}
	if implied, ok := ImpliedVatRate(taxable, vat); ok &&
		implied.Sub(StandardVatRate).Abs().LessThanOrEqual(impliedRateSlack) {
		return StandardVatRate, RateImplied
	}
	return StandardVatRate, RateDefaulted
}

// ImpliedVatRate returns vat/taxable*100, or false when taxable is absent or zero.
func ImpliedVatRate(taxable, vat *decimal.Decimal) (decimal.Decimal, bool) {
	if taxable == nil || vat == nil || taxable.IsZero() {
		return decimal.Zero, false
	}
	return vat.Div(*taxable).Mul(hundred), true
}

// ExpectedVat is taxable*rate/100.
func ExpectedVat(taxable, rate decimal.Decimal) decimal.Decimal {
	return taxable.Mul(rate).Div(hundred)
}

// CheckVatInconsistent reports whether vat differs from taxable*rate/100 by
// more than tolerance. It is only evaluated for a positive rate, a positive
// taxable amount and a present vat.
func CheckVatInconsistent(taxable, vat *decimal.Decimal, rate, tolerance decimal.Decimal) bool {
	if !rate.IsPositive() || taxable == nil || !taxable.IsPositive() || vat == nil {
		return false
	}
	return ExpectedVat(*taxable, rate).Sub(*vat).Abs().GreaterThan(tolerance)
}

// Required holds the fields every approvable invoice must carry.
type Required struct {
	VendorName    *string
	InvoiceNumber *string
	PrimaryDate   *string
	GrandTotal    *decimal.Decimal
}

// CheckMissingFields returns the names of absent required fields in a fixed
// order. A zero grand total is present.
func CheckMissingFields(r Required) []string {
	var missing []string
	if blank(r.VendorName) {
		missing = append(missing, FieldVendorName)
	}
	if blank(r.InvoiceNumber) {
		missing = append(missing, FieldInvoiceNumber)
	}
	if blank(r.PrimaryDate) {
		missing = append(missing, FieldPrimaryDate)
	}
	if r.GrandTotal == nil {
		missing = append(missing, FieldGrandTotal)
	}
	return missing
}

func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

// ValidatePAN reports whether an optional seller PAN is acceptable: absent,
// or normalizing to exactly nine digits.
func ValidatePAN(pan *string) bool {
	if blank(pan) {
		return true
	}
	_, ok := normalize.NormalizePAN(pan)
	return ok
}
