package validation

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitbucket.org/mmdatafocus/invoice_recon/calendar"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func str(s string) *string { return &s }

func TestCheckMathMismatch(t *testing.T) {
	cases := []struct {
		name                string
		taxable, vat, total *decimal.Decimal
		want                bool
	}{
		{"off by seventy", dec("1000"), dec("130"), dec("1200"), true},
		{"within tolerance", dec("1000"), dec("130"), dec("1131"), false},
		{"exact", dec("1000"), dec("130"), dec("1130"), false},
		{"at tolerance", dec("1000"), dec("130"), dec("1132"), false},
		{"just over tolerance", dec("1000"), dec("130"), dec("1132.01"), true},
		{"no total", dec("1000"), dec("130"), nil, false},
		{"no taxable", nil, dec("130"), dec("1130"), false},
		{"no vat counts as zero", dec("1000"), nil, dec("1000"), false},
		{"no vat but total includes it", dec("1000"), nil, dec("1130"), true},
		{"zero total is checked", dec("1000"), dec("0"), dec("0"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CheckMathMismatch(tc.taxable, tc.vat, tc.total, DefaultTolerance))
		})
	}
}

func TestInferVatRate(t *testing.T) {
	cases := []struct {
		name                   string
		taxable, vat, explicit *decimal.Decimal
		rate                   string
		source                 RateSource
	}{
		{"implied thirteen", dec("1000"), dec("130"), nil, "13", RateImplied},
		{"implied within one point", dec("1000"), dec("121"), nil, "13", RateImplied},
		{"explicit thirteen", dec("1000"), dec("50"), dec("13"), "13", RateExplicit},
		{"explicit zero", dec("1000"), dec("130"), dec("0"), "0", RateExplicit},
		{"explicit invalid ignored", dec("1000"), dec("130"), dec("15"), "13", RateImplied},
		{"no vat", dec("1000"), nil, nil, "0", RateNone},
		{"zero vat", dec("1000"), dec("0"), nil, "0", RateNone},
		{"odd rate defaults", dec("1000"), dec("50"), nil, "13", RateDefaulted},
		{"no taxable defaults", nil, dec("130"), nil, "13", RateDefaulted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rate, source := InferVatRate(tc.taxable, tc.vat, tc.explicit)
			assert.True(t, decimal.RequireFromString(tc.rate).Equal(rate), "rate %s", rate)
			assert.Equal(t, tc.source, source)
		})
	}
}

func TestCheckVatInconsistent(t *testing.T) {
	thirteen := StandardVatRate
	assert.False(t, CheckVatInconsistent(dec("1000"), dec("130"), thirteen, DefaultTolerance))
	assert.False(t, CheckVatInconsistent(dec("1000"), dec("131.5"), thirteen, DefaultTolerance))
	assert.True(t, CheckVatInconsistent(dec("1000"), dec("100"), thirteen, DefaultTolerance))
	assert.False(t, CheckVatInconsistent(dec("1000"), dec("100"), decimal.Zero, DefaultTolerance))
	assert.False(t, CheckVatInconsistent(dec("0"), dec("100"), thirteen, DefaultTolerance))
	assert.False(t, CheckVatInconsistent(nil, dec("100"), thirteen, DefaultTolerance))
	assert.False(t, CheckVatInconsistent(dec("1000"), nil, thirteen, DefaultTolerance))
}

func TestCheckMissingFields(t *testing.T) {
	zero := decimal.Zero
	assert.Empty(t, CheckMissingFields(Required{str("acme"), str("inv-1"), str("2082/09/07"), &zero}))
	assert.Equal(t,
		[]string{FieldVendorName, FieldInvoiceNumber, FieldPrimaryDate, FieldGrandTotal},
		CheckMissingFields(Required{}))
	assert.Equal(t, []string{FieldInvoiceNumber},
		CheckMissingFields(Required{str("acme"), str("  "), str("2082/09/07"), dec("10")}))
}

func TestValidatePAN(t *testing.T) {
	assert.True(t, ValidatePAN(nil))
	assert.True(t, ValidatePAN(str("")))
	assert.True(t, ValidatePAN(str("123456789")))
	assert.True(t, ValidatePAN(str("१२३-४५६-७८९")))
	assert.False(t, ValidatePAN(str("12345678")))
	assert.False(t, ValidatePAN(str("PAN N/A")))
}

func bsDate(raw string) *calendar.NormalizedDate {
	return calendar.NormalizeDate(&raw, "BS")
}

func cleanInput() Input {
	rate, source := InferVatRate(dec("1000"), dec("130"), nil)
	return Input{
		VendorName:    str("acme traders"),
		InvoiceNumber: str("inv-42"),
		SellerPAN:     str("301234567"),
		PrimaryDate:   str("2082/09/07"),
		Dates: []NamedDate{
			{Field: "transaction_date", Date: bsDate("2082/09/07")},
			{Field: "bill_issuing_date", Date: bsDate("2082/09/07")},
		},
		TaxableAmount: dec("1000"),
		VatAmount:     dec("130"),
		GrandTotal:    dec("1130"),
		VatRate:       rate,
		VatRateSource: source,
	}
}

func TestValidateClean(t *testing.T) {
	f := Validate(cleanInput(), DefaultPolicy())
	assert.False(t, f.Any())
	assert.Empty(t, f.Notes)
	assert.NotNil(t, f.Notes)
	assert.True(t, CanApprove(f))
}

func TestValidateRaisesFlagsWithNotes(t *testing.T) {
	in := cleanInput()
	in.VendorName = nil
	in.GrandTotal = dec("1200")
	in.VatAmount = dec("100")
	in.SellerPAN = str("12345")
	in.Dates[1].Date = bsDate("2082/09/08")

	f := Validate(in, DefaultPolicy())
	assert.True(t, f.MissingFields)
	assert.Equal(t, []string{FieldVendorName}, f.MissingFieldNames)
	assert.True(t, f.MathMismatch)
	assert.True(t, f.VatInconsistent)
	assert.True(t, f.DateMismatch)
	assert.True(t, f.PanInvalid)
	assert.False(t, f.DateConversionFailed)
	require.Len(t, f.Notes, 5)
	assert.Contains(t, f.Notes[0], "vendor_name")
	assert.Contains(t, f.Notes[1], "difference 100.00")
	assert.Contains(t, f.Notes[2], "expected 130.00")
	assert.Contains(t, f.Notes[3], "2082/09/08")
	assert.Contains(t, f.Notes[4], "12345")
}

func TestValidateDateConversionFailed(t *testing.T) {
	in := cleanInput()
	in.Dates[0].Date = bsDate("2082/09/31")
	in.PrimaryDate = str("2082/09/07")

	f := Validate(in, DefaultPolicy())
	assert.True(t, f.DateConversionFailed)
	assert.False(t, f.DateMismatch)
	assert.False(t, CanApprove(f))
	require.Len(t, f.Notes, 1)
	assert.Contains(t, f.Notes[0], `"2082/09/31"`)
}

func TestValidateDefaultedRateIsNoted(t *testing.T) {
	in := cleanInput()
	in.VatAmount = dec("50")
	in.GrandTotal = dec("1050")
	in.VatRate, in.VatRateSource = InferVatRate(in.TaxableAmount, in.VatAmount, nil)

	f := Validate(in, DefaultPolicy())
	assert.True(t, f.VatInconsistent)
	assert.False(t, f.MathMismatch)
	require.Len(t, f.Notes, 2)
	assert.Contains(t, f.Notes[1], "implied 5.00%")
}

func TestGate(t *testing.T) {
	soft := Flags{VatInconsistent: true, PanInvalid: true, DateMismatch: true, DuplicateInvoice: true}
	assert.True(t, CanApprove(soft))

	strict := DefaultPolicy()
	strict.BlockOnVatInconsistent = true
	strict.BlockOnPanInvalid = true
	assert.False(t, strict.CanApprove(soft))
	assert.Equal(t, []string{"vat_inconsistent", "pan_invalid"}, strict.Blockers(soft))

	for _, f := range []Flags{{MissingFields: true}, {MathMismatch: true}, {DateConversionFailed: true}} {
		assert.False(t, CanApprove(f))
		err := DefaultPolicy().Gate(f)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrApprovalBlocked))
		var gateErr *GateError
		require.True(t, errors.As(err, &gateErr))
		assert.Len(t, gateErr.Reasons, 1)
	}
	assert.NoError(t, DefaultPolicy().Gate(soft))
}

func TestMarkDuplicate(t *testing.T) {
	f := Flags{}
	f.MarkDuplicate("abc")
	assert.True(t, f.DuplicateInvoice)
	assert.True(t, f.Any())
	require.Len(t, f.Notes, 1)
	assert.Contains(t, f.Notes[0], "abc")
}
