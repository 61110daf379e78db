package reconcile

import (
	"strings"

	"bitbucket.org/mmdatafocus/invoice_recon/calendar"
	"bitbucket.org/mmdatafocus/invoice_recon/dedup"
	"bitbucket.org/mmdatafocus/invoice_recon/normalize"
	"bitbucket.org/mmdatafocus/invoice_recon/validation"
)

const DefaultCurrency = "NPR"

func hint(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func firstPresent(values ...*string) *string {
	for _, v := range values {
		if v != nil && strings.TrimSpace(*v) != "" {
			return v
		}
	}
	return nil
}

// choosePrimary prefers the transaction date, and a converted date over one
// that failed to convert.
func choosePrimary(tx, bill *calendar.NormalizedDate) (*calendar.NormalizedDate, DateSource) {
	switch {
	case tx != nil && tx.ConversionValid:
		return tx, DateSourceTransaction
	case bill != nil && bill.ConversionValid:
		return bill, DateSourceBillIssuing
	case tx != nil:
		return tx, DateSourceTransaction
	case bill != nil:
		return bill, DateSourceBillIssuing
	}
	return nil, ""
}

// Process runs the full pipeline: dates, field normalization, merge key and
// validation.
func Process(raw RawExtraction, opts Options) Result {
	var d ProcessedInvoiceData

	d.TransactionDate = calendar.NormalizeDate(raw.TransactionDateRaw, hint(raw.TransactionDateCalendar))
	d.BillIssuingDate = calendar.NormalizeDate(raw.BillIssuingDateRaw, hint(raw.BillIssuingDateCalendar))
	d.PrimaryDate, d.PrimaryDateSource = choosePrimary(d.TransactionDate, d.BillIssuingDate)

	var primaryBs *string
	var primaryText *string
	if d.PrimaryDate != nil {
		primaryText = &d.PrimaryDate.RawText
		if bs, ok := d.PrimaryDate.Bs(); ok {
			s := bs.String()
			primaryBs = &s
			primaryText = &s
			fy := calendar.FiscalYear(bs)
			d.FiscalYear = &fy
		}
	}

	vendor := firstPresent(raw.VendorNameRaw, raw.VendorNameEn)
	d.VendorName = normalize.NormalizeString(vendor)
	d.VendorNameNormalized = normalize.NormalizeVendorName(vendor)

	invoiceNo := firstPresent(raw.InvoiceNumberRaw, raw.InvoiceNumberEn)
	d.InvoiceNumber = normalize.ConvertNepaliDigits(normalize.NormalizeString(invoiceNo))
	d.InvoiceNumberNormalized = normalize.NormalizeInvoiceNumber(invoiceNo)

	if pan, ok := normalize.NormalizePAN(raw.SellerPan); ok {
		d.SellerPan = pan
	} else {
		d.SellerPan = normalize.NormalizeString(raw.SellerPan)
	}

	d.TaxableAmount = raw.TaxableAmount.Decimal()
	d.VatAmount = raw.VatAmount.Decimal()
	d.GrandTotal = raw.GrandTotal.Decimal()
	d.VatRate, d.VatRateSource = validation.InferVatRate(d.TaxableAmount, d.VatAmount, raw.VatRate.Rate())
	d.IsVatInvoice = d.VatRate.IsPositive()

	d.Currency = opts.DefaultCurrency
	if d.Currency == "" {
		d.Currency = DefaultCurrency
	}
	if c := normalize.NormalizeString(raw.Currency); c != nil {
		d.Currency = strings.ToUpper(*c)
	}

	d.MergeKey = dedup.GenerateMergeKey(opts.WorkspaceID, vendor, invoiceNo, primaryBs)

	flags := validation.Validate(validation.Input{
		VendorName:    d.VendorNameNormalized,
		InvoiceNumber: d.InvoiceNumberNormalized,
		SellerPAN:     raw.SellerPan,
		PrimaryDate:   primaryText,
		Dates: []validation.NamedDate{
			{Field: "transaction_date", Date: d.TransactionDate},
			{Field: "bill_issuing_date", Date: d.BillIssuingDate},
		},
		TaxableAmount: d.TaxableAmount,
		VatAmount:     d.VatAmount,
		GrandTotal:    d.GrandTotal,
		VatRate:       d.VatRate,
		VatRateSource: d.VatRateSource,
	}, opts.Policy)

	return Result{Data: d, Flags: flags, CanApprove: opts.Policy.CanApprove(flags)}
}
