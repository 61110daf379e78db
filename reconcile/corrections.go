package reconcile

// Corrections are the fields a reviewer edited. Nil leaves the extracted
// value in place; an empty string clears it.
type Corrections struct {
	VendorName              *string    `json:"vendor_name"`
	InvoiceNumber           *string    `json:"invoice_number"`
	SellerPan               *string    `json:"seller_pan"`
	TransactionDate         *string    `json:"transaction_date"`
	TransactionDateCalendar *string    `json:"transaction_date_calendar" binding:"omitempty,oneof=BS AD bs ad"`
	BillIssuingDate         *string    `json:"bill_issuing_date"`
	BillIssuingDateCalendar *string    `json:"bill_issuing_date_calendar" binding:"omitempty,oneof=BS AD bs ad"`
	TaxableAmount           *RawAmount `json:"taxable_amount"`
	VatAmount               *RawAmount `json:"vat_amount"`
	VatRate                 *RawAmount `json:"vat_rate"`
	GrandTotal              *RawAmount `json:"grand_total"`
	Currency                *string    `json:"currency"`
}

// Empty reports whether no field was corrected.
func (c Corrections) Empty() bool {
	return c == Corrections{}
}

// Apply overlays the corrections on raw. A corrected vendor or invoice number
// replaces both the raw and English variants.
func (c Corrections) Apply(raw RawExtraction) RawExtraction {
	if c.VendorName != nil {
		raw.VendorNameRaw = c.VendorName
		raw.VendorNameEn = nil
	}
	if c.InvoiceNumber != nil {
		raw.InvoiceNumberRaw = c.InvoiceNumber
		raw.InvoiceNumberEn = nil
	}
	if c.SellerPan != nil {
		raw.SellerPan = c.SellerPan
	}
	if c.TransactionDate != nil {
		raw.TransactionDateRaw = c.TransactionDate
		raw.TransactionDateCalendar = c.TransactionDateCalendar
	} else if c.TransactionDateCalendar != nil {
		raw.TransactionDateCalendar = c.TransactionDateCalendar
	}
	if c.BillIssuingDate != nil {
		raw.BillIssuingDateRaw = c.BillIssuingDate
		raw.BillIssuingDateCalendar = c.BillIssuingDateCalendar
	} else if c.BillIssuingDateCalendar != nil {
		raw.BillIssuingDateCalendar = c.BillIssuingDateCalendar
	}
	if c.TaxableAmount != nil {
		raw.TaxableAmount = c.TaxableAmount
	}
	if c.VatAmount != nil {
		raw.VatAmount = c.VatAmount
	}
	if c.VatRate != nil {
		raw.VatRate = c.VatRate
	}
	if c.GrandTotal != nil {
		raw.GrandTotal = c.GrandTotal
	}
	if c.Currency != nil {
		raw.Currency = c.Currency
	}
	return raw
}

// Revalidate applies reviewer corrections to the stored extraction and runs
// the pipeline again. Flags are recomputed from scratch. It returns the
// corrected extraction so it can be stored for the next round.
func Revalidate(raw RawExtraction, c Corrections, opts Options) (RawExtraction, Result) {
	corrected := c.Apply(raw)
	return corrected, Process(corrected, opts)
}
