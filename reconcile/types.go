// Package reconcile turns one raw extraction into a processed invoice with
// validation flags. It is pure: the same input always yields the same Result.
package reconcile

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/invoice_recon/calendar"
	"bitbucket.org/mmdatafocus/invoice_recon/normalize"
	"bitbucket.org/mmdatafocus/invoice_recon/validation"
)

// RawAmount is an amount as the extractor sent it. It accepts JSON strings
// and numbers; anything else is kept verbatim and later fails to parse.
type RawAmount string

func (a *RawAmount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || string(b) == "null":
		*a = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = RawAmount(s)
	default:
		*a = RawAmount(b)
	}
	return nil
}

// Decimal parses the amount, or returns nil when absent or unparsable.
func (a *RawAmount) Decimal() *decimal.Decimal {
	if a == nil {
		return nil
	}
	return normalize.ParseAmountString(string(*a))
}

// Rate parses a VAT rate; a trailing "%" is allowed.
func (a *RawAmount) Rate() *decimal.Decimal {
	if a == nil {
		return nil
	}
	s := strings.TrimSpace(string(*a))
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	return normalize.ParseAmountString(s)
}

// RawExtraction is the field guess set produced by the vision extractor for
// one invoice. Every field may be missing.
type RawExtraction struct {
	VendorNameRaw           *string    `json:"vendor_name_raw"`
	VendorNameEn            *string    `json:"vendor_name_en"`
	SellerPan               *string    `json:"seller_pan"`
	InvoiceNumberRaw        *string    `json:"invoice_number_raw"`
	InvoiceNumberEn         *string    `json:"invoice_number_en"`
	TransactionDateRaw      *string    `json:"transaction_date_raw"`
	TransactionDateCalendar *string    `json:"transaction_date_calendar"`
	BillIssuingDateRaw      *string    `json:"bill_issuing_date_raw"`
	BillIssuingDateCalendar *string    `json:"bill_issuing_date_calendar"`
	TaxableAmount           *RawAmount `json:"taxable_amount"`
	VatAmount               *RawAmount `json:"vat_amount"`
	VatRate                 *RawAmount `json:"vat_rate"`
	GrandTotal              *RawAmount `json:"grand_total"`
	Currency                *string    `json:"currency"`
}

type DateSource string

const (
	DateSourceTransaction DateSource = "transaction"
	DateSourceBillIssuing DateSource = "bill_issuing"
)

// ProcessedInvoiceData is the normalized invoice.
type ProcessedInvoiceData struct {
	VendorName              *string                  `json:"vendor_name"`
	VendorNameNormalized    *string                  `json:"vendor_name_normalized"`
	InvoiceNumber           *string                  `json:"invoice_number"`
	InvoiceNumberNormalized *string                  `json:"invoice_number_normalized"`
	SellerPan               *string                  `json:"seller_pan"`
	TransactionDate         *calendar.NormalizedDate `json:"transaction_date"`
	BillIssuingDate         *calendar.NormalizedDate `json:"bill_issuing_date"`
	PrimaryDate             *calendar.NormalizedDate `json:"primary_date"`
	PrimaryDateSource       DateSource               `json:"primary_date_source,omitempty"`
	FiscalYear              *string                  `json:"fiscal_year"`
	TaxableAmount           *decimal.Decimal         `json:"taxable_amount"`
	VatAmount               *decimal.Decimal         `json:"vat_amount"`
	GrandTotal              *decimal.Decimal         `json:"grand_total"`
	VatRate                 decimal.Decimal          `json:"vat_rate"`
	VatRateSource           validation.RateSource    `json:"vat_rate_source"`
	IsVatInvoice            bool                     `json:"is_vat_invoice"`
	Currency                string                   `json:"currency"`
	MergeKey                *string                  `json:"merge_key"`
}

// Options configure one pipeline run.
type Options struct {
	WorkspaceID string
	Policy      validation.Policy
	// DefaultCurrency is used when the extraction has none.
	DefaultCurrency string
}

// DefaultOptions uses the default approval policy.
func DefaultOptions(workspaceID string) Options {
	return Options{WorkspaceID: workspaceID, Policy: validation.DefaultPolicy(), DefaultCurrency: DefaultCurrency}
}

// Result is the output of one run.
type Result struct {
	Data       ProcessedInvoiceData `json:"data"`
	Flags      validation.Flags     `json:"flags"`
	CanApprove bool                 `json:"can_approve"`
}

// MarkDuplicate records that the run was merged into existingID and
// re-evaluates the gate.
func (r *Result) MarkDuplicate(existingID string, p validation.Policy) {
	r.Flags.MarkDuplicate(existingID)
	r.CanApprove = p.CanApprove(r.Flags)
}
