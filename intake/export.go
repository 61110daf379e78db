package intake

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"bitbucket.org/mmdatafocus/invoice_recon/models"
	"bitbucket.org/mmdatafocus/invoice_recon/utils"
)

const reviewSheet = "Review Queue"

var reviewHeaders = []string{
	"Invoice ID", "Status", "Vendor", "Invoice No", "PAN", "Date (BS)", "Date (AD)", "Fiscal Year",
	"Taxable", "VAT", "Grand Total", "VAT Rate", "Can Approve", "Flags", "Notes",
}

func decimalCell(d *decimal.Decimal) interface{} {
	if d == nil {
		return ""
	}
	f, _ := d.Float64()
	return f
}

func flagNames(inv models.Invoice) (string, string) {
	if inv.Flags == nil {
		return "", ""
	}
	f, err := inv.Flags.Validation()
	if err != nil {
		return "", ""
	}
	var names []string
	for _, p := range []struct {
		on   bool
		name string
	}{
		{f.MissingFields, "missing_fields"},
		{f.MathMismatch, "math_mismatch"},
		{f.VatInconsistent, "vat_inconsistent"},
		{f.DateConversionFailed, "date_conversion_failed"},
		{f.DateMismatch, "date_mismatch"},
		{f.DuplicateInvoice, "duplicate_invoice"},
		{f.PanInvalid, "pan_invalid"},
	} {
		if p.on {
			names = append(names, p.name)
		}
	}
	return strings.Join(names, ", "), strings.Join(f.Notes, "\n")
}

// BuildReviewWorkbook writes one row per invoice of the review queue.
func BuildReviewWorkbook(invoices []models.Invoice) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", reviewSheet); err != nil {
		return nil, err
	}

	for i, h := range reviewHeaders {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(reviewSheet, cell, h); err != nil {
			return nil, err
		}
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	if err := f.SetRowStyle(reviewSheet, 1, 1, bold); err != nil {
		return nil, err
	}

	for i, inv := range invoices {
		flags, notes := flagNames(inv)
		adDate := ""
		if inv.PrimaryDateAd != nil {
			adDate = inv.PrimaryDateAd.Format("2006-01-02")
		}
		row := []interface{}{
			inv.ID,
			string(inv.Status),
			utils.DereferencePtr(inv.VendorName),
			utils.DereferencePtr(inv.InvoiceNumber),
			utils.DereferencePtr(inv.SellerPan),
			utils.DereferencePtr(inv.PrimaryDateBs),
			adDate,
			utils.DereferencePtr(inv.FiscalYear),
			decimalCell(inv.TaxableAmount),
			decimalCell(inv.VatAmount),
			decimalCell(inv.GrandTotal),
			inv.VatRate.String(),
			inv.CanApprove,
			flags,
			notes,
		}
		cell := fmt.Sprintf("A%d", i+2)
		if err := f.SetSheetRow(reviewSheet, cell, &row); err != nil {
			return nil, err
		}
	}
	return f, nil
}
