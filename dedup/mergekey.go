// Package dedup builds the canonical merge key of an invoice and merges
// duplicate submissions that share it.
package dedup

import (
	"strings"

	"bitbucket.org/mmdatafocus/invoice_recon/calendar"
	"bitbucket.org/mmdatafocus/invoice_recon/normalize"
)

// KeySeparator joins the merge key components.
const KeySeparator = "|"

// GenerateMergeKey returns "{workspace}|{vendor}|{invoice number}|{bs date}",
// or nil unless all four components normalize to non-empty values.
func GenerateMergeKey(workspaceID string, vendorRaw, invoiceNumberRaw, primaryBsDate *string) *string {
	workspace := keyPart(strings.TrimSpace(workspaceID))
	if workspace == "" {
		return nil
	}
	vendor := normalize.NormalizeVendorName(vendorRaw)
	if vendor == nil {
		return nil
	}
	vendorKey := keyPart(*vendor)
	if vendorKey == "" {
		return nil
	}
	invoiceNo := normalize.NormalizeInvoiceNumber(invoiceNumberRaw)
	if invoiceNo == nil {
		return nil
	}
	if primaryBsDate == nil {
		return nil
	}
	bs, err := calendar.FormatDateString(*primaryBsDate)
	if err != nil {
		return nil
	}

	key := strings.Join([]string{workspace, vendorKey, *invoiceNo, bs}, KeySeparator)
	return &key
}

func keyPart(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, KeySeparator, ""))
}
