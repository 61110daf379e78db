package models

import "time"

// InvoiceMerge remembers an invoice that was merged into another one, so a
// late redelivery of its submission is routed to the survivor instead of
// recreating the invoice.
type InvoiceMerge struct {
	ID              int       `gorm:"primary_key" json:"id"`
	WorkspaceId     string    `gorm:"size:64;not null;uniqueIndex:uniq_merge_submission;index:idx_merge_invoice" json:"workspace_id"`
	SubmissionId    string    `gorm:"size:255;not null;uniqueIndex:uniq_merge_submission" json:"submission_id"`
	MergedInvoiceId string    `gorm:"size:36;not null;index:idx_merge_invoice" json:"merged_invoice_id"`
	SurvivorId      string    `gorm:"size:36;not null;index" json:"survivor_id"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}
