package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"bitbucket.org/mmdatafocus/invoice_recon/reconcile"
)

// InvoiceExtraction keeps the raw extractor output (with reviewer
// corrections applied) so an invoice can be re-validated without
// re-extraction.
type InvoiceExtraction struct {
	ID          int            `gorm:"primary_key" json:"id"`
	WorkspaceId string         `gorm:"size:64;not null;index" json:"workspace_id"`
	InvoiceId   string         `gorm:"size:36;not null;uniqueIndex" json:"invoice_id"`
	Payload     datatypes.JSON `gorm:"not null" json:"payload"`
	Corrections int            `gorm:"not null;default:0" json:"corrections"`
	CorrectedBy *string        `gorm:"size:100" json:"corrected_by"`
	CorrectedAt *time.Time     `json:"corrected_at"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func NewInvoiceExtraction(workspaceId, invoiceId string, raw reconcile.RawExtraction) (*InvoiceExtraction, error) {
	payload, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	return &InvoiceExtraction{WorkspaceId: workspaceId, InvoiceId: invoiceId, Payload: datatypes.JSON(payload)}, nil
}

func (e *InvoiceExtraction) Raw() (reconcile.RawExtraction, error) {
	var raw reconcile.RawExtraction
	err := json.Unmarshal(e.Payload, &raw)
	return raw, err
}
