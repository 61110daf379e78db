package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"bitbucket.org/mmdatafocus/invoice_recon/validation"
)

// InvoiceFlag stores the latest validation flags of an invoice. It is
// replaced on every run.
type InvoiceFlag struct {
	ID                   int            `gorm:"primary_key" json:"id"`
	WorkspaceId          string         `gorm:"size:64;not null;index" json:"workspace_id"`
	InvoiceId            string         `gorm:"size:36;not null;uniqueIndex" json:"invoice_id"`
	MissingFields        bool           `gorm:"not null;default:false" json:"missing_fields"`
	MissingFieldNames    datatypes.JSON `json:"missing_field_names"`
	MathMismatch         bool           `gorm:"not null;default:false" json:"math_mismatch"`
	VatInconsistent      bool           `gorm:"not null;default:false" json:"vat_inconsistent"`
	DateConversionFailed bool           `gorm:"not null;default:false" json:"date_conversion_failed"`
	DateMismatch         bool           `gorm:"not null;default:false" json:"date_mismatch"`
	DuplicateInvoice     bool           `gorm:"not null;default:false" json:"duplicate_invoice"`
	PanInvalid           bool           `gorm:"not null;default:false" json:"pan_invalid"`
	Notes                datatypes.JSON `json:"notes"`
	CreatedAt            time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func NewInvoiceFlag(workspaceId, invoiceId string, f validation.Flags) (*InvoiceFlag, error) {
	names, err := json.Marshal(emptyIfNil(f.MissingFieldNames))
	if err != nil {
		return nil, err
	}
	notes, err := json.Marshal(emptyIfNil(f.Notes))
	if err != nil {
		return nil, err
	}
	return &InvoiceFlag{
		WorkspaceId:          workspaceId,
		InvoiceId:            invoiceId,
		MissingFields:        f.MissingFields,
		MissingFieldNames:    datatypes.JSON(names),
		MathMismatch:         f.MathMismatch,
		VatInconsistent:      f.VatInconsistent,
		DateConversionFailed: f.DateConversionFailed,
		DateMismatch:         f.DateMismatch,
		DuplicateInvoice:     f.DuplicateInvoice,
		PanInvalid:           f.PanInvalid,
		Notes:                datatypes.JSON(notes),
	}, nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Validation converts the stored row back to flags.
func (f *InvoiceFlag) Validation() (validation.Flags, error) {
	out := validation.Flags{
		MissingFields:        f.MissingFields,
		MathMismatch:         f.MathMismatch,
		VatInconsistent:      f.VatInconsistent,
		DateConversionFailed: f.DateConversionFailed,
		DateMismatch:         f.DateMismatch,
		DuplicateInvoice:     f.DuplicateInvoice,
		PanInvalid:           f.PanInvalid,
		Notes:                []string{},
	}
	if len(f.MissingFieldNames) > 0 {
		if err := json.Unmarshal(f.MissingFieldNames, &out.MissingFieldNames); err != nil {
			return out, err
		}
	}
	if len(f.Notes) > 0 {
		if err := json.Unmarshal(f.Notes, &out.Notes); err != nil {
			return out, err
		}
	}
	return out, nil
}
