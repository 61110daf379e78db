package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/invoice_recon/calendar"
	"bitbucket.org/mmdatafocus/invoice_recon/reconcile"
)

type InvoiceStatus string

const (
	InvoiceStatusPending     InvoiceStatus = "pending"
	InvoiceStatusNeedsReview InvoiceStatus = "needs_review"
	InvoiceStatusApproved    InvoiceStatus = "approved"
)

// Invoice is a processed invoice. MergeKey is unique; MySQL allows any number
// of NULL keys. MergePending is set while a computed merge key has not been
// claimed yet; such an invoice cannot be approved.
type Invoice struct {
	ID                      string           `gorm:"size:36;primaryKey" json:"id"`
	WorkspaceId             string           `gorm:"size:64;not null;index;uniqueIndex:uniq_invoice_submission" json:"workspace_id"`
	SubmissionId            string           `gorm:"size:255;not null;uniqueIndex:uniq_invoice_submission" json:"submission_id"`
	MergeKey                *string          `gorm:"size:512;uniqueIndex:uniq_invoice_merge_key" json:"merge_key"`
	Status                  InvoiceStatus    `gorm:"size:20;not null;index;default:pending" json:"status"`
	VendorName              *string          `gorm:"size:255" json:"vendor_name"`
	VendorNameNormalized    *string          `gorm:"size:255;index" json:"vendor_name_normalized"`
	InvoiceNumber           *string          `gorm:"size:100" json:"invoice_number"`
	InvoiceNumberNormalized *string          `gorm:"size:100" json:"invoice_number_normalized"`
	SellerPan               *string          `gorm:"size:20" json:"seller_pan"`
	TransactionDateBs       *string          `gorm:"size:10" json:"transaction_date_bs"`
	TransactionDateAd       *time.Time       `gorm:"type:date" json:"transaction_date_ad"`
	BillIssuingDateBs       *string          `gorm:"size:10" json:"bill_issuing_date_bs"`
	BillIssuingDateAd       *time.Time       `gorm:"type:date" json:"bill_issuing_date_ad"`
	PrimaryDateBs           *string          `gorm:"size:10;index" json:"primary_date_bs"`
	PrimaryDateAd           *time.Time       `gorm:"type:date" json:"primary_date_ad"`
	PrimaryDateSource       string           `gorm:"size:20" json:"primary_date_source"`
	FiscalYear              *string          `gorm:"size:7;index" json:"fiscal_year"`
	TaxableAmount           *decimal.Decimal `gorm:"type:decimal(20,4)" json:"taxable_amount"`
	VatAmount               *decimal.Decimal `gorm:"type:decimal(20,4)" json:"vat_amount"`
	GrandTotal              *decimal.Decimal `gorm:"type:decimal(20,4)" json:"grand_total"`
	VatRate                 decimal.Decimal  `gorm:"type:decimal(5,2);not null;default:0" json:"vat_rate"`
	VatRateSource           string           `gorm:"size:20" json:"vat_rate_source"`
	IsVatInvoice            bool             `gorm:"not null;default:false" json:"is_vat_invoice"`
	Currency                string           `gorm:"size:3;not null;default:NPR" json:"currency"`
	CanApprove              bool             `gorm:"not null;default:false" json:"can_approve"`
	MergePending            bool             `gorm:"not null;default:false" json:"merge_pending"`
	ApprovedBy              *string          `gorm:"size:100" json:"approved_by"`
	ApprovedAt              *time.Time       `json:"approved_at"`
	CreatedAt               time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time        `gorm:"autoUpdateTime" json:"updated_at"`

	Pages      []InvoicePage      `gorm:"foreignKey:InvoiceId;constraint:OnDelete:CASCADE" json:"pages,omitempty"`
	Flags      *InvoiceFlag       `gorm:"foreignKey:InvoiceId;constraint:OnDelete:CASCADE" json:"flags,omitempty"`
	Extraction *InvoiceExtraction `gorm:"foreignKey:InvoiceId;constraint:OnDelete:CASCADE" json:"-"`
}

func (inv *Invoice) BeforeCreate(tx *gorm.DB) error {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	return nil
}

func adDate(d *calendar.NormalizedDate) (*string, *time.Time) {
	if d == nil || !d.ConversionValid {
		return nil, nil
	}
	bs := d.BsDate
	ad, err := time.Parse("2006-01-02", d.AdDate)
	if err != nil {
		return &bs, nil
	}
	return &bs, &ad
}

// ApplyResult copies a pipeline result onto the invoice. The merge key is not
// copied: it is only set by claiming it.
func (inv *Invoice) ApplyResult(res reconcile.Result) {
	d := res.Data
	inv.VendorName = d.VendorName
	inv.VendorNameNormalized = d.VendorNameNormalized
	inv.InvoiceNumber = d.InvoiceNumber
	inv.InvoiceNumberNormalized = d.InvoiceNumberNormalized
	inv.SellerPan = d.SellerPan
	inv.TransactionDateBs, inv.TransactionDateAd = adDate(d.TransactionDate)
	inv.BillIssuingDateBs, inv.BillIssuingDateAd = adDate(d.BillIssuingDate)
	inv.PrimaryDateBs, inv.PrimaryDateAd = adDate(d.PrimaryDate)
	inv.PrimaryDateSource = string(d.PrimaryDateSource)
	inv.FiscalYear = d.FiscalYear
	inv.TaxableAmount = d.TaxableAmount
	inv.VatAmount = d.VatAmount
	inv.GrandTotal = d.GrandTotal
	inv.VatRate = d.VatRate
	inv.VatRateSource = string(d.VatRateSource)
	inv.IsVatInvoice = d.IsVatInvoice
	inv.Currency = d.Currency
	inv.CanApprove = res.CanApprove
	if inv.Status != InvoiceStatusApproved {
		inv.Status = InvoiceStatusNeedsReview
	}
}

// InvoicePage is one photographed page or attachment of an invoice. The file
// itself lives in object storage; FileRef points at it.
type InvoicePage struct {
	ID          string    `gorm:"size:36;primaryKey" json:"id"`
	WorkspaceId string    `gorm:"size:64;not null;index" json:"workspace_id"`
	InvoiceId   string    `gorm:"size:36;not null;uniqueIndex:uniq_invoice_page" json:"invoice_id"`
	PageNumber  int       `gorm:"not null;uniqueIndex:uniq_invoice_page" json:"page_number"`
	FileRef     string    `gorm:"size:1024" json:"file_ref"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *InvoicePage) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
