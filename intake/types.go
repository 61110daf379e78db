package intake

import (
	"github.com/go-playground/validator/v10"

	"bitbucket.org/mmdatafocus/invoice_recon/reconcile"
	"bitbucket.org/mmdatafocus/invoice_recon/validation"
	"bitbucket.org/mmdatafocus/invoice_recon/workflow"
)

var validate = validator.New()

type PubSubPushEnvelope struct {
	Message struct {
		Data       []byte            `json:"data"`
		ID         string            `json:"messageId"`
		Attributes map[string]string `json:"attributes"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// ExtractionCompletedPayload is published by the extraction collaborator
// once per processed invoice submission.
type ExtractionCompletedPayload struct {
	WorkspaceId  string                  `json:"workspace_id" validate:"required,max=64"`
	SubmissionId string                  `json:"submission_id" validate:"required,max=255"`
	Pages        []workflow.PageRef      `json:"pages" validate:"max=200,dive"`
	Extraction   reconcile.RawExtraction `json:"extraction"`
}

// ReconciledEvent is published after every successful run.
type ReconciledEvent struct {
	WorkspaceId  string           `json:"workspace_id"`
	SubmissionId string           `json:"submission_id"`
	InvoiceId    string           `json:"invoice_id"`
	MergedId     string           `json:"merged_id,omitempty"`
	MergeKey     *string          `json:"merge_key"`
	CanApprove   bool             `json:"can_approve"`
	Flags        validation.Flags `json:"flags"`
}

type ResubmitRequest struct {
	reconcile.Corrections
}

type InvoiceResponse struct {
	Invoice interface{}       `json:"invoice"`
	Flags   *validation.Flags `json:"flags"`
}

type ConvertDateRequest struct {
	Date     string `json:"date" form:"date" binding:"required,max=64"`
	Calendar string `json:"calendar" form:"calendar" binding:"omitempty,oneof=BS AD bs ad"`
}

type ConvertDateResponse struct {
	BsDate           string `json:"bs_date"`
	AdDate           string `json:"ad_date"`
	CalendarDetected string `json:"calendar_detected"`
	FiscalYear       string `json:"fiscal_year"`
}
