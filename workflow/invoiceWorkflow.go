package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bitbucket.org/mmdatafocus/invoice_recon/config"
	"bitbucket.org/mmdatafocus/invoice_recon/dedup"
	"bitbucket.org/mmdatafocus/invoice_recon/models"
	"bitbucket.org/mmdatafocus/invoice_recon/reconcile"
	"bitbucket.org/mmdatafocus/invoice_recon/validation"
)

var tracer = otel.Tracer("invoice_recon/workflow")

var (
	ErrInvoiceNotFound = errors.New("invoice not found")
	// ErrMergePending blocks approval of an invoice whose merge key claim
	// failed and has not been retried yet.
	ErrMergePending = errors.New("invoice has an unresolved merge")
)

// PageRef is one stored page of a submission.
type PageRef struct {
	FileRef string `json:"file_ref" validate:"required,max=1024"`
}

// Submission is one extraction result for one invoice.
type Submission struct {
	WorkspaceId  string
	SubmissionId string
	Pages        []PageRef
	Extraction   reconcile.RawExtraction
}

// Outcome is what a run did. Result is always set, even when err is not nil,
// so callers can show flags and notes.
type Outcome struct {
	InvoiceId string                `json:"invoice_id"`
	MergedId  string                `json:"merged_id,omitempty"`
	Result    reconcile.Result      `json:"result"`
	Merge     *dedup.MergeResult    `json:"merge,omitempty"`
	Status    models.InvoiceStatus  `json:"status"`
	Candidate *dedup.MergeCandidate `json:"candidate,omitempty"`
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// SubmitExtraction processes one extraction: the invoice for the submission
// is created (or refreshed on redelivery) with its pages, flags and raw
// extraction, then its merge key is claimed, merging it into an existing
// invoice when one already holds the key.
func SubmitExtraction(ctx context.Context, db *gorm.DB, logger *logrus.Logger, sub Submission, policy validation.Policy) (out *Outcome, err error) {
	ctx, span := tracer.Start(ctx, "workflow.SubmitExtraction", trace.WithAttributes(
		attribute.String("workspace_id", sub.WorkspaceId),
		attribute.String("submission_id", sub.SubmissionId),
	))
	defer func() { endSpan(span, err) }()

	res := reconcile.Process(sub.Extraction, reconcile.Options{
		WorkspaceID:     sub.WorkspaceId,
		Policy:          policy,
		DefaultCurrency: reconcile.DefaultCurrency,
	})
	out = &Outcome{Result: res}

	var inv models.Invoice
	var merged *models.InvoiceMerge
	var survivorId string
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("workspace_id = ? AND submission_id = ?", sub.WorkspaceId, sub.SubmissionId).
			Limit(1).Find(&inv)
		if found.Error != nil {
			return found.Error
		}
		isNew := found.RowsAffected == 0
		if isNew {
			m, sid, err := mergedSubmission(tx, sub.WorkspaceId, sub.SubmissionId)
			if err != nil {
				return err
			}
			if m != nil {
				merged, survivorId = m, sid
				return nil
			}
			inv = models.Invoice{WorkspaceId: sub.WorkspaceId, SubmissionId: sub.SubmissionId}
		}
		inv.ApplyResult(res)
		inv.MergePending = res.Data.MergeKey != nil && (inv.MergeKey == nil || *inv.MergeKey != *res.Data.MergeKey)
		if err := tx.Save(&inv).Error; err != nil {
			return err
		}
		if isNew {
			for i, p := range sub.Pages {
				page := models.InvoicePage{WorkspaceId: sub.WorkspaceId, InvoiceId: inv.ID, PageNumber: i + 1, FileRef: p.FileRef}
				if err := tx.Create(&page).Error; err != nil {
					return err
				}
			}
		}
		if err := saveExtraction(tx, sub.WorkspaceId, inv.ID, sub.Extraction, nil); err != nil {
			return err
		}
		return replaceFlags(tx, sub.WorkspaceId, inv.ID, res.Flags)
	})
	if err != nil {
		config.LogError(logger, "invoiceWorkflow.go", "SubmitExtraction", "save invoice", sub.SubmissionId, err)
		return out, err
	}
	if merged != nil {
		out.InvoiceId = survivorId
		out.MergedId = merged.MergedInvoiceId
		out.Result.MarkDuplicate(survivorId, policy)
		var survivor models.Invoice
		if err := db.WithContext(ctx).Select("id", "status").
			Where("workspace_id = ? AND id = ?", sub.WorkspaceId, survivorId).First(&survivor).Error; err == nil {
			out.Status = survivor.Status
		}
		logger.WithFields(logrus.Fields{
			"submission_id": sub.SubmissionId,
			"survivor_id":   survivorId,
		}).Info("submission was already merged; redelivery ignored")
		return out, nil
	}
	out.InvoiceId = inv.ID
	out.Status = inv.Status

	return claimMergeKey(ctx, db, logger, &inv, out, policy)
}

// maxMergeHops bounds the survivor chain followed for a merged submission.
const maxMergeHops = 32

// mergedSubmission returns the merge record of a submission whose invoice
// was merged away, and the invoice that holds its pages now. Survivors can
// themselves be merged later, so the chain is followed to its end.
func mergedSubmission(tx *gorm.DB, workspaceId, submissionId string) (*models.InvoiceMerge, string, error) {
	var tomb models.InvoiceMerge
	res := tx.Where("workspace_id = ? AND submission_id = ?", workspaceId, submissionId).Limit(1).Find(&tomb)
	if res.Error != nil || res.RowsAffected == 0 {
		return nil, "", res.Error
	}
	survivor := tomb.SurvivorId
	for i := 0; i < maxMergeHops; i++ {
		var next models.InvoiceMerge
		res := tx.Where("workspace_id = ? AND merged_invoice_id = ?", workspaceId, survivor).Limit(1).Find(&next)
		if res.Error != nil {
			return nil, "", res.Error
		}
		if res.RowsAffected == 0 {
			return &tomb, survivor, nil
		}
		survivor = next.SurvivorId
	}
	return nil, "", fmt.Errorf("merge chain of submission %s is longer than %d", submissionId, maxMergeHops)
}

// claimMergeKey claims the computed merge key of inv. On a merge the outcome
// points at the surviving invoice; an approved inv is never merged away and
// absorbs an unapproved holder instead. On failure the invoice keeps
// MergePending and cannot be approved.
func claimMergeKey(ctx context.Context, db *gorm.DB, logger *logrus.Logger, inv *models.Invoice, out *Outcome, policy validation.Policy) (*Outcome, error) {
	store := NewInvoiceStore(db)
	key := out.Result.Data.MergeKey
	if key == nil {
		if inv.MergeKey != nil {
			if err := store.ClearMergeKey(ctx, inv.ID); err != nil {
				config.LogError(logger, "invoiceWorkflow.go", "claimMergeKey", "ClearMergeKey", inv.ID, err)
				return out, err
			}
		}
		return out, nil
	}
	if inv.MergeKey != nil && *inv.MergeKey == *key {
		return out, nil
	}

	d := dedup.New(store)
	candidate, err := d.FindMergeCandidate(ctx, *key, inv.ID)
	if err != nil {
		config.LogError(logger, "invoiceWorkflow.go", "claimMergeKey", "FindMergeCandidate", *key, err)
	}
	out.Candidate = candidate

	if inv.MergeKey != nil {
		if err := store.ClearMergeKey(ctx, inv.ID); err != nil {
			config.LogError(logger, "invoiceWorkflow.go", "claimMergeKey", "ClearMergeKey", inv.ID, err)
			return out, err
		}
	}

	claim, err := d.ClaimOrMerge(ctx, inv.ID, *key)
	if err != nil {
		out.Result.CanApprove = false
		if uerr := db.WithContext(ctx).Model(&models.Invoice{}).Where("id = ?", inv.ID).
			Updates(map[string]interface{}{"merge_pending": true, "can_approve": false}).Error; uerr != nil {
			config.LogError(logger, "invoiceWorkflow.go", "claimMergeKey", "mark merge pending", inv.ID, uerr)
		}
		config.LogError(logger, "invoiceWorkflow.go", "claimMergeKey", "ClaimOrMerge", *key, err)
		return out, err
	}
	if claim.Merged() {
		out.MergedId = inv.ID
		out.InvoiceId = claim.SurvivorID
		out.Merge = claim.Merge
		out.Result.MarkDuplicate(claim.SurvivorID, policy)

		var survivor models.Invoice
		if err := db.WithContext(ctx).Select("id", "status").Where("id = ?", claim.SurvivorID).First(&survivor).Error; err == nil {
			out.Status = survivor.Status
		}
		logger.WithFields(logrus.Fields{
			"survivor_id": claim.SurvivorID,
			"merged_id":   inv.ID,
			"pages_moved": claim.Merge.PagesMoved,
		}).Info("duplicate invoice merged")
	}
	if claim.Absorbed() {
		out.Merge = claim.Merge
		logger.WithFields(logrus.Fields{
			"survivor_id": inv.ID,
			"merged_id":   claim.Merge.DuplicateID,
			"pages_moved": claim.Merge.PagesMoved,
		}).Info("approved invoice absorbed the previous key holder")
	}
	return out, nil
}

func replaceFlags(tx *gorm.DB, workspaceId, invoiceId string, f validation.Flags) error {
	if err := tx.Where("invoice_id = ?", invoiceId).Delete(&models.InvoiceFlag{}).Error; err != nil {
		return err
	}
	row, err := models.NewInvoiceFlag(workspaceId, invoiceId, f)
	if err != nil {
		return err
	}
	return tx.Create(row).Error
}

// saveExtraction stores raw for the invoice. correctedBy is set when a
// reviewer produced it.
func saveExtraction(tx *gorm.DB, workspaceId, invoiceId string, raw reconcile.RawExtraction, correctedBy *string) error {
	row, err := models.NewInvoiceExtraction(workspaceId, invoiceId, raw)
	if err != nil {
		return err
	}
	var existing models.InvoiceExtraction
	found := tx.Where("invoice_id = ?", invoiceId).Limit(1).Find(&existing)
	if found.Error != nil {
		return found.Error
	}
	if found.RowsAffected == 0 {
		return tx.Create(row).Error
	}
	updates := map[string]interface{}{"payload": row.Payload}
	if correctedBy != nil {
		now := time.Now()
		updates["corrections"] = gorm.Expr("corrections + 1")
		updates["corrected_by"] = *correctedBy
		updates["corrected_at"] = &now
	}
	return tx.Model(&models.InvoiceExtraction{}).Where("id = ?", existing.ID).Updates(updates).Error
}

func loadInvoice(tx *gorm.DB, workspaceId, invoiceId string, lock bool) (*models.Invoice, error) {
	q := tx.Where("workspace_id = ? AND id = ?", workspaceId, invoiceId)
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var inv models.Invoice
	if err := q.First(&inv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrInvoiceNotFound, invoiceId)
		}
		return nil, err
	}
	return &inv, nil
}

// GetInvoice loads an invoice with its pages and flags.
func GetInvoice(ctx context.Context, db *gorm.DB, workspaceId, invoiceId string) (*models.Invoice, error) {
	var inv models.Invoice
	err := db.WithContext(ctx).
		Preload("Pages", func(tx *gorm.DB) *gorm.DB { return tx.Order("page_number ASC") }).
		Preload("Flags").
		Where("workspace_id = ? AND id = ?", workspaceId, invoiceId).
		First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrInvoiceNotFound, invoiceId)
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// ResubmitCorrections re-validates an invoice after a reviewer edited its
// fields. Flags are recomputed from scratch and the invoice goes back to
// needs_review, even if it had been approved.
func ResubmitCorrections(ctx context.Context, db *gorm.DB, logger *logrus.Logger, workspaceId, invoiceId string, c reconcile.Corrections, reviewer string, policy validation.Policy) (out *Outcome, err error) {
	ctx, span := tracer.Start(ctx, "workflow.ResubmitCorrections", trace.WithAttributes(
		attribute.String("workspace_id", workspaceId),
		attribute.String("invoice_id", invoiceId),
	))
	defer func() { endSpan(span, err) }()

	return reprocess(ctx, db, logger, workspaceId, invoiceId, c, &reviewer, policy)
}

// RecomputeInvoice re-runs the pipeline over the stored extraction without
// corrections. Approved invoices stay approved.
func RecomputeInvoice(ctx context.Context, db *gorm.DB, logger *logrus.Logger, workspaceId, invoiceId string, policy validation.Policy) (out *Outcome, err error) {
	ctx, span := tracer.Start(ctx, "workflow.RecomputeInvoice", trace.WithAttributes(
		attribute.String("workspace_id", workspaceId),
		attribute.String("invoice_id", invoiceId),
	))
	defer func() { endSpan(span, err) }()

	return reprocess(ctx, db, logger, workspaceId, invoiceId, reconcile.Corrections{}, nil, policy)
}

func reprocess(ctx context.Context, db *gorm.DB, logger *logrus.Logger, workspaceId, invoiceId string, c reconcile.Corrections, reviewer *string, policy validation.Policy) (*Outcome, error) {
	opts := reconcile.Options{WorkspaceID: workspaceId, Policy: policy, DefaultCurrency: reconcile.DefaultCurrency}
	out := &Outcome{InvoiceId: invoiceId}

	var inv *models.Invoice
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		inv, err = loadInvoice(tx, workspaceId, invoiceId, true)
		if err != nil {
			return err
		}
		var stored models.InvoiceExtraction
		if err := tx.Where("invoice_id = ?", invoiceId).First(&stored).Error; err != nil {
			return fmt.Errorf("load extraction: %w", err)
		}
		raw, err := stored.Raw()
		if err != nil {
			return fmt.Errorf("decode extraction: %w", err)
		}

		corrected, res := reconcile.Revalidate(raw, c, opts)
		out.Result = res

		if reviewer != nil {
			inv.Status = models.InvoiceStatusNeedsReview
			inv.ApprovedAt = nil
			inv.ApprovedBy = nil
		}
		inv.ApplyResult(res)
		inv.MergePending = res.Data.MergeKey != nil && (inv.MergeKey == nil || *inv.MergeKey != *res.Data.MergeKey)
		if err := tx.Save(inv).Error; err != nil {
			return err
		}
		if reviewer != nil && !c.Empty() {
			if err := saveExtraction(tx, workspaceId, invoiceId, corrected, reviewer); err != nil {
				return err
			}
		}
		return replaceFlags(tx, workspaceId, invoiceId, res.Flags)
	})
	if err != nil {
		config.LogError(logger, "invoiceWorkflow.go", "reprocess", "revalidate", invoiceId, err)
		return out, err
	}
	out.Status = inv.Status
	return claimMergeKey(ctx, db, logger, inv, out, policy)
}

// ApproveInvoice approves an invoice if its stored flags pass the gate of
// policy. It returns a *validation.GateError when they do not.
func ApproveInvoice(ctx context.Context, db *gorm.DB, logger *logrus.Logger, workspaceId, invoiceId, approver string, policy validation.Policy) (inv *models.Invoice, err error) {
	ctx, span := tracer.Start(ctx, "workflow.ApproveInvoice", trace.WithAttributes(
		attribute.String("workspace_id", workspaceId),
		attribute.String("invoice_id", invoiceId),
	))
	defer func() { endSpan(span, err) }()

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		inv, err = loadInvoice(tx, workspaceId, invoiceId, true)
		if err != nil {
			return err
		}
		if inv.Status == models.InvoiceStatusApproved {
			return nil
		}
		if inv.MergePending {
			return fmt.Errorf("%w: %s", ErrMergePending, invoiceId)
		}
		var row models.InvoiceFlag
		if err := tx.Where("invoice_id = ?", invoiceId).First(&row).Error; err != nil {
			return fmt.Errorf("load flags: %w", err)
		}
		flags, err := row.Validation()
		if err != nil {
			return err
		}
		if err := policy.Gate(flags); err != nil {
			return err
		}

		now := time.Now()
		inv.Status = models.InvoiceStatusApproved
		inv.ApprovedBy = &approver
		inv.ApprovedAt = &now
		inv.CanApprove = true
		return tx.Model(inv).Updates(map[string]interface{}{
			"status":      inv.Status,
			"approved_by": approver,
			"approved_at": now,
			"can_approve": true,
		}).Error
	})
	if err != nil {
		if !errors.Is(err, validation.ErrApprovalBlocked) && !errors.Is(err, ErrInvoiceNotFound) {
			config.LogError(logger, "invoiceWorkflow.go", "ApproveInvoice", "approve", invoiceId, err)
		}
		return nil, err
	}
	return inv, nil
}

// ReviewQueue lists invoices of a workspace that are not approved yet,
// newest first.
func ReviewQueue(ctx context.Context, db *gorm.DB, workspaceId string, limit int) ([]models.Invoice, error) {
	if limit <= 0 || limit > 5000 {
		limit = 5000
	}
	var invoices []models.Invoice
	err := db.WithContext(ctx).
		Preload("Flags").
		Where("workspace_id = ? AND status <> ?", workspaceId, models.InvoiceStatusApproved).
		Order("created_at DESC").
		Limit(limit).
		Find(&invoices).Error
	return invoices, err
}
