package intake

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/invoice_recon/config"
	"bitbucket.org/mmdatafocus/invoice_recon/dedup"
	"bitbucket.org/mmdatafocus/invoice_recon/reconcile"
	"bitbucket.org/mmdatafocus/invoice_recon/utils"
	"bitbucket.org/mmdatafocus/invoice_recon/workflow"
)

const mergeLockTTL = 30 * time.Second

// decodePush extracts the payload of a push request. A false result means
// the message can never succeed and must be acknowledged.
func decodePush(body []byte) (ExtractionCompletedPayload, string, bool) {
	var envelope PubSubPushEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ExtractionCompletedPayload{}, "", false
	}
	var payload ExtractionCompletedPayload
	if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil {
		return ExtractionCompletedPayload{}, "", false
	}
	payload.WorkspaceId = strings.TrimSpace(payload.WorkspaceId)
	payload.SubmissionId = strings.TrimSpace(payload.SubmissionId)
	if err := validate.Struct(payload); err != nil {
		return ExtractionCompletedPayload{}, "", false
	}
	messageId := envelope.Message.ID
	if messageId == "" {
		messageId = payload.SubmissionId
	}
	return payload, messageId, true
}

// PubSubPushHandler receives extraction results. It answers 204 on success and
// on messages that can never succeed, and 503 when the run should be retried
// (including merge key conflicts) so Pub/Sub redelivers.
func PubSubPushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !config.EnvBoolDefault("ENABLE_EXTRACTION_PUSH_ENDPOINT", true) {
			c.Status(http.StatusNoContent)
			return
		}
		logger := config.GetLogger()

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusNoContent)
			return
		}
		payload, messageId, ok := decodePush(body)
		if !ok {
			logger.WithField("body_len", len(body)).Warn("dropping undecodable extraction message")
			c.Status(http.StatusNoContent)
			return
		}

		ctx := utils.SetWorkspaceIdInContext(c.Request.Context(), payload.WorkspaceId)
		if _, ok := utils.GetCorrelationIdFromContext(ctx); !ok {
			ctx = utils.SetCorrelationIdInContext(ctx, uuid.NewString())
		}

		status, err := handleExtraction(ctx, logger, payload, messageId)
		if err != nil {
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.Status(status)
	}
}

func handleExtraction(ctx context.Context, logger *logrus.Logger, payload ExtractionCompletedPayload, messageId string) (int, error) {
	db := config.GetDB()
	if db == nil {
		return http.StatusServiceUnavailable, errors.New("database not ready")
	}
	policy := config.ValidationPolicy()

	// Queue concurrent deliveries of the same invoice before they reach MySQL.
	preview := reconcile.Process(payload.Extraction, reconcile.Options{WorkspaceID: payload.WorkspaceId, Policy: policy})
	if preview.Data.MergeKey != nil {
		release, _ := utils.TryMergeKeyLock(ctx, *preview.Data.MergeKey, mergeLockTTL, "intake/pubsub.go", "handleExtraction")
		defer release()
	}

	skip, err := workflow.BeginIdempotency(db.WithContext(ctx), payload.WorkspaceId, workflow.HandlerExtractionCompleted, messageId)
	if err != nil {
		if errors.Is(err, workflow.ErrIdempotencyInProgress) {
			return http.StatusConflict, err
		}
		config.LogError(logger, "intake/pubsub.go", "handleExtraction", "BeginIdempotency", messageId, err)
		return http.StatusServiceUnavailable, err
	}
	if skip {
		return http.StatusNoContent, nil
	}

	out, err := workflow.SubmitExtraction(ctx, db, logger, workflow.Submission{
		WorkspaceId:  payload.WorkspaceId,
		SubmissionId: payload.SubmissionId,
		Pages:        payload.Pages,
		Extraction:   payload.Extraction,
	}, policy)
	if err != nil {
		if merr := workflow.MarkIdempotencyFailed(db.WithContext(ctx), payload.WorkspaceId, workflow.HandlerExtractionCompleted, messageId, err); merr != nil {
			config.LogError(logger, "intake/pubsub.go", "handleExtraction", "MarkIdempotencyFailed", messageId, merr)
		}
		fields := logrus.Fields{
			"workspace_id":  payload.WorkspaceId,
			"submission_id": payload.SubmissionId,
			"retryable":     dedup.IsRetryable(err),
			"notes":         out.Result.Flags.Notes,
		}
		if errors.Is(err, dedup.ErrMergeBlocked) {
			// Stored with merge_pending; a reviewer has to resolve it.
			logger.WithFields(fields).Warn("merge blocked between approved invoices; acknowledging")
			return http.StatusNoContent, nil
		}
		logger.WithFields(fields).Warn("extraction run failed; asking for redelivery")
		return http.StatusServiceUnavailable, err
	}

	if err := workflow.MarkIdempotencySucceeded(db.WithContext(ctx), payload.WorkspaceId, workflow.HandlerExtractionCompleted, messageId, out.InvoiceId); err != nil {
		config.LogError(logger, "intake/pubsub.go", "handleExtraction", "MarkIdempotencySucceeded", messageId, err)
	}
	if err := PublishReconciled(ctx, payload, out); err != nil {
		config.LogError(logger, "intake/pubsub.go", "handleExtraction", "PublishReconciled", out.InvoiceId, err)
	}
	return http.StatusNoContent, nil
}

// PublishReconciled announces a finished run on the reconciled topic.
func PublishReconciled(ctx context.Context, payload ExtractionCompletedPayload, out *workflow.Outcome) error {
	if !config.EnvBoolDefault("PUBLISH_RECONCILED_EVENTS", true) {
		return nil
	}
	event := ReconciledEvent{
		WorkspaceId:  payload.WorkspaceId,
		SubmissionId: payload.SubmissionId,
		InvoiceId:    out.InvoiceId,
		MergedId:     out.MergedId,
		MergeKey:     out.Result.Data.MergeKey,
		CanApprove:   out.Result.CanApprove,
		Flags:        out.Result.Flags,
	}
	attrs := map[string]string{"workspace_id": payload.WorkspaceId}
	if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		attrs["correlation_id"] = cid
	}
	_, err := config.PublishJSON(ctx, config.ReconciledTopicName(), event, attrs)
	return err
}
