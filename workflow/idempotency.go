package workflow

import (
	"errors"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/invoice_recon/models"
)

var ErrIdempotencyInProgress = errors.New("idempotency in progress")

// HandlerExtractionCompleted names the extraction push handler in idempotency keys.
const HandlerExtractionCompleted = "extraction_completed"

// staleAfter is how long a STARTED row blocks redelivery before it is taken over.
const staleAfter = 5 * time.Minute

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// BeginIdempotency inserts STARTED. If SUCCEEDED exists, returns (true, nil) meaning "skip safely".
func BeginIdempotency(tx *gorm.DB, workspaceId, handlerName, messageId string) (skip bool, err error) {
	key := models.IdempotencyKey{
		WorkspaceId: workspaceId,
		HandlerName: handlerName,
		MessageId:   messageId,
		Status:      models.IdempotencyStatusStarted,
	}
	if err := tx.Create(&key).Error; err == nil {
		return false, nil
	} else if !isDuplicateKeyErr(err) {
		return false, err
	}

	var existing models.IdempotencyKey
	if err := tx.Where("workspace_id = ? AND handler_name = ? AND message_id = ?", workspaceId, handlerName, messageId).
		First(&existing).Error; err != nil {
		return false, err
	}

	switch existing.Status {
	case models.IdempotencyStatusSucceeded:
		return true, nil
	case models.IdempotencyStatusStarted:
		// Another worker is processing; ask Pub/Sub to retry unless it is stale.
		if time.Since(existing.UpdatedAt) < staleAfter {
			return false, ErrIdempotencyInProgress
		}
	}
	return false, tx.Model(&models.IdempotencyKey{}).
		Where("id = ?", existing.ID).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusStarted, "last_error": nil}).Error
}

func MarkIdempotencySucceeded(tx *gorm.DB, workspaceId, handlerName, messageId string, invoiceId string) error {
	updates := map[string]interface{}{"status": models.IdempotencyStatusSucceeded, "last_error": nil}
	if invoiceId != "" {
		updates["invoice_id"] = invoiceId
	}
	return tx.Model(&models.IdempotencyKey{}).
		Where("workspace_id = ? AND handler_name = ? AND message_id = ?", workspaceId, handlerName, messageId).
		Updates(updates).Error
}

func MarkIdempotencyFailed(tx *gorm.DB, workspaceId, handlerName, messageId string, err error) error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return tx.Model(&models.IdempotencyKey{}).
		Where("workspace_id = ? AND handler_name = ? AND message_id = ?", workspaceId, handlerName, messageId).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusFailed, "last_error": &msg}).Error
}
