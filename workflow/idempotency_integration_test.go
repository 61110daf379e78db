package workflow_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitbucket.org/mmdatafocus/invoice_recon/config"
	"bitbucket.org/mmdatafocus/invoice_recon/models"
	"bitbucket.org/mmdatafocus/invoice_recon/workflow"
)

func TestIdempotencyKeys(t *testing.T) {
	ctx := setupMySQL(t)
	db := config.GetDB().WithContext(ctx)
	handler := workflow.HandlerExtractionCompleted

	load := func(t *testing.T, messageId string) models.IdempotencyKey {
		t.Helper()
		var row models.IdempotencyKey
		require.NoError(t, db.Where("workspace_id = ? AND handler_name = ? AND message_id = ?", "ws-test", handler, messageId).
			First(&row).Error)
		return row
	}

	t.Run("in progress then succeeded", func(t *testing.T) {
		skip, err := workflow.BeginIdempotency(db, "ws-test", handler, "msg-1")
		require.NoError(t, err)
		assert.False(t, skip)

		_, err = workflow.BeginIdempotency(db, "ws-test", handler, "msg-1")
		assert.ErrorIs(t, err, workflow.ErrIdempotencyInProgress)

		require.NoError(t, workflow.MarkIdempotencySucceeded(db, "ws-test", handler, "msg-1", "inv-1"))
		row := load(t, "msg-1")
		assert.Equal(t, models.IdempotencyStatusSucceeded, row.Status)
		require.NotNil(t, row.InvoiceId)
		assert.Equal(t, "inv-1", *row.InvoiceId)

		skip, err = workflow.BeginIdempotency(db, "ws-test", handler, "msg-1")
		require.NoError(t, err)
		assert.True(t, skip)
	})

	t.Run("failed run is taken over", func(t *testing.T) {
		_, err := workflow.BeginIdempotency(db, "ws-test", handler, "msg-2")
		require.NoError(t, err)
		require.NoError(t, workflow.MarkIdempotencyFailed(db, "ws-test", handler, "msg-2", errors.New("merge key conflict")))

		row := load(t, "msg-2")
		assert.Equal(t, models.IdempotencyStatusFailed, row.Status)
		require.NotNil(t, row.LastError)
		assert.Equal(t, "merge key conflict", *row.LastError)

		skip, err := workflow.BeginIdempotency(db, "ws-test", handler, "msg-2")
		require.NoError(t, err)
		assert.False(t, skip)
		row = load(t, "msg-2")
		assert.Equal(t, models.IdempotencyStatusStarted, row.Status)
		assert.Nil(t, row.LastError)
	})

	t.Run("stale start is taken over", func(t *testing.T) {
		_, err := workflow.BeginIdempotency(db, "ws-test", handler, "msg-3")
		require.NoError(t, err)
		require.NoError(t, db.Model(&models.IdempotencyKey{}).
			Where("workspace_id = ? AND message_id = ?", "ws-test", "msg-3").
			UpdateColumn("updated_at", time.Now().Add(-time.Hour)).Error)

		skip, err := workflow.BeginIdempotency(db, "ws-test", handler, "msg-3")
		require.NoError(t, err)
		assert.False(t, skip)
		assert.Equal(t, models.IdempotencyStatusStarted, load(t, "msg-3").Status)
	})

	t.Run("keys are per workspace", func(t *testing.T) {
		other := config.GetDB().WithContext(setWorkspace(ctx, "ws-other"))
		skip, err := workflow.BeginIdempotency(other, "ws-other", handler, "msg-1")
		require.NoError(t, err)
		assert.False(t, skip)
	})
}
