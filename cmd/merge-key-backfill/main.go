package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/invoice_recon/config"
	"bitbucket.org/mmdatafocus/invoice_recon/dedup"
	"bitbucket.org/mmdatafocus/invoice_recon/models"
	"bitbucket.org/mmdatafocus/invoice_recon/utils"
	"bitbucket.org/mmdatafocus/invoice_recon/workflow"
)

// merge-key-backfill re-runs the pipeline over stored extractions, e.g. after
// normalization rules changed. Invoices whose new key collides with another
// invoice are merged the same way a live submission would be.
func main() {
	workspaceID := flag.String("workspace-id", "", "Optional: only recompute invoices of one workspace.")
	onlyPending := flag.Bool("only-pending", false, "Only recompute invoices whose merge claim failed.")
	dryRun := flag.Bool("dry-run", false, "List the invoices that would be recomputed and exit.")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	logger := config.GetLogger()
	policy := config.ValidationPolicy()

	ctx := utils.SkipWorkspaceScope(context.Background())
	ctx = utils.SetUserNameInContext(ctx, "MergeKeyBackfill")

	type row struct {
		ID          string
		WorkspaceId string
	}
	var rows []row
	q := db.WithContext(ctx).Model(&models.Invoice{}).Select("id, workspace_id").Order("created_at ASC")
	if ws := strings.TrimSpace(*workspaceID); ws != "" {
		q = q.Where("workspace_id = ?", ws)
	}
	if *onlyPending {
		q = q.Where("merge_pending = ?", true)
	}
	if err := q.Find(&rows).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to list invoices: %v\n", err)
		os.Exit(1)
	}
	if *dryRun {
		for _, r := range rows {
			fmt.Printf("%s\t%s\n", r.WorkspaceId, r.ID)
		}
		return
	}

	var recomputed, merged, gone, failed int
	for _, r := range rows {
		wctx := utils.SetWorkspaceIdInContext(ctx, r.WorkspaceId)
		out, err := workflow.RecomputeInvoice(wctx, db, logger, r.WorkspaceId, r.ID, policy)
		switch {
		case errors.Is(err, workflow.ErrInvoiceNotFound):
			// merged away earlier in this run
			gone++
		case err != nil:
			failed++
			fmt.Fprintf(os.Stderr, "invoice %s: %v (retryable=%v)\n", r.ID, err, dedup.IsRetryable(err))
		default:
			recomputed++
			if out.MergedId != "" {
				merged++
			}
		}
	}
	fmt.Printf("recomputed=%d merged=%d gone=%d failed=%d\n", recomputed, merged, gone, failed)
	if failed > 0 {
		os.Exit(1)
	}
}
