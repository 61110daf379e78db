package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitbucket.org/mmdatafocus/invoice_recon/appctx"
	"bitbucket.org/mmdatafocus/invoice_recon/config"
	"bitbucket.org/mmdatafocus/invoice_recon/dedup"
	"bitbucket.org/mmdatafocus/invoice_recon/models"
	"bitbucket.org/mmdatafocus/invoice_recon/reconcile"
	"bitbucket.org/mmdatafocus/invoice_recon/validation"
	"bitbucket.org/mmdatafocus/invoice_recon/workflow"
)

func setupMySQL(t *testing.T) context.Context {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "invoice_recon_test")

	config.ConnectDatabaseWithRetry()
	models.MigrateTable()

	return setWorkspace(context.Background(), "ws-test")
}

func setWorkspace(ctx context.Context, workspaceId string) context.Context {
	return appctx.Set(ctx, appctx.ContextKeyWorkspaceId, workspaceId)
}

func str(s string) *string { return &s }

func extraction(vendor, invoiceNo, bsDate, total string) reconcile.RawExtraction {
	taxable := reconcile.RawAmount("1000")
	vat := reconcile.RawAmount("130")
	grand := reconcile.RawAmount(total)
	return reconcile.RawExtraction{
		VendorNameRaw:           str(vendor),
		InvoiceNumberRaw:        str(invoiceNo),
		TransactionDateRaw:      str(bsDate),
		TransactionDateCalendar: str("BS"),
		TaxableAmount:           &taxable,
		VatAmount:               &vat,
		GrandTotal:              &grand,
	}
}

func pages(n int, prefix string) []workflow.PageRef {
	out := make([]workflow.PageRef, n)
	for i := range out {
		out[i] = workflow.PageRef{FileRef: fmt.Sprintf("gs://bucket/%s-%d.jpg", prefix, i+1)}
	}
	return out
}

func TestSubmitExtraction_MergesDuplicateAndApproves(t *testing.T) {
	ctx := setupMySQL(t)
	db := config.GetDB()
	logger := logrus.New()
	policy := validation.DefaultPolicy()

	first, err := workflow.SubmitExtraction(ctx, db, logger, workflow.Submission{
		WorkspaceId:  "ws-test",
		SubmissionId: "sub-1",
		Pages:        pages(2, "a"),
		Extraction:   extraction("Acme Traders Pvt Ltd", "INV-42", "2082/09/07", "1130"),
	}, policy)
	require.NoError(t, err)
	require.Empty(t, first.MergedId)

	second, err := workflow.SubmitExtraction(ctx, db, logger, workflow.Submission{
		WorkspaceId:  "ws-test",
		SubmissionId: "sub-2",
		Pages:        pages(3, "b"),
		Extraction:   extraction("ACME TRADERS", "inv-42", "२०८२/०९/०७", "1130"),
	}, policy)
	require.NoError(t, err)
	assert.Equal(t, first.InvoiceId, second.InvoiceId)
	assert.True(t, second.Result.Flags.DuplicateInvoice)
	require.NotNil(t, second.Merge)
	assert.Equal(t, 3, second.Merge.FirstPage)

	inv, err := workflow.GetInvoice(ctx, db, "ws-test", first.InvoiceId)
	require.NoError(t, err)
	require.Len(t, inv.Pages, 5)
	for i, p := range inv.Pages {
		assert.Equal(t, i+1, p.PageNumber)
	}
	assert.Equal(t, "gs://bucket/b-1.jpg", inv.Pages[2].FileRef)

	_, err = workflow.GetInvoice(ctx, db, "ws-test", second.MergedId)
	assert.ErrorIs(t, err, workflow.ErrInvoiceNotFound)

	approved, err := workflow.ApproveInvoice(ctx, db, logger, "ws-test", first.InvoiceId, "reviewer", policy)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusApproved, approved.Status)
}

func TestApproveInvoice_BlockedUntilCorrected(t *testing.T) {
	ctx := setupMySQL(t)
	db := config.GetDB()
	logger := logrus.New()
	policy := validation.DefaultPolicy()

	out, err := workflow.SubmitExtraction(ctx, db, logger, workflow.Submission{
		WorkspaceId:  "ws-test",
		SubmissionId: "sub-math",
		Pages:        pages(1, "m"),
		Extraction:   extraction("Everest Suppliers", "77", "2082/09/07", "1200"),
	}, policy)
	require.NoError(t, err)
	require.True(t, out.Result.Flags.MathMismatch)

	_, err = workflow.ApproveInvoice(ctx, db, logger, "ws-test", out.InvoiceId, "reviewer", policy)
	require.Error(t, err)
	var gateErr *validation.GateError
	require.True(t, errors.As(err, &gateErr))
	assert.Equal(t, []string{"math_mismatch"}, gateErr.Reasons)

	fixed := reconcile.RawAmount("1130")
	re, err := workflow.ResubmitCorrections(ctx, db, logger, "ws-test", out.InvoiceId,
		reconcile.Corrections{GrandTotal: &fixed}, "reviewer", policy)
	require.NoError(t, err)
	assert.False(t, re.Result.Flags.MathMismatch)
	assert.Equal(t, models.InvoiceStatusNeedsReview, re.Status)

	_, err = workflow.ApproveInvoice(ctx, db, logger, "ws-test", out.InvoiceId, "reviewer", policy)
	require.NoError(t, err)
}

func TestSubmitExtraction_RedeliveryAfterMergeIsRouted(t *testing.T) {
	ctx := setupMySQL(t)
	db := config.GetDB()
	logger := logrus.New()
	policy := validation.DefaultPolicy()

	first, err := workflow.SubmitExtraction(ctx, db, logger, workflow.Submission{
		WorkspaceId:  "ws-test",
		SubmissionId: "redo-1",
		Pages:        pages(1, "redo-a"),
		Extraction:   extraction("Himal Stores", "H-9", "2082/09/07", "1130"),
	}, policy)
	require.NoError(t, err)

	dup := workflow.Submission{
		WorkspaceId:  "ws-test",
		SubmissionId: "redo-2",
		Pages:        pages(2, "redo-b"),
		Extraction:   extraction("Himal Stores", "H-9", "2082/09/07", "1130"),
	}
	second, err := workflow.SubmitExtraction(ctx, db, logger, dup, policy)
	require.NoError(t, err)
	require.NotEmpty(t, second.MergedId)

	// Same submission again, e.g. after a stale idempotency row was taken over.
	again, err := workflow.SubmitExtraction(ctx, db, logger, dup, policy)
	require.NoError(t, err)
	assert.Equal(t, first.InvoiceId, again.InvoiceId)
	assert.Equal(t, second.MergedId, again.MergedId)
	assert.True(t, again.Result.Flags.DuplicateInvoice)

	inv, err := workflow.GetInvoice(ctx, db, "ws-test", first.InvoiceId)
	require.NoError(t, err)
	assert.Len(t, inv.Pages, 3)

	var count int64
	require.NoError(t, db.WithContext(ctx).Model(&models.Invoice{}).
		Where("workspace_id = ? AND submission_id = ?", "ws-test", "redo-2").Count(&count).Error)
	assert.Zero(t, count)
}

// approvedWithStaleKey submits and approves an invoice, then replaces its
// merge key with one computed by older normalization rules.
func approvedWithStaleKey(t *testing.T, ctx context.Context, submissionId string, raw reconcile.RawExtraction) string {
	t.Helper()
	db := config.GetDB()
	logger := logrus.New()
	policy := validation.DefaultPolicy()

	out, err := workflow.SubmitExtraction(ctx, db, logger, workflow.Submission{
		WorkspaceId:  "ws-test",
		SubmissionId: submissionId,
		Pages:        pages(1, submissionId),
		Extraction:   raw,
	}, policy)
	require.NoError(t, err)
	_, err = workflow.ApproveInvoice(ctx, db, logger, "ws-test", out.InvoiceId, "reviewer", policy)
	require.NoError(t, err)
	require.NoError(t, db.WithContext(ctx).Model(&models.Invoice{}).
		Where("workspace_id = ? AND id = ?", "ws-test", out.InvoiceId).
		Update("merge_key", "ws-test|legacy|"+submissionId).Error)
	return out.InvoiceId
}

func TestRecomputeInvoice_ApprovedInvoiceSurvives(t *testing.T) {
	ctx := setupMySQL(t)
	db := config.GetDB()
	logger := logrus.New()
	policy := validation.DefaultPolicy()

	raw := extraction("Kathmandu Paper", "KP-1", "2082/09/07", "1130")
	approvedId := approvedWithStaleKey(t, ctx, "kp-approved", raw)

	later, err := workflow.SubmitExtraction(ctx, db, logger, workflow.Submission{
		WorkspaceId:  "ws-test",
		SubmissionId: "kp-later",
		Pages:        pages(2, "kp-later"),
		Extraction:   raw,
	}, policy)
	require.NoError(t, err)
	require.Empty(t, later.MergedId, "the stale key leaves the new key free")

	out, err := workflow.RecomputeInvoice(ctx, db, logger, "ws-test", approvedId, policy)
	require.NoError(t, err)
	assert.Equal(t, approvedId, out.InvoiceId)
	assert.Empty(t, out.MergedId)
	require.NotNil(t, out.Merge)
	assert.Equal(t, later.InvoiceId, out.Merge.DuplicateID)

	inv, err := workflow.GetInvoice(ctx, db, "ws-test", approvedId)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusApproved, inv.Status)
	require.NotNil(t, inv.ApprovedBy)
	assert.Equal(t, "reviewer", *inv.ApprovedBy)
	assert.False(t, inv.MergePending)
	require.NotNil(t, inv.MergeKey)
	assert.Equal(t, *later.Result.Data.MergeKey, *inv.MergeKey)
	require.Len(t, inv.Pages, 3)
	assert.Equal(t, "gs://bucket/kp-approved-1.jpg", inv.Pages[0].FileRef)

	_, err = workflow.GetInvoice(ctx, db, "ws-test", later.InvoiceId)
	assert.ErrorIs(t, err, workflow.ErrInvoiceNotFound)

	// A redelivery of the absorbed submission lands on the approved invoice.
	again, err := workflow.SubmitExtraction(ctx, db, logger, workflow.Submission{
		WorkspaceId:  "ws-test",
		SubmissionId: "kp-later",
		Pages:        pages(2, "kp-later"),
		Extraction:   raw,
	}, policy)
	require.NoError(t, err)
	assert.Equal(t, approvedId, again.InvoiceId)
}

func TestRecomputeInvoice_TwoApprovedInvoicesAreNotMerged(t *testing.T) {
	ctx := setupMySQL(t)
	db := config.GetDB()
	logger := logrus.New()
	policy := validation.DefaultPolicy()

	raw := extraction("Pokhara Traders", "PT-7", "2082/09/07", "1130")
	firstId := approvedWithStaleKey(t, ctx, "pt-first", raw)

	second, err := workflow.SubmitExtraction(ctx, db, logger, workflow.Submission{
		WorkspaceId:  "ws-test",
		SubmissionId: "pt-second",
		Pages:        pages(1, "pt-second"),
		Extraction:   raw,
	}, policy)
	require.NoError(t, err)
	_, err = workflow.ApproveInvoice(ctx, db, logger, "ws-test", second.InvoiceId, "reviewer", policy)
	require.NoError(t, err)

	_, err = workflow.RecomputeInvoice(ctx, db, logger, "ws-test", firstId, policy)
	require.Error(t, err)
	assert.ErrorIs(t, err, dedup.ErrMergeBlocked)
	assert.False(t, dedup.IsRetryable(err))

	for _, id := range []string{firstId, second.InvoiceId} {
		inv, err := workflow.GetInvoice(ctx, db, "ws-test", id)
		require.NoError(t, err)
		assert.Equal(t, models.InvoiceStatusApproved, inv.Status)
		assert.Len(t, inv.Pages, 1)
	}
	first, err := workflow.GetInvoice(ctx, db, "ws-test", firstId)
	require.NoError(t, err)
	assert.True(t, first.MergePending)
}

func TestSubmitExtraction_ConcurrentDuplicatesLeaveOneSurvivor(t *testing.T) {
	ctx := setupMySQL(t)
	db := config.GetDB()
	logger := logrus.New()
	policy := validation.DefaultPolicy()

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sub := workflow.Submission{
				WorkspaceId:  "ws-test",
				SubmissionId: fmt.Sprintf("race-%d", i),
				Pages:        pages(1, fmt.Sprintf("race-%d", i)),
				Extraction:   extraction("Race Co", "R-1", "2082/09/07", "1130"),
			}
			// Conflicts are retryable; retry like a Pub/Sub redelivery would.
			for attempt := 0; attempt < 5; attempt++ {
				_, errs[i] = workflow.SubmitExtraction(ctx, db, logger, sub, policy)
				if errs[i] == nil {
					return
				}
				time.Sleep(50 * time.Millisecond)
			}
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	var count int64
	require.NoError(t, db.WithContext(ctx).Model(&models.Invoice{}).
		Where("workspace_id = ? AND vendor_name_normalized = ?", "ws-test", "race co").
		Count(&count).Error)
	assert.Equal(t, int64(1), count)

	var pageCount int64
	require.NoError(t, db.WithContext(ctx).Model(&models.InvoicePage{}).
		Where("workspace_id = ? AND file_ref LIKE ?", "ws-test", "gs://bucket/race-%").
		Count(&pageCount).Error)
	assert.Equal(t, int64(n), pageCount)
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("invoice-recon-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=invoice_recon_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
