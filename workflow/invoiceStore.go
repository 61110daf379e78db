package workflow

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bitbucket.org/mmdatafocus/invoice_recon/dedup"
	"bitbucket.org/mmdatafocus/invoice_recon/models"
)

// InvoiceStore is the MySQL implementation of dedup.Store.
type InvoiceStore struct {
	db   *gorm.DB
	inTx bool
	// held collects merge keys locked inside the transaction; Transaction
	// releases them on the same connection after commit or rollback.
	held *[]string
}

func NewInvoiceStore(db *gorm.DB) *InvoiceStore {
	return &InvoiceStore{db: db}
}

var (
	_ dedup.Store     = (*InvoiceStore)(nil)
	_ dedup.KeyLocker = (*InvoiceStore)(nil)
)

func (s *InvoiceStore) FindByMergeKey(ctx context.Context, mergeKey, excludeID string, lock bool) (string, bool, error) {
	q := s.db.WithContext(ctx).Model(&models.Invoice{}).
		Select("id").
		Where("merge_key = ? AND id <> ?", mergeKey, excludeID)
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var inv models.Invoice
	if err := q.Order("created_at ASC").Limit(1).Find(&inv).Error; err != nil {
		return "", false, err
	}
	return inv.ID, inv.ID != "", nil
}

func (s *InvoiceStore) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Invoice{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *InvoiceStore) ListPages(ctx context.Context, recordID string) ([]dedup.Page, error) {
	var pages []models.InvoicePage
	if err := s.db.WithContext(ctx).
		Where("invoice_id = ?", recordID).
		Order("page_number ASC").
		Find(&pages).Error; err != nil {
		return nil, err
	}
	out := make([]dedup.Page, 0, len(pages))
	for _, p := range pages {
		out = append(out, dedup.Page{ID: p.ID, PageNumber: p.PageNumber})
	}
	return out, nil
}

func (s *InvoiceStore) ReassignPage(ctx context.Context, pageID, recordID string, pageNumber int) error {
	res := s.db.WithContext(ctx).Model(&models.InvoicePage{}).
		Where("id = ?", pageID).
		Updates(map[string]interface{}{"invoice_id": recordID, "page_number": pageNumber})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("page %s not found", pageID)
	}
	return nil
}

// Protected reports whether the invoice is approved. Approved invoices
// survive merges.
func (s *InvoiceStore) Protected(ctx context.Context, id string) (bool, error) {
	var inv models.Invoice
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id", "status").
		Where("id = ?", id).
		First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("%w: %s", dedup.ErrRecordNotFound, id)
	}
	if err != nil {
		return false, err
	}
	return inv.Status == models.InvoiceStatusApproved, nil
}

// DeleteRecord deletes a merged invoice and leaves an InvoiceMerge row
// pointing its submission at the survivor.
func (s *InvoiceStore) DeleteRecord(ctx context.Context, id, survivorID string) error {
	db := s.db.WithContext(ctx)
	var inv models.Invoice
	found := db.Select("id", "workspace_id", "submission_id").Where("id = ?", id).Limit(1).Find(&inv)
	if found.Error != nil {
		return found.Error
	}
	if found.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", dedup.ErrRecordNotFound, id)
	}
	tomb := models.InvoiceMerge{
		WorkspaceId:     inv.WorkspaceId,
		SubmissionId:    inv.SubmissionId,
		MergedInvoiceId: id,
		SurvivorId:      survivorID,
	}
	if err := db.Create(&tomb).Error; err != nil {
		return err
	}
	if err := db.Where("invoice_id = ?", id).Delete(&models.InvoiceFlag{}).Error; err != nil {
		return err
	}
	if err := db.Where("invoice_id = ?", id).Delete(&models.InvoiceExtraction{}).Error; err != nil {
		return err
	}
	if err := db.Where("invoice_id = ?", id).Delete(&models.InvoicePage{}).Error; err != nil {
		return err
	}
	res := db.Where("id = ?", id).Delete(&models.Invoice{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", dedup.ErrRecordNotFound, id)
	}
	return nil
}

func (s *InvoiceStore) SetMergeKey(ctx context.Context, id, mergeKey string) error {
	err := s.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"merge_key": mergeKey, "merge_pending": false}).Error
	if isDuplicateKeyErr(err) {
		return fmt.Errorf("%w: %v", dedup.ErrDuplicateKey, err)
	}
	return err
}

// ClearMergeKey releases the key of an invoice whose fields changed.
func (s *InvoiceStore) ClearMergeKey(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ?", id).
		Update("merge_key", nil).Error
}

// Transaction runs fn in a transaction on one pinned connection, so advisory
// locks taken inside are still held while the transaction commits.
func (s *InvoiceStore) Transaction(ctx context.Context, fn func(tx dedup.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	return s.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		var held []string
		err := conn.Transaction(func(tx *gorm.DB) error {
			return fn(&InvoiceStore{db: tx, inTx: true, held: &held})
		})
		for _, key := range held {
			ReleaseMergeKeyLock(conn.Session(&gorm.Session{NewDB: true}), key)
		}
		return err
	})
}

// LockMergeKey takes the MySQL advisory lock for mergeKey. The lock is
// released by Transaction once the transaction has ended, so the returned
// func does nothing. Outside a transaction it does nothing either.
func (s *InvoiceStore) LockMergeKey(ctx context.Context, mergeKey string) (func(), error) {
	if !s.inTx || s.held == nil {
		return func() {}, nil
	}
	if err := AcquireMergeKeyLock(s.db.WithContext(ctx), mergeKey); err != nil {
		return nil, err
	}
	*s.held = append(*s.held, mergeKey)
	return func() {}, nil
}
