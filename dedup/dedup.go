package dedup

import (
	"context"
	"errors"
	"fmt"
)

// Page is a child page or attachment of an invoice record.
type Page struct {
	ID         string
	PageNumber int
}

// Store is the persistence the deduplicator needs. Implementations must back
// merge keys with a unique index and return ErrDuplicateKey when it rejects
// SetMergeKey.
type Store interface {
	// FindByMergeKey returns the id of a record other than excludeID holding
	// mergeKey. When lock is set the row is locked until the transaction ends.
	FindByMergeKey(ctx context.Context, mergeKey, excludeID string, lock bool) (string, bool, error)
	Exists(ctx context.Context, id string) (bool, error)
	// ListPages returns the pages of a record ordered by page number.
	ListPages(ctx context.Context, recordID string) ([]Page, error)
	ReassignPage(ctx context.Context, pageID, recordID string, pageNumber int) error
	// Protected reports whether a record must never be merged away, such as
	// an approved invoice. The row is locked until the transaction ends.
	Protected(ctx context.Context, id string) (bool, error)
	// DeleteRecord deletes a record with its pages, flags and extraction
	// metadata. survivorID is the record it was merged into; stores keep it so
	// a later redelivery of the deleted record can be routed to the survivor.
	DeleteRecord(ctx context.Context, id, survivorID string) error
	SetMergeKey(ctx context.Context, id, mergeKey string) error
	// Transaction runs fn against a Store bound to one transaction. It
	// commits when fn returns nil and rolls back otherwise.
	Transaction(ctx context.Context, fn func(tx Store) error) error
}

// KeyLocker is implemented by stores that can lock a merge key from inside a
// transaction. The lock must outlive the commit; release is called after
// Transaction has returned.
type KeyLocker interface {
	LockMergeKey(ctx context.Context, mergeKey string) (release func(), err error)
}

const ConfidenceExact = "exact"

// MergeCandidate is an existing record sharing a merge key.
type MergeCandidate struct {
	ExistingRecordID string `json:"existing_record_id"`
	MergeKey         string `json:"merge_key"`
	Confidence       string `json:"confidence"`
}

// MergeResult describes a completed (or already completed) merge.
type MergeResult struct {
	SurvivorID    string `json:"survivor_id"`
	DuplicateID   string `json:"duplicate_id"`
	PagesMoved    int    `json:"pages_moved"`
	FirstPage     int    `json:"first_page,omitempty"`
	AlreadyMerged bool   `json:"already_merged"`
}

// ClaimResult is the outcome of ClaimOrMerge. Merge is nil when the record
// claimed a free key.
type ClaimResult struct {
	RecordID   string       `json:"record_id"`
	SurvivorID string       `json:"survivor_id"`
	MergeKey   string       `json:"merge_key"`
	Merge      *MergeResult `json:"merge,omitempty"`
}

// Merged reports whether the claimed record was folded into another one.
func (r *ClaimResult) Merged() bool {
	return r != nil && r.Merge != nil && r.SurvivorID != r.RecordID
}

// Absorbed reports whether the claimed record was protected and the previous
// key holder was folded into it instead.
func (r *ClaimResult) Absorbed() bool {
	return r != nil && r.Merge != nil && r.SurvivorID == r.RecordID
}

type Deduplicator struct {
	store Store
}

func New(store Store) *Deduplicator {
	return &Deduplicator{store: store}
}

// FindMergeCandidate looks up another record with exactly the same merge key.
// It returns nil when there is none.
func (d *Deduplicator) FindMergeCandidate(ctx context.Context, mergeKey, excludeID string) (*MergeCandidate, error) {
	if mergeKey == "" {
		return nil, nil
	}
	id, found, err := d.store.FindByMergeKey(ctx, mergeKey, excludeID, false)
	if err != nil || !found {
		return nil, err
	}
	return &MergeCandidate{ExistingRecordID: id, MergeKey: mergeKey, Confidence: ConfidenceExact}, nil
}

// ExecuteMerge moves every page of duplicateID onto existingID, numbered
// after the existing pages in their original order, then deletes duplicateID.
// The survivor's own fields are never touched. It runs in one transaction:
// on failure nothing changes and the error wraps ErrMergeFailed. Merging a
// duplicate that no longer exists is a no-op.
func (d *Deduplicator) ExecuteMerge(ctx context.Context, existingID, duplicateID string) (*MergeResult, error) {
	var res *MergeResult
	err := d.store.Transaction(ctx, func(tx Store) error {
		var err error
		res, err = merge(ctx, tx, existingID, duplicateID)
		return err
	})
	if err != nil {
		return nil, asMergeFailure("execute merge", "", existingID, duplicateID, err)
	}
	return res, nil
}

func merge(ctx context.Context, tx Store, existingID, duplicateID string) (*MergeResult, error) {
	if existingID == duplicateID {
		return nil, fmt.Errorf("cannot merge record %s into itself", existingID)
	}
	res := &MergeResult{SurvivorID: existingID, DuplicateID: duplicateID}

	ok, err := tx.Exists(ctx, duplicateID)
	if err != nil {
		return nil, err
	}
	if !ok {
		res.AlreadyMerged = true
		return res, nil
	}
	ok, err = tx.Exists(ctx, existingID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, existingID)
	}

	existing, err := tx.ListPages(ctx, existingID)
	if err != nil {
		return nil, err
	}
	next := 1
	for _, p := range existing {
		if p.PageNumber >= next {
			next = p.PageNumber + 1
		}
	}
	pages, err := tx.ListPages(ctx, duplicateID)
	if err != nil {
		return nil, err
	}
	if len(pages) > 0 {
		res.FirstPage = next
	}
	for _, p := range pages {
		if err := tx.ReassignPage(ctx, p.ID, existingID, next); err != nil {
			return nil, fmt.Errorf("reassign page %s: %w", p.ID, err)
		}
		next++
		res.PagesMoved++
	}
	if err := tx.DeleteRecord(ctx, duplicateID, existingID); err != nil {
		return nil, fmt.Errorf("delete duplicate %s: %w", duplicateID, err)
	}
	return res, nil
}

// ClaimOrMerge gives recordID the merge key, or merges it into the record
// already holding the key. Lookup and claim share one transaction with the
// holder row locked. A protected record is never deleted: when recordID is
// protected the holder is merged into it instead, and when both are the
// claim fails with ErrMergeBlocked. If the unique index rejects the claim
// because another run got there first, the error wraps ErrMergeConflict and
// is retryable.
func (d *Deduplicator) ClaimOrMerge(ctx context.Context, recordID, mergeKey string) (*ClaimResult, error) {
	if mergeKey == "" {
		return nil, errors.New("claim: empty merge key")
	}
	res := &ClaimResult{RecordID: recordID, SurvivorID: recordID, MergeKey: mergeKey}
	var release func()
	err := d.store.Transaction(ctx, func(tx Store) error {
		if locker, ok := tx.(KeyLocker); ok {
			var err error
			if release, err = locker.LockMergeKey(ctx, mergeKey); err != nil {
				return err
			}
		}

		holder, found, err := tx.FindByMergeKey(ctx, mergeKey, recordID, true)
		if err != nil {
			return err
		}
		if !found {
			return tx.SetMergeKey(ctx, recordID, mergeKey)
		}

		survivor, duplicate := holder, recordID
		claimerProtected, err := tx.Protected(ctx, recordID)
		if err != nil {
			return err
		}
		if claimerProtected {
			holderProtected, err := tx.Protected(ctx, holder)
			if err != nil {
				return err
			}
			if holderProtected {
				return fmt.Errorf("%w: %s and %s", ErrMergeBlocked, holder, recordID)
			}
			survivor, duplicate = recordID, holder
		}

		m, err := merge(ctx, tx, survivor, duplicate)
		if err != nil {
			return err
		}
		res.SurvivorID = survivor
		res.Merge = m
		if survivor == recordID {
			return tx.SetMergeKey(ctx, recordID, mergeKey)
		}
		return nil
	})
	if release != nil {
		release()
	}
	if err == nil {
		return res, nil
	}
	if errors.Is(err, ErrDuplicateKey) {
		return nil, &MergeError{Op: "claim merge key", MergeKey: mergeKey, DuplicateID: recordID, Kind: ErrMergeConflict, Err: err}
	}
	if errors.Is(err, ErrMergeBlocked) {
		return nil, &MergeError{Op: "claim merge key", MergeKey: mergeKey, DuplicateID: recordID, Kind: ErrMergeBlocked, Err: err}
	}
	return nil, asMergeFailure("claim merge key", mergeKey, "", recordID, err)
}

func asMergeFailure(op, key, existingID, duplicateID string, err error) error {
	var me *MergeError
	if errors.As(err, &me) {
		return err
	}
	return &MergeError{Op: op, MergeKey: key, ExistingID: existingID, DuplicateID: duplicateID, Kind: ErrMergeFailed, Err: err}
}
