package workflow

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"

	"gorm.io/gorm"
)

// MySQL lock names are limited to 64 characters, merge keys are not.
func mergeLockName(mergeKey string) string {
	sum := sha1.Sum([]byte(mergeKey))
	return "merge:" + hex.EncodeToString(sum[:])
}

// AcquireMergeKeyLock serializes claims of one merge key across instances using MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the *gorm.DB of the claim transaction.
func AcquireMergeKeyLock(tx *gorm.DB, mergeKey string) error {
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 10)", mergeLockName(mergeKey)).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire merge lock for key=%q", mergeKey)
	}
	return nil
}

func ReleaseMergeKeyLock(tx *gorm.DB, mergeKey string) {
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", mergeLockName(mergeKey)).Scan(&_ok).Error
}
