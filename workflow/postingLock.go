package workflow

import (
	"fmt"

	"gorm.io/gorm"
)

// AcquirePostingLock serializes transaction posting across instances using a
// MySQL advisory lock. Row locks inside the posting transaction already
// protect individual products and the budget row; the advisory lock closes
// the window where two postings interleave their stock reads.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same
// *gorm.DB that will do the posting transaction.
func AcquirePostingLock(tx *gorm.DB) error {
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", postingLockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire posting lock")
	}
	return nil
}

func ReleasePostingLock(tx *gorm.DB) {
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", postingLockName).Scan(&_ok).Error
}

const postingLockName = "ledger:posting"
