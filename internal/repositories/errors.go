package repositories

import (
	"errors"

	"gorm.io/gorm"
)

// ErrAttemptFinalized is returned by AttemptRepository.Finalize when the
// attempt is no longer in progress.
var ErrAttemptFinalized = errors.New("attempt is already finalized")

// IsNotFoundError reports whether err means the requested record does not exist.
func IsNotFoundError(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// IsDuplicateKeyError reports whether err is a uniqueness-constraint violation.
// The attempt lifecycle relies on this to detect a lost start() race.
func IsDuplicateKeyError(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
