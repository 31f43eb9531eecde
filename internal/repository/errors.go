package repository

import (
	"errors"

	"github.com/noah-isme/lms-api/pkg/database"
)

// ErrDuplicate is returned when an insert hits a unique constraint.
var ErrDuplicate = errors.New("duplicate record")

func mapWriteError(err error) error {
	if database.IsUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}
