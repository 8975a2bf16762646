package store

import (
	"errors"

	"github.com/lib/pq"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write violates a unique constraint,
// such as registering an email that is already taken.
var ErrConflict = errors.New("conflict")

const uniqueViolation = pq.ErrorCode("23505")

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
