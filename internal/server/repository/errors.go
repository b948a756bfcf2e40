package repository

import "errors"

var (
	// ErrNotFound indicates the requested object does not exist for the owner.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict indicates optimistic lock failure on update.
	ErrVersionConflict = errors.New("version conflict")
)
