package apperrors

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrForbidden        = errors.New("forbidden")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrDuplicateExample = errors.New("duplicate few-shot example")
	ErrSessionBusy      = errors.New("session already processing")
	ErrNoCheckpoint     = errors.New("no checkpoint for thread")
	ErrInvalidInput     = errors.New("invalid input")
)
