package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned for missing or malformed caller input
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when an operation references a nonexistent asset
	ErrNotFound = errors.New("asset not found")

	// ErrConflict is returned when concurrent operations collide on a shared resource
	ErrConflict = errors.New("conflict")

	// ErrStorage is returned for underlying persistence or filesystem failures
	ErrStorage = errors.New("storage failure")

	// ErrArchiveFormat is returned when a recovery input fails the content-type
	// or integrity check, before any state is touched
	ErrArchiveFormat = errors.New("invalid archive format")
)

// Validationf wraps ErrValidation with a caller-facing reason
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf wraps ErrNotFound with the missing reference
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Conflictf wraps ErrConflict with a caller-facing reason
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Storagef wraps ErrStorage with the failing operation and cause
func Storagef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrStorage, fmt.Sprintf(format, args...))
}

// ArchiveFormatf wraps ErrArchiveFormat with a caller-facing reason
func ArchiveFormatf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrArchiveFormat, fmt.Sprintf(format, args...))
}
