package services

import (
	"buildmysite-backend/internal/store"
	"errors"
	"fmt"
)

// Errors every service operation may return. Handlers map them to status codes with errors.Is.
var (
	ErrValidation = errors.New("input validation failed")
	ErrForbidden  = errors.New("not allowed to access this project")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflicting operation in progress")
	ErrGeneration = errors.New("generation failed")
)

// translateStoreError converts store sentinels into service sentinels, keeping what as context.
func translateStoreError(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	case errors.Is(err, store.ErrGenerationInProgress):
		return fmt.Errorf("%w: a generation is already running for this project", ErrConflict)
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}
