package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Error kinds returned by the services. Callers branch on them with errors.Is;
// the HTTP layer maps each kind to a status code.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrConflict           = errors.New("conflict")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidAsset       = errors.New("invalid asset")
	ErrInvalidOwner       = errors.New("invalid owner")

	// ErrStorage hides the underlying record or blob store failure. The
	// detail is logged where it happens and never returned.
	ErrStorage = errors.New("storage failure")
)

var outcomes = []struct {
	err   error
	label string
}{
	{ErrInvalidInput, "invalid_input"},
	{ErrConflict, "conflict"},
	{ErrInvalidCredentials, "invalid_credentials"},
	{ErrUnauthenticated, "unauthenticated"},
	{ErrNotFound, "not_found"},
	{ErrForbidden, "forbidden"},
	{ErrInvalidAsset, "invalid_asset"},
	{ErrInvalidOwner, "invalid_owner"},
	{ErrStorage, "storage"},
}

// outcome returns the metrics label for err.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	for _, o := range outcomes {
		if errors.Is(err, o.err) {
			return o.label
		}
	}
	return "error"
}

// storageFailure logs err and returns ErrStorage. A deadline or cancellation
// stays visible to errors.Is so callers can tell a timeout from an outage.
func storageFailure(logger *slog.Logger, op string, err error) error {
	for _, interrupted := range []error{context.DeadlineExceeded, context.Canceled} {
		if errors.Is(err, interrupted) {
			logger.Warn("operation interrupted", slog.String("op", op), slog.Any("error", err))
			return fmt.Errorf("%w: %w", ErrStorage, interrupted)
		}
	}
	logger.Error("storage failure", slog.String("op", op), slog.Any("error", err))
	return ErrStorage
}
