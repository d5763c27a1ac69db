package game

import (
	"errors"
	"fmt"

	"github.com/shampiniony/sightquest-server/internal/database"
)

// Failure kinds. Every error returned by this package (and by the protocol
// handlers built on it) wraps exactly one of these, so callers can branch
// with errors.Is.
var (
	ErrProtocol         = errors.New("malformed message")
	ErrAuthRequired     = errors.New("authorization required")
	ErrAuthFailed       = errors.New("authorization failed")
	ErrUnknownSecret    = errors.New("secret does not exists")
	ErrNotRunner        = errors.New("player is not a runner")
	ErrReference        = errors.New("referenced task or photo does not exist")
	ErrStateUnavailable = errors.New("game state unavailable")
	ErrInvalidPhase     = errors.New("action not allowed in current game phase")
)

var kinds = []error{
	ErrProtocol,
	ErrAuthRequired,
	ErrAuthFailed,
	ErrUnknownSecret,
	ErrNotRunner,
	ErrReference,
	ErrStateUnavailable,
	ErrInvalidPhase,
}

// Kind returns the failure kind err wraps, or nil if it wraps none.
func Kind(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// storeErr classifies a Snapshot Store error: a missing row becomes
// notFoundKind, anything else means the store itself is failing.
func storeErr(err error, notFoundKind error) error {
	if database.IsNotFound(err) {
		return fmt.Errorf("%w: %w", notFoundKind, err)
	}
	return fmt.Errorf("%w: %w", ErrStateUnavailable, err)
}
