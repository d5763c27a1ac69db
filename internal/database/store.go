// Package database holds the Snapshot Store: durable records for games,
// players, quest settings and task completions.
package database

import (
	"context"
	"errors"
	"time"

	"github.com/shampiniony/sightquest-server/internal/models"
)

// ErrNotFound is returned when a referenced row does not exist, or when a
// write references a row that does not exist.
var ErrNotFound = errors.New("not found")

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Store is the persistence collaborator of the session server.
// Implementations must be safe for concurrent use.
type Store interface {
	GetGame(ctx context.Context, code string) (*models.Game, error)
	// ListPlayers returns the game's players ordered by order key.
	ListPlayers(ctx context.Context, code string) ([]models.Player, error)
	PlayerBySecret(ctx context.Context, code, secret string) (*models.Player, error)
	ListCompletions(ctx context.Context, code string) ([]models.TaskCompletion, error)

	GetUser(ctx context.Context, id int64) (*models.User, error)

	// EnsurePlayer returns the membership of userID in the game, creating it
	// as a CATCHER with the next order key and the given secret if missing.
	EnsurePlayer(ctx context.Context, code string, userID int64, secret string) (*models.Player, error)
	// ApplyRoleChanges applies all changes or none.
	ApplyRoleChanges(ctx context.Context, code string, changes []models.RoleChange) error
	// StartGame makes runnerID the only RUNNER, moves the game to PLAYING and
	// records startedAt, atomically.
	StartGame(ctx context.Context, code string, startedAt time.Time, runnerID int64) error
	// ReplaceSettings swaps the duration and every task binding atomically.
	ReplaceSettings(ctx context.Context, code string, settings models.Settings) error
	InsertTaskCompletion(ctx context.Context, c models.TaskCompletion) error
	FinishGame(ctx context.Context, code string) error

	Ping(ctx context.Context) error
}
