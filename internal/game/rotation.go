package game

import (
	"fmt"

	"github.com/shampiniony/sightquest-server/internal/models"
)

// Rotation is the outcome of a successful catch.
type Rotation struct {
	Caught     int64 // previous runner, now a catcher with a new secret
	NextRunner int64
	NoOp       bool // fewer than two players: nothing changed
}

// Catch runs the role rotation for a claimed runner secret.
//
// The owner of secret must be the current runner. Players are ordered by
// order key and the runner role passes to the next one, wrapping around to
// the first. The caught player's secret is replaced in the same write, so the
// old secret stops resolving immediately.
func (tx *Tx) Catch(secret string) (*Rotation, error) {
	s := tx.s
	store := s.reg.store

	if s.game.Phase != models.PhasePlaying {
		return nil, fmt.Errorf("catch in %s phase: %w", s.game.Phase, ErrInvalidPhase)
	}
	if secret == "" {
		return nil, fmt.Errorf("empty secret: %w", ErrUnknownSecret)
	}

	caught, err := store.PlayerBySecret(tx.ctx, s.Code, secret)
	if err != nil {
		return nil, storeErr(err, ErrUnknownSecret)
	}
	if !caught.IsRunner() {
		return nil, fmt.Errorf("player %d is %s: %w", caught.UserID, caught.Role, ErrNotRunner)
	}

	players, err := store.ListPlayers(tx.ctx, s.Code)
	if err != nil {
		return nil, storeErr(err, ErrStateUnavailable)
	}
	if len(players) < 2 {
		return &Rotation{Caught: caught.UserID, NextRunner: caught.UserID, NoOp: true}, nil
	}

	idx := -1
	for i, p := range players {
		if p.UserID == caught.UserID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("runner %d missing from player order: %w", caught.UserID, ErrStateUnavailable)
	}
	next := players[(idx+1)%len(players)]

	newSecret, err := NewSecret()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStateUnavailable, err)
	}
	changes := []models.RoleChange{
		{UserID: caught.UserID, Role: models.RoleCatcher, Secret: newSecret},
		{UserID: next.UserID, Role: models.RoleRunner},
	}
	if err := store.ApplyRoleChanges(tx.ctx, s.Code, changes); err != nil {
		return nil, storeErr(err, ErrStateUnavailable)
	}
	if err := s.refreshLocked(tx.ctx); err != nil {
		return nil, err
	}
	return &Rotation{Caught: caught.UserID, NextRunner: next.UserID}, nil
}
