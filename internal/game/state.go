package game

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shampiniony/sightquest-server/internal/models"
)

// State is the in-memory authoritative projection of one game. It is owned
// by the Registry; handlers reach it through Registry.Get.
//
// Mutations are serialized by mu: every "read -> decide -> mutate -> refresh
// -> broadcast" sequence for a game runs inside Mutate. Reads go through
// Snapshot and never take the lock.
type State struct {
	Code string

	reg *Registry

	mu          sync.Mutex
	game        models.Game
	players     []models.Player
	completions []models.TaskCompletion
	coords      map[int64]models.Coordinates
	finishTimer *time.Timer

	snap atomic.Pointer[Snapshot]
}

func newState(code string, reg *Registry) *State {
	return &State{
		Code:   code,
		reg:    reg,
		coords: make(map[int64]models.Coordinates),
	}
}

// Snapshot returns the latest published snapshot. It may trail an in-flight
// mutation.
func (s *State) Snapshot() *Snapshot {
	return s.snap.Load()
}

// Mutate runs fn while holding the game's exclusive lock.
func (s *State) Mutate(ctx context.Context, fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&Tx{ctx: ctx, s: s})
}

// Refresh reloads every persisted field from the Snapshot Store, keeping
// ephemeral coordinates.
func (s *State) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(ctx)
}

func (s *State) refreshLocked(ctx context.Context) error {
	store := s.reg.store
	g, err := store.GetGame(ctx, s.Code)
	if err != nil {
		return storeErr(err, ErrStateUnavailable)
	}
	players, err := store.ListPlayers(ctx, s.Code)
	if err != nil {
		return storeErr(err, ErrStateUnavailable)
	}
	completions, err := store.ListCompletions(ctx, s.Code)
	if err != nil {
		return storeErr(err, ErrStateUnavailable)
	}
	s.game = *g
	s.players = players
	s.completions = completions
	s.publishLocked()
	s.scheduleFinishLocked()
	return nil
}

func (s *State) publishLocked() {
	snap := &Snapshot{
		Game:        s.game,
		Players:     append([]models.Player(nil), s.players...),
		Coordinates: make(map[int64]models.Coordinates, len(s.coords)),
		Completed:   make(map[int64][]int64),
		TakenAt:     s.reg.now(),
	}
	for id, c := range s.coords {
		snap.Coordinates[id] = c
	}
	for _, c := range s.completions {
		snap.Completed[c.UserID] = append(snap.Completed[c.UserID], c.TaskID)
	}
	s.snap.Store(snap)
}

// scheduleFinishLocked arms the deadline timer of a running game. A deadline
// already in the past fires immediately, which covers games that expired
// while no process held them.
func (s *State) scheduleFinishLocked() {
	if s.finishTimer != nil {
		s.finishTimer.Stop()
		s.finishTimer = nil
	}
	if s.game.Phase != models.PhasePlaying {
		return
	}
	deadline, ok := s.game.Deadline()
	if !ok {
		return
	}
	wait := deadline.Sub(s.reg.now())
	if wait < 0 {
		wait = 0
	}
	s.finishTimer = time.AfterFunc(wait, s.expire)
}

func (s *State) expire() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.Mutate(ctx, func(tx *Tx) error {
		if s.game.Phase != models.PhasePlaying {
			return nil
		}
		deadline, ok := s.game.Deadline()
		if !ok {
			return nil
		}
		if s.reg.now().Before(deadline) {
			s.scheduleFinishLocked()
			return nil
		}
		if err := tx.Finish(); err != nil {
			return err
		}
		if s.reg.OnFinish != nil {
			s.reg.OnFinish(s)
		}
		return nil
	})
	if err != nil {
		s.reg.logger.Errorf("Game %s: failed to finish expired game: %v", s.Code, err)
	}
}

// Tx exposes the game operations to code running inside Mutate.
type Tx struct {
	ctx context.Context
	s   *State
}

// Snapshot is the state as of the last change made in this transaction.
func (tx *Tx) Snapshot() *Snapshot {
	return tx.s.snap.Load()
}

// Join binds user to the game, creating the membership on first join.
func (tx *Tx) Join(user models.User) (*models.Player, error) {
	s := tx.s
	secret, err := NewSecret()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStateUnavailable, err)
	}
	p, err := s.reg.store.EnsurePlayer(tx.ctx, s.Code, user.ID, secret)
	if err != nil {
		return nil, storeErr(err, ErrAuthFailed)
	}
	if err := s.refreshLocked(tx.ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateLocation records the user's last known coordinates. Coordinates are
// ephemeral and never reach the Snapshot Store.
func (tx *Tx) UpdateLocation(userID int64, coords models.Coordinates) {
	s := tx.s
	s.coords[userID] = append(models.Coordinates(nil), coords...)
	s.publishLocked()
}

// CompleteTask records a task completion with photo evidence.
func (tx *Tx) CompleteTask(userID, taskID, photoID int64) error {
	s := tx.s
	if s.game.Phase != models.PhasePlaying {
		return fmt.Errorf("complete task in %s phase: %w", s.game.Phase, ErrInvalidPhase)
	}
	err := s.reg.store.InsertTaskCompletion(tx.ctx, models.TaskCompletion{
		GameCode:    s.Code,
		TaskID:      taskID,
		UserID:      userID,
		PhotoID:     photoID,
		CompletedAt: s.reg.now(),
	})
	if err != nil {
		return storeErr(err, ErrReference)
	}
	return s.refreshLocked(tx.ctx)
}

// UpdateSettings atomically replaces the duration and quest task bindings.
func (tx *Tx) UpdateSettings(settings models.Settings) error {
	s := tx.s
	if err := s.reg.store.ReplaceSettings(tx.ctx, s.Code, settings); err != nil {
		return storeErr(err, ErrReference)
	}
	return s.refreshLocked(tx.ctx)
}

// Start begins play: one random RUNNER, everyone else CATCHER. It returns
// the chosen runner.
func (tx *Tx) Start() (int64, error) {
	s := tx.s
	if s.game.Phase == models.PhasePlaying {
		return 0, fmt.Errorf("start game already playing: %w", ErrInvalidPhase)
	}
	if len(s.players) == 0 {
		return 0, fmt.Errorf("start game without players: %w", ErrInvalidPhase)
	}
	runner := s.players[s.reg.intn(len(s.players))].UserID
	if err := s.reg.store.StartGame(tx.ctx, s.Code, s.reg.now(), runner); err != nil {
		return 0, storeErr(err, ErrStateUnavailable)
	}
	if err := s.refreshLocked(tx.ctx); err != nil {
		return 0, err
	}
	return runner, nil
}

// Finish ends a running game.
func (tx *Tx) Finish() error {
	s := tx.s
	if s.game.Phase != models.PhasePlaying {
		return fmt.Errorf("finish game in %s phase: %w", s.game.Phase, ErrInvalidPhase)
	}
	if err := s.reg.store.FinishGame(tx.ctx, s.Code); err != nil {
		return storeErr(err, ErrStateUnavailable)
	}
	return s.refreshLocked(tx.ctx)
}
