package game

import (
	"encoding/json"
	"time"

	"github.com/shampiniony/sightquest-server/internal/models"
)

// Snapshot is an immutable copy of a game's state. A new one is published
// after every change, so readers never need the game lock.
type Snapshot struct {
	Game        models.Game
	Players     []models.Player
	Coordinates map[int64]models.Coordinates
	Completed   map[int64][]int64 // userID -> completed task ids
	TakenAt     time.Time
}

// Player returns the player with the given user id.
func (s *Snapshot) Player(userID int64) (models.Player, bool) {
	for _, p := range s.Players {
		if p.UserID == userID {
			return p, true
		}
	}
	return models.Player{}, false
}

// Runners returns every player currently holding the runner role.
func (s *Snapshot) Runners() []models.Player {
	var out []models.Player
	for _, p := range s.Players {
		if p.IsRunner() {
			out = append(out, p)
		}
	}
	return out
}

// PlayerView is one player as seen by a particular requester.
type PlayerView struct {
	User           models.User     `json:"user"`
	Role           models.Role     `json:"role"`
	OrderKey       int             `json:"order_key"`
	Secret         string          `json:"secret,omitempty"` // only in the owner's own view
	Coordinates    json.RawMessage `json:"coordinates,omitempty"`
	CompletedTasks []int64         `json:"completed_tasks"`
}

// StateView is the body of a gamestate_update message.
type StateView struct {
	Code      string          `json:"code"`
	Phase     models.Phase    `json:"state"`
	CreatedAt time.Time       `json:"created_at"`
	StartedAt *time.Time      `json:"started_at"`
	Settings  models.Settings `json:"settings"`
	Players   []PlayerView    `json:"players"`
}

// ViewFor renders the snapshot for forUser. Secrets of other players are
// withheld: the runner shows its own secret to be caught, nobody else may
// learn it.
func (s *Snapshot) ViewFor(forUser int64) StateView {
	view := StateView{
		Code:      s.Game.Code,
		Phase:     s.Game.Phase,
		CreatedAt: s.Game.CreatedAt,
		StartedAt: s.Game.StartedAt,
		Settings:  s.Game.Settings,
		Players:   make([]PlayerView, 0, len(s.Players)),
	}
	for _, p := range s.Players {
		pv := PlayerView{
			User:           models.User{ID: p.UserID, Username: p.Username},
			Role:           p.Role,
			OrderKey:       p.OrderKey,
			Coordinates:    s.Coordinates[p.UserID],
			CompletedTasks: s.Completed[p.UserID],
		}
		if pv.CompletedTasks == nil {
			pv.CompletedTasks = []int64{}
		}
		if p.UserID == forUser {
			pv.Secret = p.Secret
		}
		view.Players = append(view.Players, pv)
	}
	return view
}
