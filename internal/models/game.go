package models

import "time"

// Phase is the lifecycle phase of a game.
type Phase string

const (
	PhaseLobby    Phase = "LOBBY"
	PhasePlaying  Phase = "PLAYING"
	PhaseFinished Phase = "FINISHED"
)

// Game is the persisted game row plus its settings.
type Game struct {
	Code      string     `json:"code"`
	Phase     Phase      `json:"state"`
	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at"`
	Settings  Settings   `json:"settings"`
}

// Deadline returns when a started game runs out of time. ok is false if the
// game has not started or has no duration configured.
func (g Game) Deadline() (deadline time.Time, ok bool) {
	if g.StartedAt == nil || g.Settings.Duration <= 0 {
		return time.Time{}, false
	}
	return g.StartedAt.Add(g.Settings.Duration), true
}

// TaskCompletion records that a player completed a bound quest task, with a
// photo as evidence. Completions are append-only.
type TaskCompletion struct {
	GameCode    string    `json:"game_code"`
	TaskID      int64     `json:"task_id"`
	UserID      int64     `json:"user_id"`
	PhotoID     int64     `json:"photo_id"`
	CompletedAt time.Time `json:"completed_at"`
}
