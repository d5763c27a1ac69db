package models

import "encoding/json"

// Role is one of the two mutually exclusive chase roles.
type Role string

const (
	RoleRunner  Role = "RUNNER"
	RoleCatcher Role = "CATCHER"
)

// Player is a user's membership in one game.
type Player struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	GameCode string `json:"game_code"`
	Role     Role   `json:"role"`

	// Secret authorizes catch claims against this player. It is rotated
	// whenever the player is caught.
	Secret string `json:"-"`

	// OrderKey defines the catch-rotation order within the game.
	OrderKey int `json:"order_key"`
}

// IsRunner reports whether the player currently holds the runner role.
func (p Player) IsRunner() bool {
	return p.Role == RoleRunner
}

// Coordinates is the last location a client reported. The server never
// interprets it, it is stored and echoed as-is.
type Coordinates = json.RawMessage

// RoleChange describes one role/secret mutation applied by the rotation engine
// or by game start. An empty Secret leaves the stored secret untouched.
type RoleChange struct {
	UserID int64
	Role   Role
	Secret string
}
