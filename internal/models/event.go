package models

import "encoding/json"

// EventRecord is one applied client event, as written to the event journal.
type EventRecord struct {
	GameCode    string          `json:"game_code"`
	ActorUserID int64           `json:"actor_user_id"`
	Event       string          `json:"event"`
	Payload     json.RawMessage `json:"payload"`
	Timestamp   int64           `json:"timestamp"`
}
