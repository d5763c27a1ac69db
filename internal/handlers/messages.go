package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/shampiniony/sightquest-server/internal/game"
	"github.com/shampiniony/sightquest-server/internal/models"
)

// Inbound event types.
const (
	EventAuthorization  = "authorization"
	EventGetGameState   = "get_game_state"
	EventLocationUpdate = "location_update"
	EventTaskCompleted  = "task_completed"
	EventPlayerCaught   = "player_caught"
	EventSettingsUpdate = "settings_update"
	EventStartGame      = "start_game"
)

// Outbound event types.
const (
	EventStatus          = "status"
	EventGameStateUpdate = "gamestate_update"
	EventGameFinished    = "game_finished"
)

// serverSender identifies publishes that originate in the server itself.
const serverSender = "server"

// Status texts sent to clients.
const (
	statusConnected     = "connection succeed"
	statusAuthenticated = "authorization succeed as %s"
)

var statusTexts = map[error]string{
	game.ErrProtocol:         "malformed message",
	game.ErrAuthRequired:     "You didnt complete authorization",
	game.ErrAuthFailed:       "authorization failed",
	game.ErrUnknownSecret:    "secret does not exists",
	game.ErrNotRunner:        "player is not a runner",
	game.ErrReference:        "referenced task or photo does not exist",
	game.ErrStateUnavailable: "game state unavailable",
	game.ErrInvalidPhase:     "action not allowed in current game phase",
}

// statusText maps an error to the status message for its kind. Unclassified
// errors are reported as an unavailable state.
func statusText(err error) string {
	if text, ok := statusTexts[game.Kind(err)]; ok {
		return text
	}
	return statusTexts[game.ErrStateUnavailable]
}

// inboundMessage is the union of the fields of every recognized event.
type inboundMessage struct {
	Event       string          `json:"event"`
	Token       json.RawMessage `json:"token,omitempty"`
	Coordinates json.RawMessage `json:"coordinates,omitempty"`
	TaskID      *flexID         `json:"task_id,omitempty"`
	PhotoID     *flexID         `json:"photo_id,omitempty"`
	Secret      *string         `json:"secret,omitempty"`
	Settings    json.RawMessage `json:"settings,omitempty"`
}

type envelope struct {
	Event string `json:"event"`
}

// decodeEvent extracts the event type of a client frame. Anything that is
// not a JSON object with a non-empty string event is a protocol error.
func decodeEvent(data []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("%w: %w", game.ErrProtocol, err)
	}
	if env.Event == "" {
		return "", fmt.Errorf("%w: missing event", game.ErrProtocol)
	}
	return env.Event, nil
}

// decodeFields parses the fields of a recognized event. Pass-through events
// are never decoded beyond their type.
func decodeFields(data []byte) (*inboundMessage, error) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %w", game.ErrProtocol, err)
	}
	return &msg, nil
}

// credential returns the authorization token as a string. Numeric tokens are
// accepted for clients that send the user id unquoted.
func (m *inboundMessage) credential() (string, error) {
	if len(m.Token) == 0 {
		return "", fmt.Errorf("%w: missing token", game.ErrProtocol)
	}
	var s string
	if err := json.Unmarshal(m.Token, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(m.Token, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("%w: token must be a string", game.ErrProtocol)
}

func (m *inboundMessage) coordinates() (models.Coordinates, error) {
	if len(m.Coordinates) == 0 || bytes.Equal(m.Coordinates, []byte("null")) {
		return nil, fmt.Errorf("%w: missing coordinates", game.ErrProtocol)
	}
	return models.Coordinates(m.Coordinates), nil
}

func (m *inboundMessage) completion() (taskID, photoID int64, err error) {
	if m.TaskID == nil || m.PhotoID == nil {
		return 0, 0, fmt.Errorf("%w: task_id and photo_id are required", game.ErrProtocol)
	}
	return int64(*m.TaskID), int64(*m.PhotoID), nil
}

func (m *inboundMessage) secret() (string, error) {
	if m.Secret == nil {
		return "", fmt.Errorf("%w: missing secret", game.ErrProtocol)
	}
	return *m.Secret, nil
}

func (m *inboundMessage) settings() (models.Settings, error) {
	var s models.Settings
	if len(m.Settings) == 0 || bytes.Equal(m.Settings, []byte("null")) {
		return s, fmt.Errorf("%w: missing settings", game.ErrProtocol)
	}
	if err := json.Unmarshal(m.Settings, &s); err != nil {
		return s, fmt.Errorf("%w: settings: %w", game.ErrProtocol, err)
	}
	return s, nil
}

// flexID is an integer id sent either as a JSON number or a numeric string.
type flexID int64

func (f *flexID) UnmarshalJSON(data []byte) error {
	raw := data
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		raw = []byte(s)
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return errors.New("id must be an integer")
	}
	*f = flexID(n)
	return nil
}

type statusMessage struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

type gameStateMessage struct {
	Event string         `json:"event"`
	State game.StateView `json:"state"`
}

type gameFinishedPayload struct {
	Event string `json:"event"`
}

func statusMessageBytes(text string) []byte {
	data, _ := json.Marshal(statusMessage{Event: EventStatus, Message: text})
	return data
}

func gameStateMessageBytes(view game.StateView) ([]byte, error) {
	return json.Marshal(gameStateMessage{Event: EventGameStateUpdate, State: view})
}

func gameFinishedMessage() []byte {
	data, _ := json.Marshal(gameFinishedPayload{Event: EventGameFinished})
	return data
}
