package handlers

import "github.com/coder/websocket"

// Custom WebSocket close codes used by the game handler.
const (
	AuthFailedClose   websocket.StatusCode = 3001 // credential did not resolve to a user
	AuthRequiredClose websocket.StatusCode = 3002 // event sent before authorization
	UnknownGameClose  websocket.StatusCode = 3003 // game code in the URL does not exist
)
