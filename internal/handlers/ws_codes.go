// internal/handlers/ws_codes.go
package handlers

import "github.com/coder/websocket"

// Custom WebSocket close codes. These give clients a more specific reason than the standard codes.
const (
	BadSubprotocolError   websocket.StatusCode = 3000 // Client connected with an unsupported subprotocol.
	InvalidAuthTokenError websocket.StatusCode = 3001 // Identity token did not verify.
	InvalidPlayerIDError  websocket.StatusCode = 3002 // Missing player id.
	InvalidRoomError      websocket.StatusCode = 3003 // Target room does not exist or is closed.
)
