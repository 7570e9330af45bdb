// internal/game/events.go
package game

import (
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"
)

// EventType names an outbound notification.
type EventType string

const (
	EventSeatAssigned       EventType = "seat_assigned"
	EventGameStarted        EventType = "game_started"
	EventGameState          EventType = "game_state"
	EventRoundResolved      EventType = "round_resolved"
	EventGameOver           EventType = "game_over"
	EventResetPending       EventType = "reset_pending"
	EventGameReset          EventType = "game_reset"
	EventResultReported     EventType = "result_reported"
	EventPlayerDisconnected EventType = "player_disconnected"
	EventPlayerReconnected  EventType = "player_reconnected"
	EventPlayerLeft         EventType = "player_left"
	EventRoomClosing        EventType = "room_closing"
	EventRoomClosed         EventType = "room_closed"
	EventSpectatorJoined    EventType = "spectator_joined"
	EventSpectatorLeft      EventType = "spectator_left"
	EventJoinRejected       EventType = "join_rejected"
	EventMatchmakingJoined  EventType = "matchmaking_joined"
)

// Event is the single outbound message shape. Fields not relevant to a type are omitted.
type Event struct {
	Type     EventType  `json:"type"`
	RoomKey  string     `json:"roomKey,omitempty"`
	Code     string     `json:"code,omitempty"`
	PlayerID string     `json:"playerId,omitempty"`
	Username string     `json:"username,omitempty"`
	Color    Color      `json:"color,omitempty"`
	Reason   string     `json:"reason,omitempty"`
	Deadline *time.Time `json:"deadline,omitempty"`
	State    any        `json:"state,omitempty"`

	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Bytes marshals the event for the wire. On failure it logs and returns "{}".
func (ev Event) Bytes() []byte {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Warnf("failed to marshal event %s: %v", ev.Type, err)
		return []byte("{}")
	}
	return data
}
