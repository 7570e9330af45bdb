package models

import (
	"time"

	"github.com/google/uuid"
)

// MatchResult is one finished match as stored in match_results. Draws still fill both sides;
// WinnerPlayerID is then simply the first seat.
type MatchResult struct {
	ID             uuid.UUID `json:"id"`
	RoomKey        string    `json:"room_key"`
	GameType       string    `json:"game_type"`
	WinnerPlayerID string    `json:"winner_player_id"`
	WinnerUserID   uuid.UUID `json:"winner_user_id,omitempty"`
	LoserPlayerID  string    `json:"loser_player_id"`
	LoserUserID    uuid.UUID `json:"loser_user_id,omitempty"`
	IsDraw         bool      `json:"is_draw"`
	FinishedAt     time.Time `json:"finished_at"`
}
