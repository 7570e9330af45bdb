package models

import "github.com/google/uuid"

// User is the slice of an account row the room service reads and the rating recorder writes.
type User struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`

	IsEphemeral bool `json:"is_ephemeral"`

	// Glicko2 for 1v1
	Elo1v1   int     `json:"elo_1v1"`
	Phi1v1   float64 `json:"phi_1v1"`
	Sigma1v1 float64 `json:"sigma_1v1"`
}
