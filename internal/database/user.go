package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/gameroom/internal/models"
)

// ErrUserNotFound is returned when no users row has the requested id.
var ErrUserNotFound = errors.New("user not found")

// GetUserByID loads the identity and 1v1 rating columns of a user.
func (d *DB) GetUserByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var u models.User
	q := `
	SELECT id, username, is_ephemeral,
	       elo_1v1, phi_1v1, sigma_1v1
	FROM users
	WHERE id=$1
	`
	err := d.Pool.QueryRow(ctx, q, userID).Scan(
		&u.ID, &u.Username, &u.IsEphemeral,
		&u.Elo1v1, &u.Phi1v1, &u.Sigma1v1,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", userID, err)
	}
	return &u, nil
}
