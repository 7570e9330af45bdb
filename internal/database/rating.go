package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/gameroom/internal/models"
)

// Commit1v1MatchResults writes both players' new 1v1 rating and logs the change in ratings,
// all in one transaction. before and after are parallel. A match whose ratings were already
// logged is left alone.
func (d *DB) Commit1v1MatchResults(ctx context.Context, matchID uuid.UUID, before, after [2]models.User) error {
	err := pgx.BeginTxFunc(ctx, d.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var applied bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM ratings WHERE game_id = $1)`, matchID,
		).Scan(&applied); err != nil {
			return err
		}
		if applied {
			return nil
		}
		for _, u := range after {
			if _, err := tx.Exec(ctx,
				`UPDATE users SET elo_1v1 = $1, phi_1v1 = $2, sigma_1v1 = $3 WHERE id = $4`,
				u.Elo1v1, u.Phi1v1, u.Sigma1v1, u.ID,
			); err != nil {
				return err
			}
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO ratings (user_id, game_id, old_rating, new_rating, rating_mode)
			VALUES ($1, $2, $3, $4, $5), ($6, $7, $8, $9, $10)
		`,
			after[0].ID, matchID, before[0].Elo1v1, after[0].Elo1v1, "1v1",
			after[1].ID, matchID, before[1].Elo1v1, after[1].Elo1v1, "1v1",
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to commit 1v1 match results: %w", err)
	}
	return nil
}
