package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/gameroom/internal/models"
)

// InsertMatchResults stores a batch of finished matches in one transaction. Rows whose id
// already exists are skipped, so a redelivered batch is harmless.
func (d *DB) InsertMatchResults(ctx context.Context, results []models.MatchResult) error {
	if len(results) == 0 {
		return nil
	}
	err := pgx.BeginTxFunc(ctx, d.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, r := range results {
			_, err := tx.Exec(ctx, `
				INSERT INTO match_results (id, room_key, game_type, winner_player_id, winner_user_id,
				                           loser_player_id, loser_user_id, is_draw, finished_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				ON CONFLICT (id) DO NOTHING
			`,
				r.ID, r.RoomKey, r.GameType,
				r.WinnerPlayerID, nullableUUID(r.WinnerUserID),
				r.LoserPlayerID, nullableUUID(r.LoserUserID),
				r.IsDraw, r.FinishedAt,
			)
			if err != nil {
				return fmt.Errorf("insert match %s: %w", r.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to insert %d match results: %w", len(results), err)
	}
	return nil
}

// nullableUUID maps anonymous players to NULL.
func nullableUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}
