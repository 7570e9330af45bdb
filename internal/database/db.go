package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// DB wraps the pgx pool used for user lookups, rating commits and match history.
type DB struct {
	Pool *pgxpool.Pool
	log  *logrus.Entry
}

// Connect parses dsn, opens a pool and pings it.
func Connect(ctx context.Context, dsn string, logger *logrus.Logger) (*DB, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse pgx config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	logger.Infof("connected to database at %s:%d/%s", config.ConnConfig.Host, config.ConnConfig.Port, config.ConnConfig.Database)
	return &DB{Pool: pool, log: logger.WithField("component", "database")}, nil
}

func (d *DB) Close() {
	if d != nil && d.Pool != nil {
		d.Pool.Close()
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id           UUID PRIMARY KEY,
	username     TEXT NOT NULL,
	is_ephemeral BOOLEAN NOT NULL DEFAULT FALSE,
	elo_1v1      INTEGER NOT NULL DEFAULT 1500,
	phi_1v1      DOUBLE PRECISION NOT NULL DEFAULT 350,
	sigma_1v1    DOUBLE PRECISION NOT NULL DEFAULT 0.06
);

CREATE TABLE IF NOT EXISTS ratings (
	id          BIGSERIAL PRIMARY KEY,
	user_id     UUID NOT NULL REFERENCES users(id),
	game_id     UUID NOT NULL,
	old_rating  INTEGER NOT NULL,
	new_rating  INTEGER NOT NULL,
	rating_mode TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user_id, game_id)
);

CREATE TABLE IF NOT EXISTS match_results (
	id               UUID PRIMARY KEY,
	room_key         TEXT NOT NULL,
	game_type        TEXT NOT NULL,
	winner_player_id TEXT NOT NULL,
	winner_user_id   UUID,
	loser_player_id  TEXT NOT NULL,
	loser_user_id    UUID,
	is_draw          BOOLEAN NOT NULL,
	finished_at      TIMESTAMPTZ NOT NULL
);
`

// EnsureSchema creates the tables this service writes to when they are missing.
func (d *DB) EnsureSchema(ctx context.Context) error {
	return pgx.BeginTxFunc(ctx, d.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, schema); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
		return nil
	})
}
