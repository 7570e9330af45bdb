// cmd/historian/main.go drains finished match results from the Redis queue into Postgres.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jason-s-yu/gameroom/internal/cache"
	"github.com/jason-s-yu/gameroom/internal/config"
	"github.com/jason-s-yu/gameroom/internal/database"
	"github.com/jason-s-yu/gameroom/internal/historian"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.LoadHistorian()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger := config.NewLogger(cfg.LogLevel)
	if !cfg.Postgres.Enabled() || !cfg.Redis.Enabled() {
		logger.Fatal("historian needs both PG_HOST and REDIS_ADDR")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.Postgres.DSN(), logger)
	if err != nil {
		logger.Fatalf("database: %v", err)
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		logger.Fatalf("database: %v", err)
	}

	rdb, err := cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.DB)
	if err != nil {
		logger.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	hs := historian.NewService(cache.NewResultQueue(rdb, cfg.Redis.QueueName), db, historian.Options{
		BatchSize:  cfg.BatchSize,
		FlushEvery: cfg.FlushEvery,
		PopTimeout: cfg.PopTimeout,
		Logger:     logger,
	})
	hs.Run(ctx)

	flushed, pending, dropped, returned := hs.Counters()
	logger.Infof("historian shutdown complete: %d flushed, %d pending, %d dropped, %d returned to queue",
		flushed, pending, dropped, returned)
}
