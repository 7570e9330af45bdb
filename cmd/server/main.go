// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/gameroom/internal/auth"
	"github.com/jason-s-yu/gameroom/internal/cache"
	"github.com/jason-s-yu/gameroom/internal/config"
	"github.com/jason-s-yu/gameroom/internal/database"
	"github.com/jason-s-yu/gameroom/internal/handlers"
	"github.com/jason-s-yu/gameroom/internal/metrics"
	"github.com/jason-s-yu/gameroom/internal/rating"
	"github.com/jason-s-yu/gameroom/internal/room"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger := config.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tokens, err := loadTokens(cfg)
	if err != nil {
		logger.Fatalf("auth: %v", err)
	}

	// Postgres and Redis are optional; without them results are neither rated nor archived.
	var (
		users     rating.UserStore
		lookup    auth.UserLookup
		publisher rating.Publisher
	)
	if cfg.Postgres.Enabled() {
		db, err := database.Connect(ctx, cfg.Postgres.DSN(), logger)
		if err != nil {
			logger.Fatalf("database: %v", err)
		}
		defer db.Close()
		if err := db.EnsureSchema(ctx); err != nil {
			logger.Fatalf("database: %v", err)
		}
		users, lookup = db, db
	} else {
		logger.Warn("PG_HOST not set, ratings are disabled")
	}
	if cfg.Redis.Enabled() {
		rdb, err := cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.DB)
		if err != nil {
			logger.Fatalf("redis: %v", err)
		}
		defer rdb.Close()
		publisher = cache.NewResultQueue(rdb, cfg.Redis.QueueName)
	} else {
		logger.Warn("REDIS_ADDR not set, match results are not archived")
	}

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New("gameroom", nil)
	}

	rooms := room.NewService(room.Options{
		Logger:        logger,
		GracePeriod:   cfg.GracePeriod,
		EmptyRoomTTL:  cfg.EmptyRoomTTL,
		Identity:      auth.NewResolver(tokens, lookup, logger),
		Reporter:      rating.NewRecorder(publisher, users, logger),
		ReportTimeout: cfg.ReportTimeout,
		Metrics:       m,
	})
	rooms.StartJanitor(ctx, cfg.SweepInterval)

	mux := http.NewServeMux()
	handlers.NewServer(rooms, logger).Register(mux)
	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Infof("Running on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server exited: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	rooms.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("http shutdown: %v", err)
	}
}

// loadTokens reads the key pair from disk when both paths are set, else generates one for this
// process; tokens issued before a restart then stop verifying.
func loadTokens(cfg config.ServerConfig) (*auth.Tokens, error) {
	expire, err := auth.ParseExpire(cfg.TokenExpireTime)
	if err != nil {
		return nil, err
	}
	if cfg.TokenPrivateKey != "" && cfg.TokenPublicKey != "" {
		return auth.LoadTokens(cfg.TokenPrivateKey, cfg.TokenPublicKey, expire)
	}
	logrus.Warn("token key paths not set, generating an ephemeral ed25519 key pair")
	return auth.NewTokens(expire)
}
