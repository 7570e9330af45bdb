// internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
)

// ServerConfig is read by cmd/server.
type ServerConfig struct {
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	GracePeriod   time.Duration `env:"ROOM_GRACE_PERIOD" envDefault:"30s"`
	SweepInterval time.Duration `env:"ROOM_SWEEP_INTERVAL" envDefault:"10s"`
	EmptyRoomTTL  time.Duration `env:"ROOM_EMPTY_TTL" envDefault:"5m"`
	ReportTimeout time.Duration `env:"REPORT_TIMEOUT" envDefault:"10s"`

	// TokenExpireTime is a duration, or "never"/"0" for tokens without exp.
	TokenExpireTime string `env:"TOKEN_EXPIRE_TIME" envDefault:"72h"`
	TokenPrivateKey string `env:"TOKEN_PRIVATE_KEY_PATH"`
	TokenPublicKey  string `env:"TOKEN_PUBLIC_KEY_PATH"`

	MetricsEnabled bool `env:"METRICS_ENABLED" envDefault:"true"`

	Postgres PostgresConfig
	Redis    RedisConfig
}

// HistorianConfig is read by cmd/historian.
type HistorianConfig struct {
	LogLevel   string        `env:"LOG_LEVEL" envDefault:"info"`
	BatchSize  int           `env:"HISTORIAN_BATCH_SIZE" envDefault:"20"`
	FlushEvery time.Duration `env:"HISTORIAN_FLUSH_INTERVAL" envDefault:"500ms"`
	PopTimeout time.Duration `env:"HISTORIAN_POP_TIMEOUT" envDefault:"3s"`

	Postgres PostgresConfig
	Redis    RedisConfig
}

// PostgresConfig carries the connection settings. An empty Host disables the database.
type PostgresConfig struct {
	User     string `env:"POSTGRES_USER"`
	Password string `env:"POSTGRES_PASSWORD"`
	Host     string `env:"PG_HOST"`
	Port     string `env:"PG_PORT" envDefault:"5432"`
	Database string `env:"PG_DATABASE"`
}

// DSN builds a postgres:// connection string with the credentials escaped.
func (c PostgresConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   c.Host + ":" + c.Port,
		Path:   "/" + c.Database,
	}
	return u.String()
}

func (c PostgresConfig) Enabled() bool { return c.Host != "" }

// RedisConfig carries the result queue settings. An empty Addr disables the queue.
type RedisConfig struct {
	Addr      string `env:"REDIS_ADDR"`
	DB        int    `env:"REDIS_DB" envDefault:"0"`
	QueueName string `env:"RESULTS_QUEUE_NAME" envDefault:"gameroom_results"`
}

func (c RedisConfig) Enabled() bool { return c.Addr != "" }

func LoadServer() (ServerConfig, error) {
	var cfg ServerConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse server config: %w", err)
	}
	return cfg, nil
}

func LoadHistorian() (HistorianConfig, error) {
	var cfg HistorianConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse historian config: %w", err)
	}
	return cfg, nil
}

// NewLogger builds a logrus logger at level, falling back to info for unknown levels.
func NewLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logger.Warnf("unknown log level %q, using info", level)
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}
