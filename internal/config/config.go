package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "CHATAI"

// Transport modes for chat sends.
const (
	ModeTalk   = "talk"
	ModeStream = "stream"
	ModeChat   = "chat"
)

// Session store backends.
const (
	StoreSQLite = "sqlite"
	StoreMySQL  = "mysql"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

type Config struct {
	// backend
	APIURL         string        `envconfig:"API_URL" default:"http://localhost:5001/api"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"120s"`
	RetryMax       int           `envconfig:"RETRY_MAX" default:"2"`
	RetryDelay     time.Duration `envconfig:"RETRY_DELAY" default:"3s"`

	// chat
	Mode             string        `envconfig:"MODE" default:"talk"`
	MaxMessageLength int           `envconfig:"MAX_MESSAGE_LENGTH" default:"4000"`
	SessionTTL       time.Duration `envconfig:"SESSION_TTL" default:"24h"`
	Profile          string        `envconfig:"PROFILE" default:"default"`

	// local persistence
	Store         string `envconfig:"STORE" default:"sqlite"`
	DBDSN         string `envconfig:"DB_DSN" default:"chatai.db"`
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// rabbitMQ, empty URL disables event publishing
	RabbitURL   string `envconfig:"RABBIT_URL"`
	RabbitQueue string `envconfig:"RABBIT_QUEUE" default:"chat_events"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	// proxy
	ProxyListenAddr string        `envconfig:"PROXY_LISTEN_ADDR" default:":8080"`
	ProxyUpstream   string        `envconfig:"PROXY_UPSTREAM" default:"http://localhost:5001"`
	ProxyTimeout    time.Duration `envconfig:"PROXY_TIMEOUT" default:"120s"`

	// worker
	WorkerConcurrency int `envconfig:"WORKER_CONCURRENCY" default:"2"`
}

// Load reads .env (if present) and the CHATAI_* environment into a Config.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		Logger.WithError(err).Debug("no .env file, using environment only")
	}

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("read %s_* environment: %w", envPrefix, err)
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	cfg.ProxyUpstream = strings.TrimRight(cfg.ProxyUpstream, "/")
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeTalk, ModeStream, ModeChat:
	default:
		return fmt.Errorf("%s_MODE must be one of talk, stream, chat (got %q)", envPrefix, c.Mode)
	}
	switch c.Store {
	case StoreSQLite, StoreMySQL, StoreRedis, StoreMemory:
	default:
		return fmt.Errorf("%s_STORE must be one of sqlite, mysql, redis, memory (got %q)", envPrefix, c.Store)
	}
	if c.APIURL == "" {
		return fmt.Errorf("%s_API_URL must be configured", envPrefix)
	}
	if c.RequestTimeout <= 0 || c.ProxyTimeout <= 0 {
		return fmt.Errorf("request and proxy timeouts must be positive")
	}
	if c.RetryMax < 0 {
		return fmt.Errorf("%s_RETRY_MAX must not be negative", envPrefix)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("%s_SESSION_TTL must be positive", envPrefix)
	}
	return nil
}
