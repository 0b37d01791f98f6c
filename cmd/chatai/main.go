// Command chatai is an interactive terminal client for the ChatAI backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/VINIA6/CHATAI/internal/auth"
	"github.com/VINIA6/CHATAI/internal/backend"
	"github.com/VINIA6/CHATAI/internal/chat"
	"github.com/VINIA6/CHATAI/internal/config"
	"github.com/VINIA6/CHATAI/internal/db"
	"github.com/VINIA6/CHATAI/internal/retry"
	"github.com/VINIA6/CHATAI/internal/store/rabbitmq"
	"github.com/VINIA6/CHATAI/internal/store/redisstore"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the process exit code so deferred cleanups finish before exit.
func run(args []string) int {
	fs := flag.NewFlagSet("chatai", flag.ContinueOnError)
	mode := fs.String("mode", "", "send mode: talk, stream or chat (overrides CHATAI_MODE)")
	email := fs.String("email", "", "email to log in with")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		config.Logger.WithError(err).Error("load config")
		return 1
	}
	if *mode != "" {
		cfg.Mode = strings.ToLower(strings.TrimSpace(*mode))
		if err := cfg.Validate(); err != nil {
			config.Logger.WithError(err).Error("invalid -mode")
			return 2
		}
	}
	log := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
	log.SetOutput(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, repo, closeStore, err := openStores(ctx, cfg)
	if err != nil {
		log.WithError(err).Error("open session store")
		return 1
	}
	defer closeStore()

	sessions := auth.NewManager(store, cfg.SessionTTL, log)

	unauthorized := make(chan struct{}, 1)
	client := backend.New(backend.Options{
		BaseURL:  cfg.APIURL,
		Timeout:  cfg.RequestTimeout,
		Retry:    retry.Policy{MaxRetries: cfg.RetryMax, Delay: cfg.RetryDelay},
		Sessions: sessions,
		Logger:   log,
		OnUnauthorized: func() {
			select {
			case unauthorized <- struct{}{}:
			default:
			}
		},
	})

	var events chat.EventSink
	if cfg.RabbitURL != "" {
		p, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.WithError(err).Warn("event publishing disabled")
		} else {
			defer p.Close()
			events = p
		}
	}

	svc := chat.NewService(client, chat.Options{
		Mode:             chat.Mode(cfg.Mode),
		MaxMessageLength: cfg.MaxMessageLength,
		Profile:          cfg.Profile,
		Repo:             repo,
		Events:           events,
		Logger:           log,
	})

	a := newApp(svc, sessions, client, unauthorized, log)
	defer a.Close()

	if err := a.Run(ctx, *email); err != nil {
		fmt.Fprintln(os.Stderr, "chatai:", err)
		return 1
	}
	return 0
}

// openStores picks the session store and, for database stores, the talk
// cache.
func openStores(ctx context.Context, cfg config.Config) (auth.Store, *chat.Repo, func(), error) {
	noop := func() {}
	switch cfg.Store {
	case config.StoreMemory:
		return auth.NewMemoryStore(), nil, noop, nil
	case config.StoreRedis:
		rdb, err := redisstore.NewClient(ctx, redisstore.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, noop, err
		}
		return redisstore.New(rdb, cfg.Profile), nil, func() { _ = rdb.Close() }, nil
	}

	driver := db.DriverSQLite
	if cfg.Store == config.StoreMySQL {
		driver = db.DriverMySQL
	}
	gdb, err := db.Open(driver, cfg.DBDSN)
	if err != nil {
		return nil, nil, noop, err
	}
	closeDB := func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return auth.NewGormStore(gdb, cfg.Profile), chat.NewRepo(gdb), closeDB, nil
}
