package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marketsim/tradesim/internal/account"
	"github.com/marketsim/tradesim/internal/api"
	"github.com/marketsim/tradesim/internal/auth"
	"github.com/marketsim/tradesim/internal/catalog"
	"github.com/marketsim/tradesim/internal/config"
	"github.com/marketsim/tradesim/internal/events"
	"github.com/marketsim/tradesim/internal/model"
	"github.com/marketsim/tradesim/internal/presence"
	"github.com/marketsim/tradesim/internal/store"
	"github.com/marketsim/tradesim/internal/trade"
)

func main() {
	cfg := config.MustLoad()

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := store.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		log.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				log.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			log.Info("Redis cache enabled", "ttl", cfg.CacheTTL.String())
		}
	} else {
		log.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Catalog ---
	if n, err := catalog.Seed(ctx, st, catalog.Defaults()); err != nil {
		log.Error("catalog seed failed", "err", err)
		os.Exit(1)
	} else if n > 0 {
		log.Info("catalog seeded", "assets", n)
	}

	jitter, err := catalog.NewJitterer(st, catalog.Bounds{
		model.ClassStock:  cfg.Market.StockJitter,
		model.ClassCrypto: cfg.Market.CryptoJitter,
	}, nil, log)
	if err != nil {
		log.Error("invalid market config", "err", err)
		os.Exit(1)
	}
	go jitter.Run(ctx, cfg.Market.TickEvery)

	// --- Presence ---
	hub := presence.NewHub(log)
	go hub.Run(ctx)

	// --- Trade events ---
	var pub events.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		pub = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		log.Info("kafka publisher enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}
	defer pub.Close()

	// --- Services ---
	accounts := account.NewService(st, cfg.Market.StartingCash(), nil, log)
	ledger := trade.NewService(st, trade.Options{
		SelfTrade:               trade.SelfTradePolicy(cfg.Trade.SelfTrade),
		AllowRecipientOverdraft: cfg.Trade.AllowsRecipientOverdraft(),
		SettleTimeout:           cfg.Trade.SettleTimeout,
	}, log)

	srvAPI := api.New(api.Deps{
		Store:         st,
		Accounts:      accounts,
		Ledger:        ledger,
		Sessions:      auth.NewSessions(cfg.Session.Secret, cfg.Session.TTL),
		Hub:           hub,
		Events:        pub,
		StaticDir:     cfg.StaticDir,
		SecureCookies: cfg.Env == config.EnvProd,
	}, log)

	// --- Server ---
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srvAPI.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("tradesim listening", "addr", cfg.HTTPAddr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log.Info("shutting down tradesim...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "err", err)
	}
	fmt.Println("tradesim stopped")
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger
	switch env {
	case config.EnvLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case config.EnvDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}
	return log
}
