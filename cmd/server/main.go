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

	"github.com/shampiniony/sightquest-server/internal/auth"
	"github.com/shampiniony/sightquest-server/internal/broadcast"
	"github.com/shampiniony/sightquest-server/internal/cache"
	"github.com/shampiniony/sightquest-server/internal/config"
	"github.com/shampiniony/sightquest-server/internal/database"
	"github.com/shampiniony/sightquest-server/internal/game"
	"github.com/shampiniony/sightquest-server/internal/handlers"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}
	configureLogger(logger, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore := openStore(ctx, cfg, logger)
	defer closeStore()

	resolver, err := newResolver(cfg, store)
	if err != nil {
		logger.Fatalf("auth setup failed: %v", err)
	}

	reg := game.NewRegistry(store, logger)
	hub := broadcast.NewHub(logger)
	gs := handlers.NewGameServer(reg, hub, resolver, logger)
	gs.SendBuffer = cfg.SendBuffer
	gs.WriteTimeout = cfg.WriteTimeout
	gs.PingInterval = cfg.PingInterval
	reg.OnFinish = gs.FinishNotifier()

	if cfg.RedisAddr != "" {
		rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Fatalf("redis: %v", err)
		}
		defer rdb.Close()

		relay := broadcast.NewRedisRelay(rdb, hub, cfg.BroadcastPrefix, logger)
		relay.Timeout = cfg.WriteTimeout
		hub.SetRelay(relay)
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorf("broadcast relay stopped: %v", err)
			}
		}()
		gs.Journal = cache.NewJournal(rdb, cfg.JournalQueue)
		logger.Infof("Redis relay and journal enabled on %s", cfg.RedisAddr)
	} else {
		logger.Info("REDIS_ADDR not set, running single-instance without journal")
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handlers.NewRouter(gs, store),
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("shutdown: %v", err)
		}
	}()

	logger.Infof("Running on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("server exited: %v", err)
	}
}

func configureLogger(logger *logrus.Logger, cfg *config.Config) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Warnf("unknown LOG_LEVEL %q, using info", cfg.LogLevel)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (database.Store, func()) {
	if cfg.Store == "memory" {
		logger.Warn("using in-memory store, state is lost on restart")
		return database.NewMemoryStore(), func() {}
	}
	pool, err := database.ConnectDB(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("database: %v", err)
	}
	store := database.NewPostgresStore(pool)
	return store, store.Close
}

func newResolver(cfg *config.Config, users auth.UserLookup) (auth.Resolver, error) {
	if cfg.AuthMode != "jwt" {
		return auth.NewUserIDResolver(users), nil
	}
	expire, err := auth.ParseTokenExpireTime(os.Getenv("TOKEN_EXPIRE_TIME"))
	if err != nil {
		return nil, err
	}
	tokens, err := auth.LoadTokens(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, expire)
	if err != nil {
		return nil, err
	}
	return auth.NewJWTResolver(users, tokens), nil
}
