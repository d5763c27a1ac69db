// cmd/historian/main.go drains the Redis event journal into PostgreSQL.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/shampiniony/sightquest-server/internal/cache"
	"github.com/shampiniony/sightquest-server/internal/config"
	"github.com/shampiniony/sightquest-server/internal/database"
	"github.com/shampiniony/sightquest-server/internal/historian"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if cfg.RedisAddr == "" {
		logger.Fatal("historian requires REDIS_ADDR")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.ConnectDB(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("database: %v", err)
	}
	store := database.NewPostgresStore(pool)
	defer store.Close()

	rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	hs := historian.NewService(cache.NewJournal(rdb, cfg.JournalQueue), store, logger)
	hs.BatchSize = cfg.HistorianBatchSize
	hs.FlushDelay = cfg.HistorianFlush
	hs.Run(ctx)
}
