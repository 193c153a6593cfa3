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

	"github.com/jason-s-yu/matchmaker/internal/auth"
	"github.com/jason-s-yu/matchmaker/internal/cache"
	"github.com/jason-s-yu/matchmaker/internal/config"
	"github.com/jason-s-yu/matchmaker/internal/database"
	"github.com/jason-s-yu/matchmaker/internal/handlers"
	"github.com/jason-s-yu/matchmaker/internal/lobby"
	"github.com/jason-s-yu/matchmaker/internal/matchmaking"
	"github.com/jason-s-yu/matchmaker/internal/notify"
	"github.com/jason-s-yu/matchmaker/internal/scheduler"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	if lvl, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		logger.SetLevel(lvl)
	}

	cfg := config.Load()

	if cfg.JWTPrivateKeyPath != "" && cfg.JWTPublicKeyPath != "" {
		if err := auth.InitFromPath(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.TokenExpire); err != nil {
			logger.Fatalf("failed to load signing keys: %v", err)
		}
	} else {
		logger.Warn("no signing keys configured, generating an ephemeral pair")
		if err := auth.Init(cfg.TokenExpire); err != nil {
			logger.Fatalf("failed to init auth: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, err := cache.ConnectRedis(cache.Options{
		Addr:     cfg.RedisAddr,
		DB:       cfg.RedisDB,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		logger.Fatal(err)
	}
	defer rdb.Close()

	store, err := database.ConnectDB(ctx, database.ConnOptions{
		User:     cfg.PostgresUser,
		Password: cfg.PostgresPassword,
		Host:     cfg.PGHost,
		Port:     cfg.PGPort,
		Database: cfg.PGDatabase,
	})
	if err != nil {
		logger.Fatal(err)
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatalf("failed to prepare schema: %v", err)
	}

	jobs := scheduler.NewQueue(rdb, logger)
	publisher := notify.NewPublisher(rdb)
	engine := matchmaking.New(rdb, lobby.NewDirectory(rdb, store), store, publisher, jobs, logger, matchmaking.Config{
		RankStep:       cfg.RankStep,
		MaxPasses:      cfg.MaxPasses,
		ConfirmTimeout: cfg.ConfirmTimeout,
	})

	jobs.Handle(matchmaking.JobCancelConfirmation, engine.HandleCancelJob)
	jobs.Handle(matchmaking.JobMarkPlayerOffline, engine.MarkPlayerOffline)
	if err := jobs.Start(cfg.JobPollInterval); err != nil {
		logger.Fatalf("failed to start job poller: %v", err)
	}
	defer jobs.Stop()

	hub := handlers.NewHub(logger)
	go func() {
		if err := hub.Run(ctx, rdb); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("fan-out subscriber stopped: %v", err)
			stop()
		}
	}()

	gateway := handlers.NewGateway(engine, hub, publisher, logger, cfg.OfflineGrace)
	health := func(ctx context.Context) error { return rdb.Ping(ctx).Err() }

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.NewRouter(gateway, cfg.InternalAPIToken, health, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("Running on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("server exited: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("graceful shutdown failed: %v", err)
	}
}
