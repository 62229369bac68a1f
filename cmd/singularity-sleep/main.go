package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"singularity-sleep/internal/config"
	"singularity-sleep/internal/crypto"
	"singularity-sleep/internal/database"
	"singularity-sleep/internal/eightsleep"
	httpapi "singularity-sleep/internal/http"
	applog "singularity-sleep/internal/logger"
	"singularity-sleep/internal/repository"
	"singularity-sleep/internal/service"
	"singularity-sleep/internal/store"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	logger, err := applog.New(cfg.Log.Level, cfg.Log.Format, "singularity-sleep")
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := database.InitSchema(context.Background(), db); err != nil {
		logger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	kv := store.NewRedisKV(redisClient)

	enc, err := crypto.NewEncryptor(cfg.EightSleep.EncryptionKey)
	if err != nil {
		logger.Fatal("Invalid credential encryption key", zap.Error(err))
	}

	integrationsRepo := repository.NewPostgresIntegrationsRepository(db)
	sessionsRepo := repository.NewPostgresSessionsRepository(db)
	schedulesRepo := repository.NewPostgresSchedulesRepository(db)
	correlationsRepo := repository.NewPostgresCorrelationsRepository(db)
	activityRepo := repository.NewPostgresActivityRepository(db)

	client := eightsleep.NewClient(cfg.EightSleep.BaseURL, logger)

	eightSleepService := service.NewEightSleepService(
		integrationsRepo,
		sessionsRepo,
		schedulesRepo,
		client,
		enc,
		kv,
		cfg.EightSleep.DefaultSyncTime,
		cfg.EightSleep.DefaultTimezone,
		logger,
	)
	analysisService := service.NewAnalysisService(sessionsRepo, correlationsRepo, activityRepo, kv, logger)

	handler := httpapi.NewEightSleepHandler(eightSleepService, analysisService, logger)
	router := httpapi.NewRouter(logger)
	router.RegisterEightSleepRoutes(handler)

	srv := service.NewServer(cfg.HTTP.Addr, router, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Scheduler.Enabled {
		scheduler := service.NewScheduler(schedulesRepo, eightSleepService, logger)
		go func() {
			if err := scheduler.Start(ctx); err != nil {
				logger.Error("Scheduler exited", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		cancel()
	case err := <-errCh:
		logger.Error("HTTP server exited", zap.Error(err))
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
	_ = redisClient.Close()
	_ = db.Close()
}
