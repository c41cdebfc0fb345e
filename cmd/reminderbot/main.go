package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"task-reminder/internal/bot"
	"task-reminder/internal/config"
	"task-reminder/internal/httpserver"
	"task-reminder/internal/logging"
	"task-reminder/internal/repository"
	"task-reminder/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := repository.NewDB(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("db", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err == nil {
		defer sqlDB.Close()
	}

	userRepo := repository.NewUserRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	taskSvc := service.NewTaskService(taskRepo)

	telegramBot, err := bot.New(cfg.TelegramToken, userRepo, taskSvc, logger)
	if err != nil {
		logger.Fatal("bot", zap.Error(err))
	}

	var locker service.JobLocker
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, jobs run unguarded until it recovers", zap.Error(err))
		}
		locker = service.NewRedisLocker(rdb, "reminder-bot")
	}

	reminderSvc := service.NewReminderService(taskRepo, userRepo, telegramBot, logger)
	restoreSvc := service.NewRestoreService(taskRepo, userRepo, logger)

	scheduler := service.NewSchedulerService(logger, locker)
	if _, err := scheduler.AddJob("reminder-scan", cfg.ScanInterval, cfg.JobTimeout, func(ctx context.Context) error {
		_, err := reminderSvc.Scan(ctx)
		return err
	}); err != nil {
		logger.Fatal("schedule reminder scan", zap.Error(err))
	}
	if _, err := scheduler.AddJob("daily-restore", cfg.RestoreInterval, cfg.JobTimeout, func(ctx context.Context) error {
		_, err := restoreSvc.Restore(ctx)
		return err
	}); err != nil {
		logger.Fatal("schedule daily restore", zap.Error(err))
	}
	scheduler.Start()

	var srv *http.Server
	if cfg.HTTPAddr != "" {
		srv = httpserver.NewServer(cfg.HTTPAddr, httpserver.NewRouter(db))
		go func() {
			logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server", zap.Error(err))
			}
		}()
	}

	logger.Info("reminder bot started")
	if err := telegramBot.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("bot stopped with error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Warn("scheduler shutdown", zap.Error(err))
	}
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
