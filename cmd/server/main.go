package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"propmarket/server/config"
	"propmarket/server/internal/api"
	"propmarket/server/internal/app"
	"propmarket/server/internal/queue"
	"propmarket/server/internal/scheduler"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	logger, err := app.NewLogger(cfg.LogLevel)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to create logger")
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize sync engine")
	}
	defer a.Close()

	// Trigger queue for listing and POI change events
	triggers := queue.NewTriggerQueue(cfg.Queue.BufferSize, logger,
		queue.WithWorkers(cfg.Queue.Workers),
		queue.WithRateLimit(cfg.Queue.RatePerSecond, cfg.Queue.Burst),
	)
	triggers.Subscribe(a.Processor.HandleTask)
	triggers.Start()

	go func() {
		for taskErr := range triggers.Errors() {
			logger.WithError(taskErr.Err).WithFields(logrus.Fields{
				"kind": taskErr.Task.Kind,
				"id":   taskErr.Task.ID,
			}).Error("Trigger task failed")
		}
	}()

	sched := scheduler.NewScheduler(a.Processor, cfg.Scheduler, logger)
	sched.Start()

	handler := api.NewHandler(api.Services{
		Listings:  a.Store,
		Nearby:    a.Nearby,
		Syncer:    a.Syncer,
		Batches:   a.Processor,
		Valuation: a.Valuation,
		Queue:     triggers,
	}, logger)

	if logger.GetLevel() < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.Server.AdminToken == "" {
		logger.Warn("ADMIN_TOKEN is not set, operator routes are disabled")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           api.NewRouter(cfg.Server, handler, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("Starting server on port %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("HTTP server shutdown failed")
	}
	sched.Stop()
	if err := triggers.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("Trigger queue did not drain before timeout")
	}
	logger.Info("Shutdown complete")
}
