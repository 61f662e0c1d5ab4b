package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/melih/ephemeral-postgres/internal/adapters/docker"
	"github.com/melih/ephemeral-postgres/internal/adapters/http"
	"github.com/melih/ephemeral-postgres/internal/config"
	"github.com/melih/ephemeral-postgres/internal/core/domain"
	"github.com/melih/ephemeral-postgres/internal/core/readiness"
	"github.com/melih/ephemeral-postgres/internal/core/registry"
	"github.com/melih/ephemeral-postgres/internal/core/service"
	"github.com/melih/ephemeral-postgres/internal/logging"
	"github.com/melih/ephemeral-postgres/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Get().Fatal().Err(err).Msg("failed to load config")
	}
	closeLog, err := logging.Init(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		logging.Get().Fatal().Err(err).Msg("failed to initialize logging")
	}
	defer closeLog()
	log := logging.Get()

	// 1. Initialize Adapters (Infrastructure)
	dockerAdapter, err := docker.NewAdapter(cfg.StopTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize Docker adapter")
	}
	defer dockerAdapter.Close()

	// 2. Core: registry, prober, lifecycle service
	reg := registry.Default()
	svc := service.New(dockerAdapter, reg, readiness.NewProber(dockerAdapter, cfg.PollInterval))
	hook := registry.NewHook(reg, dockerAdapter, cfg.HookTimeout)

	// 3. HTTP surface
	wait := cfg.DefaultWaitTime
	handler := http.NewInstanceHandler(svc, domain.Config{
		Version:  cfg.DefaultVersion,
		WaitTime: &wait,
	})
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		// POST /instances blocks until the database is ready.
		WriteTimeout: cfg.DefaultWaitTime + time.Minute,
	})
	var metricsHandler = metrics.Handler()
	if !cfg.MetricsEnabled {
		metricsHandler = nil
	}
	http.RegisterRoutes(app, handler, metricsHandler)

	// 4. Start Server; containers started through the API are removed on shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
			log.Error().Err(err).Msg("server shutdown")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Msg("server starting")
	if err := app.Listen(cfg.ListenAddr); err != nil {
		log.Error().Err(err).Msg("server failed")
	}
	hook.Run()
}
