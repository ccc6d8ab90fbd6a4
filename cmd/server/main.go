package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"dues-service/internal/app"
	"dues-service/internal/handler"
	"dues-service/internal/middleware"
	"dues-service/pkg/config"
	"dues-service/pkg/jwtutil"
	"dues-service/pkg/logger"
	"dues-service/prometheus"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

const version = "1.0.0"

func main() {
	// Load configuration from .env file and environment variables
	cfg, err := config.Load("dues-service")
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	if err := logger.InitLogger(&logger.LogConfig{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Environment: cfg.Server.Env,
		ServiceName: cfg.ServiceName,
	}); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	log := logger.GetLogger()
	defer log.Sync()
	log.Info("Starting dues service...", cfg.LogConfig()...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	core, err := app.Build(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize tenancy core", zap.Error(err))
	}
	log.Info("Database connection established")

	go core.Pool.Run(ctx)

	jwt := jwtutil.NewJWTUtil(&jwtutil.JWTConfig{
		SigningKey:      cfg.JWT.SigningKey,
		ExpirationHours: cfg.JWT.ExpirationHours,
	})
	prometheus.SetInfo(version, cfg.Tenancy.Strategy)

	e := echo.New()
	e.HideBanner = true

	// Apply global middleware - order matters
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(middleware.RequestIDMiddleware)
	e.Use(logger.Middleware())
	e.Use(prometheus.MetricsMiddleware())

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(prometheus.GetPrometheusHandler()))
	}

	handler.RegisterRoutes(e, handler.New(handler.Deps{
		Registry:   core.Registry,
		Users:      core.Users,
		Resolver:   core.Resolver,
		Onboarding: core.Onboarding,
		Accessor:   core.Accessor,
		Pool:       core.Pool,
		JWT:        jwt,
		Clock:      core.Clock,
	}))

	go func() {
		log.Info("Starting server", zap.String("port", cfg.Server.Port))
		if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
	if err := core.Close(shutdownCtx); err != nil {
		log.Error("Failed to close tenant storage", zap.Error(err))
	}
}
