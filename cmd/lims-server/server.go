package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/labflow/lims/internal/config"
	"github.com/labflow/lims/internal/domain/labrequest"
	"github.com/labflow/lims/internal/domain/patient"
	"github.com/labflow/lims/internal/platform/auditlog"
	"github.com/labflow/lims/internal/platform/auth"
	"github.com/labflow/lims/internal/platform/db"
	"github.com/labflow/lims/internal/platform/events"
	"github.com/labflow/lims/internal/platform/middleware"
	"github.com/labflow/lims/internal/platform/telemetry"
)

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "lims-server").Logger()
	if cfg.IsDev() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return logger
}

func jwtConfig(cfg *config.Config) (auth.JWTConfig, error) {
	jc := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
	}
	if cfg.AuthSigningKey != "" {
		jc.SigningKey = []byte(cfg.AuthSigningKey)
	}
	if cfg.AuthPublicKeyFile != "" {
		key, err := auth.LoadRSAPublicKey(cfg.AuthPublicKeyFile)
		if err != nil {
			return jc, err
		}
		jc.PublicKey = key
	}
	return jc, nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := newLogger(cfg)

	iso, err := db.ParseIsolation(cfg.TxIsolation)
	if err != nil {
		return err
	}
	jc, err := jwtConfig(cfg)
	if err != nil {
		return err
	}
	catalog, err := labrequest.LoadCatalog(cfg.TestCatalogPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	provider := telemetry.NewProvider(telemetry.Config{Environment: cfg.Env})
	provider.RegisterPool(pool)

	checks := []db.Check{db.PoolCheck(pool)}
	rl := middleware.RateLimitConfig{RequestsPerSecond: cfg.RateLimitRPS, BurstSize: cfg.RateLimitBurst}
	var limiter middleware.Limiter = middleware.NewLocalLimiter(rl)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		limiter = middleware.NewRedisLimiter(rdb, rl)
		checks = append(checks, redisCheck(rdb))
		logger.Info().Msg("rate limiting shared through redis")
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.EventsEnabled() {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer func() {
			if err := kp.Close(); err != nil {
				logger.Error().Err(err).Msg("failed to close event publisher")
			}
		}()
		publisher = kp
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing lifecycle events")
	}

	txr := db.NewTxRunner(pool, iso)
	audit := auditlog.NewLogger(pool)

	patientSvc := patient.NewService(patient.NewRepo(pool), txr, audit)
	labSvc := labrequest.NewService(
		labrequest.NewRequestRepo(pool),
		labrequest.NewTestRecordRepo(pool),
		txr,
		patientResolver{src: patientSvc},
		audit,
		catalog,
	)
	labSvc.SetPublisher(publisher)
	labSvc.SetMetrics(provider)
	labSvc.SetLogger(logger.With().Str("component", "lifecycle").Logger())
	labSvc.SetTimeout(cfg.OperationTimeout)
	labSvc.SetSearchLimit(cfg.SearchLimit)
	patientSvc.SetReferenceChecker(labSvc)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Lab-Site"},
	}))
	e.Use(provider.MetricsMiddleware())
	e.Use(middleware.RequestTimeout(cfg.OperationTimeout + 5*time.Second))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/ready", db.ReadinessHandler(pool, checks...))
	e.GET("/metrics", provider.Handler())

	authMW := auth.JWTMiddleware(jc)
	if cfg.IsDev() {
		logger.Warn().Msg("development auth enabled: unauthenticated requests run as admin")
		authMW = auth.DevAuthMiddleware(jc)
	}

	apiV1 := e.Group("/api/v1",
		authMW,
		middleware.RateLimitWith(limiter, rl),
		db.SiteMiddleware(pool, cfg.DefaultSite),
	)

	patient.NewHandler(patientSvc).RegisterRoutes(apiV1)
	labrequest.NewHandler(labSvc).RegisterRoutes(apiV1)
	auditlog.NewHandler(audit).RegisterRoutes(apiV1)

	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting lims server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
