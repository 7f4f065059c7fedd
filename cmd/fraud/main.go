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

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/timeout"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/richxcame/risk-engine/internal/fraud"
	"github.com/richxcame/risk-engine/pkg/common"
	"github.com/richxcame/risk-engine/pkg/config"
	"github.com/richxcame/risk-engine/pkg/database"
	"github.com/richxcame/risk-engine/pkg/eventbus"
	"github.com/richxcame/risk-engine/pkg/health"
	"github.com/richxcame/risk-engine/pkg/jwtkeys"
	"github.com/richxcame/risk-engine/pkg/logger"
	"github.com/richxcame/risk-engine/pkg/middleware"
	pkgredis "github.com/richxcame/risk-engine/pkg/redis"
	"github.com/richxcame/risk-engine/pkg/resilience"
	"github.com/richxcame/risk-engine/pkg/secrets"
	"github.com/richxcame/risk-engine/pkg/tracing"
	"go.uber.org/zap"
)

const (
	serviceName = "risk-engine"
	version     = "1.0.0"

	maxBodyBytes = 1 << 20
)

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Server.Environment); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Secrets
	var resolver secrets.Resolver
	manager, err := secrets.NewManager(ctx, cfg.Secrets)
	switch {
	case err == nil:
		resolver = manager
	case errors.Is(err, secrets.ErrProviderNotConfigured):
		logger.Info("no secrets provider configured, using plain settings")
	default:
		logger.Fatal("failed to initialize secrets manager", zap.Error(err))
	}
	if err := secrets.ApplyToConfig(ctx, cfg, resolver); err != nil {
		logger.Fatal("failed to resolve secrets", zap.Error(err))
	}

	if cfg.Sentry.Enabled {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Sentry.DSN,
			Environment:      cfg.Server.Environment,
			Release:          serviceName + "@" + version,
			AttachStacktrace: true,
		}); err != nil {
			logger.Warn("failed to initialize sentry", zap.Error(err))
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, serviceName, version, cfg.Server.Environment)
	if err != nil {
		logger.Warn("failed to initialize tracing", zap.Error(err))
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(shutdownCtx); err != nil {
				logger.Warn("failed to flush traces", zap.Error(err))
			}
		}()
	}

	// Database
	pool, err := database.NewPostgresPool(ctx, &cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close(pool)
	logger.Info("connected to PostgreSQL")

	repo := fraud.NewRepository(pool)

	policy, err := fraud.LoadPolicy(cfg.Risk.PolicyFile)
	if err != nil {
		logger.Fatal("failed to load risk policy", zap.String("file", cfg.Risk.PolicyFile), zap.Error(err))
	}
	if cfg.Risk.FailOpen {
		policy = policy.WithFailureMode(fraud.FailOpen)
	}

	readiness := map[string]health.Checker{
		"database": health.PingChecker("database", pool),
	}

	// Velocity counting runs on Redis with the activity log behind a breaker
	var counter fraud.VelocityCounter
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewRedisClient(&cfg.Redis)
		if err != nil {
			logger.Warn("redis unavailable, counting velocity from the activity log", zap.Error(err))
		} else {
			defer redisClient.Close()
			logger.Info("connected to Redis")
			counter = fraud.NewResilientVelocityCounter(
				fraud.NewRedisVelocityCounter(redisClient, cfg.Risk.VelocityKeyPrefix),
				fraud.NewLogVelocityCounter(repo),
				resilience.SettingsFromConfig("velocity-redis", cfg.Risk, pkgredis.IsUnavailable),
			)
			readiness["redis"] = health.PingChecker("redis", redisClient)
		}
	}

	var opts []fraud.Option
	var bus *eventbus.Bus
	if cfg.NATS.Enabled {
		bus, err = eventbus.Connect(eventbus.Config{
			URL:      cfg.NATS.URL,
			Stream:   cfg.NATS.Stream,
			Subjects: []string{"fraud.>"},
			Source:   serviceName,
		})
		if err != nil {
			logger.Fatal("failed to connect to event bus", zap.Error(err))
		}
		defer bus.Close()
		opts = append(opts, fraud.WithPublisher(fraud.NewBusAlertPublisher(bus)))
		readiness["nats"] = health.PingChecker("nats", bus)
	}

	service := fraud.NewService(repo, counter, policy, opts...)

	if bus != nil {
		if err := fraud.RegisterSubscriptions(ctx, bus, service); err != nil {
			logger.Fatal("failed to subscribe to events", zap.Error(err))
		}
	}

	handler := fraud.NewHandler(service)

	// Router
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.Recovery())
	if cfg.Sentry.Enabled {
		router.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.Metrics(serviceName))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.MaxBodySize(maxBodyBytes))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.Server.AllowedOrigins()
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	router.Use(cors.New(corsConfig))

	router.Use(timeout.New(
		timeout.WithTimeout(cfg.Server.RequestTimeoutDuration()),
		timeout.WithResponse(func(c *gin.Context) {
			common.ErrorResponse(c, http.StatusGatewayTimeout, "request timed out")
		}),
	))

	ready := health.NewCachedChecker(health.CompositeChecker(readiness), 5*time.Second)
	router.GET("/health", common.HealthCheck(serviceName, version))
	router.GET("/ready", common.ReadinessCheck(serviceName, version, map[string]func() error{
		"dependencies": ready.Check,
	}))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handler.RegisterRoutes(router, cfg.Risk.ServiceToken, jwtkeys.NewStaticProvider(cfg.JWT.Secret))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("risk engine starting", zap.String("port", cfg.Server.Port), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down risk engine")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
}
