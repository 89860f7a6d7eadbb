package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/cardiocare/cardiocare/internal/config"
	"github.com/cardiocare/cardiocare/internal/domain/admin"
	"github.com/cardiocare/cardiocare/internal/domain/chat"
	"github.com/cardiocare/cardiocare/internal/domain/connection"
	"github.com/cardiocare/cardiocare/internal/domain/identity"
	"github.com/cardiocare/cardiocare/internal/domain/prediction"
	"github.com/cardiocare/cardiocare/internal/platform/auth"
	"github.com/cardiocare/cardiocare/internal/platform/blobstore"
	"github.com/cardiocare/cardiocare/internal/platform/db"
	"github.com/cardiocare/cardiocare/internal/platform/metrics"
	"github.com/cardiocare/cardiocare/internal/platform/middleware"
	"github.com/cardiocare/cardiocare/internal/platform/notification"
)

const (
	defaultBodyLimit = "1M"
	uploadBodyLimit  = "12M"
	shutdownTimeout  = 10 * time.Second
	sendTimeout      = 15 * time.Second
	devJWTSecret     = "cardiocare-development-secret-do-not-use"
)

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		logger := newLogger(nil)
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()

	// Stores
	st, err := openStores(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("failed to connect to store")
	}
	defer st.close()
	logger.Info().Str("backend", st.backend).Msg("connected to store")

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics := metrics.NewHTTPMetrics(reg)
	connMetrics := metrics.NewConnectionMetrics(reg)
	notifyMetrics := metrics.NewNotificationMetrics(reg)

	// Token revocation
	revoked, closeRevoked, err := newRevocationStore(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up token revocation")
	}
	defer closeRevoked()

	secret := cfg.JWTSecret
	if secret == "" {
		logger.Warn().Msg("JWT_SECRET not set, using the development secret")
		secret = devJWTSecret
	}
	tokens := auth.NewTokenIssuer([]byte(secret), cfg.JWTIssuer, cfg.JWTTTL)

	// AWS
	var awsCfg aws.Config
	if cfg.UsesAWS() {
		awsCfg, err = loadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to load AWS config")
		}
	}

	// Email
	sender, err := newEmailSender(cfg, awsCfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up email")
	}
	dispatcher := notification.NewDispatcher(sender, nil, notification.DispatcherConfig{
		Provider:    cfg.EmailProvider,
		Workers:     cfg.NotifyWorkers,
		QueueSize:   cfg.NotifyQueueSize,
		SendTimeout: sendTimeout,
	}, logger, notifyMetrics)

	// Blobs
	blobs, err := newBlobStore(cfg, awsCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up blob storage")
	}

	// Services
	identitySvc := identity.NewService(st.users, tokens, revoked, logger)
	connectionSvc := connection.NewService(st.requests, identitySvc, st.tx, dispatcher, connMetrics, logger)
	predictionSvc := prediction.NewService(st.predictions, identitySvc, dispatcher, logger)
	chatSvc := chat.NewService(st.messages, identitySvc, blobs, logger)
	adminSvc := admin.NewService(st.users, dispatcher, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Metrics(httpMetrics))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit(defaultBodyLimit, uploadBodyLimit))

	// Rate limiting middleware
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	loginLimit := middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.LoginRateLimitRPS,
		BurstSize:         cfg.LoginRateLimitBurst,
	})

	public := e.Group("/api", middleware.RateLimit(rateLimitCfg))
	api := public.Group("", auth.JWTMiddleware(tokens, revoked, logger))

	identity.NewHandler(identitySvc).RegisterRoutes(public, api, loginLimit)
	connection.NewHandler(connectionSvc).RegisterRoutes(api)
	prediction.NewHandler(predictionSvc).RegisterRoutes(api)
	chat.NewHandler(chatSvc).RegisterRoutes(api)
	admin.NewHandler(adminSvc).RegisterRoutes(api)

	// Health and metrics
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(st.backend, st.pinger, st.details))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("notification queue not drained")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newRevocationStore returns the Redis denylist when REDIS_URL is set and
// the in-process one otherwise.
func newRevocationStore(cfg *config.Config, logger zerolog.Logger) (auth.RevocationStore, func(), error) {
	if cfg.RedisURL == "" {
		logger.Warn().Msg("REDIS_URL not set, revoked tokens are kept in memory")
		store := auth.NewMemoryRevocationStore(time.Minute)
		return store, store.Close, nil
	}
	client, err := auth.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return auth.NewRedisRevocationStore(client), func() { _ = client.Close() }, nil
}

func loadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWSRegion)}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}
	if cfg.AWSEndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.AWSEndpointURL)
	}
	return awsCfg, nil
}

func newEmailSender(cfg *config.Config, awsCfg aws.Config, logger zerolog.Logger) (notification.EmailSender, error) {
	switch cfg.EmailProvider {
	case config.EmailSendGrid:
		return notification.NewSendGridSender(cfg.SendGridAPIKey, cfg.EmailFrom, cfg.EmailFromName), nil
	case config.EmailSES:
		client := sesv2.NewFromConfig(awsCfg)
		return notification.NewSESSender(client, cfg.EmailFrom, cfg.EmailFromName), nil
	case config.EmailLog:
		return notification.NewLogSender(logger), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.EmailProvider)
	}
}

func newBlobStore(cfg *config.Config, awsCfg aws.Config) (blobstore.Store, error) {
	switch cfg.BlobBackend {
	case config.BlobS3:
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = cfg.AWSEndpointURL != ""
		})
		return blobstore.NewS3Store(client, cfg.S3Bucket), nil
	case config.BlobMemory:
		return blobstore.NewInMemoryBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
	}
}
