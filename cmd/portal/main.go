package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eventhub/partner-portal/internal/api"
	"github.com/eventhub/partner-portal/internal/apiclient"
	"github.com/eventhub/partner-portal/internal/auth"
	"github.com/eventhub/partner-portal/internal/config"
	"github.com/eventhub/partner-portal/internal/domain"
	"github.com/eventhub/partner-portal/internal/fcm"
	"github.com/eventhub/partner-portal/internal/middleware"
	"github.com/eventhub/partner-portal/internal/portal"
	"github.com/eventhub/partner-portal/internal/realtime"
	"github.com/eventhub/partner-portal/internal/repository"
	"github.com/eventhub/partner-portal/internal/session"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	// Initialize logger
	logger, err := initLogger(os.Getenv("ENV"), os.Getenv("LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger.Info("Starting partner portal",
		zap.String("env", cfg.Server.Env),
		zap.String("port", cfg.Server.Port),
		zap.String("api", cfg.Upstream.APIBaseURL),
		zap.String("realtime", cfg.Upstream.RealtimeURL),
	)

	// Initialize database
	ctx := context.Background()
	db, err := initDatabase(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("Connected to database")

	rdb, err := session.NewRedisClient(ctx, cfg.Redis.URL)
	if err != nil {
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	logger.Info("Connected to redis")

	// Initialize dependencies
	repo := repository.NewPostgresRepository(db)
	jwtManager := auth.NewJWTManager(cfg.Auth.Secret, cfg.Auth.TokenExpiry)
	authService := domain.NewAuthService(repo, jwtManager)
	upstream := apiclient.New(cfg.Upstream.APIBaseURL, nil)

	// Initialize Firebase
	var sender domain.PushSender
	fcmClient, err := fcm.NewClient(ctx, logger, cfg.Firebase.CredentialsFile)
	if err != nil {
		logger.Warn("Failed to initialize Firebase client - push fallback will be disabled", zap.Error(err))
	} else {
		logger.Info("Firebase client initialized")
		sender = fcmClient
	}
	pushService := domain.NewPushService(fcm.NewRedisTokenStore(rdb), sender, logger)

	// Browser connections
	wsCtx, wsCancel := context.WithCancel(ctx)
	wsManager := api.NewWebSocketManager(cfg.Server.AllowedOrigins, logger)

	registry := portal.NewRegistry(portal.Deps{
		Dialer: realtime.NewWebsocketDialer(cfg.Upstream.RealtimeURL, cfg.Realtime.HandshakeTimeout),
		Realtime: realtime.Options{
			MaxAttempts: cfg.Realtime.ReconnectAttempts,
			Delay:       cfg.Realtime.ReconnectDelay,
		},
		API:     func(token string) portal.API { return upstream.WithToken(token) },
		Browser: wsManager,
		Pusher:  pushService,
	}, logger)

	cookies := api.NewSessionCookies(session.NewRedisStore(rdb), cfg.Auth.SessionCookie, cfg.Auth.SessionTTL, cfg.IsProduction())
	partners := func(token string) api.PartnerAPI { return upstream.WithToken(token) }
	onLogout := func(principalID string) {
		registry.Shutdown(principalID)
		wsManager.DisconnectUser(principalID)
	}

	// Initialize handlers
	authHandler := api.NewAuthHandler(authService, cookies, onLogout, logger)
	transferHandler := api.NewTransferHandler(authService, cookies, session.NewRedisLatch(rdb), partners, cfg, logger)
	partnerHandler := api.NewPartnerHandler(partners, upstream, cfg, logger)
	notificationHandler := api.NewNotificationHandler(registry, logger)
	chatHandler := api.NewChatHandler(registry, logger)
	realtimeHandler := api.NewRealtimeHandler(registry, wsManager, pushService, logger)
	healthHandler := api.NewHealthHandler(map[string]api.Check{
		"postgres": repo.Ping,
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	})

	go wsManager.Run(wsCtx)

	// Initialize router
	router := api.NewRouter(
		authHandler,
		transferHandler,
		partnerHandler,
		notificationHandler,
		chatHandler,
		realtimeHandler,
		healthHandler,
		cookies,
		api.RateLimit{
			Limiter: middleware.NewRedisLimiter(rdb),
			Limit:   cfg.RateLimit.Login,
			Window:  cfg.RateLimit.Window,
		},
		cfg.Server.AllowedOrigins,
		logger,
	)
	r := router.Setup()

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	// Hijacked browser connections are not covered by Shutdown.
	wsCancel()
	registry.Close()

	logger.Info("Server stopped")
}

func initLogger(env, level string) (*zap.Logger, error) {
	var cfg zap.Config
	if env == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return cfg.Build()
}

func initDatabase(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// The portal only reads users, so the pool stays small.
	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 1 * time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
