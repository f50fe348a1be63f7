package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/exagonbr/Portal-sub023/internal/auth"
	"github.com/exagonbr/Portal-sub023/internal/cache"
	"github.com/exagonbr/Portal-sub023/internal/config"
	"github.com/exagonbr/Portal-sub023/internal/credential"
	"github.com/exagonbr/Portal-sub023/internal/database"
	"github.com/exagonbr/Portal-sub023/internal/gate"
	"github.com/exagonbr/Portal-sub023/internal/middleware"
	"github.com/exagonbr/Portal-sub023/internal/ratelimit"
	"github.com/exagonbr/Portal-sub023/internal/token"
	"github.com/exagonbr/Portal-sub023/internal/user"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	var logger *zap.Logger
	if cfg.IsDevelopment() {
		logger, _ = zap.NewDevelopment()
	} else {
		logger, _ = zap.NewProduction()
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("Server stopped")
	_ = logger.Sync()
}

// run wires every component and blocks until a signal or a failed component.
// Connections opened here are closed on every return path.
func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting Portal Auth Gateway", zap.String("env", cfg.Env))
	if cfg.Gate.DemoMode {
		logger.Warn("Demo mode enabled, demo accounts skip the live account check",
			zap.Strings("emails", cfg.Gate.DemoEmails))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL
	db, err := database.NewPostgresDB(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL")

	// Connect to Redis
	redisClient, err := database.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer redisClient.Close()
	logger.Info("Connected to Redis")

	// Tokens
	accessKeys, refreshKeys, err := cfg.JWT.Keyrings()
	if err != nil {
		return fmt.Errorf("invalid signing keys: %w", err)
	}
	codec, err := token.NewCodec(token.Options{
		AccessKeys:  accessKeys,
		RefreshKeys: refreshKeys,
		AccessTTL:   cfg.JWT.AccessTokenTTL,
		RefreshTTL:  cfg.JWT.RefreshTokenTTL,
		Issuer:      cfg.JWT.Issuer,
		Audience:    cfg.JWT.Audience,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize token codec: %w", err)
	}
	revocations := token.NewRevocations(redisClient.Client)

	// Authorization gate
	userRepo := user.NewRepository(db.DB)
	verifyCache := cache.New(cache.Options{
		TTL:           cfg.Cache.TTL,
		SweepInterval: cfg.Cache.SweepInterval,
		MaxEntries:    cfg.Cache.MaxEntries,
		Logger:        logger.Named("cache"),
	})
	authGate := gate.New(
		credential.NewExtractor(),
		verifyCache,
		codec,
		userRepo,
		revocations,
		gate.Config{
			LookupTimeout: cfg.Gate.LookupTimeout,
			LegacyTokens:  cfg.Gate.LegacyTokens,
			DemoMode:      cfg.Gate.DemoMode,
			DemoEmails:    cfg.Gate.DemoEmails,
		},
		logger.Named("gate"),
	)

	// Authentication
	rateLimiter := ratelimit.NewLimiter(
		redisClient.Client,
		cfg.RateLimit.Window,
		cfg.RateLimit.MaxAttempts,
		cfg.RateLimit.LockoutDuration,
	)
	authService := auth.NewService(userRepo, codec, revocations, rateLimiter, logger.Named("auth"))
	authHandler := auth.NewHandler(
		authService,
		authGate,
		auth.CookieConfig{
			Domain:   cfg.Cookie.Domain,
			Secure:   cfg.CookieSecure(),
			SameSite: cfg.CookieSameSite(),
		},
		[]auth.HealthCheck{
			{Name: "postgres", Check: db.Health},
			{Name: "redis", Check: redisClient.Health},
		},
		logger.Named("auth"),
	)

	// Set up Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	allowedOrigins := middleware.ParseAllowedOrigins(cfg.CORS.AllowedOrigins)
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logger(logger))
	router.Use(middleware.CORS(allowedOrigins))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.Metrics())

	// Public routes
	router.GET("/health", authHandler.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Auth routes
	authGroup := router.Group("/auth", middleware.NoStore())
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/refresh", authHandler.Refresh)
		authGroup.GET("/validate", authHandler.Validate)
		authGroup.POST("/logout", authHandler.Logout)

		// Protected routes (require authentication)
		authGroup.GET("/me", middleware.Auth(authGate), authHandler.Me)
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := verifyCache.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("Starting server", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	// Wait for a signal or a failed component, then drain
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		verifyCache.Stop()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
