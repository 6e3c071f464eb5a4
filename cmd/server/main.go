package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"pairchat/internal/cache"
	"pairchat/internal/config"
	"pairchat/internal/domain"
	"pairchat/internal/httpserver"
	"pairchat/internal/presence"
	"pairchat/internal/security"
	"pairchat/internal/service"
	"pairchat/internal/store/postgres"
	"pairchat/internal/store/sqlite"
)

// @title           pairchat API
// @version         1.0
// @description     One-to-one chat backend: conversations, messages and real-time delivery.

// @host            localhost:8000
// @BasePath        /api

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

type repositories struct {
	users         domain.UserRepository
	conversations domain.ConversationRepository
	messages      domain.MessageRepository
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	// Initialize database
	db, repos, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("database ready", zap.String("driver", cfg.DBDriver))

	profileCache, err := openCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer profileCache.Close()

	// Security components
	tokenSvc := security.NewTokenService(cfg.JWTSecret, cfg.AccessTokenTTL())
	passwordHasher := security.NewPasswordHasher(0)
	msgCipher, err := security.NewMessageCipher(cfg.EncryptKey, cfg.LegacyEncryptionKeys)
	if err != nil {
		return fmt.Errorf("initialize message cipher: %w", err)
	}

	registry := presence.NewRegistry()
	defer registry.Close()

	// Services
	authSvc := service.NewAuthService(repos.users, tokenSvc, passwordHasher)
	userSvc := service.NewUserService(repos.users, profileCache, cfg.ProfileCacheTTL, logger)
	convSvc := service.NewConversationService(repos.conversations, userSvc, logger)
	msgSvc := service.NewMessageService(repos.messages, userSvc, registry, msgCipher, logger, cfg.MaxMessageLength)

	// Build HTTP router
	router := httpserver.NewRouter(httpserver.Deps{
		Config:        cfg,
		Logger:        logger,
		Registry:      registry,
		Auth:          authSvc,
		Users:         userSvc,
		Conversations: convSvc,
		Messages:      msgSvc,
	})

	srv := &http.Server{
		Addr:        cfg.HTTPAddr(),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in background
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", cfg.HTTPAddr()), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-stop:
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	return nil
}

func openStore(cfg *config.Config) (*sql.DB, repositories, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, repositories{}, err
		}
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return nil, repositories{}, fmt.Errorf("run migrations: %w", err)
		}
		return db, repositories{
			users:         postgres.NewUserRepo(db),
			conversations: postgres.NewConversationRepo(db),
			messages:      postgres.NewMessageRepo(db),
		}, nil
	default:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, repositories{}, err
		}
		if err := sqlite.Migrate(db); err != nil {
			db.Close()
			return nil, repositories{}, fmt.Errorf("run migrations: %w", err)
		}
		return db, repositories{
			users:         sqlite.NewUserRepo(db),
			conversations: sqlite.NewConversationRepo(db),
			messages:      sqlite.NewMessageRepo(db),
		}, nil
	}
}

func openCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (cache.Cache, error) {
	if cfg.RedisURL == "" {
		logger.Info("profile cache: in-process")
		return cache.NewMemory(), nil
	}
	c, err := cache.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	logger.Info("profile cache: redis")
	return c, nil
}
