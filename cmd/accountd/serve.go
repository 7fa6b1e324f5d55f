package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	_ "github.com/redmonkez12/accountd/docs" // Swagger docs (generated)
	"github.com/redmonkez12/accountd/internal/account"
	"github.com/redmonkez12/accountd/internal/auth"
	"github.com/redmonkez12/accountd/internal/config"
	"github.com/redmonkez12/accountd/internal/database"
	"github.com/redmonkez12/accountd/internal/email"
	httpServer "github.com/redmonkez12/accountd/internal/http"
	"github.com/redmonkez12/accountd/internal/logging"
	"github.com/redmonkez12/accountd/internal/metrics"
	"github.com/redmonkez12/accountd/internal/ratelimit"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start the HTTP API server. It connects to PostgreSQL and Redis and
shuts down gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.NewLogger(cfg.Server.IsDevelopment())
	logger.Info("starting application",
		"env", cfg.Server.Env,
		"port", cfg.Server.Port,
		"token_format", cfg.Auth.TokenFormat,
		"email_provider", cfg.Email.Provider,
	)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	redisClient, err := database.OpenRedis(cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	defer redisClient.Close()

	router, authService, err := buildRouter(cfg, logger, account.NewRepository(db), redisClient)
	if err != nil {
		return err
	}

	server := httpServer.NewServer(
		":"+cfg.Server.Port,
		router,
		cfg.Server.ReadTimeout,
		cfg.Server.WriteTimeout,
		logger,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	select {
	case err := <-serverErrors:
		_ = authService.Close(context.Background())
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	if err := authService.Close(shutdownCtx); err != nil {
		logger.Warn("pending emails were not delivered before shutdown", "error", err.Error())
	}

	return nil
}

// buildRouter wires the account service and its HTTP surface on top of an
// account store and a Redis connection.
func buildRouter(cfg *config.Config, logger *logging.Logger, store account.Store, rdb redis.Cmdable) (http.Handler, *auth.Service, error) {
	hasher, err := auth.NewMultiHasher(cfg.Auth.PasswordHasher, cfg.Auth.BcryptCost)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize password hasher: %w", err)
	}

	tokens, err := newTokenService(cfg.Auth)
	if err != nil {
		return nil, nil, err
	}

	notifier, err := email.NewFromConfig(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize email service: %w", err)
	}

	m := metrics.New()

	authService, err := auth.NewService(
		store,
		hasher,
		tokens,
		notifier,
		logger,
		auth.ServiceConfig{
			SessionDuration:      cfg.Auth.SessionTokenDuration,
			VerificationTTL:      cfg.Auth.VerificationCodeTTL,
			ResetTTL:             cfg.Auth.ResetTokenTTL,
			RequireVerifiedLogin: cfg.Auth.RequireVerifiedLogin,
			NotifyTimeout:        cfg.Email.SendTimeout,
		},
		auth.WithRecorder(m),
		auth.WithRevocationStore(auth.NewRedisRevocationStore(rdb)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize auth service: %w", err)
	}

	rateLimiter := ratelimit.NewLimiter(rdb, ratelimit.Options{
		MaxRequests: cfg.RateLimit.MaxRequests,
		Window:      cfg.RateLimit.Window,
		Cooldown:    cfg.RateLimit.EmailCooldown,
	})

	authHandler := auth.NewHandler(authService, rateLimiter, !cfg.Server.IsDevelopment())
	authMiddleware := auth.NewMiddleware(authService)

	return httpServer.NewRouter(cfg, authHandler, authMiddleware, m.Handler(), logger), authService, nil
}

func newTokenService(cfg config.AuthConfig) (auth.TokenService, error) {
	switch cfg.TokenFormat {
	case config.TokenFormatPaseto:
		svc, err := auth.NewPasetoService(cfg.PasetoKey)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PASETO service: %w", err)
		}
		return svc, nil
	case config.TokenFormatJWT:
		svc, err := auth.NewJWTService(cfg.JWTSecret)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
		}
		return svc, nil
	default:
		return nil, fmt.Errorf("unsupported token format %q", cfg.TokenFormat)
	}
}
