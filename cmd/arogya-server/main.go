package main

import (
	"context"
	crypto_rand "crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/arogya/arogya/internal/config"
	"github.com/arogya/arogya/internal/domain/abha"
	"github.com/arogya/arogya/internal/domain/consent"
	"github.com/arogya/arogya/internal/platform/abdm"
	"github.com/arogya/arogya/internal/platform/db"
	"github.com/arogya/arogya/internal/platform/middleware"
	"github.com/arogya/arogya/internal/platform/pii"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "arogya-server",
		Short: "ABHA credential-exchange and consent API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(keygenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func keygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate key material",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "token-key",
		Short: "Generate a TOKEN_ENCRYPTION_KEY value",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := make([]byte, 32)
			if _, err := crypto_rand.Read(key); err != nil {
				return fmt.Errorf("generate key: %w", err)
			}
			fmt.Println(hex.EncodeToString(key))
			return nil
		},
	})

	signingCmd := &cobra.Command{
		Use:   "consent-key",
		Short: "Generate an RSA private key for consent token signing",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")

			key, err := rsa.GenerateKey(crypto_rand.Reader, 2048)
			if err != nil {
				return fmt.Errorf("generate key: %w", err)
			}
			block := &pem.Block{
				Type:  "RSA PRIVATE KEY",
				Bytes: x509.MarshalPKCS1PrivateKey(key),
			}
			if err := os.WriteFile(out, pem.EncodeToMemory(block), 0600); err != nil {
				return fmt.Errorf("write key file: %w", err)
			}
			fmt.Printf("Wrote signing key to %s\n", out)
			return nil
		},
	}
	signingCmd.Flags().String("out", "consent-signing.pem", "Output path for the PEM key")
	cmd.AddCommand(signingCmd)

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Redis is optional: the token store degrades to an in-process map
	// when it is not configured or unreachable.
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		rdb = redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Msg("redis unreachable at startup, token store will use in-memory fallback")
		} else {
			logger.Info().Msg("connected to redis")
		}
		defer rdb.Close()
	} else {
		logger.Warn().Msg("REDIS_URL not set, token store running in in-memory fallback mode")
	}

	// At-rest cipher for refresh tokens. Validate() already checked the
	// key shape; a failure here is a hard stop.
	cipher, err := pii.NewCipherFromHex(cfg.TokenEncryptionKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid TOKEN_ENCRYPTION_KEY")
	}

	// Consent token signing key
	signPEM, err := os.ReadFile(cfg.ConsentSigningKeyFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to read consent signing key")
	}
	signKey, err := jwt.ParseRSAPrivateKeyFromPEM(signPEM)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse consent signing key")
	}

	// ABDM gateway
	env, err := abdm.ParseEnvironment(cfg.ABDMEnv)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid ABDM_ENV")
	}
	timeout := time.Duration(cfg.ABDMTimeoutSecs) * time.Second
	sessions := abdm.NewSessionManager(abdm.SessionConfig{
		SessionURL:   cfg.ABDMSessionURL,
		ClientID:     cfg.ABDMClientID,
		ClientSecret: cfg.ABDMClientSecret,
		Environment:  env,
		Timeout:      timeout,
	}, logger)
	gateway := abdm.NewClient(abdm.Config{
		Environment: env,
		BaseURL:     cfg.ABDMBaseURL,
		Timeout:     timeout,
	}, sessions, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	apiV1 := e.Group("/api/v1")

	// ABHA enrollment and linking
	tokens := abha.NewTokenStore(rdb, cipher, gateway, logger)
	identityRepo := abha.NewIdentityRepoPG(pool)
	abhaSvc := abha.NewService(gateway, identityRepo, tokens, logger)
	abha.NewHandler(abhaSvc).RegisterRoutes(apiV1)

	// Consent tokens
	consentRepo := consent.NewRepoPG(pool)
	consentSvc := consent.NewService(consentRepo, signKey, logger)
	consent.NewHandler(consentSvc).RegisterRoutes(apiV1)

	// Health check: database is required, redis is reported when configured
	var cacheProbe func(context.Context) error
	if rdb != nil {
		cacheProbe = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	e.GET("/health", db.HealthHandler(pool, cacheProbe))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("abdm_env", cfg.ABDMEnv).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
