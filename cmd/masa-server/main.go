package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/masa/masa/internal/config"
	"github.com/masa/masa/internal/domain/records"
	"github.com/masa/masa/internal/platform/auth"
	"github.com/masa/masa/internal/platform/db"
	"github.com/masa/masa/internal/platform/hipaa"
	"github.com/masa/masa/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "masa-server",
		Short: "Swallowing assessment records server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return logger
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			key, err := cfg.EncryptionKeyBytes()
			if err != nil {
				return err
			}
			codec, err := hipaa.NewCodec(key)
			if err != nil {
				return err
			}
			if !codec.Ready() {
				logger.Warn().Msg("MASA_ENCRYPTION_KEY not set; writes of clinical records will be rejected")
			}

			local, err := records.OpenLocal(cfg.LocalStorePath, codec, logger)
			if err != nil {
				return err
			}
			defer local.Close()

			ctx := context.Background()

			// Probe the remote backend. A missing DATABASE_URL or an
			// unreachable database selects the local store; the choice is
			// not revisited until the next process start.
			var remote *records.RemoteStore
			if cfg.RemoteConfigured() {
				poolCtx, cancel := context.WithTimeout(ctx, cfg.BackendTimeout())
				pool, err := db.NewPool(poolCtx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
				cancel()
				if err != nil {
					logger.Warn().Err(err).Msg("remote database unreachable")
				} else {
					defer pool.Close()
					remote = records.NewRemoteStore(pool, codec, cfg.DefaultOrg, logger)
				}
			}

			repo, err := records.Open(ctx, records.Options{
				Local:   local,
				Remote:  remote,
				Timeout: cfg.BackendTimeout(),
				Logger:  logger,
			})
			if err != nil {
				return err
			}

			e := echo.New()
			e.HideBanner = true
			e.Use(middleware.RequestID())
			e.Use(middleware.Logger(logger))
			e.Use(middleware.Recovery(logger))

			e.GET("/healthz", func(c echo.Context) error {
				state, err := repo.MigrationStatus(c.Request().Context())
				if err != nil {
					state = records.MigrationNotStarted
				}
				return c.JSON(http.StatusOK, map[string]any{
					"status":    "ok",
					"backend":   repo.Backend(),
					"migration": state,
				})
			})

			api := e.Group("/api")
			if cfg.AuthSigningKey != "" {
				api.Use(auth.Middleware(auth.JWTConfig{
					Issuer:     cfg.AuthIssuer,
					Audience:   cfg.AuthAudience,
					SigningKey: []byte(cfg.AuthSigningKey),
					DefaultOrg: cfg.DefaultOrg,
				}))
			} else {
				logger.Warn().Msg("AUTH_SIGNING_KEY not set; requests run as the development user")
				api.Use(auth.DevMiddleware(cfg.DefaultOrg))
			}

			records.NewHandler(repo).RegisterRoutes(api)

			go func() {
				addr := ":" + cfg.Port
				logger.Info().Str("addr", addr).Str("backend", string(repo.Backend())).Msg("server starting")
				if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
					logger.Error().Err(err).Msg("server stopped")
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := e.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			logger.Info().Msg("server stopped cleanly")
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	var status bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply remote schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cfg.RemoteConfigured() {
				return fmt.Errorf("DATABASE_URL is required for schema migrations")
			}
			logger := newLogger(cfg)

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, cfg.MigrationsDir)

			if status {
				statuses, err := migrator.Status(ctx)
				if err != nil {
					return err
				}
				for _, st := range statuses {
					applied := "pending"
					if st.Applied {
						applied = "applied " + st.AppliedAt.Format(time.RFC3339)
					}
					fmt.Printf("%03d_%s\t%s\n", st.Version, st.Name, applied)
				}
				return nil
			}

			applied, err := migrator.Apply(ctx)
			if err != nil {
				return err
			}
			logger.Info().Int("applied", applied).Msg("schema migrations complete")
			return nil
		},
	}

	cmd.Flags().BoolVar(&status, "status", false, "show migration status instead of applying")
	return cmd
}
