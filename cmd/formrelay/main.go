// Command formrelay runs the form relay service and its maintenance tasks.
//
//	@title						FormRelay API
//	@version					1.0
//	@description				Form submission relay: public submission endpoints and the owner API.
//	@BasePath					/
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Type "Bearer" followed by a space and the account token.
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

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/formrelay/formrelay/internal/captcha"
	"github.com/formrelay/formrelay/internal/config"
	httpapi "github.com/formrelay/formrelay/internal/http"
	"github.com/formrelay/formrelay/internal/identity"
	"github.com/formrelay/formrelay/internal/kv"
	"github.com/formrelay/formrelay/internal/mail"
	"github.com/formrelay/formrelay/internal/observability"
	"github.com/formrelay/formrelay/internal/plans"
	"github.com/formrelay/formrelay/internal/repo"
	"github.com/formrelay/formrelay/internal/services"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	var logLevel, port string
	root := &cobra.Command{
		Use:           "formrelay",
		Short:         "Relay HTML form submissions to email",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			if port != "" {
				cfg.Port = port
			}
			observability.SetupLogging(cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName)
			cmd.SetContext(withConfig(cmd.Context(), cfg))
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configFrom(cmd.Context()))
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL")
	root.Flags().StringVar(&port, "port", "", "override PORT")

	serveC := serveCmd()
	serveC.Flags().StringVar(&port, "port", "", "override PORT")
	root.AddCommand(serveC, migrateCmd(), pruneCmd(), usersCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("formrelay failed")
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configFrom(cmd.Context()))
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer closeDB(db)

	store, err := openKV(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	sender, err := mail.New(mail.Config{
		Transport: cfg.Mail.Transport,
		Host:      cfg.Mail.Host,
		Port:      cfg.Mail.Port,
		User:      cfg.Mail.User,
		Pass:      cfg.Mail.Pass,
		ResendKey: cfg.Mail.ResendKey,
		ResendURL: cfg.Mail.ResendURL,
	})
	if err != nil {
		return err
	}
	catalog, err := plans.Load(cfg.PlansFile)
	if err != nil {
		return err
	}
	keys, err := identity.NewKeyring(cfg.NonceSecret, cfg.SecretKey, cfg.HashidsSalt)
	if err != nil {
		return err
	}

	// The pipeline skips the challenge only for a nil interface.
	var verifier services.CaptchaVerifier
	if !cfg.Captcha.Bypass {
		verifier = captcha.NewVerifier(cfg.Captcha.Secret, cfg.Captcha.VerifyURL)
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	if err := httpapi.RegisterRoutes(r, httpapi.Deps{
		DB:      db,
		KV:      store,
		Mail:    sender,
		Plans:   catalog,
		Keys:    keys,
		Captcha: verifier,
	}, cfg); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("service_url", cfg.ServiceURL).
			Str("version", version).
			Bool("captcha", verifier != nil).
			Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	log.Info().Msg("server exited")
	return nil
}

func openDB(cfg config.Config) (*gorm.DB, error) {
	db, err := repo.Open(repo.Options{
		Driver:    cfg.DBDriver,
		Path:      cfg.DBPath,
		DSN:       cfg.DBDSN,
		SlowQuery: cfg.DBSlowQuery,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		closeDB(db)
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// openKV connects to Redis when REDIS_URL is set and falls back to the
// in-process store, which only suits a single instance.
func openKV(ctx context.Context, cfg config.Config) (kv.Store, error) {
	if cfg.RedisURL == "" {
		log.Warn().Msg("REDIS_URL not set; using in-process store")
		return kv.NewMemory(), nil
	}
	return kv.Connect(ctx, cfg.RedisURL)
}

type configKey struct{}

func withConfig(ctx context.Context, cfg config.Config) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, configKey{}, cfg)
}

func configFrom(ctx context.Context) config.Config {
	cfg, _ := ctx.Value(configKey{}).(config.Config)
	return cfg
}
