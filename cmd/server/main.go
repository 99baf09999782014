package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/beehive-sync/beehive/internal/api"
	"github.com/beehive-sync/beehive/internal/identity"
	"github.com/beehive-sync/beehive/internal/schema"
	"github.com/beehive-sync/beehive/internal/scheduler"
	"github.com/beehive-sync/beehive/internal/store"
	"github.com/beehive-sync/beehive/internal/sync"
	"github.com/beehive-sync/beehive/internal/tcp"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	httpAddr      string
	tcpAddr       string
	storePath     string
	logLevel      string
	secureCookies bool

	federatedIssuer   string
	federatedAudience string

	defaultDevIdentifier string
	defaultDevPassword   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "beehive-server",
		Short: "Beehive server — row-change sync server",
		Long: `Beehive server ingests scripted row-change transactions over a
CRC-16-framed TCP protocol and fans them out to subscribed nodes under
per-role, per-module visibility, with an HTTP admin surface for schema and
user management.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.httpAddr, "http-addr", envOrDefault("BEEHIVE_HTTP_ADDR", ":8080"), "HTTP admin surface listen address")
	root.PersistentFlags().StringVar(&cfg.tcpAddr, "tcp-addr", envOrDefault("BEEHIVE_TCP_ADDR", ":9090"), "TCP sync protocol listen address")
	root.PersistentFlags().StringVar(&cfg.storePath, "store-path", envOrDefault("BEEHIVE_STORE_PATH", "./beehive.db"), "bbolt database file path")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("BEEHIVE_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&cfg.secureCookies, "secure-cookies", envOrDefault("BEEHIVE_SECURE_COOKIES", "false") == "true", "Set Secure flag on the session cookie (enable in production over HTTPS)")
	root.PersistentFlags().StringVar(&cfg.federatedIssuer, "federated-issuer", envOrDefault("BEEHIVE_FEDERATED_ISSUER", ""), "OIDC issuer URL for federated sign-in (empty = disabled)")
	root.PersistentFlags().StringVar(&cfg.federatedAudience, "federated-audience", envOrDefault("BEEHIVE_FEDERATED_AUDIENCE", ""), "Expected aud claim on federated ID tokens")
	root.PersistentFlags().StringVar(&cfg.defaultDevIdentifier, "default-developer", envOrDefault("BEEHIVE_DEFAULT_DEVELOPER", "admin"), "Identifier to bootstrap a developer account under if none exists")
	root.PersistentFlags().StringVar(&cfg.defaultDevPassword, "default-developer-password", envOrDefault("BEEHIVE_DEFAULT_DEVELOPER_PASSWORD", ""), "Password for the bootstrap developer account (required on first run)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("beehive-server %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting beehive server",
		zap.String("version", version),
		zap.String("http_addr", cfg.httpAddr),
		zap.String("tcp_addr", cfg.tcpAddr),
		zap.String("store_path", cfg.storePath),
		zap.String("log_level", cfg.logLevel),
	)

	// --- Signal handling ---
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- 1. Store ---
	s, err := store.Open(cfg.storePath, logger.Named("store"))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer s.Close()

	// --- 2. Schema registry ---
	schemas := schema.NewRegistry(s)

	// --- 3. Identity ---
	users := identity.NewRegistry(s)

	var federated *identity.FederatedVerifier
	if cfg.federatedIssuer != "" {
		federated = identity.NewFederatedVerifier(cfg.federatedIssuer, cfg.federatedAudience, logger.Named("identity"))
		go federated.Run()
		defer func() {
			if federated.Stop(5 * time.Second) {
				logger.Warn("federated verifier refresh still in flight at shutdown")
			}
		}()
	}

	idsvc := identity.NewService(users, federated)

	if cfg.defaultDevPassword != "" {
		if err := idsvc.BootstrapDeveloper(cfg.defaultDevIdentifier, cfg.defaultDevPassword); err != nil {
			return fmt.Errorf("failed to bootstrap default developer: %w", err)
		}
	}

	// --- 4. Sync engine ---
	repo := sync.NewRepo(s)
	engine := sync.NewEngine(repo, schemas, logger.Named("sync"))

	// --- 5. Maintenance scheduler ---
	sched, err := scheduler.New(scheduler.Config{}, schemas, engine, users, logger)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer func() {
		if err := sched.Stop(); err != nil {
			logger.Warn("scheduler shutdown error", zap.Error(err))
		}
	}()

	// --- 6. TCP sync server ---
	listener, err := net.Listen("tcp", cfg.tcpAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.tcpAddr, err)
	}
	tcpSrv := tcp.NewServer(listener, engine, schemas, idsvc, logger.Named("tcp"))

	go func() {
		logger.Info("tcp server listening", zap.String("addr", cfg.tcpAddr))
		if err := tcpSrv.Run(ctx); err != nil {
			logger.Error("tcp server error", zap.Error(err))
			cancel()
		}
	}()

	// --- 7. HTTP admin server ---
	router := api.NewRouter(api.RouterConfig{
		Identity: idsvc,
		Users:    users,
		Schemas:  schemas,
		Engine:   engine,
		Logger:   logger.Named("http"),
		Secure:   cfg.secureCookies,
	})

	httpSrv := &http.Server{
		Addr:         cfg.httpAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.httpAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	// --- Wait for shutdown signal ---
	<-ctx.Done()
	logger.Info("shutting down beehive server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server graceful shutdown error", zap.Error(err))
	}

	logger.Info("beehive server stopped")
	return nil
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
