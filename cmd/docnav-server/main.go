// docnav-server serves the document hierarchy, search and login handoff
// consumed by the docnav navigation client.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fruitsalade/docnav/internal/api"
	"github.com/fruitsalade/docnav/internal/auth"
	"github.com/fruitsalade/docnav/internal/config"
	"github.com/fruitsalade/docnav/internal/events"
	"github.com/fruitsalade/docnav/internal/logging"
	"github.com/fruitsalade/docnav/internal/metadata"
	"github.com/fruitsalade/docnav/internal/metadata/postgres"
	"github.com/fruitsalade/docnav/internal/metrics"
	"github.com/fruitsalade/docnav/internal/storage"
	"github.com/fruitsalade/docnav/pkg/models"
)

// Version is set at build time.
var Version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:          "docnav-server",
		Short:        "Serve the docnav document tree API",
		Version:      Version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if err := cfg.ValidateServer(); err != nil {
				return errors.Wrap(err, "invalid configuration")
			}
			if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
				return errors.Wrap(err, "init logging")
			}
			defer logging.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logging.L()
	log.Info("docnav server starting",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("storage", cfg.StorageBackend))

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	authHandler := auth.New(auth.Options{
		Secret:       cfg.JWTSecret,
		AppURL:       cfg.AppURL,
		DevLoginUser: cfg.DevLoginUser,
		Logger:       log,
	})

	signer, err := storage.NewFromConfig(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "storage init")
	}

	broadcaster := events.NewBroadcaster()

	srv := api.NewServer(store, authHandler, signer, broadcaster, log)
	if err := srv.Init(ctx); err != nil {
		return errors.Wrap(err, "server init")
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler()}
		go func() {
			log.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
			if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
				log.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
	}

	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if metricsServer != nil {
		metricsServer.Shutdown(shutdownCtx)
	}
	// Event streams never finish on their own.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		httpServer.Close()
	}
	return nil
}

// openStore picks PostgreSQL when a database URL is configured and the
// in-memory store otherwise. Either way seed_file populates an empty tree.
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (metadata.Store, error) {
	var seed *models.Node
	if cfg.SeedFile != "" {
		root, err := metadata.LoadSeed(cfg.SeedFile)
		if err != nil {
			return nil, err
		}
		seed = root
	}

	if cfg.DatabaseURL == "" {
		log.Info("using in-memory metadata store", zap.Bool("seeded", seed != nil))
		return metadata.NewMemoryStore(seed), nil
	}

	log.Info("connecting to PostgreSQL...")
	pg, err := postgres.New(cfg.DatabaseURL, log)
	if err != nil {
		return nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, err
	}
	if seed != nil {
		wrote, err := pg.Seed(ctx, seed)
		if err != nil {
			pg.Close()
			return nil, err
		}
		if wrote {
			log.Info("seeded metadata store", zap.String("file", cfg.SeedFile))
		}
	}
	return pg, nil
}
