package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sternforth/vantage/internal/config"
	"github.com/sternforth/vantage/internal/download"
	"github.com/sternforth/vantage/internal/manifest"
	"github.com/sternforth/vantage/internal/server"
	"github.com/sternforth/vantage/internal/service"
	"github.com/sternforth/vantage/internal/vault"
	"github.com/sternforth/vantage/internal/version"
	"github.com/sternforth/vantage/pkg/httpclient"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the remote service server",
	Long: `Start the HTTP server hosting the remote service API.

The server executes service adapters on behalf of remote clients: search,
title and track enumeration, license forwarding, and download jobs. It is
stateless - every request carries its own session material - and never
persists credentials.

OpenAPI documentation is served at /docs.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "host to bind to")
	serveCmd.Flags().Int("port", 8786, "port to listen on")
	serveCmd.Flags().Bool("no-auth", false, "disable API key authentication")
	serveCmd.Flags().Bool("debug", false, "include failure detail in error responses")

	mustBindPFlag("serve.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("serve.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("serve.no_auth", serveCmd.Flags().Lookup("no-auth"))
	mustBindPFlag("serve.debug", serveCmd.Flags().Lookup("debug"))
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()

	if !cfg.Serve.NoAuth && !cfg.Serve.ValidKeys() {
		return fmt.Errorf("no API keys configured; set serve.api_secret or serve.api_keys, or pass --no-auth")
	}

	global, named := cfg.HTTP.ClientConfigs()
	factory := httpclient.NewFactory(global, named)
	defer factory.Close()
	if cfg.HTTP.Proxy != "" {
		factory.SetDefaultProxy(cfg.HTTP.Proxy)
	}
	client, err := factory.Default()
	if err != nil {
		return fmt.Errorf("building http client: %w", err)
	}

	registry := service.NewRegistry()
	if err := registerAdapters(registry, cfg, logger); err != nil {
		return fmt.Errorf("registering adapters: %w", err)
	}
	logger.Info("service registry ready", slog.Int("services", len(registry.Tags())))

	vaults, err := vault.FromConfig(cfg.KeyVaults, client, logger)
	if err != nil {
		return fmt.Errorf("opening key vaults: %w", err)
	}

	manager, err := download.NewManager(cfg.Downloader.JobRetention, cfg.Downloader.PruneSchedule, logger)
	if err != nil {
		return fmt.Errorf("starting job manager: %w", err)
	}
	defer manager.Close()

	materializer := manifest.New(client, cfg.Directories.Temp, logger)
	downloader := download.NewDownloader(client, materializer,
		cfg.Directories.Downloads, cfg.Directories.Temp,
		cfg.Downloader.Workers, cfg.Downloader.SegmentWorkers, logger)
	defer func() {
		if err := downloader.Temps().Cleanup(); err != nil {
			logger.Warn("temp cleanup failed", slog.String("error", err.Error()))
		}
	}()

	var checker *version.Checker
	if cfg.UpdateChecks {
		checker = version.NewChecker(client.StandardClient(), cfg.UpdateInterval)
	}

	srv := server.New(cfg, server.Dependencies{
		Registry:   registry,
		Manager:    manager,
		Downloader: downloader,
		Vaults:     vaults,
		Checker:    checker,
		Client:     client,
		Logger:     logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting vantage server",
		slog.String("address", cfg.Serve.Address()),
		slog.String("version", version.Short()),
	)
	return srv.ListenAndServe(ctx)
}

// adapterRegistrars collects compiled-in adapter registrations. Service
// integrations append from their own init functions; the core ships none.
var adapterRegistrars []func(*service.Registry, *config.Config, *slog.Logger) error

// RegisterAdapter adds a service adapter registration run at startup.
func RegisterAdapter(fn func(*service.Registry, *config.Config, *slog.Logger) error) {
	adapterRegistrars = append(adapterRegistrars, fn)
}

func registerAdapters(registry *service.Registry, cfg *config.Config, logger *slog.Logger) error {
	for _, register := range adapterRegistrars {
		if err := register(registry, cfg, logger); err != nil {
			return err
		}
	}
	return nil
}
