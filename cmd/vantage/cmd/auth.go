package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/sternforth/vantage/internal/config"
	"github.com/sternforth/vantage/internal/remote"
	"github.com/sternforth/vantage/internal/service"
	"github.com/sternforth/vantage/internal/session"
)

var (
	authProfile string
	authRemote  string
)

var authCmd = &cobra.Command{
	Use:   "auth <service>",
	Short: "Authenticate a service locally and cache the session",
	Long: `Authenticate against a service using the configured cookies and
credentials, then cache the resulting session for remote use.

Credentials never leave this machine; only the authenticated session
(cookies and headers) is cached and later attached to remote requests.

The session is stored under the configured remote server. With several
remote servers configured, pick one with --remote (by name or URL).`,
	Args: cobra.ExactArgs(1),
	RunE: runAuth,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.Flags().StringVar(&authProfile, "profile", "", "credential profile (default \"default\")")
	authCmd.Flags().StringVar(&authRemote, "remote", "", "remote server name or URL to cache the session under")
}

// resolveRemote picks the remote server a session belongs to.
func resolveRemote(cfg *config.Config, selector string) (config.RemoteServiceConfig, error) {
	if selector == "" {
		if len(cfg.RemoteServices) == 0 {
			return config.RemoteServiceConfig{}, fmt.Errorf("no remote_services configured")
		}
		return cfg.RemoteServices[0], nil
	}
	for _, rs := range cfg.RemoteServices {
		if rs.Name == selector || rs.URL == selector {
			return rs, nil
		}
	}
	return config.RemoteServiceConfig{}, fmt.Errorf("no configured remote server matches %q", selector)
}

func runAuth(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()
	tag := args[0]

	cache, err := session.OpenCache(cfg.Directories.Cache, logger)
	if err != nil {
		return fmt.Errorf("opening session cache: %w", err)
	}

	registry := service.NewRegistry()
	if err := registerAdapters(registry, cfg, logger); err != nil {
		return fmt.Errorf("registering adapters: %w", err)
	}

	orchestrator := remote.NewOrchestrator(registry, cfg, cache, logger)

	remoteCfg, remoteErr := resolveRemote(cfg, authRemote)
	if remoteErr != nil {
		if authRemote != "" {
			return remoteErr
		}
		// No remote servers configured: the session still gets validated,
		// it just has nowhere to be cached for later attachment.
		record, err := orchestrator.AuthenticateLocally(cmd.Context(), tag, authProfile)
		if err != nil {
			return err
		}
		fmt.Printf("Authenticated %s profile %s (%d cookies, %d headers); no remote_services configured, session not cached\n",
			record.ServiceTag, record.Profile, len(record.Cookies), len(record.Headers))
		return nil
	}

	record, err := orchestrator.Reauthenticate(cmd.Context(), remoteCfg.URL, tag, authProfile)
	if err != nil {
		return err
	}

	fmt.Printf("Authenticated %s profile %s (%d cookies, %d headers)\n",
		record.ServiceTag, record.Profile, len(record.Cookies), len(record.Headers))
	fmt.Printf("Session cached for %s until %s\n",
		remoteCfg.URL, time.Unix(record.CachedAt, 0).Add(session.TTL).Format(time.RFC3339))
	return nil
}
