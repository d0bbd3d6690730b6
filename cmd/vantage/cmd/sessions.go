package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sternforth/vantage/internal/session"
)

var (
	sessionsRemote  string
	sessionsProfile string
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage cached remote sessions",
	Long:  `List, delete, and clean the locally cached remote service sessions.`,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached sessions",
	RunE:  runSessionsList,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <service>",
	Short: "Delete a cached session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

var sessionsCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Purge expired sessions",
	RunE:  runSessionsClean,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd, sessionsDeleteCmd, sessionsCleanCmd)

	sessionsCmd.PersistentFlags().StringVar(&sessionsRemote, "remote", "", "limit to one remote server name or URL")
	sessionsDeleteCmd.Flags().StringVar(&sessionsProfile, "profile", "default", "credential profile")
}

func openSessionCache() (*session.Cache, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	cache, err := session.OpenCache(cfg.Directories.Cache, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("opening session cache: %w", err)
	}
	return cache, nil
}

// sessionsRemoteURL maps the --remote selector to a configured URL when it
// names one, passing URLs through unchanged.
func sessionsRemoteURL() (string, error) {
	if sessionsRemote == "" {
		return "", nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	remoteCfg, err := resolveRemote(cfg, sessionsRemote)
	if err != nil {
		return sessionsRemote, nil
	}
	return remoteCfg.URL, nil
}

func runSessionsList(_ *cobra.Command, _ []string) error {
	cache, err := openSessionCache()
	if err != nil {
		return err
	}
	remoteURL, err := sessionsRemoteURL()
	if err != nil {
		return err
	}

	sessions := cache.List(remoteURL)
	if len(sessions) == 0 {
		fmt.Println("No cached sessions.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "REMOTE\tSERVICE\tPROFILE\tAGE\tSTATE")
	for _, info := range sessions {
		state := "valid"
		if info.Expired {
			state = "expired"
		}
		age := time.Duration(info.AgeSeconds) * time.Second
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			info.RemoteURL, info.ServiceTag, info.Profile, age.Round(time.Minute), state)
	}
	return w.Flush()
}

func runSessionsDelete(_ *cobra.Command, args []string) error {
	cache, err := openSessionCache()
	if err != nil {
		return err
	}
	remoteURL, err := sessionsRemoteURL()
	if err != nil {
		return err
	}
	if remoteURL == "" {
		return fmt.Errorf("--remote is required for delete")
	}

	if !cache.Has(remoteURL, args[0], sessionsProfile) {
		return fmt.Errorf("no cached session for %s/%s profile %s", remoteURL, args[0], sessionsProfile)
	}
	if err := cache.Delete(remoteURL, args[0], sessionsProfile); err != nil {
		return err
	}
	fmt.Printf("Deleted session %s/%s profile %s\n", remoteURL, args[0], sessionsProfile)
	return nil
}

func runSessionsClean(_ *cobra.Command, _ []string) error {
	cache, err := openSessionCache()
	if err != nil {
		return err
	}
	fmt.Printf("Purged %d expired sessions from %s\n", cache.CleanupExpired(), cache.Path())
	return nil
}
