package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/akorhonen/dropbox-go/internal/config"
	"github.com/akorhonen/dropbox-go/internal/credstore"
	"github.com/akorhonen/dropbox-go/internal/dropbox"
	"github.com/akorhonen/dropbox-go/internal/transfer"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// cfg holds the configuration loaded by PersistentPreRunE. It is available
// to all subcommands after the root pre-run phase completes.
var cfg *config.Config

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "dropbox-go",
		Short:   "Dropbox CLI client",
		Long:    "A fast, safe Dropbox CLI client for Linux and macOS.",
		Version: version,
		// Silence Cobra's default error/usage printing, we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		// Config loads before every command. A missing config file is fine
		// since defaults apply, so even login works on a fresh machine.
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	// Register subcommands.
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newPutCmd())
	cmd.AddCommand(newRmCmd())
	cmd.AddCommand(newMvCmd())
	cmd.AddCommand(newCpCmd())
	cmd.AddCommand(newMkdirCmd())
	cmd.AddCommand(newStatCmd())

	return cmd
}

// loadConfig resolves the config file path from the override chain
// (--config flag, then DROPBOX_GO_CONFIG, then the XDG default) and loads
// it into the package-level cfg.
func loadConfig() error {
	path := flagConfigPath
	if path == "" {
		path = config.ReadEnvOverrides().ConfigPath
	}

	if path == "" {
		path = config.DefaultConfigPath()
	}

	loaded, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cfg = loaded

	return nil
}

// buildLogger creates an slog.Logger configured by the CLI flags.
// --verbose wins over --quiet when both are set.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	if flagQuiet {
		level = slog.LevelError
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openStore opens the credential store under the platform data directory.
// The keyring can be disabled from config or environment.
func openStore(logger *slog.Logger) (*credstore.Store, error) {
	env := config.ReadEnvOverrides()

	return credstore.Open(credstore.Options{
		Dir:            config.DefaultDataDir(),
		DisableKeyring: cfg.DisableKeyring || env.DisableKeyring,
	}, logger)
}

// newAPIClient builds a Dropbox client from stored credentials. Metadata
// requests carry the configured HTTP timeout.
func newAPIClient(ctx context.Context, logger *slog.Logger) (*dropbox.Client, error) {
	ts, err := tokenSource(ctx, logger)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout()}

	return dropbox.NewClient(httpClient, ts, logger), nil
}

// newEngine builds a transfer engine from stored credentials. Transfer
// requests use a client without a timeout since a chunk window may
// legitimately take minutes on a slow link; cancellation comes from the
// command context instead.
func newEngine(ctx context.Context, obs transfer.Observer, logger *slog.Logger) (*transfer.Engine, error) {
	ts, err := tokenSource(ctx, logger)
	if err != nil {
		return nil, err
	}

	client := dropbox.NewClient(&http.Client{}, ts, logger)
	sessions := transfer.NewSessionStore(config.DefaultDataDir(), logger)

	opts := transfer.Options{
		Threshold:       cfg.ThresholdBytes,
		ChunkSize:       cfg.ChunkSizeBytes,
		MaxChunkRetries: cfg.MaxChunkRetries,
		Workers:         cfg.TransferWorkers,
	}

	return transfer.NewEngine(client, opts, sessions, obs, logger), nil
}

// tokenSource loads stored credentials, translating the not-logged-in case
// into a message that tells the user what to do.
func tokenSource(ctx context.Context, logger *slog.Logger) (dropbox.TokenSource, error) {
	store, err := openStore(logger)
	if err != nil {
		return nil, err
	}

	ts, err := dropbox.TokenSourceFromStore(ctx, store, logger)
	if err != nil {
		if errors.Is(err, dropbox.ErrNotLoggedIn) {
			return nil, fmt.Errorf("not logged in, run 'dropbox-go login' first")
		}

		return nil, err
	}

	return ts, nil
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
