package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/akorhonen/dropbox-go/internal/config"
	"github.com/akorhonen/dropbox-go/internal/dropbox"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authorize with Dropbox using the authorization code flow",
		Long: `Authorize with Dropbox. Opens no browser itself: the command prints an
authorization URL, you approve access there, and paste the code Dropbox
shows back into the terminal.

The Dropbox app key and secret come from DROPBOX_GO_APP_KEY and
DROPBOX_GO_APP_SECRET, or are prompted for interactively (the secret
prompt hides input). Tokens are stored in the system keyring when
available, otherwise in an encrypted file.`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}

	cmd.Flags().Bool("force", false, "reauthorize even when already logged in")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove saved credentials",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the authenticated account and space usage",
		Args:  cobra.NoArgs,
		RunE:  runWhoami,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := cmd.Context()

	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}

	appKey, appSecret, err := appCredentials()
	if err != nil {
		return err
	}

	store, err := openStore(logger)
	if err != nil {
		return err
	}

	display := func(authURL string) {
		// Authorization prompts must always be visible, not suppressed by --quiet.
		fmt.Fprintf(os.Stderr, "To authorize, visit:\n\n  %s\n\n", authURL)
	}

	prompt := func() (string, error) {
		return promptLine("Enter the authorization code: ")
	}

	if err := dropbox.Authorize(ctx, store, appKey, appSecret, display, prompt, force, logger); err != nil {
		return err
	}

	statusf("Login successful (credentials stored via %s).\n", store.BackendName())

	return nil
}

// appCredentials returns the Dropbox app key and secret, preferring
// environment variables and prompting for whatever is missing.
func appCredentials() (string, string, error) {
	env := config.ReadEnvOverrides()

	appKey := env.AppKey
	if appKey == "" {
		var err error
		if appKey, err = promptLine("Dropbox app key: "); err != nil {
			return "", "", err
		}
	}

	if appKey == "" {
		return "", "", fmt.Errorf("app key must not be empty")
	}

	appSecret := env.AppSecret
	if appSecret == "" {
		var err error
		if appSecret, err = promptSecret("Dropbox app secret: "); err != nil {
			return "", "", err
		}
	}

	if appSecret == "" {
		return "", "", fmt.Errorf("app secret must not be empty")
	}

	return appKey, appSecret, nil
}

// promptLine prints a label to stderr and reads one trimmed line from stdin.
func promptLine(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading input: %w", err)
	}

	return strings.TrimSpace(line), nil
}

// promptSecret reads a line without echoing when stdin is a terminal,
// falling back to a plain read when input is piped in.
func promptSecret(label string) (string, error) {
	fd := int(os.Stdin.Fd())

	if !term.IsTerminal(fd) {
		return promptLine(label)
	}

	fmt.Fprint(os.Stderr, label)

	raw, err := term.ReadPassword(fd)

	fmt.Fprintln(os.Stderr)

	if err != nil {
		return "", fmt.Errorf("reading secret: %w", err)
	}

	return strings.TrimSpace(string(raw)), nil
}

func runLogout(_ *cobra.Command, _ []string) error {
	logger := buildLogger()

	store, err := openStore(logger)
	if err != nil {
		return err
	}

	if err := dropbox.Logout(store, logger); err != nil {
		return err
	}

	statusf("Logged out.\n")

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	AccountID   string `json:"account_id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	SpaceUsed   int64  `json:"space_used"`
	SpaceTotal  int64  `json:"space_total"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := cmd.Context()

	client, err := newAPIClient(ctx, logger)
	if err != nil {
		return err
	}

	account, err := client.GetCurrentAccount(ctx)
	if err != nil {
		return fmt.Errorf("fetching account: %w", err)
	}

	usage, err := client.GetSpaceUsage(ctx)
	if err != nil {
		return fmt.Errorf("fetching space usage: %w", err)
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(whoamiOutput{
			AccountID:   account.AccountID,
			DisplayName: account.Name.DisplayName,
			Email:       account.Email,
			SpaceUsed:   usage.Used,
			SpaceTotal:  usage.Allocation.Allocated,
		})
	}

	fmt.Printf("User:  %s (%s)\n", account.Name.DisplayName, account.Email)
	fmt.Printf("ID:    %s\n", account.AccountID)
	fmt.Printf("Space: %s / %s\n", formatSize(usage.Used), formatSize(usage.Allocation.Allocated))

	return nil
}
