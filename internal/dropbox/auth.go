package dropbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/akorhonen/dropbox-go/internal/credstore"
)

// OAuth2 endpoints. Authorization happens in the user's browser; the token
// endpoint is hit directly for code exchange and refresh.
const (
	authorizeURL = "https://www.dropbox.com/oauth2/authorize"
	tokenURL     = "https://api.dropboxapi.com/oauth2/token"
)

// oauthConfig builds the oauth2.Config for a Dropbox app. No redirect URL:
// the no-redirect flow shows the authorization code on a Dropbox page and
// the user pastes it back into the terminal.
func oauthConfig(appKey, appSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     appKey,
		ClientSecret: appSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  authorizeURL,
			TokenURL: tokenURL,
		},
	}
}

// Authorize performs the authorization code + PKCE flow:
//  1. Builds the authorization URL and calls display so the CLI can show it
//  2. Calls prompt to collect the code the user pastes back
//  3. Exchanges the code for tokens using PKCE
//  4. Saves the credential record to the store
//
// When force is false and the store already holds a refreshable credential,
// the flow is skipped.
func Authorize(
	ctx context.Context,
	store *credstore.Store,
	appKey, appSecret string,
	display func(authURL string),
	prompt func() (string, error),
	force bool,
	logger *slog.Logger,
) error {
	cfg := oauthConfig(appKey, appSecret)

	return doAuthorize(ctx, store, cfg, display, prompt, force, logger)
}

// doAuthorize implements the PKCE flow. Accepts a pre-built oauth2.Config
// so tests can inject a mock token endpoint.
func doAuthorize(
	ctx context.Context,
	store *credstore.Store,
	cfg *oauth2.Config,
	display func(authURL string),
	prompt func() (string, error),
	force bool,
	logger *slog.Logger,
) error {
	if !force {
		rec, err := store.Get()
		if err == nil && rec.RefreshToken != "" {
			logger.Info("already authorized, skipping authorization flow")
			return nil
		}
	}

	logger.Info("starting authorization flow (authorization code + PKCE)")

	verifier := oauth2.GenerateVerifier()

	authURL := cfg.AuthCodeURL("",
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("token_access_type", "offline"),
	)

	display(authURL)

	code, err := prompt()
	if err != nil {
		return fmt.Errorf("dropbox: reading authorization code: %w", err)
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("dropbox: empty authorization code")
	}

	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return fmt.Errorf("%w: code exchange: %w", ErrAuthFailed, err)
	}

	logger.Info("token exchange successful", slog.Time("expiry", tok.Expiry))

	rec := &credstore.Record{
		AppKey:       cfg.ClientID,
		AppSecret:    cfg.ClientSecret,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}

	if saveErr := store.Save(rec); saveErr != nil {
		return fmt.Errorf("dropbox: saving credentials: %w", saveErr)
	}

	logger.Info("authorization successful")

	return nil
}

// TokenSourceFromStore returns a TokenSource backed by the credential
// store. Access tokens are refreshed on demand and refreshed credentials
// are written back to the store. Returns ErrNotLoggedIn when the store is
// empty.
//
// ctx must outlive the TokenSource: it is bound to refresh requests.
// Callers should pass context.Background() for long-lived sessions.
func TokenSourceFromStore(ctx context.Context, store *credstore.Store, logger *slog.Logger) (TokenSource, error) {
	rec, err := store.Get()
	if errors.Is(err, credstore.ErrNotFound) {
		return nil, ErrNotLoggedIn
	}

	if err != nil {
		return nil, fmt.Errorf("dropbox: loading credentials: %w", err)
	}

	logger.Debug("loaded saved credentials",
		slog.Time("expiry", rec.Expiry),
		slog.Bool("valid", rec.Valid(time.Now())),
	)

	return &storeTokenSource{
		ctx:    ctx,
		store:  store,
		cfg:    oauthConfig(rec.AppKey, rec.AppSecret),
		rec:    rec,
		logger: logger,
	}, nil
}

// Logout destroys the stored credentials. Logging out when not logged in
// is not an error.
func Logout(store *credstore.Store, logger *slog.Logger) error {
	if err := store.Clear(); err != nil {
		return fmt.Errorf("dropbox: clearing credentials: %w", err)
	}

	logger.Info("logged out, credentials destroyed")

	return nil
}

// storeTokenSource serves access tokens from the credential record,
// refreshing through the OAuth2 token endpoint when expired and persisting
// the refreshed record. A refresh rejected by the authorization server
// clears the store so the next run starts a fresh authorization.
type storeTokenSource struct {
	ctx    context.Context //nolint:containedctx // bound at construction, see TokenSourceFromStore
	store  *credstore.Store
	cfg    *oauth2.Config
	logger *slog.Logger

	mu  sync.Mutex
	rec *credstore.Record
}

func (s *storeTokenSource) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec.Valid(time.Now()) {
		return s.rec.AccessToken, nil
	}

	if s.rec.RefreshToken == "" {
		return "", fmt.Errorf("%w: access token expired and no refresh token held", ErrAuthFailed)
	}

	s.logger.Debug("access token expired, refreshing")

	tok, err := s.cfg.TokenSource(s.ctx, s.rec.Token()).Token()
	if err != nil {
		return "", s.refreshFailed(err)
	}

	s.rec.AccessToken = tok.AccessToken
	s.rec.Expiry = tok.Expiry

	if tok.RefreshToken != "" {
		s.rec.RefreshToken = tok.RefreshToken
	}

	if saveErr := s.store.Save(s.rec); saveErr != nil {
		// The refreshed token still works for this process.
		s.logger.Warn("failed to persist refreshed credentials",
			slog.String("error", saveErr.Error()),
		)
	} else {
		s.logger.Debug("persisted refreshed credentials",
			slog.Time("expiry", tok.Expiry),
		)
	}

	return tok.AccessToken, nil
}

// refreshFailed distinguishes a rejected refresh token from a transient
// failure. Only a definitive rejection destroys the stored credentials.
func (s *storeTokenSource) refreshFailed(err error) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) && rErr.Response != nil && rejectedStatus(rErr.Response.StatusCode) {
		s.logger.Warn("refresh token rejected, clearing stored credentials")

		if clearErr := s.store.Clear(); clearErr != nil {
			s.logger.Warn("failed to clear rejected credentials",
				slog.String("error", clearErr.Error()),
			)
		}

		return fmt.Errorf("%w: token refresh rejected: %w", ErrAuthFailed, err)
	}

	return fmt.Errorf("dropbox: token refresh: %w", err)
}

func rejectedStatus(code int) bool {
	return code == http.StatusBadRequest || code == http.StatusUnauthorized
}
