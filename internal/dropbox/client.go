package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

// API endpoint bases. RPC endpoints take JSON bodies; content endpoints
// carry raw bytes with the JSON argument in the Dropbox-API-Arg header.
const (
	defaultRPCURL     = "https://api.dropboxapi.com/2"
	defaultContentURL = "https://content.dropboxapi.com/2"
)

// Retry and backoff constants.
const (
	maxRetries     = 5
	baseBackoff    = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
	userAgent      = "dropbox-go/0.1"
)

// TokenSource provides OAuth2 bearer tokens. Defined at the consumer per
// Go convention "accept interfaces, return structs"; the auth layer
// provides the real implementation.
type TokenSource interface {
	Token() (string, error)
}

// Client is an HTTP client for the Dropbox API v2. It handles request
// construction, authentication, retry with exponential backoff, and error
// classification.
type Client struct {
	rpcURL     string
	contentURL string
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Dropbox API client.
func NewClient(httpClient *http.Client, token TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		rpcURL:     defaultRPCURL,
		contentURL: defaultContentURL,
		httpClient: httpClient,
		token:      token,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

// call executes an RPC endpoint: POST JSON args, decode the JSON result
// into out (skipped when out is nil). Args of nil are sent as JSON null,
// which endpoints like users/get_current_account require. The body is
// re-marshaled on each attempt, so RPC calls retry safely.
func (c *Client) call(ctx context.Context, path string, args, out any) error {
	body, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("dropbox: encoding %s args: %w", path, err)
	}

	var attempt int
	for {
		resp, err := c.doOnce(ctx, path, body)
		if err != nil {
			// Context cancellation is not retryable.
			if ctx.Err() != nil {
				return fmt.Errorf("dropbox: request canceled: %w", ctx.Err())
			}

			// Network errors are retryable.
			if attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("path", path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return fmt.Errorf("dropbox: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return fmt.Errorf("dropbox: %s failed after %d retries: %w", path, maxRetries, err)
		}

		if resp.StatusCode == http.StatusOK {
			c.logger.Debug("request succeeded", slog.String("path", path))

			err = decodeResult(resp.Body, out)
			resp.Body.Close()

			if err != nil {
				return fmt.Errorf("dropbox: decoding %s result: %w", path, err)
			}

			return nil
		}

		errBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return fmt.Errorf("dropbox: request canceled: %w", err)
			}

			attempt++

			continue
		}

		apiErr := newAPIError(resp.StatusCode, errBody)

		if attempt > 0 {
			c.logger.Error("request failed after retries",
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts", attempt+1),
			)
		}

		return apiErr
	}
}

// doOnce executes a single RPC request (no retry).
func (c *Client) doOnce(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	tok, err := c.token.Token()
	if err != nil {
		return nil, fmt.Errorf("obtaining token: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")

	return c.httpClient.Do(req)
}

// content sends a single content-endpoint request with the JSON argument in
// the Dropbox-API-Arg header and raw bytes in the body. No retry: the engine
// owns retry policy for content transfers, because it holds the chunk bytes
// and can resend them.
func (c *Client) content(ctx context.Context, path string, arg any, body io.Reader, rangeHeader string) (*http.Response, error) {
	argJSON, err := headerSafeJSON(arg)
	if err != nil {
		return nil, fmt.Errorf("dropbox: encoding %s arg: %w", path, err)
	}

	if body == nil {
		body = http.NoBody
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.contentURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("dropbox: creating content request: %w", err)
	}

	tok, err := c.token.Token()
	if err != nil {
		return nil, fmt.Errorf("dropbox: obtaining token: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Dropbox-API-Arg", argJSON)
	req.Header.Set("Content-Type", "application/octet-stream")

	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("content request failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		return nil, fmt.Errorf("dropbox: content request failed: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		errBody, _ := io.ReadAll(resp.Body) //nolint:errcheck // best-effort read for error message
		resp.Body.Close()

		return nil, newAPIError(resp.StatusCode, errBody)
	}

	return resp, nil
}

// apiErrorBody is the JSON shape of Dropbox error responses.
type apiErrorBody struct {
	ErrorSummary string `json:"error_summary"`
}

// newAPIError builds an APIError from a non-2xx response. Error bodies are
// usually JSON with an error_summary; content endpoints sometimes return
// plain text, which becomes the summary verbatim.
func newAPIError(status int, body []byte) *APIError {
	var eb apiErrorBody

	summary := string(body)
	if err := json.Unmarshal(body, &eb); err == nil && eb.ErrorSummary != "" {
		summary = eb.ErrorSummary
	}

	return &APIError{
		StatusCode: status,
		Summary:    summary,
		Err:        classifyStatus(status, summary),
	}
}

// decodeResult decodes a JSON response body into out, draining when out is nil.
func decodeResult(r io.Reader, out any) error {
	if out == nil {
		_, err := io.Copy(io.Discard, r)
		return err
	}

	return json.NewDecoder(r).Decode(out)
}

// headerSafeJSON marshals v for the Dropbox-API-Arg header. HTTP headers
// only carry printable ASCII, so characters outside 0x20..0x7E are escaped
// as \uXXXX sequences.
func headerSafeJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	var b bytes.Buffer
	for _, r := range string(raw) {
		if r >= 0x20 && r <= 0x7e {
			b.WriteRune(r)
			continue
		}

		fmt.Fprintf(&b, "\\u%04x", r)
	}

	return b.String(), nil
}

// retryBackoff returns the backoff duration for a retryable response.
// For 429 responses with a Retry-After header, that value is used.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
