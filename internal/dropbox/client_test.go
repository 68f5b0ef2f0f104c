package dropbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken string

func (s staticToken) Token() (string, error) { return string(s), nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestClient points both endpoint bases at an httptest server and makes
// retries sleep-free.
func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(srv.Client(), staticToken("test-token"), testLogger())
	c.rpcURL = srv.URL
	c.contentURL = srv.URL
	c.sleepFunc = func(_ context.Context, _ time.Duration) error { return nil }

	return c
}

func TestCall_Success(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var arg pathArg
		require.NoError(t, json.NewDecoder(r.Body).Decode(&arg))
		assert.Equal(t, "/hello.txt", arg.Path)

		json.NewEncoder(w).Encode(Metadata{Name: "hello.txt", Size: 42})
	}))

	var m Metadata
	require.NoError(t, c.call(context.Background(), "/files/get_metadata", pathArg{Path: "/hello.txt"}, &m))
	assert.Equal(t, "hello.txt", m.Name)
	assert.Equal(t, int64(42), m.Size)
}

func TestCall_NilArgsSentAsNull(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := make([]byte, 4)
		n, _ := r.Body.Read(body)
		assert.Equal(t, "null", string(body[:n]))

		w.Write([]byte(`{}`))
	}))

	require.NoError(t, c.call(context.Background(), "/users/get_current_account", nil, nil))
}

func TestCall_RetriesServerError(t *testing.T) {
	var attempts atomic.Int32

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Write([]byte(`{}`))
	}))

	require.NoError(t, c.call(context.Background(), "/files/get_metadata", pathArg{Path: "/x"}, nil))
	assert.Equal(t, int32(3), attempts.Load())
}

func TestCall_NoRetryOnBadRequest(t *testing.T) {
	var attempts atomic.Int32

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		http.Error(w, "Error in call to API function", http.StatusBadRequest)
	}))

	err := c.call(context.Background(), "/files/get_metadata", pathArg{Path: "/x"}, nil)
	assert.ErrorIs(t, err, ErrBadRequest)
	assert.Equal(t, int32(1), attempts.Load())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestCall_ExhaustsRetries(t *testing.T) {
	var attempts atomic.Int32

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	err := c.call(context.Background(), "/files/get_metadata", pathArg{Path: "/x"}, nil)
	assert.ErrorIs(t, err, ErrServerError)
	assert.Equal(t, int32(maxRetries+1), attempts.Load())
}

func TestCall_HonorsRetryAfter(t *testing.T) {
	var attempts atomic.Int32

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)

			return
		}

		w.Write([]byte(`{}`))
	}))

	var slept []time.Duration
	c.sleepFunc = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	require.NoError(t, c.call(context.Background(), "/files/get_metadata", pathArg{Path: "/x"}, nil))
	require.Len(t, slept, 1)
	assert.Equal(t, 7*time.Second, slept[0])
}

func TestCall_ConflictClassification(t *testing.T) {
	tests := []struct {
		summary string
		want    error
	}{
		{"path/not_found/..", ErrNotFound},
		{"path_lookup/not_found/..", ErrNotFound},
		{"path/conflict/folder/..", ErrConflict},
		{"path/insufficient_space/..", ErrInsufficientSpace},
		{"expired_access_token/...", ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.summary, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusConflict)
				json.NewEncoder(w).Encode(apiErrorBody{ErrorSummary: tt.summary})
			}))

			err := c.call(context.Background(), "/files/get_metadata", pathArg{Path: "/x"}, nil)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCall_ContextCanceled(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.call(ctx, "/files/get_metadata", pathArg{Path: "/x"}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHeaderSafeJSON(t *testing.T) {
	got, err := headerSafeJSON(pathArg{Path: "/kuva äiti.jpg"})
	require.NoError(t, err)

	// Non-ASCII must be escaped for the HTTP header.
	assert.Equal(t, `{"path":"/kuva \u00e4iti.jpg"}`, got)

	// Plain ASCII passes through untouched.
	got, err = headerSafeJSON(pathArg{Path: "/plain.txt"})
	require.NoError(t, err)
	assert.Equal(t, `{"path":"/plain.txt"}`, got)
}

func TestCalcBackoff(t *testing.T) {
	c := NewClient(nil, staticToken(""), testLogger())

	for attempt := range 8 {
		backoff := c.calcBackoff(attempt)

		expected := float64(baseBackoff) * 1
		for range attempt {
			expected *= backoffFactor
		}

		if expected > float64(maxBackoff) {
			expected = float64(maxBackoff)
		}

		assert.GreaterOrEqual(t, float64(backoff), expected*(1-jitterFraction))
		assert.LessOrEqual(t, float64(backoff), expected*(1+jitterFraction))
	}
}

func TestNewAPIError_PlainTextBody(t *testing.T) {
	err := newAPIError(http.StatusBadRequest, []byte("Error in call to API function: bad arg"))

	var apiErr *APIError
	require.ErrorAs(t, error(err), &apiErr)
	assert.Contains(t, apiErr.Summary, "bad arg")
	assert.ErrorIs(t, err, ErrBadRequest)
}
