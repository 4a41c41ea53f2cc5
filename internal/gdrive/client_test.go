package gdrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noopSleep returns immediately, for fast tests.
func noopSleep(_ context.Context, _ time.Duration) error {
	return nil
}

// fakeTokens hands out "stale" until Refresh is called, then "fresh".
type fakeTokens struct {
	refreshes  atomic.Int32
	refreshErr error
}

func (f *fakeTokens) AccessToken(context.Context) (string, error) {
	if f.refreshes.Load() > 0 {
		return "fresh", nil
	}

	return "stale", nil
}

func (f *fakeTokens) Refresh(context.Context) (string, error) {
	if f.refreshErr != nil {
		return "", f.refreshErr
	}

	f.refreshes.Add(1)

	return "fresh", nil
}

// newTestClient points a Client at srvURL with instant retry sleeps.
func newTestClient(t *testing.T, srvURL string) *Client {
	t.Helper()

	c := NewClient(http.DefaultClient, &fakeTokens{}, slog.Default(),
		WithBaseURLs(srvURL, srvURL+"/upload"), WithUserAgent("test-agent"))
	c.sleepFunc = noopSleep

	return c
}

func driveError(code int, reason, msg string) string {
	return fmt.Sprintf(`{"error":{"code":%d,"message":%q,"errors":[{"reason":%q}]}}`, code, msg, reason)
}

func TestDo_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer stale", r.Header.Get("Authorization"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{"id":"1"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	resp, err := client.Do(context.Background(), http.MethodGet, srv.URL+"/files/1", nil, "")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"1"}`, string(body))
}

func TestDo_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		reason   string
		sentinel error
	}{
		{"bad request", http.StatusBadRequest, "invalid", ErrBadRequest},
		{"forbidden", http.StatusForbidden, "insufficientFilePermissions", ErrForbidden},
		{"not found", http.StatusNotFound, "notFound", ErrNotFound},
		{"conflict", http.StatusConflict, "", ErrConflict},
		{"storage quota", http.StatusForbidden, "storageQuotaExceeded", ErrQuotaExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(driveError(tt.status, tt.reason, "nope")))
			}))
			defer srv.Close()

			client := newTestClient(t, srv.URL)
			_, err := client.Do(context.Background(), http.MethodGet, srv.URL+"/files", nil, "")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, int32(1), calls.Load(), "non-retryable errors are attempted once")

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, "nope", apiErr.Message)
		})
	}
}

func TestDo_NonJSONErrorBodyKeptAsMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("plain failure"))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Do(context.Background(), http.MethodGet, srv.URL, nil, "")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "plain failure", apiErr.Message)
	assert.Empty(t, apiErr.Reason)
}

func TestDo_RetriesServerErrorsThenSucceeds(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	var (
		mu     sync.Mutex
		sleeps []time.Duration
	)

	client.sleepFunc = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()

		sleeps = append(sleeps, d)

		return nil
	}

	resp, err := client.Do(context.Background(), http.MethodGet, srv.URL, nil, "")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps, "backoff is linear")
}

func TestDo_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Do(context.Background(), http.MethodGet, srv.URL, nil, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerError)
	assert.Equal(t, int32(maxRetries+1), calls.Load())
}

func TestDo_RateLimitForbiddenIsRetried(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(driveError(http.StatusForbidden, "userRateLimitExceeded", "slow down")))

			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	resp, err := client.Do(context.Background(), http.MethodGet, srv.URL, nil, "")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int32(2), calls.Load())
}

func TestDo_HonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)

			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	var slept time.Duration

	client.sleepFunc = func(_ context.Context, d time.Duration) error {
		slept = d
		return nil
	}

	resp, err := client.Do(context.Background(), http.MethodGet, srv.URL, nil, "")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, 7*time.Second, slept)
}

func TestDo_UnauthorizedForcesOneRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tokens := &fakeTokens{}
	client := NewClient(http.DefaultClient, tokens, slog.Default(), WithBaseURLs(srv.URL, srv.URL))
	client.sleepFunc = noopSleep

	resp, err := client.Do(context.Background(), http.MethodGet, srv.URL, nil, "")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int32(1), tokens.refreshes.Load())
}

func TestDo_UnauthorizedAfterRefreshFails(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tokens := &fakeTokens{}
	client := NewClient(http.DefaultClient, tokens, slog.Default(), WithBaseURLs(srv.URL, srv.URL))
	client.sleepFunc = noopSleep

	_, err := client.Do(context.Background(), http.MethodGet, srv.URL, nil, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(1), tokens.refreshes.Load())
}

func TestDo_RefreshFailureSurfacesAuthRequired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tokens := &fakeTokens{refreshErr: ErrAuthRequired}
	client := NewClient(http.DefaultClient, tokens, slog.Default(), WithBaseURLs(srv.URL, srv.URL))
	client.sleepFunc = noopSleep

	_, err := client.Do(context.Background(), http.MethodGet, srv.URL, nil, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthRequired)
}

func TestDo_RewindsBodyOnRetry(t *testing.T) {
	var (
		calls  atomic.Int32
		mu     sync.Mutex
		bodies []string
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)

		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()

		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	resp, err := client.Do(context.Background(), http.MethodPost, srv.URL,
		strings.NewReader("payload"), "text/plain")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, []string{"payload", "payload"}, bodies)
}

func TestDo_CanceledContextStopsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())

	client := newTestClient(t, srv.URL)
	client.sleepFunc = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := client.Do(ctx, http.MethodGet, srv.URL, nil, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRedactQuery(t *testing.T) {
	assert.Equal(t, "https://x/files", redactQuery("https://x/files?q=secret"))
}
