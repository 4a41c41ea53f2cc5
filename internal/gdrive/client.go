package gdrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// Drive v3 endpoints.
const (
	DefaultBaseURL   = "https://www.googleapis.com/drive/v3"
	DefaultUploadURL = "https://www.googleapis.com/upload/drive/v3"
)

// Retry and backoff constants.
const (
	maxRetries       = 2
	baseBackoff      = 1 * time.Second
	maxRetryAfter    = 60 * time.Second
	defaultUserAgent = "vaultsync/0.1"
)

// TokenProvider supplies OAuth2 bearer tokens. Defined at the consumer.
// AccessToken returns a valid token, refreshing silently when it expired;
// Refresh forces a new token even when the cached one still looks valid.
// Both fail with ErrAuthRequired when no usable credentials exist.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// Client is an HTTP client for the Drive v3 API.
type Client struct {
	baseURL    string
	uploadURL  string
	httpClient *http.Client
	token      TokenProvider
	logger     *slog.Logger
	userAgent  string

	// sleepFunc waits between retries. Tests override it to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURLs overrides the metadata and upload endpoints.
func WithBaseURLs(base, upload string) Option {
	return func(c *Client) {
		c.baseURL = base
		c.uploadURL = upload
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// NewClient creates a Drive API client.
func NewClient(httpClient *http.Client, token TokenProvider, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	c := &Client{
		baseURL:    DefaultBaseURL,
		uploadURL:  DefaultUploadURL,
		httpClient: httpClient,
		token:      token,
		logger:     logger,
		userAgent:  defaultUserAgent,
		sleepFunc:  timeSleep,
	}

	for _, o := range opts {
		o(c)
	}

	return c
}

// Do executes a request against rawURL. A non-nil body is rewound before
// every attempt, so it must be positioned at its start. The caller closes the
// response body on success.
//
// Network errors, 408, 429, 5xx and rate-limit 403s are retried up to
// maxRetries times with linear backoff, honoring Retry-After. A 401 forces one
// token refresh and one more attempt.
func (c *Client) Do(
	ctx context.Context, method, rawURL string, body io.ReadSeeker, contentType string,
) (*http.Response, error) {
	var (
		attempt      int
		refreshed    bool
		forceRefresh bool
	)

	for {
		resp, err := c.doOnce(ctx, method, rawURL, body, contentType, forceRefresh)
		forceRefresh = false

		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("gdrive: request canceled: %w", ctx.Err())
			}

			if errors.Is(err, ErrAuthRequired) {
				return nil, err
			}

			if attempt < maxRetries {
				backoff := calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", method),
					slog.String("url", redactQuery(rawURL)),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("gdrive: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("gdrive: %s failed after %d retries: %w", method, maxRetries, err)
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("method", method),
				slog.String("url", redactQuery(rawURL)),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		errBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		apiErr := newAPIError(resp.StatusCode, errBody)

		if resp.StatusCode == http.StatusUnauthorized && !refreshed {
			c.logger.Info("access token rejected, forcing refresh",
				slog.String("method", method),
			)

			refreshed = true
			forceRefresh = true

			continue
		}

		if isRetryable(resp.StatusCode, apiErr.Reason) && attempt < maxRetries {
			backoff := retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", method),
				slog.String("url", redactQuery(rawURL)),
				slog.Int("status", resp.StatusCode),
				slog.String("reason", apiErr.Reason),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("gdrive: request canceled: %w", err)
			}

			attempt++

			continue
		}

		if attempt > 0 {
			c.logger.Error("request failed after retries",
				slog.String("method", method),
				slog.String("url", redactQuery(rawURL)),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts", attempt+1),
			)
		}

		return nil, apiErr
	}
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(
	ctx context.Context, method, rawURL string, body io.ReadSeeker, contentType string, forceRefresh bool,
) (*http.Response, error) {
	var reqBody io.Reader = http.NoBody

	if body != nil {
		if _, err := body.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("rewinding request body: %w", err)
		}

		reqBody = body
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	var tok string
	if forceRefresh {
		tok, err = c.token.Refresh(ctx)
	} else {
		tok, err = c.token.AccessToken(ctx)
	}

	if err != nil {
		return nil, fmt.Errorf("gdrive: obtaining token: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", c.userAgent)

	if body != nil && contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	return c.httpClient.Do(req)
}

// retryBackoff returns the wait before the next attempt. A Retry-After header
// in seconds wins over the computed backoff.
func retryBackoff(resp *http.Response, attempt int) time.Duration {
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
			return min(time.Duration(seconds)*time.Second, maxRetryAfter)
		}
	}

	return calcBackoff(attempt)
}

// calcBackoff is linear: 1s, 2s, ...
func calcBackoff(attempt int) time.Duration {
	return baseBackoff * time.Duration(attempt+1)
}

// timeSleep waits for the given duration or until the context is canceled.
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
