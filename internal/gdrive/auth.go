package gdrive

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// DriveScope grants read/write access to the user's Drive, which is needed
// to sync folders that were not created by this application.
const DriveScope = "https://www.googleapis.com/auth/drive"

// Credentials identify the OAuth client (a Google "Desktop app" client).
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// OAuthTokens is the TokenProvider backed by a token file. Refreshed tokens
// are written back to the file.
type OAuthTokens struct {
	cfg    *oauth2.Config
	path   string
	logger *slog.Logger

	mu  sync.Mutex
	tok *oauth2.Token
}

// TokensFromPath loads the saved token at tokenPath. Returns ErrAuthRequired
// if no token file exists.
func TokensFromPath(tokenPath string, creds Credentials, logger *slog.Logger) (*OAuthTokens, error) {
	if logger == nil {
		logger = slog.Default()
	}

	tok, err := loadToken(tokenPath)
	if err != nil {
		return nil, err
	}

	if tok == nil {
		return nil, ErrAuthRequired
	}

	expired := !tok.Expiry.IsZero() && tok.Expiry.Before(time.Now())
	logger.Info("loaded saved token",
		slog.String("path", tokenPath),
		slog.Time("expiry", tok.Expiry),
		slog.Bool("expired", expired),
	)

	return newOAuthTokens(oauthConfig(creds), tokenPath, tok, logger), nil
}

func newOAuthTokens(cfg *oauth2.Config, path string, tok *oauth2.Token, logger *slog.Logger) *OAuthTokens {
	return &OAuthTokens{cfg: cfg, path: path, tok: tok, logger: logger}
}

// AccessToken returns the cached access token, refreshing it first when it
// has expired.
func (o *OAuthTokens) AccessToken(ctx context.Context) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.tok == nil {
		return "", ErrAuthRequired
	}

	if o.tok.Valid() {
		return o.tok.AccessToken, nil
	}

	return o.refreshLocked(ctx)
}

// Refresh exchanges the refresh token for a new access token regardless of
// the cached token's expiry.
func (o *OAuthTokens) Refresh(ctx context.Context) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.tok == nil {
		return "", ErrAuthRequired
	}

	return o.refreshLocked(ctx)
}

func (o *OAuthTokens) refreshLocked(ctx context.Context) (string, error) {
	if o.tok.RefreshToken == "" {
		return "", fmt.Errorf("%w: token has no refresh token", ErrAuthRequired)
	}

	// A token carrying only the refresh token is never valid, so the source
	// always goes to the token endpoint.
	src := o.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: o.tok.RefreshToken})

	next, err := src.Token()
	if err != nil {
		o.logger.Warn("token refresh failed", slog.String("error", err.Error()))

		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil &&
			(re.Response.StatusCode == http.StatusBadRequest || re.Response.StatusCode == http.StatusUnauthorized) {
			return "", fmt.Errorf("%w: %s", ErrAuthRequired, re.ErrorCode)
		}

		return "", fmt.Errorf("gdrive: refreshing token: %w", err)
	}

	if next.RefreshToken == "" {
		next.RefreshToken = o.tok.RefreshToken
	}

	o.tok = next

	if err := saveToken(o.path, next); err != nil {
		o.logger.Warn("failed to persist refreshed token",
			slog.String("path", o.path),
			slog.String("error", err.Error()),
		)
	} else {
		o.logger.Info("persisted refreshed token",
			slog.String("path", o.path),
			slog.Time("new_expiry", next.Expiry),
		)
	}

	return next.AccessToken, nil
}

// stateTokenBytes is the number of random bytes for the OAuth2 state parameter.
const stateTokenBytes = 16

// callbackPath is the HTTP path the OAuth2 redirect hits on the local server.
const callbackPath = "/"

// shutdownTimeout is how long to wait for the callback server to drain.
const shutdownTimeout = 5 * time.Second

// callbackResult carries the authorization code or error from the callback handler.
type callbackResult struct {
	code string
	err  error
}

// LoginWithBrowser performs the authorization code + PKCE flow against a
// loopback redirect:
//  1. Binds a localhost HTTP server on a random port
//  2. Opens the browser to Google's consent page
//  3. Receives the callback with the authorization code
//  4. Exchanges the code for tokens and saves them at tokenPath
//
// If openURL fails, the URL is printed to stderr for manual use.
func LoginWithBrowser(
	ctx context.Context,
	tokenPath string,
	creds Credentials,
	openURL func(string) error,
	logger *slog.Logger,
) (*OAuthTokens, error) {
	if logger == nil {
		logger = slog.Default()
	}

	return doAuthCodeLogin(ctx, tokenPath, oauthConfig(creds), openURL, logger)
}

// doAuthCodeLogin accepts a pre-built config so tests can inject a mock
// endpoint.
func doAuthCodeLogin(
	ctx context.Context,
	tokenPath string,
	cfg *oauth2.Config,
	openURL func(string) error,
	logger *slog.Logger,
) (*OAuthTokens, error) {
	logger.Info("starting browser auth flow", slog.String("path", tokenPath))

	resultCh := make(chan callbackResult, 1)
	mux := http.NewServeMux()

	srv, port, err := startCallbackServer(ctx, mux, resultCh, logger)
	if err != nil {
		return nil, err
	}

	defer shutdownCallbackServer(srv, logger)

	cfg.RedirectURL = fmt.Sprintf("http://127.0.0.1:%d%s", port, callbackPath)

	verifier := oauth2.GenerateVerifier()

	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("gdrive: generating state token: %w", err)
	}

	registerCallbackHandler(mux, state, resultCh)

	authURL := cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.S256ChallengeOption(verifier),
	)

	launchBrowser(authURL, openURL, logger)

	code, err := waitForCallback(ctx, resultCh)
	if err != nil {
		return nil, err
	}

	logger.Info("received authorization code, exchanging for token")

	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("gdrive: token exchange failed: %w", err)
	}

	if err := saveToken(tokenPath, tok); err != nil {
		return nil, err
	}

	logger.Info("login successful",
		slog.String("path", tokenPath),
		slog.Time("expiry", tok.Expiry),
	)

	return newOAuthTokens(cfg, tokenPath, tok, logger), nil
}

// startCallbackServer binds to 127.0.0.1:0 and serves mux.
func startCallbackServer(
	ctx context.Context,
	mux *http.ServeMux,
	resultCh chan<- callbackResult,
	logger *slog.Logger,
) (*http.Server, int, error) {
	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return nil, 0, fmt.Errorf("gdrive: binding localhost listener: %w", err)
	}

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		listener.Close()
		return nil, 0, fmt.Errorf("gdrive: listener address is not TCP")
	}

	port := tcpAddr.Port
	logger.Info("callback server listening", slog.Int("port", port))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			select {
			case resultCh <- callbackResult{err: fmt.Errorf("gdrive: callback server error: %w", serveErr)}:
			default:
			}
		}
	}()

	return srv, port, nil
}

func registerCallbackHandler(mux *http.ServeMux, state string, resultCh chan<- callbackResult) {
	mux.HandleFunc("GET "+callbackPath, func(w http.ResponseWriter, r *http.Request) {
		handleOAuthCallback(w, r, state, resultCh)
	})
}

// handleOAuthCallback validates the state, extracts the code, and sends the
// result. Only the first result is delivered.
func handleOAuthCallback(w http.ResponseWriter, r *http.Request, state string, resultCh chan<- callbackResult) {
	send := func(res callbackResult) {
		select {
		case resultCh <- res:
		default:
		}
	}

	q := r.URL.Query()

	if q.Get("state") != state {
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		send(callbackResult{err: fmt.Errorf("gdrive: OAuth2 state mismatch (possible CSRF)")})

		return
	}

	if errParam := q.Get("error"); errParam != "" {
		http.Error(w, "Authorization failed: "+errParam, http.StatusBadRequest)
		send(callbackResult{err: fmt.Errorf("gdrive: authorization failed: %s", errParam)})

		return
	}

	code := q.Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		send(callbackResult{err: fmt.Errorf("gdrive: callback missing authorization code")})

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><h1>Authentication successful</h1>"+
		"<p>You can close this window and return to the terminal.</p></body></html>")
	send(callbackResult{code: code})
}

func shutdownCallbackServer(srv *http.Server, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
	}
}

func launchBrowser(authURL string, openURL func(string) error, logger *slog.Logger) {
	logger.Info("opening browser for authorization")

	if openURL == nil {
		fmt.Fprintf(os.Stderr, "Open this URL in your browser:\n%s\n", authURL)
		return
	}

	if openErr := openURL(authURL); openErr != nil {
		logger.Warn("failed to open browser, printing URL",
			slog.String("error", openErr.Error()),
		)

		fmt.Fprintf(os.Stderr, "Open this URL in your browser:\n%s\n", authURL)
	}
}

func waitForCallback(ctx context.Context, resultCh <-chan callbackResult) (string, error) {
	select {
	case result := <-resultCh:
		if result.err != nil {
			return "", result.err
		}

		return result.code, nil
	case <-ctx.Done():
		return "", fmt.Errorf("gdrive: browser auth canceled: %w", ctx.Err())
	}
}

func generateState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}

// Logout removes the saved token file. Returns nil if there is none.
func Logout(tokenPath string, logger *slog.Logger) error {
	err := os.Remove(tokenPath)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("logout: no token file to remove (already logged out)",
			slog.String("path", tokenPath),
		)

		return nil
	}

	if err != nil {
		return fmt.Errorf("gdrive: removing token: %w", err)
	}

	logger.Info("logout: removed token file", slog.String("path", tokenPath))

	return nil
}

func oauthConfig(creds Credentials) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Scopes:       []string{DriveScope},
		Endpoint:     google.Endpoint,
	}
}
