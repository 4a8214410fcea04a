package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/graphfiles/internal/tokencache"
)

// loopbackCallbackPath is the path the redirect hits on the local server.
// Microsoft's v2.0 endpoint matches "http://localhost" on any port but
// requires the path to match exactly.
const loopbackCallbackPath = "/"

// shutdownTimeout is how long to wait for the callback server to drain.
const shutdownTimeout = 5 * time.Second

// callbackResult carries the authorization code or error from the callback handler.
type callbackResult struct {
	code string
	err  error
}

// LoginWithBrowser signs a user in from the command line:
//  1. Binds a localhost HTTP server on a random port
//  2. Calls openURL with the authorization URL (PKCE, random state)
//  3. Receives the callback with the authorization code
//  4. Exchanges the code and stores the credential in the cache
//
// If openURL fails, the URL is logged so the user can open it manually.
func (p *Provider) LoginWithBrowser(
	ctx context.Context, openURL func(string) error,
) (tokencache.UserIdentity, error) {
	p.logger.Info("starting browser sign-in (authorization code + PKCE)")

	resultCh := make(chan callbackResult, 1)
	mux := http.NewServeMux()

	srv, port, err := startCallbackServer(ctx, mux, resultCh, p.logger)
	if err != nil {
		return "", err
	}

	defer shutdownCallbackServer(srv, p.logger)

	cfg := p.oauth
	cfg.RedirectURL = fmt.Sprintf("http://localhost:%d", port)

	verifier := GenerateVerifier()

	state, err := GenerateState()
	if err != nil {
		return "", err
	}

	mux.HandleFunc("GET "+loopbackCallbackPath, func(w http.ResponseWriter, r *http.Request) {
		handleLoopbackCallback(w, r, state, resultCh)
	})

	authURL := cfg.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))

	p.logger.Info("opening browser for authorization")

	if openErr := openURL(authURL); openErr != nil {
		p.logger.Warn("failed to open browser, open the URL manually",
			slog.String("url", authURL),
			slog.String("error", openErr.Error()),
		)
	}

	code, err := waitForCallback(ctx, resultCh)
	if err != nil {
		return "", err
	}

	return p.exchange(ctx, &cfg, code, verifier)
}

// startCallbackServer binds to 127.0.0.1:0 and serves mux. Returns the
// server and its port.
func startCallbackServer(
	ctx context.Context,
	mux *http.ServeMux,
	resultCh chan<- callbackResult,
	logger *slog.Logger,
) (*http.Server, int, error) {
	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return nil, 0, fmt.Errorf("auth: binding localhost listener: %w", err)
	}

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		listener.Close()
		return nil, 0, errors.New("auth: listener address is not TCP")
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
			case resultCh <- callbackResult{err: fmt.Errorf("auth: callback server error: %w", serveErr)}:
			default:
			}
		}
	}()

	return srv, port, nil
}

// handleLoopbackCallback validates the state, extracts the code, and sends
// the result. Only the first result is kept.
func handleLoopbackCallback(w http.ResponseWriter, r *http.Request, state string, resultCh chan<- callbackResult) {
	q := r.URL.Query()

	var result callbackResult

	switch {
	case q.Get("state") != state:
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		result.err = errors.New("auth: OAuth2 state mismatch (possible CSRF)")
	case q.Get("error") != "":
		http.Error(w, "Authorization failed: "+q.Get("error"), http.StatusBadRequest)
		result.err = fmt.Errorf("auth: authorization failed: %s: %s", q.Get("error"), q.Get("error_description"))
	case q.Get("code") == "":
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		result.err = errors.New("auth: callback missing authorization code")
	default:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><body><h1>Signed in</h1>"+
			"<p>You can close this window and return to the terminal.</p></body></html>")
		result.code = q.Get("code")
	}

	select {
	case resultCh <- result:
	default:
	}
}

func shutdownCallbackServer(srv *http.Server, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
	}
}

// waitForCallback blocks until the callback fires or the context is canceled.
func waitForCallback(ctx context.Context, resultCh <-chan callbackResult) (string, error) {
	select {
	case result := <-resultCh:
		if result.err != nil {
			return "", result.err
		}

		return result.code, nil
	case <-ctx.Done():
		return "", fmt.Errorf("auth: browser sign-in canceled: %w", ctx.Err())
	}
}
