package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/alexedwards/scs/v2"

	"github.com/tonimelisma/graphfiles/internal/auth"
	"github.com/tonimelisma/graphfiles/internal/config"
	"github.com/tonimelisma/graphfiles/internal/graph"
	"github.com/tonimelisma/graphfiles/internal/tokencache"
)

// currentUserFile records the identity of the last CLI login, so commands
// work without --user.
const currentUserFile = "current_user"

var errNoUser = errors.New("no signed-in user: run 'graphfiles login' or pass --user")

func currentUserPath() string {
	return filepath.Join(config.DefaultDataDir(), currentUserFile)
}

// resolveUser picks the identity a CLI command acts as: --user, else the
// last login.
func resolveUser(flags CLIFlags) (tokencache.UserIdentity, error) {
	if flags.User != "" {
		return tokencache.UserIdentity(flags.User), nil
	}

	data, err := os.ReadFile(currentUserPath())
	if errors.Is(err, fs.ErrNotExist) {
		return "", errNoUser
	}

	if err != nil {
		return "", fmt.Errorf("reading current user: %w", err)
	}

	user := tokencache.UserIdentity(strings.TrimSpace(string(data)))
	if user.IsZero() {
		return "", errNoUser
	}

	return user, nil
}

func saveCurrentUser(user tokencache.UserIdentity) error {
	path := currentUserPath()

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(user.String()+"\n"), 0o600); err != nil {
		return fmt.Errorf("recording current user: %w", err)
	}

	return nil
}

// clearCurrentUser forgets the last login if it was user.
func clearCurrentUser(user tokencache.UserIdentity) error {
	current, err := resolveUser(CLIFlags{})
	if err != nil || current != user {
		return nil //nolint:nilerr // nothing recorded for this user
	}

	if err := os.Remove(currentUserPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing current user: %w", err)
	}

	return nil
}

// openCache opens the token cache described by c. sessions is only used by
// the session backend. The returned function releases the cache.
func openCache(
	ctx context.Context, c config.CacheConfig, sessions *scs.SessionManager, logger *slog.Logger,
) (tokencache.Cache, func() error, error) {
	noop := func() error { return nil }

	switch c.Backend {
	case config.CacheMemory:
		return tokencache.NewMemory(), noop, nil
	case config.CacheSession:
		if sessions == nil {
			return nil, nil, errors.New("the session cache backend only works inside the web server")
		}

		return tokencache.NewSessionStore(sessions), noop, nil
	case config.CacheFile:
		return tokencache.NewFileStore(c.CachePath()), noop, nil
	case config.CacheSQLite:
		store, err := tokencache.OpenSQLite(ctx, c.CachePath(), logger)
		if err != nil {
			return nil, nil, err
		}

		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", c.Backend)
	}
}

// newProvider builds the token provider for cfg's identity settings.
func newProvider(cfg *config.Config, cache tokencache.Cache, logger *slog.Logger) *auth.Provider {
	return auth.NewProvider(auth.Options{
		ClientID:     cfg.Identity.AppID,
		ClientSecret: cfg.Identity.AppSecret,
		Tenant:       cfg.Identity.Tenant,
		AuthorityURL: cfg.Identity.Authority,
		RedirectURL:  cfg.Identity.RedirectURL,
		Scopes:       cfg.Identity.Scopes,
		HTTPClient:   httpClient(cfg),
	}, cache, logger)
}

// cliSession is the durable cache and token provider one CLI command works
// with.
type cliSession struct {
	cc         *CLIContext
	provider   *auth.Provider
	closeCache func() error
}

func openCLISession(ctx context.Context, cc *CLIContext) (*cliSession, error) {
	cache, closeCache, err := openCache(ctx, cc.Cfg.Cache.Durable(), nil, cc.Logger)
	if err != nil {
		return nil, fmt.Errorf("opening token cache: %w", err)
	}

	return &cliSession{
		cc:         cc,
		provider:   newProvider(cc.Cfg, cache, cc.Logger),
		closeCache: closeCache,
	}, nil
}

// client returns a drive client acting as user.
func (s *cliSession) client(user tokencache.UserIdentity) *graph.Client {
	return graph.NewClient(s.cc.Cfg.Graph.BaseURL, httpClient(s.cc.Cfg), s.provider.TokenSource(user, ""), s.cc.Logger)
}

func (s *cliSession) Close() error {
	return s.closeCache()
}

// friendlyError turns a sign-in requirement into an instruction.
func friendlyError(err error) error {
	if errors.Is(err, auth.ErrReauthenticationRequired) {
		return fmt.Errorf("%w: run 'graphfiles login' first", err)
	}

	return err
}

// openBrowser asks the desktop to open url.
func openBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}

	return cmd.Start()
}
