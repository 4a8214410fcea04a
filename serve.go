package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tonimelisma/graphfiles/internal/config"
	"github.com/tonimelisma/graphfiles/internal/graph"
	"github.com/tonimelisma/graphfiles/internal/graph/graphtest"
	"github.com/tonimelisma/graphfiles/internal/tokencache"
	"github.com/tonimelisma/graphfiles/internal/web"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second

	// devAppID identifies the web app to the local identity provider.
	devAppID = "graphfiles-dev"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web application",
		Long: `Run the web application: sign-in, folder listing, conditional delete,
multipart upload and a websocket change feed.

With --dev the server runs against a local in-memory identity provider and
drive, so no app registration or network access is needed.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	cmd.Flags().Bool("dev", false, "serve against a local fake identity provider and drive")
	cmd.Flags().String("listen", "", "listen address (overrides server.listen)")
	cmd.Flags().String("cache", "", "token cache backend: memory, session, file or sqlite (overrides cache.backend)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	dev, err := cmd.Flags().GetBool("dev")
	if err != nil {
		return err
	}

	if !dev {
		if err := config.RequireIdentity(cc.Cfg); err != nil {
			return err
		}
	}

	ctx, stop := shutdownContext(cmd.Context(), cc.Logger)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	ln, err := net.Listen("tcp", cc.Cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cc.Cfg.Server.Listen, err)
	}

	cfg := *cc.Cfg

	if dev {
		if err := startDevBackends(gctx, g, &cfg, ln.Addr().String(), cc.Logger); err != nil {
			ln.Close()
			return err
		}
	}

	sessions := web.NewSessionManager(cfg.Server.Lifetime(), cfg.Server.CookieSecure)

	cache, closeCache, err := openCache(gctx, cfg.Cache, sessions, cc.Logger)
	if err != nil {
		ln.Close()
		return fmt.Errorf("opening token cache: %w", err)
	}

	defer func() {
		if cerr := closeCache(); cerr != nil {
			cc.Logger.Warn("closing token cache", slog.String("error", cerr.Error()))
		}
	}()

	holder := config.NewHolder(&cfg, cc.ConfigPath)
	provider := newProvider(&cfg, cache, cc.Logger)
	client := httpClient(&cfg)

	app := web.NewServer(web.Options{
		Sessions: sessions,
		Auth:     provider,
		Stores: func(user tokencache.UserIdentity, returnURL string) web.Store {
			return graph.NewClient(cfg.Graph.BaseURL, client, provider.TokenSource(user, returnURL), cc.Logger)
		},
		PageSize:  func() int { return holder.Config().Graph.DefaultPageSize },
		RateLimit: rate.Limit(cfg.Server.RateLimit),
		RateBurst: cfg.Server.RateBurst,
	}, cc.Logger)

	srv := &http.Server{
		Handler:           app,
		ReadHeaderTimeout: readHeaderTimeout,
		// Shutdown does not wait for hijacked connections; this ends the
		// event streams.
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		cc.Logger.Info("serving",
			slog.String("addr", "http://"+ln.Addr().String()),
			slog.String("cache", cfg.Cache.Backend),
			slog.Bool("dev", dev),
		)

		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		return shutdownOnDone(gctx, srv, cc.Logger)
	})

	if watchable(cc.ConfigPath) {
		g.Go(func() error {
			return config.Watch(gctx, holder, reloadConfig(cc), cc.Logger, onReload(cc))
		})
	}

	return g.Wait()
}

// shutdownOnDone stops srv gracefully once ctx is done.
func shutdownOnDone(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	logger.Info("shutting down")

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}

	return nil
}

func watchable(path string) bool {
	if path == "" {
		return false
	}

	_, err := os.Stat(path)

	return err == nil
}

// reloadConfig rebuilds the config the same way startup did, so environment
// and flag overrides survive a reload.
func reloadConfig(cc *CLIContext) func() (*config.Config, error) {
	return func() (*config.Config, error) {
		cfg, _, err := config.Resolve(config.ReadEnvOverrides(), cc.Overrides)
		return cfg, err
	}
}

// onReload applies the settings that take effect without a restart. Only
// the log level and default page size are live; the rest needs a restart.
func onReload(cc *CLIContext) func(*config.Config) {
	return func(cfg *config.Config) {
		if !cc.Flags.Verbose && !cc.Flags.Quiet {
			cc.LogLevel.Set(logLevel(cfg, cc.Flags))
		}

		cc.Logger.Info("config reloaded",
			slog.String("log_level", cfg.Logging.LogLevel),
			slog.Int("default_page_size", cfg.Graph.DefaultPageSize),
		)
	}
}

// startDevBackends serves a fake identity provider and drive on loopback
// ports and points cfg at them. appAddr is the web app's listen address,
// used for the sign-in redirect.
func startDevBackends(ctx context.Context, g *errgroup.Group, cfg *config.Config, appAddr string, logger *slog.Logger) error {
	idp := graphtest.NewIdentityProvider(logger)
	idp.ClientID = devAppID

	drive := graphtest.NewDrive(logger)
	drive.Authorize = idp.ValidAccessToken

	docs := drive.Mkdir(graphtest.RootID, "Documents")
	drive.Put(graphtest.RootID, "welcome.txt", []byte("Signed in to the local development drive.\n"))
	drive.Put(docs.ID, "notes.md", []byte("# Notes\n"))

	idpURL, err := serveLoopback(ctx, g, idp, logger)
	if err != nil {
		return err
	}

	driveURL, err := serveLoopback(ctx, g, drive, logger)
	if err != nil {
		return err
	}

	cfg.Identity.AppID = devAppID
	cfg.Identity.AppSecret = ""
	cfg.Identity.Authority = idpURL
	cfg.Identity.RedirectURL = "http://" + appAddr + "/auth/callback"
	cfg.Graph.BaseURL = driveURL + "/v1.0"

	logger.Info("dev mode: using local identity provider and drive",
		slog.String("identity", idpURL),
		slog.String("drive", driveURL),
		slog.String("user", graphtest.DefaultUser),
	)

	return nil
}

// serveLoopback serves h on a random loopback port until ctx is done and
// returns its base URL.
func serveLoopback(ctx context.Context, g *errgroup.Group, h http.Handler, logger *slog.Logger) (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("listening on loopback: %w", err)
	}

	srv := &http.Server{Handler: h, ReadHeaderTimeout: readHeaderTimeout}

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	g.Go(func() error {
		return shutdownOnDone(ctx, srv, logger)
	})

	return "http://" + ln.Addr().String(), nil
}
